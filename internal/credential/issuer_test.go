package credential

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/opengrade/marks-pipeline/internal/config"
	"github.com/opengrade/marks-pipeline/internal/store"
)

type fakePresigner struct {
	url string
	err error

	bucket  string
	key     string
	expires time.Duration
}

func (f *fakePresigner) PresignPut(_ context.Context, bucket, key string, expires time.Duration) (string, error) {
	f.bucket, f.key, f.expires = bucket, key, expires
	if f.err != nil {
		return "", f.err
	}
	if f.url != "" {
		return f.url, nil
	}
	return fmt.Sprintf("https://storage.example.com/%s/%s?X-Amz-Signature=abc123", bucket, key), nil
}

func newTestIssuer(p Presigner) *Issuer {
	iss := NewIssuer(store.NewMemoryObjectStore(), p, "uploads", 10*time.Minute, "")
	iss.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return iss
}

func TestIssue_HappyPath(t *testing.T) {
	pre := &fakePresigner{}
	iss := newTestIssuer(pre)

	grant, err := iss.Issue(context.Background(), UploadRequest{
		ClassName:   "Grade 10",
		SubjectName: "Math",
		TeacherName: "Ms. Khan",
		FileName:    "marks.csv",
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	wantName := "Grade_10_Math_Ms._Khan_1700000000000_marks.csv"
	if grant.ObjectName != wantName {
		t.Errorf("ObjectName = %q, want %q", grant.ObjectName, wantName)
	}
	if pre.bucket != "uploads" || pre.key != wantName {
		t.Errorf("presigned (%q, %q), want (uploads, %q)", pre.bucket, pre.key, wantName)
	}
	if pre.expires != 10*time.Minute {
		t.Errorf("presign expiry = %v, want 10m", pre.expires)
	}
	wantExpires := time.UnixMilli(1700000000000).Add(10 * time.Minute)
	if !grant.ExpiresAt.Equal(wantExpires) {
		t.Errorf("ExpiresAt = %v, want %v", grant.ExpiresAt, wantExpires)
	}
	if grant.URL == "" {
		t.Error("grant URL is empty")
	}
}

func TestIssue_MissingFields(t *testing.T) {
	iss := newTestIssuer(&fakePresigner{})

	tests := []UploadRequest{
		{SubjectName: "Math", TeacherName: "Khan", FileName: "a.csv"},
		{ClassName: "G10", TeacherName: "Khan", FileName: "a.csv"},
		{ClassName: "G10", SubjectName: "Math", FileName: "a.csv"},
		{ClassName: "G10", SubjectName: "Math", TeacherName: "Khan"},
		{},
	}
	for _, req := range tests {
		if _, err := iss.Issue(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("Issue(%+v) error = %v, want ErrInvalidRequest", req, err)
		}
	}
}

func TestIssue_Unconfigured(t *testing.T) {
	iss := newTestIssuer(nil)

	_, err := iss.Issue(context.Background(), UploadRequest{
		ClassName: "G10", SubjectName: "Math", TeacherName: "Khan", FileName: "a.csv",
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("Issue() error = %v, want ErrConfiguration", err)
	}
}

func TestIssue_LANRewrite(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{
			"loopback ip",
			"http://127.0.0.1:9000/uploads/obj?X-Amz-Signature=abc",
			"http://192.168.1.50:9000/uploads/obj?X-Amz-Signature=abc",
		},
		{
			"localhost",
			"http://localhost:9000/uploads/obj?X-Amz-Signature=abc",
			"http://192.168.1.50:9000/uploads/obj?X-Amz-Signature=abc",
		},
		{
			"public host untouched",
			"https://storage.example.com/uploads/obj?X-Amz-Signature=abc",
			"https://storage.example.com/uploads/obj?X-Amz-Signature=abc",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pre := &fakePresigner{url: tt.url}
			iss := NewIssuer(store.NewMemoryObjectStore(), pre, "uploads", 10*time.Minute, "192.168.1.50")

			grant, err := iss.Issue(context.Background(), UploadRequest{
				ClassName: "G10", SubjectName: "Math", TeacherName: "Khan", FileName: "a.csv",
			})
			if err != nil {
				t.Fatalf("Issue() error = %v", err)
			}
			if grant.URL != tt.want {
				t.Errorf("URL = %q, want %q", grant.URL, tt.want)
			}
			// The signed query must survive the rewrite untouched.
			if !strings.HasSuffix(grant.URL, "X-Amz-Signature=abc") {
				t.Errorf("signed query altered: %q", grant.URL)
			}
		})
	}
}

func TestParseConnection(t *testing.T) {
	t.Run("development sentinel", func(t *testing.T) {
		conn, err := ParseConnection(config.DevelopmentStorageSentinel)
		if err != nil {
			t.Fatalf("ParseConnection() error = %v", err)
		}
		if conn.AccountName != "minioadmin" || conn.Endpoint == "" {
			t.Errorf("sentinel resolved to %+v", conn)
		}
	})

	t.Run("key-value descriptor", func(t *testing.T) {
		conn, err := ParseConnection("AccountName=marksprod;AccountKey=s3cr3t;Endpoint=https://storage.example.com")
		if err != nil {
			t.Fatalf("ParseConnection() error = %v", err)
		}
		if conn.AccountName != "marksprod" || conn.AccountKey != "s3cr3t" || conn.Endpoint != "https://storage.example.com" {
			t.Errorf("descriptor resolved to %+v", conn)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := ParseConnection(""); !errors.Is(err, ErrConfiguration) {
			t.Errorf("error = %v, want ErrConfiguration", err)
		}
	})

	t.Run("unparsable does not leak value", func(t *testing.T) {
		const descriptor = "AccountName=;garbage;;AccountKey="
		_, err := ParseConnection(descriptor)
		if !errors.Is(err, ErrConfiguration) {
			t.Fatalf("error = %v, want ErrConfiguration", err)
		}
		if strings.Contains(err.Error(), "garbage") {
			t.Errorf("error message leaks descriptor content: %q", err)
		}
	})
}
