package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"github.com/opengrade/marks-pipeline/internal/config"
	"github.com/opengrade/marks-pipeline/internal/credential"
	"github.com/opengrade/marks-pipeline/internal/ingest"
	"github.com/opengrade/marks-pipeline/internal/metrics"
	"github.com/opengrade/marks-pipeline/internal/store"
)

type stubPresigner struct{}

func (stubPresigner) PresignPut(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return fmt.Sprintf("http://127.0.0.1:9000/%s/%s?X-Amz-Signature=sig", bucket, key), nil
}

type env struct {
	server  *Server
	objects *store.MemoryObjectStore
	records *store.MemoryRecordStore
	ledger  *store.MemoryLedger
}

func newEnv(t *testing.T, mutate func(*config.Config)) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.Server.RequestTimeout = time.Minute
	cfg.Storage.Bucket = "uploads"
	cfg.Storage.CredentialTTL = 10 * time.Minute
	if mutate != nil {
		mutate(cfg)
	}

	objects := store.NewMemoryObjectStore()
	records := store.NewMemoryRecordStore()
	ledger := store.NewMemoryLedger()
	stats := metrics.New()

	issuer := credential.NewIssuer(objects, stubPresigner{}, cfg.Storage.Bucket, cfg.Storage.CredentialTTL, cfg.Storage.LANAddress)
	proc := ingest.NewProcessor(objects, records, ledger, ingest.MarksReject, stats)

	return &env{
		server:  NewServer(issuer, proc, objects, cfg, stats),
		objects: objects,
		records: records,
		ledger:  ledger,
	}
}

func (e *env) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestCredentialEndpoint(t *testing.T) {
	t.Run("issues grant", func(t *testing.T) {
		e := newEnv(t, nil)
		rec := e.do(t, http.MethodPost, "/credential",
			`{"className":"Grade 10","subjectName":"Math","teacherName":"Khan","fileName":"marks.csv"}`)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var grant credential.Grant
		decodeBody(t, rec, &grant)
		if grant.URL == "" || grant.ObjectName == "" {
			t.Errorf("grant = %+v", grant)
		}
		if !strings.Contains(grant.ObjectName, "Grade_10_Math_Khan_") {
			t.Errorf("ObjectName = %q", grant.ObjectName)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		e := newEnv(t, nil)
		rec := e.do(t, http.MethodPost, "/credential", `{"className":"Grade 10"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		e := newEnv(t, nil)
		rec := e.do(t, http.MethodPost, "/credential", `{`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unconfigured storage", func(t *testing.T) {
		e := newEnv(t, nil)
		// An issuer without a signing identity is the request-time face of
		// missing storage configuration.
		e.server.issuer = credential.NewIssuer(nil, nil, "uploads", 10*time.Minute, "")

		rec := e.do(t, http.MethodPost, "/credential",
			`{"className":"G10","subjectName":"Math","teacherName":"Khan","fileName":"a.csv"}`)
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if strings.Contains(rec.Body.String(), "minioadmin") {
			t.Error("response leaks storage configuration")
		}
	})
}

const marksCSV = "rollNo,name,obtainedMarks,totalMarks\n1,Asha,45,50\n2,Bilal,38,50\n"

func seedObject(t *testing.T, e *env, name, content string, md map[string]string) {
	t.Helper()
	if err := e.objects.Write(context.Background(), name, []byte(content), md); err != nil {
		t.Fatal(err)
	}
}

func ingestBody(object string) string {
	return fmt.Sprintf(`{"objectName":%q,"className":"Grade10","subjectName":"Math","teacherName":"Khan"}`, object)
}

func TestIngestEndpoint(t *testing.T) {
	t.Run("processes upload", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj-1", marksCSV, nil)

		rec := e.do(t, http.MethodPost, "/ingest", ingestBody("obj-1"))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp IngestResponse
		decodeBody(t, rec, &resp)
		if resp.Rows != 2 {
			t.Errorf("rows = %d, want 2", resp.Rows)
		}
		if e.records.Len() != 2 {
			t.Errorf("committed records = %d, want 2", e.records.Len())
		}
	})

	t.Run("duplicate conflicts", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj-2", marksCSV, nil)

		if rec := e.do(t, http.MethodPost, "/ingest", ingestBody("obj-2")); rec.Code != http.StatusAccepted {
			t.Fatalf("first call status = %d", rec.Code)
		}
		rec := e.do(t, http.MethodPost, "/ingest", ingestBody("obj-2"))
		if rec.Code != http.StatusConflict {
			t.Errorf("second call status = %d, want 409", rec.Code)
		}
	})

	t.Run("in progress accepted with distinct message", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj-3", marksCSV, nil)
		// Simulate a concurrent attempt holding the lock.
		if _, err := e.ledger.TryBegin(context.Background(), "obj-3", store.BeginMeta{}); err != nil {
			t.Fatal(err)
		}

		rec := e.do(t, http.MethodPost, "/ingest", ingestBody("obj-3"))
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", rec.Code)
		}
		var resp IngestResponse
		decodeBody(t, rec, &resp)
		if resp.Message != "processing already in progress" {
			t.Errorf("message = %q", resp.Message)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		e := newEnv(t, nil)
		rec := e.do(t, http.MethodPost, "/ingest", `{"objectName":"obj"}`)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing object fails with detail", func(t *testing.T) {
		e := newEnv(t, nil)
		rec := e.do(t, http.MethodPost, "/ingest", ingestBody("no-such-object"))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		var resp ErrorResponse
		decodeBody(t, rec, &resp)
		if resp.Error == "" {
			t.Error("failure response should carry error detail")
		}
		row, ok := e.ledger.Row("no-such-object")
		if !ok || row.Status != store.StatusFailed {
			t.Errorf("ledger row = %+v, want failed", row)
		}
	})
}

func storageEventBody(key string) string {
	return fmt.Sprintf(`{"Records":[{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"uploads"},"object":{"key":%q}}}]}`, key)
}

func TestStorageEventEndpoint(t *testing.T) {
	metadata := map[string]string{
		"classname":   "Grade10",
		"subjectname": "Math",
		"teachername": "Khan",
	}

	t.Run("ingests on event", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj-ev", marksCSV, metadata)

		rec := e.do(t, http.MethodPost, "/events/storage", storageEventBody("obj-ev"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if e.records.Len() != 2 {
			t.Errorf("committed records = %d, want 2", e.records.Len())
		}
		row, ok := e.ledger.Row("obj-ev")
		if !ok || row.Status != store.StatusProcessed {
			t.Errorf("ledger row = %+v", row)
		}
	})

	t.Run("url-encoded key", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj ev", marksCSV, metadata)

		rec := e.do(t, http.MethodPost, "/events/storage", storageEventBody("obj+ev"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if e.records.Len() != 2 {
			t.Errorf("committed records = %d, want 2", e.records.Len())
		}
	})

	t.Run("missing metadata is a no-op", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj-nomd", marksCSV, nil)

		rec := e.do(t, http.MethodPost, "/events/storage", storageEventBody("obj-nomd"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if e.records.Len() != 0 {
			t.Errorf("records = %d, want 0", e.records.Len())
		}
		// No-op means the ledger is untouched, not failed.
		if _, ok := e.ledger.Row("obj-nomd"); ok {
			t.Error("ledger row created for skipped file")
		}
	})

	t.Run("prefix filter", func(t *testing.T) {
		e := newEnv(t, func(cfg *config.Config) {
			cfg.Ingest.EventPrefix = "uploads/"
		})
		seedObject(t, e, "elsewhere/obj", marksCSV, metadata)

		rec := e.do(t, http.MethodPost, "/events/storage", storageEventBody("elsewhere/obj"))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if e.records.Len() != 0 {
			t.Errorf("records = %d, want 0 (outside prefix)", e.records.Len())
		}
	})

	t.Run("event racing request trigger", func(t *testing.T) {
		e := newEnv(t, nil)
		seedObject(t, e, "obj-race", marksCSV, metadata)

		if rec := e.do(t, http.MethodPost, "/ingest", ingestBody("obj-race")); rec.Code != http.StatusAccepted {
			t.Fatalf("request trigger status = %d", rec.Code)
		}
		// Late event delivery for the same object: acked, not re-ingested.
		rec := e.do(t, http.MethodPost, "/events/storage", storageEventBody("obj-race"))
		if rec.Code != http.StatusOK {
			t.Fatalf("event status = %d", rec.Code)
		}
		if e.records.Len() != 2 {
			t.Errorf("records = %d, want 2 (no double ingest)", e.records.Len())
		}
	})
}

func TestOperationalEndpoints(t *testing.T) {
	e := newEnv(t, nil)

	rec := e.do(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/healthz status = %d", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Errorf("/metrics status = %d", rec.Code)
	}
	var snap metrics.Snapshot
	decodeBody(t, rec, &snap)
}
