// Package credential issues delegated, time-limited upload credentials for
// single named objects. An issued grant lets the caller write one object into
// the uploads bucket within a short window; nothing is persisted and no
// master credentials leave the process.
package credential

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/opengrade/marks-pipeline/internal/objectname"
	"github.com/opengrade/marks-pipeline/internal/store"
)

// UploadRequest names the upload a credential is requested for. All fields
// are required and are never persisted as-is.
type UploadRequest struct {
	ClassName   string `json:"className"`
	SubjectName string `json:"subjectName"`
	TeacherName string `json:"teacherName"`
	FileName    string `json:"fileName"`
}

// Grant is the issued credential. URL embeds the signed token; it exists only
// in the response to the issuing call.
type Grant struct {
	URL        string    `json:"url"`
	ObjectName string    `json:"objectName"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// Issuer produces upload grants. Safe for unbounded concurrent use; it holds
// no mutable state.
type Issuer struct {
	objects    store.ObjectStore
	presigner  Presigner
	bucket     string
	ttl        time.Duration
	lanAddress string
	now        func() time.Time
}

// NewIssuer returns an Issuer. A nil presigner leaves the issuer in an
// unconfigured state; Issue then fails with ErrConfiguration instead of
// panicking, matching the deployment-misconfiguration contract.
func NewIssuer(objects store.ObjectStore, presigner Presigner, bucket string, ttl time.Duration, lanAddress string) *Issuer {
	return &Issuer{
		objects:    objects,
		presigner:  presigner,
		bucket:     bucket,
		ttl:        ttl,
		lanAddress: lanAddress,
		now:        time.Now,
	}
}

// Issue validates the request, derives the object name, ensures the bucket
// exists and returns a write-scoped grant for exactly that object.
func (i *Issuer) Issue(ctx context.Context, req UploadRequest) (Grant, error) {
	if req.ClassName == "" || req.SubjectName == "" || req.TeacherName == "" || req.FileName == "" {
		return Grant{}, fmt.Errorf("%w: className, subjectName, teacherName, and fileName are required", ErrInvalidRequest)
	}

	if i.presigner == nil || i.objects == nil {
		return Grant{}, fmt.Errorf("%w: storage signing identity is not configured", ErrConfiguration)
	}

	now := i.now()
	name := objectname.Build(req.ClassName, req.SubjectName, req.TeacherName, req.FileName, now)

	if err := i.objects.EnsureBucket(ctx); err != nil {
		return Grant{}, err
	}

	signed, err := i.presigner.PresignPut(ctx, i.bucket, name, i.ttl)
	if err != nil {
		return Grant{}, err
	}

	if i.lanAddress != "" {
		signed, err = rewriteLoopback(signed, i.lanAddress)
		if err != nil {
			return Grant{}, err
		}
	}

	return Grant{
		URL:        signed,
		ObjectName: name,
		ExpiresAt:  now.Add(i.ttl),
	}, nil
}

// rewriteLoopback replaces a loopback host in rawURL with lan so devices on
// the same network can reach a locally running object store. Only the host is
// touched; the signed query string stays byte-identical.
func rewriteLoopback(rawURL, lan string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse upload url: %w", err)
	}

	host := u.Hostname()
	if host != "127.0.0.1" && !strings.EqualFold(host, "localhost") {
		return rawURL, nil
	}

	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(lan, port)
	} else {
		u.Host = lan
	}
	return u.String(), nil
}
