package credential

import (
	"context"
	"fmt"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Presigner produces a time-boxed URL granting create+write access to exactly
// one object. The signed portion is opaque to the issuer.
type Presigner interface {
	PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// PresignAPI is the subset of the S3 presign client the issuer needs.
type PresignAPI interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var _ PresignAPI = (*s3.PresignClient)(nil)

// S3Presigner implements Presigner with SigV4 presigned PUT requests. The
// resulting URL authorizes object creation and overwrite only; it cannot
// read, list or delete.
type S3Presigner struct {
	client PresignAPI
}

func NewS3Presigner(client PresignAPI) *S3Presigner {
	return &S3Presigner{client: client}
}

func (p *S3Presigner) PresignPut(ctx context.Context, bucket, key string, expires time.Duration) (string, error) {
	req, err := p.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: &bucket,
		Key:    &key,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = expires
	})
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return req.URL, nil
}
