package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/theory-cloud/redrive"
)

// MaxObjectBytes bounds how much of one upload is read into memory.
const MaxObjectBytes = 64 << 20

type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Reader fetches uploaded objects with the S3 GetObject API.
type S3Reader struct {
	api s3API
}

var _ ObjectReader = (*S3Reader)(nil)

type S3Option func(*s3ReaderOptions)

type s3ReaderOptions struct {
	api s3API
}

// WithS3API supplies the S3 client directly.
func WithS3API(api s3API) S3Option {
	return func(o *s3ReaderOptions) {
		o.api = api
	}
}

// NewS3Reader builds an S3 client from cfg. A BaseEndpoint switches to path-style
// addressing, which is how local S3 emulators are reached.
func NewS3Reader(cfg aws.Config, opts ...S3Option) (*S3Reader, error) {
	o := &s3ReaderOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.api != nil {
		return &S3Reader{api: o.api}, nil
	}

	if strings.TrimSpace(cfg.Region) == "" {
		return nil, redrive.NewFatalConfigurationError("s3 region is not configured", nil)
	}
	pathStyle := strings.TrimSpace(aws.ToString(cfg.BaseEndpoint)) != ""
	return &S3Reader{api: s3.NewFromConfig(cfg, func(so *s3.Options) {
		so.UsePathStyle = pathStyle
	})}, nil
}

func (r *S3Reader) ReadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := r.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	if n := aws.ToInt64(out.ContentLength); n > MaxObjectBytes {
		return nil, fmt.Errorf("ingest: s3://%s/%s is %d bytes, limit %d", bucket, key, n, MaxObjectBytes)
	}
	data, err := io.ReadAll(io.LimitReader(out.Body, MaxObjectBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ingest: read s3://%s/%s: %w", bucket, key, err)
	}
	if len(data) > MaxObjectBytes {
		return nil, fmt.Errorf("ingest: s3://%s/%s exceeds %d bytes", bucket, key, MaxObjectBytes)
	}
	return data, nil
}
