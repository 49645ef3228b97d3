// Package ingest loads uploaded JSON arrays into a record store, one write per record in
// array order. Stored records later flow through the table's stream into the pipeline.
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/theory-cloud/redrive"
)

// Store writes one record. Implementations should treat a repeated id as already stored.
type Store interface {
	Put(ctx context.Context, record redrive.Record) error
}

// ObjectReader fetches an uploaded object.
type ObjectReader interface {
	ReadObject(ctx context.Context, bucket, key string) ([]byte, error)
}

// Result counts what one ingestion wrote.
type Result struct {
	Bucket  string
	Key     string
	Written int
}

type Ingester struct {
	store   Store
	objects ObjectReader
	hooks   redrive.ObservabilityHooks
}

type Option func(*Ingester)

func WithObjectReader(r ObjectReader) Option {
	return func(i *Ingester) {
		i.objects = r
	}
}

func WithObservability(hooks redrive.ObservabilityHooks) Option {
	return func(i *Ingester) {
		i.hooks = hooks
	}
}

func New(store Store, opts ...Option) (*Ingester, error) {
	if store == nil {
		return nil, redrive.NewFatalConfigurationError("ingest store is required", nil)
	}
	i := &Ingester{store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i, nil
}

// Ingest writes records in order and stops at the first failed write. The returned count
// is the number of records written before the failure.
func (i *Ingester) Ingest(ctx context.Context, records []redrive.Record) (int, error) {
	for n, record := range records {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := i.store.Put(ctx, record); err != nil {
			return n, fmt.Errorf("ingest: record %d (id %q): %w", n, record.ID(), err)
		}
	}
	return len(records), nil
}

// IngestObject reads bucket/key, decodes it as a JSON array of objects, and ingests it.
func (i *Ingester) IngestObject(ctx context.Context, bucket, key string) (Result, error) {
	res := Result{Bucket: bucket, Key: key}
	if i.objects == nil {
		return res, redrive.NewFatalConfigurationError("ingest object reader is required", nil)
	}

	data, err := i.objects.ReadObject(ctx, bucket, key)
	if err != nil {
		return res, fmt.Errorf("ingest: read %s/%s: %w", bucket, key, err)
	}
	records, err := redrive.ParseRecords(data)
	if err != nil {
		return res, fmt.Errorf("ingest: decode %s/%s: %w", bucket, key, err)
	}

	res.Written, err = i.Ingest(ctx, records)
	i.report(res, err)
	return res, err
}

// ServeS3 ingests every object named by an upload notification, in notification order.
func (i *Ingester) ServeS3(ctx context.Context, event events.S3Event) error {
	for _, rec := range event.Records {
		bucket := strings.TrimSpace(rec.S3.Bucket.Name)
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		if bucket == "" || key == "" {
			continue
		}
		if _, err := i.IngestObject(ctx, bucket, key); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ingester) report(res Result, err error) {
	if i.hooks.Metric != nil {
		i.hooks.Metric(redrive.MetricRecord{
			Name:  redrive.MetricIngestRecords,
			Value: res.Written,
			Tags:  map[string]string{"bucket": res.Bucket},
		})
	}
	if err != nil && i.hooks.Log != nil {
		i.hooks.Log(redrive.LogRecord{
			Level:        "error",
			Event:        redrive.EventIngestFailed,
			Reason:       fmt.Sprintf("%s/%s: %v", res.Bucket, res.Key, err),
			ErrorCode:    redrive.ErrorCode(err),
			FailingIndex: res.Written,
		})
	}
}
