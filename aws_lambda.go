package redrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// S3Handler handles upload notifications.
type S3Handler func(ctx context.Context, event events.S3Event) error

// LambdaRouter dispatches an untyped Lambda event to the stream or upload handler by
// probing the record event source.
type LambdaRouter struct {
	stream *StreamHandler
	s3     S3Handler
}

func NewLambdaRouter(stream *StreamHandler, s3 S3Handler) *LambdaRouter {
	return &LambdaRouter{stream: stream, s3: s3}
}

type lambdaEnvelope struct {
	Records json.RawMessage `json:"Records"`
}

type recordSource struct {
	EventSource string `json:"eventSource"`
}

// Handle routes "aws:dynamodb" records to the stream handler and "aws:s3" records to the
// upload handler. Other shapes are rejected.
func (r *LambdaRouter) Handle(ctx context.Context, event json.RawMessage) (any, error) {
	if r == nil {
		return nil, errors.New("redrive: nil lambda router")
	}
	if len(bytes.TrimSpace(event)) == 0 {
		return nil, errors.New("redrive: empty event")
	}

	var env lambdaEnvelope
	if err := json.Unmarshal(event, &env); err != nil {
		return nil, fmt.Errorf("redrive: parse event envelope: %w", err)
	}
	var sources []recordSource
	if len(env.Records) == 0 || json.Unmarshal(env.Records, &sources) != nil || len(sources) == 0 {
		return nil, errors.New("redrive: unknown event type")
	}

	source := strings.TrimSpace(sources[0].EventSource)
	switch source {
	case "aws:dynamodb":
		if r.stream == nil {
			return nil, errors.New("redrive: no stream handler configured")
		}
		var ddb events.DynamoDBEvent
		if err := json.Unmarshal(event, &ddb); err != nil {
			return nil, fmt.Errorf("redrive: parse dynamodb stream event: %w", err)
		}
		return nil, r.stream.ServeDynamoDBStream(ctx, ddb)
	case "aws:s3":
		if r.s3 == nil {
			return nil, errors.New("redrive: no upload handler configured")
		}
		var s3 events.S3Event
		if err := json.Unmarshal(event, &s3); err != nil {
			return nil, fmt.Errorf("redrive: parse s3 event: %w", err)
		}
		return nil, r.s3(ctx, s3)
	default:
		return nil, fmt.Errorf("redrive: unsupported event source %q", source)
	}
}
