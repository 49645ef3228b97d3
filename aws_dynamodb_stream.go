package redrive

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
)

// StreamHandler serves DynamoDB Streams invocations.
//
// The host owns the cursor: returning an error makes it redeliver the whole batch, returning
// nil lets it advance. Attempt state lives in the AttemptStore between invocations, so the
// store must outlive the process (see pkg/tablestore) for the retry budget to hold.
type StreamHandler struct {
	*delivery
}

// NewStreamHandler builds a push-model handler with the same options as New. Options that
// only apply to the pull loop are ignored.
func NewStreamHandler(sink Sink, opts ...Option) (*StreamHandler, error) {
	d, err := newDelivery(sink, buildConfig(opts))
	if err != nil {
		return nil, err
	}
	return &StreamHandler{delivery: d}, nil
}

// ServeDynamoDBStream delivers the event's records as one batch. REMOVE events carry no new
// image and are not part of the batch.
func (h *StreamHandler) ServeDynamoDBStream(ctx context.Context, event events.DynamoDBEvent) error {
	if h == nil {
		return fmt.Errorf("redrive: nil stream handler")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	batch, ok := BatchFromDynamoDBEvent(event)
	if !ok {
		return nil
	}

	d := *h.delivery
	d.hooks = d.hooks.withRequestID(requestIDFromContext(ctx))

	res, err := d.attempt(ctx, batch)
	if err != nil {
		return err
	}
	if !res.Resolved() {
		return fmt.Errorf("%w: shard %s at %s attempt %d: %s",
			errBatchFailed, batch.ShardID, batch.StartSequence, res.Attempt, res.Outcome.Reason)
	}
	// A failed delete returns an error so the host redelivers; the saved resolution keeps
	// that redelivery from routing the batch again.
	if err := d.attempts.Delete(context.WithoutCancel(ctx), batch.Key()); err != nil {
		return fmt.Errorf("redrive: clear attempt state %s: %w", batch.Key(), err)
	}
	return nil
}

var errBatchFailed = &Error{Code: ErrorCodeBatchFailed, Message: "batch failed; redelivery requested"}

func requestIDFromContext(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		return strings.TrimSpace(lc.AwsRequestID)
	}
	return ""
}

// BatchFromDynamoDBEvent converts stream records into a Batch keyed by stream ARN and the
// first record's sequence number. ok is false when no record carries a new image.
func BatchFromDynamoDBEvent(event events.DynamoDBEvent) (Batch, bool) {
	var batch Batch
	for _, rec := range event.Records {
		if len(rec.Change.NewImage) == 0 {
			continue
		}
		if batch.ShardID == "" {
			batch.ShardID = strings.TrimSpace(rec.EventSourceArn)
			batch.StartSequence = rec.Change.SequenceNumber
		}
		batch.NextSequence = rec.Change.SequenceNumber
		batch.Records = append(batch.Records, RecordFromImage(rec.Change.NewImage))
	}
	return batch, len(batch.Records) > 0
}

// RecordFromImage converts a DynamoDB item image into a Record with fields ordered by name.
func RecordFromImage(image map[string]events.DynamoDBAttributeValue) Record {
	names := make([]string, 0, len(image))
	for name := range image {
		names = append(names, name)
	}
	sort.Strings(names)

	var r Record
	for _, name := range names {
		r.set(name, attributeValue(image[name]))
	}
	return r
}

func attributeValue(av events.DynamoDBAttributeValue) any {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String()
	case events.DataTypeNumber:
		return json.Number(av.Number())
	case events.DataTypeBoolean:
		return av.Boolean()
	case events.DataTypeNull:
		return nil
	case events.DataTypeBinary:
		return av.Binary()
	case events.DataTypeStringSet:
		return av.StringSet()
	case events.DataTypeNumberSet:
		set := av.NumberSet()
		out := make([]json.Number, 0, len(set))
		for _, n := range set {
			out = append(out, json.Number(n))
		}
		return out
	case events.DataTypeBinarySet:
		return av.BinarySet()
	case events.DataTypeList:
		list := av.List()
		out := make([]any, 0, len(list))
		for _, item := range list {
			out = append(out, attributeValue(item))
		}
		return out
	case events.DataTypeMap:
		m := av.Map()
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = attributeValue(item)
		}
		return out
	default:
		return nil
	}
}
