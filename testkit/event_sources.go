package testkit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"

	"github.com/theory-cloud/redrive"
)

type DynamoDBStreamEventOptions struct {
	StreamARN string
	Records   []DynamoDBStreamRecordOptions
}

type DynamoDBStreamRecordOptions struct {
	EventID        string
	EventName      string
	SequenceNumber string
	NewImage       map[string]events.DynamoDBAttributeValue
}

// DynamoDBStreamEvent builds a stream event. Records without a sequence number get 100, 200, ...
func DynamoDBStreamEvent(opts DynamoDBStreamEventOptions) events.DynamoDBEvent {
	streamARN := strings.TrimSpace(opts.StreamARN)
	if streamARN == "" {
		streamARN = "arn:aws:dynamodb:us-east-1:000000000000:table/records/stream/2024-01-01T00:00:00.000"
	}
	out := events.DynamoDBEvent{Records: make([]events.DynamoDBEventRecord, 0, len(opts.Records))}
	for _, rec := range opts.Records {
		n := len(out.Records) + 1
		id := strings.TrimSpace(rec.EventID)
		if id == "" {
			id = fmt.Sprintf("ddb-%d", n)
		}
		name := strings.TrimSpace(rec.EventName)
		if name == "" {
			name = "INSERT"
		}
		seq := strings.TrimSpace(rec.SequenceNumber)
		if seq == "" {
			seq = fmt.Sprintf("%d", n*100)
		}
		out.Records = append(out.Records, events.DynamoDBEventRecord{
			EventID:        id,
			EventName:      name,
			EventSource:    "aws:dynamodb",
			EventSourceArn: streamARN,
			EventVersion:   "1.1",
			AWSRegion:      "us-east-1",
			Change: events.DynamoDBStreamRecord{
				SequenceNumber: seq,
				NewImage:       rec.NewImage,
				StreamViewType: "NEW_IMAGE",
			},
		})
	}
	return out
}

// Image builds a NewImage with "id" and, when value is non-empty, a numeric "value".
func Image(id, value string) map[string]events.DynamoDBAttributeValue {
	image := map[string]events.DynamoDBAttributeValue{
		"id": events.NewStringAttribute(id),
	}
	if value != "" {
		image["value"] = events.NewNumberAttribute(value)
	}
	return image
}

type S3EventOptions struct {
	Bucket string
	Keys   []string
}

func S3Event(opts S3EventOptions) events.S3Event {
	bucket := strings.TrimSpace(opts.Bucket)
	if bucket == "" {
		bucket = "uploads"
	}
	out := events.S3Event{Records: make([]events.S3EventRecord, 0, len(opts.Keys))}
	for _, key := range opts.Keys {
		out.Records = append(out.Records, events.S3EventRecord{
			EventVersion: "2.1",
			EventSource:  "aws:s3",
			AWSRegion:    "us-east-1",
			EventName:    "ObjectCreated:Put",
			S3: events.S3Entity{
				Bucket: events.S3Bucket{Name: bucket, Arn: "arn:aws:s3:::" + bucket},
				Object: events.S3Object{Key: key},
			},
		})
	}
	return out
}

// MemoryObjects serves object bytes by bucket and key.
type MemoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: map[string][]byte{}}
}

func (o *MemoryObjects) Put(bucket, key string, data []byte) *MemoryObjects {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[bucket+"/"+key] = append([]byte(nil), data...)
	return o
}

func (o *MemoryObjects) ReadObject(_ context.Context, bucket, key string) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("testkit: no object %s/%s", bucket, key)
	}
	return append([]byte(nil), data...), nil
}

// MemoryRecordStore records every Put in call order.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []redrive.Record
	failAt  map[int]error
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{failAt: map[int]error{}}
}

// FailAt makes the n-th Put (0-based) return err.
func (s *MemoryRecordStore) FailAt(n int, err error) *MemoryRecordStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt[n] = err
	return s
}

func (s *MemoryRecordStore) Put(_ context.Context, record redrive.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.records)
	s.records = append(s.records, record)
	if err, ok := s.failAt[n]; ok {
		return err
	}
	return nil
}

func (s *MemoryRecordStore) Records() []redrive.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]redrive.Record(nil), s.records...)
}
