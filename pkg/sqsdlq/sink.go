// Package sqsdlq stores dead-letter envelopes in an Amazon SQS queue.
package sqsdlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"

	"github.com/theory-cloud/redrive"
)

// MaxMessageBytes is the SQS message size limit.
const MaxMessageBytes = 256 * 1024

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	GetQueueAttributes(
		ctx context.Context,
		params *sqs.GetQueueAttributesInput,
		optFns ...func(*sqs.Options),
	) (*sqs.GetQueueAttributesOutput, error)
}

// fatalCodes never succeed on retry.
var fatalCodes = map[string]struct{}{
	"QueueDoesNotExist":                       {},
	"AWS.SimpleQueueService.NonExistentQueue": {},
	"AccessDenied":                            {},
	"AccessDeniedException":                   {},
	"InvalidParameterValue":                   {},
	"InvalidMessageContents":                  {},
	"InvalidAddress":                          {},
}

// Sink is a redrive.Sink over one SQS queue. FIFO queues get the shard as message group
// and the envelope ID as deduplication ID, so a re-routed envelope is stored once.
type Sink struct {
	api      sqsAPI
	queueURL string
	fifo     bool
}

var (
	_ redrive.Sink        = (*Sink)(nil)
	_ redrive.SinkChecker = (*Sink)(nil)
)

type Option func(*options)

type options struct {
	api    sqsAPI
	awsCfg *aws.Config
}

// WithAPI supplies the SQS client directly.
func WithAPI(api sqsAPI) Option {
	return func(o *options) {
		o.api = api
	}
}

// WithAWSConfig builds the SQS client from cfg instead of the default credential chain.
func WithAWSConfig(cfg aws.Config) Option {
	return func(o *options) {
		o.awsCfg = &cfg
	}
}

func New(ctx context.Context, queueURL string, opts ...Option) (*Sink, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, redrive.NewFatalConfigurationError("sqs queue url is required", nil)
	}

	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	api := o.api
	if api == nil {
		cfg := o.awsCfg
		if cfg == nil {
			if ctx == nil {
				ctx = context.Background()
			}
			loaded, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return nil, redrive.NewFatalConfigurationError("load aws config", err)
			}
			cfg = &loaded
		}
		api = sqs.NewFromConfig(*cfg)
	}

	return &Sink{
		api:      api,
		queueURL: queueURL,
		fifo:     strings.HasSuffix(queueURL, ".fifo"),
	}, nil
}

func (s *Sink) QueueURL() string { return s.queueURL }

// Enqueue sends one envelope as one message.
func (s *Sink) Enqueue(ctx context.Context, envelope redrive.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return redrive.NewFatalDeliveryError(fmt.Errorf("encode envelope: %w", err))
	}
	if len(body) > MaxMessageBytes {
		return redrive.NewFatalDeliveryError(fmt.Errorf("envelope %s is %d bytes, limit %d", envelope.ID, len(body), MaxMessageBytes))
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"shard_id": {
				DataType:    aws.String("String"),
				StringValue: aws.String(envelope.ShardID),
			},
			"attempt_count": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(envelope.AttemptCount)),
			},
		},
	}
	if s.fifo {
		input.MessageGroupId = aws.String(envelope.ShardID)
		input.MessageDeduplicationId = aws.String(envelope.ID)
	}

	if _, err := s.api.SendMessage(ctx, input); err != nil {
		return classify(err)
	}
	return nil
}

// Check confirms the queue exists and is readable with the current credentials.
func (s *Sink) Check(ctx context.Context) error {
	out, err := s.api.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(s.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return fmt.Errorf("sqsdlq: check %s: %w", s.queueURL, err)
	}
	if out == nil || strings.TrimSpace(out.Attributes[string(types.QueueAttributeNameQueueArn)]) == "" {
		return fmt.Errorf("sqsdlq: check %s: queue arn missing", s.queueURL)
	}
	return nil
}

func classify(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if _, fatal := fatalCodes[apiErr.ErrorCode()]; fatal {
			return redrive.NewFatalDeliveryError(err)
		}
	}
	return redrive.NewTransientDeliveryError(err)
}
