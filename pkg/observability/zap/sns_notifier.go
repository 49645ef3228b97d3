package zap

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/theory-cloud/redrive/pkg/observability"
	"github.com/theory-cloud/redrive/pkg/sanitization"
)

const (
	defaultAlertSubject = "redrive alert"
	// SNS limits.
	maxSubjectLength   = 100
	maxSNSMessageBytes = 256 * 1024
)

// Publisher is the slice of the SNS client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifierOptions struct {
	// Subject prefixes every alert. The shard, when known, is appended.
	Subject string
}

type snsNotifier struct {
	client   Publisher
	topicARN string
	prefix   string
}

// NewSNSNotifier publishes error entries to an SNS topic so an operator learns about
// shards that stopped on an unavailable dead-letter sink.
func NewSNSNotifier(client Publisher, topicARN string, opts SNSNotifierOptions) observability.ErrorNotifier {
	prefix := strings.TrimSpace(opts.Subject)
	if prefix == "" {
		prefix = defaultAlertSubject
	}
	return &snsNotifier{client: client, topicARN: strings.TrimSpace(topicARN), prefix: prefix}
}

// alert is the SNS message body.
type alert struct {
	Entry    observability.LogEntry `json:"entry"`
	Region   string                 `json:"aws_region,omitempty"`
	Function string                 `json:"aws_lambda_function_name,omitempty"`
}

func (n *snsNotifier) Notify(ctx context.Context, entry observability.LogEntry) error {
	switch {
	case n == nil || n.client == nil:
		return errors.New("observability/zap: sns notifier has no client")
	case n.topicARN == "":
		return errors.New("observability/zap: sns topic arn is empty")
	}

	body, err := json.Marshal(alert{
		Entry:    entry,
		Region:   os.Getenv("AWS_REGION"),
		Function: os.Getenv("AWS_LAMBDA_FUNCTION_NAME"),
	})
	if err != nil {
		return err
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(n.subject(entry.ShardID)),
		Message:  aws.String(truncate(string(body), maxSNSMessageBytes)),
	})
	return err
}

func (n *snsNotifier) subject(shardID string) string {
	s := n.prefix
	if shardID != "" {
		s += ": " + shardID
	}
	return truncate(sanitization.SanitizeLogString(s), maxSubjectLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
