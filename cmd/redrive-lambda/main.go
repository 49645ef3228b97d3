// Command redrive-lambda serves DynamoDB Streams and S3 upload notifications from one
// Lambda function.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/theory-cloud/tabletheory"

	"github.com/theory-cloud/redrive"
	"github.com/theory-cloud/redrive/pkg/config"
	"github.com/theory-cloud/redrive/pkg/ingest"
	"github.com/theory-cloud/redrive/pkg/observability"
	obszap "github.com/theory-cloud/redrive/pkg/observability/zap"
	"github.com/theory-cloud/redrive/pkg/sanitization"
	"github.com/theory-cloud/redrive/pkg/sqsdlq"
	"github.com/theory-cloud/redrive/pkg/tablestore"
)

func main() {
	os.Exit(run(os.LookupEnv, func(handler any) { lambda.Start(handler) }))
}

func run(lookup func(string) (string, bool), start func(handler any)) int {
	cfg, err := loadConfig(lookup)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redrive-lambda: FAIL: %v\n", err)
		return 2
	}

	ctx := context.Background()
	awsCfg, err := cfg.LoadAWS(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redrive-lambda: FAIL: %v\n", err)
		return 2
	}

	logger, err := newLogger(cfg, awsCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redrive-lambda: FAIL: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Close() }()

	router, err := newRouter(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("startup.failed", map[string]any{"error": err.Error()})
		_ = logger.Flush(ctx)
		return 1
	}

	start(router.Handle)
	return 0
}

// loadConfig reads REDRIVE_CONFIG_FILE when set, then the REDRIVE_* environment.
func loadConfig(lookup func(string) (string, bool)) (config.Config, error) {
	cfg := config.Default()
	if path, ok := lookup("REDRIVE_CONFIG_FILE"); ok && strings.TrimSpace(path) != "" {
		loaded, err := config.LoadWith(strings.TrimSpace(path), lookup)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else if err := cfg.ApplyEnv(lookup); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	// Table models resolve their names from the environment.
	if err := cfg.ExportTableNames(nil); err != nil {
		return config.Config{}, redrive.NewFatalConfigurationError("export table names", err)
	}
	return cfg, nil
}

func newLogger(cfg config.Config, awsCfg aws.Config) (observability.StructuredLogger, error) {
	opts := []obszap.Option{obszap.WithSanitizer(sanitization.SanitizeFieldValue)}
	if cfg.DeadLetter.AlertTopicARN != "" {
		notifier := obszap.NewSNSNotifier(sns.NewFromConfig(awsCfg), cfg.DeadLetter.AlertTopicARN, obszap.SNSNotifierOptions{
			Subject: cfg.DeadLetter.AlertSubject,
		})
		opts = append(opts,
			obszap.WithErrorNotifier(notifier),
			obszap.WithNotifyFilter(obszap.EscalationsOnly(redrive.EventDeadLetterEscalated, redrive.EventBatchDropped)),
		)
	}
	return obszap.NewZapLogger(cfg.Log, opts...)
}

func newRouter(ctx context.Context, cfg config.Config, awsCfg aws.Config, logger observability.StructuredLogger) (*redrive.LambdaRouter, error) {
	hooks := observability.HooksFromLogger(logger)

	db, err := tabletheory.NewBasic(cfg.TableSession())
	if err != nil {
		return nil, redrive.NewFatalConfigurationError("init tabletheory", err)
	}

	var sink redrive.Sink
	if cfg.Pipeline.DLQEnabled {
		sqsSink, err := sqsdlq.New(ctx, cfg.DeadLetter.QueueURL, sqsdlq.WithAWSConfig(awsCfg))
		if err != nil {
			return nil, err
		}
		sink = sqsSink
	}

	stream, err := redrive.NewStreamHandler(sink, append(cfg.PipelineOptions(),
		redrive.WithAttemptStore(tablestore.NewAttemptStore(db, redrive.RealClock{})),
		redrive.WithObservability(hooks),
		redrive.WithRecordHandler(logRecord(logger)),
		redrive.WithRouterOptions(redrive.WithEnqueueAttempts(cfg.DeadLetter.EnqueueAttempts)),
	)...)
	if err != nil {
		return nil, err
	}
	if err := stream.CheckSink(ctx); err != nil {
		return nil, err
	}

	objects, err := ingest.NewS3Reader(awsCfg)
	if err != nil {
		return nil, err
	}
	ingester, err := ingest.New(
		tablestore.NewRecordStore(db, tablestore.DefaultRecordStoreConfig()),
		ingest.WithObjectReader(objects),
		ingest.WithObservability(hooks),
	)
	if err != nil {
		return nil, err
	}

	return redrive.NewLambdaRouter(stream, ingester.ServeS3), nil
}

// logRecord debug-logs each validated record with sensitive fields masked.
func logRecord(logger observability.StructuredLogger) redrive.RecordHandler {
	return func(_ context.Context, r redrive.Record) error {
		logger.Debug("record.received", map[string]any{
			"record_id": r.ID(),
			"record":    sanitization.SanitizeRecord(r),
		})
		return nil
	}
}
