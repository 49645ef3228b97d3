package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/theory-cloud/redrive"
	"github.com/theory-cloud/redrive/testkit"
)

func envMap(values map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := values[k]
		return v, ok
	}
}

func TestDefault_RequiresQueueWhenDLQEnabled(t *testing.T) {
	cfg := Default()
	require.Equal(t, redrive.DefaultRetryPolicy(), cfg.RetryPolicy())
	require.Equal(t, 100, cfg.Pipeline.BatchSize)

	require.True(t, redrive.IsFatalConfiguration(cfg.Validate()))
	cfg.DeadLetter.QueueURL = "https://sqs.us-east-1.amazonaws.com/1/dlq"
	require.NoError(t, cfg.Validate())
}

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(`
app: Orders
stage: production
pipeline:
  max_attempts: -1
  max_record_age_seconds: 3600
  dlq_enabled: false
  batch_size: 25
  poll_interval: 250ms
  attempt_timeout: 5s
  shards: [shard-a, shard-b]
dead_letter:
  alert_topic_arn: arn:aws:sns:us-east-1:1:alerts
log:
  level: debug
  format: json
`))
	require.NoError(t, err)
	require.Equal(t, redrive.UnboundedAttempts, cfg.Pipeline.MaxAttempts)
	require.Equal(t, 3600, cfg.Pipeline.MaxRecordAgeSeconds)
	require.False(t, cfg.Pipeline.DLQEnabled)
	require.Equal(t, 25, cfg.Pipeline.BatchSize)
	require.Equal(t, 250*time.Millisecond, cfg.Pipeline.PollInterval)
	require.Equal(t, 5*time.Second, cfg.RetryPolicy().AttemptTimeout)
	require.Equal(t, []string{"shard-a", "shard-b"}, cfg.Pipeline.Shards)
	require.Equal(t, redrive.DefaultRetryPolicy().MaxDelay, cfg.Pipeline.MaxDelay)
	require.Equal(t, "debug", cfg.Log.Level)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "orders-state-live", cfg.StateTable())
	require.Equal(t, "orders-records-live", cfg.RecordsTable())
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("pipeline:\n  max_attempt: 3\n"))
	require.True(t, redrive.IsFatalConfiguration(err))
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"REDRIVE_MAX_ATTEMPTS":          "5",
		"REDRIVE_DLQ_ENABLED":           "true",
		"REDRIVE_DLQ_URL":               " https://sqs/q.fifo ",
		"REDRIVE_SHARDS":                "a, ,b",
		"REDRIVE_POLL_INTERVAL":         "2s",
		"REDRIVE_STATE_TABLE_NAME":      "state-table",
		"REDRIVE_BATCH_SIZE":            "",
		"AWS_REGION":                    "eu-west-1",
		"REDRIVE_AWS_ENDPOINT":          "http://localhost:8000",
		"REDRIVE_AWS_ACCESS_KEY_ID":     "dummy",
		"REDRIVE_AWS_SECRET_ACCESS_KEY": "dummy",
	}))
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	require.True(t, cfg.Pipeline.DLQEnabled)
	require.Equal(t, "https://sqs/q.fifo", cfg.DeadLetter.QueueURL)
	require.Equal(t, []string{"a", "b"}, cfg.Pipeline.Shards)
	require.Equal(t, 2*time.Second, cfg.Pipeline.PollInterval)
	require.Equal(t, 100, cfg.Pipeline.BatchSize)
	require.Equal(t, "state-table", cfg.StateTable())
	require.Equal(t, "redrive-records", cfg.RecordsTable())
	require.NoError(t, cfg.Validate())

	session := cfg.TableSession()
	require.Equal(t, "eu-west-1", session.Region)
	require.Equal(t, "http://localhost:8000", session.Endpoint)
	require.Len(t, session.AWSConfigOptions, 2)
}

func TestApplyEnv_ReportsBadValues(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{
		"REDRIVE_MAX_ATTEMPTS":  "many",
		"REDRIVE_DLQ_ENABLED":   "perhaps",
		"REDRIVE_POLL_INTERVAL": "soon",
	}))
	require.True(t, redrive.IsFatalConfiguration(err))
	require.ErrorContains(t, err, "REDRIVE_MAX_ATTEMPTS")
	require.ErrorContains(t, err, "REDRIVE_DLQ_ENABLED")
	require.ErrorContains(t, err, "REDRIVE_POLL_INTERVAL")
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.MaxAttempts = -2
	cfg.Pipeline.BatchSize = 0
	cfg.AWS.AccessKeyID = "only-half"

	err := cfg.Validate()
	require.True(t, redrive.IsFatalConfiguration(err))
	require.ErrorContains(t, err, "batch_size")
	require.ErrorContains(t, err, "queue_url")
	require.ErrorContains(t, err, "secret_access_key")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  batch_size: 7\n"), 0o600))
	t.Setenv("REDRIVE_STAGE", "dev")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Pipeline.BatchSize)
	require.Equal(t, "redrive-state-dev", cfg.StateTable())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.True(t, redrive.IsFatalConfiguration(err))
}

func TestLoadWith_UsesLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "redrive.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  max_attempts: 5\n"), 0o600))

	cfg, err := LoadWith(path, envMap(map[string]string{"REDRIVE_BATCH_SIZE": "3"}))
	require.NoError(t, err)
	require.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	require.Equal(t, 3, cfg.Pipeline.BatchSize)
}

func TestPipelineOptions_ApplyBatchSizeAndShards(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.DLQEnabled = false
	cfg.Pipeline.BatchSize = 2
	cfg.Pipeline.Shards = []string{"s1"}

	r := redrive.NewRecord(redrive.Field{Name: "id", Value: "1"}, redrive.Field{Name: "value", Value: 1})
	stream := testkit.NewMemoryStream().Append("s1", r, r, r).Append("s2", r)
	p, err := redrive.New(stream, nil, cfg.PipelineOptions()...)
	require.NoError(t, err)

	_, err = p.Step(context.Background(), "s1")
	require.NoError(t, err)
	pos, _, err := p.Cursors().Position(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "2", pos)

	require.NoError(t, p.Drain(context.Background()))
	pos, _, err = p.Cursors().Position(context.Background(), "s2")
	require.NoError(t, err)
	require.Equal(t, "", pos, "unconfigured shard must not be consumed")
	pos, _, err = p.Cursors().Position(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "3", pos)
}

func TestExportTableNames(t *testing.T) {
	got := map[string]string{}
	cfg := Default()
	cfg.Tables.Records = "uploads"
	require.NoError(t, cfg.ExportTableNames(func(k, v string) error {
		got[k] = v
		return nil
	}))
	require.Equal(t, map[string]string{
		"REDRIVE_STATE_TABLE_NAME":   "redrive-state",
		"REDRIVE_RECORDS_TABLE_NAME": "uploads",
	}, got)
}

func TestLoadAWS_StaticCredentialsAndEndpoint(t *testing.T) {
	cfg := Default()
	cfg.AWS = AWSConfig{
		Region:          "us-west-2",
		Endpoint:        "http://localhost:4566",
		AccessKeyID:     "AKID",
		SecretAccessKey: "SECRET",
	}
	awsCfg, err := cfg.LoadAWS(context.Background())
	require.NoError(t, err)
	require.Equal(t, "us-west-2", awsCfg.Region)
	require.Equal(t, "http://localhost:4566", *awsCfg.BaseEndpoint)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	require.Equal(t, "AKID", creds.AccessKeyID)
}

func TestResourceName(t *testing.T) {
	require.Equal(t, "my-app-state-stage", ResourceName("My_App", "State", "stg"))
	require.Equal(t, "redrive-records", ResourceName("redrive", "records", ""))
	require.Equal(t, "live", NormalizeStage(" Production "))
	require.Equal(t, "my-env", NormalizeStage("My Env!"))
}
