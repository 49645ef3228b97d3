// Package config loads redrive deployment settings from YAML with REDRIVE_* environment
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/theory-cloud/redrive"
	"github.com/theory-cloud/redrive/pkg/observability"
)

const defaultApp = "redrive"

type Config struct {
	App   string `yaml:"app"`
	Stage string `yaml:"stage"`

	Pipeline   PipelineConfig             `yaml:"pipeline"`
	DeadLetter DeadLetterConfig           `yaml:"dead_letter"`
	Tables     TablesConfig               `yaml:"tables"`
	Log        observability.LoggerConfig `yaml:"log"`
	AWS        AWSConfig                  `yaml:"aws"`
}

// PipelineConfig mirrors redrive.RetryPolicy plus the pull loop's knobs. MaxAttempts -1
// retries forever.
type PipelineConfig struct {
	MaxAttempts         int           `yaml:"max_attempts"`
	MaxRecordAgeSeconds int           `yaml:"max_record_age_seconds"`
	DLQEnabled          bool          `yaml:"dlq_enabled"`
	BatchSize           int           `yaml:"batch_size"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	BaseDelay           time.Duration `yaml:"base_delay"`
	MaxDelay            time.Duration `yaml:"max_delay"`
	AttemptTimeout      time.Duration `yaml:"attempt_timeout"`
	Shards              []string      `yaml:"shards"`
}

type DeadLetterConfig struct {
	QueueURL        string `yaml:"queue_url"`
	EnqueueAttempts int    `yaml:"enqueue_attempts"`
	AlertTopicARN   string `yaml:"alert_topic_arn"`
	AlertSubject    string `yaml:"alert_subject"`
}

// TablesConfig names the DynamoDB tables. Empty names derive from App and Stage.
type TablesConfig struct {
	State   string `yaml:"state"`
	Records string `yaml:"records"`
}

type AWSConfig struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

func Default() Config {
	policy := redrive.DefaultRetryPolicy()
	return Config{
		App: defaultApp,
		Pipeline: PipelineConfig{
			MaxAttempts:         policy.MaxAttempts,
			MaxRecordAgeSeconds: policy.MaxRecordAgeSeconds,
			DLQEnabled:          policy.DLQEnabled,
			BatchSize:           100,
			PollInterval:        time.Second,
			BaseDelay:           policy.BaseDelay,
			MaxDelay:            policy.MaxDelay,
			AttemptTimeout:      policy.AttemptTimeout,
		},
		Log: observability.LoggerConfig{Level: "info"},
	}
}

// Load reads path over Default, then applies the process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with environment overrides read through lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, redrive.NewFatalConfigurationError("read config "+path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over Default. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(bytes.TrimSpace(data)) == 0 {
		return cfg, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, redrive.NewFatalConfigurationError("decode config", err)
	}
	return cfg, nil
}

// FromEnv is Default with the process environment applied.
func FromEnv() (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from REDRIVE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	env := envReader{lookup: lookup}

	env.setString("REDRIVE_APP", &c.App)
	env.setString("REDRIVE_STAGE", &c.Stage)

	env.setInt("REDRIVE_MAX_ATTEMPTS", &c.Pipeline.MaxAttempts)
	env.setInt("REDRIVE_MAX_RECORD_AGE_SECONDS", &c.Pipeline.MaxRecordAgeSeconds)
	env.setBool("REDRIVE_DLQ_ENABLED", &c.Pipeline.DLQEnabled)
	env.setInt("REDRIVE_BATCH_SIZE", &c.Pipeline.BatchSize)
	env.setDuration("REDRIVE_POLL_INTERVAL", &c.Pipeline.PollInterval)
	env.setDuration("REDRIVE_BASE_DELAY", &c.Pipeline.BaseDelay)
	env.setDuration("REDRIVE_MAX_DELAY", &c.Pipeline.MaxDelay)
	env.setDuration("REDRIVE_ATTEMPT_TIMEOUT", &c.Pipeline.AttemptTimeout)
	env.setList("REDRIVE_SHARDS", &c.Pipeline.Shards)

	env.setString("REDRIVE_DLQ_URL", &c.DeadLetter.QueueURL)
	env.setInt("REDRIVE_DLQ_ENQUEUE_ATTEMPTS", &c.DeadLetter.EnqueueAttempts)
	env.setString("REDRIVE_ALERT_TOPIC_ARN", &c.DeadLetter.AlertTopicARN)
	env.setString("REDRIVE_ALERT_SUBJECT", &c.DeadLetter.AlertSubject)

	env.setString("REDRIVE_STATE_TABLE_NAME", &c.Tables.State)
	env.setString("REDRIVE_RECORDS_TABLE_NAME", &c.Tables.Records)

	env.setString("REDRIVE_LOG_LEVEL", &c.Log.Level)
	env.setString("REDRIVE_LOG_FORMAT", &c.Log.Format)

	env.setString("AWS_REGION", &c.AWS.Region)
	env.setString("REDRIVE_AWS_ENDPOINT", &c.AWS.Endpoint)
	env.setString("REDRIVE_AWS_ACCESS_KEY_ID", &c.AWS.AccessKeyID)
	env.setString("REDRIVE_AWS_SECRET_ACCESS_KEY", &c.AWS.SecretAccessKey)
	env.setString("REDRIVE_AWS_SESSION_TOKEN", &c.AWS.SessionToken)

	if len(env.errs) > 0 {
		return redrive.NewFatalConfigurationError("environment overrides", errors.Join(env.errs...))
	}
	return nil
}

// RetryPolicy converts the pipeline section.
func (c Config) RetryPolicy() redrive.RetryPolicy {
	return redrive.RetryPolicy{
		MaxAttempts:         c.Pipeline.MaxAttempts,
		MaxRecordAgeSeconds: c.Pipeline.MaxRecordAgeSeconds,
		DLQEnabled:          c.Pipeline.DLQEnabled,
		BaseDelay:           c.Pipeline.BaseDelay,
		MaxDelay:            c.Pipeline.MaxDelay,
		AttemptTimeout:      c.Pipeline.AttemptTimeout,
	}
}

// PipelineOptions turns the pipeline section into options for redrive.New and
// redrive.NewStreamHandler. Shards are only set when configured, leaving discovery to the
// stream's ShardLister otherwise.
func (c Config) PipelineOptions() []redrive.Option {
	opts := []redrive.Option{
		redrive.WithRetryPolicy(c.RetryPolicy()),
		redrive.WithBatchSize(c.Pipeline.BatchSize),
		redrive.WithPollInterval(c.Pipeline.PollInterval),
	}
	if len(c.Pipeline.Shards) > 0 {
		opts = append(opts, redrive.WithShards(c.Pipeline.Shards...))
	}
	return opts
}

// Validate reports every problem at once as a FatalConfigurationError.
func (c Config) Validate() error {
	var errs []error
	if err := c.RetryPolicy().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch_size must be positive, got %d", c.Pipeline.BatchSize))
	}
	if c.Pipeline.PollInterval < 0 {
		errs = append(errs, fmt.Errorf("poll_interval must not be negative"))
	}
	if c.Pipeline.DLQEnabled && strings.TrimSpace(c.DeadLetter.QueueURL) == "" {
		errs = append(errs, fmt.Errorf("dead_letter.queue_url is required when dlq_enabled is true"))
	}
	if c.DeadLetter.EnqueueAttempts < 0 {
		errs = append(errs, fmt.Errorf("dead_letter.enqueue_attempts must not be negative"))
	}
	if (c.AWS.AccessKeyID == "") != (c.AWS.SecretAccessKey == "") {
		errs = append(errs, fmt.Errorf("aws.access_key_id and aws.secret_access_key must be set together"))
	}
	if len(errs) > 0 {
		return redrive.NewFatalConfigurationError("invalid config", errors.Join(errs...))
	}
	return nil
}

// StateTable is the configured or derived state table name.
func (c Config) StateTable() string {
	if name := strings.TrimSpace(c.Tables.State); name != "" {
		return name
	}
	return ResourceName(c.app(), "state", c.Stage)
}

func (c Config) RecordsTable() string {
	if name := strings.TrimSpace(c.Tables.Records); name != "" {
		return name
	}
	return ResourceName(c.app(), "records", c.Stage)
}

// ExportTableNames publishes the table names through the variables the table models read.
func (c Config) ExportTableNames(setenv func(key, value string) error) error {
	if setenv == nil {
		setenv = os.Setenv
	}
	if err := setenv("REDRIVE_STATE_TABLE_NAME", c.StateTable()); err != nil {
		return err
	}
	return setenv("REDRIVE_RECORDS_TABLE_NAME", c.RecordsTable())
}

func (c Config) app() string {
	if app := strings.TrimSpace(c.App); app != "" {
		return app
	}
	return defaultApp
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	if e.lookup == nil {
		return "", false
	}
	v, ok := e.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	*dst = d
}

func (e *envReader) setList(key string, dst *[]string) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}
