package zap

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	ubzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/theory-cloud/redrive/pkg/observability"
)

const (
	defaultBufferSize = 256
	defaultRetries    = 3
)

// normalizeLoggerConfig fills unset fields. Lambda gets JSON so CloudWatch can index the
// fields; a terminal gets console output.
func normalizeLoggerConfig(cfg observability.LoggerConfig) observability.LoggerConfig {
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	if cfg.Format == "" {
		cfg.Format = "console"
		if isLambda() {
			cfg.Format = "json"
		}
	}
	cfg.Level = strings.ToLower(strings.TrimSpace(cfg.Level))
	if cfg.Level == "" {
		cfg.Level = zapcore.InfoLevel.String()
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultRetries
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	return cfg
}

func isLambda() bool {
	for _, key := range []string{"AWS_LAMBDA_FUNCTION_NAME", "AWS_LAMBDA_RUNTIME_API"} {
		if strings.TrimSpace(os.Getenv(key)) != "" {
			return true
		}
	}
	return false
}

func parseLevel(level string) (zapcore.Level, error) {
	if level == "warning" {
		level = "warn"
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil || lvl > zapcore.ErrorLevel {
		return 0, fmt.Errorf("observability/zap: unsupported log level %q", level)
	}
	return lvl, nil
}

// buildZapLogger expects a normalized config.
func buildZapLogger(cfg observability.LoggerConfig, output io.Writer) (*ubzap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encCfg := ubzap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder
	if !cfg.EnableCaller {
		encCfg.CallerKey = ""
	}
	if !cfg.EnableStack {
		encCfg.StacktraceKey = ""
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	case "console":
		enc = zapcore.NewConsoleEncoder(encCfg)
	default:
		return nil, fmt.Errorf("observability/zap: unsupported log format %q", cfg.Format)
	}

	if output == nil {
		output = os.Stdout
	}
	var zopts []ubzap.Option
	if cfg.EnableCaller {
		zopts = append(zopts, ubzap.AddCaller(), ubzap.AddCallerSkip(2))
	}
	if cfg.EnableStack {
		zopts = append(zopts, ubzap.AddStacktrace(zapcore.ErrorLevel))
	}
	return ubzap.New(zapcore.NewCore(enc, zapcore.AddSync(output), level), zopts...), nil
}
