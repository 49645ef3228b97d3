// Command redrive-demo replays the poison-pill scenarios against in-memory components.
//
//	redrive-demo -scenario all
//	redrive-demo -scenario A -max-attempts -1 -max-steps 10
//	redrive-demo -config redrive.yaml -scenario C
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/theory-cloud/redrive"
	"github.com/theory-cloud/redrive/pkg/config"
	"github.com/theory-cloud/redrive/pkg/observability"
	obszap "github.com/theory-cloud/redrive/pkg/observability/zap"
	"github.com/theory-cloud/redrive/testkit"
)

const demoShard = "shard-1"

type scenario struct {
	name    string
	summary string
	input   string
}

var scenarios = []scenario{
	{name: "A", summary: "poison pill is dead-lettered once the budget is spent", input: `[{"id":"1","name":"John"}]`},
	{name: "B", summary: "valid batch is delivered and the cursor advances once", input: `[{"id":"1","name":"John","value":"x"}]`},
	{name: "C", summary: "one bad record fails and redelivers the whole batch", input: `[{"id":"1","value":"x"},{"id":"2","name":"Jane"}]`},
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	scenario    string
	configPath  string
	cfg         config.Config
	maxAttempts int
	dlq         bool
	maxSteps    int
	showJSON    bool
	logLevel    string
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("redrive-demo", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.scenario, "scenario", "all", "scenario to replay: A, B, C, or all")
	fs.StringVar(&opts.configPath, "config", "", "YAML config whose pipeline section drives the replay")
	fs.IntVar(&opts.maxAttempts, "max-attempts", 3, "retry budget; -1 retries forever")
	fs.BoolVar(&opts.dlq, "dlq", true, "route exhausted batches to the dead-letter sink")
	fs.IntVar(&opts.maxSteps, "max-steps", 20, "stop a scenario after this many deliveries")
	fs.BoolVar(&opts.showJSON, "json", false, "print dead-letter envelopes as JSON")
	fs.StringVar(&opts.logLevel, "log-level", "error", "pipeline log level written to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, err := pipelineConfig(fs, opts)
	if err != nil {
		fmt.Fprintf(stderr, "redrive-demo: FAIL: %v\n", err)
		return 2
	}
	opts.cfg = cfg

	selected, err := selectScenarios(opts.scenario)
	if err != nil {
		fmt.Fprintf(stderr, "redrive-demo: FAIL: %v\n", err)
		return 2
	}

	logger, err := obszap.NewZapLogger(observability.LoggerConfig{Level: opts.logLevel, Format: "console"}, obszap.WithOutput(stderr))
	if err != nil {
		fmt.Fprintf(stderr, "redrive-demo: FAIL: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Close() }()

	for i, sc := range selected {
		if i > 0 {
			fmt.Fprintln(stdout)
		}
		if err := replay(context.Background(), sc, opts, observability.HooksFromLogger(logger), stdout); err != nil {
			fmt.Fprintf(stderr, "redrive-demo: FAIL: scenario %s: %v\n", sc.name, err)
			return 1
		}
	}
	return 0
}

// pipelineConfig loads -config when given. Flags set on the command line win over the file;
// without a file every flag applies.
func pipelineConfig(fs *flag.FlagSet, opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if opts.configPath == "" || set["max-attempts"] {
		cfg.Pipeline.MaxAttempts = opts.maxAttempts
	}
	if opts.configPath == "" || set["dlq"] {
		cfg.Pipeline.DLQEnabled = opts.dlq
	}
	cfg.Pipeline.Shards = []string{demoShard}
	if err := cfg.RetryPolicy().Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func selectScenarios(name string) ([]scenario, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" || name == "ALL" {
		return scenarios, nil
	}
	for _, sc := range scenarios {
		if sc.name == name {
			return []scenario{sc}, nil
		}
	}
	return nil, fmt.Errorf("unknown scenario %q", name)
}

func replay(ctx context.Context, sc scenario, opts options, hooks redrive.ObservabilityHooks, out io.Writer) error {
	records, err := redrive.ParseRecords([]byte(sc.input))
	if err != nil {
		return err
	}

	env := testkit.New()
	stream := testkit.NewMemoryStream().Append(demoShard, records...)
	sink := testkit.NewMemorySink()

	policy := opts.cfg.RetryPolicy()
	p, err := env.Pipeline(stream, sink, append(opts.cfg.PipelineOptions(), redrive.WithObservability(hooks))...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "scenario %s: %s\n", sc.name, sc.summary)
	fmt.Fprintf(out, "  input  %s\n", sc.input)
	fmt.Fprintf(out, "  policy max_attempts=%d dlq_enabled=%t\n", policy.MaxAttempts, policy.DLQEnabled)

	for step := 0; step < opts.maxSteps; step++ {
		res, err := p.Step(ctx, demoShard)
		if err != nil {
			return err
		}
		if res.Idle {
			break
		}
		fmt.Fprintf(out, "  delivery %d: %s -> %s\n", res.Attempt, describe(res.Outcome), res.Decision.Action)
		if res.Resolved() {
			break
		}
	}

	pos, _, err := p.Cursors().Position(ctx, demoShard)
	if err != nil {
		return err
	}
	if pos == "" {
		pos = "(start)"
	}
	envelopes := sink.Envelopes()
	fmt.Fprintf(out, "  cursor %s, dead-letter envelopes %d\n", pos, len(envelopes))

	for _, e := range envelopes {
		if !opts.showJSON {
			fmt.Fprintf(out, "  envelope %s attempt_count=%d failing_index=%d reason=%q\n",
				e.ID, e.AttemptCount, e.FailingIndex, e.LastFailureReason)
			continue
		}
		b, err := json.MarshalIndent(e, "  ", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s\n", b)
	}
	return nil
}

func describe(o redrive.BatchOutcome) string {
	if o.Success {
		return "success"
	}
	return fmt.Sprintf("failure at index %d (%s)", o.FailingIndex, o.Reason)
}
