package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/palantir/palantir-compute-module-findall-tools/internal/app"
	"github.com/palantir/palantir-compute-module-findall-tools/internal/draft"
	"github.com/palantir/palantir-compute-module-findall-tools/internal/watch"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/findall"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/module"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/redact"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
		return
	case "create":
		os.Exit(runCreate(ctx, os.Args[2:]))
	case "status":
		os.Exit(runStatus(ctx, os.Args[2:]))
	case "results":
		os.Exit(runResults(ctx, os.Args[2:]))
	case "extend":
		os.Exit(runExtend(ctx, os.Args[2:]))
	case "enrich":
		os.Exit(runEnrich(ctx, os.Args[2:]))
	case "cancel":
		os.Exit(runCancel(ctx, os.Args[2:]))
	case "wait":
		os.Exit(runWait(ctx, os.Args[2:]))
	case "watch":
		os.Exit(runWatch(ctx, os.Args[2:]))
	case "module":
		os.Exit(runModule(ctx))
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(2)
	}
}

func loadTools() (*findall.Tools, int) {
	env, err := parallel.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return nil, 2
	}
	tools, err := app.NewTools(env)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return nil, 2
	}
	return tools, 0
}

// printEnvelope writes the envelope to stdout and converts its success flag
// into an exit code.
func printEnvelope(v any, success bool) int {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "marshal result: %s\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(os.Stdout, string(b))
	if !success {
		return 1
	}
	return 0
}

func runCreate(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	objective := fs.String("objective", "", "What to search for, in plain language")
	entityType := fs.String("entity-type", "", "Entity category (e.g. companies, people)")
	conditions := fs.String("match-conditions", "", "Match conditions as JSON (object or array)")
	generator := fs.String("generator", "", "Remote search strategy (default: core)")
	matchLimit := fs.Int("match-limit", 0, "Maximum matches to find (default: 10)")
	exclude := fs.String("exclude", "", "Comma-separated entity names to exclude")
	draftConditions := fs.Bool("draft-conditions", false, "Draft match conditions with Gemini when --match-conditions is empty (env: GEMINI_API_KEY, GEMINI_MODEL)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	tools, code := loadTools()
	if code != 0 {
		return code
	}

	var matchConditions any
	switch {
	case strings.TrimSpace(*conditions) != "":
		matchConditions = *conditions
	case *draftConditions:
		drafted, err := draftMatchConditions(ctx, *objective, *entityType)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "draft conditions: %s\n", redact.Secrets(err.Error()))
			return 2
		}
		matchConditions = drafted
	default:
		_, _ = fmt.Fprintln(os.Stderr, "create requires --match-conditions (or --draft-conditions)")
		return 2
	}

	var excludeList []string
	for _, v := range strings.Split(*exclude, ",") {
		if v = strings.TrimSpace(v); v != "" {
			excludeList = append(excludeList, v)
		}
	}

	out := tools.CreateRun(ctx, findall.CreateRunArgs{
		Objective:       *objective,
		EntityType:      *entityType,
		MatchConditions: matchConditions,
		Generator:       *generator,
		MatchLimit:      *matchLimit,
		ExcludeList:     excludeList,
	})
	return printEnvelope(out, out.Success)
}

func draftMatchConditions(ctx context.Context, objective, entityType string) ([]draft.MatchCondition, error) {
	d, err := draft.New(ctx, draft.Config{
		APIKey:  strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		Model:   strings.TrimSpace(os.Getenv("GEMINI_MODEL")),
		BaseURL: strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),
	})
	if err != nil {
		return nil, err
	}
	return d.Draft(ctx, objective, entityType)
}

func runStatus(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "FindAll run id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tools, code := loadTools()
	if code != 0 {
		return code
	}
	out := tools.GetStatus(ctx, *id)
	return printEnvelope(out, out.Success)
}

func runResults(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("results", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "FindAll run id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tools, code := loadTools()
	if code != 0 {
		return code
	}
	out := tools.GetResults(ctx, *id)
	return printEnvelope(out, out.Success)
}

func runExtend(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("extend", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "FindAll run id")
	additional := fs.Int("additional", 0, "Additional matches to find")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tools, code := loadTools()
	if code != 0 {
		return code
	}
	out := tools.Extend(ctx, *id, *additional)
	return printEnvelope(out, out.Success)
}

func runEnrich(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("enrich", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "FindAll run id")
	schema := fs.String("output-schema", "", "Enrichment output schema as JSON")
	processor := fs.String("processor", "", "Enrichment processor (default: core)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*schema) == "" {
		_, _ = fmt.Fprintln(os.Stderr, "enrich requires --output-schema")
		return 2
	}
	tools, code := loadTools()
	if code != 0 {
		return code
	}
	out := tools.Enrich(ctx, *id, *schema, *processor)
	return printEnvelope(out, out.Success)
}

func runCancel(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("cancel", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "FindAll run id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tools, code := loadTools()
	if code != 0 {
		return code
	}
	out := tools.Cancel(ctx, *id)
	return printEnvelope(out, out.Success)
}

func runWait(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	id := fs.String("id", "", "FindAll run id")
	pollInterval := fs.Duration("poll-interval", findall.DefaultPollInterval, "Status poll cadence")
	maxWait := fs.Duration("max-wait", findall.DefaultMaxWait, "Give up after this long")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	tools, code := loadTools()
	if code != 0 {
		return code
	}
	out := tools.WaitForCompletion(ctx, *id, *pollInterval, *maxWait)
	return printEnvelope(out, out.Success)
}

func runWatch(ctx context.Context, args []string) int {
	workersEnv, err := envInt("WORKERS", 4)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	retriesEnv, err := envInt("MAX_RETRIES", 2)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}
	rpsEnv, err := envFloat("RATE_LIMIT_RPS", 0)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", err)
		return 2
	}

	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	ids := fs.String("ids", "", "Comma-separated FindAll run ids")
	workers := fs.Int("workers", workersEnv, "Concurrent runs to watch (env: WORKERS)")
	maxRetries := fs.Int("max-retries", retriesEnv, "Max retries per run for transient poll failures (env: MAX_RETRIES)")
	pollInterval := fs.Duration("poll-interval", 5*time.Second, "Status poll cadence per run")
	maxWait := fs.Duration("max-wait", 5*time.Minute, "Per-run wait budget per attempt")
	rateLimitRPS := fs.Float64("rate-limit-rps", rpsEnv, "Global status poll rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var runIDs []string
	for _, v := range strings.Split(*ids, ",") {
		if v = strings.TrimSpace(v); v != "" {
			runIDs = append(runIDs, v)
		}
	}
	if len(runIDs) == 0 {
		_, _ = fmt.Fprintln(os.Stderr, "watch requires --ids")
		return 2
	}

	env, err := parallel.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}

	failed, err := app.WatchRuns(ctx, env, runIDs, watch.Options{
		Workers:      *workers,
		MaxRetries:   *maxRetries,
		PollInterval: *pollInterval,
		MaxWait:      *maxWait,
		RateLimitRPS: *rateLimitRPS,
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "watch failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func runModule(ctx context.Context) int {
	env, err := parallel.LoadEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	cfg, ok, err := module.LoadConfigFromEnv()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "module config error: %s\n", redact.Secrets(err.Error()))
		return 2
	}
	if !ok {
		_, _ = fmt.Fprintln(os.Stderr, "module requires GET_JOB_URI and POST_RESULT_URI")
		return 2
	}
	if err := app.RunModule(ctx, env, cfg); err != nil && ctx.Err() == nil {
		_, _ = fmt.Fprintf(os.Stderr, "module loop failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `findall: FindAll entity-discovery tools (CLI + compute-module mode)

Usage:
  findall <command> [flags]

Commands:
  create   Create a discovery run
  status   Get a run's status snapshot
  results  Get a run's matched candidates
  extend   Raise a run's match budget
  enrich   Attach an enrichment request to a run
  cancel   Cancel a run
  wait     Poll a run to completion, then fetch results
  watch    Poll many runs to completion concurrently
  module   Run the compute-module keepalive loop (agent tool dispatch)

Examples:
  findall create --objective "find SaaS companies" --entity-type companies \
    --match-conditions '[{"name":"industry","description":"operates in SaaS"}]'
  findall wait --id findall_abc123 --max-wait 10m

Environment:
  PARALLEL_API_KEY            API key (value or file path; required)
  PARALLEL_BASE_URL           API base URL override
  PARALLEL_SERVICE_DISCOVERY  Service map file (overrides PARALLEL_BASE_URL)
  DEFAULT_CA_PATH             PEM trust bundle for TLS

Environment (module mode):
  GET_JOB_URI, POST_RESULT_URI, MODULE_AUTH_TOKEN

Environment (create --draft-conditions):
  GEMINI_API_KEY, GEMINI_MODEL, GEMINI_BASE_URL

`)
}

func envInt(varName string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}

func envFloat(varName string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(varName))
	if v == "" {
		return fallback, nil
	}
	out, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s=%q: %w", varName, v, err)
	}
	return out, nil
}
