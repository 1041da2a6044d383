// Package app wires the environment, the FindAll client, and the tool surface
// together for the CLI and for module mode.
package app

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strings"
	"time"

	"github.com/palantir/palantir-compute-module-findall-tools/internal/watch"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/findall"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/module"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/redact"
)

// NewClient builds the FindAll API client from resolved environment config.
func NewClient(env parallel.Env) (*parallel.Client, error) {
	return parallel.NewClient(env.BaseURL, env.Credentials, env.DefaultCAPath)
}

// NewTools builds the tool surface from resolved environment config.
func NewTools(env parallel.Env) (*findall.Tools, error) {
	client, err := NewClient(env)
	if err != nil {
		return nil, err
	}
	return findall.New(client), nil
}

// RunModule runs the keepalive loop, dispatching each platform job through
// the findall tool registry. Returns only when ctx is cancelled.
func RunModule(ctx context.Context, env parallel.Env, cfg module.Config) error {
	tools, err := NewTools(env)
	if err != nil {
		return err
	}
	reg := findall.NewRegistry(tools)

	logger := log.New(os.Stdout, "", log.LstdFlags)
	logger.Printf("registered tools: %s", strings.Join(reg.Names(), ", "))

	return module.RunLoop(ctx, cfg, func(ctx context.Context, job module.Job) []byte {
		start := time.Now()
		out := reg.Dispatch(ctx, strings.TrimSpace(job.QueryType), job.Query)

		var peek struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(out, &peek)
		if peek.Success {
			logger.Printf("tool=%s jobId=%s duration=%s status=ok",
				job.QueryType, job.JobID, time.Since(start).Round(time.Millisecond))
		} else {
			logger.Printf("tool=%s jobId=%s duration=%s status=error error=%q",
				job.QueryType, job.JobID, time.Since(start).Round(time.Millisecond), redact.Secrets(peek.Error))
		}
		return out
	})
}

// WatchRuns polls the given run ids to completion and logs a summary line per
// run. The returned count is the number of runs that ended in failure.
func WatchRuns(ctx context.Context, env parallel.Env, ids []string, opts watch.Options) (int, error) {
	client, err := NewClient(env)
	if err != nil {
		return 0, err
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)
	start := time.Now()

	results, err := watch.Runs(ctx, client, ids, opts)
	if err != nil {
		return 0, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
			logger.Printf("watch run=%s status=error error=%q", r.Input, redact.Secrets(r.Err.Error()))
			continue
		}
		logger.Printf("watch run=%s status=%s matched=%d total=%d",
			r.Output.FindallID, r.Output.Status, r.Output.MatchedCount, r.Output.TotalCandidates)
	}
	logger.Printf("watch complete: runs=%d failed=%d duration=%s", len(results), failed, time.Since(start).Round(time.Millisecond))
	return failed, nil
}
