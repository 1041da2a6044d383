// Package watch polls many discovery runs to completion concurrently. This is
// caller-side orchestration on purpose: the tool client itself never sleeps or
// retries, so retry and cadence policy live here.
package watch

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/worker"
	"golang.org/x/time/rate"
)

type Options struct {
	Workers      int
	MaxRetries   int
	PollInterval time.Duration
	// MaxWait bounds one attempt at waiting out a single run.
	MaxWait time.Duration
	// RateLimitRPS caps status polls across all runs. <=0 disables.
	RateLimitRPS float64
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxWait <= 0 {
		o.MaxWait = 5 * time.Minute
	}
	return o
}

// Summary is the terminal snapshot of one watched run.
type Summary struct {
	FindallID       string
	Status          string
	TotalCandidates int
	MatchedCount    int
}

// Runs waits for every run id to go inactive and reports a summary per run.
// Transient poll failures (429, 5xx, timeouts) restart the wait for that run;
// permanent ones (404, 401) do not. Only status and result reads are ever
// retried; watch issues no mutations.
func Runs(ctx context.Context, client *parallel.Client, ids []string, opts Options) ([]worker.Result[string, Summary], error) {
	opts = opts.withDefaults()

	processor := func(ctx context.Context, id string) (Summary, error) {
		return waitOne(ctx, client, id, opts.PollInterval)
	}

	return worker.ProcessAll(ctx, ids, processor, worker.Options{
		Workers:        opts.Workers,
		MaxRetries:     opts.MaxRetries,
		RequestTimeout: opts.MaxWait,
		RateLimitRPS:   opts.RateLimitRPS,
		FailurePolicy:  worker.FailurePolicyPartialOutput,
	})
}

func waitOne(ctx context.Context, client *parallel.Client, id string, pollInterval time.Duration) (Summary, error) {
	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return Summary{FindallID: id}, err
		}

		st, err := client.GetRun(ctx, id)
		if err != nil {
			return Summary{FindallID: id}, classify(err)
		}
		if st.Status.IsActive {
			continue
		}

		res, err := client.GetResult(ctx, id)
		if err != nil {
			return Summary{FindallID: id, Status: st.Status.Status}, classify(err)
		}
		matched := 0
		for _, c := range res.Candidates {
			if c.MatchStatus == "matched" {
				matched++
			}
		}
		return Summary{
			FindallID:       id,
			Status:          res.Run.Status.Status,
			TotalCandidates: len(res.Candidates),
			MatchedCount:    matched,
		}, nil
	}
}

// classify wraps retryable upstream failures so the pool retries the wait.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var he *parallel.HTTPError
	if errors.As(err, &he) {
		if he.StatusCode == 429 || he.StatusCode/100 == 5 {
			return &worker.TransientError{Err: err}
		}
		return err
	}
	var ne net.Error
	if errors.As(err, &ne) && (ne.Timeout() || ne.Temporary()) {
		return &worker.TransientError{Err: err}
	}
	return err
}
