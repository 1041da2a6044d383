package findall

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is the status poll cadence for WaitForCompletion.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxWait bounds one WaitForCompletion call.
	DefaultMaxWait = 5 * time.Minute
)

// WaitForCompletion polls the run's status until it goes inactive, then
// fetches results. A failed status poll is returned as-is (no retry in here;
// callers that want retry wrap this with their own policy). Exceeding maxWait
// yields a timeout failure envelope.
func (t *Tools) WaitForCompletion(ctx context.Context, findallID string, pollInterval, maxWait time.Duration) ResultsResult {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	waitCtx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	timeout := func() ResultsResult {
		return ResultsResult{
			Error:     fmt.Sprintf("timeout after %s waiting for findall run", maxWait),
			FindallID: findallID,
		}
	}

	// Burst 1 lets the first poll fire immediately; subsequent polls pace at
	// one per interval.
	limiter := rate.NewLimiter(rate.Every(pollInterval), 1)

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return ResultsResult{Error: ctx.Err().Error(), FindallID: findallID}
			}
			return timeout()
		}

		status := t.GetStatus(waitCtx, findallID)
		if !status.Success {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return timeout()
			}
			return ResultsResult{Error: status.Error, FindallID: findallID}
		}
		if !status.IsActive {
			// Fetch results on the parent context so a wait budget consumed by
			// polling does not clip the final fetch.
			return t.GetResults(ctx, findallID)
		}
	}
}
