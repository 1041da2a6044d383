package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/worker"
)

func TestProcessAll_RetriesTransient(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	failUntil := 2

	fn := func(_ context.Context, _ string) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= failUntil {
			return "", &worker.TransientError{Err: errors.New("try again")}
		}
		return "ok", nil
	}

	out, err := worker.ProcessAll(context.Background(), []string{"findall_1"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        3,
		FailurePolicy:     worker.FailurePolicyPartialOutput,
		RequestTimeout:    1 * time.Second,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        2 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if out[0].Err != nil || out[0].Output != "ok" {
		t.Fatalf("unexpected output: %#v", out[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestProcessAll_DoesNotRetryPermanent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, _ string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "", errors.New("permanent")
	}

	out, err := worker.ProcessAll(context.Background(), []string{"findall_1"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        10,
		FailurePolicy:     worker.FailurePolicyPartialOutput,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        1 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 output, got %d", len(out))
	}
	if out[0].Err == nil || out[0].Err.Error() != "permanent" {
		t.Fatalf("unexpected output: %#v", out[0])
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestProcessAll_RespectsPerErrorRetryCap(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, _ string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return "", &worker.LimitedTransientError{
			Err:          errors.New("throttled"),
			ExtraRetries: 1, // one extra retry max
		}
	}

	out, err := worker.ProcessAll(context.Background(), []string{"findall_1"}, fn, worker.Options{
		Workers:           1,
		MaxRetries:        10,
		FailurePolicy:     worker.FailurePolicyPartialOutput,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        1 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Err == nil {
		t.Fatalf("unexpected output: %#v", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 2 {
		t.Fatalf("expected 2 calls (1 attempt + 1 retry), got %d", calls)
	}
}

func TestProcessAll_FailFastStopsEarly(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0

	fn := func(_ context.Context, in string) (string, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		if in == "findall_bad" {
			return "", errors.New("boom")
		}
		time.Sleep(5 * time.Millisecond)
		return in, nil
	}

	ids := []string{"findall_bad"}
	for i := 0; i < 50; i++ {
		ids = append(ids, "findall_ok")
	}

	_, err := worker.ProcessAll(context.Background(), ids, fn, worker.Options{
		Workers:           1,
		MaxRetries:        0,
		FailurePolicy:     worker.FailurePolicyFailFast,
		BackoffInitial:    1 * time.Millisecond,
		BackoffMax:        1 * time.Millisecond,
		BackoffJitterFrac: 0,
	})
	if err == nil {
		t.Fatal("expected an error under fail-fast")
	}

	mu.Lock()
	defer mu.Unlock()
	if calls >= len(ids) {
		t.Fatalf("fail-fast should stop before processing all %d items, processed %d", len(ids), calls)
	}
}

func TestProcessAll_PreservesInputOrder(t *testing.T) {
	t.Parallel()

	fn := func(_ context.Context, in int) (int, error) {
		time.Sleep(time.Duration(in%3) * time.Millisecond)
		return in * 10, nil
	}

	items := []int{0, 1, 2, 3, 4, 5, 6, 7}
	out, err := worker.ProcessAll(context.Background(), items, fn, worker.Options{
		Workers:       4,
		FailurePolicy: worker.FailurePolicyPartialOutput,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, r := range out {
		if r.Input != items[i] || r.Output != items[i]*10 {
			t.Fatalf("result %d out of order: %#v", i, r)
		}
	}
}
