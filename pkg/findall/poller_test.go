package findall_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/findall"
	"github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"
)

// pollServer serves a run that stays active for activePolls status calls,
// then flips to completed.
func pollServer(t *testing.T, activePolls int64) (*findall.Tools, *int64) {
	t.Helper()

	var polls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/result"):
			_, _ = w.Write([]byte(`{
				"run": {"status": {"status": "completed", "is_active": false}},
				"candidates": [
					{"match_status": "matched", "name": "Acme"},
					{"match_status": "rejected", "name": "Globex"}
				]
			}`))
		default:
			n := atomic.AddInt64(&polls, 1)
			if n <= activePolls {
				_, _ = w.Write([]byte(`{"status":{"status":"running","is_active":true},"modified_at":"2026-01-01T00:00:00Z"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":{"status":"completed","is_active":false},"modified_at":"2026-01-01T00:01:00Z"}`))
		}
	}))
	t.Cleanup(srv.Close)

	client, err := parallel.NewClient(srv.URL, parallel.StaticKey("test-key"), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return findall.New(client), &polls
}

func TestWaitForCompletion_PollsUntilInactive(t *testing.T) {
	t.Parallel()

	tools, polls := pollServer(t, 2)
	out := tools.WaitForCompletion(context.Background(), "findall_abc", 5*time.Millisecond, 2*time.Second)
	if !out.Success {
		t.Fatalf("WaitForCompletion failed: %s", out.Error)
	}
	if out.Status != "completed" {
		t.Fatalf("Status = %q", out.Status)
	}
	if out.TotalCandidates != 2 || out.MatchedCount != 1 {
		t.Fatalf("TotalCandidates = %d, MatchedCount = %d", out.TotalCandidates, out.MatchedCount)
	}
	if got := atomic.LoadInt64(polls); got != 3 {
		t.Fatalf("expected 3 status polls, got %d", got)
	}
}

func TestWaitForCompletion_Timeout(t *testing.T) {
	t.Parallel()

	tools, _ := pollServer(t, 1<<30) // never completes
	out := tools.WaitForCompletion(context.Background(), "findall_abc", 5*time.Millisecond, 60*time.Millisecond)
	if out.Success {
		t.Fatal("expected a timeout failure envelope")
	}
	if !strings.Contains(out.Error, "timeout after") {
		t.Fatalf("error = %q", out.Error)
	}
	if out.FindallID != "findall_abc" {
		t.Fatalf("timeout envelope should echo the run id, got %q", out.FindallID)
	}
}

func TestWaitForCompletion_StatusFailurePassesThrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"findall run not found"}`))
	}))
	t.Cleanup(srv.Close)

	client, err := parallel.NewClient(srv.URL, parallel.StaticKey("test-key"), "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	tools := findall.New(client)

	out := tools.WaitForCompletion(context.Background(), "findall_missing", 5*time.Millisecond, time.Second)
	if out.Success {
		t.Fatal("expected a failure envelope")
	}
	if !strings.HasPrefix(out.Error, "HTTP 404: ") {
		t.Fatalf("error = %q", out.Error)
	}
}

func TestWaitForCompletion_CancelledContext(t *testing.T) {
	t.Parallel()

	tools, _ := pollServer(t, 1<<30)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := tools.WaitForCompletion(ctx, "findall_abc", 5*time.Millisecond, time.Second)
	if out.Success {
		t.Fatal("expected a failure envelope")
	}
	if !strings.Contains(out.Error, "context canceled") {
		t.Fatalf("error = %q", out.Error)
	}
}
