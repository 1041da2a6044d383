package module_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/module"
)

func TestLoadConfigFromEnv_NotConfigured(t *testing.T) {
	t.Setenv("GET_JOB_URI", "")
	t.Setenv("POST_RESULT_URI", "")

	_, ok, err := module.LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false without sidecar endpoints")
	}
}

func TestLoadConfigFromEnv_ForcesIPv4Loopback(t *testing.T) {
	t.Setenv("GET_JOB_URI", "http://localhost:8945/interactive-module/api/internal-query/job")
	t.Setenv("POST_RESULT_URI", "http://localhost:8945/interactive-module/api/internal-query/results")
	t.Setenv("MODULE_AUTH_TOKEN", "tok")
	t.Setenv("DEFAULT_CA_PATH", "")

	cfg, ok, err := module.LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if !strings.HasPrefix(cfg.GetJobURI, "http://127.0.0.1:8945/") {
		t.Fatalf("GetJobURI = %q", cfg.GetJobURI)
	}
	if !strings.HasPrefix(cfg.PostResultURI, "http://127.0.0.1:8945/") {
		t.Fatalf("PostResultURI = %q", cfg.PostResultURI)
	}
	if cfg.ModuleAuthToken != "tok" {
		t.Fatalf("ModuleAuthToken = %q", cfg.ModuleAuthToken)
	}
}

func TestLoadConfigFromEnv_RequiresAuthToken(t *testing.T) {
	t.Setenv("GET_JOB_URI", "http://127.0.0.1:8945/job")
	t.Setenv("POST_RESULT_URI", "http://127.0.0.1:8945/results")
	t.Setenv("MODULE_AUTH_TOKEN", "")

	if _, _, err := module.LoadConfigFromEnv(); err == nil {
		t.Fatal("expected an error without MODULE_AUTH_TOKEN")
	}
}

func TestRunLoop_DispatchesJobAndPostsResult(t *testing.T) {
	t.Parallel()

	var served int64
	posted := make(chan []byte, 1)
	var postPath atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/job":
			if r.Header.Get("Module-Auth-Token") != "tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if atomic.AddInt64(&served, 1) > 1 {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"computeModuleJobV1": {
					"jobId": "job-1",
					"queryType": "get_findall_status",
					"query": {"findall_id": "findall_abc"}
				}
			}`))
		case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/results/"):
			b, _ := io.ReadAll(r.Body)
			postPath.Store(r.URL.Path)
			select {
			case posted <- b:
			default:
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	cfg := module.Config{
		GetJobURI:       srv.URL + "/job",
		PostResultURI:   srv.URL + "/results",
		ModuleAuthToken: "tok",
	}

	var dispatched atomic.Value
	dispatch := func(_ context.Context, job module.Job) []byte {
		dispatched.Store(job)
		return []byte(`{"success":true,"findall_id":"findall_abc","status":"running","is_active":true}`)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- module.RunLoop(ctx, cfg, dispatch) }()

	select {
	case b := <-posted:
		var env struct {
			Success   bool   `json:"success"`
			FindallID string `json:"findall_id"`
		}
		if err := json.Unmarshal(b, &env); err != nil {
			t.Fatalf("posted result is not JSON: %v (%s)", err, b)
		}
		if !env.Success || env.FindallID != "findall_abc" {
			t.Fatalf("unexpected posted result: %s", b)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a posted result")
	}

	if p, _ := postPath.Load().(string); p != "/results/job-1" {
		t.Fatalf("result posted to %q, want /results/job-1", p)
	}
	job, _ := dispatched.Load().(module.Job)
	if job.JobID != "job-1" || job.QueryType != "get_findall_status" {
		t.Fatalf("unexpected dispatched job: %+v", job)
	}
	if !strings.Contains(string(job.Query), "findall_abc") {
		t.Fatalf("job query = %s", job.Query)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunLoop did not return after cancellation")
	}
}
