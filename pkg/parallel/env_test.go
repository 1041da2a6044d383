package parallel_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"
)

func TestLoadEnv_DefaultBaseURL(t *testing.T) {
	t.Setenv("PARALLEL_SERVICE_DISCOVERY", "")
	t.Setenv("PARALLEL_BASE_URL", "")
	t.Setenv("PARALLEL_API_KEY", "k")

	env, err := parallel.LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.BaseURL != parallel.DefaultBaseURL {
		t.Fatalf("BaseURL = %q, want %q", env.BaseURL, parallel.DefaultBaseURL)
	}
}

func TestLoadEnv_ExplicitBaseURL(t *testing.T) {
	t.Setenv("PARALLEL_SERVICE_DISCOVERY", "")
	t.Setenv("PARALLEL_BASE_URL", "https://proxy.internal/parallel")
	t.Setenv("PARALLEL_API_KEY", "k")

	env, err := parallel.LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.BaseURL != "https://proxy.internal/parallel" {
		t.Fatalf("BaseURL = %q", env.BaseURL)
	}
}

func TestLoadEnv_ServiceDiscoveryWinsOverBaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	content := "parallel_api:\n  - https://egress.internal/parallel\nother_api:\n  - https://other.internal\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write discovery file: %v", err)
	}

	t.Setenv("PARALLEL_SERVICE_DISCOVERY", path)
	t.Setenv("PARALLEL_BASE_URL", "https://ignored.example")
	t.Setenv("PARALLEL_API_KEY", "k")

	env, err := parallel.LoadEnv()
	if err != nil {
		t.Fatalf("LoadEnv: %v", err)
	}
	if env.BaseURL != "https://egress.internal/parallel" {
		t.Fatalf("BaseURL = %q", env.BaseURL)
	}
}

func TestLoadEnv_ServiceDiscoveryMissingEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte("other_api:\n  - https://other.internal\n"), 0o600); err != nil {
		t.Fatalf("write discovery file: %v", err)
	}

	t.Setenv("PARALLEL_SERVICE_DISCOVERY", path)
	t.Setenv("PARALLEL_API_KEY", "k")

	if _, err := parallel.LoadEnv(); err == nil {
		t.Fatal("expected an error for a discovery file without parallel_api")
	}
}

func TestLoadEnv_RequiresAPIKey(t *testing.T) {
	t.Setenv("PARALLEL_SERVICE_DISCOVERY", "")
	t.Setenv("PARALLEL_BASE_URL", "")
	t.Setenv("PARALLEL_API_KEY", "")

	if _, err := parallel.LoadEnv(); err == nil {
		t.Fatal("expected an error when PARALLEL_API_KEY is unset")
	}
}

func TestEnvSecret_Value(t *testing.T) {
	t.Setenv("TEST_FINDALL_KEY", "  secret-value \n")

	got, err := parallel.EnvSecret{Var: "TEST_FINDALL_KEY"}.APIKey(context.Background())
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if got != "secret-value" {
		t.Fatalf("APIKey = %q", got)
	}
}

func TestEnvSecret_FilePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "api-key")
	if err := os.WriteFile(path, []byte("from-file\n"), 0o600); err != nil {
		t.Fatalf("write key file: %v", err)
	}
	t.Setenv("TEST_FINDALL_KEY", path)

	got, err := parallel.EnvSecret{Var: "TEST_FINDALL_KEY"}.APIKey(context.Background())
	if err != nil {
		t.Fatalf("APIKey: %v", err)
	}
	if got != "from-file" {
		t.Fatalf("APIKey = %q", got)
	}
}

func TestStaticKey_Empty(t *testing.T) {
	t.Parallel()

	if _, err := parallel.StaticKey("  ").APIKey(context.Background()); err == nil {
		t.Fatal("expected an error for a blank static key")
	}
}
