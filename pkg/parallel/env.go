package parallel

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Env is the runtime configuration needed to reach the FindAll API from a
// compute-module deployment.
type Env struct {
	// BaseURL is the FindAll API base URL, either the public endpoint or a
	// platform egress proxy discovered from the service map.
	BaseURL string
	// DefaultCAPath is the path to a PEM bundle that should be trusted for TLS.
	DefaultCAPath string
	// Credentials resolves the API key per call.
	Credentials CredentialSource
}

// serviceMap mirrors the discovery format injected by compute-module
// runtimes, where each service id maps to a single-element list containing
// the base URL.
//
// Example (YAML):
//
//	parallel_api:
//	  - https://egress-proxy.internal/parallel
type serviceMap map[string][]string

// LoadEnv reads FindAll connection settings from the environment.
//
// Optional:
//   - PARALLEL_SERVICE_DISCOVERY (file path; YAML service map with a
//     parallel_api entry)
//   - PARALLEL_BASE_URL (explicit base URL; ignored when discovery is set)
//   - DEFAULT_CA_PATH
//
// Required:
//   - PARALLEL_API_KEY (value or file path)
func LoadEnv() (Env, error) {
	baseURL, err := loadBaseURLFromEnv()
	if err != nil {
		return Env{}, err
	}

	if strings.TrimSpace(os.Getenv("PARALLEL_API_KEY")) == "" {
		return Env{}, fmt.Errorf("PARALLEL_API_KEY is required")
	}

	return Env{
		BaseURL:       baseURL,
		DefaultCAPath: strings.TrimSpace(os.Getenv("DEFAULT_CA_PATH")),
		Credentials:   EnvSecret{Var: "PARALLEL_API_KEY"},
	}, nil
}

func loadBaseURLFromEnv() (string, error) {
	if p := strings.TrimSpace(os.Getenv("PARALLEL_SERVICE_DISCOVERY")); p != "" {
		return loadBaseURLFromDiscoveryFile(p)
	}
	if v := strings.TrimSpace(os.Getenv("PARALLEL_BASE_URL")); v != "" {
		return v, nil
	}
	return DefaultBaseURL, nil
}

func loadBaseURLFromDiscoveryFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read PARALLEL_SERVICE_DISCOVERY file: %w", err)
	}

	var raw serviceMap
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return "", fmt.Errorf("parse PARALLEL_SERVICE_DISCOVERY YAML: %w", err)
	}

	vals, ok := raw["parallel_api"]
	if !ok || len(vals) == 0 || strings.TrimSpace(vals[0]) == "" {
		return "", fmt.Errorf("PARALLEL_SERVICE_DISCOVERY missing parallel_api")
	}
	return strings.TrimSpace(vals[0]), nil
}
