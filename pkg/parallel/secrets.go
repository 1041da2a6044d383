package parallel

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// CredentialSource resolves the FindAll API key. It is invoked once per
// operation; implementations should be cheap and side-effect free.
type CredentialSource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticKey is a fixed API key, mostly for tests and local runs.
type StaticKey string

func (k StaticKey) APIKey(_ context.Context) (string, error) {
	v := strings.TrimSpace(string(k))
	if v == "" {
		return "", fmt.Errorf("api key is empty")
	}
	return v, nil
}

// EnvSecret resolves an API key from an environment variable each call.
// The variable may hold the key itself or a path to a file containing it,
// which is how platform secret mounts inject credentials.
type EnvSecret struct {
	Var string
}

func (s EnvSecret) APIKey(_ context.Context) (string, error) {
	varName := strings.TrimSpace(s.Var)
	if varName == "" {
		return "", fmt.Errorf("secret env var name is required")
	}
	v, err := readValueOrFile(strings.TrimSpace(os.Getenv(varName)), varName)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%s is required", varName)
	}
	return v, nil
}

func readValueOrFile(v string, varName string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if strings.Contains(v, "\n") || strings.Contains(v, "\r") {
		return strings.TrimSpace(v), nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", fmt.Errorf("read %s file: %w", varName, err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}
