package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/palantir/palantir-compute-module-findall-tools/internal/mockparallel"
)

func main() {
	addr := defaultString("MOCK_PARALLEL_ADDR", ":8081")
	apiKey := defaultString("MOCK_PARALLEL_API_KEY", "")

	fs := flag.NewFlagSet("mock-parallel", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this x-api-key on every request; empty disables auth (also supports env: MOCK_PARALLEL_API_KEY)")
	_ = fs.Parse(os.Args[1:])

	srv := mockparallel.New()
	if apiKey != "" {
		srv.RequireAPIKey(apiKey)
	}

	_, _ = fmt.Fprintf(os.Stdout, "mock-parallel listening on %s (auth=%v)\n", addr, apiKey != "")
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
