package parallel

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the public FindAll API endpoint. Deployments that
	// route egress through a platform proxy override this via service
	// discovery (see LoadEnv).
	DefaultBaseURL = "https://api.parallel.ai"

	// BetaHeader pins the FindAll beta revision every request is made against.
	BetaHeader = "findall-2025-09-15"

	// DefaultTimeout bounds a single lifecycle round trip. FindAll calls are
	// slow server-side (the create call validates conditions remotely), so
	// this is deliberately generous.
	DefaultTimeout = 120 * time.Second
)

// Client is a minimal typed HTTP client for the FindAll run lifecycle
// endpoints. Every method is one stateless round trip keyed by run id; the
// remote service is the system of record and nothing is cached between calls.
type Client struct {
	baseURL *url.URL
	creds   CredentialSource
	beta    string
	http    *http.Client
}

// NewClient constructs a client for the given base URL.
//
// baseURL should look like "https://api.parallel.ai". defaultCAPath is
// optional and, when provided, is used as the trust store for TLS (platform
// compute modules inject one via DEFAULT_CA_PATH).
func NewClient(baseURL string, creds CredentialSource, defaultCAPath string) (*Client, error) {
	if creds == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	base, err := parseBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	hc, err := newHTTPClient(defaultCAPath)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL: base,
		creds:   creds,
		beta:    BetaHeader,
		http:    hc,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL must include a host (got %q)", raw)
	}
	// Ensure the base path ends with a slash so ResolveReference treats it as a directory.
	u.Path = strings.TrimRight(u.Path, "/") + "/"
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func newHTTPClient(defaultCAPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if strings.TrimSpace(defaultCAPath) != "" {
		b, err := os.ReadFile(strings.TrimSpace(defaultCAPath))
		if err != nil {
			return nil, fmt.Errorf("read DEFAULT_CA_PATH file: %w", err)
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(b); !ok {
			return nil, fmt.Errorf("parse DEFAULT_CA_PATH PEM: no certs found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{
		Transport: tr,
		Timeout:   DefaultTimeout,
	}, nil
}

// SetHTTPClient replaces the underlying HTTP client. Intended for tests that
// need to count or fail transport calls.
func (c *Client) SetHTTPClient(hc *http.Client) {
	if hc != nil {
		c.http = hc
	}
}

// CreateRun submits a new discovery run. Never retried here: a blind retry of
// a create could spawn a duplicate remote job.
func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (*CreateRunResponse, error) {
	if strings.TrimSpace(req.Objective) == "" {
		return nil, fmt.Errorf("objective is required")
	}
	if strings.TrimSpace(req.EntityType) == "" {
		return nil, fmt.Errorf("entity type is required")
	}
	if req.MatchLimit <= 0 {
		return nil, fmt.Errorf("match limit must be positive (got %d)", req.MatchLimit)
	}
	if strings.TrimSpace(req.Generator) == "" {
		req.Generator = "core"
	}

	var out CreateRunResponse
	if err := c.do(ctx, "createRun", http.MethodPost, "v1beta/findall/runs", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun returns the current status snapshot for a run. This is the polling
// primitive; cadence is a caller concern.
func (c *Client) GetRun(ctx context.Context, findallID string) (*RunStatusResponse, error) {
	findallID = strings.TrimSpace(findallID)
	if findallID == "" {
		return nil, fmt.Errorf("findall id is required")
	}
	var out RunStatusResponse
	if err := c.do(ctx, "getRun", http.MethodGet, "v1beta/findall/runs/"+url.PathEscape(findallID), nil, &out); err != nil {
		return nil, err
	}
	out.FindallID = findallID
	return &out, nil
}

// GetResult returns the full candidate list for a run, all match statuses
// included. Matched-only filtering happens at the tool boundary.
func (c *Client) GetResult(ctx context.Context, findallID string) (*RunResultResponse, error) {
	findallID = strings.TrimSpace(findallID)
	if findallID == "" {
		return nil, fmt.Errorf("findall id is required")
	}
	var out RunResultResponse
	if err := c.do(ctx, "getResult", http.MethodGet, "v1beta/findall/runs/"+url.PathEscape(findallID)+"/result", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Extend raises the match budget for a run. Run state is not pre-validated
// locally; the service decides whether an inactive run can be widened.
func (c *Client) Extend(ctx context.Context, findallID string, additionalMatchLimit int) (*ExtendResponse, error) {
	findallID = strings.TrimSpace(findallID)
	if findallID == "" {
		return nil, fmt.Errorf("findall id is required")
	}
	if additionalMatchLimit <= 0 {
		return nil, fmt.Errorf("additional match limit must be positive (got %d)", additionalMatchLimit)
	}
	var out ExtendResponse
	err := c.do(ctx, "extend", http.MethodPost,
		"v1beta/findall/runs/"+url.PathEscape(findallID)+"/extend",
		ExtendRequest{AdditionalMatchLimit: additionalMatchLimit}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Enrich attaches an enrichment request (schema + processor) to a run.
func (c *Client) Enrich(ctx context.Context, findallID string, req EnrichRequest) (*EnrichResponse, error) {
	findallID = strings.TrimSpace(findallID)
	if findallID == "" {
		return nil, fmt.Errorf("findall id is required")
	}
	if len(req.OutputSchema) == 0 {
		return nil, fmt.Errorf("output schema is required")
	}
	if strings.TrimSpace(req.Processor) == "" {
		req.Processor = "core"
	}
	var out EnrichResponse
	err := c.do(ctx, "enrich", http.MethodPost,
		"v1beta/findall/runs/"+url.PathEscape(findallID)+"/enrich", req, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Cancel terminates a run early. Cancelling an already-terminal run is
// forwarded as-is; the service response is passed through unchanged.
func (c *Client) Cancel(ctx context.Context, findallID string) (*CancelResponse, error) {
	findallID = strings.TrimSpace(findallID)
	if findallID == "" {
		return nil, fmt.Errorf("findall id is required")
	}
	var out CancelResponse
	err := c.do(ctx, "cancel", http.MethodPost,
		"v1beta/findall/runs/"+url.PathEscape(findallID)+"/cancel", nil, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, op, method, relPath string, reqBody any, out any) error {
	apiKey, err := c.creds.APIKey(ctx)
	if err != nil {
		return fmt.Errorf("resolve api key: %w", err)
	}

	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	u := c.resolve(relPath)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	req.Header.Set("x-api-key", apiKey)
	req.Header.Set("parallel-beta", c.beta)
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return newHTTPError(op, resp, b)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse %s response: %w", op, err)
	}
	return nil
}

func (c *Client) resolve(relPath string) *url.URL {
	relPath = strings.TrimPrefix(relPath, "/")
	rel := &url.URL{Path: relPath}
	return c.baseURL.ResolveReference(rel)
}
