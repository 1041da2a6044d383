// Package draft turns a plain-language discovery objective into structured
// match conditions using Gemini structured output. It is an optional CLI
// convenience; nothing in the tool surface depends on it.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/worker"
	"google.golang.org/genai"
)

type Config struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL. Useful for proxies/testing.
	BaseURL string
}

// MatchCondition is one criterion a discovered entity must satisfy, in the
// shape the FindAll create endpoint accepts.
type MatchCondition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Drafter struct {
	client *genai.Client
	model  string
}

func New(ctx context.Context, cfg Config) (*Drafter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	return &Drafter{
		client: client,
		model:  strings.TrimSpace(cfg.Model),
	}, nil
}

var conditionsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"conditions": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"name":        {Type: genai.TypeString},
					"description": {Type: genai.TypeString},
				},
				Required: []string{"name", "description"},
			},
		},
	},
	Required: []string{"conditions"},
}

type conditionsResponse struct {
	Conditions []MatchCondition `json:"conditions"`
}

// Draft proposes match conditions for the given objective and entity type.
func (d *Drafter) Draft(ctx context.Context, objective, entityType string) ([]MatchCondition, error) {
	objective = strings.TrimSpace(objective)
	entityType = strings.TrimSpace(entityType)
	if objective == "" {
		return nil, errors.New("empty objective")
	}
	if entityType == "" {
		return nil, errors.New("empty entity type")
	}

	resp, err := d.client.Models.GenerateContent(
		ctx,
		d.model,
		genai.Text(buildPrompt(objective, entityType)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   conditionsSchema,
		},
	)
	if err != nil {
		return nil, classifyErr(err)
	}

	var parsed conditionsResponse
	if err := json.Unmarshal([]byte(resp.Text()), &parsed); err != nil {
		return nil, fmt.Errorf("gemini: parse structured json: %w", err)
	}

	out := make([]MatchCondition, 0, len(parsed.Conditions))
	for _, c := range parsed.Conditions {
		c.Name = strings.TrimSpace(c.Name)
		c.Description = strings.TrimSpace(c.Description)
		if c.Name == "" || c.Description == "" {
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errors.New("gemini: no usable conditions returned")
	}
	return out, nil
}

func buildPrompt(objective, entityType string) string {
	// Keep this prompt public-safe: the objective is the only caller data it carries.
	return strings.TrimSpace(`
You design entity-discovery searches. Given an objective and an entity type, propose 2-6 independently verifiable match conditions an entity must satisfy to count as a match.

Return ONLY a single JSON object with a "conditions" array. Each condition has:
- name (string; short snake_case identifier)
- description (string; one sentence, objectively checkable from public information)

Rules:
- Conditions must be specific enough to verify from public sources.
- Do not restate the objective as a single condition.

Entity type: ` + entityType + `
Objective: ` + objective + `
`)
}

func classifyErr(err error) error {
	// Wrap transient failures so callers behind the worker pool retry with backoff.
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code/100 == 5 {
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
