package findall

import "github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"

// Every tool operation returns a flat envelope: success plus operation fields,
// or success=false plus a single error string. Callers (the orchestrating
// agent) branch on the success flag before reading anything else.

// CreateRunResult echoes the remote-issued run handle.
type CreateRunResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	Objective string `json:"objective,omitempty"`
	FindallID string `json:"findall_id,omitempty"`
	Status    string `json:"status,omitempty"`
	IsActive  bool   `json:"is_active"`
	Generator string `json:"generator,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// StatusResult is the polling snapshot for one run.
type StatusResult struct {
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
	FindallID  string         `json:"findall_id,omitempty"`
	Status     string         `json:"status,omitempty"`
	IsActive   bool           `json:"is_active"`
	Metrics    map[string]any `json:"metrics,omitempty"`
	ModifiedAt string         `json:"modified_at,omitempty"`
}

// ResultsResult carries matched candidates only. Rejected and pending
// candidates are counted in total_candidates but never surfaced.
type ResultsResult struct {
	Success         bool                 `json:"success"`
	Error           string               `json:"error,omitempty"`
	FindallID       string               `json:"findall_id,omitempty"`
	Status          string               `json:"status,omitempty"`
	IsActive        bool                 `json:"is_active"`
	TotalCandidates int                  `json:"total_candidates"`
	MatchedCount    int                  `json:"matched_count"`
	Candidates      []parallel.Candidate `json:"candidates"`
}

type ExtendResult struct {
	Success       bool   `json:"success"`
	Error         string `json:"error,omitempty"`
	FindallID     string `json:"findall_id,omitempty"`
	NewMatchLimit int    `json:"new_match_limit,omitempty"`
	Objective     string `json:"objective,omitempty"`
	EntityType    string `json:"entity_type,omitempty"`
}

type EnrichResult struct {
	Success     bool                  `json:"success"`
	Error       string                `json:"error,omitempty"`
	FindallID   string                `json:"findall_id,omitempty"`
	Enrichments []parallel.Enrichment `json:"enrichments,omitempty"`
	Objective   string                `json:"objective,omitempty"`
}

type CancelResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	FindallID string `json:"findall_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
}
