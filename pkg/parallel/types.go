package parallel

import "encoding/json"

// RunStatus is the remote-owned lifecycle snapshot embedded in most responses.
// Status values (created, running, completed, cancelled, failed, ...) are
// passed through opaquely; the service owns the state machine.
type RunStatus struct {
	Status   string         `json:"status"`
	IsActive bool           `json:"is_active"`
	Metrics  map[string]any `json:"metrics,omitempty"`
}

// Candidate is one discovered entity. The candidate payload is an unversioned
// beta shape, so everything except match_status is carried verbatim.
type Candidate struct {
	MatchStatus string

	raw json.RawMessage
}

func (c *Candidate) UnmarshalJSON(b []byte) error {
	var peek struct {
		MatchStatus string `json:"match_status"`
	}
	if err := json.Unmarshal(b, &peek); err != nil {
		return err
	}
	c.MatchStatus = peek.MatchStatus
	c.raw = append(c.raw[:0], b...)
	return nil
}

func (c Candidate) MarshalJSON() ([]byte, error) {
	if len(c.raw) == 0 {
		return json.Marshal(map[string]string{"match_status": c.MatchStatus})
	}
	return c.raw, nil
}

// Enrichment describes one enrichment request attached to a run.
type Enrichment struct {
	EnrichmentID string          `json:"enrichment_id,omitempty"`
	Processor    string          `json:"processor,omitempty"`
	OutputSchema json.RawMessage `json:"output_schema,omitempty"`
	Status       string          `json:"status,omitempty"`
}

// CreateRunRequest is the body for POST /v1beta/findall/runs.
type CreateRunRequest struct {
	Objective       string            `json:"objective"`
	EntityType      string            `json:"entity_type"`
	MatchConditions json.RawMessage   `json:"match_conditions"`
	Generator       string            `json:"generator"`
	MatchLimit      int               `json:"match_limit"`
	ExcludeList     []string          `json:"exclude_list,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type CreateRunResponse struct {
	FindallID string    `json:"findall_id"`
	Status    RunStatus `json:"status"`
	Generator string    `json:"generator"`
	CreatedAt string    `json:"created_at"`
}

type RunStatusResponse struct {
	FindallID  string    `json:"findall_id"`
	Status     RunStatus `json:"status"`
	ModifiedAt string    `json:"modified_at"`
}

// RunResultResponse nests the run snapshot under "run", unlike the other
// endpoints which inline it.
type RunResultResponse struct {
	Run        RunSnapshot `json:"run"`
	Candidates []Candidate `json:"candidates"`
}

type RunSnapshot struct {
	Status RunStatus `json:"status"`
}

type ExtendRequest struct {
	AdditionalMatchLimit int `json:"additional_match_limit"`
}

type ExtendResponse struct {
	MatchLimit int    `json:"match_limit"`
	Objective  string `json:"objective"`
	EntityType string `json:"entity_type"`
}

type EnrichRequest struct {
	Processor    string          `json:"processor"`
	OutputSchema json.RawMessage `json:"output_schema"`
}

type EnrichResponse struct {
	Enrichments []Enrichment `json:"enrichments"`
	Objective   string       `json:"objective"`
}

type CancelResponse struct {
	Status  RunStatus `json:"status"`
	Message string    `json:"message,omitempty"`
}
