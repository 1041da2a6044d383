package findall

import (
	"context"
	"fmt"
	"strings"

	"github.com/palantir/palantir-compute-module-findall-tools/pkg/parallel"
)

const (
	// DefaultGenerator is the remote search strategy used when unset.
	DefaultGenerator = "core"
	// DefaultProcessor is the enrichment processor used when unset.
	DefaultProcessor = "core"
	// DefaultMatchLimit is the match budget used when unset.
	DefaultMatchLimit = 10
)

// Tools is the callable-tool boundary over the FindAll client. Every method
// is a terminal boundary: no fault escapes, everything is normalized to the
// success/error envelope. Tools holds no per-run state and is safe for
// concurrent use.
type Tools struct {
	client *parallel.Client
}

func New(client *parallel.Client) *Tools {
	return &Tools{client: client}
}

// CreateRunArgs are the inputs for a new discovery run. MatchConditions
// accepts either a parsed structure or a serialized JSON string.
type CreateRunArgs struct {
	Objective       string            `json:"objective"`
	EntityType      string            `json:"entity_type"`
	MatchConditions any               `json:"match_conditions"`
	Generator       string            `json:"generator,omitempty"`
	MatchLimit      int               `json:"match_limit,omitempty"`
	ExcludeList     []string          `json:"exclude_list,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// CreateRun submits a discovery run and returns the remote-issued handle.
// A failed submission is never retried from here: create is not known to be
// idempotent and a blind retry could spawn a duplicate job.
func (t *Tools) CreateRun(ctx context.Context, args CreateRunArgs) CreateRunResult {
	fail := func(err error) CreateRunResult {
		return CreateRunResult{Error: err.Error(), Objective: args.Objective}
	}

	if strings.TrimSpace(args.Objective) == "" {
		return fail(fmt.Errorf("objective is required"))
	}
	if strings.TrimSpace(args.EntityType) == "" {
		return fail(fmt.Errorf("entity_type is required"))
	}
	if args.MatchLimit < 0 {
		return fail(fmt.Errorf("match_limit must be positive (got %d)", args.MatchLimit))
	}
	conditions, err := normalizeStructured("match_conditions", args.MatchConditions)
	if err != nil {
		return fail(err)
	}

	generator := strings.TrimSpace(args.Generator)
	if generator == "" {
		generator = DefaultGenerator
	}
	matchLimit := args.MatchLimit
	if matchLimit == 0 {
		matchLimit = DefaultMatchLimit
	}

	resp, err := t.client.CreateRun(ctx, parallel.CreateRunRequest{
		Objective:       args.Objective,
		EntityType:      args.EntityType,
		MatchConditions: conditions,
		Generator:       generator,
		MatchLimit:      matchLimit,
		ExcludeList:     args.ExcludeList,
		Metadata:        args.Metadata,
	})
	if err != nil {
		return fail(err)
	}
	return CreateRunResult{
		Success:   true,
		FindallID: resp.FindallID,
		Status:    resp.Status.Status,
		IsActive:  resp.Status.IsActive,
		Generator: resp.Generator,
		CreatedAt: resp.CreatedAt,
	}
}

// GetStatus returns the current lifecycle snapshot for a run. Callers poll
// this until is_active goes false or their own deadline expires; there is no
// sleeping or backoff in here.
func (t *Tools) GetStatus(ctx context.Context, findallID string) StatusResult {
	resp, err := t.client.GetRun(ctx, findallID)
	if err != nil {
		return StatusResult{Error: err.Error(), FindallID: findallID}
	}
	return StatusResult{
		Success:    true,
		FindallID:  resp.FindallID,
		Status:     resp.Status.Status,
		IsActive:   resp.Status.IsActive,
		Metrics:    resp.Status.Metrics,
		ModifiedAt: resp.ModifiedAt,
	}
}

// GetResults returns the matched candidates for a run. Candidates whose
// match status is anything other than "matched" are counted but excluded.
func (t *Tools) GetResults(ctx context.Context, findallID string) ResultsResult {
	resp, err := t.client.GetResult(ctx, findallID)
	if err != nil {
		return ResultsResult{Error: err.Error(), FindallID: findallID}
	}

	matched := make([]parallel.Candidate, 0, len(resp.Candidates))
	for _, c := range resp.Candidates {
		if c.MatchStatus == "matched" {
			matched = append(matched, c)
		}
	}

	return ResultsResult{
		Success:         true,
		FindallID:       findallID,
		Status:          resp.Run.Status.Status,
		IsActive:        resp.Run.Status.IsActive,
		TotalCandidates: len(resp.Candidates),
		MatchedCount:    len(matched),
		Candidates:      matched,
	}
}

// Extend raises the run's match budget by additionalMatchLimit. The run's
// current state is not checked locally; an extend on an inactive run is
// forwarded and the service's verdict passed through.
func (t *Tools) Extend(ctx context.Context, findallID string, additionalMatchLimit int) ExtendResult {
	if additionalMatchLimit <= 0 {
		return ExtendResult{
			Error:     fmt.Sprintf("additional_match_limit must be positive (got %d)", additionalMatchLimit),
			FindallID: findallID,
		}
	}
	resp, err := t.client.Extend(ctx, findallID, additionalMatchLimit)
	if err != nil {
		return ExtendResult{Error: err.Error(), FindallID: findallID}
	}
	return ExtendResult{
		Success:       true,
		FindallID:     findallID,
		NewMatchLimit: resp.MatchLimit,
		Objective:     resp.Objective,
		EntityType:    resp.EntityType,
	}
}

// Enrich attaches an enrichment request to a run. The output schema accepts
// the same dual form as match conditions and must compile as a JSON Schema
// before anything is sent.
func (t *Tools) Enrich(ctx context.Context, findallID string, outputSchema any, processor string) EnrichResult {
	schema, err := normalizeStructured("output_schema", outputSchema)
	if err != nil {
		return EnrichResult{Error: err.Error(), FindallID: findallID}
	}
	if err := compileOutputSchema(schema); err != nil {
		return EnrichResult{Error: err.Error(), FindallID: findallID}
	}

	processor = strings.TrimSpace(processor)
	if processor == "" {
		processor = DefaultProcessor
	}

	resp, err := t.client.Enrich(ctx, findallID, parallel.EnrichRequest{
		Processor:    processor,
		OutputSchema: schema,
	})
	if err != nil {
		return EnrichResult{Error: err.Error(), FindallID: findallID}
	}
	return EnrichResult{
		Success:     true,
		FindallID:   findallID,
		Enrichments: resp.Enrichments,
		Objective:   resp.Objective,
	}
}

// Cancel terminates a run early. Cancelling a terminal run is forwarded to
// the service and its answer (success or descriptive failure) passed through.
func (t *Tools) Cancel(ctx context.Context, findallID string) CancelResult {
	resp, err := t.client.Cancel(ctx, findallID)
	if err != nil {
		return CancelResult{Error: err.Error(), FindallID: findallID}
	}
	message := strings.TrimSpace(resp.Message)
	if message == "" {
		message = "findall run cancelled"
	}
	return CancelResult{
		Success:   true,
		FindallID: findallID,
		Status:    resp.Status.Status,
		Message:   message,
	}
}
