package findall

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Tool names as registered with the agent. These match the query types the
// platform passes through when the agent invokes a tool.
const (
	ToolCreateRun = "create_findall_run"
	ToolGetStatus = "get_findall_status"
	ToolGetResult = "get_findall_results"
	ToolExtend    = "extend_findall"
	ToolEnrich    = "enrich_findall"
	ToolCancel    = "cancel_findall"
	ToolWait      = "wait_for_findall_completion"
)

type runIDArgs struct {
	FindallID string `json:"findall_id"`
}

type extendArgs struct {
	FindallID            string `json:"findall_id"`
	AdditionalMatchLimit int    `json:"additional_match_limit"`
}

type enrichArgs struct {
	FindallID    string `json:"findall_id"`
	OutputSchema any    `json:"output_schema"`
	Processor    string `json:"processor,omitempty"`
}

type waitArgs struct {
	FindallID       string `json:"findall_id"`
	PollIntervalSec int    `json:"poll_interval,omitempty"`
	MaxWaitSec      int    `json:"max_wait,omitempty"`
}

// Registry maps tool names to handlers for module-mode dispatch. Dispatch
// always returns envelope JSON, even for unknown tools or undecodable args,
// so the platform invariably gets something the agent can branch on.
type Registry struct {
	tools    *Tools
	handlers map[string]func(ctx context.Context, args json.RawMessage) any
}

func NewRegistry(t *Tools) *Registry {
	r := &Registry{tools: t}
	r.handlers = map[string]func(ctx context.Context, args json.RawMessage) any{
		ToolCreateRun: r.createRun,
		ToolGetStatus: r.getStatus,
		ToolGetResult: r.getResults,
		ToolExtend:    r.extend,
		ToolEnrich:    r.enrich,
		ToolCancel:    r.cancel,
		ToolWait:      r.wait,
	}
	return r
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch runs one tool invocation and returns the envelope as JSON bytes.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage) []byte {
	h, ok := r.handlers[name]
	if !ok {
		return marshalEnvelope(failEnvelope(fmt.Sprintf("unknown tool %q", name)))
	}
	return marshalEnvelope(h(ctx, args))
}

func (r *Registry) createRun(ctx context.Context, args json.RawMessage) any {
	var a CreateRunArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolCreateRun, err))
	}
	return r.tools.CreateRun(ctx, a)
}

func (r *Registry) getStatus(ctx context.Context, args json.RawMessage) any {
	var a runIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolGetStatus, err))
	}
	return r.tools.GetStatus(ctx, a.FindallID)
}

func (r *Registry) getResults(ctx context.Context, args json.RawMessage) any {
	var a runIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolGetResult, err))
	}
	return r.tools.GetResults(ctx, a.FindallID)
}

func (r *Registry) extend(ctx context.Context, args json.RawMessage) any {
	var a extendArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolExtend, err))
	}
	return r.tools.Extend(ctx, a.FindallID, a.AdditionalMatchLimit)
}

func (r *Registry) enrich(ctx context.Context, args json.RawMessage) any {
	var a enrichArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolEnrich, err))
	}
	return r.tools.Enrich(ctx, a.FindallID, a.OutputSchema, a.Processor)
}

func (r *Registry) cancel(ctx context.Context, args json.RawMessage) any {
	var a runIDArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolCancel, err))
	}
	return r.tools.Cancel(ctx, a.FindallID)
}

func (r *Registry) wait(ctx context.Context, args json.RawMessage) any {
	var a waitArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return failEnvelope(fmt.Sprintf("decode %s args: %v", ToolWait, err))
	}
	return r.tools.WaitForCompletion(
		ctx,
		a.FindallID,
		time.Duration(a.PollIntervalSec)*time.Second,
		time.Duration(a.MaxWaitSec)*time.Second,
	)
}

type errorEnvelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func failEnvelope(msg string) errorEnvelope {
	return errorEnvelope{Error: msg}
}

func marshalEnvelope(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		fallback, _ := json.Marshal(failEnvelope(fmt.Sprintf("marshal envelope: %v", err)))
		return fallback
	}
	return b
}
