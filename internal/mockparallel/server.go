// Package mockparallel implements a minimal in-memory FindAll API surface for
// tests and local development. It covers the run lifecycle endpoints only and
// records every call it serves.
package mockparallel

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
	Body   []byte
}

type runState struct {
	objective   string
	entityType  string
	generator   string
	matchLimit  int
	status      string
	isActive    bool
	createdAt   string
	modifiedAt  string
	metrics     map[string]any
	candidates  []json.RawMessage
	enrichments []enrichment
}

type enrichment struct {
	EnrichmentID string          `json:"enrichment_id"`
	Processor    string          `json:"processor"`
	OutputSchema json.RawMessage `json:"output_schema"`
	Status       string          `json:"status"`
}

// Server is the mock FindAll service.
type Server struct {
	mu    sync.Mutex
	calls []Call
	runs  map[string]*runState

	expectedAPIKey string
}

// New constructs an empty mock server.
func New() *Server {
	return &Server{
		runs: make(map[string]*runState),
	}
}

// RequireAPIKey enforces that requests carry a matching x-api-key header and
// a parallel-beta header. An empty key disables enforcement.
func (s *Server) RequireAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expectedAPIKey = strings.TrimSpace(key)
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// SetStatus overrides a run's lifecycle snapshot. Test hook.
func (s *Server) SetStatus(findallID, status string, isActive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[findallID]
	if !ok {
		return fmt.Errorf("unknown run %q", findallID)
	}
	run.status = status
	run.isActive = isActive
	run.modifiedAt = nowStamp()
	return nil
}

// AddCandidate appends one candidate object to a run. Test hook.
func (s *Server) AddCandidate(findallID string, candidate map[string]any) error {
	b, err := json.Marshal(candidate)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[findallID]
	if !ok {
		return fmt.Errorf("unknown run %q", findallID)
	}
	run.candidates = append(run.candidates, b)
	run.modifiedAt = nowStamp()
	return nil
}

// SetMetrics replaces a run's metrics object. Test hook.
func (s *Server) SetMetrics(findallID string, metrics map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[findallID]
	if !ok {
		return fmt.Errorf("unknown run %q", findallID)
	}
	run.metrics = metrics
	return nil
}

// Handler returns an http.Handler serving the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1beta/findall/runs", s.handleRuns)
	mux.HandleFunc("/v1beta/findall/runs/", s.handleRun)
	return mux
}

func (s *Server) recordCall(r *http.Request, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path, Body: body})
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	expected := s.expectedAPIKey
	s.mu.Unlock()

	if expected == "" {
		return true
	}
	if r.Header.Get("x-api-key") != expected {
		writeError(w, http.StatusUnauthorized, "invalid api key")
		return false
	}
	if strings.TrimSpace(r.Header.Get("parallel-beta")) == "" {
		writeError(w, http.StatusBadRequest, "missing parallel-beta header")
		return false
	}
	return true
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.recordCall(r, body)
	if !s.authorize(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Objective       string          `json:"objective"`
		EntityType      string          `json:"entity_type"`
		MatchConditions json.RawMessage `json:"match_conditions"`
		Generator       string          `json:"generator"`
		MatchLimit      int             `json:"match_limit"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Objective) == "" || strings.TrimSpace(req.EntityType) == "" {
		writeError(w, http.StatusBadRequest, "objective and entity_type are required")
		return
	}
	if len(req.MatchConditions) == 0 {
		writeError(w, http.StatusBadRequest, "match_conditions is required")
		return
	}
	if req.MatchLimit <= 0 {
		writeError(w, http.StatusBadRequest, "match_limit must be positive")
		return
	}
	generator := strings.TrimSpace(req.Generator)
	if generator == "" {
		generator = "core"
	}

	id := "findall_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	now := nowStamp()

	s.mu.Lock()
	s.runs[id] = &runState{
		objective:  req.Objective,
		entityType: req.EntityType,
		generator:  generator,
		matchLimit: req.MatchLimit,
		status:     "created",
		isActive:   true,
		createdAt:  now,
		modifiedAt: now,
	}
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"findall_id": id,
		"status":     map[string]any{"status": "created", "is_active": true},
		"generator":  generator,
		"created_at": now,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	body := readBody(r)
	s.recordCall(r, body)
	if !s.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1beta/findall/runs/")
	parts := strings.Split(rest, "/")

	s.mu.Lock()
	run, ok := s.runs[parts[0]]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "findall run not found")
		return
	}
	id := parts[0]

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveStatus(w, run)
	case len(parts) == 2 && parts[1] == "result":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveResult(w, run)
	case len(parts) == 2 && parts[1] == "extend":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveExtend(w, run, body)
	case len(parts) == 2 && parts[1] == "enrich":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveEnrich(w, run, body)
	case len(parts) == 2 && parts[1] == "cancel":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.serveCancel(w, id, run)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveStatus(w http.ResponseWriter, run *runState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := map[string]any{"status": run.status, "is_active": run.isActive}
	if run.metrics != nil {
		status["metrics"] = run.metrics
	}
	writeJSON(w, map[string]any{
		"status":      status,
		"modified_at": run.modifiedAt,
	})
}

func (s *Server) serveResult(w http.ResponseWriter, run *runState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	candidates := make([]json.RawMessage, len(run.candidates))
	copy(candidates, run.candidates)
	writeJSON(w, map[string]any{
		"run": map[string]any{
			"status": map[string]any{"status": run.status, "is_active": run.isActive},
		},
		"candidates": candidates,
	})
}

func (s *Server) serveExtend(w http.ResponseWriter, run *runState, body []byte) {
	var req struct {
		AdditionalMatchLimit int `json:"additional_match_limit"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.AdditionalMatchLimit <= 0 {
		writeError(w, http.StatusBadRequest, "additional_match_limit must be positive")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run.matchLimit += req.AdditionalMatchLimit
	// Widening a completed run reactivates it.
	if !run.isActive && run.status == "completed" {
		run.isActive = true
		run.status = "running"
	}
	run.modifiedAt = nowStamp()
	writeJSON(w, map[string]any{
		"match_limit": run.matchLimit,
		"objective":   run.objective,
		"entity_type": run.entityType,
	})
}

func (s *Server) serveEnrich(w http.ResponseWriter, run *runState, body []byte) {
	var req struct {
		Processor    string          `json:"processor"`
		OutputSchema json.RawMessage `json:"output_schema"`
	}
	if err := json.Unmarshal(body, &req); err != nil || len(req.OutputSchema) == 0 {
		writeError(w, http.StatusBadRequest, "output_schema is required")
		return
	}
	processor := strings.TrimSpace(req.Processor)
	if processor == "" {
		processor = "core"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run.enrichments = append(run.enrichments, enrichment{
		EnrichmentID: "enrich_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Processor:    processor,
		OutputSchema: req.OutputSchema,
		Status:       "pending",
	})
	run.modifiedAt = nowStamp()
	writeJSON(w, map[string]any{
		"enrichments": run.enrichments,
		"objective":   run.objective,
	})
}

func (s *Server) serveCancel(w http.ResponseWriter, id string, run *runState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !run.isActive {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s is already %s", id, run.status))
		return
	}
	run.status = "cancelled"
	run.isActive = false
	run.modifiedAt = nowStamp()
	writeJSON(w, map[string]any{
		"status":  map[string]any{"status": run.status, "is_active": false},
		"message": "run cancelled",
	})
}

func readBody(r *http.Request) []byte {
	if r.Body == nil {
		return nil
	}
	defer func() { _ = r.Body.Close() }()
	b, _ := io.ReadAll(r.Body)
	return b
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
