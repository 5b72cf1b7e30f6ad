// Package handlers implements the HTTP handlers for the Forgeline API:
// tool inspection and execution, chain lifecycle, live step streaming, and
// per-task usage queries.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/forgeline/forgeline/internal/api/middleware"
	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/cost"
	"github.com/forgeline/forgeline/internal/executor"
	"github.com/forgeline/forgeline/internal/ratelimit"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
	"github.com/go-chi/chi/v5"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store    store.Store
	Registry *tool.Registry
	Executor *executor.Executor
	Tracker  *cost.Tracker
	Index    *chain.Index
	Hub      *chain.Hub
}

// New creates a Handlers instance with all dependencies.
func New(s store.Store, reg *tool.Registry, exec *executor.Executor, tracker *cost.Tracker, index *chain.Index, hub *chain.Hub) *Handlers {
	return &Handlers{
		Store:    s,
		Registry: reg,
		Executor: exec,
		Tracker:  tracker,
		Index:    index,
		Hub:      hub,
	}
}

// ── Tool Handlers ────────────────────────────────────────────

func (h *Handlers) ListTools(w http.ResponseWriter, r *http.Request) {
	var categories []models.ToolCategory
	if c := r.URL.Query().Get("category"); c != "" {
		categories = append(categories, models.ToolCategory(c))
	}
	respondJSON(w, http.StatusOK, h.Registry.List(categories...))
}

func (h *Handlers) GetTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "toolName")
	t, err := h.Registry.Get(name)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, t.Definition())
}

// executeRequest is the body of POST /tools/{toolName}/execute.
type executeRequest struct {
	Arguments map[string]any `json:"arguments"`
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	ChainID   string         `json:"chain_id,omitempty"`
	Budget    *models.Budget `json:"budget,omitempty"`
}

func (h *Handlers) ExecuteTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "toolName")

	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TaskID == "" {
		respondError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	execCtx := models.NewExecutionContext(req.TaskID, req.AgentID, middleware.GetTenantID(r.Context()))
	execCtx.Budget = req.Budget
	execCtx.ChainID = req.ChainID

	var ch *chain.Chain
	if req.ChainID != "" {
		var ok bool
		ch, ok = h.Index.Get(req.ChainID)
		if !ok {
			respondError(w, http.StatusNotFound, fmt.Sprintf("chain %q not found", req.ChainID))
			return
		}
	}

	sink := func(s chain.Step) {
		if req.ChainID != "" {
			h.Hub.Publish(req.ChainID, s)
		}
	}

	result, err := h.Executor.ExecuteWithEvents(r.Context(), name, req.Arguments, execCtx, ch, sink)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, tool.ErrToolNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ratelimit.ErrRateLimited):
			status = http.StatusTooManyRequests
			var limitErr *ratelimit.LimitError
			if errors.As(err, &limitErr) {
				w.Header().Set("Retry-After", strconv.Itoa(int(limitErr.RetryAfter.Seconds()+1)))
			}
		case errors.Is(err, cost.ErrBudgetExceeded):
			status = http.StatusForbidden
		}
		respondError(w, status, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"result":         result,
		"correlation_id": execCtx.CorrelationID,
	})
}

// ── Chain Handlers ───────────────────────────────────────────

type createChainRequest struct {
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
}

func (h *Handlers) CreateChain(w http.ResponseWriter, r *http.Request) {
	var req createChainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TaskID == "" {
		respondError(w, http.StatusBadRequest, "task_id is required")
		return
	}

	ch := chain.New(req.TaskID, req.AgentID, middleware.GetTenantID(r.Context()))
	h.Index.Add(ch)
	respondJSON(w, http.StatusCreated, ch.Snapshot())
}

func (h *Handlers) ListChains(w http.ResponseWriter, r *http.Request) {
	if taskID := r.URL.Query().Get("task_id"); taskID != "" {
		snaps, err := h.Store.ListChainsByTask(r.Context(), taskID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, snaps)
		return
	}
	respondJSON(w, http.StatusOK, h.Index.List())
}

// GetChain serves live chains from the index, falling back to the store for
// chains that have been evicted.
func (h *Handlers) GetChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chainID")

	if ch, ok := h.Index.Get(id); ok {
		respondJSON(w, http.StatusOK, ch.Snapshot())
		return
	}

	snap, err := h.Store.GetChain(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

type transitionRequest struct {
	Status chain.Status `json:"status"`
}

func (h *Handlers) TransitionChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chainID")
	ch, ok := h.Index.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("chain %q not found", id))
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := ch.Transition(req.Status); err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	if ch.Status().Terminal() {
		if err := h.Store.SaveChain(r.Context(), ch.Snapshot()); err != nil {
			respondError(w, http.StatusInternalServerError, "chain persisted state unavailable: "+err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, ch.Snapshot())
}

type addStepRequest struct {
	Kind    chain.StepKind `json:"kind"`
	Content string         `json:"content"`
}

// AddStep appends a thinking or synthesis step supplied by the reasoning
// loop. Tool-call and tool-result steps are appended by the executor only.
func (h *Handlers) AddStep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chainID")
	ch, ok := h.Index.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("chain %q not found", id))
		return
	}

	var req addStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var step chain.Step
	switch req.Kind {
	case chain.StepThinking:
		step = chain.NewThinkingStep(req.Content)
	case chain.StepSynthesis:
		step = chain.NewSynthesisStep(req.Content)
	default:
		respondError(w, http.StatusBadRequest, fmt.Sprintf("kind %q cannot be appended directly", req.Kind))
		return
	}

	appended, err := ch.AddStep(step)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	h.Hub.Publish(id, appended)
	respondJSON(w, http.StatusCreated, appended)
}

// StreamChain serves the chain's steps over SSE: every existing step is
// replayed first, then new steps are forwarded live until the client
// disconnects or the chain reaches a terminal state.
func (h *Handlers) StreamChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "chainID")
	ch, ok := h.Index.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, fmt.Sprintf("chain %q not found", id))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Subscribe before replaying so no step falls between replay and live.
	sub := h.Hub.Subscribe(id)
	defer h.Hub.Unsubscribe(id, sub)

	fmt.Fprintf(w, "event: connected\ndata: {\"chain_id\":%q}\n\n", id)
	flusher.Flush()

	replayed := 0
	for _, s := range ch.Steps() {
		writeStepEvent(w, s)
		replayed++
	}
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case s, ok := <-sub:
			if !ok {
				return
			}
			// Steps already sent during replay arrive again if they were
			// published while we replayed; step numbers dedupe them.
			if s.Number <= replayed {
				continue
			}
			writeStepEvent(w, s)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeStepEvent(w http.ResponseWriter, s chain.Step) {
	data, _ := json.Marshal(s)
	fmt.Fprintf(w, "event: step\ndata: %s\n\n", data)
}

// ── Usage Handlers ───────────────────────────────────────────

func (h *Handlers) GetTaskUsage(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	records, err := h.Store.ListCostRecords(r.Context(), taskID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []models.CostRecord{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"usage":   h.Tracker.UsageFor(taskID),
		"records": records,
	})
}

// ── Helpers ──────────────────────────────────────────────────

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
