package handlers_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/forgeline/forgeline/internal/api"
	"github.com/forgeline/forgeline/internal/api/handlers"
	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/config"
	"github.com/forgeline/forgeline/internal/cost"
	"github.com/forgeline/forgeline/internal/executor"
	"github.com/forgeline/forgeline/internal/ratelimit"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/internal/tools"
	"github.com/forgeline/forgeline/pkg/models"
)

type testEnv struct {
	handler http.Handler
	index   *chain.Index
	store   store.Store
}

func newTestEnv(t *testing.T, limits ratelimit.Config) *testEnv {
	t.Helper()

	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	registry := tool.NewRegistry()
	index := chain.NewIndex()
	if err := tools.RegisterBuiltins(registry, index, nil); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}

	tracker := cost.NewTracker(st)
	exec := executor.New(registry,
		executor.WithRateLimiter(ratelimit.New(limits)),
		executor.WithCostTracker(tracker),
		executor.WithStore(st),
	)

	hub := chain.NewHub()
	h := handlers.New(st, registry, exec, tracker, index, hub)
	cfg := &config.Config{Version: "test"}

	return &testEnv{
		handler: api.NewRouter(cfg, h),
		index:   index,
		store:   st,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Tenant", "tenant-1")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

// ─── Tools ───────────────────────────────────────────────────

func TestListTools(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())

	rec := env.do(t, http.MethodGet, "/api/v1/tools/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	defs := decode[[]models.ToolDefinition](t, rec)
	if len(defs) != 4 {
		t.Errorf("got %d tools, want 4 builtins", len(defs))
	}
}

func TestListTools_CategoryFilter(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())

	rec := env.do(t, http.MethodGet, "/api/v1/tools/?category=external_api", nil)
	defs := decode[[]models.ToolDefinition](t, rec)
	if len(defs) != 1 || defs[0].Name != "http_fetch" {
		t.Errorf("filtered tools = %v, want only http_fetch", defs)
	}
}

func TestGetTool_NotFound(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	if rec := env.do(t, http.MethodGet, "/api/v1/tools/nope/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestExecuteTool(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/tools/echo/execute", map[string]any{
		"task_id":   "task-1",
		"agent_id":  "agent-1",
		"arguments": map[string]any{"message": "hi"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body: %s)", rec.Code, rec.Body.String())
	}

	resp := decode[struct {
		Result        models.ExecutionResult `json:"result"`
		CorrelationID string                 `json:"correlation_id"`
	}](t, rec)
	if !resp.Result.Success || resp.Result.Output != "hi" {
		t.Errorf("result = %+v, want successful echo", resp.Result)
	}
	if resp.CorrelationID == "" {
		t.Error("correlation_id is empty")
	}
}

func TestExecuteTool_UnknownTool(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	rec := env.do(t, http.MethodPost, "/api/v1/tools/nope/execute", map[string]any{"task_id": "t"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestExecuteTool_MissingTaskID(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	rec := env.do(t, http.MethodPost, "/api/v1/tools/echo/execute", map[string]any{
		"arguments": map[string]any{"message": "hi"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestExecuteTool_RateLimited(t *testing.T) {
	env := newTestEnv(t, ratelimit.Config{ExternalCallsPerMinute: 1})

	body := map[string]any{
		"task_id":   "task-1",
		"arguments": map[string]any{"url": "http://127.0.0.1:1"},
	}
	env.do(t, http.MethodPost, "/api/v1/tools/http_fetch/execute", body)

	rec := env.do(t, http.MethodPost, "/api/v1/tools/http_fetch/execute", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
}

func TestExecuteTool_ValidationFailureIs200(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())

	rec := env.do(t, http.MethodPost, "/api/v1/tools/echo/execute", map[string]any{
		"task_id":   "task-1",
		"arguments": map[string]any{},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a returned failure", rec.Code)
	}

	resp := decode[struct {
		Result models.ExecutionResult `json:"result"`
	}](t, rec)
	if resp.Result.Success {
		t.Error("result.Success = true, want false")
	}
	if resp.Result.ErrorCode != models.ErrCodeValidation {
		t.Errorf("ErrorCode = %q, want %q", resp.Result.ErrorCode, models.ErrCodeValidation)
	}
}

// ─── Chains ──────────────────────────────────────────────────

func createChain(t *testing.T, env *testEnv) chain.Snapshot {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/api/v1/chains/", map[string]any{
		"task_id":  "task-1",
		"agent_id": "agent-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create chain status = %d, want 201", rec.Code)
	}
	return decode[chain.Snapshot](t, rec)
}

func TestCreateAndGetChain(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	snap := createChain(t, env)

	if snap.Status != chain.StatusInitializing {
		t.Errorf("new chain status = %s, want initializing", snap.Status)
	}
	if snap.TenantID != "tenant-1" {
		t.Errorf("tenant = %q, want tenant-1 from header", snap.TenantID)
	}

	rec := env.do(t, http.MethodGet, "/api/v1/chains/"+snap.ID+"/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get chain status = %d, want 200", rec.Code)
	}
	got := decode[chain.Snapshot](t, rec)
	if got.ID != snap.ID {
		t.Errorf("chain id = %q, want %q", got.ID, snap.ID)
	}
}

func TestExecuteTool_RecordsOnChain(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	snap := createChain(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/tools/echo/execute", map[string]any{
		"task_id":   "task-1",
		"chain_id":  snap.ID,
		"arguments": map[string]any{"message": "hi"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/chains/"+snap.ID+"/", nil)
	got := decode[chain.Snapshot](t, rec)
	if len(got.Steps) != 2 {
		t.Fatalf("chain has %d steps, want call + result", len(got.Steps))
	}
	if got.Steps[0].Kind != chain.StepToolCall || got.Steps[1].Kind != chain.StepToolResult {
		t.Errorf("step kinds = %s, %s", got.Steps[0].Kind, got.Steps[1].Kind)
	}
}

func TestAddStepAndTransition(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	snap := createChain(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/chains/"+snap.ID+"/status", map[string]any{"status": "thinking"})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/chains/"+snap.ID+"/steps", map[string]any{
		"kind":    "thinking",
		"content": "working on it",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("add step status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	step := decode[chain.Step](t, rec)
	if step.Number != 1 || step.Thought != "working on it" {
		t.Errorf("step = %+v", step)
	}

	// Completing the chain persists it and forbids further moves.
	rec = env.do(t, http.MethodPost, "/api/v1/chains/"+snap.ID+"/status", map[string]any{"status": "completed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	if _, err := env.store.GetChain(context.Background(), snap.ID); err != nil {
		t.Errorf("completed chain not persisted: %v", err)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/chains/"+snap.ID+"/status", map[string]any{"status": "thinking"})
	if rec.Code != http.StatusConflict {
		t.Errorf("post-terminal transition status = %d, want 409", rec.Code)
	}
}

func TestAddStep_InvalidKind(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	snap := createChain(t, env)

	rec := env.do(t, http.MethodPost, "/api/v1/chains/"+snap.ID+"/steps", map[string]any{
		"kind":    "tool_call",
		"content": "nope",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for direct tool_call append", rec.Code)
	}
}

func TestStreamChain_ReplaysSteps(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())
	snap := createChain(t, env)

	env.do(t, http.MethodPost, "/api/v1/chains/"+snap.ID+"/steps", map[string]any{
		"kind":    "thinking",
		"content": "step one",
	})

	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/chains/"+snap.ID+"/stream", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("stream request error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	scanner := bufio.NewScanner(resp.Body)
	var sawConnected, sawStep bool
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: connected") {
			sawConnected = true
		}
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, "step one") {
			sawStep = true
			break
		}
	}
	if !sawConnected {
		t.Error("never saw connected event")
	}
	if !sawStep {
		t.Error("never saw replayed step")
	}
	cancel()
}

// ─── Usage & health ──────────────────────────────────────────

func TestGetTaskUsage(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())

	env.do(t, http.MethodPost, "/api/v1/tools/echo/execute", map[string]any{
		"task_id":   "task-1",
		"arguments": map[string]any{"message": "hi"},
	})

	rec := env.do(t, http.MethodGet, "/api/v1/tasks/task-1/usage", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	resp := decode[struct {
		TaskID  string              `json:"task_id"`
		Usage   cost.Usage          `json:"usage"`
		Records []models.CostRecord `json:"records"`
	}](t, rec)
	if resp.TaskID != "task-1" {
		t.Errorf("task_id = %q", resp.TaskID)
	}
	if resp.Records == nil {
		t.Error("records is null, want empty array")
	}
}

func TestHealthAndVersion(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultConfig())

	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/version", nil)
	got := decode[map[string]string](t, rec)
	if got["version"] != "test" {
		t.Errorf("version = %q, want test", got["version"])
	}
}
