// Package executor implements the orchestration core: one entry point that
// dispatches any registered tool through a uniform pipeline of
//
//	registry lookup → argument validation → rate-limit admission →
//	budget gate → cached-result check → execute with timeout/retry/backoff →
//	cost recording → chain append
//
// Ordinary tool failures (bad arguments, exhausted retries) come back inside
// the ExecutionResult so the calling reasoning loop can branch on them.
// Governance vetoes — unknown tool, rate limit, exhausted budget — are
// returned as errors because they must interrupt the caller's flow.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/forgeline/forgeline/internal/chain"
	"github.com/forgeline/forgeline/internal/cost"
	"github.com/forgeline/forgeline/internal/ratelimit"
	"github.com/forgeline/forgeline/internal/store"
	"github.com/forgeline/forgeline/internal/tool"
	"github.com/forgeline/forgeline/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// StepSink receives each chain step as soon as it is appended. Used by the
// streaming execute variant; the synchronous variant simply runs without one.
type StepSink func(chain.Step)

// Executor runs registered tools under retry, rate-limit and cost policy.
type Executor struct {
	registry *tool.Registry
	limiter  *ratelimit.Limiter // optional
	tracker  *cost.Tracker      // optional
	store    store.Store        // optional, best-effort
	cache    *resultCache       // optional
	tracer   trace.Tracer
}

// Option configures optional executor collaborators.
type Option func(*Executor)

// WithRateLimiter enables per-tenant admission control.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(e *Executor) { e.limiter = l }
}

// WithCostTracker enables cost accounting and budget gating.
func WithCostTracker(t *cost.Tracker) Option {
	return func(e *Executor) { e.tracker = t }
}

// WithStore enables best-effort chain persistence after each call.
func WithStore(s store.Store) Option {
	return func(e *Executor) { e.store = s }
}

// WithResultCache enables caching for tools that declare a CacheTTL.
func WithResultCache(maxEntries int) Option {
	return func(e *Executor) { e.cache = newResultCache(maxEntries) }
}

// New creates an executor over the given registry.
func New(registry *tool.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		tracer:   otel.Tracer("forgeline/executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs a named tool and returns its result. If ch is non-nil, a
// tool-call step is appended before execution and a matching tool-result
// step after, linked by the context's correlation id.
func (e *Executor) Execute(ctx context.Context, toolName string, args map[string]any, execCtx *models.ExecutionContext, ch *chain.Chain) (*models.ExecutionResult, error) {
	return e.run(ctx, toolName, args, execCtx, ch, nil)
}

// ExecuteWithEvents is Execute with live step observation: the tool-call
// step is delivered to sink immediately and the tool-result step once
// available. Both variants produce identical chain contents for the same
// inputs — the sink is an observation tap, not an alternate code path.
func (e *Executor) ExecuteWithEvents(ctx context.Context, toolName string, args map[string]any, execCtx *models.ExecutionContext, ch *chain.Chain, sink StepSink) (*models.ExecutionResult, error) {
	return e.run(ctx, toolName, args, execCtx, ch, sink)
}

// run is the single execution algorithm shared by both variants.
func (e *Executor) run(ctx context.Context, toolName string, args map[string]any, execCtx *models.ExecutionContext, ch *chain.Chain, sink StepSink) (*models.ExecutionResult, error) {
	ctx, span := e.tracer.Start(ctx, "executor.run",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tenant.id", execCtx.TenantID),
			attribute.String("task.id", execCtx.TaskID),
		))
	defer span.End()

	// 1. Resolve the tool.
	t, err := e.registry.Get(toolName)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	def := t.Definition()

	// 2. Validate arguments. Malformed input from the caller's reasoning
	// step is an expected, recoverable condition — a returned failure,
	// never a raised one.
	merged, err := tool.ValidateArguments(def, args)
	if err != nil {
		return &models.ExecutionResult{
			Success:      false,
			ErrorCode:    models.ErrCodeValidation,
			ErrorMessage: err.Error(),
		}, nil
	}

	if execCtx.CorrelationID == "" {
		execCtx.CorrelationID = newCorrelationID()
	}

	// 3. Cached result? A hit bypasses admission control and the tool
	// itself but still leaves a full audit trail on the chain.
	if cached, ok := e.cachedResult(def, merged); ok {
		if err := e.appendCallStep(ch, def, merged, execCtx, sink); err != nil {
			return nil, err
		}
		if err := e.appendResultStep(ch, def, merged, execCtx, cached, sink); err != nil {
			return nil, err
		}
		e.persistChain(ctx, ch)
		return cached, nil
	}

	// 4. Rate-limit admission — atomic check-and-consume, raised on refusal.
	if e.limiter != nil && execCtx.TenantID != "" {
		if err := e.limiter.CheckAndConsume(ctx, execCtx.TenantID, def.Category, 0, 0); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	// 5. Budget gate — veto calls for tasks whose budget is already gone.
	if e.tracker != nil && execCtx.Budget != nil && execCtx.TaskID != "" {
		budget := *execCtx.Budget
		if def.Category != models.CategoryModelInference {
			// The inference-call ceiling only applies to inference tools.
			budget.MaxInferenceCalls = 0
		}
		if !e.tracker.CheckBudget(execCtx.TaskID, budget, 0, 0) {
			err := fmt.Errorf("task %q: %w", execCtx.TaskID, cost.ErrBudgetExceeded)
			span.RecordError(err)
			return nil, err
		}
	}

	// 6. Record the attempt before executing, so a crash mid-call still
	// leaves a correlated, auditable tool-call step.
	if err := e.appendCallStep(ch, def, merged, execCtx, sink); err != nil {
		return nil, err
	}

	// 7. Execute with timeout, retry and backoff.
	result := e.executeWithRetry(ctx, t, def, merged, execCtx)

	// 8. Cost accounting — best-effort, never fails the call.
	if e.tracker != nil && execCtx.TenantID != "" && result.Usage.EstimatedCost > 0 {
		e.tracker.RecordCost(ctx, models.CostRecord{
			ID:            newCorrelationID(),
			TaskID:        execCtx.TaskID,
			TenantID:      execCtx.TenantID,
			AgentID:       execCtx.AgentID,
			ToolName:      def.Name,
			Usage:         result.Usage,
			InferenceCall: def.Category == models.CategoryModelInference,
			CreatedAt:     time.Now().UTC(),
		})
	}

	if result.Success {
		e.storeResult(def, merged, result)
	}

	// 9. Record the outcome with the same correlation id.
	if err := e.appendResultStep(ch, def, merged, execCtx, result, sink); err != nil {
		return nil, err
	}
	e.persistChain(ctx, ch)

	log.Debug().
		Str("tool", def.Name).
		Str("tenant", execCtx.TenantID).
		Bool("success", result.Success).
		Int("retries", result.RetriesUsed).
		Dur("duration", result.Duration).
		Msg("tool execution finished")

	return result, nil
}

// executeWithRetry runs the tool under its declared timeout, retrying
// classified-retryable failures up to the policy's attempt cap with
// exponential backoff.
func (e *Executor) executeWithRetry(ctx context.Context, t tool.Tool, def models.ToolDefinition, args map[string]any, execCtx *models.ExecutionContext) *models.ExecutionResult {
	policy := def.Retry
	if policy.BackoffMultiplier <= 0 {
		policy.BackoffMultiplier = models.DefaultRetryPolicy().BackoffMultiplier
	}
	if policy.Backoff <= 0 {
		policy.Backoff = models.DefaultRetryPolicy().Backoff
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.Backoff
	bo.Multiplier = policy.BackoffMultiplier
	bo.RandomizationFactor = 0
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0
	bo.Reset()

	start := time.Now()
	var lastErr error
	var timedOut bool
	var retriesUsed int

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		retriesUsed = attempt
		res, err := e.attempt(ctx, t, def, args, execCtx)
		if err == nil {
			// The tool spoke for itself — success or an expected domain
			// failure encoded in the result. Either way, no retry.
			res.RetriesUsed = attempt
			if res.Duration == 0 {
				res.Duration = time.Since(start)
			}
			return res
		}

		lastErr = err
		timedOut = errors.Is(err, context.DeadlineExceeded)

		if ctx.Err() != nil {
			// Caller cancelled; stop retrying.
			break
		}
		if attempt == policy.MaxRetries || !retryable(policy, err) {
			break
		}

		wait := bo.NextBackOff()
		log.Warn().
			Str("tool", def.Name).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Err(err).
			Msg("tool attempt failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	errCode := models.ErrCodeExecutionFailed
	if timedOut {
		errCode = models.ErrCodeTimeout
	}
	return &models.ExecutionResult{
		Success:      false,
		ErrorCode:    errCode,
		ErrorMessage: lastErr.Error(),
		Duration:     time.Since(start),
		RetriesUsed:  retriesUsed,
	}
}

// attempt runs one execution under the tool's declared deadline. A tool
// panic is converted into an error so one misbehaving tool can't take the
// reasoning loop down with it.
func (e *Executor) attempt(ctx context.Context, t tool.Tool, def models.ToolDefinition, args map[string]any, execCtx *models.ExecutionContext) (res *models.ExecutionResult, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, def.EffectiveTimeout())
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("tool %q panicked: %v", def.Name, r)
		}
	}()

	res, err = t.Execute(attemptCtx, args, execCtx)
	if err != nil {
		if attemptCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tool %q timed out after %s: %w", def.Name, def.EffectiveTimeout(), context.DeadlineExceeded)
		}
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("tool %q returned no result", def.Name)
	}
	return res, nil
}

// retryable reports whether the policy classifies the failure as worth
// retrying. An empty RetryableErrors list retries everything, matching the
// permissive behavior most tools want; a populated list is matched against
// the error text.
func retryable(policy models.RetryPolicy, err error) bool {
	if err == nil {
		return false
	}
	if len(policy.RetryableErrors) == 0 {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, class := range policy.RetryableErrors {
		if class == "timeout" && errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		if strings.Contains(msg, strings.ToLower(class)) {
			return true
		}
	}
	return false
}

// ── Chain bookkeeping ───────────────────────────────────────

func (e *Executor) appendCallStep(ch *chain.Chain, def models.ToolDefinition, args map[string]any, execCtx *models.ExecutionContext, sink StepSink) error {
	if ch == nil {
		return nil
	}
	step := chain.Step{
		Kind:          chain.StepToolCall,
		CorrelationID: execCtx.CorrelationID,
		ParentStepID:  execCtx.ParentStepID,
		Visibility:    chain.StepVisibility{Level: def.EffectiveVisibility()},
		ToolCall: &chain.ToolCallPayload{
			ToolName:  def.Name,
			Category:  def.Category,
			Arguments: args,
		},
	}
	appended, err := ch.AddStep(step)
	if err != nil {
		return fmt.Errorf("append tool-call step: %w", err)
	}
	if sink != nil {
		sink(appended)
	}
	return nil
}

func (e *Executor) appendResultStep(ch *chain.Chain, def models.ToolDefinition, args map[string]any, execCtx *models.ExecutionContext, result *models.ExecutionResult, sink StepSink) error {
	if ch == nil {
		return nil
	}
	step := chain.Step{
		Kind:          chain.StepToolResult,
		CorrelationID: execCtx.CorrelationID,
		ParentStepID:  execCtx.ParentStepID,
		Visibility: chain.StepVisibility{
			Level:   def.EffectiveVisibility(),
			Summary: renderSummary(def, args, result),
		},
		ToolResult: &chain.ToolResultPayload{
			ToolName:     def.Name,
			Success:      result.Success,
			Output:       result.Output,
			ErrorMessage: result.ErrorMessage,
			ErrorCode:    result.ErrorCode,
			Duration:     result.Duration,
			RetriesUsed:  result.RetriesUsed,
			CacheHit:     result.CacheHit,
			Usage:        result.Usage,
		},
	}
	appended, err := ch.AddStep(step)
	if err != nil {
		return fmt.Errorf("append tool-result step: %w", err)
	}
	if sink != nil {
		sink(appended)
	}
	return nil
}

// persistChain hands the chain's current snapshot to the store.
// Best-effort: a store failure is logged and swallowed.
func (e *Executor) persistChain(ctx context.Context, ch *chain.Chain) {
	if e.store == nil || ch == nil {
		return
	}
	if err := e.store.SaveChain(ctx, ch.Snapshot()); err != nil {
		log.Warn().Err(err).Str("chain", ch.ID()).Msg("chain persistence failed")
	}
}

// renderSummary produces the human-readable line for a tool-result step.
// Successful calls use the tool's summary template when one is configured;
// everything else gets a generic success/failure line.
func renderSummary(def models.ToolDefinition, args map[string]any, result *models.ExecutionResult) string {
	if result.Success && def.SummaryTemplate != "" {
		out := def.SummaryTemplate
		for k, v := range args {
			out = strings.ReplaceAll(out, "{"+k+"}", fmt.Sprint(v))
		}
		return out
	}
	if result.Success {
		if result.CacheHit {
			return fmt.Sprintf("%s completed (cached)", def.Name)
		}
		return fmt.Sprintf("%s completed in %s", def.Name, result.Duration.Round(time.Millisecond))
	}
	return fmt.Sprintf("%s failed: %s", def.Name, result.ErrorMessage)
}
