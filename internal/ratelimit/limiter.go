// Package ratelimit provides per-tenant admission control for tool
// execution: call-rate windows per operation category, token-rate windows,
// and rolling cost ceilings.
//
// Windows reset lazily when an admission attempt notices the window has
// elapsed — there are no background timers. CheckAndConsume is atomic:
// it admits and deducts as one step, or refuses and deducts nothing, so
// two concurrent calls for the same tenant can never both squeeze past
// the ceiling.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/forgeline/forgeline/pkg/models"
)

// ErrRateLimited is the sentinel wrapped by every refusal. Callers should
// treat it as a signal to back off, not as a failure of the tool itself.
var ErrRateLimited = errors.New("rate limit exceeded")

// LimitError describes which ceiling refused an admission.
type LimitError struct {
	Tenant    string
	Dimension string // e.g. "calls/model_inference", "tokens/minute", "cost/day"
	Limit     float64
	// RetryAfter is how long until the refusing window resets.
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("tenant %q exceeded %s limit (%g), retry after %s",
		e.Tenant, e.Dimension, e.Limit, e.RetryAfter.Round(time.Millisecond))
}

func (e *LimitError) Unwrap() error { return ErrRateLimited }

// Config holds the ceilings for one tenant. A zero value disables that
// dimension.
type Config struct {
	InferenceCallsPerMinute int
	ExternalCallsPerMinute  int
	StorageCallsPerMinute   int

	TokensPerMinute int
	TokensPerHour   int

	CostPerHour float64
	CostPerDay  float64
}

// DefaultConfig returns the limits applied to tenants without an explicit
// override.
func DefaultConfig() Config {
	return Config{
		InferenceCallsPerMinute: 60,
		ExternalCallsPerMinute:  100,
		StorageCallsPerMinute:   500,
		TokensPerMinute:         100_000,
		TokensPerHour:           1_000_000,
		CostPerHour:             10.0,
		CostPerDay:              100.0,
	}
}

// callLimit maps a tool category to its per-minute call ceiling.
// Categories without a configured ceiling are unlimited.
func (c Config) callLimit(category models.ToolCategory) int {
	switch category {
	case models.CategoryModelInference:
		return c.InferenceCallsPerMinute
	case models.CategoryExternalAPI:
		return c.ExternalCallsPerMinute
	case models.CategoryStorageQuery:
		return c.StorageCallsPerMinute
	default:
		return 0
	}
}

// ── Windows ─────────────────────────────────────────────────

type window struct {
	start  time.Time
	length time.Duration
	limit  float64
	used   float64
}

func newWindow(limit float64, length time.Duration, now time.Time) *window {
	return &window{start: now, length: length, limit: limit}
}

// roll resets the window if it has elapsed.
func (w *window) roll(now time.Time) {
	if now.Sub(w.start) >= w.length {
		w.start = now
		w.used = 0
	}
}

func (w *window) room(amount float64) bool {
	return w.used+amount <= w.limit
}

func (w *window) retryAfter(now time.Time) time.Duration {
	return w.start.Add(w.length).Sub(now)
}

// tenantState holds all windows for one tenant, created lazily on first use.
type tenantState struct {
	calls        map[models.ToolCategory]*window
	tokensMinute *window
	tokensHour   *window
	costHour     *window
	costDay      *window
}

func newTenantState(cfg Config, now time.Time) *tenantState {
	st := &tenantState{calls: make(map[models.ToolCategory]*window)}
	for _, cat := range []models.ToolCategory{
		models.CategoryModelInference,
		models.CategoryExternalAPI,
		models.CategoryStorageQuery,
	} {
		if limit := cfg.callLimit(cat); limit > 0 {
			st.calls[cat] = newWindow(float64(limit), time.Minute, now)
		}
	}
	if cfg.TokensPerMinute > 0 {
		st.tokensMinute = newWindow(float64(cfg.TokensPerMinute), time.Minute, now)
	}
	if cfg.TokensPerHour > 0 {
		st.tokensHour = newWindow(float64(cfg.TokensPerHour), time.Hour, now)
	}
	if cfg.CostPerHour > 0 {
		st.costHour = newWindow(cfg.CostPerHour, time.Hour, now)
	}
	if cfg.CostPerDay > 0 {
		st.costDay = newWindow(cfg.CostPerDay, 24*time.Hour, now)
	}
	return st
}

// ── Limiter ─────────────────────────────────────────────────

// Limiter enforces per-tenant admission control. Safe for concurrent use.
type Limiter struct {
	mu        sync.Mutex
	defaults  Config
	overrides map[string]Config
	tenants   map[string]*tenantState
	now       func() time.Time
}

// New creates a limiter with the given default tenant config.
func New(defaults Config) *Limiter {
	return NewWithClock(defaults, time.Now)
}

// NewWithClock creates a limiter with an injected clock. Tests use this to
// drive window expiry without sleeping.
func NewWithClock(defaults Config, now func() time.Time) *Limiter {
	return &Limiter{
		defaults:  defaults,
		overrides: make(map[string]Config),
		tenants:   make(map[string]*tenantState),
		now:       now,
	}
}

// SetTenantConfig installs an explicit override for one tenant. Any
// accumulated window state for the tenant is discarded so the new limits
// take effect immediately.
func (l *Limiter) SetTenantConfig(tenant string, cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[tenant] = cfg
	delete(l.tenants, tenant)
}

// configFor must be called with the mutex held.
func (l *Limiter) configFor(tenant string) Config {
	if cfg, ok := l.overrides[tenant]; ok {
		return cfg
	}
	return l.defaults
}

// stateFor must be called with the mutex held.
func (l *Limiter) stateFor(tenant string, now time.Time) *tenantState {
	st, ok := l.tenants[tenant]
	if !ok {
		st = newTenantState(l.configFor(tenant), now)
		l.tenants[tenant] = st
	}
	return st
}

// CheckAndConsume admits one call of the given category, plus the given
// token and cost amounts, against the tenant's windows. Either every
// applicable window has room and all are deducted, or a *LimitError is
// returned and nothing is deducted.
func (l *Limiter) CheckAndConsume(ctx context.Context, tenant string, category models.ToolCategory, tokens int, cost float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.stateFor(tenant, now)

	type claim struct {
		w         *window
		amount    float64
		dimension string
	}
	var claims []claim

	if w, ok := st.calls[category]; ok {
		claims = append(claims, claim{w, 1, "calls/" + string(category)})
	}
	if tokens > 0 {
		if st.tokensMinute != nil {
			claims = append(claims, claim{st.tokensMinute, float64(tokens), "tokens/minute"})
		}
		if st.tokensHour != nil {
			claims = append(claims, claim{st.tokensHour, float64(tokens), "tokens/hour"})
		}
	}
	if cost > 0 {
		if st.costHour != nil {
			claims = append(claims, claim{st.costHour, cost, "cost/hour"})
		}
		if st.costDay != nil {
			claims = append(claims, claim{st.costDay, cost, "cost/day"})
		}
	}

	// Check every window before consuming any, so a refusal deducts nothing.
	for _, cl := range claims {
		cl.w.roll(now)
		if !cl.w.room(cl.amount) {
			return &LimitError{
				Tenant:     tenant,
				Dimension:  cl.dimension,
				Limit:      cl.w.limit,
				RetryAfter: cl.w.retryAfter(now),
			}
		}
	}
	for _, cl := range claims {
		cl.w.used += cl.amount
	}
	return nil
}
