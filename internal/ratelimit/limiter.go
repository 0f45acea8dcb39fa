// Package ratelimit enforces per-category call budgets for the upstream API.
//
// A single quota breach risks punitive suspension of the partner account, so
// the ceilings sit roughly 30% below the upstream's published hard limits.
package ratelimit

import (
	"context"
	"time"
)

// Call categories. Search and reporting calls also consume the general
// budget: the upstream applies a global ceiling across all call types plus a
// stricter sub-ceiling for some of them.
const (
	CategoryGeneral   = "general"
	CategorySearch    = "search"
	CategoryReporting = "reporting"
)

// Budget is a call ceiling over a fixed window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// DefaultBudgets returns the per-category budgets.
func DefaultBudgets() map[string]Budget {
	return map[string]Budget{
		CategoryGeneral:   {Limit: 70, Window: time.Minute},
		CategorySearch:    {Limit: 35, Window: time.Minute},
		CategoryReporting: {Limit: 350, Window: time.Hour},
	}
}

// Decision is the outcome of a budget check. A denial is not an error;
// callers must inspect Allowed and decide whether to abort, queue, or wait.
type Decision struct {
	Allowed    bool
	Category   string
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds reports the wait before the window resets, rounded up to
// whole seconds for Retry-After style headers.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int64((d.RetryAfter + time.Second - 1) / time.Second)
}

// WindowStore tracks call counts per window key. Implementations must make
// the check-then-increment atomic: two concurrent takers seeing "1 remaining"
// must not both proceed.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Limiter gates upstream calls against the configured budgets.
type Limiter struct {
	store   WindowStore
	budgets map[string]Budget
}

func New(store WindowStore) *Limiter {
	return &Limiter{store: store, budgets: DefaultBudgets()}
}

// NewWithBudgets creates a limiter with custom budgets, primarily for tests.
func NewWithBudgets(store WindowStore, budgets map[string]Budget) *Limiter {
	return &Limiter{store: store, budgets: budgets}
}

// Check consumes one call from the category's budget. For categories other
// than general the shared general budget is consumed first; its denial
// short-circuits without touching the narrower budget.
func (l *Limiter) Check(ctx context.Context, category string) (Decision, error) {
	if category != CategoryGeneral {
		d, err := l.take(ctx, CategoryGeneral)
		if err != nil || !d.Allowed {
			return d, err
		}
	}
	return l.take(ctx, category)
}

func (l *Limiter) take(ctx context.Context, category string) (Decision, error) {
	b, ok := l.budgets[category]
	if !ok {
		b = l.budgets[CategoryGeneral]
	}
	d, err := l.store.Take(ctx, category, b.Limit, b.Window)
	if err != nil {
		return Decision{}, err
	}
	d.Category = category
	return d, nil
}
