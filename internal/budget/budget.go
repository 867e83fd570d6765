// Package budget tracks the token/cost/time ceiling for one run.
//
// The tracker is the single source of truth for remaining spend. It is
// owned by the orchestrator and never handed to agents: agents report
// their own consumption in result metrics, and the orchestrator debits
// the tracker after each agent completes. Debits are post-hoc, never
// speculative, so concurrent completions cannot double-reserve.
package budget

import (
	"sync"
	"time"

	"github.com/dshills/armada/internal/agent"
)

// Limits are the ceilings for one run. A zero value means unlimited for
// that dimension.
type Limits struct {
	MaxTokens int
	MaxUSD    float64
	MaxWall   time.Duration
	// MonthlyUSD caps cumulative spend across runs within a calendar
	// month; MonthSpent is the month-to-date total from the ledger.
	MonthlyUSD float64
	MonthSpent float64
}

// Usage is a point-in-time snapshot of consumption.
type Usage struct {
	Tokens    int     `json:"tokens"`
	CostUSD   float64 `json:"costUsd"`
	ElapsedMs int64   `json:"elapsedMs"`
}

// Tracker accumulates consumption against limits. Safe for use from the
// orchestrator's collection path; internally synchronized.
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	start  time.Time
	tokens int
	usd    float64
}

// NewTracker starts the wall clock and returns a tracker for limits.
func NewTracker(limits Limits) *Tracker {
	return &Tracker{limits: limits, start: time.Now()}
}

// Debit records the resources one completed agent consumed. Failed and
// timed-out agents debit their actual usage the same as successful ones.
func (t *Tracker) Debit(m agent.Metrics) {
	t.mu.Lock()
	t.tokens += m.Tokens
	t.usd += m.CostUSD
	t.mu.Unlock()
}

// CanAfford reports whether the remaining budget covers an estimated
// spend. It also fails when the wall clock has run out.
func (t *Tracker) CanAfford(estUSD float64, estTokens int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limits.MaxWall > 0 && time.Since(t.start) >= t.limits.MaxWall {
		return false
	}
	if t.limits.MaxUSD > 0 && t.usd+estUSD > t.limits.MaxUSD {
		return false
	}
	if t.limits.MonthlyUSD > 0 && t.limits.MonthSpent+t.usd+estUSD > t.limits.MonthlyUSD {
		return false
	}
	if t.limits.MaxTokens > 0 && t.tokens+estTokens > t.limits.MaxTokens {
		return false
	}
	return true
}

// Exhausted reports whether any ceiling has already been reached.
func (t *Tracker) Exhausted() bool {
	return !t.CanAfford(0, 0)
}

// Snapshot returns current consumption.
func (t *Tracker) Snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Usage{
		Tokens:    t.tokens,
		CostUSD:   t.usd,
		ElapsedMs: time.Since(t.start).Milliseconds(),
	}
}
