// Package budget implements the per-session token budget tracker:
// accumulates per-tool usage records and exposes the fraction of the
// budget consumed. Scoped to in-memory per-session accounting;
// persistence across sessions is out of scope.
package budget

import (
	"sync"

	"deepresearch/internal/logging"
)

// Record is one tool-usage event.
type Record struct {
	Tool             string
	PromptTokens     int
	CompletionTokens int
}

func (r Record) total() int { return r.PromptTokens + r.CompletionTokens }

// Listener is notified on every recorded usage event.
type Listener func(Record)

// Tracker accumulates usage records for one research session. Safe for
// concurrent use; appends are serialized, reads see a consistent snapshot.
type Tracker struct {
	mu        sync.Mutex
	total     int
	byTool    map[string]int
	budget    int
	scaler    float64
	listeners []Listener
}

// New creates a Tracker for the given total token budget. scaler multiplies
// every recorded token count before accumulation; passing 0 defaults it to
// 1.0 (no scaling).
func New(totalBudget int, scaler float64) *Tracker {
	if scaler == 0 {
		scaler = 1.0
	}
	return &Tracker{
		byTool: make(map[string]int),
		budget: totalBudget,
		scaler: scaler,
	}
}

// OnRecord registers a listener invoked synchronously after each Record
// call.
func (t *Tracker) OnRecord(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Record appends a usage record. total_tokens is the sum of the per-call
// reports after scaling (truncated to whole tokens), so with a scaler of at
// most 1.0 the invariant tracker.total_tokens <= sum of reports holds by
// construction; the total is monotonic, non-decreasing.
func (t *Tracker) Record(r Record) {
	scaled := Record{
		Tool:             r.Tool,
		PromptTokens:     scaleTokens(r.PromptTokens, t.scalerSnapshot()),
		CompletionTokens: scaleTokens(r.CompletionTokens, t.scalerSnapshot()),
	}

	t.mu.Lock()
	t.total += scaled.total()
	t.byTool[scaled.Tool] += scaled.total()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()

	logging.Debug(logging.CategoryBudget, "recorded %d tokens for tool=%s", scaled.total(), scaled.Tool)
	for _, l := range listeners {
		l(scaled)
	}
}

func (t *Tracker) scalerSnapshot() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scaler
}

func scaleTokens(n int, scaler float64) int {
	return int(float64(n) * scaler)
}

// Total returns the accumulated token usage across all tools.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// ByTool returns a snapshot copy of the per-tool breakdown.
func (t *Tracker) ByTool() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.byTool))
	for k, v := range t.byTool {
		out[k] = v
	}
	return out
}

// FractionUsed returns total_tokens / budget. Returns 1.0 if budget <= 0 to
// force immediate beast-mode style gating rather than dividing by zero.
func (t *Tracker) FractionUsed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.budget <= 0 {
		return 1.0
	}
	return float64(t.total) / float64(t.budget)
}

// Budget returns the configured total token budget.
func (t *Tracker) Budget() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget
}
