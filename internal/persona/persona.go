// Package persona implements the cognitive-persona query expansion
// pipeline: a registry of perspective-shifted query expanders run
// concurrently over a work-stealing pool using golang.org/x/sync/errgroup.
package persona

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"deepresearch/internal/domain"
	"deepresearch/internal/logging"
)

// Clock is an injectable time source so personas that consume the current
// date (e.g. TemporalContext) stay deterministic in tests.
type Clock func() time.Time

// Translator is a pluggable translation hook; tests use the identity
// function.
type Translator func(ctx context.Context, text, targetLocale string) (string, error)

// IdentityTranslator returns text unchanged, ignoring targetLocale.
func IdentityTranslator(_ context.Context, text, _ string) (string, error) {
	return text, nil
}

// Persona expands one original query into a perspective-shifted SerpQuery.
type Persona interface {
	Name() string
	Focus() string
	Weight() float64
	Expand(ctx context.Context, originalQuery string, rc RunContext) (domain.SerpQuery, error)
}

// RunContext is the slice of agent context a persona needs, passed as an
// immutable snapshot; concurrent personas never see the live agent state.
type RunContext struct {
	OriginalQuestion string
	Clock            Clock
	Translator       Translator
}

// ExecutionMetrics records one persona's expansion timing and I/O.
type ExecutionMetrics struct {
	PersonaName string
	Start       time.Time
	End         time.Time
	Input       string
	OutputQuery domain.SerpQuery
	Err         error
}

// Registry holds the active set of personas and validates registration.
type Registry struct {
	mu    sync.RWMutex
	byName map[string]Persona
	order  []string // registration order, for weight-tie breaks
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Persona)}
}

// Register adds a persona. Enforces name uniqueness, non-empty focus
// (>=10 chars), and weight in [0.0, 2.0].
func (r *Registry) Register(p Persona) error {
	if len(p.Focus()) < 10 {
		return fmt.Errorf("persona: focus must be >= 10 chars, got %q", p.Focus())
	}
	if p.Weight() < 0.0 || p.Weight() > 2.0 {
		return fmt.Errorf("persona: weight %.2f out of range [0.0, 2.0]", p.Weight())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("persona: name %q already registered", p.Name())
	}
	r.byName[p.Name()] = p
	r.order = append(r.order, p.Name())
	return nil
}

// Unregister removes a persona by name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Active returns the registered personas in registration order.
func (r *Registry) Active() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Orchestrator runs personas against queries.
type Orchestrator struct {
	registry *Registry
}

// NewOrchestrator creates an Orchestrator over registry.
func NewOrchestrator(registry *Registry) *Orchestrator {
	return &Orchestrator{registry: registry}
}

// ExpandParallel runs every active persona concurrently against q,
// returning one WeightedQuery per successful expansion plus the metrics
// for every attempt (including failures, which are logged and dropped
// from the result).
func (o *Orchestrator) ExpandParallel(ctx context.Context, q string, rc RunContext) ([]domain.WeightedQuery, []ExecutionMetrics) {
	personas := o.registry.Active()
	results := make([]*domain.WeightedQuery, len(personas))
	metrics := make([]ExecutionMetrics, len(personas))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range personas {
		i, p := i, p
		g.Go(func() error {
			start := time.Now()
			serp, err := p.Expand(gctx, q, rc)
			metrics[i] = ExecutionMetrics{
				PersonaName: p.Name(),
				Start:       start,
				End:         time.Now(),
				Input:       q,
				OutputQuery: serp,
				Err:         err,
			}
			if err != nil {
				logging.Warn(logging.CategoryPersona, "persona %s failed: %v", p.Name(), err)
				return nil // a single persona failure does not abort the batch
			}
			results[i] = &domain.WeightedQuery{Query: serp, Weight: clampWeight(p.Weight()), SourcePersona: p.Name()}
			return nil
		})
	}
	_ = g.Wait() // errors are per-persona and already absorbed above

	var out []domain.WeightedQuery
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return dedupSameNormalizedQuery(out, personas), metrics
}

// ExpandBatch parallelizes ExpandParallel across every input query.
func (o *Orchestrator) ExpandBatch(ctx context.Context, qs []string, rc RunContext) ([]domain.WeightedQuery, []ExecutionMetrics) {
	var mu sync.Mutex
	var allResults []domain.WeightedQuery
	var allMetrics []ExecutionMetrics

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range qs {
		q := q
		g.Go(func() error {
			results, metrics := o.ExpandParallel(gctx, q, rc)
			mu.Lock()
			allResults = append(allResults, results...)
			allMetrics = append(allMetrics, metrics...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return allResults, allMetrics
}

func clampWeight(w float64) float64 {
	if w == 0 {
		return 1.0
	}
	if w < 0.0 {
		return 0.0
	}
	if w > 2.0 {
		return 2.0
	}
	return w
}

// dedupSameNormalizedQuery keeps, for each normalized query string, the
// instance with the highest weight, breaking ties by persona registration
// order.
func dedupSameNormalizedQuery(in []domain.WeightedQuery, personas []Persona) []domain.WeightedQuery {
	order := make(map[string]int, len(personas))
	for i, p := range personas {
		order[p.Name()] = i
	}

	byNorm := make(map[string]domain.WeightedQuery)
	var normOrder []string
	for _, wq := range in {
		norm := normalize(wq.Query.Q)
		existing, ok := byNorm[norm]
		if !ok {
			byNorm[norm] = wq
			normOrder = append(normOrder, norm)
			continue
		}
		if wq.Weight > existing.Weight {
			byNorm[norm] = wq
		} else if wq.Weight == existing.Weight && order[wq.SourcePersona] < order[existing.SourcePersona] {
			byNorm[norm] = wq
		}
	}

	out := make([]domain.WeightedQuery, 0, len(normOrder))
	for _, n := range normOrder {
		out = append(out, byNorm[n])
	}
	return out
}

func normalize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 'A' && r <= 'Z' {
			r = r + ('a' - 'A')
		}
		if r != ' ' {
			out = append(out, r)
		}
	}
	return string(out)
}
