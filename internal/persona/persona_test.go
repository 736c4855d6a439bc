package persona

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/domain"
)

func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

func TestRegistry_RejectsShortFocus(t *testing.T) {
	r := NewRegistry()
	err := r.Register(fakePersona{name: "x", focus: "too short", weight: 1.0})
	assert.Error(t, err)
}

func TestRegistry_RejectsWeightOutOfRange(t *testing.T) {
	r := NewRegistry()
	err := r.Register(fakePersona{name: "x", focus: "a sufficiently long focus string", weight: 2.5})
	assert.Error(t, err)
}

func TestRegistry_RejectsDuplicateName(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fakePersona{name: "x", focus: "a sufficiently long focus string", weight: 1.0}))
	err := r.Register(fakePersona{name: "x", focus: "another sufficiently long focus", weight: 1.0})
	assert.Error(t, err)
}

func TestRegistry_UnregisterRemoves(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(fakePersona{name: "x", focus: "a sufficiently long focus string", weight: 1.0}))
	r.Unregister("x")
	assert.Empty(t, r.Active())
}

func TestOrchestrator_ExpandParallel_AllBuiltins(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r))
	o := NewOrchestrator(r)

	rc := RunContext{
		OriginalQuestion: "climate change",
		Clock:            fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Translator:       IdentityTranslator,
	}
	results, metrics := o.ExpandParallel(context.Background(), "climate change", rc)

	assert.Len(t, results, 7)
	assert.Len(t, metrics, 7)
	for _, m := range metrics {
		assert.NoError(t, m.Err)
	}
}

func TestOrchestrator_TemporalContext_Deterministic(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewTemporalContext()))
	o := NewOrchestrator(r)

	rc := RunContext{Clock: fixedClock(time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC))}
	r1, _ := o.ExpandParallel(context.Background(), "rust compiler", rc)
	r2, _ := o.ExpandParallel(context.Background(), "rust compiler", rc)

	require.Len(t, r1, 1)
	require.Len(t, r2, 1)
	assert.Equal(t, r1[0].Query, r2[0].Query)
	assert.Contains(t, r1[0].Query.Q, "2030")
	assert.Equal(t, "qdr:m", r1[0].Query.TBS)
}

func TestDedup_KeepsHighestWeightOnCollision(t *testing.T) {
	personas := []Persona{
		fakePersona{name: "low", focus: "a sufficiently long focus string", weight: 0.5},
		fakePersona{name: "high", focus: "a sufficiently long focus string", weight: 1.8},
	}
	in := []domain.WeightedQuery{
		{Query: domain.SerpQuery{Q: "same query"}, Weight: 0.5, SourcePersona: "low"},
		{Query: domain.SerpQuery{Q: "Same Query"}, Weight: 1.8, SourcePersona: "high"},
	}
	out := dedupSameNormalizedQuery(in, personas)
	require.Len(t, out, 1)
	assert.Equal(t, "high", out[0].SourcePersona)
}

type fakePersona struct {
	name   string
	focus  string
	weight float64
}

func (f fakePersona) Name() string    { return f.name }
func (f fakePersona) Focus() string   { return f.focus }
func (f fakePersona) Weight() float64 { return f.weight }
func (f fakePersona) Expand(_ context.Context, q string, _ RunContext) (domain.SerpQuery, error) {
	return domain.SerpQuery{Q: q}, nil
}
