package agent

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepresearch/internal/adapters"
	"deepresearch/internal/budget"
	"deepresearch/internal/domain"
	"deepresearch/internal/embedding"
	"deepresearch/internal/events"
	"deepresearch/internal/evaluator"
	"deepresearch/internal/knowledge"
	"deepresearch/internal/llm"
	"deepresearch/internal/permissions"
	"deepresearch/internal/persona"
	"deepresearch/internal/querydedup"
	"deepresearch/internal/tracing"
)

// scriptedLLM returns one structured response per call, in order, and is
// used both for decide_action and evaluator calls against the same fake.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (c *scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *scriptedLLM) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema *llm.JSONSchema) (string, error) {
	if c.calls >= len(c.responses) {
		return "", fmt.Errorf("scriptedLLM: no more responses")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

type fakeSearcher struct{}

func (fakeSearcher) Search(ctx context.Context, q adapters.SearchQuery) (adapters.SearchResult, error) {
	return adapters.SearchResult{Snippets: []adapters.Snippet{
		{Title: "Result", URL: "https://example.com/a", Excerpt: "about " + q.Q},
	}}, nil
}

type fakeReader struct{}

func (fakeReader) Read(ctx context.Context, url string) (adapters.ReadResult, error) {
	return adapters.ReadResult{Text: "page content for " + url, BytesRead: 42}, nil
}

func newTestAgent(responses []string, maxSteps int) (*Agent, *scriptedLLM) {
	client := &scriptedLLM{responses: responses}

	registry := persona.NewRegistry()
	_ = persona.RegisterBuiltins(registry)

	a := New(
		Config{
			MaxSteps:          maxSteps,
			MaxURLsPerStep:    5,
			MaxReflectPerStep: 5,
			BeastModeFrac:     0.85,
			MaxBeastAttempts:  3,
			Policy:            permissions.DefaultPolicy(),
		},
		budget.New(1_000_000, 1.0),
		knowledge.New(),
		persona.NewOrchestrator(registry),
		querydedup.New(embedding.NewHashEngine(32), 0.86),
		evaluator.NewPipeline(client, []domain.EvaluationType{domain.EvalDefinitive}),
		fakeSearcher{},
		fakeReader{},
		client,
		events.New(),
		tracing.New(zap.NewNop()),
	)
	return a, client
}

func TestAgent_CompletesOnPassingAnswer(t *testing.T) {
	a, _ := newTestAgent([]string{
		`{"kind":"search","queries":["go language"]}`,
		`{"kind":"read"}`,
		`{"kind":"answer","answer":"Go is a statically typed language."}`,
		`{"pass":true,"confidence":0.9,"reasoning":"clear"}`,
	}, 5)

	state, err := a.Run(context.Background(), "what is go")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, state.Kind)
	assert.Equal(t, "Go is a statically typed language.", state.Answer)
}

func TestAgent_FirstStepCannotAnswerDirectly(t *testing.T) {
	// Step 0 permissions close answer (no direct-answer policy); an attempt should be
	// rejected as a contract violation and the loop should continue to
	// the next step rather than crash.
	a, _ := newTestAgent([]string{
		`{"kind":"answer","answer":"too early"}`,
		`{"kind":"search","queries":["go language"]}`,
		`{"kind":"read"}`,
		`{"kind":"answer","answer":"Go is a language."}`,
		`{"pass":true,"confidence":0.9,"reasoning":"clear"}`,
	}, 5)

	state, err := a.Run(context.Background(), "what is go")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, state.Kind)
}

func TestAgent_TrivialDirectAnswerSkipsEvaluation(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"kind":"answer","answer":"4"}`,
	}}

	registry := persona.NewRegistry()
	_ = persona.RegisterBuiltins(registry)

	policy := permissions.DefaultPolicy()
	policy.AllowDirectAnswer = true

	a := New(
		Config{
			MaxSteps:          5,
			MaxURLsPerStep:    5,
			MaxReflectPerStep: 5,
			BeastModeFrac:     0.85,
			MaxBeastAttempts:  3,
			Policy:            policy,
		},
		budget.New(1_000_000, 1.0),
		knowledge.New(),
		persona.NewOrchestrator(registry),
		querydedup.New(embedding.NewHashEngine(32), 0.86),
		evaluator.NewPipeline(client, domain.EvaluationOrder),
		fakeSearcher{},
		fakeReader{},
		client,
		events.New(),
		tracing.New(zap.NewNop()),
	)

	state, err := a.Run(context.Background(), "What is 2+2?")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, state.Kind)
	assert.True(t, state.Trivial)
	assert.Equal(t, "4", state.Answer)
	assert.Equal(t, 1, client.calls) // zero Search/Read invocations beyond the single decide_action call
}

func TestAgent_FailsAfterExhaustingSteps(t *testing.T) {
	a, _ := newTestAgent([]string{
		`{"kind":"search","queries":["x"]}`,
		`{"kind":"search","queries":["y"]}`,
	}, 2)

	state, err := a.Run(context.Background(), "unanswerable question")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, state.Kind)
}

func TestAgent_TwoConsecutiveViolationsForceBeastMode(t *testing.T) {
	// §8 scenario 6: seed the store at the 50-URL search ceiling so search
	// is disallowed from the first step; two consecutive attempts to
	// search anyway must force beast mode rather than retry indefinitely.
	client := &scriptedLLM{responses: []string{
		`{"kind":"search","queries":["x"]}`,
		`{"kind":"search","queries":["y"]}`,
		`{"kind":"answer","answer":"Go is a statically typed language."}`,
		`{"pass":true,"confidence":0.9,"reasoning":"clear"}`,
	}}

	registry := persona.NewRegistry()
	_ = persona.RegisterBuiltins(registry)

	store := knowledge.New()
	for i := 0; i < 50; i++ {
		_, err := store.AddURL(fmt.Sprintf("https://example.com/%d", i), 1.0, 1, 0, 0)
		require.NoError(t, err)
	}

	bus := events.New()
	sub, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	a := New(
		Config{
			MaxSteps:          6,
			MaxURLsPerStep:    5,
			MaxReflectPerStep: 5,
			BeastModeFrac:     0.85,
			MaxBeastAttempts:  3,
			Policy:            permissions.DefaultPolicy(),
		},
		budget.New(1_000_000, 1.0),
		store,
		persona.NewOrchestrator(registry),
		querydedup.New(embedding.NewHashEngine(32), 0.86),
		evaluator.NewPipeline(client, []domain.EvaluationType{domain.EvalDefinitive}),
		fakeSearcher{},
		fakeReader{},
		client,
		bus,
		tracing.New(zap.NewNop()),
	)

	state, err := a.Run(context.Background(), "what is go")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, state.Kind)
	assert.True(t, a.forcedBeastMode)

	var sawBeastMode bool
	for {
		select {
		case ev := <-sub:
			if ev.Kind == events.KindBeastModeEntered {
				sawBeastMode = true
			}
		default:
			assert.True(t, sawBeastMode, "expected a BeastMode-entered event after the second violation")
			return
		}
	}
}

func TestAgent_ReflectAddsGapQuestion(t *testing.T) {
	a, _ := newTestAgent([]string{
		`{"kind":"search","queries":["go language"]}`,
		`{"kind":"reflect","gap_questions":["who created go"]}`,
		`{"kind":"read"}`,
		`{"kind":"answer","answer":"Go was created at Google."}`,
		`{"pass":true,"confidence":0.9,"reasoning":"clear"}`,
	}, 6)

	state, err := a.Run(context.Background(), "what is go")
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, state.Kind)
	require.Len(t, a.pendingQuestions, 2)
	assert.Equal(t, domain.OriginGapReflection, a.pendingQuestions[1].Origin)
}
