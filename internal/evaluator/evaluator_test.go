package evaluator

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/domain"
	"deepresearch/internal/llm"
)

// fakeLLMClient always returns the same structured response, regardless
// of prompt.
type fakeLLMClient struct {
	response string
}

func (c *fakeLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *fakeLLMClient) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema *llm.JSONSchema) (string, error) {
	return c.response, nil
}

// sequencedLLMClient returns one scripted response per call, in order.
type sequencedLLMClient struct {
	responses []string
	calls     int
}

func (c *sequencedLLMClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", fmt.Errorf("not used")
}

func (c *sequencedLLMClient) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema *llm.JSONSchema) (string, error) {
	if c.calls >= len(c.responses) {
		return "", fmt.Errorf("no more scripted responses")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

func TestEvaluator_SinglePass(t *testing.T) {
	client := &fakeLLMClient{response: `{"pass":true,"confidence":0.9,"reasoning":"clear claim"}`}
	e := New(domain.EvalDefinitive, client)
	res, err := e.Run(context.Background(), "what is go", "go is a language", "knowledge")
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 0.9, res.Confidence)
}

func TestEvaluator_ClampsConfidence(t *testing.T) {
	client := &fakeLLMClient{response: `{"pass":true,"confidence":1.5,"reasoning":"x"}`}
	e := New(domain.EvalFreshness, client)
	res, err := e.Run(context.Background(), "q", "a", "k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)
}

func TestPipeline_StopsAtFirstFailure(t *testing.T) {
	client := &sequencedLLMClient{responses: []string{
		`{"pass":true,"confidence":0.8,"reasoning":"ok"}`,
		`{"pass":false,"confidence":0.3,"reasoning":"stale","suggestions":["search for newer sources"]}`,
		`{"pass":true,"confidence":0.9,"reasoning":"ok"}`,
	}}
	p := NewPipeline(client, []domain.EvaluationType{domain.EvalDefinitive, domain.EvalFreshness, domain.EvalStrict})

	outcome, err := p.Run(context.Background(), "q", "a", "k")
	require.NoError(t, err)
	assert.False(t, outcome.Passed)
	require.NotNil(t, outcome.Failed)
	assert.Equal(t, domain.EvalFreshness, outcome.Failed.EvalType)
	assert.Len(t, outcome.Results, 2)
}

func TestPipeline_AllPass(t *testing.T) {
	client := &sequencedLLMClient{responses: []string{
		`{"pass":true,"confidence":0.8,"reasoning":"ok"}`,
		`{"pass":true,"confidence":0.8,"reasoning":"ok"}`,
	}}
	p := NewPipeline(client, []domain.EvaluationType{domain.EvalDefinitive, domain.EvalStrict})

	outcome, err := p.Run(context.Background(), "q", "a", "k")
	require.NoError(t, err)
	assert.True(t, outcome.Passed)
	assert.Len(t, outcome.Results, 2)
}

func TestEvaluator_EmptyAnswerFailsDefinitiveWithZeroConfidence(t *testing.T) {
	client := &fakeLLMClient{response: `{"pass":true,"confidence":0.9,"reasoning":"unused"}`}
	e := New(domain.EvalDefinitive, client)
	res, err := e.Run(context.Background(), "what is go", "", "knowledge")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestEvaluator_PluralityDeterministicCount(t *testing.T) {
	client := &fakeLLMClient{response: `{"pass":true,"confidence":0.9,"reasoning":"unused"}`}
	e := New(domain.EvalPlurality, client)

	res, err := e.Run(context.Background(), "List 5 open-source BSD-licensed databases.",
		"1. PostgreSQL\n2. SQLite\n3. MySQL\n4. Redis", "knowledge")
	require.NoError(t, err)
	assert.False(t, res.Passed)
	require.Len(t, res.Suggestions, 1)

	res, err = e.Run(context.Background(), "List 5 open-source BSD-licensed databases.",
		"1. PostgreSQL\n2. SQLite\n3. MySQL\n4. Redis\n5. MariaDB", "knowledge")
	require.NoError(t, err)
	assert.True(t, res.Passed)
}

func TestEvaluator_DefinitiveHedgingFailsLowConfidence(t *testing.T) {
	client := &fakeLLMClient{response: `{"pass":true,"confidence":0.5,"reasoning":"hedged"}`}
	e := New(domain.EvalDefinitive, client)
	res, err := e.Run(context.Background(), "what is go", "It might be a programming language, not sure.", "knowledge")
	require.NoError(t, err)
	assert.False(t, res.Passed)
}

func TestPipeline_RunOnlyFiltersToRequiredTypes(t *testing.T) {
	client := &sequencedLLMClient{responses: []string{
		`{"pass":true,"confidence":0.8,"reasoning":"ok"}`,
	}}
	p := NewPipeline(client, []domain.EvaluationType{domain.EvalDefinitive, domain.EvalFreshness, domain.EvalStrict})

	outcome, err := p.RunOnly(context.Background(), "q", "a", "k", []domain.EvaluationType{domain.EvalDefinitive})
	require.NoError(t, err)
	assert.True(t, outcome.Passed)
	require.Len(t, outcome.Results, 1)
	assert.Equal(t, domain.EvalDefinitive, outcome.Results[0].EvalType)
}

func TestPipeline_RespectsCanonicalOrderRegardlessOfInputOrder(t *testing.T) {
	client := &sequencedLLMClient{responses: []string{
		`{"pass":true,"confidence":0.8,"reasoning":"ok"}`,
		`{"pass":true,"confidence":0.8,"reasoning":"ok"}`,
	}}
	p := NewPipeline(client, []domain.EvaluationType{domain.EvalStrict, domain.EvalDefinitive})
	assert.Equal(t, []domain.EvaluationType{domain.EvalDefinitive, domain.EvalStrict}, p.active)
}
