package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"deepresearch/internal/domain"
)

func TestExtractItemCount(t *testing.T) {
	n, ok := ExtractItemCount("List 5 open-source BSD-licensed databases.")
	assert.True(t, ok)
	assert.Equal(t, 5, n)

	n, ok = ExtractItemCount("Give me 3 examples of functional languages.")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = ExtractItemCount("What is the capital of France?")
	assert.False(t, ok)
}

func TestDecomposeAspects(t *testing.T) {
	aspects := DecomposeAspects("Compare Go and Rust for systems programming")
	assert.Len(t, aspects, 2)

	aspects = DecomposeAspects("What is Go?")
	assert.Equal(t, []string{"What is Go?"}, aspects)
}

func TestTopicForFreshness(t *testing.T) {
	assert.Equal(t, "finance", TopicForFreshness("What is the current stock price of Acme Corp?"))
	assert.Equal(t, "technology", TopicForFreshness("What is the latest version of the framework?"))
	assert.Equal(t, "history", TopicForFreshness("Who won the war of 1812?"))
	assert.Equal(t, "default", TopicForFreshness("What color is the sky?"))
}

func TestDetermineRequiredEvaluations_AlwaysIncludesDefinitive(t *testing.T) {
	required := DetermineRequiredEvaluations("What is the capital of France?", false)
	assert.Contains(t, required, domain.EvalDefinitive)
	assert.NotContains(t, required, domain.EvalStrict)
}

func TestDetermineRequiredEvaluations_StrictOnlyForOriginal(t *testing.T) {
	required := DetermineRequiredEvaluations("What is the capital of France?", true)
	assert.Contains(t, required, domain.EvalStrict)

	required = DetermineRequiredEvaluations("What is the capital of France?", false)
	assert.NotContains(t, required, domain.EvalStrict)
}

func TestDetermineRequiredEvaluations_DetectsFreshnessAndPluralityAndCompleteness(t *testing.T) {
	required := DetermineRequiredEvaluations("List 5 databases and explain their current license, also their release date", true)
	assert.Contains(t, required, domain.EvalFreshness)
	assert.Contains(t, required, domain.EvalPlurality)
	assert.Contains(t, required, domain.EvalCompleteness)
}

func TestDetermineRequiredEvaluations_CanonicalOrder(t *testing.T) {
	required := DetermineRequiredEvaluations("List 5 things happening today, and also explain why", true)
	assert.Equal(t, []domain.EvaluationType{
		domain.EvalDefinitive, domain.EvalFreshness, domain.EvalPlurality, domain.EvalCompleteness, domain.EvalStrict,
	}, required)
}
