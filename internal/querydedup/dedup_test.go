package querydedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/domain"
	"deepresearch/internal/embedding"
)

func TestGate_AcceptsNovelQuery(t *testing.T) {
	g := New(embedding.NewHashEngine(32), 0.86)
	res := g.Filter(context.Background(), []domain.SerpQuery{{Q: "completely unrelated topic about gardening"}}, nil)
	assert.Len(t, res.Accepted, 1)
	assert.Empty(t, res.Degraded)
}

func TestGate_RejectsIdenticalQuery(t *testing.T) {
	g := New(embedding.NewHashEngine(32), 0.86)
	executed := []domain.SerpQuery{{Q: "best open source databases"}}
	res := g.Filter(context.Background(), []domain.SerpQuery{{Q: "best open source databases"}}, executed)
	assert.Empty(t, res.Accepted)
}

func TestGate_PreservesInputOrder(t *testing.T) {
	g := New(embedding.NewHashEngine(32), 0.86)
	candidates := []domain.SerpQuery{
		{Q: "alpha topic unique one"},
		{Q: "beta topic unique two"},
		{Q: "gamma topic unique three"},
	}
	res := g.Filter(context.Background(), candidates, nil)
	require.Len(t, res.Accepted, 3)
	assert.Equal(t, "alpha topic unique one", res.Accepted[0].Q)
	assert.Equal(t, "beta topic unique two", res.Accepted[1].Q)
	assert.Equal(t, "gamma topic unique three", res.Accepted[2].Q)
}

func TestGate_FallsBackToExactStringOnEmbeddingFailure(t *testing.T) {
	g := New(failingEngine{}, 0.86)
	candidates := []domain.SerpQuery{{Q: "same query"}}
	executed := []domain.SerpQuery{{Q: "same query"}}
	res := g.Filter(context.Background(), candidates, executed)
	assert.Empty(t, res.Accepted)
	require.Len(t, res.Degraded, 1)
}

func TestGate_ExactFallbackAcceptsDistinctStrings(t *testing.T) {
	g := New(failingEngine{}, 0.86)
	candidates := []domain.SerpQuery{{Q: "one"}, {Q: "two"}}
	res := g.Filter(context.Background(), candidates, nil)
	assert.Len(t, res.Accepted, 2)
	require.Len(t, res.Degraded, 1)
}

type failingEngine struct{}

func (failingEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("unavailable")
}
func (failingEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("unavailable")
}
func (failingEngine) Dimensions() int { return 0 }
func (failingEngine) Name() string    { return "failing" }
