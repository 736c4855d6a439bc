// Package querydedup implements the query dedup gate: rejects
// near-duplicate candidate SerpQueries against already-executed queries
// using embeddings and the similarity kernel, falling back to exact-string
// dedup on embedding-provider failure.
package querydedup

import (
	"context"
	"fmt"

	"deepresearch/internal/domain"
	"deepresearch/internal/embedding"
	"deepresearch/internal/logging"
	"deepresearch/internal/similarity"
)

// DegradedModeEvent is emitted (via the returned slice) whenever the
// embedding provider fails and the gate falls back to exact-string dedup.
type DegradedModeEvent struct {
	Reason string
}

// Result is the gate's output: accepted queries in input order, plus any
// degraded-mode events encountered along the way.
type Result struct {
	Accepted []domain.SerpQuery
	Degraded []DegradedModeEvent
}

// Gate runs the dedup procedure.
type Gate struct {
	engine    embedding.Engine
	threshold float32
}

// New creates a Gate backed by engine, using threshold as the cosine
// similarity cutoff (default similarity.DefaultDedupThreshold).
func New(engine embedding.Engine, threshold float32) *Gate {
	if threshold == 0 {
		threshold = similarity.DefaultDedupThreshold
	}
	return &Gate{engine: engine, threshold: threshold}
}

// Filter accepts candidates in order, rejecting any whose cosine
// similarity to the executed set or to already-accepted candidates in
// this batch meets or exceeds the threshold.
func (g *Gate) Filter(ctx context.Context, candidates []domain.SerpQuery, executed []domain.SerpQuery) Result {
	texts := make([]string, 0, len(candidates)+len(executed))
	for _, c := range candidates {
		texts = append(texts, c.Q)
	}
	for _, e := range executed {
		texts = append(texts, e.Q)
	}

	embeds, err := g.engine.EmbedBatch(ctx, texts)
	if err != nil {
		logging.Warn(logging.CategoryQueryDedup, "embedding provider failed, falling back to exact-string dedup: %v", err)
		return g.exactStringFallback(candidates, executed, err)
	}

	candidateEmbeds := embeds[:len(candidates)]
	executedEmbeds := embeds[len(candidates):]

	var accepted []domain.SerpQuery
	acceptedEmbeds := make([][]float32, 0, len(candidates))
	acceptedEmbeds = append(acceptedEmbeds, executedEmbeds...)

	for i, c := range candidates {
		if similarity.DedupAgainst(candidateEmbeds[i], acceptedEmbeds, g.threshold) {
			logging.Debug(logging.CategoryQueryDedup, "rejected near-duplicate query %q", c.Q)
			continue
		}
		accepted = append(accepted, c)
		acceptedEmbeds = append(acceptedEmbeds, candidateEmbeds[i])
	}

	return Result{Accepted: accepted}
}

func (g *Gate) exactStringFallback(candidates, executed []domain.SerpQuery, cause error) Result {
	seen := make(map[string]bool, len(executed))
	for _, e := range executed {
		seen[e.Q] = true
	}

	var accepted []domain.SerpQuery
	for _, c := range candidates {
		if seen[c.Q] {
			continue
		}
		seen[c.Q] = true
		accepted = append(accepted, c)
	}

	return Result{
		Accepted: accepted,
		Degraded: []DegradedModeEvent{{Reason: fmt.Sprintf("embedding provider failure: %v", cause)}},
	}
}
