// Package embedding defines the embedding contract and one concrete
// engine, HashEngine: Embed/EmbedBatch/Dimensions/Name, plus an optional
// HealthChecker interface for providers that can be pinged.
package embedding

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math"
)

// Engine generates vector embeddings for text, preserving input order on
// batch calls.
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// HealthChecker is an optional interface engines may implement to let
// callers verify availability before a batch call.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HashEngine is a dependency-free, deterministic Engine used for tests and
// as a last-resort local fallback. It hashes text into a fixed-dimension
// vector — it carries no semantic meaning, but satisfies the contract's
// determinism and ordering requirements exactly, which is what the dedup
// gate's tests need.
type HashEngine struct {
	dims int
}

// NewHashEngine creates a HashEngine with the given output dimensionality.
func NewHashEngine(dims int) *HashEngine {
	if dims <= 0 {
		dims = 64
	}
	return &HashEngine{dims: dims}
}

func (e *HashEngine) Name() string    { return "hash" }
func (e *HashEngine) Dimensions() int { return e.dims }

// Embed deterministically derives a unit vector from text's SHA-256 hash.
func (e *HashEngine) Embed(_ context.Context, text string) ([]float32, error) {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, e.dims)
	for i := 0; i < e.dims; i++ {
		b := sum[i%len(sum)]
		// Spread the byte across a signed range so different texts produce
		// genuinely different directions, not just different magnitudes.
		vec[i] = float32(int(b)-128) / 128.0
	}
	normalize(vec)
	return vec, nil
}

// EmbedBatch embeds each text in order.
func (e *HashEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embedding: batch item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func normalize(v []float32) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
