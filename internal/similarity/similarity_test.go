package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosine_Identical(t *testing.T) {
	a := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, Cosine(a, a), 1e-5)
}

func TestCosine_Orthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, Cosine(a, b), 1e-5)
}

func TestCosine_ZeroNorm(t *testing.T) {
	a := []float32{0, 0, 0}
	b := []float32{1, 2, 3}
	assert.Equal(t, float32(0), Cosine(a, b))
}

func TestCosine_MismatchedLength(t *testing.T) {
	a := []float32{1, 2}
	b := []float32{1, 2, 3}
	assert.Equal(t, float32(0), Cosine(a, b))
}

func TestCosine_ConsistentWithNaiveReference(t *testing.T) {
	a := []float32{0.12, 0.98, -0.3, 0.44, 1.1}
	b := []float32{0.2, 0.7, -0.1, 0.5, 0.9}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	want := dot / (sqrt(na) * sqrt(nb))

	require.InDelta(t, want, float64(Cosine(a, b)), 1e-5)
}

func sqrt(x float64) float64 {
	// local naive sqrt via Newton's method to avoid importing math twice
	// in the reference computation path of this test.
	if x == 0 {
		return 0
	}
	z := x
	for i := 0; i < 50; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

func TestDedupAgainst_ThresholdIsInclusive(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{1, 0}
	assert.True(t, DedupAgainst(a, [][]float32{b}, 1.0))
}

func TestDedupAgainst_NoMatch(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.False(t, DedupAgainst(a, [][]float32{b}, 0.86))
}

func TestDedupAgainst_Idempotent(t *testing.T) {
	accepted := [][]float32{{1, 0}, {0.9, 0.1}}
	// Running dedup against the already-accepted set with the same vectors
	// must keep returning true.
	for _, v := range accepted {
		assert.True(t, DedupAgainst(v, accepted, 0.86))
	}
}
