package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/domain"
)

func TestCanonicalize_Idempotent(t *testing.T) {
	raw := "HTTPS://Example.COM:443/path?x=1#frag"
	c1, err := Canonicalize(raw)
	require.NoError(t, err)
	c2, err := Canonicalize(c1)
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Equal(t, "https://example.com/path?x=1", c1)
}

func TestCanonicalize_PreservesNonDefaultPort(t *testing.T) {
	c, err := Canonicalize("http://example.com:8080/x")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com:8080/x", c)
}

func TestStore_AddURL_UniqueByCanonicalForm(t *testing.T) {
	s := New()
	_, err := s.AddURL("https://example.com/a", 1.0, 1, 1.0, 0)
	require.NoError(t, err)
	res, err := s.AddURL("HTTPS://EXAMPLE.com/a", 1.0, 1, 1.0, 1)
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, 1, s.Count())
}

func TestStore_TopNUnvisited_TieBreakByDiscoveryOrder(t *testing.T) {
	s := New()
	s.AddURL("https://a.com", 1.0, 1, 1.0, 0)
	s.AddURL("https://b.com", 1.0, 1, 1.0, 1)

	top := s.TopNUnvisited(2)
	require.Len(t, top, 2)
	assert.Equal(t, "https://a.com", top[0].URL)
	assert.Equal(t, "https://b.com", top[1].URL)
}

func TestStore_MarkVisited_OneWay(t *testing.T) {
	s := New()
	s.AddURL("https://a.com", 1.0, 1, 1.0, 0)
	s.MarkVisited("https://a.com")
	assert.True(t, s.IsVisited("https://a.com"))

	top := s.TopNUnvisited(-1)
	assert.Empty(t, top)
}

func TestStore_HasUnvisited(t *testing.T) {
	s := New()
	assert.False(t, s.HasUnvisited())

	s.AddURL("https://a.com", 1.0, 1, 1.0, 0)
	assert.True(t, s.HasUnvisited())

	s.MarkVisited("https://a.com")
	assert.False(t, s.HasUnvisited())
}

func TestStore_CountAt49And50(t *testing.T) {
	s := New()
	for i := 0; i < 49; i++ {
		s.AddURL(urlFor(i), 1.0, 1, 1.0, 0)
	}
	assert.Equal(t, 49, s.Count())
	s.AddURL(urlFor(49), 1.0, 1, 1.0, 0)
	assert.Equal(t, 50, s.Count())
}

func urlFor(i int) string {
	return "https://example.com/" + string(rune('a'+i%26)) + string(rune('0'+i/26))
}

func TestStore_KnowledgeInsertionOrderPreserved(t *testing.T) {
	s := New()
	s.AppendKnowledge(domain.KnowledgeItem{Kind: domain.KnowledgeSideInfo, Answer: "first"})
	s.AppendKnowledge(domain.KnowledgeItem{Kind: domain.KnowledgeSideInfo, Answer: "second"})

	k := s.Knowledge()
	require.Len(t, k, 2)
	assert.Equal(t, "first", k[0].Answer)
	assert.Equal(t, "second", k[1].Answer)
}

func TestExtractReferences_ValidOnlyWhenVisited(t *testing.T) {
	s := New()
	s.AddURL("https://a.com", 1.0, 1, 1.0, 0)

	items := []domain.KnowledgeItem{
		{Kind: domain.KnowledgeSideInfo, SourceURL: "https://a.com", Answer: "The sky appears blue due to Rayleigh scattering of sunlight"},
	}
	refs := ExtractReferences("The sky appears blue due to Rayleigh scattering of light.", items, 0.3)
	require.NotEmpty(t, refs)

	// Not visited yet -> invalid.
	valid := ValidReferences(refs, s)
	assert.Empty(t, valid)

	s.MarkVisited("https://a.com")
	valid = ValidReferences(refs, s)
	assert.NotEmpty(t, valid)
}
