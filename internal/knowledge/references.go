package knowledge

import (
	"strings"

	"deepresearch/internal/domain"
)

// ExtractReferences produces Reference records for an answer by matching
// sentence-level trigram overlap against KnowledgeItems that carry a
// source URL (SideInfo and QA variants). Trigram Jaccard overlap is used
// instead of an embedding match: it needs no extra embedding round-trip
// during answer finalization and is deterministic for tests.
func ExtractReferences(answer string, items []domain.KnowledgeItem, minOverlap float64) []domain.Reference {
	answerSentences := splitSentences(answer)

	var refs []domain.Reference
	seen := make(map[string]bool)

	for _, item := range items {
		sourceURL := item.SourceURL
		excerpt := item.Answer
		if item.Kind == domain.KnowledgeQA {
			excerpt = item.Answer
		}
		if sourceURL == "" || excerpt == "" {
			continue
		}

		for _, sentence := range answerSentences {
			if overlapScore(sentence, excerpt) >= minOverlap {
				key := sourceURL + "|" + sentence
				if seen[key] {
					continue
				}
				seen[key] = true
				refs = append(refs, domain.Reference{
					Excerpt:   sentence,
					SourceURL: sourceURL,
				})
			}
		}
	}

	return refs
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// overlapScore returns the trigram Jaccard overlap between sentence and
// source, falling back to substring containment for very short sentences
// where trigram sets are too sparse to be meaningful.
func overlapScore(sentence, source string) float64 {
	sentence = strings.ToLower(sentence)
	source = strings.ToLower(source)

	if len(strings.Fields(sentence)) < 3 {
		if strings.Contains(source, sentence) {
			return 1.0
		}
		return 0.0
	}

	a := trigrams(sentence)
	b := trigrams(source)
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	intersection := 0
	for k := range a {
		if b[k] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func trigrams(s string) map[string]bool {
	words := strings.Fields(s)
	out := make(map[string]bool)
	for i := 0; i+2 < len(words)+1 && i < len(words); i++ {
		end := i + 3
		if end > len(words) {
			break
		}
		out[strings.Join(words[i:end], " ")] = true
	}
	if len(words) < 3 && len(words) > 0 {
		out[strings.Join(words, " ")] = true
	}
	return out
}

// ValidReferences filters refs to those whose SourceURL exists in store
// as a visited URL record; a reference to an unvisited or unknown URL is
// not valid.
func ValidReferences(refs []domain.Reference, store *Store) []domain.Reference {
	var out []domain.Reference
	for _, r := range refs {
		if store.IsVisited(r.SourceURL) {
			out = append(out, r)
		}
	}
	return out
}
