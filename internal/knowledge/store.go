// Package knowledge implements the knowledge/URL store: a dedup set
// of URLRecords with deterministic scoring, plus the insertion-ordered
// knowledge list that forms the LLM prompt's temporal context.
package knowledge

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"deepresearch/internal/domain"
	"deepresearch/internal/logging"
)

// authoritativeHostnames get a hostname-boost multiplier > 1 when scoring
// discovered URLs.
var authoritativeHostnames = map[string]float64{
	"wikipedia.org": 1.5,
	"github.com":    1.3,
	"arxiv.org":     1.4,
	"docs.python.org": 1.3,
	"developer.mozilla.org": 1.3,
}

// authoritativePathMarkers get a path-boost multiplier > 1 when present in
// the URL path (e.g. documentation sections).
var authoritativePathMarkers = []string{"/docs/", "/documentation/", "/reference/", "/wiki/"}

// Canonicalize lowercases scheme and host, removes default ports, strips
// fragments, and preserves the query string. It is idempotent:
// canonicalize(canonicalize(u)) == canonicalize(u).
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("knowledge: parse url %q: %w", raw, err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if host, port, ok := strings.Cut(u.Host, ":"); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	return u.String(), nil
}

// Hostname extracts the hostname from a canonical URL.
func Hostname(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// Score computes the deterministic product score for a discovered URL:
// persona weight x frequency x hostname-boost x path-boost x optional
// rerank.
func Score(personaWeight float64, frequency int, hostname, path string, rerank float64) float64 {
	if frequency < 1 {
		frequency = 1
	}
	if rerank <= 0 {
		rerank = 1
	}

	hostBoost := 1.0
	if b, ok := authoritativeHostnames[hostname]; ok {
		hostBoost = b
	}

	pathBoost := 1.0
	for _, marker := range authoritativePathMarkers {
		if strings.Contains(path, marker) {
			pathBoost = 1.2
			break
		}
	}

	return personaWeight * float64(frequency) * hostBoost * pathBoost * rerank
}

// AddResult is what Store.Add returns: whether a new record was created
// (false means an existing record's score/frequency was refreshed).
type AddResult struct {
	Created bool
	Record  domain.URLRecord
}

// Store is the exclusive owner of the URL set and the knowledge list for
// one research session. Each method serializes its own writes; no lock is
// held across a suspension point.
type Store struct {
	mu sync.RWMutex

	urls     map[string]domain.URLRecord
	urlOrder []string // discovery order, for read tie-breaks

	knowledge []domain.KnowledgeItem
}

// New creates an empty Store.
func New() *Store {
	return &Store{urls: make(map[string]domain.URLRecord)}
}

// AddURL inserts or refreshes a URL record. step is the current agent
// step, used as DiscoveredAt for new records.
func (s *Store) AddURL(rawURL string, personaWeight float64, frequency int, rerank float64, step int) (AddResult, error) {
	canon, err := Canonicalize(rawURL)
	if err != nil {
		return AddResult{}, err
	}
	host := Hostname(canon)
	score := Score(personaWeight, frequency, host, canon, rerank)

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.urls[canon]; ok {
		existing.Score += score
		s.urls[canon] = existing
		return AddResult{Created: false, Record: existing}, nil
	}

	rec := domain.URLRecord{
		URL:          canon,
		Hostname:     host,
		Score:        score,
		Visited:      false,
		DiscoveredAt: step,
	}
	s.urls[canon] = rec
	s.urlOrder = append(s.urlOrder, canon)
	logging.Debug(logging.CategoryKnowledge, "added url %s score=%.3f", canon, score)
	return AddResult{Created: true, Record: rec}, nil
}

// Count returns the number of distinct URLs in the store.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.urls)
}

// HasUnvisited reports whether at least one URLRecord is still unvisited.
// Used by the action-permissions gate (§4.8): read is only offered when
// there is something left to read.
func (s *Store) HasUnvisited() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.urls {
		if !u.Visited {
			return true
		}
	}
	return false
}

// TopNUnvisited returns up to n unvisited URLRecords ordered by descending
// score, breaking ties by earlier discovery order.
func (s *Store) TopNUnvisited(n int) []domain.URLRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []domain.URLRecord
	for _, u := range s.urlOrder {
		rec := s.urls[u]
		if !rec.Visited {
			candidates = append(candidates, rec)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].DiscoveredAt < candidates[j].DiscoveredAt
	})

	if n >= 0 && n < len(candidates) {
		candidates = candidates[:n]
	}
	return candidates
}

// MarkVisited flips a URL's Visited flag to true. One-way: calling it
// again on an already-visited URL is a no-op.
func (s *Store) MarkVisited(canonicalURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.urls[canonicalURL]; ok {
		rec.Visited = true
		s.urls[canonicalURL] = rec
	}
}

// Filter returns every URLRecord matching pred.
func (s *Store) Filter(pred func(domain.URLRecord) bool) []domain.URLRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.URLRecord
	for _, u := range s.urlOrder {
		rec := s.urls[u]
		if pred(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// IsVisited reports whether the given canonical URL has been visited.
func (s *Store) IsVisited(canonicalURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.urls[canonicalURL].Visited
}

// AppendKnowledge appends a KnowledgeItem, preserving insertion order.
func (s *Store) AppendKnowledge(item domain.KnowledgeItem) {
	if item.InsertedAt.IsZero() {
		item.InsertedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge = append(s.knowledge, item)
}

// Knowledge returns a snapshot copy of the knowledge list in insertion
// order.
func (s *Store) Knowledge() []domain.KnowledgeItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.KnowledgeItem, len(s.knowledge))
	copy(out, s.knowledge)
	return out
}

// FormatForPrompt produces a stable textual rendering of the knowledge
// list for the LLM prompt.
func (s *Store) FormatForPrompt() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	for i, k := range s.knowledge {
		fmt.Fprintf(&b, "[%d] ", i+1)
		switch k.Kind {
		case domain.KnowledgeQA:
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", k.Question, k.Answer)
		case domain.KnowledgeSideInfo:
			fmt.Fprintf(&b, "Info (from %s): %s\n", k.SourceURL, k.Answer)
		case domain.KnowledgeError:
			fmt.Fprintf(&b, "Rejected answer to %q (failed %s): %s\n", k.Question, k.EvalTypeFailed, k.Reason)
		}
	}
	return b.String()
}
