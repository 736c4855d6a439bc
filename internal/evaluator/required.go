package evaluator

import (
	"regexp"
	"strings"

	"deepresearch/internal/domain"
)

// freshnessCue matches question phrasings that imply the answer must
// reflect current information.
var freshnessCue = regexp.MustCompile(`(?i)\b(current|currently|latest|now|today|this (year|month|week)|\d{4})\b`)

// listCountPattern extracts the N in "list N ...", "top N ...", or
// "N examples of ...".
var listCountPattern = regexp.MustCompile(`(?i)\b(?:list|top|name|give me)\s+(\d+)\b|\b(\d+)\s+(?:examples?|items?|options?|ways?)\b`)

// conjunctionAspects matches phrasings that multiply a question into
// several independent aspects to address.
var conjunctionAspects = regexp.MustCompile(`(?i)\band\b|\bas well as\b|\balso\b|,`)

// ExtractItemCount reports the number of distinct items a question
// requests (e.g. "List 5 databases" -> 5, true) and whether it requests a
// count at all.
func ExtractItemCount(question string) (int, bool) {
	m := listCountPattern.FindStringSubmatch(question)
	if m == nil {
		return 0, false
	}
	digits := m[1]
	if digits == "" {
		digits = m[2]
	}
	n := 0
	for _, r := range digits {
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return n, true
}

// DecomposeAspects splits a question into its conjunctive sub-aspects for
// Completeness coverage checks. A question with no conjunction markers
// decomposes to itself as the sole aspect.
func DecomposeAspects(question string) []string {
	parts := conjunctionAspects.Split(question, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{question}
	}
	return out
}

// TopicForFreshness classifies a question into the topic buckets
// config.EvaluatorConfig.FreshnessThresholdsDays keys on: finance, news,
// technology, science, history, or "default".
func TopicForFreshness(question string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, "stock", "price", "market cap", "interest rate", "currency", "exchange rate"):
		return "finance"
	case containsAny(q, "breaking", "today", "this week", "headline"):
		return "news"
	case containsAny(q, "software", "framework", "library", "api", "programming", "release", "version"):
		return "technology"
	case containsAny(q, "research", "study", "experiment", "physics", "biology", "chemistry"):
		return "science"
	case containsAny(q, "history", "historical", "ancient", "century", "war of", "dynasty"):
		return "history"
	default:
		return "default"
	}
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// DetermineRequiredEvaluations computes the required_types[] for one
// question by deterministic keyword-and-structure rule, per the pipeline's
// fixed evaluation order. isOriginal gates Strict, which applies only to
// the Original question and never to gap-reflection questions.
//
// A rule-miss (no signal for Freshness/Plurality/Completeness) simply
// omits that type; an LLM fallback for ambiguous cases is intentionally
// not wired here, since the rule set above already covers the structural
// cues the spec enumerates and an optional fallback would add a
// non-deterministic, cacheable side path this pipeline doesn't need yet.
func DetermineRequiredEvaluations(question string, isOriginal bool) []domain.EvaluationType {
	required := map[domain.EvaluationType]bool{domain.EvalDefinitive: true}

	if freshnessCue.MatchString(question) {
		required[domain.EvalFreshness] = true
	}
	if _, ok := ExtractItemCount(question); ok {
		required[domain.EvalPlurality] = true
	}
	if len(DecomposeAspects(question)) > 1 {
		required[domain.EvalCompleteness] = true
	}
	if isOriginal {
		required[domain.EvalStrict] = true
	}

	var out []domain.EvaluationType
	for _, t := range domain.EvaluationOrder {
		if required[t] {
			out = append(out, t)
		}
	}
	return out
}
