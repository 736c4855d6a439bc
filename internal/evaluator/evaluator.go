// Package evaluator implements the multi-dimensional answer evaluator
// pipeline: a fixed ordered sequence of LLM-backed checks (definitive,
// freshness, plurality, completeness, strict) that a candidate answer
// must pass before the agent accepts it, modeled after the heuristic
// quality-scoring pipeline pattern (score components, combine, rate).
package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"deepresearch/internal/domain"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
)

// hedgingMarkers flag non-committal phrasing for the Definitive evaluator.
var hedgingMarkers = []string{
	"might be", "may be", "could be", "possibly", "perhaps", "it depends",
	"not sure", "unclear", "i cannot determine", "i don't know", "hard to say",
	"it's difficult to say",
}

func hasHedging(answer string) bool {
	lower := strings.ToLower(answer)
	for _, m := range hedgingMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var listItemLine = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s+\S`)

// distinctItemCount counts numbered/bulleted lines in answer, falling back
// to a top-level comma split for single-line enumerations.
func distinctItemCount(answer string) int {
	count := 0
	for _, line := range strings.Split(answer, "\n") {
		if listItemLine.MatchString(line) {
			count++
		}
	}
	if count > 0 {
		return count
	}
	if parts := strings.Split(answer, ","); len(parts) > 1 {
		return len(parts)
	}
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	return 1
}

// evalDecision is the structured-output shape every evaluator's LLM call
// is constrained to.
type evalDecision struct {
	Pass        bool     `json:"pass"`
	Confidence  float64  `json:"confidence"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions"`
}

// decisionSchema is shared across every evaluation type: the decision
// shape (pass/confidence/reasoning/suggestions) doesn't vary, only the
// system prompt framing what "pass" means.
var decisionSchema = &llm.JSONSchema{
	Name:   "evaluation_decision",
	Strict: true,
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pass":        map[string]interface{}{"type": "boolean"},
			"confidence":  map[string]interface{}{"type": "number"},
			"reasoning":   map[string]interface{}{"type": "string"},
			"suggestions": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"pass", "confidence", "reasoning"},
	},
}

// prompts gives each evaluation type its system framing. Built once; the
// user prompt carries question/answer/knowledge at call time.
var prompts = map[domain.EvaluationType]string{
	domain.EvalDefinitive: "Judge whether the answer makes a clear, committed claim rather than hedging or refusing. Respond with structured JSON only.",
	domain.EvalFreshness: "Judge whether the answer reflects information recent enough for the question's implied time sensitivity. Respond with structured JSON only.",
	domain.EvalPlurality: "Judge whether the answer addresses every distinct entity or sub-question the question asks for, not just one. Respond with structured JSON only.",
	domain.EvalCompleteness: "Judge whether the answer is thorough given the available knowledge, without major unaddressed gaps. Respond with structured JSON only.",
	domain.EvalStrict: "Judge whether the answer is fully supported by the cited knowledge with no unsupported claims. Respond with structured JSON only.",
}

// Evaluator runs one evaluation type against a candidate answer.
type Evaluator struct {
	evalType domain.EvaluationType
	client   llm.Client
}

// New creates an Evaluator for the given type.
func New(evalType domain.EvaluationType, client llm.Client) *Evaluator {
	return &Evaluator{evalType: evalType, client: client}
}

// Run executes this evaluator's check. Definitive and Plurality apply a
// deterministic structural check first (empty-answer rejection, hedging
// scan, item-count extraction) before or alongside the LLM-backed
// judgment; Freshness, Completeness, and Strict are purely LLM-backed.
func (e *Evaluator) Run(ctx context.Context, question, answer, knowledgeContext string) (domain.EvaluationResult, error) {
	start := time.Now()

	if e.evalType == domain.EvalDefinitive && strings.TrimSpace(answer) == "" {
		return domain.EvaluationResult{
			EvalType: e.evalType, Passed: false, Confidence: 0,
			Reasoning: "answer is empty", Duration: time.Since(start),
		}, nil
	}

	if e.evalType == domain.EvalPlurality {
		if n, ok := ExtractItemCount(question); ok {
			got := distinctItemCount(answer)
			if got < n {
				return domain.EvaluationResult{
					EvalType: e.evalType, Passed: false, Confidence: 1.0,
					Reasoning:   fmt.Sprintf("question requests %d items, answer presents %d", n, got),
					Suggestions: []string{fmt.Sprintf("add %d more distinct item(s)", n-got)},
					Duration:    time.Since(start),
				}, nil
			}
			return domain.EvaluationResult{
				EvalType: e.evalType, Passed: true, Confidence: 1.0,
				Reasoning: fmt.Sprintf("question requests %d items, answer presents %d", n, got),
				Duration:  time.Since(start),
			}, nil
		}
	}

	userPrompt := fmt.Sprintf("Question: %s\n\nCandidate answer: %s\n\nAvailable knowledge:\n%s", question, answer, knowledgeContext)

	decision, err := llm.GenerateStructured[evalDecision](ctx, e.client, prompts[e.evalType], userPrompt, decisionSchema)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("evaluator: %s: %w", e.evalType, err)
	}

	confidence := clampConfidence(decision.Confidence)
	passed := decision.Pass
	if e.evalType == domain.EvalDefinitive && hasHedging(answer) && confidence < 0.7 {
		passed = false
	}

	return domain.EvaluationResult{
		EvalType:    e.evalType,
		Passed:      passed,
		Confidence:  confidence,
		Reasoning:   decision.Reasoning,
		Suggestions: decision.Suggestions,
		Duration:    time.Since(start),
	}, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Pipeline runs a fixed subset of evaluation types, in domain.EvaluationOrder,
// short-circuiting on the first failure.
type Pipeline struct {
	evaluators map[domain.EvaluationType]*Evaluator
	active     []domain.EvaluationType
}

// NewPipeline builds a Pipeline running exactly the requested types, in
// the canonical fixed order, against client.
func NewPipeline(client llm.Client, types []domain.EvaluationType) *Pipeline {
	evaluators := make(map[domain.EvaluationType]*Evaluator, len(types))
	for _, t := range types {
		evaluators[t] = New(t, client)
	}

	var active []domain.EvaluationType
	for _, t := range domain.EvaluationOrder {
		if _, ok := evaluators[t]; ok {
			active = append(active, t)
		}
	}

	return &Pipeline{evaluators: evaluators, active: active}
}

// Outcome is the pipeline's overall verdict: every result produced, in run
// order, and Failed pointing at the first failing result (nil if every
// evaluator passed).
type Outcome struct {
	Passed  bool
	Results []domain.EvaluationResult
	Failed  *domain.EvaluationResult
}

// Run executes each active evaluator in order, stopping at the first
// failure. A pipeline error (not a failed evaluation) aborts the run and
// is returned directly.
func (p *Pipeline) Run(ctx context.Context, question, answer, knowledgeContext string) (Outcome, error) {
	var results []domain.EvaluationResult
	for _, t := range p.active {
		res, err := p.evaluators[t].Run(ctx, question, answer, knowledgeContext)
		if err != nil {
			return Outcome{}, err
		}
		results = append(results, res)
		logging.Info(logging.CategoryEvaluator, "eval=%s passed=%v confidence=%.2f", t, res.Passed, res.Confidence)

		if !res.Passed {
			failed := res
			return Outcome{Passed: false, Results: results, Failed: &failed}, nil
		}
	}
	return Outcome{Passed: true, Results: results}, nil
}

// RunOnly runs the fixed-order subset of this pipeline's evaluators that
// also appear in required, fail-fast as Run does. This is how the agent
// applies DetermineRequiredEvaluations against a Pipeline built once with
// every evaluation type: required varies per question (Strict only for
// the Original question), the Pipeline's evaluator set does not.
func (p *Pipeline) RunOnly(ctx context.Context, question, answer, knowledgeContext string, required []domain.EvaluationType) (Outcome, error) {
	want := make(map[domain.EvaluationType]bool, len(required))
	for _, t := range required {
		want[t] = true
	}

	var results []domain.EvaluationResult
	for _, t := range p.active {
		if !want[t] {
			continue
		}
		res, err := p.evaluators[t].Run(ctx, question, answer, knowledgeContext)
		if err != nil {
			return Outcome{}, err
		}
		results = append(results, res)
		logging.Info(logging.CategoryEvaluator, "eval=%s passed=%v confidence=%.2f", t, res.Passed, res.Confidence)

		if !res.Passed {
			failed := res
			return Outcome{Passed: false, Results: results, Failed: &failed}, nil
		}
	}
	return Outcome{Passed: true, Results: results}, nil
}
