// Package permissions computes the set of actions allowed at a given step,
// following spec.md §4.8: each capability gates on its own precondition
// rather than a single global phase, so the LLM is never offered an
// action it cannot legally take.
package permissions

import "deepresearch/internal/domain"

// MaxCollectedURLs is the ceiling past which search closes (§4.8).
const MaxCollectedURLs = 50

// Policy configures which optional capabilities are available at all,
// independent of per-step state.
type Policy struct {
	AllowCoding       bool
	AllowDirectAnswer bool // session permits answering at step 0, bypassing the evaluator pipeline for a trivial answer
	MaxURLsPerStep    int
	MaxReflectPerStep int
}

// DefaultPolicy matches the agent's conservative defaults.
func DefaultPolicy() Policy {
	return Policy{AllowCoding: false, AllowDirectAnswer: false, MaxURLsPerStep: 5, MaxReflectPerStep: 5}
}

// Compute derives the ActionPermissions for one step, per §4.8:
//
//   - search allowed iff collectedURLs < MaxCollectedURLs.
//   - read allowed iff at least one collected URL is unvisited.
//   - reflect allowed iff gapQuestionsAddedThisStep <= policy.MaxReflectPerStep.
//   - answer allowed iff step > 1, or the session permits a direct answer.
//   - coding allowed iff the policy enables it.
//   - budgetFractionUsed >= 1.0 overrides everything above: only answer
//     remains open, forcing the agent to finalize with whatever knowledge
//     it has (beast mode proper is the caller's responsibility to enter).
func Compute(policy Policy, step int, collectedURLs int, hasUnvisitedURL bool, gapQuestionsAddedThisStep int, budgetFractionUsed float64) domain.ActionPermissions {
	if budgetFractionUsed >= 1.0 {
		return domain.ActionPermissions{Answer: true}
	}

	return domain.ActionPermissions{
		Search:  collectedURLs < MaxCollectedURLs,
		Read:    hasUnvisitedURL,
		Reflect: gapQuestionsAddedThisStep <= policy.MaxReflectPerStep,
		Answer:  step > 1 || policy.AllowDirectAnswer,
		Coding:  policy.AllowCoding,
	}
}

// Allows reports whether kind is permitted under perms.
func Allows(perms domain.ActionPermissions, kind domain.ActionKind) bool {
	switch kind {
	case domain.ActionSearch:
		return perms.Search
	case domain.ActionRead:
		return perms.Read
	case domain.ActionReflect:
		return perms.Reflect
	case domain.ActionAnswer:
		return perms.Answer
	case domain.ActionCoding:
		return perms.Coding
	default:
		return false
	}
}
