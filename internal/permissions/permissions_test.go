package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"deepresearch/internal/domain"
)

func TestCompute_FirstStepClosesAnswerUnlessDirect(t *testing.T) {
	perms := Compute(DefaultPolicy(), 0, 0, true, 0, 0.0)
	assert.True(t, perms.Search)
	assert.True(t, perms.Read)
	assert.False(t, perms.Answer)

	policy := DefaultPolicy()
	policy.AllowDirectAnswer = true
	perms = Compute(policy, 0, 0, true, 0, 0.0)
	assert.True(t, perms.Answer)
}

func TestCompute_AnswerRequiresStepPastOne(t *testing.T) {
	perms := Compute(DefaultPolicy(), 1, 0, true, 0, 0.3)
	assert.False(t, perms.Answer)

	perms = Compute(DefaultPolicy(), 2, 0, true, 0, 0.3)
	assert.True(t, perms.Answer)
}

func TestCompute_SearchClosesAtFiftyCollectedURLs(t *testing.T) {
	perms := Compute(DefaultPolicy(), 2, 49, true, 0, 0.3)
	assert.True(t, perms.Search)

	perms = Compute(DefaultPolicy(), 2, 50, true, 0, 0.3)
	assert.False(t, perms.Search)
}

func TestCompute_ReadRequiresUnvisitedURL(t *testing.T) {
	perms := Compute(DefaultPolicy(), 2, 10, false, 0, 0.3)
	assert.False(t, perms.Read)

	perms = Compute(DefaultPolicy(), 2, 10, true, 0, 0.3)
	assert.True(t, perms.Read)
}

func TestCompute_ReflectCapsOnGapQuestionsThisStep(t *testing.T) {
	perms := Compute(DefaultPolicy(), 2, 10, true, 5, 0.3)
	assert.True(t, perms.Reflect)

	perms = Compute(DefaultPolicy(), 2, 10, true, 6, 0.3)
	assert.False(t, perms.Reflect)
}

func TestCompute_BudgetExhaustedForcesAnswerOnly(t *testing.T) {
	perms := Compute(DefaultPolicy(), 5, 10, true, 0, 1.0)
	assert.True(t, perms.Answer)
	assert.False(t, perms.Search)
	assert.False(t, perms.Read)
	assert.False(t, perms.Reflect)
	assert.False(t, perms.Coding)
}

func TestCompute_CodingGatedByPolicy(t *testing.T) {
	policy := DefaultPolicy()
	perms := Compute(policy, 2, 1, true, 0, 0.3)
	assert.False(t, perms.Coding)

	policy.AllowCoding = true
	perms = Compute(policy, 2, 1, true, 0, 0.3)
	assert.True(t, perms.Coding)
}

func TestAllows_DispatchesByKind(t *testing.T) {
	perms := domain.ActionPermissions{Search: true, Answer: false}
	assert.True(t, Allows(perms, domain.ActionSearch))
	assert.False(t, Allows(perms, domain.ActionAnswer))
	assert.False(t, Allows(perms, domain.ActionKind("unknown")))
}
