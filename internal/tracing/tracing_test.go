package tracing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/domain"
)

func TestTracer_RecordsCompletedSpan(t *testing.T) {
	tr := New(nil)
	span := tr.StartSpan(1, "search")
	span.End(nil, 120)

	spans := tr.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, 1, spans[0].Step)
	assert.Equal(t, "search", spans[0].Action)
	assert.Equal(t, 120, spans[0].TokensUsed)
	assert.NoError(t, spans[0].Err)
}

func TestTracer_RecordsFailedSpan(t *testing.T) {
	tr := New(nil)
	span := tr.StartSpan(2, "read")
	span.End(errors.New("timeout"), 0)

	spans := tr.Spans()
	require.Len(t, spans, 1)
	assert.Error(t, spans[0].Err)
}

func TestTracer_Summarize(t *testing.T) {
	tr := New(nil)
	tr.StartSpan(1, "search").End(nil, 100)
	tr.StartSpan(2, "read").End(errors.New("boom"), 50)
	tr.StartSpan(3, "reflect").End(nil, 25)

	summary := tr.Summarize()
	assert.Equal(t, 3, summary.TotalSteps)
	assert.Equal(t, 175, summary.TotalTokens)
	assert.Equal(t, 1, summary.FailedSteps)
}

func TestTracer_SpansReturnsSnapshotCopy(t *testing.T) {
	tr := New(nil)
	tr.StartSpan(1, "search").End(nil, 10)

	spans := tr.Spans()
	spans[0].TokensUsed = 999

	fresh := tr.Spans()
	assert.Equal(t, 10, fresh[0].TokensUsed)
}

func TestPercentiles_EmptyReturnsZeroValue(t *testing.T) {
	assert.Equal(t, LatencyPercentiles{}, Percentiles(nil))
}

func TestPercentiles_NearestRank(t *testing.T) {
	durations := []time.Duration{
		10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond,
		40 * time.Millisecond, 50 * time.Millisecond,
	}
	p := Percentiles(durations)
	assert.Equal(t, 30*time.Millisecond, p.P50)
	assert.Equal(t, 50*time.Millisecond, p.P95)
	assert.Equal(t, 50*time.Millisecond, p.P99)
}

func TestTracer_PersonaStats(t *testing.T) {
	tr := New(nil)
	base := time.Time{}
	tr.RecordPersona(PersonaExecutionMetrics{PersonaName: "ExpertSkeptic", Start: base, End: base.Add(10 * time.Millisecond)})
	tr.RecordPersona(PersonaExecutionMetrics{PersonaName: "ExpertSkeptic", Start: base, End: base.Add(20 * time.Millisecond)})
	tr.RecordPersona(PersonaExecutionMetrics{PersonaName: "Globalizer", Start: base, End: base.Add(5 * time.Millisecond), Err: errors.New("timeout")})

	stats := tr.PersonaStats()
	require.Contains(t, stats, "ExpertSkeptic")
	assert.Equal(t, 2, stats["ExpertSkeptic"].Count)
	assert.Equal(t, 0, stats["ExpertSkeptic"].Failures)
	assert.Equal(t, 15*time.Millisecond, stats["ExpertSkeptic"].AvgDuration)

	require.Contains(t, stats, "Globalizer")
	assert.Equal(t, 1, stats["Globalizer"].Failures)
}

func TestTracer_SearchEvidence(t *testing.T) {
	tr := New(nil)
	base := time.Time{}
	tr.RecordSearch(SearchTrace{Query: "a", RequestTS: base, ResponseTS: base.Add(10 * time.Millisecond), URLsExtracted: 3})
	tr.RecordSearch(SearchTrace{Query: "b", RequestTS: base, ResponseTS: base.Add(20 * time.Millisecond), Err: errors.New("timeout")})

	report := tr.SearchEvidence()
	assert.Equal(t, 2, report.TotalSearches)
	assert.Equal(t, 0.5, report.SuccessRate)
	assert.Equal(t, 3, report.TotalURLsExtracted)
}

func TestTracer_SearchEvidence_EmptyReturnsZeroValue(t *testing.T) {
	tr := New(nil)
	assert.Equal(t, SearchEvidenceReport{}, tr.SearchEvidence())
}

func TestTracer_EvaluationEvidence(t *testing.T) {
	tr := New(nil)
	base := time.Time{}
	tr.RecordEvaluation(EvaluationTrace{EvalType: domain.EvalDefinitive, Start: base, End: base.Add(5 * time.Millisecond), TokensUsed: 100, Passed: true})
	tr.RecordEvaluation(EvaluationTrace{EvalType: domain.EvalFreshness, Start: base, End: base.Add(15 * time.Millisecond), TokensUsed: 50, Passed: false})

	report := tr.EvaluationEvidence()
	assert.Equal(t, 2, report.TotalEvaluations)
	assert.Equal(t, 0.5, report.PassRate)
	assert.Equal(t, 150, report.TotalTokens)
	assert.Equal(t, 75.0, report.TokensPerEval)
	assert.Equal(t, 1, report.ByType[domain.EvalDefinitive])
	assert.Equal(t, 1, report.ByType[domain.EvalFreshness])
}
