// Package tracing layers zap structured logging over the step loop for
// process-level observability: one span per traced operation (each action
// decision and each search or read call) plus aggregate timing and
// token-usage metrics, at the CLI-collaborator boundary rather than inside
// the pure per-component logic (which uses internal/logging instead).
package tracing

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/domain"
)

// Span records one traced operation's timing and outcome, tagged with the
// step it ran in.
type Span struct {
	Step      int
	Action    string
	Start     time.Time
	End       time.Time
	Err       error
	TokensUsed int
}

// Duration returns the span's wall-clock length.
func (s Span) Duration() time.Duration { return s.End.Sub(s.Start) }

// Tracer accumulates spans for one research run and mirrors each to a zap
// logger.
type Tracer struct {
	mu     sync.Mutex
	logger *zap.Logger
	spans  []Span

	personaMetrics []PersonaExecutionMetrics
	searchTraces   []SearchTrace
	evalTraces     []EvaluationTrace
}

// New creates a Tracer. A nil logger falls back to zap.NewNop(), so
// callers that don't care about process logs can still use the tracer's
// span accounting.
func New(logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracer{logger: logger}
}

// StartSpan opens a span for step/action; call End on the result.
func (t *Tracer) StartSpan(step int, action string) *ActiveSpan {
	return &ActiveSpan{tracer: t, span: Span{Step: step, Action: action, Start: time.Now()}}
}

// ActiveSpan is an in-flight span returned by StartSpan.
type ActiveSpan struct {
	tracer *Tracer
	span   Span
}

// End closes the span, recording err and tokensUsed, and logs it.
func (a *ActiveSpan) End(err error, tokensUsed int) {
	a.span.End = time.Now()
	a.span.Err = err
	a.span.TokensUsed = tokensUsed

	a.tracer.mu.Lock()
	a.tracer.spans = append(a.tracer.spans, a.span)
	a.tracer.mu.Unlock()

	fields := []zap.Field{
		zap.Int("step", a.span.Step),
		zap.String("action", a.span.Action),
		zap.Duration("duration", a.span.Duration()),
		zap.Int("tokens_used", tokensUsed),
	}
	if err != nil {
		a.tracer.logger.Error("step failed", append(fields, zap.Error(err))...)
		return
	}
	a.tracer.logger.Info("step completed", fields...)
}

// Spans returns a snapshot copy of every span recorded so far.
func (t *Tracer) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// Summary aggregates span data into run-level metrics.
type Summary struct {
	TotalSteps    int
	TotalDuration time.Duration
	TotalTokens   int
	FailedSteps   int
}

// Summarize computes a Summary over every recorded span.
func (t *Tracer) Summarize() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Summary
	s.TotalSteps = len(t.spans)
	for _, sp := range t.spans {
		s.TotalDuration += sp.Duration()
		s.TotalTokens += sp.TokensUsed
		if sp.Err != nil {
			s.FailedSteps++
		}
	}
	return s
}

// PersonaExecutionMetrics mirrors persona.ExecutionMetrics without
// importing the persona package, keeping tracing a leaf dependency:
// persona orchestration happens to feed this tracer, never the reverse.
type PersonaExecutionMetrics struct {
	PersonaName string
	Start       time.Time
	End         time.Time
	Input       string
	OutputQuery string
	Err         error
}

func (m PersonaExecutionMetrics) duration() time.Duration { return m.End.Sub(m.Start) }

// SearchTrace is one search call's observability record.
type SearchTrace struct {
	TraceID       string
	Origin        string // persona name, or "direct" for an unexpanded query
	Query         string
	API           string
	RequestTS     time.Time
	ResponseTS    time.Time
	ResultsCount  int
	Bytes         int64
	URLsExtracted int
	Err           error
}

// EvaluationTrace is one evaluator run's observability record.
type EvaluationTrace struct {
	TraceID         string
	EvalType        domain.EvaluationType
	Question        string
	AnswerHash      string
	Start           time.Time
	End             time.Time
	TokensUsed      int
	Passed          bool
	Confidence      float64
	ReasoningLength int
}

func (e EvaluationTrace) duration() time.Duration { return e.End.Sub(e.Start) }

// RecordPersona appends a persona expansion's execution metrics.
func (t *Tracer) RecordPersona(m PersonaExecutionMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.personaMetrics = append(t.personaMetrics, m)
}

// RecordSearch appends one search call's trace.
func (t *Tracer) RecordSearch(s SearchTrace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.searchTraces = append(t.searchTraces, s)
}

// RecordEvaluation appends one evaluator run's trace.
func (t *Tracer) RecordEvaluation(e EvaluationTrace) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evalTraces = append(t.evalTraces, e)
}

// LatencyPercentiles bundles p50/p95/p99 over a set of durations.
type LatencyPercentiles struct {
	P50, P95, P99 time.Duration
}

// Percentiles computes p50/p95/p99 over durations. Nearest-rank: sorts
// ascending and indexes at ceil(pct*n)-1, clamped into range. Returns the
// zero value for an empty input.
func Percentiles(durations []time.Duration) LatencyPercentiles {
	if len(durations) == 0 {
		return LatencyPercentiles{}
	}
	sorted := append([]time.Duration(nil), durations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	pick := func(pct float64) time.Duration {
		idx := int(math.Ceil(pct*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx]
	}
	return LatencyPercentiles{P50: pick(0.50), P95: pick(0.95), P99: pick(0.99)}
}

// PersonaStat aggregates one persona's contribution across the run.
type PersonaStat struct {
	Count       int
	Failures    int
	AvgDuration time.Duration
}

// PersonaStats aggregates RecordPersona entries by persona name.
func (t *Tracer) PersonaStats() map[string]PersonaStat {
	t.mu.Lock()
	defer t.mu.Unlock()

	totals := make(map[string]time.Duration)
	out := make(map[string]PersonaStat)
	for _, m := range t.personaMetrics {
		stat := out[m.PersonaName]
		stat.Count++
		if m.Err != nil {
			stat.Failures++
		}
		totals[m.PersonaName] += m.duration()
		out[m.PersonaName] = stat
	}
	for name, stat := range out {
		stat.AvgDuration = totals[name] / time.Duration(stat.Count)
		out[name] = stat
	}
	return out
}

// SearchEvidenceReport bundles search-trace aggregates for one session.
type SearchEvidenceReport struct {
	TotalSearches      int
	SuccessRate        float64
	Latency            LatencyPercentiles
	TotalURLsExtracted int
}

// SearchEvidence aggregates every recorded SearchTrace into a report.
func (t *Tracer) SearchEvidence() SearchEvidenceReport {
	t.mu.Lock()
	traces := append([]SearchTrace(nil), t.searchTraces...)
	t.mu.Unlock()

	if len(traces) == 0 {
		return SearchEvidenceReport{}
	}

	var durations []time.Duration
	successes := 0
	urlsExtracted := 0
	for _, tr := range traces {
		durations = append(durations, tr.ResponseTS.Sub(tr.RequestTS))
		urlsExtracted += tr.URLsExtracted
		if tr.Err == nil {
			successes++
		}
	}

	return SearchEvidenceReport{
		TotalSearches:      len(traces),
		SuccessRate:        float64(successes) / float64(len(traces)),
		Latency:            Percentiles(durations),
		TotalURLsExtracted: urlsExtracted,
	}
}

// EvaluationEvidenceReport bundles evaluation-trace aggregates for one
// session: pass rate, tokens per evaluation, and per-type counts.
type EvaluationEvidenceReport struct {
	TotalEvaluations int
	PassRate         float64
	ByType           map[domain.EvaluationType]int
	TotalTokens      int
	TokensPerEval    float64
	Latency          LatencyPercentiles
}

// EvaluationEvidence aggregates every recorded EvaluationTrace into a
// report.
func (t *Tracer) EvaluationEvidence() EvaluationEvidenceReport {
	t.mu.Lock()
	traces := append([]EvaluationTrace(nil), t.evalTraces...)
	t.mu.Unlock()

	report := EvaluationEvidenceReport{ByType: make(map[domain.EvaluationType]int)}
	if len(traces) == 0 {
		return report
	}

	var durations []time.Duration
	passed := 0
	for _, tr := range traces {
		report.ByType[tr.EvalType]++
		report.TotalTokens += tr.TokensUsed
		durations = append(durations, tr.duration())
		if tr.Passed {
			passed++
		}
	}

	report.TotalEvaluations = len(traces)
	report.PassRate = float64(passed) / float64(len(traces))
	report.TokensPerEval = float64(report.TotalTokens) / float64(len(traces))
	report.Latency = Percentiles(durations)
	return report
}
