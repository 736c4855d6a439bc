// Package agent implements the top-level research state machine: it
// drives the step loop (decide an action, execute it, update budget and
// knowledge, evaluate candidate answers), transitioning between
// processing, beast mode, completed, and failed states.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"deepresearch/internal/adapters"
	"deepresearch/internal/budget"
	"deepresearch/internal/domain"
	"deepresearch/internal/errs"
	"deepresearch/internal/events"
	"deepresearch/internal/evaluator"
	"deepresearch/internal/knowledge"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/permissions"
	"deepresearch/internal/persona"
	"deepresearch/internal/querydedup"
	"deepresearch/internal/tracing"
)

// decisionSchema constrains the LLM's action choice to the closed set of
// ActionKind variants, with per-kind fields left empty when not relevant.
var decisionSchema = &llm.JSONSchema{
	Name:   "agent_action",
	Strict: true,
	Schema: map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"kind":          map[string]interface{}{"type": "string", "enum": []string{"search", "read", "reflect", "answer", "coding"}},
			"queries":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"urls":          map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"gap_questions": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"answer":        map[string]interface{}{"type": "string"},
			"code":          map[string]interface{}{"type": "string"},
		},
		"required": []string{"kind"},
	},
}

type decidedAction struct {
	Kind         string   `json:"kind"`
	Queries      []string `json:"queries"`
	URLs         []string `json:"urls"`
	GapQuestions []string `json:"gap_questions"`
	Answer       string   `json:"answer"`
	Code         string   `json:"code"`
}

// Config aggregates every tunable the agent needs beyond its wired
// collaborators.
type Config struct {
	MaxSteps          int
	MaxURLsPerStep    int
	MaxReflectPerStep int
	BeastModeFrac     float64
	MaxBeastAttempts  int
	MaxDiaryEntries   int
	Policy            permissions.Policy
}

// Agent owns the step loop and every collaborator it drives.
type Agent struct {
	cfg Config

	budget    *budget.Tracker
	store     *knowledge.Store
	persona   *persona.Orchestrator
	dedupGate *querydedup.Gate
	pipeline  *evaluator.Pipeline
	searcher  adapters.Searcher
	reader    adapters.Reader
	llmClient llm.Client
	bus       *events.Bus
	tracer    *tracing.Tracer

	pendingQuestions []domain.Question
	executedQueries  []domain.SerpQuery
	beastAttempts    int
	forcedBeastMode  bool // set once a step suffers two consecutive contract violations, per §7/§8 scenario 6
	diary            *diary
}

// New assembles an Agent from its collaborators.
func New(
	cfg Config,
	tracker *budget.Tracker,
	store *knowledge.Store,
	personaOrch *persona.Orchestrator,
	dedupGate *querydedup.Gate,
	pipeline *evaluator.Pipeline,
	searcher adapters.Searcher,
	reader adapters.Reader,
	llmClient llm.Client,
	bus *events.Bus,
	tracer *tracing.Tracer,
) *Agent {
	return &Agent{
		cfg: cfg, budget: tracker, store: store, persona: personaOrch,
		dedupGate: dedupGate, pipeline: pipeline, searcher: searcher,
		reader: reader, llmClient: llmClient, bus: bus, tracer: tracer,
		diary: newDiary(cfg.MaxDiaryEntries),
	}
}

// Run drives the step loop for question until it produces a completed or
// failed AgentState, or exhausts MaxSteps.
func (a *Agent) Run(ctx context.Context, question string) (domain.AgentState, error) {
	a.pendingQuestions = []domain.Question{{Text: question, Origin: domain.OriginOriginal}}

	step := 0
	violations := 0 // consecutive contract violations within the current step; see §7/§8 scenario 6
	for totalStep := 0; totalStep < a.cfg.MaxSteps; totalStep++ {
		current := a.pendingQuestions[0]
		a.bus.Publish(events.Event{Kind: events.KindStepStarted, Step: step, Message: current.Text})

		frac := a.budget.FractionUsed()
		inBeastMode := frac >= a.cfg.BeastModeFrac || a.forcedBeastMode
		perms := permissions.Compute(a.cfg.Policy, step, a.store.Count(), a.store.HasUnvisited(), 0, frac)
		if inBeastMode {
			perms = domain.ActionPermissions{Answer: true}
		}

		span := a.tracer.StartSpan(totalStep, "decide_action")
		action, err := a.decideAction(ctx, step, current.Text, perms, violations > 0)
		if err != nil {
			span.End(err, 0)
			if errs.IsFatal(err) {
				return a.failedState(step, fmt.Sprintf("fatal error deciding action: %v", err)), err
			}
			// Recoverable: total_step advances (the loop increment) but
			// step does not, and the same question is retried next pass,
			// this time with a stricter re-prompt (§7). A second
			// consecutive violation at this same step forces BeastMode
			// for the remainder of the run rather than retrying forever.
			violations++
			a.diary.append(fmt.Sprintf("[step %d] contract violation %d/2: %v", step, violations, err))
			if violations >= 2 {
				a.forcedBeastMode = true
				violations = 0
				a.bus.Publish(events.Event{Kind: events.KindBeastModeEntered, Step: step, Message: "forced by repeated contract violations"})
				a.diary.append(fmt.Sprintf("[step %d] second consecutive contract violation -> forcing beast mode", step))
			}
			continue
		}
		span.End(nil, 0)
		violations = 0
		a.bus.Publish(events.Event{Kind: events.KindActionChosen, Step: step, Message: string(action.Kind)})

		switch action.Kind {
		case domain.ActionSearch:
			a.handleSearch(ctx, step, current.Text, action)
		case domain.ActionRead:
			a.handleRead(ctx, step, action)
		case domain.ActionReflect:
			a.handleReflect(step, action)
		case domain.ActionAnswer:
			state, done, err := a.handleAnswer(ctx, step, current, action, inBeastMode)
			if done {
				state.TotalStep = totalStep
				return state, err
			}
		default:
			logging.Warn(logging.CategoryAgent, "unsupported action kind %q at step %d", action.Kind, step)
		}

		a.pendingQuestions = append(a.pendingQuestions[1:], current)
		step++
	}

	return a.failedState(step, "exhausted max steps without a passing answer"), nil
}

func (a *Agent) decideAction(ctx context.Context, step int, question string, perms domain.ActionPermissions, strictRetry bool) (domain.Action, error) {
	system := "Choose exactly one next action for a research agent given its current permissions."
	if strictRetry {
		system = "Your previous response chose an action that is not currently permitted. " +
			"Re-read the permissions below and choose exactly one action whose kind is true in " +
			"that list; choosing a disallowed kind again will force this run into beast mode."
	}
	user := fmt.Sprintf(
		"Question: %s\n\nPermissions: search=%v read=%v reflect=%v answer=%v coding=%v\n\nDiary:\n%s\nKnowledge so far:\n%s",
		question, perms.Search, perms.Read, perms.Reflect, perms.Answer, perms.Coding, a.diary.format(), a.store.FormatForPrompt(),
	)

	decided, err := llm.GenerateStructured[decidedAction](ctx, a.llmClient, system, user, decisionSchema)
	if err != nil {
		return domain.Action{}, errs.New(errs.ClassContract, step, "decide_action", err)
	}

	kind := domain.ActionKind(decided.Kind)
	if !permissions.Allows(perms, kind) {
		return domain.Action{}, errs.New(errs.ClassContract, step, "decide_action", fmt.Errorf("action %q not permitted this step", kind))
	}

	queries := make([]domain.SerpQuery, 0, len(decided.Queries))
	for _, q := range decided.Queries {
		queries = append(queries, domain.SerpQuery{Q: q})
	}

	return domain.Action{
		Kind:         kind,
		Queries:      queries,
		URLs:         decided.URLs,
		GapQuestions: decided.GapQuestions,
		Answer:       decided.Answer,
		Code:         decided.Code,
	}, nil
}

func (a *Agent) handleSearch(ctx context.Context, step int, originalQuestion string, action domain.Action) {
	rc := persona.RunContext{OriginalQuestion: originalQuestion, Clock: time.Now, Translator: persona.IdentityTranslator}
	expanded, metrics := a.persona.ExpandParallel(ctx, originalQuestion, rc)

	origins := make(map[string]string, len(expanded))
	for _, m := range metrics {
		a.tracer.RecordPersona(tracing.PersonaExecutionMetrics{
			PersonaName: m.PersonaName,
			Start:       m.Start,
			End:         m.End,
			Input:       m.Input,
			OutputQuery: m.OutputQuery.Q,
			Err:         m.Err,
		})
	}

	candidates := make([]domain.SerpQuery, 0, len(expanded)+len(action.Queries))
	for _, wq := range expanded {
		candidates = append(candidates, wq.Query)
		origins[wq.Query.Q] = wq.SourcePersona
	}
	candidates = append(candidates, action.Queries...)

	result := a.dedupGate.Filter(ctx, candidates, a.executedQueries)
	for _, ev := range result.Degraded {
		a.bus.Publish(events.Event{Kind: events.KindDegradedMode, Step: step, Message: ev.Reason})
	}

	// Per §4.9 step 5 / §5: searches for the accepted queries run as
	// concurrent in-flight network calls, not one-at-a-time round-trips.
	// Each goroutine only performs the adapter call and returns its
	// outcome; the loop merges the results back in input order so diary
	// and trace entries stay deterministic even though the fetches
	// themselves have no ordering among each other.
	type searchOutcome struct {
		query      domain.SerpQuery
		origin     string
		res        adapters.SearchResult
		err        error
		requestTS  time.Time
		responseTS time.Time
	}
	outcomes := make([]searchOutcome, len(result.Accepted))

	g, gctx := errgroup.WithContext(ctx)
	for i, q := range result.Accepted {
		i, q := i, q
		g.Go(func() error {
			origin := origins[q.Q]
			if origin == "" {
				origin = "direct"
			}
			span := a.tracer.StartSpan(step, "search")
			requestTS := time.Now()
			res, err := a.searcher.Search(gctx, adapters.SearchQuery{Q: q.Q, TBS: q.TBS, Location: q.Location})
			span.End(err, 0)
			outcomes[i] = searchOutcome{
				query: q, origin: origin, res: res, err: err,
				requestTS: requestTS, responseTS: time.Now(),
			}
			return nil // a single search failure does not abort the batch
		})
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		if oc.err != nil {
			logging.Warn(logging.CategoryAgent, "search %q failed: %v", oc.query.Q, oc.err)
			a.tracer.RecordSearch(tracing.SearchTrace{
				TraceID: uuid.NewString(), Origin: oc.origin, Query: oc.query.Q, API: "search",
				RequestTS: oc.requestTS, ResponseTS: oc.responseTS, Err: oc.err,
			})
			continue
		}
		a.executedQueries = append(a.executedQueries, oc.query)

		urlsExtracted := 0
		for i, snip := range oc.res.Snippets {
			if i >= a.cfg.MaxURLsPerStep {
				break
			}
			if _, err := a.store.AddURL(snip.URL, 1.0, 1, 0, step); err != nil {
				logging.Debug(logging.CategoryAgent, "skipping invalid url %q: %v", snip.URL, err)
				continue
			}
			urlsExtracted++
		}
		a.tracer.RecordSearch(tracing.SearchTrace{
			TraceID: uuid.NewString(), Origin: oc.origin, Query: oc.query.Q, API: "search",
			RequestTS: oc.requestTS, ResponseTS: oc.responseTS, ResultsCount: len(oc.res.Snippets), URLsExtracted: urlsExtracted,
		})
		a.bus.Publish(events.Event{Kind: events.KindSearchCompleted, Step: step, Message: oc.query.Q, Data: len(oc.res.Snippets)})
		a.diary.append(fmt.Sprintf("[step %d] search %q -> %d results, %d new urls", step, oc.query.Q, len(oc.res.Snippets), urlsExtracted))
	}
}

func (a *Agent) handleRead(ctx context.Context, step int, action domain.Action) {
	urls := action.URLs
	if len(urls) == 0 {
		top := a.store.TopNUnvisited(a.cfg.MaxURLsPerStep)
		for _, rec := range top {
			urls = append(urls, rec.URL)
		}
	}
	if len(urls) > a.cfg.MaxURLsPerStep {
		urls = urls[:a.cfg.MaxURLsPerStep]
	}

	// Per §4.9 step 5 / §5: reads for the selected URLs run as concurrent
	// in-flight network calls. As with handleSearch, goroutines only
	// perform the adapter call; the loop merges outcomes back in input
	// order to keep diary/store side effects deterministic.
	type readOutcome struct {
		url string
		res adapters.ReadResult
		err error
	}
	outcomes := make([]readOutcome, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			span := a.tracer.StartSpan(step, "read")
			res, err := a.reader.Read(gctx, u)
			span.End(err, 0)
			outcomes[i] = readOutcome{url: u, res: res, err: err}
			return nil // a single read failure does not abort the batch
		})
	}
	_ = g.Wait()

	for _, oc := range outcomes {
		if oc.err != nil {
			logging.Warn(logging.CategoryAgent, "read %q failed: %v", oc.url, oc.err)
			a.diary.append(fmt.Sprintf("[step %d] read %q -> failed: %v", step, oc.url, oc.err))
			continue
		}

		canon, err := knowledge.Canonicalize(oc.url)
		if err == nil {
			a.store.MarkVisited(canon)
		}
		a.store.AppendKnowledge(domain.KnowledgeItem{
			Kind:      domain.KnowledgeSideInfo,
			Answer:    oc.res.Text,
			SourceURL: canon,
		})
		a.bus.Publish(events.Event{Kind: events.KindReadCompleted, Step: step, Message: oc.url, Data: oc.res.BytesRead})
		a.diary.append(fmt.Sprintf("[step %d] read %q -> %d bytes", step, oc.url, oc.res.BytesRead))
	}
}

func (a *Agent) handleReflect(step int, action domain.Action) {
	gaps := action.GapQuestions
	if len(gaps) > a.cfg.MaxReflectPerStep {
		gaps = gaps[:a.cfg.MaxReflectPerStep]
	}

	existing := make(map[string]bool, len(a.pendingQuestions))
	for _, q := range a.pendingQuestions {
		existing[q.Text] = true
	}

	queued := 0
	for _, g := range gaps {
		if existing[g] {
			continue
		}
		a.pendingQuestions = append(a.pendingQuestions, domain.Question{Text: g, Origin: domain.OriginGapReflection})
		existing[g] = true
		queued++
	}

	if queued == 0 {
		a.diary.append(fmt.Sprintf("[step %d] reflect -> no new gap questions (dedup against pending questions)", step))
		return
	}
	a.diary.append(fmt.Sprintf("[step %d] reflect -> %d gap question(s) queued", step, queued))
}

func (a *Agent) handleAnswer(ctx context.Context, step int, current domain.Question, action domain.Action, inBeastMode bool) (domain.AgentState, bool, error) {
	question := current.Text

	if step == 0 && !inBeastMode && a.cfg.Policy.AllowDirectAnswer {
		return domain.AgentState{
			Kind:    domain.StateCompleted,
			Step:    step,
			Answer:  action.Answer,
			Trivial: true,
		}, true, nil
	}

	isOriginal := current.Origin == domain.OriginOriginal
	required := evaluator.DetermineRequiredEvaluations(question, isOriginal)
	if inBeastMode {
		required = []domain.EvaluationType{domain.EvalDefinitive}
	}

	evalStart := time.Now()
	outcome, err := a.pipeline.RunOnly(ctx, question, action.Answer, a.store.FormatForPrompt(), required)
	evalEnd := time.Now()
	if err != nil {
		return domain.AgentState{}, true, errs.New(errs.ClassContract, step, "evaluate_answer", err)
	}

	answerHash := sha256.Sum256([]byte(action.Answer))
	for _, r := range outcome.Results {
		a.bus.Publish(events.Event{Kind: events.KindEvaluationResult, Step: step, Message: string(r.EvalType), Data: r.Passed})
		a.tracer.RecordEvaluation(tracing.EvaluationTrace{
			TraceID:         uuid.NewString(),
			EvalType:        r.EvalType,
			Question:        question,
			AnswerHash:      hex.EncodeToString(answerHash[:]),
			Start:           evalStart,
			End:             evalEnd,
			Passed:          r.Passed,
			Confidence:      r.Confidence,
			ReasoningLength: len(r.Reasoning),
		})
	}

	if outcome.Passed {
		a.diary.append(fmt.Sprintf("[step %d] answer passed all required evaluations", step))
		refs := knowledge.ValidReferences(knowledge.ExtractReferences(action.Answer, a.store.Knowledge(), 0.3), a.store)
		return domain.AgentState{
			Kind:       domain.StateCompleted,
			Step:       step,
			Answer:     action.Answer,
			References: refs,
			Trivial:    false,
		}, true, nil
	}

	a.diary.append(fmt.Sprintf("[step %d] answer failed %s: %s", step, outcome.Failed.EvalType, outcome.Failed.Reasoning))
	a.store.AppendKnowledge(domain.KnowledgeItem{
		Kind:            domain.KnowledgeError,
		Question:        question,
		AttemptedAnswer: action.Answer,
		EvalTypeFailed:  outcome.Failed.EvalType,
		Reason:          outcome.Failed.Reasoning,
		Suggestions:     outcome.Failed.Suggestions,
	})

	if !inBeastMode {
		return domain.AgentState{}, false, nil
	}

	a.beastAttempts++
	a.bus.Publish(events.Event{Kind: events.KindBeastModeEntered, Step: step, Message: fmt.Sprintf("attempt %d/%d", a.beastAttempts, a.cfg.MaxBeastAttempts)})
	if a.beastAttempts >= a.cfg.MaxBeastAttempts {
		return domain.AgentState{
			Kind:             domain.StateFailed,
			Reason:           "exhausted beast mode attempts without a passing answer",
			PartialKnowledge: a.store.Knowledge(),
		}, true, nil
	}
	return domain.AgentState{}, false, nil
}

func (a *Agent) failedState(step int, reason string) domain.AgentState {
	return domain.AgentState{
		Kind:             domain.StateFailed,
		Step:             step,
		Reason:           reason,
		PartialKnowledge: a.store.Knowledge(),
	}
}
