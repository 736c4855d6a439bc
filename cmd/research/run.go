package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"deepresearch/internal/adapters"
	"deepresearch/internal/agent"
	"deepresearch/internal/budget"
	"deepresearch/internal/config"
	"deepresearch/internal/domain"
	"deepresearch/internal/embedding"
	"deepresearch/internal/events"
	"deepresearch/internal/evaluator"
	"deepresearch/internal/knowledge"
	"deepresearch/internal/llm"
	"deepresearch/internal/logging"
	"deepresearch/internal/permissions"
	"deepresearch/internal/persona"
	"deepresearch/internal/querydedup"
	"deepresearch/internal/session"
	"deepresearch/internal/tracing"
)

func runResearch(ctx context.Context, question string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if budgetFlag > 0 {
		cfg.Budget.TotalTokens = budgetFlag
	}

	sess := session.New(question)
	bus := events.New()
	drain := logEventsToSession(bus, sess)

	tracker := budget.New(cfg.Budget.TotalTokens, cfg.Budget.TokenScaler)
	store := knowledge.New()

	registry := persona.NewRegistry()
	if err := persona.RegisterBuiltins(registry); err != nil {
		return fmt.Errorf("register personas: %w", err)
	}
	orchestrator := persona.NewOrchestrator(registry)

	engine := embedding.NewHashEngine(cfg.Embedding.Dimensions)
	dedupGate := querydedup.New(engine, float32(cfg.Persona.DedupThreshold))

	apiKey := os.Getenv("RESEARCH_LLM_API_KEY")
	chatCfg := llm.DefaultChatClientConfig(apiKey)
	if cfg.LLM.Model != "" {
		chatCfg.Model = cfg.LLM.Model
	}
	chatCfg.Timeout = time.Duration(cfg.LLM.TimeoutSec) * time.Second
	if baseURL := os.Getenv("RESEARCH_LLM_BASE_URL"); baseURL != "" {
		chatCfg.BaseURL = baseURL
	}
	chatCfg.OnUsage = func(u llm.Usage) {
		tracker.Record(budget.Record{Tool: "llm", PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens})
	}
	llmClient := llm.NewChatClient(chatCfg)

	// Built once with every evaluation type; the agent selects the
	// per-question required subset at call time via RunOnly and
	// evaluator.DetermineRequiredEvaluations.
	pipeline := evaluator.NewPipeline(llmClient, domain.EvaluationOrder)

	retryCfg := adapters.RetryConfig{
		MaxRetries: cfg.Search.MaxRetries,
		BaseDelay:  time.Duration(cfg.Search.BackoffBaseMs) * time.Millisecond,
		Timeout:    time.Duration(cfg.Search.TimeoutSec) * time.Second,
	}
	searcher := adapters.NewSerperSearcher(os.Getenv("RESEARCH_SEARCH_API_KEY"), "", retryCfg)
	reader := adapters.NewHTTPReader(adapters.RetryConfig{
		MaxRetries: cfg.Reader.MaxRetries,
		BaseDelay:  retryCfg.BaseDelay,
		Timeout:    time.Duration(cfg.Reader.TimeoutSec) * time.Second,
	})

	tracer := tracing.New(logger)

	policy := permissions.DefaultPolicy()
	policy.AllowCoding = cfg.Agent.EnableCoding
	policy.AllowDirectAnswer = cfg.Agent.AllowDirectAnswer
	policy.MaxURLsPerStep = cfg.Agent.MaxURLsPerStep
	policy.MaxReflectPerStep = cfg.Agent.MaxReflectPerStep

	a := agent.New(
		agent.Config{
			MaxSteps:          cfg.Agent.MaxSteps,
			MaxURLsPerStep:    cfg.Agent.MaxURLsPerStep,
			MaxReflectPerStep: cfg.Agent.MaxReflectPerStep,
			BeastModeFrac:     cfg.Budget.BeastModeFrac,
			MaxBeastAttempts:  cfg.Agent.MaxBeastAttempts,
			MaxDiaryEntries:   cfg.Agent.MaxDiaryEntries,
			Policy:            policy,
		},
		tracker, store, orchestrator, dedupGate, pipeline,
		searcher, reader, llmClient, bus, tracer,
	)

	state, runErr := a.Run(ctx, question)
	drain()

	sess.Stats.TokensUsed = tracker.Total()
	sess.Stats.URLsDiscovered = store.Count()
	summary := tracer.Summarize()
	sess.Stats.Steps = summary.TotalSteps

	if runErr != nil {
		sess.Finish(false, runErr.Error())
		if _, saveErr := sess.Save(defaultSessionDir()); saveErr != nil {
			logging.Error(logging.CategorySession, "failed to save session: %v", saveErr)
		}
		if _, saveErr := sess.SaveText(defaultSessionDir()); saveErr != nil {
			logging.Error(logging.CategorySession, "failed to save session text: %v", saveErr)
		}
		return runErr
	}

	switch state.Kind {
	case domain.StateCompleted:
		sess.Answer = state.Answer
		sess.References = state.References
		sess.Finish(true, "")
		fmt.Println(state.Answer)
	case domain.StateFailed:
		sess.Finish(false, state.Reason)
	}

	if _, err := sess.Save(defaultSessionDir()); err != nil {
		logging.Error(logging.CategorySession, "failed to save session: %v", err)
	}
	if _, err := sess.SaveText(defaultSessionDir()); err != nil {
		logging.Error(logging.CategorySession, "failed to save session text: %v", err)
	}

	if state.Kind == domain.StateFailed {
		return fmt.Errorf("research failed: %s", state.Reason)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		cfg := config.DefaultConfig()
		return cfg, nil
	}
	return config.Load(configPath)
}

func defaultSessionDir() string {
	return ".research/sessions"
}

// logEventsToSession subscribes to bus and appends a short log line per
// event to sess.Logs. The returned func unsubscribes and blocks until the
// drain goroutine has observed the close, so callers can safely read
// sess.Logs (e.g. to marshal it) immediately afterward.
func logEventsToSession(bus *events.Bus, sess *session.Session) func() {
	ch, unsub := bus.Subscribe(64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			sess.AddLog("info", fmt.Sprintf("[step %d] %s: %s", ev.Step, ev.Kind, ev.Message))
		}
	}()
	return func() {
		unsub()
		<-done
	}
}
