// Package config holds the research agent's configuration: a YAML-backed
// settings object built from nested structs, with a DefaultConfig and
// environment-variable overrides applied on load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all agent configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Reader    ReaderConfig    `yaml:"reader"`
	Budget    BudgetConfig    `yaml:"budget"`
	Persona   PersonaConfig   `yaml:"persona"`
	Evaluator EvaluatorConfig `yaml:"evaluator"`
	Agent     AgentConfig     `yaml:"agent"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the decision/generation LLM contract.
type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	TimeoutSec  int     `yaml:"timeout_sec"`
}

// EmbeddingConfig configures the embedding contract.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// SearchConfig configures the search adapter.
type SearchConfig struct {
	Provider       string `yaml:"provider"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	MaxRetries     int    `yaml:"max_retries"`
	BackoffBaseMs  int    `yaml:"backoff_base_ms"`
}

// ReaderConfig configures the page-reading adapter.
type ReaderConfig struct {
	TimeoutSec   int   `yaml:"timeout_sec"`
	MaxRetries   int   `yaml:"max_retries"`
	MaxBytesRead int64 `yaml:"max_bytes_read"`
}

// BudgetConfig configures the token budget tracker and beast-mode threshold.
type BudgetConfig struct {
	TotalTokens      int     `yaml:"total_tokens"`
	BeastModeFrac    float64 `yaml:"beast_mode_fraction"`
	TokenScaler      float64 `yaml:"token_scaler"` // multiplier applied to recorded tokens; 1.0 disables scaling
}

// PersonaConfig configures the persona orchestrator and query dedup gate.
type PersonaConfig struct {
	DedupThreshold float32 `yaml:"dedup_threshold"`
}

// EvaluatorConfig holds evaluator thresholds. The evaluator package does not
// read these values: its Definitive hedging cutoff is fixed at 0.7, and
// Freshness and Completeness are judged by the LLM without per-topic
// staleness thresholds or a coverage ratio.
type EvaluatorConfig struct {
	DefinitiveConfidenceMin float64            `yaml:"definitive_confidence_min"`
	CompletenessRatioMin    float64            `yaml:"completeness_ratio_min"`
	FreshnessThresholdsDays map[string]float64 `yaml:"freshness_thresholds_days"`
}

// AgentConfig configures the top-level state machine.
type AgentConfig struct {
	MaxSteps            int `yaml:"max_steps"`
	MaxURLs            int `yaml:"max_urls"`
	MaxURLsPerStep      int `yaml:"max_urls_per_step"`
	MaxReflectPerStep   int `yaml:"max_reflect_per_step"`
	MaxBeastAttempts    int `yaml:"max_beast_attempts"`
	AllowDirectAnswer   bool `yaml:"allow_direct_answer"`
	EnableCoding        bool `yaml:"enable_coding"`
	MaxDiaryEntries     int  `yaml:"max_diary_entries"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	DebugMode  bool   `yaml:"debug_mode"`
	JSONFormat bool   `yaml:"json_format"`
	Dir        string `yaml:"dir"`
}

// DefaultConfig returns the built-in defaults: budget 1,000,000 tokens,
// beast mode threshold 0.85, MAX_URLS_PER_STEP=5, MAX_REFLECT_PER_STEP=5,
// dedup threshold 0.86.
func DefaultConfig() *Config {
	return &Config{
		Name:    "deepresearch",
		Version: "0.1.0",

		LLM: LLMConfig{
			Provider:    "generic",
			Model:       "default",
			Temperature: 0.3,
			MaxTokens:   4096,
			TimeoutSec:  60,
		},
		Embedding: EmbeddingConfig{
			Provider:   "generic",
			Model:      "default",
			Dimensions: 768,
		},
		Search: SearchConfig{
			Provider:      "generic",
			TimeoutSec:    20,
			MaxRetries:    3,
			BackoffBaseMs: 200,
		},
		Reader: ReaderConfig{
			TimeoutSec:   30,
			MaxRetries:   2,
			MaxBytesRead: 5 << 20,
		},
		Budget: BudgetConfig{
			TotalTokens:   1_000_000,
			BeastModeFrac: 0.85,
			TokenScaler:   1.0,
		},
		Persona: PersonaConfig{
			DedupThreshold: 0.86,
		},
		Evaluator: EvaluatorConfig{
			DefinitiveConfidenceMin: 0.7,
			CompletenessRatioMin:    0.8,
			FreshnessThresholdsDays: map[string]float64{
				"finance":    2.0 / 24.0,
				"news":       1,
				"technology": 30,
				"science":    365,
				"history":    -1, // unbounded
				"default":    7,
			},
		},
		Agent: AgentConfig{
			MaxSteps:          20,
			MaxURLs:           50,
			MaxURLsPerStep:    5,
			MaxReflectPerStep: 5,
			MaxBeastAttempts:  3,
			AllowDirectAnswer: true,
			EnableCoding:      false,
			MaxDiaryEntries:   40,
		},
		Logging: LoggingConfig{
			DebugMode:  false,
			JSONFormat: false,
			Dir:        "",
		},
	}
}

// Load reads YAML configuration from path, falling back to defaults (with
// env overrides applied) if the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML to path, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: mkdir %s: %w", dir, err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides reads a small set of environment variables once at
// startup; they are not re-consulted during the step loop.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RESEARCH_BUDGET_TOTAL_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Budget.TotalTokens = n
		}
	}
	if v := os.Getenv("RESEARCH_LOG_LEVEL"); v != "" {
		c.Logging.DebugMode = v == "debug"
	}
	if v := os.Getenv("RESEARCH_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}
