// Package llm defines the contract the agent uses to talk to a language
// model: free-text completion and schema-constrained structured output,
// plus a concrete HTTP client speaking the chat-completions dialect.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"deepresearch/internal/adapters"
	"deepresearch/internal/logging"
)

// Client is the contract every agent step depends on.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema *JSONSchema) (string, error)
}

// JSONSchema is a minimal JSON-schema-shaped constraint passed to the
// model for structured output.
type JSONSchema struct {
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

// GenerateStructured calls client with the given schema, decodes the
// model's JSON reply into a fresh T, and returns it. The
// caller supplies the schema explicitly since Go has no runtime reflection
// over generic type parameters rich enough to synthesize one reliably.
func GenerateStructured[T any](ctx context.Context, client Client, systemPrompt, userPrompt string, schema *JSONSchema) (T, error) {
	var out T
	raw, err := client.CompleteStructured(ctx, systemPrompt, userPrompt, schema)
	if err != nil {
		return out, fmt.Errorf("llm: structured completion: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("llm: decode structured output: %w (raw=%s)", err, truncate(raw, 200))
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

const defaultSystemPreamble = "Respond in English. Be concise. Ground every claim only in the knowledge and search results supplied in the prompt; never claim to browse the web directly."

// Usage is one call's token accounting, fed to the budget tracker (C2) via
// the OnUsage hook so fraction_used reflects real LLM consumption instead
// of staying at zero.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// ChatClient implements Client against an OpenAI-compatible chat-completions
// endpoint.
type ChatClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	retry      adapters.RetryConfig
	onUsage    func(Usage)

	mu          sync.Mutex
	lastRequest time.Time
	minInterval time.Duration
}

// ChatClientConfig configures a ChatClient.
type ChatClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MinInterval time.Duration
	Retry       adapters.RetryConfig

	// OnUsage, if set, is called synchronously after every completion with
	// the token counts the upstream API reported. The CLI entrypoint wires
	// this to budget.Tracker.Record so C2 sees real usage.
	OnUsage func(Usage)
}

// DefaultChatClientConfig returns sensible defaults for a hosted chat API.
func DefaultChatClientConfig(apiKey string) ChatClientConfig {
	return ChatClientConfig{
		APIKey:      apiKey,
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     120 * time.Second,
		MinInterval: 200 * time.Millisecond,
		Retry:       adapters.DefaultRetryConfig(),
	}
}

// NewChatClient creates a ChatClient.
func NewChatClient(cfg ChatClientConfig) *ChatClient {
	return &ChatClient{
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		model:       cfg.Model,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retry:       cfg.Retry,
		onUsage:     cfg.OnUsage,
		minInterval: cfg.MinInterval,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, nil)
}

func (c *ChatClient) CompleteStructured(ctx context.Context, systemPrompt, userPrompt string, schema *JSONSchema) (string, error) {
	return c.complete(ctx, systemPrompt, userPrompt, &responseFormat{Type: "json_schema", JSONSchema: schema})
}

func (c *ChatClient) complete(ctx context.Context, systemPrompt, userPrompt string, format *responseFormat) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("llm: api key not configured")
	}

	full := defaultSystemPreamble
	if strings.TrimSpace(systemPrompt) != "" {
		full = full + "\n" + systemPrompt
	}

	c.throttle()

	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: full},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens:      4096,
		Temperature:    0.1,
		ResponseFormat: format,
	}

	var result string
	err := retryWith(ctx, c.retry, func(ctx context.Context) error {
		body, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("llm: encode request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("llm: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &adapters.TransientError{Err: fmt.Errorf("llm: request failed: %w", err)}
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("llm: read response: %w", err)
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return &adapters.TransientError{Err: fmt.Errorf("llm: upstream status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("llm: status %d: %s", resp.StatusCode, string(raw))
		}

		var parsed chatResponse
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return fmt.Errorf("llm: decode response: %w", err)
		}
		if parsed.Error != nil {
			return fmt.Errorf("llm: api error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("llm: empty choices in response")
		}

		result = parsed.Choices[0].Message.Content
		logging.Debug(logging.CategoryAgent, "llm completion: prompt_tokens=%d completion_tokens=%d", parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens)
		if c.onUsage != nil {
			c.onUsage(Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens})
		}
		return nil
	})
	return result, err
}

func (c *ChatClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.minInterval <= 0 {
		return
	}
	elapsed := time.Since(c.lastRequest)
	if elapsed < c.minInterval {
		time.Sleep(c.minInterval - elapsed)
	}
	c.lastRequest = time.Now()
}

// retryWith is a package-local copy of the adapters retry loop: llm cannot
// import adapters' unexported withRetry, and duplicating the tiny loop is
// simpler than exporting it across an otherwise clean package boundary.
func retryWith(ctx context.Context, cfg adapters.RetryConfig, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if _, ok := err.(*adapters.TransientError); !ok {
			return err
		}
		lastErr = err
		if attempt == cfg.MaxRetries {
			break
		}
		delay := cfg.BaseDelay * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("llm: exhausted retries: %w", lastErr)
}
