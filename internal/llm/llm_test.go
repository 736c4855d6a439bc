package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepresearch/internal/adapters"
)

func testConfig(url string) ChatClientConfig {
	return ChatClientConfig{
		APIKey:      "test-key",
		BaseURL:     url,
		Model:       "test-model",
		Timeout:     5 * time.Second,
		MinInterval: 0,
		Retry:       adapters.RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, Timeout: time.Second},
	}
}

func TestChatClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	}))
	defer server.Close()

	c := NewChatClient(testConfig(server.URL))
	out, err := c.Complete(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
}

func TestChatClient_RetriesOnRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	c := NewChatClient(testConfig(server.URL))
	out, err := c.Complete(context.Background(), "", "user")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 2, attempts)
}

func TestChatClient_MissingAPIKey(t *testing.T) {
	cfg := testConfig("http://unused")
	cfg.APIKey = ""
	c := NewChatClient(cfg)
	_, err := c.Complete(context.Background(), "", "user")
	assert.Error(t, err)
}

func TestGenerateStructured_DecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"kind\":\"search\",\"queries\":[\"a\"]}"}}]}`))
	}))
	defer server.Close()

	type decision struct {
		Kind    string   `json:"kind"`
		Queries []string `json:"queries"`
	}

	c := NewChatClient(testConfig(server.URL))
	out, err := GenerateStructured[decision](context.Background(), c, "sys", "user", &JSONSchema{Name: "decision"})
	require.NoError(t, err)
	assert.Equal(t, "search", out.Kind)
	assert.Equal(t, []string{"a"}, out.Queries)
}

func TestGenerateStructured_MalformedJSONErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"not json"}}]}`))
	}))
	defer server.Close()

	type decision struct {
		Kind string `json:"kind"`
	}

	c := NewChatClient(testConfig(server.URL))
	_, err := GenerateStructured[decision](context.Background(), c, "sys", "user", &JSONSchema{Name: "decision"})
	assert.Error(t, err)
}
