package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, Timeout: time.Second}
}

func TestSerperSearcher_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organic":[{"title":"A","link":"https://a.com","snippet":"about a"}]}`))
	}))
	defer server.Close()

	s := NewSerperSearcher("key", server.URL, fastRetry())
	res, err := s.Search(context.Background(), SearchQuery{Q: "a"})
	require.NoError(t, err)
	require.Len(t, res.Snippets, 1)
	assert.Equal(t, "https://a.com", res.Snippets[0].URL)
}

func TestSerperSearcher_RetriesOnRateLimit(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organic":[]}`))
	}))
	defer server.Close()

	s := NewSerperSearcher("key", server.URL, fastRetry())
	_, err := s.Search(context.Background(), SearchQuery{Q: "a"})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestSerperSearcher_PermanentErrorNotRetried(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	s := NewSerperSearcher("key", server.URL, fastRetry())
	_, err := s.Search(context.Background(), SearchQuery{Q: "a"})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestHTTPReader_BoundsResponseSize(t *testing.T) {
	big := make([]byte, maxReadBytes+1024)
	for i := range big {
		big[i] = 'x'
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer server.Close()

	r := NewHTTPReader(fastRetry())
	res, err := r.Read(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(maxReadBytes), res.BytesRead)
}

func TestHTTPReader_ExhaustsRetriesOnPersistentFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewHTTPReader(fastRetry())
	_, err := r.Read(context.Background(), server.URL)
	assert.Error(t, err)
}
