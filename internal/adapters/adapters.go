// Package adapters implements the search/read adapter contracts: thin
// wrappers over external search and reader services with retry, timeout,
// and typed-error handling.
package adapters

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"deepresearch/internal/errs"
	"deepresearch/internal/logging"
)

// Snippet is one search result.
type Snippet struct {
	Title   string
	URL     string
	Excerpt string
}

// SearchResult is the outcome of one search call.
type SearchResult struct {
	Snippets   []Snippet
	RawLatency time.Duration
}

// ReadResult is the outcome of one page-read call.
type ReadResult struct {
	Text        string
	BytesRead   int64
	Latency     time.Duration
	ContentType string
}

// Searcher performs a single search query.
type Searcher interface {
	Search(ctx context.Context, q SearchQuery) (SearchResult, error)
}

// SearchQuery mirrors domain.SerpQuery without importing domain, keeping
// this package a leaf with no dependency on upstream packages.
type SearchQuery struct {
	Q        string
	TBS      string
	Location string
}

// Reader fetches and extracts text content from a URL.
type Reader interface {
	Read(ctx context.Context, url string) (ReadResult, error)
}

// Reranker optionally reorders candidate URLs for a query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidateURLs []string) ([]string, error)
}

// RetryConfig controls the bounded exponential backoff every adapter
// applies to transient failures.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	Timeout      time.Duration
}

// DefaultRetryConfig applies a fixed small retry count with exponential
// backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 200 * time.Millisecond, Timeout: 20 * time.Second}
}

// TransientError marks an error as retryable by withRetry. Adapters should
// wrap network/5xx/rate-limit failures in this type; 4xx/auth/unsupported
// content should NOT be wrapped, since permanent errors are not retried.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// withRetry runs op with bounded exponential backoff + jitter, retrying
// only TransientError failures. It never panics on a malformed response —
// any other error is surfaced immediately as permanent.
func withRetry(ctx context.Context, cfg RetryConfig, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var transient *TransientError
		if !asTransient(err, &transient) {
			return errs.New(errs.ClassPermanent, 0, op, err)
		}

		lastErr = err
		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.BaseDelay * time.Duration(1<<attempt)
		delay += time.Duration(rand.Int63n(int64(cfg.BaseDelay)))
		logging.Warn(logging.CategoryAdapters, "%s transient failure (attempt %d/%d), retrying in %s: %v", op, attempt+1, cfg.MaxRetries, delay, err)

		select {
		case <-ctx.Done():
			return errs.New(errs.ClassTransient, 0, op, ctx.Err())
		case <-time.After(delay):
		}
	}

	return errs.New(errs.ClassTransient, 0, op, fmt.Errorf("exhausted retries: %w", lastErr))
}

func asTransient(err error, target **TransientError) bool {
	for err != nil {
		if t, ok := err.(*TransientError); ok {
			*target = t
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
