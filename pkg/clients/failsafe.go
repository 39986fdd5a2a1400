// Package clients holds shared resilience helpers for outbound HTTP
// clients: retry with backoff and an optional circuit breaker.
package clients

import (
	"context"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// DefaultShouldRetry retries on network errors, server errors (5xx) and
// rate limits (429).
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// HTTPExecutorConfig configures retry behavior for an HTTP client.
type HTTPExecutorConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// WithCircuitBreaker adds a breaker that opens after sustained
	// failures, shedding load from a struggling upstream.
	WithCircuitBreaker bool

	// ShouldRetry determines if a response should trigger a retry.
	ShouldRetry func(resp *http.Response, err error) bool
}

// DefaultHTTPExecutorConfig returns sensible defaults
func DefaultHTTPExecutorConfig() HTTPExecutorConfig {
	return HTTPExecutorConfig{
		MaxRetries:  3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

func normalizeHTTPExecutorConfig(cfg HTTPExecutorConfig) HTTPExecutorConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	return cfg
}

// NewHTTPExecutor creates a failsafe executor combining the retry policy
// and, when configured, a circuit breaker.
//
//nolint:bodyclose // false positive: [*http.Response] is a generic type parameter, not an actual response
func NewHTTPExecutor(cfg HTTPExecutorConfig) failsafe.Executor[*http.Response] {
	cfg = normalizeHTTPExecutorConfig(cfg)

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(resp *http.Response, err error) bool {
			return cfg.ShouldRetry(resp, err)
		}).
		Build()

	if cfg.WithCircuitBreaker {
		breaker := circuitbreaker.NewBuilder[*http.Response]().
			WithFailureThresholdRatio(5, 10).
			WithDelay(15 * time.Second).
			WithSuccessThreshold(1).
			HandleIf(func(resp *http.Response, err error) bool {
				return err != nil || (resp != nil && resp.StatusCode >= 500)
			}).
			Build()
		return failsafe.With(retry, breaker)
	}

	return failsafe.With(retry)
}

// ExecuteHTTP runs an HTTP request through the executor. The function is
// invoked once per attempt and must build a fresh request each time.
func ExecuteHTTP(ctx context.Context, executor failsafe.Executor[*http.Response], fn func() (*http.Response, error)) (*http.Response, error) {
	return executor.WithContext(ctx).Get(fn)
}
