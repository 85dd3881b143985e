// Package retry runs an operation under a configurable retry policy.
//
// Retry here is the caller's tool for transient failures; 429 back-off
// belongs to the rate limiter. The two compose: a 429 first triggers the
// limiter's sleep, then the original call is retried under its policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"time"

	"github.com/colonyforge/hiveforge/pkg/llm"
)

// Strategy selects how the delay between attempts grows.
type Strategy string

const (
	StrategyNone        Strategy = "none"
	StrategyFixed       Strategy = "fixed"
	StrategyLinear      Strategy = "linear"
	StrategyExponential Strategy = "exponential"
)

// Policy configures retry behaviour for one call site.
type Policy struct {
	Strategy   Strategy      `yaml:"strategy"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	// Jitter adds half-amplitude randomness: delay ± delay/2.
	Jitter bool `yaml:"jitter"`
	// Retryable overrides the default retryable-error check.
	Retryable func(error) bool `yaml:"-"`
}

// DefaultLLMPolicy is the shipped policy for LLM calls: exponential,
// 3 retries, 1–30 s, jitter on.
func DefaultLLMPolicy() Policy {
	return Policy{
		Strategy:   StrategyExponential,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. The last error is preserved for errors.Is/As.
type ExhaustedError struct {
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }

// IsRetryable is the default whitelist: network timeouts, temporary DNS
// failures, deadline expiry, and retryable HTTP statuses (429, 502, 503,
// 504). Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var httpErr *llm.HTTPStatusError
	if errors.As(err, &httpErr) {
		switch httpErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
	}
	return false
}

// Do runs fn under the policy. The first success wins; a non-retryable
// error returns immediately; exhausting attempts returns ExhaustedError.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	attempts := p.MaxRetries + 1
	if p.Strategy == StrategyNone || attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.delay(attempt)):
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return &ExhaustedError{Attempts: attempts, LastError: lastErr}
}

// delay computes the wait before retry number attempt (1-based).
func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = time.Second
	}

	var d time.Duration
	switch p.Strategy {
	case StrategyFixed:
		d = base
	case StrategyLinear:
		d = base * time.Duration(attempt)
	case StrategyExponential:
		d = base
		for i := 1; i < attempt; i++ {
			d *= 2
		}
	default:
		d = base
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter && d > 0 {
		// Half-amplitude: uniform in [d/2, 3d/2), re-capped below MaxDelay.
		d = d/2 + time.Duration(rand.Int63n(int64(d)))
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}
