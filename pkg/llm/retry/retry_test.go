package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyforge/hiveforge/pkg/llm"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultLLMPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, MaxRetries: 3, BaseDelay: time.Millisecond}
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &llm.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, MaxRetries: 5, BaseDelay: time.Millisecond}
	calls := 0
	boom := errors.New("validation failed")
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustion(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, MaxRetries: 2, BaseDelay: time.Millisecond}
	calls := 0
	cause := &llm.HTTPStatusError{StatusCode: http.StatusTooManyRequests}
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return cause
	})
	assert.Equal(t, 3, calls)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)

	var httpErr *llm.HTTPStatusError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
}

func TestDoStrategyNoneNeverRetries(t *testing.T) {
	p := Policy{Strategy: StrategyNone, MaxRetries: 5}
	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return &llm.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
	var exhausted *ExhaustedError
	assert.False(t, errors.As(err, &exhausted))
}

func TestDoContextCancelStopsRetries(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, MaxRetries: 10, BaseDelay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := Do(ctx, p, func(ctx context.Context) error {
		return &llm.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"429", &llm.HTTPStatusError{StatusCode: 429}, true},
		{"502", &llm.HTTPStatusError{StatusCode: 502}, true},
		{"503", &llm.HTTPStatusError{StatusCode: 503}, true},
		{"504", &llm.HTTPStatusError{StatusCode: 504}, true},
		{"400", &llm.HTTPStatusError{StatusCode: 400}, false},
		{"401", &llm.HTTPStatusError{StatusCode: 401}, false},
		{"500", &llm.HTTPStatusError{StatusCode: 500}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestDelayProgression(t *testing.T) {
	exp := Policy{Strategy: StrategyExponential, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
	assert.Equal(t, time.Second, exp.delay(1))
	assert.Equal(t, 2*time.Second, exp.delay(2))
	assert.Equal(t, 4*time.Second, exp.delay(3))
	assert.Equal(t, 30*time.Second, exp.delay(10)) // capped

	lin := Policy{Strategy: StrategyLinear, BaseDelay: time.Second}
	assert.Equal(t, time.Second, lin.delay(1))
	assert.Equal(t, 3*time.Second, lin.delay(3))

	fixed := Policy{Strategy: StrategyFixed, BaseDelay: 2 * time.Second}
	assert.Equal(t, 2*time.Second, fixed.delay(1))
	assert.Equal(t, 2*time.Second, fixed.delay(5))
}

func TestDelayJitterBounds(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, BaseDelay: time.Second, Jitter: true}
	for i := 0; i < 200; i++ {
		d := p.delay(1)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, 1500*time.Millisecond)
	}
}
