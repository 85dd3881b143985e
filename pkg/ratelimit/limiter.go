// Package ratelimit throttles LLM calls per (provider, model).
//
// Each Limiter owns a request token bucket, a concurrency semaphore, a
// rolling tokens-per-minute window and a daily request counter. Bucket and
// window state live under one mutex; every sleep happens outside it, and
// waiters re-check after waking. 429 back-off belongs here; retry policy
// belongs to the caller — the two compose but never interchange.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds one limiter's budgets. Zero values fall back to the
// conservative unknown-provider defaults.
type Config struct {
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Burst             int           `yaml:"burst"`
	TokensPerMinute   int           `yaml:"tokens_per_minute"`
	MaxConcurrent     int64         `yaml:"max_concurrent"`
	DailyLimit        int           `yaml:"daily_limit"`
	RetryAfter429     time.Duration `yaml:"retry_after_429"`
}

func (c Config) withDefaults() Config {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.Burst <= 0 {
		c.Burst = c.RequestsPerMinute
	}
	if c.TokensPerMinute <= 0 {
		c.TokensPerMinute = 10_000
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	if c.RetryAfter429 <= 0 {
		c.RetryAfter429 = 5 * time.Second
	}
	return c
}

// DailyLimitError reports an exhausted daily request budget.
type DailyLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *DailyLimitError) Error() string {
	return fmt.Sprintf("daily request limit %d exhausted, retry after %s", e.Limit, e.RetryAfter)
}

type tokenCharge struct {
	at     time.Time
	tokens int
}

// Limiter throttles one (provider, model) pair. Safe for concurrent use.
type Limiter struct {
	provider string
	model    string
	cfg      Config

	bucket *rate.Limiter
	sem    *semaphore.Weighted

	mu         sync.Mutex
	tpmWindow  []tokenCharge
	dailyCount int
	dayStart   time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter builds a limiter from cfg (defaults applied to zero fields).
func NewLimiter(provider, model string, cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	return &Limiter{
		provider: provider,
		model:    model,
		cfg:      cfg,
		bucket:   rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		now:      time.Now,
	}
}

// Key returns the registry key "provider:model".
func (l *Limiter) Key() string { return l.provider + ":" + l.model }

// Wait blocks until n request tokens are available. Returns DailyLimitError
// without blocking when the daily cap is already spent; the counter resets
// at UTC midnight.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	if n <= 0 {
		n = 1
	}
	if err := l.chargeDaily(n); err != nil {
		return err
	}
	// rate.Limiter sleeps outside its own lock and re-reserves on wake.
	return l.bucket.WaitN(ctx, n)
}

// Lease is an acquired concurrency slot. Release is idempotent and must be
// called on every exit path.
type Lease struct {
	release sync.Once
	sem     *semaphore.Weighted
}

// Release frees the slot. Safe to call more than once.
func (le *Lease) Release() {
	le.release.Do(func() { le.sem.Release(1) })
}

// Acquire waits for one request token then a concurrency slot.
func (l *Limiter) Acquire(ctx context.Context) (*Lease, error) {
	return l.AcquireWithTokens(ctx, 0)
}

// AcquireWithTokens additionally charges llmTokens against the rolling
// tokens-per-minute window, blocking until the window has room.
func (l *Limiter) AcquireWithTokens(ctx context.Context, llmTokens int) (*Lease, error) {
	if err := l.Wait(ctx, 1); err != nil {
		return nil, err
	}
	if llmTokens > 0 {
		if err := l.waitForTokenWindow(ctx, llmTokens); err != nil {
			return nil, err
		}
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Lease{sem: l.sem}, nil
}

// Handle429 reacts to a provider 429: the request bucket and the TPM window
// are zeroed under the mutex, then the caller sleeps retryAfter outside it.
// Zero retryAfter means the configured retry_after_429 default.
func (l *Limiter) Handle429(ctx context.Context, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		retryAfter = l.cfg.RetryAfter429
	}

	l.mu.Lock()
	now := l.now()
	// Drain whatever the bucket has accumulated.
	if tokens := int(l.bucket.TokensAt(now)); tokens > 0 {
		l.bucket.AllowN(now, tokens)
	}
	// Saturate the TPM window so concurrent callers back off too.
	l.tpmWindow = []tokenCharge{{at: now, tokens: l.cfg.TokensPerMinute}}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(retryAfter):
		return nil
	}
}

// chargeDaily counts n requests against today's budget.
func (l *Limiter) chargeDaily(n int) error {
	if l.cfg.DailyLimit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	day := now.Truncate(24 * time.Hour)
	if !day.Equal(l.dayStart) {
		l.dayStart = day
		l.dailyCount = 0
	}
	if l.dailyCount+n > l.cfg.DailyLimit {
		return &DailyLimitError{
			Limit:      l.cfg.DailyLimit,
			RetryAfter: day.Add(24 * time.Hour).Sub(now),
		}
	}
	l.dailyCount += n
	return nil
}

// waitForTokenWindow blocks until the rolling minute window can absorb
// llmTokens, then records the charge. The check runs under the mutex; the
// sleep runs outside it and the check re-runs on wake.
func (l *Limiter) waitForTokenWindow(ctx context.Context, llmTokens int) error {
	for {
		l.mu.Lock()
		now := l.now()
		l.pruneWindow(now)
		used := 0
		for _, c := range l.tpmWindow {
			used += c.tokens
		}
		if used == 0 || used+llmTokens <= l.cfg.TokensPerMinute {
			// A single oversized charge is admitted against an empty
			// window rather than blocking forever.
			l.tpmWindow = append(l.tpmWindow, tokenCharge{at: now, tokens: llmTokens})
			l.mu.Unlock()
			return nil
		}
		// Sleep until the oldest charge ages out, then re-check.
		wakeAt := l.tpmWindow[0].at.Add(time.Minute)
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(wakeAt)):
		}
	}
}

// pruneWindow drops charges older than one minute. Caller holds l.mu.
func (l *Limiter) pruneWindow(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(l.tpmWindow) && l.tpmWindow[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		l.tpmWindow = append(l.tpmWindow[:0], l.tpmWindow[i:]...)
	}
}

// BucketTokens reports the request tokens currently available. Test hook.
func (l *Limiter) BucketTokens() float64 {
	return l.bucket.TokensAt(l.now())
}
