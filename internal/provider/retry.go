package provider

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"agentcore/internal/config"
	"agentcore/internal/metrics"
)

// RetryPolicy bounds the retrying executor.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the current delay added at random
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// PolicyFromConfig converts the config section, filling unset fields with
// defaults.
func PolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialDelay > 0 {
		p.InitialDelay = cfg.InitialDelay
	}
	if cfg.MaxDelay > 0 {
		p.MaxDelay = cfg.MaxDelay
	}
	if cfg.Multiplier >= 1 {
		p.Multiplier = cfg.Multiplier
	}
	if cfg.Jitter >= 0 {
		p.Jitter = cfg.Jitter
	}
	return p
}

// RetryFunc is notified before each retry; attempt is 1-based and counts the
// attempt about to be made.
type RetryFunc func(attempt, maxAttempts int, reason string)

// RetryingProvider wraps a Provider with bounded exponential backoff.
type RetryingProvider struct {
	inner  Provider
	policy RetryPolicy

	// sleep waits for d or until ctx is done. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// NewRetryingProvider creates a retrying wrapper around inner.
func NewRetryingProvider(inner Provider, policy RetryPolicy) *RetryingProvider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &RetryingProvider{
		inner:  inner,
		policy: policy,
		sleep:  sleepContext,
		rand:   rand.Float64,
	}
}

// Name returns the wrapped provider's name.
func (r *RetryingProvider) Name() string { return r.inner.Name() }

// Models returns the wrapped provider's models.
func (r *RetryingProvider) Models() []string { return r.inner.Models() }

// Chat calls the wrapped provider without retry notifications.
func (r *RetryingProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return r.ChatWithRetry(ctx, req, nil)
}

// ChatWithRetry runs the request, retrying transient failures. Context
// cancellation and non-retryable ProviderErrors end the loop immediately.
func (r *RetryingProvider) ChatWithRetry(ctx context.Context, req ChatRequest, onRetry RetryFunc) (*ChatResponse, error) {
	m := metrics.Get()
	delay := r.policy.InitialDelay
	var lastErr error

	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			reason := lastErr.Error()
			log.Warn().
				Str("provider", r.inner.Name()).
				Int("attempt", attempt+1).
				Int("max_attempts", r.policy.MaxAttempts).
				Err(lastErr).
				Msg("retrying llm request")
			m.RecordRetry()
			if onRetry != nil {
				onRetry(attempt+1, r.policy.MaxAttempts, reason)
			}

			wait := delay
			if r.policy.Jitter > 0 {
				wait += time.Duration(r.rand() * float64(delay) * r.policy.Jitter)
			}
			if err := r.sleep(ctx, wait); err != nil {
				return nil, err
			}
			delay = time.Duration(float64(delay) * r.policy.Multiplier)
			if r.policy.MaxDelay > 0 && delay > r.policy.MaxDelay {
				delay = r.policy.MaxDelay
			}
		}

		resp, err := r.inner.Chat(ctx, req)
		m.RecordProviderRequest(r.inner.Name(), err)
		if err == nil {
			if resp != nil && resp.Usage != nil {
				m.AddTokens(int64(resp.Usage.TotalTokens))
			}
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, err
		}
		var pe *ProviderError
		if errors.As(err, &pe) && !pe.ShouldAutoRetry() {
			return nil, err
		}
	}
	return nil, lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
