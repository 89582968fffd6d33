package provider

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentcore/internal/config"
)

type scriptedProvider struct {
	errs  []error
	calls int
}

func (s *scriptedProvider) Name() string     { return "scripted" }
func (s *scriptedProvider) Models() []string { return []string{"m"} }

func (s *scriptedProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return &ChatResponse{Content: "ok", Usage: &Usage{TotalTokens: 12}}, nil
}

func newTestRetrying(inner Provider, policy RetryPolicy) (*RetryingProvider, *[]time.Duration) {
	r := NewRetryingProvider(inner, policy)
	var slept []time.Duration
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	r.rand = func() float64 { return 0.5 }
	return r, &slept
}

func TestRetrying_RecoversFromTransientErrors(t *testing.T) {
	inner := &scriptedProvider{errs: []error{
		NewProviderError(ErrCodeServiceUnavailable, "busy", "scripted", true),
		errors.New("connection reset"),
	}}
	r, slept := newTestRetrying(inner, RetryPolicy{
		MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: 150 * time.Millisecond, Multiplier: 2, Jitter: 0.2,
	})

	type retry struct {
		attempt, max int
		reason       string
	}
	var retries []retry
	resp, err := r.ChatWithRetry(context.Background(), ChatRequest{}, func(a, m int, reason string) {
		retries = append(retries, retry{a, m, reason})
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.calls)
	require.Len(t, retries, 2)
	assert.Equal(t, 2, retries[0].attempt)
	assert.Equal(t, 3, retries[0].max)
	assert.Contains(t, retries[0].reason, "busy")
	assert.Equal(t, 3, retries[1].attempt)
	assert.Equal(t, []time.Duration{110 * time.Millisecond, 165 * time.Millisecond}, *slept)
}

func TestRetrying_StopsOnNonRetryable(t *testing.T) {
	for _, code := range []ErrorCode{ErrCodeAuthFailed, ErrCodeQuotaExceeded, ErrCodeRateLimited, ErrCodeModelNotFound} {
		t.Run(string(code), func(t *testing.T) {
			inner := &scriptedProvider{errs: []error{NewProviderError(code, "no", "scripted", true)}}
			r, slept := newTestRetrying(inner, DefaultRetryPolicy())

			_, err := r.Chat(context.Background(), ChatRequest{})

			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, code, pe.Code)
			assert.Equal(t, 1, inner.calls)
			assert.Empty(t, *slept)
		})
	}
}

func TestRetrying_ExhaustsAttempts(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	inner := &scriptedProvider{errs: []error{boom, boom, boom}}
	r, _ := newTestRetrying(inner, RetryPolicy{MaxAttempts: 3, Multiplier: 2})

	_, err := r.Chat(context.Background(), ChatRequest{})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, inner.calls)
}

func TestRetrying_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inner := &scriptedProvider{errs: []error{errors.New("flaky"), errors.New("flaky")}}
	r, _ := newTestRetrying(inner, DefaultRetryPolicy())
	r.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := r.Chat(ctx, ChatRequest{})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.RetryConfig{MaxAttempts: 5, Multiplier: 3})

	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 3.0, p.Multiplier)
	assert.Equal(t, DefaultRetryPolicy().InitialDelay, p.InitialDelay)
}

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		status    int
		msg       string
		code      ErrorCode
		autoRetry bool
	}{
		{http.StatusUnauthorized, "", ErrCodeAuthFailed, false},
		{http.StatusPaymentRequired, "", ErrCodeQuotaExceeded, false},
		{http.StatusTooManyRequests, "", ErrCodeRateLimited, false},
		{http.StatusNotFound, "model \"x\" not found", ErrCodeModelNotFound, false},
		{http.StatusBadRequest, "maximum context length is 8192", ErrCodeContextWindowExceeded, false},
		{http.StatusBadRequest, "bad json", ErrCodeInvalidRequest, false},
		{http.StatusGatewayTimeout, "", ErrCodeTimeout, true},
		{http.StatusServiceUnavailable, "", ErrCodeServiceUnavailable, true},
		{http.StatusTeapot, "", ErrCodeUnknown, false},
	}
	for _, tt := range tests {
		pe := FromHTTPStatus("p", tt.status, tt.msg)
		assert.Equal(t, tt.code, pe.Code, "status %d", tt.status)
		assert.Equal(t, tt.autoRetry, pe.ShouldAutoRetry(), "status %d", tt.status)
		assert.NotEmpty(t, pe.Message)
	}
}

func TestIsContextWindowExceeded(t *testing.T) {
	assert.True(t, IsContextWindowExceeded(NewProviderError(ErrCodeContextWindowExceeded, "x", "p", false)))
	assert.False(t, IsContextWindowExceeded(NewProviderError(ErrCodeUnknown, "context window", "p", false)))
	assert.True(t, IsContextWindowExceeded(errors.New("Too many tokens in prompt")))
	assert.False(t, IsContextWindowExceeded(nil))
	assert.True(t, IsRetryable(NewProviderError(ErrCodeNetworkError, "x", "p", true)))
	assert.False(t, IsRetryable(errors.New("plain")))
}
