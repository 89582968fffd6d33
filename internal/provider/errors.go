package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	// Authentication errors
	ErrCodeAuthFailed ErrorCode = "AUTH_FAILED"

	// Rate limiting and quota
	ErrCodeRateLimited   ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"

	// Service availability
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound      ErrorCode = "MODEL_NOT_FOUND"

	// Network and request
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeInvalidResponse       ErrorCode = "INVALID_RESPONSE"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeContextWindowExceeded ErrorCode = "CONTEXT_WINDOW_EXCEEDED"

	ErrCodeUnknown ErrorCode = "UNKNOWN"
)

// ProviderError is the transport/provider failure reported to clients.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds
	Cause      error     `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// ShouldAutoRetry reports whether the retrying executor may repeat the
// request. Billing, rate and auth failures never are.
func (e *ProviderError) ShouldAutoRetry() bool {
	switch e.Code {
	case ErrCodeAuthFailed, ErrCodeRateLimited, ErrCodeQuotaExceeded:
		return false
	case ErrCodeServiceUnavailable, ErrCodeNetworkError, ErrCodeTimeout, ErrCodeInvalidResponse:
		return e.Retryable
	default:
		return false
	}
}

// NewProviderError creates a new ProviderError.
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{
		Code:      code,
		Message:   message,
		Provider:  provider,
		Retryable: retryable,
	}
}

// FromHTTPStatus classifies a non-2xx response.
func FromHTTPStatus(provider string, status int, message string) *ProviderError {
	if message == "" {
		message = http.StatusText(status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewProviderError(ErrCodeAuthFailed, message, provider, false)
	case status == http.StatusPaymentRequired:
		return NewProviderError(ErrCodeQuotaExceeded, message, provider, false)
	case status == http.StatusTooManyRequests:
		return NewProviderError(ErrCodeRateLimited, message, provider, false)
	case status == http.StatusNotFound:
		return NewProviderError(ErrCodeModelNotFound, message, provider, false)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewProviderError(ErrCodeTimeout, message, provider, true)
	case status == http.StatusBadRequest:
		if IsContextWindowExceeded(errors.New(message)) {
			return NewProviderError(ErrCodeContextWindowExceeded, message, provider, false)
		}
		return NewProviderError(ErrCodeInvalidRequest, message, provider, false)
	case status >= 500:
		return NewProviderError(ErrCodeServiceUnavailable, message, provider, true)
	default:
		return NewProviderError(ErrCodeUnknown, message, provider, false)
	}
}

// IsContextWindowExceeded checks for a typed context-window error, falling
// back to keyword matching on untyped errors.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeContextWindowExceeded
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context window") ||
		strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "too many tokens")
}

// IsRetryable reports whether err is a ProviderError that may be retried.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.ShouldAutoRetry()
	}
	return false
}
