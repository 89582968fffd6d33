package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// ReconnectPolicy defines exponential backoff between connection attempts.
type ReconnectPolicy struct {
	// MaxAttempts counts the first attempt too.
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultReconnectPolicy returns a default reconnection policy.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// NextDelay returns the wait after the failed attempt number retry (0-based).
func (p ReconnectPolicy) NextDelay(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(retry))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// EnsureConnected connects c unless it already is, retrying under policy.
// Version mismatches and context cancellation end the attempts early.
func EnsureConnected(ctx context.Context, c *Client, policy ReconnectPolicy) error {
	if c.Connected() {
		return nil
	}
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.NextDelay(attempt - 1)
			log.Debug().
				Str("server", c.ID()).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("reconnecting to capability server")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		lastErr = c.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrVersionMismatch) || ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, lastErr)
}
