package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/membank/internal/logging"
)

// RetryConfig configures retry behavior for agent invocations.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 1 (the orchestrators' per-component retry budget)
	MaxRetries int `koanf:"max_retries"`

	// InitialBackoff is the initial backoff duration.
	// Default: 2 seconds
	InitialBackoff time.Duration `koanf:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	// Default: 30 seconds
	MaxBackoff time.Duration `koanf:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64 `koanf:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        1,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// Retry runs an invocation with exponential backoff. Every failure kind is
// retried with the same scope; the turn budget and timeout already bound
// each individual attempt. Cancellation aborts between attempts, never
// mid-flight.
func Retry(ctx context.Context, cfg RetryConfig, log *logging.Logger, op func() (*Output, error)) (*Output, error) {
	cfg.ApplyDefaults()

	var lastErr error
	backoff := cfg.InitialBackoff
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		out, err := op()
		if err == nil {
			if attempt > 0 && log != nil {
				log.Info(ctx, "agent invocation recovered after retry",
					zap.Int("attempts", attempt+1),
					zap.Duration("total_time", time.Since(start)),
				)
			}
			return out, nil
		}

		lastErr = err
		observeRetry(ctx)

		if attempt == cfg.MaxRetries {
			break
		}

		if log != nil {
			log.Warn(ctx, "agent invocation failed, retrying",
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", cfg.MaxRetries+1),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("retry canceled: %w", ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	return nil, fmt.Errorf("agent invocation failed after %d retries: %w", cfg.MaxRetries, lastErr)
}
