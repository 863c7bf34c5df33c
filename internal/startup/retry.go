// Package startup retries boot-time initialization that depends on the
// network being up. A daemon started at boot often races its own DNS and
// upstream providers; anything else fails fast.
package startup

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig bounds the backoff ladder.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
	Multiplier   float64
}

// DefaultRetryConfig waits 5s, 10s, 20s, 40s between the five attempts,
// enough for a boot-time network to come up without stalling startup for
// minutes on a dead link.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 5 * time.Second,
		MaxDelay:     5 * time.Minute,
		MaxAttempts:  5,
		Multiplier:   2.0,
	}
}

// IsNetworkError reports whether err looks like the network being down
// rather than the request being wrong. Typed checks first; the string scan
// catches provider errors that flattened the cause into a message.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	var dnsErr *net.DNSError
	if errors.As(err, &netErr) || errors.As(err, &dnsErr) {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ENETUNREACH, syscall.EHOSTUNREACH} {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"network is unreachable",
		"no route to host",
		"i/o timeout",
		"temporary failure in name resolution",
	} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	return false
}

// WithRetry runs fn until it succeeds, the attempts are spent, or it fails
// with anything other than a network error. Non-network failures mean the
// request itself is bad (credentials, config) and repeating it will not
// help, so they return immediately.
func WithRetry(ctx context.Context, name string, cfg RetryConfig, fn func() error, logger zerolog.Logger) error {
	delay := cfg.InitialDelay

	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			if attempt > 1 {
				logger.Info().Str("operation", name).Int("attempt", attempt).Msg("Succeeded after retry")
			}
			return nil
		}
		if !IsNetworkError(err) {
			logger.Error().Err(err).Str("operation", name).Msg("Not a network error, giving up")
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn().Err(err).
			Str("operation", name).
			Int("attempt", attempt).
			Int("maxAttempts", cfg.MaxAttempts).
			Dur("nextRetryIn", delay).
			Msg("Network error, will retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		if delay = time.Duration(float64(delay) * cfg.Multiplier); delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	logger.Error().Err(err).Str("operation", name).Int("attempts", cfg.MaxAttempts).Msg("Failed after all retries")
	return err
}
