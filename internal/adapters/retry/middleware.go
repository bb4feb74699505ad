package retry

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"marketwatch/pkg/errors"
	"marketwatch/pkg/reconnect"
)

// Strategy defines the retry strategy
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// Config contains retry configuration
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Strategy     Strategy
	Multiplier   float64 // exponential only
}

// DefaultConfig suits polled quote endpoints: a couple of quick retries, then give up until the next tick
func DefaultConfig() Config {
	return Config{
		MaxRetries:   2,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Strategy:     StrategyExponential,
		Multiplier:   2.0,
	}
}

// StatusError is implemented by errors carrying an HTTP status
type StatusError interface {
	StatusCode() int
}

// Middleware retries transient vendor failures with backoff
type Middleware struct {
	config Config
}

// New creates a retry middleware. MaxRetries = 0 means a single attempt.
func New(config Config) *Middleware {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 200 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 2 * time.Second
	}
	if config.Multiplier <= 1 {
		config.Multiplier = 2.0
	}
	if config.Strategy == "" {
		config.Strategy = StrategyExponential
	}

	return &Middleware{config: config}
}

// Do executes fn until it succeeds, fails permanently, or retries run out
func (m *Middleware) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= m.config.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == m.config.MaxRetries {
			break
		}

		timer := time.NewTimer(m.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "retry cancelled")
		case <-timer.C:
		}
	}

	if m.config.MaxRetries == 0 || !IsRetryable(lastErr) {
		return lastErr
	}
	return errors.Wrapf(lastErr, "max retries (%d) exceeded", m.config.MaxRetries)
}

// Delay returns the wait after the given zero-based attempt
func (m *Middleware) Delay(attempt int) time.Duration {
	switch m.config.Strategy {
	case StrategyFixed:
		return m.config.InitialDelay
	case StrategyLinear:
		return reconnect.ComputeDelay(attempt+1, m.config.InitialDelay, m.config.MaxDelay, 1)
	default:
		return reconnect.ComputeDelay(attempt+1, m.config.InitialDelay, m.config.MaxDelay, m.config.Multiplier)
	}
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var statusErr StatusError
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		return code == http.StatusTooManyRequests ||
			code == http.StatusRequestTimeout ||
			code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"temporary failure",
		"too many requests",
		"eof",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}
