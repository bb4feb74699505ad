package reconnect

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"marketwatch/pkg/logger"
)

// Manager tracks reconnect attempts for a single long-lived connection and computes
// the delay before the next attempt. Attempts only reset through Reset, which callers
// invoke when the connection target changes (new token), not on a successful open.
type Manager struct {
	baseDelay        time.Duration
	maxDelay         time.Duration
	multiplier       float64
	heartbeatTimeout time.Duration

	mu        sync.RWMutex
	attempts  int
	lastError string

	lastEventAt atomic.Int64 // unix millis, 0 = never

	logger *logger.Logger
}

// Config configures the reconnect manager
type Config struct {
	BaseDelay        time.Duration // Delay unit (e.g. 1s)
	MaxDelay         time.Duration // Delay cap (e.g. 8s)
	Multiplier       float64       // <= 1 means linear growth (attempts * base), > 1 means exponential
	HeartbeatTimeout time.Duration // Max silence before the connection is considered stale (0 = disabled)
}

// NewManager creates a new reconnect manager with defaults matching the feed's policy
func NewManager(config Config, log *logger.Logger) *Manager {
	if config.BaseDelay <= 0 {
		config.BaseDelay = 1 * time.Second
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 8 * time.Second
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}

	return &Manager{
		baseDelay:        config.BaseDelay,
		maxDelay:         config.MaxDelay,
		multiplier:       config.Multiplier,
		heartbeatTimeout: config.HeartbeatTimeout,
		logger:           log,
	}
}

// Delay returns the wait before reconnect attempt number `attempt` (1-based).
// The result never exceeds the configured cap, whatever the attempt count.
func (m *Manager) Delay(attempt int) time.Duration {
	return ComputeDelay(attempt, m.baseDelay, m.maxDelay, m.multiplier)
}

// ComputeDelay is the pure backoff function behind Manager.Delay
func ComputeDelay(attempt int, base, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 0 {
		return 0
	}

	if multiplier <= 1 {
		// attempts * base, guarded against overflow
		if int64(attempt) > int64(max/base) {
			return max
		}
		d := time.Duration(attempt) * base
		if d > max {
			return max
		}
		return d
	}

	d := float64(base) * math.Pow(multiplier, float64(attempt-1))
	if math.IsInf(d, 0) || math.IsNaN(d) || d > float64(max) {
		return max
	}
	return time.Duration(d)
}

// NextAttempt increments and returns the attempt counter
func (m *Manager) NextAttempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	return m.attempts
}

// Attempts returns the current attempt counter
func (m *Manager) Attempts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attempts
}

// RecordFailure stores the failure reason for status reporting
func (m *Manager) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.lastError = err.Error()
	}

	m.logger.Warnw("Connection attempt failed",
		"attempts", m.attempts,
		"next_backoff", ComputeDelay(m.attempts, m.baseDelay, m.maxDelay, m.multiplier),
		"error", err,
	)
}

// LastError returns the last recorded failure reason
func (m *Manager) LastError() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// Reset clears attempts and the failure reason
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = 0
	m.lastError = ""
	m.lastEventAt.Store(0)
}

// RecordMessageReceived updates the last event timestamp
func (m *Manager) RecordMessageReceived() {
	m.lastEventAt.Store(time.Now().UnixMilli())
}

// LastEventAt returns the last inbound event time, zero if none
func (m *Manager) LastEventAt() time.Time {
	ms := m.lastEventAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// IsStale reports whether the connection has been silent longer than the heartbeat timeout
func (m *Manager) IsStale() bool {
	if m.heartbeatTimeout <= 0 {
		return false
	}
	last := m.LastEventAt()
	if last.IsZero() {
		return false
	}
	return time.Since(last) > m.heartbeatTimeout
}

// Wait blocks for the delay belonging to the current attempt count, or until ctx is done
func (m *Manager) Wait(ctx context.Context) error {
	backoff := m.Delay(m.Attempts())
	if backoff <= 0 {
		return ctx.Err()
	}

	m.logger.Infow("Waiting before reconnect attempt",
		"backoff", backoff,
	)

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats contains reconnection statistics
type Stats struct {
	Attempts    int
	NextBackoff time.Duration
	LastError   string
	LastEventAt time.Time
	IsStale     bool
}

// GetStats returns current reconnect manager stats
func (m *Manager) GetStats() Stats {
	attempts := m.Attempts()
	return Stats{
		Attempts:    attempts,
		NextBackoff: m.Delay(attempts),
		LastError:   m.LastError(),
		LastEventAt: m.LastEventAt(),
		IsStale:     m.IsStale(),
	}
}
