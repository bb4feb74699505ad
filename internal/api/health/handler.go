package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"marketwatch/internal/adapters/feed"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
	"marketwatch/pkg/reconnect"
)

// Component states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc probes one component
type CheckFunc func(ctx context.Context) ComponentHealth

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      map[string]CheckFunc
	startTime   time.Time
	serviceName string
}

// New creates a health handler with no checks registered
func New(log *logger.Logger, serviceName string) *Handler {
	return &Handler{
		log:         log.With("component", "health"),
		checks:      make(map[string]CheckFunc),
		startTime:   time.Now(),
		serviceName: serviceName,
	}
}

// Register adds a named check; call before serving
func (h *Handler) Register(name string, check CheckFunc) *Handler {
	h.checks[name] = check
	return h
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"`
	Service   string                     `json:"service"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Detail       string `json:"detail,omitempty"`
	Error        string `json:"error,omitempty"`
}

// HandleLiveness returns 200 OK while the process runs
func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleHealth runs every check. Any unhealthy component makes the whole service
// unhealthy (503); degraded components still answer 200.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Evaluate(ctx)

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
		h.log.Warnw("Health check failed", "checks", status.Checks)
	}
	writeJSON(w, code, status)
}

// Evaluate runs all checks in name order
func (h *Handler) Evaluate(ctx context.Context) HealthStatus {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := HealthStatus{
		Status:    StatusHealthy,
		Service:   h.serviceName,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().Format(time.RFC3339),
		Checks:    make(map[string]ComponentHealth, len(names)),
	}

	for _, name := range names {
		res := h.checks[name](ctx)
		status.Checks[name] = res

		switch res.Status {
		case StatusUnhealthy:
			status.Status = StatusUnhealthy
		case StatusDegraded:
			if status.Status == StatusHealthy {
				status.Status = StatusDegraded
			}
		}
	}
	return status
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// SlotLoader is the read side of the persistence slot
type SlotLoader interface {
	Load(ctx context.Context) ([]byte, error)
}

// CheckSlot verifies the persistence slot answers; an empty slot is healthy
func CheckSlot(slot SlotLoader) CheckFunc {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		_, err := slot.Load(ctx)
		elapsed := time.Since(start).String()

		if err != nil && !errors.Is(err, errors.ErrNotFound) {
			return ComponentHealth{Status: StatusUnhealthy, ResponseTime: elapsed, Error: err.Error()}
		}
		return ComponentHealth{Status: StatusHealthy, ResponseTime: elapsed}
	}
}

// FeedStatus reports the push feed connection status
type FeedStatus interface {
	Status() feed.Status
	ReconnectStats() reconnect.Stats
}

// CheckFeed maps the connection state: detached, or open and receiving, is healthy;
// a silent open connection or any other state is degraded. The feed never makes
// the service unhealthy.
func CheckFeed(f FeedStatus) CheckFunc {
	return func(context.Context) ComponentHealth {
		s := f.Status()
		stats := f.ReconnectStats()
		res := ComponentHealth{Status: StatusHealthy, Detail: string(s.State)}

		switch s.State {
		case feed.StateIdle:
		case feed.StateOpen:
			if stats.IsStale {
				res.Status = StatusDegraded
				res.Detail = "open, stale"
			}
		default:
			res.Status = StatusDegraded
			res.Error = s.LastError
			if stats.Attempts > 0 {
				res.Detail = fmt.Sprintf("%s, attempt %d, next retry in %s", s.State, stats.Attempts, stats.NextBackoff)
			}
		}
		if !s.LastEventAt.IsZero() {
			res.ResponseTime = time.Since(s.LastEventAt).Round(time.Millisecond).String()
		}
		return res
	}
}
