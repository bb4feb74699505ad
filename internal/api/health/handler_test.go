package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketwatch/internal/adapters/feed"
	"marketwatch/internal/adapters/persistence"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
	"marketwatch/pkg/reconnect"
)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

type staticFeed struct {
	status feed.Status
	stats  reconnect.Stats
}

func (s staticFeed) Status() feed.Status             { return s.status }
func (s staticFeed) ReconnectStats() reconnect.Stats { return s.stats }

type failingSlot struct{ err error }

func (f failingSlot) Load(context.Context) ([]byte, error) { return nil, f.err }

func TestCheckSlot(t *testing.T) {
	tests := []struct {
		name string
		slot SlotLoader
		want string
	}{
		{name: "empty memory slot", slot: persistence.NewMemorySlot(), want: StatusHealthy},
		{name: "not found", slot: failingSlot{err: errors.ErrNotFound}, want: StatusHealthy},
		{name: "broken", slot: failingSlot{err: errors.ErrUnavailable}, want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CheckSlot(tt.slot)(context.Background()).Status)
		})
	}
}

func TestCheckFeed(t *testing.T) {
	tests := []struct {
		name       string
		state      feed.State
		stats      reconnect.Stats
		wantStatus string
		wantDetail string
	}{
		{name: "detached", state: feed.StateIdle, wantStatus: StatusHealthy, wantDetail: "idle"},
		{name: "open", state: feed.StateOpen, wantStatus: StatusHealthy, wantDetail: "open"},
		{name: "open but silent", state: feed.StateOpen, stats: reconnect.Stats{IsStale: true}, wantStatus: StatusDegraded, wantDetail: "open, stale"},
		{name: "connecting", state: feed.StateConnecting, wantStatus: StatusDegraded, wantDetail: "connecting"},
		{
			name:       "backing off",
			state:      feed.StateError,
			stats:      reconnect.Stats{Attempts: 3, NextBackoff: 3 * time.Second},
			wantStatus: StatusDegraded,
			wantDetail: "error, attempt 3, next retry in 3s",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := staticFeed{status: feed.Status{State: tt.state, LastError: "x", LastEventAt: time.Now()}, stats: tt.stats}
			res := CheckFeed(f)(context.Background())

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantDetail, res.Detail)
			assert.NotEmpty(t, res.ResponseTime)
		})
	}
}

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name       string
		feedState  feed.State
		slot       SlotLoader
		wantStatus string
		wantCode   int
	}{
		{name: "all good", feedState: feed.StateOpen, slot: persistence.NewMemorySlot(), wantStatus: StatusHealthy, wantCode: http.StatusOK},
		{name: "feed reconnecting", feedState: feed.StateClosed, slot: persistence.NewMemorySlot(), wantStatus: StatusDegraded, wantCode: http.StatusOK},
		{name: "slot down", feedState: feed.StateClosed, slot: failingSlot{err: errors.ErrUnavailable}, wantStatus: StatusUnhealthy, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(testLogger(), "marketwatch").
				Register("persistence", CheckSlot(tt.slot)).
				Register("feed", CheckFeed(staticFeed{status: feed.Status{State: tt.feedState}}))

			rec := httptest.NewRecorder()
			h.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body.Status)
			assert.Equal(t, "marketwatch", body.Service)
			assert.Len(t, body.Checks, 2)
		})
	}
}

func TestHandleLiveness(t *testing.T) {
	rec := httptest.NewRecorder()
	New(testLogger(), "marketwatch").HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}
