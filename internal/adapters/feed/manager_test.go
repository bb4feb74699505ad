package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

// wsServer is a minimal push feed that records subscription frames
type wsServer struct {
	srv      *httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	tokens   []string
	received chan outgoing
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{received: make(chan outgoing, 64)}
	upgrader := websocket.Upgrader{}

	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.tokens = append(s.tokens, r.URL.Query().Get("token"))
		s.mu.Unlock()

		for {
			var msg outgoing
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.received <- msg
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *wsServer) token(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[i]
}

func (s *wsServer) latest() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

func (s *wsServer) send(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, s.latest().WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (s *wsServer) closeLatest() {
	conn := s.latest()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
		time.Now().Add(time.Second))
	_ = conn.Close()
}

func (s *wsServer) expect(t *testing.T, want ...outgoing) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-s.received:
			assert.Equal(t, w, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %+v", w)
		}
	}
}

func (s *wsServer) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case got := <-s.received:
		t.Fatalf("unexpected frame %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func newTestManager(t *testing.T, srv *wsServer) *Manager {
	t.Helper()
	m := NewManager(Config{
		URL:          srv.url(),
		BaseDelay:    10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		PingInterval: time.Minute,
	}, testLogger())
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func waitForState(t *testing.T, m *Manager, state State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return m.Status().State == state
	}, 2*time.Second, 5*time.Millisecond, "never reached %s", state)
}

func TestManager_StartsIdle(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	assert.Equal(t, StateIdle, m.Status().State)

	// sends while not open are no-ops
	m.SetSubscriptions([]string{"btcusdt", " ethusdt ", ""})
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, m.Desired())
	assert.Equal(t, 0, srv.connCount())
}

func TestManager_SubscribesDesiredOnOpen(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	m.SetSubscriptions([]string{"ETHUSDT", "BTCUSDT"})
	m.SetToken(" tok-1 ")

	waitForState(t, m, StateOpen)
	srv.expect(t,
		outgoing{Type: "subscribe", Symbol: "BTCUSDT"},
		outgoing{Type: "subscribe", Symbol: "ETHUSDT"},
	)
	assert.Equal(t, "tok-1", srv.token(0))
	assert.Equal(t, 0, m.Status().Attempts)
}

func TestManager_SendsOnlyTheDifference(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	m.SetSubscriptions([]string{"BTCUSDT", "ETHUSDT"})
	m.SetToken("tok")
	waitForState(t, m, StateOpen)
	srv.expect(t,
		outgoing{Type: "subscribe", Symbol: "BTCUSDT"},
		outgoing{Type: "subscribe", Symbol: "ETHUSDT"},
	)

	m.SetSubscriptions([]string{"ETHUSDT", "SOLUSDT"})
	srv.expect(t,
		outgoing{Type: "unsubscribe", Symbol: "BTCUSDT"},
		outgoing{Type: "subscribe", Symbol: "SOLUSDT"},
	)

	m.SetSubscriptions([]string{"solusdt", "ETHUSDT"})
	srv.expectNothing(t)
}

func TestManager_DeliversWellFormedTicks(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	ticks := make(chan Tick, 8)
	m.OnTick([]string{"BTCUSDT"}, func(tick Tick) { ticks <- tick })

	m.SetToken("tok")
	waitForState(t, m, StateOpen)

	srv.send(t, `not json`)
	srv.send(t, `{"type":"ping"}`)
	srv.send(t, `{"type":"trade","data":[
		{"p":"oops","s":"BTCUSDT","t":1700000000000},
		{"p":5,"s":"ETHUSDT","t":1700000000001,"v":1},
		{"p":101.5,"s":"btcusdt","t":1700000000002,"v":0.25}
	]}`)

	select {
	case tick := <-ticks:
		assert.Equal(t, "BTCUSDT", tick.Symbol)
		assert.Equal(t, 101.5, tick.Price)
		assert.Equal(t, 0.25, tick.Volume)
		assert.Equal(t, int64(1700000000002), tick.Ts.UnixMilli())
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}

	select {
	case tick := <-ticks:
		t.Fatalf("unexpected tick %+v", tick)
	case <-time.After(50 * time.Millisecond):
	}

	assert.False(t, m.Status().LastEventAt.IsZero())
}

func TestManager_ReconnectsAndResubscribes(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	var mu sync.Mutex
	var states []State
	m.OnStatus(func(s Status) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	})

	m.SetSubscriptions([]string{"BTCUSDT"})
	m.SetToken("tok")
	waitForState(t, m, StateOpen)
	srv.expect(t, outgoing{Type: "subscribe", Symbol: "BTCUSDT"})

	srv.closeLatest()

	require.Eventually(t, func() bool { return srv.connCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	waitForState(t, m, StateOpen)
	srv.expect(t, outgoing{Type: "subscribe", Symbol: "BTCUSDT"})

	assert.Equal(t, 1, m.Status().Attempts, "attempts survive a successful reopen")

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, states, StateClosed)
	assert.Equal(t, StateIdle, states[0], "current status is replayed on subscribe")
}

func TestManager_ClearingTokenDetaches(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	m.SetToken("tok")
	waitForState(t, m, StateOpen)

	m.SetToken("")
	assert.Equal(t, StateIdle, m.Status().State)

	assert.Never(t, func() bool {
		return srv.connCount() > 1 || m.Status().State != StateIdle
	}, 200*time.Millisecond, 10*time.Millisecond, "teardown must not reconnect")
}

func TestManager_NewTokenRestartsSession(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)

	m.SetToken("first")
	waitForState(t, m, StateOpen)
	srv.closeLatest()
	require.Eventually(t, func() bool { return m.Status().Attempts >= 1 }, 2*time.Second, 5*time.Millisecond)

	m.SetToken("second")
	require.Eventually(t, func() bool {
		n := srv.connCount()
		return srv.token(n-1) == "second" && m.Status().State == StateOpen
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 0, m.Status().Attempts, "a fresh token resets attempts")
}

func TestManager_DialFailureBacksOff(t *testing.T) {
	m := NewManager(Config{
		URL:       "ws://127.0.0.1:1",
		BaseDelay: 5 * time.Millisecond,
		MaxDelay:  10 * time.Millisecond,
	}, testLogger())
	defer m.Close()

	m.SetToken("tok")

	require.Eventually(t, func() bool { return m.Status().Attempts >= 3 }, 2*time.Second, 5*time.Millisecond)
	status := m.Status()
	assert.Contains(t, []State{StateError, StateConnecting}, status.State)

	stats := m.ReconnectStats()
	assert.GreaterOrEqual(t, stats.Attempts, 3)
	assert.LessOrEqual(t, stats.NextBackoff, 10*time.Millisecond, "backoff stays under the cap")
	assert.NotEmpty(t, stats.LastError)
	assert.False(t, stats.IsStale, "no event was ever received")
}

func TestQuoteStream_ChangeAgainstFirstPrice(t *testing.T) {
	srv := newWSServer(t)
	m := newTestManager(t, srv)
	stream := NewQuoteStream(m)

	assert.False(t, stream.Available())
	m.SetToken("tok")
	assert.True(t, stream.Available())
	waitForState(t, m, StateOpen)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	quotes := stream.Stream(ctx, []string{"BTCUSDT"})

	srv.send(t, `{"type":"trade","data":[{"p":100,"s":"BTCUSDT","t":1700000000000,"v":1}]}`)
	srv.send(t, `{"type":"trade","data":[{"p":110,"s":"BTCUSDT","t":1700000001000,"v":1}]}`)

	var got []market.UniversalQuote
	for len(got) < 2 {
		select {
		case q := <-quotes:
			got = append(got, q)
		case <-time.After(2 * time.Second):
			t.Fatal("stream stalled")
		}
	}

	assert.Equal(t, 0.0, got[0].ChangePct)
	assert.Equal(t, 10.0, got[1].ChangePct)
	assert.Equal(t, market.SourceFeed, got[1].Source)
	assert.Equal(t, market.AssetCrypto, got[1].Type)
}
