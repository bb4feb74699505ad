package feed

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"marketwatch/internal/metrics"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
	"marketwatch/pkg/reconnect"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 20 * time.Second
	writeWait               = 10 * time.Second
	closeGracePeriod        = 5 * time.Second
)

// State is the connection lifecycle of the push feed
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	StateError      State = "error"
)

// Status is the observable connection status
type Status struct {
	State       State
	Attempts    int
	LastError   string
	LastEventAt time.Time // zero until the first frame
}

// Tick is one trade print pushed by the feed
type Tick struct {
	Symbol string
	Price  float64
	Ts     time.Time
	Volume float64
}

// Config configures the push feed connection
type Config struct {
	URL              string // e.g. wss://ws.finnhub.io
	TokenParam       string // query parameter carrying the token
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	HeartbeatTimeout time.Duration // read deadline; 0 disables
}

type outgoing struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`
}

type tickSub struct {
	symbols map[string]struct{} // nil = every symbol
	fn      func(Tick)
}

// Manager owns a single websocket session to the push feed.
// The session is keyed by token: SetToken restarts it, a cleared token detaches it.
// Failed sessions reconnect with linear backoff capped at MaxDelay.
type Manager struct {
	cfg     Config
	backoff *reconnect.Manager
	logger  *logger.Logger

	// writeMu serializes outbound frames with the desired-set bookkeeping so a
	// resubscribe on open never interleaves with a concurrent diff
	writeMu sync.Mutex

	mu      sync.Mutex
	root    context.Context
	stop    context.CancelFunc
	gen     uint64
	token   string
	cancel  context.CancelFunc
	done    chan struct{}
	conn    *websocket.Conn
	desired map[string]struct{}
	status  Status

	nextID     int
	statusSubs map[int]func(Status)
	tickSubs   map[int]tickSub
}

// NewManager creates an idle feed manager. Nothing is dialed until SetToken.
func NewManager(cfg Config, log *logger.Logger) *Manager {
	if cfg.TokenParam == "" {
		cfg.TokenParam = "token"
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}

	log = log.With("component", "push_feed")
	root, stop := context.WithCancel(context.Background())

	return &Manager{
		cfg: cfg,
		backoff: reconnect.NewManager(reconnect.Config{
			BaseDelay:        cfg.BaseDelay,
			MaxDelay:         cfg.MaxDelay,
			HeartbeatTimeout: cfg.HeartbeatTimeout,
		}, log),
		logger:     log,
		root:       root,
		stop:       stop,
		desired:    make(map[string]struct{}),
		status:     Status{State: StateIdle},
		statusSubs: make(map[int]func(Status)),
		tickSubs:   make(map[int]tickSub),
	}
}

// SetToken restarts the connection against a new token.
// An empty token tears the session down and parks the manager in idle; no reconnect follows.
// Setting the token already in use is a no-op.
func (m *Manager) SetToken(token string) {
	token = strings.TrimSpace(token)

	m.mu.Lock()
	if m.root.Err() != nil {
		m.mu.Unlock()
		return
	}
	if token == m.token && (token == "" || m.cancel != nil) {
		m.mu.Unlock()
		return
	}

	m.teardownLocked()
	m.token = token
	m.backoff.Reset()

	if token == "" {
		status := m.setStatusLocked(StateIdle, "")
		m.mu.Unlock()
		m.publishStatus(status)
		return
	}

	ctx, cancel := context.WithCancel(m.root)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	gen := m.gen
	m.mu.Unlock()

	go m.run(ctx, gen, token, done)
}

// teardownLocked cancels the current session; its goroutine exits on its own
func (m *Manager) teardownLocked() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		closeGracefully(m.conn)
		m.conn = nil
	}
}

// SetSubscriptions replaces the desired symbol set.
// While open, only the difference is sent; otherwise the set is remembered for the next open.
func (m *Manager) SetSubscriptions(symbols []string) {
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			next[s] = struct{}{}
		}
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	var msgs []outgoing
	for s := range m.desired {
		if _, ok := next[s]; !ok {
			msgs = append(msgs, outgoing{Type: "unsubscribe", Symbol: s})
		}
	}
	for s := range next {
		if _, ok := m.desired[s]; !ok {
			msgs = append(msgs, outgoing{Type: "subscribe", Symbol: s})
		}
	}
	m.desired = next
	conn := m.openConnLocked()
	m.mu.Unlock()

	if conn == nil {
		return
	}
	for _, msg := range msgs {
		m.write(conn, msg)
	}
}

// Desired returns the desired subscription set, sorted
func (m *Manager) Desired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.desired)
}

// HasToken reports whether a session is attached
func (m *Manager) HasToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token != "" && m.root.Err() == nil
}

// Status returns the current connection status
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// ReconnectStats reports backoff bookkeeping and whether the open connection went silent
func (m *Manager) ReconnectStats() reconnect.Stats {
	return m.backoff.GetStats()
}

// OnStatus registers fn for status changes and replays the current status
func (m *Manager) OnStatus(fn func(Status)) (unsubscribe func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.statusSubs[id] = fn
	current := m.status
	m.mu.Unlock()

	fn(current)

	return func() {
		m.mu.Lock()
		delete(m.statusSubs, id)
		m.mu.Unlock()
	}
}

// OnTick registers fn for trade ticks on the given symbols (all symbols when empty).
// Ticks are delivered on the read goroutine, in arrival order.
func (m *Manager) OnTick(symbols []string, fn func(Tick)) (unsubscribe func()) {
	sub := tickSub{fn: fn}
	if len(symbols) > 0 {
		sub.symbols = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			sub.symbols[strings.ToUpper(s)] = struct{}{}
		}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.tickSubs[id] = sub
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.tickSubs, id)
		m.mu.Unlock()
	}
}

// Close detaches the session permanently and waits for its goroutine to exit
func (m *Manager) Close() error {
	m.mu.Lock()
	done := m.done
	m.teardownLocked()
	m.stop()
	status := m.setStatusLocked(StateIdle, "")
	m.mu.Unlock()

	m.publishStatus(status)

	if done == nil {
		return nil
	}
	select {
	case <-done:
		m.logger.Info("Push feed closed")
		return nil
	case <-time.After(closeGracePeriod):
		m.logger.Warn("Timeout waiting for push feed goroutine")
		return errors.ErrTimeout
	}
}

// run drives one token's session until it is torn down
func (m *Manager) run(ctx context.Context, gen uint64, token string, done chan struct{}) {
	defer close(done)

	for {
		if !m.transition(gen, StateConnecting, "") {
			return
		}

		err := m.session(ctx, gen, token)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.ErrWSClosedByPeer
		}

		state := StateError
		if errors.Is(err, errors.ErrWSClosedByPeer) {
			state = StateClosed
		}

		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return
		}
		m.backoff.NextAttempt()
		m.backoff.RecordFailure(err)
		status := m.setStatusLocked(state, err.Error())
		m.mu.Unlock()

		m.publishStatus(status)
		metrics.FeedReconnects.Inc()

		if m.backoff.Wait(ctx) != nil {
			return
		}
	}
}

// session dials a fresh connection and reads until it fails
func (m *Manager) session(ctx context.Context, gen uint64, token string) error {
	endpoint, err := m.endpoint(token)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "failed to dial push feed")
	}

	if !m.attach(gen, conn) {
		_ = conn.Close()
		return ctx.Err()
	}
	defer m.detach(conn)

	pingDone := make(chan struct{})
	defer close(pingDone)
	go m.pingLoop(conn, pingDone)

	return m.readLoop(conn)
}

func (m *Manager) endpoint(token string) (string, error) {
	u, err := url.Parse(m.cfg.URL)
	if err != nil {
		return "", errors.Wrapf(errors.ErrInvalidInput, "feed url %q: %v", m.cfg.URL, err)
	}
	q := u.Query()
	q.Set(m.cfg.TokenParam, token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// attach publishes conn as the live connection and resubscribes the desired set
func (m *Manager) attach(gen uint64, conn *websocket.Conn) bool {
	m.writeMu.Lock()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		m.writeMu.Unlock()
		return false
	}
	m.conn = conn
	m.backoff.RecordMessageReceived()
	status := m.setStatusLocked(StateOpen, "")
	symbols := sortedKeys(m.desired)
	m.mu.Unlock()

	for _, s := range symbols {
		m.write(conn, outgoing{Type: "subscribe", Symbol: s})
	}
	m.writeMu.Unlock()

	m.logger.Infow("Push feed connected", "subscriptions", len(symbols))
	m.publishStatus(status)
	return true
}

func (m *Manager) detach(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.mu.Unlock()
	_ = conn.Close()
}

func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		if m.cfg.HeartbeatTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(m.cfg.HeartbeatTimeout))
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.Wrap(errors.ErrWSClosedByPeer, err.Error())
			}
			return errors.Wrap(err, "push feed read failed")
		}

		m.touch()
		m.dispatch(ParseFrame(message))
	}
}

// pingLoop keeps intermediaries from idling the connection out
func (m *Manager) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				m.logger.Debugw("Ping failed", "error", err)
				return
			}
		}
	}
}

// touch records an inbound frame and refreshes lastEventAt in the status
func (m *Manager) touch() {
	m.backoff.RecordMessageReceived()

	m.mu.Lock()
	m.status.LastEventAt = m.backoff.LastEventAt()
	m.mu.Unlock()
}

func (m *Manager) dispatch(ticks []Tick, dropped int) {
	for i := 0; i < dropped; i++ {
		metrics.RecordFeedTick(false)
	}
	if len(ticks) == 0 {
		return
	}

	m.mu.Lock()
	subs := make([]tickSub, 0, len(m.tickSubs))
	for _, sub := range m.tickSubs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	for _, tick := range ticks {
		metrics.RecordFeedTick(true)
		for _, sub := range subs {
			if sub.symbols != nil {
				if _, ok := sub.symbols[tick.Symbol]; !ok {
					continue
				}
			}
			sub.fn(tick)
		}
	}
}

// write sends one frame; failures are left for the read loop to surface
func (m *Manager) write(conn *websocket.Conn, msg outgoing) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		m.logger.Debugw("Failed to send feed frame", "type", msg.Type, "symbol", msg.Symbol, "error", err)
	}
}

func (m *Manager) openConnLocked() *websocket.Conn {
	if m.status.State != StateOpen {
		return nil
	}
	return m.conn
}

func (m *Manager) transition(gen uint64, state State, lastError string) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	status := m.setStatusLocked(state, lastError)
	m.mu.Unlock()

	m.publishStatus(status)
	return true
}

func (m *Manager) setStatusLocked(state State, lastError string) Status {
	m.status = Status{
		State:       state,
		Attempts:    m.backoff.Attempts(),
		LastError:   lastError,
		LastEventAt: m.backoff.LastEventAt(),
	}
	if state == StateIdle {
		m.status.LastEventAt = time.Time{}
	}
	metrics.RecordFeedState(string(state))
	return m.status
}

func (m *Manager) publishStatus(status Status) {
	m.mu.Lock()
	subs := make([]func(Status), 0, len(m.statusSubs))
	for _, fn := range m.statusSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(status)
	}
}

func closeGracefully(conn *websocket.Conn) {
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = conn.Close()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
