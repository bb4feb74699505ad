package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// Result reports whether a dispatched action was applied
type Result struct {
	Accepted bool
	Err      error
}

// Config configures the store
type Config struct {
	LedgerCap int
	Strict    bool           // panic on unknown actions instead of logging them
	Tracker   errors.Tracker // optional, receives one breadcrumb per action
}

// Listener receives every processed state, in dispatch order
type Listener func(state market.MarketState)

type listener struct {
	id    uint64
	fn    Listener
	since uint64
}

type delivery struct {
	seq   uint64
	state market.MarketState
	only  *listener
}

// Store owns MarketState. Actions are reduced under a lock in dispatch order;
// listeners are notified outside the lock by whichever caller holds the drain,
// so a listener may dispatch again without deadlocking or reordering.
type Store struct {
	log     *logger.Logger
	env     Env
	strict  bool
	tracker errors.Tracker

	mu        sync.Mutex
	state     market.MarketState
	seq       uint64
	listeners []*listener
	nextID    uint64
	pending   []delivery
	draining  bool
	writer    *stateWriter // nil without a slot

	Watchlist      *Selector[[]market.WatchlistItem]
	SelectedSymbol *Selector[*string]
	Filters        *Selector[market.Filters]
	Settings       *Selector[market.Settings]
	Balance        *Selector[decimal.Decimal]
	Transactions   *Selector[[]market.Transaction]
	WatchlistCount *Selector[int]
}

// New constructs a store from the persisted slot merged over defaults. A nil slot
// disables persistence. The first state (@@INIT) is never written back.
func New(ctx context.Context, cfg Config, env Env, slot Slot, log *logger.Logger) *Store {
	env = env.normalized()
	if cfg.LedgerCap > 0 {
		env.LedgerCap = cfg.LedgerCap
	}
	if env.InitialBalance.IsZero() {
		env.InitialBalance = DefaultBalance
	}

	s := &Store{
		log:     log.With("component", "store"),
		env:     env,
		strict:  cfg.Strict,
		tracker: cfg.Tracker,
	}

	s.state = initialState(ctx, slot, env, s.log)
	s.seq = 1

	s.Watchlist = Select(s, func(st market.MarketState) []market.WatchlistItem { return st.Watchlist }, market.WatchlistEqual)
	s.SelectedSymbol = Select(s, func(st market.MarketState) *string { return st.SelectedSymbol }, market.StringPtrEqual)
	s.Filters = Select(s, func(st market.MarketState) market.Filters { return st.Filters }, market.Filters.Equal)
	s.Settings = Select(s, func(st market.MarketState) market.Settings { return st.Settings }, market.Settings.Equal)
	s.Balance = Select(s, func(st market.MarketState) decimal.Decimal { return st.Balance }, decimal.Decimal.Equal)
	s.Transactions = Select(s, func(st market.MarketState) []market.Transaction { return st.Transactions }, market.TransactionsEqual)
	s.WatchlistCount = Select(s, func(st market.MarketState) int { return len(st.Watchlist) }, eq[int])

	if slot != nil {
		s.attachPersistence(slot)
	}

	return s
}

// Flush blocks until every state persisted so far has reached the slot
func (s *Store) Flush() {
	if s.writer != nil {
		s.writer.flush()
	}
}

// Close writes the last pending state and stops the background writer.
// Transitions after Close are no longer persisted.
func (s *Store) Close() {
	if s.writer != nil {
		s.writer.close()
	}
}

// Snapshot returns the latest reduced state
func (s *Store) Snapshot() market.MarketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dispatch reduces action against the current state and notifies listeners.
func (s *Store) Dispatch(action Action) Result {
	if action == nil {
		return s.unknown(action, errors.Wrap(errors.ErrUnknownAction, "nil action"))
	}

	s.mu.Lock()
	next, err := Reduce(s.state, action, s.env)
	if errors.Is(err, errors.ErrUnknownAction) {
		s.mu.Unlock()
		return s.unknown(action, err)
	}

	s.state = next
	s.seq++
	s.pending = append(s.pending, delivery{seq: s.seq, state: next})
	s.drainLocked()

	if err != nil {
		metrics.RecordAction(string(action.Type()), "rejected")
		s.breadcrumb(action, errors.LevelWarning, err)
		s.log.Debugw("Action rejected", "action", action.Type(), "reason", err)
		return Result{Accepted: false, Err: err}
	}

	metrics.RecordAction(string(action.Type()), "accepted")
	s.breadcrumb(action, errors.LevelInfo, nil)
	return Result{Accepted: true}
}

func (s *Store) breadcrumb(action Action, level errors.Level, err error) {
	if s.tracker == nil {
		return
	}
	data := map[string]interface{}{"accepted": err == nil}
	if err != nil {
		data["reason"] = err.Error()
	}
	s.tracker.AddBreadcrumb(context.Background(), string(action.Type()), "store", level, data)
}

func (s *Store) unknown(action Action, err error) Result {
	metrics.RecordAction("unknown", "unknown")
	s.log.Errorw("Unknown action dispatched", "action", fmt.Sprintf("%T", action))
	if s.strict {
		panic(err)
	}
	return Result{Accepted: false, Err: err}
}

// Subscribe registers fn for every processed state. fn is first called with the
// current state, then once per subsequent action in dispatch order.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	s.mu.Lock()
	s.nextID++
	l := &listener{id: s.nextID, fn: fn, since: s.seq}
	s.listeners = append(s.listeners, l)
	s.pending = append(s.pending, delivery{seq: s.seq, state: s.state, only: l})
	s.drainLocked()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, x := range s.listeners {
			if x.id == l.id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// drainLocked delivers pending notifications and releases the lock.
// Only one caller drains at a time; others enqueue and return.
func (s *Store) drainLocked() {
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 {
		d := s.pending[0]
		s.pending = s.pending[1:]

		var targets []*listener
		if d.only != nil {
			if s.subscribed(d.only) {
				targets = []*listener{d.only}
			}
		} else {
			for _, l := range s.listeners {
				if l.since < d.seq {
					targets = append(targets, l)
				}
			}
		}

		s.mu.Unlock()
		for _, l := range targets {
			s.notify(l, d.state)
		}
		s.mu.Lock()
	}

	s.draining = false
	s.mu.Unlock()
}

func (s *Store) subscribed(l *listener) bool {
	for _, x := range s.listeners {
		if x.id == l.id {
			return true
		}
	}
	return false
}

func (s *Store) notify(l *listener, state market.MarketState) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorw("State listener panicked", "listener", l.id, "panic", r)
		}
	}()
	l.fn(state)
}

func eq[T comparable](a, b T) bool { return a == b }
