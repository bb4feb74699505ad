package watch

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/services/aggregator"
	"marketwatch/internal/store"
	"marketwatch/pkg/logger"
)

// Feed is the part of the push feed manager the engine drives
type Feed interface {
	SetToken(token string)
	SetSubscriptions(symbols []string)
}

// QuoteWatcher produces merged quote snapshots
type QuoteWatcher interface {
	Watch(ctx context.Context, symbols []string, opts aggregator.WatchOptions) <-chan []market.UniversalQuote
}

// Config for the engine
type Config struct {
	// SeedToken is stored as settings.apiToken on start when the store has none
	SeedToken string
}

// View is one derived rendering of the market state
type View struct {
	Rows     []market.WatchlistVm // joined, unfiltered, watchlist order
	Filtered []market.WatchlistVm // filtered and sorted by the current filters
	Selected *market.WatchlistVm
	Stats    market.MarketStats
	Filters  market.Filters
	Balance  decimal.Decimal
	Quotes   int // symbols with a live quote
	Updated  time.Time
}

// plan is the quote pipeline configuration derived from the store
type plan struct {
	symbols  []string
	interval time.Duration
	push     bool // feed attached: ws mode with a token
}

func (p plan) key() string {
	var b strings.Builder
	b.WriteString(strings.Join(p.symbols, ","))
	b.WriteString("|")
	b.WriteString(p.interval.String())
	if p.push {
		b.WriteString("|push")
	}
	return b.String()
}

// Engine wires store selectors to the feed and the aggregator, and derives views
// from the latest state and quotes. Listeners always see the newest view; an
// intermediate view may be skipped when several changes land together.
type Engine struct {
	cfg    Config
	store  *store.Store
	feed   Feed
	quotes QuoteWatcher
	logger *logger.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	unsubs      []func()
	latest      map[string]market.UniversalQuote
	view        View
	planKey     string
	gen         uint64
	cancelWatch context.CancelFunc
	listeners   map[uint64]func(View)
	nextID      uint64

	deriveMu sync.Mutex
	changed  chan struct{}
	wg       sync.WaitGroup
}

// New creates an engine; nothing runs until Start
func New(cfg Config, st *store.Store, feed Feed, quotes QuoteWatcher, log *logger.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     st,
		feed:      feed,
		quotes:    quotes,
		logger:    log.With("component", "watch"),
		latest:    make(map[string]market.UniversalQuote),
		listeners: make(map[uint64]func(View)),
		changed:   make(chan struct{}, 1),
	}
}

// Start subscribes to the store and begins watching quotes. It returns immediately.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.cancel != nil {
		e.mu.Unlock()
		return
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	if seed := strings.TrimSpace(e.cfg.SeedToken); seed != "" && e.store.Settings.Get().Token() == "" {
		e.store.SetAPIToken(&seed)
		e.logger.Infow("Seeded feed token from config")
	}

	e.wg.Add(1)
	go e.notifyLoop()

	unsubs := []func(){
		e.store.Settings.Subscribe(func(s market.Settings) {
			e.feed.SetToken(feedToken(s))
			e.replan()
		}),
		e.store.Watchlist.Subscribe(func([]market.WatchlistItem) {
			e.resubscribe()
			e.replan()
			e.recompute()
		}),
		e.store.SelectedSymbol.Subscribe(func(*string) {
			e.resubscribe()
			e.replan()
			e.recompute()
		}),
		e.store.Filters.Subscribe(func(market.Filters) { e.recompute() }),
		e.store.Balance.Subscribe(func(decimal.Decimal) { e.recompute() }),
	}

	e.mu.Lock()
	e.unsubs = unsubs
	e.mu.Unlock()

	e.logger.Infow("Watch engine started")
}

// Stop detaches from the store, stops the quote pipeline and waits for the notifier
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.cancel == nil {
		e.mu.Unlock()
		return
	}
	unsubs := e.unsubs
	e.unsubs = nil
	e.cancel()
	if e.cancelWatch != nil {
		e.cancelWatch()
		e.cancelWatch = nil
	}
	e.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
	e.wg.Wait()
	e.logger.Infow("Watch engine stopped")
}

// View returns the latest derived view
func (e *Engine) View() View {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.view
}

// OnChange registers fn for view changes. fn is called from a single goroutine.
func (e *Engine) OnChange(fn func(View)) (unsubscribe func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

// feedToken attaches the feed only in push mode
func feedToken(s market.Settings) string {
	if s.LiveMode != market.LiveModeWS {
		return ""
	}
	return strings.TrimSpace(s.Token())
}

// watched is the watchlist plus the selected symbol, deduplicated, watchlist order first
func watched(st market.MarketState) []string {
	symbols := st.Symbols()
	if st.SelectedSymbol != nil {
		sel := market.NormalizeSymbol(*st.SelectedSymbol)
		if sel != "" && st.Find(sel) < 0 {
			symbols = append(symbols, sel)
		}
	}
	return symbols
}

func (e *Engine) resubscribe() {
	var crypto []string
	for _, s := range watched(e.store.Snapshot()) {
		if market.Classify(s) == market.AssetCrypto {
			crypto = append(crypto, s)
		}
	}
	e.feed.SetSubscriptions(crypto)
}

// replan restarts the quote pipeline when the symbol set, cadence or transport changed.
// Attaching or detaching the feed token switches crypto between push and polling.
// The previous watch is cancelled first so its in-flight polls are abandoned, and
// quotes for symbols no longer watched are dropped.
func (e *Engine) replan() {
	st := e.store.Snapshot()
	symbols := watched(st)
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	p := plan{
		symbols:  sorted,
		interval: st.Settings.RefreshInterval(),
		push:     feedToken(st.Settings) != "",
	}

	e.mu.Lock()
	if e.ctx == nil || e.ctx.Err() != nil {
		e.mu.Unlock()
		return
	}
	key := p.key()
	if key == e.planKey {
		e.mu.Unlock()
		return
	}
	e.planKey = key
	if e.cancelWatch != nil {
		e.cancelWatch()
	}
	e.gen++
	gen := e.gen
	keep := make(map[string]struct{}, len(symbols))
	for _, sym := range symbols {
		keep[sym] = struct{}{}
	}
	for sym := range e.latest {
		if _, ok := keep[sym]; !ok {
			delete(e.latest, sym)
		}
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.cancelWatch = cancel
	e.mu.Unlock()

	e.logger.Debugw("Restarting quote watch", "symbols", len(symbols), "interval", p.interval, "push", p.push)

	snapshots := e.quotes.Watch(ctx, symbols, aggregator.WatchOptions{Interval: p.interval, Push: p.push})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for snap := range snapshots {
			e.apply(gen, snap)
		}
	}()
}

// apply merges a snapshot from the current watch into the quote cache
func (e *Engine) apply(gen uint64, snap []market.UniversalQuote) {
	e.mu.Lock()
	if gen != e.gen {
		e.mu.Unlock()
		return
	}
	for _, q := range snap {
		e.latest[q.Symbol] = q
	}
	e.mu.Unlock()

	e.recompute()
}

// recompute derives a fresh view from the latest state and quotes
func (e *Engine) recompute() {
	e.deriveMu.Lock()
	defer e.deriveMu.Unlock()

	st := e.store.Snapshot()

	e.mu.Lock()
	quotes := make(map[string]market.UniversalQuote, len(e.latest))
	for sym, q := range e.latest {
		quotes[sym] = q
	}
	e.mu.Unlock()

	view := Derive(st, quotes)

	e.mu.Lock()
	e.view = view
	e.mu.Unlock()

	select {
	case e.changed <- struct{}{}:
	default:
	}
}

// Derive builds a view from a state snapshot and a quote index
func Derive(st market.MarketState, quotes map[string]market.UniversalQuote) View {
	rows := market.Join(st.Watchlist, quotes)

	view := View{
		Rows:     rows,
		Filtered: market.FilterSort(rows, st.Filters),
		Stats:    market.ComputeStats(rows, st.Balance),
		Filters:  st.Filters,
		Balance:  st.Balance,
		Updated:  time.Now(),
	}

	for _, r := range rows {
		if r.Price > 0 {
			view.Quotes++
		}
	}

	if st.SelectedSymbol != nil {
		sel := market.NormalizeSymbol(*st.SelectedSymbol)
		for i := range rows {
			if rows[i].Symbol == sel {
				selected := rows[i]
				view.Selected = &selected
				break
			}
		}
	}

	return view
}

func (e *Engine) notifyLoop() {
	defer e.wg.Done()

	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.changed:
		}

		e.mu.Lock()
		view := e.view
		fns := make([]func(View), 0, len(e.listeners))
		for _, fn := range e.listeners {
			fns = append(fns, fn)
		}
		e.mu.Unlock()

		for _, fn := range fns {
			e.notify(fn, view)
		}
	}
}

func (e *Engine) notify(fn func(View), view View) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("View listener panicked", "panic", r)
		}
	}()
	fn(view)
}
