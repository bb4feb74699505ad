package watch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/services/aggregator"
	"marketwatch/internal/store"
	"marketwatch/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

type fakeFeed struct {
	mu     sync.Mutex
	tokens []string
	subs   [][]string
}

func (f *fakeFeed) SetToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
}

func (f *fakeFeed) SetSubscriptions(symbols []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, append([]string(nil), symbols...))
}

func (f *fakeFeed) lastToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tokens) == 0 {
		return "<none>"
	}
	return f.tokens[len(f.tokens)-1]
}

func (f *fakeFeed) lastSubs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) == 0 {
		return nil
	}
	return f.subs[len(f.subs)-1]
}

type watchCall struct {
	ctx     context.Context
	symbols []string
	opts    aggregator.WatchOptions
	out     chan []market.UniversalQuote
}

// fakeWatcher hands the test one channel per Watch call; each closes when its ctx ends
type fakeWatcher struct {
	mu    sync.Mutex
	calls []*watchCall
}

func (w *fakeWatcher) Watch(ctx context.Context, symbols []string, opts aggregator.WatchOptions) <-chan []market.UniversalQuote {
	call := &watchCall{ctx: ctx, symbols: symbols, opts: opts, out: make(chan []market.UniversalQuote)}
	w.mu.Lock()
	w.calls = append(w.calls, call)
	w.mu.Unlock()

	out := make(chan []market.UniversalQuote)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-call.out:
				select {
				case out <- snap:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func (w *fakeWatcher) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.calls)
}

func (w *fakeWatcher) latest() *watchCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[len(w.calls)-1]
}

func (c *watchCall) send(t *testing.T, quotes ...market.UniversalQuote) {
	t.Helper()
	select {
	case c.out <- quotes:
	case <-time.After(2 * time.Second):
		t.Fatal("watch consumer not reading")
	}
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *store.Store, *fakeFeed, *fakeWatcher) {
	t.Helper()
	st := store.New(context.Background(), store.Config{}, store.DefaultEnv(), nil, testLogger())
	feed := &fakeFeed{}
	watcher := &fakeWatcher{}
	e := New(cfg, st, feed, watcher, testLogger())
	e.Start(context.Background())
	t.Cleanup(e.Stop)
	return e, st, feed, watcher
}

func rowPrice(v View, symbol string) float64 {
	for _, r := range v.Rows {
		if r.Symbol == symbol {
			return r.Price
		}
	}
	return -1
}

func quote(symbol string, price, change float64) market.UniversalQuote {
	return market.UniversalQuote{Symbol: symbol, Price: price, ChangePct: change, Source: market.SourceSynthetic, Type: market.Classify(symbol)}
}

func TestEngine_SeedsTokenAndAttachesFeedInPushMode(t *testing.T) {
	_, st, feed, _ := newTestEngine(t, Config{SeedToken: " tok "})

	assert.Equal(t, "tok", st.Settings.Get().Token())
	assert.Equal(t, "tok", feed.lastToken())

	st.SetLiveMode(market.LiveModePoll)
	assert.Equal(t, "", feed.lastToken(), "poll mode detaches the feed")

	st.SetLiveMode(market.LiveModeWS)
	assert.Equal(t, "tok", feed.lastToken())

	st.SetAPIToken(nil)
	assert.Equal(t, "", feed.lastToken())
}

func TestEngine_SeedDoesNotOverrideStoredToken(t *testing.T) {
	st := store.New(context.Background(), store.Config{}, store.DefaultEnv(), nil, testLogger())
	stored := "mine"
	st.SetAPIToken(&stored)

	e := New(Config{SeedToken: "env"}, st, &fakeFeed{}, &fakeWatcher{}, testLogger())
	e.Start(context.Background())
	defer e.Stop()

	assert.Equal(t, "mine", st.Settings.Get().Token())
}

func TestEngine_SubscribesCryptoOfWatchlistAndSelection(t *testing.T) {
	_, st, feed, _ := newTestEngine(t, Config{})

	assert.Empty(t, feed.lastSubs(), "default watchlist holds only stocks")

	st.AddSymbol("BTCUSDT")
	assert.Equal(t, []string{"BTCUSDT"}, feed.lastSubs())

	sel := "ethusdt"
	st.SelectSymbol(&sel)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, feed.lastSubs())

	st.RemoveSymbol("BTCUSDT")
	assert.Equal(t, []string{"ETHUSDT"}, feed.lastSubs())
}

func TestEngine_RestartsWatchOnlyWhenPlanChanges(t *testing.T) {
	_, st, _, watcher := newTestEngine(t, Config{SeedToken: "tok"})

	require.Equal(t, 1, watcher.count())
	first := watcher.latest()
	assert.ElementsMatch(t, []string{"AAPL", "MSFT", "TSLA"}, first.symbols)
	assert.Equal(t, time.Duration(store.DefaultRefreshMs)*time.Millisecond, first.opts.Interval)
	assert.True(t, first.opts.Push)

	st.SetQuery("AA")
	st.ExecuteOrder(market.OrderBuy, "AAPL", decimal.NewFromInt(1), decimal.NewFromInt(10))
	assert.Equal(t, 1, watcher.count(), "filters and trades on watched symbols keep the stream")

	st.SetRefreshMs(5000)
	require.Equal(t, 2, watcher.count())
	assert.Error(t, first.ctx.Err(), "previous watch is cancelled")
	assert.Equal(t, 5*time.Second, watcher.latest().opts.Interval)

	st.SetLiveMode(market.LiveModePoll)
	require.Equal(t, 3, watcher.count())
	assert.False(t, watcher.latest().opts.Push)

	st.AddSymbol("EURUSD")
	require.Equal(t, 4, watcher.count())
	assert.Contains(t, watcher.latest().symbols, "EURUSD")

	st.SetLiveMode(market.LiveModeWS)
	require.Equal(t, 5, watcher.count())
	assert.True(t, watcher.latest().opts.Push)

	st.SetAPIToken(nil)
	require.Equal(t, 6, watcher.count(), "clearing the token detaches push")
	assert.False(t, watcher.latest().opts.Push)
}

func TestEngine_DropsQuotesOfRemovedSymbols(t *testing.T) {
	e, st, _, watcher := newTestEngine(t, Config{})

	st.AddSymbol("NVDA")
	watcher.latest().send(t, quote("NVDA", 5, 1))
	require.Eventually(t, func() bool { return rowPrice(e.View(), "NVDA") == 5 }, 2*time.Second, 5*time.Millisecond)

	st.RemoveSymbol("NVDA")
	e.mu.Lock()
	_, cached := e.latest["NVDA"]
	e.mu.Unlock()
	assert.False(t, cached)

	st.AddSymbol("NVDA")
	assert.Zero(t, rowPrice(e.View(), "NVDA"), "a re-added symbol waits for a fresh quote")
}

func TestEngine_DerivesViewFromQuotes(t *testing.T) {
	e, st, _, watcher := newTestEngine(t, Config{})

	views := make(chan View, 1)
	e.OnChange(func(v View) {
		select {
		case views <- v:
		default:
		}
	})

	st.UpdatePosition("AAPL", decimal.NewFromInt(2), decimal.NewFromInt(100))
	watcher.latest().send(t, quote("AAPL", 110, 1.5), quote("MSFT", 400, -2))

	require.Eventually(t, func() bool { return e.View().Quotes == 2 }, 2*time.Second, 5*time.Millisecond)

	view := e.View()
	require.Len(t, view.Rows, 3)
	assert.True(t, view.Stats.TotalPnL.Equal(decimal.NewFromInt(20)))
	assert.True(t, view.Stats.NetWorth.Equal(st.Balance.Get().Add(decimal.NewFromInt(220))))
	require.NotNil(t, view.Stats.TopGainer)
	assert.Equal(t, "AAPL", view.Stats.TopGainer.Symbol)

	st.SetAssetType(market.FilterStock)
	st.SetQuery("ms")
	require.Eventually(t, func() bool {
		v := e.View()
		return len(v.Filtered) == 1 && v.Filtered[0].Symbol == "MSFT"
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-views:
	case <-time.After(2 * time.Second):
		t.Fatal("listener never notified")
	}
}

func TestEngine_IgnoresSnapshotsFromCancelledWatch(t *testing.T) {
	e, st, _, watcher := newTestEngine(t, Config{})
	old := watcher.latest()

	st.SetRefreshMs(5000)
	require.Equal(t, 2, watcher.count())

	select {
	case old.out <- []market.UniversalQuote{quote("AAPL", 1, 0)}:
		t.Fatal("cancelled watch must not be consumed")
	case <-time.After(50 * time.Millisecond):
	}

	watcher.latest().send(t, quote("AAPL", 2, 0))
	require.Eventually(t, func() bool {
		for _, r := range e.View().Rows {
			if r.Symbol == "AAPL" {
				return r.Price == 2
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_SelectedRow(t *testing.T) {
	e, st, _, _ := newTestEngine(t, Config{})

	sel := "msft"
	st.SelectSymbol(&sel)

	require.Eventually(t, func() bool {
		v := e.View()
		return v.Selected != nil && v.Selected.Symbol == "MSFT"
	}, 2*time.Second, 5*time.Millisecond)

	st.SelectSymbol(nil)
	require.Eventually(t, func() bool { return e.View().Selected == nil }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_StopClosesWatch(t *testing.T) {
	st := store.New(context.Background(), store.Config{}, store.DefaultEnv(), nil, testLogger())
	watcher := &fakeWatcher{}
	e := New(Config{}, st, &fakeFeed{}, watcher, testLogger())
	e.Start(context.Background())

	e.Stop()
	assert.Error(t, watcher.latest().ctx.Err())

	st.SetRefreshMs(9000)
	assert.Equal(t, 1, watcher.count(), "no restarts after stop")
}

func TestDerive_EmptyState(t *testing.T) {
	view := Derive(market.MarketState{Balance: decimal.NewFromInt(5)}, nil)

	assert.Empty(t, view.Rows)
	assert.Empty(t, view.Filtered)
	assert.Nil(t, view.Stats.TopGainer)
	assert.Len(t, view.Stats.Distribution, 3)
	assert.True(t, view.Stats.NetWorth.Equal(decimal.NewFromInt(5)))
}

// pushFeed is both the feed the engine drives and the push source the aggregator
// reads; it is available while a token is attached
type pushFeed struct {
	mu      sync.Mutex
	token   string
	streams []chan market.UniversalQuote
}

func (p *pushFeed) SetToken(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = token
}

func (p *pushFeed) SetSubscriptions([]string) {}

func (p *pushFeed) Available() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token != ""
}

func (p *pushFeed) Stream(_ context.Context, _ []string) <-chan market.UniversalQuote {
	ch := make(chan market.UniversalQuote, 16)
	p.mu.Lock()
	p.streams = append(p.streams, ch)
	p.mu.Unlock()
	return ch
}

func (p *pushFeed) streamCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

func (p *pushFeed) tick(q market.UniversalQuote) {
	p.mu.Lock()
	ch := p.streams[len(p.streams)-1]
	p.mu.Unlock()
	ch <- q
}

type countingSource struct {
	price float64
	calls atomic.Int32
}

func (c *countingSource) Name() market.Source { return market.SourceSynthetic }

func (c *countingSource) GetQuotes(_ context.Context, symbols []string) ([]market.UniversalQuote, error) {
	c.calls.Add(1)
	out := make([]market.UniversalQuote, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, quote(s, c.price, 0))
	}
	return out, nil
}

func TestEngine_TokenSwitchesCryptoBetweenPushAndPolling(t *testing.T) {
	st := store.New(context.Background(), store.Config{}, store.DefaultEnv(), nil, testLogger())
	st.AddSymbol("BTCUSDT")

	feed := &pushFeed{}
	crypto := &countingSource{price: 42}
	stocks := &countingSource{price: 100}
	agg := aggregator.New(aggregator.Config{
		Crypto:        crypto,
		Stock:         stocks,
		Forex:         stocks,
		Push:          feed,
		Floors:        map[market.AssetType]time.Duration{market.AssetCrypto: 0, market.AssetStock: 0, market.AssetForex: 0},
		LiveTransport: true,
	}, testLogger())

	e := New(Config{SeedToken: "tok"}, st, feed, agg, testLogger())
	e.Start(context.Background())
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool { return feed.streamCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, crypto.calls.Load(), "crypto is pushed while the token is attached")
	feed.tick(quote("BTCUSDT", 101, 0))
	require.Eventually(t, func() bool { return rowPrice(e.View(), "BTCUSDT") == 101 }, 2*time.Second, 5*time.Millisecond)

	st.SetAPIToken(nil)
	require.Eventually(t, func() bool {
		return crypto.calls.Load() > 0 && rowPrice(e.View(), "BTCUSDT") == 42
	}, 2*time.Second, 5*time.Millisecond, "crypto falls back to polling")

	token := "tok2"
	st.SetAPIToken(&token)
	require.Eventually(t, func() bool { return feed.streamCount() == 2 }, 2*time.Second, 5*time.Millisecond,
		"a new token moves crypto back to push")
	feed.tick(quote("BTCUSDT", 202, 0))
	require.Eventually(t, func() bool { return rowPrice(e.View(), "BTCUSDT") == 202 }, 2*time.Second, 5*time.Millisecond)
}
