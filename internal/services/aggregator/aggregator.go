package aggregator

import (
	"context"
	"math"
	"sort"
	"time"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/pkg/logger"
)

// QuoteSource polls quotes for one asset class
type QuoteSource interface {
	Name() market.Source
	GetQuotes(ctx context.Context, symbols []string) ([]market.UniversalQuote, error)
}

// PushSource streams quotes one tick at a time
type PushSource interface {
	Available() bool
	Stream(ctx context.Context, symbols []string) <-chan market.UniversalQuote
}

// Default per-class poll floors; they protect vendor rate limits
const (
	DefaultCryptoFloor = 2 * time.Second
	DefaultStockFloor  = 15 * time.Second
	DefaultForexFloor  = 30 * time.Second
)

// Config wires the sources used by Watch
type Config struct {
	Crypto QuoteSource
	Stock  QuoteSource
	Forex  QuoteSource
	Push   PushSource // nil = crypto is always polled

	Floors          map[market.AssetType]time.Duration
	StockBatchLimit int  // 0 = no cap
	LiveTransport   bool // false = Watch emits one empty snapshot and does nothing else
}

// WatchOptions are the per-call parameters of Watch
type WatchOptions struct {
	Interval time.Duration // requested poll interval, raised to the class floor
	Push     bool          // prefer the push feed for crypto when it is available
}

// Aggregator merges push and polled quotes into a latest-per-symbol snapshot
type Aggregator struct {
	cfg    Config
	logger *logger.Logger
}

// New creates an aggregator
func New(cfg Config, log *logger.Logger) *Aggregator {
	floors := map[market.AssetType]time.Duration{
		market.AssetCrypto: DefaultCryptoFloor,
		market.AssetStock:  DefaultStockFloor,
		market.AssetForex:  DefaultForexFloor,
	}
	for class, floor := range cfg.Floors {
		floors[class] = floor
	}
	cfg.Floors = floors

	return &Aggregator{
		cfg:    cfg,
		logger: log.With("component", "aggregator"),
	}
}

type batch struct {
	source market.Source
	quotes []market.UniversalQuote
}

// Watch streams snapshots of the latest valid quote per symbol until ctx is done,
// then closes the channel. A snapshot is emitted only after a quote was replaced.
// The channel holds one snapshot; a slow reader only ever sees the newest one.
//
// With no symbols, or without live transport, a single empty snapshot is emitted and
// the channel is closed right away.
func (a *Aggregator) Watch(ctx context.Context, symbols []string, opts WatchOptions) <-chan []market.UniversalQuote {
	out := make(chan []market.UniversalQuote, 1)

	wanted := make(map[string]struct{}, len(symbols))
	var unique []string
	for _, s := range symbols {
		s = market.NormalizeSymbol(s)
		if _, dup := wanted[s]; s == "" || dup {
			continue
		}
		wanted[s] = struct{}{}
		unique = append(unique, s)
	}

	if len(unique) == 0 || !a.cfg.LiveTransport {
		out <- []market.UniversalQuote{}
		close(out)
		return out
	}

	updates := make(chan batch, 16)
	classes := market.Partition(unique)

	for _, class := range market.AllAssetTypes {
		group := classes[class]
		if len(group) == 0 {
			continue
		}

		if class == market.AssetCrypto && opts.Push && a.cfg.Push != nil && a.cfg.Push.Available() {
			a.logger.Debugw("Crypto driven by push feed", "symbols", len(group))
			go a.forwardPush(ctx, group, updates)
			continue
		}

		src := a.source(class)
		if src == nil {
			a.logger.Warnw("No quote source for class", "class", class)
			continue
		}

		if class == market.AssetStock && a.cfg.StockBatchLimit > 0 && len(group) > a.cfg.StockBatchLimit {
			group = group[:a.cfg.StockBatchLimit]
		}

		go a.poll(ctx, class, src, group, a.period(class, opts.Interval), updates)
	}

	go a.merge(ctx, wanted, updates, out)

	return out
}

func (a *Aggregator) source(class market.AssetType) QuoteSource {
	switch class {
	case market.AssetCrypto:
		return a.cfg.Crypto
	case market.AssetStock:
		return a.cfg.Stock
	case market.AssetForex:
		return a.cfg.Forex
	}
	return nil
}

// period is max(requested, floor); a non-positive result falls back to one second
func (a *Aggregator) period(class market.AssetType, requested time.Duration) time.Duration {
	p := requested
	if floor := a.cfg.Floors[class]; floor > p {
		p = floor
	}
	if p <= 0 {
		p = time.Second
	}
	return p
}

// merge owns the latest-per-symbol map
func (a *Aggregator) merge(ctx context.Context, wanted map[string]struct{}, updates <-chan batch, out chan []market.UniversalQuote) {
	defer close(out)

	latest := make(map[string]market.UniversalQuote, len(wanted))

	for {
		select {
		case <-ctx.Done():
			return
		case b := <-updates:
			replaced := false
			for _, q := range b.quotes {
				q.Symbol = market.NormalizeSymbol(q.Symbol)
				_, ok := wanted[q.Symbol]
				if !ok || !Acceptable(q) {
					metrics.RecordQuote(string(b.source), false)
					continue
				}
				metrics.RecordQuote(string(b.source), true)
				latest[q.Symbol] = q
				replaced = true
			}
			if replaced {
				publish(out, snapshot(latest))
			}
		}
	}
}

// Acceptable is the merge guard: only a positive, finite price may replace a stored quote
func Acceptable(q market.UniversalQuote) bool {
	return q.Price > 0 && !math.IsInf(q.Price, 0) && !math.IsNaN(q.Price)
}

// publish replaces any unread snapshot with the newest one
func publish(out chan []market.UniversalQuote, snap []market.UniversalQuote) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- snap
}

func snapshot(latest map[string]market.UniversalQuote) []market.UniversalQuote {
	snap := make([]market.UniversalQuote, 0, len(latest))
	for _, q := range latest {
		snap = append(snap, q)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Symbol < snap[j].Symbol })
	return snap
}

func (a *Aggregator) forwardPush(ctx context.Context, symbols []string, updates chan<- batch) {
	ticks := a.cfg.Push.Stream(ctx, symbols)
	for {
		select {
		case <-ctx.Done():
			return
		case q := <-ticks:
			select {
			case updates <- batch{source: q.Source, quotes: []market.UniversalQuote{q}}:
			case <-ctx.Done():
				return
			}
		}
	}
}
