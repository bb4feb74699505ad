package feed

import (
	"context"
	"math"
	"sync"

	"marketwatch/internal/domain/market"
)

const streamBuffer = 256

// QuoteStream adapts feed ticks into UniversalQuotes for the aggregator
type QuoteStream struct {
	manager *Manager
}

// NewQuoteStream wraps a feed manager
func NewQuoteStream(manager *Manager) *QuoteStream {
	return &QuoteStream{manager: manager}
}

// Name identifies the source in metrics
func (q *QuoteStream) Name() market.Source {
	return market.SourceFeed
}

// Available reports whether a token is attached, i.e. the feed is connected or trying to be
func (q *QuoteStream) Available() bool {
	return q.manager.HasToken()
}

// Stream delivers one quote per tick for symbols until ctx is done.
// changePct is measured against the first price seen for the symbol in this stream.
// Ticks that arrive while the consumer is behind are dropped; later ticks supersede them.
// The channel is never closed, consumers stop on ctx.
func (q *QuoteStream) Stream(ctx context.Context, symbols []string) <-chan market.UniversalQuote {
	out := make(chan market.UniversalQuote, streamBuffer)

	var mu sync.Mutex
	opens := make(map[string]float64, len(symbols))

	unsubscribe := q.manager.OnTick(symbols, func(t Tick) {
		mu.Lock()
		open, ok := opens[t.Symbol]
		if !ok && t.Price > 0 {
			open = t.Price
			opens[t.Symbol] = open
		}
		mu.Unlock()

		quote := market.UniversalQuote{
			Symbol:    t.Symbol,
			Price:     t.Price,
			ChangePct: changePct(open, t.Price),
			Ts:        t.Ts,
			Source:    market.SourceFeed,
			Type:      market.Classify(t.Symbol),
		}

		select {
		case <-ctx.Done():
		case out <- quote:
		default:
			q.manager.logger.Debugw("Dropping tick, consumer behind", "symbol", t.Symbol)
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
	}()

	return out
}

func changePct(open, price float64) float64 {
	if open <= 0 {
		return 0
	}
	pct := (price - open) / open * 100
	return math.Round(pct*100) / 100
}
