package aggregator

import (
	"context"
	"time"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/pkg/errors"
)

type pollResult struct {
	seq    uint64
	quotes []market.UniversalQuote
	err    error
}

// poll fetches one class on a ticker, starting immediately.
// A new tick abandons the request still in flight (switch semantics): its context is
// cancelled and whatever it returns afterwards is discarded.
func (a *Aggregator) poll(ctx context.Context, class market.AssetType, src QuoteSource, symbols []string, period time.Duration, updates chan<- batch) {
	log := a.logger.With("class", class, "source", src.Name())
	log.Debugw("Polling started", "symbols", len(symbols), "period", period)

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	results := make(chan pollResult)
	var seq uint64
	var cancelInflight context.CancelFunc
	defer func() {
		if cancelInflight != nil {
			cancelInflight()
		}
	}()

	start := func() {
		if cancelInflight != nil {
			cancelInflight()
		}
		seq++
		reqCtx, cancel := context.WithCancel(ctx)
		cancelInflight = cancel

		go func(seq uint64) {
			r := fetch(reqCtx, src, symbols)
			r.seq = seq
			select {
			case results <- r:
			case <-ctx.Done():
			}
		}(seq)
	}

	start()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			start()

		case r := <-results:
			if r.seq != seq {
				continue // superseded
			}
			cancelInflight()
			cancelInflight = nil

			if r.err != nil {
				metrics.RecordPollFailure(string(class))
				log.Warnw("Quote poll failed", "error", r.err)
				continue
			}
			if len(r.quotes) == 0 {
				continue
			}

			select {
			case updates <- batch{source: src.Name(), quotes: r.quotes}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// fetch turns a panicking source into a failed poll
func fetch(ctx context.Context, src QuoteSource, symbols []string) (r pollResult) {
	defer func() {
		if p := recover(); p != nil {
			r = pollResult{err: errors.Newf("quote source %s panicked: %v", src.Name(), p)}
		}
	}()
	r.quotes, r.err = src.GetQuotes(ctx, symbols)
	return r
}
