package sources

import (
	"context"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/logger"
)

const (
	binanceSearchLimit  = 10
	binanceHistoryLimit = 100
	exchangeInfoTTL     = time.Hour
)

var binanceIntervals = map[string]struct{}{
	"1m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "1w": {}, "1M": {},
}

// Binance polls crypto quotes, searches pairs and serves klines from the public REST API
type Binance struct {
	client *jsonClient
	now    func() time.Time

	mu        sync.Mutex
	pairs     []market.SearchResult
	fetchedAt time.Time
}

// NewBinance creates a Binance REST source; no API key is needed
func NewBinance(baseURL string, opts Options, log *logger.Logger) *Binance {
	return &Binance{
		client: newJSONClient(market.SourceBinance, baseURL, opts, log),
		now:    time.Now,
	}
}

// Name identifies the source
func (b *Binance) Name() market.Source {
	return market.SourceBinance
}

// pairFor maps a watched symbol onto a Binance trading pair; bare coins quote against USDT
func pairFor(symbol string) string {
	if strings.HasSuffix(symbol, "USDT") || strings.HasSuffix(symbol, "BUSD") {
		return symbol
	}
	return symbol + "USDT"
}

// GetQuotes fetches 24h tickers for all symbols in one request
func (b *Binance) GetQuotes(ctx context.Context, symbols []string) ([]market.UniversalQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}

	watched := make(map[string]string, len(symbols))
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		p := pairFor(s)
		if _, dup := watched[p]; dup {
			continue
		}
		watched[p] = s
		pairs = append(pairs, p)
	}

	encoded, _ := json.Marshal(pairs)
	res, err := b.client.get(ctx, "ticker_24hr", "/api/v3/ticker/24hr", url.Values{"symbols": {string(encoded)}})
	if err != nil {
		return nil, err
	}

	quotes := make([]market.UniversalQuote, 0, len(pairs))
	res.ForEach(func(_, item gjson.Result) bool {
		symbol, ok := watched[item.Get("symbol").String()]
		if !ok {
			return true
		}
		price, ok := number(item.Get("lastPrice"))
		if !ok || !usable(price) {
			return true
		}
		change, _ := number(item.Get("priceChangePercent"))

		ts := b.now()
		if ms := item.Get("closeTime").Int(); ms > 0 {
			ts = time.UnixMilli(ms)
		}

		quotes = append(quotes, market.UniversalQuote{
			Symbol:    symbol,
			Price:     price,
			ChangePct: change,
			Ts:        ts,
			Source:    market.SourceBinance,
			Type:      market.AssetCrypto,
		})
		return true
	})

	return quotes, nil
}

// Search filters trading pairs by symbol substring. The pair list is cached for an hour.
func (b *Binance) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	pairs, err := b.tradingPairs(ctx)
	if err != nil {
		return nil, err
	}

	var prefix, contains []market.SearchResult
	for _, p := range pairs {
		switch {
		case strings.HasPrefix(p.Symbol, q):
			prefix = append(prefix, p)
		case strings.Contains(p.Symbol, q):
			contains = append(contains, p)
		}
	}

	out := append(prefix, contains...)
	if len(out) > binanceSearchLimit {
		out = out[:binanceSearchLimit]
	}
	return out, nil
}

func (b *Binance) tradingPairs(ctx context.Context) ([]market.SearchResult, error) {
	b.mu.Lock()
	if b.pairs != nil && b.now().Sub(b.fetchedAt) < exchangeInfoTTL {
		pairs := b.pairs
		b.mu.Unlock()
		return pairs, nil
	}
	b.mu.Unlock()

	res, err := b.client.get(ctx, "exchange_info", "/api/v3/exchangeInfo", nil)
	if err != nil {
		return nil, err
	}

	var pairs []market.SearchResult
	res.Get("symbols").ForEach(func(_, item gjson.Result) bool {
		if item.Get("status").String() != "TRADING" {
			return true
		}
		pairs = append(pairs, market.SearchResult{
			Symbol:      item.Get("symbol").String(),
			Description: item.Get("baseAsset").String() + "/" + item.Get("quoteAsset").String(),
		})
		return true
	})
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Symbol < pairs[j].Symbol })

	b.mu.Lock()
	b.pairs = pairs
	b.fetchedAt = b.now()
	b.mu.Unlock()

	return pairs, nil
}

// History returns up to 100 klines, oldest first. Unknown intervals fall back to 1h.
func (b *Binance) History(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	if _, ok := binanceIntervals[interval]; !ok {
		interval = "1h"
	}

	res, err := b.client.get(ctx, "klines", "/api/v3/klines", url.Values{
		"symbol":   {pairFor(symbol)},
		"interval": {interval},
		"limit":    {strconv.Itoa(binanceHistoryLimit)},
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, binanceHistoryLimit)
	res.ForEach(func(_, k gjson.Result) bool {
		row := k.Array()
		if len(row) < 6 {
			return true
		}
		open, ok1 := number(row[1])
		high, ok2 := number(row[2])
		low, ok3 := number(row[3])
		closePrice, ok4 := number(row[4])
		if !(ok1 && ok2 && ok3 && ok4) {
			return true
		}
		candle := market.Candle{
			Time:  row[0].Int() / 1000,
			Open:  open,
			High:  high,
			Low:   low,
			Close: closePrice,
		}
		if v, ok := number(row[5]); ok {
			candle.Volume = &v
		}
		candles = append(candles, candle)
		return true
	})

	return candles, nil
}
