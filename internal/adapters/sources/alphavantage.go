package sources

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

const alphaVantageHistoryLimit = 100

// AlphaVantage serves stock search, daily history and per-symbol quotes
type AlphaVantage struct {
	client *jsonClient
	apiKey string
	now    func() time.Time
}

// NewAlphaVantage creates an Alpha Vantage source
func NewAlphaVantage(baseURL, apiKey string, opts Options, log *logger.Logger) *AlphaVantage {
	return &AlphaVantage{
		client: newJSONClient(market.SourceAlphaVantage, baseURL, opts, log),
		apiKey: apiKey,
		now:    time.Now,
	}
}

// Name identifies the source
func (a *AlphaVantage) Name() market.Source {
	return market.SourceAlphaVantage
}

func (a *AlphaVantage) query(ctx context.Context, endpoint string, params url.Values) (gjson.Result, error) {
	params.Set("function", endpoint)
	params.Set("apikey", a.apiKey)

	res, err := a.client.get(ctx, strings.ToLower(endpoint), "/query", params)
	if err != nil {
		return res, err
	}

	// throttling and bad keys come back as 200 with a note instead of data
	if note := res.Get("Note"); note.Exists() {
		return gjson.Result{}, errors.Wrap(errors.ErrRateLimitExceeded, note.String())
	}
	if info := res.Get("Information"); info.Exists() {
		return gjson.Result{}, errors.Wrap(errors.ErrRateLimitExceeded, info.String())
	}
	if msg := res.Get("Error Message"); msg.Exists() {
		return gjson.Result{}, errors.Wrap(errors.ErrUpstream, msg.String())
	}
	return res, nil
}

// GetQuotes issues one GLOBAL_QUOTE per symbol; the endpoint has no batch form.
// Symbols that fail are skipped; the call only fails when all of them did.
func (a *AlphaVantage) GetQuotes(ctx context.Context, symbols []string) ([]market.UniversalQuote, error) {
	var quotes []market.UniversalQuote
	var lastErr error

	for _, symbol := range symbols {
		res, err := a.query(ctx, "GLOBAL_QUOTE", url.Values{"symbol": {symbol}})
		if err != nil {
			lastErr = err
			if ctx.Err() != nil || errors.Is(err, errors.ErrRateLimitExceeded) {
				break
			}
			continue
		}

		data := res.Get("Global Quote")
		price, ok := number(data.Get("05\\. price"))
		if !ok || !usable(price) {
			continue
		}
		change, _ := number(data.Get("10\\. change percent"))

		quotes = append(quotes, market.UniversalQuote{
			Symbol:    strings.ToUpper(symbol),
			Price:     price,
			ChangePct: change,
			Ts:        a.now(),
			Source:    market.SourceAlphaVantage,
			Type:      market.AssetStock,
		})
	}

	if len(quotes) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return quotes, nil
}

// Search uses SYMBOL_SEARCH; descriptions read "Name (Region)"
func (a *AlphaVantage) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}

	res, err := a.query(ctx, "SYMBOL_SEARCH", url.Values{"keywords": {q}})
	if err != nil {
		return nil, err
	}

	var out []market.SearchResult
	res.Get("bestMatches").ForEach(func(_, m gjson.Result) bool {
		symbol := m.Get("1\\. symbol").String()
		if symbol == "" {
			return true
		}
		out = append(out, market.SearchResult{
			Symbol:      symbol,
			Description: m.Get("2\\. name").String() + " (" + m.Get("4\\. region").String() + ")",
		})
		return true
	})
	return out, nil
}

// History returns the latest 100 daily candles in ascending order
func (a *AlphaVantage) History(ctx context.Context, symbol, _ string) ([]market.Candle, error) {
	res, err := a.query(ctx, "TIME_SERIES_DAILY", url.Values{"symbol": {symbol}})
	if err != nil {
		return nil, err
	}

	// the series is keyed by date, newest first
	var candles []market.Candle
	res.Get("Time Series (Daily)").ForEach(func(date, bar gjson.Result) bool {
		day, err := time.Parse("2006-01-02", date.String())
		if err != nil {
			return true
		}
		open, ok1 := number(bar.Get("1\\. open"))
		high, ok2 := number(bar.Get("2\\. high"))
		low, ok3 := number(bar.Get("3\\. low"))
		closePrice, ok4 := number(bar.Get("4\\. close"))
		if !(ok1 && ok2 && ok3 && ok4) {
			return true
		}

		candle := market.Candle{Time: day.Unix(), Open: open, High: high, Low: low, Close: closePrice}
		if v, ok := number(bar.Get("5\\. volume")); ok {
			candle.Volume = &v
		}
		candles = append(candles, candle)
		return len(candles) < alphaVantageHistoryLimit
	})

	sort.Slice(candles, func(i, j int) bool { return candles[i].Time < candles[j].Time })
	return candles, nil
}
