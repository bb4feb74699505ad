package sources

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// DefaultStockBatchLimit is the number of symbols TwelveData's free tier accepts per call
const DefaultStockBatchLimit = 8

// TwelveData polls stock quotes in batches
type TwelveData struct {
	client     *jsonClient
	apiKey     string
	batchLimit int
	now        func() time.Time
}

// NewTwelveData creates a TwelveData source. Symbols beyond batchLimit are not requested.
func NewTwelveData(baseURL, apiKey string, batchLimit int, opts Options, log *logger.Logger) *TwelveData {
	if batchLimit <= 0 {
		batchLimit = DefaultStockBatchLimit
	}
	return &TwelveData{
		client:     newJSONClient(market.SourceTwelveData, baseURL, opts, log),
		apiKey:     apiKey,
		batchLimit: batchLimit,
		now:        time.Now,
	}
}

// Name identifies the source
func (t *TwelveData) Name() market.Source {
	return market.SourceTwelveData
}

// GetQuotes fetches the first batchLimit symbols in one call.
// A single-symbol response is a bare quote object; a multi-symbol response is keyed by symbol.
func (t *TwelveData) GetQuotes(ctx context.Context, symbols []string) ([]market.UniversalQuote, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	if len(symbols) > t.batchLimit {
		symbols = symbols[:t.batchLimit]
	}

	res, err := t.client.get(ctx, "quote", "/quote", url.Values{
		"symbol": {strings.Join(symbols, ",")},
		"apikey": {t.apiKey},
	})
	if err != nil {
		return nil, err
	}
	if res.Get("status").String() == "error" {
		return nil, vendorError(res)
	}

	var items []gjson.Result
	if res.Get("symbol").Exists() {
		items = append(items, res)
	} else {
		res.ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() && item.Get("symbol").Exists() {
				items = append(items, item)
			}
			return true
		})
	}

	quotes := make([]market.UniversalQuote, 0, len(items))
	for _, item := range items {
		price, ok := number(item.Get("close"))
		if !ok || !usable(price) {
			continue
		}
		change, _ := number(item.Get("percent_change"))

		ts := t.now()
		if sec := item.Get("timestamp").Int(); sec > 0 {
			ts = time.Unix(sec, 0)
		}

		symbol := strings.ToUpper(item.Get("symbol").String())
		quotes = append(quotes, market.UniversalQuote{
			Symbol:    symbol,
			Price:     price,
			ChangePct: change,
			Ts:        ts,
			Source:    market.SourceTwelveData,
			Type:      market.Classify(symbol),
		})
	}

	return quotes, nil
}

// Search uses symbol_search; queries shorter than two characters return nothing
func (t *TwelveData) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	q := strings.TrimSpace(query)
	if len(q) < 2 {
		return nil, nil
	}

	res, err := t.client.get(ctx, "symbol_search", "/symbol_search", url.Values{
		"symbol":     {q},
		"outputsize": {"10"},
		"apikey":     {t.apiKey},
	})
	if err != nil {
		return nil, err
	}

	var out []market.SearchResult
	res.Get("data").ForEach(func(_, item gjson.Result) bool {
		symbol := item.Get("symbol").String()
		if symbol == "" {
			return true
		}
		out = append(out, market.SearchResult{
			Symbol:      symbol,
			Description: item.Get("instrument_name").String(),
		})
		return true
	})
	return out, nil
}

// vendorError turns an in-band {"status":"error","code":429,...} payload into an error
func vendorError(res gjson.Result) error {
	msg := res.Get("message").String()
	if res.Get("code").Int() == 429 {
		return errors.Wrap(errors.ErrRateLimitExceeded, msg)
	}
	return errors.Wrap(errors.ErrUpstream, msg)
}
