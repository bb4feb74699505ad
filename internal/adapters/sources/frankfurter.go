package sources

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/logger"
)

const frankfurterSearchLimit = 10

// Frankfurter polls ECB reference rates, one request per base currency
type Frankfurter struct {
	client *jsonClient
	now    func() time.Time

	mu         sync.Mutex
	currencies map[string]string
}

// NewFrankfurter creates a Frankfurter source; no API key is needed
func NewFrankfurter(baseURL string, opts Options, log *logger.Logger) *Frankfurter {
	return &Frankfurter{
		client: newJSONClient(market.SourceFrankfurter, baseURL, opts, log),
		now:    time.Now,
	}
}

// Name identifies the source
func (f *Frankfurter) Name() market.Source {
	return market.SourceFrankfurter
}

// SplitPair reads "EURUSD", "EUR/USD" or "EUR-USD" as base and quote currency
func SplitPair(symbol string) (base, quote string, ok bool) {
	clean := strings.NewReplacer("/", "", "-", "").Replace(strings.ToUpper(symbol))
	if len(clean) != 6 {
		return "", "", false
	}
	return clean[:3], clean[3:], true
}

// GetQuotes groups pairs by base currency and issues one /latest call per base.
// A failing base is skipped; the call only fails when every base failed.
func (f *Frankfurter) GetQuotes(ctx context.Context, symbols []string) ([]market.UniversalQuote, error) {
	type leg struct{ symbol, quote string }

	byBase := make(map[string][]leg)
	var bases []string
	for _, s := range symbols {
		base, quote, ok := SplitPair(s)
		if !ok {
			continue
		}
		if _, seen := byBase[base]; !seen {
			bases = append(bases, base)
		}
		byBase[base] = append(byBase[base], leg{symbol: s, quote: quote})
	}

	var quotes []market.UniversalQuote
	var lastErr error
	failed := 0

	for _, base := range bases {
		legs := byBase[base]
		targets := make([]string, 0, len(legs))
		for _, l := range legs {
			targets = append(targets, l.quote)
		}

		res, err := f.client.get(ctx, "latest", "/latest", url.Values{
			"from": {base},
			"to":   {strings.Join(targets, ",")},
		})
		if err != nil {
			f.client.logger.Warnw("Forex rate request failed", "base", base, "error", err)
			lastErr = err
			failed++
			continue
		}

		ts := f.now()
		if d, err := time.Parse("2006-01-02", res.Get("date").String()); err == nil {
			ts = d
		}

		for _, l := range legs {
			rate, ok := number(res.Get("rates." + l.quote))
			if !ok || !usable(rate) {
				continue
			}
			quotes = append(quotes, market.UniversalQuote{
				Symbol: l.symbol,
				Price:  rate,
				Ts:     ts,
				Source: market.SourceFrankfurter,
				Type:   market.AssetForex,
			})
		}
	}

	if len(bases) > 0 && failed == len(bases) {
		return nil, lastErr
	}
	return quotes, nil
}

// Search matches currency codes and names and suggests the pair against USD
// (or EURUSD when the match is USD itself)
func (f *Frankfurter) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	q := strings.ToUpper(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	currencies, err := f.currencyList(ctx)
	if err != nil {
		return nil, err
	}

	codes := make([]string, 0, len(currencies))
	for code := range currencies {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var out []market.SearchResult
	for _, code := range codes {
		name := currencies[code]
		if !strings.HasPrefix(code, q) && !strings.Contains(strings.ToUpper(name), q) {
			continue
		}
		pair, desc := code+"USD", name+" / US Dollar"
		if code == "USD" {
			pair, desc = "EURUSD", "Euro / US Dollar"
		}
		out = append(out, market.SearchResult{Symbol: pair, Description: desc})
		if len(out) == frankfurterSearchLimit {
			break
		}
	}
	return out, nil
}

func (f *Frankfurter) currencyList(ctx context.Context) (map[string]string, error) {
	f.mu.Lock()
	cached := f.currencies
	f.mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	res, err := f.client.get(ctx, "currencies", "/currencies", nil)
	if err != nil {
		return nil, err
	}

	currencies := make(map[string]string)
	res.ForEach(func(code, name gjson.Result) bool {
		currencies[code.String()] = name.String()
		return true
	})

	f.mu.Lock()
	f.currencies = currencies
	f.mu.Unlock()
	return currencies, nil
}
