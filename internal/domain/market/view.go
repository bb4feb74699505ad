package market

import (
	"cmp"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// WatchlistVm is a watchlist row joined with its live quote and mark-to-market P&L
type WatchlistVm struct {
	WatchlistItem

	Price     float64   `json:"price"`
	ChangePct float64   `json:"changePct"`
	Ts        time.Time `json:"ts"`
	Source    Source    `json:"source"`
	Type      AssetType `json:"type"`

	HoldingValue  *decimal.Decimal `json:"holdingValue,omitempty"`
	InvestedValue *decimal.Decimal `json:"investedValue,omitempty"`
	PnL           *decimal.Decimal `json:"pnl,omitempty"`
	PnLPct        *float64         `json:"pnlPct,omitempty"`
}

// HasPnL reports whether P&L fields were derived for this row
func (v WatchlistVm) HasPnL() bool {
	return v.PnL != nil
}

// PlaceholderQuote is the zero quote used for symbols without data yet
func PlaceholderQuote(symbol string) UniversalQuote {
	return UniversalQuote{
		Symbol: symbol,
		Source: SourceNone,
		Type:   Classify(symbol),
	}
}

// Join merges watchlist items with the latest quotes. Items without a quote get a
// zero-price placeholder. P&L is derived only for held positions with a positive
// price and a non-zero invested value.
func Join(items []WatchlistItem, quotes map[string]UniversalQuote) []WatchlistVm {
	out := make([]WatchlistVm, 0, len(items))
	for _, item := range items {
		q, ok := quotes[item.Symbol]
		if !ok {
			q = PlaceholderQuote(item.Symbol)
		}
		if q.Type == "" {
			q.Type = Classify(item.Symbol)
		}

		vm := WatchlistVm{
			WatchlistItem: item,
			Price:         q.Price,
			ChangePct:     q.ChangePct,
			Ts:            q.Ts,
			Source:        q.Source,
			Type:          q.Type,
		}

		if item.Position != nil && q.Price > 0 {
			invested := item.Position.Quantity.Mul(item.Position.AvgPrice)
			if !invested.IsZero() {
				holding := item.Position.Quantity.Mul(decimal.NewFromFloat(q.Price))
				pnl := holding.Sub(invested)
				pnlPct := pnl.Div(invested).Mul(hundred).InexactFloat64()

				vm.InvestedValue = &invested
				vm.HoldingValue = &holding
				vm.PnL = &pnl
				vm.PnLPct = &pnlPct
			}
		}

		out = append(out, vm)
	}
	return out
}

// QuotesBySymbol indexes a quote snapshot by symbol
func QuotesBySymbol(quotes []UniversalQuote) map[string]UniversalQuote {
	out := make(map[string]UniversalQuote, len(quotes))
	for _, q := range quotes {
		out[q.Symbol] = q
	}
	return out
}

// FilterSort applies the class, query and min-change filters in that order,
// then stable-sorts by the configured key. The input slice is not modified.
func FilterSort(rows []WatchlistVm, f Filters) []WatchlistVm {
	query := strings.ToUpper(strings.TrimSpace(f.Query))

	out := make([]WatchlistVm, 0, len(rows))
	for _, r := range rows {
		if f.AssetType != FilterAll && f.AssetType != FilterStats && f.AssetType != "" {
			if string(r.Type) != string(f.AssetType) {
				continue
			}
		}
		if query != "" && !strings.Contains(r.Symbol, query) {
			continue
		}
		if f.MinChangePct != nil && r.ChangePct < *f.MinChangePct {
			continue
		}
		out = append(out, r)
	}

	dir := f.SortDir.Multiplier()
	sort.SliceStable(out, func(i, j int) bool {
		return compareRows(out[i], out[j], f.SortBy)*dir < 0
	})

	return out
}

func compareRows(a, b WatchlistVm, by SortBy) int {
	switch by {
	case SortBySymbol:
		return strings.Compare(a.Symbol, b.Symbol)
	case SortByChangePct:
		return cmp.Compare(a.ChangePct, b.ChangePct)
	case SortByPnL:
		return pnlOrZero(a).Cmp(pnlOrZero(b))
	default:
		return a.AddedAt.Compare(b.AddedAt)
	}
}

func pnlOrZero(v WatchlistVm) decimal.Decimal {
	if v.PnL == nil {
		return decimal.Zero
	}
	return *v.PnL
}
