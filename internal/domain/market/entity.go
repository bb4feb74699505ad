package market

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source identifies where a quote came from
type Source string

const (
	SourceBinance      Source = "binance"
	SourceTwelveData   Source = "twelvedata"
	SourceFrankfurter  Source = "frankfurter"
	SourceAlphaVantage Source = "alphavantage"
	SourceSynthetic    Source = "synthetic"
	SourceFeed         Source = "feed"
	SourceNone         Source = "none"
)

// UniversalQuote is the normalized quote every source produces
type UniversalQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	ChangePct float64   `json:"changePct"`
	Ts        time.Time `json:"ts"`
	Source    Source    `json:"source"`
	Type      AssetType `json:"type"`
}

// Candle is one OHLC bar, Time in unix seconds
type Candle struct {
	Time   int64    `json:"time"`
	Open   float64  `json:"open"`
	High   float64  `json:"high"`
	Low    float64  `json:"low"`
	Close  float64  `json:"close"`
	Volume *float64 `json:"volume,omitempty"`
}

// SearchResult is one autocomplete hit
type SearchResult struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

// Position is a held quantity with its weighted-average cost.
// A zero quantity is never stored; the position is removed instead.
type Position struct {
	Quantity decimal.Decimal `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avgPrice"`
}

// Equal compares positions by value
func (p *Position) Equal(o *Position) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Quantity.Equal(o.Quantity) && p.AvgPrice.Equal(o.AvgPrice)
}

// WatchlistItem is one watched symbol
type WatchlistItem struct {
	Symbol   string    `json:"symbol"`
	AddedAt  time.Time `json:"addedAt"`
	Position *Position `json:"position,omitempty"`
}

// OrderSide defines buy or sell
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// Valid checks if order side is valid
func (s OrderSide) Valid() bool {
	return s == OrderBuy || s == OrderSell
}

// String returns string representation
func (s OrderSide) String() string {
	return string(s)
}

// Transaction is an immutable ledger entry
type Transaction struct {
	ID     uuid.UUID       `json:"id"`
	Side   OrderSide       `json:"side"`
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
	Total  decimal.Decimal `json:"total"`
	Date   time.Time       `json:"date"`
}

// SortBy is the row ordering key
type SortBy string

const (
	SortBySymbol    SortBy = "symbol"
	SortByAddedAt   SortBy = "addedAt"
	SortByChangePct SortBy = "changePct"
	SortByPnL       SortBy = "pnl"
)

// Valid checks if sort key is valid
func (s SortBy) Valid() bool {
	switch s {
	case SortBySymbol, SortByAddedAt, SortByChangePct, SortByPnL:
		return true
	}
	return false
}

// SortDir is the row ordering direction
type SortDir string

const (
	SortAsc  SortDir = "asc"
	SortDesc SortDir = "desc"
)

// Valid checks if sort direction is valid
func (d SortDir) Valid() bool {
	return d == SortAsc || d == SortDesc
}

// Multiplier returns +1 for asc and -1 for desc
func (d SortDir) Multiplier() int {
	if d == SortAsc {
		return 1
	}
	return -1
}

// AssetFilter narrows rows by class. ALL and STATS disable class filtering.
type AssetFilter string

const (
	FilterAll    AssetFilter = "ALL"
	FilterCrypto AssetFilter = "CRYPTO"
	FilterForex  AssetFilter = "FOREX"
	FilterStock  AssetFilter = "STOCK"
	FilterStats  AssetFilter = "STATS"
)

// Valid checks if asset filter is valid
func (f AssetFilter) Valid() bool {
	switch f {
	case FilterAll, FilterCrypto, FilterForex, FilterStock, FilterStats:
		return true
	}
	return false
}

// Filters is the UI projection state
type Filters struct {
	Query        string      `json:"query"`
	MinChangePct *float64    `json:"minChangePct"`
	SortBy       SortBy      `json:"sortBy"`
	SortDir      SortDir     `json:"sortDir"`
	AssetType    AssetFilter `json:"assetType"`
}

// Equal compares filters by value
func (f Filters) Equal(o Filters) bool {
	if f.Query != o.Query || f.SortBy != o.SortBy || f.SortDir != o.SortDir || f.AssetType != o.AssetType {
		return false
	}
	if f.MinChangePct == nil || o.MinChangePct == nil {
		return f.MinChangePct == o.MinChangePct
	}
	return *f.MinChangePct == *o.MinChangePct
}

// LiveMode selects push or poll transport for crypto quotes
type LiveMode string

const (
	LiveModeWS   LiveMode = "ws"
	LiveModePoll LiveMode = "poll"
)

// Valid checks if live mode is valid
func (m LiveMode) Valid() bool {
	return m == LiveModeWS || m == LiveModePoll
}

// MinRefreshMs is the lowest accepted poll cadence
const MinRefreshMs = 500

// Settings holds poll cadence and push feed credentials
type Settings struct {
	RefreshMs int      `json:"refreshMs"`
	APIToken  *string  `json:"apiToken"`
	LiveMode  LiveMode `json:"liveMode"`
}

// Token returns the API token or empty string
func (s Settings) Token() string {
	if s.APIToken == nil {
		return ""
	}
	return *s.APIToken
}

// RefreshInterval returns the poll cadence as a duration
func (s Settings) RefreshInterval() time.Duration {
	return time.Duration(s.RefreshMs) * time.Millisecond
}

// Equal compares settings by value
func (s Settings) Equal(o Settings) bool {
	if s.RefreshMs != o.RefreshMs || s.LiveMode != o.LiveMode {
		return false
	}
	if s.APIToken == nil || o.APIToken == nil {
		return s.APIToken == o.APIToken
	}
	return *s.APIToken == *o.APIToken
}

// MarketState is the root state owned by the store. Values are never mutated
// after publication; every transition builds new slices.
type MarketState struct {
	Watchlist      []WatchlistItem `json:"watchlist"`
	SelectedSymbol *string         `json:"selectedSymbol"`
	Filters        Filters         `json:"filters"`
	Settings       Settings        `json:"settings"`
	Balance        decimal.Decimal `json:"balance"`
	Transactions   []Transaction   `json:"transactions"`
}

// Find returns the watchlist index of symbol or -1
func (s MarketState) Find(symbol string) int {
	for i, w := range s.Watchlist {
		if w.Symbol == symbol {
			return i
		}
	}
	return -1
}

// Symbols returns the watched symbols in watchlist order
func (s MarketState) Symbols() []string {
	out := make([]string, len(s.Watchlist))
	for i, w := range s.Watchlist {
		out[i] = w.Symbol
	}
	return out
}

// WatchlistEqual compares watchlists by value
func WatchlistEqual(a, b []WatchlistItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Symbol != b[i].Symbol || !a[i].AddedAt.Equal(b[i].AddedAt) || !a[i].Position.Equal(b[i].Position) {
			return false
		}
	}
	return true
}

// TransactionsEqual compares ledgers by id and order; entries are immutable
func TransactionsEqual(a, b []Transaction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// StringPtrEqual compares optional strings by value
func StringPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
