package store

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/errors"
)

const (
	// DefaultRefreshMs is the default poll cadence
	DefaultRefreshMs = 1500

	// DefaultLedgerCap bounds the transaction ledger
	DefaultLedgerCap = 50
)

// DefaultBalance is the starting paper cash
var DefaultBalance = decimal.NewFromInt(10000)

// Env carries the non-pure inputs of a transition
type Env struct {
	Now            func() time.Time
	NewID          func() uuid.UUID
	LedgerCap      int
	InitialBalance decimal.Decimal
}

// DefaultEnv returns an Env backed by the wall clock and random uuids
func DefaultEnv() Env {
	return Env{
		Now:            time.Now,
		NewID:          uuid.New,
		LedgerCap:      DefaultLedgerCap,
		InitialBalance: DefaultBalance,
	}
}

func (e Env) normalized() Env {
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.NewID == nil {
		e.NewID = uuid.New
	}
	if e.LedgerCap <= 0 {
		e.LedgerCap = DefaultLedgerCap
	}
	return e
}

// Defaults builds the built-in initial state
func Defaults(now time.Time, balance decimal.Decimal) market.MarketState {
	return market.MarketState{
		Watchlist: []market.WatchlistItem{
			{Symbol: "AAPL", AddedAt: now.Add(-60 * time.Minute)},
			{Symbol: "MSFT", AddedAt: now.Add(-45 * time.Minute)},
			{Symbol: "TSLA", AddedAt: now.Add(-30 * time.Minute)},
		},
		Filters: market.Filters{
			SortBy:    market.SortByAddedAt,
			SortDir:   market.SortDesc,
			AssetType: market.FilterAll,
		},
		Settings: market.Settings{
			RefreshMs: DefaultRefreshMs,
			LiveMode:  market.LiveModeWS,
		},
		Balance:      balance,
		Transactions: []market.Transaction{},
	}
}

// Reduce applies one action to state. It never mutates state; on rejection it
// returns state unchanged together with an error wrapping the rejection reason.
func Reduce(state market.MarketState, action Action, env Env) (market.MarketState, error) {
	env = env.normalized()

	switch a := action.(type) {
	case Init:
		return state, nil

	case Reset:
		return Defaults(env.Now(), env.InitialBalance), nil

	case AddSymbol:
		symbol := market.NormalizeSymbol(a.Symbol)
		if !market.IsValidSymbol(symbol) {
			return state, errors.Wrapf(errors.ErrInvalidSymbol, "add %q", a.Symbol)
		}
		if state.Find(symbol) >= 0 {
			return state, errors.Wrapf(errors.ErrDuplicateSymbol, "add %s", symbol)
		}
		next := state
		next.Watchlist = prepend(state.Watchlist, market.WatchlistItem{Symbol: symbol, AddedAt: env.Now()})
		return next, nil

	case RemoveSymbol:
		symbol := market.NormalizeSymbol(a.Symbol)
		idx := state.Find(symbol)
		next := state
		if idx >= 0 {
			next.Watchlist = removeAt(state.Watchlist, idx)
		}
		if state.SelectedSymbol != nil && *state.SelectedSymbol == symbol {
			next.SelectedSymbol = nil
		}
		return next, nil

	case SelectSymbol:
		next := state
		next.SelectedSymbol = a.Symbol
		return next, nil

	case SetQuery:
		next := state
		next.Filters.Query = a.Query
		return next, nil

	case SetMinChangePct:
		if a.Value != nil && (math.IsNaN(*a.Value) || math.IsInf(*a.Value, 0)) {
			return state, errors.NewValidationError("minChangePct", "must be finite", *a.Value)
		}
		next := state
		next.Filters.MinChangePct = a.Value
		return next, nil

	case SetSort:
		if !a.SortBy.Valid() {
			return state, errors.NewValidationError("sortBy", "unknown sort key", a.SortBy)
		}
		if !a.SortDir.Valid() {
			return state, errors.NewValidationError("sortDir", "unknown sort direction", a.SortDir)
		}
		next := state
		next.Filters.SortBy = a.SortBy
		next.Filters.SortDir = a.SortDir
		return next, nil

	case SetAssetType:
		if !a.AssetType.Valid() {
			return state, errors.NewValidationError("assetType", "unknown asset filter", a.AssetType)
		}
		next := state
		next.Filters.AssetType = a.AssetType
		return next, nil

	case SetRefreshMs:
		if a.RefreshMs < market.MinRefreshMs {
			return state, errors.NewValidationError("refreshMs", "below minimum cadence", a.RefreshMs)
		}
		next := state
		next.Settings.RefreshMs = a.RefreshMs
		return next, nil

	case SetAPIToken:
		next := state
		next.Settings.APIToken = normalizeToken(a.Token)
		return next, nil

	case SetLiveMode:
		if !a.Mode.Valid() {
			return state, errors.NewValidationError("liveMode", "unknown live mode", a.Mode)
		}
		next := state
		next.Settings.LiveMode = a.Mode
		return next, nil

	case ExecuteOrder:
		return executeOrder(state, a, env)

	case UpdatePosition:
		return updatePosition(state, a)

	default:
		return state, errors.Wrapf(errors.ErrUnknownAction, "%T", action)
	}
}

func normalizeToken(token *string) *string {
	if token == nil {
		return nil
	}
	t := strings.TrimSpace(*token)
	if t == "" {
		return nil
	}
	return &t
}

func prepend(items []market.WatchlistItem, item market.WatchlistItem) []market.WatchlistItem {
	out := make([]market.WatchlistItem, 0, len(items)+1)
	out = append(out, item)
	return append(out, items...)
}

func removeAt(items []market.WatchlistItem, idx int) []market.WatchlistItem {
	out := make([]market.WatchlistItem, 0, len(items)-1)
	out = append(out, items[:idx]...)
	return append(out, items[idx+1:]...)
}

func replaceAt(items []market.WatchlistItem, idx int, item market.WatchlistItem) []market.WatchlistItem {
	out := make([]market.WatchlistItem, len(items))
	copy(out, items)
	out[idx] = item
	return out
}
