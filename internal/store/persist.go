package store

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// StorageKey names the persisted slot. Bump the version when the durable shape changes.
const StorageKey = "marketwatch.state.v2"

const saveTimeout = 3 * time.Second

// Slot is the persisted key-value slot holding the durable subset of state.
// Load returns errors.ErrNotFound when nothing was saved yet.
type Slot interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

type persistedItem struct {
	Symbol   string           `json:"symbol"`
	AddedAt  int64            `json:"addedAt"`
	Position *market.Position `json:"position,omitempty"`
}

type persistedState struct {
	Watchlist    []persistedItem      `json:"watchlist"`
	Settings     market.Settings      `json:"settings"`
	Balance      decimal.Decimal      `json:"balance"`
	Transactions []market.Transaction `json:"transactions"`
}

// Encode serializes the durable subset: watchlist, settings, balance and transactions
func Encode(state market.MarketState) ([]byte, error) {
	p := persistedState{
		Watchlist:    make([]persistedItem, 0, len(state.Watchlist)),
		Settings:     state.Settings,
		Balance:      state.Balance,
		Transactions: state.Transactions,
	}
	for _, w := range state.Watchlist {
		p.Watchlist = append(p.Watchlist, persistedItem{
			Symbol:   w.Symbol,
			AddedAt:  w.AddedAt.UnixMilli(),
			Position: w.Position,
		})
	}
	if p.Transactions == nil {
		p.Transactions = []market.Transaction{}
	}

	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	return data, nil
}

// Decode merges a persisted blob over defaults. Filters and settings merge key by
// key; malformed watchlist entries and transactions are dropped one by one. A blob
// that is not a JSON object yields defaults and ErrPersistenceCorrupt.
func Decode(data []byte, env Env) (market.MarketState, error) {
	env = env.normalized()
	state := Defaults(env.Now(), env.InitialBalance)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return state, errors.Wrap(errors.ErrPersistenceCorrupt, err.Error())
	}
	if fields == nil {
		return state, errors.Wrap(errors.ErrPersistenceCorrupt, "null document")
	}

	if raw, ok := fields["watchlist"]; ok {
		if items, ok := decodeWatchlist(raw, env.Now()); ok {
			state.Watchlist = items
		}
	}
	if raw, ok := fields["filters"]; ok {
		state.Filters = mergeFilters(state.Filters, raw)
	}
	if raw, ok := fields["settings"]; ok {
		state.Settings = mergeSettings(state.Settings, raw)
	}
	if raw, ok := fields["balance"]; ok {
		var balance decimal.Decimal
		if err := json.Unmarshal(raw, &balance); err == nil && !balance.IsNegative() {
			state.Balance = balance
		}
	}
	if raw, ok := fields["transactions"]; ok {
		if txs, ok := decodeTransactions(raw, env.LedgerCap); ok {
			state.Transactions = txs
		}
	}

	return state, nil
}

func decodeWatchlist(raw json.RawMessage, now time.Time) ([]market.WatchlistItem, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	seen := make(map[string]struct{}, len(entries))
	out := make([]market.WatchlistItem, 0, len(entries))
	for _, e := range entries {
		var item struct {
			Symbol   any             `json:"symbol"`
			AddedAt  any             `json:"addedAt"`
			Position json.RawMessage `json:"position"`
		}
		if err := json.Unmarshal(e, &item); err != nil {
			continue
		}

		sym, ok := item.Symbol.(string)
		if !ok {
			continue
		}
		sym = strings.ToUpper(sym)
		if !market.IsValidSymbol(sym) {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}

		addedAt := now
		switch v := item.AddedAt.(type) {
		case nil:
		case float64:
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			addedAt = time.UnixMilli(int64(v))
		default:
			continue
		}

		seen[sym] = struct{}{}
		out = append(out, market.WatchlistItem{
			Symbol:   sym,
			AddedAt:  addedAt,
			Position: decodePosition(item.Position),
		})
	}
	return out, true
}

func decodePosition(raw json.RawMessage) *market.Position {
	if len(raw) == 0 {
		return nil
	}
	var p market.Position
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if !p.Quantity.IsPositive() || p.AvgPrice.IsNegative() {
		return nil
	}
	return &p
}

func mergeFilters(f market.Filters, raw json.RawMessage) market.Filters {
	var partial struct {
		Query        *string             `json:"query"`
		MinChangePct json.RawMessage     `json:"minChangePct"`
		SortBy       *market.SortBy      `json:"sortBy"`
		SortDir      *market.SortDir     `json:"sortDir"`
		AssetType    *market.AssetFilter `json:"assetType"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return f
	}

	if partial.Query != nil {
		f.Query = *partial.Query
	}
	if len(partial.MinChangePct) > 0 {
		var v *float64
		if err := json.Unmarshal(partial.MinChangePct, &v); err == nil {
			f.MinChangePct = v
		}
	}
	if partial.SortBy != nil && partial.SortBy.Valid() {
		f.SortBy = *partial.SortBy
	}
	if partial.SortDir != nil && partial.SortDir.Valid() {
		f.SortDir = *partial.SortDir
	}
	if partial.AssetType != nil && partial.AssetType.Valid() {
		f.AssetType = *partial.AssetType
	}
	return f
}

func mergeSettings(s market.Settings, raw json.RawMessage) market.Settings {
	var partial struct {
		RefreshMs *float64         `json:"refreshMs"`
		APIToken  json.RawMessage  `json:"apiToken"`
		LiveMode  *market.LiveMode `json:"liveMode"`
	}
	if err := json.Unmarshal(raw, &partial); err != nil {
		return s
	}

	if partial.RefreshMs != nil && *partial.RefreshMs >= market.MinRefreshMs && !math.IsInf(*partial.RefreshMs, 0) {
		s.RefreshMs = int(*partial.RefreshMs)
	}
	if len(partial.APIToken) > 0 {
		var token *string
		if err := json.Unmarshal(partial.APIToken, &token); err == nil {
			s.APIToken = normalizeToken(token)
		}
	}
	if partial.LiveMode != nil && partial.LiveMode.Valid() {
		s.LiveMode = *partial.LiveMode
	}
	return s
}

func decodeTransactions(raw json.RawMessage, limit int) ([]market.Transaction, bool) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false
	}

	out := make([]market.Transaction, 0, len(entries))
	for _, e := range entries {
		if len(out) == limit {
			break
		}
		var tx market.Transaction
		if err := json.Unmarshal(e, &tx); err != nil {
			continue
		}
		if !tx.Side.Valid() || tx.Symbol == "" {
			continue
		}
		out = append(out, tx)
	}
	return out, true
}

func initialState(ctx context.Context, slot Slot, env Env, log *logger.Logger) market.MarketState {
	defaults := Defaults(env.Now(), env.InitialBalance)
	if slot == nil {
		return defaults
	}

	data, err := slot.Load(ctx)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			log.Warnw("Failed to load persisted state, using defaults", "error", err)
		}
		return defaults
	}

	state, err := Decode(data, env)
	if err != nil {
		log.Warnw("Persisted state is corrupt, using defaults", "error", err, "bytes", len(data))
		return defaults
	}

	log.Infow("Restored persisted state",
		"symbols", len(state.Watchlist),
		"transactions", len(state.Transactions),
		"balance", state.Balance.String(),
	)
	return state
}

// attachPersistence writes the durable subset after every transition except the first.
// Writes go through a single background writer so Dispatch never waits on the slot.
func (s *Store) attachPersistence(slot Slot) {
	s.writer = newStateWriter(slot, s.log)
	first := true
	s.Subscribe(func(state market.MarketState) {
		if first {
			first = false
			return
		}

		data, err := Encode(state)
		if err != nil {
			s.log.Warnw("Failed to encode state", "error", err)
			metrics.RecordPersistenceWrite(err)
			return
		}

		s.writer.offer(data)
	})
}
