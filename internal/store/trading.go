package store

import (
	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/errors"
)

// executeOrder runs a simulated trade.
// BUY requires qty*price <= balance and recomputes the weighted-average cost.
// SELL clamps the quantity at zero and credits the full requested proceeds, even
// with no position held; the clamp is a permissive simulation policy, not an accounting rule.
func executeOrder(state market.MarketState, o ExecuteOrder, env Env) (market.MarketState, error) {
	if !o.Side.Valid() {
		return state, errors.NewValidationError("side", "must be BUY or SELL", o.Side)
	}

	symbol := market.NormalizeSymbol(o.Symbol)
	if !market.IsValidSymbol(symbol) {
		return state, errors.Wrapf(errors.ErrInvalidSymbol, "order %q", o.Symbol)
	}
	if !o.Qty.IsPositive() {
		return state, errors.NewValidationError("qty", "must be positive", o.Qty)
	}
	if !o.Price.IsPositive() {
		return state, errors.NewValidationError("price", "must be positive", o.Price)
	}

	total := o.Qty.Mul(o.Price)
	idx := state.Find(symbol)

	next := state
	switch o.Side {
	case market.OrderBuy:
		if total.GreaterThan(state.Balance) {
			return state, errors.Wrapf(errors.ErrInsufficientBalance, "buy %s %s @ %s needs %s, have %s",
				o.Qty, symbol, o.Price, total, state.Balance)
		}
		next.Balance = state.Balance.Sub(total)

		if idx < 0 {
			next.Watchlist = prepend(state.Watchlist, market.WatchlistItem{
				Symbol:   symbol,
				AddedAt:  env.Now(),
				Position: &market.Position{Quantity: o.Qty, AvgPrice: o.Price},
			})
			break
		}

		item := state.Watchlist[idx]
		item.Position = buyInto(item.Position, o.Qty, o.Price, total)
		next.Watchlist = replaceAt(state.Watchlist, idx, item)

	case market.OrderSell:
		next.Balance = state.Balance.Add(total)

		// a missing position sells from zero; an unwatched symbol is not added
		if idx < 0 || state.Watchlist[idx].Position == nil {
			break
		}

		item := state.Watchlist[idx]
		remaining := decimal.Max(decimal.Zero, item.Position.Quantity.Sub(o.Qty))
		if remaining.IsZero() {
			item.Position = nil
		} else {
			item.Position = &market.Position{Quantity: remaining, AvgPrice: item.Position.AvgPrice}
		}
		next.Watchlist = replaceAt(state.Watchlist, idx, item)
	}

	next.Transactions = appendLedger(state.Transactions, market.Transaction{
		ID:     env.NewID(),
		Side:   o.Side,
		Symbol: symbol,
		Qty:    o.Qty,
		Price:  o.Price,
		Total:  total,
		Date:   env.Now(),
	}, env.LedgerCap)

	return next, nil
}

func buyInto(pos *market.Position, qty, price, total decimal.Decimal) *market.Position {
	if pos == nil {
		return &market.Position{Quantity: qty, AvgPrice: price}
	}
	newQty := pos.Quantity.Add(qty)
	cost := pos.Quantity.Mul(pos.AvgPrice).Add(total)
	return &market.Position{Quantity: newQty, AvgPrice: cost.Div(newQty)}
}

// updatePosition overrides a position verbatim, bypassing the weighted average.
// The symbol stays on the watchlist when the position is cleared.
func updatePosition(state market.MarketState, u UpdatePosition) (market.MarketState, error) {
	symbol := market.NormalizeSymbol(u.Symbol)
	idx := state.Find(symbol)
	if idx < 0 {
		return state, errors.Wrapf(errors.ErrNotFound, "update position: %s is not watched", symbol)
	}

	item := state.Watchlist[idx]
	if !u.Qty.IsPositive() {
		if item.Position == nil {
			return state, nil
		}
		item.Position = nil
	} else {
		if u.Price.IsNegative() {
			return state, errors.NewValidationError("price", "must not be negative", u.Price)
		}
		item.Position = &market.Position{Quantity: u.Qty, AvgPrice: u.Price}
	}

	next := state
	next.Watchlist = replaceAt(state.Watchlist, idx, item)
	return next, nil
}

func appendLedger(ledger []market.Transaction, tx market.Transaction, limit int) []market.Transaction {
	n := len(ledger) + 1
	if n > limit {
		n = limit
	}
	out := make([]market.Transaction, 0, n)
	out = append(out, tx)
	for _, t := range ledger {
		if len(out) == n {
			break
		}
		out = append(out, t)
	}
	return out
}
