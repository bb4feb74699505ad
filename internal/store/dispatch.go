package store

import (
	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
)

func (s *Store) AddSymbol(symbol string) Result {
	return s.Dispatch(AddSymbol{Symbol: symbol})
}

func (s *Store) RemoveSymbol(symbol string) Result {
	return s.Dispatch(RemoveSymbol{Symbol: symbol})
}

// SelectSymbol sets the selection; nil clears it
func (s *Store) SelectSymbol(symbol *string) Result {
	return s.Dispatch(SelectSymbol{Symbol: symbol})
}

func (s *Store) SetQuery(query string) Result {
	return s.Dispatch(SetQuery{Query: query})
}

// SetMinChangePct sets the change floor; nil disables it
func (s *Store) SetMinChangePct(value *float64) Result {
	return s.Dispatch(SetMinChangePct{Value: value})
}

func (s *Store) SetSort(sortBy market.SortBy, sortDir market.SortDir) Result {
	return s.Dispatch(SetSort{SortBy: sortBy, SortDir: sortDir})
}

func (s *Store) SetAssetType(assetType market.AssetFilter) Result {
	return s.Dispatch(SetAssetType{AssetType: assetType})
}

func (s *Store) SetRefreshMs(refreshMs int) Result {
	return s.Dispatch(SetRefreshMs{RefreshMs: refreshMs})
}

// SetAPIToken stores the push feed token; nil or blank clears it
func (s *Store) SetAPIToken(token *string) Result {
	return s.Dispatch(SetAPIToken{Token: token})
}

func (s *Store) SetLiveMode(mode market.LiveMode) Result {
	return s.Dispatch(SetLiveMode{Mode: mode})
}

// ExecuteOrder runs a simulated trade. A rejected order leaves balance,
// watchlist and ledger untouched and reports the reason in Result.Err.
func (s *Store) ExecuteOrder(side market.OrderSide, symbol string, qty, price decimal.Decimal) Result {
	return s.Dispatch(ExecuteOrder{Side: side, Symbol: symbol, Qty: qty, Price: price})
}

func (s *Store) UpdatePosition(symbol string, qty, price decimal.Decimal) Result {
	return s.Dispatch(UpdatePosition{Symbol: symbol, Qty: qty, Price: price})
}

func (s *Store) Reset() Result {
	return s.Dispatch(Reset{})
}
