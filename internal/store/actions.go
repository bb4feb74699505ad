package store

import (
	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
)

// ActionType tags a dispatched action
type ActionType string

const (
	ActionInit            ActionType = "@@INIT"
	ActionAddSymbol       ActionType = "ADD_SYMBOL"
	ActionRemoveSymbol    ActionType = "REMOVE_SYMBOL"
	ActionSelectSymbol    ActionType = "SELECT_SYMBOL"
	ActionSetQuery        ActionType = "SET_QUERY"
	ActionSetMinChangePct ActionType = "SET_MIN_CHANGE_PCT"
	ActionSetSort         ActionType = "SET_SORT"
	ActionSetAssetType    ActionType = "SET_ASSET_TYPE"
	ActionSetRefreshMs    ActionType = "SET_REFRESH_MS"
	ActionSetAPIToken     ActionType = "SET_API_TOKEN"
	ActionSetLiveMode     ActionType = "SET_LIVE_MODE"
	ActionExecuteOrder    ActionType = "EXECUTE_ORDER"
	ActionUpdatePosition  ActionType = "UPDATE_POSITION"
	ActionReset           ActionType = "RESET"
)

// Action is a closed set of state transitions. Implementations live in this package only.
type Action interface {
	Type() ActionType
	sealed()
}

type (
	// Init is the synthesized first action
	Init struct{}

	// AddSymbol prepends a normalized symbol to the watchlist
	AddSymbol struct{ Symbol string }

	// RemoveSymbol drops a symbol and clears the selection if it pointed at it
	RemoveSymbol struct{ Symbol string }

	// SelectSymbol replaces the selection; nil clears it
	SelectSymbol struct{ Symbol *string }

	SetQuery struct{ Query string }

	// SetMinChangePct sets the inclusive change floor; nil disables it
	SetMinChangePct struct{ Value *float64 }

	SetSort struct {
		SortBy  market.SortBy
		SortDir market.SortDir
	}

	SetAssetType struct{ AssetType market.AssetFilter }

	SetRefreshMs struct{ RefreshMs int }

	// SetAPIToken stores the push feed token; nil or blank detaches the feed
	SetAPIToken struct{ Token *string }

	SetLiveMode struct{ Mode market.LiveMode }

	// ExecuteOrder runs a simulated buy or sell at the given price
	ExecuteOrder struct {
		Side   market.OrderSide
		Symbol string
		Qty    decimal.Decimal
		Price  decimal.Decimal
	}

	// UpdatePosition overrides a position verbatim; qty <= 0 removes it
	UpdatePosition struct {
		Symbol string
		Qty    decimal.Decimal
		Price  decimal.Decimal
	}

	// Reset restores built-in defaults
	Reset struct{}
)

func (Init) Type() ActionType            { return ActionInit }
func (AddSymbol) Type() ActionType       { return ActionAddSymbol }
func (RemoveSymbol) Type() ActionType    { return ActionRemoveSymbol }
func (SelectSymbol) Type() ActionType    { return ActionSelectSymbol }
func (SetQuery) Type() ActionType        { return ActionSetQuery }
func (SetMinChangePct) Type() ActionType { return ActionSetMinChangePct }
func (SetSort) Type() ActionType         { return ActionSetSort }
func (SetAssetType) Type() ActionType    { return ActionSetAssetType }
func (SetRefreshMs) Type() ActionType    { return ActionSetRefreshMs }
func (SetAPIToken) Type() ActionType     { return ActionSetAPIToken }
func (SetLiveMode) Type() ActionType     { return ActionSetLiveMode }
func (ExecuteOrder) Type() ActionType    { return ActionExecuteOrder }
func (UpdatePosition) Type() ActionType  { return ActionUpdatePosition }
func (Reset) Type() ActionType           { return ActionReset }

func (Init) sealed()            {}
func (AddSymbol) sealed()       {}
func (RemoveSymbol) sealed()    {}
func (SelectSymbol) sealed()    {}
func (SetQuery) sealed()        {}
func (SetMinChangePct) sealed() {}
func (SetSort) sealed()         {}
func (SetAssetType) sealed()    {}
func (SetRefreshMs) sealed()    {}
func (SetAPIToken) sealed()     {}
func (SetLiveMode) sealed()     {}
func (ExecuteOrder) sealed()    {}
func (UpdatePosition) sealed()  {}
func (Reset) sealed()           {}
