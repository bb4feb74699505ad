package store

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/errors"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func mustReduce(t *testing.T, state market.MarketState, action Action, env Env) market.MarketState {
	t.Helper()
	next, err := Reduce(state, action, env)
	require.NoError(t, err)
	return next
}

func positionOf(t *testing.T, state market.MarketState, symbol string) *market.Position {
	t.Helper()
	idx := state.Find(symbol)
	require.GreaterOrEqual(t, idx, 0, "%s not on watchlist", symbol)
	return state.Watchlist[idx].Position
}

func TestExecuteOrder_BuyWeightedAverage(t *testing.T) {
	env := testEnv()
	state := Defaults(fixedNow, DefaultBalance)

	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "BTCUSDT", Qty: d(1), Price: d(100)}, env)
	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "BTCUSDT", Qty: d(1), Price: d(200)}, env)

	pos := positionOf(t, state, "BTCUSDT")
	require.NotNil(t, pos)
	assert.True(t, d(2).Equal(pos.Quantity))
	assert.True(t, d(150).Equal(pos.AvgPrice))
	assert.True(t, d(9700).Equal(state.Balance), "balance reduced by 300")
	assert.Equal(t, "BTCUSDT", state.Watchlist[0].Symbol, "bought symbol is added to the watchlist")

	require.Len(t, state.Transactions, 2)
	assert.True(t, d(200).Equal(state.Transactions[0].Price), "ledger is newest first")
	assert.True(t, d(200).Equal(state.Transactions[0].Total))
	assert.Equal(t, market.OrderBuy, state.Transactions[0].Side)
	assert.NotEqual(t, state.Transactions[0].ID, state.Transactions[1].ID)
}

func TestExecuteOrder_BuyAtSamePriceKeepsAverage(t *testing.T) {
	env := testEnv()
	state := Defaults(fixedNow, DefaultBalance)

	for i := 0; i < 3; i++ {
		state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: decimal.RequireFromString("0.5"), Price: d(120)}, env)
	}

	pos := positionOf(t, state, "AAPL")
	assert.True(t, decimal.RequireFromString("1.5").Equal(pos.Quantity))
	assert.True(t, d(120).Equal(pos.AvgPrice))
	assert.Len(t, state.Watchlist, 3, "existing symbol is not duplicated")
}

func TestExecuteOrder_SellClampsAtZero(t *testing.T) {
	env := testEnv()
	state := Defaults(fixedNow, DefaultBalance)
	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "BTCUSDT", Qty: d(1), Price: d(100)}, env)
	balanceBefore := state.Balance

	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderSell, Symbol: "BTCUSDT", Qty: d(5), Price: d(100)}, env)

	assert.Nil(t, positionOf(t, state, "BTCUSDT"), "zero quantity removes the position")
	assert.GreaterOrEqual(t, state.Find("BTCUSDT"), 0, "symbol stays watched")
	assert.True(t, balanceBefore.Add(d(500)).Equal(state.Balance), "full requested proceeds are credited")
	assert.Equal(t, market.OrderSell, state.Transactions[0].Side)
}

func TestExecuteOrder_SellWithoutPosition(t *testing.T) {
	tests := []struct {
		name        string
		symbol      string
		wantWatched bool
	}{
		{name: "watched symbol", symbol: "AAPL", wantWatched: true},
		{name: "unwatched symbol", symbol: "NVDA", wantWatched: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := Defaults(fixedNow, d(1000))

			next := mustReduce(t, state, ExecuteOrder{Side: market.OrderSell, Symbol: tt.symbol, Qty: d(2), Price: d(50)}, testEnv())

			assert.True(t, d(1100).Equal(next.Balance), "proceeds are credited from a zero quantity")
			require.Len(t, next.Transactions, 1)
			assert.Equal(t, market.OrderSell, next.Transactions[0].Side)
			assert.True(t, d(100).Equal(next.Transactions[0].Total))
			assert.Len(t, next.Watchlist, len(state.Watchlist), "watchlist membership is unchanged")
			if tt.wantWatched {
				assert.Nil(t, positionOf(t, next, tt.symbol))
			} else {
				assert.Less(t, next.Find(tt.symbol), 0)
			}
		})
	}
}

func TestExecuteOrder_PartialSellKeepsAverage(t *testing.T) {
	env := testEnv()
	state := Defaults(fixedNow, DefaultBalance)
	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "MSFT", Qty: d(4), Price: d(50)}, env)
	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderSell, Symbol: "MSFT", Qty: d(1), Price: d(80)}, env)

	pos := positionOf(t, state, "MSFT")
	require.NotNil(t, pos)
	assert.True(t, d(3).Equal(pos.Quantity))
	assert.True(t, d(50).Equal(pos.AvgPrice))
	assert.True(t, d(10000-200+80).Equal(state.Balance))
}

func TestExecuteOrder_Rejections(t *testing.T) {
	env := testEnv()
	poor := Defaults(fixedNow, d(100))

	tests := []struct {
		name    string
		state   market.MarketState
		order   ExecuteOrder
		wantErr error
	}{
		{
			name:    "insufficient funds",
			state:   poor,
			order:   ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: d(10), Price: d(50)},
			wantErr: errors.ErrInsufficientBalance,
		},
		{
			name:    "zero quantity",
			state:   poor,
			order:   ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: decimal.Zero, Price: d(1)},
			wantErr: errors.ErrInvalidInput,
		},
		{
			name:    "negative price",
			state:   poor,
			order:   ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: d(1), Price: d(-1)},
			wantErr: errors.ErrInvalidInput,
		},
		{
			name:    "bad side",
			state:   poor,
			order:   ExecuteOrder{Side: "HOLD", Symbol: "AAPL", Qty: d(1), Price: d(1)},
			wantErr: errors.ErrInvalidInput,
		},
		{
			name:    "bad symbol",
			state:   poor,
			order:   ExecuteOrder{Side: market.OrderBuy, Symbol: "bad symbol!", Qty: d(1), Price: d(1)},
			wantErr: errors.ErrInvalidSymbol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := Reduce(tt.state, tt.order, env)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, tt.state.Balance.Equal(next.Balance))
			assert.Equal(t, symbols(tt.state), symbols(next))
			assert.Equal(t, tt.state.Transactions, next.Transactions)
		})
	}
}

func TestExecuteOrder_BuyExactBalance(t *testing.T) {
	env := testEnv()
	state := Defaults(fixedNow, d(500))

	state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: d(10), Price: d(50)}, env)
	assert.True(t, state.Balance.IsZero())
}

func TestExecuteOrder_LedgerCap(t *testing.T) {
	env := testEnv()
	env.LedgerCap = 3
	state := Defaults(fixedNow, DefaultBalance)

	for i := int64(1); i <= 5; i++ {
		state = mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: d(1), Price: d(i)}, env)
	}

	require.Len(t, state.Transactions, 3)
	assert.True(t, d(5).Equal(state.Transactions[0].Price))
	assert.True(t, d(3).Equal(state.Transactions[2].Price))
}

func TestUpdatePosition(t *testing.T) {
	env := testEnv()
	state := Defaults(fixedNow, DefaultBalance)

	t.Run("override bypasses weighted average", func(t *testing.T) {
		next := mustReduce(t, state, ExecuteOrder{Side: market.OrderBuy, Symbol: "AAPL", Qty: d(1), Price: d(100)}, env)
		next = mustReduce(t, next, UpdatePosition{Symbol: "aapl", Qty: d(7), Price: d(3)}, env)

		pos := positionOf(t, next, "AAPL")
		assert.True(t, d(7).Equal(pos.Quantity))
		assert.True(t, d(3).Equal(pos.AvgPrice))
		assert.Len(t, next.Transactions, 1, "override is not a trade")
	})

	t.Run("non-positive quantity removes position", func(t *testing.T) {
		next := mustReduce(t, state, UpdatePosition{Symbol: "MSFT", Qty: d(2), Price: d(10)}, env)
		next = mustReduce(t, next, UpdatePosition{Symbol: "MSFT", Qty: d(0), Price: d(10)}, env)

		assert.Nil(t, positionOf(t, next, "MSFT"))
		assert.GreaterOrEqual(t, next.Find("MSFT"), 0)
	})

	t.Run("unwatched symbol is rejected", func(t *testing.T) {
		_, err := Reduce(state, UpdatePosition{Symbol: "NVDA", Qty: d(1), Price: d(1)}, env)
		assert.ErrorIs(t, err, errors.ErrNotFound)
	})
}
