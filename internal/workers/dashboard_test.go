package workers

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/services/watch"
)

type staticViews struct {
	view watch.View
}

func (s staticViews) View() watch.View { return s.view }

func sampleView() watch.View {
	items := []market.WatchlistItem{
		{Symbol: "AAPL", Position: &market.Position{Quantity: decimal.NewFromInt(10), AvgPrice: decimal.NewFromInt(100)}},
		{Symbol: "EURUSD"},
	}
	quotes := map[string]market.UniversalQuote{
		"AAPL": {Symbol: "AAPL", Price: 1234.5, ChangePct: 2.345, Ts: time.Now(), Source: market.SourceTwelveData, Type: market.AssetStock},
	}
	state := market.MarketState{Watchlist: items, Balance: decimal.NewFromInt(10000)}
	return watch.Derive(state, quotes)
}

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   decimal.Decimal
		want string
	}{
		{decimal.NewFromInt(10000), "$10,000.00"},
		{decimal.RequireFromString("1234.5"), "$1,234.50"},
		{decimal.RequireFromString("-20.25"), "-$20.25"},
		{decimal.Zero, "$0.00"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatMoney(tt.in))
	}

	assert.Equal(t, "+$5.00", FormatSignedMoney(decimal.NewFromInt(5)))
	assert.Equal(t, "-$5.00", FormatSignedMoney(decimal.NewFromInt(-5)))
}

func TestFormatPct(t *testing.T) {
	assert.Equal(t, "+2.35%", FormatPct(2.346))
	assert.Equal(t, "-1.00%", FormatPct(-1))
	assert.Equal(t, "+0.00%", FormatPct(0))
}

func TestFormatRow(t *testing.T) {
	view := sampleView()
	require.Len(t, view.Rows, 2)

	held := FormatRow(view.Rows[0])
	assert.Contains(t, held, "AAPL")
	assert.Contains(t, held, "1,234.5000")
	assert.Contains(t, held, "qty 10")
	assert.Contains(t, held, "pnl +$11,345.00")
	assert.Contains(t, held, "via twelvedata")

	unquoted := FormatRow(view.Rows[1])
	assert.Contains(t, unquoted, "EURUSD")
	assert.Contains(t, unquoted, "FOREX")
	assert.NotContains(t, unquoted, "pnl")
	assert.NotContains(t, unquoted, "via")
}

func TestDashboardWorker_Run(t *testing.T) {
	w := NewDashboardWorker(staticViews{view: sampleView()}, time.Second, true, testLogger())
	assert.Equal(t, "dashboard", w.Name())
	assert.NoError(t, w.Run(context.Background()))

	empty := NewDashboardWorker(staticViews{}, time.Second, true, testLogger())
	assert.NoError(t, empty.Run(context.Background()), "nothing derived yet")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx), context.Canceled)
}

func TestPortfolioMetricsWorker_Run(t *testing.T) {
	w := NewPortfolioMetricsWorker(staticViews{view: sampleView()}, time.Second, true, testLogger())

	var size int
	var balance, netWorth float64
	w.set = func(s int, b, n float64) { size, balance, netWorth = s, b, n }

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 2, size)
	assert.Equal(t, 10000.0, balance)
	assert.Equal(t, 10000.0+12345.0, netWorth)

	size = -1
	idle := NewPortfolioMetricsWorker(staticViews{}, time.Second, true, testLogger())
	idle.set = w.set
	require.NoError(t, idle.Run(context.Background()))
	assert.Equal(t, -1, size, "gauges untouched before the first view")
}
