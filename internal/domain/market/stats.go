package market

import (
	"sort"

	"github.com/shopspring/decimal"
)

// AssetSlice is one entry of the exposure distribution
type AssetSlice struct {
	Type       AssetType `json:"type"`
	Count      int       `json:"count"`
	Percentage float64   `json:"percentage"`
	Color      string    `json:"color"`
}

// MarketStats aggregates the unfiltered row set
type MarketStats struct {
	Count         int             `json:"count"`
	TopGainer     *WatchlistVm    `json:"topGainer,omitempty"`
	TopLoser      *WatchlistVm    `json:"topLoser,omitempty"`
	AvgChangePct  float64         `json:"avgChangePct"`
	Distribution  []AssetSlice    `json:"distribution"`
	TotalInvested decimal.Decimal `json:"totalInvested"`
	TotalValue    decimal.Decimal `json:"totalValue"`
	TotalPnL      decimal.Decimal `json:"totalPnl"`
	NetWorth      decimal.Decimal `json:"netWorth"`
}

// ComputeStats reduces rows into aggregate statistics. Gainer and loser come from
// one descending sort by change, so a single row is both.
func ComputeStats(rows []WatchlistVm, balance decimal.Decimal) MarketStats {
	stats := MarketStats{
		Count:         len(rows),
		TotalInvested: decimal.Zero,
		TotalValue:    decimal.Zero,
		TotalPnL:      decimal.Zero,
	}

	counts := make(map[AssetType]int, len(AllAssetTypes))
	var sumChange float64

	for _, r := range rows {
		sumChange += r.ChangePct
		counts[r.Type]++

		if r.InvestedValue != nil {
			stats.TotalInvested = stats.TotalInvested.Add(*r.InvestedValue)
		}
		if r.HoldingValue != nil {
			stats.TotalValue = stats.TotalValue.Add(*r.HoldingValue)
		}
		if r.PnL != nil {
			stats.TotalPnL = stats.TotalPnL.Add(*r.PnL)
		}
	}

	if len(rows) > 0 {
		stats.AvgChangePct = sumChange / float64(len(rows))

		byChange := make([]WatchlistVm, len(rows))
		copy(byChange, rows)
		sort.SliceStable(byChange, func(i, j int) bool {
			return byChange[i].ChangePct > byChange[j].ChangePct
		})
		gainer := byChange[0]
		loser := byChange[len(byChange)-1]
		stats.TopGainer = &gainer
		stats.TopLoser = &loser
	}

	stats.Distribution = make([]AssetSlice, 0, len(AllAssetTypes))
	for _, t := range AllAssetTypes {
		slice := AssetSlice{Type: t, Count: counts[t], Color: t.Color()}
		if len(rows) > 0 {
			slice.Percentage = float64(counts[t]) / float64(len(rows)) * 100
		}
		stats.Distribution = append(stats.Distribution, slice)
	}

	stats.NetWorth = balance.Add(stats.TotalValue)
	return stats
}
