package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"marketwatch/internal/domain/market"
	"marketwatch/pkg/logger"
)

// SnapshotSource provides the latest store snapshot
type SnapshotSource interface {
	Snapshot() market.MarketState
}

// StateCollector exposes store-derived gauges computed at scrape time
type StateCollector struct {
	log    *logger.Logger
	source SnapshotSource

	// Descriptors
	watchedSymbols *prometheus.Desc
	openPositions  *prometheus.Desc
	ledgerSize     *prometheus.Desc
}

// NewStateCollector creates a new store state collector
func NewStateCollector(log *logger.Logger, source SnapshotSource) *StateCollector {
	return &StateCollector{
		log:    log,
		source: source,

		watchedSymbols: prometheus.NewDesc(
			"marketwatch_watched_symbols",
			"Number of watched symbols by asset class",
			[]string{"class"}, nil,
		),
		openPositions: prometheus.NewDesc(
			"marketwatch_open_positions",
			"Number of held positions by asset class",
			[]string{"class"}, nil,
		),
		ledgerSize: prometheus.NewDesc(
			"marketwatch_ledger_size",
			"Number of transactions in the bounded ledger",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.watchedSymbols
	ch <- c.openPositions
	ch <- c.ledgerSize
}

// Collect implements prometheus.Collector
func (c *StateCollector) Collect(ch chan<- prometheus.Metric) {
	state := c.source.Snapshot()

	watched := make(map[market.AssetType]int, len(market.AllAssetTypes))
	held := make(map[market.AssetType]int, len(market.AllAssetTypes))
	for _, item := range state.Watchlist {
		class := market.Classify(item.Symbol)
		watched[class]++
		if item.Position != nil {
			held[class]++
		}
	}

	for _, class := range market.AllAssetTypes {
		ch <- prometheus.MustNewConstMetric(c.watchedSymbols, prometheus.GaugeValue, float64(watched[class]), class.String())
		ch <- prometheus.MustNewConstMetric(c.openPositions, prometheus.GaugeValue, float64(held[class]), class.String())
	}
	ch <- prometheus.MustNewConstMetric(c.ledgerSize, prometheus.GaugeValue, float64(len(state.Transactions)))

	c.log.Debugw("Collected store metrics", "symbols", len(state.Watchlist), "transactions", len(state.Transactions))
}
