package workers

import (
	"context"
	"time"

	"marketwatch/internal/metrics"
	"marketwatch/pkg/logger"
)

// PortfolioMetricsWorker refreshes the portfolio gauges from the latest view
type PortfolioMetricsWorker struct {
	*BaseWorker
	views ViewSource
	set   func(watchlistSize int, balance, netWorth float64)
}

// NewPortfolioMetricsWorker creates the gauge refresher
func NewPortfolioMetricsWorker(views ViewSource, interval time.Duration, enabled bool, log *logger.Logger) *PortfolioMetricsWorker {
	return &PortfolioMetricsWorker{
		BaseWorker: NewBaseWorker("portfolio_metrics", interval, enabled, log),
		views:      views,
		set:        metrics.SetPortfolio,
	}
}

func (w *PortfolioMetricsWorker) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	view := w.views.View()
	if view.Updated.IsZero() {
		return nil
	}

	w.set(len(view.Rows), view.Balance.InexactFloat64(), view.Stats.NetWorth.InexactFloat64())
	return nil
}
