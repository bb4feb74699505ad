package workers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/services/watch"
	"marketwatch/pkg/logger"
)

// ViewSource provides the latest derived view
type ViewSource interface {
	View() watch.View
}

// maxDashboardRows caps the per-row lines in one refresh
const maxDashboardRows = 20

// DashboardWorker periodically logs the filtered watchlist and portfolio stats
type DashboardWorker struct {
	*BaseWorker
	views ViewSource
}

// NewDashboardWorker creates the terminal dashboard
func NewDashboardWorker(views ViewSource, interval time.Duration, enabled bool, log *logger.Logger) *DashboardWorker {
	return &DashboardWorker{
		BaseWorker: NewBaseWorker("dashboard", interval, enabled, log),
		views:      views,
	}
}

func (w *DashboardWorker) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	view := w.views.View()
	if view.Updated.IsZero() {
		return nil
	}

	stats := view.Stats
	fields := []interface{}{
		"symbols", stats.Count,
		"quoted", view.Quotes,
		"shown", len(view.Filtered),
		"avg_change", FormatPct(stats.AvgChangePct),
		"cash", FormatMoney(view.Balance),
		"holdings", FormatMoney(stats.TotalValue),
		"pnl", FormatSignedMoney(stats.TotalPnL),
		"net_worth", FormatMoney(stats.NetWorth),
		"updated", humanize.Time(view.Updated),
	}
	if stats.TopGainer != nil {
		fields = append(fields, "top_gainer", stats.TopGainer.Symbol+" "+FormatPct(stats.TopGainer.ChangePct))
	}
	if stats.TopLoser != nil {
		fields = append(fields, "top_loser", stats.TopLoser.Symbol+" "+FormatPct(stats.TopLoser.ChangePct))
	}
	w.Log().Infow("Market dashboard", fields...)

	for i, row := range view.Filtered {
		if i == maxDashboardRows {
			w.Log().Infow(fmt.Sprintf("... %d more", len(view.Filtered)-maxDashboardRows))
			break
		}
		w.Log().Infow(FormatRow(row))
	}

	return nil
}

// FormatRow renders one watchlist row as a fixed-width dashboard line
func FormatRow(row market.WatchlistVm) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s %-6s", row.Symbol, row.Type)

	if row.Price > 0 {
		fmt.Fprintf(&b, " %14s %8s", humanize.FormatFloat("#,###.####", row.Price), FormatPct(row.ChangePct))
	} else {
		fmt.Fprintf(&b, " %14s %8s", "-", "-")
	}

	if row.Position != nil {
		fmt.Fprintf(&b, "  qty %s", row.Position.Quantity.String())
	}
	if row.PnL != nil {
		fmt.Fprintf(&b, "  pnl %s", FormatSignedMoney(*row.PnL))
		if row.PnLPct != nil {
			fmt.Fprintf(&b, " (%s)", FormatPct(*row.PnLPct))
		}
	}
	if !row.Ts.IsZero() {
		fmt.Fprintf(&b, "  %s via %s", humanize.Time(row.Ts), row.Source)
	}

	return b.String()
}

// FormatMoney renders an amount with thousands separators and two decimals
func FormatMoney(d decimal.Decimal) string {
	f := d.Round(2).InexactFloat64()
	if f < 0 {
		return "-$" + humanize.FormatFloat("#,###.##", -f)
	}
	return "$" + humanize.FormatFloat("#,###.##", f)
}

// FormatSignedMoney is FormatMoney with an explicit plus sign for gains
func FormatSignedMoney(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + FormatMoney(d)
	}
	return FormatMoney(d)
}

// FormatPct renders a signed percentage with two decimals
func FormatPct(pct float64) string {
	return fmt.Sprintf("%+.2f%%", pct)
}
