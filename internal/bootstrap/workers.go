package bootstrap

import (
	"marketwatch/internal/adapters/config"
	"marketwatch/internal/workers"
	"marketwatch/pkg/logger"
)

// provideWorkers registers the periodic jobs that read the derived view
func provideWorkers(views workers.ViewSource, cfg *config.Config, log *logger.Logger) *workers.Scheduler {
	scheduler := workers.NewScheduler(log)

	scheduler.RegisterWorker(workers.NewDashboardWorker(
		views,
		cfg.Workers.DashboardInterval,
		true,
		log,
	))

	scheduler.RegisterWorker(workers.NewPortfolioMetricsWorker(
		views,
		cfg.Workers.MetricsInterval,
		cfg.Metrics.Enabled,
		log,
	))

	return scheduler
}
