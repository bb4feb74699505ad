package bootstrap

import (
	"context"
	"net/http"
	"sync"

	"marketwatch/internal/adapters/config"
	"marketwatch/internal/adapters/feed"
	"marketwatch/internal/adapters/kafka"
	"marketwatch/internal/adapters/persistence"
	"marketwatch/internal/adapters/ratelimit"
	"marketwatch/internal/adapters/sources"
	"marketwatch/internal/services/aggregator"
	"marketwatch/internal/services/watch"
	"marketwatch/internal/store"
	"marketwatch/internal/workers"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// Container holds all application dependencies
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	Slot  persistence.Slot
	Store *store.Store

	MarketData *MarketData
	Background *Background

	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// MarketData groups the quote pipeline
type MarketData struct {
	Feed       *feed.Manager
	Limits     *ratelimit.Registry
	Catalog    *sources.Catalog
	Aggregator *aggregator.Aggregator
	Watch      *watch.Engine
}

// Background groups everything running beside the pipeline
type Background struct {
	WorkerScheduler *workers.Scheduler
	KafkaProducer   *kafka.Producer // nil when ledger export is disabled
	Ledger          *kafka.LedgerPublisher
	MetricsServer   *http.Server // nil when metrics are disabled
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		MarketData: &MarketData{},
		Background: &Background{},
		Lifecycle:  NewLifecycle(),
		WG:         &sync.WaitGroup{},
		Context:    ctx,
		Cancel:     cancel,
	}
}

// MustInit initializes all components in dependency order.
// Panics on any initialization error (fail-fast at startup).
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitStore()
	c.MustInitMarketData()
	c.MustInitBackground()
}

// Start starts the pipeline and background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	c.MarketData.Watch.Start(c.Context)

	if c.Background.Ledger != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			c.Background.Ledger.Run(c.Context, c.Store.Transactions)
		}()
	}

	if srv := c.Background.MetricsServer; srv != nil {
		c.WG.Add(1)
		go func() {
			defer c.WG.Done()
			c.Log.Infow("Metrics endpoint listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				c.Log.Errorw("Metrics server failed", "error", err)
			}
		}()
	}

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	c.Log.Infow("✓ All systems operational",
		"watchlist", c.Store.WatchlistCount.Get(),
		"live_transport", c.Config.App.LiveTransport,
	)
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	c.Lifecycle.Shutdown(c, c.Log)
}
