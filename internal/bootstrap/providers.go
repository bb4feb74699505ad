package bootstrap

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"marketwatch/internal/adapters/config"
	errnoop "marketwatch/internal/adapters/errors/noop"
	"marketwatch/internal/adapters/errors/sentry"
	"marketwatch/internal/adapters/feed"
	"marketwatch/internal/adapters/kafka"
	"marketwatch/internal/adapters/persistence"
	"marketwatch/internal/adapters/ratelimit"
	"marketwatch/internal/adapters/sources"
	"marketwatch/internal/api/health"
	"marketwatch/internal/api/quotes"
	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/internal/services/aggregator"
	"marketwatch/internal/services/watch"
	"marketwatch/internal/store"
	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s in %s mode", cfg.App.Name, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)
}

// ========================================
// Phase 2: Infrastructure
// ========================================

// MustInitInfrastructure opens the persistence slot
func (c *Container) MustInitInfrastructure() {
	slot, err := persistence.Open(c.Context, c.Config.Persistence, c.Config.Redis, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to open persistence slot: %v", err)
	}
	c.Slot = slot
	c.Log.Infow("✓ Persistence slot ready", "backend", c.Config.Persistence.Backend)
}

// ========================================
// Phase 3: State Store
// ========================================

// MustInitStore builds the store from the persisted slot
func (c *Container) MustInitStore() {
	balance, err := c.Config.Portfolio.Balance()
	if err != nil {
		c.Log.Fatalf("invalid portfolio config: %v", err)
	}

	env := store.DefaultEnv()
	env.InitialBalance = balance

	c.Store = store.New(c.Context, store.Config{
		LedgerCap: c.Config.Portfolio.LedgerCap,
		Strict:    c.Config.App.Strict(),
		Tracker:   c.ErrorTracker,
	}, env, c.Slot, c.Log)

	c.Log.Infow("✓ Store initialized", "watchlist", c.Store.WatchlistCount.Get(), "balance", c.Store.Balance.Get().String())
}

// ========================================
// Phase 4: Market Data Pipeline
// ========================================

// MustInitMarketData wires sources, the push feed, the aggregator and the watch engine
func (c *Container) MustInitMarketData() {
	md := c.MarketData
	cfg := c.Config

	md.Feed = feed.NewManager(feed.Config{
		URL:              cfg.Feed.URL,
		TokenParam:       cfg.Feed.TokenParam,
		BaseDelay:        cfg.Feed.BaseDelay,
		MaxDelay:         cfg.Feed.MaxDelay,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		PingInterval:     cfg.Feed.PingInterval,
		HeartbeatTimeout: cfg.Feed.HeartbeatTimeout,
	}, c.Log)

	md.Feed.OnStatus(func(s feed.Status) {
		if s.State == feed.StateError {
			c.Log.Warnw("Push feed error", "attempts", s.Attempts, "error", s.LastError)
		}
	})

	md.Limits = ratelimit.NewRegistry()
	md.Catalog = sources.FromConfig(cfg.MarketData, md.Limits, c.Log)

	md.Aggregator = aggregator.New(aggregator.Config{
		Crypto: md.Catalog.Quotes(market.AssetCrypto),
		Stock:  md.Catalog.Quotes(market.AssetStock),
		Forex:  md.Catalog.Quotes(market.AssetForex),
		Push:   feed.NewQuoteStream(md.Feed),
		Floors: map[market.AssetType]time.Duration{
			market.AssetCrypto: cfg.MarketData.CryptoPollFloor,
			market.AssetStock:  cfg.MarketData.StockPollFloor,
			market.AssetForex:  cfg.MarketData.ForexPollFloor,
		},
		StockBatchLimit: cfg.MarketData.StockBatchLimit,
		LiveTransport:   cfg.App.LiveTransport,
	}, c.Log)

	// without live transport the store still holds the token, the socket just never dials
	var feedCtl watch.Feed = md.Feed
	if !cfg.App.LiveTransport {
		feedCtl = detachedFeed{}
	}
	md.Watch = watch.New(watch.Config{SeedToken: cfg.Feed.APIToken}, c.Store, feedCtl, md.Aggregator, c.Log)

	c.Log.Info("✓ Market data pipeline initialized")
}

// detachedFeed never connects; used without live transport
type detachedFeed struct{}

func (detachedFeed) SetToken(string)           {}
func (detachedFeed) SetSubscriptions([]string) {}

// ========================================
// Phase 5: Background Processing
// ========================================

// MustInitBackground initializes workers, ledger export and the HTTP endpoint
func (c *Container) MustInitBackground() {
	cfg := c.Config

	c.Background.WorkerScheduler = provideWorkers(c.MarketData.Watch, cfg, c.Log)

	if cfg.Kafka.Enabled() {
		c.Background.KafkaProducer = provideKafkaProducer(cfg, c.Log)
		c.Background.Ledger = kafka.NewLedgerPublisher(c.Background.KafkaProducer, cfg.Kafka.LedgerTopic, c.Log)
	} else {
		c.Log.Info("Ledger export disabled (KAFKA_BROKERS not set)")
	}

	if cfg.Metrics.Enabled {
		checks := health.New(c.Log, cfg.App.Name).
			Register("persistence", health.CheckSlot(c.Slot)).
			Register("push_feed", health.CheckFeed(c.MarketData.Feed))
		api := quotes.New(c.MarketData.Catalog, c.MarketData.Watch, c.Log)
		c.Background.MetricsServer = provideMetricsServer(cfg, c.Store, checks, api, c.Log)
	}

	c.Log.Info("✓ Background processing initialized")
}

// ========================================
// Helper Provider Functions
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(cfg.ErrorTracking.SentryDSN, cfg.ErrorTracking.Environment, cfg.App.Name)
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	producer := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers}, log)
	log.Infow("✓ Kafka producer initialized", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.LedgerTopic)
	return producer
}

func provideMetricsServer(cfg *config.Config, source metrics.SnapshotSource, checks *health.Handler, api *quotes.Handler, log *logger.Logger) *http.Server {
	metrics.Init()
	prometheus.MustRegister(metrics.NewStateCollector(log, source))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", checks.HandleHealth)
	mux.HandleFunc("/health/live", checks.HandleLiveness)
	api.Register(mux)

	log.Info("✓ Metrics initialized")
	return &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
