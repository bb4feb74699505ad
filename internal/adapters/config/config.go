package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"

	"marketwatch/pkg/errors"
)

type Config struct {
	App           AppConfig
	Persistence   PersistenceConfig
	Redis         RedisConfig
	MarketData    MarketDataConfig
	Feed          FeedConfig
	Portfolio     PortfolioConfig
	Kafka         KafkaConfig
	Metrics       MetricsConfig
	ErrorTracking ErrorTrackingConfig
	Workers       WorkerConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"marketwatch"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool   `envconfig:"DEBUG" default:"false"`

	// StrictStore panics on unknown actions; only honored outside production
	StrictStore bool `envconfig:"STORE_STRICT" default:"false"`

	// LiveTransport disables every timer and connection when false (headless rendering, tests)
	LiveTransport bool `envconfig:"LIVE_TRANSPORT" default:"true"`
}

// IsProduction reports whether the app runs in production
func (c AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// Strict reports whether unknown actions should panic
func (c AppConfig) Strict() bool {
	return c.StrictStore && !c.IsProduction()
}

type PersistenceConfig struct {
	Backend    string `envconfig:"PERSISTENCE_BACKEND" default:"sqlite"` // redis|sqlite|memory
	StorageKey string `envconfig:"PERSISTENCE_KEY" default:"marketwatch.state.v2"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"./data/marketwatch.db"`
}

type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD"`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type MarketDataConfig struct {
	// Vendor endpoints
	BinanceRESTURL     string `envconfig:"BINANCE_REST_URL" default:"https://api.binance.com"`
	TwelveDataURL      string `envconfig:"TWELVEDATA_URL" default:"https://api.twelvedata.com"`
	FrankfurterURL     string `envconfig:"FRANKFURTER_URL" default:"https://api.frankfurter.app"`
	AlphaVantageURL    string `envconfig:"ALPHAVANTAGE_URL" default:"https://www.alphavantage.co"`
	TwelveDataAPIKey   string `envconfig:"TWELVEDATA_API_KEY"`
	AlphaVantageAPIKey string `envconfig:"ALPHAVANTAGE_API_KEY"`

	// Binance REST is keyless; disabling it falls back to synthetic crypto quotes
	BinanceEnabled     bool `envconfig:"BINANCE_ENABLED" default:"true"`
	FrankfurterEnabled bool `envconfig:"FRANKFURTER_ENABLED" default:"true"`

	// Per-class poll floors protect vendor rate limits
	CryptoPollFloor time.Duration `envconfig:"CRYPTO_POLL_FLOOR" default:"2s"`
	StockPollFloor  time.Duration `envconfig:"STOCK_POLL_FLOOR" default:"15s"`
	ForexPollFloor  time.Duration `envconfig:"FOREX_POLL_FLOOR" default:"30s"`

	// Stock polling sends at most this many symbols per tick
	StockBatchLimit int `envconfig:"STOCK_BATCH_LIMIT" default:"8"`

	// Vendor budgets (requests per minute)
	BinanceRPM      int `envconfig:"BINANCE_RPM" default:"1200"`
	TwelveDataRPM   int `envconfig:"TWELVEDATA_RPM" default:"8"`
	AlphaVantageRPM int `envconfig:"ALPHAVANTAGE_RPM" default:"5"`
	FrankfurterRPM  int `envconfig:"FRANKFURTER_RPM" default:"60"`

	RequestTimeout time.Duration `envconfig:"MARKET_DATA_REQUEST_TIMEOUT" default:"10s"`
	MaxRetries     int           `envconfig:"MARKET_DATA_MAX_RETRIES" default:"2"`
}

type FeedConfig struct {
	URL              string        `envconfig:"FEED_URL" default:"wss://ws.finnhub.io"`
	TokenParam       string        `envconfig:"FEED_TOKEN_PARAM" default:"token"`
	APIToken         string        `envconfig:"FEED_API_TOKEN"` // seeds settings.apiToken when the store has none
	BaseDelay        time.Duration `envconfig:"FEED_BASE_DELAY" default:"1s"`
	MaxDelay         time.Duration `envconfig:"FEED_MAX_DELAY" default:"8s"`
	HandshakeTimeout time.Duration `envconfig:"FEED_HANDSHAKE_TIMEOUT" default:"10s"`
	PingInterval     time.Duration `envconfig:"FEED_PING_INTERVAL" default:"20s"`
	HeartbeatTimeout time.Duration `envconfig:"FEED_HEARTBEAT_TIMEOUT" default:"60s"`
}

type PortfolioConfig struct {
	InitialBalance string `envconfig:"PORTFOLIO_INITIAL_BALANCE" default:"10000"`
	LedgerCap      int    `envconfig:"PORTFOLIO_LEDGER_CAP" default:"50"`
}

// Balance parses the starting cash
func (c PortfolioConfig) Balance() (decimal.Decimal, error) {
	b, err := decimal.NewFromString(c.InitialBalance)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "invalid PORTFOLIO_INITIAL_BALANCE %q", c.InitialBalance)
	}
	return b, nil
}

type KafkaConfig struct {
	Brokers     []string `envconfig:"KAFKA_BROKERS"` // empty disables ledger export
	LedgerTopic string   `envconfig:"KAFKA_LEDGER_TOPIC" default:"marketwatch.ledger"`
}

// Enabled reports whether ledger export is configured
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

type MetricsConfig struct {
	Enabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Addr    string `envconfig:"METRICS_ADDR" default:":9102"`
}

type ErrorTrackingConfig struct {
	Enabled     bool   `envconfig:"ERROR_TRACKING_ENABLED" default:"false"`
	Provider    string `envconfig:"ERROR_TRACKING_PROVIDER" default:"sentry"`
	SentryDSN   string `envconfig:"SENTRY_DSN"`
	Environment string `envconfig:"SENTRY_ENVIRONMENT" default:"production"`
}

// WorkerConfig contains intervals for background loops outside the quote pipeline
type WorkerConfig struct {
	DashboardInterval time.Duration `envconfig:"WORKER_DASHBOARD_INTERVAL" default:"10s"` // Terminal dashboard refresh
	MetricsInterval   time.Duration `envconfig:"WORKER_METRICS_INTERVAL" default:"15s"`   // Portfolio gauges refresh
}

// Load reads configuration from environment variables
// It first tries to load .env file (useful for local development)
func Load() (*Config, error) {
	// Load .env file if exists (ignore error if not exists)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to process env config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express
func (c *Config) Validate() error {
	switch c.Persistence.Backend {
	case "redis", "sqlite", "memory":
	default:
		return errors.NewValidationError("PERSISTENCE_BACKEND", "must be redis, sqlite or memory", c.Persistence.Backend)
	}
	if c.Persistence.StorageKey == "" {
		return errors.NewValidationError("PERSISTENCE_KEY", "must not be empty", c.Persistence.StorageKey)
	}
	if c.Feed.BaseDelay <= 0 || c.Feed.MaxDelay < c.Feed.BaseDelay {
		return errors.NewValidationError("FEED_MAX_DELAY", "must be >= FEED_BASE_DELAY > 0", c.Feed.MaxDelay)
	}
	if c.Portfolio.LedgerCap <= 0 {
		return errors.NewValidationError("PORTFOLIO_LEDGER_CAP", "must be positive", c.Portfolio.LedgerCap)
	}
	if b, err := c.Portfolio.Balance(); err != nil || !b.IsPositive() {
		return errors.NewValidationError("PORTFOLIO_INITIAL_BALANCE", "must be a positive decimal", c.Portfolio.InitialBalance)
	}
	if c.MarketData.StockBatchLimit <= 0 {
		return errors.NewValidationError("STOCK_BATCH_LIMIT", "must be positive", c.MarketData.StockBatchLimit)
	}
	return nil
}
