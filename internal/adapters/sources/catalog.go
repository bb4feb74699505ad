package sources

import (
	"context"

	"marketwatch/internal/adapters/config"
	"marketwatch/internal/adapters/ratelimit"
	"marketwatch/internal/domain/market"
	"marketwatch/pkg/logger"
)

// QuoteSource polls quotes for a set of symbols
type QuoteSource interface {
	Name() market.Source
	GetQuotes(ctx context.Context, symbols []string) ([]market.UniversalQuote, error)
}

// Searcher autocompletes symbols
type Searcher interface {
	Search(ctx context.Context, query string) ([]market.SearchResult, error)
}

// HistorySource serves candles, oldest first
type HistorySource interface {
	History(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

// Catalog routes quote, search and history requests to a source per asset class.
// Classes without a registered source fall back to the synthetic generator.
type Catalog struct {
	quotes    map[market.AssetType]QuoteSource
	searchers map[market.AssetType]Searcher
	history   map[market.AssetType]HistorySource
	synthetic *Synthetic
	logger    *logger.Logger
}

// NewCatalog creates an empty catalog
func NewCatalog(log *logger.Logger) *Catalog {
	return &Catalog{
		quotes:    make(map[market.AssetType]QuoteSource),
		searchers: make(map[market.AssetType]Searcher),
		history:   make(map[market.AssetType]HistorySource),
		synthetic: NewSynthetic(),
		logger:    log.With("component", "source_catalog"),
	}
}

// UseQuotes registers the polling source for class
func (c *Catalog) UseQuotes(class market.AssetType, src QuoteSource) *Catalog {
	c.quotes[class] = src
	return c
}

// UseSearch registers the search source for class
func (c *Catalog) UseSearch(class market.AssetType, src Searcher) *Catalog {
	c.searchers[class] = src
	return c
}

// UseHistory registers the history source for class
func (c *Catalog) UseHistory(class market.AssetType, src HistorySource) *Catalog {
	c.history[class] = src
	return c
}

// FromConfig wires the vendor sources that are enabled or keyed in cfg
func FromConfig(cfg config.MarketDataConfig, limits *ratelimit.Registry, log *logger.Logger) *Catalog {
	c := NewCatalog(log)

	opts := func(name market.Source, rpm int) Options {
		return Options{
			Timeout:    cfg.RequestTimeout,
			MaxRetries: cfg.MaxRetries,
			Limiter:    limits.Register(string(name), rpm),
		}
	}

	if cfg.BinanceEnabled {
		b := NewBinance(cfg.BinanceRESTURL, opts(market.SourceBinance, cfg.BinanceRPM), log)
		c.UseQuotes(market.AssetCrypto, b).UseSearch(market.AssetCrypto, b).UseHistory(market.AssetCrypto, b)
	}

	if cfg.FrankfurterEnabled {
		f := NewFrankfurter(cfg.FrankfurterURL, opts(market.SourceFrankfurter, cfg.FrankfurterRPM), log)
		c.UseQuotes(market.AssetForex, f).UseSearch(market.AssetForex, f)
	}

	if cfg.TwelveDataAPIKey != "" {
		td := NewTwelveData(cfg.TwelveDataURL, cfg.TwelveDataAPIKey, cfg.StockBatchLimit,
			opts(market.SourceTwelveData, cfg.TwelveDataRPM), log)
		c.UseQuotes(market.AssetStock, td).UseSearch(market.AssetStock, td)
	}

	if cfg.AlphaVantageAPIKey != "" {
		av := NewAlphaVantage(cfg.AlphaVantageURL, cfg.AlphaVantageAPIKey,
			opts(market.SourceAlphaVantage, cfg.AlphaVantageRPM), log)
		if _, ok := c.quotes[market.AssetStock]; !ok {
			c.UseQuotes(market.AssetStock, av)
		}
		c.UseSearch(market.AssetStock, av).
			UseHistory(market.AssetStock, av).
			UseHistory(market.AssetForex, av)
	}

	for _, class := range market.AllAssetTypes {
		c.logger.Infow("Quote source selected",
			"class", class,
			"source", c.Quotes(class).Name(),
		)
	}

	return c
}

// Quotes returns the polling source for class
func (c *Catalog) Quotes(class market.AssetType) QuoteSource {
	if src, ok := c.quotes[class]; ok {
		return src
	}
	return c.synthetic
}

// Search routes query to the class's searcher. Failures yield no results.
func (c *Catalog) Search(ctx context.Context, query string, class market.AssetType) []market.SearchResult {
	var src Searcher = c.synthetic
	if s, ok := c.searchers[class]; ok {
		src = s
	}

	results, err := src.Search(ctx, query)
	if err != nil {
		c.logger.Warnw("Symbol search failed", "class", class, "query", query, "error", err)
		return []market.SearchResult{}
	}
	if results == nil {
		results = []market.SearchResult{}
	}
	return results
}

// History routes by the symbol's class. Failures yield no candles.
func (c *Catalog) History(ctx context.Context, symbol, interval string) []market.Candle {
	class := market.Classify(symbol)

	var src HistorySource = c.synthetic
	if h, ok := c.history[class]; ok {
		src = h
	}

	candles, err := src.History(ctx, symbol, interval)
	if err != nil {
		c.logger.Warnw("History request failed", "symbol", symbol, "error", err)
		return []market.Candle{}
	}
	if candles == nil {
		candles = []market.Candle{}
	}
	return candles
}
