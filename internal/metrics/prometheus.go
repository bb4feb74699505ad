package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Store metrics
	ActionsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_actions_dispatched_total",
			Help: "Total number of actions dispatched to the store",
		},
		[]string{"action", "status"}, // status: accepted|rejected|unknown
	)

	PersistenceWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_persistence_writes_total",
			Help: "Total number of persisted state writes",
		},
		[]string{"status"}, // status: success|error
	)

	WatchlistSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketwatch_watchlist_size",
			Help: "Number of watched symbols",
		},
	)

	CashBalance = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketwatch_cash_balance",
			Help: "Paper portfolio cash balance",
		},
	)

	NetWorth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketwatch_net_worth",
			Help: "Cash balance plus marked-to-market holdings",
		},
	)

	// Aggregator metrics
	QuotesMerged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_quotes_merged_total",
			Help: "Total number of quotes accepted into the latest-quote map",
		},
		[]string{"source"},
	)

	QuotesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_quotes_rejected_total",
			Help: "Total number of quotes dropped by the price guard",
		},
		[]string{"source"},
	)

	PollFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_poll_failures_total",
			Help: "Total number of failed poll cycles per asset class",
		},
		[]string{"class"},
	)

	// Source metrics
	SourceAPICalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_source_api_calls_total",
			Help: "Total number of quote vendor API calls",
		},
		[]string{"source", "endpoint", "status"}, // status: success|error
	)

	SourceAPILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketwatch_source_api_latency_seconds",
			Help:    "Quote vendor API latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"source", "endpoint"},
	)

	// Push feed metrics
	FeedState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketwatch_feed_state",
			Help: "Push feed connection state (1 for the current state)",
		},
		[]string{"state"},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketwatch_feed_reconnects_total",
			Help: "Total number of push feed reconnect attempts",
		},
	)

	FeedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_feed_ticks_total",
			Help: "Total number of push feed ticks",
		},
		[]string{"status"}, // status: accepted|dropped
	)

	// Ledger export metrics
	LedgerPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketwatch_ledger_published_total",
			Help: "Total number of transactions exported to Kafka",
		},
		[]string{"status"}, // status: success|error
	)
)

var feedStates = []string{"idle", "connecting", "open", "closed", "error"}

// Init registers all metrics with Prometheus
func Init() {
	// Store metrics
	prometheus.MustRegister(ActionsDispatched)
	prometheus.MustRegister(PersistenceWrites)
	prometheus.MustRegister(WatchlistSize)
	prometheus.MustRegister(CashBalance)
	prometheus.MustRegister(NetWorth)

	// Aggregator metrics
	prometheus.MustRegister(QuotesMerged)
	prometheus.MustRegister(QuotesRejected)
	prometheus.MustRegister(PollFailures)

	// Source metrics
	prometheus.MustRegister(SourceAPICalls)
	prometheus.MustRegister(SourceAPILatency)

	// Push feed metrics
	prometheus.MustRegister(FeedState)
	prometheus.MustRegister(FeedReconnects)
	prometheus.MustRegister(FeedTicks)

	// Ledger export metrics
	prometheus.MustRegister(LedgerPublished)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAction records a dispatched store action
func RecordAction(action, status string) {
	ActionsDispatched.WithLabelValues(action, status).Inc()
}

// RecordPersistenceWrite records a persisted state write
func RecordPersistenceWrite(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	PersistenceWrites.WithLabelValues(status).Inc()
}

// RecordQuote records whether a candidate quote passed the merge guard
func RecordQuote(source string, accepted bool) {
	if accepted {
		QuotesMerged.WithLabelValues(source).Inc()
		return
	}
	QuotesRejected.WithLabelValues(source).Inc()
}

// RecordPollFailure records a failed poll cycle
func RecordPollFailure(class string) {
	PollFailures.WithLabelValues(class).Inc()
}

// RecordSourceAPICall records a quote vendor API call
func RecordSourceAPICall(source, endpoint string, latency time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	SourceAPICalls.WithLabelValues(source, endpoint, status).Inc()
	SourceAPILatency.WithLabelValues(source, endpoint).Observe(latency.Seconds())
}

// RecordFeedState marks the current push feed state
func RecordFeedState(state string) {
	for _, s := range feedStates {
		v := 0.0
		if s == state {
			v = 1
		}
		FeedState.WithLabelValues(s).Set(v)
	}
}

// RecordFeedTick records an inbound push tick
func RecordFeedTick(accepted bool) {
	if accepted {
		FeedTicks.WithLabelValues("accepted").Inc()
		return
	}
	FeedTicks.WithLabelValues("dropped").Inc()
}

// RecordLedgerPublish records a ledger export attempt
func RecordLedgerPublish(err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerPublished.WithLabelValues(status).Inc()
}

// SetPortfolio updates the portfolio gauges
func SetPortfolio(watchlistSize int, balance, netWorth float64) {
	WatchlistSize.Set(float64(watchlistSize))
	CashBalance.Set(balance)
	NetWorth.Set(netWorth)
}
