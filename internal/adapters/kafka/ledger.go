package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketwatch/internal/domain/market"
	"marketwatch/internal/metrics"
	"marketwatch/pkg/logger"
)

// DefaultLedgerTopic receives one message per executed order
const DefaultLedgerTopic = "marketwatch.ledger"

const (
	ledgerQueueSize      = 256
	ledgerPublishTimeout = 10 * time.Second
)

// EventOrderExecuted tags ledger messages
const EventOrderExecuted = "order.executed"

// LedgerEvent is the payload of one executed order
type LedgerEvent struct {
	Event string `json:"event"`
	market.Transaction
}

// Publisher sends one event to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// TransactionFeed emits the ledger whenever it changes
type TransactionFeed interface {
	Subscribe(fn func([]market.Transaction)) (unsubscribe func())
}

// LedgerPublisher exports each new ledger entry exactly once, oldest first.
// Entries present when it attaches are treated as already exported.
type LedgerPublisher struct {
	pub   Publisher
	topic string
	log   *logger.Logger

	mu     sync.Mutex
	seen   map[uuid.UUID]struct{}
	primed bool

	queue chan market.Transaction
}

// NewLedgerPublisher creates a ledger exporter; an empty topic uses DefaultLedgerTopic
func NewLedgerPublisher(pub Publisher, topic string, log *logger.Logger) *LedgerPublisher {
	if topic == "" {
		topic = DefaultLedgerTopic
	}
	return &LedgerPublisher{
		pub:   pub,
		topic: topic,
		log:   log.With("component", "ledger_publisher", "topic", topic),
		seen:  make(map[uuid.UUID]struct{}),
		queue: make(chan market.Transaction, ledgerQueueSize),
	}
}

// Run attaches to feed and publishes until ctx is done. It blocks.
func (l *LedgerPublisher) Run(ctx context.Context, feed TransactionFeed) {
	unsubscribe := feed.Subscribe(l.observe)
	defer unsubscribe()

	l.log.Infow("Ledger export started")
	for {
		select {
		case <-ctx.Done():
			l.log.Infow("Ledger export stopped", "pending", len(l.queue))
			return
		case tx := <-l.queue:
			l.publish(ctx, tx)
		}
	}
}

// observe runs on the store's notification path and must not block
func (l *LedgerPublisher) observe(ledger []market.Transaction) {
	l.mu.Lock()
	defer l.mu.Unlock()

	current := make(map[uuid.UUID]struct{}, len(ledger))
	for _, tx := range ledger {
		current[tx.ID] = struct{}{}
	}

	if !l.primed {
		l.primed = true
		l.seen = current
		return
	}

	// ledger is newest first
	for i := len(ledger) - 1; i >= 0; i-- {
		tx := ledger[i]
		if _, ok := l.seen[tx.ID]; ok {
			continue
		}
		select {
		case l.queue <- tx:
		default:
			l.log.Warnw("Ledger export queue full, dropping entry", "id", tx.ID, "symbol", tx.Symbol)
		}
	}

	// entries truncated out of the ledger can never come back
	l.seen = current
}

func (l *LedgerPublisher) publish(ctx context.Context, tx market.Transaction) {
	ctx, cancel := context.WithTimeout(ctx, ledgerPublishTimeout)
	defer cancel()

	err := l.pub.Publish(ctx, l.topic, tx.Symbol, LedgerEvent{Event: EventOrderExecuted, Transaction: tx})
	metrics.RecordLedgerPublish(err)
	if err != nil {
		l.log.Warnw("Ledger entry not exported", "id", tx.ID, "symbol", tx.Symbol, "error", err)
	}
}
