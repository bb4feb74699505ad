package bootstrap

import (
	"context"
	"sync"
	"time"

	"marketwatch/pkg/errors"
	"marketwatch/pkg/logger"
)

// Lifecycle manages graceful shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 30 * time.Second,
	}
}

// Shutdown tears components down in order:
// 1. Metrics endpoint
// 2. Workers
// 3. Watch engine (cancels polls, detaches from the store)
// 4. Push feed
// 5. Remaining goroutines (ledger export), then the Kafka producer
// 6. Error tracker flush
// 7. Persistence slot last; the store writes to it until the watch engine is gone
func (l *Lifecycle) Shutdown(c *Container, log *logger.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	log.Info("[1/7] Stopping metrics endpoint...")
	if srv := c.Background.MetricsServer; srv != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := srv.Shutdown(httpCtx); err != nil {
			log.Errorw("Metrics server shutdown failed", "error", err)
		} else {
			log.Info("✓ Metrics endpoint stopped")
		}
		httpCancel()
	}

	log.Info("[2/7] Stopping background workers...")
	if c.Background.WorkerScheduler != nil && c.Background.WorkerScheduler.IsRunning() {
		if err := c.Background.WorkerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	log.Info("[3/7] Stopping watch engine...")
	if c.MarketData.Watch != nil {
		c.MarketData.Watch.Stop()
		log.Info("✓ Watch engine stopped")
	}

	log.Info("[4/7] Closing push feed...")
	if c.MarketData.Feed != nil {
		if err := c.MarketData.Feed.Close(); err != nil {
			log.Errorw("Push feed close failed", "error", err)
		} else {
			log.Info("✓ Push feed closed")
		}
	}

	// Cancel the application context to release goroutines tied to it
	c.Cancel()

	log.Info("[5/7] Waiting for background goroutines...")
	l.waitForGoroutines(c.WG, 10*time.Second, log)
	if c.Background.KafkaProducer != nil {
		if err := c.Background.KafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}

	log.Info("[6/7] Flushing error tracker...")
	l.flushErrorTracker(shutdownCtx, c.ErrorTracker, log)

	log.Info("[7/7] Closing persistence slot...")
	if c.Store != nil {
		c.Store.Close()
	}
	if c.Slot != nil {
		if err := c.Slot.Close(); err != nil {
			log.Errorw("Persistence slot close failed", "error", err)
		} else {
			log.Info("✓ Persistence slot closed")
		}
	}

	log.Info("✓ Graceful shutdown complete")
	_ = logger.Sync()
}

func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ Background goroutines finished")
	case <-time.After(timeout):
		log.Warnw("Timeout waiting for goroutines", "timeout", timeout)
	}
}

func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}
	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}
