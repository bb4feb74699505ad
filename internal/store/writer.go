package store

import (
	"context"
	"sync"

	"marketwatch/internal/metrics"
	"marketwatch/pkg/logger"
)

// stateWriter saves encoded state on its own goroutine. Only the newest pending
// blob is kept; older unsaved blobs are superseded.
type stateWriter struct {
	slot Slot
	log  *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	busy    bool
	closed  bool
	done    chan struct{}
}

func newStateWriter(slot Slot, log *logger.Logger) *stateWriter {
	w := &stateWriter{slot: slot, log: log, done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// offer queues data, replacing any blob not yet written. It never blocks on the slot.
func (w *stateWriter) offer(data []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = data
	w.cond.Broadcast()
}

// flush waits until everything offered so far is written
func (w *stateWriter) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for w.pending != nil || w.busy {
		w.cond.Wait()
	}
}

// close writes the last pending blob and stops the goroutine
func (w *stateWriter) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
	<-w.done
}

func (w *stateWriter) loop() {
	defer close(w.done)

	for {
		w.mu.Lock()
		for w.pending == nil && !w.closed {
			w.cond.Wait()
		}
		if w.pending == nil {
			w.mu.Unlock()
			return
		}
		data := w.pending
		w.pending = nil
		w.busy = true
		w.mu.Unlock()

		w.save(data)

		w.mu.Lock()
		w.busy = false
		w.cond.Broadcast()
		w.mu.Unlock()
	}
}

func (w *stateWriter) save(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	err := w.slot.Save(ctx, data)
	metrics.RecordPersistenceWrite(err)
	if err != nil {
		w.log.Warnw("Failed to persist state", "error", err)
	}
}
