package sitewatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jpalmerr/sitewatch/internal/store"
)

// stateWriter persists target states in the background.
//
// Only the latest state per target is kept while a write is in flight, so
// a slow store falls behind by at most one state per target and never
// holds up report handling.
type stateWriter struct {
	p      store.Persister
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]store.State

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newStateWriter(p store.Persister, logger *slog.Logger) *stateWriter {
	sw := &stateWriter{
		p:       p,
		logger:  logger,
		pending: make(map[string]store.State),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go sw.run()
	return sw
}

// Submit queues st for writing, replacing any unwritten state for the same
// target. It never blocks on the store.
func (sw *stateWriter) Submit(st store.State) {
	sw.mu.Lock()
	sw.pending[st.ID] = st
	sw.mu.Unlock()

	select {
	case sw.wake <- struct{}{}:
	default:
	}
}

// Close writes whatever is still pending and stops the writer.
func (sw *stateWriter) Close() {
	close(sw.stop)
	<-sw.done
}

func (sw *stateWriter) run() {
	defer close(sw.done)
	for {
		select {
		case <-sw.wake:
			sw.flush()
		case <-sw.stop:
			sw.flush()
			return
		}
	}
}

func (sw *stateWriter) flush() {
	sw.mu.Lock()
	batch := sw.pending
	sw.pending = make(map[string]store.State, len(batch))
	sw.mu.Unlock()

	for _, st := range batch {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := sw.p.Put(ctx, st); err != nil {
			sw.logger.Warn("failed to persist state", "url", st.URL, "error", err)
		}
		cancel()
	}
}
