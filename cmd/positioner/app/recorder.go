package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roman-kulish/ultrasonic-tdoa/internal/cycle"
	"github.com/roman-kulish/ultrasonic-tdoa/internal/storage"
)

const (
	defaultRecorderQueue = 64
	storeTimeout         = 5 * time.Second
)

// Recorder persists finished cycles off the coordinator goroutine. Reports are
// queued and written by a single goroutine; when the queue is full they are dropped.
type Recorder struct {
	store     storage.Store
	sessionID int64
	reports   chan cycle.Report
	logger    *slog.Logger

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	stored   atomic.Uint64
	dropped  atomic.Uint64
	failures atomic.Uint64
}

var _ cycle.Recorder = (*Recorder)(nil)

// NewRecorder starts the writer goroutine
func NewRecorder(store storage.Store, sessionID int64, queueSize int, logger *slog.Logger) *Recorder {
	r := Recorder{
		store:     store,
		sessionID: sessionID,
		reports:   make(chan cycle.Report, queueSize),
		logger:    logger,
	}

	r.wg.Add(1)
	go r.handleReports()

	return &r
}

// RecordCycle implements cycle.Recorder. It never blocks.
func (r *Recorder) RecordCycle(report cycle.Report) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.reports <- report:
	default:
		r.dropped.Add(1)
		r.logger.Warn("recorder queue full, dropping cycle", slog.Uint64("cycle", report.CycleID))
	}
}

func (r *Recorder) handleReports() {
	defer r.wg.Done()

	for report := range r.reports {
		if err := r.storeReport(report); err != nil {
			r.logger.Error(err.Error(), slog.Uint64("cycle", report.CycleID))
			r.failures.Add(1)
			continue
		}
		r.stored.Add(1)
	}
}

func (r *Recorder) storeReport(report cycle.Report) error {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if err := r.store.StoreCycle(ctx, r.sessionID, &report); err != nil {
		return fmt.Errorf("storing cycle: %w", err)
	}
	return nil
}

// Stats returns the number of stored, dropped and failed reports
func (r *Recorder) Stats() (stored, dropped, failures uint64) {
	return r.stored.Load(), r.dropped.Load(), r.failures.Load()
}

// Close stops accepting reports and waits for the queued ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.reports)
	r.mu.Unlock()

	r.wg.Wait()
}
