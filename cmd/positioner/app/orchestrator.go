package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Orchestrator runs the long-lived parts of the positioner. The first one to fail
// cancels the others.
type Orchestrator struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

// NewOrchestrator creates an Orchestrator bound to ctx
func NewOrchestrator(ctx context.Context, logger *slog.Logger) *Orchestrator {
	o := Orchestrator{logger: logger}
	o.ctx, o.cancel = context.WithCancel(ctx)
	return &o
}

// Context is cancelled when the parent is, or when a task fails.
func (o *Orchestrator) Context() context.Context {
	return o.ctx
}

// Go runs fn in its own goroutine.
func (o *Orchestrator) Go(name string, fn func(context.Context) error) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		o.logger.Debug("task started", slog.String("task", name))
		if err := fn(o.ctx); err != nil && !errors.Is(err, context.Canceled) {
			o.logger.Error(err.Error(), slog.String("task", name))

			o.mu.Lock()
			o.errs = append(o.errs, fmt.Errorf("%s: %w", name, err))
			o.mu.Unlock()

			o.cancel() // signal to other goroutines about fatal
			return
		}
		o.logger.Debug("task finished", slog.String("task", name))
	}()
}

// Wait blocks until every task returned and reports the failures.
func (o *Orchestrator) Wait() error {
	o.wg.Wait()
	o.cancel()

	o.mu.Lock()
	defer o.mu.Unlock()
	return errors.Join(o.errs...)
}
