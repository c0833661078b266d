// Package worker runs the dispatch trigger on an interval in serve mode,
// standing in for the cron tick of a scheduled deployment.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pelicanmail/pelican/internal/dispatch"
)

// Worker periodically triggers campaign dispatching
type Worker struct {
	dispatcher   *dispatch.Dispatcher
	pollInterval time.Duration
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a worker.
func New(d *dispatch.Dispatcher, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		dispatcher:   d,
		pollInterval: pollInterval,
		logger:       logger.With("component", "worker"),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the worker.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker started", "poll_interval", w.pollInterval)
}

// Stop stops the worker gracefully, waiting for an in-flight run to finish.
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Worker) tick() {
	stats, err := w.dispatcher.Run(w.ctx)
	if err != nil {
		w.logger.Error("dispatch run failed", "error", err)
		return
	}
	if stats.Processed > 0 || stats.Skipped > 0 {
		w.logger.Info("dispatch run finished",
			"processed", stats.Processed,
			"completed", stats.Completed,
			"cancelled", stats.Cancelled,
			"skipped", stats.Skipped,
		)
	}
}
