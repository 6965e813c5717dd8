// Package signalwatch turns a Unix SIGHUP into a reload request on a
// detect.SyncLatch, debounced so repeated signals inside the window
// collapse into one request.
//
// signalwatch does not execute the reload itself: its only job is
// RequestReload(); the control loop that owns the master registry is the
// one that actually builds and publishes a snapshot once it observes the
// latch in the Reload state.
package signalwatch

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cheewill/detectengine/internal/detect"
)

// Metrics is the subset of signal-triggered reload counters this watcher
// emits; satisfied by *detect.Metrics-shaped callers or a test double.
type Metrics interface {
	RecordReloadAttempt(source, status string)
}

type noopMetrics struct{}

func (noopMetrics) RecordReloadAttempt(string, string) {}

// Watcher listens for SIGHUP and calls latch.RequestReload, skipping
// requests that arrive inside the debounce window following the previous
// one.
type Watcher struct {
	latch    *detect.SyncLatch
	logger   *slog.Logger
	metrics  Metrics
	debounce time.Duration

	lastRequest atomic.Value // time.Time

	sigCh chan os.Signal
	done  chan struct{}
	wg    sync.WaitGroup
}

// New builds a Watcher bound to latch. debounce <= 0 defaults to 1s, the
// same default the signal handler this is grounded on used.
func New(latch *detect.SyncLatch, debounce time.Duration, logger *slog.Logger, metrics Metrics) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if debounce <= 0 {
		debounce = time.Second
	}
	return &Watcher{
		latch:    latch,
		logger:   logger,
		metrics:  metrics,
		debounce: debounce,
		sigCh:    make(chan os.Signal, 1),
		done:     make(chan struct{}),
	}
}

// Start registers the SIGHUP handler and begins the listener goroutine. ctx
// cancellation stops the watcher; callers should also call Stop to
// guarantee the OS-level registration is torn down.
func (w *Watcher) Start(ctx context.Context) {
	signal.Notify(w.sigCh, syscall.SIGHUP)
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop unregisters the signal and waits for the listener goroutine to exit.
func (w *Watcher) Stop() {
	signal.Stop(w.sigCh)
	close(w.done)
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case sig, ok := <-w.sigCh:
			if !ok {
				return
			}
			w.logger.Info("received signal", "signal", sig.String())
			w.handle()
		}
	}
}

func (w *Watcher) handle() {
	if w.shouldDebounce() {
		w.logger.Debug("reload request debounced", "window", w.debounce)
		return
	}
	w.lastRequest.Store(time.Now())

	if err := w.latch.RequestReload(); err != nil {
		w.metrics.RecordReloadAttempt("sighup", "rejected")
		w.logger.Warn("reload request rejected, a reload is already in flight", "error", err)
		return
	}
	w.metrics.RecordReloadAttempt("sighup", "requested")
	w.logger.Info("reload requested via SIGHUP")
}

func (w *Watcher) shouldDebounce() bool {
	v := w.lastRequest.Load()
	if v == nil {
		return false
	}
	return time.Since(v.(time.Time)) < w.debounce
}
