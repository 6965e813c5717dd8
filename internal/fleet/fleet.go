// Package fleet is a deterministic, goroutine-and-channel stand-in for the
// packet-processing pipeline. It is not a packet engine: workers here do
// not parse or match anything. They exist so the reload orchestrator's
// handoff contract (enumerate -> atomic slot store -> adoption probe ->
// RunningDone) has a real implementation to drive and test against,
// instead of a mock.
package fleet

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cheewill/detectengine/internal/detect"
)

// Packet is the minimal unit of work a Worker consumes. PseudoStreamEnd
// marks the synthetic probe packet the orchestrator injects to force a
// blocked worker to wake and observe its replaced thread context.
type Packet struct {
	PseudoStreamEnd bool
	Payload         []byte
}

// Worker owns one atomic thread-context slot, an input packet queue, and a
// loop goroutine that, once per received packet, reloads its slot pointer
// and flips adopted. It implements detect.Worker.
type Worker struct {
	id     int
	name   string
	handle *detect.ThreadHandle

	slot atomic.Pointer[detect.ThreadContext]

	queue       chan Packet
	hasQueue    bool
	runningDone chan struct{}

	logger *slog.Logger

	processed atomic.Uint64
}

// NewWorker constructs a worker with a buffered input queue. It does not
// start the processing loop: the caller runs Run in its own goroutine, and
// cancelling Run's context ends the loop and closes RunningDone.
func NewWorker(id int, name string, queueSize int, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		id:          id,
		name:        name,
		handle:      &detect.ThreadHandle{ID: id, Name: name},
		queue:       make(chan Packet, queueSize),
		hasQueue:    queueSize > 0,
		runningDone: make(chan struct{}),
		logger:      logger,
	}
	return w
}

// Handle implements detect.Worker.
func (w *Worker) Handle() *detect.ThreadHandle { return w.handle }

// HasDetectionSlot implements detect.Worker: every fleet.Worker has
// exactly one detection slot.
func (w *Worker) HasDetectionSlot() bool { return true }

// Slot implements detect.Worker.
func (w *Worker) Slot() *atomic.Pointer[detect.ThreadContext] { return &w.slot }

// EnqueueProbe implements detect.Worker: it injects a synthetic
// "pseudo stream end" packet so a worker blocked on an empty queue wakes up
// and picks up its replaced thread context.
func (w *Worker) EnqueueProbe() bool {
	if !w.hasQueue {
		return false
	}
	select {
	case w.queue <- Packet{PseudoStreamEnd: true}:
		return true
	default:
		// Queue full: a real packet will arrive soon enough and cause the
		// same slot reload, so this is not an error.
		return false
	}
}

// RunningDone implements detect.Worker.
func (w *Worker) RunningDone() <-chan struct{} { return w.runningDone }

// Submit enqueues a real packet for processing without blocking, for
// callers outside the reload path; it returns false when the queue is full.
func (w *Worker) Submit(p Packet) bool {
	select {
	case w.queue <- p:
		return true
	default:
		return false
	}
}

// Processed returns the number of packets this worker has looped over,
// for diagnostics.
func (w *Worker) Processed() uint64 { return w.processed.Load() }

// Run is the worker's processing loop: once per packet it reloads its slot
// pointer with a single atomic load and flips adopted on first use of
// whatever context it currently observes. Run blocks until ctx is
// canceled, then closes RunningDone.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.runningDone)
	for {
		select {
		case <-ctx.Done():
			return
		case pkt := <-w.queue:
			tc := w.slot.Load()
			if tc == nil {
				continue
			}
			if !tc.Adopted() {
				tc.MarkAdopted()
				w.logger.Debug("worker adopted new thread context", "worker", w.name, "snapshot_id", tc.Snapshot.ID)
			}
			w.processed.Add(1)
			_ = pkt
		}
	}
}

// Fleet is the process's packet-processing thread list: a slice of *Worker
// registered at startup and walked under a lock. It implements
// detect.Fleet.
type Fleet struct {
	mu      sync.Mutex
	workers []*Worker
}

// NewFleet returns an empty fleet.
func NewFleet() *Fleet {
	return &Fleet{}
}

// Add registers a worker with the fleet.
func (f *Fleet) Add(w *Worker) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workers = append(f.workers, w)
}

// Workers implements detect.Fleet: it returns a snapshot slice of the
// registered workers under the fleet's lock.
func (f *Fleet) Workers() []detect.Worker {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]detect.Worker, len(f.workers))
	for i, w := range f.workers {
		out[i] = w
	}
	return out
}

// Len returns the number of registered workers.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.workers)
}
