package detect

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWorker is a minimal Worker that behaves like a packet-processing
// loop: it polls its own slot once per "tick" (triggered by EnqueueProbe or
// a background goroutine) and marks adoption once it observes a new
// context.
type fakeWorker struct {
	handle      *ThreadHandle
	slot        atomic.Pointer[ThreadContext]
	hasSlot     bool
	runningDone chan struct{}
	stop        chan struct{}
}

func newFakeWorker(name string, hasSlot bool) *fakeWorker {
	w := &fakeWorker{
		handle:      &ThreadHandle{Name: name},
		hasSlot:     hasSlot,
		runningDone: make(chan struct{}),
		stop:        make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *fakeWorker) loop() {
	defer close(w.runningDone)
	ticker := time.NewTicker(200 * time.Microsecond)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			if ctx := w.slot.Load(); ctx != nil {
				ctx.MarkAdopted()
			}
		}
	}
}

func (w *fakeWorker) Handle() *ThreadHandle                   { return w.handle }
func (w *fakeWorker) HasDetectionSlot() bool                  { return w.hasSlot }
func (w *fakeWorker) Slot() *atomic.Pointer[ThreadContext]    { return &w.slot }
func (w *fakeWorker) EnqueueProbe() bool                      { return true }
func (w *fakeWorker) RunningDone() <-chan struct{}            { return w.runningDone }
func (w *fakeWorker) stopLoop()                               { close(w.stop) }

type fakeFleet struct {
	workers []Worker
}

func (f *fakeFleet) Workers() []Worker { return f.workers }

// S6 — reload round-trip.
func TestOrchestrator_ReloadRoundTrip(t *testing.T) {
	registry := NewMasterRegistry()
	a := InitMinimal(1)
	registry.AddToMaster(a)

	const nWorkers = 3
	workers := make([]*fakeWorker, nWorkers)
	fleetWorkers := make([]Worker, nWorkers)
	for i := range workers {
		workers[i] = newFakeWorker("w", true)
		defer workers[i].stopLoop()
		fleetWorkers[i] = workers[i]

		old, err := NewThreadContext(registry, workers[i].handle, ThreadContextOptions{Snapshot: a, UnitTestRunner: true})
		require.NoError(t, err)
		workers[i].slot.Store(old)
	}
	assert.EqualValues(t, nWorkers, a.RefCount())

	b := InitMinimal(2)
	registry.AddToMaster(b)

	orch := &Orchestrator{Registry: registry, AdoptionPollInterval: time.Millisecond}
	report, err := orch.Run(context.Background(), &fakeFleet{workers: fleetWorkers}, b, nil)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, report.Outcome)
	assert.Equal(t, nWorkers, report.Adopted)

	for _, w := range workers {
		ctx := w.slot.Load()
		assert.Same(t, b, ctx.Snapshot)
		assert.True(t, ctx.Adopted())
	}

	require.NoError(t, registry.MoveToFreeList(a))
	assert.Equal(t, 1, registry.FreeCount())
	n := registry.PruneFreeList()
	assert.Equal(t, 1, n, "A's refcount should have dropped to zero after all workers released it")
}

func TestOrchestrator_NoWorkers(t *testing.T) {
	registry := NewMasterRegistry()
	b := InitMinimal(1)
	registry.AddToMaster(b)

	orch := &Orchestrator{Registry: registry}
	report, err := orch.Run(context.Background(), &fakeFleet{}, b, nil)
	assert.ErrorIs(t, err, ErrNoWorkers)
	assert.Equal(t, OutcomeNoWorkers, report.Outcome)
}

func TestOrchestrator_SkipsWorkersWithoutDetectionSlot(t *testing.T) {
	registry := NewMasterRegistry()
	a := InitMinimal(1)
	registry.AddToMaster(a)

	withSlot := newFakeWorker("w1", true)
	defer withSlot.stopLoop()
	withoutSlot := newFakeWorker("w2", false)
	defer withoutSlot.stopLoop()

	old, err := NewThreadContext(registry, withSlot.handle, ThreadContextOptions{Snapshot: a, UnitTestRunner: true})
	require.NoError(t, err)
	withSlot.slot.Store(old)

	b := InitMinimal(2)
	registry.AddToMaster(b)

	orch := &Orchestrator{Registry: registry, AdoptionPollInterval: time.Millisecond}
	report, err := orch.Run(context.Background(), &fakeFleet{workers: []Worker{withSlot, withoutSlot}}, b, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.WorkersTotal)
}

// stalledWorker never adopts: it models a worker that stops processing
// because the process is going down. Its first probe runs onProbe, which
// the test uses to trigger shutdown at a precise point inside phase 4.
type stalledWorker struct {
	handle      *ThreadHandle
	slot        atomic.Pointer[ThreadContext]
	runningDone chan struct{}
	onProbe     func()
	probeOnce   sync.Once
}

func (w *stalledWorker) Handle() *ThreadHandle                { return w.handle }
func (w *stalledWorker) HasDetectionSlot() bool               { return true }
func (w *stalledWorker) Slot() *atomic.Pointer[ThreadContext] { return &w.slot }
func (w *stalledWorker) RunningDone() <-chan struct{}         { return w.runningDone }

func (w *stalledWorker) EnqueueProbe() bool {
	w.probeOnce.Do(w.onProbe)
	return true
}

// Shutdown arriving after publish has completed but before every worker has
// adopted: the published pointers stay in place, the reclaim of old
// contexts waits for the stalled worker to signal RunningDone, and the old
// snapshot ends up with no thread references.
func TestOrchestrator_ShutdownDuringAdoption(t *testing.T) {
	registry := NewMasterRegistry()
	a := InitMinimal(1)
	registry.AddToMaster(a)

	adopting := newFakeWorker("w1", true)
	defer adopting.stopLoop()
	oldAdopting, err := NewThreadContext(registry, adopting.handle, ThreadContextOptions{Snapshot: a, UnitTestRunner: true})
	require.NoError(t, err)
	adopting.slot.Store(oldAdopting)

	shutdown := make(chan struct{})
	stalled := &stalledWorker{handle: &ThreadHandle{Name: "w2"}, runningDone: make(chan struct{})}
	stalled.onProbe = func() {
		close(shutdown)
		close(stalled.runningDone)
	}
	oldStalled, err := NewThreadContext(registry, stalled.handle, ThreadContextOptions{Snapshot: a, UnitTestRunner: true})
	require.NoError(t, err)
	stalled.slot.Store(oldStalled)

	require.EqualValues(t, 2, a.RefCount())

	b := InitMinimal(2)
	registry.AddToMaster(b)

	orch := &Orchestrator{Registry: registry, AdoptionPollInterval: time.Millisecond, ShutdownWaitInterval: 100 * time.Microsecond}
	report, err := orch.Run(context.Background(), &fakeFleet{workers: []Worker{adopting, stalled}}, b, shutdown)
	assert.ErrorIs(t, err, ErrReloadShutdown)
	assert.Equal(t, OutcomeShutdown, report.Outcome)
	assert.Equal(t, 1, report.Adopted)

	// Publish completed for every slot and is not rolled back: both workers
	// hold contexts bound to B, the stalled one unadopted.
	require.NotNil(t, adopting.slot.Load())
	require.NotNil(t, stalled.slot.Load())
	assert.Same(t, b, adopting.slot.Load().Snapshot)
	assert.Same(t, b, stalled.slot.Load().Snapshot)
	assert.True(t, adopting.slot.Load().Adopted())
	assert.False(t, stalled.slot.Load().Adopted())

	// Both old contexts were reclaimed after the RunningDone wait, so A
	// holds no thread references while B holds one per worker.
	assert.EqualValues(t, 0, a.RefCount())
	assert.EqualValues(t, 2, b.RefCount())
}

func TestOrchestrator_ShutdownInterruptsBuild(t *testing.T) {
	registry := NewMasterRegistry()
	a := InitMinimal(1)
	registry.AddToMaster(a)

	w := newFakeWorker("w1", true)
	defer w.stopLoop()
	old, err := NewThreadContext(registry, w.handle, ThreadContextOptions{Snapshot: a, UnitTestRunner: true})
	require.NoError(t, err)
	w.slot.Store(old)

	b := InitMinimal(2)
	registry.AddToMaster(b)

	shutdown := make(chan struct{})
	close(shutdown)

	orch := &Orchestrator{Registry: registry}
	report, err := orch.Run(context.Background(), &fakeFleet{workers: []Worker{w}}, b, shutdown)
	assert.ErrorIs(t, err, ErrReloadShutdown)
	assert.Equal(t, OutcomeShutdown, report.Outcome)

	// The old context's slot was never replaced.
	assert.Same(t, old, w.slot.Load())
}
