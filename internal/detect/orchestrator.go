package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Worker is the contract a packet-processing worker must satisfy for the
// reload orchestrator to enumerate and hand off to. The packet pipeline
// itself lives outside this package; this interface is the thread-slot and
// queue contract the core interacts through.
type Worker interface {
	// Handle identifies the worker for counter registration.
	Handle() *ThreadHandle
	// HasDetectionSlot reports whether this worker has a slot marked as a
	// detection slot; workers without one are skipped in phase 1.
	HasDetectionSlot() bool
	// Slot exposes the atomic thread-context pointer the control thread
	// publishes into and the worker loads once per packet.
	Slot() *atomic.Pointer[ThreadContext]
	// EnqueueProbe injects a synthetic "pseudo stream end" packet to wake
	// a worker blocked on an empty input queue. Returns false if the
	// worker has no input queue to enqueue onto.
	EnqueueProbe() bool
	// RunningDone is closed once the worker has fully stopped processing,
	// used by phase 5's shutdown-safe wait.
	RunningDone() <-chan struct{}
}

// Fleet enumerates the process's packet-processing thread list; the
// implementation walks its registered workers under its own lock.
type Fleet interface {
	Workers() []Worker
}

// ReloadOutcome classifies how a reload attempt concluded, for metrics and
// the persisted audit record. Run produces every outcome except
// OutcomeConfigError, which marks an attempt whose snapshot build failed
// before Run was called.
type ReloadOutcome string

const (
	OutcomeSuccess      ReloadOutcome = "success"
	OutcomeNoWorkers    ReloadOutcome = "no-workers"
	OutcomeConfigError  ReloadOutcome = "config-error"
	OutcomeResourceErr  ReloadOutcome = "resource-error"
	OutcomeShutdown     ReloadOutcome = "shutdown"
)

// ReloadReport summarizes one orchestrator pass, for logging, metrics and
// audit persistence.
type ReloadReport struct {
	Outcome      ReloadOutcome
	WorkersTotal int
	Adopted      int
	Duration     time.Duration
	Err          error
}

// PhaseObserver receives a notification after every orchestrator phase,
// feeding the per-phase duration histograms. A nil observer is a no-op.
type PhaseObserver interface {
	ObservePhase(phase string, duration time.Duration)
}

// Orchestrator drives the live snapshot swap: enumerate workers,
// build new thread contexts bound to an already-published snapshot,
// atomically swap each worker's slot, force adoption via a liveness probe,
// wait out shutdown if needed, then reclaim the old contexts.
type Orchestrator struct {
	Registry *MasterRegistry
	Logger   *slog.Logger
	Observer PhaseObserver

	// AdoptionPollInterval is the backoff between adoption probes; zero
	// means the 1ms default.
	AdoptionPollInterval time.Duration
	// ShutdownWaitInterval is the backoff while waiting for workers to
	// reach RunningDone after a shutdown; zero means the 100µs default.
	ShutdownWaitInterval time.Duration
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o *Orchestrator) observe(phase string, start time.Time) {
	d := time.Since(start)
	o.logger().Info("reload phase completed", "component", "detect.orchestrator", "phase", phase, "duration_ms", d.Milliseconds())
	if o.Observer != nil {
		o.Observer.ObservePhase(phase, d)
	}
}

func (o *Orchestrator) adoptionPollInterval() time.Duration {
	if o.AdoptionPollInterval > 0 {
		return o.AdoptionPollInterval
	}
	return time.Millisecond
}

func (o *Orchestrator) shutdownWaitInterval() time.Duration {
	if o.ShutdownWaitInterval > 0 {
		return o.ShutdownWaitInterval
	}
	return 100 * time.Microsecond
}

type workerSlot struct {
	worker Worker
	old    *ThreadContext
	newCtx *ThreadContext
}

// Run drives one full reload pass against newSnapshot, which must already
// have been added to the master registry's active list (and is therefore
// its head) by the caller. Cancelling ctx or closing shutdown aborts the
// pass at the next checkpoint; both are polled at every phase.
func (o *Orchestrator) Run(ctx context.Context, fleet Fleet, newSnapshot *EngineSnapshot, shutdown <-chan struct{}) (_ *ReloadReport, runErr error) {
	start := time.Now()
	report := &ReloadReport{}
	defer func() { report.Err = runErr }()

	// Phase 1 — enumerate.
	phaseStart := time.Now()
	workers := fleet.Workers()
	var slots []*workerSlot
	for _, w := range workers {
		if !w.HasDetectionSlot() {
			continue
		}
		slots = append(slots, &workerSlot{worker: w})
	}
	o.observe("enumerate", phaseStart)

	report.WorkersTotal = len(slots)
	if len(slots) == 0 {
		report.Outcome = OutcomeNoWorkers
		report.Duration = time.Since(start)
		return report, ErrNoWorkers
	}

	if interrupted(ctx, shutdown) {
		report.Outcome = OutcomeShutdown
		report.Duration = time.Since(start)
		return report, ErrReloadShutdown
	}

	// Phase 2 — build.
	phaseStart = time.Now()
	for i, s := range slots {
		if interrupted(ctx, shutdown) {
			o.destroyBuilt(slots[:i])
			report.Outcome = OutcomeShutdown
			report.Duration = time.Since(start)
			return report, ErrReloadShutdown
		}

		s.old = s.worker.Slot().Load()

		// newSnapshot was added to the active list's head by the caller
		// before Run was invoked, so GetCurrent() resolves to it; the
		// explicit Snapshot/UnitTestRunner pair is only a defensive
		// fallback for the (should-not-happen) case where the active
		// list was concurrently emptied out from under us.
		newCtx, err := NewThreadContext(o.Registry, s.worker.Handle(), ThreadContextOptions{
			Snapshot:       newSnapshot,
			UnitTestRunner: true,
			Logger:         o.logger(),
		})
		if err != nil {
			o.destroyBuilt(slots[:i])
			o.observe("build", phaseStart)
			report.Outcome = OutcomeResourceErr
			report.Duration = time.Since(start)
			return report, fmt.Errorf("detect: building thread context for worker %q: %w", s.worker.Handle().Name, err)
		}
		s.newCtx = newCtx
	}
	o.observe("build", phaseStart)

	// Phase 3 — publish. Shutdown is polled before every store: slots
	// visited after the flag is seen keep their old context.
	phaseStart = time.Now()
	published := 0
	for _, s := range slots {
		if interrupted(ctx, shutdown) {
			break
		}
		s.worker.Slot().Store(s.newCtx)
		published++
	}
	o.observe("publish", phaseStart)

	if published < len(slots) {
		// Shutdown hit mid-publish: the new contexts that never made it
		// into a slot are destroyed; slots already holding a new context
		// keep it, and their old contexts are reclaimed once the workers
		// wind down.
		o.destroyBuilt(slots[published:])
		phaseStart = time.Now()
		o.waitRunningDone(slots[:published])
		o.observe("shutdown-wait", phaseStart)
		o.reclaimOld(slots[:published])

		report.Outcome = OutcomeShutdown
		report.Duration = time.Since(start)
		return report, ErrReloadShutdown
	}

	// Phase 4 — force adoption.
	phaseStart = time.Now()
	adopted := 0
	aborted := false
	for _, s := range slots {
		probed := false
		for {
			if interrupted(ctx, shutdown) {
				aborted = true
				break
			}
			time.Sleep(o.adoptionPollInterval())
			if !probed {
				s.worker.EnqueueProbe()
				probed = true
			}
			if s.newCtx.Adopted() {
				adopted++
				break
			}
		}
		if aborted {
			break
		}
	}
	o.observe("force-adoption", phaseStart)
	report.Adopted = adopted

	// Phase 5 — shutdown-safe wait: for every slot the worker had not yet
	// adopted when shutdown interrupted phase 4, wait for the worker to
	// signal RunningDone before phase 6 reclaims its old context.
	if aborted {
		phaseStart = time.Now()
		o.waitRunningDone(slots)
		o.observe("shutdown-wait", phaseStart)
	}

	// Phase 6 — reclaim. Runs on the shutdown path too: every slot holds a
	// new context by now, so the old ones are unreachable once the wait
	// above has proven their workers quiesced.
	phaseStart = time.Now()
	o.reclaimOld(slots)
	o.observe("reclaim", phaseStart)

	if aborted {
		report.Outcome = OutcomeShutdown
		report.Duration = time.Since(start)
		return report, ErrReloadShutdown
	}

	report.Outcome = OutcomeSuccess
	report.Duration = time.Since(start)
	return report, nil
}

// waitRunningDone blocks until every not-yet-adopted slot's worker has
// signaled RunningDone, polling at the shutdown-wait interval.
func (o *Orchestrator) waitRunningDone(slots []*workerSlot) {
	for _, s := range slots {
		if s.newCtx.Adopted() {
			continue
		}
		for {
			select {
			case <-s.worker.RunningDone():
			case <-time.After(o.shutdownWaitInterval()):
				continue
			}
			break
		}
	}
}

func (o *Orchestrator) reclaimOld(slots []*workerSlot) {
	for _, s := range slots {
		if s.old != nil {
			s.old.Destroy()
			s.old = nil
		}
	}
}

func (o *Orchestrator) destroyBuilt(built []*workerSlot) {
	for _, s := range built {
		if s.newCtx != nil {
			s.newCtx.Destroy()
		}
	}
}

// interrupted reports whether either cancellation signal has fired: the
// caller's context or the process-wide shutdown channel.
func interrupted(ctx context.Context, shutdown <-chan struct{}) bool {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return true
		default:
		}
	}
	if shutdown == nil {
		return false
	}
	select {
	case <-shutdown:
		return true
	default:
		return false
	}
}
