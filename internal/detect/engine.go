package detect

import "log/slog"

// DetectEngine bundles the process-scoped detection state: the master
// registry, the sync latch, and the app-inspection table. They are
// explicit fields on a value the embedder owns rather than package-level
// mutable state; a single process normally owns exactly one DetectEngine.
type DetectEngine struct {
	Registry      *MasterRegistry
	Latch         *SyncLatch
	AppInspection *AppInspectionRegistry
	Orchestrator  *Orchestrator

	Logger *slog.Logger

	nextSnapshotID uint64
}

// New wires a fresh DetectEngine: an empty master registry, an idle sync
// latch, an app-inspection table pre-populated with the built-in chains,
// and an orchestrator bound to that registry.
func New(logger *slog.Logger) *DetectEngine {
	if logger == nil {
		logger = slog.Default()
	}
	registry := NewMasterRegistry()
	appInspect := NewAppInspectionRegistry()
	RegisterBuiltins(appInspect)

	return &DetectEngine{
		Registry:      registry,
		Latch:         NewSyncLatch(),
		AppInspection: appInspect,
		Orchestrator: &Orchestrator{
			Registry: registry,
			Logger:   logger,
		},
		Logger: logger,
	}
}

// DetectEngineEnabled reports whether the engine currently has an active
// snapshot.
func (e *DetectEngine) DetectEngineEnabled() bool {
	return e.Registry.Enabled()
}

// NextSnapshotID returns the next monotonic snapshot id. It is intentionally
// not safe for concurrent use from more than one control goroutine: only
// the single control loop that owns reload should ever build snapshots.
func (e *DetectEngine) NextSnapshotID() uint64 {
	e.nextSnapshotID++
	return e.nextSnapshotID
}

// Publish adds a freshly built snapshot to the active list, making it the
// current head. Orchestrator.Run requires its snapshot to have been
// published this way first.
func (e *DetectEngine) Publish(s *EngineSnapshot) {
	e.Registry.AddToMaster(s)
}
