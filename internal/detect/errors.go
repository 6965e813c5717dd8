package detect

import "errors"

var (
	// ErrLatchNotIdle is returned by RequestReload when the latch is not
	// currently Idle.
	ErrLatchNotIdle = errors.New("detect: sync latch is not idle")

	// ErrSnapshotNotActive is returned by MoveToFreeList when the snapshot
	// is not a member of the active list.
	ErrSnapshotNotActive = errors.New("detect: snapshot is not on the active list")

	// ErrRefCountUnderflow is a fatal invariant violation: DeReference was
	// called on a snapshot whose ref_cnt is already zero.
	ErrRefCountUnderflow = errors.New("detect: snapshot reference count underflow")

	// ErrNoCurrentSnapshot names an empty active list. GetCurrent does not
	// return it: it reports that case through its boolean result.
	ErrNoCurrentSnapshot = errors.New("detect: no active snapshot")

	// ErrNoSnapshotForThread is returned by ThreadContext.Init when no
	// current snapshot is available and the caller did not supply one as a
	// unit-test fallback.
	ErrNoSnapshotForThread = errors.New("detect: no snapshot available to bind thread context")

	// ErrKeywordInitFailed wraps a failure from a thread-keyword's init
	// function during ThreadContext.Init.
	ErrKeywordInitFailed = errors.New("detect: thread-keyword sub-context init failed")

	// ErrInvalidRegistration is returned by AppInspectionRegistry.Register
	// when an argument fails validation.
	ErrInvalidRegistration = errors.New("detect: invalid app-inspection registration")

	// ErrDuplicateRegistration is returned by AppInspectionRegistry.Register
	// when a non-idempotent duplicate is detected in the chain.
	ErrDuplicateRegistration = errors.New("detect: duplicate app-inspection registration")

	// ErrIncompatibleMPMContext is a fatal configuration error: "full" SGH
	// MPM context requested alongside an AC-CUDA matcher.
	ErrIncompatibleMPMContext = errors.New("detect: full sgh-mpm-context is incompatible with the ac-cuda matcher")

	// ErrNoWorkers is returned (not an error condition) by the reload
	// orchestrator when no detection-capable workers were found.
	ErrNoWorkers = errors.New("detect: no detection workers enumerated")

	// ErrReloadShutdown is returned by the orchestrator when a shutdown
	// signal interrupted an in-flight reload.
	ErrReloadShutdown = errors.New("detect: reload interrupted by shutdown")
)
