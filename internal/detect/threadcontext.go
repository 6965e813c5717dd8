package detect

import (
	"fmt"
	"log/slog"
	"sync/atomic"
)

// ThreadHandle is the minimal identity of a packet-processing worker that
// the core needs: something to register per-worker counters against. The
// real worker implementation (fleet.Worker in this module) holds one.
type ThreadHandle struct {
	ID   int
	Name string
}

// MPMScratch stands in for a pattern-matcher's per-thread working memory;
// the core allocates and sizes it but never inspects its contents.
type MPMScratch struct {
	Capacity int
}

// AppBuffer is per-app-layer per-thread scratch (HTTP header, client-body,
// server-body buffers, etc.), each sized independently.
type AppBuffer struct {
	Data []byte
}

// ThreadContext is per-worker mutable scratch: it holds exactly one strong
// reference to an EngineSnapshot for its entire lifetime, plus scratch
// sized against that snapshot.
type ThreadContext struct {
	Thread *ThreadHandle

	// Snapshot is the single EngineSnapshot this context is bound to; the
	// reference it represents is released exactly once, in Destroy.
	Snapshot *EngineSnapshot

	PayloadMPM MPMScratch
	StreamMPM  MPMScratch
	URIMPM     MPMScratch

	// MatchQueue is sized to the snapshot's fingerprint-id max (here,
	// len(Signatures), since this rendition does not assign a separate
	// fingerprint-id space).
	MatchQueue []uint32

	NonMPMScratch []byte

	// IPOnlyState is the IP-only rule engine's per-thread state.
	IPOnlyState []byte

	// DeState and MatchArray are both sized to len(snapshot.Signatures).
	DeState    []bool
	MatchArray []uint32

	// ByteExtractVals is sized to max_local_id+1; this rendition takes
	// that bound from ThreadContextOptions.MaxLocalID.
	ByteExtractVals []uint64

	HTTPHeaderBuf AppBuffer
	ClientBodyBuf AppBuffer
	ServerBodyBuf AppBuffer

	keywordSubCtx []any
	keywordItems  []*threadKeywordItem

	// adopted flips false->true exactly once, the first time the worker
	// observes and uses this context. Release/acquire semantics from
	// worker to control.
	adopted atomic.Bool

	registry *MasterRegistry
}

// ThreadContextOptions configures Init.
type ThreadContextOptions struct {
	// Snapshot is used when the registry has no current snapshot and
	// UnitTestRunner is true; otherwise it is ignored in favor of
	// registry.GetCurrent().
	Snapshot *EngineSnapshot
	// UnitTestRunner permits the Snapshot fallback when the registry has
	// no current snapshot.
	UnitTestRunner bool

	// MatchQueueSize overrides the match-queue buffer capacity; zero means
	// derive it from len(snapshot.Signatures).
	MatchQueueSize int
	// MaxLocalID sizes ByteExtractVals to MaxLocalID+1.
	MaxLocalID int

	Logger *slog.Logger
}

// NewThreadContext builds a ThreadContext bound to exactly one snapshot:
// prefer the registry's current snapshot, falling back to the
// caller-supplied one only for unit-test runners; then, unless the snapshot
// is minimal, size and allocate scratch and run every registered
// thread-keyword's init function.
func NewThreadContext(registry *MasterRegistry, thread *ThreadHandle, opts ThreadContextOptions) (*ThreadContext, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("registering thread counters", "thread", thread.Name)

	snapshot, ok := registry.GetCurrent()
	if !ok {
		if opts.UnitTestRunner && opts.Snapshot != nil {
			snapshot = opts.Snapshot
			registry.Reference(snapshot)
		} else {
			return nil, ErrNoSnapshotForThread
		}
	}

	ctx := &ThreadContext{
		Thread:   thread,
		Snapshot: snapshot,
		registry: registry,
	}

	if snapshot.IsMinimal() {
		return ctx, nil
	}

	nSigs := len(snapshot.Signatures)
	matchQueueSize := opts.MatchQueueSize
	if matchQueueSize == 0 {
		matchQueueSize = nSigs
	}

	ctx.PayloadMPM = MPMScratch{Capacity: nSigs}
	ctx.StreamMPM = MPMScratch{Capacity: nSigs}
	ctx.URIMPM = MPMScratch{Capacity: nSigs}
	ctx.MatchQueue = make([]uint32, matchQueueSize)
	ctx.NonMPMScratch = make([]byte, nSigs)
	ctx.IPOnlyState = make([]byte, nSigs)
	ctx.DeState = make([]bool, nSigs)
	ctx.MatchArray = make([]uint32, nSigs)
	ctx.ByteExtractVals = make([]uint64, opts.MaxLocalID+1)
	ctx.HTTPHeaderBuf = AppBuffer{Data: make([]byte, 0, 4096)}
	ctx.ClientBodyBuf = AppBuffer{Data: make([]byte, 0, 4096)}
	ctx.ServerBodyBuf = AppBuffer{Data: make([]byte, 0, 4096)}

	items := snapshot.Keywords.items()
	subCtx := make([]any, len(items))
	for i, item := range items {
		if item == nil {
			continue
		}
		sc, err := item.initFn(item.initData)
		if err != nil {
			// Unwind any sub-contexts already initialized before
			// aborting.
			for j := i - 1; j >= 0; j-- {
				if items[j] != nil {
					items[j].freeFn(subCtx[j])
				}
			}
			registry.DeReference(snapshot)
			return nil, fmt.Errorf("%w: keyword %q: %v", ErrKeywordInitFailed, item.name, err)
		}
		subCtx[i] = sc
	}
	ctx.keywordSubCtx = subCtx
	ctx.keywordItems = items

	return ctx, nil
}

// Adopted reports whether the worker has used this context at least once.
func (c *ThreadContext) Adopted() bool {
	return c.adopted.Load()
}

// MarkAdopted flips the adoption flag; called by the worker on first use.
// It is a one-shot acknowledgement: calling it again is a harmless no-op.
func (c *ThreadContext) MarkAdopted() {
	c.adopted.Store(true)
}

// Destroy releases every scratch allocation, frees each thread-keyword
// sub-context via its registered free function, and finally drops this
// context's reference to its bound snapshot.
func (c *ThreadContext) Destroy() {
	c.PayloadMPM = MPMScratch{}
	c.StreamMPM = MPMScratch{}
	c.URIMPM = MPMScratch{}
	c.MatchQueue = nil
	c.NonMPMScratch = nil
	c.IPOnlyState = nil
	c.DeState = nil
	c.MatchArray = nil
	c.ByteExtractVals = nil
	c.HTTPHeaderBuf = AppBuffer{}
	c.ClientBodyBuf = AppBuffer{}
	c.ServerBodyBuf = AppBuffer{}

	for i, item := range c.keywordItems {
		if item == nil {
			continue
		}
		item.freeFn(c.keywordSubCtx[i])
	}
	c.keywordSubCtx = nil
	c.keywordItems = nil

	if c.registry != nil && c.Snapshot != nil {
		c.registry.DeReference(c.Snapshot)
	}
}
