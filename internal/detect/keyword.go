package detect

import "sync"

// KeywordMode selects the sharing policy for a thread-keyword sub-context.
type KeywordMode int

const (
	// KeywordModeSingle always allocates a fresh id.
	KeywordModeSingle KeywordMode = iota
	// KeywordModeShared returns the id of an existing registration with
	// the same name instead of allocating a new one.
	KeywordModeShared
)

// ThreadKeywordInitFunc builds a per-thread sub-context from the
// keyword's registered init data.
type ThreadKeywordInitFunc func(initData any) (any, error)

// ThreadKeywordFreeFunc releases a per-thread sub-context built by the
// matching init func.
type ThreadKeywordFreeFunc func(subCtx any)

type threadKeywordItem struct {
	id       int
	name     string
	initFn   ThreadKeywordInitFunc
	freeFn   ThreadKeywordFreeFunc
	initData any
	mode     KeywordMode
	next     *threadKeywordItem
}

// ThreadKeywordRegistry is a per-snapshot list: every keyword that wants a
// thread-local sub-context registers itself once
// against a snapshot and gets back a stable index into every thread
// context bound to that snapshot.
type ThreadKeywordRegistry struct {
	mu        sync.Mutex
	head      *threadKeywordItem
	nextID    int
}

// NewThreadKeywordRegistry returns an empty registry with its id counter
// at zero.
func NewThreadKeywordRegistry() *ThreadKeywordRegistry {
	return &ThreadKeywordRegistry{}
}

// Register adds keyword name to snapshot's registry. In KeywordModeShared,
// an existing registration with the same name is reused and its id
// returned; otherwise a new item is prepended with id = keyword_id++.
//
// Any of initFn, freeFn, or initData being nil is a programmer error and
// panics.
func (k *ThreadKeywordRegistry) Register(name string, initFn ThreadKeywordInitFunc, initData any, freeFn ThreadKeywordFreeFunc, mode KeywordMode) int {
	if initFn == nil || freeFn == nil || initData == nil {
		panic("detect: thread-keyword registration missing required init/free/data")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if mode == KeywordModeShared {
		for item := k.head; item != nil; item = item.next {
			if item.name == name {
				return item.id
			}
		}
	}

	item := &threadKeywordItem{
		id:       k.nextID,
		name:     name,
		initFn:   initFn,
		freeFn:   freeFn,
		initData: initData,
		mode:     mode,
		next:     k.head,
	}
	k.head = item
	k.nextID++
	return item.id
}

// Count returns the number of distinct keyword ids registered, i.e. the
// size every thread context's sub-context array must have.
func (k *ThreadKeywordRegistry) Count() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nextID
}

// items returns a snapshot slice of all registered items ordered by id,
// used by ThreadContext.Init to run every keyword's init function.
func (k *ThreadKeywordRegistry) items() []*threadKeywordItem {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]*threadKeywordItem, k.nextID)
	for item := k.head; item != nil; item = item.next {
		out[item.id] = item
	}
	return out
}

// Get returns the sub-context stored at id in ctx's sub-context array, or
// nil if id is out of range or the array is absent.
func Get(ctx *ThreadContext, id int) any {
	if ctx == nil || ctx.keywordSubCtx == nil {
		return nil
	}
	if id < 0 || id >= len(ctx.keywordSubCtx) {
		return nil
	}
	return ctx.keywordSubCtx[id]
}
