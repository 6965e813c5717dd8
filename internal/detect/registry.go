package detect

import "sync"

// MasterRegistry is the process-wide container of live and retiring
// snapshots: an intrusive active list, an intrusive free list, and the
// mutex that serializes every mutation of both.
//
// Every snapshot is a member of at most one of {active list, free list,
// unlinked}; callers outside this type never touch the intrusive next
// pointer or the reference count directly.
type MasterRegistry struct {
	mu     sync.Mutex
	active *EngineSnapshot
	free   *EngineSnapshot
}

// NewMasterRegistry returns an empty registry.
func NewMasterRegistry() *MasterRegistry {
	return &MasterRegistry{}
}

// AddToMaster links s at the head of the active list.
func (r *MasterRegistry) AddToMaster(s *EngineSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.next = r.active
	r.active = s
}

// GetCurrent increments the reference count of the active list's head and
// returns it. Returns (nil, false) if the active list is empty.
func (r *MasterRegistry) GetCurrent() (*EngineSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, false
	}
	r.active.refCnt++
	return r.active, true
}

// Reference increments s's reference count.
func (r *MasterRegistry) Reference(s *EngineSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.refCnt++
}

// DeReference decrements s's reference count. A decrement from zero is a
// programmer error, not a runtime condition, and panics.
func (r *MasterRegistry) DeReference(s *EngineSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.refCnt <= 0 {
		panic(ErrRefCountUnderflow)
	}
	s.refCnt--
}

// MoveToFreeList unlinks s from the active list and prepends it to the
// free list. Returns ErrSnapshotNotActive if s is not currently a member of
// the active list.
func (r *MasterRegistry) MoveToFreeList(s *EngineSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == s {
		r.active = s.next
	} else {
		found := false
		for n := r.active; n != nil; n = n.next {
			if n.next == s {
				n.next = s.next
				found = true
				break
			}
		}
		if !found {
			return ErrSnapshotNotActive
		}
	}

	s.next = r.free
	r.free = s
	return nil
}

// PruneFreeList walks the free list and unlinks+destroys every node whose
// reference count has reached zero. Returns the number of snapshots
// reclaimed.
func (r *MasterRegistry) PruneFreeList() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reclaimed := 0
	var prev *EngineSnapshot
	node := r.free
	for node != nil {
		next := node.next
		if node.refCnt == 0 {
			if prev == nil {
				r.free = next
			} else {
				prev.next = next
			}
			node.next = nil
			reclaimed++
		} else {
			prev = node
		}
		node = next
	}
	return reclaimed
}

// CurrentUnsafe returns the active list's head without incrementing its
// reference count, for read-only diagnostics (CLI status, metrics gauges)
// where the caller does not intend to hold a reference.
func (r *MasterRegistry) CurrentUnsafe() *EngineSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// ActiveCount and FreeCount report list sizes for metrics and the CLI.
func (r *MasterRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for s := r.active; s != nil; s = s.next {
		n++
	}
	return n
}

func (r *MasterRegistry) FreeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for s := r.free; s != nil; s = s.next {
		n++
	}
	return n
}

// Enabled reports whether the active list is non-empty, i.e. whether the
// engine currently has a snapshot to inspect with.
func (r *MasterRegistry) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}
