package vm

// ---------------------------------------------------------------------------
// Arena: reference-counted value storage
// ---------------------------------------------------------------------------

// Ref is an opaque handle to a value owned by the arena. A handle stays
// valid while its reference count is positive; the arena rejects stale
// handles instead of reading freed slots.
type Ref uint32

// VoidRef is the permanent handle for the Void value. It is never
// allocated, never freed, and always valid.
const VoidRef Ref = 0

// DefaultArenaCapacity mirrors the legacy runtime's 24-bit id space.
const DefaultArenaCapacity = 0xFFFFFF

type arenaEntry struct {
	datum Datum
	refs  int32
}

// Arena owns every runtime value and hands out reference-counted handles.
// Reclamation is pure reference counting: a value graph that forms a cycle
// (a list containing itself, directly or transitively) never reaches zero
// and is not reclaimed for the lifetime of the movie session.
//
// The arena is gate-protected state and carries no lock of its own.
type Arena struct {
	entries  map[Ref]*arenaEntry
	cursor   Ref
	capacity uint32
	void     Datum

	// onFree runs after a slot is reclaimed, letting the player tear down
	// side tables (script instance storage) keyed by the value.
	onFree func(*Datum)
}

// NewArena creates an arena. A zero capacity selects the default id space.
func NewArena(capacity uint32) *Arena {
	if capacity == 0 {
		capacity = DefaultArenaCapacity
	}
	return &Arena{
		entries:  make(map[Ref]*arenaEntry),
		capacity: capacity,
	}
}

// Alloc stores a value and returns a fresh handle with reference count 1.
// Allocating Void returns VoidRef without consuming a slot. Exhaustion of
// the id space reports CodeAllocatorExhausted; it never aborts.
func (a *Arena) Alloc(d Datum) (Ref, error) {
	if d.Kind == KindVoid {
		return VoidRef, nil
	}
	if uint32(len(a.entries)) >= a.capacity {
		return VoidRef, NewError(CodeAllocatorExhausted, "Failed to allocate datum")
	}
	for {
		a.cursor++
		if uint32(a.cursor) > a.capacity {
			a.cursor = 1
		}
		if _, used := a.entries[a.cursor]; !used {
			a.entries[a.cursor] = &arenaEntry{datum: d, refs: 1}
			return a.cursor, nil
		}
	}
}

// Get resolves a handle. Stale or unknown handles fail with
// CodeInvalidHandle; the arena never hands back a freed slot.
func (a *Arena) Get(ref Ref) (*Datum, error) {
	if ref == VoidRef {
		return &a.void, nil
	}
	entry, ok := a.entries[ref]
	if !ok {
		return nil, Errorf(CodeInvalidHandle, "Datum %d not found", ref)
	}
	return &entry.datum, nil
}

// RefCount returns the current reference count of a handle, or 0 for a
// freed or unknown handle. VoidRef reports 1.
func (a *Arena) RefCount(ref Ref) int {
	if ref == VoidRef {
		return 1
	}
	if entry, ok := a.entries[ref]; ok {
		return int(entry.refs)
	}
	return 0
}

// AddRef increments the reference count and returns the same handle.
// VoidRef is a no-op.
func (a *Arena) AddRef(ref Ref) Ref {
	if ref == VoidRef {
		return ref
	}
	entry, ok := a.entries[ref]
	if !ok {
		vmLog.Warningf("AddRef on stale datum %d", ref)
		return ref
	}
	entry.refs++
	return ref
}

// Release decrements the reference count. At zero the slot is reclaimed:
// handles held by the value (list elements, property list pairs) are
// released in turn, and the onFree hook runs for player-side teardown.
func (a *Arena) Release(ref Ref) {
	if ref == VoidRef {
		return
	}
	entry, ok := a.entries[ref]
	if !ok {
		vmLog.Warningf("Release on stale datum %d", ref)
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(a.entries, ref)
	a.freeChildren(&entry.datum)
	if a.onFree != nil {
		a.onFree(&entry.datum)
	}
}

func (a *Arena) freeChildren(d *Datum) {
	switch d.Kind {
	case KindList:
		for _, elem := range d.Elems {
			a.Release(elem)
		}
	case KindPropList:
		for _, pair := range d.Pairs {
			a.Release(pair.Key)
			a.Release(pair.Value)
		}
	}
}

// OccupiedSlots returns the number of live slots.
func (a *Arena) OccupiedSlots() int {
	return len(a.entries)
}

// FreeSlots returns how many handles can still be allocated.
func (a *Arena) FreeSlots() uint32 {
	return a.capacity - uint32(len(a.entries))
}

// Reset drops every slot without running teardown hooks. Used when the
// movie unloads.
func (a *Arena) Reset() {
	a.entries = make(map[Ref]*arenaEntry)
	a.cursor = 0
}
