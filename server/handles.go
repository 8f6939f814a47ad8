package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chazu/lingo/vm"
)

// handle pins one player value for a connected tool.
type handle struct {
	id       string
	ref      vm.Ref
	ilk      string
	display  string
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque string ids to pinned player values. Pinning
// takes an arena reference so the value outlives the call that produced
// it; Release drops the reference again. Handles left unused past the
// sweep TTL unpin automatically.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*handle
	nextID  atomic.Uint64
	worker  *PlayerWorker
}

// NewHandleStore creates an empty handle store.
func NewHandleStore(worker *PlayerWorker) *HandleStore {
	return &HandleStore{
		handles: make(map[string]*handle),
		worker:  worker,
	}
}

// Create pins a value and returns its handle id. Must run on the player
// goroutine: the store takes its own arena reference.
func (s *HandleStore) Create(p *vm.Player, ref vm.Ref, ilk, display string) string {
	id := fmt.Sprintf("h-%d", s.nextID.Add(1))
	pinned := p.Arena().AddRef(ref)

	now := time.Now()
	s.mu.Lock()
	s.handles[id] = &handle{
		id:       id,
		ref:      pinned,
		ilk:      ilk,
		display:  display,
		created:  now,
		lastUsed: now,
	}
	s.mu.Unlock()

	return id
}

// Lookup answers the pinned ref for an id. The ref stays owned by the
// store; callers borrow it for the duration of a worker closure.
func (s *HandleStore) Lookup(id string) (vm.Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.handles[id]
	if !ok {
		return vm.VoidRef, false
	}
	h.lastUsed = time.Now()
	return h.ref, true
}

// Count reports the number of live handles.
func (s *HandleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// Release unpins one handle. Reports whether the id was live.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	h, ok := s.handles[id]
	if ok {
		delete(s.handles, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.worker.Do(func(p *vm.Player) any {
		p.Arena().Release(h.ref)
		return nil
	})
	return true
}

// Sweep unpins handles unused for longer than ttl. Returns the number
// removed.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	s.mu.Lock()
	var stale []*handle
	for id, h := range s.handles {
		if h.lastUsed.Before(cutoff) {
			stale = append(stale, h)
			delete(s.handles, id)
		}
	}
	s.mu.Unlock()

	if len(stale) == 0 {
		return 0
	}
	s.worker.Do(func(p *vm.Player) any {
		for _, h := range stale {
			p.Arena().Release(h.ref)
		}
		return nil
	})
	return len(stale)
}

// StartSweeper runs periodic TTL sweeps in the background. Returns a
// stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
