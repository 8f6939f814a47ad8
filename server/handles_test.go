package server

import (
	"testing"
	"time"

	"github.com/chazu/lingo/vm"
)

// pinInt allocates an integer on the env's player and pins it, answering
// the handle id.
func pinInt(t *testing.T, env *testEnv, n int32) string {
	t.Helper()
	result, err := env.Worker.Do(func(p *vm.Player) any {
		ref, err := p.Arena().Alloc(vm.IntDatum(n))
		if err != nil {
			return err
		}
		id := env.Handles.Create(p, ref, "integer", p.FormatRef(ref))
		p.Arena().Release(ref)
		return id
	})
	if err != nil {
		t.Fatalf("pinning value: %v", err)
	}
	if errVal, ok := result.(error); ok {
		t.Fatalf("pinning value: %v", errVal)
	}
	return result.(string)
}

func TestHandleStoreCreateLookup(t *testing.T) {
	env := newIsolatedEnv(t)
	defer env.Stop()

	id := pinInt(t, env, 7)
	if env.Handles.Count() != 1 {
		t.Errorf("Count = %d, want 1", env.Handles.Count())
	}

	ref, ok := env.Handles.Lookup(id)
	if !ok {
		t.Fatalf("Lookup(%q) = false, want true", id)
	}

	// The pin keeps the value alive after the creating call released it.
	display, _ := env.Worker.Do(func(p *vm.Player) any {
		return p.FormatRef(ref)
	})
	if display != "7" {
		t.Errorf("pinned display = %v, want 7", display)
	}

	if _, ok := env.Handles.Lookup("h-none"); ok {
		t.Error("Lookup of unknown id = true, want false")
	}
}

func TestHandleStoreRelease(t *testing.T) {
	env := newIsolatedEnv(t)
	defer env.Stop()

	id := pinInt(t, env, 9)

	if !env.Handles.Release(id) {
		t.Errorf("Release(%q) = false, want true", id)
	}
	if env.Handles.Count() != 0 {
		t.Errorf("Count = %d, want 0", env.Handles.Count())
	}
	if env.Handles.Release(id) {
		t.Error("second Release = true, want false")
	}
}

func TestHandleStoreSweep(t *testing.T) {
	env := newIsolatedEnv(t)
	defer env.Stop()

	pinInt(t, env, 1)
	pinInt(t, env, 2)

	if removed := env.Handles.Sweep(time.Hour); removed != 0 {
		t.Errorf("Sweep(1h) removed %d, want 0", removed)
	}

	time.Sleep(10 * time.Millisecond)
	if removed := env.Handles.Sweep(time.Millisecond); removed != 2 {
		t.Errorf("Sweep(1ms) removed %d, want 2", removed)
	}
	if env.Handles.Count() != 0 {
		t.Errorf("Count = %d, want 0", env.Handles.Count())
	}
}

func TestHandleStoreLookupRefreshes(t *testing.T) {
	env := newIsolatedEnv(t)
	defer env.Stop()

	id := pinInt(t, env, 3)

	time.Sleep(30 * time.Millisecond)
	if _, ok := env.Handles.Lookup(id); !ok {
		t.Fatal("Lookup = false, want true")
	}

	// The lookup reset the idle clock, so a TTL shorter than the sleep
	// still keeps the handle.
	if removed := env.Handles.Sweep(20 * time.Millisecond); removed != 0 {
		t.Errorf("Sweep removed %d, want 0", removed)
	}
}

func TestHandleStoreSweeper(t *testing.T) {
	env := newIsolatedEnv(t)
	defer env.Stop()

	pinInt(t, env, 4)

	stop := env.Handles.StartSweeper(5*time.Millisecond, time.Millisecond)
	defer stop()

	deadline := time.Now().Add(time.Second)
	for env.Handles.Count() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.Handles.Count() != 0 {
		t.Errorf("Count = %d after sweeper ran, want 0", env.Handles.Count())
	}
}
