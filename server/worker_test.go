package server

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/lingo/vm"
)

func TestWorkerDo(t *testing.T) {
	w := NewPlayerWorker(vm.NewPlayer(vm.DefaultConfig()))
	defer w.Stop()

	result, err := w.Do(func(p *vm.Player) any {
		return 42
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
}

func TestWorkerDoPanic(t *testing.T) {
	w := NewPlayerWorker(vm.NewPlayer(vm.DefaultConfig()))
	defer w.Stop()

	_, err := w.Do(func(p *vm.Player) any {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking closure")
	}
	if !strings.Contains(err.Error(), "player panic") {
		t.Errorf("err = %v, want player panic text", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want the panic value", err)
	}

	// The worker survives the panic.
	result, err := w.Do(func(p *vm.Player) any {
		return "alive"
	})
	if err != nil {
		t.Fatalf("Do after panic: %v", err)
	}
	if result != "alive" {
		t.Errorf("result = %v, want alive", result)
	}
}

func TestWorkerStop(t *testing.T) {
	w := NewPlayerWorker(vm.NewPlayer(vm.DefaultConfig()))
	w.Stop()

	_, err := w.Do(func(p *vm.Player) any {
		return nil
	})
	if !errors.Is(err, vm.ErrGateClosed) {
		t.Errorf("Do after Stop = %v, want %v", err, vm.ErrGateClosed)
	}

	// Stop is idempotent.
	w.Stop()
}
