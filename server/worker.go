package server

import (
	"fmt"

	"github.com/chazu/lingo/vm"
)

// PlayerWorker bridges request goroutines onto the player's gate. The
// player is single-threaded; every service handler submits a closure and
// blocks for the result. Panics inside a closure come back as errors
// instead of taking the server down.
type PlayerWorker struct {
	gate *vm.Gate
}

// NewPlayerWorker starts a gate around the player. The player must not
// be touched directly afterwards.
func NewPlayerWorker(p *vm.Player) *PlayerWorker {
	return &PlayerWorker{gate: vm.NewGate(p)}
}

// Do runs fn with exclusive access to the player and blocks until it
// completes. Returns the closure's result and any error, a recovered
// panic included.
func (w *PlayerWorker) Do(fn func(*vm.Player) any) (any, error) {
	var result any
	var panicked error
	err := w.gate.Do(func(p *vm.Player) {
		defer func() {
			if r := recover(); r != nil {
				panicked = fmt.Errorf("player panic: %v", r)
			}
		}()
		result = fn(p)
	})
	if err != nil {
		return nil, err
	}
	return result, panicked
}

// Stop shuts down the gate. Pending and future Do calls fail.
func (w *PlayerWorker) Stop() {
	w.gate.Close()
}
