package vm

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/petermattis/goid"
)

// ErrGateClosed is returned by Do after Close.
var ErrGateClosed = errors.New("vm: gate closed")

// Gate serializes access to a Player. The player is not safe for
// concurrent use; every host surface, the RPC services included, reaches
// it through a gate. One goroutine owns the player and runs submitted
// functions in order.
type Gate struct {
	player   *Player
	requests chan gateRequest
	loopID   atomic.Int64
	closed   chan struct{}
	once     sync.Once
}

type gateRequest struct {
	fn   func(*Player)
	done chan struct{}
}

// NewGate starts the owning goroutine for a player. The player must not
// be touched directly afterwards.
func NewGate(player *Player) *Gate {
	g := &Gate{
		player:   player,
		requests: make(chan gateRequest),
		closed:   make(chan struct{}),
	}
	g.loopID.Store(-1)
	go g.loop()
	return g
}

func (g *Gate) loop() {
	g.loopID.Store(goid.Get())
	for {
		select {
		case req := <-g.requests:
			req.fn(g.player)
			close(req.done)
		case <-g.closed:
			return
		}
	}
}

// Do runs fn with exclusive access to the player and blocks until it
// returns. A Do issued from inside a running fn executes inline: script
// callbacks that reach back through the gate must not deadlock against
// their own request.
func (g *Gate) Do(fn func(*Player)) error {
	if goid.Get() == g.loopID.Load() {
		fn(g.player)
		return nil
	}
	req := gateRequest{fn: fn, done: make(chan struct{})}
	select {
	case g.requests <- req:
	case <-g.closed:
		return ErrGateClosed
	}
	// The worker finishes any request it accepted, even during Close.
	<-req.done
	return nil
}

// Close stops the owning goroutine. In-flight work finishes; pending and
// future Do calls return ErrGateClosed.
func (g *Gate) Close() {
	g.once.Do(func() {
		close(g.closed)
	})
}

// DoValue runs fn under the gate and answers its result. A closed gate
// reports ErrGateClosed and the zero value.
func DoValue[R any](g *Gate, fn func(*Player) (R, error)) (R, error) {
	var out R
	var ferr error
	if err := g.Do(func(p *Player) {
		out, ferr = fn(p)
	}); err != nil {
		return out, err
	}
	return out, ferr
}
