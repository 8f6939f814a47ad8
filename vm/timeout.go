package vm

import "strings"

// ---------------------------------------------------------------------------
// Timeouts
// ---------------------------------------------------------------------------

// Timeout is a named repeating trigger. The manager owns the target
// handle for the lifetime of the entry. Persistent timeouts outlive a
// movie load; their target does not, since the arena is rebuilt.
type Timeout struct {
	name       string
	period     int32
	handler    string
	target     Ref
	nextAt     int32
	persistent bool
}

func (t *Timeout) Name() string    { return t.name }
func (t *Timeout) Period() int32   { return t.period }
func (t *Timeout) Handler() string { return t.handler }

// TimeoutManager keys timeouts by name, preserving creation order for
// deterministic firing.
type TimeoutManager struct {
	timeouts map[string]*Timeout
	order    []string
}

func NewTimeoutManager() *TimeoutManager {
	return &TimeoutManager{timeouts: make(map[string]*Timeout)}
}

// lookup resolves a timeout under the case policy.
func (tm *TimeoutManager) lookup(name string, caseSensitive bool) *Timeout {
	if t, ok := tm.timeouts[name]; ok {
		return t
	}
	if caseSensitive {
		return nil
	}
	for key, t := range tm.timeouts {
		if strings.EqualFold(key, name) {
			return t
		}
	}
	return nil
}

// Names lists the live timeouts in creation order.
func (tm *TimeoutManager) Names() []string {
	names := make([]string, len(tm.order))
	copy(names, tm.order)
	return names
}

// Count reports the live timeout count.
func (tm *TimeoutManager) Count() int {
	return len(tm.timeouts)
}

// ---------------------------------------------------------------------------
// Player integration
// ---------------------------------------------------------------------------

// lookupTimeout resolves a timeout by name for property access.
func (p *Player) lookupTimeout(name string) *Timeout {
	return p.timeouts.lookup(name, p.config.CaseSensitiveNames)
}

// scheduleTimeout creates or rearms a named timeout. The target is
// borrowed; the manager takes its own reference.
func (p *Player) scheduleTimeout(name string, period int32, handler string, target Ref) error {
	if period <= 0 {
		return Errorf(CodeInvalidArgument, "Invalid timeout period %d", period)
	}
	t := p.lookupTimeout(name)
	if t == nil {
		t = &Timeout{name: name}
		p.timeouts.timeouts[name] = t
		p.timeouts.order = append(p.timeouts.order, name)
	} else {
		p.arena.Release(t.target)
	}
	t.period = period
	t.handler = handler
	t.target = p.arena.AddRef(target)
	t.nextAt = p.Milliseconds() + period
	return nil
}

// forgetTimeout drops a timeout and its target reference. Unknown names
// are ignored.
func (p *Player) forgetTimeout(name string) {
	t := p.lookupTimeout(name)
	if t == nil {
		return
	}
	p.arena.Release(t.target)
	delete(p.timeouts.timeouts, t.name)
	for i, key := range p.timeouts.order {
		if key == t.name {
			p.timeouts.order = append(p.timeouts.order[:i], p.timeouts.order[i+1:]...)
			break
		}
	}
}

// clearTimeouts drops every timeout, releasing the held targets.
func (p *Player) clearTimeouts() {
	for _, t := range p.timeouts.timeouts {
		p.arena.Release(t.target)
	}
	p.timeouts.timeouts = make(map[string]*Timeout)
	p.timeouts.order = nil
}

// resetTimeouts drops the non-persistent timeouts across a movie load.
// Persistent entries keep their name, period and handler but lose the
// target: the instance it named died with the old movie.
func (p *Player) resetTimeouts() {
	kept := make(map[string]*Timeout)
	var order []string
	for _, name := range p.timeouts.order {
		t := p.timeouts.timeouts[name]
		p.arena.Release(t.target)
		if !t.persistent {
			continue
		}
		t.target = VoidRef
		kept[name] = t
		order = append(order, name)
	}
	p.timeouts.timeouts = kept
	p.timeouts.order = order
}

// fireDueTimeouts fires every timeout whose period elapsed. Each due
// timeout fires once per sweep; the next firing is scheduled from now,
// so a stalled player does not replay missed periods.
func (p *Player) fireDueTimeouts() error {
	now := p.Milliseconds()
	names := p.timeouts.Names()
	for _, name := range names {
		t, ok := p.timeouts.timeouts[name]
		if !ok || now < t.nextAt {
			continue
		}
		t.nextAt = now + t.period
		ref, err := p.alloc(TimeoutDatum(t.name))
		if err != nil {
			return err
		}
		err = p.fireTimeout(t, ref)
		p.arena.Release(ref)
		if err != nil {
			return err
		}
	}
	return nil
}

// fireTimeout invokes the timeout's handler, passing the timeout itself
// as the argument. A target instance receives the call as a method; a
// targetless timeout resolves globally.
func (p *Player) fireTimeout(t *Timeout, timeoutRef Ref) error {
	args := []Ref{timeoutRef}
	if t.target != VoidRef {
		target, err := p.getDatum(t.target)
		if err != nil {
			return err
		}
		if target.Kind == KindInstance {
			if inst := p.instance(target.Instance); inst != nil {
				if script, handler := p.instanceHandler(inst, t.handler); handler != nil {
					result, _, err := p.callScriptHandler(t.target, script, handler, args, true)
					p.arena.Release(result)
					return err
				}
			}
		}
		return nil
	}
	result, err := p.callGlobal(t.handler, args)
	if err != nil {
		return err
	}
	p.arena.Release(result)
	return nil
}
