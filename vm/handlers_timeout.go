package vm

// registerTimeoutHandlers installs the timeout datum surface. A timeout
// datum is a name; the schedule entry it addresses may or may not exist.
func (p *Player) registerTimeoutHandlers() {
	p.defineMethod(KindTimeout, "new", timeoutNew)
	p.defineMethod(KindTimeout, "forget", timeoutForget)

	p.defineProp(KindTimeout, "name", timeoutNameProp, nil)
	p.defineProp(KindTimeout, "period", timeoutPeriodProp, timeoutSetPeriodProp)
	p.defineProp(KindTimeout, "time", timeoutTimeProp, nil)
	p.defineProp(KindTimeout, "timeoutHandler", timeoutHandlerProp, timeoutSetHandlerProp)
	p.defineProp(KindTimeout, "target", timeoutTargetProp, timeoutSetTargetProp)
	p.defineProp(KindTimeout, "persistent", timeoutPersistentProp, timeoutSetPersistentProp)
}

// timeoutName reads the receiver's timeout name.
func (p *Player) timeoutName(recv Ref) (string, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return "", err
	}
	if d.Kind != KindTimeout {
		return "", Errorf(CodeTypeMismatch, "Expected timeout, got %s", d.Kind)
	}
	return d.StrVal, nil
}

// scheduledTimeout resolves the schedule entry behind the receiver.
func (p *Player) scheduledTimeout(recv Ref) (*Timeout, error) {
	name, err := p.timeoutName(recv)
	if err != nil {
		return nil, err
	}
	t := p.lookupTimeout(name)
	if t == nil {
		return nil, Errorf(CodeGeneric, "No timeout named %s", name)
	}
	return t, nil
}

// timeoutNew arms the named timeout: period in milliseconds, the handler
// to fire, and an optional target instance the handler is sent to.
func timeoutNew(p *Player, recv Ref, args []Ref) (Ref, error) {
	name, err := p.timeoutName(recv)
	if err != nil {
		return VoidRef, err
	}
	period, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	handler, err := p.nameArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	target := VoidRef
	if len(args) > 2 {
		target = args[2]
	}
	if err := p.scheduleTimeout(name, period, handler, target); err != nil {
		return VoidRef, err
	}
	return p.arena.AddRef(recv), nil
}

func timeoutForget(p *Player, recv Ref, args []Ref) (Ref, error) {
	name, err := p.timeoutName(recv)
	if err != nil {
		return VoidRef, err
	}
	p.forgetTimeout(name)
	return VoidRef, nil
}

func timeoutNameProp(p *Player, recv Ref) (Ref, error) {
	name, err := p.timeoutName(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(name))
}

func timeoutPeriodProp(p *Player, recv Ref) (Ref, error) {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(t.period))
}

// timeoutSetPeriodProp rearms the timeout from now with the new period.
func timeoutSetPeriodProp(p *Player, recv Ref, value Ref) error {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return err
	}
	d, err := p.getDatum(value)
	if err != nil {
		return err
	}
	period, err := d.IntValue()
	if err != nil {
		return err
	}
	if period <= 0 {
		return Errorf(CodeInvalidArgument, "Invalid timeout period %d", period)
	}
	t.period = period
	t.nextAt = p.Milliseconds() + period
	return nil
}

// timeoutTimeProp answers when the timeout fires next, in player
// milliseconds.
func timeoutTimeProp(p *Player, recv Ref) (Ref, error) {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(t.nextAt))
}

func timeoutHandlerProp(p *Player, recv Ref) (Ref, error) {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(SymbolDatum(t.handler))
}

func timeoutSetHandlerProp(p *Player, recv Ref, value Ref) error {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return err
	}
	d, err := p.getDatum(value)
	if err != nil {
		return err
	}
	switch d.Kind {
	case KindSymbol, KindString:
		t.handler = d.StrVal
		return nil
	default:
		return Errorf(CodeTypeMismatch, "Expected name, got %s", d.Kind)
	}
}

// timeoutPersistentProp reads whether the timeout survives a movie load.
func timeoutPersistentProp(p *Player, recv Ref) (Ref, error) {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return VoidRef, err
	}
	v := int32(0)
	if t.persistent {
		v = 1
	}
	return p.alloc(IntDatum(v))
}

func timeoutSetPersistentProp(p *Player, recv Ref, value Ref) error {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return err
	}
	d, err := p.getDatum(value)
	if err != nil {
		return err
	}
	t.persistent = !d.IsZero()
	return nil
}

func timeoutTargetProp(p *Player, recv Ref) (Ref, error) {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.arena.AddRef(t.target), nil
}

func timeoutSetTargetProp(p *Player, recv Ref, value Ref) error {
	t, err := p.scheduledTimeout(recv)
	if err != nil {
		return err
	}
	old := t.target
	t.target = p.arena.AddRef(value)
	p.arena.Release(old)
	return nil
}
