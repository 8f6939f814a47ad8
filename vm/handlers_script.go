package vm

// registerScriptHandlers installs the methods and properties of script
// and instance datums. Handler dispatch to the script's own code happens
// in callMethod before these tables are consulted.
func (p *Player) registerScriptHandlers() {
	p.defineMethod(KindScript, "new", scriptNewMethod)
	p.defineMethod(KindScript, "rawNew", scriptRawNew)
	p.defineMethod(KindScript, "handlers", scriptHandlers)
	p.defineMethod(KindScript, "handler", scriptHandler)

	p.defineProp(KindScript, "name", scriptNameProp, nil)
	p.defineProp(KindScript, "number", scriptNumberProp, nil)
	p.defineProp(KindScript, "scriptType", scriptTypeProp, nil)

	p.defineMethod(KindInstance, "handlers", instanceHandlers)
	p.defineMethod(KindInstance, "handler", instanceRespondsTo)
	p.defineMethod(KindInstance, "respondsTo", instanceRespondsTo)
	p.defineMethod(KindInstance, "count", instanceCount)
	p.defineMethod(KindInstance, "getaProp", instanceGetAProp)
	p.defineMethod(KindInstance, "setaProp", instanceSetAProp)
	p.defineMethod(KindInstance, "getProp", instanceGetPropMethod)
	p.defineMethod(KindInstance, "setProp", instanceSetAProp)
	p.defineMethod(KindInstance, "getAt", instanceGetAt)
	p.defineMethod(KindInstance, "getPropAt", instanceGetPropAt)

	p.defineProp(KindInstance, "script", instanceScriptProp, nil)
}

// scriptFromRef reads the receiver as a loaded script.
func (p *Player) scriptFromRef(recv Ref) (*Script, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindScript {
		return nil, Errorf(CodeTypeMismatch, "Expected script, got %s", d.Kind)
	}
	script := p.casts.scriptByRef(d.Member)
	if script == nil {
		return nil, Errorf(CodeCastMemberNotFound, "Member %d not found in castLib %d", d.Member.MemberNum, d.Member.CastNum)
	}
	return script, nil
}

// instanceFromRef reads the receiver as a live instance.
func (p *Player) instanceFromRef(recv Ref) (*ScriptInstance, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindInstance {
		return nil, Errorf(CodeTypeMismatch, "Expected script instance, got %s", d.Kind)
	}
	inst := p.instance(d.Instance)
	if inst == nil {
		return nil, Errorf(CodeInvalidHandle, "Dead script instance %d", d.Instance)
	}
	return inst, nil
}

// ---------------------------------------------------------------------------
// Instantiation
// ---------------------------------------------------------------------------

// scriptNew creates an instance and runs its new handler with the
// instance as receiver. Without a new handler the bare instance is the
// result; otherwise the handler's answer is, so a new that returns
// something else drops the instance.
func (p *Player) scriptNew(scriptRef Ref, args []Ref) (Ref, error) {
	script, err := p.scriptFromRef(scriptRef)
	if err != nil {
		return VoidRef, err
	}
	inst := p.newInstance(script)
	instRef, err := p.alloc(InstanceDatum(inst.ID))
	if err != nil {
		return VoidRef, err
	}
	ctorScript, ctor := p.instanceHandler(inst, "new")
	if ctor == nil {
		return instRef, nil
	}
	result, _, err := p.callScriptHandler(instRef, ctorScript, ctor, args, true)
	p.arena.Release(instRef)
	if err != nil {
		return VoidRef, err
	}
	return result, nil
}

func scriptNewMethod(p *Player, recv Ref, args []Ref) (Ref, error) {
	return p.scriptNew(recv, args)
}

// scriptRawNew creates an instance without running new.
func scriptRawNew(p *Player, recv Ref, args []Ref) (Ref, error) {
	script, err := p.scriptFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	inst := p.newInstance(script)
	return p.alloc(InstanceDatum(inst.ID))
}

// ---------------------------------------------------------------------------
// Script reflection
// ---------------------------------------------------------------------------

// handlerSymbolList builds a list of handler name symbols.
func (p *Player) handlerSymbolList(script *Script) (Ref, error) {
	elems := make([]Ref, 0, len(script.Handlers))
	for _, h := range script.Handlers {
		ref, err := p.alloc(SymbolDatum(script.HandlerName(h)))
		if err != nil {
			p.releaseAll(elems)
			return VoidRef, err
		}
		elems = append(elems, ref)
	}
	ref, err := p.alloc(ListDatum(elems))
	if err != nil {
		p.releaseAll(elems)
		return VoidRef, err
	}
	return ref, nil
}

func scriptHandlers(p *Player, recv Ref, args []Ref) (Ref, error) {
	script, err := p.scriptFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.handlerSymbolList(script)
}

func scriptHandler(p *Player, recv Ref, args []Ref) (Ref, error) {
	script, err := p.scriptFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	h, _ := script.GetHandler(name, p.config.CaseSensitiveNames)
	return p.alloc(BoolDatum(h != nil))
}

func scriptNameProp(p *Player, recv Ref) (Ref, error) {
	script, err := p.scriptFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(script.Name))
}

func scriptNumberProp(p *Player, recv Ref) (Ref, error) {
	script, err := p.scriptFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(script.Member.MemberNum))
}

func scriptTypeProp(p *Player, recv Ref) (Ref, error) {
	script, err := p.scriptFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(SymbolDatum(script.Type.String()))
}

// ---------------------------------------------------------------------------
// Instance reflection
// ---------------------------------------------------------------------------

func instanceHandlers(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	script := p.casts.scriptByRef(inst.Script)
	if script == nil {
		return p.alloc(ListDatum(nil))
	}
	return p.handlerSymbolList(script)
}

// instanceRespondsTo answers whether the instance or its ancestors own
// the named handler.
func instanceRespondsTo(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	_, h := p.instanceHandler(inst, name)
	return p.alloc(BoolDatum(h != nil))
}

func instanceCount(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(int32(len(inst.Props))))
}

func instanceGetAProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if !p.instanceHasProp(inst, name) {
		return VoidRef, nil
	}
	return p.instanceGetProp(inst, name)
}

func instanceGetPropMethod(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.instanceGetProp(inst, name)
}

func instanceSetAProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if len(args) < 2 {
		return VoidRef, NewError(CodeInvalidArgument, "setaProp requires a value")
	}
	p.instanceSetProp(inst, name, args[1])
	return VoidRef, nil
}

// instanceGetAt reads a property by sorted position, giving scripts a
// stable iteration order over instance storage.
func instanceGetAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	names := p.instancePropNames(inst)
	if pos < 1 || int(pos) > len(names) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	return p.instanceGetProp(inst, names[pos-1])
}

func instanceGetPropAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	names := p.instancePropNames(inst)
	if pos < 1 || int(pos) > len(names) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	return p.alloc(SymbolDatum(names[pos-1]))
}

func instanceScriptProp(p *Player, recv Ref) (Ref, error) {
	inst, err := p.instanceFromRef(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(ScriptDatum(inst.Script))
}
