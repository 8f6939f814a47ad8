package vm

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Name keys
// ---------------------------------------------------------------------------

// nameKey folds a handler or property name under the case policy.
func (p *Player) nameKey(name string) string {
	if p.config.CaseSensitiveNames {
		return name
	}
	return strings.ToLower(name)
}

func (p *Player) defineBuiltin(name string, fn builtinFunc) {
	p.builtins[p.nameKey(name)] = fn
}

func (p *Player) defineMethod(kind DatumKind, name string, fn datumHandlerFunc) {
	table := p.datumHandlers[kind]
	if table == nil {
		table = make(map[string]datumHandlerFunc)
		p.datumHandlers[kind] = table
	}
	table[p.nameKey(name)] = fn
}

func (p *Player) defineProp(kind DatumKind, name string, get propGetter, set propSetter) {
	table := p.datumProps[kind]
	if table == nil {
		table = make(map[string]propEntry)
		p.datumProps[kind] = table
	}
	table[p.nameKey(name)] = propEntry{get: get, set: set}
}

func (p *Player) lookupMethod(kind DatumKind, name string) (datumHandlerFunc, bool) {
	fn, ok := p.datumHandlers[kind][p.nameKey(name)]
	return fn, ok
}

// BuiltinNames lists the registered global commands, sorted. The names
// come back in their stored key form, lowercased under the default case
// policy.
func (p *Player) BuiltinNames() []string {
	names := make([]string, 0, len(p.builtins))
	for name := range p.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (p *Player) lookupProp(kind DatumKind, name string) (propEntry, bool) {
	entry, ok := p.datumProps[kind][p.nameKey(name)]
	return entry, ok
}

// registerDatumHandlers installs the per-kind method and property tables.
func (p *Player) registerDatumHandlers() {
	p.registerListHandlers()
	p.registerPropListHandlers()
	p.registerStringHandlers()
	p.registerScriptHandlers()
	p.registerMemberHandlers()
	p.registerTimeoutHandlers()
}

// ---------------------------------------------------------------------------
// Global dispatch
// ---------------------------------------------------------------------------

// Call invokes a handler by name from outside any executing scope, the
// entry point hosts use to drive the player. The result handle is owned
// by the caller.
func (p *Player) Call(name string, args []Ref) (Ref, error) {
	return p.callGlobal(name, args)
}

// callGlobal resolves a bare handler call. The receiver conventions of
// method syntax still apply when the first argument is a script or
// instance that owns the handler; after that, active actors, movie
// scripts and finally the builtin table are consulted.
func (p *Player) callGlobal(name string, args []Ref) (Ref, error) {
	// new() always resolves through the builtin so scripts can be
	// instantiated before any instance exists.
	if len(args) > 0 && !namesEqual(name, "new", p.config.CaseSensitiveNames) {
		first, err := p.getDatum(args[0])
		if err != nil {
			return VoidRef, err
		}
		switch first.Kind {
		case KindScript:
			if script := p.casts.scriptByRef(first.Member); script != nil {
				if handler, _ := script.GetHandler(name, p.config.CaseSensitiveNames); handler != nil {
					result, _, err := p.callScriptHandler(VoidRef, script, handler, args, false)
					return result, err
				}
			}
		case KindInstance:
			if inst := p.instance(first.Instance); inst != nil {
				if script, handler := p.instanceHandler(inst, name); handler != nil {
					result, _, err := p.callScriptHandler(args[0], script, handler, args, false)
					return result, err
				}
			}
		}
	}

	if ref, script, handler := p.findActorHandler(name); handler != nil {
		result, _, err := p.callScriptHandler(ref, script, handler, args, false)
		return result, err
	}

	if script, handler := p.findMovieHandler(name); handler != nil {
		result, _, err := p.callScriptHandler(VoidRef, script, handler, args, false)
		return result, err
	}

	return p.callBuiltin(name, args)
}

// findMovieHandler searches movie scripts in cast order for a handler.
func (p *Player) findMovieHandler(name string) (*Script, *Handler) {
	for _, script := range p.casts.MovieScripts() {
		if handler, _ := script.GetHandler(name, p.config.CaseSensitiveNames); handler != nil {
			return script, handler
		}
	}
	return nil, nil
}

// findActorHandler searches the actor list for an instance owning the
// handler. The returned ref is borrowed from the list.
func (p *Player) findActorHandler(name string) (Ref, *Script, *Handler) {
	if p.movie.actorList == VoidRef {
		return VoidRef, nil, nil
	}
	actors, err := p.getDatum(p.movie.actorList)
	if err != nil || actors.Kind != KindList {
		return VoidRef, nil, nil
	}
	for _, actorRef := range actors.Elems {
		actor, err := p.getDatum(actorRef)
		if err != nil || actor.Kind != KindInstance {
			continue
		}
		inst := p.instance(actor.Instance)
		if inst == nil {
			continue
		}
		if script, handler := p.instanceHandler(inst, name); handler != nil {
			return actorRef, script, handler
		}
	}
	return VoidRef, nil, nil
}

// callBuiltin invokes a builtin global, the last stop of resolution.
func (p *Player) callBuiltin(name string, args []Ref) (Ref, error) {
	fn, ok := p.builtins[p.nameKey(name)]
	if !ok {
		return VoidRef, Errorf(CodeHandlerNotFound, "No built-in handler: %s(%s)", name, p.formatArgs(args))
	}
	return fn(p, args)
}

func (p *Player) formatArgs(args []Ref) string {
	parts := make([]string, len(args))
	for i, ref := range args {
		parts[i] = p.FormatRef(ref)
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// Method dispatch
// ---------------------------------------------------------------------------

// CallOn invokes a method against a receiver datum, the way dotted call
// syntax does. The result handle is owned by the caller.
func (p *Player) CallOn(recv Ref, name string, args []Ref) (Ref, error) {
	return p.callMethod(recv, name, args)
}

// callMethod dispatches receiver.name(args). Scripts and instances try
// their own handlers before the per-kind builtin methods.
func (p *Player) callMethod(recv Ref, name string, args []Ref) (Ref, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return VoidRef, err
	}

	switch d.Kind {
	case KindVoid:
		return VoidRef, Errorf(CodeHandlerNotFound, "Handler %s called on VOID", name)

	case KindScript:
		if script := p.casts.scriptByRef(d.Member); script != nil {
			if handler, _ := script.GetHandler(name, p.config.CaseSensitiveNames); handler != nil {
				// Movie scripts are plain handler bags; parent and
				// behavior handlers expect the script as first arg.
				prepend := script.Type != ScriptTypeMovie
				result, _, err := p.callScriptHandler(recv, script, handler, args, prepend)
				return result, err
			}
		}

	case KindInstance:
		if inst := p.instance(d.Instance); inst != nil {
			if script, handler := p.instanceHandler(inst, name); handler != nil {
				result, _, err := p.callScriptHandler(recv, script, handler, args, true)
				return result, err
			}
		}
	}

	if fn, ok := p.lookupMethod(d.Kind, name); ok {
		return fn(p, recv, args)
	}
	return VoidRef, Errorf(CodeHandlerNotFound, "No handler %s for %s", name, d.IlkName())
}

// ---------------------------------------------------------------------------
// Object properties
// ---------------------------------------------------------------------------

// GetProp reads a property of a datum, the way `the prop of obj` and
// dotted access do. The result handle is owned by the caller.
func (p *Player) GetProp(obj Ref, name string) (Ref, error) {
	return p.getObjProp(obj, name)
}

// SetProp writes a property of a datum. The value is borrowed.
func (p *Player) SetProp(obj Ref, name string, value Ref) error {
	return p.setObjProp(obj, name, value)
}

func (p *Player) getObjProp(obj Ref, name string) (Ref, error) {
	d, err := p.getDatum(obj)
	if err != nil {
		return VoidRef, err
	}

	if entry, ok := p.lookupProp(d.Kind, name); ok && entry.get != nil {
		return entry.get(p, obj)
	}

	switch d.Kind {
	case KindInstance:
		inst := p.instance(d.Instance)
		if inst == nil {
			return VoidRef, Errorf(CodeInvalidHandle, "Dead script instance %d", d.Instance)
		}
		if p.instanceHasProp(inst, name) {
			return p.instanceGetProp(inst, name)
		}
	case KindPropList:
		if idx := p.propListFindName(d, name); idx >= 0 {
			return p.arena.AddRef(d.Pairs[idx].Value), nil
		}
	}

	if namesEqual(name, "ilk", p.config.CaseSensitiveNames) {
		return p.alloc(SymbolDatum(d.IlkName()))
	}
	if namesEqual(name, "length", p.config.CaseSensitiveNames) {
		return p.alloc(IntDatum(int32(d.Length())))
	}
	return VoidRef, Errorf(CodePropertyNotFound, "No property %s for %s", name, d.IlkName())
}

func (p *Player) setObjProp(obj Ref, name string, value Ref) error {
	d, err := p.getDatum(obj)
	if err != nil {
		return err
	}

	if entry, ok := p.lookupProp(d.Kind, name); ok && entry.set != nil {
		return entry.set(p, obj, value)
	}

	switch d.Kind {
	case KindInstance:
		inst := p.instance(d.Instance)
		if inst == nil {
			return Errorf(CodeInvalidHandle, "Dead script instance %d", d.Instance)
		}
		p.instanceSetProp(inst, name, value)
		return nil
	case KindPropList:
		if idx := p.propListFindName(d, name); idx >= 0 {
			p.arena.Release(d.Pairs[idx].Value)
			d.Pairs[idx].Value = p.arena.AddRef(value)
			return nil
		}
		key, err := p.alloc(SymbolDatum(name))
		if err != nil {
			return err
		}
		d.Pairs = append(d.Pairs, PropPair{Key: key, Value: p.arena.AddRef(value)})
		return nil
	}

	return Errorf(CodePropertyNotFound, "Cannot set property %s for %s", name, d.IlkName())
}
