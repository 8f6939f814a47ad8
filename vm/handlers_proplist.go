package vm

import "sort"

// registerPropListHandlers installs the property list methods.
func (p *Player) registerPropListHandlers() {
	p.defineMethod(KindPropList, "count", propListCount)
	p.defineMethod(KindPropList, "getAt", propListGetAt)
	p.defineMethod(KindPropList, "setAt", propListSetAt)
	p.defineMethod(KindPropList, "getaProp", propListGetAProp)
	p.defineMethod(KindPropList, "setaProp", propListSetAProp)
	p.defineMethod(KindPropList, "getProp", propListGetProp)
	p.defineMethod(KindPropList, "setProp", propListSetProp)
	p.defineMethod(KindPropList, "addProp", propListAddProp)
	p.defineMethod(KindPropList, "deleteProp", propListDeleteProp)
	p.defineMethod(KindPropList, "deleteAt", propListDeleteAt)
	p.defineMethod(KindPropList, "getPropAt", propListGetPropAt)
	p.defineMethod(KindPropList, "findPos", propListFindPos)
	p.defineMethod(KindPropList, "getPos", propListFindPos)
	p.defineMethod(KindPropList, "duplicate", propListDuplicate)
	p.defineMethod(KindPropList, "sort", propListSort)

	p.defineProp(KindPropList, "count", propListCountProp, nil)
}

// propListPairs reads the receiver as a mutable property list datum.
func (p *Player) propListPairs(recv Ref) (*Datum, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindPropList {
		return nil, Errorf(CodeTypeMismatch, "Expected property list, got %s", d.Kind)
	}
	return d, nil
}

// propListFindKey answers the index of the first pair whose key equals
// the datum, or -1.
func (p *Player) propListFindKey(d *Datum, key *Datum) int {
	for i, pair := range d.Pairs {
		kd, err := p.getDatum(pair.Key)
		if err != nil {
			continue
		}
		if p.datumEquals(kd, key) {
			return i
		}
	}
	return -1
}

// propListFindName answers the index of the first pair whose key is a
// symbol or string with the name, or -1. Property access by identifier
// lands here.
func (p *Player) propListFindName(d *Datum, name string) int {
	for i, pair := range d.Pairs {
		kd, err := p.getDatum(pair.Key)
		if err != nil {
			continue
		}
		if kd.Kind != KindSymbol && kd.Kind != KindString {
			continue
		}
		if namesEqual(kd.StrVal, name, p.config.CaseSensitiveNames) {
			return i
		}
	}
	return -1
}

func propListCount(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(int32(len(d.Pairs))))
}

func propListCountProp(p *Player, recv Ref) (Ref, error) {
	return propListCount(p, recv, nil)
}

func propListGetAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if pos < 1 || int(pos) > len(d.Pairs) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	return p.arena.AddRef(d.Pairs[pos-1].Value), nil
}

func propListSetAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if len(args) < 2 {
		return VoidRef, NewError(CodeInvalidArgument, "setAt requires a value")
	}
	if pos < 1 || int(pos) > len(d.Pairs) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	p.arena.Release(d.Pairs[pos-1].Value)
	d.Pairs[pos-1].Value = p.arena.AddRef(args[1])
	return VoidRef, nil
}

// propListGetAProp answers the value for a key, or Void when the key is
// absent.
func propListGetAProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	if idx := p.propListFindKey(d, p.arg(args, 0)); idx >= 0 {
		return p.arena.AddRef(d.Pairs[idx].Value), nil
	}
	return VoidRef, nil
}

// propListSetAProp writes the value for a key, appending the pair when
// the key is absent.
func propListSetAProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	if len(args) < 2 {
		return VoidRef, NewError(CodeInvalidArgument, "setaProp requires a key and a value")
	}
	if idx := p.propListFindKey(d, p.arg(args, 0)); idx >= 0 {
		p.arena.Release(d.Pairs[idx].Value)
		d.Pairs[idx].Value = p.arena.AddRef(args[1])
		return VoidRef, nil
	}
	d.Pairs = append(d.Pairs, PropPair{
		Key:   p.arena.AddRef(args[0]),
		Value: p.arena.AddRef(args[1]),
	})
	return VoidRef, nil
}

// propListGetProp is the strict read: a missing key is a script error.
func propListGetProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	key := p.arg(args, 0)
	if idx := p.propListFindKey(d, key); idx >= 0 {
		return p.arena.AddRef(d.Pairs[idx].Value), nil
	}
	return VoidRef, Errorf(CodePropertyNotFound, "Property not found: %s", p.formatDatum(key))
}

// propListSetProp is the strict write: a missing key is a script error.
func propListSetProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	if len(args) < 2 {
		return VoidRef, NewError(CodeInvalidArgument, "setProp requires a key and a value")
	}
	key := p.arg(args, 0)
	idx := p.propListFindKey(d, key)
	if idx < 0 {
		return VoidRef, Errorf(CodePropertyNotFound, "Property not found: %s", p.formatDatum(key))
	}
	p.arena.Release(d.Pairs[idx].Value)
	d.Pairs[idx].Value = p.arena.AddRef(args[1])
	return VoidRef, nil
}

// propListAddProp appends a pair unconditionally; duplicate keys are
// allowed and reads find the first.
func propListAddProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	if len(args) < 2 {
		return VoidRef, NewError(CodeInvalidArgument, "addProp requires a key and a value")
	}
	d.Pairs = append(d.Pairs, PropPair{
		Key:   p.arena.AddRef(args[0]),
		Value: p.arena.AddRef(args[1]),
	})
	return VoidRef, nil
}

func propListDeleteProp(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	idx := p.propListFindKey(d, p.arg(args, 0))
	if idx < 0 {
		return p.alloc(BoolDatum(false))
	}
	p.arena.Release(d.Pairs[idx].Key)
	p.arena.Release(d.Pairs[idx].Value)
	d.Pairs = append(d.Pairs[:idx], d.Pairs[idx+1:]...)
	return p.alloc(BoolDatum(true))
}

func propListDeleteAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if pos < 1 || int(pos) > len(d.Pairs) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	p.arena.Release(d.Pairs[pos-1].Key)
	p.arena.Release(d.Pairs[pos-1].Value)
	d.Pairs = append(d.Pairs[:pos-1], d.Pairs[pos:]...)
	return VoidRef, nil
}

func propListGetPropAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if pos < 1 || int(pos) > len(d.Pairs) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	return p.arena.AddRef(d.Pairs[pos-1].Key), nil
}

// propListFindPos answers the 1-based index of a key, or 0.
func propListFindPos(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(int32(p.propListFindKey(d, p.arg(args, 0)) + 1)))
}

func propListDuplicate(p *Player, recv Ref, args []Ref) (Ref, error) {
	return p.duplicateRef(recv)
}

func propListSort(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.propListPairs(recv)
	if err != nil {
		return VoidRef, err
	}
	sort.SliceStable(d.Pairs, func(i, j int) bool {
		a, errA := p.getDatum(d.Pairs[i].Key)
		b, errB := p.getDatum(d.Pairs[j].Key)
		if errA != nil || errB != nil {
			return false
		}
		return p.datumLess(a, b)
	})
	return VoidRef, nil
}
