package vm

import (
	"sort"
	"strings"
)

// registerListHandlers installs the linear list methods.
func (p *Player) registerListHandlers() {
	p.defineMethod(KindList, "add", listAdd)
	p.defineMethod(KindList, "append", listAdd)
	p.defineMethod(KindList, "addAt", listAddAt)
	p.defineMethod(KindList, "count", listCount)
	p.defineMethod(KindList, "getAt", listGetAt)
	p.defineMethod(KindList, "setAt", listSetAt)
	p.defineMethod(KindList, "deleteAt", listDeleteAt)
	p.defineMethod(KindList, "deleteOne", listDeleteOne)
	p.defineMethod(KindList, "getPos", listGetPos)
	p.defineMethod(KindList, "getOne", listGetPos)
	p.defineMethod(KindList, "findPos", listGetPos)
	p.defineMethod(KindList, "getLast", listGetLast)
	p.defineMethod(KindList, "duplicate", listDuplicate)
	p.defineMethod(KindList, "join", listJoin)
	p.defineMethod(KindList, "sort", listSort)
	p.defineMethod(KindList, "max", listMax)
	p.defineMethod(KindList, "min", listMin)

	p.defineProp(KindList, "count", listCountProp, nil)
}

// listElems reads the receiver as a mutable list datum.
func (p *Player) listElems(recv Ref) (*Datum, error) {
	d, err := p.getDatum(recv)
	if err != nil {
		return nil, err
	}
	if d.Kind != KindList {
		return nil, Errorf(CodeTypeMismatch, "Expected list, got %s", d.Kind)
	}
	return d, nil
}

func listAdd(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	if len(args) == 0 {
		return VoidRef, NewError(CodeInvalidArgument, "add requires a value")
	}
	d.Elems = append(d.Elems, p.arena.AddRef(args[0]))
	return VoidRef, nil
}

func listAddAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if len(args) < 2 {
		return VoidRef, NewError(CodeInvalidArgument, "addAt requires a value")
	}
	// Clamp to the ends, so addAt never fails on a live list.
	idx := int(pos) - 1
	if idx < 0 {
		idx = 0
	}
	if idx > len(d.Elems) {
		idx = len(d.Elems)
	}
	d.Elems = append(d.Elems, VoidRef)
	copy(d.Elems[idx+1:], d.Elems[idx:])
	d.Elems[idx] = p.arena.AddRef(args[1])
	return VoidRef, nil
}

func listCount(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(int32(len(d.Elems))))
}

func listCountProp(p *Player, recv Ref) (Ref, error) {
	return listCount(p, recv, nil)
}

func listGetAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if pos < 1 || int(pos) > len(d.Elems) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	return p.arena.AddRef(d.Elems[pos-1]), nil
}

// listSetAt writes a slot, growing the list with Void up to the index,
// the legacy behavior scripts rely on for sparse fills.
func listSetAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
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
	if pos < 1 {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	for int(pos) > len(d.Elems) {
		d.Elems = append(d.Elems, VoidRef)
	}
	p.arena.Release(d.Elems[pos-1])
	d.Elems[pos-1] = p.arena.AddRef(args[1])
	return VoidRef, nil
}

func listDeleteAt(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	pos, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if pos < 1 || int(pos) > len(d.Elems) {
		return VoidRef, Errorf(CodeIndexOutOfRange, "Index out of range: %d", pos)
	}
	p.arena.Release(d.Elems[pos-1])
	d.Elems = append(d.Elems[:pos-1], d.Elems[pos:]...)
	return VoidRef, nil
}

// listDeleteOne removes the first element equal to the value, answering
// whether anything was removed.
func listDeleteOne(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	target := p.arg(args, 0)
	for i, elem := range d.Elems {
		ed, err := p.getDatum(elem)
		if err != nil {
			continue
		}
		if p.datumEquals(ed, target) {
			p.arena.Release(elem)
			d.Elems = append(d.Elems[:i], d.Elems[i+1:]...)
			return p.alloc(BoolDatum(true))
		}
	}
	return p.alloc(BoolDatum(false))
}

func listGetPos(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	target := p.arg(args, 0)
	for i, elem := range d.Elems {
		ed, err := p.getDatum(elem)
		if err != nil {
			continue
		}
		if p.datumEquals(ed, target) {
			return p.alloc(IntDatum(int32(i + 1)))
		}
	}
	return p.alloc(IntDatum(0))
}

func listGetLast(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	if len(d.Elems) == 0 {
		return VoidRef, nil
	}
	return p.arena.AddRef(d.Elems[len(d.Elems)-1]), nil
}

func listDuplicate(p *Player, recv Ref, args []Ref) (Ref, error) {
	return p.duplicateRef(recv)
}

// listJoin concatenates the elements under string coercion. The optional
// argument overrides the "&" delimiter.
func listJoin(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	delim := "&"
	if len(args) > 0 {
		if ad := p.arg(args, 0); ad.Kind == KindString {
			delim = ad.StrVal
		}
	}
	parts := make([]string, len(d.Elems))
	for i, elem := range d.Elems {
		ed, err := p.getDatum(elem)
		if err != nil {
			return VoidRef, err
		}
		parts[i] = p.concatString(ed)
	}
	return p.alloc(StringDatum(strings.Join(parts, delim)))
}

func listSort(p *Player, recv Ref, args []Ref) (Ref, error) {
	d, err := p.listElems(recv)
	if err != nil {
		return VoidRef, err
	}
	sort.SliceStable(d.Elems, func(i, j int) bool {
		a, errA := p.getDatum(d.Elems[i])
		b, errB := p.getDatum(d.Elems[j])
		if errA != nil || errB != nil {
			return false
		}
		return p.datumLess(a, b)
	})
	return VoidRef, nil
}

func listMax(p *Player, recv Ref, args []Ref) (Ref, error) {
	return p.pickExtreme([]Ref{recv}, true)
}

func listMin(p *Player, recv Ref, args []Ref) (Ref, error) {
	return p.pickExtreme([]Ref{recv}, false)
}

// duplicateRef deep-copies lists and property lists; every other kind is
// immutable and shares the handle.
func (p *Player) duplicateRef(ref Ref) (Ref, error) {
	d, err := p.getDatum(ref)
	if err != nil {
		return VoidRef, err
	}
	switch d.Kind {
	case KindList:
		elems := make([]Ref, 0, len(d.Elems))
		for _, elem := range d.Elems {
			dup, err := p.duplicateRef(elem)
			if err != nil {
				p.releaseAll(elems)
				return VoidRef, err
			}
			elems = append(elems, dup)
		}
		out, err := p.alloc(ListDatum(elems))
		if err != nil {
			p.releaseAll(elems)
			return VoidRef, err
		}
		return out, nil
	case KindPropList:
		pairs := make([]PropPair, 0, len(d.Pairs))
		fail := func(err error) (Ref, error) {
			for _, pair := range pairs {
				p.arena.Release(pair.Key)
				p.arena.Release(pair.Value)
			}
			return VoidRef, err
		}
		for _, pair := range d.Pairs {
			key, err := p.duplicateRef(pair.Key)
			if err != nil {
				return fail(err)
			}
			value, err := p.duplicateRef(pair.Value)
			if err != nil {
				p.arena.Release(key)
				return fail(err)
			}
			pairs = append(pairs, PropPair{Key: key, Value: value})
		}
		out, err := p.alloc(PropListDatum(pairs))
		if err != nil {
			return fail(err)
		}
		return out, nil
	default:
		return p.arena.AddRef(ref), nil
	}
}
