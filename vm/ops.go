package vm

import (
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Value operations: arithmetic, equality, ordering, contains
// ---------------------------------------------------------------------------

type arithOp int

const (
	opAdd arithOp = iota
	opSub
	opMul
	opDiv
	opMod
)

var arithOpNames = map[arithOp]string{
	opAdd: "add",
	opSub: "subtract",
	opMul: "multiply",
	opDiv: "divide",
	opMod: "mod",
}

// coerceNumber classifies a datum for arithmetic. Void counts as integer
// zero. Strings coerce only when they parse as a number; everything else
// is rejected by the caller with a type error.
func coerceNumber(d *Datum) (isFloat bool, i int32, f float64, ok bool) {
	switch d.Kind {
	case KindInt:
		return false, d.IntVal, 0, true
	case KindVoid:
		return false, 0, 0, true
	case KindFloat:
		return true, 0, d.FloatVal, true
	case KindString:
		s := strings.TrimSpace(d.StrVal)
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			return false, int32(n), 0, true
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			return true, 0, v, true
		}
		return false, 0, 0, false
	default:
		return false, 0, 0, false
	}
}

// datumArith applies an arithmetic operator with legacy coercion: integer
// math stays integral (division truncates), any float operand promotes the
// result, Void acts as zero, and lists apply element-wise (min length when
// both sides are lists). Non-numeric strings are a type error, never a
// NaN-like value.
func (p *Player) datumArith(op arithOp, a, b *Datum) (Datum, error) {
	if a.Kind == KindList || b.Kind == KindList {
		return p.arithList(op, a, b)
	}
	return p.arithScalar(op, a, b)
}

func (p *Player) arithScalar(op arithOp, a, b *Datum) (Datum, error) {
	aFloat, ai, af, aok := coerceNumber(a)
	bFloat, bi, bf, bok := coerceNumber(b)
	if !aok || !bok {
		return Datum{}, Errorf(CodeTypeMismatch,
			"Invalid operands for %s: %s and %s", arithOpNames[op], a.Kind, b.Kind)
	}
	if aFloat || bFloat {
		x, y := af, bf
		if !aFloat {
			x = float64(ai)
		}
		if !bFloat {
			y = float64(bi)
		}
		switch op {
		case opAdd:
			return FloatDatum(x + y), nil
		case opSub:
			return FloatDatum(x - y), nil
		case opMul:
			return FloatDatum(x * y), nil
		case opDiv:
			return FloatDatum(x / y), nil
		default:
			if y == 0 {
				return IntDatum(0), nil
			}
			return IntDatum(int32(x) % int32(y)), nil
		}
	}
	switch op {
	case opAdd:
		return IntDatum(ai + bi), nil
	case opSub:
		return IntDatum(ai - bi), nil
	case opMul:
		return IntDatum(ai * bi), nil
	case opDiv:
		if bi == 0 {
			return Datum{}, NewError(CodeDivisionByZero, "Division by zero")
		}
		return IntDatum(ai / bi), nil
	default:
		if bi == 0 {
			return IntDatum(0), nil
		}
		return IntDatum(ai % bi), nil
	}
}

// arithList applies the operator element-wise, allocating a fresh list.
// List-scalar broadcasts the scalar; list-list pairs up to the shorter
// side.
func (p *Player) arithList(op arithOp, a, b *Datum) (Datum, error) {
	fetch := func(ref Ref) (*Datum, error) { return p.arena.Get(ref) }

	var length int
	switch {
	case a.Kind == KindList && b.Kind == KindList:
		length = len(a.Elems)
		if len(b.Elems) < length {
			length = len(b.Elems)
		}
	case a.Kind == KindList:
		length = len(a.Elems)
	default:
		length = len(b.Elems)
	}

	elems := make([]Ref, 0, length)
	for i := 0; i < length; i++ {
		left, right := a, b
		if a.Kind == KindList {
			var err error
			if left, err = fetch(a.Elems[i]); err != nil {
				p.releaseAll(elems)
				return Datum{}, err
			}
		}
		if b.Kind == KindList {
			var err error
			if right, err = fetch(b.Elems[i]); err != nil {
				p.releaseAll(elems)
				return Datum{}, err
			}
		}
		result, err := p.datumArith(op, left, right)
		if err != nil {
			p.releaseAll(elems)
			return Datum{}, err
		}
		ref, err := p.arena.Alloc(result)
		if err != nil {
			p.releaseAll(elems)
			return Datum{}, err
		}
		elems = append(elems, ref)
	}
	return ListDatum(elems), nil
}

// datumNegate is the unary minus.
func (p *Player) datumNegate(d *Datum) (Datum, error) {
	switch d.Kind {
	case KindInt:
		return IntDatum(-d.IntVal), nil
	case KindFloat:
		return FloatDatum(-d.FloatVal), nil
	case KindVoid:
		return IntDatum(0), nil
	default:
		return Datum{}, Errorf(CodeTypeMismatch, "Invalid operand for negate: %s", d.Kind)
	}
}

// ---------------------------------------------------------------------------
// Equality
// ---------------------------------------------------------------------------

// datumEquals implements legacy equality: scalars compare structurally
// with promotions (Int~Float, numeric coercion of strings against
// numbers, Void as zero), symbols compare case-insensitively, lists and
// property lists compare structurally element-wise, and script instances
// compare by identity. Mismatched kinds compare unequal with a logged
// warning; equality never errors.
func (p *Player) datumEquals(a, b *Datum) bool {
	switch {
	case a.Kind == KindInt && b.Kind == KindInt:
		return a.IntVal == b.IntVal
	case a.Kind == KindFloat && b.Kind == KindFloat:
		return a.FloatVal == b.FloatVal
	case (a.Kind == KindInt && b.Kind == KindFloat) || (a.Kind == KindFloat && b.Kind == KindInt):
		af, _ := a.FloatValue()
		bf, _ := b.FloatValue()
		return af == bf
	case a.Kind == KindVoid && b.Kind == KindVoid:
		return true
	case a.Kind == KindVoid && b.IsNumeric(), b.Kind == KindVoid && a.IsNumeric():
		other := a
		if a.Kind == KindVoid {
			other = b
		}
		return other.IsZero()
	case a.Kind == KindString && b.Kind == KindString:
		return a.StrVal == b.StrVal
	case a.Kind == KindString && b.IsNumeric(), b.Kind == KindString && a.IsNumeric():
		str, num := a, b
		if b.Kind == KindString {
			str, num = b, a
		}
		isFloat, i, f, ok := coerceNumber(str)
		if !ok {
			return false
		}
		nf, _ := num.FloatValue()
		if isFloat {
			return f == nf
		}
		return float64(i) == nf
	case a.Kind == KindSymbol && b.Kind == KindSymbol:
		return strings.EqualFold(a.StrVal, b.StrVal)
	case a.Kind == KindList && b.Kind == KindList:
		if len(a.Elems) != len(b.Elems) {
			return false
		}
		for i := range a.Elems {
			if !p.refsEqual(a.Elems[i], b.Elems[i]) {
				return false
			}
		}
		return true
	case a.Kind == KindPropList && b.Kind == KindPropList:
		if len(a.Pairs) != len(b.Pairs) {
			return false
		}
		for i := range a.Pairs {
			if !p.refsEqual(a.Pairs[i].Key, b.Pairs[i].Key) {
				return false
			}
			if !p.refsEqual(a.Pairs[i].Value, b.Pairs[i].Value) {
				return false
			}
		}
		return true
	case a.Kind == KindInstance && b.Kind == KindInstance:
		return a.Instance == b.Instance
	case a.Kind == KindCastLib && b.Kind == KindCastLib:
		return a.CastNum == b.CastNum
	case a.Kind == KindMember && b.Kind == KindMember,
		a.Kind == KindScript && b.Kind == KindScript:
		return a.Member == b.Member
	default:
		vmLog.Warningf("comparing mismatched datum kinds %s and %s", a.Kind, b.Kind)
		return false
	}
}

// refsEqual compares two handles by value. Unreadable handles are unequal.
func (p *Player) refsEqual(a, b Ref) bool {
	if a == b {
		return true
	}
	da, err := p.arena.Get(a)
	if err != nil {
		return false
	}
	db, err := p.arena.Get(b)
	if err != nil {
		return false
	}
	return p.datumEquals(da, db)
}

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

// datumCompare returns -1, 0 or 1 when the pair is orderable. The second
// result is false for unsupported pairs; callers answer false after a
// logged warning, matching legacy leniency.
func (p *Player) datumCompare(a, b *Datum) (int, bool) {
	if (a.IsNumeric() || a.Kind == KindVoid) && (b.IsNumeric() || b.Kind == KindVoid) {
		af, _ := a.FloatValue()
		bf, _ := b.FloatValue()
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	if a.Kind == KindString && b.Kind == KindString {
		return strings.Compare(a.StrVal, b.StrVal), true
	}
	// A number against a non-numeric string keeps the legacy quirk: the
	// number sorts below any non-empty string.
	if a.IsNumeric() && b.Kind == KindString {
		if _, _, _, ok := coerceNumber(b); ok {
			bf, _ := strconv.ParseFloat(strings.TrimSpace(b.StrVal), 64)
			af, _ := a.FloatValue()
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		if len(b.StrVal) == 0 {
			return 1, true
		}
		return -1, true
	}
	if a.Kind == KindString && b.IsNumeric() {
		cmp, ok := p.datumCompare(b, a)
		return -cmp, ok
	}
	if a.Kind == KindSymbol && b.Kind == KindSymbol {
		return strings.Compare(strings.ToLower(a.StrVal), strings.ToLower(b.StrVal)), true
	}
	return 0, false
}

func (p *Player) datumLess(a, b *Datum) bool {
	cmp, ok := p.datumCompare(a, b)
	if !ok {
		vmLog.Warningf("ordering unsupported between %s and %s", a.Kind, b.Kind)
		return false
	}
	return cmp < 0
}

func (p *Player) datumLessEq(a, b *Datum) bool {
	cmp, ok := p.datumCompare(a, b)
	if !ok {
		vmLog.Warningf("ordering unsupported between %s and %s", a.Kind, b.Kind)
		return false
	}
	return cmp <= 0
}

// ---------------------------------------------------------------------------
// Contains
// ---------------------------------------------------------------------------

// datumContains implements the `contains` operator: substring match on a
// string haystack (case-insensitive, the legacy collation), any-element
// match on a list haystack, false for everything else.
func (p *Player) datumContains(haystack, needle *Datum) bool {
	switch haystack.Kind {
	case KindString:
		sub, err := p.stringValue(needle)
		if err != nil {
			return false
		}
		return strings.Contains(strings.ToLower(haystack.StrVal), strings.ToLower(sub))
	case KindList:
		for _, elem := range haystack.Elems {
			d, err := p.arena.Get(elem)
			if err != nil {
				continue
			}
			if p.datumContains(d, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// datumStartsWith implements the `starts` operator. Void never starts
// anything.
func (p *Player) datumStartsWith(haystack, prefix *Datum) bool {
	if haystack.Kind == KindVoid || prefix.Kind == KindVoid {
		return false
	}
	h, err := p.stringValue(haystack)
	if err != nil {
		return false
	}
	pre, err := p.stringValue(prefix)
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.ToLower(h), strings.ToLower(pre))
}

// releaseAll drops a batch of handles, used on construction error paths.
func (p *Player) releaseAll(refs []Ref) {
	for _, ref := range refs {
		p.arena.Release(ref)
	}
}
