package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// Datum: the tagged runtime value
// ---------------------------------------------------------------------------

// DatumKind tags the variant stored in a Datum.
type DatumKind uint8

const (
	KindVoid DatumKind = iota
	KindInt
	KindFloat
	KindString
	KindSymbol
	KindList
	KindPropList
	KindCastLib
	KindMember
	KindScript
	KindInstance
	KindTimeout
	KindError
)

// kindNames are the internal type names used in error messages.
var kindNames = map[DatumKind]string{
	KindVoid:     "void",
	KindInt:      "int",
	KindFloat:    "float",
	KindString:   "string",
	KindSymbol:   "symbol",
	KindList:     "list",
	KindPropList: "prop_list",
	KindCastLib:  "cast_lib",
	KindMember:   "cast_member",
	KindScript:   "script",
	KindInstance: "script_instance",
	KindTimeout:  "timeout",
	KindError:    "error",
}

func (k DatumKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MemberRef identifies a cast member as (cast number, member number).
// Script references use the same addressing.
type MemberRef struct {
	CastNum   int32
	MemberNum int32
}

// InvalidMemberRef is the sentinel for "no member".
var InvalidMemberRef = MemberRef{CastNum: -1, MemberNum: -1}

// IsValid reports whether the ref points at an actual member slot.
func (m MemberRef) IsValid() bool {
	return m.CastNum >= 0 && m.MemberNum >= 0
}

// PropPair is one (key, value) entry of a property list. Both sides are
// handles; the arena is the sole owner of the underlying values.
type PropPair struct {
	Key   Ref
	Value Ref
}

// Datum is the runtime value variant. Composite variants (List, PropList)
// hold handles into the arena, never inline Datums. The zero value is Void.
type Datum struct {
	Kind DatumKind

	IntVal   int32
	FloatVal float64
	StrVal   string // String and Symbol payload; Timeout name; Error message

	Elems  []Ref      // KindList
	Pairs  []PropPair // KindPropList
	Sorted bool       // KindList/KindPropList: kept sorted by add
	NoRet  bool       // KindList: argument list built for a statement call

	CastNum  int32     // KindCastLib
	Member   MemberRef // KindMember and KindScript
	Instance InstanceID
	ErrCode  ErrorCode // KindError
}

// InstanceID identifies a live script instance in the player's instance
// table.
type InstanceID uint32

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func VoidDatum() Datum               { return Datum{} }
func IntDatum(v int32) Datum         { return Datum{Kind: KindInt, IntVal: v} }
func FloatDatum(v float64) Datum     { return Datum{Kind: KindFloat, FloatVal: v} }
func StringDatum(s string) Datum     { return Datum{Kind: KindString, StrVal: s} }
func SymbolDatum(name string) Datum  { return Datum{Kind: KindSymbol, StrVal: name} }
func ListDatum(elems []Ref) Datum    { return Datum{Kind: KindList, Elems: elems} }
func PropListDatum(p []PropPair) Datum {
	return Datum{Kind: KindPropList, Pairs: p}
}
func CastLibDatum(num int32) Datum   { return Datum{Kind: KindCastLib, CastNum: num} }
func MemberDatum(ref MemberRef) Datum { return Datum{Kind: KindMember, Member: ref} }
func ScriptDatum(ref MemberRef) Datum { return Datum{Kind: KindScript, Member: ref} }
func InstanceDatum(id InstanceID) Datum {
	return Datum{Kind: KindInstance, Instance: id}
}
func TimeoutDatum(name string) Datum {
	return Datum{Kind: KindTimeout, StrVal: name}
}
func ErrorDatum(code ErrorCode, message string) Datum {
	return Datum{Kind: KindError, ErrCode: code, StrVal: message}
}

// BoolDatum renders a boolean the way legacy scripts expect: 1 or 0.
func BoolDatum(b bool) Datum {
	if b {
		return IntDatum(1)
	}
	return IntDatum(0)
}

// ---------------------------------------------------------------------------
// Universal properties
// ---------------------------------------------------------------------------

// ilkNames are the symbolic type names answered by the ilk property.
var ilkNames = map[DatumKind]string{
	KindVoid:     "void",
	KindInt:      "integer",
	KindFloat:    "float",
	KindString:   "string",
	KindSymbol:   "symbol",
	KindList:     "list",
	KindPropList: "propList",
	KindCastLib:  "castLib",
	KindMember:   "member",
	KindScript:   "script",
	KindInstance: "instance",
	KindTimeout:  "timeout",
	KindError:    "error",
}

// IlkName returns the symbolic type name for the ilk property. Defined for
// every variant; never fails.
func (d *Datum) IlkName() string {
	if name, ok := ilkNames[d.Kind]; ok {
		return name
	}
	return "void"
}

// ilkAliases lists every name a variant answers to for the two-argument
// ilk(value, kind) form. Lists also answer #linearList, and prop lists
// also answer #list, matching legacy behavior.
var ilkAliases = map[DatumKind][]string{
	KindVoid:     {"void"},
	KindInt:      {"integer"},
	KindFloat:    {"float"},
	KindString:   {"string"},
	KindSymbol:   {"symbol"},
	KindList:     {"list", "linearlist"},
	KindPropList: {"proplist", "list"},
	KindCastLib:  {"castlib"},
	KindMember:   {"member"},
	KindScript:   {"script"},
	KindInstance: {"instance"},
	KindTimeout:  {"timeout"},
	KindError:    {"error"},
}

// IlkMatches reports whether the variant answers to the given kind name.
// Matching is case-insensitive.
func (d *Datum) IlkMatches(kind string) bool {
	want := strings.ToLower(kind)
	for _, name := range ilkAliases[d.Kind] {
		if name == want {
			return true
		}
	}
	return false
}

// Length answers the universal length property: character count for
// strings, element count for lists, pair count for property lists, zero
// for everything else.
func (d *Datum) Length() int {
	switch d.Kind {
	case KindString:
		return len(d.StrVal)
	case KindList:
		return len(d.Elems)
	case KindPropList:
		return len(d.Pairs)
	default:
		return 0
	}
}

// ---------------------------------------------------------------------------
// Coercing accessors
// ---------------------------------------------------------------------------

// IntValue coerces to an integer. Floats truncate toward zero, Void is 0.
func (d *Datum) IntValue() (int32, error) {
	switch d.Kind {
	case KindInt:
		return d.IntVal, nil
	case KindFloat:
		return int32(d.FloatVal), nil
	case KindVoid:
		return 0, nil
	default:
		return 0, Errorf(CodeTypeMismatch, "Expected int, got %s", d.Kind)
	}
}

// FloatValue coerces to a float. Ints promote, Void is 0.0.
func (d *Datum) FloatValue() (float64, error) {
	switch d.Kind {
	case KindFloat:
		return d.FloatVal, nil
	case KindInt:
		return float64(d.IntVal), nil
	case KindVoid:
		return 0, nil
	default:
		return 0, Errorf(CodeTypeMismatch, "Expected float, got %s", d.Kind)
	}
}

// SymbolName returns the symbol's name.
func (d *Datum) SymbolName() (string, error) {
	if d.Kind != KindSymbol {
		return "", Errorf(CodeTypeMismatch, "Expected symbol, got %s", d.Kind)
	}
	return d.StrVal, nil
}

// IsNumeric reports whether the datum participates in arithmetic without
// string parsing.
func (d *Datum) IsNumeric() bool {
	return d.Kind == KindInt || d.Kind == KindFloat
}

// IsVoid reports whether the datum is Void.
func (d *Datum) IsVoid() bool {
	return d.Kind == KindVoid
}

// IsZero answers the conditional-jump truth test: Int 0, Float 0.0 and
// Void are zero; every other value is non-zero. Script instances are
// never zero.
func (d *Datum) IsZero() bool {
	switch d.Kind {
	case KindInt:
		return d.IntVal == 0
	case KindFloat:
		return d.FloatVal == 0
	case KindVoid:
		return true
	default:
		return false
	}
}
