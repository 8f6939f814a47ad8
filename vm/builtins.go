package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// registerBuiltins installs the global command table. Scripts shadow any
// of these by defining a movie handler of the same name; resolution only
// reaches the table after script handlers miss.
func (p *Player) registerBuiltins() {
	// console and control
	p.defineBuiltin("put", biPut)
	p.defineBuiltin("showGlobals", biShowGlobals)
	p.defineBuiltin("clearGlobals", biClearGlobals)
	p.defineBuiltin("nothing", biNothing)
	p.defineBuiltin("updateStage", biNothing)
	p.defineBuiltin("go", biGo)
	p.defineBuiltin("halt", biHalt)
	p.defineBuiltin("pass", biPass)
	p.defineBuiltin("stopEvent", biStopEvent)

	// object naming
	p.defineBuiltin("castLib", biCastLib)
	p.defineBuiltin("member", biMember)
	p.defineBuiltin("script", biScript)
	p.defineBuiltin("timeout", biTimeout)
	p.defineBuiltin("new", biNew)

	// construction and conversion
	p.defineBuiltin("value", biValue)
	p.defineBuiltin("void", biVoid)
	p.defineBuiltin("list", biList)
	p.defineBuiltin("integer", biInteger)
	p.defineBuiltin("float", biFloat)
	p.defineBuiltin("string", biString)
	p.defineBuiltin("symbol", biSymbol)

	// predicates
	p.defineBuiltin("voidp", biVoidP)
	p.defineBuiltin("objectp", biObjectP)
	p.defineBuiltin("listp", biListP)
	p.defineBuiltin("symbolp", biSymbolP)
	p.defineBuiltin("stringp", biStringP)
	p.defineBuiltin("integerp", biIntegerP)
	p.defineBuiltin("floatp", biFloatP)

	// interrogation
	p.defineBuiltin("length", biLength)
	p.defineBuiltin("count", biCount)
	p.defineBuiltin("ilk", biIlk)
	p.defineBuiltin("param", biParam)
	p.defineBuiltin("paramCount", biParamCount)

	// math
	p.defineBuiltin("abs", biAbs)
	p.defineBuiltin("min", biMin)
	p.defineBuiltin("max", biMax)
	p.defineBuiltin("random", biRandom)
	p.defineBuiltin("power", biPower)
	p.defineBuiltin("sqrt", biSqrt)
	p.defineBuiltin("pi", biPi)
	p.defineBuiltin("sin", biSin)
	p.defineBuiltin("cos", biCos)
	p.defineBuiltin("tan", biTan)
	p.defineBuiltin("exp", biExp)
	p.defineBuiltin("log", biLog)
	p.defineBuiltin("bitAnd", biBitAnd)
	p.defineBuiltin("bitOr", biBitOr)
	p.defineBuiltin("bitXor", biBitXor)
	p.defineBuiltin("bitNot", biBitNot)

	// strings
	p.defineBuiltin("chars", biChars)
	p.defineBuiltin("charToNum", biCharToNum)
	p.defineBuiltin("numToChar", biNumToChar)
	p.defineBuiltin("offset", biOffset)
	p.defineBuiltin("contains", biContains)
	p.defineBuiltin("space", biSpace)

	// collection commands, forwarded to the receiver's method
	p.defineBuiltin("add", biDelegate("add"))
	p.defineBuiltin("append", biDelegate("append"))
	p.defineBuiltin("getAt", biDelegate("getAt"))
	p.defineBuiltin("setAt", biDelegate("setAt"))
	p.defineBuiltin("deleteAt", biDelegate("deleteAt"))
	p.defineBuiltin("deleteOne", biDelegate("deleteOne"))
	p.defineBuiltin("getaProp", biDelegate("getaProp"))
	p.defineBuiltin("setaProp", biDelegate("setaProp"))
	p.defineBuiltin("getPropAt", biDelegate("getPropAt"))
	p.defineBuiltin("getPos", biDelegate("getPos"))
	p.defineBuiltin("findPos", biDelegate("findPos"))
	p.defineBuiltin("getLast", biDelegate("getLast"))
	p.defineBuiltin("duplicate", biDelegate("duplicate"))
	p.defineBuiltin("sort", biDelegate("sort"))
}

// ---------------------------------------------------------------------------
// Console and control
// ---------------------------------------------------------------------------

func biPut(p *Player, args []Ref) (Ref, error) {
	parts := make([]string, len(args))
	for i, ref := range args {
		parts[i] = p.FormatRef(ref)
	}
	line := strings.Join(parts, " ")
	fmt.Fprintf(p.console, "-- %s\n", line)
	putLog.Info(line)
	return VoidRef, nil
}

// biShowGlobals dumps the global table to the console in creation order.
func biShowGlobals(p *Player, args []Ref) (Ref, error) {
	fmt.Fprintf(p.console, "-- Global Variables --\n")
	for _, name := range p.GlobalNames() {
		fmt.Fprintf(p.console, "%s = %s\n", name, p.FormatRef(p.GetGlobal(name)))
	}
	return VoidRef, nil
}

func biClearGlobals(p *Player, args []Ref) (Ref, error) {
	p.ClearGlobals()
	return VoidRef, nil
}

func biNothing(p *Player, args []Ref) (Ref, error) {
	return VoidRef, nil
}

// biHalt ends playback from inside a handler. The current scope keeps
// its own receiver reference, so tearing down the frame behavior here
// is safe.
func biHalt(p *Player, args []Ref) (Ref, error) {
	if err := p.StopMovie(); err != nil {
		return VoidRef, err
	}
	return VoidRef, nil
}

func biGo(p *Player, args []Ref) (Ref, error) {
	if err := p.gotoFrame(p.arg(args, 0)); err != nil {
		return VoidRef, err
	}
	return VoidRef, nil
}

// biPass marks the event passed without interrupting the handler; the
// dispatcher reads the flag once the frame finishes.
func biPass(p *Player, args []Ref) (Ref, error) {
	if s := p.currentScope(); s != nil {
		s.passed = true
	}
	return VoidRef, nil
}

func biStopEvent(p *Player, args []Ref) (Ref, error) {
	if s := p.currentScope(); s != nil {
		s.passed = false
	}
	return VoidRef, nil
}

// ---------------------------------------------------------------------------
// Object naming
// ---------------------------------------------------------------------------

func biCastLib(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindInt:
		lib, err := p.casts.GetCast(d.IntVal)
		if err != nil {
			return VoidRef, err
		}
		return p.alloc(CastLibDatum(lib.Number))
	case KindString:
		lib := p.casts.GetCastByName(d.StrVal, p.config.CaseSensitiveNames)
		if lib == nil {
			return VoidRef, Errorf(CodeCastNotFound, "Cast not found: %s", d.StrVal)
		}
		return p.alloc(CastLibDatum(lib.Number))
	default:
		return VoidRef, Errorf(CodeInvalidArgument, "Invalid castLib identifier: %s", d.Kind)
	}
}

func biMember(p *Player, args []Ref) (Ref, error) {
	ref, _, err := p.findMemberByIdentifiers(p.arg(args, 0), p.arg(args, 1))
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(MemberDatum(ref))
}

func biScript(p *Player, args []Ref) (Ref, error) {
	ref, member, err := p.findMemberByIdentifiers(p.arg(args, 0), p.arg(args, 1))
	if err != nil {
		return VoidRef, err
	}
	if member.Script == nil {
		return VoidRef, Errorf(CodeTypeMismatch, "Member %d is not a script", member.Number)
	}
	return p.alloc(ScriptDatum(ref))
}

func biTimeout(p *Player, args []Ref) (Ref, error) {
	name, err := p.nameArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(TimeoutDatum(name))
}

func biNew(p *Player, args []Ref) (Ref, error) {
	if p.arg(args, 0).Kind != KindScript {
		return VoidRef, Errorf(CodeTypeMismatch, "new requires a script, got %s", p.arg(args, 0).Kind)
	}
	return p.scriptNew(args[0], args[1:])
}

// ---------------------------------------------------------------------------
// Construction and conversion
// ---------------------------------------------------------------------------

func biValue(p *Player, args []Ref) (Ref, error) {
	if len(args) == 0 {
		return VoidRef, nil
	}
	d := p.arg(args, 0)
	if d.Kind != KindString {
		return p.arena.AddRef(args[0]), nil
	}
	return p.ParseValue(d.StrVal)
}

func biVoid(p *Player, args []Ref) (Ref, error) {
	return VoidRef, nil
}

func biList(p *Player, args []Ref) (Ref, error) {
	elems := make([]Ref, len(args))
	for i, ref := range args {
		elems[i] = p.arena.AddRef(ref)
	}
	ref, err := p.alloc(ListDatum(elems))
	if err != nil {
		p.releaseAll(elems)
		return VoidRef, err
	}
	return ref, nil
}

func biInteger(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindInt:
		return p.alloc(IntDatum(d.IntVal))
	case KindFloat:
		return p.alloc(IntDatum(int32(math.Round(d.FloatVal))))
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(d.StrVal), 64)
		if err != nil {
			return VoidRef, nil
		}
		return p.alloc(IntDatum(int32(math.Round(f))))
	default:
		return VoidRef, nil
	}
}

func biFloat(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindInt:
		return p.alloc(FloatDatum(float64(d.IntVal)))
	case KindFloat:
		return p.alloc(FloatDatum(d.FloatVal))
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(d.StrVal), 64)
		if err != nil {
			return VoidRef, nil
		}
		return p.alloc(FloatDatum(f))
	default:
		return VoidRef, nil
	}
}

func biString(p *Player, args []Ref) (Ref, error) {
	return p.alloc(StringDatum(p.concatString(p.arg(args, 0))))
}

func biSymbol(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindSymbol:
		return p.arena.AddRef(args[0]), nil
	case KindString:
		return p.alloc(SymbolDatum(d.StrVal))
	default:
		return VoidRef, nil
	}
}

// ---------------------------------------------------------------------------
// Predicates
// ---------------------------------------------------------------------------

func biVoidP(p *Player, args []Ref) (Ref, error) {
	return p.alloc(BoolDatum(p.arg(args, 0).IsVoid()))
}

func biObjectP(p *Player, args []Ref) (Ref, error) {
	switch p.arg(args, 0).Kind {
	case KindInstance, KindScript, KindMember, KindCastLib, KindTimeout:
		return p.alloc(BoolDatum(true))
	default:
		return p.alloc(BoolDatum(false))
	}
}

func biListP(p *Player, args []Ref) (Ref, error) {
	kind := p.arg(args, 0).Kind
	return p.alloc(BoolDatum(kind == KindList || kind == KindPropList))
}

func biSymbolP(p *Player, args []Ref) (Ref, error) {
	return p.alloc(BoolDatum(p.arg(args, 0).Kind == KindSymbol))
}

func biStringP(p *Player, args []Ref) (Ref, error) {
	return p.alloc(BoolDatum(p.arg(args, 0).Kind == KindString))
}

func biIntegerP(p *Player, args []Ref) (Ref, error) {
	return p.alloc(BoolDatum(p.arg(args, 0).Kind == KindInt))
}

func biFloatP(p *Player, args []Ref) (Ref, error) {
	return p.alloc(BoolDatum(p.arg(args, 0).Kind == KindFloat))
}

// ---------------------------------------------------------------------------
// Interrogation
// ---------------------------------------------------------------------------

func biLength(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindString, KindSymbol, KindList, KindPropList:
		return p.alloc(IntDatum(int32(d.Length())))
	default:
		return VoidRef, Errorf(CodeTypeMismatch, "length expects a string or list, got %s", d.Kind)
	}
}

func biCount(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindList, KindPropList:
		return p.alloc(IntDatum(int32(d.Length())))
	default:
		return VoidRef, Errorf(CodeTypeMismatch, "count expects a list, got %s", d.Kind)
	}
}

func biIlk(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	if len(args) >= 2 {
		kind, err := p.nameArg(args, 1)
		if err != nil {
			return VoidRef, err
		}
		return p.alloc(BoolDatum(d.IlkMatches(kind)))
	}
	return p.alloc(SymbolDatum(d.IlkName()))
}

func biParam(p *Player, args []Ref) (Ref, error) {
	n, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	s := p.currentScope()
	if s == nil || n < 1 || int(n) > len(s.args) {
		return VoidRef, nil
	}
	return p.arena.AddRef(s.args[n-1]), nil
}

func biParamCount(p *Player, args []Ref) (Ref, error) {
	s := p.currentScope()
	if s == nil {
		return p.alloc(IntDatum(0))
	}
	return p.alloc(IntDatum(int32(len(s.args))))
}

// ---------------------------------------------------------------------------
// Math
// ---------------------------------------------------------------------------

func biAbs(p *Player, args []Ref) (Ref, error) {
	d := p.arg(args, 0)
	switch d.Kind {
	case KindInt:
		v := d.IntVal
		if v < 0 {
			v = -v
		}
		return p.alloc(IntDatum(v))
	case KindFloat:
		return p.alloc(FloatDatum(math.Abs(d.FloatVal)))
	default:
		return VoidRef, Errorf(CodeTypeMismatch, "abs expects a number, got %s", d.Kind)
	}
}

// pickExtreme scans candidates and answers the winner by the comparison
// direction. A single list argument compares its elements.
func (p *Player) pickExtreme(args []Ref, wantGreater bool) (Ref, error) {
	candidates := args
	if len(args) == 1 {
		if d := p.arg(args, 0); d.Kind == KindList {
			candidates = d.Elems
		}
	}
	if len(candidates) == 0 {
		return VoidRef, nil
	}
	best := candidates[0]
	bestD, err := p.getDatum(best)
	if err != nil {
		return VoidRef, err
	}
	for _, ref := range candidates[1:] {
		d, err := p.getDatum(ref)
		if err != nil {
			return VoidRef, err
		}
		wins := p.datumLess(bestD, d)
		if !wantGreater {
			wins = p.datumLess(d, bestD)
		}
		if wins {
			best, bestD = ref, d
		}
	}
	return p.arena.AddRef(best), nil
}

func biMin(p *Player, args []Ref) (Ref, error) {
	return p.pickExtreme(args, false)
}

func biMax(p *Player, args []Ref) (Ref, error) {
	return p.pickExtreme(args, true)
}

func biRandom(p *Player, args []Ref) (Ref, error) {
	n, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if n < 1 {
		return VoidRef, Errorf(CodeInvalidArgument, "random expects a positive range, got %d", n)
	}
	return p.alloc(IntDatum(1 + p.rand.Int31n(n)))
}

func biPower(p *Player, args []Ref) (Ref, error) {
	base, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	exp, err := p.floatArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Pow(base, exp)))
}

func biSqrt(p *Player, args []Ref) (Ref, error) {
	v, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Sqrt(v)))
}

func biPi(p *Player, args []Ref) (Ref, error) {
	return p.alloc(FloatDatum(math.Pi))
}

func biSin(p *Player, args []Ref) (Ref, error) {
	v, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Sin(v)))
}

func biCos(p *Player, args []Ref) (Ref, error) {
	v, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Cos(v)))
}

func biTan(p *Player, args []Ref) (Ref, error) {
	v, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Tan(v)))
}

func biExp(p *Player, args []Ref) (Ref, error) {
	v, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Exp(v)))
}

// biLog answers the natural logarithm, like the operator it backs.
func biLog(p *Player, args []Ref) (Ref, error) {
	v, err := p.floatArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(FloatDatum(math.Log(v)))
}

func biBitAnd(p *Player, args []Ref) (Ref, error) {
	a, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	b, err := p.intArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(a & b))
}

func biBitOr(p *Player, args []Ref) (Ref, error) {
	a, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	b, err := p.intArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(a | b))
}

func biBitXor(p *Player, args []Ref) (Ref, error) {
	a, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	b, err := p.intArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(a ^ b))
}

func biBitNot(p *Player, args []Ref) (Ref, error) {
	a, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(IntDatum(^a))
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func biChars(p *Player, args []Ref) (Ref, error) {
	text, err := p.stringArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	first, err := p.intArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	last, err := p.intArg(args, 2)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(resolveChunk(text, chunkChar, int(first), int(last), p.movie.itemDelimiter)))
}

func biCharToNum(p *Player, args []Ref) (Ref, error) {
	text, err := p.stringArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	if len(text) == 0 {
		return p.alloc(IntDatum(0))
	}
	return p.alloc(IntDatum(int32(text[0])))
}

func biNumToChar(p *Player, args []Ref) (Ref, error) {
	n, err := p.intArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	return p.alloc(StringDatum(string([]byte{byte(n)})))
}

// biOffset answers the 1-based position of a substring, 0 when absent.
// Matching folds case, like the string comparison operators.
func biOffset(p *Player, args []Ref) (Ref, error) {
	needle, err := p.stringArg(args, 0)
	if err != nil {
		return VoidRef, err
	}
	haystack, err := p.stringArg(args, 1)
	if err != nil {
		return VoidRef, err
	}
	if needle == "" {
		return p.alloc(IntDatum(0))
	}
	idx := strings.Index(strings.ToLower(haystack), strings.ToLower(needle))
	return p.alloc(IntDatum(int32(idx + 1)))
}

// biContains mirrors the contains operator in command form: substring
// match on strings, element match on lists.
func biContains(p *Player, args []Ref) (Ref, error) {
	return p.alloc(BoolDatum(p.datumContains(p.arg(args, 0), p.arg(args, 1))))
}

func biSpace(p *Player, args []Ref) (Ref, error) {
	return p.alloc(StringDatum(" "))
}

// ---------------------------------------------------------------------------
// Method forwarding
// ---------------------------------------------------------------------------

// biDelegate adapts command syntax to method dispatch: add list, 5 means
// list.add(5).
func biDelegate(name string) builtinFunc {
	return func(p *Player, args []Ref) (Ref, error) {
		if len(args) == 0 {
			return VoidRef, Errorf(CodeInvalidArgument, "%s requires a receiver", name)
		}
		return p.callMethod(args[0], name, args[1:])
	}
}
