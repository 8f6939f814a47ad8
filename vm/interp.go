package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// ScopeState tracks where a frame is in its lifecycle.
type ScopeState uint8

const (
	ScopeRunning ScopeState = iota
	ScopeAwaitingNestedCall
	ScopeReturned
	ScopeFailed
)

var scopeStateNames = map[ScopeState]string{
	ScopeRunning:            "running",
	ScopeAwaitingNestedCall: "awaiting_nested_call",
	ScopeReturned:           "returned",
	ScopeFailed:             "failed",
}

func (s ScopeState) String() string {
	if name, ok := scopeStateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Scope is one activation of a handler: its operand stack, parameters,
// locals, receiver and program counter. Every handle a scope holds carries
// a reference owned by the scope and released at teardown.
type Scope struct {
	script  *Script
	handler *Handler

	receiver Ref
	args     []Ref
	locals   map[string]Ref

	stack       []Ref
	pc          int
	state       ScopeState
	returnValue Ref
	passed      bool
}

// push transfers ownership of a handle onto the operand stack.
func (s *Scope) push(ref Ref) {
	s.stack = append(s.stack, ref)
}

// pop transfers ownership of the top handle to the caller. An empty stack
// is malformed bytecode, not a crash.
func (s *Scope) pop() (Ref, error) {
	if len(s.stack) == 0 {
		return VoidRef, NewError(CodeMalformedBytecode, "Stack underflow")
	}
	ref := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return ref, nil
}

// popN pops n handles, returned in push order. Ownership transfers to the
// caller.
func (s *Scope) popN(n int) ([]Ref, error) {
	if n < 0 || len(s.stack) < n {
		return nil, NewError(CodeMalformedBytecode, "Stack underflow")
	}
	refs := make([]Ref, n)
	copy(refs, s.stack[len(s.stack)-n:])
	s.stack = s.stack[:len(s.stack)-n]
	return refs, nil
}

// HandlerName resolves the executing handler's name.
func (s *Scope) HandlerName() string {
	if s.script == nil || s.handler == nil {
		return "?"
	}
	return s.script.HandlerName(s.handler)
}

// currentScope returns the innermost activation, or nil outside handler
// execution.
func (p *Player) currentScope() *Scope {
	if len(p.scopes) == 0 {
		return nil
	}
	return p.scopes[len(p.scopes)-1]
}

// CallDepth reports the live scope count, for diagnostic surfaces.
func (p *Player) CallDepth() int {
	return len(p.scopes)
}

// frameError carries the invocation context a failure crossed on its way
// out of a frame.
type frameError struct {
	handler string
	pc      int
	err     error
}

func (e *frameError) Error() string {
	return fmt.Sprintf("handler %s pc %d: %v", e.handler, e.pc, e.err)
}

func (e *frameError) Unwrap() error {
	return e.err
}

// ---------------------------------------------------------------------------
// Handler invocation
// ---------------------------------------------------------------------------

// callScriptHandler runs one handler to completion in a fresh scope. The
// receiver and args are borrowed; the scope takes its own references. When
// prependReceiver is set and a receiver is present, the receiver becomes
// the first parameter, the calling convention of method-style dispatch.
// The result handle is owned by the caller.
func (p *Player) callScriptHandler(receiver Ref, script *Script, handler *Handler, args []Ref, prependReceiver bool) (Ref, bool, error) {
	if len(p.scopes) >= p.config.MaxCallDepth {
		return VoidRef, false, NewError(CodeStackOverflow, "Stack overflow")
	}

	s := &Scope{
		script:      script,
		handler:     handler,
		receiver:    p.arena.AddRef(receiver),
		locals:      make(map[string]Ref),
		state:       ScopeRunning,
		returnValue: VoidRef,
	}

	if prependReceiver && receiver != VoidRef {
		s.args = append(s.args, p.arena.AddRef(receiver))
	}
	for _, arg := range args {
		s.args = append(s.args, p.arena.AddRef(arg))
	}
	for len(s.args) < len(handler.ArgNameIDs) {
		s.args = append(s.args, VoidRef)
	}

	if parent := p.currentScope(); parent != nil {
		parent.state = ScopeAwaitingNestedCall
	}
	p.scopes = append(p.scopes, s)

	err := p.runScope(s)

	p.scopes = p.scopes[:len(p.scopes)-1]
	if parent := p.currentScope(); parent != nil {
		parent.state = ScopeRunning
	}

	result := s.returnValue
	passed := s.passed
	s.returnValue = VoidRef
	p.teardownScope(s)

	if err != nil {
		s.state = ScopeFailed
		p.arena.Release(result)
		return VoidRef, false, &frameError{handler: s.HandlerName(), pc: s.pc, err: err}
	}

	p.setLastResult(result)
	return result, passed, nil
}

// teardownScope releases every handle the scope still owns.
func (p *Player) teardownScope(s *Scope) {
	for _, ref := range s.stack {
		p.arena.Release(ref)
	}
	s.stack = nil
	for _, ref := range s.args {
		p.arena.Release(ref)
	}
	s.args = nil
	for _, ref := range s.locals {
		p.arena.Release(ref)
	}
	s.locals = nil
	p.arena.Release(s.receiver)
	s.receiver = VoidRef
	p.arena.Release(s.returnValue)
	s.returnValue = VoidRef
}

// runScope drives the frame until it returns, falls off the end of its
// code, or fails.
func (p *Player) runScope(s *Scope) error {
	code := s.handler.Code
	for s.state != ScopeReturned {
		if s.pc >= len(code) {
			s.state = ScopeReturned
			break
		}
		if err := p.step(s); err != nil {
			return err
		}
	}
	return nil
}

// jump validates and takes a branch. Targets must land on an instruction
// boundary; the end of the code is a valid implicit return point.
func (s *Scope) jump(target int) error {
	if target == len(s.handler.Code) {
		s.pc = target
		return nil
	}
	if _, ok := s.handler.jumpTargets()[target]; !ok {
		return Errorf(CodeMalformedBytecode, "Jump to invalid position %d", target)
	}
	s.pc = target
	return nil
}

// ---------------------------------------------------------------------------
// Instruction execution
// ---------------------------------------------------------------------------

// step decodes and executes the instruction at the program counter.
func (p *Player) step(s *Scope) error {
	instrPos := s.pc
	r := NewBytecodeReader(s.handler.Code)
	r.Seek(instrPos)
	op, operand, ok := r.ReadInstruction()
	if !ok {
		return Errorf(CodeMalformedBytecode, "Truncated instruction at %d", instrPos)
	}
	s.pc = r.Position()

	switch op {
	case OpRet, OpRetFactory:
		for _, ref := range s.stack {
			p.arena.Release(ref)
		}
		s.stack = s.stack[:0]
		s.state = ScopeReturned

	case OpPushZero:
		ref, err := p.alloc(IntDatum(0))
		if err != nil {
			return err
		}
		s.push(ref)

	case OpMul, OpAdd, OpSub, OpDiv, OpMod:
		return p.stepArith(s, op)

	case OpInv:
		ref, err := s.pop()
		if err != nil {
			return err
		}
		d, err := p.getDatum(ref)
		if err != nil {
			p.arena.Release(ref)
			return err
		}
		neg, err := p.datumNegate(d)
		p.arena.Release(ref)
		if err != nil {
			return err
		}
		out, err := p.alloc(neg)
		if err != nil {
			return err
		}
		s.push(out)

	case OpJoinStr, OpJoinPadStr:
		return p.stepJoin(s, op)

	case OpLt, OpLtEq, OpNtEq, OpEq, OpGt, OpGtEq, OpAnd, OpOr,
		OpContainsStr, OpContains0Str:
		return p.stepCompare(s, op)

	case OpNot:
		ref, err := s.pop()
		if err != nil {
			return err
		}
		d, err := p.getDatum(ref)
		if err != nil {
			p.arena.Release(ref)
			return err
		}
		out, err := p.alloc(BoolDatum(d.IsZero()))
		p.arena.Release(ref)
		if err != nil {
			return err
		}
		s.push(out)

	case OpGetChunk:
		return p.stepGetChunk(s)

	case OpGetField:
		return p.stepGetField(s)

	case OpPushList:
		return p.stepPushList(s)

	case OpPushPropList:
		return p.stepPushPropList(s)

	case OpSwap:
		if len(s.stack) < 2 {
			return NewError(CodeMalformedBytecode, "Stack underflow")
		}
		n := len(s.stack)
		s.stack[n-1], s.stack[n-2] = s.stack[n-2], s.stack[n-1]

	case OpPushInt8, OpPushInt16, OpPushInt32:
		ref, err := p.alloc(IntDatum(operand))
		if err != nil {
			return err
		}
		s.push(ref)

	case OpPushFloat32:
		ref, err := p.alloc(FloatDatum(float64(math.Float32frombits(uint32(operand)))))
		if err != nil {
			return err
		}
		s.push(ref)

	case OpPushCons:
		if int(operand) < 0 || int(operand) >= len(s.script.Constants) {
			return Errorf(CodeMalformedBytecode, "Constant %d out of range", operand)
		}
		ref, err := p.alloc(s.script.Constants[operand].Datum())
		if err != nil {
			return err
		}
		s.push(ref)

	case OpPushSymb:
		ref, err := p.alloc(SymbolDatum(s.script.Context.Name(int(operand))))
		if err != nil {
			return err
		}
		s.push(ref)

	case OpPushArgList, OpPushArgListNoRet:
		elems, err := s.popN(int(operand))
		if err != nil {
			return err
		}
		d := ListDatum(elems)
		d.NoRet = op == OpPushArgListNoRet
		ref, err := p.alloc(d)
		if err != nil {
			p.releaseAll(elems)
			return err
		}
		s.push(ref)

	case OpGetGlobal, OpGetGlobal2:
		name := s.script.Context.Name(int(operand))
		s.push(p.arena.AddRef(p.GetGlobal(name)))

	case OpSetGlobal, OpSetGlobal2:
		name := s.script.Context.Name(int(operand))
		ref, err := s.pop()
		if err != nil {
			return err
		}
		p.SetGlobal(name, ref)
		p.arena.Release(ref)

	case OpGetProp:
		name := s.script.Context.Name(int(operand))
		ref, err := p.scopePropGet(s, name)
		if err != nil {
			return err
		}
		s.push(ref)

	case OpSetProp:
		name := s.script.Context.Name(int(operand))
		ref, err := s.pop()
		if err != nil {
			return err
		}
		err = p.scopePropSet(s, name, ref)
		p.arena.Release(ref)
		if err != nil {
			return err
		}

	case OpGetParam:
		if int(operand) >= 0 && int(operand) < len(s.args) {
			s.push(p.arena.AddRef(s.args[operand]))
		} else {
			s.push(VoidRef)
		}

	case OpSetParam:
		ref, err := s.pop()
		if err != nil {
			return err
		}
		idx := int(operand)
		if idx < 0 {
			p.arena.Release(ref)
			return Errorf(CodeMalformedBytecode, "Parameter %d out of range", operand)
		}
		for len(s.args) <= idx {
			s.args = append(s.args, VoidRef)
		}
		p.arena.Release(s.args[idx])
		s.args[idx] = ref

	case OpGetLocal:
		name, err := localName(s, int(operand))
		if err != nil {
			return err
		}
		s.push(p.arena.AddRef(s.locals[name]))

	case OpSetLocal:
		name, err := localName(s, int(operand))
		if err != nil {
			return err
		}
		ref, err := s.pop()
		if err != nil {
			return err
		}
		p.arena.Release(s.locals[name])
		s.locals[name] = ref

	case OpJmp:
		return s.jump(instrPos + int(operand))

	case OpEndRepeat:
		return s.jump(instrPos - int(operand))

	case OpJmpIfZ:
		ref, err := s.pop()
		if err != nil {
			return err
		}
		d, err := p.getDatum(ref)
		if err != nil {
			p.arena.Release(ref)
			return err
		}
		zero := d.IsZero()
		p.arena.Release(ref)
		if zero {
			return s.jump(instrPos + int(operand))
		}

	case OpLocalCall:
		return p.stepLocalCall(s, int(operand))

	case OpExtCall:
		return p.stepExtCall(s, s.script.Context.Name(int(operand)))

	case OpObjCall:
		return p.stepObjCall(s, s.script.Context.Name(int(operand)))

	case OpNewObj:
		return p.stepNewObj(s, s.script.Context.Name(int(operand)))

	case OpPut:
		return p.stepPut(s, operand)

	case OpGet:
		return p.stepGet(s, operand)

	case OpSet:
		return p.stepSet(s, operand)

	case OpGetMovieProp, OpTheBuiltin:
		ref, err := p.getMovieProp(s.script.Context.Name(int(operand)))
		if err != nil {
			return err
		}
		s.push(ref)

	case OpSetMovieProp:
		ref, err := s.pop()
		if err != nil {
			return err
		}
		err = p.setMovieProp(s.script.Context.Name(int(operand)), ref)
		p.arena.Release(ref)
		if err != nil {
			return err
		}

	case OpGetObjProp, OpGetChainedProp:
		obj, err := s.pop()
		if err != nil {
			return err
		}
		ref, err := p.getObjProp(obj, s.script.Context.Name(int(operand)))
		p.arena.Release(obj)
		if err != nil {
			return err
		}
		s.push(ref)

	case OpSetObjProp:
		value, err := s.pop()
		if err != nil {
			return err
		}
		obj, err := s.pop()
		if err != nil {
			p.arena.Release(value)
			return err
		}
		err = p.setObjProp(obj, s.script.Context.Name(int(operand)), value)
		p.arena.Release(obj)
		p.arena.Release(value)
		if err != nil {
			return err
		}

	case OpPeek:
		depth := int(operand)
		if depth < 0 || depth >= len(s.stack) {
			return NewError(CodeMalformedBytecode, "Stack underflow")
		}
		s.push(p.arena.AddRef(s.stack[len(s.stack)-1-depth]))

	case OpPop:
		refs, err := s.popN(int(operand))
		if err != nil {
			return err
		}
		p.releaseAll(refs)

	default:
		return Errorf(CodeMalformedBytecode, "No handler for opcode %s", op)
	}
	return nil
}

// localName resolves a local slot index through the handler's local name
// table.
func localName(s *Scope, idx int) (string, error) {
	if idx < 0 || idx >= len(s.handler.LocalNameIDs) {
		return "", Errorf(CodeMalformedBytecode, "Local %d out of range", idx)
	}
	return s.script.Context.Name(s.handler.LocalNameIDs[idx]), nil
}

// ---------------------------------------------------------------------------
// Arithmetic, joins, comparisons
// ---------------------------------------------------------------------------

var arithOpcodes = map[Opcode]arithOp{
	OpAdd: opAdd,
	OpSub: opSub,
	OpMul: opMul,
	OpDiv: opDiv,
	OpMod: opMod,
}

func (p *Player) stepArith(s *Scope, op Opcode) error {
	bRef, err := s.pop()
	if err != nil {
		return err
	}
	aRef, err := s.pop()
	if err != nil {
		p.arena.Release(bRef)
		return err
	}
	defer p.arena.Release(aRef)
	defer p.arena.Release(bRef)

	a, err := p.getDatum(aRef)
	if err != nil {
		return err
	}
	b, err := p.getDatum(bRef)
	if err != nil {
		return err
	}
	out, err := p.datumArith(arithOpcodes[op], a, b)
	if err != nil {
		return err
	}
	ref, err := p.alloc(out)
	if err != nil {
		return err
	}
	s.push(ref)
	return nil
}

func (p *Player) stepJoin(s *Scope, op Opcode) error {
	bRef, err := s.pop()
	if err != nil {
		return err
	}
	aRef, err := s.pop()
	if err != nil {
		p.arena.Release(bRef)
		return err
	}
	defer p.arena.Release(aRef)
	defer p.arena.Release(bRef)

	a, err := p.getDatum(aRef)
	if err != nil {
		return err
	}
	b, err := p.getDatum(bRef)
	if err != nil {
		return err
	}
	joined := p.concatString(a)
	if op == OpJoinPadStr {
		joined += " "
	}
	joined += p.concatString(b)
	ref, err := p.alloc(StringDatum(joined))
	if err != nil {
		return err
	}
	s.push(ref)
	return nil
}

func (p *Player) stepCompare(s *Scope, op Opcode) error {
	bRef, err := s.pop()
	if err != nil {
		return err
	}
	aRef, err := s.pop()
	if err != nil {
		p.arena.Release(bRef)
		return err
	}
	defer p.arena.Release(aRef)
	defer p.arena.Release(bRef)

	a, err := p.getDatum(aRef)
	if err != nil {
		return err
	}
	b, err := p.getDatum(bRef)
	if err != nil {
		return err
	}

	var result bool
	switch op {
	case OpLt:
		result = p.datumLess(a, b)
	case OpLtEq:
		result = p.datumLessEq(a, b)
	case OpNtEq:
		result = !p.datumEquals(a, b)
	case OpEq:
		result = p.datumEquals(a, b)
	case OpGt:
		result = p.datumLess(b, a)
	case OpGtEq:
		result = p.datumLessEq(b, a)
	case OpAnd:
		result = !a.IsZero() && !b.IsZero()
	case OpOr:
		result = !a.IsZero() || !b.IsZero()
	case OpContainsStr:
		result = p.datumContains(a, b)
	case OpContains0Str:
		result = p.datumStartsWith(a, b)
	}
	ref, err := p.alloc(BoolDatum(result))
	if err != nil {
		return err
	}
	s.push(ref)
	return nil
}

// ---------------------------------------------------------------------------
// Chunks and fields
// ---------------------------------------------------------------------------

// stepGetChunk pops a string and four chunk ranges (line, item, word,
// char, each as last/first pairs) and pushes the selected chunk. The
// outermost non-zero range wins; nested chunk expressions arrive as
// successive instructions.
func (p *Player) stepGetChunk(s *Scope) error {
	str, err := s.pop()
	if err != nil {
		return err
	}
	defer p.arena.Release(str)

	ranges, err := s.popN(8)
	if err != nil {
		return err
	}
	defer p.releaseAll(ranges)

	// Push order: firstChar, lastChar, firstWord, lastWord, firstItem,
	// lastItem, firstLine, lastLine.
	bounds := make([]int32, 8)
	for i, ref := range ranges {
		d, err := p.getDatum(ref)
		if err != nil {
			return err
		}
		v, err := d.IntValue()
		if err != nil {
			return err
		}
		bounds[i] = v
	}

	sd, err := p.getDatum(str)
	if err != nil {
		return err
	}
	text, err := p.stringValue(sd)
	if err != nil {
		return err
	}

	kind := chunkChar
	first, last := bounds[0], bounds[1]
	switch {
	case bounds[6] != 0 || bounds[7] != 0:
		kind, first, last = chunkLine, bounds[6], bounds[7]
	case bounds[4] != 0 || bounds[5] != 0:
		kind, first, last = chunkItem, bounds[4], bounds[5]
	case bounds[2] != 0 || bounds[3] != 0:
		kind, first, last = chunkWord, bounds[2], bounds[3]
	}

	chunk := resolveChunk(text, kind, int(first), int(last), p.movie.itemDelimiter)
	ref, err := p.alloc(StringDatum(chunk))
	if err != nil {
		return err
	}
	s.push(ref)
	return nil
}

// stepGetField pops a cast lib id and a member id and pushes the field
// member's text.
func (p *Player) stepGetField(s *Scope) error {
	castRef, err := s.pop()
	if err != nil {
		return err
	}
	memberRef, err := s.pop()
	if err != nil {
		p.arena.Release(castRef)
		return err
	}
	defer p.arena.Release(castRef)
	defer p.arena.Release(memberRef)

	castID, err := p.getDatum(castRef)
	if err != nil {
		return err
	}
	memberID, err := p.getDatum(memberRef)
	if err != nil {
		return err
	}
	_, member, err := p.findMemberByIdentifiers(memberID, castID)
	if err != nil {
		return err
	}
	ref, err := p.alloc(StringDatum(member.Text))
	if err != nil {
		return err
	}
	s.push(ref)
	return nil
}

// findMemberByIdentifiers resolves a member from (member, castLib) datums:
// numbers address slots, strings address names, a zero or Void cast
// searches every library in order.
func (p *Player) findMemberByIdentifiers(memberID, castID *Datum) (MemberRef, *CastMember, error) {
	var lib *CastLib
	switch castID.Kind {
	case KindVoid:
	case KindInt:
		if castID.IntVal != 0 {
			var err error
			lib, err = p.casts.GetCast(castID.IntVal)
			if err != nil {
				return InvalidMemberRef, nil, err
			}
		}
	case KindCastLib:
		var err error
		lib, err = p.casts.GetCast(castID.CastNum)
		if err != nil {
			return InvalidMemberRef, nil, err
		}
	case KindString:
		lib = p.casts.GetCastByName(castID.StrVal, p.config.CaseSensitiveNames)
		if lib == nil {
			return InvalidMemberRef, nil, Errorf(CodeCastNotFound, "Cast not found: %s", castID.StrVal)
		}
	default:
		return InvalidMemberRef, nil, Errorf(CodeInvalidArgument, "Invalid castLib identifier: %s", castID.Kind)
	}

	switch memberID.Kind {
	case KindInt:
		if lib != nil {
			member, err := lib.GetMember(memberID.IntVal)
			if err != nil {
				return InvalidMemberRef, nil, err
			}
			return MemberRef{CastNum: lib.Number, MemberNum: member.Number}, member, nil
		}
		ref, member := p.casts.FindMemberByNumber(memberID.IntVal)
		if member == nil {
			return InvalidMemberRef, nil, Errorf(CodeCastMemberNotFound, "Member %d not found", memberID.IntVal)
		}
		return ref, member, nil
	case KindString, KindSymbol:
		if lib != nil {
			member := lib.GetMemberByName(memberID.StrVal, p.config.CaseSensitiveNames)
			if member == nil {
				return InvalidMemberRef, nil, Errorf(CodeCastMemberNotFound, "Member %s not found in castLib %d", memberID.StrVal, lib.Number)
			}
			return MemberRef{CastNum: lib.Number, MemberNum: member.Number}, member, nil
		}
		ref, member := p.casts.FindMemberByName(memberID.StrVal, p.config.CaseSensitiveNames)
		if member == nil {
			return InvalidMemberRef, nil, Errorf(CodeCastMemberNotFound, "Member %s not found", memberID.StrVal)
		}
		return ref, member, nil
	default:
		return InvalidMemberRef, nil, Errorf(CodeInvalidArgument, "Invalid member identifier: %s", memberID.Kind)
	}
}

// ---------------------------------------------------------------------------
// Aggregates
// ---------------------------------------------------------------------------

func (p *Player) stepPushList(s *Scope) error {
	argsRef, err := s.pop()
	if err != nil {
		return err
	}
	defer p.arena.Release(argsRef)

	argList, err := p.getDatum(argsRef)
	if err != nil {
		return err
	}
	if argList.Kind != KindList {
		return Errorf(CodeMalformedBytecode, "Expected arglist, got %s", argList.Kind)
	}
	elems := make([]Ref, len(argList.Elems))
	for i, ref := range argList.Elems {
		elems[i] = p.arena.AddRef(ref)
	}
	ref, err := p.alloc(ListDatum(elems))
	if err != nil {
		p.releaseAll(elems)
		return err
	}
	s.push(ref)
	return nil
}

func (p *Player) stepPushPropList(s *Scope) error {
	argsRef, err := s.pop()
	if err != nil {
		return err
	}
	defer p.arena.Release(argsRef)

	argList, err := p.getDatum(argsRef)
	if err != nil {
		return err
	}
	if argList.Kind != KindList {
		return Errorf(CodeMalformedBytecode, "Expected arglist, got %s", argList.Kind)
	}
	if len(argList.Elems)%2 != 0 {
		return NewError(CodeMalformedBytecode, "Invalid property list length")
	}
	pairs := make([]PropPair, 0, len(argList.Elems)/2)
	for i := 0; i+1 < len(argList.Elems); i += 2 {
		pairs = append(pairs, PropPair{
			Key:   p.arena.AddRef(argList.Elems[i]),
			Value: p.arena.AddRef(argList.Elems[i+1]),
		})
	}
	ref, err := p.alloc(PropListDatum(pairs))
	if err != nil {
		for _, pair := range pairs {
			p.arena.Release(pair.Key)
			p.arena.Release(pair.Value)
		}
		return err
	}
	s.push(ref)
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// popArgList pops the argument list built by pushArgList, yielding the
// list handle, its elements (borrowed from the list) and the no-return
// flag.
func (p *Player) popArgList(s *Scope) (Ref, []Ref, bool, error) {
	ref, err := s.pop()
	if err != nil {
		return VoidRef, nil, false, err
	}
	d, err := p.getDatum(ref)
	if err != nil {
		p.arena.Release(ref)
		return VoidRef, nil, false, err
	}
	if d.Kind != KindList {
		p.arena.Release(ref)
		return VoidRef, nil, false, Errorf(CodeMalformedBytecode, "Expected arglist, got %s", d.Kind)
	}
	return ref, d.Elems, d.NoRet, nil
}

// finishCall disposes the result according to the statement/expression
// distinction.
func (p *Player) finishCall(s *Scope, result Ref, noRet bool) {
	if noRet {
		p.arena.Release(result)
		return
	}
	s.push(result)
}

func (p *Player) stepLocalCall(s *Scope, index int) error {
	if index < 0 || index >= len(s.script.Handlers) {
		return Errorf(CodeMalformedBytecode, "Handler %d out of range", index)
	}
	argsRef, args, noRet, err := p.popArgList(s)
	if err != nil {
		return err
	}
	result, _, err := p.callScriptHandler(s.receiver, s.script, s.script.Handlers[index], args, false)
	p.arena.Release(argsRef)
	if err != nil {
		return err
	}
	p.finishCall(s, result, noRet)
	return nil
}

func (p *Player) stepExtCall(s *Scope, name string) error {
	argsRef, args, noRet, err := p.popArgList(s)
	if err != nil {
		return err
	}

	// return is an intrinsic: it stops the frame, not a handler call.
	if namesEqual(name, "return", p.config.CaseSensitiveNames) {
		p.arena.Release(s.returnValue)
		if len(args) > 0 {
			s.returnValue = p.arena.AddRef(args[0])
		} else {
			s.returnValue = VoidRef
		}
		p.arena.Release(argsRef)
		s.state = ScopeReturned
		return nil
	}

	result, err := p.callGlobal(name, args)
	p.arena.Release(argsRef)
	if err != nil {
		return err
	}
	p.finishCall(s, result, noRet)
	return nil
}

func (p *Player) stepObjCall(s *Scope, name string) error {
	argsRef, args, noRet, err := p.popArgList(s)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		p.arena.Release(argsRef)
		return NewError(CodeMalformedBytecode, "Method call without receiver")
	}
	result, err := p.callMethod(args[0], name, args[1:])
	p.arena.Release(argsRef)
	if err != nil {
		return err
	}
	p.setLastResult(result)
	p.finishCall(s, result, noRet)
	return nil
}

// stepNewObj instantiates by type name: script types resolve through the
// cast libraries and answer a fresh instance.
func (p *Player) stepNewObj(s *Scope, objType string) error {
	argsRef, args, noRet, err := p.popArgList(s)
	if err != nil {
		return err
	}
	defer p.arena.Release(argsRef)

	if !namesEqual(objType, "script", p.config.CaseSensitiveNames) {
		return Errorf(CodeInvalidArgument, "Cannot create object of type %s", objType)
	}
	if len(args) == 0 {
		return NewError(CodeInvalidArgument, "Script name required")
	}
	scriptName, err := p.stringValueRef(args[0])
	if err != nil {
		return err
	}
	script := p.casts.ScriptByName(scriptName, p.config.CaseSensitiveNames)
	if script == nil {
		return Errorf(CodeCastMemberNotFound, "Script not found: %s", scriptName)
	}
	scriptRef, err := p.alloc(ScriptDatum(script.Member))
	if err != nil {
		return err
	}
	result, err := p.scriptNew(scriptRef, args[1:])
	p.arena.Release(scriptRef)
	if err != nil {
		return err
	}
	p.finishCall(s, result, noRet)
	return nil
}

// ---------------------------------------------------------------------------
// Scope receiver properties
// ---------------------------------------------------------------------------

// scopePropGet reads a property of the executing scope's receiver.
func (p *Player) scopePropGet(s *Scope, name string) (Ref, error) {
	recv, err := p.getDatum(s.receiver)
	if err != nil {
		return VoidRef, err
	}
	if recv.Kind == KindInstance {
		if inst := p.instance(recv.Instance); inst != nil {
			return p.instanceGetProp(inst, name)
		}
	}
	return VoidRef, Errorf(CodePropertyNotFound, "No property %s in handler %s", name, s.HandlerName())
}

// scopePropSet writes a property of the executing scope's receiver.
func (p *Player) scopePropSet(s *Scope, name string, value Ref) error {
	recv, err := p.getDatum(s.receiver)
	if err != nil {
		return err
	}
	if recv.Kind == KindInstance {
		if inst := p.instance(recv.Instance); inst != nil {
			p.instanceSetProp(inst, name, value)
			return nil
		}
	}
	return Errorf(CodePropertyNotFound, "No property %s in handler %s", name, s.HandlerName())
}

// ---------------------------------------------------------------------------
// Statement opcodes: put, get, set
// ---------------------------------------------------------------------------

// Put statement modes.
const (
	putInto   byte = 0x01
	putAfter  byte = 0x02
	putBefore byte = 0x03
)

// Put variable classes. Globals come in two legacy encodings.
const (
	varGlobal  byte = 0x01
	varGlobal2 byte = 0x02
	varProp    byte = 0x03
	varParam   byte = 0x04
	varLocal   byte = 0x05
	varField   byte = 0x06
)

// stepPut executes the put statement: the operand packs the mode in the
// high nibble and the variable class in the low nibble. The variable id
// (and a cast id for fields) is popped first, then the value beneath it.
func (p *Player) stepPut(s *Scope, operand int32) error {
	mode := byte(operand>>4) & 0xf
	class := byte(operand) & 0xf

	var castRef Ref
	if class == varField {
		var err error
		castRef, err = s.pop()
		if err != nil {
			return err
		}
	}
	idRef, err := s.pop()
	if err != nil {
		p.arena.Release(castRef)
		return err
	}
	valueRef, err := s.pop()
	if err != nil {
		p.arena.Release(castRef)
		p.arena.Release(idRef)
		return err
	}
	defer p.arena.Release(castRef)
	defer p.arena.Release(idRef)
	defer p.arena.Release(valueRef)

	if mode == putInto {
		return p.writeContextVar(s, class, idRef, castRef, valueRef)
	}

	// Before and after splice the value against the current contents.
	current, err := p.readContextVar(s, class, idRef, castRef)
	if err != nil {
		return err
	}
	currentStr, err := p.stringValueRef(current)
	p.arena.Release(current)
	if err != nil {
		return err
	}
	valueStr, err := p.stringValueRef(valueRef)
	if err != nil {
		return err
	}

	var combined string
	switch mode {
	case putBefore:
		combined = valueStr + currentStr
	case putAfter:
		combined = currentStr + valueStr
	default:
		return Errorf(CodeMalformedBytecode, "Invalid put mode %d", mode)
	}
	combinedRef, err := p.alloc(StringDatum(combined))
	if err != nil {
		return err
	}
	err = p.writeContextVar(s, class, idRef, castRef, combinedRef)
	p.arena.Release(combinedRef)
	return err
}

// readContextVar reads a put/get target: a global, receiver property,
// parameter, local or field.
func (p *Player) readContextVar(s *Scope, class byte, idRef, castRef Ref) (Ref, error) {
	id, err := p.getDatum(idRef)
	if err != nil {
		return VoidRef, err
	}
	switch class {
	case varGlobal, varGlobal2:
		name := s.script.Context.Name(int(mustInt(id)))
		return p.arena.AddRef(p.GetGlobal(name)), nil
	case varProp:
		name := s.script.Context.Name(int(mustInt(id)))
		return p.scopePropGet(s, name)
	case varParam:
		idx := int(mustInt(id))
		if idx >= 0 && idx < len(s.args) {
			return p.arena.AddRef(s.args[idx]), nil
		}
		return VoidRef, nil
	case varLocal:
		name, err := localName(s, int(mustInt(id)))
		if err != nil {
			return VoidRef, err
		}
		return p.arena.AddRef(s.locals[name]), nil
	case varField:
		castID := &voidDatum
		if castRef != VoidRef {
			castID, err = p.getDatum(castRef)
			if err != nil {
				return VoidRef, err
			}
		}
		_, member, err := p.findMemberByIdentifiers(id, castID)
		if err != nil {
			return VoidRef, err
		}
		return p.alloc(StringDatum(member.Text))
	default:
		return VoidRef, Errorf(CodeMalformedBytecode, "Invalid variable class %d", class)
	}
}

// writeContextVar writes a put target. The value is borrowed.
func (p *Player) writeContextVar(s *Scope, class byte, idRef, castRef, value Ref) error {
	id, err := p.getDatum(idRef)
	if err != nil {
		return err
	}
	switch class {
	case varGlobal, varGlobal2:
		name := s.script.Context.Name(int(mustInt(id)))
		p.SetGlobal(name, value)
		return nil
	case varProp:
		name := s.script.Context.Name(int(mustInt(id)))
		return p.scopePropSet(s, name, value)
	case varParam:
		idx := int(mustInt(id))
		if idx < 0 {
			return Errorf(CodeMalformedBytecode, "Parameter %d out of range", idx)
		}
		for len(s.args) <= idx {
			s.args = append(s.args, VoidRef)
		}
		p.arena.Release(s.args[idx])
		s.args[idx] = p.arena.AddRef(value)
		return nil
	case varLocal:
		name, err := localName(s, int(mustInt(id)))
		if err != nil {
			return err
		}
		p.arena.Release(s.locals[name])
		s.locals[name] = p.arena.AddRef(value)
		return nil
	case varField:
		castID := &voidDatum
		if castRef != VoidRef {
			castID, err = p.getDatum(castRef)
			if err != nil {
				return err
			}
		}
		_, member, err := p.findMemberByIdentifiers(id, castID)
		if err != nil {
			return err
		}
		if member.Kind != MemberField && member.Kind != MemberText {
			return Errorf(CodeTypeMismatch, "Member %d is not a field", member.Number)
		}
		text, err := p.stringValueRef(value)
		if err != nil {
			return err
		}
		member.Text = text
		return nil
	default:
		return Errorf(CodeMalformedBytecode, "Invalid variable class %d", class)
	}
}

// mustInt reads an int payload, defaulting to 0; malformed ids behave as
// slot zero rather than crashing the frame.
func mustInt(d *Datum) int32 {
	v, err := d.IntValue()
	if err != nil {
		return 0
	}
	return v
}

// Numbered the-properties addressed by the get/set statement opcodes.
var numberedMovieProps = map[int32]string{
	0x00: "floatPrecision",
	0x01: "mouseDownScript",
	0x02: "mouseUpScript",
	0x03: "keyDownScript",
	0x04: "keyUpScript",
	0x05: "timeoutScript",
	0x06: "short time",
	0x07: "abbr time",
	0x08: "long time",
	0x09: "short date",
	0x0a: "abbr date",
	0x0b: "long date",
}

// stepGet executes the get statement: mode 0 reads numbered movie
// properties, and ids past the property range select a trailing chunk of
// a popped string.
func (p *Player) stepGet(s *Scope, operand int32) error {
	idRef, err := s.pop()
	if err != nil {
		return err
	}
	id64, err := func() (int32, error) {
		defer p.arena.Release(idRef)
		d, err := p.getDatum(idRef)
		if err != nil {
			return 0, err
		}
		return d.IntValue()
	}()
	if err != nil {
		return err
	}

	if operand != 0 {
		return Errorf(CodeMalformedBytecode, "Unsupported get mode %d", operand)
	}

	if id64 <= 0x0b {
		name, ok := numberedMovieProps[id64]
		if !ok {
			return Errorf(CodePropertyNotFound, "No numbered movie property %d", id64)
		}
		ref, err := p.getMovieProp(name)
		if err != nil {
			return err
		}
		s.push(ref)
		return nil
	}

	// the last char/word/item/line of a popped string
	strRef, err := s.pop()
	if err != nil {
		return err
	}
	defer p.arena.Release(strRef)
	text, err := p.stringValueRef(strRef)
	if err != nil {
		return err
	}
	kind, ok := chunkKindFromID(id64 - 0x0b)
	if !ok {
		return Errorf(CodeMalformedBytecode, "Invalid chunk id %d", id64)
	}
	ref, err := p.alloc(StringDatum(lastChunk(text, kind, p.movie.itemDelimiter)))
	if err != nil {
		return err
	}
	s.push(ref)
	return nil
}

// stepSet executes the set statement for numbered movie properties.
func (p *Player) stepSet(s *Scope, operand int32) error {
	idRef, err := s.pop()
	if err != nil {
		return err
	}
	id64, err := func() (int32, error) {
		defer p.arena.Release(idRef)
		d, err := p.getDatum(idRef)
		if err != nil {
			return 0, err
		}
		return d.IntValue()
	}()
	if err != nil {
		return err
	}
	valueRef, err := s.pop()
	if err != nil {
		return err
	}
	defer p.arena.Release(valueRef)

	if operand != 0 {
		return Errorf(CodeMalformedBytecode, "Unsupported set mode %d", operand)
	}
	name, ok := numberedMovieProps[id64]
	if !ok {
		return Errorf(CodePropertyNotFound, "No numbered movie property %d", id64)
	}
	return p.setMovieProp(name, valueRef)
}

// chunkKindFromID maps the numbered chunk ids of the get statement.
func chunkKindFromID(id int32) (chunkKind, bool) {
	switch id {
	case 1:
		return chunkChar, true
	case 2:
		return chunkWord, true
	case 3:
		return chunkItem, true
	case 4:
		return chunkLine, true
	default:
		return chunkChar, false
	}
}

