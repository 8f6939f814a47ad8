package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a normalized bytecode instruction id. Raw instruction bytes below
// 0x40 are complete single-byte instructions; bytes at 0x40 and above carry an
// operand whose width is selected by the raw byte's range (0x40-0x7f one byte,
// 0x80-0xbf two bytes, 0xc0-0xff four bytes) and normalize to 0x40 + raw%0x40.
type Opcode byte

// Returns and arithmetic
const (
	OpRet        Opcode = 0x01 // return from handler
	OpRetFactory Opcode = 0x02 // return from factory handler
	OpPushZero   Opcode = 0x03 // push integer 0
	OpMul        Opcode = 0x04 // pop b, a; push a * b
	OpAdd        Opcode = 0x05 // pop b, a; push a + b
	OpSub        Opcode = 0x06 // pop b, a; push a - b
	OpDiv        Opcode = 0x07 // pop b, a; push a / b
	OpMod        Opcode = 0x08 // pop b, a; push a mod b
	OpInv        Opcode = 0x09 // pop a; push -a
	OpJoinStr    Opcode = 0x0a // pop b, a; push a & b
	OpJoinPadStr Opcode = 0x0b // pop b, a; push a && b (space-joined)
)

// Comparison and logic
const (
	OpLt           Opcode = 0x0c // pop b, a; push a < b
	OpLtEq         Opcode = 0x0d // pop b, a; push a <= b
	OpNtEq         Opcode = 0x0e // pop b, a; push a <> b
	OpEq           Opcode = 0x0f // pop b, a; push a = b
	OpGt           Opcode = 0x10 // pop b, a; push a > b
	OpGtEq         Opcode = 0x11 // pop b, a; push a >= b
	OpAnd          Opcode = 0x12 // pop b, a; push a and b
	OpOr           Opcode = 0x13 // pop b, a; push a or b
	OpNot          Opcode = 0x14 // pop a; push not a
	OpContainsStr  Opcode = 0x15 // pop b, a; push a contains b
	OpContains0Str Opcode = 0x16 // pop b, a; push a starts b
)

// Chunks and fields
const (
	OpGetChunk    Opcode = 0x17 // pop string, 8 chunk bounds; push chunk
	OpHiliteChunk Opcode = 0x18 // stage text highlight (unsupported)
	OpOntoSpr     Opcode = 0x19 // sprite intersection (unsupported)
	OpIntoSpr     Opcode = 0x1a // sprite containment (unsupported)
	OpGetField    Opcode = 0x1b // pop cast lib, member id; push field text
	OpStartTell   Opcode = 0x1c // begin tell block (unsupported)
	OpEndTell     Opcode = 0x1d // end tell block (unsupported)
)

// Aggregates and stack shuffling
const (
	OpPushList     Opcode = 0x1e // pop arglist; push linear list
	OpPushPropList Opcode = 0x1f // pop arglist of k/v pairs; push property list
	OpSwap         Opcode = 0x21 // swap the top two stack values
)

// Pushes with operand
const (
	OpPushInt8         Opcode = 0x41 // push signed integer operand
	OpPushArgListNoRet Opcode = 0x42 // pop N values into a statement arglist
	OpPushArgList      Opcode = 0x43 // pop N values into an expression arglist
	OpPushCons         Opcode = 0x44 // push literal from the script constant pool
	OpPushSymb         Opcode = 0x45 // push symbol by name id
	OpPushVarRef       Opcode = 0x46 // push variable reference (unsupported)
)

// Variable access
const (
	OpGetGlobal2 Opcode = 0x48 // push global by name id (legacy form)
	OpGetGlobal  Opcode = 0x49 // push global by name id
	OpGetProp    Opcode = 0x4a // push receiver property by name id
	OpGetParam   Opcode = 0x4b // push parameter by slot index
	OpGetLocal   Opcode = 0x4c // push local by slot index
	OpSetGlobal2 Opcode = 0x4e // pop into global by name id (legacy form)
	OpSetGlobal  Opcode = 0x4f // pop into global by name id
	OpSetProp    Opcode = 0x50 // pop into receiver property by name id
	OpSetParam   Opcode = 0x51 // pop into parameter by slot index
	OpSetLocal   Opcode = 0x52 // pop into local by slot index
)

// Control flow and calls
const (
	OpJmp       Opcode = 0x53 // jump forward by operand bytes
	OpEndRepeat Opcode = 0x54 // jump backward by operand bytes
	OpJmpIfZ    Opcode = 0x55 // pop; jump forward if zero
	OpLocalCall Opcode = 0x56 // pop arglist; call handler by index in own script
	OpExtCall   Opcode = 0x57 // pop arglist; call handler by name id
	OpObjCallV4 Opcode = 0x58 // pop arglist; legacy factory call (unsupported)
)

// Statements
const (
	OpPut         Opcode = 0x59 // pop id (and cast for fields), value; put by mode
	OpPutChunk    Opcode = 0x5a // put into chunk target (unsupported)
	OpDeleteChunk Opcode = 0x5b // delete chunk target (unsupported)
	OpGet         Opcode = 0x5c // the-style property read by id
	OpSet         Opcode = 0x5d // the-style property write by id
)

// Property access
const (
	OpGetMovieProp Opcode = 0x5f // push movie property by name id
	OpSetMovieProp Opcode = 0x60 // pop into movie property by name id
	OpGetObjProp   Opcode = 0x61 // pop object; push property by name id
	OpSetObjProp   Opcode = 0x62 // pop value, object; set property by name id
	OpTellCall     Opcode = 0x63 // call within tell block (unsupported)
	OpPeek         Opcode = 0x64 // push copy of stack value at depth operand
	OpPop          Opcode = 0x65 // discard operand-many stack values
	OpTheBuiltin   Opcode = 0x66 // push builtin the-property by name id
	OpObjCall      Opcode = 0x67 // pop arglist; call method on first element
)

// Wide pushes and chained access
const (
	OpPushChunkVarRef Opcode = 0x6d // push chunk variable reference (unsupported)
	OpPushInt16       Opcode = 0x6e // push signed integer operand
	OpPushInt32       Opcode = 0x6f // push signed integer operand
	OpGetChainedProp  Opcode = 0x70 // pop object; push property by name id
	OpPushFloat32     Opcode = 0x71 // push float32 bits operand
	OpGetTopLevelProp Opcode = 0x72 // push top-level object by name id (unsupported)
	OpNewObj          Opcode = 0x73 // pop arglist; instantiate by type name id
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about a normalized opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	HasOperand  bool   // whether encoded forms carry an operand
	StackEffect int    // net effect on stack (-9 = variable)
}

// StackEffectVariable marks opcodes whose stack effect depends on operands.
const StackEffectVariable = -9

// opcodeTable maps normalized opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	// Returns and arithmetic
	OpRet:        {"ret", false, 0},
	OpRetFactory: {"retFactory", false, 0},
	OpPushZero:   {"pushZero", false, 1},
	OpMul:        {"mul", false, -1},
	OpAdd:        {"add", false, -1},
	OpSub:        {"sub", false, -1},
	OpDiv:        {"div", false, -1},
	OpMod:        {"mod", false, -1},
	OpInv:        {"inv", false, 0},
	OpJoinStr:    {"joinStr", false, -1},
	OpJoinPadStr: {"joinPadStr", false, -1},

	// Comparison and logic
	OpLt:           {"lt", false, -1},
	OpLtEq:         {"ltEq", false, -1},
	OpNtEq:         {"ntEq", false, -1},
	OpEq:           {"eq", false, -1},
	OpGt:           {"gt", false, -1},
	OpGtEq:         {"gtEq", false, -1},
	OpAnd:          {"and", false, -1},
	OpOr:           {"or", false, -1},
	OpNot:          {"not", false, 0},
	OpContainsStr:  {"containsStr", false, -1},
	OpContains0Str: {"contains0Str", false, -1},

	// Chunks and fields
	OpGetChunk:    {"getChunk", false, -8},
	OpHiliteChunk: {"hiliteChunk", false, StackEffectVariable},
	OpOntoSpr:     {"ontoSpr", false, -1},
	OpIntoSpr:     {"intoSpr", false, -1},
	OpGetField:    {"getField", false, -1},
	OpStartTell:   {"startTell", false, -1},
	OpEndTell:     {"endTell", false, 0},

	// Aggregates and stack shuffling
	OpPushList:     {"pushList", false, 0},
	OpPushPropList: {"pushPropList", false, 0},
	OpSwap:         {"swap", false, 0},

	// Pushes with operand
	OpPushInt8:         {"pushInt8", true, 1},
	OpPushArgListNoRet: {"pushArgListNoRet", true, StackEffectVariable},
	OpPushArgList:      {"pushArgList", true, StackEffectVariable},
	OpPushCons:         {"pushCons", true, 1},
	OpPushSymb:         {"pushSymb", true, 1},
	OpPushVarRef:       {"pushVarRef", true, 1},

	// Variable access
	OpGetGlobal2: {"getGlobal2", true, 1},
	OpGetGlobal:  {"getGlobal", true, 1},
	OpGetProp:    {"getProp", true, 1},
	OpGetParam:   {"getParam", true, 1},
	OpGetLocal:   {"getLocal", true, 1},
	OpSetGlobal2: {"setGlobal2", true, -1},
	OpSetGlobal:  {"setGlobal", true, -1},
	OpSetProp:    {"setProp", true, -1},
	OpSetParam:   {"setParam", true, -1},
	OpSetLocal:   {"setLocal", true, -1},

	// Control flow and calls
	OpJmp:       {"jmp", true, 0},
	OpEndRepeat: {"endRepeat", true, 0},
	OpJmpIfZ:    {"jmpIfZ", true, -1},
	OpLocalCall: {"localCall", true, 0},
	OpExtCall:   {"extCall", true, 0},
	OpObjCallV4: {"objCallV4", true, 0},

	// Statements
	OpPut:         {"put", true, StackEffectVariable},
	OpPutChunk:    {"putChunk", true, StackEffectVariable},
	OpDeleteChunk: {"deleteChunk", true, StackEffectVariable},
	OpGet:         {"get", true, StackEffectVariable},
	OpSet:         {"set", true, StackEffectVariable},

	// Property access
	OpGetMovieProp: {"getMovieProp", true, 1},
	OpSetMovieProp: {"setMovieProp", true, -1},
	OpGetObjProp:   {"getObjProp", true, 0},
	OpSetObjProp:   {"setObjProp", true, -2},
	OpTellCall:     {"tellCall", true, StackEffectVariable},
	OpPeek:         {"peek", true, 1},
	OpPop:          {"pop", true, StackEffectVariable},
	OpTheBuiltin:   {"theBuiltin", true, 1},
	OpObjCall:      {"objCall", true, 0},

	// Wide pushes and chained access
	OpPushChunkVarRef: {"pushChunkVarRef", true, 1},
	OpPushInt16:       {"pushInt16", true, 1},
	OpPushInt32:       {"pushInt32", true, 1},
	OpGetChainedProp:  {"getChainedProp", true, 0},
	OpPushFloat32:     {"pushFloat32", true, 1},
	OpGetTopLevelProp: {"getTopLevelProp", true, 1},
	OpNewObj:          {"newObj", true, 0},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// normalizeOpcode maps a raw instruction byte to its normalized opcode and
// the operand width in bytes. Width 0 means the instruction has no operand.
func normalizeOpcode(raw byte) (Opcode, int) {
	switch {
	case raw < 0x40:
		return Opcode(raw), 0
	case raw < 0x80:
		return Opcode(raw), 1
	case raw < 0xc0:
		return Opcode(0x40 + raw%0x40), 2
	default:
		return Opcode(0x40 + raw%0x40), 4
	}
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing handler bytecode
// ---------------------------------------------------------------------------

// BytecodeBuilder helps construct handler bytecode sequences.
type BytecodeBuilder struct {
	bytes []byte
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the constructed bytecode.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

// Emit appends an instruction with no operand.
func (b *BytecodeBuilder) Emit(op Opcode) {
	if op >= 0x40 {
		panic(fmt.Sprintf("opcode %s requires an operand", op))
	}
	b.bytes = append(b.bytes, byte(op))
}

// EmitWith appends an instruction with an operand, using the narrowest
// encoding the operand fits. Operands are big-endian.
func (b *BytecodeBuilder) EmitWith(op Opcode, operand int32) {
	if op < 0x40 || op > 0x7f {
		panic(fmt.Sprintf("opcode %s takes no operand", op))
	}
	switch {
	case operand >= math.MinInt8 && operand <= math.MaxInt8:
		b.bytes = append(b.bytes, byte(op), byte(int8(operand)))
	case operand >= math.MinInt16 && operand <= math.MaxInt16:
		b.bytes = append(b.bytes, byte(op)+0x40)
		b.bytes = binary.BigEndian.AppendUint16(b.bytes, uint16(int16(operand)))
	default:
		b.bytes = append(b.bytes, byte(op)+0x80)
		b.bytes = binary.BigEndian.AppendUint32(b.bytes, uint32(operand))
	}
}

// EmitInt pushes an integer constant with the narrowest push instruction.
func (b *BytecodeBuilder) EmitInt(v int32) {
	switch {
	case v == 0:
		b.Emit(OpPushZero)
	case v >= math.MinInt8 && v <= math.MaxInt8:
		b.EmitWith(OpPushInt8, v)
	case v >= math.MinInt16 && v <= math.MaxInt16:
		b.EmitWith(OpPushInt16, v)
	default:
		b.EmitWith(OpPushInt32, v)
	}
}

// EmitFloat pushes a float constant.
func (b *BytecodeBuilder) EmitFloat(v float32) {
	b.EmitWith(OpPushFloat32, int32(math.Float32bits(v)))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label represents a forward jump target in bytecode.
type Label struct {
	resolved bool
	position int   // target position once resolved
	refs     []int // instruction positions that reference this label
}

// NewLabel creates an unresolved label.
func (b *BytecodeBuilder) NewLabel() *Label {
	return &Label{resolved: false, refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches all forward
// references. Jump operands are byte offsets relative to the start of the
// jump instruction itself.
func (b *BytecodeBuilder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.bytes)

	for _, ref := range label.refs {
		offset := label.position - ref
		binary.BigEndian.PutUint16(b.bytes[ref+1:], uint16(int16(offset)))
	}
	label.refs = nil
}

// EmitJump emits a forward jump instruction targeting a label. The two-byte
// encoding is always used so unresolved references can be patched in place.
func (b *BytecodeBuilder) EmitJump(op Opcode, label *Label) {
	if op != OpJmp && op != OpJmpIfZ {
		panic(fmt.Sprintf("opcode %s is not a forward jump", op))
	}
	pos := len(b.bytes)
	b.bytes = append(b.bytes, byte(op)+0x40, 0, 0)
	if label.resolved {
		offset := label.position - pos
		binary.BigEndian.PutUint16(b.bytes[pos+1:], uint16(int16(offset)))
	} else {
		label.refs = append(label.refs, pos)
	}
}

// EmitLoop emits an endRepeat instruction jumping back to an absolute
// position, which must precede the instruction.
func (b *BytecodeBuilder) EmitLoop(target int) {
	pos := len(b.bytes)
	if target > pos {
		panic("loop target must precede the jump")
	}
	b.bytes = append(b.bytes, byte(OpEndRepeat)+0x40)
	b.bytes = binary.BigEndian.AppendUint16(b.bytes, uint16(pos-target))
}

// ---------------------------------------------------------------------------
// Bytecode reader
// ---------------------------------------------------------------------------

// BytecodeReader decodes bytecode for interpretation or disassembly.
type BytecodeReader struct {
	bytes []byte
	pos   int
}

// NewBytecodeReader creates a reader for bytecode.
func NewBytecodeReader(bc []byte) *BytecodeReader {
	return &BytecodeReader{bytes: bc, pos: 0}
}

// Position returns the current read position.
func (r *BytecodeReader) Position() int {
	return r.pos
}

// HasMore returns true if there are more bytes to read.
func (r *BytecodeReader) HasMore() bool {
	return r.pos < len(r.bytes)
}

// Seek sets the read position.
func (r *BytecodeReader) Seek(pos int) {
	r.pos = pos
}

// ReadInstruction decodes the next instruction and advances past it. The
// operand is sign-extended from its encoded width; zero-operand instructions
// report operand 0. The second return is false on truncated bytecode.
func (r *BytecodeReader) ReadInstruction() (Opcode, int32, bool) {
	if r.pos >= len(r.bytes) {
		return 0, 0, false
	}
	raw := r.bytes[r.pos]
	op, width := normalizeOpcode(raw)
	if r.pos+1+width > len(r.bytes) {
		r.pos = len(r.bytes)
		return op, 0, false
	}
	var operand int32
	switch width {
	case 1:
		operand = int32(int8(r.bytes[r.pos+1]))
	case 2:
		operand = int32(int16(binary.BigEndian.Uint16(r.bytes[r.pos+1:])))
	case 4:
		operand = int32(binary.BigEndian.Uint32(r.bytes[r.pos+1:]))
	}
	r.pos += 1 + width
	return op, operand, true
}

// instructionPositions scans bytecode and returns the set of valid
// instruction start positions. Jump targets must land on one of these.
func instructionPositions(bc []byte) map[int]struct{} {
	positions := make(map[int]struct{}, len(bc)/2)
	r := NewBytecodeReader(bc)
	for r.HasMore() {
		positions[r.Position()] = struct{}{}
		if _, _, ok := r.ReadInstruction(); !ok {
			break
		}
	}
	return positions
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// DisassembleInstruction disassembles a single instruction at the reader's
// position. Returns the string representation and advances the reader.
func DisassembleInstruction(r *BytecodeReader) string {
	pos := r.Position()
	op, operand, ok := r.ReadInstruction()
	if !ok {
		return fmt.Sprintf("%4d  <truncated>", pos)
	}
	info := op.Info()
	if !info.HasOperand {
		return fmt.Sprintf("%4d  %s", pos, info.Name)
	}

	switch op {
	case OpJmp, OpJmpIfZ:
		return fmt.Sprintf("%4d  %s %d (-> %d)", pos, info.Name, operand, pos+int(operand))
	case OpEndRepeat:
		return fmt.Sprintf("%4d  %s %d (-> %d)", pos, info.Name, operand, pos-int(operand))
	case OpPushFloat32:
		v := math.Float32frombits(uint32(operand))
		return fmt.Sprintf("%4d  %s %g", pos, info.Name, v)
	default:
		return fmt.Sprintf("%4d  %s %d", pos, info.Name, operand)
	}
}

// Disassemble returns a full disassembly of bytecode.
func Disassemble(bc []byte) string {
	r := NewBytecodeReader(bc)
	var result string
	for r.HasMore() {
		if result != "" {
			result += "\n"
		}
		result += DisassembleInstruction(r)
	}
	return result
}

// DisassembleHandler disassembles one handler, resolving name ids and
// constant pool indexes against the owning script.
func DisassembleHandler(script *Script, h *Handler) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "on %s", script.HandlerName(h))
	for i, id := range h.ArgNameIDs {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, " %s", script.Context.Name(id))
	}
	sb.WriteString("\n")

	r := NewBytecodeReader(h.Code)
	for r.HasMore() {
		pos := r.Position()
		op, operand, ok := r.ReadInstruction()
		if !ok {
			fmt.Fprintf(&sb, "  %4d  <truncated>\n", pos)
			break
		}
		info := op.Info()
		switch {
		case !info.HasOperand:
			fmt.Fprintf(&sb, "  %4d  %s\n", pos, info.Name)
		case op == OpJmp || op == OpJmpIfZ:
			fmt.Fprintf(&sb, "  %4d  %s %d (-> %d)\n", pos, info.Name, operand, pos+int(operand))
		case op == OpEndRepeat:
			fmt.Fprintf(&sb, "  %4d  %s %d (-> %d)\n", pos, info.Name, operand, pos-int(operand))
		case op == OpPushCons:
			if int(operand) >= 0 && int(operand) < len(script.Constants) {
				c := script.Constants[operand].Datum()
				fmt.Fprintf(&sb, "  %4d  %s %d (%s)\n", pos, info.Name, operand, formatConstant(&c))
			} else {
				fmt.Fprintf(&sb, "  %4d  %s %d\n", pos, info.Name, operand)
			}
		case opcodeNamesOperand(op):
			fmt.Fprintf(&sb, "  %4d  %s %d (%s)\n", pos, info.Name, operand, script.Context.Name(int(operand)))
		case op == OpGetLocal || op == OpSetLocal:
			local := "?"
			if int(operand) >= 0 && int(operand) < len(h.LocalNameIDs) {
				local = script.Context.Name(h.LocalNameIDs[operand])
			}
			fmt.Fprintf(&sb, "  %4d  %s %d (%s)\n", pos, info.Name, operand, local)
		case op == OpGetParam || op == OpSetParam:
			param := "?"
			if int(operand) >= 0 && int(operand) < len(h.ArgNameIDs) {
				param = script.Context.Name(h.ArgNameIDs[operand])
			}
			fmt.Fprintf(&sb, "  %4d  %s %d (%s)\n", pos, info.Name, operand, param)
		case op == OpLocalCall:
			target := "?"
			if int(operand) >= 0 && int(operand) < len(script.Handlers) {
				target = script.HandlerName(script.Handlers[operand])
			}
			fmt.Fprintf(&sb, "  %4d  %s %d (%s)\n", pos, info.Name, operand, target)
		case op == OpPushFloat32:
			fmt.Fprintf(&sb, "  %4d  %s %g\n", pos, info.Name, math.Float32frombits(uint32(operand)))
		default:
			fmt.Fprintf(&sb, "  %4d  %s %d\n", pos, info.Name, operand)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// opcodeNamesOperand reports whether an opcode's operand is a name table id.
func opcodeNamesOperand(op Opcode) bool {
	switch op {
	case OpPushSymb, OpGetGlobal, OpGetGlobal2, OpSetGlobal, OpSetGlobal2,
		OpGetProp, OpSetProp, OpExtCall,
		OpGetMovieProp, OpSetMovieProp, OpGetObjProp, OpSetObjProp,
		OpGetChainedProp, OpTheBuiltin, OpObjCall, OpNewObj, OpGetTopLevelProp:
		return true
	}
	return false
}

// formatConstant renders a constant pool entry for disassembly.
func formatConstant(d *Datum) string {
	switch d.Kind {
	case KindInt:
		return fmt.Sprintf("%d", d.IntVal)
	case KindFloat:
		return fmt.Sprintf("%g", d.FloatVal)
	case KindString:
		return fmt.Sprintf("%q", d.StrVal)
	case KindSymbol:
		return "#" + d.StrVal
	default:
		return d.Kind.String()
	}
}
