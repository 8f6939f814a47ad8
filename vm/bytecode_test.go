package vm

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestNormalizeOpcode(t *testing.T) {
	tests := []struct {
		raw   byte
		op    Opcode
		width int
	}{
		{0x01, OpRet, 0},
		{0x05, OpAdd, 0},
		{0x3f, Opcode(0x3f), 0},
		{0x41, OpPushInt8, 1},
		{0x57, OpExtCall, 1},
		{0x7f, Opcode(0x7f), 1},
		{0x81, OpPushInt8, 2},
		{0xae, OpPushInt16, 2},
		{0x97, OpExtCall, 2},
		{0xc1, OpPushInt8, 4},
		{0xef, OpPushInt32, 4},
		{0xff, Opcode(0x7f), 4},
	}
	for _, tt := range tests {
		op, width := normalizeOpcode(tt.raw)
		if op != tt.op || width != tt.width {
			t.Errorf("normalizeOpcode(0x%02x) = %s, %d, want %s, %d",
				tt.raw, op, width, tt.op, tt.width)
		}
	}
}

func TestOpcodeName(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpAdd, "add"},
		{OpExtCall, "extCall"},
		{OpJmpIfZ, "jmpIfZ"},
		{OpPushFloat32, "pushFloat32"},
		{Opcode(0x3f), "unknown_3f"},
	}
	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02x).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestEmitWithWidths(t *testing.T) {
	tests := []struct {
		name    string
		op      Opcode
		operand int32
		want    []byte
	}{
		{"one byte", OpPushInt8, 5, []byte{0x41, 0x05}},
		{"one byte negative", OpPushInt8, -5, []byte{0x41, 0xfb}},
		{"two bytes", OpGetGlobal, 200, []byte{0x89, 0x00, 0xc8}},
		{"two bytes negative", OpExtCall, -200, []byte{0x97, 0xff, 0x38}},
		{"four bytes", OpPushCons, 100000, []byte{0xc4, 0x00, 0x01, 0x86, 0xa0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBytecodeBuilder()
			b.EmitWith(tt.op, tt.operand)
			if !bytes.Equal(b.Bytes(), tt.want) {
				t.Errorf("EmitWith(%s, %d) = % x, want % x", tt.op, tt.operand, b.Bytes(), tt.want)
			}
		})
	}
}

func TestEmitIntSelectsNarrowestPush(t *testing.T) {
	tests := []struct {
		v    int32
		op   Opcode
		size int
	}{
		{0, OpPushZero, 1},
		{7, OpPushInt8, 2},
		{-7, OpPushInt8, 2},
		{1000, OpPushInt16, 3},
		{100000, OpPushInt32, 5},
	}
	for _, tt := range tests {
		b := NewBytecodeBuilder()
		b.EmitInt(tt.v)
		if b.Len() != tt.size {
			t.Errorf("EmitInt(%d) emitted %d bytes, want %d", tt.v, b.Len(), tt.size)
		}
		r := NewBytecodeReader(b.Bytes())
		op, operand, ok := r.ReadInstruction()
		if !ok || op != tt.op {
			t.Errorf("EmitInt(%d) decoded as %s, want %s", tt.v, op, tt.op)
		}
		if tt.op != OpPushZero && operand != tt.v {
			t.Errorf("EmitInt(%d) operand = %d", tt.v, operand)
		}
	}
}

func TestBuilderReaderRoundTrip(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(0)
	b.EmitInt(7)
	b.EmitInt(-3)
	b.EmitInt(1000)
	b.EmitInt(100000)
	b.EmitFloat(1.5)
	b.Emit(OpAdd)
	b.EmitWith(OpSetLocal, 0)
	b.Emit(OpRet)

	want := []struct {
		op      Opcode
		operand int32
	}{
		{OpPushZero, 0},
		{OpPushInt8, 7},
		{OpPushInt8, -3},
		{OpPushInt16, 1000},
		{OpPushInt32, 100000},
		{OpPushFloat32, int32(math.Float32bits(1.5))},
		{OpAdd, 0},
		{OpSetLocal, 0},
		{OpRet, 0},
	}

	r := NewBytecodeReader(b.Bytes())
	for i, w := range want {
		op, operand, ok := r.ReadInstruction()
		if !ok {
			t.Fatalf("instruction %d: unexpected end of bytecode", i)
		}
		if op != w.op || operand != w.operand {
			t.Errorf("instruction %d = %s %d, want %s %d", i, op, operand, w.op, w.operand)
		}
	}
	if r.HasMore() {
		t.Errorf("reader has %d trailing bytes", len(b.Bytes())-r.Position())
	}
}

func TestEmitFloatRoundTrip(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitFloat(3.25)

	r := NewBytecodeReader(b.Bytes())
	op, operand, ok := r.ReadInstruction()
	if !ok || op != OpPushFloat32 {
		t.Fatalf("decoded %s, want pushFloat32", op)
	}
	if got := math.Float32frombits(uint32(operand)); got != 3.25 {
		t.Errorf("decoded float = %v, want 3.25", got)
	}
}

func TestLabelForwardJumps(t *testing.T) {
	b := NewBytecodeBuilder()
	done := b.NewLabel()
	b.EmitJump(OpJmpIfZ, done) // pos 0
	b.EmitInt(1)               // pos 3
	b.EmitJump(OpJmp, done)    // pos 5
	b.EmitInt(2)               // pos 8
	b.Mark(done)               // pos 10
	b.Emit(OpRet)

	want := []struct {
		pos     int
		op      Opcode
		operand int32
	}{
		{0, OpJmpIfZ, 10},
		{3, OpPushInt8, 1},
		{5, OpJmp, 5},
		{8, OpPushInt8, 2},
		{10, OpRet, 0},
	}
	r := NewBytecodeReader(b.Bytes())
	for i, w := range want {
		pos := r.Position()
		op, operand, ok := r.ReadInstruction()
		if !ok {
			t.Fatalf("instruction %d: unexpected end", i)
		}
		if pos != w.pos || op != w.op || operand != w.operand {
			t.Errorf("instruction %d at %d = %s %d, want at %d %s %d",
				i, pos, op, operand, w.pos, w.op, w.operand)
		}
	}
}

func TestEmitJumpToResolvedLabel(t *testing.T) {
	// References emitted after Mark patch immediately.
	b := NewBytecodeBuilder()
	l := b.NewLabel()
	b.Mark(l)
	b.EmitJump(OpJmp, l)

	r := NewBytecodeReader(b.Bytes())
	op, operand, _ := r.ReadInstruction()
	if op != OpJmp || operand != 0 {
		t.Errorf("jump to current position = %s %d, want jmp 0", op, operand)
	}
}

func TestEmitLoop(t *testing.T) {
	b := NewBytecodeBuilder()
	top := b.Len()
	b.EmitInt(1) // 2 bytes
	b.EmitLoop(top)

	r := NewBytecodeReader(b.Bytes())
	r.ReadInstruction()
	op, operand, ok := r.ReadInstruction()
	if !ok || op != OpEndRepeat {
		t.Fatalf("decoded %s, want endRepeat", op)
	}
	if operand != 2 {
		t.Errorf("endRepeat operand = %d, want 2", operand)
	}
}

func TestBuilderPanics(t *testing.T) {
	mustPanic := func(name string, f func()) {
		defer func() {
			if recover() == nil {
				t.Errorf("%s did not panic", name)
			}
		}()
		f()
	}

	mustPanic("Emit with operand opcode", func() {
		NewBytecodeBuilder().Emit(OpPushInt8)
	})
	mustPanic("EmitWith on plain opcode", func() {
		NewBytecodeBuilder().EmitWith(OpAdd, 1)
	})
	mustPanic("EmitJump with non-jump", func() {
		b := NewBytecodeBuilder()
		b.EmitJump(OpEndRepeat, b.NewLabel())
	})
	mustPanic("Mark twice", func() {
		b := NewBytecodeBuilder()
		l := b.NewLabel()
		b.Mark(l)
		b.Mark(l)
	})
	mustPanic("EmitLoop forward target", func() {
		b := NewBytecodeBuilder()
		b.EmitLoop(4)
	})
}

func TestReadInstructionTruncated(t *testing.T) {
	tests := []struct {
		name string
		bc   []byte
	}{
		{"missing one-byte operand", []byte{0x41}},
		{"missing four-byte operand", []byte{0xc1, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewBytecodeReader(tt.bc)
			if _, _, ok := r.ReadInstruction(); ok {
				t.Errorf("ReadInstruction on truncated bytecode reported ok")
			}
			if r.HasMore() {
				t.Errorf("reader did not consume truncated tail")
			}
		})
	}
}

func TestInstructionPositions(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(0)            // pos 0, 1 byte
	b.EmitInt(7)            // pos 1, 2 bytes
	b.EmitWith(OpJmp, 1000) // pos 3, 3 bytes
	b.Emit(OpRet)           // pos 6

	got := instructionPositions(b.Bytes())
	for _, pos := range []int{0, 1, 3, 6} {
		if _, ok := got[pos]; !ok {
			t.Errorf("position %d missing from instruction positions", pos)
		}
	}
	if len(got) != 4 {
		t.Errorf("len(positions) = %d, want 4", len(got))
	}
}

func TestDisassemble(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitInt(0)
	b.EmitInt(7)
	b.Emit(OpAdd)
	b.Emit(OpRet)

	want := "   0  pushZero\n" +
		"   1  pushInt8 7\n" +
		"   3  add\n" +
		"   4  ret"
	if got := Disassemble(b.Bytes()); got != want {
		t.Errorf("Disassemble =\n%s\nwant\n%s", got, want)
	}
}

func TestDisassembleJumpTargets(t *testing.T) {
	b := NewBytecodeBuilder()
	done := b.NewLabel()
	b.EmitJump(OpJmpIfZ, done) // pos 0
	b.EmitInt(1)               // pos 3
	b.Mark(done)               // pos 5
	b.Emit(OpRet)

	got := Disassemble(b.Bytes())
	if !strings.Contains(got, "jmpIfZ 5 (-> 5)") {
		t.Errorf("forward jump target not resolved:\n%s", got)
	}

	b = NewBytecodeBuilder()
	b.EmitInt(1)
	b.EmitLoop(0)
	got = Disassemble(b.Bytes())
	if !strings.Contains(got, "endRepeat 2 (-> 0)") {
		t.Errorf("loop target not resolved:\n%s", got)
	}
}

func TestDisassembleTruncated(t *testing.T) {
	got := Disassemble([]byte{0x03, 0x41})
	if !strings.Contains(got, "<truncated>") {
		t.Errorf("Disassemble = %q, want truncation marker", got)
	}
}

func TestDisassembleFloat(t *testing.T) {
	b := NewBytecodeBuilder()
	b.EmitFloat(1.5)
	if got := Disassemble(b.Bytes()); got != "   0  pushFloat32 1.5" {
		t.Errorf("Disassemble = %q", got)
	}
}
