package vm

import "testing"

// ---------------------------------------------------------------------------
// Shared test movie
//
// Most interpreter, dispatch and movie tests run against the same small
// movie built in memory: a movie script with callable handlers, a parent
// script with state, two frame behaviors and a field member. Tests load
// it into a fresh player each so there is no shared mutable state.
// ---------------------------------------------------------------------------

// Name table ids for the test cast.
const (
	tnSum = iota
	tnA
	tnB
	tnReturn
	tnGreet
	tnFact
	tnN
	tnRunaway
	tnNew
	tnCount
	tnIncrement
	tnGetCount
	tnMe
	tnStart
	tnExitFrame
	tnGFrames
	tnGLog
	tnPrepareMovie
	tnStartMovie
	tnStopMovie
	tnEnterFrame
	tnPrepareFrame
	tnPass
	tnStepFrame
	tnScript
	tnRelay
	tnObj
	tnSpawn
)

var testNames = []string{
	"sum", "a", "b", "return", "greet", "fact", "n", "runaway", "new",
	"count", "increment", "getCount", "me", "start", "exitFrame",
	"gFrames", "gLog", "prepareMovie", "startMovie", "stopMovie",
	"enterFrame", "prepareFrame", "pass", "stepFrame", "script",
	"relay", "obj", "spawn",
}

// newTestPlayer builds a fresh player with the test movie loaded but not
// yet playing.
func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	p := NewPlayer(DefaultConfig())
	if err := p.LoadArchive(testArchive()); err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	return p
}

// testArchive builds the shared test movie.
func testArchive() *MovieArchive {
	return &MovieArchive{
		Version: ArchiveVersion,
		Name:    "testmovie",
		Casts: []CastArchive{{
			Number: 1,
			Name:   "Internal",
			Names:  testNames,
			Members: []MemberArchive{
				{
					Number: 1,
					Name:   "Main",
					Kind:   uint8(MemberScript),
					Script: mainScript(),
				},
				{
					Number: 2,
					Name:   "Counter",
					Kind:   uint8(MemberScript),
					Script: counterScript(),
				},
				{
					Number: 3,
					Name:   "Loop",
					Kind:   uint8(MemberScript),
					Script: loopScript(),
				},
				{
					Number: 4,
					Name:   "Title",
					Kind:   uint8(MemberField),
					Text:   "Lingo Test",
				},
				{
					Number: 5,
					Name:   "Passer",
					Kind:   uint8(MemberScript),
					Script: passerScript(),
				},
			},
		}},
		FrameScripts: []FrameScriptBinding{
			{Frame: 1, CastNum: 1, MemberNum: 3},
			{Frame: 2, CastNum: 1, MemberNum: 3},
			{Frame: 3, CastNum: 1, MemberNum: 3},
		},
		Markers: []MarkerArchive{
			{Name: "start", Frame: 1},
			{Name: "end", Frame: 3},
		},
	}
}

// logEvent compiles a handler that appends a tag constant to the gLog
// global, for observing event order.
func logEvent(nameID, constID int32) HandlerArchive {
	b := NewBytecodeBuilder()
	b.EmitWith(OpGetGlobal, tnGLog)
	b.EmitWith(OpPushCons, constID)
	b.Emit(OpJoinStr)
	b.EmitWith(OpSetGlobal, tnGLog)
	b.Emit(OpRet)
	return HandlerArchive{NameID: nameID, GlobalNameIDs: []int32{tnGLog}, Code: b.Bytes()}
}

// mainScript is the movie script:
//
//	on sum a, b      -> return a + b
//	on greet         -> return "hello"
//	on fact n        -> if n > 1 then return n * fact(n - 1)
//	                    return 1
//	on runaway       -> runaway()
//	on relay obj     -> return obj.getCount()
//	on spawn start   -> return new script("Counter", start)
//
// plus one logging handler per movie event, each appending its tag to
// gLog.
func mainScript() *ScriptArchive {
	sum := NewBytecodeBuilder()
	sum.EmitWith(OpGetParam, 0)
	sum.EmitWith(OpGetParam, 1)
	sum.Emit(OpAdd)
	sum.EmitWith(OpPushArgListNoRet, 1)
	sum.EmitWith(OpExtCall, tnReturn)
	sum.Emit(OpRet)

	greet := NewBytecodeBuilder()
	greet.EmitWith(OpPushCons, 0)
	greet.EmitWith(OpPushArgListNoRet, 1)
	greet.EmitWith(OpExtCall, tnReturn)
	greet.Emit(OpRet)

	fact := NewBytecodeBuilder()
	base := fact.NewLabel()
	fact.EmitWith(OpGetParam, 0)
	fact.EmitInt(1)
	fact.Emit(OpGt)
	fact.EmitJump(OpJmpIfZ, base)
	fact.EmitWith(OpGetParam, 0)
	fact.EmitWith(OpGetParam, 0)
	fact.EmitInt(1)
	fact.Emit(OpSub)
	fact.EmitWith(OpPushArgList, 1)
	fact.EmitWith(OpExtCall, tnFact)
	fact.Emit(OpMul)
	fact.EmitWith(OpPushArgListNoRet, 1)
	fact.EmitWith(OpExtCall, tnReturn)
	fact.Emit(OpRet)
	fact.Mark(base)
	fact.EmitInt(1)
	fact.EmitWith(OpPushArgListNoRet, 1)
	fact.EmitWith(OpExtCall, tnReturn)
	fact.Emit(OpRet)

	runaway := NewBytecodeBuilder()
	runaway.EmitWith(OpPushArgList, 0)
	runaway.EmitWith(OpExtCall, tnRunaway)
	runaway.Emit(OpRet)

	relay := NewBytecodeBuilder()
	relay.EmitWith(OpGetParam, 0)
	relay.EmitWith(OpPushArgList, 1)
	relay.EmitWith(OpObjCall, tnGetCount)
	relay.EmitWith(OpPushArgListNoRet, 1)
	relay.EmitWith(OpExtCall, tnReturn)
	relay.Emit(OpRet)

	spawn := NewBytecodeBuilder()
	spawn.EmitWith(OpPushCons, 7)
	spawn.EmitWith(OpGetParam, 0)
	spawn.EmitWith(OpPushArgList, 2)
	spawn.EmitWith(OpNewObj, tnScript)
	spawn.EmitWith(OpPushArgListNoRet, 1)
	spawn.EmitWith(OpExtCall, tnReturn)
	spawn.Emit(OpRet)

	return &ScriptArchive{
		Type: uint8(ScriptTypeMovie),
		Constants: []ConstantArchive{
			{Kind: uint8(ConstString), Str: "hello"},
			{Kind: uint8(ConstString), Str: "prepareMovie;"},
			{Kind: uint8(ConstString), Str: "startMovie;"},
			{Kind: uint8(ConstString), Str: "stopMovie;"},
			{Kind: uint8(ConstString), Str: "enterFrame;"},
			{Kind: uint8(ConstString), Str: "exitFrame;"},
			{Kind: uint8(ConstString), Str: "prepareFrame;"},
			{Kind: uint8(ConstString), Str: "Counter"},
		},
		Handlers: []HandlerArchive{
			{NameID: tnSum, ArgNameIDs: []int32{tnA, tnB}, Code: sum.Bytes()},
			{NameID: tnGreet, Code: greet.Bytes()},
			{NameID: tnFact, ArgNameIDs: []int32{tnN}, Code: fact.Bytes()},
			{NameID: tnRunaway, Code: runaway.Bytes()},
			{NameID: tnRelay, ArgNameIDs: []int32{tnObj}, Code: relay.Bytes()},
			{NameID: tnSpawn, ArgNameIDs: []int32{tnStart}, Code: spawn.Bytes()},
			logEvent(tnPrepareMovie, 1),
			logEvent(tnStartMovie, 2),
			logEvent(tnStopMovie, 3),
			logEvent(tnEnterFrame, 4),
			logEvent(tnExitFrame, 5),
			logEvent(tnPrepareFrame, 6),
		},
	}
}

// counterScript is the parent script:
//
//	property count
//	on new me, start  -> count = start; return me
//	on increment me   -> count = count + 1
//	on getCount me    -> return count
func counterScript() *ScriptArchive {
	ctor := NewBytecodeBuilder()
	ctor.EmitWith(OpGetParam, 1)
	ctor.EmitWith(OpSetProp, tnCount)
	ctor.EmitWith(OpGetParam, 0)
	ctor.EmitWith(OpPushArgListNoRet, 1)
	ctor.EmitWith(OpExtCall, tnReturn)
	ctor.Emit(OpRet)

	increment := NewBytecodeBuilder()
	increment.EmitWith(OpGetProp, tnCount)
	increment.EmitInt(1)
	increment.Emit(OpAdd)
	increment.EmitWith(OpSetProp, tnCount)
	increment.Emit(OpRet)

	getCount := NewBytecodeBuilder()
	getCount.EmitWith(OpGetProp, tnCount)
	getCount.EmitWith(OpPushArgListNoRet, 1)
	getCount.EmitWith(OpExtCall, tnReturn)
	getCount.Emit(OpRet)

	return &ScriptArchive{
		Type:          uint8(ScriptTypeParent),
		PropertyNames: []string{"count"},
		Handlers: []HandlerArchive{
			{NameID: tnNew, ArgNameIDs: []int32{tnMe, tnStart}, Code: ctor.Bytes()},
			{NameID: tnIncrement, ArgNameIDs: []int32{tnMe}, Code: increment.Bytes()},
			{NameID: tnGetCount, ArgNameIDs: []int32{tnMe}, Code: getCount.Bytes()},
		},
	}
}

// loopScript is the frame behavior bound to frames 1-3:
//
//	on exitFrame me -> gFrames = gFrames + 1
func loopScript() *ScriptArchive {
	exit := NewBytecodeBuilder()
	exit.EmitWith(OpGetGlobal, tnGFrames)
	exit.EmitInt(1)
	exit.Emit(OpAdd)
	exit.EmitWith(OpSetGlobal, tnGFrames)
	exit.Emit(OpRet)

	return &ScriptArchive{
		Type: uint8(ScriptTypeBehavior),
		Handlers: []HandlerArchive{
			{NameID: tnExitFrame, ArgNameIDs: []int32{tnMe}, Code: exit.Bytes()},
		},
	}
}

// passerScript is a behavior whose exitFrame bumps gFrames by ten and
// then passes the event on to the movie scripts.
func passerScript() *ScriptArchive {
	exit := NewBytecodeBuilder()
	exit.EmitWith(OpGetGlobal, tnGFrames)
	exit.EmitInt(10)
	exit.Emit(OpAdd)
	exit.EmitWith(OpSetGlobal, tnGFrames)
	exit.EmitWith(OpPushArgListNoRet, 0)
	exit.EmitWith(OpExtCall, tnPass)
	exit.Emit(OpRet)

	return &ScriptArchive{
		Type: uint8(ScriptTypeBehavior),
		Handlers: []HandlerArchive{
			{NameID: tnExitFrame, ArgNameIDs: []int32{tnMe}, Code: exit.Bytes()},
		},
	}
}

// ---------------------------------------------------------------------------
// Call helpers
// ---------------------------------------------------------------------------

// mustAlloc places one value in the arena.
func mustAlloc(t *testing.T, p *Player, d Datum) Ref {
	t.Helper()
	ref, err := p.arena.Alloc(d)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return ref
}

// newCounter instantiates the Counter parent script with the given start
// value. The caller owns the returned handle.
func newCounter(t *testing.T, p *Player, start int32) Ref {
	t.Helper()
	nameRef := mustAlloc(t, p, StringDatum("Counter"))
	defer p.arena.Release(nameRef)
	scriptRef, err := p.Call("script", []Ref{nameRef})
	if err != nil {
		t.Fatalf("script(\"Counter\"): %v", err)
	}
	defer p.arena.Release(scriptRef)
	startRef := mustAlloc(t, p, IntDatum(start))
	defer p.arena.Release(startRef)
	inst, err := p.Call("new", []Ref{scriptRef, startRef})
	if err != nil {
		t.Fatalf("new(counter): %v", err)
	}
	return inst
}

// callInt invokes a global handler and asserts an integer result, taking
// care of the result handle.
func callInt(t *testing.T, p *Player, name string, args ...Ref) int32 {
	t.Helper()
	ref, err := p.Call(name, args)
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	defer p.arena.Release(ref)
	d, err := p.getDatum(ref)
	if err != nil {
		t.Fatalf("Call(%s) result: %v", name, err)
	}
	if d.Kind != KindInt {
		t.Fatalf("Call(%s) = %s, want integer", name, d.Kind)
	}
	return d.IntVal
}

// callString invokes a global handler and asserts a string result.
func callString(t *testing.T, p *Player, name string, args ...Ref) string {
	t.Helper()
	ref, err := p.Call(name, args)
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	defer p.arena.Release(ref)
	d, err := p.getDatum(ref)
	if err != nil {
		t.Fatalf("Call(%s) result: %v", name, err)
	}
	if d.Kind != KindString {
		t.Fatalf("Call(%s) = %s, want string", name, d.Kind)
	}
	return d.StrVal
}

// globalString reads a global and coerces it for assertions; Void reads
// as the empty string.
func globalString(t *testing.T, p *Player, name string) string {
	t.Helper()
	d, err := p.getDatum(p.GetGlobal(name))
	if err != nil {
		t.Fatalf("global %s: %v", name, err)
	}
	return p.concatString(d)
}

// globalInt reads a global as an integer; Void reads as zero.
func globalInt(t *testing.T, p *Player, name string) int32 {
	t.Helper()
	d, err := p.getDatum(p.GetGlobal(name))
	if err != nil {
		t.Fatalf("global %s: %v", name, err)
	}
	v, err := d.IntValue()
	if err != nil {
		t.Fatalf("global %s: %v", name, err)
	}
	return v
}
