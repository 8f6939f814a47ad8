package integration_test

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/chazu/lingo/vm"
)

// ---------------------------------------------------------------------------
// Integration test helpers
//
// These tests drive the runtime the way a host embedding it would: build
// a movie archive, load it into a player, and work the public surface
// (Call, CallOn, GetProp/SetProp, playback, the gate). Everything rides
// the exported API only.
// ---------------------------------------------------------------------------

// Name table ids for the game movie.
const (
	gnFact = iota
	gnN
	gnReturn
	gnFib
	gnGScore
	gnBump
	gnAmount
	gnJumpEnd
	gnGo
	gnTally
	gnGTicks
	gnNew
	gnMe
	gnStart
	gnHeal
	gnGetHp
	gnHp
	gnExitFrame
	gnGFrames
	gnBattleCry
)

var gameNames = []string{
	"fact", "n", "return", "fib", "gScore", "bump", "amount", "jumpEnd",
	"go", "tally", "gTicks", "new", "me", "start", "heal", "getHp", "hp",
	"exitFrame", "gFrames", "battleCry",
}

// gameArchive builds a small game movie: a movie script with math and
// control handlers, a Hero parent script, a Knight parent script meant
// to sit above a Hero ancestor, a frame behavior counting frames, and a
// field member. Frames 1-3 carry the behavior; markers bracket the
// score.
func gameArchive() *vm.MovieArchive {
	return &vm.MovieArchive{
		Version: vm.ArchiveVersion,
		Name:    "game",
		Casts: []vm.CastArchive{{
			Number: 1,
			Name:   "Internal",
			Names:  gameNames,
			Members: []vm.MemberArchive{
				{Number: 1, Name: "Game", Kind: uint8(vm.MemberScript), Script: gameScript()},
				{Number: 2, Name: "Hero", Kind: uint8(vm.MemberScript), Script: heroScript()},
				{Number: 3, Name: "Stepper", Kind: uint8(vm.MemberScript), Script: stepperScript()},
				{Number: 4, Name: "Banner", Kind: uint8(vm.MemberField), Text: "Game Over"},
				{Number: 5, Name: "Knight", Kind: uint8(vm.MemberScript), Script: knightScript()},
			},
		}},
		FrameScripts: []vm.FrameScriptBinding{
			{Frame: 1, CastNum: 1, MemberNum: 3},
			{Frame: 2, CastNum: 1, MemberNum: 3},
			{Frame: 3, CastNum: 1, MemberNum: 3},
		},
		Markers: []vm.MarkerArchive{
			{Name: "start", Frame: 1},
			{Name: "end", Frame: 5},
		},
	}
}

// gameScript is the movie script:
//
//	on fact n     -> if n > 1 then return n * fact(n - 1) else return 1
//	on fib n      -> if n > 1 then return fib(n-1) + fib(n-2) else return n
//	on bump amount-> gScore = gScore + amount
//	on jumpEnd    -> go("end")
//	on tally      -> gTicks = gTicks + 1
func gameScript() *vm.ScriptArchive {
	fact := vm.NewBytecodeBuilder()
	base := fact.NewLabel()
	fact.EmitWith(vm.OpGetParam, 0)
	fact.EmitInt(1)
	fact.Emit(vm.OpGt)
	fact.EmitJump(vm.OpJmpIfZ, base)
	fact.EmitWith(vm.OpGetParam, 0)
	fact.EmitWith(vm.OpGetParam, 0)
	fact.EmitInt(1)
	fact.Emit(vm.OpSub)
	fact.EmitWith(vm.OpPushArgList, 1)
	fact.EmitWith(vm.OpExtCall, gnFact)
	fact.Emit(vm.OpMul)
	fact.EmitWith(vm.OpPushArgListNoRet, 1)
	fact.EmitWith(vm.OpExtCall, gnReturn)
	fact.Emit(vm.OpRet)
	fact.Mark(base)
	fact.EmitInt(1)
	fact.EmitWith(vm.OpPushArgListNoRet, 1)
	fact.EmitWith(vm.OpExtCall, gnReturn)
	fact.Emit(vm.OpRet)

	fib := vm.NewBytecodeBuilder()
	small := fib.NewLabel()
	fib.EmitWith(vm.OpGetParam, 0)
	fib.EmitInt(1)
	fib.Emit(vm.OpGt)
	fib.EmitJump(vm.OpJmpIfZ, small)
	fib.EmitWith(vm.OpGetParam, 0)
	fib.EmitInt(1)
	fib.Emit(vm.OpSub)
	fib.EmitWith(vm.OpPushArgList, 1)
	fib.EmitWith(vm.OpExtCall, gnFib)
	fib.EmitWith(vm.OpGetParam, 0)
	fib.EmitInt(2)
	fib.Emit(vm.OpSub)
	fib.EmitWith(vm.OpPushArgList, 1)
	fib.EmitWith(vm.OpExtCall, gnFib)
	fib.Emit(vm.OpAdd)
	fib.EmitWith(vm.OpPushArgListNoRet, 1)
	fib.EmitWith(vm.OpExtCall, gnReturn)
	fib.Emit(vm.OpRet)
	fib.Mark(small)
	fib.EmitWith(vm.OpGetParam, 0)
	fib.EmitWith(vm.OpPushArgListNoRet, 1)
	fib.EmitWith(vm.OpExtCall, gnReturn)
	fib.Emit(vm.OpRet)

	bump := vm.NewBytecodeBuilder()
	bump.EmitWith(vm.OpGetGlobal, gnGScore)
	bump.EmitWith(vm.OpGetParam, 0)
	bump.Emit(vm.OpAdd)
	bump.EmitWith(vm.OpSetGlobal, gnGScore)
	bump.Emit(vm.OpRet)

	jumpEnd := vm.NewBytecodeBuilder()
	jumpEnd.EmitWith(vm.OpPushCons, 0)
	jumpEnd.EmitWith(vm.OpPushArgListNoRet, 1)
	jumpEnd.EmitWith(vm.OpExtCall, gnGo)
	jumpEnd.Emit(vm.OpRet)

	tally := vm.NewBytecodeBuilder()
	tally.EmitWith(vm.OpGetGlobal, gnGTicks)
	tally.EmitInt(1)
	tally.Emit(vm.OpAdd)
	tally.EmitWith(vm.OpSetGlobal, gnGTicks)
	tally.Emit(vm.OpRet)

	return &vm.ScriptArchive{
		Type: uint8(vm.ScriptTypeMovie),
		Constants: []vm.ConstantArchive{
			{Kind: uint8(vm.ConstString), Str: "end"},
		},
		Handlers: []vm.HandlerArchive{
			{NameID: gnFact, ArgNameIDs: []int32{gnN}, Code: fact.Bytes()},
			{NameID: gnFib, ArgNameIDs: []int32{gnN}, Code: fib.Bytes()},
			{NameID: gnBump, ArgNameIDs: []int32{gnAmount}, GlobalNameIDs: []int32{gnGScore}, Code: bump.Bytes()},
			{NameID: gnJumpEnd, Code: jumpEnd.Bytes()},
			{NameID: gnTally, GlobalNameIDs: []int32{gnGTicks}, Code: tally.Bytes()},
		},
	}
}

// heroScript is the Hero parent script:
//
//	property hp
//	on new me, start  -> hp = start; return me
//	on heal me, amount-> hp = hp + amount
//	on getHp me       -> return hp
func heroScript() *vm.ScriptArchive {
	ctor := vm.NewBytecodeBuilder()
	ctor.EmitWith(vm.OpGetParam, 1)
	ctor.EmitWith(vm.OpSetProp, gnHp)
	ctor.EmitWith(vm.OpGetParam, 0)
	ctor.EmitWith(vm.OpPushArgListNoRet, 1)
	ctor.EmitWith(vm.OpExtCall, gnReturn)
	ctor.Emit(vm.OpRet)

	heal := vm.NewBytecodeBuilder()
	heal.EmitWith(vm.OpGetProp, gnHp)
	heal.EmitWith(vm.OpGetParam, 1)
	heal.Emit(vm.OpAdd)
	heal.EmitWith(vm.OpSetProp, gnHp)
	heal.Emit(vm.OpRet)

	getHp := vm.NewBytecodeBuilder()
	getHp.EmitWith(vm.OpGetProp, gnHp)
	getHp.EmitWith(vm.OpPushArgListNoRet, 1)
	getHp.EmitWith(vm.OpExtCall, gnReturn)
	getHp.Emit(vm.OpRet)

	return &vm.ScriptArchive{
		Type:          uint8(vm.ScriptTypeParent),
		PropertyNames: []string{"hp"},
		Handlers: []vm.HandlerArchive{
			{NameID: gnNew, ArgNameIDs: []int32{gnMe, gnStart}, Code: ctor.Bytes()},
			{NameID: gnHeal, ArgNameIDs: []int32{gnMe, gnAmount}, Code: heal.Bytes()},
			{NameID: gnGetHp, ArgNameIDs: []int32{gnMe}, Code: getHp.Bytes()},
		},
	}
}

// knightScript declares no properties and no new handler; a Knight gets
// its hp by pointing ancestor at a Hero.
//
//	on battleCry me -> return "Charge!"
func knightScript() *vm.ScriptArchive {
	cry := vm.NewBytecodeBuilder()
	cry.EmitWith(vm.OpPushCons, 0)
	cry.EmitWith(vm.OpPushArgListNoRet, 1)
	cry.EmitWith(vm.OpExtCall, gnReturn)
	cry.Emit(vm.OpRet)

	return &vm.ScriptArchive{
		Type: uint8(vm.ScriptTypeParent),
		Constants: []vm.ConstantArchive{
			{Kind: uint8(vm.ConstString), Str: "Charge!"},
		},
		Handlers: []vm.HandlerArchive{
			{NameID: gnBattleCry, ArgNameIDs: []int32{gnMe}, Code: cry.Bytes()},
		},
	}
}

// stepperScript is the frame behavior bound to frames 1-3:
//
//	on exitFrame me -> gFrames = gFrames + 1
func stepperScript() *vm.ScriptArchive {
	exit := vm.NewBytecodeBuilder()
	exit.EmitWith(vm.OpGetGlobal, gnGFrames)
	exit.EmitInt(1)
	exit.Emit(vm.OpAdd)
	exit.EmitWith(vm.OpSetGlobal, gnGFrames)
	exit.Emit(vm.OpRet)

	return &vm.ScriptArchive{
		Type: uint8(vm.ScriptTypeBehavior),
		Handlers: []vm.HandlerArchive{
			{NameID: gnExitFrame, ArgNameIDs: []int32{gnMe}, Code: exit.Bytes()},
		},
	}
}

// newGamePlayer builds a fresh player with the game movie loaded.
func newGamePlayer(t *testing.T) *vm.Player {
	t.Helper()
	p := vm.NewPlayer(vm.DefaultConfig())
	if err := p.LoadArchive(gameArchive()); err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	return p
}

// alloc places one value in the player's arena.
func alloc(t *testing.T, p *vm.Player, d vm.Datum) vm.Ref {
	t.Helper()
	ref, err := p.Arena().Alloc(d)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	return ref
}

// callInt invokes a global handler and asserts an integer result.
func callInt(t *testing.T, p *vm.Player, name string, args ...vm.Ref) int32 {
	t.Helper()
	ref, err := p.Call(name, args)
	if err != nil {
		t.Fatalf("Call(%s): %v", name, err)
	}
	defer p.Arena().Release(ref)
	d, err := p.Arena().Get(ref)
	if err != nil {
		t.Fatalf("Call(%s) result: %v", name, err)
	}
	if d.Kind != vm.KindInt {
		t.Fatalf("Call(%s) = %s, want integer", name, d.Kind)
	}
	return d.IntVal
}

// globalInt reads a global as an integer; Void reads as zero.
func globalInt(t *testing.T, p *vm.Player, name string) int32 {
	t.Helper()
	d, err := p.Arena().Get(p.GetGlobal(name))
	if err != nil {
		t.Fatalf("global %s: %v", name, err)
	}
	v, err := d.IntValue()
	if err != nil {
		t.Fatalf("global %s: %v", name, err)
	}
	return v
}

// newHero instantiates the Hero parent script.
func newHero(t *testing.T, p *vm.Player, start int32) vm.Ref {
	t.Helper()
	script := alloc(t, p, vm.ScriptDatum(vm.MemberRef{CastNum: 1, MemberNum: 2}))
	defer p.Arena().Release(script)
	startRef := alloc(t, p, vm.IntDatum(start))
	defer p.Arena().Release(startRef)
	hero, err := p.Call("new", []vm.Ref{script, startRef})
	if err != nil {
		t.Fatalf("new(hero): %v", err)
	}
	return hero
}

// ---------------------------------------------------------------------------
// 1. Recursion: factorial
// ---------------------------------------------------------------------------

func TestIntegrationE2E_Factorial(t *testing.T) {
	p := newGamePlayer(t)

	tests := []struct {
		n, want int32
	}{
		{0, 1},
		{1, 1},
		{5, 120},
		{7, 5040},
	}
	for _, tt := range tests {
		arg := alloc(t, p, vm.IntDatum(tt.n))
		if got := callInt(t, p, "fact", arg); got != tt.want {
			t.Errorf("fact(%d) = %d, want %d", tt.n, got, tt.want)
		}
		p.Arena().Release(arg)
	}
}

// ---------------------------------------------------------------------------
// 2. Recursion: fibonacci
// ---------------------------------------------------------------------------

func TestIntegrationE2E_Fibonacci(t *testing.T) {
	p := newGamePlayer(t)

	tests := []struct {
		n, want int32
	}{
		{0, 0},
		{1, 1},
		{2, 1},
		{5, 5},
		{10, 55},
	}
	for _, tt := range tests {
		arg := alloc(t, p, vm.IntDatum(tt.n))
		if got := callInt(t, p, "fib", arg); got != tt.want {
			t.Errorf("fib(%d) = %d, want %d", tt.n, got, tt.want)
		}
		p.Arena().Release(arg)
	}
}

// ---------------------------------------------------------------------------
// 3. Parent script: instances carry their own properties
// ---------------------------------------------------------------------------

func TestIntegrationE2E_ParentScript(t *testing.T) {
	p := newGamePlayer(t)

	hero := newHero(t, p, 30)
	defer p.Arena().Release(hero)
	if got := callInt(t, p, "getHp", hero); got != 30 {
		t.Errorf("getHp = %d, want 30", got)
	}

	amount := alloc(t, p, vm.IntDatum(12))
	defer p.Arena().Release(amount)
	if _, err := p.CallOn(hero, "heal", []vm.Ref{amount}); err != nil {
		t.Fatalf("heal: %v", err)
	}
	if got := callInt(t, p, "getHp", hero); got != 42 {
		t.Errorf("getHp after heal = %d, want 42", got)
	}

	// Host-side property access sees the same storage.
	ref, err := p.GetProp(hero, "hp")
	if err != nil {
		t.Fatalf("GetProp(hp): %v", err)
	}
	defer p.Arena().Release(ref)
	d, _ := p.Arena().Get(ref)
	if d.Kind != vm.KindInt || d.IntVal != 42 {
		t.Errorf("hp = %s, want 42", p.FormatRef(ref))
	}

	// Instances never share property storage.
	other := newHero(t, p, 5)
	defer p.Arena().Release(other)
	if got := callInt(t, p, "getHp", other); got != 5 {
		t.Errorf("second hero hp = %d, want 5", got)
	}
}

// ---------------------------------------------------------------------------
// 4. Ancestor chain: handler and property lookup walk upward
// ---------------------------------------------------------------------------

func TestIntegrationE2E_AncestorChain(t *testing.T) {
	p := newGamePlayer(t)

	hero := newHero(t, p, 30)
	defer p.Arena().Release(hero)

	knightScript := alloc(t, p, vm.ScriptDatum(vm.MemberRef{CastNum: 1, MemberNum: 5}))
	defer p.Arena().Release(knightScript)
	knight, err := p.Call("new", []vm.Ref{knightScript})
	if err != nil {
		t.Fatalf("new(knight): %v", err)
	}
	defer p.Arena().Release(knight)
	if err := p.SetProp(knight, "ancestor", hero); err != nil {
		t.Fatalf("SetProp(ancestor): %v", err)
	}

	// Its own handler answers directly.
	cry, err := p.CallOn(knight, "battleCry", nil)
	if err != nil {
		t.Fatalf("battleCry: %v", err)
	}
	d, _ := p.Arena().Get(cry)
	if d.Kind != vm.KindString || d.StrVal != "Charge!" {
		t.Errorf("battleCry = %s, want \"Charge!\"", p.FormatRef(cry))
	}
	p.Arena().Release(cry)

	// getHp resolves on the ancestor's script; hp reads through the chain.
	if got := callInt(t, p, "getHp", knight); got != 30 {
		t.Errorf("knight getHp = %d, want 30", got)
	}

	// Healing the knight writes through to the hero's slot.
	amount := alloc(t, p, vm.IntDatum(12))
	defer p.Arena().Release(amount)
	if _, err := p.CallOn(knight, "heal", []vm.Ref{amount}); err != nil {
		t.Fatalf("heal via knight: %v", err)
	}
	if got := callInt(t, p, "getHp", hero); got != 42 {
		t.Errorf("hero hp after knight heal = %d, want 42", got)
	}

	// The hero has no battleCry anywhere on its chain.
	if _, err := p.CallOn(hero, "battleCry", nil); vm.CodeOf(err) != vm.CodeHandlerNotFound {
		t.Errorf("hero battleCry = %v, want HandlerNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// 5. Globals persist across calls
// ---------------------------------------------------------------------------

func TestIntegrationE2E_GlobalPersistence(t *testing.T) {
	p := newGamePlayer(t)

	ten := alloc(t, p, vm.IntDatum(10))
	defer p.Arena().Release(ten)
	rest := alloc(t, p, vm.IntDatum(32))
	defer p.Arena().Release(rest)

	if _, err := p.Call("bump", []vm.Ref{ten}); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if _, err := p.Call("bump", []vm.Ref{rest}); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if got := globalInt(t, p, "gScore"); got != 42 {
		t.Errorf("gScore = %d, want 42", got)
	}

	// Host-side writes feed script-side reads.
	hundred := alloc(t, p, vm.IntDatum(100))
	p.SetGlobal("gScore", hundred)
	p.Arena().Release(hundred)
	if _, err := p.Call("bump", []vm.Ref{ten}); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if got := globalInt(t, p, "gScore"); got != 110 {
		t.Errorf("gScore = %d, want 110", got)
	}
}

// ---------------------------------------------------------------------------
// 6. Datum literal evaluation
// ---------------------------------------------------------------------------

func TestIntegrationE2E_ValueEval(t *testing.T) {
	p := newGamePlayer(t)

	tests := []struct {
		src  string
		want string
	}{
		{"42", "42"},
		{`"hello"`, `"hello"`},
		{"#ready", "#ready"},
		{"[1, 2, 3]", "[1, 2, 3]"},
		{`[#hp: 30, #name: "Rex"]`, `[#hp: 30, #name: "Rex"]`},
		{"[]", "[]"},
		{"[:]", "[:]"},
	}
	for _, tt := range tests {
		ref, err := p.ParseValue(tt.src)
		if err != nil {
			t.Fatalf("ParseValue(%q): %v", tt.src, err)
		}
		if got := p.FormatRef(ref); got != tt.want {
			t.Errorf("ParseValue(%q) = %s, want %s", tt.src, got, tt.want)
		}
		p.Arena().Release(ref)
	}

	// Junk answers Void, not an error.
	ref, err := p.ParseValue("wat 7")
	if err != nil {
		t.Fatalf("ParseValue(junk): %v", err)
	}
	if ref != vm.VoidRef {
		t.Errorf("ParseValue(junk) = %s, want void", p.FormatRef(ref))
	}
}

// ---------------------------------------------------------------------------
// 7. Frame loop: behaviors run per frame
// ---------------------------------------------------------------------------

func TestIntegrationE2E_FrameLoop(t *testing.T) {
	p := newGamePlayer(t)

	if err := p.StartMovie(); err != nil {
		t.Fatalf("StartMovie: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.AdvanceFrame(); err != nil {
			t.Fatalf("AdvanceFrame %d: %v", i+1, err)
		}
	}
	if got := globalInt(t, p, "gFrames"); got != 3 {
		t.Errorf("gFrames = %d, want 3", got)
	}
	if got := p.Movie().Frame(); got != 4 {
		t.Errorf("Frame = %d, want 4", got)
	}
	if err := p.StopMovie(); err != nil {
		t.Fatalf("StopMovie: %v", err)
	}
	if p.Movie().Playing() {
		t.Error("still playing after StopMovie")
	}
}

// ---------------------------------------------------------------------------
// 8. Marker jump: go("end") moves the playhead
// ---------------------------------------------------------------------------

func TestIntegrationE2E_MarkerJump(t *testing.T) {
	p := newGamePlayer(t)

	if err := p.StartMovie(); err != nil {
		t.Fatalf("StartMovie: %v", err)
	}
	if _, err := p.Call("jumpEnd", nil); err != nil {
		t.Fatalf("jumpEnd: %v", err)
	}
	if err := p.AdvanceFrame(); err != nil {
		t.Fatalf("AdvanceFrame: %v", err)
	}
	if got := p.Movie().Frame(); got != 5 {
		t.Errorf("Frame = %d, want 5 (marker \"end\")", got)
	}
}

// ---------------------------------------------------------------------------
// 9. Timeouts fire between frames
// ---------------------------------------------------------------------------

func TestIntegrationE2E_Timeout(t *testing.T) {
	p := newGamePlayer(t)

	name := alloc(t, p, vm.StringDatum("pulse"))
	defer p.Arena().Release(name)
	tRef, err := p.Call("timeout", []vm.Ref{name})
	if err != nil {
		t.Fatalf("timeout: %v", err)
	}
	defer p.Arena().Release(tRef)

	period := alloc(t, p, vm.IntDatum(20))
	defer p.Arena().Release(period)
	handler := alloc(t, p, vm.SymbolDatum("tally"))
	defer p.Arena().Release(handler)
	armed, err := p.CallOn(tRef, "new", []vm.Ref{period, handler})
	if err != nil {
		t.Fatalf("timeout new: %v", err)
	}
	defer p.Arena().Release(armed)

	if err := p.StartMovie(); err != nil {
		t.Fatalf("StartMovie: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := p.AdvanceFrame(); err != nil {
		t.Fatalf("AdvanceFrame: %v", err)
	}
	fired := globalInt(t, p, "gTicks")
	if fired < 1 {
		t.Fatalf("gTicks = %d, want at least 1", fired)
	}

	// Forgotten timeouts stay quiet.
	if _, err := p.CallOn(armed, "forget", nil); err != nil {
		t.Fatalf("forget: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if err := p.AdvanceFrame(); err != nil {
		t.Fatalf("AdvanceFrame: %v", err)
	}
	if got := globalInt(t, p, "gTicks"); got != fired {
		t.Errorf("gTicks after forget = %d, want %d", got, fired)
	}
}

// ---------------------------------------------------------------------------
// 10. Archive round-trip: marshal, reload, run
// ---------------------------------------------------------------------------

func TestIntegrationE2E_ArchiveRoundTrip(t *testing.T) {
	data, err := vm.MarshalMovie(gameArchive())
	if err != nil {
		t.Fatalf("MarshalMovie: %v", err)
	}

	p := vm.NewPlayer(vm.DefaultConfig())
	if err := p.LoadMovieData(data); err != nil {
		t.Fatalf("LoadMovieData: %v", err)
	}

	arg := alloc(t, p, vm.IntDatum(6))
	defer p.Arena().Release(arg)
	if got := callInt(t, p, "fact", arg); got != 720 {
		t.Errorf("fact(6) = %d, want 720", got)
	}

	member := alloc(t, p, vm.MemberDatum(vm.MemberRef{CastNum: 1, MemberNum: 4}))
	defer p.Arena().Release(member)
	text, err := p.GetProp(member, "text")
	if err != nil {
		t.Fatalf("GetProp(text): %v", err)
	}
	defer p.Arena().Release(text)
	d, _ := p.Arena().Get(text)
	if d.Kind != vm.KindString || d.StrVal != "Game Over" {
		t.Errorf("banner text = %s, want \"Game Over\"", p.FormatRef(text))
	}
}

// ---------------------------------------------------------------------------
// 11. Gate: concurrent hosts serialize onto one player
// ---------------------------------------------------------------------------

func TestIntegrationE2E_GateSerialization(t *testing.T) {
	p := newGamePlayer(t)
	gate := vm.NewGate(p)
	defer gate.Close()

	const workers = 8
	const rounds = 25

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- gate.Do(func(p *vm.Player) {
				for i := 0; i < rounds; i++ {
					one, err := p.Arena().Alloc(vm.IntDatum(1))
					if err != nil {
						return
					}
					ref, err := p.Call("bump", []vm.Ref{one})
					p.Arena().Release(one)
					if err != nil {
						return
					}
					p.Arena().Release(ref)
				}
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("gate.Do: %v", err)
		}
	}

	score, err := vm.DoValue(gate, func(p *vm.Player) (int32, error) {
		d, err := p.Arena().Get(p.GetGlobal("gScore"))
		if err != nil {
			return 0, err
		}
		return d.IntValue()
	})
	if err != nil {
		t.Fatalf("DoValue: %v", err)
	}
	if want := int32(workers * rounds); score != want {
		t.Errorf("gScore = %d, want %d", score, want)
	}

	gate.Close()
	if err := gate.Do(func(*vm.Player) {}); err != vm.ErrGateClosed {
		t.Errorf("Do after Close = %v, want ErrGateClosed", err)
	}
}

// ---------------------------------------------------------------------------
// 12. Console: put renders to the configured writer
// ---------------------------------------------------------------------------

func TestIntegrationE2E_PutConsole(t *testing.T) {
	p := newGamePlayer(t)
	var out bytes.Buffer
	p.SetConsole(&out)

	args := []vm.Ref{
		alloc(t, p, vm.IntDatum(3)),
		alloc(t, p, vm.StringDatum("lives")),
		alloc(t, p, vm.SymbolDatum("left")),
	}
	ref, err := p.Call("put", args)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	p.Arena().Release(ref)
	for _, a := range args {
		p.Arena().Release(a)
	}

	want := "-- 3 \"lives\" #left\n"
	if got := out.String(); got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}
