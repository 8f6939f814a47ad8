package vm

import (
	"strings"
	"testing"
)

func TestMarshalMovieRoundTrip(t *testing.T) {
	data, err := MarshalMovie(testArchive())
	if err != nil {
		t.Fatalf("MarshalMovie: %v", err)
	}
	back, err := UnmarshalMovie(data)
	if err != nil {
		t.Fatalf("UnmarshalMovie: %v", err)
	}

	if back.Version != ArchiveVersion {
		t.Errorf("Version = %d, want %d", back.Version, ArchiveVersion)
	}
	if back.Name != "testmovie" {
		t.Errorf("Name = %q, want %q", back.Name, "testmovie")
	}
	if len(back.Casts) != 1 || len(back.Casts[0].Members) != 5 {
		t.Fatalf("cast shape = %d/%d, want 1 cast with 5 members", len(back.Casts), len(back.Casts[0].Members))
	}
	if len(back.FrameScripts) != 3 || len(back.Markers) != 2 {
		t.Errorf("score shape = %d/%d, want 3 frame scripts, 2 markers", len(back.FrameScripts), len(back.Markers))
	}

	// The decoded archive must drive a player exactly like the original.
	p := NewPlayer(DefaultConfig())
	if err := p.LoadArchive(back); err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}
	args := allocAll(t, p, IntDatum(2), IntDatum(3))
	if got := callInt(t, p, "sum", args...); got != 5 {
		t.Errorf("sum = %d, want 5", got)
	}
}

func TestLoadMovieData(t *testing.T) {
	data, err := MarshalMovie(testArchive())
	if err != nil {
		t.Fatalf("MarshalMovie: %v", err)
	}

	p := NewPlayer(DefaultConfig())
	if err := p.LoadMovieData(data); err != nil {
		t.Fatalf("LoadMovieData: %v", err)
	}
	arg := mustAlloc(t, p, IntDatum(5))
	defer p.arena.Release(arg)
	if got := callInt(t, p, "fact", arg); got != 120 {
		t.Errorf("fact(5) = %d, want 120", got)
	}
}

func TestUnmarshalVersionMismatch(t *testing.T) {
	a := testArchive()
	a.Version = 99
	data, err := MarshalMovie(a)
	if err != nil {
		t.Fatalf("MarshalMovie: %v", err)
	}

	_, err = UnmarshalMovie(data)
	if err == nil {
		t.Fatal("UnmarshalMovie accepted version 99")
	}
	if !strings.Contains(err.Error(), "unsupported movie archive version 99") {
		t.Errorf("error = %q, want version in message", err.Error())
	}
}

func TestUnmarshalGarbage(t *testing.T) {
	_, err := UnmarshalMovie([]byte{0xff, 0x00, 0x13})
	if err == nil {
		t.Fatal("UnmarshalMovie accepted garbage")
	}
	if !strings.Contains(err.Error(), "unmarshal movie") {
		t.Errorf("error = %q, want unmarshal context", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

func TestLoadArchiveReplacesState(t *testing.T) {
	p := newTestPlayer(t)

	// Dirty every piece of player state.
	inst := newCounter(t, p, 5)
	v := mustAlloc(t, p, IntDatum(1))
	p.SetGlobal("gScore", v)
	p.arena.Release(v)
	if err := p.scheduleTimeout("tick", 100, "greet", VoidRef); err != nil {
		t.Fatalf("scheduleTimeout: %v", err)
	}
	if err := p.StartMovie(); err != nil {
		t.Fatalf("StartMovie: %v", err)
	}

	if err := p.LoadArchive(testArchive()); err != nil {
		t.Fatalf("LoadArchive: %v", err)
	}

	if got := len(p.GlobalNames()); got != 0 {
		t.Errorf("GlobalNames count = %d, want 0", got)
	}
	if got := p.timeouts.Count(); got != 0 {
		t.Errorf("timeout Count = %d, want 0", got)
	}
	if p.lastResult != VoidRef {
		t.Error("lastResult survives reload")
	}
	if got := p.arena.OccupiedSlots(); got != 0 {
		t.Errorf("OccupiedSlots = %d, want 0", got)
	}
	if p.movie.Playing() {
		t.Error("Playing = true after reload")
	}
	if got := p.movie.Frame(); got != 1 {
		t.Errorf("Frame = %d, want 1", got)
	}
	// Handles from before the reload are dead.
	if got := p.FormatRef(inst); got != "<stale>" {
		t.Errorf("old instance = %s, want released", got)
	}

	// The reloaded movie plays from scratch.
	args := allocAll(t, p, IntDatum(20), IntDatum(22))
	if got := callInt(t, p, "sum", args...); got != 42 {
		t.Errorf("sum = %d, want 42", got)
	}
}

func TestLoadArchiveMissingFrameScript(t *testing.T) {
	a := testArchive()
	a.FrameScripts = append(a.FrameScripts, FrameScriptBinding{Frame: 7, CastNum: 1, MemberNum: 99})

	p := NewPlayer(DefaultConfig())
	err := p.LoadArchive(a)
	if CodeOf(err) != CodeCastMemberNotFound {
		t.Fatalf("error = %v, want CastMemberNotFound", err)
	}
	if !strings.Contains(err.Error(), "No script for frame 7") {
		t.Errorf("error = %q, want frame 7 message", err.Error())
	}
}

func TestLoadArchiveRejectsScriptOnNonScriptMember(t *testing.T) {
	a := testArchive()
	a.Casts[0].Members[3].Script = &ScriptArchive{Type: uint8(ScriptTypeMovie)}

	p := NewPlayer(DefaultConfig())
	err := p.LoadArchive(a)
	if CodeOf(err) != CodeInvalidArgument {
		t.Fatalf("error = %v, want InvalidArgument", err)
	}
	if !strings.Contains(err.Error(), "Member 4 carries a script but is field") {
		t.Errorf("error = %q, want member kind message", err.Error())
	}
}

// ---------------------------------------------------------------------------
// Mounting
// ---------------------------------------------------------------------------

func TestMountArchiveRenumberRestriction(t *testing.T) {
	p := newTestPlayer(t)

	two := &MovieArchive{
		Version: ArchiveVersion,
		Casts: []CastArchive{
			{Number: 2, Name: "A"},
			{Number: 3, Name: "B"},
		},
	}
	err := p.MountArchive(two, 5, "")
	if CodeOf(err) != CodeInvalidArgument {
		t.Fatalf("error = %v, want InvalidArgument", err)
	}
	if !strings.Contains(err.Error(), "Cannot renumber a 2-cast archive") {
		t.Errorf("error = %q, want renumber message", err.Error())
	}

	// Without renumbering, a multi-cast mount is fine.
	if err := p.MountArchive(two, 0, ""); err != nil {
		t.Fatalf("MountArchive: %v", err)
	}
	if _, err := p.casts.GetCast(3); err != nil {
		t.Errorf("GetCast(3): %v", err)
	}
}

func TestMountArchiveDuplicateNumber(t *testing.T) {
	p := newTestPlayer(t)

	err := p.MountArchive(testArchive(), 0, "")
	if CodeOf(err) != CodeInvalidArgument {
		t.Fatalf("error = %v, want InvalidArgument", err)
	}
	if !strings.Contains(err.Error(), "Duplicate castLib 1") {
		t.Errorf("error = %q, want duplicate message", err.Error())
	}
}

func TestMountArchiveData(t *testing.T) {
	data, err := MarshalMovie(testArchive())
	if err != nil {
		t.Fatalf("MarshalMovie: %v", err)
	}

	p := newTestPlayer(t)
	if err := p.MountArchiveData(data, 2, "Fixture"); err != nil {
		t.Fatalf("MountArchiveData: %v", err)
	}
	lib, err := p.casts.GetCast(2)
	if err != nil {
		t.Fatalf("GetCast(2): %v", err)
	}
	if lib.Name != "Fixture" {
		t.Errorf("mounted name = %q, want %q", lib.Name, "Fixture")
	}
	if _, err := lib.GetMember(4); err != nil {
		t.Errorf("GetMember(4): %v", err)
	}
}

// ---------------------------------------------------------------------------
// Snapshotting
// ---------------------------------------------------------------------------

func TestBuildArchiveRoundTrip(t *testing.T) {
	p := newTestPlayer(t)

	// Mutate loaded state so the snapshot proves it reads the live movie.
	lib, err := p.casts.GetCast(1)
	if err != nil {
		t.Fatalf("GetCast(1): %v", err)
	}
	member, err := lib.GetMember(4)
	if err != nil {
		t.Fatalf("GetMember(4): %v", err)
	}
	member.Text = "Second Run"

	a := p.BuildArchive()
	if a.Version != ArchiveVersion || a.Name != "testmovie" {
		t.Errorf("archive header = %d/%q", a.Version, a.Name)
	}
	if len(a.FrameScripts) != 3 || len(a.Markers) != 2 {
		t.Errorf("score shape = %d/%d, want 3 frame scripts, 2 markers", len(a.FrameScripts), len(a.Markers))
	}

	q := NewPlayer(DefaultConfig())
	if err := q.LoadArchive(a); err != nil {
		t.Fatalf("LoadArchive(snapshot): %v", err)
	}
	arg := mustAlloc(t, q, IntDatum(4))
	defer q.arena.Release(arg)
	if got := callInt(t, q, "fact", arg); got != 24 {
		t.Errorf("fact(4) = %d, want 24", got)
	}
	relib, err := q.casts.GetCast(1)
	if err != nil {
		t.Fatalf("GetCast(1): %v", err)
	}
	remember, err := relib.GetMember(4)
	if err != nil {
		t.Fatalf("GetMember(4): %v", err)
	}
	if remember.Text != "Second Run" {
		t.Errorf("field text = %q, want %q", remember.Text, "Second Run")
	}

	// Snapshot and reload the behaviors too: the frame loop still runs.
	if err := q.StartMovie(); err != nil {
		t.Fatalf("StartMovie: %v", err)
	}
	if err := q.AdvanceFrame(); err != nil {
		t.Fatalf("AdvanceFrame: %v", err)
	}
	if got := globalInt(t, q, "gFrames"); got != 1 {
		t.Errorf("gFrames = %d, want 1", got)
	}
}
