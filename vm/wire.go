package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Movie archives
// ---------------------------------------------------------------------------

// ArchiveVersion is the current wire format revision.
const ArchiveVersion uint16 = 1

// MovieArchive is the serialized form of a movie: its cast libraries with
// compiled scripts, the frame script bindings and the markers. Encoding
// is canonical CBOR with integer keys.
type MovieArchive struct {
	Version      uint16               `cbor:"1,keyasint"`
	Name         string               `cbor:"2,keyasint,omitempty"`
	Path         string               `cbor:"3,keyasint,omitempty"`
	Casts        []CastArchive        `cbor:"4,keyasint,omitempty"`
	FrameScripts []FrameScriptBinding `cbor:"5,keyasint,omitempty"`
	Markers      []MarkerArchive      `cbor:"6,keyasint,omitempty"`
}

// CastArchive is one cast library: the shared name table and the member
// slots.
type CastArchive struct {
	Number   int32           `cbor:"1,keyasint"`
	Name     string          `cbor:"2,keyasint,omitempty"`
	FileName string          `cbor:"3,keyasint,omitempty"`
	Names    []string        `cbor:"4,keyasint,omitempty"`
	Members  []MemberArchive `cbor:"5,keyasint,omitempty"`
}

// MemberArchive is one member slot. Script members carry their compiled
// script; field and text members carry text.
type MemberArchive struct {
	Number int32          `cbor:"1,keyasint"`
	Name   string         `cbor:"2,keyasint,omitempty"`
	Kind   uint8          `cbor:"3,keyasint"`
	Text   string         `cbor:"4,keyasint,omitempty"`
	Width  int32          `cbor:"5,keyasint,omitempty"`
	Height int32          `cbor:"6,keyasint,omitempty"`
	Script *ScriptArchive `cbor:"7,keyasint,omitempty"`
}

// ScriptArchive is one compiled script: type, declared properties, the
// constant pool and the handlers. Name ids index the owning cast's name
// table.
type ScriptArchive struct {
	Type          uint8             `cbor:"1,keyasint"`
	PropertyNames []string          `cbor:"2,keyasint,omitempty"`
	Constants     []ConstantArchive `cbor:"3,keyasint,omitempty"`
	Handlers      []HandlerArchive  `cbor:"4,keyasint,omitempty"`
}

// ConstantArchive is one constant pool entry.
type ConstantArchive struct {
	Kind  uint8   `cbor:"1,keyasint"`
	Int   int32   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint,omitempty"`
	Str   string  `cbor:"4,keyasint,omitempty"`
}

// HandlerArchive is one handler: its name id, parameter and local name
// ids, and bytecode.
type HandlerArchive struct {
	NameID        int32   `cbor:"1,keyasint"`
	ArgNameIDs    []int32 `cbor:"2,keyasint,omitempty"`
	LocalNameIDs  []int32 `cbor:"3,keyasint,omitempty"`
	GlobalNameIDs []int32 `cbor:"4,keyasint,omitempty"`
	Code          []byte  `cbor:"5,keyasint,omitempty"`
}

// FrameScriptBinding attaches a behavior member to a frame.
type FrameScriptBinding struct {
	Frame     int32 `cbor:"1,keyasint"`
	CastNum   int32 `cbor:"2,keyasint"`
	MemberNum int32 `cbor:"3,keyasint"`
}

// MarkerArchive names a frame.
type MarkerArchive struct {
	Name  string `cbor:"1,keyasint"`
	Frame int32  `cbor:"2,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalMovie serializes a MovieArchive to CBOR bytes.
func MarshalMovie(a *MovieArchive) ([]byte, error) {
	return cborEncMode.Marshal(a)
}

// UnmarshalMovie deserializes a MovieArchive from CBOR bytes.
func UnmarshalMovie(data []byte) (*MovieArchive, error) {
	var a MovieArchive
	if err := cbor.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("vm: unmarshal movie: %w", err)
	}
	if a.Version != ArchiveVersion {
		return nil, fmt.Errorf("vm: unsupported movie archive version %d", a.Version)
	}
	return &a, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadArchive replaces the player's entire movie state with the archive's
// contents. Every outstanding handle is invalidated; globals, instances
// and non-persistent timeouts are dropped.
func (p *Player) LoadArchive(a *MovieArchive) error {
	casts := NewCastManager()
	for i := range a.Casts {
		lib, err := buildCastLib(&a.Casts[i])
		if err != nil {
			return err
		}
		if err := casts.AddCast(lib); err != nil {
			return err
		}
	}

	movie := NewMovie(p.config)
	movie.name = a.Name
	movie.path = a.Path
	for _, binding := range a.FrameScripts {
		ref := MemberRef{CastNum: binding.CastNum, MemberNum: binding.MemberNum}
		if casts.scriptByRef(ref) == nil {
			return Errorf(CodeCastMemberNotFound, "No script for frame %d", binding.Frame)
		}
		movie.frameScripts[binding.Frame] = ref
	}
	for _, marker := range a.Markers {
		movie.markers[marker.Name] = marker.Frame
	}

	// Only swap in the new state once nothing can fail.
	p.ClearGlobals()
	p.resetTimeouts()
	p.arena.Release(p.lastResult)
	p.lastResult = VoidRef
	p.arena.Release(p.movie.actorList)
	p.arena.Release(p.movie.frameBehavior)
	p.scopes = nil
	p.instances = make(map[InstanceID]*ScriptInstance)
	p.arena.Reset()

	p.casts = casts
	p.movie = movie
	return nil
}

// LoadMovieData decodes and loads a serialized movie in one step.
func (p *Player) LoadMovieData(data []byte) error {
	a, err := UnmarshalMovie(data)
	if err != nil {
		return err
	}
	return p.LoadArchive(a)
}

// MountArchive adds an archive's cast libraries to the loaded movie
// without touching the rest of the player state. A non-zero number
// renumbers the archive's single cast, and a non-empty name renames it
// the same way. Frame scripts and markers of the mounted archive are
// ignored; external casts carry members, not score.
func (p *Player) MountArchive(a *MovieArchive, number int32, name string) error {
	if (number != 0 || name != "") && len(a.Casts) != 1 {
		return Errorf(CodeInvalidArgument, "Cannot renumber a %d-cast archive", len(a.Casts))
	}
	for i := range a.Casts {
		ca := a.Casts[i]
		if number != 0 {
			ca.Number = number
		}
		if name != "" {
			ca.Name = name
		}
		lib, err := buildCastLib(&ca)
		if err != nil {
			return err
		}
		if err := p.casts.AddCast(lib); err != nil {
			return err
		}
	}
	return nil
}

// MountArchiveData decodes and mounts cast libraries in one step.
func (p *Player) MountArchiveData(data []byte, number int32, name string) error {
	a, err := UnmarshalMovie(data)
	if err != nil {
		return err
	}
	return p.MountArchive(a, number, name)
}

// buildCastLib materializes one cast library, compiling the member
// scripts against the library's shared name table.
func buildCastLib(a *CastArchive) (*CastLib, error) {
	lib := NewCastLib(a.Number, a.Name)
	lib.FileName = a.FileName
	ctx := &ScriptContext{Names: a.Names}

	for i := range a.Members {
		ma := &a.Members[i]
		member := &CastMember{
			Number: ma.Number,
			Name:   ma.Name,
			Kind:   MemberKind(ma.Kind),
			Text:   ma.Text,
			Width:  ma.Width,
			Height: ma.Height,
		}
		if ma.Script != nil {
			if member.Kind != MemberScript {
				return nil, Errorf(CodeInvalidArgument, "Member %d carries a script but is %s", ma.Number, member.Kind)
			}
			member.Script = buildScript(ma, ctx, a.Number)
		}
		if err := lib.AddMember(member); err != nil {
			return nil, err
		}
	}
	return lib, nil
}

func buildScript(ma *MemberArchive, ctx *ScriptContext, castNum int32) *Script {
	sa := ma.Script
	script := &Script{
		Member:        MemberRef{CastNum: castNum, MemberNum: ma.Number},
		Name:          ma.Name,
		Type:          ScriptType(sa.Type),
		Context:       ctx,
		PropertyNames: sa.PropertyNames,
	}
	for _, ca := range sa.Constants {
		script.Constants = append(script.Constants, Constant{
			Kind:  ConstantKind(ca.Kind),
			Int:   ca.Int,
			Float: ca.Float,
			Str:   ca.Str,
		})
	}
	for i := range sa.Handlers {
		ha := &sa.Handlers[i]
		script.Handlers = append(script.Handlers, &Handler{
			NameID:        int(ha.NameID),
			ArgNameIDs:    toIntSlice(ha.ArgNameIDs),
			LocalNameIDs:  toIntSlice(ha.LocalNameIDs),
			GlobalNameIDs: toIntSlice(ha.GlobalNameIDs),
			Code:          ha.Code,
		})
	}
	return script
}

func toIntSlice(ids []int32) []int {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int, len(ids))
	for i, id := range ids {
		out[i] = int(id)
	}
	return out
}

// ---------------------------------------------------------------------------
// Snapshotting
// ---------------------------------------------------------------------------

// BuildArchive snapshots the player's loaded movie into archive form.
// The inverse of LoadArchive up to member ordering.
func (p *Player) BuildArchive() *MovieArchive {
	a := &MovieArchive{
		Version: ArchiveVersion,
		Name:    p.movie.name,
		Path:    p.movie.path,
	}
	for _, lib := range p.casts.Casts() {
		ca := CastArchive{
			Number:   lib.Number,
			Name:     lib.Name,
			FileName: lib.FileName,
		}
		var ctx *ScriptContext
		for _, number := range lib.MemberNumbers() {
			member, err := lib.GetMember(number)
			if err != nil {
				continue
			}
			ma := MemberArchive{
				Number: member.Number,
				Name:   member.Name,
				Kind:   uint8(member.Kind),
				Text:   member.Text,
				Width:  member.Width,
				Height: member.Height,
			}
			if member.Script != nil {
				ctx = member.Script.Context
				ma.Script = snapshotScript(member.Script)
			}
			ca.Members = append(ca.Members, ma)
		}
		if ctx != nil {
			ca.Names = ctx.Names
		}
		a.Casts = append(a.Casts, ca)
	}
	for frame, ref := range p.movie.frameScripts {
		a.FrameScripts = append(a.FrameScripts, FrameScriptBinding{
			Frame:     frame,
			CastNum:   ref.CastNum,
			MemberNum: ref.MemberNum,
		})
	}
	for name, frame := range p.movie.markers {
		a.Markers = append(a.Markers, MarkerArchive{Name: name, Frame: frame})
	}
	return a
}

func snapshotScript(script *Script) *ScriptArchive {
	sa := &ScriptArchive{
		Type:          uint8(script.Type),
		PropertyNames: script.PropertyNames,
	}
	for _, c := range script.Constants {
		sa.Constants = append(sa.Constants, ConstantArchive{
			Kind:  uint8(c.Kind),
			Int:   c.Int,
			Float: c.Float,
			Str:   c.Str,
		})
	}
	for _, h := range script.Handlers {
		sa.Handlers = append(sa.Handlers, HandlerArchive{
			NameID:        int32(h.NameID),
			ArgNameIDs:    toInt32Slice(h.ArgNameIDs),
			LocalNameIDs:  toInt32Slice(h.LocalNameIDs),
			GlobalNameIDs: toInt32Slice(h.GlobalNameIDs),
			Code:          h.Code,
		})
	}
	return sa
}

func toInt32Slice(ids []int) []int32 {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int32, len(ids))
	for i, id := range ids {
		out[i] = int32(id)
	}
	return out
}
