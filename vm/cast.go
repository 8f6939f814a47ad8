package vm

// ---------------------------------------------------------------------------
// Cast libraries and members
// ---------------------------------------------------------------------------

// MemberKind tags the asset stored in a cast member. Script, field and
// text members carry runtime behavior; media kinds carry metadata only.
type MemberKind uint8

const (
	MemberScript MemberKind = iota
	MemberField
	MemberText
	MemberBitmap
	MemberSound
	MemberPalette
	MemberShape
)

var memberKindNames = map[MemberKind]string{
	MemberScript:  "script",
	MemberField:   "field",
	MemberText:    "text",
	MemberBitmap:  "bitmap",
	MemberSound:   "sound",
	MemberPalette: "palette",
	MemberShape:   "shape",
}

func (k MemberKind) String() string {
	if name, ok := memberKindNames[k]; ok {
		return name
	}
	return "unknown"
}

// CastMember is one asset slot in a cast library.
type CastMember struct {
	Number int32
	Name   string
	Kind   MemberKind

	Script *Script // MemberScript
	Text   string  // MemberField, MemberText

	Width  int32 // media metadata
	Height int32
}

// CastLib is a named, numbered container of members. Member numbers are
// unique within the library; name lookup is a secondary index over the
// same members.
type CastLib struct {
	Number      int32
	Name        string
	FileName    string
	PreloadMode int32

	members map[int32]*CastMember
	order   []int32
}

// NewCastLib creates an empty cast library.
func NewCastLib(number int32, name string) *CastLib {
	return &CastLib{
		Number:  number,
		Name:    name,
		members: make(map[int32]*CastMember),
	}
}

// AddMember registers a member. Duplicate numbers violate the library
// invariant and are rejected.
func (c *CastLib) AddMember(m *CastMember) error {
	if _, exists := c.members[m.Number]; exists {
		return Errorf(CodeInvalidArgument, "Duplicate member %d in castLib %d", m.Number, c.Number)
	}
	c.members[m.Number] = m
	c.order = append(c.order, m.Number)
	return nil
}

// GetMember resolves a member by number.
func (c *CastLib) GetMember(number int32) (*CastMember, error) {
	if m, ok := c.members[number]; ok {
		return m, nil
	}
	return nil, Errorf(CodeCastMemberNotFound, "Member %d not found in castLib %d", number, c.Number)
}

// GetMemberByName resolves a member by name under the case policy, or nil.
func (c *CastLib) GetMemberByName(name string, caseSensitive bool) *CastMember {
	for _, num := range c.order {
		m := c.members[num]
		if namesEqual(m.Name, name, caseSensitive) {
			return m
		}
	}
	return nil
}

// MemberCount returns the number of registered members.
func (c *CastLib) MemberCount() int {
	return len(c.members)
}

// MemberNumbers lists member numbers in registration order.
func (c *CastLib) MemberNumbers() []int32 {
	return c.order
}

// ---------------------------------------------------------------------------
// Cast manager
// ---------------------------------------------------------------------------

// CastManager holds the movie's cast libraries in load order. Libraries
// are addressed by their 1-based number or by name.
type CastManager struct {
	casts []*CastLib
}

// NewCastManager creates an empty manager.
func NewCastManager() *CastManager {
	return &CastManager{}
}

// AddCast registers a library. Duplicate numbers are rejected.
func (m *CastManager) AddCast(lib *CastLib) error {
	for _, existing := range m.casts {
		if existing.Number == lib.Number {
			return Errorf(CodeInvalidArgument, "Duplicate castLib %d", lib.Number)
		}
	}
	m.casts = append(m.casts, lib)
	return nil
}

// GetCast resolves a library by number.
func (m *CastManager) GetCast(number int32) (*CastLib, error) {
	for _, lib := range m.casts {
		if lib.Number == number {
			return lib, nil
		}
	}
	return nil, Errorf(CodeCastNotFound, "Cast not found: %d", number)
}

// GetCastByName resolves a library by name under the case policy, or nil.
func (m *CastManager) GetCastByName(name string, caseSensitive bool) *CastLib {
	for _, lib := range m.casts {
		if namesEqual(lib.Name, name, caseSensitive) {
			return lib
		}
	}
	return nil
}

// Casts lists the libraries in load order.
func (m *CastManager) Casts() []*CastLib {
	return m.casts
}

// FindMember resolves a member ref, or nil for stale/invalid refs.
func (m *CastManager) FindMember(ref MemberRef) *CastMember {
	if !ref.IsValid() {
		return nil
	}
	lib, err := m.GetCast(ref.CastNum)
	if err != nil {
		return nil
	}
	member, err := lib.GetMember(ref.MemberNum)
	if err != nil {
		return nil
	}
	return member
}

// FindMemberByNumber searches every library in order for a member number.
func (m *CastManager) FindMemberByNumber(number int32) (MemberRef, *CastMember) {
	for _, lib := range m.casts {
		if member, ok := lib.members[number]; ok {
			return MemberRef{CastNum: lib.Number, MemberNum: number}, member
		}
	}
	return InvalidMemberRef, nil
}

// FindMemberByName searches every library in order for a member name.
func (m *CastManager) FindMemberByName(name string, caseSensitive bool) (MemberRef, *CastMember) {
	for _, lib := range m.casts {
		if member := lib.GetMemberByName(name, caseSensitive); member != nil {
			return MemberRef{CastNum: lib.Number, MemberNum: member.Number}, member
		}
	}
	return InvalidMemberRef, nil
}

// scriptByRef resolves the script compiled into a member slot, or nil.
func (m *CastManager) scriptByRef(ref MemberRef) *Script {
	member := m.FindMember(ref)
	if member == nil || member.Kind != MemberScript {
		return nil
	}
	return member.Script
}

// MovieScripts lists every movie-type script across all libraries, in
// load order. These participate in global call resolution.
func (m *CastManager) MovieScripts() []*Script {
	var scripts []*Script
	for _, lib := range m.casts {
		for _, num := range lib.order {
			member := lib.members[num]
			if member.Kind == MemberScript && member.Script != nil && member.Script.Type == ScriptTypeMovie {
				scripts = append(scripts, member.Script)
			}
		}
	}
	return scripts
}

// ScriptByName finds any script member whose member name matches, for
// script("Name") resolution.
func (m *CastManager) ScriptByName(name string, caseSensitive bool) *Script {
	for _, lib := range m.casts {
		for _, num := range lib.order {
			member := lib.members[num]
			if member.Kind == MemberScript && member.Script != nil && namesEqual(member.Name, name, caseSensitive) {
				return member.Script
			}
		}
	}
	return nil
}
