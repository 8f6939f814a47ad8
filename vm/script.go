package vm

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// Scripts and handlers
// ---------------------------------------------------------------------------

// ScriptType classifies how a script participates in dispatch.
type ScriptType uint8

const (
	ScriptTypeMovie ScriptType = iota
	ScriptTypeParent
	ScriptTypeBehavior
	ScriptTypeScore
)

var scriptTypeNames = map[ScriptType]string{
	ScriptTypeMovie:    "movie",
	ScriptTypeParent:   "parent",
	ScriptTypeBehavior: "behavior",
	ScriptTypeScore:    "score",
}

func (t ScriptType) String() string {
	if name, ok := scriptTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ConstantKind tags a constant-pool entry.
type ConstantKind uint8

const (
	ConstInt ConstantKind = iota
	ConstFloat
	ConstString
	ConstSymbol
)

// Constant is one literal from a script's constant pool.
type Constant struct {
	Kind  ConstantKind
	Int   int32
	Float float64
	Str   string
}

// Datum materializes the constant as a value.
func (c Constant) Datum() Datum {
	switch c.Kind {
	case ConstInt:
		return IntDatum(c.Int)
	case ConstFloat:
		return FloatDatum(c.Float)
	case ConstSymbol:
		return SymbolDatum(c.Str)
	default:
		return StringDatum(c.Str)
	}
}

// ScriptContext is the name table shared by every script compiled into the
// same cast library.
type ScriptContext struct {
	Names []string
}

// Name resolves a name id, or "" when out of range.
func (c *ScriptContext) Name(id int) string {
	if c == nil || id < 0 || id >= len(c.Names) {
		return ""
	}
	return c.Names[id]
}

// Handler is one compiled handler of a script: bytecode plus the name ids
// of its declared arguments, locals and globals.
type Handler struct {
	NameID        int
	ArgNameIDs    []int
	LocalNameIDs  []int
	GlobalNameIDs []int
	Code          []byte

	targets map[int]struct{} // valid jump targets, indexed lazily
}

// jumpTargets returns the set of instruction start positions in the
// handler's code, computing it on first use.
func (h *Handler) jumpTargets() map[int]struct{} {
	if h.targets == nil {
		h.targets = instructionPositions(h.Code)
	}
	return h.targets
}

// Script is immutable once loaded: a handler table, a constant pool, the
// declared property names for instantiable scripts, and the shared name
// table of its cast library.
type Script struct {
	Member        MemberRef
	Name          string
	Type          ScriptType
	Context       *ScriptContext
	Constants     []Constant
	Handlers      []*Handler
	PropertyNames []string
}

// HandlerName resolves a handler's name through the script's name table.
func (s *Script) HandlerName(h *Handler) string {
	return s.Context.Name(h.NameID)
}

// GetHandler finds a handler by name under the given case policy. The
// index result addresses s.Handlers; -1 when absent.
func (s *Script) GetHandler(name string, caseSensitive bool) (*Handler, int) {
	for i, h := range s.Handlers {
		hName := s.HandlerName(h)
		if namesEqual(hName, name, caseSensitive) {
			return h, i
		}
	}
	return nil, -1
}

// HasProperty reports whether the script declares the named property.
func (s *Script) HasProperty(name string, caseSensitive bool) bool {
	for _, prop := range s.PropertyNames {
		if namesEqual(prop, name, caseSensitive) {
			return true
		}
	}
	return false
}

// namesEqual applies the configured case policy to name lookups.
func namesEqual(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// ---------------------------------------------------------------------------
// Script instances
// ---------------------------------------------------------------------------

// ancestorProp is the reserved property holding the parent instance of an
// ancestor chain.
const ancestorProp = "ancestor"

// ScriptInstance holds per-instance property storage. Instances of the
// same Script never share storage. The instance lives until the last
// handle referencing it is released.
type ScriptInstance struct {
	ID     InstanceID
	Script MemberRef
	Props  map[string]Ref
}

// newInstance registers a fresh instance with every declared property
// initialized to Void.
func (p *Player) newInstance(script *Script) *ScriptInstance {
	p.nextInstanceID++
	inst := &ScriptInstance{
		ID:     p.nextInstanceID,
		Script: script.Member,
		Props:  make(map[string]Ref, len(script.PropertyNames)),
	}
	for _, prop := range script.PropertyNames {
		inst.Props[prop] = VoidRef
	}
	p.instances[inst.ID] = inst
	return inst
}

// instance resolves an instance id, or nil when the instance is gone.
func (p *Player) instance(id InstanceID) *ScriptInstance {
	return p.instances[id]
}

// releaseInstance drops the instance's property storage. Called from the
// arena when the last handle to the instance is released.
func (p *Player) releaseInstance(id InstanceID) {
	inst, ok := p.instances[id]
	if !ok {
		return
	}
	delete(p.instances, id)
	for _, ref := range inst.Props {
		p.arena.Release(ref)
	}
}

// ancestorOf returns the instance's ancestor, or nil when the chain ends.
func (p *Player) ancestorOf(inst *ScriptInstance) *ScriptInstance {
	ref, ok := inst.Props[ancestorProp]
	if !ok || ref == VoidRef {
		return nil
	}
	d, err := p.arena.Get(ref)
	if err != nil || d.Kind != KindInstance {
		return nil
	}
	return p.instance(d.Instance)
}

// instanceGetProp reads a property, walking the ancestor chain. The
// returned handle carries a fresh reference the caller owns.
func (p *Player) instanceGetProp(inst *ScriptInstance, name string) (Ref, error) {
	key, ok := p.instancePropKey(inst, name)
	if ok {
		return p.arena.AddRef(inst.Props[key]), nil
	}
	if ancestor := p.ancestorOf(inst); ancestor != nil {
		return p.instanceGetProp(ancestor, name)
	}
	return VoidRef, Errorf(CodePropertyNotFound, "No property %s for script instance", name)
}

// instanceSetProp writes a property. An existing slot (own or on the
// ancestor chain) is updated in place; otherwise the property is created
// on the instance itself. The store takes its own reference; the caller
// keeps ownership of the passed handle.
func (p *Player) instanceSetProp(inst *ScriptInstance, name string, value Ref) {
	if key, ok := p.instancePropKey(inst, name); ok {
		old := inst.Props[key]
		inst.Props[key] = p.arena.AddRef(value)
		p.arena.Release(old)
		return
	}
	for ancestor := p.ancestorOf(inst); ancestor != nil; ancestor = p.ancestorOf(ancestor) {
		if key, ok := p.instancePropKey(ancestor, name); ok {
			old := ancestor.Props[key]
			ancestor.Props[key] = p.arena.AddRef(value)
			p.arena.Release(old)
			return
		}
	}
	inst.Props[name] = p.arena.AddRef(value)
}

// instanceHasProp reports whether the property resolves on the instance
// or its ancestor chain.
func (p *Player) instanceHasProp(inst *ScriptInstance, name string) bool {
	if _, ok := p.instancePropKey(inst, name); ok {
		return true
	}
	if ancestor := p.ancestorOf(inst); ancestor != nil {
		return p.instanceHasProp(ancestor, name)
	}
	return false
}

// instancePropKey finds the stored key for a property name under the case
// policy. The ancestor property always matches exactly.
func (p *Player) instancePropKey(inst *ScriptInstance, name string) (string, bool) {
	if _, ok := inst.Props[name]; ok {
		return name, true
	}
	if p.config.CaseSensitiveNames {
		return "", false
	}
	for key := range inst.Props {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}

// instancePropNames lists the instance's own property names in stable
// order, for diagnostic access.
func (p *Player) instancePropNames(inst *ScriptInstance) []string {
	names := make([]string, 0, len(inst.Props))
	for name := range inst.Props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// instanceHandler resolves a handler on the instance's script or its
// ancestor chain, most-derived first.
func (p *Player) instanceHandler(inst *ScriptInstance, name string) (*Script, *Handler) {
	script := p.casts.scriptByRef(inst.Script)
	if script != nil {
		if h, _ := script.GetHandler(name, p.config.CaseSensitiveNames); h != nil {
			return script, h
		}
	}
	if ancestor := p.ancestorOf(inst); ancestor != nil {
		return p.instanceHandler(ancestor, name)
	}
	return nil, nil
}
