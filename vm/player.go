package vm

import (
	"io"
	"math/rand"
	"os"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config carries the tunable runtime policies. The zero value is not
// usable; start from DefaultConfig.
type Config struct {
	// CaseSensitiveNames switches handler, property and global lookup to
	// exact matching. Legacy scripts expect case-insensitive names.
	CaseSensitiveNames bool

	// FloatPrecision is the initial digit count for float formatting,
	// adjustable at runtime through the floatPrecision movie property.
	FloatPrecision int

	// ItemDelimiter is the initial item chunk separator, adjustable at
	// runtime through the itemDelimiter movie property.
	ItemDelimiter byte

	// MaxCallDepth bounds the scope stack. Exceeding it is a fatal
	// StackOverflow, not a catchable script error.
	MaxCallDepth int

	// ArenaCapacity bounds the value id space. Zero selects the default.
	ArenaCapacity uint32
}

// DefaultConfig returns the stock runtime policies.
func DefaultConfig() Config {
	return Config{
		CaseSensitiveNames: false,
		FloatPrecision:     4,
		ItemDelimiter:      ',',
		MaxCallDepth:       50,
		ArenaCapacity:      DefaultArenaCapacity,
	}
}

// ---------------------------------------------------------------------------
// Player
// ---------------------------------------------------------------------------

// builtinFunc is a global command. Arguments are borrowed for the duration
// of the call; the result carries a reference the caller owns.
type builtinFunc func(p *Player, args []Ref) (Ref, error)

// datumHandlerFunc is a method on a value kind. The receiver and arguments
// are borrowed; the result carries a reference the caller owns.
type datumHandlerFunc func(p *Player, recv Ref, args []Ref) (Ref, error)

// propGetter reads a property of a value kind. The result carries a
// reference the caller owns.
type propGetter func(p *Player, recv Ref) (Ref, error)

// propSetter writes a property of a value kind. The value is borrowed;
// the setter takes its own reference for anything it stores.
type propSetter func(p *Player, recv Ref, value Ref) error

type propEntry struct {
	get propGetter
	set propSetter
}

// Player is a complete script runtime: the value arena, the mounted cast
// libraries, the movie state, the global table and the interpreter. It is
// not safe for concurrent use; serialize access through a Gate.
type Player struct {
	config Config

	arena *Arena
	casts *CastManager
	movie *Movie

	globals     map[string]Ref
	globalOrder []string

	instances      map[InstanceID]*ScriptInstance
	nextInstanceID InstanceID

	timeouts *TimeoutManager

	scopes     []*Scope
	lastResult Ref

	builtins      map[string]builtinFunc
	datumHandlers map[DatumKind]map[string]datumHandlerFunc
	datumProps    map[DatumKind]map[string]propEntry

	console io.Writer
	rand    *rand.Rand

	startTime time.Time
	now       func() time.Time
}

// NewPlayer creates a runtime with an empty movie loaded.
func NewPlayer(cfg Config) *Player {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultConfig().MaxCallDepth
	}
	if cfg.ItemDelimiter == 0 {
		cfg.ItemDelimiter = ','
	}
	p := &Player{
		config:        cfg,
		casts:         NewCastManager(),
		globals:       make(map[string]Ref),
		instances:     make(map[InstanceID]*ScriptInstance),
		timeouts:      NewTimeoutManager(),
		builtins:      make(map[string]builtinFunc),
		datumHandlers: make(map[DatumKind]map[string]datumHandlerFunc),
		datumProps:    make(map[DatumKind]map[string]propEntry),
		console:       os.Stdout,
		rand:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:           time.Now,
	}
	p.arena = NewArena(cfg.ArenaCapacity)
	p.arena.onFree = p.datumFreed
	p.movie = NewMovie(cfg)
	p.startTime = p.now()

	p.registerBuiltins()
	p.registerDatumHandlers()
	return p
}

// SetConsole redirects put output.
func (p *Player) SetConsole(w io.Writer) {
	p.console = w
}

// Config answers the policies the player was built with.
func (p *Player) Config() Config {
	return p.config
}

// Arena exposes the value arena for diagnostic surfaces.
func (p *Player) Arena() *Arena {
	return p.arena
}

// Casts exposes the mounted cast libraries.
func (p *Player) Casts() *CastManager {
	return p.casts
}

// Movie exposes the movie state.
func (p *Player) Movie() *Movie {
	return p.movie
}

// datumFreed runs when the arena reclaims a slot, tearing down side tables
// keyed by the freed value.
func (p *Player) datumFreed(d *Datum) {
	if d.Kind == KindInstance {
		p.releaseInstance(d.Instance)
	}
}

// alloc places a value in the arena.
func (p *Player) alloc(d Datum) (Ref, error) {
	return p.arena.Alloc(d)
}

// getDatum reads a handle, surfacing stale handles as script errors.
func (p *Player) getDatum(ref Ref) (*Datum, error) {
	return p.arena.Get(ref)
}

// setLastResult records the value answered by the most recent handler
// call, exposed as the result.
func (p *Player) setLastResult(ref Ref) {
	old := p.lastResult
	p.lastResult = p.arena.AddRef(ref)
	p.arena.Release(old)
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// globalKey resolves the stored key for a global name under the case
// policy.
func (p *Player) globalKey(name string) (string, bool) {
	if _, ok := p.globals[name]; ok {
		return name, true
	}
	if p.config.CaseSensitiveNames {
		return "", false
	}
	for key := range p.globals {
		if strings.EqualFold(key, name) {
			return key, true
		}
	}
	return "", false
}

// GetGlobal reads a global. Unset globals read as Void; no slot is
// created. The returned handle is borrowed from the table.
func (p *Player) GetGlobal(name string) Ref {
	if key, ok := p.globalKey(name); ok {
		return p.globals[key]
	}
	return VoidRef
}

// SetGlobal writes a global, creating the slot on first write. The table
// takes its own reference; the caller keeps ownership of the passed
// handle.
func (p *Player) SetGlobal(name string, value Ref) {
	key, ok := p.globalKey(name)
	if !ok {
		key = name
		p.globalOrder = append(p.globalOrder, key)
	}
	old := p.globals[key]
	p.globals[key] = p.arena.AddRef(value)
	p.arena.Release(old)
}

// GlobalNames lists the set globals in creation order.
func (p *Player) GlobalNames() []string {
	names := make([]string, len(p.globalOrder))
	copy(names, p.globalOrder)
	return names
}

// ClearGlobals releases every global slot.
func (p *Player) ClearGlobals() {
	for _, ref := range p.globals {
		p.arena.Release(ref)
	}
	p.globals = make(map[string]Ref)
	p.globalOrder = nil
}

// ---------------------------------------------------------------------------
// Clock
// ---------------------------------------------------------------------------

// Milliseconds answers the milliseconds movie property: elapsed wall time
// since the runtime started.
func (p *Player) Milliseconds() int32 {
	return int32(p.now().Sub(p.startTime).Milliseconds())
}

// Ticks answers the ticks movie property: sixtieths of a second since the
// runtime started.
func (p *Player) Ticks() int32 {
	return int32(p.now().Sub(p.startTime).Milliseconds() * 60 / 1000)
}

// ---------------------------------------------------------------------------
// Argument helpers
// ---------------------------------------------------------------------------

// voidDatum is the shared immutable Void for out-of-range argument reads.
var voidDatum = Datum{}

// arg reads the i-th argument. Missing arguments read as Void, matching
// handler parameter padding.
func (p *Player) arg(args []Ref, i int) *Datum {
	if i < 0 || i >= len(args) {
		return &voidDatum
	}
	d, err := p.arena.Get(args[i])
	if err != nil {
		return &voidDatum
	}
	return d
}

// intArg coerces the i-th argument to an integer.
func (p *Player) intArg(args []Ref, i int) (int32, error) {
	return p.arg(args, i).IntValue()
}

// floatArg coerces the i-th argument to a float.
func (p *Player) floatArg(args []Ref, i int) (float64, error) {
	return p.arg(args, i).FloatValue()
}

// stringArg coerces the i-th argument to a string.
func (p *Player) stringArg(args []Ref, i int) (string, error) {
	return p.stringValue(p.arg(args, i))
}

// nameArg reads the i-th argument as a name: symbols and strings both
// qualify.
func (p *Player) nameArg(args []Ref, i int) (string, error) {
	d := p.arg(args, i)
	switch d.Kind {
	case KindSymbol, KindString:
		return d.StrVal, nil
	default:
		return "", Errorf(CodeTypeMismatch, "Expected name, got %s", d.Kind)
	}
}
