package vm

import "strings"

// ---------------------------------------------------------------------------
// Movie state
// ---------------------------------------------------------------------------

// Movie holds the playhead, the frame script bindings and the mutable
// movie-level properties scripts reach through the-syntax.
type Movie struct {
	name string
	path string

	frame     int32
	nextFrame int32 // 0 means auto-advance
	playing   bool
	started   bool

	itemDelimiter  byte
	floatPrecision int
	exitLock       bool
	updateLock     bool
	timerBase      int32

	actorList     Ref
	frameBehavior Ref

	frameScripts map[int32]MemberRef
	markers      map[string]int32
	eventScripts map[string]string
}

// NewMovie creates an empty movie positioned at frame 1.
func NewMovie(cfg Config) *Movie {
	return &Movie{
		frame:          1,
		itemDelimiter:  cfg.ItemDelimiter,
		floatPrecision: cfg.FloatPrecision,
		actorList:      VoidRef,
		frameBehavior:  VoidRef,
		frameScripts:   make(map[int32]MemberRef),
		markers:        make(map[string]int32),
		eventScripts:   make(map[string]string),
	}
}

func (m *Movie) Name() string  { return m.name }
func (m *Movie) Path() string  { return m.path }
func (m *Movie) Frame() int32  { return m.frame }
func (m *Movie) Playing() bool { return m.playing }

func (m *Movie) SetName(name string) { m.name = name }
func (m *Movie) SetPath(path string) { m.path = path }

// SetFrameScript binds a score behavior to a frame.
func (m *Movie) SetFrameScript(frame int32, ref MemberRef) {
	m.frameScripts[frame] = ref
}

// FrameScript reads the behavior bound to a frame.
func (m *Movie) FrameScript(frame int32) (MemberRef, bool) {
	ref, ok := m.frameScripts[frame]
	return ref, ok
}

// FrameScriptFrames lists the frames that carry a behavior, unordered.
func (m *Movie) FrameScriptFrames() []int32 {
	frames := make([]int32, 0, len(m.frameScripts))
	for frame := range m.frameScripts {
		frames = append(frames, frame)
	}
	return frames
}

// SetMarker names a frame for go().
func (m *Movie) SetMarker(name string, frame int32) {
	m.markers[name] = frame
}

// MarkerFrame resolves a marker name under the case policy.
func (m *Movie) MarkerFrame(name string, caseSensitive bool) (int32, bool) {
	if frame, ok := m.markers[name]; ok {
		return frame, true
	}
	if caseSensitive {
		return 0, false
	}
	for marker, frame := range m.markers {
		if strings.EqualFold(marker, name) {
			return frame, true
		}
	}
	return 0, false
}

// ---------------------------------------------------------------------------
// Playback
// ---------------------------------------------------------------------------

// StartMovie begins playback: prepareMovie fires, the first frame's
// behavior is instantiated and prepared, then startMovie fires.
func (p *Player) StartMovie() error {
	m := p.movie
	if m.playing {
		return nil
	}
	m.playing = true
	m.started = false
	if err := p.dispatchMovieEvent("prepareMovie"); err != nil {
		return err
	}
	if err := p.prepareFrame(); err != nil {
		return err
	}
	if err := p.dispatchMovieEvent("startMovie"); err != nil {
		return err
	}
	m.started = true
	return nil
}

// StopMovie ends playback and tears down the current frame behavior.
func (p *Player) StopMovie() error {
	m := p.movie
	if !m.playing {
		return nil
	}
	err := p.dispatchMovieEvent("stopMovie")
	m.playing = false
	m.started = false
	p.arena.Release(m.frameBehavior)
	m.frameBehavior = VoidRef
	return err
}

// AdvanceFrame runs one iteration of the frame loop: due timeouts fire,
// then enterFrame, the actor step, exitFrame, and the playhead moves to
// the frame go() chose or the next frame. The next frame's behavior is
// instantiated and prepared before the call returns.
func (p *Player) AdvanceFrame() error {
	m := p.movie
	if !m.playing {
		return NewError(CodeGeneric, "Movie is not playing")
	}
	if err := p.fireDueTimeouts(); err != nil {
		return err
	}
	if err := p.dispatchFrameEvent("enterFrame", nil); err != nil {
		return err
	}
	if err := p.stepActors(); err != nil {
		return err
	}
	if err := p.dispatchFrameEvent("exitFrame", nil); err != nil {
		return err
	}

	if m.nextFrame != 0 {
		m.frame = m.nextFrame
		m.nextFrame = 0
	} else {
		m.frame++
	}
	return p.prepareFrame()
}

// prepareFrame instantiates the current frame's behavior, replacing the
// previous one, and fires prepareFrame.
func (p *Player) prepareFrame() error {
	m := p.movie
	p.arena.Release(m.frameBehavior)
	m.frameBehavior = VoidRef

	if ref, ok := m.frameScripts[m.frame]; ok {
		script := p.casts.scriptByRef(ref)
		if script == nil {
			return Errorf(CodeCastMemberNotFound, "No script for frame %d", m.frame)
		}
		inst := p.newInstance(script)
		behavior, err := p.alloc(InstanceDatum(inst.ID))
		if err != nil {
			return err
		}
		m.frameBehavior = behavior
	}
	return p.dispatchFrameEvent("prepareFrame", nil)
}

// dispatchFrameEvent offers an event to the frame behavior first, then to
// the movie scripts. A behavior handler that does not pass consumes the
// event.
func (p *Player) dispatchFrameEvent(name string, args []Ref) error {
	m := p.movie
	if m.frameBehavior != VoidRef {
		behavior, err := p.getDatum(m.frameBehavior)
		if err != nil {
			return err
		}
		if inst := p.instance(behavior.Instance); inst != nil {
			if script, handler := p.instanceHandler(inst, name); handler != nil {
				result, passed, err := p.callScriptHandler(m.frameBehavior, script, handler, args, true)
				p.arena.Release(result)
				if err != nil {
					return err
				}
				if !passed {
					return nil
				}
			}
		}
	}
	return p.dispatchMovieEvent(name)
}

// dispatchMovieEvent offers an event to the movie scripts only.
func (p *Player) dispatchMovieEvent(name string) error {
	script, handler := p.findMovieHandler(name)
	if handler == nil {
		return nil
	}
	result, _, err := p.callScriptHandler(VoidRef, script, handler, nil, false)
	p.arena.Release(result)
	return err
}

// stepActors sends stepFrame to a snapshot of the actor list. An actor
// removed by an earlier actor's handler is skipped; an actor that fails
// stops the walk.
func (p *Player) stepActors() error {
	m := p.movie
	if m.actorList == VoidRef {
		return nil
	}
	actors, err := p.getDatum(m.actorList)
	if err != nil || actors.Kind != KindList {
		return nil
	}

	snapshot := make([]Ref, len(actors.Elems))
	for i, ref := range actors.Elems {
		snapshot[i] = p.arena.AddRef(ref)
	}
	defer p.releaseAll(snapshot)

	for _, actorRef := range snapshot {
		if !p.actorListed(actorRef) {
			continue
		}
		actor, err := p.getDatum(actorRef)
		if err != nil || actor.Kind != KindInstance {
			continue
		}
		inst := p.instance(actor.Instance)
		if inst == nil {
			continue
		}
		script, handler := p.instanceHandler(inst, "stepFrame")
		if handler == nil {
			continue
		}
		result, _, err := p.callScriptHandler(actorRef, script, handler, nil, true)
		p.arena.Release(result)
		if err != nil {
			return err
		}
	}
	return nil
}

// actorListed reports whether a handle is still a member of the actor
// list.
func (p *Player) actorListed(ref Ref) bool {
	actors, err := p.getDatum(p.movie.actorList)
	if err != nil || actors.Kind != KindList {
		return false
	}
	for _, elem := range actors.Elems {
		if p.refsEqual(elem, ref) {
			return true
		}
	}
	return false
}

// actorListRef materializes the actor list on first touch.
func (p *Player) actorListRef() (Ref, error) {
	m := p.movie
	if m.actorList == VoidRef {
		ref, err := p.alloc(ListDatum(nil))
		if err != nil {
			return VoidRef, err
		}
		m.actorList = ref
	}
	return m.actorList, nil
}

// gotoFrame positions the playhead for the next advance. Numbers address
// frames directly; strings resolve through markers with loop, next and
// previous as relative forms.
func (p *Player) gotoFrame(target *Datum) error {
	m := p.movie
	switch target.Kind {
	case KindInt:
		if target.IntVal < 1 {
			return Errorf(CodeInvalidArgument, "Invalid frame %d", target.IntVal)
		}
		m.nextFrame = target.IntVal
		return nil
	case KindString, KindSymbol:
		name := target.StrVal
		switch {
		case namesEqual(name, "loop", p.config.CaseSensitiveNames):
			m.nextFrame = m.frame
		case namesEqual(name, "next", p.config.CaseSensitiveNames):
			m.nextFrame = m.frame + 1
		case namesEqual(name, "previous", p.config.CaseSensitiveNames):
			if m.frame > 1 {
				m.nextFrame = m.frame - 1
			} else {
				m.nextFrame = 1
			}
		default:
			frame, ok := m.MarkerFrame(name, p.config.CaseSensitiveNames)
			if !ok {
				return Errorf(CodeInvalidArgument, "No marker %s", name)
			}
			m.nextFrame = frame
		}
		return nil
	default:
		return Errorf(CodeTypeMismatch, "Cannot go to %s", target.Kind)
	}
}

// ---------------------------------------------------------------------------
// Movie properties
// ---------------------------------------------------------------------------

// Event script slots addressable through the-syntax.
var eventScriptProps = map[string]struct{}{
	"mousedownscript": {},
	"mouseupscript":   {},
	"keydownscript":   {},
	"keyupscript":     {},
	"timeoutscript":   {},
}

// getMovieProp reads a the-property. Names fold case regardless of the
// handler case policy, matching classic behavior.
func (p *Player) getMovieProp(name string) (Ref, error) {
	m := p.movie
	key := strings.ToLower(name)
	if _, ok := eventScriptProps[key]; ok {
		return p.alloc(StringDatum(m.eventScripts[key]))
	}
	switch key {
	case "floatprecision":
		return p.alloc(IntDatum(int32(m.floatPrecision)))
	case "itemdelimiter":
		return p.alloc(StringDatum(string(m.itemDelimiter)))
	case "milliseconds":
		return p.alloc(IntDatum(p.Milliseconds()))
	case "ticks":
		return p.alloc(IntDatum(p.Ticks()))
	case "timer":
		return p.alloc(IntDatum(p.Ticks() - m.timerBase))
	case "time", "short time":
		return p.alloc(StringDatum(p.now().Format("3:04 PM")))
	case "abbr time", "abbreviated time", "abbrev time":
		return p.alloc(StringDatum(p.now().Format("3:04 PM")))
	case "long time":
		return p.alloc(StringDatum(p.now().Format("3:04:05 PM")))
	case "date", "short date":
		return p.alloc(StringDatum(p.now().Format("1/2/06")))
	case "abbr date", "abbreviated date", "abbrev date":
		return p.alloc(StringDatum(p.now().Format("Jan 2, 2006")))
	case "long date":
		return p.alloc(StringDatum(p.now().Format("Monday, January 2, 2006")))
	case "frame":
		return p.alloc(IntDatum(m.frame))
	case "movie", "moviename":
		return p.alloc(StringDatum(m.name))
	case "moviepath", "path":
		return p.alloc(StringDatum(m.path))
	case "platform":
		return p.alloc(StringDatum("Windows,32"))
	case "productversion":
		return p.alloc(StringDatum("10.1"))
	case "runmode":
		return p.alloc(StringDatum("Plugin"))
	case "exitlock":
		return p.alloc(BoolDatum(m.exitLock))
	case "updatelock":
		return p.alloc(BoolDatum(m.updateLock))
	case "actorlist":
		ref, err := p.actorListRef()
		if err != nil {
			return VoidRef, err
		}
		return p.arena.AddRef(ref), nil
	case "result":
		return p.arena.AddRef(p.lastResult), nil
	case "paramcount":
		if s := p.currentScope(); s != nil {
			return p.alloc(IntDatum(int32(len(s.args))))
		}
		return p.alloc(IntDatum(0))
	default:
		return VoidRef, Errorf(CodePropertyNotFound, "No movie property %s", name)
	}
}

// setMovieProp writes a the-property. The value is borrowed.
func (p *Player) setMovieProp(name string, value Ref) error {
	m := p.movie
	d, err := p.getDatum(value)
	if err != nil {
		return err
	}
	key := strings.ToLower(name)
	if _, ok := eventScriptProps[key]; ok {
		text, err := p.stringValue(d)
		if err != nil {
			return err
		}
		m.eventScripts[key] = text
		return nil
	}
	switch key {
	case "floatprecision":
		v, err := d.IntValue()
		if err != nil {
			return err
		}
		if v < 0 {
			v = 0
		}
		if v > 15 {
			v = 15
		}
		m.floatPrecision = int(v)
		return nil
	case "itemdelimiter":
		text, err := p.stringValue(d)
		if err != nil {
			return err
		}
		if len(text) == 0 {
			return NewError(CodeInvalidArgument, "itemDelimiter cannot be empty")
		}
		m.itemDelimiter = text[0]
		return nil
	case "timer":
		v, err := d.IntValue()
		if err != nil {
			return err
		}
		m.timerBase = p.Ticks() - v
		return nil
	case "randomseed":
		v, err := d.IntValue()
		if err != nil {
			return err
		}
		p.rand.Seed(int64(v))
		return nil
	case "exitlock":
		m.exitLock = !d.IsZero()
		return nil
	case "updatelock":
		m.updateLock = !d.IsZero()
		return nil
	case "actorlist":
		if d.Kind != KindList {
			return Errorf(CodeTypeMismatch, "actorList requires a list, got %s", d.Kind)
		}
		old := m.actorList
		m.actorList = p.arena.AddRef(value)
		p.arena.Release(old)
		return nil
	default:
		return Errorf(CodePropertyNotFound, "Cannot set movie property %s", name)
	}
}
