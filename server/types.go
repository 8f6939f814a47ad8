package server

// Procedure paths, one per RPC. Connect routes on exact path match; a
// client dials baseURL + procedure.
const (
	ProcPlayerStatus = "/lingo.v1.InspectService/PlayerStatus"
	ProcListGlobals  = "/lingo.v1.InspectService/ListGlobals"
	ProcListCasts    = "/lingo.v1.InspectService/ListCasts"
	ProcListMembers  = "/lingo.v1.InspectService/ListMembers"
	ProcInstance     = "/lingo.v1.InspectService/InstanceProps"
	ProcDisassemble  = "/lingo.v1.InspectService/DisassembleHandler"
	ProcRelease      = "/lingo.v1.InspectService/ReleaseHandle"

	ProcLoadMovie    = "/lingo.v1.ControlService/LoadMovie"
	ProcStartMovie   = "/lingo.v1.ControlService/StartMovie"
	ProcStopMovie    = "/lingo.v1.ControlService/StopMovie"
	ProcAdvanceFrame = "/lingo.v1.ControlService/AdvanceFrame"
	ProcCallHandler  = "/lingo.v1.ControlService/CallHandler"
	ProcSetGlobal    = "/lingo.v1.ControlService/SetGlobal"
	ProcEval         = "/lingo.v1.ControlService/Eval"
)

// ValueHandle names a player value pinned on the server side. Callers
// release handles they no longer need; stale handles unpin on sweep.
type ValueHandle struct {
	ID      string `cbor:"1,keyasint"`
	Ilk     string `cbor:"2,keyasint,omitempty"`
	Display string `cbor:"3,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// InspectService messages
// ---------------------------------------------------------------------------

type PlayerStatusRequest struct{}

type PlayerStatusResponse struct {
	MovieName     string `cbor:"1,keyasint,omitempty"`
	MoviePath     string `cbor:"2,keyasint,omitempty"`
	Frame         int32  `cbor:"3,keyasint"`
	Playing       bool   `cbor:"4,keyasint"`
	OccupiedSlots int    `cbor:"5,keyasint"`
	FreeSlots     uint32 `cbor:"6,keyasint"`
	CallDepth     int    `cbor:"7,keyasint"`
	GlobalCount   int    `cbor:"8,keyasint"`
	HandleCount   int    `cbor:"9,keyasint"`
	Milliseconds  int32  `cbor:"10,keyasint"`
}

type ListGlobalsRequest struct{}

type GlobalEntry struct {
	Name    string `cbor:"1,keyasint"`
	Ilk     string `cbor:"2,keyasint,omitempty"`
	Display string `cbor:"3,keyasint,omitempty"`
}

type ListGlobalsResponse struct {
	Globals []GlobalEntry `cbor:"1,keyasint,omitempty"`
}

type ListCastsRequest struct{}

type CastInfo struct {
	Number      int32  `cbor:"1,keyasint"`
	Name        string `cbor:"2,keyasint,omitempty"`
	FileName    string `cbor:"3,keyasint,omitempty"`
	MemberCount int    `cbor:"4,keyasint"`
}

type ListCastsResponse struct {
	Casts []CastInfo `cbor:"1,keyasint,omitempty"`
}

type ListMembersRequest struct {
	CastNum int32 `cbor:"1,keyasint"`
}

type MemberInfo struct {
	Number   int32    `cbor:"1,keyasint"`
	Name     string   `cbor:"2,keyasint,omitempty"`
	Kind     string   `cbor:"3,keyasint"`
	Handlers []string `cbor:"4,keyasint,omitempty"`
}

type ListMembersResponse struct {
	Members []MemberInfo `cbor:"1,keyasint,omitempty"`
}

type InstancePropsRequest struct {
	HandleID string `cbor:"1,keyasint"`
}

type PropEntry struct {
	Name    string `cbor:"1,keyasint"`
	Ilk     string `cbor:"2,keyasint,omitempty"`
	Display string `cbor:"3,keyasint,omitempty"`
}

type InstancePropsResponse struct {
	ScriptName string      `cbor:"1,keyasint,omitempty"`
	Props      []PropEntry `cbor:"2,keyasint,omitempty"`
}

// DisassembleRequest names a script either by member coordinates or by
// script member name. An empty Handler lists every handler.
type DisassembleRequest struct {
	CastNum   int32  `cbor:"1,keyasint,omitempty"`
	MemberNum int32  `cbor:"2,keyasint,omitempty"`
	Script    string `cbor:"3,keyasint,omitempty"`
	Handler   string `cbor:"4,keyasint,omitempty"`
}

type DisassembleResponse struct {
	Listing string `cbor:"1,keyasint"`
}

type ReleaseHandleRequest struct {
	HandleID string `cbor:"1,keyasint"`
}

type ReleaseHandleResponse struct {
	Released bool `cbor:"1,keyasint"`
}

// ---------------------------------------------------------------------------
// ControlService messages
// ---------------------------------------------------------------------------

type LoadMovieRequest struct {
	Data []byte `cbor:"1,keyasint"`
}

type LoadMovieResponse struct {
	MovieName string `cbor:"1,keyasint,omitempty"`
	CastCount int    `cbor:"2,keyasint"`
}

type StartMovieRequest struct{}

type StartMovieResponse struct {
	Success      bool   `cbor:"1,keyasint"`
	ErrorMessage string `cbor:"2,keyasint,omitempty"`
	Frame        int32  `cbor:"3,keyasint"`
}

type StopMovieRequest struct{}

type StopMovieResponse struct {
	Success      bool   `cbor:"1,keyasint"`
	ErrorMessage string `cbor:"2,keyasint,omitempty"`
}

// AdvanceFrameRequest asks for a number of ticks of the frame loop.
// Zero means one.
type AdvanceFrameRequest struct {
	Ticks int32 `cbor:"1,keyasint,omitempty"`
}

type AdvanceFrameResponse struct {
	Success      bool   `cbor:"1,keyasint"`
	ErrorMessage string `cbor:"2,keyasint,omitempty"`
	Frame        int32  `cbor:"3,keyasint"`
}

// CallHandlerRequest invokes a global handler. Arguments are datum
// literals in value() syntax; unparseable arguments pass as Void, the
// way value() reads them.
type CallHandlerRequest struct {
	Handler string   `cbor:"1,keyasint"`
	Args    []string `cbor:"2,keyasint,omitempty"`
}

type CallHandlerResponse struct {
	Success      bool         `cbor:"1,keyasint"`
	ErrorMessage string       `cbor:"2,keyasint,omitempty"`
	Result       string       `cbor:"3,keyasint,omitempty"`
	Ilk          string       `cbor:"4,keyasint,omitempty"`
	Handle       *ValueHandle `cbor:"5,keyasint,omitempty"`
}

type SetGlobalRequest struct {
	Name  string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint"`
}

type SetGlobalResponse struct {
	Display string `cbor:"1,keyasint,omitempty"`
}

// EvalRequest parses a datum literal and answers its value.
type EvalRequest struct {
	Source string `cbor:"1,keyasint"`
}

type EvalResponse struct {
	Success      bool         `cbor:"1,keyasint"`
	ErrorMessage string       `cbor:"2,keyasint,omitempty"`
	Result       string       `cbor:"3,keyasint,omitempty"`
	Ilk          string       `cbor:"4,keyasint,omitempty"`
	Handle       *ValueHandle `cbor:"5,keyasint,omitempty"`
}
