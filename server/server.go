package server

import (
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"

	"github.com/chazu/lingo/vm"
)

var log = commonlog.GetLogger("lingo.server")

// Server mounts the player's connect services on an HTTP mux. Both
// services speak CBOR over the connect protocol on one port.
type Server struct {
	worker  *PlayerWorker
	handles *HandleStore
	mux     *http.ServeMux

	stopSweeper func()
}

// New wraps a player in a server. The player must not be used directly
// afterwards; every access runs through the worker gate.
func New(p *vm.Player) *Server {
	worker := NewPlayerWorker(p)
	handles := NewHandleStore(worker)

	s := &Server{
		worker:  worker,
		handles: handles,
		mux:     http.NewServeMux(),
	}

	codec := connect.WithCodec(newCBORCodec())

	inspect := NewInspectService(worker, handles)
	control := NewControlService(worker, handles)

	s.mux.Handle(ProcPlayerStatus, connect.NewUnaryHandler(ProcPlayerStatus, inspect.PlayerStatus, codec))
	s.mux.Handle(ProcListGlobals, connect.NewUnaryHandler(ProcListGlobals, inspect.ListGlobals, codec))
	s.mux.Handle(ProcListCasts, connect.NewUnaryHandler(ProcListCasts, inspect.ListCasts, codec))
	s.mux.Handle(ProcListMembers, connect.NewUnaryHandler(ProcListMembers, inspect.ListMembers, codec))
	s.mux.Handle(ProcInstance, connect.NewUnaryHandler(ProcInstance, inspect.InstanceProps, codec))
	s.mux.Handle(ProcDisassemble, connect.NewUnaryHandler(ProcDisassemble, inspect.DisassembleHandler, codec))
	s.mux.Handle(ProcRelease, connect.NewUnaryHandler(ProcRelease, inspect.ReleaseHandle, codec))

	s.mux.Handle(ProcLoadMovie, connect.NewUnaryHandler(ProcLoadMovie, control.LoadMovie, codec))
	s.mux.Handle(ProcStartMovie, connect.NewUnaryHandler(ProcStartMovie, control.StartMovie, codec))
	s.mux.Handle(ProcStopMovie, connect.NewUnaryHandler(ProcStopMovie, control.StopMovie, codec))
	s.mux.Handle(ProcAdvanceFrame, connect.NewUnaryHandler(ProcAdvanceFrame, control.AdvanceFrame, codec))
	s.mux.Handle(ProcCallHandler, connect.NewUnaryHandler(ProcCallHandler, control.CallHandler, codec))
	s.mux.Handle(ProcSetGlobal, connect.NewUnaryHandler(ProcSetGlobal, control.SetGlobal, codec))
	s.mux.Handle(ProcEval, connect.NewUnaryHandler(ProcEval, control.Eval, codec))

	// Sweep stale handles every 5 minutes, 30-minute TTL.
	s.stopSweeper = handles.StartSweeper(5*time.Minute, 30*time.Minute)

	return s
}

// Handler exposes the mux, for mounting under a parent server or a test
// harness.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address, in the
// form "host:port" or ":port". Blocks until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("player server listening on %s", addr)
	log.Infof("connect procedures under http://%s/lingo.v1.*", addr)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the sweeper and the player gate.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.worker.Stop()
}
