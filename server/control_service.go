package server

import (
	"context"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/lingo/vm"
)

// ControlService drives a player remotely: load a movie archive, run the
// frame loop, call handlers, poke globals. Script failures come back in
// the response envelope; malformed requests fail the RPC.
type ControlService struct {
	worker  *PlayerWorker
	handles *HandleStore
}

// NewControlService creates a ControlService.
func NewControlService(worker *PlayerWorker, handles *HandleStore) *ControlService {
	return &ControlService{worker: worker, handles: handles}
}

// LoadMovie replaces the player's movie state with the archive bytes.
// Outstanding handles die with the old arena.
func (s *ControlService) LoadMovie(
	ctx context.Context,
	req *connect.Request[LoadMovieRequest],
) (*connect.Response[LoadMovieResponse], error) {
	if len(req.Msg.Data) == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("movie data is required"))
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		if err := p.LoadMovieData(req.Msg.Data); err != nil {
			return err
		}
		return &LoadMovieResponse{
			MovieName: p.Movie().Name(),
			CastCount: len(p.Casts().Casts()),
		}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errVal)
	}
	return connect.NewResponse(result.(*LoadMovieResponse)), nil
}

// StartMovie runs the movie start events and prepares the first frame.
func (s *ControlService) StartMovie(
	ctx context.Context,
	req *connect.Request[StartMovieRequest],
) (*connect.Response[StartMovieResponse], error) {
	result, err := s.worker.Do(func(p *vm.Player) any {
		resp := &StartMovieResponse{Success: true}
		if err := p.StartMovie(); err != nil {
			resp.Success = false
			resp.ErrorMessage = err.Error()
		}
		resp.Frame = p.Movie().Frame()
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*StartMovieResponse)), nil
}

// StopMovie runs the movie stop events.
func (s *ControlService) StopMovie(
	ctx context.Context,
	req *connect.Request[StopMovieRequest],
) (*connect.Response[StopMovieResponse], error) {
	result, err := s.worker.Do(func(p *vm.Player) any {
		resp := &StopMovieResponse{Success: true}
		if err := p.StopMovie(); err != nil {
			resp.Success = false
			resp.ErrorMessage = err.Error()
		}
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*StopMovieResponse)), nil
}

// AdvanceFrame steps the frame loop. A tick count of zero means one
// tick; the response carries the frame the movie landed on.
func (s *ControlService) AdvanceFrame(
	ctx context.Context,
	req *connect.Request[AdvanceFrameRequest],
) (*connect.Response[AdvanceFrameResponse], error) {
	ticks := req.Msg.Ticks
	if ticks <= 0 {
		ticks = 1
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		resp := &AdvanceFrameResponse{Success: true}
		for i := int32(0); i < ticks; i++ {
			if err := p.AdvanceFrame(); err != nil {
				resp.Success = false
				resp.ErrorMessage = err.Error()
				break
			}
		}
		resp.Frame = p.Movie().Frame()
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*AdvanceFrameResponse)), nil
}

// CallHandler invokes a global handler with datum literal arguments and
// pins the result.
func (s *ControlService) CallHandler(
	ctx context.Context,
	req *connect.Request[CallHandlerRequest],
) (*connect.Response[CallHandlerResponse], error) {
	if req.Msg.Handler == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handler name is required"))
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		args := make([]vm.Ref, 0, len(req.Msg.Args))
		for _, src := range req.Msg.Args {
			ref, err := p.ParseValue(src)
			if err != nil {
				releaseRefs(p, args)
				return err
			}
			args = append(args, ref)
		}

		resultRef, callErr := p.Call(req.Msg.Handler, args)
		releaseRefs(p, args)
		if callErr != nil {
			return &CallHandlerResponse{
				Success:      false,
				ErrorMessage: callErr.Error(),
			}
		}

		resp := &CallHandlerResponse{
			Success: true,
			Result:  p.FormatRef(resultRef),
			Ilk:     ilkOf(p, resultRef),
		}
		resp.Handle = s.pinValue(p, resultRef)
		p.Arena().Release(resultRef)
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeInternal, errVal)
	}
	return connect.NewResponse(result.(*CallHandlerResponse)), nil
}

// SetGlobal parses a datum literal and stores it under the global name.
func (s *ControlService) SetGlobal(
	ctx context.Context,
	req *connect.Request[SetGlobalRequest],
) (*connect.Response[SetGlobalResponse], error) {
	if req.Msg.Name == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("global name is required"))
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		ref, err := p.ParseValue(req.Msg.Value)
		if err != nil {
			return err
		}
		p.SetGlobal(req.Msg.Name, ref)
		display := p.FormatRef(ref)
		p.Arena().Release(ref)
		return &SetGlobalResponse{Display: display}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errVal)
	}
	return connect.NewResponse(result.(*SetGlobalResponse)), nil
}

// Eval parses a datum literal and answers its display form and a pinned
// handle, the way put would show it.
func (s *ControlService) Eval(
	ctx context.Context,
	req *connect.Request[EvalRequest],
) (*connect.Response[EvalResponse], error) {
	if req.Msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		ref, err := p.ParseValue(req.Msg.Source)
		if err != nil {
			return &EvalResponse{
				Success:      false,
				ErrorMessage: err.Error(),
			}
		}
		resp := &EvalResponse{
			Success: true,
			Result:  p.FormatRef(ref),
			Ilk:     ilkOf(p, ref),
		}
		resp.Handle = s.pinValue(p, ref)
		p.Arena().Release(ref)
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*EvalResponse)), nil
}

// pinValue creates a handle for a value. Must run on the player
// goroutine.
func (s *ControlService) pinValue(p *vm.Player, ref vm.Ref) *ValueHandle {
	ilk := ilkOf(p, ref)
	display := p.FormatRef(ref)
	id := s.handles.Create(p, ref, ilk, display)
	return &ValueHandle{ID: id, Ilk: ilk, Display: display}
}

func releaseRefs(p *vm.Player, refs []vm.Ref) {
	for _, ref := range refs {
		p.Arena().Release(ref)
	}
}
