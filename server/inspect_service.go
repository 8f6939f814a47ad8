package server

import (
	"context"
	"fmt"
	"strings"

	"connectrpc.com/connect"

	"github.com/chazu/lingo/vm"
)

// InspectService answers read-only questions about a running player:
// what movie is loaded, how the arena looks, what a pinned instance
// holds, how a handler decompiles.
type InspectService struct {
	worker  *PlayerWorker
	handles *HandleStore
}

// NewInspectService creates an InspectService.
func NewInspectService(worker *PlayerWorker, handles *HandleStore) *InspectService {
	return &InspectService{worker: worker, handles: handles}
}

// PlayerStatus reports the player's vital signs.
func (s *InspectService) PlayerStatus(
	ctx context.Context,
	req *connect.Request[PlayerStatusRequest],
) (*connect.Response[PlayerStatusResponse], error) {
	result, err := s.worker.Do(func(p *vm.Player) any {
		return &PlayerStatusResponse{
			MovieName:     p.Movie().Name(),
			MoviePath:     p.Movie().Path(),
			Frame:         p.Movie().Frame(),
			Playing:       p.Movie().Playing(),
			OccupiedSlots: p.Arena().OccupiedSlots(),
			FreeSlots:     p.Arena().FreeSlots(),
			CallDepth:     p.CallDepth(),
			GlobalCount:   len(p.GlobalNames()),
			HandleCount:   s.handles.Count(),
			Milliseconds:  p.Milliseconds(),
		}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*PlayerStatusResponse)), nil
}

// ListGlobals lists the set globals with their display values.
func (s *InspectService) ListGlobals(
	ctx context.Context,
	req *connect.Request[ListGlobalsRequest],
) (*connect.Response[ListGlobalsResponse], error) {
	result, err := s.worker.Do(func(p *vm.Player) any {
		names := p.GlobalNames()
		entries := make([]GlobalEntry, 0, len(names))
		for _, name := range names {
			ref := p.GetGlobal(name)
			entries = append(entries, GlobalEntry{
				Name:    name,
				Ilk:     ilkOf(p, ref),
				Display: p.FormatRef(ref),
			})
		}
		return &ListGlobalsResponse{Globals: entries}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*ListGlobalsResponse)), nil
}

// ListCasts lists the mounted cast libraries.
func (s *InspectService) ListCasts(
	ctx context.Context,
	req *connect.Request[ListCastsRequest],
) (*connect.Response[ListCastsResponse], error) {
	result, err := s.worker.Do(func(p *vm.Player) any {
		libs := p.Casts().Casts()
		infos := make([]CastInfo, 0, len(libs))
		for _, lib := range libs {
			infos = append(infos, CastInfo{
				Number:      lib.Number,
				Name:        lib.Name,
				FileName:    lib.FileName,
				MemberCount: lib.MemberCount(),
			})
		}
		return &ListCastsResponse{Casts: infos}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*ListCastsResponse)), nil
}

// ListMembers lists the members of one cast library, script handler
// names included.
func (s *InspectService) ListMembers(
	ctx context.Context,
	req *connect.Request[ListMembersRequest],
) (*connect.Response[ListMembersResponse], error) {
	result, err := s.worker.Do(func(p *vm.Player) any {
		lib, err := p.Casts().GetCast(req.Msg.CastNum)
		if err != nil {
			return err
		}
		members := make([]MemberInfo, 0, lib.MemberCount())
		for _, num := range lib.MemberNumbers() {
			m, err := lib.GetMember(num)
			if err != nil {
				continue
			}
			info := MemberInfo{
				Number: m.Number,
				Name:   m.Name,
				Kind:   m.Kind.String(),
			}
			if m.Script != nil {
				for _, h := range m.Script.Handlers {
					info.Handlers = append(info.Handlers, m.Script.HandlerName(h))
				}
			}
			members = append(members, info)
		}
		return &ListMembersResponse{Members: members}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeNotFound, errVal)
	}
	return connect.NewResponse(result.(*ListMembersResponse)), nil
}

// InstanceProps lists the properties of a pinned script instance, read
// through the same dispatch surface scripts use.
func (s *InspectService) InstanceProps(
	ctx context.Context,
	req *connect.Request[InstancePropsRequest],
) (*connect.Response[InstancePropsResponse], error) {
	if req.Msg.HandleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle_id is required"))
	}
	ref, ok := s.handles.Lookup(req.Msg.HandleID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", req.Msg.HandleID))
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		d, err := p.Arena().Get(ref)
		if err != nil {
			return err
		}
		if d.Kind != vm.KindInstance {
			return fmt.Errorf("handle %q is a %s, not an instance", req.Msg.HandleID, d.IlkName())
		}

		resp := &InstancePropsResponse{}
		if scriptRef, err := p.GetProp(ref, "script"); err == nil {
			if sd, derr := p.Arena().Get(scriptRef); derr == nil && sd.Kind == vm.KindScript {
				if m := p.Casts().FindMember(sd.Member); m != nil {
					resp.ScriptName = m.Name
				}
			}
			p.Arena().Release(scriptRef)
		}

		countRef, err := p.CallOn(ref, "count", nil)
		if err != nil {
			return err
		}
		cd, err := p.Arena().Get(countRef)
		if err != nil {
			p.Arena().Release(countRef)
			return err
		}
		n, _ := cd.IntValue()
		p.Arena().Release(countRef)

		for i := int32(1); i <= n; i++ {
			idxRef, err := p.Arena().Alloc(vm.IntDatum(i))
			if err != nil {
				return err
			}
			nameRef, err := p.CallOn(ref, "getPropAt", []vm.Ref{idxRef})
			if err != nil {
				p.Arena().Release(idxRef)
				return err
			}
			valRef, err := p.CallOn(ref, "getAt", []vm.Ref{idxRef})
			if err != nil {
				p.Arena().Release(nameRef)
				p.Arena().Release(idxRef)
				return err
			}

			entry := PropEntry{
				Ilk:     ilkOf(p, valRef),
				Display: p.FormatRef(valRef),
			}
			if nd, derr := p.Arena().Get(nameRef); derr == nil {
				if sym, serr := nd.SymbolName(); serr == nil {
					entry.Name = sym
				}
			}
			resp.Props = append(resp.Props, entry)

			p.Arena().Release(valRef)
			p.Arena().Release(nameRef)
			p.Arena().Release(idxRef)
		}
		return resp
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, errVal)
	}
	return connect.NewResponse(result.(*InstancePropsResponse)), nil
}

// DisassembleHandler returns an annotated bytecode listing for one
// handler, or every handler of a script.
func (s *InspectService) DisassembleHandler(
	ctx context.Context,
	req *connect.Request[DisassembleRequest],
) (*connect.Response[DisassembleResponse], error) {
	if req.Msg.Script == "" && req.Msg.MemberNum == 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument,
			fmt.Errorf("either script name or cast/member numbers are required"))
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		caseSensitive := p.Config().CaseSensitiveNames

		var script *vm.Script
		if req.Msg.Script != "" {
			script = p.Casts().ScriptByName(req.Msg.Script, caseSensitive)
			if script == nil {
				return fmt.Errorf("no script member named %q", req.Msg.Script)
			}
		} else {
			lib, err := p.Casts().GetCast(req.Msg.CastNum)
			if err != nil {
				return err
			}
			m, err := lib.GetMember(req.Msg.MemberNum)
			if err != nil {
				return err
			}
			if m.Script == nil {
				return fmt.Errorf("member %d of castLib %d is not a script", req.Msg.MemberNum, req.Msg.CastNum)
			}
			script = m.Script
		}

		if req.Msg.Handler != "" {
			h, _ := script.GetHandler(req.Msg.Handler, caseSensitive)
			if h == nil {
				return fmt.Errorf("script %q has no handler %q", script.Name, req.Msg.Handler)
			}
			return &DisassembleResponse{Listing: vm.DisassembleHandler(script, h)}
		}

		listings := make([]string, 0, len(script.Handlers))
		for _, h := range script.Handlers {
			listings = append(listings, vm.DisassembleHandler(script, h))
		}
		return &DisassembleResponse{Listing: strings.Join(listings, "\n\n")}
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if errVal, ok := result.(error); ok {
		return nil, connect.NewError(connect.CodeNotFound, errVal)
	}
	return connect.NewResponse(result.(*DisassembleResponse)), nil
}

// ReleaseHandle unpins a value handle, letting the arena reclaim it.
func (s *InspectService) ReleaseHandle(
	ctx context.Context,
	req *connect.Request[ReleaseHandleRequest],
) (*connect.Response[ReleaseHandleResponse], error) {
	if req.Msg.HandleID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle_id is required"))
	}
	released := s.handles.Release(req.Msg.HandleID)
	return connect.NewResponse(&ReleaseHandleResponse{Released: released}), nil
}

// ilkOf names a value's kind the way scripts see it.
func ilkOf(p *vm.Player, ref vm.Ref) string {
	d, err := p.Arena().Get(ref)
	if err != nil {
		return "void"
	}
	return d.IlkName()
}
