package server

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/lingo/vm"
)

// startTestServer mounts a fresh player on a random port and returns the
// base URL and a stop function.
func startTestServer(t *testing.T) (string, func()) {
	t.Helper()

	player := vm.NewPlayer(vm.DefaultConfig())
	if err := player.LoadArchive(testArchive()); err != nil {
		t.Fatalf("loading test archive: %v", err)
	}
	if err := player.StartMovie(); err != nil {
		t.Fatalf("starting test movie: %v", err)
	}
	s := New(player)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	srv := &http.Server{Handler: s.Handler()}
	go func() { _ = srv.Serve(listener) }()

	baseURL := fmt.Sprintf("http://%s", listener.Addr().String())
	stop := func() {
		srv.Close()
		s.Stop()
	}
	return baseURL, stop
}

func dialUnary[Req, Res any](baseURL, procedure string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](
		http.DefaultClient,
		baseURL+procedure,
		connect.WithCodec(newCBORCodec()),
	)
}

func TestEndToEndStatus(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	client := dialUnary[PlayerStatusRequest, PlayerStatusResponse](baseURL, ProcPlayerStatus)
	resp, err := client.CallUnary(bg(), connectReq(&PlayerStatusRequest{}))
	if err != nil {
		t.Fatalf("PlayerStatus: %v", err)
	}
	if resp.Msg.MovieName != "testmovie" {
		t.Errorf("MovieName = %q, want %q", resp.Msg.MovieName, "testmovie")
	}
	if !resp.Msg.Playing {
		t.Error("Playing = false, want true")
	}
}

func TestEndToEndCallHandler(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	call := dialUnary[CallHandlerRequest, CallHandlerResponse](baseURL, ProcCallHandler)
	resp, err := call.CallUnary(bg(), connectReq(&CallHandlerRequest{
		Handler: "sum",
		Args:    []string{"2", "3"},
	}))
	if err != nil {
		t.Fatalf("CallHandler: %v", err)
	}
	if !resp.Msg.Success {
		t.Fatalf("call failed: %s", resp.Msg.ErrorMessage)
	}
	if resp.Msg.Result != "5" {
		t.Errorf("Result = %q, want %q", resp.Msg.Result, "5")
	}
	if resp.Msg.Handle == nil {
		t.Fatal("Handle = nil, want a pinned value")
	}

	release := dialUnary[ReleaseHandleRequest, ReleaseHandleResponse](baseURL, ProcRelease)
	rel, err := release.CallUnary(bg(), connectReq(&ReleaseHandleRequest{
		HandleID: resp.Msg.Handle.ID,
	}))
	if err != nil {
		t.Fatalf("ReleaseHandle: %v", err)
	}
	if !rel.Msg.Released {
		t.Error("Released = false, want true")
	}
}

func TestEndToEndFrameLoop(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	advance := dialUnary[AdvanceFrameRequest, AdvanceFrameResponse](baseURL, ProcAdvanceFrame)
	resp, err := advance.CallUnary(bg(), connectReq(&AdvanceFrameRequest{Ticks: 3}))
	if err != nil {
		t.Fatalf("AdvanceFrame: %v", err)
	}
	if !resp.Msg.Success {
		t.Fatalf("AdvanceFrame failed: %s", resp.Msg.ErrorMessage)
	}
	if resp.Msg.Frame != 4 {
		t.Errorf("Frame = %d, want 4", resp.Msg.Frame)
	}

	globals := dialUnary[ListGlobalsRequest, ListGlobalsResponse](baseURL, ProcListGlobals)
	g, err := globals.CallUnary(bg(), connectReq(&ListGlobalsRequest{}))
	if err != nil {
		t.Fatalf("ListGlobals: %v", err)
	}
	var gFrames string
	for _, entry := range g.Msg.Globals {
		if entry.Name == "gFrames" {
			gFrames = entry.Display
		}
	}
	if gFrames != "3" {
		t.Errorf("gFrames = %q, want %q", gFrames, "3")
	}
}

func TestEndToEndDisassemble(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	client := dialUnary[DisassembleRequest, DisassembleResponse](baseURL, ProcDisassemble)
	resp, err := client.CallUnary(bg(), connectReq(&DisassembleRequest{
		Script:  "Main",
		Handler: "greet",
	}))
	if err != nil {
		t.Fatalf("DisassembleHandler: %v", err)
	}
	if !strings.Contains(resp.Msg.Listing, "on greet") {
		t.Errorf("listing missing handler header:\n%s", resp.Msg.Listing)
	}
}

func TestEndToEndErrorCode(t *testing.T) {
	baseURL, stop := startTestServer(t)
	defer stop()

	client := dialUnary[ListMembersRequest, ListMembersResponse](baseURL, ProcListMembers)
	_, err := client.CallUnary(bg(), connectReq(&ListMembersRequest{CastNum: 99}))
	if err == nil {
		t.Fatal("expected error for unknown cast")
	}
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("code = %v, want %v", connect.CodeOf(err), connect.CodeNotFound)
	}
}
