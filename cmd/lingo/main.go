// Lingo CLI - the main entry point for running Lingo movies
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/lingo/manifest"
	"github.com/chazu/lingo/server"
	"github.com/chazu/lingo/vm"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0-2)")
	info := flag.Bool("info", false, "Print movie contents and exit")
	frames := flag.Int("frames", 0, "Advance this many frames, then stop")
	fps := flag.Int("fps", 30, "Frame rate of the run loop")
	callEntry := flag.String("call", "", "Call a handler after startMovie, print its result")
	serveMode := flag.Bool("serve", false, "Start the inspection server (Connect over HTTP/CBOR)")
	servePort := flag.Int("port", 0, "Inspection server port (default from lingo.toml, else 7455)")
	lspMode := flag.Bool("lsp", false, "Start the script editor language server on stdio")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: lingo [options] [movie.lmv] [handler args...]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Lingo movie archive. Without a path, the entry movie of the\n")
		fmt.Fprintf(os.Stderr, "nearest lingo.toml is used.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  lingo game.lmv                  # Run until the movie halts\n")
		fmt.Fprintf(os.Stderr, "  lingo -frames 10 game.lmv       # Advance ten frames, then stop\n")
		fmt.Fprintf(os.Stderr, "  lingo -info game.lmv            # List casts, members and handlers\n")
		fmt.Fprintf(os.Stderr, "  lingo -call sum game.lmv 2 3    # Call sum(2, 3), print the result\n")
		fmt.Fprintf(os.Stderr, "  lingo -serve game.lmv           # Inspection server on :7455\n")
		fmt.Fprintf(os.Stderr, "  lingo -lsp                      # Language server on stdio\n")
	}
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading lingo.toml: %v\n", err)
		os.Exit(1)
	}

	player := vm.NewPlayer(playerConfig(m))
	player.SetConsole(os.Stdout)

	moviePath := flag.Arg(0)
	if moviePath == "" && m != nil {
		moviePath = m.EntryPath()
	}
	if moviePath != "" {
		if err := loadMovie(player, moviePath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	if m != nil {
		if err := mountCasts(player, m, *verbosity > 0); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if *info {
		printInfo(player)
		os.Exit(0)
	}

	if *lspMode {
		if err := server.NewLSP(player).Run(); err != nil {
			fmt.Fprintf(os.Stderr, "LSP error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if moviePath == "" && !*serveMode && *callEntry == "" {
		flag.Usage()
		os.Exit(1)
	}

	if moviePath != "" {
		if err := player.StartMovie(); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting movie: %v\n", err)
			os.Exit(1)
		}
	}

	if *callEntry != "" {
		if err := callHandler(player, *callEntry, flag.Args()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		stopQuietly(player)
		os.Exit(0)
	}

	if *serveMode {
		port := *servePort
		if port == 0 {
			port = 7455
			if m != nil {
				port = m.Server.Port
			}
		}
		srv := server.New(player)
		defer srv.Stop()
		if err := srv.ListenAndServe(fmt.Sprintf(":%d", port)); err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if err := runFrames(player, *frames, *fps); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
	stopQuietly(player)
}

// playerConfig maps the manifest's runtime table onto the player
// configuration, falling back to the defaults without a manifest.
func playerConfig(m *manifest.Manifest) vm.Config {
	cfg := vm.DefaultConfig()
	if m == nil {
		return cfg
	}
	cfg.CaseSensitiveNames = m.Runtime.CaseSensitiveNames
	cfg.FloatPrecision = m.Runtime.FloatPrecision
	if m.Runtime.ItemDelimiter != "" {
		cfg.ItemDelimiter = m.Runtime.ItemDelimiter[0]
	}
	if m.Runtime.MaxCallDepth > 0 {
		cfg.MaxCallDepth = m.Runtime.MaxCallDepth
	}
	if m.Runtime.ArenaCapacity > 0 {
		cfg.ArenaCapacity = m.Runtime.ArenaCapacity
	}
	return cfg
}

func loadMovie(player *vm.Player, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := player.LoadMovieData(data); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	player.Movie().SetPath(path)
	return nil
}

// mountCasts adds the manifest's external cast archives to the player.
func mountCasts(player *vm.Player, m *manifest.Manifest, verbose bool) error {
	resolved, err := m.ResolveCasts()
	if err != nil {
		return err
	}
	for _, rc := range resolved {
		data, err := os.ReadFile(rc.Path)
		if err != nil {
			return err
		}
		if err := player.MountArchiveData(data, rc.Number, rc.Name); err != nil {
			return fmt.Errorf("mounting %s: %w", rc.Path, err)
		}
		if verbose {
			fmt.Printf("Mounted cast %d from %s\n", rc.Number, rc.Path)
		}
	}
	return nil
}

// runFrames drives the frame loop. A positive count advances that many
// frames as fast as they execute; otherwise the loop ticks at the given
// rate until the movie halts. Script errors log and playback resumes at
// the next frame; only fatal errors end the loop.
func runFrames(player *vm.Player, count, fps int) error {
	if count > 0 {
		for i := 0; i < count && player.Movie().Playing(); i++ {
			if err := player.AdvanceFrame(); err != nil {
				if vm.IsFatal(err) {
					return err
				}
				fmt.Fprintf(os.Stderr, "Script error at frame %d: %v\n", player.Movie().Frame(), err)
			}
		}
		return nil
	}

	if fps < 1 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for player.Movie().Playing() {
		<-ticker.C
		if err := player.AdvanceFrame(); err != nil {
			if vm.IsFatal(err) {
				return err
			}
			fmt.Fprintf(os.Stderr, "Script error at frame %d: %v\n", player.Movie().Frame(), err)
		}
	}
	return nil
}

// callHandler invokes a handler with the trailing command-line arguments
// parsed as value literals, then prints the result.
func callHandler(player *vm.Player, name string, cliArgs []string) error {
	// Args follow the movie path on the command line.
	var literals []string
	if len(cliArgs) > 1 {
		literals = cliArgs[1:]
	}

	args := make([]vm.Ref, 0, len(literals))
	release := func() {
		for _, ref := range args {
			player.Arena().Release(ref)
		}
	}
	for _, lit := range literals {
		ref, err := player.ParseValue(lit)
		if err != nil {
			release()
			return fmt.Errorf("argument %q: %w", lit, err)
		}
		args = append(args, ref)
	}

	result, err := player.Call(name, args)
	release()
	if err != nil {
		return err
	}
	fmt.Println(player.FormatRef(result))
	player.Arena().Release(result)
	return nil
}

func stopQuietly(player *vm.Player) {
	if err := player.StopMovie(); err != nil {
		fmt.Fprintf(os.Stderr, "Script error in stopMovie: %v\n", err)
	}
}

// printInfo lists the loaded movie's casts, members and handlers.
func printInfo(player *vm.Player) {
	movie := player.Movie()
	fmt.Printf("Movie: %s\n", movie.Name())
	if movie.Path() != "" {
		fmt.Printf("Path:  %s\n", movie.Path())
	}

	for _, lib := range player.Casts().Casts() {
		fmt.Printf("\nCast %d %q (%d members)\n", lib.Number, lib.Name, lib.MemberCount())
		for _, num := range lib.MemberNumbers() {
			member, err := lib.GetMember(num)
			if err != nil {
				continue
			}
			fmt.Printf("  %3d  %-10s %s\n", member.Number, member.Kind, member.Name)
			if member.Script != nil {
				for _, h := range member.Script.Handlers {
					fmt.Printf("         on %s\n", member.Script.HandlerName(h))
				}
			}
		}
	}

	frames := movie.FrameScriptFrames()
	if len(frames) > 0 {
		fmt.Printf("\nFrame scripts:")
		for _, frame := range frames {
			fmt.Printf(" %d", frame)
		}
		fmt.Println()
	}
}
