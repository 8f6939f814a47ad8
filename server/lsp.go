package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/lingo/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "lingo-lsp"

var lspLog = commonlog.GetLogger("lingo.lsp")

// LspServer serves script-editor features over LSP stdio, backed by the
// live player: completion from the loaded casts and built-in command
// table, hover docs, definitions and references as virtual cast URIs.
// Read-only; it never mutates player state.
type LspServer struct {
	worker *PlayerWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates an LSP server wrapping the given player.
func NewLSP(p *vm.Player) *LspServer {
	worker := NewPlayerWorker(p)
	s := &LspServer{
		worker:  worker,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client
// disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", " "},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	lspLog.Info("shutting down")
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.mu.Lock()
	s.docs[string(params.TextDocument.URI)] = params.TextDocument.Text
	s.mu.Unlock()
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.mu.Lock()
	delete(s.docs, string(params.TextDocument.URI))
	s.mu.Unlock()
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	prefix, afterThe := extractPrefix(text, params.Position)
	if afterThe {
		return moviePropCompletions(prefix), nil
	}
	if prefix == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		return s.complete(p, prefix)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		return s.hover(p, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		return s.definition(p, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	s.mu.Lock()
	text, ok := s.docs[string(params.TextDocument.URI)]
	s.mu.Unlock()

	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.worker.Do(func(p *vm.Player) any {
		return s.references(p, word)
	})
	if err != nil || result == nil {
		return nil, nil
	}
	return result.([]protocol.Location), nil
}

// --- Player-backed logic (called on worker goroutine) ---

func (s *LspServer) complete(p *vm.Player, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	// Built-in commands
	for _, name := range p.BuiltinNames() {
		if strings.HasPrefix(name, lowerPrefix) {
			kind := protocol.CompletionItemKindFunction
			detail := "built-in"
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
	}

	// Handlers of loaded scripts
	for _, lib := range p.Casts().Casts() {
		for _, num := range lib.MemberNumbers() {
			m, err := lib.GetMember(num)
			if err != nil || m.Script == nil {
				continue
			}
			for _, h := range m.Script.Handlers {
				name := m.Script.HandlerName(h)
				if !strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
					continue
				}
				kind := protocol.CompletionItemKindMethod
				detail := fmt.Sprintf("handler of %s", scriptLabel(m))
				nameCopy := name
				items = append(items, protocol.CompletionItem{
					Label:      name,
					Kind:       &kind,
					Detail:     &detail,
					InsertText: &nameCopy,
				})
			}
		}
	}

	// Globals
	for _, name := range p.GlobalNames() {
		if strings.HasPrefix(strings.ToLower(name), lowerPrefix) {
			kind := protocol.CompletionItemKindVariable
			detail := "global"
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label:      name,
				Kind:       &kind,
				Detail:     &detail,
				InsertText: &nameCopy,
			})
		}
	}

	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) hover(p *vm.Player, word string) *protocol.Hover {
	lower := strings.ToLower(word)

	if doc, ok := builtinDocs[lower]; ok {
		return markdownHover(fmt.Sprintf("**%s**\n\n%s", doc.signature, doc.summary))
	}
	if doc, ok := moviePropDocs[lower]; ok {
		return markdownHover(fmt.Sprintf("**the %s**\n\n%s", word, doc))
	}

	// Loaded script handler: show its signature and owner.
	caseSensitive := p.Config().CaseSensitiveNames
	for _, lib := range p.Casts().Casts() {
		for _, num := range lib.MemberNumbers() {
			m, err := lib.GetMember(num)
			if err != nil || m.Script == nil {
				continue
			}
			h, _ := m.Script.GetHandler(word, caseSensitive)
			if h == nil {
				continue
			}
			var b strings.Builder
			fmt.Fprintf(&b, "**on %s", m.Script.HandlerName(h))
			for i, id := range h.ArgNameIDs {
				if i > 0 {
					b.WriteString(",")
				}
				fmt.Fprintf(&b, " %s", m.Script.Context.Name(id))
			}
			b.WriteString("**\n\n")
			fmt.Fprintf(&b, "%s handler of %s", m.Script.Type, scriptLabel(m))
			return markdownHover(b.String())
		}
	}

	return nil
}

func (s *LspServer) definition(p *vm.Player, word string) []protocol.Location {
	caseSensitive := p.Config().CaseSensitiveNames

	var locations []protocol.Location
	for _, lib := range p.Casts().Casts() {
		for _, num := range lib.MemberNumbers() {
			m, err := lib.GetMember(num)
			if err != nil || m.Script == nil {
				continue
			}
			h, _ := m.Script.GetHandler(word, caseSensitive)
			if h == nil {
				continue
			}
			locations = append(locations, castLocation(lib, m, m.Script.HandlerName(h)))
		}
	}
	return locations
}

func (s *LspServer) references(p *vm.Player, word string) []protocol.Location {
	caseSensitive := p.Config().CaseSensitiveNames

	var locations []protocol.Location
	for _, lib := range p.Casts().Casts() {
		for _, num := range lib.MemberNumbers() {
			m, err := lib.GetMember(num)
			if err != nil || m.Script == nil {
				continue
			}
			for _, h := range m.Script.Handlers {
				if handlerCalls(m.Script, h, word, caseSensitive) {
					locations = append(locations, castLocation(lib, m, m.Script.HandlerName(h)))
				}
			}
		}
	}
	return locations
}

// handlerCalls reports whether a handler's bytecode calls the named
// handler through any of the three call forms.
func handlerCalls(script *vm.Script, h *vm.Handler, name string, caseSensitive bool) bool {
	r := vm.NewBytecodeReader(h.Code)
	for r.HasMore() {
		op, operand, ok := r.ReadInstruction()
		if !ok {
			return false
		}
		switch op {
		case vm.OpExtCall, vm.OpObjCall:
			if nameMatch(script.Context.Name(int(operand)), name, caseSensitive) {
				return true
			}
		case vm.OpLocalCall:
			if int(operand) >= 0 && int(operand) < len(script.Handlers) {
				target := script.HandlerName(script.Handlers[operand])
				if nameMatch(target, name, caseSensitive) {
					return true
				}
			}
		}
	}
	return false
}

func nameMatch(a, b string, caseSensitive bool) bool {
	if caseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

// scriptLabel names a script member for display, falling back to its
// number.
func scriptLabel(m *vm.CastMember) string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("member %d", m.Number)
}

// castLocation builds a virtual URI addressing a handler inside a cast.
func castLocation(lib *vm.CastLib, m *vm.CastMember, handler string) protocol.Location {
	return protocol.Location{
		URI: protocol.DocumentUri(fmt.Sprintf("lingo://cast/%d/%d#%s", lib.Number, m.Number, handler)),
		Range: protocol.Range{
			Start: protocol.Position{Line: 0, Character: 0},
			End:   protocol.Position{Line: 0, Character: 0},
		},
	}
}

func markdownHover(value string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: value,
		},
	}
}

// --- Static catalogs ---

type builtinDoc struct {
	signature string
	summary   string
}

// builtinDocs carries hover text for the commands tools ask about most.
// Completion covers the full table through Player.BuiltinNames.
var builtinDocs = map[string]builtinDoc{
	"put":       {"put value...", "Writes display forms of the arguments to the console."},
	"go":        {"go frame", "Jumps the movie to a frame number or marker label."},
	"script":    {"script(nameOrNum)", "Resolves a script member reference."},
	"member":    {"member(nameOrNum [, castLib])", "Resolves a cast member reference."},
	"castlib":   {"castLib(nameOrNum)", "Resolves a cast library reference."},
	"timeout":   {"timeout(name)", "Resolves a named timeout; new(period, #handler, target) schedules it."},
	"new":       {"new(scriptRef, args...)", "Creates a script instance and runs its new handler."},
	"value":     {"value(string)", "Parses a datum literal: number, string, #symbol, [list] or [k: v]."},
	"string":    {"string(value)", "Converts any value to its string form."},
	"integer":   {"integer(value)", "Rounds to an integer; strings parse first."},
	"float":     {"float(value)", "Converts a number to floating point."},
	"symbol":    {"symbol(value)", "Interns a string as a symbol."},
	"list":      {"list(values...)", "Builds a linear list from the arguments."},
	"length":    {"length(stringOrList)", "Counts characters or elements."},
	"count":     {"count(listOrPropList)", "Counts elements or property pairs."},
	"ilk":       {"ilk(value [, kind])", "Answers a value's kind symbol, or tests against one."},
	"voidp":     {"voidp(value)", "Tests for Void."},
	"objectp":   {"objectp(value)", "Tests for an object-like value: instance, script, member, castLib, timeout."},
	"listp":     {"listp(value)", "Tests for a list or property list."},
	"random":    {"random(n)", "Answers a random integer from 1 to n."},
	"abs":       {"abs(n)", "Absolute value."},
	"min":       {"min(values...)", "Smallest argument, or smallest element of a single list."},
	"max":       {"max(values...)", "Largest argument, or largest element of a single list."},
	"power":     {"power(base, exponent)", "Raises base to exponent."},
	"sqrt":      {"sqrt(n)", "Square root."},
	"chars":     {"chars(string, first, last)", "Extracts a character range, 1-based inclusive."},
	"chartonum": {"charToNum(string)", "Numeric code of the first character."},
	"numtochar": {"numToChar(n)", "Single-character string for a numeric code."},
	"offset":    {"offset(needle, haystack)", "1-based position of needle in haystack, 0 when absent."},
	"param":     {"param(n)", "The nth argument of the current handler, 1-based."},
}

// moviePropDocs carries hover and completion text for the-properties.
var moviePropDocs = map[string]string{
	"itemdelimiter":  "The item chunk separator character. Settable; only the first character sticks.",
	"floatprecision": "Digits shown after the decimal point, 0 to 15. Settable.",
	"frame":          "The current frame number.",
	"moviename":      "The loaded movie's name.",
	"moviepath":      "The loaded movie's path.",
	"platform":       "The host platform string.",
	"productversion": "The runtime version string.",
	"runmode":        "The run mode string.",
	"exitlock":       "Whether scripts may halt playback. Settable.",
	"updatelock":     "Whether stage updates are suppressed. Settable.",
	"actorlist":      "The list of instances stepped every frame. Settable.",
	"milliseconds":   "Elapsed wall time since the runtime started, in milliseconds.",
	"ticks":          "Elapsed time in sixtieths of a second.",
	"timer":          "Ticks since the timer was last reset. Settable to reset.",
	"result":         "The value answered by the most recent handler call.",
	"paramcount":     "The argument count of the current handler.",
	"randomseed":     "Seeds the random number generator. Settable.",
	"time":           "The current time, short form.",
	"date":           "The current date, short form.",
}

// moviePropCompletions lists the-properties matching a prefix.
func moviePropCompletions(prefix string) []protocol.CompletionItem {
	lowerPrefix := strings.ToLower(prefix)

	names := make([]string, 0, len(moviePropDocs))
	for name := range moviePropDocs {
		if strings.HasPrefix(name, lowerPrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	items := make([]protocol.CompletionItem, 0, len(names))
	for _, name := range names {
		kind := protocol.CompletionItemKindProperty
		detail := "movie property"
		nameCopy := name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &nameCopy,
		})
	}
	return items
}

// --- Text extraction helpers ---

// extractPrefix returns the identifier fragment before the cursor for
// completion, and whether it follows "the " on the same line.
func extractPrefix(text string, pos protocol.Position) (string, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", false
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	head := strings.ToLower(strings.TrimRight(line[:start], " \t"))
	afterThe := head == "the" || strings.HasSuffix(head, " the") || strings.HasSuffix(head, "(the")

	return line[start:col], afterThe
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			start--
		} else {
			break
		}
	}

	end := col
	for end < len(line) {
		ch := rune(line[end])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' {
			end++
		} else {
			break
		}
	}

	if start == end {
		return ""
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
