// Package lsp serves an elmls Engine over the Language Server Protocol.
package lsp

import (
	contextpkg "context"
	"errors"
	"sync"
	"time"

	logging "github.com/op/go-logging"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"github.com/jward/elmls"
	"github.com/jward/elmls/internal/document"
)

var log = logging.MustGetLogger("elmls.lsp")

const serverName = "elmls"

// Opener creates the engine for a workspace root once the client names it.
type Opener func(root string) (*elmls.Engine, error)

// Server adapts LSP requests to Engine calls.
type Server struct {
	handler  protocol.Handler
	open     Opener
	engine   *elmls.Engine
	watch    bool
	debounce time.Duration
	debug    bool

	ctx     contextpkg.Context
	cancel  contextpkg.CancelFunc
	pending sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithEngine serves an engine that already exists instead of opening one at
// initialize.
func WithEngine(e *elmls.Engine) Option {
	return func(s *Server) { s.engine = e }
}

// WithOpener sets how the engine is created from the client's root.
func WithOpener(fn Opener) Option {
	return func(s *Server) { s.open = fn }
}

// WithWatch keeps the index in sync with files changed outside the editor.
func WithWatch(debounce time.Duration) Option {
	return func(s *Server) {
		s.watch = true
		s.debounce = debounce
	}
}

// WithDebug enables protocol tracing in the transport.
func WithDebug(debug bool) Option {
	return func(s *Server) { s.debug = debug }
}

// New creates a Server.
func New(opts ...Option) *Server {
	s := &Server{
		open:     func(root string) (*elmls.Engine, error) { return elmls.New(root) },
		debounce: elmls.DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = contextpkg.WithCancel(contextpkg.Background())
	s.handler = protocol.Handler{
		Initialize:                 s.initialize,
		Initialized:                s.initialized,
		Shutdown:                   s.shutdown,
		SetTrace:                   s.setTrace,
		TextDocumentDidOpen:        s.textDocumentDidOpen,
		TextDocumentDidChange:      s.textDocumentDidChange,
		TextDocumentDidSave:        s.textDocumentDidSave,
		TextDocumentDidClose:       s.textDocumentDidClose,
		TextDocumentDefinition:     s.textDocumentDefinition,
		TextDocumentReferences:     s.textDocumentReferences,
		TextDocumentHover:          s.textDocumentHover,
		TextDocumentDocumentSymbol: s.textDocumentDocumentSymbol,
		WorkspaceSymbol:            s.workspaceSymbol,
		TextDocumentPrepareRename:  s.textDocumentPrepareRename,
		TextDocumentRename:         s.textDocumentRename,
	}
	return s
}

// Handler returns the glsp handler, for transports other than stdio.
func (s *Server) Handler() glsp.Handler { return &s.handler }

// RunStdio serves the protocol on stdin and stdout until the client exits.
func (s *Server) RunStdio() error {
	defer s.close()
	return server.NewServer(&s.handler, serverName, s.debug).RunStdio()
}

func (s *Server) close() {
	s.cancel()
	s.pending.Wait()
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			log.Errorf("closing engine: %v", err)
		}
	}
}

// wait blocks until background diagnostics have been published.
func (s *Server) wait() { s.pending.Wait() }

var errNotInitialized = errors.New("no workspace open")

// =============================================================================
// General messages
// =============================================================================

func (s *Server) initialize(context *glsp.Context, params *protocol.InitializeParams) (any, error) {
	if s.engine == nil {
		root := rootOf(params)
		if root == "" {
			return nil, errors.New("initialize: client sent no workspace root")
		}
		e, err := s.open(root)
		if err != nil {
			return nil, err
		}
		s.engine = e
	}

	capabilities := s.handler.CreateServerCapabilities()
	capabilities.TextDocumentSync = protocol.TextDocumentSyncKindIncremental
	capabilities.RenameProvider = &protocol.RenameOptions{PrepareProvider: &protocol.True}

	return &protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name: serverName,
		},
	}, nil
}

func rootOf(params *protocol.InitializeParams) string {
	if params.RootURI != nil && *params.RootURI != "" {
		return document.PathFromURI(*params.RootURI)
	}
	if params.RootPath != nil {
		return *params.RootPath
	}
	return ""
}

func (s *Server) initialized(context *glsp.Context, params *protocol.InitializedParams) error {
	e := s.engine
	if e == nil {
		return errNotInitialized
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		stats, err := e.IndexWorkspace(s.ctx)
		if err != nil {
			log.Errorf("indexing %s: %v", e.Root(), err)
			return
		}
		log.Infof("indexed %s: %d files, %d parsed, %d restored in %s", e.Root(), stats.Files, stats.Parsed, stats.Restored, stats.Elapsed)
		if s.watch {
			if err := e.Watch(s.ctx, s.debounce); err != nil && !errors.Is(err, contextpkg.Canceled) {
				log.Errorf("watching %s: %v", e.Root(), err)
			}
		}
	}()
	return nil
}

func (s *Server) shutdown(context *glsp.Context) error {
	protocol.SetTraceValue(protocol.TraceValueOff)
	s.cancel()
	return nil
}

func (s *Server) setTrace(context *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// =============================================================================
// Text document synchronization
// =============================================================================

func (s *Server) textDocumentDidOpen(context *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := params.TextDocument
	if err := s.engine.OpenDocument(s.ctx, doc.URI, doc.Text, doc.Version); err != nil {
		return err
	}
	s.publish(context.Notify, doc.URI)
	return nil
}

func (s *Server) textDocumentDidChange(context *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	doc := params.TextDocument
	return s.engine.ChangeDocument(s.ctx, doc.URI, doc.Version, toEdits(params.ContentChanges))
}

// Diagnostics come from the compiler, which reads the disk, so they are
// refreshed on open and save rather than on every keystroke.
func (s *Server) textDocumentDidSave(context *glsp.Context, params *protocol.DidSaveTextDocumentParams) error {
	s.publish(context.Notify, params.TextDocument.URI)
	return nil
}

func (s *Server) textDocumentDidClose(context *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.engine.CloseDocument(s.ctx, uri)
	context.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *Server) publish(notify glsp.NotifyFunc, uri string) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		resp, err := s.engine.Diagnostics(s.ctx, uri)
		if err != nil {
			log.Warningf("diagnostics for %s: %v", uri, err)
			return
		}
		params := &protocol.PublishDiagnosticsParams{
			URI:         uri,
			Diagnostics: fromDiagnostics(resp.Result),
		}
		if resp.Version > 0 {
			version := protocol.UInteger(resp.Version)
			params.Version = &version
		}
		notify(protocol.ServerTextDocumentPublishDiagnostics, params)
	}()
}

// =============================================================================
// Language features
// =============================================================================

func (s *Server) textDocumentDefinition(context *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	resp, err := s.engine.Definition(s.ctx, params.TextDocument.URI, toPosition(params.Position))
	if err != nil {
		return nil, err
	}
	if resp.Result == nil {
		return nil, nil
	}
	return fromLocation(*resp.Result), nil
}

func (s *Server) textDocumentReferences(context *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	resp, err := s.engine.References(s.ctx, params.TextDocument.URI, toPosition(params.Position), params.Context.IncludeDeclaration)
	if err != nil {
		return nil, err
	}
	locs := make([]protocol.Location, 0, len(resp.Result))
	for _, l := range resp.Result {
		locs = append(locs, fromLocation(l))
	}
	return locs, nil
}

func (s *Server) textDocumentHover(context *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	resp, err := s.engine.Hover(s.ctx, params.TextDocument.URI, toPosition(params.Position))
	if err != nil || resp.Result == nil {
		return nil, err
	}
	r := fromRange(resp.Result.Range)
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: resp.Result.Contents},
		Range:    &r,
	}, nil
}

func (s *Server) textDocumentDocumentSymbol(context *glsp.Context, params *protocol.DocumentSymbolParams) (any, error) {
	resp, err := s.engine.DocumentSymbols(s.ctx, params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	return fromDocumentSymbols(resp.Result), nil
}

func (s *Server) workspaceSymbol(context *glsp.Context, params *protocol.WorkspaceSymbolParams) ([]protocol.SymbolInformation, error) {
	resp, err := s.engine.WorkspaceSymbols(s.ctx, params.Query, 0)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.SymbolInformation, 0, len(resp.Result))
	for _, sym := range resp.Result {
		out = append(out, fromSymbol(sym))
	}
	return out, nil
}

// A position the client may not rename answers null, as LSP asks, rather
// than an error.
func (s *Server) textDocumentPrepareRename(context *glsp.Context, params *protocol.PrepareRenameParams) (any, error) {
	resp, err := s.engine.PrepareRename(s.ctx, params.TextDocument.URI, toPosition(params.Position), "")
	if err != nil {
		var verr *elmls.ValidationError
		if errors.As(err, &verr) {
			return nil, nil
		}
		return nil, err
	}
	return &protocol.RangeWithPlaceholder{
		Range:       fromRange(resp.Result.Range),
		Placeholder: resp.Result.Symbol.Name,
	}, nil
}

func (s *Server) textDocumentRename(context *glsp.Context, params *protocol.RenameParams) (*protocol.WorkspaceEdit, error) {
	p, err := s.engine.Rename(s.ctx, params.TextDocument.URI, toPosition(params.Position), params.NewName)
	if err != nil {
		return nil, err
	}
	log.Debugf("rename %s to %s: %d edits", p.Target().Name, p.NewName(), p.Edits().Len())
	return fromEditSet(p.Edits()), nil
}
