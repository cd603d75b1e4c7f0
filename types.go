package elmls

import (
	"github.com/jward/elmls/internal/compiler"
	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/rename"
	"github.com/jward/elmls/internal/resolve"
	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

// Public aliases for the internal types that appear in the Engine API.

type Position = span.Position
type Range = span.Range
type Edit = syntax.Edit

type Symbol = extract.Symbol
type SymbolKind = extract.Kind
type ImportEdge = extract.ImportEdge

type ResolveResult = resolve.Result
type Found = resolve.Found
type NotFound = resolve.NotFound

type Proposal = rename.Proposal
type WorkspaceEditSet = rename.WorkspaceEditSet
type TextEdit = rename.Edit
type ValidationError = rename.ValidationError

type Diagnostic = compiler.Diagnostic
type ToolError = compiler.ToolError

type DocumentState = document.State

var (
	ErrStaleVersion     = document.ErrStaleVersion
	ErrNotOpen          = document.ErrNotOpen
	ErrValidationFailed = rename.ErrValidationFailed
	ErrStale            = rename.ErrStale
)

// URIFromPath returns the file URI of a filesystem path.
func URIFromPath(path string) string { return document.URIFromPath(path) }
