package lsp

import (
	"sort"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/jward/elmls"
	"github.com/jward/elmls/internal/compiler"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/rename"
	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

func toPosition(p protocol.Position) span.Position {
	return span.Position{Line: int(p.Line), Character: int(p.Character)}
}

func fromPosition(p span.Position) protocol.Position {
	return protocol.Position{Line: protocol.UInteger(p.Line), Character: protocol.UInteger(p.Character)}
}

func toRange(r protocol.Range) span.Range {
	return span.Range{Start: toPosition(r.Start), End: toPosition(r.End)}
}

func fromRange(r span.Range) protocol.Range {
	return protocol.Range{Start: fromPosition(r.Start), End: fromPosition(r.End)}
}

func fromLocation(l elmls.Location) protocol.Location {
	return protocol.Location{URI: l.URI, Range: fromRange(l.Range)}
}

// toEdits converts content change events in arrival order. Events without a
// range replace the whole document.
func toEdits(changes []any) []syntax.Edit {
	edits := make([]syntax.Edit, 0, len(changes))
	for _, change := range changes {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEvent:
			if c.Range == nil {
				edits = append(edits, syntax.Edit{Text: c.Text})
				continue
			}
			r := toRange(*c.Range)
			edits = append(edits, syntax.Edit{Range: &r, Text: c.Text})
		case protocol.TextDocumentContentChangeEventWhole:
			edits = append(edits, syntax.Edit{Text: c.Text})
		}
	}
	return edits
}

func symbolKind(k extract.Kind) protocol.SymbolKind {
	switch k {
	case extract.KindModule:
		return protocol.SymbolKindModule
	case extract.KindFunction:
		return protocol.SymbolKindFunction
	case extract.KindConstant:
		return protocol.SymbolKindConstant
	case extract.KindType:
		return protocol.SymbolKindEnum
	case extract.KindTypeAlias:
		return protocol.SymbolKindStruct
	case extract.KindConstructor:
		return protocol.SymbolKindEnumMember
	default:
		return protocol.SymbolKindVariable
	}
}

func fromDocumentSymbols(syms []elmls.DocumentSymbol) []protocol.DocumentSymbol {
	out := make([]protocol.DocumentSymbol, 0, len(syms))
	for _, s := range syms {
		ds := protocol.DocumentSymbol{
			Name:           s.Name,
			Kind:           symbolKind(s.Kind),
			Range:          fromRange(s.Range),
			SelectionRange: fromRange(s.Selection),
		}
		if s.Detail != "" {
			detail := s.Detail
			ds.Detail = &detail
		}
		if len(s.Children) > 0 {
			ds.Children = fromDocumentSymbols(s.Children)
		}
		out = append(out, ds)
	}
	return out
}

func fromSymbol(s extract.Symbol) protocol.SymbolInformation {
	info := protocol.SymbolInformation{
		Name:     s.Name,
		Kind:     symbolKind(s.Kind),
		Location: protocol.Location{URI: s.URI, Range: fromRange(s.Selection)},
	}
	container := s.Container
	if s.Parent != "" {
		container += "." + s.Parent
	}
	if container != "" {
		info.ContainerName = &container
	}
	return info
}

func fromDiagnostics(diags []compiler.Diagnostic) []protocol.Diagnostic {
	source := "elm"
	out := make([]protocol.Diagnostic, 0, len(diags))
	for _, d := range diags {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == compiler.SeverityWarning {
			severity = protocol.DiagnosticSeverityWarning
		}
		message := d.Title
		if d.Message != "" {
			message += "\n\n" + d.Message
		}
		out = append(out, protocol.Diagnostic{
			Range:    fromRange(d.Range),
			Severity: &severity,
			Source:   &source,
			Message:  message,
		})
	}
	return out
}

func fromTextEdits(edits []rename.Edit) []protocol.TextEdit {
	out := make([]protocol.TextEdit, 0, len(edits))
	for _, e := range edits {
		out = append(out, protocol.TextEdit{Range: fromRange(e.Range), NewText: e.NewText})
	}
	return out
}

// fromEditSet builds the workspace edit for a rename. Plain text changes are
// enough unless a module file moves; then the edits go in documentChanges
// ahead of the file renames so that they apply to the old uris.
func fromEditSet(set rename.WorkspaceEditSet) *protocol.WorkspaceEdit {
	uris := set.Files()
	if len(set.Renames) == 0 {
		changes := make(map[protocol.DocumentUri][]protocol.TextEdit, len(uris))
		for _, uri := range uris {
			changes[uri] = fromTextEdits(set.Changes[uri])
		}
		return &protocol.WorkspaceEdit{Changes: changes}
	}

	var docChanges []any
	for _, uri := range uris {
		edits := set.Changes[uri]
		te := make([]any, 0, len(edits))
		for _, e := range fromTextEdits(edits) {
			te = append(te, e)
		}
		docChanges = append(docChanges, protocol.TextDocumentEdit{
			TextDocument: protocol.OptionalVersionedTextDocumentIdentifier{
				TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri},
			},
			Edits: te,
		})
	}
	renames := append([]rename.FileRename(nil), set.Renames...)
	sort.Slice(renames, func(i, j int) bool { return renames[i].OldURI < renames[j].OldURI })
	for _, r := range renames {
		docChanges = append(docChanges, protocol.RenameFile{Kind: "rename", OldURI: r.OldURI, NewURI: r.NewURI})
	}
	return &protocol.WorkspaceEdit{DocumentChanges: docChanges}
}
