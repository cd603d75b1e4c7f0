package elmls

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/rename"
	"github.com/jward/elmls/internal/resolve"
	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

// Response tags a query result with the state it was computed against.
// Callers drop responses whose Version is older than the document they show.
type Response[T any] struct {
	URI        string
	Version    int32  // document version; 0 for files read from disk
	Generation uint64 // index generation when the query ran
	Result     T
}

func respond[T any](st *document.State, gen uint64, result T) Response[T] {
	return Response[T]{URI: st.URI, Version: st.Version, Generation: gen, Result: result}
}

// Location is a range inside a file.
type Location struct {
	URI   string     `json:"uri"`
	Range span.Range `json:"range"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%s", l.URI, l.Range.Start)
}

// Resolve maps the identifier at pos to the declaration it denotes.
func (e *Engine) Resolve(ctx context.Context, uri string, pos span.Position) (Response[resolve.Result], error) {
	uri = document.CanonicalURI(uri)
	st, err := e.snapshot(ctx, uri)
	if err != nil {
		return Response[resolve.Result]{}, err
	}
	return respond(st, e.ix.Generation(), e.res.Resolve(st.Tree, uri, pos)), nil
}

// Definition returns the declaration site of the identifier at pos, or nil.
func (e *Engine) Definition(ctx context.Context, uri string, pos span.Position) (Response[*Location], error) {
	uri = document.CanonicalURI(uri)
	r, err := e.Resolve(ctx, uri, pos)
	if err != nil {
		return Response[*Location]{}, err
	}
	out := Response[*Location]{URI: r.URI, Version: r.Version, Generation: r.Generation}
	if f, ok := r.Result.(resolve.Found); ok {
		out.Result = &Location{URI: f.Symbol.URI, Range: f.Symbol.Selection}
	}
	return out, nil
}

// References returns every occurrence in the workspace that resolves to the
// same declaration as the identifier at pos. Annotation names and exposing
// list items are not references.
func (e *Engine) References(ctx context.Context, uri string, pos span.Position, includeDeclaration bool) (Response[[]Location], error) {
	uri = document.CanonicalURI(uri)
	r, err := e.Resolve(ctx, uri, pos)
	if err != nil {
		return Response[[]Location]{}, err
	}
	out := Response[[]Location]{URI: r.URI, Version: r.Version, Generation: r.Generation}
	f, ok := r.Result.(resolve.Found)
	if !ok {
		return out, nil
	}
	occs, err := e.occurrences(ctx, f.Symbol, e.snapshot)
	if err != nil {
		return out, err
	}
	for _, occ := range occs {
		switch occ.Ident.Role {
		case syntax.RoleAnnotation, syntax.RoleExposing, syntax.RoleAlias:
			continue
		case syntax.RoleDeclaration, syntax.RoleBinder:
			if !includeDeclaration {
				continue
			}
		}
		out.Result = append(out.Result, Location{URI: occ.URI, Range: occ.Tree.Lines().Range(occ.Ident.Start, occ.Ident.End)})
	}
	return out, nil
}

type loader func(ctx context.Context, uri string) (*document.State, error)

// occurrences finds every identifier denoting target, in every role. Only
// files that can see target are searched: its own file and, unless it is
// local, the files importing its module that mention its name.
func (e *Engine) occurrences(ctx context.Context, target extract.Symbol, load loader) ([]rename.Occurrence, error) {
	candidates := []string{target.URI}
	if target.Kind != extract.KindLocal {
		for _, uri := range e.ix.Importers(target.Container) {
			if uri == target.URI {
				continue
			}
			if entry := e.ix.Entry(uri); entry != nil && (entry.HasMention(target.Name) || target.Kind == extract.KindModule) {
				candidates = append(candidates, uri)
			}
		}
	}

	found := make([][]rename.Occurrence, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.workers)
	for i, uri := range candidates {
		g.Go(func() error {
			st, err := load(gctx, uri)
			if err != nil {
				log.Warningf("searching %s: %v", uri, err)
				return nil
			}
			found[i] = e.occurrencesIn(st, target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []rename.Occurrence
	for _, occs := range found {
		out = append(out, occs...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].URI != out[j].URI {
			return out[i].URI < out[j].URI
		}
		return out[i].Ident.Start < out[j].Ident.Start
	})
	return out, nil
}

func (e *Engine) occurrencesIn(st *document.State, target extract.Symbol) []rename.Occurrence {
	key := target.Key()
	var out []rename.Occurrence
	st.Tree.Idents(func(id syntax.Ident) bool {
		if !mayDenote(id, target) {
			return true
		}
		if f, ok := e.res.ResolveIdent(st.Tree, st.URI, id).(resolve.Found); ok && f.Symbol.Key() == key {
			out = append(out, rename.Occurrence{URI: st.URI, Tree: st.Tree, Ident: id})
		}
		return true
	})
	return out
}

// mayDenote is a cheap syntactic filter run before resolving an identifier.
// Module qualifiers and aliases may spell the module differently.
func mayDenote(id syntax.Ident, target extract.Symbol) bool {
	if target.Kind == extract.KindModule {
		return id.NS == syntax.NSModule
	}
	return id.Name == target.Name
}

// =============================================================================
// Hover
// =============================================================================

// Hover is markdown describing the identifier under the cursor.
type Hover struct {
	Contents string     `json:"contents"`
	Range    span.Range `json:"range"`
}

type hoverQuery struct {
	tree *syntax.Tree
	uri  string
	id   syntax.Ident
	res  *resolve.Resolver
}

// hoverSource produces hover text from one source of information.
type hoverSource func(q hoverQuery) (string, bool)

// hoverSources are tried in order; the first that answers wins.
var hoverSources = []hoverSource{resolvedHover, annotationHover}

// Hover describes the identifier at pos. Positions that are not on an
// identifier, such as whitespace and comments, get no hover.
func (e *Engine) Hover(ctx context.Context, uri string, pos span.Position) (Response[*Hover], error) {
	uri = document.CanonicalURI(uri)
	st, err := e.snapshot(ctx, uri)
	if err != nil {
		return Response[*Hover]{}, err
	}
	out := respond[*Hover](st, e.ix.Generation(), nil)
	id, ok := st.Tree.IdentAt(st.Tree.Lines().Offset(pos))
	if !ok {
		return out, nil
	}
	q := hoverQuery{tree: st.Tree, uri: uri, id: id, res: e.res}
	for _, source := range hoverSources {
		if text, ok := source(q); ok {
			out.Result = &Hover{Contents: text, Range: st.Tree.Lines().Range(id.Start, id.End)}
			break
		}
	}
	return out, nil
}

func resolvedHover(q hoverQuery) (string, bool) {
	f, ok := q.res.ResolveIdent(q.tree, q.uri, q.id).(resolve.Found)
	if !ok {
		return "", false
	}
	sym := f.Symbol
	sig := sym.Signature
	if sym.Kind == extract.KindLocal {
		if ann, ok := q.tree.AnnotationFor(q.id.Node, sym.Name); ok {
			sig = ann
		}
	}
	if sig == "" {
		sig = sym.Name
	}
	return hoverMarkdown(sig, sym.Doc, sym.Container), true
}

func annotationHover(q hoverQuery) (string, bool) {
	if q.id.NS != syntax.NSValue || q.id.Qualifier != "" {
		return "", false
	}
	ann, ok := q.tree.AnnotationFor(q.id.Node, q.id.Name)
	if !ok {
		return "", false
	}
	return hoverMarkdown(ann, "", q.tree.Module()), true
}

func hoverMarkdown(signature, doc, module string) string {
	var b strings.Builder
	b.WriteString("```elm\n")
	b.WriteString(signature)
	b.WriteString("\n```")
	if doc != "" {
		b.WriteString("\n\n")
		b.WriteString(doc)
	}
	if module != "" {
		fmt.Fprintf(&b, "\n\n*module* `%s`", module)
	}
	return b.String()
}

// =============================================================================
// Symbols
// =============================================================================

// DocumentSymbol is one node of a file's outline.
type DocumentSymbol struct {
	Name      string           `json:"name"`
	Kind      extract.Kind     `json:"kind"`
	Detail    string           `json:"detail,omitempty"`
	Range     span.Range       `json:"range"`
	Selection span.Range       `json:"selection_range"`
	Children  []DocumentSymbol `json:"children,omitempty"`
}

// DocumentSymbols returns the outline of uri: the module holds every
// declaration and each union type holds its constructors.
func (e *Engine) DocumentSymbols(ctx context.Context, uri string) (Response[[]DocumentSymbol], error) {
	uri = document.CanonicalURI(uri)
	st, err := e.snapshot(ctx, uri)
	if err != nil {
		return Response[[]DocumentSymbol]{}, err
	}
	syms := e.symbolsOf(st)
	return respond(st, e.ix.Generation(), outline(syms)), nil
}

// symbolsOf returns the records of st, from the index when it is current.
func (e *Engine) symbolsOf(st *document.State) []extract.Symbol {
	if entry := e.ix.Entry(st.URI); entry != nil && entry.Hash == index.HashText(st.Text()) {
		return entry.Symbols
	}
	return extract.File(st.URI, st.Tree).Symbols
}

func outline(syms []extract.Symbol) []DocumentSymbol {
	node := func(s extract.Symbol) DocumentSymbol {
		return DocumentSymbol{Name: s.Name, Kind: s.Kind, Detail: s.Signature, Range: s.Range, Selection: s.Selection}
	}
	var module *DocumentSymbol
	var top []DocumentSymbol
	types := make(map[string]int) // type name -> position in top
	for _, s := range syms {
		switch s.Kind {
		case extract.KindModule:
			if module == nil {
				m := node(s)
				module = &m
				continue
			}
		case extract.KindType:
			types[s.Name] = len(top)
		case extract.KindConstructor:
			if i, ok := types[s.Parent]; ok {
				top[i].Children = append(top[i].Children, node(s))
				continue
			}
		}
		top = append(top, node(s))
	}
	if module == nil {
		return top
	}
	module.Children = top
	return []DocumentSymbol{*module}
}

// WorkspaceSymbols ranks the declarations of the whole workspace against
// query. Imports and local bindings are not listed.
func (e *Engine) WorkspaceSymbols(ctx context.Context, query string, limit int) (Response[[]extract.Symbol], error) {
	if err := ctx.Err(); err != nil {
		return Response[[]extract.Symbol]{}, err
	}
	gen := e.ix.Generation()
	hits := e.ix.Search(query, limit, func(s extract.Symbol) bool {
		return s.Kind != extract.KindImport && s.Kind != extract.KindLocal
	})
	return Response[[]extract.Symbol]{Generation: gen, Result: hits}, nil
}
