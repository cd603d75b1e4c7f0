// Package resolve maps an identifier occurrence to the single declaration it
// denotes. Resolution either finds exactly one symbol or reports why it could
// not; it never returns a list of candidates to choose from.
package resolve

import (
	"fmt"

	logging "github.com/op/go-logging"
	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

var log = logging.MustGetLogger("elmls.resolve")

// Result is either Found or NotFound.
type Result interface {
	isResult()
}

// Found carries the declaration an occurrence denotes.
type Found struct {
	Symbol extract.Symbol
	Ident  syntax.Ident
}

// NotFound explains why nothing was found. It is a normal answer, not an error.
type NotFound struct {
	Reason string
}

func (Found) isResult()    {}
func (NotFound) isResult() {}

func notFound(format string, args ...any) NotFound {
	return NotFound{Reason: fmt.Sprintf(format, args...)}
}

// Index is the part of the symbol index resolution reads.
type Index interface {
	Entry(uri string) *index.FileEntry
	ModuleFiles(module string) []string
}

type Resolver struct {
	ix Index
}

func New(ix Index) *Resolver {
	return &Resolver{ix: ix}
}

// Resolve resolves the identifier at pos in tree, which is the current
// content of uri.
func (r *Resolver) Resolve(tree *syntax.Tree, uri string, pos span.Position) Result {
	id, ok := tree.IdentAt(tree.Lines().Offset(pos))
	if !ok {
		return notFound("no identifier at %s", pos)
	}
	return r.ResolveIdent(tree, uri, id)
}

// ResolveIdent resolves an identifier already classified in tree.
func (r *Resolver) ResolveIdent(tree *syntax.Tree, uri string, id syntax.Ident) Result {
	own := r.own(tree, uri)
	res := r.resolve(tree, own, id)
	if f, ok := res.(Found); ok {
		f.Ident = id
		return f
	}
	return res
}

func (r *Resolver) resolve(tree *syntax.Tree, own *index.FileEntry, id syntax.Ident) Result {
	switch id.Role {
	case syntax.RoleDeclaration:
		if id.NS == syntax.NSModule {
			return one(id.Name, filter(own.Symbols, func(s extract.Symbol) bool { return s.Kind == extract.KindModule }))
		}
		at := tree.Lines().Position(id.Start)
		return one(id.Name, filter(own.Symbols, func(s extract.Symbol) bool {
			return s.Name == id.Name && s.Selection.Start == at && s.InNamespace(id.NS)
		}))

	case syntax.RoleBinder:
		return Found{Symbol: localSymbol(tree, own, syntax.Binding{Name: id.Name, Start: id.Start, End: id.End, Node: id.Node})}

	case syntax.RoleAnnotation:
		if !id.TopLevel {
			if bs := tree.LookupLocal(id.Node, id.Name); len(bs) > 0 {
				return oneLocal(tree, own, id.Name, bs)
			}
		}
		return one(id.Name, topLevel(own, id.Name, id.NS))

	case syntax.RoleExposing:
		if id.Import == "" {
			return one(id.Name, topLevel(own, id.Name, id.NS))
		}
		target, nf := r.moduleEntry(id.Import)
		if nf != nil {
			return *nf
		}
		return one(id.Name, exposedIn(target, id.Name, id.NS))

	case syntax.RoleImport:
		return r.module(id.Name)

	case syntax.RoleAlias:
		if id.Import == "" {
			return notFound("alias %s outside an import", id.Name)
		}
		return r.module(id.Import)

	case syntax.RoleQualifier:
		mods := r.qualified(own, id.Name)
		if len(mods) == 0 {
			return notFound("module %s is not imported", id.Name)
		}
		if len(mods) > 1 {
			return notFound("qualifier %s names %d modules", id.Name, len(mods))
		}
		return r.module(mods[0])

	case syntax.RoleReference:
		return r.reference(tree, own, id)
	}
	return notFound("%s is not resolvable", id.Name)
}

func (r *Resolver) reference(tree *syntax.Tree, own *index.FileEntry, id syntax.Ident) Result {
	if id.Qualifier != "" {
		mods := r.qualified(own, id.Qualifier)
		if len(mods) == 0 {
			return notFound("module %s is not imported", id.Qualifier)
		}
		var cands []extract.Symbol
		for _, m := range mods {
			target, nf := r.moduleEntry(m)
			if nf != nil {
				return *nf
			}
			cands = append(cands, exposedIn(target, id.Name, id.NS)...)
		}
		return one(id.Qualifier+"."+id.Name, cands)
	}

	if id.NS == syntax.NSValue {
		if bs := tree.LookupLocal(id.Node, id.Name); len(bs) > 0 {
			return oneLocal(tree, own, id.Name, bs)
		}
	}
	if cands := topLevel(own, id.Name, id.NS); len(cands) > 0 {
		return one(id.Name, cands)
	}
	return one(id.Name, r.imported(own, id.Name, id.NS))
}

// Visible returns every declaration an unqualified name would denote at
// node: lexical binders, the file's own declarations and names imported
// unqualified. Rename uses it to find collisions.
func (r *Resolver) Visible(tree *syntax.Tree, uri string, node *sitter.Node, name string, ns syntax.Namespace) []extract.Symbol {
	own := r.own(tree, uri)
	var out []extract.Symbol
	if ns == syntax.NSValue && node != nil {
		for _, b := range tree.LookupLocal(node, name) {
			out = append(out, localSymbol(tree, own, b))
		}
	}
	out = append(out, topLevel(own, name, ns)...)
	return append(out, r.imported(own, name, ns)...)
}

// ImportedInto returns the symbols named name that entry's imports bring
// into unqualified scope, without parsing the file.
func (r *Resolver) ImportedInto(e *index.FileEntry, name string, ns syntax.Namespace) []extract.Symbol {
	return r.imported(e, name, ns)
}

// own returns the index entry of uri when it matches tree, else a fresh
// extraction of tree.
func (r *Resolver) own(tree *syntax.Tree, uri string) *index.FileEntry {
	if e := r.ix.Entry(uri); e != nil && e.Hash == index.HashText(tree.Text()) {
		return e
	}
	return index.NewEntry(extract.File(uri, tree), index.HashText(tree.Text()))
}

// qualified maps a qualifier to the modules it may name in own. An aliased
// import is only reachable through its alias.
func (r *Resolver) qualified(own *index.FileEntry, q string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, edge := range own.Imports {
		for _, name := range edge.Qualifiers() {
			if name == q && !seen[edge.Module] {
				seen[edge.Module] = true
				out = append(out, edge.Module)
			}
		}
	}
	return out
}

func (r *Resolver) moduleEntry(module string) (*index.FileEntry, *NotFound) {
	files := r.ix.ModuleFiles(module)
	switch len(files) {
	case 0:
		nf := notFound("module %s is not in the workspace", module)
		return nil, &nf
	case 1:
		if e := r.ix.Entry(files[0]); e != nil {
			return e, nil
		}
		nf := notFound("module %s is not indexed", module)
		return nil, &nf
	}
	log.Debugf("module %s declared by %d files", module, len(files))
	nf := notFound("module %s is declared by %d files", module, len(files))
	return nil, &nf
}

func (r *Resolver) module(module string) Result {
	e, nf := r.moduleEntry(module)
	if nf != nil {
		return *nf
	}
	return one(module, filter(e.Symbols, func(s extract.Symbol) bool { return s.Kind == extract.KindModule }))
}

func (r *Resolver) imported(own *index.FileEntry, name string, ns syntax.Namespace) []extract.Symbol {
	var out []extract.Symbol
	seen := make(map[string]bool)
	for _, edge := range own.Imports {
		target, nf := r.moduleEntry(edge.Module)
		if nf != nil {
			continue
		}
		for _, s := range exposedIn(target, name, ns) {
			if edge.Brings(s) && !seen[s.Key()] {
				seen[s.Key()] = true
				out = append(out, s)
			}
		}
	}
	return out
}

func topLevel(e *index.FileEntry, name string, ns syntax.Namespace) []extract.Symbol {
	return filter(e.Symbols, func(s extract.Symbol) bool {
		return s.Name == name && declares(s) && s.InNamespace(ns)
	})
}

func exposedIn(e *index.FileEntry, name string, ns syntax.Namespace) []extract.Symbol {
	return filter(e.Symbols, func(s extract.Symbol) bool {
		return s.Name == name && s.Exposed && declares(s) && s.InNamespace(ns)
	})
}

// declares filters out records that do not introduce a value or type name.
func declares(s extract.Symbol) bool {
	return s.Kind != extract.KindModule && s.Kind != extract.KindImport
}

func filter(syms []extract.Symbol, keep func(extract.Symbol) bool) []extract.Symbol {
	var out []extract.Symbol
	for _, s := range syms {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func one(name string, cands []extract.Symbol) Result {
	switch len(cands) {
	case 0:
		return notFound("%s is not declared or imported", name)
	case 1:
		return Found{Symbol: cands[0]}
	}
	log.Debugf("%s has %d candidates", name, len(cands))
	return notFound("%s is ambiguous: %d declarations", name, len(cands))
}

func oneLocal(tree *syntax.Tree, own *index.FileEntry, name string, bs []syntax.Binding) Result {
	if len(bs) != 1 {
		return notFound("%s is bound %d times in one scope", name, len(bs))
	}
	return Found{Symbol: localSymbol(tree, own, bs[0])}
}

func localSymbol(tree *syntax.Tree, own *index.FileEntry, b syntax.Binding) extract.Symbol {
	r := tree.Lines().Range(b.Start, b.End)
	return extract.Symbol{
		Name:      b.Name,
		Kind:      extract.KindLocal,
		URI:       own.URI,
		Range:     r,
		Selection: r,
		Container: own.Module,
	}
}
