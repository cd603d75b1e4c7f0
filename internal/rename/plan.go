package rename

import (
	"strings"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/resolve"
	"github.com/jward/elmls/internal/syntax"
)

// Occurrence is one identifier that denotes the rename target.
type Occurrence struct {
	URI   string
	Tree  *syntax.Tree
	Ident syntax.Ident
}

// Index is the part of the symbol index the planner reads.
type Index interface {
	Entry(uri string) *index.FileEntry
	ModuleFiles(module string) []string
	Importers(module string) []string
}

type Planner struct {
	ix  Index
	res *resolve.Resolver
}

func NewPlanner(ix Index, res *resolve.Resolver) *Planner {
	return &Planner{ix: ix, res: res}
}

// Check validates newName for target. occs must be the complete occurrence
// set of target, declaration included.
func (p *Planner) Check(target extract.Symbol, newName string, occs []Occurrence) *ValidationError {
	if err := ValidateName(target.Kind, newName); err != nil {
		return err
	}
	if newName == target.Name {
		return nil
	}
	if target.Kind == extract.KindModule {
		if files := p.ix.ModuleFiles(newName); len(files) > 0 {
			return invalid(ReasonNameCollision, newName, "module %s already exists in %s", newName, files[0])
		}
		return nil
	}
	return p.collisions(target, newName, occs)
}

func namespaces(target extract.Symbol) []syntax.Namespace {
	if target.Kind == extract.KindTypeAlias {
		return []syntax.Namespace{syntax.NSType, syntax.NSValue}
	}
	return []syntax.Namespace{target.Namespace()}
}

func (p *Planner) collisions(target extract.Symbol, newName string, occs []Occurrence) *ValidationError {
	key := target.Key()
	clash := func(s extract.Symbol) *ValidationError {
		return invalid(ReasonNameCollision, newName, "%s already names a %s at %s:%s", newName, s.Kind, s.URI, s.Selection.Start)
	}

	unqualifiedIn := make(map[string]*syntax.Tree)
	for _, occ := range occs {
		id := occ.Ident
		if id.Qualifier != "" || id.Role == syntax.RoleExposing {
			continue
		}
		unqualifiedIn[occ.URI] = occ.Tree
		for _, ns := range namespaces(target) {
			for _, s := range p.res.Visible(occ.Tree, occ.URI, id.Node, newName, ns) {
				if s.Key() != key {
					return clash(s)
				}
			}
		}
	}

	if target.Kind == extract.KindLocal {
		return p.localShadowing(target, newName, occs)
	}

	// Elm rejects local bindings that shadow a visible top-level name.
	for uri, tree := range unqualifiedIn {
		var found *ValidationError
		tree.Idents(func(id syntax.Ident) bool {
			if id.Role == syntax.RoleBinder && id.Name == newName {
				found = invalid(ReasonNameCollision, newName, "a local binding in %s would shadow the renamed symbol", uri)
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
	}

	decl := p.ix.Entry(target.URI)
	if decl == nil {
		return nil
	}
	for _, uri := range p.ix.Importers(decl.Module) {
		e := p.ix.Entry(uri)
		if e == nil || !brings(e, decl.Module, target) {
			continue
		}
		for _, ns := range namespaces(target) {
			for _, s := range e.Symbols {
				if s.Name == newName && s.InNamespace(ns) && s.Kind != extract.KindImport && s.Kind != extract.KindModule {
					return clash(s)
				}
			}
			for _, s := range p.res.ImportedInto(e, newName, ns) {
				if s.Key() != key {
					return clash(s)
				}
			}
		}
	}
	return nil
}

// localShadowing rejects a local rename when another binder inside the
// target's scope already uses newName.
func (p *Planner) localShadowing(target extract.Symbol, newName string, occs []Occurrence) *ValidationError {
	for _, occ := range occs {
		if occ.Ident.Role != syntax.RoleBinder {
			continue
		}
		bs := occ.Tree.LookupLocal(occ.Ident.Node, target.Name)
		if len(bs) == 0 {
			continue
		}
		scope := bs[0].Scope
		lo, hi := int(scope.StartByte()), int(scope.EndByte())
		var found *ValidationError
		occ.Tree.Idents(func(id syntax.Ident) bool {
			if id.Start >= lo && id.End <= hi && id.Name == newName && id.Role == syntax.RoleBinder {
				found = invalid(ReasonNameCollision, newName, "%s is already bound in this scope", newName)
				return false
			}
			return true
		})
		return found
	}
	return nil
}

func brings(e *index.FileEntry, module string, target extract.Symbol) bool {
	for _, edge := range e.Imports {
		if edge.Module == module && edge.Brings(target) {
			return true
		}
	}
	return false
}

// Plan validates newName and builds the proposal rewriting every occurrence.
func (p *Planner) Plan(target extract.Symbol, newName string, occs []Occurrence) (*Proposal, error) {
	if verr := p.Check(target, newName, occs); verr != nil {
		return nil, verr
	}
	b := NewBuilder(target, newName)
	if newName == target.Name {
		return b.Build()
	}
	for _, occ := range occs {
		id := occ.Ident
		if target.Kind == extract.KindModule && !rewritesModule(id, target.Name) {
			continue
		}
		b.Source(occ.URI, occ.Tree.Text())
		b.Replace(occ.URI, occ.Tree.Lines().Range(id.Start, id.End), newName)
	}
	if target.Kind == extract.KindModule {
		if uri, ok := ModuleURI(target.URI, target.Name, newName); ok {
			b.RenameFile(target.URI, uri)
		} else {
			log.Warningf("%s does not sit at the path of module %s; not moving it", target.URI, target.Name)
		}
	}
	prop, err := b.Build()
	if err != nil {
		return nil, err
	}
	log.Debugf("rename %s -> %s: %d edits in %d files", target.Name, newName, prop.edits.Len(), len(prop.edits.Changes))
	return prop, nil
}

// rewritesModule reports whether a module occurrence spells the module's own
// name. Qualifiers going through an alias keep the alias.
func rewritesModule(id syntax.Ident, module string) bool {
	switch id.Role {
	case syntax.RoleDeclaration, syntax.RoleImport, syntax.RoleQualifier:
		return id.Name == module
	}
	return false
}

// ModuleURI returns where a file declaring module must move when the module
// is renamed to newModule. ok is false when the file's path does not end in
// the module's path.
func ModuleURI(uri, module, newModule string) (string, bool) {
	base, found := strings.CutSuffix(uri, ".elm")
	if !found {
		return "", false
	}
	old := "/" + strings.ReplaceAll(module, ".", "/")
	if !strings.HasSuffix(base, old) {
		return "", false
	}
	return strings.TrimSuffix(base, old) + "/" + strings.ReplaceAll(newModule, ".", "/") + ".elm", true
}
