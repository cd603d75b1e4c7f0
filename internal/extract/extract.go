package extract

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/elmls/internal/syntax"
)

// File extracts the module-scope declarations, imports and identifier
// mentions of tree. Extraction is best-effort: declarations inside error
// recovery regions are skipped, everything else is kept.
func File(uri string, tree *syntax.Tree) Result {
	x := &extractor{
		uri:    uri,
		tree:   tree,
		module: tree.Module(),
		res:    Result{URI: uri, Module: tree.Module()},
	}
	x.exposure()
	x.declarations()
	x.mentions()
	return x.res
}

type extractor struct {
	uri    string
	tree   *syntax.Tree
	module string
	res    Result

	exposeAll    bool
	exposedNames map[string]bool
	openTypes    map[string]bool
}

func (x *extractor) exposure() {
	x.exposedNames = make(map[string]bool)
	x.openTypes = make(map[string]bool)
	root := x.tree.Root()
	header := syntax.ChildOfType(root, "module_declaration")
	if header == nil {
		x.exposeAll = true
		return
	}
	list := syntax.ChildOfType(header, "exposing_list")
	if list == nil {
		return
	}
	all, items := x.exposingItems(list)
	if all {
		x.exposeAll = true
		return
	}
	for _, it := range items {
		x.exposedNames[it.Name] = true
		if it.Open {
			x.openTypes[it.Name] = true
		}
	}
}

func (x *extractor) exposingItems(list *sitter.Node) (bool, []Exposed) {
	if syntax.ChildOfType(list, "double_dot") != nil {
		return true, nil
	}
	var out []Exposed
	for i := 0; i < int(list.NamedChildCount()); i++ {
		c := list.NamedChild(i)
		switch c.Type() {
		case "exposed_value":
			out = append(out, Exposed{Name: x.tree.Content(c)})
		case "exposed_type":
			name := syntax.ChildOfType(c, "upper_case_identifier")
			if name == nil {
				continue
			}
			out = append(out, Exposed{
				Name: x.tree.Content(name),
				Open: syntax.ChildOfType(c, "exposed_union_constructors") != nil,
			})
		}
	}
	return false, out
}

func (x *extractor) exposed(name string) bool {
	return x.exposeAll || x.exposedNames[name]
}

func (x *extractor) constructorExposed(parent string) bool {
	return x.exposeAll || x.openTypes[parent]
}

func (x *extractor) declarations() {
	root := x.tree.Root()
	var prev *sitter.Node
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		switch n.Type() {
		case "module_declaration":
			x.moduleDecl(n)
		case "import_clause":
			x.importDecl(n)
		case "value_declaration":
			x.value(n, prev)
		case "type_declaration":
			x.union(n)
		case "type_alias_declaration":
			x.alias(n)
		case "port_annotation":
			x.port(n)
		case "line_comment", "block_comment":
			continue
		}
		prev = n
	}
}

func (x *extractor) moduleDecl(n *sitter.Node) {
	qid := syntax.ChildOfType(n, "upper_case_qid")
	if qid == nil {
		return
	}
	doc, _ := x.tree.DocAfter(int(n.EndByte()))
	x.res.Symbols = append(x.res.Symbols, Symbol{
		Name:      x.module,
		Kind:      KindModule,
		URI:       x.uri,
		Container: x.module,
		Range:     x.tree.RangeOf(n),
		Selection: x.tree.RangeOf(qid),
		Signature: oneLine(x.tree.Content(n)),
		Doc:       doc,
		Exposed:   true,
	})
}

func (x *extractor) importDecl(n *sitter.Node) {
	qid := syntax.ChildOfType(n, "upper_case_qid")
	if qid == nil {
		return
	}
	edge := ImportEdge{
		URI:    x.uri,
		Module: x.tree.Content(qid),
		Range:  x.tree.RangeOf(n),
	}
	if as := syntax.ChildOfType(n, "as_clause"); as != nil {
		if id := syntax.ChildOfType(as, "upper_case_identifier"); id != nil {
			edge.Alias = x.tree.Content(id)
		}
	}
	if list := syntax.ChildOfType(n, "exposing_list"); list != nil {
		edge.All, edge.Exposing = x.exposingItems(list)
	}
	x.res.Imports = append(x.res.Imports, edge)
	x.res.Symbols = append(x.res.Symbols, Symbol{
		Name:      edge.Module,
		Kind:      KindImport,
		URI:       x.uri,
		Range:     edge.Range,
		Selection: x.tree.RangeOf(qid),
		Container: x.module,
		Signature: oneLine(x.tree.Content(n)),
	})
}

func (x *extractor) value(n, prev *sitter.Node) {
	fdl := syntax.ChildOfType(n, "function_declaration_left")
	if fdl == nil {
		return
	}
	id := syntax.ChildOfType(fdl, "lower_case_identifier")
	if id == nil {
		return
	}
	name := x.tree.Content(id)

	docAnchor := int(n.StartByte())
	var sig string
	if prev != nil && prev.Type() == "type_annotation" {
		if ann := syntax.ChildOfType(prev, "lower_case_identifier"); ann != nil && x.tree.Content(ann) == name {
			sig = oneLine(x.tree.Content(prev))
			docAnchor = int(prev.StartByte())
		}
	}
	kind := KindConstant
	if fdl.NamedChildCount() > 1 || strings.Contains(sig, "->") {
		kind = KindFunction
	}
	doc, _ := x.tree.DocBefore(docAnchor)
	x.res.Symbols = append(x.res.Symbols, Symbol{
		Name:      name,
		Kind:      kind,
		URI:       x.uri,
		Range:     x.tree.Lines().Range(docAnchor, int(n.EndByte())),
		Selection: x.tree.RangeOf(id),
		Container: x.module,
		Signature: sig,
		Doc:       doc,
		Exposed:   x.exposed(name),
	})
}

func (x *extractor) union(n *sitter.Node) {
	id := syntax.ChildOfType(n, "upper_case_identifier")
	if id == nil {
		return
	}
	name := x.tree.Content(id)
	header := x.tree.Content(n)
	if i := strings.Index(header, "="); i >= 0 {
		header = header[:i]
	}
	doc, _ := x.tree.DocBefore(int(n.StartByte()))
	x.res.Symbols = append(x.res.Symbols, Symbol{
		Name:      name,
		Kind:      KindType,
		URI:       x.uri,
		Range:     x.tree.RangeOf(n),
		Selection: x.tree.RangeOf(id),
		Container: x.module,
		Signature: oneLine(header),
		Doc:       doc,
		Exposed:   x.exposed(name),
	})
	for _, v := range syntax.ChildrenOfType(n, "union_variant") {
		cid := syntax.ChildOfType(v, "upper_case_identifier")
		if cid == nil {
			continue
		}
		x.res.Symbols = append(x.res.Symbols, Symbol{
			Name:      x.tree.Content(cid),
			Kind:      KindConstructor,
			URI:       x.uri,
			Range:     x.tree.RangeOf(v),
			Selection: x.tree.RangeOf(cid),
			Container: x.module,
			Parent:    name,
			Signature: oneLine(x.tree.Content(v)),
			Exposed:   x.constructorExposed(name),
		})
	}
}

func (x *extractor) alias(n *sitter.Node) {
	id := syntax.ChildOfType(n, "upper_case_identifier")
	if id == nil {
		return
	}
	name := x.tree.Content(id)
	doc, _ := x.tree.DocBefore(int(n.StartByte()))
	x.res.Symbols = append(x.res.Symbols, Symbol{
		Name:      name,
		Kind:      KindTypeAlias,
		URI:       x.uri,
		Range:     x.tree.RangeOf(n),
		Selection: x.tree.RangeOf(id),
		Container: x.module,
		Signature: oneLine(x.tree.Content(n)),
		Doc:       doc,
		Exposed:   x.exposed(name),
	})
}

func (x *extractor) port(n *sitter.Node) {
	id := syntax.ChildOfType(n, "lower_case_identifier")
	if id == nil {
		return
	}
	name := x.tree.Content(id)
	doc, _ := x.tree.DocBefore(int(n.StartByte()))
	x.res.Symbols = append(x.res.Symbols, Symbol{
		Name:      name,
		Kind:      KindFunction,
		URI:       x.uri,
		Range:     x.tree.RangeOf(n),
		Selection: x.tree.RangeOf(id),
		Container: x.module,
		Signature: oneLine(x.tree.Content(n)),
		Doc:       doc,
		Exposed:   x.exposed(name),
	})
}

func (x *extractor) mentions() {
	seen := make(map[string]bool)
	x.tree.Idents(func(id syntax.Ident) bool {
		if !seen[id.Name] {
			seen[id.Name] = true
			x.res.Mentions = append(x.res.Mentions, id.Name)
		}
		return true
	})
	sort.Strings(x.res.Mentions)
}

// oneLine collapses runs of whitespace so multi-line signatures read as one line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
