package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Binding is a lexical binder: a parameter, a let declaration or a pattern
// variable.
type Binding struct {
	Name  string
	Start int
	End   int
	Node  *sitter.Node // the binder's identifier
	Scope *sitter.Node // the node the binding is visible in
}

// LookupLocal walks outward from n and returns the binders named name of the
// innermost scope that declares it. Nil means no lexical binding applies.
func (t *Tree) LookupLocal(n *sitter.Node, name string) []Binding {
	child := n
	for a := n.Parent(); a != nil; child, a = a, a.Parent() {
		var found []Binding
		for _, b := range t.bindersOf(a, child) {
			if b.Name == name {
				found = append(found, b)
			}
		}
		if len(found) > 0 {
			return found
		}
	}
	return nil
}

// bindersOf returns the bindings scope introduces that are visible from its
// direct child `from`.
func (t *Tree) bindersOf(scope, from *sitter.Node) []Binding {
	switch scope.Type() {
	case "value_declaration":
		fdl := childOfType(scope, "function_declaration_left")
		if fdl == nil || sameNode(fdl, from) {
			return nil
		}
		return t.patternBinders(fdl, scope)

	case "let_in_expr":
		var out []Binding
		for _, decl := range ChildrenOfType(scope, "value_declaration") {
			if fdl := childOfType(decl, "function_declaration_left"); fdl != nil {
				if id := childOfType(fdl, "lower_case_identifier"); id != nil {
					out = append(out, t.binding(id, scope))
				}
				continue
			}
			if pat := childOfType(decl, "pattern"); pat != nil {
				out = append(out, t.patternBinders(pat, scope)...)
			}
		}
		return out

	case "case_of_branch":
		pat := childOfType(scope, "pattern")
		if pat == nil || sameNode(pat, from) {
			return nil
		}
		return t.patternBinders(pat, scope)

	case "anonymous_function_expr":
		var out []Binding
		for i := 0; i < int(scope.ChildCount()); i++ {
			c := scope.Child(i)
			if c.Type() == "->" || c.Type() == "arrow" {
				break
			}
			if sameNode(c, from) {
				return nil
			}
			if c.IsNamed() {
				out = append(out, t.patternBinders(c, scope)...)
			}
		}
		return out
	}
	return nil
}

// patternBinders collects every lower_pattern below n.
func (t *Tree) patternBinders(n, scope *sitter.Node) []Binding {
	var out []Binding
	var walk func(c *sitter.Node)
	walk = func(c *sitter.Node) {
		if c.Type() == "lower_pattern" {
			if id := childOfType(c, "lower_case_identifier"); id != nil {
				out = append(out, t.binding(id, scope))
			}
			return
		}
		for i := 0; i < int(c.NamedChildCount()); i++ {
			walk(c.NamedChild(i))
		}
	}
	walk(n)
	return out
}

func (t *Tree) binding(id, scope *sitter.Node) Binding {
	return Binding{
		Name:  t.Content(id),
		Start: int(id.StartByte()),
		End:   int(id.EndByte()),
		Node:  id,
		Scope: scope,
	}
}

// AnnotationFor returns the text of the type annotation for name visible
// from n: a let annotation in an enclosing let, or a top-level one.
func (t *Tree) AnnotationFor(n *sitter.Node, name string) (string, bool) {
	for a := n; a != nil; a = a.Parent() {
		switch a.Type() {
		case "let_in_expr", "file":
			for _, ann := range ChildrenOfType(a, "type_annotation") {
				if id := childOfType(ann, "lower_case_identifier"); id != nil && t.Content(id) == name {
					return t.Content(ann), true
				}
			}
		}
	}
	return "", false
}
