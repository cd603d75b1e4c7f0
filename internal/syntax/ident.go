package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Namespace separates names that may coincide without conflict.
type Namespace int

const (
	NSValue Namespace = iota + 1 // functions, constants, constructors, locals
	NSType                       // union types and aliases
	NSModule
)

func (ns Namespace) String() string {
	switch ns {
	case NSValue:
		return "value"
	case NSType:
		return "type"
	case NSModule:
		return "module"
	}
	return "unknown"
}

// Role is what an identifier occurrence does at its site.
type Role int

const (
	RoleReference   Role = iota + 1
	RoleDeclaration      // top-level declaration name, module header name
	RoleBinder           // lexical binding site: parameter, let, pattern variable
	RoleAnnotation       // name of a type annotation
	RoleExposing         // item of an exposing list
	RoleImport           // module name of an import clause
	RoleQualifier        // module prefix of a qualified reference
	RoleAlias            // `as` name of an import clause
)

func (r Role) String() string {
	return [...]string{"", "reference", "declaration", "binder", "annotation", "exposing", "import", "qualifier", "alias"}[r]
}

// Ident is a classified identifier occurrence.
type Ident struct {
	Name      string // for modules, the whole dotted name
	Qualifier string // module prefix of a qualified reference
	NS        Namespace
	Role      Role
	Start     int // byte span of the text a rename replaces
	End       int
	Node      *sitter.Node
	// Import is the module named by the enclosing import clause, for
	// exposing items and aliases that belong to one.
	Import string
	// TopLevel is set for declarations and annotations at file scope.
	TopLevel bool
}

// IdentAt returns the identifier at byte offset off. A cursor directly after
// an identifier selects it when nothing starts at off.
func (t *Tree) IdentAt(off int) (Ident, bool) {
	if leaf := t.leafAt(off); leaf != nil {
		if id, ok := t.classify(leaf); ok {
			return id, true
		}
	}
	if off > 0 {
		if leaf := t.leafAt(off - 1); leaf != nil && int(leaf.EndByte()) == off {
			return t.classify(leaf)
		}
	}
	return Ident{}, false
}

// Idents calls fn for every classified identifier in document order.
// Multi-segment module names are reported once.
func (t *Tree) Idents(fn func(Ident) bool) {
	var walk func(n *sitter.Node) bool
	walk = func(n *sitter.Node) bool {
		if isIdentLeaf(n) {
			if id, ok := t.classify(n); ok && t.firstSegment(n, id) {
				return fn(id)
			}
			return true
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			if !walk(n.NamedChild(i)) {
				return false
			}
		}
		return true
	}
	walk(t.Root())
}

// firstSegment filters the second and later segments of a module name so
// that each module occurrence is reported once.
func (t *Tree) firstSegment(n *sitter.Node, id Ident) bool {
	if id.NS != NSModule || id.Role == RoleAlias {
		return true
	}
	return int(n.StartByte()) == id.Start
}

func isIdentLeaf(n *sitter.Node) bool {
	switch n.Type() {
	case "lower_case_identifier", "upper_case_identifier":
		return true
	}
	return false
}

func (t *Tree) leafAt(off int) *sitter.Node {
	n := t.Root()
	if off < int(n.StartByte()) || off >= int(n.EndByte()) {
		return nil
	}
	for {
		var next *sitter.Node
		for i := 0; i < int(n.ChildCount()); i++ {
			c := n.Child(i)
			if int(c.StartByte()) <= off && off < int(c.EndByte()) {
				next = c
				break
			}
		}
		if next == nil {
			break
		}
		n = next
	}
	if !isIdentLeaf(n) {
		return nil
	}
	return n
}

func (t *Tree) classify(n *sitter.Node) (Ident, bool) {
	p := n.Parent()
	if p == nil {
		return Ident{}, false
	}
	id := Ident{
		Name:  t.Content(n),
		Start: int(n.StartByte()),
		End:   int(n.EndByte()),
		Node:  n,
	}
	switch p.Type() {
	case "value_qid":
		if last := lastIdent(p); sameNode(last, n) {
			id.NS, id.Role = NSValue, RoleReference
			id.Qualifier = t.qualifier(p)
			return id, true
		}
		return t.qualifierIdent(p, n), true

	case "upper_case_qid":
		gp := p.Parent()
		if gp == nil {
			return Ident{}, false
		}
		switch gp.Type() {
		case "module_declaration":
			return t.moduleIdent(p, n, RoleDeclaration), true
		case "import_clause":
			return t.moduleIdent(p, n, RoleImport), true
		case "value_expr", "union_pattern", "nullary_constructor_argument_pattern":
			id.NS = NSValue
		case "type_ref":
			id.NS = NSType
		default:
			return Ident{}, false
		}
		if last := lastIdent(p); !sameNode(last, n) {
			return t.qualifierIdent(p, n), true
		}
		id.Role = RoleReference
		id.Qualifier = t.qualifier(p)
		return id, true

	case "function_declaration_left":
		if !sameNode(p.NamedChild(0), n) {
			return Ident{}, false
		}
		id.NS = NSValue
		if decl := p.Parent(); decl != nil && isFileLevel(decl) {
			id.Role, id.TopLevel = RoleDeclaration, true
		} else {
			id.Role = RoleBinder
		}
		return id, true

	case "lower_pattern":
		id.NS, id.Role = NSValue, RoleBinder
		return id, true

	case "type_annotation":
		if !sameNode(childOfType(p, "lower_case_identifier"), n) {
			return Ident{}, false
		}
		id.NS, id.Role, id.TopLevel = NSValue, RoleAnnotation, isFileLevel(p)
		return id, true

	case "port_annotation":
		id.NS, id.Role, id.TopLevel = NSValue, RoleDeclaration, true
		return id, true

	case "type_declaration", "type_alias_declaration":
		if !sameNode(childOfType(p, "upper_case_identifier"), n) {
			return Ident{}, false
		}
		id.NS, id.Role, id.TopLevel = NSType, RoleDeclaration, true
		return id, true

	case "union_variant":
		if !sameNode(p.NamedChild(0), n) {
			return Ident{}, false
		}
		id.NS, id.Role, id.TopLevel = NSValue, RoleDeclaration, true
		return id, true

	case "exposed_value", "exposed_type":
		id.NS, id.Role = NSValue, RoleExposing
		if p.Type() == "exposed_type" {
			id.NS = NSType
		}
		id.Import = t.enclosingImport(p)
		return id, true

	case "as_clause":
		id.NS, id.Role = NSModule, RoleAlias
		id.Import = t.enclosingImport(p)
		return id, true

	case "record_base_identifier":
		id.NS, id.Role = NSValue, RoleReference
		return id, true
	}
	return Ident{}, false
}

// isFileLevel reports whether a declaration node sits directly in the file,
// possibly wrapped by an error node during recovery.
func isFileLevel(n *sitter.Node) bool {
	p := n.Parent()
	for p != nil && p.Type() == "ERROR" {
		p = p.Parent()
	}
	return p != nil && p.Type() == "file"
}

func (t *Tree) moduleIdent(qid, n *sitter.Node, role Role) Ident {
	return Ident{
		Name:     t.Content(qid),
		NS:       NSModule,
		Role:     role,
		Start:    int(qid.StartByte()),
		End:      int(qid.EndByte()),
		Node:     n,
		TopLevel: role == RoleDeclaration,
	}
}

// qualifierIdent reports the module prefix of a qualified name as one
// module occurrence spanning every prefix segment.
func (t *Tree) qualifierIdent(qid, n *sitter.Node) Ident {
	ids := identChildren(qid)
	prefixEnd := ids[len(ids)-2].EndByte()
	return Ident{
		Name:  string(t.src[qid.StartByte():prefixEnd]),
		NS:    NSModule,
		Role:  RoleQualifier,
		Start: int(qid.StartByte()),
		End:   int(prefixEnd),
		Node:  n,
	}
}

func (t *Tree) qualifier(qid *sitter.Node) string {
	ids := identChildren(qid)
	if len(ids) < 2 {
		return ""
	}
	return string(t.src[qid.StartByte():ids[len(ids)-2].EndByte()])
}

func (t *Tree) enclosingImport(n *sitter.Node) string {
	for p := n.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "import_clause":
			if qid := childOfType(p, "upper_case_qid"); qid != nil {
				return t.Content(qid)
			}
			return ""
		case "module_declaration", "file":
			return ""
		}
	}
	return ""
}

func identChildren(n *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); isIdentLeaf(c) {
			out = append(out, c)
		}
	}
	return out
}

func lastIdent(n *sitter.Node) *sitter.Node {
	ids := identChildren(n)
	if len(ids) == 0 {
		return nil
	}
	return ids[len(ids)-1]
}
