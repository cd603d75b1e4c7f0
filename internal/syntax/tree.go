// Package syntax parses Elm source with tree-sitter and exposes the pieces the
// rest of elmls needs: top-level declarations with stable identities,
// structural parse errors, identifier classification and lexical scopes.
package syntax

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/elm"

	"github.com/jward/elmls/internal/span"
)

// DefaultModule is the module name of a file without a module header.
const DefaultModule = "Main"

// DeclKind classifies a top-level declaration node.
type DeclKind string

const (
	DeclModule     DeclKind = "module"
	DeclImport     DeclKind = "import"
	DeclValue      DeclKind = "value"
	DeclAnnotation DeclKind = "annotation"
	DeclType       DeclKind = "type"
	DeclAlias      DeclKind = "type-alias"
	DeclPort       DeclKind = "port"
	DeclInfix      DeclKind = "infix"
)

var declKinds = map[string]DeclKind{
	"module_declaration":     DeclModule,
	"import_clause":          DeclImport,
	"value_declaration":      DeclValue,
	"type_annotation":        DeclAnnotation,
	"type_declaration":       DeclType,
	"type_alias_declaration": DeclAlias,
	"port_annotation":        DeclPort,
	"infix_declaration":      DeclInfix,
}

// DeclID identifies a top-level declaration across incremental reparses.
type DeclID uint64

var nextDeclID atomic.Uint64

// Decl is one top-level declaration of a tree.
type Decl struct {
	ID    DeclID
	Kind  DeclKind
	Name  string
	Start int // byte offsets
	End   int
	Range span.Range
}

// ParseError is a localized structural error. The tree around it is still usable.
type ParseError struct {
	Range   span.Range `json:"range"`
	Message string     `json:"message"`
}

func (e ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Range.Start, e.Message)
}

// Tree is an immutable parse result for one text snapshot.
type Tree struct {
	text   string
	src    []byte
	lines  *span.LineIndex
	ts     *sitter.Tree
	decls  []Decl
	errs   []ParseError
	module string
	header bool
	reused int

	commentsOnce sync.Once
	comments     []comment
}

// Edit replaces Range with Text. A nil Range replaces the whole document.
type Edit struct {
	Range *span.Range
	Text  string
}

func (t *Tree) Text() string                  { return t.text }
func (t *Tree) Source() []byte                { return t.src }
func (t *Tree) Lines() *span.LineIndex        { return t.lines }
func (t *Tree) Root() *sitter.Node            { return t.ts.RootNode() }
func (t *Tree) Decls() []Decl                 { return t.decls }
func (t *Tree) Errors() []ParseError          { return t.errs }
func (t *Tree) Module() string                { return t.module }
func (t *Tree) HasHeader() bool               { return t.header }
func (t *Tree) Content(n *sitter.Node) string { return n.Content(t.src) }

// Reused returns how many declarations kept their identity from the
// previous tree during an incremental reparse.
func (t *Tree) Reused() int { return t.reused }

// RangeOf converts a node's byte span into an editor range.
func (t *Tree) RangeOf(n *sitter.Node) span.Range {
	return t.lines.Range(int(n.StartByte()), int(n.EndByte()))
}

// Parse parses text from scratch.
func Parse(ctx context.Context, text string) (*Tree, error) {
	return build(ctx, text, nil, nil)
}

// Reparse applies edits to prev's text in order and parses the result,
// handing tree-sitter the edited previous tree so that untouched subtrees
// are reused. prev is left untouched.
func Reparse(ctx context.Context, prev *Tree, edits []Edit) (*Tree, error) {
	text := prev.text
	lines := prev.lines
	old := prev.ts.Copy()
	base := prev
	for _, e := range edits {
		if e.Range == nil {
			text = e.Text
			lines = span.NewLineIndex(text)
			old, base = nil, nil
			continue
		}
		start, end := lines.Offsets(*e.Range)
		if end < start {
			return nil, fmt.Errorf("reparse: inverted edit range %s", e.Range)
		}
		next := text[:start] + e.Text + text[end:]
		nextLines := span.NewLineIndex(next)
		if old != nil {
			newEnd := start + len(e.Text)
			old.Edit(sitter.EditInput{
				StartIndex:  uint32(start),
				OldEndIndex: uint32(end),
				NewEndIndex: uint32(newEnd),
				StartPoint:  point(lines, start),
				OldEndPoint: point(lines, end),
				NewEndPoint: point(nextLines, newEnd),
			})
		}
		text, lines = next, nextLines
	}
	return build(ctx, text, old, base)
}

func point(li *span.LineIndex, off int) sitter.Point {
	return sitter.Point{Row: uint32(li.Line(off)), Column: uint32(li.ByteColumn(off))}
}

func build(ctx context.Context, text string, old *sitter.Tree, prev *Tree) (*Tree, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(elm.GetLanguage())

	src := []byte(text)
	ts, err := parser.ParseCtx(ctx, old, src)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	t := &Tree{
		text:   text,
		src:    src,
		lines:  span.NewLineIndex(text),
		ts:     ts,
		module: DefaultModule,
	}
	unchanged := unchangedDecls(old, prev)
	t.collectDecls(unchanged)
	t.collectErrors()
	return t, nil
}

// unchangedDecls maps the shifted start offset of every top-level node that
// no edit touched to the declaration prev derived for it.
func unchangedDecls(edited *sitter.Tree, prev *Tree) map[int]Decl {
	if edited == nil || prev == nil {
		return nil
	}
	byStart := make(map[int]Decl, len(prev.decls))
	for _, d := range prev.decls {
		byStart[d.Start] = d
	}
	oldRoot, prevRoot := edited.RootNode(), prev.ts.RootNode()
	n := int(oldRoot.NamedChildCount())
	if int(prevRoot.NamedChildCount()) != n {
		return nil
	}
	out := make(map[int]Decl)
	for i := 0; i < n; i++ {
		oc, pc := oldRoot.NamedChild(i), prevRoot.NamedChild(i)
		if oc.HasChanges() {
			continue
		}
		if d, ok := byStart[int(pc.StartByte())]; ok {
			out[int(oc.StartByte())] = d
		}
	}
	return out
}

func (t *Tree) collectDecls(unchanged map[int]Decl) {
	root := t.Root()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		n := root.NamedChild(i)
		kind, ok := declKinds[n.Type()]
		if !ok {
			continue
		}
		start, end := int(n.StartByte()), int(n.EndByte())
		d := Decl{
			Kind:  kind,
			Name:  t.declName(n, kind),
			Start: start,
			End:   end,
			Range: t.lines.Range(start, end),
		}
		if kind == DeclModule && d.Name != "" {
			t.module = d.Name
			t.header = true
		}
		if p, ok := unchanged[start]; ok && p.Kind == d.Kind && p.Name == d.Name && p.End-p.Start == end-start {
			d.ID = p.ID
			if p.Range == d.Range {
				t.reused++
			}
		} else {
			d.ID = DeclID(nextDeclID.Add(1))
		}
		t.decls = append(t.decls, d)
	}
}

func (t *Tree) declName(n *sitter.Node, kind DeclKind) string {
	var name *sitter.Node
	switch kind {
	case DeclModule, DeclImport:
		name = childOfType(n, "upper_case_qid")
	case DeclValue:
		if fdl := childOfType(n, "function_declaration_left"); fdl != nil {
			name = childOfType(fdl, "lower_case_identifier")
		}
	case DeclAnnotation, DeclPort:
		name = childOfType(n, "lower_case_identifier")
	case DeclType, DeclAlias:
		name = childOfType(n, "upper_case_identifier")
	}
	if name == nil {
		return ""
	}
	return t.Content(name)
}

func (t *Tree) collectErrors() {
	root := t.Root()
	if !root.HasError() {
		return
	}
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch {
		case n.IsMissing():
			t.errs = append(t.errs, ParseError{Range: t.RangeOf(n), Message: fmt.Sprintf("missing %s", n.Type())})
			return
		case n.IsError():
			t.errs = append(t.errs, ParseError{Range: t.RangeOf(n), Message: "unexpected syntax"})
			return
		}
		if !n.HasError() {
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
}

// childOfType returns the first named child of n with the given type.
func childOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == typ {
			return c
		}
	}
	return nil
}

// ChildrenOfType returns every named child of n with the given type.
func ChildrenOfType(n *sitter.Node, typ string) []*sitter.Node {
	var out []*sitter.Node
	for i := 0; i < int(n.NamedChildCount()); i++ {
		c := n.NamedChild(i)
		if c.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}

// ChildOfType is the exported form of childOfType.
func ChildOfType(n *sitter.Node, typ string) *sitter.Node { return childOfType(n, typ) }

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}
