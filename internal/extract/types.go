// Package extract turns a parsed Elm file into symbol records and import
// edges for the index.
package extract

import (
	"fmt"

	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

// Kind is the category of a symbol record.
type Kind string

const (
	KindModule      Kind = "module"
	KindFunction    Kind = "function"
	KindConstant    Kind = "constant"
	KindType        Kind = "type"
	KindTypeAlias   Kind = "type-alias"
	KindConstructor Kind = "constructor"
	KindImport      Kind = "import"
	// KindLocal marks lexical bindings. They are produced by the resolver and
	// never stored in the index.
	KindLocal Kind = "local"
)

// Symbol is one declaration record.
type Symbol struct {
	Name      string     `json:"name"`
	Kind      Kind       `json:"kind"`
	URI       string     `json:"uri"`
	Range     span.Range `json:"range"`
	Selection span.Range `json:"selection_range"`
	Container string     `json:"container,omitempty"`
	// Parent is the owning type of a constructor.
	Parent    string `json:"parent,omitempty"`
	Signature string `json:"signature,omitempty"`
	Doc       string `json:"doc,omitempty"`
	Exposed   bool   `json:"exposed"`
}

// Key identifies a declaration site within one workspace snapshot.
func (s Symbol) Key() string {
	return fmt.Sprintf("%s#%d:%d", s.URI, s.Selection.Start.Line, s.Selection.Start.Character)
}

// Namespace reports which namespace the symbol's name lives in.
func (s Symbol) Namespace() syntax.Namespace {
	switch s.Kind {
	case KindModule, KindImport:
		return syntax.NSModule
	case KindType, KindTypeAlias:
		return syntax.NSType
	}
	return syntax.NSValue
}

// InNamespace reports whether the symbol can be named in ns. A type alias
// also names its record constructor in the value namespace.
func (s Symbol) InNamespace(ns syntax.Namespace) bool {
	if s.Namespace() == ns {
		return true
	}
	return ns == syntax.NSValue && s.Kind == KindTypeAlias
}

// Exposed is one item of an exposing list. Open marks `T(..)`.
type Exposed struct {
	Name string `json:"name"`
	Open bool   `json:"open,omitempty"`
}

// ImportEdge is one import statement.
type ImportEdge struct {
	URI      string     `json:"uri"`
	Module   string     `json:"module"`
	Alias    string     `json:"alias,omitempty"`
	All      bool       `json:"all"`
	Exposing []Exposed  `json:"exposing,omitempty"`
	Range    span.Range `json:"range"`
}

// Qualifiers returns the names a qualified reference may use for this import.
func (e ImportEdge) Qualifiers() []string {
	if e.Alias != "" {
		return []string{e.Alias}
	}
	return []string{e.Module}
}

// Brings reports whether the import puts the exposed symbol sym into
// unqualified scope.
func (e ImportEdge) Brings(sym Symbol) bool {
	if !sym.Exposed {
		return false
	}
	if e.All {
		return true
	}
	for _, x := range e.Exposing {
		if x.Name == sym.Name && sym.Kind != KindConstructor {
			return true
		}
		if sym.Kind == KindConstructor && x.Open && x.Name == sym.Parent {
			return true
		}
	}
	return false
}

// Result is everything extracted from one file.
type Result struct {
	URI      string
	Module   string
	Symbols  []Symbol
	Imports  []ImportEdge
	Mentions []string // distinct identifier names, used to prune reference search
}
