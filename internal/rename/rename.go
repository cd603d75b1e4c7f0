// Package rename plans multi-file renames.
//
// Planning is split from applying: a Planner validates the new name and turns
// the occurrence set of a symbol into an immutable Proposal, and nothing is
// written anywhere until the caller materializes that proposal.
package rename

import (
	"errors"
	"fmt"
	"regexp"

	logging "github.com/op/go-logging"

	"github.com/jward/elmls/internal/extract"
)

var log = logging.MustGetLogger("elmls.rename")

// Reason is the machine-readable cause of a rejected rename.
type Reason string

const (
	ReasonInvalidIdentifier Reason = "invalid-identifier"
	ReasonReservedKeyword   Reason = "reserved-keyword"
	ReasonNameCollision     Reason = "name-collision"
	ReasonNotRenamable      Reason = "not-renamable"
)

// ValidationError rejects a rename before any edit is produced.
type ValidationError struct {
	Reason Reason
	Name   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("cannot rename to %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("cannot rename to %q: %s: %s", e.Name, e.Reason, e.Detail)
}

func invalid(reason Reason, name, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Name: name, Detail: fmt.Sprintf(format, args...)}
}

var (
	// ErrValidationFailed reports that the compiler found errors in the
	// renamed workspace that were not there before.
	ErrValidationFailed = errors.New("rename introduces new compiler errors")
	// ErrStale reports that a file changed after the proposal was computed.
	ErrStale = errors.New("file changed since the rename was proposed")
)

var keywords = map[string]bool{
	"if": true, "then": true, "else": true, "case": true, "of": true,
	"let": true, "in": true, "type": true, "module": true, "where": true,
	"import": true, "exposing": true, "as": true, "port": true,
	"alias": true, "infix": true,
}

var (
	valueName  = regexp.MustCompile(`^[a-z][A-Za-z0-9_]*$`)
	upperName  = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	moduleName = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*(\.[A-Z][A-Za-z0-9_]*)*$`)
)

// ValidateName checks that name is a legal identifier for a symbol of kind.
func ValidateName(kind extract.Kind, name string) *ValidationError {
	if keywords[name] {
		return invalid(ReasonReservedKeyword, name, "%s is a reserved word", name)
	}
	var re *regexp.Regexp
	var want string
	switch kind {
	case extract.KindFunction, extract.KindConstant, extract.KindLocal:
		re, want = valueName, "a lower-case name"
	case extract.KindType, extract.KindTypeAlias, extract.KindConstructor:
		re, want = upperName, "a capitalized name"
	case extract.KindModule:
		re, want = moduleName, "a dotted capitalized module name"
	default:
		return invalid(ReasonNotRenamable, name, "%s symbols cannot be renamed", kind)
	}
	if !re.MatchString(name) {
		return invalid(ReasonInvalidIdentifier, name, "%s needs %s", kind, want)
	}
	return nil
}
