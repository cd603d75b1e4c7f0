package compiler

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why the compiler produced no structured answer.
type Kind string

const (
	KindMissing     Kind = "missing"
	KindCrashed     Kind = "crashed"
	KindTimeout     Kind = "timeout"
	KindUnparseable Kind = "unparseable"
)

// ToolError is a recoverable failure of the external compiler. Diagnostics
// and validation are withheld; nothing else is affected.
type ToolError struct {
	Kind   Kind
	Err    error
	Output string // raw compiler output, when there was any
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("compiler %s: %v", e.Kind, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Cause lets github.com/pkg/errors.Cause see through the wrapper.
func (e *ToolError) Cause() error { return e.Err }

// AsToolError extracts a *ToolError from err's chain.
func AsToolError(err error) (*ToolError, bool) {
	var te *ToolError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
