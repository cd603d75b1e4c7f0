// Package compiler runs the external Elm compiler to obtain diagnostics.
//
// The compiler is treated as an opaque, possibly slow, possibly absent
// service. Invocations are admission controlled and time limited; every
// failure to get a structured answer is reported as a *ToolError.
package compiler

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	logging "github.com/op/go-logging"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/jward/elmls/internal/span"
)

var log = logging.MustGetLogger("elmls.compiler")

const (
	DefaultBinary  = "elm"
	DefaultLimit   = 2
	DefaultTimeout = 30 * time.Second
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one compiler problem. File is relative to the directory the
// compiler ran in; Range is zero-based like every other range in elmls.
type Diagnostic struct {
	File     string     `json:"file"`
	Severity Severity   `json:"severity"`
	Title    string     `json:"title"`
	Message  string     `json:"message"`
	Range    span.Range `json:"range"`
}

// Checker compiles files inside dir and reports their diagnostics.
type Checker interface {
	Check(ctx context.Context, dir string, files []string) ([]Diagnostic, error)
}

// Elm is a Checker running `elm make --report=json`.
type Elm struct {
	binary  string
	timeout time.Duration
	sem     *semaphore.Weighted
	limit   int64
}

type Option func(*Elm)

func WithBinary(path string) Option {
	return func(e *Elm) { e.binary = path }
}

// WithLimit caps concurrent compiler processes.
func WithLimit(n int) Option {
	return func(e *Elm) {
		if n > 0 {
			e.limit = int64(n)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(e *Elm) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func New(opts ...Option) *Elm {
	e := &Elm{binary: DefaultBinary, timeout: DefaultTimeout, limit: DefaultLimit}
	for _, o := range opts {
		o(e)
	}
	e.sem = semaphore.NewWeighted(e.limit)
	return e
}

var _ Checker = (*Elm)(nil)

// Check runs the compiler on files with dir as working directory. A clean
// compile returns no diagnostics and no error.
func (e *Elm) Check(ctx context.Context, dir string, files []string) ([]Diagnostic, error) {
	bin, err := exec.LookPath(e.binary)
	if err != nil {
		return nil, &ToolError{Kind: KindMissing, Err: errors.Wrapf(err, "find %s", e.binary)}
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "wait for compiler slot")
	}
	defer e.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := append([]string{"make", "--report=json", "--output=/dev/null"}, files...)
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	log.Debugf("%s make %d files in %s: %v", e.binary, len(files), time.Since(start), runErr)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &ToolError{Kind: KindTimeout, Err: errors.Errorf("%s make exceeded %s", e.binary, e.timeout)}
	}
	if runErr == nil {
		return nil, nil
	}
	var exitErr *exec.ExitError
	if !errors.As(runErr, &exitErr) {
		return nil, &ToolError{Kind: KindCrashed, Err: errors.Wrapf(runErr, "run %s", e.binary)}
	}
	diags, err := ParseReport(stderr.Bytes())
	if err != nil {
		log.Warningf("unparseable compiler output (exit %d)", exitErr.ExitCode())
		return nil, &ToolError{Kind: KindUnparseable, Err: err, Output: snippet(stderr.String())}
	}
	return diags, nil
}

func snippet(s string) string {
	const max = 2000
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
