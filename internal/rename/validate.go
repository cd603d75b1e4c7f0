package rename

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jward/elmls/internal/compiler"
	"github.com/jward/elmls/internal/document"
)

// FailedError carries the compiler errors a rename would introduce.
type FailedError struct {
	Diagnostics []compiler.Diagnostic
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%v: %d new", ErrValidationFailed, len(e.Diagnostics))
}

func (e *FailedError) Unwrap() error { return ErrValidationFailed }

// Workspace is the source tree a proposal is checked against.
type Workspace struct {
	Root  string            // directory holding elm.json
	Files map[string]string // uri -> current text of every source file
}

// PostValidate compiles the workspace with and without the proposal applied,
// each in its own scratch directory. Errors present only in the renamed copy
// fail with a *FailedError. Tool failures are returned as they are; the real
// workspace is never touched.
func PostValidate(ctx context.Context, checker compiler.Checker, ws Workspace, p *Proposal) error {
	if p.Empty() {
		return nil
	}
	moved := make(map[string]string)
	for _, r := range p.edits.Renames {
		moved[r.OldURI] = r.NewURI
	}

	baseTexts := make(map[string]string, len(ws.Files))
	editTexts := make(map[string]string, len(ws.Files))
	var baseFiles, editFiles []string
	renamedRel := make(map[string]string)
	for uri, text := range ws.Files {
		rel, ok := relTo(ws.Root, uri)
		if !ok {
			continue
		}
		baseTexts[rel] = text
		edited := text
		if edits, ok := p.edits.Changes[uri]; ok {
			var err error
			if edited, err = ApplyEdits(text, edits); err != nil {
				return fmt.Errorf("post-validate %s: %w", uri, err)
			}
		}
		editRel := rel
		if to, ok := moved[uri]; ok {
			if editRel, ok = relTo(ws.Root, to); !ok {
				return fmt.Errorf("post-validate: %s moves outside %s", to, ws.Root)
			}
			renamedRel[rel] = editRel
		}
		editTexts[editRel] = edited
		if _, touched := p.edits.Changes[uri]; touched {
			baseFiles = append(baseFiles, rel)
			editFiles = append(editFiles, editRel)
		}
	}

	baseDir, err := compiler.Scratch(ws.Root, "elmls-base-", baseTexts)
	if err != nil {
		return fmt.Errorf("post-validate: %w", err)
	}
	defer os.RemoveAll(baseDir)
	editDir, err := compiler.Scratch(ws.Root, "elmls-edit-", editTexts)
	if err != nil {
		return fmt.Errorf("post-validate: %w", err)
	}
	defer os.RemoveAll(editDir)

	before, err := checker.Check(ctx, baseDir, baseFiles)
	if err != nil {
		return fmt.Errorf("post-validate baseline: %w", err)
	}
	after, err := checker.Check(ctx, editDir, editFiles)
	if err != nil {
		return fmt.Errorf("post-validate renamed: %w", err)
	}
	if added := introduced(compiler.Relativize(baseDir, before), compiler.Relativize(editDir, after), renamedRel); len(added) > 0 {
		log.Infof("rename %s -> %s rejected: %d new compiler errors", p.target.Name, p.newName, len(added))
		return &FailedError{Diagnostics: added}
	}
	return nil
}

func relTo(root, uri string) (string, bool) {
	rel, err := filepath.Rel(root, document.PathFromURI(uri))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}

// introduced returns the errors of after that have no counterpart in before.
// Errors are matched by file and title since positions shift with the rename.
func introduced(before, after []compiler.Diagnostic, renamed map[string]string) []compiler.Diagnostic {
	type key struct{ file, title string }
	seen := make(map[key]int)
	for _, d := range compiler.Errors(before) {
		file := d.File
		if to, ok := renamed[file]; ok {
			file = to
		}
		seen[key{file, d.Title}]++
	}
	var out []compiler.Diagnostic
	for _, d := range compiler.Errors(after) {
		k := key{d.File, d.Title}
		if seen[k] > 0 {
			seen[k]--
			continue
		}
		out = append(out, d)
	}
	return out
}
