package elmls

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/rename"
	"github.com/jward/elmls/internal/resolve"
	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

// RenameTarget is the symbol a rename at some position would change.
type RenameTarget struct {
	Symbol extract.Symbol
	Range  span.Range // the identifier under the cursor
}

// RenameOption configures Rename.
type RenameOption func(*renameConfig)

type renameConfig struct {
	compilerCheck bool
}

// WithCompilerCheck compiles the workspace with and without the rename before
// returning it. A rename that adds compiler errors fails with
// rename.ErrValidationFailed.
func WithCompilerCheck() RenameOption {
	return func(c *renameConfig) { c.compilerCheck = true }
}

// current returns the content of uri once its pending reindex is done,
// leaving the document cache as it was.
func (e *Engine) current(ctx context.Context, uri string) (*document.State, error) {
	if err := e.await(ctx, uri); err != nil {
		return nil, err
	}
	return e.peek(ctx, uri)
}

func (e *Engine) renameTarget(ctx context.Context, uri string, pos span.Position) (*document.State, *RenameTarget, error) {
	st, err := e.current(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	switch r := e.res.Resolve(st.Tree, uri, pos).(type) {
	case resolve.Found:
		return st, &RenameTarget{Symbol: r.Symbol, Range: st.Tree.Lines().Range(r.Ident.Start, r.Ident.End)}, nil
	case resolve.NotFound:
		return st, nil, &rename.ValidationError{Reason: rename.ReasonNotRenamable, Detail: r.Reason}
	}
	return st, nil, &rename.ValidationError{Reason: rename.ReasonNotRenamable}
}

// PrepareRename checks that the identifier at pos can be renamed to newName.
// An empty newName only checks that there is a renamable symbol at pos.
// Rejections are *rename.ValidationError values.
func (e *Engine) PrepareRename(ctx context.Context, uri string, pos span.Position, newName string) (Response[*RenameTarget], error) {
	uri = document.CanonicalURI(uri)
	st, target, err := e.renameTarget(ctx, uri, pos)
	if err != nil {
		return Response[*RenameTarget]{}, withName(err, newName)
	}
	out := respond(st, e.ix.Generation(), target)
	if newName == "" {
		return out, nil
	}
	occs, err := e.occurrences(ctx, target.Symbol, e.current)
	if err != nil {
		return Response[*RenameTarget]{}, err
	}
	if verr := e.planner.Check(target.Symbol, newName, occs); verr != nil {
		return Response[*RenameTarget]{}, verr
	}
	return out, nil
}

func withName(err error, name string) error {
	var verr *rename.ValidationError
	if errors.As(err, &verr) && verr.Name == "" {
		verr.Name = name
	}
	return err
}

// Rename computes the edits that rename the symbol at pos to newName across
// the workspace. Nothing is written and no engine state changes; see
// ApplyRename.
func (e *Engine) Rename(ctx context.Context, uri string, pos span.Position, newName string, opts ...RenameOption) (*rename.Proposal, error) {
	uri = document.CanonicalURI(uri)
	var cfg renameConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	_, target, err := e.renameTarget(ctx, uri, pos)
	if err != nil {
		return nil, withName(err, newName)
	}
	occs, err := e.occurrences(ctx, target.Symbol, e.current)
	if err != nil {
		return nil, err
	}
	p, err := e.planner.Plan(target.Symbol, newName, occs)
	if err != nil {
		return nil, err
	}
	if cfg.compilerCheck && !p.Empty() {
		files, err := e.workspaceTexts(ctx)
		if err != nil {
			return nil, err
		}
		if err := rename.PostValidate(ctx, e.checker, rename.Workspace{Root: e.root, Files: files}, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// workspaceTexts returns the current text of every source file, open
// documents taking precedence over the disk.
func (e *Engine) workspaceTexts(ctx context.Context) (map[string]string, error) {
	paths, err := e.SourceFiles()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		uri := document.URIFromPath(p)
		if st, ok := e.docs.Get(uri); ok && st.Open {
			out[uri] = st.Text()
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		out[uri] = string(data)
	}
	for _, uri := range e.docs.OpenURIs() {
		if _, ok := out[uri]; !ok {
			if st, ok := e.docs.Get(uri); ok {
				out[uri] = st.Text()
			}
		}
	}
	return out, ctx.Err()
}

// text returns the live text of uri: the editor's for open documents, the
// file's otherwise.
func (e *Engine) text(uri string) (string, error) {
	if st, ok := e.docs.Get(uri); ok && st.Open {
		return st.Text(), nil
	}
	data, err := os.ReadFile(document.PathFromURI(uri))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ApplyRename writes a proposal to disk, moves renamed module files and
// reindexes everything it touched. It fails with rename.ErrStale without
// writing anything when a file changed after the proposal was computed.
// Every new text is staged beside its file before any file is replaced, so a
// failed write leaves the workspace as it was. Open documents receive the new
// text as a new version.
func (e *Engine) ApplyRename(ctx context.Context, p *rename.Proposal) ([]string, error) {
	texts, err := rename.Materialize(p, e.text)
	if err != nil {
		return nil, err
	}
	edits := p.Edits()
	files := edits.Files()

	staged, err := stageWrites(files, texts)
	if err != nil {
		return nil, fmt.Errorf("apply rename: %w", err)
	}
	for _, r := range edits.Renames {
		if _, err := os.Stat(document.PathFromURI(r.NewURI)); err == nil {
			discardWrites(staged)
			return nil, fmt.Errorf("apply rename: %s: %w", r.NewURI, fs.ErrExist)
		}
	}
	if err := commitWrites(staged); err != nil {
		return nil, fmt.Errorf("apply rename: %w", err)
	}

	touched := make(map[string]bool)
	for _, uri := range files {
		if st, ok := e.docs.Get(uri); ok && st.Open {
			if err := e.ChangeDocument(ctx, uri, st.Version+1, []syntax.Edit{{Text: texts[uri]}}); err != nil {
				return nil, fmt.Errorf("apply rename: %w", err)
			}
		}
		touched[uri] = true
	}

	for _, r := range edits.Renames {
		to := document.PathFromURI(r.NewURI)
		if err := os.MkdirAll(filepath.Dir(to), 0o755); err != nil {
			return nil, fmt.Errorf("apply rename: %w", err)
		}
		if err := os.Rename(document.PathFromURI(r.OldURI), to); err != nil {
			return nil, fmt.Errorf("apply rename: %w", err)
		}
		if st, ok := e.docs.Get(r.OldURI); ok && st.Open {
			e.docs.Close(r.OldURI)
			if err := e.OpenDocument(ctx, r.NewURI, st.Text(), st.Version+1); err != nil {
				return nil, fmt.Errorf("apply rename: %w", err)
			}
		}
		touched[r.OldURI] = true
		touched[r.NewURI] = true
	}

	uris := make([]string, 0, len(touched))
	for uri := range touched {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	for _, uri := range uris {
		if !e.docs.IsOpen(uri) {
			e.schedule(uri, func() { e.syncFromDisk(context.WithoutCancel(ctx), uri) })
		}
	}
	for _, uri := range uris {
		if err := e.await(ctx, uri); err != nil {
			return uris, err
		}
	}
	log.Infof("renamed %s to %s: %d edits in %d files", p.Target().Name, p.NewName(), edits.Len(), len(edits.Changes))
	return uris, nil
}

// stagedWrite is new file text sitting in a temporary sibling of its target.
type stagedWrite struct {
	tmp  string
	path string
}

// stageWrites writes the text of every uri next to its file. Nothing at a
// target path changes; on error every temporary is removed again.
func stageWrites(uris []string, texts map[string]string) ([]stagedWrite, error) {
	staged := make([]stagedWrite, 0, len(uris))
	for _, uri := range uris {
		w, err := stageWrite(document.PathFromURI(uri), texts[uri])
		if err != nil {
			discardWrites(staged)
			return nil, err
		}
		staged = append(staged, w)
	}
	return staged, nil
}

func stageWrite(path, text string) (stagedWrite, error) {
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return stagedWrite{}, err
	}
	_, err = f.WriteString(text)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Chmod(f.Name(), mode)
	}
	if err != nil {
		os.Remove(f.Name())
		return stagedWrite{}, err
	}
	return stagedWrite{tmp: f.Name(), path: path}, nil
}

// commitWrites renames every staged file over its target.
func commitWrites(staged []stagedWrite) error {
	for i, w := range staged {
		if err := os.Rename(w.tmp, w.path); err != nil {
			discardWrites(staged[i:])
			return err
		}
	}
	return nil
}

func discardWrites(staged []stagedWrite) {
	for _, w := range staged {
		os.Remove(w.tmp)
	}
}
