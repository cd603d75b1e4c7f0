package elmls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jward/elmls/internal/compiler"
	"github.com/jward/elmls/internal/document"
)

// Diagnostics compiles uri and returns the compiler's findings for that file.
// The compiler runs over a scratch copy of the workspace holding the current
// text of every source file, open documents included, so unsaved edits are
// checked and the workspace itself is left alone. A failing compiler is
// reported as a *compiler.ToolError; the engine itself keeps working.
func (e *Engine) Diagnostics(ctx context.Context, uri string) (Response[[]compiler.Diagnostic], error) {
	uri = document.CanonicalURI(uri)
	rel, ok := e.relPath(uri)
	if !ok {
		return Response[[]compiler.Diagnostic]{}, fmt.Errorf("diagnostics %s: outside %s", uri, e.root)
	}
	out := Response[[]compiler.Diagnostic]{URI: uri, Generation: e.ix.Generation()}
	if st, ok := e.docs.Get(uri); ok {
		out.Version = st.Version
	}

	texts, err := e.workspaceTexts(ctx)
	if err != nil {
		return out, fmt.Errorf("diagnostics %s: %w", uri, err)
	}
	files := make(map[string]string, len(texts)+1)
	for u, text := range texts {
		if r, ok := e.relPath(u); ok {
			files[r] = text
		}
	}
	if _, ok := files[rel]; !ok {
		text, err := e.text(uri)
		if err != nil {
			return out, fmt.Errorf("diagnostics %s: %w", uri, err)
		}
		files[rel] = text
	}
	dir, err := compiler.Scratch(e.root, "elmls-check-", files)
	if err != nil {
		return out, fmt.Errorf("diagnostics %s: %w", uri, err)
	}
	defer os.RemoveAll(dir)

	diags, err := e.checker.Check(ctx, dir, []string{rel})
	if err != nil {
		if te, ok := compiler.AsToolError(err); ok {
			log.Warningf("compiler failed on %s: %v", rel, te)
		}
		return out, err
	}
	for _, d := range compiler.Relativize(dir, diags) {
		if filepath.Clean(d.File) == rel {
			out.Result = append(out.Result, d)
		}
	}
	return out, nil
}

// relPath is uri's path relative to the workspace root, if it lies inside.
func (e *Engine) relPath(uri string) (string, bool) {
	rel, err := filepath.Rel(e.root, document.PathFromURI(uri))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return rel, true
}
