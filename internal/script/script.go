// Package script embeds a Risor VM for ad-hoc queries over an Elm workspace.
//
// Scripts see the symbol index through host functions (symbols_by_name,
// imports_of, ...), can parse Elm source with tree-sitter, and, when a
// database is attached, can run read-only SQL against it.
package script

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/op/go-logging"
	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/store"
)

var log = logging.MustGetLogger("elmls.script")

// Index is the read side of the symbol index scripts can query.
type Index interface {
	FindByName(name string) []extract.Symbol
	FindByFile(uri string) []extract.Symbol
	Search(query string, limit int, keep func(extract.Symbol) bool) []extract.Symbol
	ImportsOf(uri string) []extract.ImportEdge
	Importers(module string) []string
	Files() []string
}

// Host runs scripts against one workspace.
type Host struct {
	ix         Index
	db         *store.Store
	scriptsDir string
	fsys       fs.FS
	sources    *sourceStore
}

type Option func(*Host)

// WithFS loads scripts, and resolves their imports, from fsys instead of disk.
func WithFS(fsys fs.FS) Option {
	return func(h *Host) {
		h.fsys = fsys
	}
}

// WithStore exposes db_query over the persisted index.
func WithStore(s *store.Store) Option {
	return func(h *Host) {
		h.db = s
	}
}

// New creates a Host over ix. ix may be nil, in which case only the parsing
// host functions are available.
func New(ix Index, scriptsDir string, opts ...Option) *Host {
	h := &Host{
		ix:         ix,
		scriptsDir: scriptsDir,
		sources:    newSourceStore(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunScript loads and evaluates the script at path.
func (h *Host) RunScript(ctx context.Context, path string, extra map[string]any) (object.Object, error) {
	src, err := h.LoadScript(path)
	if err != nil {
		return nil, err
	}
	return h.eval(ctx, src, path, extra)
}

// RunSource evaluates source directly.
func (h *Host) RunSource(ctx context.Context, source string, extra map[string]any) (object.Object, error) {
	return h.eval(ctx, source, "<inline>", extra)
}

func (h *Host) eval(ctx context.Context, source, label string, extra map[string]any) (object.Object, error) {
	globals := h.globals(extra)

	opts := make([]risor.Option, 0, len(globals)+1)
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}
	if imp := h.importer(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	log.Debugf("running %s", label)
	result, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", label, err)
	}
	return result, nil
}

func (h *Host) importer(globals map[string]any) importer.Importer {
	names := make([]string, 0, len(globals))
	for name := range globals {
		names = append(names, name)
	}
	if h.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: names,
			SourceFS:    h.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if h.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: names,
			SourceDir:   h.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file, from the configured fs.FS when there is
// one and relative to the scripts directory otherwise.
func (h *Host) LoadScript(path string) (string, error) {
	if h.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(h.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("load script %s: %w", fsPath, err)
		}
		return string(data), nil
	}
	full := path
	if !filepath.IsAbs(path) && h.scriptsDir != "" {
		full = filepath.Join(h.scriptsDir, path)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("load script %s: %w", full, err)
	}
	return string(data), nil
}

func (h *Host) globals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"parse":      makeParseFn(h.sources),
		"parse_src":  makeParseSrcFn(h.sources),
		"node_text":  makeNodeTextFn(h.sources),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(h.sources),
		"log":        mustProxy(&logObject{}),
	}
	if h.ix != nil {
		globals["symbols_by_name"] = makeSymbolsByNameFn(h.ix)
		globals["symbols_by_file"] = makeSymbolsByFileFn(h.ix)
		globals["workspace_symbols"] = makeWorkspaceSymbolsFn(h.ix)
		globals["imports_of"] = makeImportsOfFn(h.ix)
		globals["importers_of"] = makeImportersOfFn(h.ix)
		globals["files"] = makeFilesFn(h.ix)
	}
	if h.db != nil {
		globals["db_query"] = makeDBQueryFn(h.db)
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("script: proxy error: %v", err))
	}
	return p
}
