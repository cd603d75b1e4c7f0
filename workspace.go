package elmls

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/store"
	"github.com/jward/elmls/internal/syntax"
)

// skipDirs are never searched for sources when elm.json does not list them.
var skipDirs = map[string]bool{
	"elm-stuff":    true,
	"node_modules": true,
}

type manifest struct {
	Type              string   `json:"type"`
	SourceDirectories []string `json:"source-directories"`
}

// sourceDirectories reads the source directories of the project at root from
// its elm.json. Packages keep their sources in src. Nil means the manifest is
// missing or unreadable and the whole root is searched.
func sourceDirectories(root string) []string {
	data, err := os.ReadFile(filepath.Join(root, "elm.json"))
	if err != nil {
		return nil
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		log.Warningf("ignoring unreadable elm.json: %v", err)
		return nil
	}
	dirs := m.SourceDirectories
	if m.Type == "package" {
		dirs = []string{"src"}
	}
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !filepath.IsAbs(d) {
			d = filepath.Join(root, d)
		}
		out = append(out, filepath.Clean(d))
	}
	return out
}

// SourceFiles lists every .elm file of the workspace in path order.
func (e *Engine) SourceFiles() ([]string, error) {
	roots := e.srcDirs
	if len(roots) == 0 {
		roots = []string{e.root}
	}
	seen := make(map[string]bool)
	var paths []string
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if path == root && os.IsNotExist(err) {
					log.Warningf("source directory %s does not exist", root)
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				name := d.Name()
				if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.HasSuffix(path, ".elm") && !seen[path] {
				seen[path] = true
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", root, err)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// IndexStats summarizes one IndexWorkspace run.
type IndexStats struct {
	Files    int
	Parsed   int
	Restored int
	Removed  int
	Failed   int
	Elapsed  time.Duration
}

type indexed struct {
	entry    *index.FileEntry
	restored bool
	err      error
}

// IndexWorkspace indexes every source file that is not open in the editor.
//
// Files are read, hashed and parsed by a pool of workers; a single committer
// then swaps the results into the index. With a database, files whose hash
// matches the persisted one are loaded instead of parsed, new results are
// written in one transaction, and persisted files that no longer exist are
// dropped. A file that cannot be read is logged and skipped.
func (e *Engine) IndexWorkspace(ctx context.Context) (IndexStats, error) {
	start := time.Now()
	paths, err := e.SourceFiles()
	if err != nil {
		return IndexStats{}, err
	}

	var persisted map[string]uint64
	if e.db != nil {
		if persisted, err = e.db.FileHashes(ctx); err != nil {
			log.Warningf("reading persisted hashes: %v; reindexing everything", err)
			persisted = nil
		}
	}

	var todo []string
	for _, path := range paths {
		if uri := document.URIFromPath(path); !e.docs.IsOpen(uri) {
			todo = append(todo, uri)
		}
	}

	results := make([]indexed, len(todo))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.workers)
	for i, uri := range todo {
		g.Go(func() error {
			results[i] = e.indexOne(gctx, uri, persisted)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return IndexStats{}, fmt.Errorf("index workspace: %w", err)
	}

	stats := IndexStats{Files: len(paths)}
	batch := store.NewBatch()
	for i, r := range results {
		switch {
		case r.err != nil:
			log.Warningf("indexing %s: %v", todo[i], r.err)
			stats.Failed++
			continue
		case r.restored:
			stats.Restored++
		default:
			stats.Parsed++
			batch.Add(r.entry)
		}
		e.ix.Restore(r.entry)
	}
	if e.db != nil && batch.Len() > 0 {
		if err := e.db.CommitBatch(ctx, batch); err != nil {
			return stats, fmt.Errorf("index workspace: %w", err)
		}
	}
	stats.Removed = e.dropMissing(ctx, paths, persisted)
	stats.Elapsed = time.Since(start)
	log.Infof("indexed %d files in %s: %d parsed, %d restored, %d removed, %d failed",
		stats.Files, stats.Elapsed.Round(time.Millisecond), stats.Parsed, stats.Restored, stats.Removed, stats.Failed)
	return stats, nil
}

func (e *Engine) indexOne(ctx context.Context, uri string, persisted map[string]uint64) indexed {
	data, err := os.ReadFile(document.PathFromURI(uri))
	if err != nil {
		return indexed{err: err}
	}
	text := string(data)
	hash := index.HashText(text)
	if h, ok := persisted[uri]; ok && h == hash {
		entry, err := e.db.LoadFile(ctx, uri)
		if err == nil && entry != nil {
			return indexed{entry: entry, restored: true}
		}
		log.Warningf("persisted entry for %s is unusable (%v); reparsing", uri, err)
	}
	tree, err := syntax.Parse(ctx, text)
	if err != nil {
		return indexed{err: err}
	}
	return indexed{entry: index.NewEntry(extract.File(uri, tree), hash)}
}

// dropMissing removes indexed and persisted files that are no longer part of
// the workspace.
func (e *Engine) dropMissing(ctx context.Context, paths []string, persisted map[string]uint64) int {
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[document.URIFromPath(p)] = true
	}
	gone := make(map[string]bool)
	for _, uri := range e.ix.Files() {
		if !present[uri] && !e.docs.IsOpen(uri) {
			gone[uri] = true
		}
	}
	for uri := range persisted {
		if !present[uri] && !e.docs.IsOpen(uri) {
			gone[uri] = true
		}
	}
	removed := 0
	for uri := range gone {
		if e.ix.Entry(uri) != nil {
			e.ix.RemoveFile(uri)
		} else if err := e.db.DeleteFile(ctx, uri); err != nil {
			log.Warningf("dropping %s from the database: %v", uri, err)
			continue
		}
		removed++
	}
	return removed
}
