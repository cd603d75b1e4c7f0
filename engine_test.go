package elmls

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

const elmJSON = `{
    "type": "application",
    "source-directories": ["src"],
    "elm-version": "0.19.1",
    "dependencies": {"direct": {}, "indirect": {}},
    "test-dependencies": {"direct": {}, "indirect": {}}
}
`

const srcA = `module A exposing (greet, greeting, Great)

{-| Say hello. -}
greet : String -> String
greet name =
    "Hello, " ++ name


greeting =
    "hello"


type alias Great =
    { n : Int }
`

const srcB = `module B exposing (main)

import A exposing (greet)
import Html


main =
    Html.text (greet "hi")
`

const srcBroken = `module Broken exposing (..)


fine =
    1


oops =
    { a = 1
`

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, text := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	}
}

func writeWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"elm.json":       elmJSON,
		"src/A.elm":      srcA,
		"src/B.elm":      srcB,
		"src/Broken.elm": srcBroken,
	})
	return root
}

// newTestEngine creates an engine over a fresh copy of the fixture workspace
// and indexes it.
func newTestEngine(t *testing.T, opts ...Option) (*Engine, string) {
	t.Helper()
	root := writeWorkspace(t)
	e, err := New(root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	_, err = e.IndexWorkspace(context.Background())
	require.NoError(t, err)
	return e, root
}

func fileURI(root, rel string) string {
	return document.URIFromPath(filepath.Join(root, rel))
}

// posOf returns the position of the nth occurrence of needle in src.
func posOf(t *testing.T, src, needle string, nth int) span.Position {
	t.Helper()
	off, from := -1, 0
	for i := 0; i <= nth; i++ {
		j := strings.Index(src[from:], needle)
		require.GreaterOrEqual(t, j, 0, "needle %q #%d", needle, nth)
		off = from + j
		from = off + len(needle)
	}
	return span.NewLineIndex(src).Position(off)
}

// =============================================================================
// Construction and workspace discovery
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	t.Parallel()
	e, err := New(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	assert.Nil(t, e.Store(), "no database unless asked")
	assert.NotNil(t, e.Index())
	assert.True(t, filepath.IsAbs(e.Root()))
	assert.Equal(t, int64(DefaultWaiters), e.cfg.waiters)
}

func TestNew_InvalidDatabasePath(t *testing.T) {
	t.Parallel()
	_, err := New(t.TempDir(), WithDatabase("/nonexistent/dir/index.db"))
	require.Error(t, err)
}

func TestSourceFiles_FromElmJSON(t *testing.T) {
	t.Parallel()
	root := writeWorkspace(t)
	writeFiles(t, root, map[string]string{
		"elm-stuff/0.19.1/Gen.elm": "module Gen exposing (..)\n",
		"tests/ATest.elm":          "module ATest exposing (..)\n",
	})
	e, err := New(root)
	require.NoError(t, err)
	defer e.Close()

	paths, err := e.SourceFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(e.Root(), "src/A.elm"),
		filepath.Join(e.Root(), "src/B.elm"),
		filepath.Join(e.Root(), "src/Broken.elm"),
	}, paths, "only the listed source directories")
}

func TestSourceFiles_WalksRootWithoutManifest(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"Main.elm":               "module Main exposing (..)\n",
		"lib/Util.elm":           "module Util exposing (..)\n",
		".hidden/Secret.elm":     "module Secret exposing (..)\n",
		"node_modules/x/Dep.elm": "module Dep exposing (..)\n",
		"elm-stuff/Gen.elm":      "module Gen exposing (..)\n",
		"README.md":              "# readme\n",
	})
	e, err := New(root)
	require.NoError(t, err)
	defer e.Close()

	paths, err := e.SourceFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(e.Root(), "Main.elm"),
		filepath.Join(e.Root(), "lib/Util.elm"),
	}, paths)
}

func TestSourceDirectories_Package(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"elm.json": `{"type": "package", "name": "a/b"}`})
	assert.Equal(t, []string{filepath.Join(root, "src")}, sourceDirectories(root))
}

// =============================================================================
// Workspace indexing
// =============================================================================

func TestIndexWorkspace(t *testing.T) {
	t.Parallel()
	root := writeWorkspace(t)
	e, err := New(root, WithWorkers(2))
	require.NoError(t, err)
	defer e.Close()

	stats, err := e.IndexWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Files)
	assert.Equal(t, 3, stats.Parsed)
	assert.Zero(t, stats.Failed, "a syntax error is not an indexing failure")

	assert.Equal(t, []string{fileURI(root, "src/A.elm")}, e.Index().ModuleFiles("A"))
	assert.Equal(t, []string{fileURI(root, "src/B.elm")}, e.Index().Importers("A"))
	assert.Len(t, e.Index().FindByName("fine"), 1, "the broken file still contributes what it can")
}

func TestIndexWorkspace_DropsDeletedFiles(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	require.NoError(t, os.Remove(filepath.Join(root, "src/Broken.elm")))

	stats, err := e.IndexWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Removed)
	assert.Nil(t, e.Index().Entry(fileURI(root, "src/Broken.elm")))
	assert.Empty(t, e.Index().FindByName("fine"))
}

func TestIndexWorkspace_WarmStart(t *testing.T) {
	t.Parallel()
	root := writeWorkspace(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	run := func() IndexStats {
		e, err := New(root, WithDatabase(dbPath))
		require.NoError(t, err)
		defer e.Close()
		stats, err := e.IndexWorkspace(ctx)
		require.NoError(t, err)
		require.Len(t, e.Index().FindByName("greet"), 1)
		return stats
	}

	first := run()
	assert.Equal(t, 3, first.Parsed)
	assert.Zero(t, first.Restored)

	second := run()
	assert.Zero(t, second.Parsed)
	assert.Equal(t, 3, second.Restored)

	require.NoError(t, os.Remove(filepath.Join(root, "src/Broken.elm")))
	writeFiles(t, root, map[string]string{"src/B.elm": srcB + "\n\nextra =\n    1\n"})
	third := run()
	assert.Equal(t, 1, third.Parsed)
	assert.Equal(t, 1, third.Restored)
	assert.Equal(t, 1, third.Removed)
}

func TestIndexWorkspace_RebuildsCorruptDatabase(t *testing.T) {
	t.Parallel()
	root := writeWorkspace(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	require.NoError(t, os.WriteFile(dbPath, []byte(strings.Repeat("not a sqlite database. ", 256)), 0o644))

	e, err := New(root, WithDatabase(dbPath))
	require.NoError(t, err)
	defer e.Close()
	stats, err := e.IndexWorkspace(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Parsed)
}

func TestIndexWorkspace_Cancelled(t *testing.T) {
	t.Parallel()
	root := writeWorkspace(t)
	e, err := New(root)
	require.NoError(t, err)
	defer e.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.IndexWorkspace(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Document lifecycle
// =============================================================================

func TestOpenChangeClose(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	ctx := context.Background()
	uriA := fileURI(root, "src/A.elm")

	require.NoError(t, e.OpenDocument(ctx, uriA, srcA, 1))
	edited := srcA + "\n\nfarewell =\n    \"bye\"\n"
	require.NoError(t, e.ChangeDocument(ctx, uriA, 2, []syntax.Edit{{Text: edited}}))

	syms, err := e.DocumentSymbols(ctx, uriA)
	require.NoError(t, err)
	assert.Equal(t, int32(2), syms.Version)
	ws, err := e.WorkspaceSymbols(ctx, "farewell", 0)
	require.NoError(t, err)
	require.Len(t, ws.Result, 1, "the unsaved edit is indexed")

	err = e.ChangeDocument(ctx, uriA, 2, []syntax.Edit{{Text: srcA}})
	assert.ErrorIs(t, err, ErrStaleVersion)

	e.CloseDocument(ctx, uriA)
	_, err = e.DocumentSymbols(ctx, uriA)
	require.NoError(t, err)
	ws, err = e.WorkspaceSymbols(ctx, "farewell", 0)
	require.NoError(t, err)
	assert.Empty(t, ws.Result, "closing discards unsaved content")
}

func TestChangeDocument_RangedEdit(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	ctx := context.Background()
	uriA := fileURI(root, "src/A.elm")
	require.NoError(t, e.OpenDocument(ctx, uriA, srcA, 1))

	// greeting -> welcome, in place
	at := posOf(t, srcA, "greeting =", 0)
	r := span.Range{Start: at, End: span.Position{Line: at.Line, Character: at.Character + len("greeting")}}
	require.NoError(t, e.ChangeDocument(ctx, uriA, 2, []syntax.Edit{{Range: &r, Text: "welcome"}}))

	st, ok := e.Document(uriA)
	require.True(t, ok)
	assert.Contains(t, st.Text(), "welcome =\n")

	_, err := e.DocumentSymbols(ctx, uriA)
	require.NoError(t, err)
	assert.Len(t, e.Index().FindByName("welcome"), 1)
	assert.Empty(t, e.Index().FindByName("greeting"))
}

func TestChangeDocument_NotOpen(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	err := e.ChangeDocument(context.Background(), fileURI(root, "src/A.elm"), 1, []syntax.Edit{{Text: ""}})
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestQueries_WaitBehindReindex(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t, WithWaiters(1))
	uriB := fileURI(root, "src/B.elm")

	// Hold the per-uri lock so the next reindex job cannot run.
	u := e.state(uriB)
	u.mu.Lock()
	e.schedule(uriB, func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := e.Definition(ctx, uriB, posOf(t, srcB, "greet \"hi\"", 0))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.True(t, u.waiters.TryAcquire(1))
	_, err = e.Definition(context.Background(), uriB, posOf(t, srcB, "greet \"hi\"", 0))
	assert.ErrorIs(t, err, ErrBusy, "the only waiter slot is taken")
	u.waiters.Release(1)

	u.mu.Unlock()
	def, err := e.Definition(context.Background(), uriB, posOf(t, srcB, "greet \"hi\"", 0))
	require.NoError(t, err)
	require.NotNil(t, def.Result)
}

func TestSchedule_DropsOutdatedJobs(t *testing.T) {
	t.Parallel()
	e, err := New(t.TempDir())
	require.NoError(t, err)
	defer e.Close()

	u := e.state("file:///x.elm")
	u.mu.Lock()
	var ran []int
	older := e.schedule("file:///x.elm", func() { ran = append(ran, 1) })
	newer := e.schedule("file:///x.elm", func() { ran = append(ran, 2) })
	u.mu.Unlock()
	<-older.done
	<-newer.done

	// Whichever goroutine wins the lock, the older job never runs after the newer.
	assert.NotEqual(t, []int{2, 1}, ran)
	assert.Contains(t, ran, 2)
}

// =============================================================================
// Disk synchronisation
// =============================================================================

func TestWatch_FollowsClosedFiles(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Watch(ctx, 10*time.Millisecond) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)

	writeFiles(t, root, map[string]string{"src/C.elm": "module C exposing (..)\n\n\nwatched =\n    1\n"})
	require.Eventually(t, func() bool {
		return len(e.Index().FindByName("watched")) == 1
	}, 5*time.Second, 20*time.Millisecond, "a new file is indexed")

	require.NoError(t, os.Remove(filepath.Join(root, "src/Broken.elm")))
	require.Eventually(t, func() bool {
		return e.Index().Entry(fileURI(root, "src/Broken.elm")) == nil
	}, 5*time.Second, 20*time.Millisecond, "a deleted file is dropped")

	writeFiles(t, root, map[string]string{"src/Nested/D.elm": "module Nested.D exposing (..)\n\n\ndeep =\n    1\n"})
	require.Eventually(t, func() bool {
		return len(e.Index().FindByName("deep")) == 1
	}, 5*time.Second, 20*time.Millisecond, "files in new directories are picked up")
}

func TestWatch_LeavesOpenDocumentsAlone(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	ctx := context.Background()
	uriA := fileURI(root, "src/A.elm")
	require.NoError(t, e.OpenDocument(ctx, uriA, srcA, 1))

	writeFiles(t, root, map[string]string{"src/A.elm": "module A exposing (..)\n\n\nondisk =\n    1\n"})
	e.syncPaths(ctx, []string{filepath.Join(e.Root(), "src/A.elm")})

	_, err := e.DocumentSymbols(ctx, uriA)
	require.NoError(t, err)
	assert.Empty(t, e.Index().FindByName("ondisk"))
	assert.Len(t, e.Index().FindByName("greet"), 1)
}

func TestSyncFromDisk_RemovedDirectory(t *testing.T) {
	t.Parallel()
	e, root := newTestEngine(t)
	require.NoError(t, os.RemoveAll(filepath.Join(root, "src")))
	e.syncPaths(context.Background(), []string{filepath.Join(e.Root(), "src")})

	for _, rel := range []string{"src/A.elm", "src/B.elm", "src/Broken.elm"} {
		require.NoError(t, e.await(context.Background(), fileURI(root, rel)))
	}
	assert.Empty(t, e.Index().Files())
}

func TestClose_PersistsEdits(t *testing.T) {
	t.Parallel()
	root := writeWorkspace(t)
	dbPath := filepath.Join(t.TempDir(), "index.db")
	ctx := context.Background()

	e, err := New(root, WithDatabase(dbPath))
	require.NoError(t, err)
	_, err = e.IndexWorkspace(ctx)
	require.NoError(t, err)
	uriB := fileURI(root, "src/B.elm")
	require.NoError(t, e.OpenDocument(ctx, uriB, srcB+"\n\nlive =\n    1\n", 1))
	_, err = e.DocumentSymbols(ctx, uriB)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e2, err := New(root, WithDatabase(dbPath))
	require.NoError(t, err)
	defer e2.Close()
	syms, err := e2.Store().SymbolsByName(ctx, "live")
	require.NoError(t, err)
	assert.Len(t, syms, 1, "edits reach the database through the index")
}

func TestErrBusy_IsDistinct(t *testing.T) {
	t.Parallel()
	assert.False(t, errors.Is(ErrBusy, context.DeadlineExceeded))
}
