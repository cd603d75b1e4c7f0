package store

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/span"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func rng(line, start, end int) span.Range {
	return span.Range{Start: span.Position{Line: line, Character: start}, End: span.Position{Line: line, Character: end}}
}

// testEntry builds a small but complete entry for uri.
func testEntry(uri, module string) *index.FileEntry {
	return &index.FileEntry{
		URI:    uri,
		Module: module,
		Hash:   index.HashText(uri + module),
		Symbols: []extract.Symbol{
			{Name: module, Kind: extract.KindModule, URI: uri, Container: module, Range: rng(0, 0, 30), Selection: rng(0, 7, 7+len(module)), Exposed: true},
			{Name: "greet", Kind: extract.KindFunction, URI: uri, Container: module, Signature: "greet : String -> String",
				Doc: "Say hello.", Range: rng(4, 0, 20), Selection: rng(5, 0, 5), Exposed: true},
			{Name: "Hi", Kind: extract.KindConstructor, URI: uri, Container: module, Parent: "Msg", Range: rng(8, 10, 12), Selection: rng(8, 10, 12)},
		},
		Imports: []extract.ImportEdge{
			{URI: uri, Module: "Html", Range: rng(2, 0, 11)},
			{URI: uri, Module: "String.Extra", Alias: "SE", Exposing: []extract.Exposed{{Name: "Pair", Open: true}, {Name: "words"}}, Range: rng(3, 0, 40)},
		},
		Mentions: []string{"Hi", "greet", "text"},
	}
}

// =============================================================================
// Schema & Lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"metadata", "files", "symbols", "imports", "mentions"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	err := s.db.QueryRow("PRAGMA journal_mode").Scan(&mode)
	require.NoError(t, err)
	assert.Equal(t, "wal", mode)
}

func TestOpen_FreshDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, rebuilt, err := Open(ctx, filepath.Join(t.TempDir(), "fresh.db"))
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, rebuilt)

	v, err := s.Meta(ctx, "schema_version")
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, v)
}

func TestOpen_GarbageFileIsRebuilt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "broken.db")
	require.NoError(t, os.WriteFile(dbPath, bytes.Repeat([]byte("not sqlite "), 512), 0o644))

	s, rebuilt, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, rebuilt)

	files, err := s.Files(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestOpen_SchemaVersionMismatchIsRebuilt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "old.db")

	s, _, err := Open(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///A.elm", "A")))
	require.NoError(t, s.SetMeta(ctx, "schema_version", "1"))
	require.NoError(t, s.Close())

	s, rebuilt, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer s.Close()
	assert.True(t, rebuilt)
	got, err := s.LoadFile(ctx, "file:///A.elm")
	require.NoError(t, err)
	assert.Nil(t, got, "rebuilt database starts empty")
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "keep.db")

	s, _, err := Open(ctx, dbPath)
	require.NoError(t, err)
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///A.elm", "A")))
	require.NoError(t, s.Close())

	s, rebuilt, err := Open(ctx, dbPath)
	require.NoError(t, err)
	defer s.Close()
	assert.False(t, rebuilt)
	got, err := s.LoadFile(ctx, "file:///A.elm")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A", got.Module)
}

// =============================================================================
// File operations
// =============================================================================

func TestPersistFile_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	want := testEntry("file:///src/Greeting.elm", "Greeting")
	require.NoError(t, s.PersistFile(ctx, want))

	got, err := s.LoadFile(ctx, want.URI)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.URI, got.URI)
	assert.Equal(t, want.Module, got.Module)
	assert.Equal(t, want.Hash, got.Hash)
	assert.Equal(t, want.Symbols, got.Symbols)
	assert.Equal(t, want.Imports, got.Imports)
	assert.Equal(t, want.Mentions, got.Mentions)
}

func TestPersistFile_ReplacesPrevious(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	uri := "file:///A.elm"
	require.NoError(t, s.PersistFile(ctx, testEntry(uri, "A")))

	next := &index.FileEntry{URI: uri, Module: "A", Hash: 7, Symbols: []extract.Symbol{
		{Name: "only", Kind: extract.KindConstant, URI: uri, Range: rng(1, 0, 4), Selection: rng(1, 0, 4)},
	}}
	require.NoError(t, s.PersistFile(ctx, next))

	got, err := s.LoadFile(ctx, uri)
	require.NoError(t, err)
	require.Len(t, got.Symbols, 1)
	assert.Equal(t, "only", got.Symbols[0].Name)
	assert.Empty(t, got.Imports)
	assert.Empty(t, got.Mentions)

	var symbolRows int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM symbols").Scan(&symbolRows))
	assert.Equal(t, 1, symbolRows, "old rows are cascaded away")
}

func TestFileByURI_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.FileByURI(context.Background(), "file:///nope.elm")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDeleteFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///A.elm", "A")))
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///B.elm", "B")))

	require.NoError(t, s.DeleteFile(ctx, "file:///A.elm"))
	require.NoError(t, s.DeleteFile(ctx, "file:///missing.elm"))

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "file:///B.elm", all[0].URI)

	for _, table := range []string{"symbols", "imports", "mentions"} {
		var n int
		require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE file_id NOT IN (SELECT id FROM files)").Scan(&n))
		assert.Zero(t, n, "orphaned rows in %s", table)
	}
}

func TestFileHashes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	a := testEntry("file:///A.elm", "A")
	a.Hash = ^uint64(0)
	require.NoError(t, s.PersistFile(ctx, a))

	hashes, err := s.FileHashes(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"file:///A.elm": ^uint64(0)}, hashes, "full-width hashes survive text storage")
}

// =============================================================================
// Secondary lookups
// =============================================================================

func TestSymbolsByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///B.elm", "B")))
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///A.elm", "A")))

	got, err := s.SymbolsByName(ctx, "greet")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "file:///A.elm", got[0].URI)
	assert.Equal(t, "file:///B.elm", got[1].URI)
	assert.Equal(t, "greet : String -> String", got[0].Signature)
}

func TestImporterURIs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///B.elm", "B")))
	require.NoError(t, s.PersistFile(ctx, testEntry("file:///A.elm", "A")))

	got, err := s.ImporterURIs(ctx, "String.Extra")
	require.NoError(t, err)
	assert.Equal(t, []string{"file:///A.elm", "file:///B.elm"}, got)

	none, err := s.ImporterURIs(ctx, "Json.Decode")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestIndexWriteBehind drives the store through the index's persist queue.
func TestIndexWriteBehind(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	ix := index.New(index.WithPersister(s))

	ix.ReplaceFile(testEntry("file:///A.elm", "A"))
	ix.ReplaceFile(testEntry("file:///B.elm", "B"))
	ix.RemoveFile("file:///B.elm")
	ix.Close()

	all, err := s.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "A", all[0].Module)
}
