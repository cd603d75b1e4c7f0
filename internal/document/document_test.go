package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/elmls/internal/span"
	"github.com/jward/elmls/internal/syntax"
)

const mainSrc = `module Main exposing (main)

main =
    greet "world"

greet name =
    "Hello, " ++ name
`

func replaceAll(text string) []syntax.Edit {
	return []syntax.Edit{{Text: text}}
}

func TestOpenGet(t *testing.T) {
	t.Parallel()
	s := NewStore()
	st, err := s.Open(context.Background(), "file:///Main.elm", mainSrc, 1)
	require.NoError(t, err)
	assert.True(t, st.Open)
	assert.Equal(t, mainSrc, st.Text())
	assert.Equal(t, "Main", st.Tree.Module())

	got, ok := s.Get("file:///Main.elm")
	require.True(t, ok)
	assert.Same(t, st, got)
}

func TestChange_VersionGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	uri := "file:///Main.elm"
	_, err := s.Open(ctx, uri, mainSrc, 3)
	require.NoError(t, err)

	for _, v := range []int32{3, 2} {
		_, err := s.Change(ctx, uri, v, replaceAll("module Main exposing (..)\n"))
		require.ErrorIs(t, err, ErrStaleVersion, "version %d", v)
	}
	st, _ := s.Get(uri)
	assert.Equal(t, int32(3), st.Version)
	assert.Equal(t, mainSrc, st.Text(), "rejected edits are not applied")

	st, err = s.Change(ctx, uri, 4, replaceAll("module Main exposing (..)\n"))
	require.NoError(t, err)
	assert.Equal(t, int32(4), st.Version)
	assert.Equal(t, "module Main exposing (..)\n", st.Text())
}

func TestChange_RangedEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	uri := "file:///Main.elm"
	before, err := s.Open(ctx, uri, mainSrc, 1)
	require.NoError(t, err)

	// "world" sits on line 3 at columns 11..16.
	r := span.Range{Start: span.Position{Line: 3, Character: 11}, End: span.Position{Line: 3, Character: 16}}
	after, err := s.Change(ctx, uri, 2, []syntax.Edit{{Range: &r, Text: "there"}})
	require.NoError(t, err)
	assert.Contains(t, after.Text(), `greet "there"`)
	assert.Contains(t, before.Text(), `greet "world"`, "old snapshots are immutable")
}

func TestChange_NotOpen(t *testing.T) {
	t.Parallel()
	s := NewStore()
	_, err := s.Change(context.Background(), "file:///Nope.elm", 1, replaceAll("x = 1"))
	assert.ErrorIs(t, err, ErrNotOpen)
}

func TestClose_MovesToCacheAndEvicts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore(WithCacheSize(2))

	for i := range 3 {
		uri := fmt.Sprintf("file:///M%d.elm", i)
		_, err := s.Open(ctx, uri, fmt.Sprintf("module M%d exposing (..)\n", i), 1)
		require.NoError(t, err)
		s.Close(uri)
	}
	assert.False(t, s.IsOpen("file:///M2.elm"))
	assert.Equal(t, 2, s.Cached())

	_, ok := s.Get("file:///M0.elm")
	assert.False(t, ok, "least recently closed is evicted")
	st, ok := s.Get("file:///M2.elm")
	require.True(t, ok)
	assert.False(t, st.Open)
	assert.Equal(t, "M2", st.Tree.Module())
}

func TestLoad_ReadsDiskOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "Greeting.elm")
	require.NoError(t, os.WriteFile(path, []byte("module Greeting exposing (greet)\n\ngreet = 1\n"), 0o644))

	var reads atomic.Int32
	s := NewStore(WithReader(func(p string) ([]byte, error) {
		reads.Add(1)
		return os.ReadFile(p)
	}))
	uri := URIFromPath(path)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.Load(context.Background(), uri)
			assert.NoError(t, err)
			if st != nil {
				assert.Equal(t, "Greeting", st.Tree.Module())
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, reads.Load(), int32(8))

	_, err := s.Load(context.Background(), uri)
	require.NoError(t, err)
	n := reads.Load()
	_, _ = s.Load(context.Background(), uri)
	assert.Equal(t, n, reads.Load(), "cached load does not hit disk")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	s := NewStore()
	_, err := s.Load(context.Background(), URIFromPath(filepath.Join(t.TempDir(), "Gone.elm")))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRefresh_OpenDocumentWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewStore()
	uri := "file:///Main.elm"
	_, err := s.Open(ctx, uri, mainSrc, 1)
	require.NoError(t, err)

	st, err := s.Refresh(ctx, uri, "module Other exposing (..)\n")
	require.NoError(t, err)
	assert.Equal(t, mainSrc, st.Text())

	s.Close(uri)
	st, err = s.Refresh(ctx, uri, "module Other exposing (..)\n")
	require.NoError(t, err)
	assert.Equal(t, "Other", st.Tree.Module())

	s.Forget(uri)
	_, ok := s.Get(uri)
	assert.False(t, ok)
}

func TestURIRoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "src", "Main.elm")
	uri := URIFromPath(path)
	assert.Equal(t, "file://", uri[:7])
	assert.Equal(t, path, PathFromURI(uri))
	assert.Equal(t, "untitled:1", PathFromURI("untitled:1"))
}

func TestURIEscaping(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "my proj", "src", "A.elm")
	uri := URIFromPath(path)
	assert.Contains(t, uri, "/my%20proj/src/A.elm")
	assert.Equal(t, path, PathFromURI(uri))

	raw := "file://" + filepath.ToSlash(path)
	assert.Equal(t, uri, CanonicalURI(raw), "unescaped spelling")
	assert.Equal(t, uri, CanonicalURI(strings.Replace(uri, "A.elm", "%41.elm", 1)), "over-escaped spelling")
	assert.Equal(t, CanonicalURI("file:///c:/src/A.elm"), CanonicalURI("file:///c%3A/src/A.elm"))
	assert.Equal(t, "untitled:1", CanonicalURI("untitled:1"))
}
