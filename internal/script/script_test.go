package script

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/risor-io/risor/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/store"
	"github.com/jward/elmls/internal/syntax"
)

const shapesSrc = `module Shapes exposing (Shape(..), area)

{-| A shape. -}
type Shape
    = Circle Float
    | Square Float


area : Shape -> Float
area shape =
    case shape of
        Circle r ->
            3.14 * r * r

        Square s ->
            s * s
`

const mainSrc = `module Main exposing (main)

import Html
import Shapes as S exposing (Shape(..))


main =
    Html.text (String.fromFloat (S.area (Circle 1)))
`

func testIndex(t *testing.T) *index.Index {
	t.Helper()
	ix := index.New()
	for uri, src := range map[string]string{
		"file:///ws/src/Shapes.elm": shapesSrc,
		"file:///ws/src/Main.elm":   mainSrc,
	} {
		tree, err := syntax.Parse(context.Background(), src)
		require.NoError(t, err)
		ix.ReplaceFile(index.NewEntry(extract.File(uri, tree), index.HashText(src)))
	}
	return ix
}

// =============================================================================
// Parsing host functions
// =============================================================================

func TestRunSource_ParseAndNodeText(t *testing.T) {
	t.Parallel()
	h := New(nil, "")

	script := `
tree := parse_src(src)
root := tree.RootNode()
assert(root.Type() == "file", 'expected file, got {root.Type()}')

header := root.NamedChild(0)
assert(header.Type() == "module_declaration", header.Type())
name := node_child(header, "name")
assert(name.Type() == "upper_case_qid", name.Type())
assert(node_text(name) == "Shapes", 'expected Shapes, got {node_text(name)}')
assert(node_child(header, "no_such_field") == nil, "absent field should be nil")
`
	_, err := h.RunSource(context.Background(), script, map[string]any{"src": shapesSrc})
	require.NoError(t, err)
}

func TestRunSource_Query(t *testing.T) {
	t.Parallel()
	h := New(nil, "")

	script := `
root := parse_src(src).RootNode()
matches := query("(union_variant (upper_case_identifier) @ctor)", root)
names := []
for _, m := range matches {
    names.append(node_text(m["ctor"]))
}
names
`
	result, err := h.RunSource(context.Background(), script, map[string]any{"src": shapesSrc})
	require.NoError(t, err)
	list, ok := result.(*object.List)
	require.True(t, ok, "got %s", result.Type())
	var names []string
	for _, item := range list.Value() {
		names = append(names, item.(*object.String).Value())
	}
	assert.Equal(t, []string{"Circle", "Square"}, names)
}

func TestRunSource_QueryInvalidPattern(t *testing.T) {
	t.Parallel()
	h := New(nil, "")
	_, err := h.RunSource(context.Background(), `query("(not_a_real_node @x)", parse_src(src).RootNode())`,
		map[string]any{"src": shapesSrc})
	assert.Error(t, err)
}

func TestRunSource_ParseFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Shapes.elm")
	require.NoError(t, os.WriteFile(path, []byte(shapesSrc), 0o644))

	h := New(nil, "")
	result, err := h.RunSource(context.Background(), `parse(path).RootNode().Type()`, map[string]any{"path": path})
	require.NoError(t, err)
	assert.Equal(t, object.NewString("file"), result)

	_, err = h.RunSource(context.Background(), `parse(path)`, map[string]any{"path": path + ".missing"})
	assert.ErrorContains(t, err, "reading")
}

// =============================================================================
// Index host functions
// =============================================================================

func TestRunSource_IndexQueries(t *testing.T) {
	t.Parallel()
	h := New(testIndex(t), "")

	script := `
areas := symbols_by_name("area")
assert(len(areas) == 1, 'expected 1 area, got {len(areas)}')
a := areas[0]
assert(a["kind"] == "function")
assert(a["module"] == "Shapes")
assert(a["signature"] == "area : Shape -> Float", a["signature"])
assert(a["exposed"])

ctors := []
for _, s := range symbols_by_file("file:///ws/src/Shapes.elm") {
    if s["kind"] == "constructor" {
        ctors.append(s["name"])
    }
}
assert(len(ctors) == 2)

imports := imports_of("file:///ws/src/Main.elm")
assert(len(imports) == 2, 'expected 2 imports, got {len(imports)}')
assert(imports[1]["module"] == "Shapes")
assert(imports[1]["alias"] == "S")

importers := importers_of("Shapes")
assert(len(importers) == 1 && importers[0] == "file:///ws/src/Main.elm")
assert(len(files()) == 2)

hits := workspace_symbols("shapes", 1)
assert(len(hits) == 1)
hits[0]["name"]
`
	result, err := h.RunSource(context.Background(), script, nil)
	require.NoError(t, err)
	assert.Equal(t, object.NewString("Shapes"), result)
}

func TestRunSource_WithoutIndex(t *testing.T) {
	t.Parallel()
	_, err := New(nil, "").RunSource(context.Background(), `files()`, nil)
	assert.Error(t, err)
}

func TestRunSource_ArgumentErrors(t *testing.T) {
	t.Parallel()
	h := New(testIndex(t), "")
	for _, src := range []string{
		`symbols_by_name()`,
		`symbols_by_name(1)`,
		`workspace_symbols("a", "b")`,
		`files(1)`,
		`node_text("not a node")`,
	} {
		_, err := h.RunSource(context.Background(), src, nil)
		assert.Error(t, err, src)
	}
}

func TestRunSource_DBQuery(t *testing.T) {
	t.Parallel()
	s, err := store.NewStore(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })

	ix := index.New(index.WithPersister(s))
	t.Cleanup(ix.Close)
	src := testIndex(t)
	for _, uri := range src.Files() {
		ix.ReplaceFile(src.Entry(uri))
	}
	ix.Flush()

	h := New(ix, "", WithStore(s))
	result, err := h.RunSource(context.Background(),
		`db_query("SELECT module FROM files WHERE uri = ?", "file:///ws/src/Main.elm")[0]["module"]`, nil)
	require.NoError(t, err)
	assert.Equal(t, object.NewString("Main"), result)

	_, err = h.RunSource(context.Background(), `db_query("DELETE FROM files")`, nil)
	assert.ErrorContains(t, err, "only SELECT")
}

// =============================================================================
// Script loading
// =============================================================================

func TestImport_FS(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"lib.risor": &fstest.MapFile{Data: []byte(`
func exposed_names(uri) {
    out := []
    for _, s := range symbols_by_file(uri) {
        if s["exposed"] {
            out.append(s["name"])
        }
    }
    return out
}
`)},
		"main.risor": &fstest.MapFile{Data: []byte(`
import lib
len(lib.exposed_names("file:///ws/src/Shapes.elm"))
`)},
	}
	h := New(testIndex(t), "", WithFS(fsys))
	result, err := h.RunScript(context.Background(), "main.risor", nil)
	require.NoError(t, err)
	// Shapes, Shape, Circle, Square, area
	assert.Equal(t, object.NewInt(5), result)
}

func TestImport_LocalDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.risor"), []byte(`
func double(x) {
    return x * 2
}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.risor"), []byte(`
import util
util.double(21)
`), 0o644))

	h := New(nil, dir)
	result, err := h.RunScript(context.Background(), "main.risor", nil)
	require.NoError(t, err)
	assert.Equal(t, object.NewInt(42), result)
}

func TestLoadScript_Missing(t *testing.T) {
	t.Parallel()
	_, err := New(nil, t.TempDir()).LoadScript("nope.risor")
	assert.ErrorContains(t, err, "load script")
}

func TestLogGlobal(t *testing.T) {
	t.Parallel()
	_, err := New(nil, "").RunSource(context.Background(), `log.Info("hello")`, nil)
	require.NoError(t, err)
}
