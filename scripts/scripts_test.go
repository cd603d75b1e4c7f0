package scripts_test

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/script"
	"github.com/jward/elmls/internal/syntax"
	"github.com/jward/elmls/scripts"
)

const shapesSrc = `module Shapes exposing (Shape(..), area)


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


unit =
    1
`

const mainSrc = `module Main exposing (main)

import Html
import Shapes exposing (Shape(..))


main =
    Html.text (String.fromFloat (Shapes.area (Circle 1)))
`

func testHost(t *testing.T) *script.Host {
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
	return script.New(ix, "", script.WithFS(scripts.FS))
}

func TestBundledScriptsPresent(t *testing.T) {
	names, err := fs.Glob(scripts.FS, "*.risor")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"exposed_api.risor", "module_graph.risor"}, names)
}

func TestModuleGraph(t *testing.T) {
	t.Parallel()
	result, err := testHost(t).RunScript(context.Background(), "module_graph.risor", nil)
	require.NoError(t, err)

	graph, ok := result.Interface().(map[string]any)
	require.True(t, ok, "got %T", result.Interface())
	assert.Equal(t, []any{"Html", "Shapes"}, graph["Main"])
	assert.Empty(t, graph["Shapes"])
}

func TestExposedAPI(t *testing.T) {
	t.Parallel()
	result, err := testHost(t).RunScript(context.Background(), "exposed_api.risor", nil)
	require.NoError(t, err)

	list, ok := result.Interface().([]any)
	require.True(t, ok, "got %T", result.Interface())
	assert.Contains(t, list, "Main.main")
	assert.Contains(t, list, "Shapes.area")
	assert.Contains(t, list, "Shapes.Shape")
	assert.NotContains(t, list, "Shapes.unit")
}
