package elmls

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/elmls/internal/resolve"
	"github.com/jward/elmls/internal/span"
)

// Golden test format.
type goldenFile struct {
	Definitions []goldenDef `json:"definitions,omitempty"`
	References  []goldenRef `json:"references,omitempty"`
}

type goldenDef struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	File string `json:"file"`
	Line int    `json:"line"`
}

type goldenRef struct {
	From goldenLoc    `json:"from"`
	To   goldenTarget `json:"to"`
}

type goldenLoc struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

type goldenTarget struct {
	Name string `json:"name"`
	File string `json:"file"`
	Line int    `json:"line"`
}

// TestGolden indexes every testdata/elm/level-* workspace and checks the
// declarations it records and where identifiers resolve to.
func TestGolden(t *testing.T) {
	root := filepath.Join("testdata", "elm")
	levels, err := os.ReadDir(root)
	if err != nil {
		t.Skip("no testdata directory found")
	}

	for _, level := range levels {
		if !level.IsDir() {
			continue
		}
		dir, err := filepath.Abs(filepath.Join(root, level.Name()))
		require.NoError(t, err)
		goldenPath := filepath.Join(dir, "golden.json")
		if _, err := os.Stat(goldenPath); err != nil {
			continue
		}
		t.Run(level.Name(), func(t *testing.T) {
			runGoldenTest(t, dir, goldenPath)
		})
	}
}

func runGoldenTest(t *testing.T, dir, goldenPath string) {
	t.Helper()

	goldenData, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	var golden goldenFile
	require.NoError(t, json.Unmarshal(goldenData, &golden))

	engine, err := New(dir, WithDatabase(filepath.Join(t.TempDir(), "golden.db")))
	require.NoError(t, err)
	defer engine.Close()

	stats, err := engine.IndexWorkspace(context.Background())
	require.NoError(t, err)
	require.Zero(t, stats.Failed)

	if len(golden.Definitions) > 0 {
		t.Run("definitions", func(t *testing.T) {
			verifyDefinitions(t, engine, golden.Definitions)
		})
	}
	if len(golden.References) > 0 {
		t.Run("references", func(t *testing.T) {
			verifyReferences(t, engine, dir, golden.References)
		})
	}
}

func verifyDefinitions(t *testing.T, engine *Engine, expected []goldenDef) {
	t.Helper()

	// (name, kind, file_basename, line) of every persisted declaration.
	type defKey struct {
		Name string
		Kind string
		File string
		Line int
	}
	actual := make(map[defKey]bool)

	rows, err := engine.Store().DB().Query(
		`SELECT s.name, s.kind, f.uri, s.sel_start_line
		 FROM symbols s JOIN files f ON f.id = s.file_id`)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var name, kind, uri string
		var line int
		require.NoError(t, rows.Scan(&name, &kind, &uri, &line))
		actual[defKey{name, kind, filepath.Base(uri), line}] = true
	}
	require.NoError(t, rows.Err())

	for _, exp := range expected {
		key := defKey{exp.Name, exp.Kind, exp.File, exp.Line}
		assert.True(t, actual[key], "missing definition: %+v", exp)
	}
}

func verifyReferences(t *testing.T, engine *Engine, dir string, expected []goldenRef) {
	t.Helper()
	ctx := context.Background()

	for _, exp := range expected {
		uri := URIFromPath(filepath.Join(dir, "src", exp.From.File))
		pos := span.Position{Line: exp.From.Line, Character: exp.From.Col}

		r, err := engine.Resolve(ctx, uri, pos)
		require.NoError(t, err)
		def, err := engine.Definition(ctx, uri, pos)
		require.NoError(t, err)
		if !assert.NotNil(t, def.Result, "%s:%d:%d did not resolve: %v", exp.From.File, exp.From.Line, exp.From.Col, r.Result) {
			continue
		}
		if f, ok := r.Result.(resolve.Found); ok {
			assert.Equal(t, exp.To.Name, f.Symbol.Name)
		}
		assert.Equal(t, exp.To.File, filepath.Base(def.Result.URI), "%s:%d:%d", exp.From.File, exp.From.Line, exp.From.Col)
		assert.Equal(t, exp.To.Line, def.Result.Range.Start.Line, "%s:%d:%d", exp.From.File, exp.From.Line, exp.From.Col)
	}
}
