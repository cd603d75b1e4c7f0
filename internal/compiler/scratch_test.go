package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScratch(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "elm.json"), []byte(`{"type":"application"}`), 0o644))

	dir, err := Scratch(root, "elmls-test-", map[string]string{
		filepath.Join("src", "Main.elm"):         "module Main exposing (..)\n",
		filepath.Join("src", "Page", "Home.elm"): "module Page.Home exposing (..)\n",
	})
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	assert.NotEqual(t, root, dir)

	for rel, want := range map[string]string{
		"elm.json":                               `{"type":"application"}`,
		filepath.Join("src", "Main.elm"):         "module Main exposing (..)\n",
		filepath.Join("src", "Page", "Home.elm"): "module Page.Home exposing (..)\n",
	} {
		data, err := os.ReadFile(filepath.Join(dir, rel))
		require.NoError(t, err)
		assert.Equal(t, want, string(data), rel)
	}

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "root is only read")
}

func TestScratch_WithoutManifest(t *testing.T) {
	t.Parallel()
	dir, err := Scratch(t.TempDir(), "elmls-test-", map[string]string{"Main.elm": "main = 1\n"})
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	_, err = os.Stat(filepath.Join(dir, "elm.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "Main.elm"))
	assert.NoError(t, err)
}

func TestRelativize(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	diags := []Diagnostic{
		{File: filepath.Join(dir, "src", "Main.elm"), Title: "NAMING ERROR"},
		{File: filepath.Join("src", "Other.elm"), Title: "TYPE MISMATCH"},
	}

	out := Relativize(dir, diags)
	assert.Equal(t, filepath.Join("src", "Main.elm"), out[0].File)
	assert.Equal(t, filepath.Join("src", "Other.elm"), out[1].File)
	assert.Equal(t, filepath.Join(dir, "src", "Main.elm"), diags[0].File, "input is left as it was")
}
