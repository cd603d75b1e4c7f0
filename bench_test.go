package elmls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jward/elmls/internal/span"
)

const benchModules = 50

// benchModule renders module i of a chain where every module imports the one
// before it and calls its step function.
func benchModule(i int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "module Mod%d exposing (step, Item(..), total)\n\n", i)
	if i > 0 {
		fmt.Fprintf(&b, "import Mod%d\n", i-1)
	}
	b.WriteString(`

type Item
    = Small Int
    | Large Int Int


{-| Advance a counter. -}
step : Int -> Int
step n =
    let
        next =
            n + 1
    in
`)
	if i > 0 {
		fmt.Fprintf(&b, "    Mod%d.step next\n", i-1)
	} else {
		b.WriteString("    next\n")
	}
	b.WriteString(`

total : List Item -> Int
total items =
    List.foldl
        (\item acc ->
            case item of
                Small a ->
                    acc + step a

                Large a c ->
                    acc + a * c
        )
        0
        items
`)
	return b.String()
}

func setupBenchWorkspace(b *testing.B) string {
	b.Helper()
	root := b.TempDir()
	if err := os.WriteFile(filepath.Join(root, "elm.json"), []byte(elmJSON), 0o644); err != nil {
		b.Fatal(err)
	}
	src := filepath.Join(root, "src")
	if err := os.MkdirAll(src, 0o755); err != nil {
		b.Fatal(err)
	}
	for i := 0; i < benchModules; i++ {
		path := filepath.Join(src, fmt.Sprintf("Mod%d.elm", i))
		if err := os.WriteFile(path, []byte(benchModule(i)), 0o644); err != nil {
			b.Fatal(err)
		}
	}
	return root
}

func setupBenchEngine(b *testing.B) (*Engine, string) {
	b.Helper()
	root := setupBenchWorkspace(b)
	e, err := New(root)
	if err != nil {
		b.Fatal(err)
	}
	if _, err := e.IndexWorkspace(context.Background()); err != nil {
		e.Close()
		b.Fatal(err)
	}
	return e, root
}

// BenchmarkIndexWorkspace measures a cold index of the module chain into a
// fresh database.
func BenchmarkIndexWorkspace(b *testing.B) {
	ctx := context.Background()
	root := setupBenchWorkspace(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		e, err := New(root, WithDatabase(filepath.Join(b.TempDir(), "bench.db")))
		if err != nil {
			b.Fatal(err)
		}
		b.StartTimer()

		if _, err := e.IndexWorkspace(ctx); err != nil {
			e.Close()
			b.Fatal(err)
		}

		b.StopTimer()
		e.Close()
		b.StartTimer()
	}
}

// BenchmarkDefinition resolves a qualified cross-module call.
func BenchmarkDefinition(b *testing.B) {
	e, root := setupBenchEngine(b)
	defer e.Close()
	ctx := context.Background()
	uri := URIFromPath(filepath.Join(root, "src", "Mod10.elm"))
	// "    Mod9.step next": step starts after the qualifier.
	pos := span.Position{Line: 17, Character: 9}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Definition(ctx, uri, pos); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkReferences finds every use of the first module's step.
func BenchmarkReferences(b *testing.B) {
	e, root := setupBenchEngine(b)
	defer e.Close()
	ctx := context.Background()
	uri := URIFromPath(filepath.Join(root, "src", "Mod0.elm"))
	pos := span.Position{Line: 11, Character: 0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.References(ctx, uri, pos, true); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkRenamePlan plans, without applying, a workspace-wide rename.
func BenchmarkRenamePlan(b *testing.B) {
	e, root := setupBenchEngine(b)
	defer e.Close()
	ctx := context.Background()
	uri := URIFromPath(filepath.Join(root, "src", "Mod0.elm"))
	pos := span.Position{Line: 11, Character: 0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := e.Rename(ctx, uri, pos, "advance"); err != nil {
			b.Fatal(err)
		}
	}
}
