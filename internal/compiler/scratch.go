package compiler

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Scratch creates a temporary copy of the workspace at root holding its
// elm.json and the given sources, keyed by path relative to root. The
// compiler can run there without seeing stale disk contents or leaving
// elm-stuff behind in root. The caller removes the returned directory.
func Scratch(root, prefix string, files map[string]string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", errors.Wrap(err, "scratch workspace")
	}
	if manifest, err := os.ReadFile(filepath.Join(root, "elm.json")); err == nil {
		if err := writeScratch(dir, "elm.json", string(manifest)); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	for rel, text := range files {
		if err := writeScratch(dir, rel, text); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
	}
	return dir, nil
}

func writeScratch(dir, rel, text string) error {
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "scratch workspace")
	}
	return errors.Wrap(os.WriteFile(path, []byte(text), 0o644), "scratch workspace")
}

// Relativize rewrites absolute diagnostic files under dir to be relative to
// it.
func Relativize(dir string, diags []Diagnostic) []Diagnostic {
	out := make([]Diagnostic, len(diags))
	for i, d := range diags {
		if filepath.IsAbs(d.File) {
			if rel, err := filepath.Rel(dir, d.File); err == nil {
				d.File = rel
			}
		}
		out[i] = d
	}
	return out
}
