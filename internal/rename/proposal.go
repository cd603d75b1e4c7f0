package rename

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/span"
)

// Edit replaces Range with NewText.
type Edit struct {
	Range   span.Range `json:"range"`
	NewText string     `json:"new_text"`
}

// FileRename moves a file, used when a module is renamed.
type FileRename struct {
	OldURI string `json:"old_uri"`
	NewURI string `json:"new_uri"`
}

// WorkspaceEditSet holds, per file, non-overlapping edits ordered from the end
// of the file to the start.
type WorkspaceEditSet struct {
	Changes map[string][]Edit `json:"changes"`
	Renames []FileRename      `json:"renames,omitempty"`
}

// Files lists the edited files in order.
func (w WorkspaceEditSet) Files() []string {
	out := make([]string, 0, len(w.Changes))
	for uri := range w.Changes {
		out = append(out, uri)
	}
	sort.Strings(out)
	return out
}

// Len counts edits across all files.
func (w WorkspaceEditSet) Len() int {
	n := 0
	for _, edits := range w.Changes {
		n += len(edits)
	}
	return n
}

func (w WorkspaceEditSet) clone() WorkspaceEditSet {
	out := WorkspaceEditSet{Changes: make(map[string][]Edit, len(w.Changes))}
	for uri, edits := range w.Changes {
		out.Changes[uri] = append([]Edit(nil), edits...)
	}
	out.Renames = append([]FileRename(nil), w.Renames...)
	return out
}

// Proposal is a computed rename. It is never modified after Build; applying it
// is a separate step that checks every file is still at its base content.
type Proposal struct {
	target  extract.Symbol
	newName string
	edits   WorkspaceEditSet
	base    map[string]uint64
}

func (p *Proposal) Target() extract.Symbol { return p.target }
func (p *Proposal) NewName() string        { return p.newName }

// Edits returns a copy of the edit set.
func (p *Proposal) Edits() WorkspaceEditSet { return p.edits.clone() }

// Empty reports a proposal with nothing to do, such as renaming a symbol to
// the name it already has.
func (p *Proposal) Empty() bool { return p.edits.Len() == 0 && len(p.edits.Renames) == 0 }

// Base returns the content hash uri had when the proposal was computed.
func (p *Proposal) Base(uri string) (uint64, bool) {
	h, ok := p.base[uri]
	return h, ok
}

// Builder collects edits for one proposal.
type Builder struct {
	target  extract.Symbol
	newName string
	edits   map[string][]Edit
	base    map[string]uint64
	renames []FileRename
}

func NewBuilder(target extract.Symbol, newName string) *Builder {
	return &Builder{
		target:  target,
		newName: newName,
		edits:   make(map[string][]Edit),
		base:    make(map[string]uint64),
	}
}

// Source records the text uri's edits are computed against.
func (b *Builder) Source(uri, text string) *Builder {
	b.base[uri] = index.HashText(text)
	return b
}

func (b *Builder) Replace(uri string, r span.Range, text string) *Builder {
	b.edits[uri] = append(b.edits[uri], Edit{Range: r, NewText: text})
	return b
}

func (b *Builder) RenameFile(oldURI, newURI string) *Builder {
	b.renames = append(b.renames, FileRename{OldURI: oldURI, NewURI: newURI})
	return b
}

// Build sorts each file's edits end-to-start, drops exact duplicates and
// rejects overlapping edits.
func (b *Builder) Build() (*Proposal, error) {
	p := &Proposal{
		target:  b.target,
		newName: b.newName,
		edits:   WorkspaceEditSet{Changes: make(map[string][]Edit, len(b.edits))},
		base:    make(map[string]uint64, len(b.base)),
	}
	for uri, edits := range b.edits {
		h, ok := b.base[uri]
		if !ok {
			return nil, fmt.Errorf("build rename: no source recorded for %s", uri)
		}
		p.base[uri] = h
		sorted := append([]Edit(nil), edits...)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[j].Range.Start.Before(sorted[i].Range.Start)
		})
		var out []Edit
		for _, e := range sorted {
			if n := len(out); n > 0 {
				prev := out[n-1]
				if prev == e {
					continue
				}
				if prev.Range.Start.Before(e.Range.End) {
					return nil, fmt.Errorf("build rename: overlapping edits in %s at %s and %s", uri, e.Range, prev.Range)
				}
			}
			out = append(out, e)
		}
		p.edits.Changes[uri] = out
	}
	p.edits.Renames = append([]FileRename(nil), b.renames...)
	for _, r := range p.edits.Renames {
		if _, ok := b.base[r.OldURI]; ok {
			p.base[r.OldURI] = b.base[r.OldURI]
		}
	}
	return p, nil
}

// ApplyEdits applies end-to-start ordered edits to text.
func ApplyEdits(text string, edits []Edit) (string, error) {
	li := span.NewLineIndex(text)
	var b strings.Builder
	b.Grow(len(text))
	tail := len(text)
	var chunks []string
	for _, e := range edits {
		start, end := li.Offsets(e.Range)
		if start > end || end > tail {
			return "", fmt.Errorf("apply edit at %s: edits out of order", e.Range)
		}
		chunks = append(chunks, text[end:tail], e.NewText)
		tail = start
	}
	b.WriteString(text[:tail])
	for i := len(chunks) - 1; i >= 0; i-- {
		b.WriteString(chunks[i])
	}
	return b.String(), nil
}

// Materialize computes the new content of every edited file. read returns the
// current text of a uri; a file whose content no longer matches the proposal's
// base fails with ErrStale.
func Materialize(p *Proposal, read func(uri string) (string, error)) (map[string]string, error) {
	out := make(map[string]string, len(p.edits.Changes))
	for _, uri := range p.edits.Files() {
		text, err := read(uri)
		if err != nil {
			return nil, fmt.Errorf("materialize %s: %w", uri, err)
		}
		if index.HashText(text) != p.base[uri] {
			return nil, fmt.Errorf("materialize %s: %w", uri, ErrStale)
		}
		updated, err := ApplyEdits(text, p.edits.Changes[uri])
		if err != nil {
			return nil, fmt.Errorf("materialize %s: %w", uri, err)
		}
		out[uri] = updated
	}
	return out, nil
}
