// Package span converts between byte offsets and editor positions.
//
// Editor positions are zero-based lines and UTF-16 code unit columns. All
// internal bookkeeping happens in byte offsets; conversion happens at the
// boundary through a LineIndex built once per text snapshot.
package span

import (
	"fmt"
	"sort"
	"unicode/utf8"
)

// Position is a zero-based line and UTF-16 column.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line+1, p.Character+1)
}

// Before reports whether p sorts strictly before q.
func (p Position) Before(q Position) bool {
	if p.Line != q.Line {
		return p.Line < q.Line
	}
	return p.Character < q.Character
}

// Range is a half-open [Start, End) span of positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// Contains reports whether p lies within r. The end position is inclusive so
// a cursor placed right after an identifier still selects it.
func (r Range) Contains(p Position) bool {
	return !p.Before(r.Start) && !r.End.Before(p)
}

// Overlaps reports whether r and o share at least one character.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Before(o.End) && o.Start.Before(r.End)
}

// LineIndex maps byte offsets to positions and back for one text snapshot.
type LineIndex struct {
	text  string
	lines []int // byte offset of the first byte of each line
}

// NewLineIndex scans text once and records line starts.
func NewLineIndex(text string) *LineIndex {
	lines := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			lines = append(lines, i+1)
		}
	}
	return &LineIndex{text: text, lines: lines}
}

// LineCount returns the number of lines (a trailing newline opens an empty line).
func (li *LineIndex) LineCount() int { return len(li.lines) }

// LineStart returns the byte offset at which line begins, clamped to the text.
func (li *LineIndex) LineStart(line int) int {
	if line < 0 {
		return 0
	}
	if line >= len(li.lines) {
		return len(li.text)
	}
	return li.lines[line]
}

// Line returns the zero-based line containing byte offset off.
func (li *LineIndex) Line(off int) int {
	off = li.clamp(off)
	return sort.Search(len(li.lines), func(i int) bool { return li.lines[i] > off }) - 1
}

// Offset converts a UTF-16 position to a byte offset. Columns past the end of
// the line clamp to the line end; lines past the end clamp to the text end.
func (li *LineIndex) Offset(p Position) int {
	if p.Line < 0 {
		return 0
	}
	if p.Line >= len(li.lines) {
		return len(li.text)
	}
	i := li.lines[p.Line]
	need := p.Character
	for i < len(li.text) && need > 0 {
		r, sz := utf8.DecodeRuneInString(li.text[i:])
		if r == '\n' || r == '\r' {
			break
		}
		need -= u16(r)
		i += sz
	}
	return i
}

// Position converts a byte offset to a UTF-16 position.
func (li *LineIndex) Position(off int) Position {
	off = li.clamp(off)
	line := li.Line(off)
	col := 0
	for k := li.lines[line]; k < off; {
		r, sz := utf8.DecodeRuneInString(li.text[k:])
		col += u16(r)
		k += sz
	}
	return Position{Line: line, Character: col}
}

// Range converts a byte range to a position range.
func (li *LineIndex) Range(start, end int) Range {
	return Range{Start: li.Position(start), End: li.Position(end)}
}

// Offsets converts a position range to byte offsets.
func (li *LineIndex) Offsets(r Range) (int, int) {
	return li.Offset(r.Start), li.Offset(r.End)
}

// ByteColumn returns the byte column of off within its line, as tree-sitter
// expects for points.
func (li *LineIndex) ByteColumn(off int) int {
	off = li.clamp(off)
	return off - li.lines[li.Line(off)]
}

func (li *LineIndex) clamp(off int) int {
	if off < 0 {
		return 0
	}
	if off > len(li.text) {
		return len(li.text)
	}
	return off
}

func u16(r rune) int {
	if r >= 0x10000 {
		return 2
	}
	return 1
}

// UTF16Len returns the length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += u16(r)
	}
	return n
}
