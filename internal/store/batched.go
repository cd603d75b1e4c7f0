package store

import (
	"sort"
	"sync"

	"github.com/jward/elmls/internal/index"
)

// Batch buffers index entries produced by parallel workers so a cold-start
// indexing run can land in SQLite in one transaction.
//
// Adding the same uri twice keeps the later entry.
type Batch struct {
	mu      sync.Mutex
	entries map[string]*index.FileEntry
}

func NewBatch() *Batch {
	return &Batch{entries: make(map[string]*index.FileEntry)}
}

// Add buffers e. Safe for concurrent use.
func (b *Batch) Add(e *index.FileEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[e.URI] = e
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Entries returns the buffered entries ordered by uri.
func (b *Batch) Entries() []*index.FileEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*index.FileEntry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

// Reset drops everything buffered so far.
func (b *Batch) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*index.FileEntry)
}
