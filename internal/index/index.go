// Package index is the in-memory symbol index.
//
// Entries are partitioned by uri into shards. Each shard keeps immutable
// *FileEntry values behind a read/write lock; writers build the replacement
// entry outside the lock and swap it in, so readers hold a shard lock only
// long enough to copy a pointer. Writes to one uri are serialized by a
// per-uri mutex and never wait on writes to other uris.
package index

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	logging "github.com/op/go-logging"
	"github.com/zeebo/xxh3"

	"github.com/jward/elmls/internal/extract"
)

var log = logging.MustGetLogger("elmls.index")

// DefaultShards is the shard count used when none is configured.
const DefaultShards = 32

// FileEntry is the complete index content for one file. It is never mutated
// after being stored.
type FileEntry struct {
	URI      string
	Module   string
	Hash     uint64
	Symbols  []extract.Symbol
	Imports  []extract.ImportEdge
	Mentions []string // sorted
}

// NewEntry builds an entry from an extraction result and the content hash of
// the text it came from.
func NewEntry(res extract.Result, hash uint64) *FileEntry {
	mentions := append([]string(nil), res.Mentions...)
	sort.Strings(mentions)
	return &FileEntry{
		URI:      res.URI,
		Module:   res.Module,
		Hash:     hash,
		Symbols:  append([]extract.Symbol(nil), res.Symbols...),
		Imports:  append([]extract.ImportEdge(nil), res.Imports...),
		Mentions: mentions,
	}
}

// HasMention reports whether name occurs as an identifier in the file.
func (e *FileEntry) HasMention(name string) bool {
	i := sort.SearchStrings(e.Mentions, name)
	return i < len(e.Mentions) && e.Mentions[i] == name
}

// HashText is the content hash stored with every entry.
func HashText(text string) uint64 { return xxh3.HashString(text) }

type uriSet map[string]struct{}

type shard struct {
	mu        sync.RWMutex
	files     map[string]*FileEntry
	byName    map[string]uriSet // lower-cased symbol name
	modules   map[string]uriSet // declared module name
	importers map[string]uriSet // imported module name
}

func newShard() *shard {
	return &shard{
		files:     make(map[string]*FileEntry),
		byName:    make(map[string]uriSet),
		modules:   make(map[string]uriSet),
		importers: make(map[string]uriSet),
	}
}

// Index is the concurrent symbol index.
type Index struct {
	shards  []*shard
	writers sync.Map // uri -> *sync.Mutex
	gen     atomic.Uint64
	limit   int
	persist *queue
}

// Option configures an Index.
type Option func(*Index)

// WithShards sets the number of shards.
func WithShards(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.shards = make([]*shard, n)
		}
	}
}

// WithLimit sets the default cap on search results.
func WithLimit(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.limit = n
		}
	}
}

// WithPersister mirrors every replacement and removal to p on a background
// writer. Pending writes for the same uri coalesce; only the latest is written.
func WithPersister(p Persister) Option {
	return func(ix *Index) {
		if p != nil {
			ix.persist = newQueue(p)
		}
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	ix := &Index{
		shards: make([]*shard, DefaultShards),
		limit:  DefaultLimit,
	}
	for _, o := range opts {
		o(ix)
	}
	for i := range ix.shards {
		ix.shards[i] = newShard()
	}
	if ix.persist != nil {
		go ix.persist.run()
	}
	return ix
}

// Close drains pending persistence writes and stops the background writer.
func (ix *Index) Close() {
	if ix.persist != nil {
		ix.persist.close()
	}
}

// Flush blocks until every pending persistence write has been attempted.
func (ix *Index) Flush() {
	if ix.persist != nil {
		ix.persist.flush()
	}
}

func (ix *Index) shardFor(uri string) *shard {
	return ix.shards[xxh3.HashString(uri)%uint64(len(ix.shards))]
}

func (ix *Index) writer(uri string) *sync.Mutex {
	m, _ := ix.writers.LoadOrStore(uri, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Generation increases with every replacement or removal.
func (ix *Index) Generation() uint64 { return ix.gen.Load() }

// ReplaceFile atomically swaps uri's entry for e. Readers observe either the
// old entry or the new one, never a mix.
func (ix *Index) ReplaceFile(e *FileEntry) {
	ix.replace(e, true)
}

// Restore loads a persisted entry without writing it back.
func (ix *Index) Restore(e *FileEntry) {
	ix.replace(e, false)
}

func (ix *Index) replace(e *FileEntry, persist bool) {
	w := ix.writer(e.URI)
	w.Lock()
	defer w.Unlock()

	sh := ix.shardFor(e.URI)
	sh.mu.Lock()
	old := sh.files[e.URI]
	if old != nil {
		sh.unlink(old)
	}
	sh.files[e.URI] = e
	sh.link(e)
	sh.mu.Unlock()
	ix.gen.Add(1)
	if persist && ix.persist != nil {
		ix.persist.put(e.URI, e)
	}
}

// RemoveFile drops every record of uri.
func (ix *Index) RemoveFile(uri string) {
	w := ix.writer(uri)
	w.Lock()
	defer w.Unlock()

	sh := ix.shardFor(uri)
	sh.mu.Lock()
	old, ok := sh.files[uri]
	if ok {
		sh.unlink(old)
		delete(sh.files, uri)
	}
	sh.mu.Unlock()
	if !ok {
		return
	}
	ix.gen.Add(1)
	if ix.persist != nil {
		ix.persist.put(uri, nil)
	}
}

func (sh *shard) link(e *FileEntry) {
	for _, s := range e.Symbols {
		addTo(sh.byName, strings.ToLower(s.Name), e.URI)
	}
	addTo(sh.modules, e.Module, e.URI)
	for _, imp := range e.Imports {
		addTo(sh.importers, imp.Module, e.URI)
	}
}

func (sh *shard) unlink(e *FileEntry) {
	for _, s := range e.Symbols {
		removeFrom(sh.byName, strings.ToLower(s.Name), e.URI)
	}
	removeFrom(sh.modules, e.Module, e.URI)
	for _, imp := range e.Imports {
		removeFrom(sh.importers, imp.Module, e.URI)
	}
}

func addTo(m map[string]uriSet, key, uri string) {
	set, ok := m[key]
	if !ok {
		set = make(uriSet)
		m[key] = set
	}
	set[uri] = struct{}{}
}

func removeFrom(m map[string]uriSet, key, uri string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, uri)
	if len(set) == 0 {
		delete(m, key)
	}
}

// Entry returns the current entry for uri, or nil.
func (ix *Index) Entry(uri string) *FileEntry {
	sh := ix.shardFor(uri)
	sh.mu.RLock()
	e := sh.files[uri]
	sh.mu.RUnlock()
	return e
}

// Files returns every indexed uri, sorted.
func (ix *Index) Files() []string {
	var out []string
	for _, sh := range ix.shards {
		sh.mu.RLock()
		for uri := range sh.files {
			out = append(out, uri)
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// FindByFile returns the records of uri in declaration order.
func (ix *Index) FindByFile(uri string) []extract.Symbol {
	if e := ix.Entry(uri); e != nil {
		return e.Symbols
	}
	return nil
}

// ImportsOf returns the import edges of uri.
func (ix *Index) ImportsOf(uri string) []extract.ImportEdge {
	if e := ix.Entry(uri); e != nil {
		return e.Imports
	}
	return nil
}

// FindByName returns every record named exactly name, ordered by uri.
func (ix *Index) FindByName(name string) []extract.Symbol {
	var out []extract.Symbol
	for _, e := range ix.entriesWhere(func(sh *shard) uriSet { return sh.byName[strings.ToLower(name)] }) {
		for _, s := range e.Symbols {
			if s.Name == name {
				out = append(out, s)
			}
		}
	}
	return out
}

// ModuleFiles returns the uris whose module header declares module.
func (ix *Index) ModuleFiles(module string) []string {
	return uris(ix.entriesWhere(func(sh *shard) uriSet { return sh.modules[module] }))
}

// Importers returns the uris that import module.
func (ix *Index) Importers(module string) []string {
	return uris(ix.entriesWhere(func(sh *shard) uriSet { return sh.importers[module] }))
}

// entriesWhere collects, across shards, the entries whose uri is in the set
// pick selects from each shard. Result is sorted by uri.
func (ix *Index) entriesWhere(pick func(*shard) uriSet) []*FileEntry {
	var out []*FileEntry
	for _, sh := range ix.shards {
		sh.mu.RLock()
		for uri := range pick(sh) {
			out = append(out, sh.files[uri])
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return out
}

func uris(entries []*FileEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.URI
	}
	return out
}
