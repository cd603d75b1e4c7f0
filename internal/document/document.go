// Package document tracks the text, version and syntax tree of every file the
// engine knows about. Open documents are owned by the editor; closed ones are
// kept in a bounded LRU so their trees can be reused until evicted.
package document

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	logging "github.com/op/go-logging"
	"golang.org/x/sync/singleflight"

	"github.com/jward/elmls/internal/syntax"
)

var log = logging.MustGetLogger("elmls.document")

// DefaultCacheSize bounds how many closed documents keep their text and tree.
const DefaultCacheSize = 100

var (
	// ErrStaleVersion rejects a change whose version is not newer than the
	// stored one. Nothing is applied.
	ErrStaleVersion = errors.New("stale document version")
	ErrNotOpen      = errors.New("document not open")
)

// State is an immutable snapshot of one document. Every change produces a new
// State; holders of an old one keep a consistent view.
type State struct {
	URI     string
	Version int32
	Tree    *syntax.Tree
	Open    bool
}

func (s *State) Text() string                { return s.Tree.Text() }
func (s *State) Errors() []syntax.ParseError { return s.Tree.Errors() }

// Store holds document snapshots.
type Store struct {
	mu     sync.RWMutex
	open   map[string]*State
	closed *lru.Cache[string, *State]

	writers sync.Map // uri -> *sync.Mutex
	loads   singleflight.Group
	read    func(path string) ([]byte, error)
}

type Option func(*storeConfig)

type storeConfig struct {
	cacheSize int
	read      func(string) ([]byte, error)
}

// WithCacheSize sets the closed-document LRU capacity.
func WithCacheSize(n int) Option {
	return func(c *storeConfig) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// WithReader replaces os.ReadFile for Load.
func WithReader(fn func(path string) ([]byte, error)) Option {
	return func(c *storeConfig) { c.read = fn }
}

func NewStore(opts ...Option) *Store {
	cfg := storeConfig{cacheSize: DefaultCacheSize, read: os.ReadFile}
	for _, o := range opts {
		o(&cfg)
	}
	closed, err := lru.NewWithEvict(cfg.cacheSize, func(uri string, _ *State) {
		log.Debugf("evicted %s", uri)
	})
	if err != nil {
		// Only reachable with a non-positive size, which WithCacheSize rejects.
		panic(err)
	}
	return &Store{open: make(map[string]*State), closed: closed, read: cfg.read}
}

func (s *Store) writer(uri string) *sync.Mutex {
	m, _ := s.writers.LoadOrStore(uri, &sync.Mutex{})
	return m.(*sync.Mutex)
}

// Open parses text and makes it the live content of uri. Reopening a document
// replaces it regardless of version.
func (s *Store) Open(ctx context.Context, uri, text string, version int32) (*State, error) {
	w := s.writer(uri)
	w.Lock()
	defer w.Unlock()

	tree, err := syntax.Parse(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	st := &State{URI: uri, Version: version, Tree: tree, Open: true}
	s.mu.Lock()
	s.open[uri] = st
	s.mu.Unlock()
	s.closed.Remove(uri)
	return st, nil
}

// Change applies edits in order and reparses incrementally. The version must
// be strictly greater than the current one.
func (s *Store) Change(ctx context.Context, uri string, version int32, edits []syntax.Edit) (*State, error) {
	w := s.writer(uri)
	w.Lock()
	defer w.Unlock()

	s.mu.RLock()
	cur, ok := s.open[uri]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("change %s: %w", uri, ErrNotOpen)
	}
	if version <= cur.Version {
		return nil, fmt.Errorf("change %s: version %d after %d: %w", uri, version, cur.Version, ErrStaleVersion)
	}
	tree, err := syntax.Reparse(ctx, cur.Tree, edits)
	if err != nil {
		return nil, fmt.Errorf("change %s: %w", uri, err)
	}
	st := &State{URI: uri, Version: version, Tree: tree, Open: true}
	s.mu.Lock()
	s.open[uri] = st
	s.mu.Unlock()
	return st, nil
}

// Close hands uri back to the disk. Its last snapshot stays cached until the
// LRU evicts it. Closing an unknown uri is a no-op.
func (s *Store) Close(uri string) {
	w := s.writer(uri)
	w.Lock()
	defer w.Unlock()

	s.mu.Lock()
	cur, ok := s.open[uri]
	delete(s.open, uri)
	s.mu.Unlock()
	if ok {
		closed := *cur
		closed.Open = false
		s.closed.Add(uri, &closed)
	}
}

// Get returns the open or cached snapshot of uri.
func (s *Store) Get(uri string) (*State, bool) {
	s.mu.RLock()
	st, ok := s.open[uri]
	s.mu.RUnlock()
	if ok {
		return st, true
	}
	return s.closed.Get(uri)
}

// IsOpen reports whether the editor currently owns uri.
func (s *Store) IsOpen(uri string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.open[uri]
	return ok
}

// OpenURIs lists the open documents.
func (s *Store) OpenURIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.open))
	for uri := range s.open {
		out = append(out, uri)
	}
	return out
}

// Load returns the snapshot of uri, reading and parsing it from disk when it
// is neither open nor cached. Concurrent loads of one uri share a read.
func (s *Store) Load(ctx context.Context, uri string) (*State, error) {
	if st, ok := s.Get(uri); ok {
		return st, nil
	}
	v, err, _ := s.loads.Do(uri, func() (any, error) {
		if st, ok := s.Get(uri); ok {
			return st, nil
		}
		src, err := s.read(PathFromURI(uri))
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", uri, err)
		}
		return s.cache(ctx, uri, string(src))
	})
	if err != nil {
		return nil, err
	}
	return v.(*State), nil
}

// Refresh replaces the cached copy of a closed uri with text read from disk.
// Open documents are left alone; the editor's content wins.
func (s *Store) Refresh(ctx context.Context, uri, text string) (*State, error) {
	if s.IsOpen(uri) {
		st, _ := s.Get(uri)
		return st, nil
	}
	return s.cache(ctx, uri, text)
}

// Forget drops a closed uri from the cache.
func (s *Store) Forget(uri string) {
	s.closed.Remove(uri)
}

func (s *Store) cache(ctx context.Context, uri, text string) (*State, error) {
	tree, err := syntax.Parse(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", uri, err)
	}
	st := &State{URI: uri, Tree: tree}
	w := s.writer(uri)
	w.Lock()
	defer w.Unlock()
	if s.IsOpen(uri) {
		cur, _ := s.Get(uri)
		return cur, nil
	}
	s.closed.Add(uri, st)
	return st, nil
}

// Cached reports how many closed documents are held.
func (s *Store) Cached() int { return s.closed.Len() }

// URIFromPath converts a filesystem path to a file uri, percent-encoding
// the path.
func URIFromPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	p := filepath.ToSlash(path)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return (&url.URL{Scheme: "file", Path: p}).String()
}

// PathFromURI converts a file uri back to a filesystem path. Anything that is
// not a file uri is returned unchanged.
func PathFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	p := u.Path
	// "/c:/src" on Windows
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p)
}

// CanonicalURI rewrites a file uri into the spelling URIFromPath produces, so
// that "my%20proj" and "my proj", or "c%3A" and "c:", name the same document.
func CanonicalURI(uri string) string {
	if u, err := url.Parse(uri); err != nil || u.Scheme != "file" {
		return uri
	}
	return URIFromPath(PathFromURI(uri))
}
