package elmls

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	logging "github.com/op/go-logging"
	"golang.org/x/sync/semaphore"

	"github.com/jward/elmls/internal/compiler"
	"github.com/jward/elmls/internal/document"
	"github.com/jward/elmls/internal/extract"
	"github.com/jward/elmls/internal/index"
	"github.com/jward/elmls/internal/rename"
	"github.com/jward/elmls/internal/resolve"
	"github.com/jward/elmls/internal/store"
	"github.com/jward/elmls/internal/syntax"
)

var log = logging.MustGetLogger("elmls")

// DefaultWaiters bounds how many queries may queue behind one document's
// pending reindex.
const DefaultWaiters = 64

// ErrBusy is returned when too many queries are already waiting for the same
// document to be reindexed.
var ErrBusy = errors.New("too many queries waiting for this document")

// Engine keeps the structural picture of one Elm workspace current and
// answers queries against it.
type Engine struct {
	root    string
	cfg     config
	docs    *document.Store
	ix      *index.Index
	db      *store.Store
	res     *resolve.Resolver
	planner *rename.Planner
	checker compiler.Checker
	seq     atomic.Uint64
	uris    sync.Map // uri -> *uriState
	srcDirs []string
}

type config struct {
	dbPath          string
	indexLimit      int
	shards          int
	cacheSize       int
	checker         compiler.Checker
	compilerLimit   int
	compilerTimeout time.Duration
	waiters         int64
	workers         int
}

// Option configures an Engine.
type Option func(*config)

// WithDatabase persists the index to a SQLite file at path so the next
// session can skip files whose content has not changed.
func WithDatabase(path string) Option {
	return func(c *config) { c.dbPath = path }
}

// WithIndexLimit caps workspace symbol results.
func WithIndexLimit(n int) Option {
	return func(c *config) { c.indexLimit = n }
}

// WithShards sets how many partitions the symbol index uses.
func WithShards(n int) Option {
	return func(c *config) { c.shards = n }
}

// WithDocumentCache sets how many closed documents keep their parsed tree.
func WithDocumentCache(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithCompiler replaces the elm compiler collaborator. Limits set with
// WithCompilerLimits do not apply to a replaced compiler.
func WithCompiler(c compiler.Checker) Option {
	return func(cfg *config) { cfg.checker = c }
}

// WithCompilerLimits sets how many compiler processes may run at once and how
// long each may take.
func WithCompilerLimits(concurrent int, timeout time.Duration) Option {
	return func(c *config) {
		c.compilerLimit = concurrent
		c.compilerTimeout = timeout
	}
}

// WithWaiters bounds the queries queued behind one document's reindex.
func WithWaiters(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.waiters = int64(n)
		}
	}
}

// WithWorkers sets the parse and extract parallelism of workspace indexing.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.workers = n
		}
	}
}

// New creates an Engine for the workspace rooted at root, the directory that
// holds elm.json. Nothing is indexed until IndexWorkspace or OpenDocument.
func New(root string, opts ...Option) (*Engine, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("elmls: workspace root: %w", err)
	}
	cfg := config{
		cacheSize:       document.DefaultCacheSize,
		compilerLimit:   compiler.DefaultLimit,
		compilerTimeout: compiler.DefaultTimeout,
		waiters:         DefaultWaiters,
		workers:         runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{root: abs, cfg: cfg}

	ixOpts := []index.Option{index.WithShards(cfg.shards), index.WithLimit(cfg.indexLimit)}
	if cfg.dbPath != "" {
		s, rebuilt, err := store.Open(context.Background(), cfg.dbPath)
		if err != nil {
			return nil, fmt.Errorf("elmls: open index database: %w", err)
		}
		if rebuilt {
			log.Warningf("index database %s was unreadable and has been recreated", cfg.dbPath)
		}
		e.db = s
		ixOpts = append(ixOpts, index.WithPersister(s))
	}
	e.ix = index.New(ixOpts...)
	e.docs = document.NewStore(document.WithCacheSize(cfg.cacheSize))
	e.res = resolve.New(e.ix)
	e.planner = rename.NewPlanner(e.ix, e.res)

	e.checker = cfg.checker
	if e.checker == nil {
		e.checker = compiler.New(compiler.WithLimit(cfg.compilerLimit), compiler.WithTimeout(cfg.compilerTimeout))
	}
	e.srcDirs = sourceDirectories(abs)
	return e, nil
}

// Close waits for pending index writes and releases the database.
func (e *Engine) Close() error {
	e.ix.Close()
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// Root returns the workspace root directory.
func (e *Engine) Root() string { return e.root }

// Index exposes the symbol index for read-only consumers such as scripts.
func (e *Engine) Index() *index.Index { return e.ix }

// Store returns the index database, or nil when the index is memory-only.
func (e *Engine) Store() *store.Store { return e.db }

// =============================================================================
// Document lifecycle
// =============================================================================

// uriState serializes reindexing of one uri and tracks the job queries wait on.
type uriState struct {
	mu      sync.Mutex
	indexed uint64 // sequence number of the last job that ran
	pending atomic.Pointer[reindexJob]
	waiters *semaphore.Weighted
}

type reindexJob struct {
	seq  uint64
	done chan struct{}
}

func (e *Engine) state(uri string) *uriState {
	if u, ok := e.uris.Load(uri); ok {
		return u.(*uriState)
	}
	u, _ := e.uris.LoadOrStore(uri, &uriState{waiters: semaphore.NewWeighted(e.cfg.waiters)})
	return u.(*uriState)
}

// schedule runs fn in the background as uri's newest reindex job. A job that
// starts after a newer one has already run does nothing.
func (e *Engine) schedule(uri string, fn func()) *reindexJob {
	u := e.state(uri)
	j := &reindexJob{seq: e.seq.Add(1), done: make(chan struct{})}
	u.pending.Store(j)
	go func() {
		defer close(j.done)
		u.mu.Lock()
		defer u.mu.Unlock()
		if j.seq < u.indexed {
			return
		}
		u.indexed = j.seq
		fn()
	}()
	return j
}

// await blocks until uri's most recent reindex has finished.
func (e *Engine) await(ctx context.Context, uri string) error {
	u := e.state(uri)
	j := u.pending.Load()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	default:
	}
	if !u.waiters.TryAcquire(1) {
		return fmt.Errorf("%s: %w", uri, ErrBusy)
	}
	defer u.waiters.Release(1)
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) indexTree(uri string, tree *syntax.Tree) {
	res := extract.File(uri, tree)
	e.ix.ReplaceFile(index.NewEntry(res, index.HashText(tree.Text())))
	log.Debugf("reindexed %s: %d symbols, %d imports, %d parse errors",
		uri, len(res.Symbols), len(res.Imports), len(tree.Errors()))
}

// OpenDocument makes text the live content of uri and schedules its reindex.
func (e *Engine) OpenDocument(ctx context.Context, uri, text string, version int32) error {
	uri = document.CanonicalURI(uri)
	st, err := e.docs.Open(ctx, uri, text, version)
	if err != nil {
		return err
	}
	e.schedule(uri, func() { e.indexTree(uri, st.Tree) })
	return nil
}

// ChangeDocument applies edits and reparses synchronously; the reindex runs in
// the background and queries on uri wait for it. A version that is not newer
// than the current one is rejected with document.ErrStaleVersion.
func (e *Engine) ChangeDocument(ctx context.Context, uri string, version int32, edits []syntax.Edit) error {
	uri = document.CanonicalURI(uri)
	st, err := e.docs.Change(ctx, uri, version, edits)
	if err != nil {
		return err
	}
	e.schedule(uri, func() { e.indexTree(uri, st.Tree) })
	return nil
}

// CloseDocument hands uri back to the disk. Unsaved editor content is dropped
// and the index follows the file on disk again.
func (e *Engine) CloseDocument(ctx context.Context, uri string) {
	uri = document.CanonicalURI(uri)
	e.docs.Close(uri)
	e.schedule(uri, func() { e.syncFromDisk(context.WithoutCancel(ctx), uri) })
}

// Document returns the open or cached snapshot of uri.
func (e *Engine) Document(uri string) (*document.State, bool) {
	uri = document.CanonicalURI(uri)
	return e.docs.Get(uri)
}

// syncFromDisk reindexes a closed uri from its file, or drops it when the
// file is gone.
func (e *Engine) syncFromDisk(ctx context.Context, uri string) {
	if e.docs.IsOpen(uri) {
		return
	}
	data, err := os.ReadFile(document.PathFromURI(uri))
	if errors.Is(err, fs.ErrNotExist) {
		e.docs.Forget(uri)
		e.ix.RemoveFile(uri)
		log.Debugf("removed %s", uri)
		return
	}
	if err != nil {
		log.Warningf("reading %s: %v", uri, err)
		return
	}
	text := string(data)
	if cur := e.ix.Entry(uri); cur != nil && cur.Hash == index.HashText(text) {
		if st, ok := e.docs.Get(uri); ok && st.Text() == text {
			return
		}
	}
	st, err := e.docs.Refresh(ctx, uri, text)
	if err != nil {
		log.Warningf("%v", err)
		return
	}
	e.indexTree(uri, st.Tree)
}

// snapshot returns the current content of uri once its pending reindex is
// done. Closed files are read from disk and cached.
func (e *Engine) snapshot(ctx context.Context, uri string) (*document.State, error) {
	if err := e.await(ctx, uri); err != nil {
		return nil, err
	}
	return e.docs.Load(ctx, uri)
}

// peek returns the current content of uri without adding anything to the
// document cache.
func (e *Engine) peek(ctx context.Context, uri string) (*document.State, error) {
	if st, ok := e.docs.Get(uri); ok {
		return st, nil
	}
	data, err := os.ReadFile(document.PathFromURI(uri))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	tree, err := syntax.Parse(ctx, string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", uri, err)
	}
	return &document.State{URI: uri, Tree: tree}, nil
}
