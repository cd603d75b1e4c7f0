package index

import (
	"context"
	"sync"
)

// Persister mirrors index content to durable storage.
type Persister interface {
	PersistFile(ctx context.Context, e *FileEntry) error
	DeleteFile(ctx context.Context, uri string) error
}

// queue is a single-writer, latest-wins persistence queue. A nil entry
// means removal.
type queue struct {
	p Persister

	mu       sync.Mutex
	cond     *sync.Cond
	pending  map[string]*FileEntry
	order    []string
	inflight int
	closed   bool
	done     chan struct{}
}

func newQueue(p Persister) *queue {
	q := &queue{
		p:       p,
		pending: make(map[string]*FileEntry),
		done:    make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *queue) put(uri string, e *FileEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if _, ok := q.pending[uri]; !ok {
		q.order = append(q.order, uri)
	}
	q.pending[uri] = e
	q.cond.Broadcast()
}

func (q *queue) run() {
	defer close(q.done)
	ctx := context.Background()
	for {
		q.mu.Lock()
		for len(q.order) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.order) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		uri := q.order[0]
		q.order = q.order[1:]
		e := q.pending[uri]
		delete(q.pending, uri)
		q.inflight++
		q.mu.Unlock()

		var err error
		if e == nil {
			err = q.p.DeleteFile(ctx, uri)
		} else {
			err = q.p.PersistFile(ctx, e)
		}
		if err != nil {
			log.Warningf("persist %s: %v", uri, err)
		}

		q.mu.Lock()
		q.inflight--
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

func (q *queue) flush() {
	q.mu.Lock()
	for len(q.order) > 0 || q.inflight > 0 {
		q.cond.Wait()
	}
	q.mu.Unlock()
}

func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
	<-q.done
}
