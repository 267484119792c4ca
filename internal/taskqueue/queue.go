package taskqueue

import (
	"container/heap"
	"context"
	"io"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/google/uuid"
	"globe-tiles/internal/cache"
	"globe-tiles/internal/fetch"
	"globe-tiles/internal/tile"
	"golang.org/x/sync/errgroup"
)

// Store is the disk cache consulted before fetching.
type Store interface {
	FindFile(path string) (cache.Handle, bool)
	ReadFile(h cache.Handle) ([]byte, error)
	NewFile(path string) (io.WriteCloser, error)
	RemoveFile(h cache.Handle) error
	IsOutOfDate(h cache.Handle, expiry time.Time) bool
}

// AbsentSet records the tiles known to have no resource.
type AbsentSet interface {
	MarkResourceAbsent(a tile.Address)
	UnmarkResourceAbsent(a tile.Address)
	IsResourceAbsent(a tile.Address) bool
}

// Decoder turns raw bytes into a payload and reports its size in memory.
type Decoder[P any] func(data []byte) (P, int64, error)

// Config configures a Queue.
type Config[P any] struct {
	Name     string
	Workers  int
	Capacity int
	Store    Store
	Fetcher  fetch.Fetcher
	Decode   Decoder[P]

	// Absent is optional. When set, tiles whose retrieval fails are marked
	// in it and requests for marked tiles are dropped.
	Absent AbsentSet

	// Suffixes are the file suffixes probed in the disk cache.
	Suffixes []string

	// SuffixFor maps a response content type to a storage suffix.
	SuffixFor func(contentType string) (string, bool)
}

// Queue is a bounded priority queue of retrieval tasks served by a pool of
// workers. Each key is handled at most once until its result is drained.
// Completed results are buffered until the owner drains them.
type Queue[P any] struct {
	name      string
	workers   int
	capacity  int
	store     Store
	fetcher   fetch.Fetcher
	decode    Decoder[P]
	absent    AbsentSet
	suffixes  []string
	suffixFor func(string) (string, bool)

	mu          sync.Mutex
	cond        *sync.Cond
	pending     taskHeap
	outstanding map[tile.ResourceKey]struct{}
	completed   []Result[P]
	seq         uint64
	closed      bool

	cancel context.CancelFunc
	group  *errgroup.Group
}

// New creates a queue. Workers do not run until Start is called.
func New[P any](c Config[P]) (*Queue[P], error) {
	if c.Store == nil || c.Fetcher == nil || c.Decode == nil {
		return nil, errors.New("retrieval queue needs a store, a fetcher and a decoder").
			WithTag("queue", c.Name)
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Capacity <= 0 {
		c.Capacity = 64
	}
	if c.SuffixFor == nil {
		return nil, errors.New("retrieval queue needs a content type mapping").
			WithTag("queue", c.Name)
	}

	q := &Queue[P]{
		name:        c.Name,
		workers:     c.Workers,
		capacity:    c.Capacity,
		store:       c.Store,
		fetcher:     c.Fetcher,
		decode:      c.Decode,
		absent:      c.Absent,
		suffixes:    c.Suffixes,
		suffixFor:   c.SuffixFor,
		outstanding: make(map[tile.ResourceKey]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q, nil
}

func (q *Queue[P]) Name() string {
	return q.name
}

// Start launches the workers. They stop when ctx is cancelled or Close is
// called.
func (q *Queue[P]) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	q.group = g

	logs.WithTag("queue", q.name).
		WithTag("workers", q.workers).
		WithTag("capacity", q.capacity).
		Debug("retrieval workers started")
}

// Close stops the workers and waits for them to return. Tasks still queued
// are discarded.
func (q *Queue[P]) Close() error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	err := q.group.Wait()

	logs.WithTag("queue", q.name).Debug("retrieval workers stopped")
	return err
}

// Request enqueues a task and reports whether it was queued. A task is
// dropped when its key is outstanding or absent, when the queue is full,
// or when the fetch service refuses new work.
func (q *Queue[P]) Request(t Task) bool {
	outcome := q.request(t)
	instrumentRequest(q.name, outcome)
	return outcome == outcomeQueued
}

func (q *Queue[P]) request(t Task) string {
	if q.isAbsent(t.Key) {
		return outcomeAbsent
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return outcomeClosed
	}
	if _, ok := q.outstanding[t.Key]; ok {
		return outcomeDuplicate
	}
	if len(q.pending) >= q.capacity {
		return outcomeCapacity
	}
	if q.fetcher.IsFull() {
		return outcomeBusy
	}

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	q.seq++
	t.seq = q.seq

	q.outstanding[t.Key] = struct{}{}
	heap.Push(&q.pending, &t)
	instrumentPending(q.name, len(q.pending))
	q.cond.Signal()
	return outcomeQueued
}

// IsOutstanding reports whether a task for key is queued, running or
// waiting to be drained.
func (q *Queue[P]) IsOutstanding(key tile.ResourceKey) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.outstanding[key]
	return ok
}

// Pending returns the number of queued tasks not yet picked by a worker.
func (q *Queue[P]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Drain returns the results completed since the previous call and releases
// their keys.
func (q *Queue[P]) Drain() []Result[P] {
	q.mu.Lock()
	defer q.mu.Unlock()

	results := q.completed
	q.completed = nil
	for _, r := range results {
		delete(q.outstanding, r.Task.Key)
	}
	return results
}

// Load resolves a task on the calling goroutine, bypassing the queue, its
// capacity and the fetch admission signal.
func (q *Queue[P]) Load(ctx context.Context, t Task) Result[P] {
	return q.resolve(ctx, t)
}

func (q *Queue[P]) work(ctx context.Context) {
	for {
		t, ok := q.next()
		if !ok {
			return
		}

		r := q.resolve(ctx, *t)
		if ctx.Err() != nil {
			return
		}

		q.mu.Lock()
		q.completed = append(q.completed, r)
		q.mu.Unlock()
	}
}

func (q *Queue[P]) next() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	t := heap.Pop(&q.pending).(*Task)
	instrumentPending(q.name, len(q.pending))
	return t, true
}

func (q *Queue[P]) isAbsent(key tile.ResourceKey) bool {
	return q.absent != nil && key.IsTile() && q.absent.IsResourceAbsent(key.Address)
}
