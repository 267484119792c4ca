package taskqueue

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
	"globe-tiles/internal/tile"
)

// Task describes the retrieval of one resource.
type Task struct {
	ID       string
	Key      tile.ResourceKey
	Priority float64 // lower is served sooner

	// Path is the disk cache path of the resource, including a suffix that
	// may differ from the one the resource ends up stored under.
	Path string
	URL  string

	// Expiry invalidates cached files written before it. Zero means never.
	Expiry time.Time

	seq uint64
}

// NewTask creates a task for a key located at a cache path and a URL.
func NewTask(key tile.ResourceKey, priority float64, path, url string, expiry time.Time) Task {
	return Task{
		ID:       uuid.NewString(),
		Key:      key,
		Priority: priority,
		Path:     path,
		URL:      url,
		Expiry:   expiry,
	}
}

const (
	SourceDisk   = "disk"
	SourceRemote = "remote"
)

// Result is the outcome of a task.
type Result[P any] struct {
	Task    Task
	Payload P
	Size    int64
	Source  string
	Err     error
}

func (r Result[P]) OK() bool {
	return r.Err == nil
}

// taskHeap orders tasks by priority, then by submission order.
type taskHeap []*Task

var _ heap.Interface = (*taskHeap)(nil)

func (h taskHeap) Len() int {
	return len(h)
}

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
