package deps

import (
	"context"
	"sync"
)

// keyQueue serializes work per key in submission order. Work on different
// keys is unordered.
type keyQueue struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

func newKeyQueue() *keyQueue {
	return &keyQueue{tails: make(map[string]chan struct{})}
}

// ticket is one queued unit of work for a key.
type ticket struct {
	q    *keyQueue
	key  string
	prev chan struct{}
	done chan struct{}
	once sync.Once
}

// enqueue reserves the next slot for key. The position is fixed at call
// time, so callers that need FIFO order must enqueue synchronously.
func (q *keyQueue) enqueue(key string) *ticket {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := &ticket{q: q, key: key, prev: q.tails[key], done: make(chan struct{})}
	q.tails[key] = t.done
	return t
}

// wait blocks until every earlier ticket for the key has been released.
func (t *ticket) wait(ctx context.Context) error {
	if t.prev == nil {
		return nil
	}
	select {
	case <-t.prev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// release lets the next ticket run. It is safe to call more than once.
func (t *ticket) release() {
	t.once.Do(func() {
		close(t.done)
		t.q.mu.Lock()
		if t.q.tails[t.key] == t.done {
			delete(t.q.tails, t.key)
		}
		t.q.mu.Unlock()
	})
}
