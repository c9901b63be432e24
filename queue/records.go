package queue

import "sync"

// Records is a mutex-guarded append-only list drained as a whole.
type Records[T any] struct {
	mu    sync.Mutex
	items []T
}

// Append adds items and returns the new length.
func (r *Records[T]) Append(items ...T) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
	return len(r.items)
}

// Drain returns the current items and clears the list in one step.
func (r *Records[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.items
	r.items = nil
	return out
}

func (r *Records[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
