package buffer

import "sync"

// Ring is a fixed-size buffer that overwrites its oldest element when full.
// It is safe for concurrent use.
type Ring[T any] struct {
	mu         sync.Mutex
	buf        []T
	head, tail int64
}

// RingN creates a ring holding at most size elements. Sizes below one are
// treated as one.
func RingN[T any](size int) *Ring[T] {
	return &Ring[T]{buf: make([]T, max(size, 1))}
}

// Add appends t, evicting the oldest element when the ring is full.
func (r *Ring[T]) Add(t T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.tail%int64(len(r.buf))] = t
	r.tail++
	if r.tail-r.head > int64(len(r.buf)) {
		r.head++
	}
}

// Replace overwrites the newest element, or adds t to an empty ring.
func (r *Ring[T]) Replace(t T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tail == r.head {
		r.buf[r.tail%int64(len(r.buf))] = t
		r.tail++
		return
	}
	r.buf[(r.tail-1)%int64(len(r.buf))] = t
}

// Last returns the newest element.
func (r *Ring[T]) Last() (t T, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tail == r.head {
		return t, false
	}
	return r.buf[(r.tail-1)%int64(len(r.buf))], true
}

// Items returns a copy of the buffered elements, oldest first.
func (r *Ring[T]) Items() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, 0, r.tail-r.head)
	for i := r.head; i < r.tail; i++ {
		out = append(out, r.buf[i%int64(len(r.buf))])
	}
	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.tail - r.head)
}

// Cap returns the ring size.
func (r *Ring[T]) Cap() int {
	return len(r.buf)
}

// Reset discards all elements.
func (r *Ring[T]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.buf)
	r.head, r.tail = 0, 0
}
