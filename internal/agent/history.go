package agent

// ring is a fixed-capacity ring buffer. Appending beyond capacity overwrites
// the oldest entry, making the memory bound an explicit invariant.
type ring[T any] struct {
	buf  []T
	head int // index of the oldest entry
	size int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) Append(v T) {
	idx := (r.head + r.size) % len(r.buf)
	r.buf[idx] = v
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.buf)
	}
}

// Snapshot returns the entries oldest-first.
func (r *ring[T]) Snapshot() []T {
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Last returns the newest entry, or the zero value if empty.
func (r *ring[T]) Last() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.buf[(r.head+r.size-1)%len(r.buf)], true
}

func (r *ring[T]) Len() int { return r.size }
