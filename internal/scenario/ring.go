package scenario

// ring is a fixed-capacity FIFO that overwrites its oldest element.
type ring[T any] struct {
	buf   []T
	start int
	size  int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = v
		r.size++
		return
	}
	r.buf[r.start] = v
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring[T]) len() int { return r.size }

func (r *ring[T]) cap() int { return len(r.buf) }

// at returns the i-th element counting from the oldest.
func (r *ring[T]) at(i int) T {
	return r.buf[(r.start+i)%len(r.buf)]
}

// last returns the k-th element counting back from the newest (k=0 is newest).
func (r *ring[T]) last(k int) (T, bool) {
	var zero T
	if k < 0 || k >= r.size {
		return zero, false
	}
	return r.at(r.size - 1 - k), true
}

// slice copies the contents oldest first.
func (r *ring[T]) slice() []T {
	out := make([]T, r.size)
	for i := range r.size {
		out[i] = r.at(i)
	}
	return out
}
