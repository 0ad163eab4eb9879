package accumulator

// ring is a growable double-ended queue, shaped like cockroach's
// util/ring.Buffer. Rolling windows only ever push at the back and pop at
// the front; the monotonic deque also pops at the back.
type ring[T any] struct {
	buf  []T
	head int
	n    int
}

func (r *ring[T]) Len() int { return r.n }

func (r *ring[T]) grow() {
	size := len(r.buf) * 2
	if size == 0 {
		size = 8
	}
	buf := make([]T, size)
	for i := 0; i < r.n; i++ {
		buf[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	r.buf, r.head = buf, 0
}

func (r *ring[T]) PushBack(v T) {
	if r.n == len(r.buf) {
		r.grow()
	}
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
}

// At returns the i-th element from the front.
func (r *ring[T]) At(i int) *T { return &r.buf[(r.head+i)%len(r.buf)] }

func (r *ring[T]) Front() *T { return r.At(0) }
func (r *ring[T]) Back() *T  { return r.At(r.n - 1) }

func (r *ring[T]) PopFront() T {
	var zero T
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v
}

func (r *ring[T]) PopBack() T {
	var zero T
	i := (r.head + r.n - 1) % len(r.buf)
	v := r.buf[i]
	r.buf[i] = zero
	r.n--
	return v
}

func (r *ring[T]) Clear() {
	clear(r.buf)
	r.head, r.n = 0, 0
}
