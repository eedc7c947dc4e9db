// Package ring implements a fixed-capacity FIFO ring buffer. Once the
// buffer is full, appending evicts the oldest element.
package ring

// Buffer holds up to Cap elements in insertion order.
type Buffer[T any] struct {
	items []T
	head  int
	size  int
}

func New[T any](capacity int) *Buffer[T] {
	if capacity < 1 {
		panic("ring: capacity must be at least 1")
	}
	return &Buffer[T]{items: make([]T, capacity)}
}

// Append adds v as the newest element, evicting the oldest when full.
func (b *Buffer[T]) Append(v T) {
	if b.size < len(b.items) {
		b.items[(b.head+b.size)%len(b.items)] = v
		b.size++
		return
	}
	b.items[b.head] = v
	b.head = (b.head + 1) % len(b.items)
}

func (b *Buffer[T]) Len() int {
	return b.size
}

func (b *Buffer[T]) Cap() int {
	return len(b.items)
}

func (b *Buffer[T]) Full() bool {
	return b.size == len(b.items)
}

// At returns the i-th element, oldest first. Negative indices count from
// the newest element, so At(-1) is the most recent append.
func (b *Buffer[T]) At(i int) T {
	if i < 0 {
		i += b.size
	}
	if i < 0 || i >= b.size {
		panic("ring: index out of range")
	}
	return b.items[(b.head+i)%len(b.items)]
}

// Values returns the elements oldest to newest in a fresh slice.
func (b *Buffer[T]) Values() []T {
	out := make([]T, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.items[(b.head+i)%len(b.items)]
	}
	return out
}

func (b *Buffer[T]) Clear() {
	var zero T
	for i := range b.items {
		b.items[i] = zero
	}
	b.head = 0
	b.size = 0
}

// Mean returns the arithmetic mean of a float buffer, or 0 when empty.
func Mean(b *Buffer[float64]) float64 {
	if b.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < b.size; i++ {
		sum += b.At(i)
	}
	return sum / float64(b.size)
}
