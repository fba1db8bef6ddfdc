package state

// Bounded is an append-only history with a fixed capacity and FIFO eviction.
// Once the capacity is reached, appending discards the oldest entries so that
// exactly the most recent cap items remain. Eviction is intentional, lossy
// behavior, not an error; callers that care observe it through the return
// value of Append and the running Dropped counter.
type Bounded[T any] struct {
	cap     int
	dropped int
	items   []T
}

// NewBounded creates a buffer that retains at most cap items.
// A cap <= 0 means unbounded.
func NewBounded[T any](cap int) Bounded[T] {
	return Bounded[T]{cap: cap}
}

// Append adds item to the end of the buffer and returns how many entries were
// evicted to stay within capacity. Append never fails.
func (b *Bounded[T]) Append(item T) int {
	b.items = append(b.items, item)
	return b.trim()
}

// Replace swaps the buffer contents wholesale, trimming to capacity.
// Used when restoring a buffer from a serialized snapshot.
func (b *Bounded[T]) Replace(items []T) int {
	b.items = append([]T(nil), items...)
	return b.trim()
}

func (b *Bounded[T]) trim() int {
	if b.cap <= 0 || len(b.items) <= b.cap {
		return 0
	}
	evicted := len(b.items) - b.cap
	// Copy rather than re-slice so evicted entries are released.
	kept := make([]T, b.cap)
	copy(kept, b.items[evicted:])
	b.items = kept
	b.dropped += evicted
	return evicted
}

// Items returns the retained entries in append order. The returned slice is
// the buffer's backing storage; callers must not mutate it.
func (b *Bounded[T]) Items() []T { return b.items }

// Len returns the number of retained entries.
func (b *Bounded[T]) Len() int { return len(b.items) }

// Cap returns the configured capacity (0 = unbounded).
func (b *Bounded[T]) Cap() int { return b.cap }

// Dropped returns the total number of entries evicted over the buffer's
// lifetime. Diagnostic only; not serialized.
func (b *Bounded[T]) Dropped() int { return b.dropped }

// Last returns the most recent entry, or the zero value if empty.
func (b *Bounded[T]) Last() (T, bool) {
	if len(b.items) == 0 {
		var zero T
		return zero, false
	}
	return b.items[len(b.items)-1], true
}
