// Package buffer implements the bounded recent-context buffer: the
// in-process, FIFO-evicted window of the most recent turns in the
// active session. Contents are lost on restart; durability is the
// store's job.
package buffer

import (
	"sync"

	"github.com/KazKozDev/anorix/internal/model"
)

// DefaultCapacity is used when no capacity is configured.
const DefaultCapacity = 10

// Buffer holds the last N turns. Safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	turns    []model.Turn
}

// New creates a buffer with the given capacity. Non-positive values
// fall back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append adds a turn at the tail, silently evicting the oldest turn
// when the buffer is full. It never fails.
func (b *Buffer) Append(t model.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.turns = append(b.turns, t)
	if len(b.turns) > b.capacity {
		// Strict FIFO eviction. Copy down instead of re-slicing so the
		// evicted turn does not pin the backing array.
		copy(b.turns, b.turns[1:])
		b.turns = b.turns[:b.capacity]
	}
}

// Snapshot returns the buffered turns oldest-first without mutating
// state.
func (b *Buffer) Snapshot() []model.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]model.Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Clear drops all buffered turns.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}

// Len returns the number of buffered turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}

// Capacity returns the configured capacity.
func (b *Buffer) Capacity() int {
	return b.capacity
}
