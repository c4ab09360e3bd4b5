package rl

import (
	"math/rand/v2"
	"sync"
)

// Transition is one (state, action, reward, next state, done) step.
type Transition struct {
	State     []float64
	Action    int
	Reward    float64
	NextState []float64
	Done      bool
}

// ReplayBuffer is a fixed-capacity circular store. Once full, each Add evicts the oldest
// transition.
type ReplayBuffer struct {
	mu       sync.RWMutex
	data     []Transition
	capacity int
	next     int
	rng      *rand.Rand
}

// NewReplayBuffer creates a buffer. Capacities below 1 are raised to 1.
func NewReplayBuffer(capacity int, seed int64) *ReplayBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ReplayBuffer{
		data:     make([]Transition, 0, capacity),
		capacity: capacity,
		rng:      newRand(seed),
	}
}

func (b *ReplayBuffer) Add(t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) < b.capacity {
		b.data = append(b.data, t)
	} else {
		b.data[b.next] = t
	}
	b.next = (b.next + 1) % b.capacity
}

func (b *ReplayBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

func (b *ReplayBuffer) Capacity() int {
	return b.capacity
}

// Sample draws min(n, Len()) distinct transitions uniformly.
func (b *ReplayBuffer) Sample(n int) []Transition {
	b.mu.Lock() // the rng is not safe for concurrent use
	defer b.mu.Unlock()

	size := len(b.data)
	if n > size {
		n = size
	}
	if n <= 0 {
		return nil
	}

	// Partial Fisher-Yates over an index permutation.
	idx := make([]int, size)
	for i := range idx {
		idx[i] = i
	}
	out := make([]Transition, n)
	for i := 0; i < n; i++ {
		j := i + b.rng.IntN(size-i)
		idx[i], idx[j] = idx[j], idx[i]
		out[i] = b.data[idx[i]]
	}
	return out
}

// Contents returns the stored transitions oldest first.
func (b *ReplayBuffer) Contents() []Transition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Transition, 0, len(b.data))
	if len(b.data) < b.capacity {
		return append(out, b.data...)
	}
	out = append(out, b.data[b.next:]...)
	return append(out, b.data[:b.next]...)
}

func (b *ReplayBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
	b.next = 0
}
