package server

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate bounds how many sessions run at once across all transports.
type Gate struct {
	sem  *semaphore.Weighted
	size int64
}

// NewGate admits up to n concurrent sessions; n < 1 means 1.
func NewGate(n int) *Gate {
	if n < 1 {
		n = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(n)), size: int64(n)}
}

// Size is the number of sessions the gate admits at once.
func (g *Gate) Size() int { return int(g.size) }

// Enter blocks until a slot is free or ctx is done.
func (g *Gate) Enter(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// TryEnter takes a slot only if one is free right now.
func (g *Gate) TryEnter() bool {
	return g.sem.TryAcquire(1)
}

// Leave frees a slot. It must follow a successful Enter or TryEnter.
func (g *Gate) Leave() {
	g.sem.Release(1)
}
