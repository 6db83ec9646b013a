package transport

import (
	"context"
	"sync"
)

// fifoSemaphore is a counting semaphore whose blocked acquirers are served
// in arrival order. It bounds subprocess fetches process-wide, independent
// of per-domain pacing.
type fifoSemaphore struct {
	mu      sync.Mutex
	slots   int
	waiters []chan struct{}
}

func newFIFOSemaphore(n int) *fifoSemaphore {
	if n <= 0 {
		n = 1
	}
	return &fifoSemaphore{slots: n}
}

// Acquire blocks until a slot is free or the context is done.
func (s *fifoSemaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.slots > 0 {
		s.slots--
		s.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	s.waiters = append(s.waiters, ready)
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, w := range s.waiters {
			if w == ready {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// Already granted between Done and lock; pass the slot on.
		s.Release()
		return ctx.Err()
	}
}

// Release frees a slot, handing it to the oldest waiter if any.
func (s *fifoSemaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		ready := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(ready)
		return
	}
	s.slots++
}
