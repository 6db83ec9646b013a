package transport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSemaphoreBoundsConcurrency(t *testing.T) {
	t.Parallel()

	sem := newFIFOSemaphore(2)
	ctx := context.Background()

	require.NoError(t, sem.Acquire(ctx))
	require.NoError(t, sem.Acquire(ctx))

	acquired := make(chan struct{})
	go func() {
		if err := sem.Acquire(ctx); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should block")
	case <-time.After(50 * time.Millisecond):
	}

	sem.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestSemaphoreFIFOOrder(t *testing.T) {
	t.Parallel()

	sem := newFIFOSemaphore(1)
	ctx := context.Background()
	require.NoError(t, sem.Acquire(ctx))

	order := make(chan int, 2)
	first := make(chan struct{})
	go func() {
		close(first)
		if sem.Acquire(ctx) == nil {
			order <- 1
		}
	}()
	<-first
	time.Sleep(20 * time.Millisecond) // let the first waiter enqueue
	go func() {
		if sem.Acquire(ctx) == nil {
			order <- 2
		}
	}()
	time.Sleep(20 * time.Millisecond)

	sem.Release()
	require.Equal(t, 1, <-order)
	sem.Release()
	require.Equal(t, 2, <-order)
}

func TestSemaphoreAcquireCanceled(t *testing.T) {
	t.Parallel()

	sem := newFIFOSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sem.Acquire(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled acquire did not return")
	}

	// The canceled waiter must not have consumed the slot.
	sem.Release()
	require.NoError(t, sem.Acquire(context.Background()))
}
