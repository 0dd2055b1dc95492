package uiloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallRunsOnSingleGoroutineInOrder(t *testing.T) {
	t.Parallel()

	loop := Start()
	defer loop.Close()

	var (
		mu    sync.Mutex
		order []int
	)
	var wg sync.WaitGroup
	for i := range 5 {
		require.NoError(t, loop.Call(context.Background(), func() error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = loop.Call(context.Background(), func() error {
				mu.Lock()
				order = append(order, -1)
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order[:5])
	require.Len(t, order, 15)
}

func TestCallReturnsFunctionError(t *testing.T) {
	t.Parallel()

	loop := Start()
	defer loop.Close()

	boom := errors.New("boom")
	require.ErrorIs(t, loop.Call(context.Background(), func() error { return boom }), boom)
}

func TestCallHonoursContext(t *testing.T) {
	t.Parallel()

	loop := Start()
	defer loop.Close()

	release := make(chan struct{})
	require.NoError(t, loop.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := loop.Call(ctx, func() error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	t.Parallel()

	loop := Start()

	ran := make(chan struct{}, 1)
	require.NoError(t, loop.Post(func() { ran <- struct{}{} }))
	loop.Close()

	select {
	case <-ran:
	default:
		t.Fatal("queued job did not run before close returned")
	}

	require.ErrorIs(t, loop.Post(func() {}), ErrClosed)
	require.ErrorIs(t, loop.Call(context.Background(), func() error { return nil }), ErrClosed)
	loop.Close()
}

func TestCloseFailsJobsLeftBehind(t *testing.T) {
	t.Parallel()

	// a loop whose goroutine already exited with one job still buffered
	loop := &Loop{jobs: make(chan job, 1), quit: make(chan struct{})}
	j := job{fn: func() error { return nil }, done: make(chan error, 1)}
	loop.jobs <- j

	loop.Close()
	require.ErrorIs(t, <-j.done, ErrClosed)
}

func TestCallNeverHangsAcrossClose(t *testing.T) {
	t.Parallel()

	for range 50 {
		loop := Start()
		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for range 8 {
			wg.Go(func() {
				errs <- loop.Call(context.Background(), func() error { return nil })
			})
		}
		loop.Close()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Call blocked after Close")
		}
		close(errs)
		for err := range errs {
			if err != nil {
				require.ErrorIs(t, err, ErrClosed)
			}
		}
	}
}
