package signer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsWorkResult(t *testing.T) {
	q := NewQueue(slog.New(slog.DiscardHandler))

	err := q.Run(context.Background(), 1, func(context.Context) error { return nil })
	require.NoError(t, err)

	want := errors.New("boom")
	err = q.Run(context.Background(), 1, func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestRunSerializesPerChat(t *testing.T) {
	q := NewQueue(slog.New(slog.DiscardHandler))

	const n = 20
	var (
		mu      sync.Mutex
		order   []int
		inFunc  int
		overlap bool
	)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			// Stagger submissions so enqueue order is deterministic.
			time.Sleep(time.Duration(i) * 5 * time.Millisecond)
			_ = q.Run(context.Background(), 7, func(context.Context) error {
				mu.Lock()
				inFunc++
				if inFunc > 1 {
					overlap = true
				}
				order = append(order, i)
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inFunc--
				mu.Unlock()
				return nil
			})
		}()
	}
	close(start)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, n)
	assert.False(t, overlap, "two jobs for the same chat ran concurrently")
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1], order[i], "jobs ran out of submission order")
	}
}

func TestRunIsolatesChats(t *testing.T) {
	q := NewQueue(slog.New(slog.DiscardHandler))

	blockerStarted := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Run(context.Background(), 1, func(context.Context) error {
			close(blockerStarted)
			<-release
			return nil
		})
	}()
	<-blockerStarted

	// A different chat must not wait behind chat 1's in-flight job.
	done := make(chan struct{})
	go func() {
		_ = q.Run(context.Background(), 2, func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job for an idle chat was blocked by another chat's queue")
	}
	close(release)
}

func TestRunSkipsCancelledWhileQueued(t *testing.T) {
	q := NewQueue(slog.New(slog.DiscardHandler))

	blockerStarted := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = q.Run(context.Background(), 1, func(context.Context) error {
			close(blockerStarted)
			<-release
			return nil
		})
	}()
	<-blockerStarted

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	ran := false
	go func() {
		errCh <- q.Run(ctx, 1, func(context.Context) error {
			ran = true
			return nil
		})
	}()

	// Give the second job time to land in the queue, then abandon it.
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-errCh
	assert.ErrorIs(t, err, context.Canceled)

	close(release)
	// Let the drain loop dequeue the abandoned entry.
	require.Eventually(t, func() bool {
		return q.Pending(1) == 0
	}, time.Second, 5*time.Millisecond)
	assert.False(t, ran, "cancelled job still executed")
}
