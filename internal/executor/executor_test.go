package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsTasksInOrder(t *testing.T) {
	e := New("test", 8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = e.Run(ctx)
		close(done)
	}()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 1; i <= 3; i++ {
		i := i
		require.True(t, e.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}
	wg.Wait()

	mu.Lock()
	assert.Equal(t, []int{1, 2, 3}, order)
	mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("executor did not stop after context cancellation")
	}
}

func TestPostDropsWhenBacklogFull(t *testing.T) {
	// No Run loop is started, so the one buffered slot never drains.
	e := New("test", 1, nil)
	require.True(t, e.Post(func() {}))
	assert.False(t, e.Post(func() {}))
}

func TestRunStopsOnContextCancel(t *testing.T) {
	e := New("test", 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after cancellation")
	}
}
