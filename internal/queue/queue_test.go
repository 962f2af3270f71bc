package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DoSerializes(t *testing.T) {
	q := New("io", nil)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Do(context.Background(), func(ctx context.Context) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
	assert.Equal(t, int64(20), q.Stats().Completed)
}

func TestQueue_NestedDoRunsInline(t *testing.T) {
	q := New("io", nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		err := q.Do(context.Background(), func(ctx context.Context) error {
			assert.True(t, q.Held(ctx))
			return q.Do(ctx, func(ctx context.Context) error {
				return nil
			})
		})
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested Do deadlocked")
	}
}

func TestQueue_HeldIsPerQueue(t *testing.T) {
	io := New("io", nil)
	dirs := New("dirs", nil)

	err := io.Do(context.Background(), func(ctx context.Context) error {
		assert.True(t, io.Held(ctx))
		assert.False(t, dirs.Held(ctx))
		assert.False(t, io.Held(io.Detach(ctx)))
		return nil
	})
	require.NoError(t, err)
}

func TestQueue_DoPropagatesErrors(t *testing.T) {
	q := New("io", nil)
	boom := errors.New("boom")

	err := q.Do(context.Background(), func(ctx context.Context) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestQueue_DoHonoursCancelledWait(t *testing.T) {
	q := New("io", nil)
	release := make(chan struct{})
	started := make(chan struct{})

	go q.Do(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Do(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestQueue_GoRunsInOrder(t *testing.T) {
	q := New("dirs", nil)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, q.Go(context.Background(), func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}))
	}

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestQueue_GoSurvivesCallerCancellation(t *testing.T) {
	q := New("dirs", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran atomic.Bool
	require.NoError(t, q.Go(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.True(t, ran.Load())
}

func TestQueue_WaitIncludesChainedTasks(t *testing.T) {
	q := New("dirs", nil)

	var ran atomic.Int32
	require.NoError(t, q.Go(context.Background(), func(ctx context.Context) error {
		ran.Add(1)
		return q.Go(ctx, func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, int32(2), ran.Load())
}

func TestQueue_Close(t *testing.T) {
	q := New("dirs", nil)
	q.Close()

	err := q.Go(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.True(t, q.Stats().Closed)
}

func TestQueue_StatsReportRunningTask(t *testing.T) {
	q := New("dirs", nil)
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, q.Go(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	stats := q.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.True(t, stats.Running)
	assert.False(t, stats.Idle())

	close(release)
	require.NoError(t, q.Wait(context.Background()))
	assert.True(t, q.Stats().Idle())
}
