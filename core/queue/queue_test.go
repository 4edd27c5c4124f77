package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitIdle(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Wait(ctx))
}

func TestWorker_FIFO(t *testing.T) {
	w := New(Options{Name: "fifo"})
	defer w.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 50; i++ {
		require.NoError(t, w.Enqueue(Task{Name: "append", Run: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, i)
			return nil
		}}))
	}

	waitIdle(t, w)

	require.Len(t, got, 50)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestWorker_OneAtATime(t *testing.T) {
	w := New(Options{})
	defer w.Close()

	var inflight, maxInflight atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_ = w.Enqueue(Task{Run: func(context.Context) error {
					n := inflight.Add(1)
					for {
						m := maxInflight.Load()
						if n <= m || maxInflight.CompareAndSwap(m, n) {
							break
						}
					}
					time.Sleep(100 * time.Microsecond)
					inflight.Add(-1)
					return nil
				}})
			}
		}()
	}
	wg.Wait()
	waitIdle(t, w)

	require.Equal(t, int32(1), maxInflight.Load())
}

func TestWorker_FailuresDoNotStopQueue(t *testing.T) {
	w := New(Options{})
	defer w.Close()

	var ran atomic.Int32
	require.NoError(t, w.Enqueue(Task{Name: "fails", Run: func(context.Context) error {
		return errors.New("store unavailable")
	}}))
	require.NoError(t, w.Enqueue(Task{Name: "panics", Run: func(context.Context) error {
		panic("boom")
	}}))
	require.NoError(t, w.Enqueue(Task{Name: "ok", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}))

	waitIdle(t, w)
	require.Equal(t, int32(1), ran.Load())
}

func TestWorker_RestartsAfterIdle(t *testing.T) {
	w := New(Options{})
	defer w.Close()

	var ran atomic.Int32
	task := Task{Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}

	require.NoError(t, w.Enqueue(task))
	waitIdle(t, w)
	require.Equal(t, int32(1), ran.Load())

	require.NoError(t, w.Enqueue(task))
	waitIdle(t, w)
	require.Equal(t, int32(2), ran.Load())
}

func TestWorker_Delay(t *testing.T) {
	w := New(Options{Delay: 20 * time.Millisecond})
	defer w.Close()

	var (
		mu    sync.Mutex
		times []time.Time
	)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Enqueue(Task{Run: func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			times = append(times, time.Now())
			return nil
		}}))
	}
	waitIdle(t, w)

	require.Len(t, times, 3)
	require.GreaterOrEqual(t, times[1].Sub(times[0]), 20*time.Millisecond)
	require.GreaterOrEqual(t, times[2].Sub(times[1]), 20*time.Millisecond)
}

func TestWorker_TaskTimeout(t *testing.T) {
	w := New(Options{TaskTimeout: 10 * time.Millisecond})
	defer w.Close()

	var ran atomic.Int32
	require.NoError(t, w.Enqueue(Task{Name: "hangs", Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}))
	require.NoError(t, w.Enqueue(Task{Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}}))

	waitIdle(t, w)
	require.Equal(t, int32(1), ran.Load())
}

func TestWorker_Close(t *testing.T) {
	w := New(Options{})

	started := make(chan struct{})
	require.NoError(t, w.Enqueue(Task{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}}))
	require.NoError(t, w.Enqueue(Task{Run: func(context.Context) error {
		t.Error("queued task must be abandoned on close")
		return nil
	}}))

	<-started
	w.Close()
	w.Close()

	require.ErrorIs(t, w.Enqueue(Task{Run: func(context.Context) error { return nil }}), ErrClosed)
	require.Equal(t, 0, w.Len())
}

func TestWorker_NilTask(t *testing.T) {
	w := New(Options{})
	defer w.Close()
	require.ErrorIs(t, w.Enqueue(Task{Name: "empty"}), ErrNilTask)
}

func TestWorker_BaseContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	w := New(Options{Context: ctx})
	defer w.Close()

	started := make(chan struct{})
	require.NoError(t, w.Enqueue(Task{Name: "blocks", Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Enqueue(Task{Run: func(context.Context) error {
			t.Error("queued task must not run after cancellation")
			return nil
		}}))
	}

	<-started
	cancel()

	waitCtx, waitCancel := context.WithTimeout(t.Context(), 2*time.Second)
	defer waitCancel()
	require.ErrorIs(t, w.Wait(waitCtx), ErrStopped, "queued tasks are not reported as drained")
	require.Equal(t, 3, w.Len())

	require.ErrorIs(t, w.Enqueue(Task{Run: func(context.Context) error { return nil }}), ErrClosed)
}
