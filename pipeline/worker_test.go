package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcProcessor func(ctx context.Context, data []byte) (*Result, error)

func (f funcProcessor) ProcessImage(ctx context.Context, data []byte) (*Result, error) {
	return f(ctx, data)
}

func TestPool_ProcessesEveryJob(t *testing.T) {
	var active, peak atomic.Int32
	proc := funcProcessor(func(_ context.Context, data []byte) (*Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return &Result{RequestID: string(data)}, nil
	})
	pool := NewPool(proc, 2, 4, nil)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := pool.Submit(context.Background(), []byte(id))
			assert.NoError(t, err)
			if assert.NotNil(t, res) {
				assert.Equal(t, id, res.RequestID)
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_RecoversFromPanic(t *testing.T) {
	var calls atomic.Int32
	proc := funcProcessor(func(context.Context, []byte) (*Result, error) {
		if calls.Add(1) == 1 {
			panic("opencv assertion failed")
		}
		return &Result{RequestID: "ok"}, nil
	})
	pool := NewPool(proc, 1, 1, nil)
	pool.restartDelay = time.Millisecond
	defer pool.Close()

	_, err := pool.Submit(context.Background(), []byte("boom"))
	assert.ErrorIs(t, err, ErrWorkerPanic)

	res, err := pool.Submit(context.Background(), []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "ok", res.RequestID)
}

func TestPool_SubmitHonoursContext(t *testing.T) {
	release := make(chan struct{})
	proc := funcProcessor(func(context.Context, []byte) (*Result, error) {
		<-release
		return &Result{}, nil
	})
	pool := NewPool(proc, 1, 1, nil)
	defer func() {
		close(release)
		pool.Close()
	}()

	// occupy the worker and fill the queue
	go func() { _, _ = pool.Submit(context.Background(), nil) }()
	go func() { _, _ = pool.Submit(context.Background(), nil) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pool.Submit(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_InFlightJobIgnoresCallerCancel(t *testing.T) {
	started := make(chan struct{})
	done := make(chan error, 1)
	proc := funcProcessor(func(ctx context.Context, _ []byte) (*Result, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		done <- ctx.Err()
		return &Result{}, nil
	})
	pool := NewPool(proc, 1, 1, nil)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err := pool.Submit(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, <-done)
}

func TestPool_Closed(t *testing.T) {
	pool := NewPool(funcProcessor(func(context.Context, []byte) (*Result, error) {
		return &Result{}, nil
	}), 0, 0, nil)
	pool.Close()
	pool.Close()

	_, err := pool.Submit(context.Background(), nil)
	assert.ErrorIs(t, err, ErrQueueClosed)
}
