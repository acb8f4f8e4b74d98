package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrQueueClosed = errors.New("job queue closed")
	ErrWorkerPanic = errors.New("worker panicked")
)

// Processor is the work a pool worker does for one encoded image.
type Processor interface {
	ProcessImage(ctx context.Context, data []byte) (*Result, error)
}

type jobPackage struct {
	ctx    context.Context
	image  []byte
	result chan jobResult
}

type jobResult struct {
	res *Result
	err error
}

// Pool bounds how many frames are processed at once. Each job is handled
// start to finish by a single worker.
type Pool struct {
	proc         Processor
	jobs         chan jobPackage
	log          *zap.Logger
	restartDelay time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts workers goroutines reading from a queue of queueSize.
func NewPool(proc Processor, workers, queueSize int, log *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers
	}
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		proc:         proc,
		jobs:         make(chan jobPackage, queueSize),
		log:          log,
		restartDelay: time.Second,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker(i)
	}
	return p
}

func (p *Pool) runWorker(workerID int) {
	var current *jobPackage
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker panic, restarting",
				zap.Int("worker", workerID), zap.Any("panic", r), zap.Duration("delay", p.restartDelay))
			if current != nil {
				current.result <- jobResult{err: fmt.Errorf("%w: %v", ErrWorkerPanic, r)}
			}
			// 重启这个 Worker
			time.Sleep(p.restartDelay)
			go p.runWorker(workerID)
			return
		}
		p.wg.Done()
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	p.log.Debug("worker created", zap.Int("worker", workerID))
	for job := range p.jobs {
		current = &job
		// 已开始的帧不随调用方取消
		res, err := p.proc.ProcessImage(context.WithoutCancel(job.ctx), job.image)
		job.result <- jobResult{res: res, err: err}
		current = nil
	}
}

// Submit queues an encoded image and waits for its result. ctx bounds both
// the wait for a queue slot and the wait for the result; a frame already
// being processed still completes and sends its command.
func (p *Pool) Submit(ctx context.Context, image []byte) (*Result, error) {
	job := jobPackage{ctx: ctx, image: image, result: make(chan jobResult, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrQueueClosed
	}
	select {
	case p.jobs <- job:
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}
	p.mu.RUnlock()

	select {
	case r := <-job.result:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting jobs, lets queued jobs finish and waits for workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}
