package agent

import (
	"context"
	"errors"
	"log"
	"runtime/debug"
	"sync"
)

// ErrQueueFull is returned when the service inbox cannot take another request.
var ErrQueueFull = errors.New("agent inbox is full")

// ErrPoolStopped is returned when submitting to a stopped pool.
var ErrPoolStopped = errors.New("agent worker pool stopped")

// pool runs submitted tasks on a fixed set of goroutines fed by a bounded queue.
type pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func newPool(workers, queueSize int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		tasks:  make(chan func(), queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		}
	}
}

func (p *pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[ERROR] Worker recovered panic: %v\n%s", r, debug.Stack())
		}
	}()
	task()
}

// submit queues task without blocking.
func (p *pool) submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// stop discards queued tasks and waits for running ones.
func (p *pool) stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

cleanup:
	for {
		select {
		case <-p.tasks:
		default:
			break cleanup
		}
	}

	p.cancel()
	p.wg.Wait()
}

// stopWait runs every queued task before returning.
func (p *pool) stopWait() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
}
