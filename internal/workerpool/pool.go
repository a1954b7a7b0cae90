// Package workerpool is a fixed-size goroutine pool used to run
// listener-callback follow-up work (service call handlers, asset
// fetches) off the server's event-loop goroutine, per §4.7/§4.9's
// "callbacks must not block; long work must be spawned onto a worker"
// contract. Grounded on the teacher's worker_pool.go.
package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/cobaltfleet/fgcore/internal/obslog"
)

// Task is one unit of work submitted to a Pool.
type Task func()

// Pool runs Tasks on a fixed number of worker goroutines, backed by a
// bounded queue. A full queue drops the task rather than spawning an
// unbounded number of goroutines.
type Pool struct {
	workerCount int
	taskQueue   chan Task
	ctx         context.Context
	wg          sync.WaitGroup
	dropped     int64
	logger      zerolog.Logger
}

// New constructs a Pool. Call Start before Submit.
func New(workerCount, queueSize int, logger zerolog.Logger) *Pool {
	return &Pool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		logger:      logger,
	}
}

// Start launches the worker goroutines. ctx's cancellation drains the
// pool: workers finish their current task and exit without taking new
// ones.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.run(task)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) run(task Task) {
	defer obslog.RecoverPanic(p.logger, "workerpool.Task", nil)
	task()
}

// Submit enqueues task for asynchronous execution. If the queue is
// full, task is dropped and the dropped-task counter incremented;
// Submit never blocks and never spawns an extra goroutine.
func (p *Pool) Submit(task Task) {
	select {
	case p.taskQueue <- task:
	default:
		atomic.AddInt64(&p.dropped, 1)
	}
}

// Dropped returns the number of tasks dropped because the queue was full.
func (p *Pool) Dropped() int64 { return atomic.LoadInt64(&p.dropped) }

// QueueDepth returns the number of tasks currently queued.
func (p *Pool) QueueDepth() int { return len(p.taskQueue) }

// Stop closes the task queue and waits for every worker to drain it.
func (p *Pool) Stop() {
	close(p.taskQueue)
	p.wg.Wait()
}
