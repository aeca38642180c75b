// Package workers provides the worker pool used for per-CPU probing.
package workers

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"git.uuxo.net/uuxo/cpuprobe/internal/metrics"
)

var log = logrus.New()

// SetLogger replaces the package-level logger.
func SetLogger(l *logrus.Logger) { log = l }

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Task represents a unit of work for the worker pool.
type Task struct {
	Name    string
	Execute func() error
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	tasks      chan Task
	wg         sync.WaitGroup
	quit       chan struct{}
	numWorkers int
	stopOnce   sync.Once
}

// NewPool creates a new worker pool.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		tasks:      make(chan Task, queueSize),
		quit:       make(chan struct{}),
		numWorkers: numWorkers,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Debugf("Worker pool started with %d workers", p.numWorkers)
}

// Stop signals all workers to stop and waits for completion.  Tasks still
// queued are abandoned.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() { close(p.quit) })
	p.wg.Wait()
	log.Debug("Worker pool stopped")
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.numWorkers
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case task := <-p.tasks:
			if err := task.Execute(); err != nil {
				log.Errorf("Worker %d: task %s failed: %v", id, task.Name, err)
				if metrics.WorkerTaskErrorsTotal != nil {
					metrics.WorkerTaskErrorsTotal.Inc()
				}
			}
		case <-p.quit:
			return
		}
	}
}

// Submit queues a task, blocking until there is room, the context is done
// or the pool is stopped.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}
