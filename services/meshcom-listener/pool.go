package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Chyby worker poolu
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
	ErrStopTimeout        = errors.New("timeout waiting for workers to stop")
)

// Pool je obecný pool workerů s omezenou frontou.
// Submit nikdy neblokuje: plná fronta = práce se zahodí (ErrQueueFull).
type Pool[T any] struct {
	name      string
	workers   int
	queueSize int
	processor func(context.Context, T) error
	metrics   *Metrics

	workChan chan T
	wg       sync.WaitGroup

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool

	submitted int64
	processed int64
	failed    int64
	dropped   int64
}

// PoolStats je snímek statistik pro /status.
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// NewPool vytvoří pool. metrics může být nil.
func NewPool[T any](name string, workers, queueSize int, processor func(context.Context, T) error, metrics *Metrics) *Pool[T] {
	if processor == nil {
		panic("worker pool: processor function cannot be nil")
	}
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool[T]{
		name:      name,
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		metrics:   metrics,
		workChan:  make(chan T, queueSize),
	}
}

// Start spustí workery. ctx se předává do processoru, jeho zrušení workery ukončí.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.started = true
	return nil
}

// Submit vloží práci do fronty (neblokující).
func (p *Pool[T]) Submit(work T) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.workChan <- work:
		atomic.AddInt64(&p.submitted, 1)
		p.metrics.SetQueueDepth(p.name, len(p.workChan))
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		p.metrics.IncQueueDropped(p.name)
		return ErrQueueFull
	}
}

// Stop uzavře frontu a počká, až workery doběhnou zbytek práce.
// Po uplynutí timeoutu vrací ErrStopTimeout; rozběhnutou práci pak ukončí až zrušení ctx.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats vrací aktuální statistiky.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			start := time.Now()
			err := p.processor(ctx, work)

			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}
			p.metrics.ObserveWork(p.name, time.Since(start), err)
			p.metrics.SetQueueDepth(p.name, len(p.workChan))
		}
	}
}
