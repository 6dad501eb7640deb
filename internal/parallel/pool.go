// Package parallel splits the rows of an image across a fixed set of
// goroutines. Software mipmap generation uses it for large levels.
package parallel

import (
	"runtime"
	"sync"
)

// WorkerPool runs functions on a fixed number of goroutines.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers int
	jobs    chan func()
	wg      sync.WaitGroup

	// mu excludes Close while work is being queued.
	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{
		workers: workers,
		jobs:    make(chan func(), workers*2),
	}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for fn := range p.jobs {
				fn()
			}
		}()
	}
	return p
}

// ExecuteAll runs every function and returns when all have finished.
// A single function, or any work on a closed pool, runs on the calling
// goroutine.
func (p *WorkerPool) ExecuteAll(work []func()) {
	if len(work) == 0 {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || len(work) == 1 {
		for _, fn := range work {
			fn()
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(work))
	for _, fn := range work {
		p.jobs <- func() {
			defer wg.Done()
			fn()
		}
	}
	wg.Wait()
}

// Rows splits [0, rows) into one band per worker and calls fn(y0, y1) for
// each band [y0, y1). It returns when every band is done.
func (p *WorkerPool) Rows(rows int, fn func(y0, y1 int)) {
	if rows <= 0 {
		return
	}
	band := (rows + p.workers - 1) / p.workers
	work := make([]func(), 0, p.workers)
	for y0 := 0; y0 < rows; y0 += band {
		y1 := min(y0+band, rows)
		work = append(work, func() { fn(y0, y1) })
	}
	p.ExecuteAll(work)
}

// Close stops the workers once in-flight work has finished.
// Close is safe to call multiple times.
func (p *WorkerPool) Close() {
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

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool still runs work on its workers.
func (p *WorkerPool) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed
}
