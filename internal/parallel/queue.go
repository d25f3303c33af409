// Package parallel provides the dispatch queue of the software device.
package parallel

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Kernel executes one work-group of a dispatch.
type Kernel func(group int)

// Queue runs kernel dispatches on a fixed set of worker goroutines.
//
// A dispatch of n work-groups is split into contiguous batches, one queue per
// worker. Workers take batches from their own queue first and steal from the
// other queues when it is empty, so uneven work-groups still keep every
// worker busy.
//
// Dispatch blocks until every work-group has finished, which gives the same
// ordering guarantee as a fence wait on a GPU queue: the next dispatch sees
// all writes of the previous one.
//
// Thread safety: Queue is safe for concurrent use.
type Queue struct {
	workers int

	// batches holds per-worker queues of pending batches.
	batches []chan func()

	// closeMu orders batch submission before close(done) so that every
	// submitted batch is drained by its worker.
	closeMu sync.RWMutex
	done    chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool

	dispatched atomic.Uint64
	groups     atomic.Uint64
}

// NewQueue creates a queue with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
func NewQueue(workers int) *Queue {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	depth := workers * 4
	if depth < 8 {
		depth = 8
	}

	q := &Queue{
		workers: workers,
		batches: make([]chan func(), workers),
		done:    make(chan struct{}),
	}
	for i := range workers {
		q.batches[i] = make(chan func(), depth)
	}
	q.running.Store(true)

	q.wg.Add(workers)
	for i := range workers {
		go q.worker(i)
	}
	return q
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	own := q.batches[id]
	for {
		select {
		case <-q.done:
			q.drain(own)
			return
		case fn := <-own:
			fn()
		default:
			if fn := q.steal(id); fn != nil {
				fn()
				continue
			}
			select {
			case <-q.done:
				q.drain(own)
				return
			case fn := <-own:
				fn()
			}
		}
	}
}

func (q *Queue) drain(ch chan func()) {
	for {
		select {
		case fn := <-ch:
			fn()
		default:
			return
		}
	}
}

func (q *Queue) steal(id int) func() {
	for i := range q.workers {
		if i == id {
			continue
		}
		select {
		case fn := <-q.batches[i]:
			return fn
		default:
		}
	}
	return nil
}

// Dispatch runs kernel for work-groups 0..groups-1 and waits for all of them.
// A panic inside the kernel is recovered and returned as an error after the
// remaining work-groups have finished.
func (q *Queue) Dispatch(groups int, kernel Kernel) error {
	if groups <= 0 {
		return nil
	}
	q.closeMu.RLock()
	if !q.running.Load() {
		q.closeMu.RUnlock()
		return ErrClosed
	}

	perBatch := (groups + q.workers - 1) / q.workers
	var (
		wg       sync.WaitGroup
		panicked atomic.Pointer[kernelPanic]
		dropped  atomic.Bool
	)

	for w, lo := 0, 0; lo < groups; w, lo = w+1, lo+perBatch {
		hi := min(lo+perBatch, groups)
		wg.Add(1)
		batch := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicked.CompareAndSwap(nil, &kernelPanic{group: lo, value: r})
				}
			}()
			for g := lo; g < hi; g++ {
				kernel(g)
			}
		}
		select {
		case q.batches[w%q.workers] <- batch:
		case <-q.done:
			dropped.Store(true)
			wg.Done()
		}
	}
	q.closeMu.RUnlock()
	wg.Wait()

	if dropped.Load() {
		return ErrClosed
	}
	q.dispatched.Add(1)
	q.groups.Add(uint64(groups)) //nolint:gosec // groups > 0
	if p := panicked.Load(); p != nil {
		return p
	}
	return nil
}

// Close stops the workers after the queued batches have run.
// Close is safe to call multiple times.
func (q *Queue) Close() {
	q.closeMu.Lock()
	if !q.running.CompareAndSwap(true, false) {
		q.closeMu.Unlock()
		return
	}
	close(q.done)
	q.closeMu.Unlock()
	q.wg.Wait()
}

// Workers returns the number of workers.
func (q *Queue) Workers() int {
	return q.workers
}

// IsRunning reports whether the queue accepts dispatches.
func (q *Queue) IsRunning() bool {
	return q.running.Load()
}

// Stats returns the number of completed dispatches and work-groups.
func (q *Queue) Stats() (dispatches, groups uint64) {
	return q.dispatched.Load(), q.groups.Load()
}

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("parallel: queue closed")

type kernelPanic struct {
	group int
	value any
}

func (p *kernelPanic) Error() string {
	return fmt.Sprintf("parallel: kernel panic in batch starting at work-group %d: %v", p.group, p.value)
}
