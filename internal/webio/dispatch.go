package webio

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Default dispatcher sizing.
const (
	// defaultCallbackQueueSize is the buffer size for pending deliveries.
	defaultCallbackQueueSize = 100

	// defaultCallbackWorkers is the number of delivery goroutines. One
	// worker keeps events for the same pin in order.
	defaultCallbackWorkers = 1
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}


// dispatcher runs deliveries on a bounded worker pool so the session loop
// never waits on a consumer. When the queue is full the delivery is
// dropped and counted.
type dispatcher struct {
	queue   chan func()
	workers int

	done    *closeOnce
	wg      sync.WaitGroup
	started atomic.Bool

	dropped atomic.Uint64

	onPanic func(recovered any)
	onDrop  func()
}

func newDispatcher(queueSize, workers int) *dispatcher {
	if queueSize <= 0 {
		queueSize = defaultCallbackQueueSize
	}
	if workers <= 0 {
		workers = defaultCallbackWorkers
	}
	return &dispatcher{
		queue:   make(chan func(), queueSize),
		workers: workers,
		done:    newCloseOnce(),
	}
}

// start launches the workers. Later calls are no-ops.
func (d *dispatcher) start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	for range d.workers {
		d.wg.Add(1)
		go d.worker()
	}
}

// submit queues fn without blocking. Returns false if it was dropped.
func (d *dispatcher) submit(fn func()) bool {
	select {
	case <-d.done.Done():
		return false
	default:
	}

	select {
	case d.queue <- fn:
		return true
	default:
		d.dropped.Add(1)
		if d.onDrop != nil {
			d.onDrop()
		}
		return false
	}
}

// idle reports whether nothing is waiting in the queue.
func (d *dispatcher) idle() bool {
	return len(d.queue) == 0
}

func (d *dispatcher) worker() {
	defer d.wg.Done()

	for {
		select {
		case <-d.done.Done():
			d.drain()
			return
		case fn := <-d.queue:
			d.run(fn)
		}
	}
}

// run calls fn, recovering panics from consumer code.
func (d *dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil && d.onPanic != nil {
			d.onPanic(r)
		}
	}()
	fn()
}

// drain discards whatever is still queued.
func (d *dispatcher) drain() {
	for {
		select {
		case <-d.queue:
		default:
			return
		}
	}
}

// close stops the workers and waits for them.
func (d *dispatcher) close() {
	d.done.Close()
	d.wg.Wait()
}

// panicError formats a recovered panic value.
func panicError(r any) error {
	return fmt.Errorf("callback panic: %v", r)
}
