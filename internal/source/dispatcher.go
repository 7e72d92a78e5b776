package source

import (
	"context"
	"errors"
	"sync"
)

// ErrDispatcherClosed is returned for work submitted to, or still queued
// in, a closed Dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// job is one unit of queued work. run is invoked on the worker goroutine;
// abort resolves the job's future without running it.
type job struct {
	run   func()
	abort func(error)
}

// Dispatcher runs submitted work on a single worker goroutine in FIFO order.
//
// Each remote connection owns one Dispatcher, so at most one request is in
// flight per connection and callers are never blocked on the network while
// holding their own locks. Submission returns a Future immediately.
//
// The queue is unbounded so Submit never blocks. A buffered signal channel
// of size 1 wakes the worker; multiple signals coalesce.
type Dispatcher struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{}
	done   chan struct{}
}

// NewDispatcher creates a Dispatcher and starts its worker.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return false
	}
	d.jobs = append(d.jobs, j)

	select {
	case d.signal <- struct{}{}:
	default:
	}
	return true
}

func (d *Dispatcher) tryDequeue() (job, bool, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.jobs) == 0 {
		return job{}, false, d.closed
	}
	j := d.jobs[0]
	d.jobs[0] = job{} // release closures for GC
	if len(d.jobs) == 1 {
		d.jobs = d.jobs[:0]
	} else {
		d.jobs = d.jobs[1:]
	}
	return j, true, d.closed
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		j, ok, closed := d.tryDequeue()
		switch {
		case ok && closed:
			j.abort(ErrDispatcherClosed)
		case ok:
			j.run()
		case closed:
			return
		default:
			<-d.signal
		}
	}
}

// Close stops accepting work, fails every queued job with
// ErrDispatcherClosed and waits for the running job to finish.
// Calling Close more than once is safe.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		select {
		case d.signal <- struct{}{}:
		default:
		}
	}
	d.mu.Unlock()
	<-d.done
}

// Future is the pending result of submitted work.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

func (f *Future[T]) resolve(val T, err error) {
	f.once.Do(func() {
		f.val, f.err = val, err
		close(f.done)
	})
}

// Done is closed when the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done. Abandoning a
// future does not stop the work; the work observes its own context.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Submit queues fn on d and returns its Future. fn receives ctx and is
// skipped, resolving with ctx.Err(), if ctx is done before fn starts.
func Submit[T any](d *Dispatcher, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := newFuture[T]()
	var zero T

	ok := d.enqueue(job{
		run: func() {
			if err := ctx.Err(); err != nil {
				f.resolve(zero, err)
				return
			}
			f.resolve(fn(ctx))
		},
		abort: func(err error) { f.resolve(zero, err) },
	})
	if !ok {
		f.resolve(zero, ErrDispatcherClosed)
	}
	return f
}

// Call submits fn and waits for its result.
func Call[T any](d *Dispatcher, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	return Submit(d, ctx, fn).Wait(ctx)
}

// Do is Call for work without a result value.
func Do(d *Dispatcher, ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Call(d, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
