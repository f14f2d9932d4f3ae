package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotStarted is returned by Execute before Start has been called
var ErrNotStarted = errors.New("executor not started")

// ErrStopped is returned by Execute once the executor has been stopped.
// A stopped executor cannot be restarted.
var ErrStopped = errors.New("executor stopped")

// Task is one unit of work submitted for execution
type Task func(ctx context.Context) error

// Executor runs submitted tasks on its own workers. Execute blocks the
// caller while the queue is full and until the task has run, returning the
// task's error, so task failures are never lost.
type Executor interface {
	// Start launches the workers. Idempotent; a stopped executor stays
	// stopped.
	Start()

	// Execute submits task and waits for its completion. While a bounded
	// queue is full the call blocks; ctx aborts the wait. A task already
	// queued when ctx expires may still run.
	Execute(ctx context.Context, task Task) error

	// Stop rejects new work. Tasks already queued still run; use Drain to
	// wait for them. Idempotent.
	Stop()

	// Drain blocks until every queued task has finished or ctx expires
	Drain(ctx context.Context) error
}

type execState int

const (
	stateNotStarted execState = iota
	stateRunning
	stateStopped
)

// submission pairs a task with the channel its result travels back on
type submission struct {
	ctx    context.Context
	task   Task
	result chan error
}

// pool is the shared core behind Serial and Parallel: N workers popping a
// FIFO queue. capacity <= 0 means unbounded.
type pool struct {
	mu       sync.Mutex
	state    execState
	pending  []submission
	workers  int
	capacity int

	slots  chan struct{}
	notify chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func newPool(workers, capacity int) *pool {
	p := &pool{
		workers:  workers,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	if capacity > 0 {
		p.slots = make(chan struct{}, capacity)
		for i := 0; i < capacity; i++ {
			p.slots <- struct{}{}
		}
	}
	return p
}

func (p *pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != stateNotStarted {
		return
	}
	p.state = stateRunning

	var wg sync.WaitGroup
	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer wg.Done()
			p.worker()
		}()
	}
	go func() {
		wg.Wait()
		close(p.doneCh)
	}()
}

func (p *pool) Execute(ctx context.Context, task Task) error {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()
	switch state {
	case stateNotStarted:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}

	if p.slots != nil {
		select {
		case <-p.slots:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return ErrStopped
		}
	}

	sub := submission{ctx: ctx, task: task, result: make(chan error, 1)}

	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		if p.slots != nil {
			p.slots <- struct{}{}
		}
		return ErrStopped
	}
	p.pending = append(p.pending, sub)
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}

	select {
	case err := <-sub.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == stateStopped {
		return
	}
	notStarted := p.state == stateNotStarted
	p.state = stateStopped
	close(p.stopCh)
	if notStarted {
		// No workers were ever launched, so nothing will close doneCh
		close(p.doneCh)
	}
}

func (p *pool) Drain(ctx context.Context) error {
	select {
	case <-p.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// worker pops submissions until the pool is stopped and the queue is empty
func (p *pool) worker() {
	for {
		sub, ok := p.next()
		if !ok {
			return
		}
		sub.result <- p.invoke(sub)
	}
}

func (p *pool) next() (submission, bool) {
	for {
		p.mu.Lock()
		if len(p.pending) > 0 {
			sub := p.pending[0]
			p.pending = p.pending[1:]
			p.mu.Unlock()
			if p.slots != nil {
				p.slots <- struct{}{}
			}
			return sub, true
		}
		stopped := p.state == stateStopped
		p.mu.Unlock()

		if stopped {
			return submission{}, false
		}
		select {
		case <-p.notify:
		case <-p.stopCh:
		}
	}
}

// invoke runs one task, converting panics into errors
func (p *pool) invoke(sub submission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if err := sub.ctx.Err(); err != nil {
		return err
	}
	return sub.task(sub.ctx)
}
