// Package queue bounds how many tasks run at once.
package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work.
type Task[T any] func(ctx context.Context) (T, error)

// Result is the outcome of one task. Task errors are reported here and never
// fail the queue itself.
type Result[T any] struct {
	Value T
	Err   error
}

// Queue admits at most a fixed number of tasks at a time. Waiting submitters
// are admitted in FIFO order.
type Queue[T any] struct {
	sem      *semaphore.Weighted
	limit    int
	inFlight atomic.Int64
	peak     atomic.Int64
	gauge    prometheus.Gauge
}

// New creates a queue running up to concurrency tasks. gauge, when non-nil,
// tracks the number of running tasks.
func New[T any](concurrency int, gauge prometheus.Gauge) (*Queue[T], error) {
	if concurrency < 1 {
		return nil, eris.Errorf("queue: concurrency must be positive, got %d", concurrency)
	}
	return &Queue[T]{
		sem:   semaphore.NewWeighted(int64(concurrency)),
		limit: concurrency,
		gauge: gauge,
	}, nil
}

// Limit returns the configured concurrency.
func (q *Queue[T]) Limit() int { return q.limit }

// InFlight returns the number of running tasks.
func (q *Queue[T]) InFlight() int { return int(q.inFlight.Load()) }

// Peak returns the highest number of tasks observed running at once.
func (q *Queue[T]) Peak() int { return int(q.peak.Load()) }

// Submit blocks until task is admitted, then runs it in the background. The
// returned channel yields exactly one Result. If ctx ends before admission
// the Result carries the context error and task never runs.
func (q *Queue[T]) Submit(ctx context.Context, task Task[T]) <-chan Result[T] {
	out := make(chan Result[T], 1)
	if err := q.sem.Acquire(ctx, 1); err != nil {
		out <- Result[T]{Err: eris.Wrap(err, "queue: admission")}
		return out
	}
	q.enter()

	go func() {
		res := q.run(ctx, task)
		q.leave()
		q.sem.Release(1)
		out <- res
	}()
	return out
}

// RunAll submits tasks in order and waits for all of them. Results are
// returned in submission order.
func (q *Queue[T]) RunAll(ctx context.Context, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		ch := q.Submit(ctx, task)
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = <-ch
		}()
	}
	wg.Wait()
	return results
}

func (q *Queue[T]) run(ctx context.Context, task Task[T]) (res Result[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = Result[T]{Err: eris.New(fmt.Sprintf("queue: task panicked: %v", r))}
		}
	}()
	v, err := task(ctx)
	return Result[T]{Value: v, Err: err}
}

func (q *Queue[T]) enter() {
	n := q.inFlight.Add(1)
	for {
		p := q.peak.Load()
		if n <= p || q.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if q.gauge != nil {
		q.gauge.Inc()
	}
}

func (q *Queue[T]) leave() {
	q.inFlight.Add(-1)
	if q.gauge != nil {
		q.gauge.Dec()
	}
}
