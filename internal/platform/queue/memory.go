package queue

import (
	"context"
	"sync"
	"time"
)

// MemoryQueue is an in-process Queue for tests and single-binary setups.
// Every enqueued job is also kept in an append-only history.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    map[string][]*Job
	delayed  map[string][]*Job
	history  []Job
	inflight map[string]inflightJob
	notify   chan struct{}
	failErr  error
}

type inflightJob struct {
	job   *Job
	since time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		ready:    make(map[string][]*Job),
		delayed:  make(map[string][]*Job),
		inflight: make(map[string]inflightJob),
		notify:   make(chan struct{}),
	}
}

// FailWith makes subsequent Enqueue calls return err. Pass nil to recover.
func (q *MemoryQueue) FailWith(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failErr = err
}

func (q *MemoryQueue) Enqueue(ctx context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (JobHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.failErr != nil {
		return JobHandle{}, q.failErr
	}
	job, err := newJob(queueName, jobName, payload, opts.Delay)
	if err != nil {
		return JobHandle{}, err
	}

	q.history = append(q.history, *job)
	if opts.Delay > 0 {
		q.delayed[queueName] = append(q.delayed[queueName], job)
	} else {
		q.ready[queueName] = append(q.ready[queueName], job)
		close(q.notify)
		q.notify = make(chan struct{})
	}
	return job.handle(), nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context, queueName string, wait time.Duration) (*Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		q.mu.Lock()
		q.promoteLocked(queueName, time.Now())
		if jobs := q.ready[queueName]; len(jobs) > 0 {
			job := jobs[0]
			q.ready[queueName] = jobs[1:]
			q.inflight[job.ID] = inflightJob{job: job, since: time.Now()}
			q.mu.Unlock()
			return job, nil
		}
		notify := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (q *MemoryQueue) PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.promoteLocked(queueName, now)
	if n > 0 {
		close(q.notify)
		q.notify = make(chan struct{})
	}
	return n, nil
}

func (q *MemoryQueue) promoteLocked(queueName string, now time.Time) int {
	cutoff := now.UnixMilli()
	var keep []*Job
	n := 0
	for _, job := range q.delayed[queueName] {
		if job.RunAt <= cutoff {
			q.ready[queueName] = append(q.ready[queueName], job)
			n++
			continue
		}
		keep = append(keep, job)
	}
	q.delayed[queueName] = keep
	return n
}

func (q *MemoryQueue) Ack(ctx context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, job.ID)
	return nil
}

func (q *MemoryQueue) Reclaim(ctx context.Context, queueName string, visibility time.Duration, now time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := now.Add(-visibility)
	var stale []*Job
	for id, f := range q.inflight {
		if f.job.Queue == queueName && f.since.Before(cutoff) {
			stale = append(stale, f.job)
			delete(q.inflight, id)
		}
	}
	if len(stale) > 0 {
		q.ready[queueName] = append(stale, q.ready[queueName]...)
		close(q.notify)
		q.notify = make(chan struct{})
	}
	return len(stale), nil
}

// InFlight reports how many dequeued jobs have not been acknowledged.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) Ping(ctx context.Context) error {
	return nil
}

// Jobs returns a copy of every job enqueued so far, optionally filtered by name.
func (q *MemoryQueue) Jobs(jobName string) []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Job
	for _, job := range q.history {
		if jobName == "" || job.Name == jobName {
			out = append(out, job)
		}
	}
	return out
}

// Drain removes and returns every ready job of a queue without waiting.
func (q *MemoryQueue) Drain(queueName string) []*Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.ready[queueName]
	q.ready[queueName] = nil
	return jobs
}
