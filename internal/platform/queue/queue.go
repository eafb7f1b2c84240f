package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taxdesk/internal/pkg/id"
)

var ErrClosed = errors.New("queue closed")

// Job is one unit of work pulled from a named queue.
type Job struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"`
	RunAt      int64           `json:"run_at"` // unix millis

	raw string
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

type JobHandle struct {
	ID    string
	Queue string
	RunAt time.Time
}

type EnqueueOptions struct {
	Delay time.Duration
}

// Queue delivers jobs at least once. Consumers must tolerate duplicates.
type Queue interface {
	Enqueue(ctx context.Context, queueName, jobName string, payload any, opts EnqueueOptions) (JobHandle, error)
	// Dequeue waits up to wait for a ready job. It returns nil, nil when none arrived.
	// The job stays in flight until it is acknowledged.
	Dequeue(ctx context.Context, queueName string, wait time.Duration) (*Job, error)
	Ack(ctx context.Context, job *Job) error
	// Reclaim puts jobs in flight for longer than visibility back on the ready list.
	Reclaim(ctx context.Context, queueName string, visibility time.Duration, now time.Time) (int, error)
	// PromoteDue moves delayed jobs whose run time has passed onto the ready list.
	PromoteDue(ctx context.Context, queueName string, now time.Time) (int, error)
	Ping(ctx context.Context) error
}

func newJob(queueName, jobName string, payload any, delay time.Duration) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", jobName, err)
	}
	now := time.Now()
	if delay < 0 {
		delay = 0
	}
	return &Job{
		ID:         id.New("job"),
		Queue:      queueName,
		Name:       jobName,
		Payload:    raw,
		EnqueuedAt: now.Unix(),
		RunAt:      now.Add(delay).UnixMilli(),
	}, nil
}

func (j *Job) handle() JobHandle {
	return JobHandle{ID: j.ID, Queue: j.Queue, RunAt: time.UnixMilli(j.RunAt)}
}
