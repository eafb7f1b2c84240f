package workers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/queue"
)

// Handler processes one dequeued job.
type Handler func(ctx context.Context, job *queue.Job) error

// ErrUnknownJob is reported for jobs no handler is registered for.
var ErrUnknownJob = errors.New("no handler registered for job")

type PoolOptions struct {
	QueueName   string
	WorkerCount int
	DequeueWait time.Duration
}

// Pool runs a fixed number of goroutines that pull jobs from one queue and
// route them to handlers by job name. A failing or panicking job is logged
// and counted; it never stops the pool.
type Pool struct {
	queue    queue.Queue
	opts     PoolOptions
	handlers map[string]Handler
	metrics  *metrics.Metrics
}

func NewPool(q queue.Queue, opts PoolOptions, m *metrics.Metrics) *Pool {
	if opts.WorkerCount < 1 {
		opts.WorkerCount = 1
	}
	if opts.DequeueWait <= 0 {
		opts.DequeueWait = 2 * time.Second
	}
	return &Pool{queue: q, opts: opts, handlers: make(map[string]Handler), metrics: m}
}

// Handle registers h for jobs named name. It must be called before Run.
func (p *Pool) Handle(name string, h Handler) {
	p.handlers[name] = h
}

// Run blocks until ctx is cancelled. Jobs already taken off the queue are
// finished before it returns.
func (p *Pool) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.opts.WorkerCount; i++ {
		worker := i
		g.Go(func() error {
			p.loop(gctx, worker)
			return nil
		})
	}
	log.Info().Str("queue", p.opts.QueueName).Int("workers", p.opts.WorkerCount).Msg("worker pool started")
	err := g.Wait()
	log.Info().Str("queue", p.opts.QueueName).Msg("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		job, err := p.queue.Dequeue(ctx, p.opts.QueueName, p.opts.DequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("worker", worker).Msg("dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		if job == nil {
			continue
		}
		// In-flight jobs run to completion even when shutdown begins.
		jobCtx := context.WithoutCancel(ctx)
		p.Process(jobCtx, job)
		// Failed jobs are acknowledged too; deliveries schedule their own retries.
		if err := p.queue.Ack(jobCtx, job); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("ack failed")
		}
	}
}

// Process runs the handler registered for job and records the outcome.
func (p *Pool) Process(ctx context.Context, job *queue.Job) (err error) {
	logger := log.With().Str("job_id", job.ID).Str("job", job.Name).Logger()

	h, ok := p.handlers[job.Name]
	if !ok {
		p.metrics.RecordJob(job.Name, "unknown")
		logger.Error().Msg("dropping job without handler")
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			p.metrics.RecordJob(job.Name, "panic")
			logger.Error().Interface("panic", r).Msg("job panicked")
		}
	}()

	start := time.Now()
	if err = h(ctx, job); err != nil {
		p.metrics.RecordJob(job.Name, "error")
		logger.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
		return err
	}
	p.metrics.RecordJob(job.Name, "ok")
	logger.Debug().Dur("took", time.Since(start)).Msg("job done")
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
