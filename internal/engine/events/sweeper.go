package events

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/repositories"
)

const sweepBatch = 200

// Reconciler re-drives an event stuck in processing and reports how many
// jobs it enqueued.
type Reconciler interface {
	Reconcile(ctx context.Context, eventID string, retryBefore time.Time) (int, error)
}

// Sweeper recovers events stranded by queue failures. Pending events older
// than the threshold get their dispatch job again; Dispatch claims an event
// only once, so a duplicate job is harmless. Processing events untouched for
// longer than the threshold are handed to the reconciler, which re-enqueues
// delivery attempts that were owed but never queued.
type Sweeper struct {
	events     *repositories.EventRepository
	publisher  *Publisher
	reconciler Reconciler
	threshold  time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewSweeper creates a sweeper. A nil reconciler limits it to pending events.
func NewSweeper(events *repositories.EventRepository, publisher *Publisher, reconciler Reconciler,
	threshold time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{events: events, publisher: publisher, reconciler: reconciler, threshold: threshold, metrics: m, now: time.Now}
}

// Sweep runs one recovery pass and returns the number of jobs enqueued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.threshold)

	pending, err := s.sweepPending(ctx, cutoff)
	if err != nil {
		return pending, err
	}
	processing, err := s.sweepProcessing(ctx, cutoff)
	return pending + processing, err
}

func (s *Sweeper) sweepPending(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := s.events.ListPendingBefore(ctx, cutoff.Unix(), sweepBatch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, event := range stale {
		if err := s.publisher.Enqueue(ctx, event.ID); err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("sweeper could not re-enqueue event")
			continue
		}
		requeued++
	}

	if requeued > 0 {
		s.metrics.RecordRequeued(string(models.EventPending), requeued)
		log.Warn().Int("count", requeued).Msg("re-enqueued stale pending events")
	}
	return requeued, nil
}

func (s *Sweeper) sweepProcessing(ctx context.Context, cutoff time.Time) (int, error) {
	if s.reconciler == nil {
		return 0, nil
	}
	stale, err := s.events.ListProcessingBefore(ctx, cutoff.Unix(), sweepBatch)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, event := range stale {
		n, err := s.reconciler.Reconcile(ctx, event.ID, cutoff)
		requeued += n
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("sweeper could not reconcile event")
		}
	}

	if requeued > 0 {
		s.metrics.RecordRequeued(string(models.EventProcessing), requeued)
		log.Warn().Int("count", requeued).Msg("re-enqueued deliveries of stalled events")
	}
	return requeued, nil
}
