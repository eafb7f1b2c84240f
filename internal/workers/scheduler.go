package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/queue"
)

// Every calls fn on each tick of interval until ctx is done.
func Every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// RunPromoter moves delayed retry jobs whose time has come onto the ready queue.
func RunPromoter(ctx context.Context, q queue.Queue, queueName string, interval time.Duration, m *metrics.Metrics) {
	Every(ctx, interval, func(ctx context.Context) {
		n, err := q.PromoteDue(ctx, queueName, time.Now())
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("promote delayed jobs failed")
			return
		}
		if n > 0 {
			m.RecordPromoted(n)
			log.Debug().Int("count", n).Msg("promoted delayed jobs")
		}
	})
}

// RunReclaimer returns jobs whose worker stopped before acknowledging them to
// the ready queue once they have been in flight longer than visibility.
func RunReclaimer(ctx context.Context, q queue.Queue, queueName string, interval, visibility time.Duration, m *metrics.Metrics) {
	Every(ctx, interval, func(ctx context.Context) {
		n, err := q.Reclaim(ctx, queueName, visibility, time.Now())
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("reclaim in-flight jobs failed")
			return
		}
		m.RecordReclaimed(n)
	})
}

// RunSweeper periodically recovers events stuck in pending or processing.
func RunSweeper(ctx context.Context, s *events.Sweeper, interval time.Duration) {
	Every(ctx, interval, func(ctx context.Context) {
		if _, err := s.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("pending event sweep failed")
		}
	})
}
