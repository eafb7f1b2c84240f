package workers

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/engine/webhooks"
	"taxdesk/internal/platform/queue"
)

// Register wires the webhook pipeline jobs into the pool.
func Register(p *Pool, d *webhooks.Dispatcher) {
	p.Handle(events.JobDispatchEvent, DispatchHandler(d))
	p.Handle(webhooks.JobDeliverWebhook, DeliverHandler(d))
}

func DispatchHandler(d *webhooks.Dispatcher) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload events.DispatchJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		return d.Dispatch(ctx, payload.EventID)
	}
}

// DeliverHandler runs one delivery attempt. A failed attempt is an expected
// outcome that is already recorded and rescheduled, so it is not a job error.
func DeliverHandler(d *webhooks.Dispatcher) Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var payload webhooks.DeliverJob
		if err := job.Decode(&payload); err != nil {
			return err
		}
		_, err := d.HandleDeliver(ctx, payload)
		if errors.Is(err, webhooks.ErrDeliveryNetwork) {
			log.Debug().Str("event_id", payload.EventID).Str("endpoint_id", payload.EndpointID).
				Int("attempt", payload.Attempt).Msg("delivery attempt failed")
			return nil
		}
		return err
	}
}
