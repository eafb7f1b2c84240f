package webhooks

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/repositories"
)

// refreshEventStatus derives the event status from the deliveries of the
// endpoints it was fanned out to. Targets that were since deactivated or
// removed no longer hold the event open.
//
// The event is delivered once every remaining target has a success or has
// exhausted its retries, and failed when at least one exhausted its retries
// without a success.
func (d *Dispatcher) refreshEventStatus(ctx context.Context, eventID string) error {
	event, err := d.events.Get(ctx, eventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if event.Status == models.EventDelivered || event.TargetEndpointIDs == nil {
		return nil
	}

	exhausted := 0
	for _, endpointID := range event.TargetEndpointIDs {
		endpoint, err := d.endpoints.GetByID(ctx, event.TenantID, endpointID)
		if repositories.IsNotFound(err) {
			continue
		}
		if err != nil {
			return err
		}
		if !endpoint.IsActive {
			continue
		}

		ok, err := d.deliveries.HasSuccess(ctx, event.ID, endpointID)
		if err != nil {
			return err
		}
		if ok {
			continue
		}

		latest, err := d.deliveries.Latest(ctx, event.ID, endpointID)
		if repositories.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if latest.WillRetry {
			return nil
		}
		exhausted++
	}

	status := models.EventDelivered
	from := []models.EventStatus{models.EventProcessing, models.EventFailed}
	if exhausted > 0 {
		status = models.EventFailed
		from = []models.EventStatus{models.EventProcessing}
	}

	changed, err := d.events.Transition(ctx, event.ID, status, from...)
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if changed {
		log.Info().Str("tenant_id", event.TenantID).Str("event_id", event.ID).
			Str("status", string(status)).Int("exhausted_endpoints", exhausted).Msg("event settled")
	}
	return nil
}
