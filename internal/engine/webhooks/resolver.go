package webhooks

import (
	"context"

	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/repositories"
)

// Resolver finds the endpoints a real event fans out to. Inactive and
// test-mode endpoints never receive real events.
type Resolver struct {
	endpoints *repositories.WebhookRepository
}

func NewResolver(endpoints *repositories.WebhookRepository) *Resolver {
	return &Resolver{endpoints: endpoints}
}

func (r *Resolver) Resolve(ctx context.Context, tenantID, eventType string) ([]*models.EndpointSummary, error) {
	candidates, err := r.endpoints.ListDeliverable(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var subscribed []*models.EndpointSummary
	for _, ep := range candidates {
		if ep.IsActive && !ep.TestMode && ep.Subscribed(eventType) {
			subscribed = append(subscribed, ep)
		}
	}
	return subscribed, nil
}
