package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/pkg/validator"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/queue"
	"taxdesk/internal/platform/repositories"
	"taxdesk/internal/platform/security"
)

var (
	ErrEndpointNotFound         = errors.New("webhook endpoint not found")
	ErrDeliveryNotFound         = errors.New("delivery not found")
	ErrDeliveryAlreadySucceeded = errors.New("delivery already succeeded")
	ErrEndpointInactive         = errors.New("webhook endpoint is inactive")
	ErrInvalidEndpoint          = errors.New("invalid webhook endpoint")
)

const (
	maxRetryLimit   = 10
	maxBackoffLimit = 3600
)

type CreateEndpointInput struct {
	URL            string            `json:"url"`
	Description    string            `json:"description"`
	Events         []string          `json:"events"`
	SubscribeToAll bool              `json:"subscribe_to_all"`
	Headers        map[string]string `json:"headers"`
	TestMode       bool              `json:"test_mode"`
	MaxRetries     *int              `json:"max_retries"`
	InitialBackoff *int              `json:"initial_backoff"`
}

// UpdateEndpointInput carries a partial update; nil fields are left as they are.
type UpdateEndpointInput struct {
	URL            *string            `json:"url"`
	Description    *string            `json:"description"`
	Events         *[]string          `json:"events"`
	SubscribeToAll *bool              `json:"subscribe_to_all"`
	Headers        *map[string]string `json:"headers"`
	IsActive       *bool              `json:"is_active"`
	TestMode       *bool              `json:"test_mode"`
	MaxRetries     *int               `json:"max_retries"`
	InitialBackoff *int               `json:"initial_backoff"`
}

// RetryScheduled describes a manually triggered delivery attempt.
type RetryScheduled struct {
	DeliveryID string `json:"delivery_id"`
	EventID    string `json:"event_id"`
	EndpointID string `json:"endpoint_id"`
	Attempt    int    `json:"attempt"`
	JobID      string `json:"job_id"`
}

// Service is the admin surface over endpoints, events and deliveries.
type Service struct {
	endpoints  *repositories.WebhookRepository
	events     *repositories.EventRepository
	deliveries *repositories.DeliveryRepository
	dispatcher *Dispatcher
	queue      queue.Queue
	queueName  string
	defaults   models.RetryPolicy
}

func NewService(endpoints *repositories.WebhookRepository, eventRepo *repositories.EventRepository,
	deliveries *repositories.DeliveryRepository, dispatcher *Dispatcher, q queue.Queue, queueName string,
	defaults models.RetryPolicy) *Service {
	return &Service{
		endpoints:  endpoints,
		events:     eventRepo,
		deliveries: deliveries,
		dispatcher: dispatcher,
		queue:      q,
		queueName:  queueName,
		defaults:   defaults,
	}
}

// CreateEndpoint registers an endpoint and generates its signing secret. The
// returned value is the only place the secret is ever exposed.
func (s *Service) CreateEndpoint(ctx context.Context, tenantID string, in CreateEndpointInput) (*models.EndpointCreated, error) {
	endpoint := &models.EndpointSummary{
		TenantID:       tenantID,
		URL:            strings.TrimSpace(in.URL),
		Description:    in.Description,
		Events:         in.Events,
		SubscribeToAll: in.SubscribeToAll,
		Headers:        in.Headers,
		IsActive:       true,
		TestMode:       in.TestMode,
		RetryPolicy:    s.defaults,
	}
	if in.MaxRetries != nil {
		endpoint.RetryPolicy.MaxRetries = *in.MaxRetries
	}
	if in.InitialBackoff != nil {
		endpoint.RetryPolicy.InitialBackoff = *in.InitialBackoff
	}
	if err := normalize(endpoint); err != nil {
		return nil, err
	}

	secret, err := security.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	if err := s.endpoints.Create(ctx, endpoint, secret); err != nil {
		return nil, err
	}

	log.Info().Str("tenant_id", tenantID).Str("endpoint_id", endpoint.ID).Msg("webhook endpoint created")
	return &models.EndpointCreated{EndpointSummary: *endpoint, Secret: secret}, nil
}

func (s *Service) ListEndpoints(ctx context.Context, tenantID string) ([]*models.EndpointSummary, error) {
	return s.endpoints.List(ctx, tenantID)
}

func (s *Service) GetEndpoint(ctx context.Context, tenantID, endpointID string) (*models.EndpointSummary, error) {
	endpoint, err := s.endpoints.GetByID(ctx, tenantID, endpointID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}
	return endpoint, nil
}

func (s *Service) UpdateEndpoint(ctx context.Context, tenantID, endpointID string, in UpdateEndpointInput) (*models.EndpointSummary, error) {
	endpoint, err := s.GetEndpoint(ctx, tenantID, endpointID)
	if err != nil {
		return nil, err
	}

	if in.URL != nil {
		endpoint.URL = strings.TrimSpace(*in.URL)
	}
	if in.Description != nil {
		endpoint.Description = *in.Description
	}
	if in.Events != nil {
		endpoint.Events = *in.Events
	}
	if in.SubscribeToAll != nil {
		endpoint.SubscribeToAll = *in.SubscribeToAll
	}
	if in.Headers != nil {
		endpoint.Headers = *in.Headers
	}
	if in.IsActive != nil {
		endpoint.IsActive = *in.IsActive
	}
	if in.TestMode != nil {
		endpoint.TestMode = *in.TestMode
	}
	if in.MaxRetries != nil {
		endpoint.RetryPolicy.MaxRetries = *in.MaxRetries
	}
	if in.InitialBackoff != nil {
		endpoint.RetryPolicy.InitialBackoff = *in.InitialBackoff
	}
	if err := normalize(endpoint); err != nil {
		return nil, err
	}

	if err := s.endpoints.Update(ctx, endpoint); err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}
	return endpoint, nil
}

// DeleteEndpoint removes an endpoint no delivery refers to. Endpoints with
// delivery history are deactivated instead; the boolean reports which happened.
func (s *Service) DeleteEndpoint(ctx context.Context, tenantID, endpointID string) (deactivated bool, err error) {
	if _, err := s.GetEndpoint(ctx, tenantID, endpointID); err != nil {
		return false, err
	}

	used, err := s.endpoints.HasDeliveries(ctx, endpointID)
	if err != nil {
		return false, err
	}
	if !used {
		err = s.endpoints.Delete(ctx, tenantID, endpointID)
		if err == nil {
			return false, nil
		}
		// A delivery was recorded in between; fall back to deactivation.
		if !repositories.IsNotFound(err) {
			return false, err
		}
	}

	if err := s.endpoints.Deactivate(ctx, tenantID, endpointID); err != nil {
		return false, err
	}
	log.Info().Str("tenant_id", tenantID).Str("endpoint_id", endpointID).Msg("webhook endpoint deactivated")
	return true, nil
}

func (s *Service) Stats(ctx context.Context, tenantID, endpointID string) (*models.EndpointStats, error) {
	endpoint, err := s.GetEndpoint(ctx, tenantID, endpointID)
	if err != nil {
		return nil, err
	}
	counts, err := s.deliveries.CountByStatus(ctx, endpointID)
	if err != nil {
		return nil, err
	}

	stats := &models.EndpointStats{
		EndpointID:               endpoint.ID,
		SuccessCount:             endpoint.SuccessCount,
		FailureCount:             endpoint.FailureCount,
		LastTriggeredAt:          endpoint.LastTriggeredAt,
		LastSuccessfulDeliveryAt: endpoint.LastSuccessfulDeliveryAt,
		DeliveriesByStatus:       counts,
	}
	if total := endpoint.SuccessCount + endpoint.FailureCount; total > 0 {
		stats.SuccessRate = float64(endpoint.SuccessCount) / float64(total)
	}
	return stats, nil
}

func (s *Service) ListDeliveries(ctx context.Context, tenantID, endpointID string, status models.DeliveryStatus, limit, offset int) ([]*models.WebhookDelivery, error) {
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown delivery status %q", ErrInvalidEndpoint, status)
	}
	if _, err := s.GetEndpoint(ctx, tenantID, endpointID); err != nil {
		return nil, err
	}
	return s.deliveries.ListByEndpoint(ctx, tenantID, endpointID, status, limit, offset)
}

func (s *Service) ListEvents(ctx context.Context, tenantID string, status models.EventStatus, limit, offset int) ([]*models.WebhookEvent, error) {
	return s.events.List(ctx, tenantID, status, limit, offset)
}

func (s *Service) GetEvent(ctx context.Context, tenantID, eventID string) (*models.WebhookEvent, error) {
	event, err := s.events.GetByID(ctx, tenantID, eventID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, events.ErrEventNotFound
		}
		return nil, err
	}
	return event, nil
}

func (s *Service) ListEventDeliveries(ctx context.Context, tenantID, eventID string) ([]*models.WebhookDelivery, error) {
	if _, err := s.GetEvent(ctx, tenantID, eventID); err != nil {
		return nil, err
	}
	return s.deliveries.ListByEvent(ctx, eventID)
}

// RetryDelivery schedules one extra attempt for the endpoint of a failed
// delivery. The attempt number continues after the latest recorded attempt, so
// it is never retried automatically again.
func (s *Service) RetryDelivery(ctx context.Context, tenantID, deliveryID string) (*RetryScheduled, error) {
	delivery, err := s.deliveries.GetByID(ctx, tenantID, deliveryID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrDeliveryNotFound
		}
		return nil, err
	}
	if delivery.Status == models.DeliverySuccess {
		return nil, ErrDeliveryAlreadySucceeded
	}

	succeeded, err := s.deliveries.HasSuccess(ctx, delivery.EventID, delivery.EndpointID)
	if err != nil {
		return nil, err
	}
	if succeeded {
		return nil, ErrDeliveryAlreadySucceeded
	}

	endpoint, err := s.GetEndpoint(ctx, tenantID, delivery.EndpointID)
	if err != nil {
		return nil, err
	}
	if !endpoint.IsActive {
		return nil, ErrEndpointInactive
	}

	latest, err := s.deliveries.LatestAttempt(ctx, delivery.EventID, delivery.EndpointID)
	if err != nil {
		return nil, err
	}
	job := DeliverJob{EventID: delivery.EventID, EndpointID: delivery.EndpointID, Attempt: latest + 1}
	handle, err := s.queue.Enqueue(ctx, s.queueName, JobDeliverWebhook, job, queue.EnqueueOptions{})
	if err != nil {
		return nil, fmt.Errorf("enqueue retry: %w", err)
	}

	log.Info().Str("tenant_id", tenantID).Str("delivery_id", deliveryID).Int("attempt", job.Attempt).
		Msg("manual delivery retry scheduled")
	return &RetryScheduled{
		DeliveryID: deliveryID,
		EventID:    job.EventID,
		EndpointID: job.EndpointID,
		Attempt:    job.Attempt,
		JobID:      handle.ID,
	}, nil
}

func (s *Service) TestEndpoint(ctx context.Context, tenantID, endpointID string) (*TestResult, error) {
	return s.dispatcher.TestEndpoint(ctx, tenantID, endpointID)
}

// normalize validates an endpoint before it is stored.
func normalize(e *models.EndpointSummary) error {
	if err := validator.ValidateWebhookURL(e.URL); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if err := validator.ValidateCustomHeaders(e.Headers); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	seen := make(map[string]bool)
	var types []string
	for _, t := range e.Events {
		t = strings.TrimSpace(t)
		if t == "*" {
			e.SubscribeToAll = true
			continue
		}
		if !events.Known(t) {
			return fmt.Errorf("%w: unknown event type %q", ErrInvalidEndpoint, t)
		}
		if !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	}
	if types == nil {
		types = []string{}
	}
	e.Events = types
	if !e.SubscribeToAll && len(e.Events) == 0 {
		return fmt.Errorf("%w: subscribe to at least one event type", ErrInvalidEndpoint)
	}

	if e.RetryPolicy.MaxRetries < 1 || e.RetryPolicy.MaxRetries > maxRetryLimit {
		return fmt.Errorf("%w: max_retries must be between 1 and %d", ErrInvalidEndpoint, maxRetryLimit)
	}
	if e.RetryPolicy.InitialBackoff < 1 || e.RetryPolicy.InitialBackoff > maxBackoffLimit {
		return fmt.Errorf("%w: initial_backoff must be between 1 and %d seconds", ErrInvalidEndpoint, maxBackoffLimit)
	}
	return nil
}
