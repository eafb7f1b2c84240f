package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/pkg/id"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/queue"
	"taxdesk/internal/platform/repositories"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEnqueueFailed    = errors.New("event stored but dispatch could not be enqueued")
	ErrEventNotFound    = errors.New("event not found")
)

type PublishRequest struct {
	TenantID   string
	EventType  string
	EntityType string
	EntityID   string
	Payload    any
	Source     string
}

type Publisher struct {
	events    *repositories.EventRepository
	queue     queue.Queue
	queueName string
	metrics   *metrics.Metrics
}

func NewPublisher(events *repositories.EventRepository, q queue.Queue, queueName string, m *metrics.Metrics) *Publisher {
	return &Publisher{events: events, queue: q, queueName: queueName, metrics: m}
}

// Publish stores the event as pending and enqueues its dispatch job.
//
// If the enqueue fails the stored event is still returned, together with an
// error wrapping ErrEnqueueFailed. The sweeper picks such events up later.
func (p *Publisher) Publish(ctx context.Context, req PublishRequest) (*models.WebhookEvent, error) {
	if !Known(req.EventType) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, req.EventType)
	}
	if req.TenantID == "" || req.EntityType == "" || req.EntityID == "" {
		return nil, errors.New("tenant, entity type and entity id are required")
	}

	payload, err := encodePayload(req.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode event payload: %w", err)
	}

	event := &models.WebhookEvent{
		TenantID:      req.TenantID,
		EventType:     req.EventType,
		EntityType:    req.EntityType,
		EntityID:      req.EntityID,
		Payload:       payload,
		CorrelationID: id.Correlation(),
		Source:        req.Source,
		Status:        models.EventPending,
	}
	if err := p.events.Create(ctx, event); err != nil {
		p.metrics.RecordPublishFailure("persist")
		return nil, fmt.Errorf("store event: %w", err)
	}
	p.metrics.RecordPublished(event.EventType)

	if err := p.Enqueue(ctx, event.ID); err != nil {
		p.metrics.RecordPublishFailure("enqueue")
		log.Error().Err(err).
			Str("tenant_id", event.TenantID).
			Str("event_id", event.ID).
			Str("event_type", event.EventType).
			Str("correlation_id", event.CorrelationID).
			Msg("event stored but dispatch enqueue failed; sweeper will retry")
		return event, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}

	log.Info().
		Str("tenant_id", event.TenantID).
		Str("event_id", event.ID).
		Str("event_type", event.EventType).
		Str("correlation_id", event.CorrelationID).
		Msg("event published")
	return event, nil
}

// Enqueue schedules the dispatch job of an already stored event.
func (p *Publisher) Enqueue(ctx context.Context, eventID string) error {
	_, err := p.queue.Enqueue(ctx, p.queueName, JobDispatchEvent, DispatchJob{EventID: eventID}, queue.EnqueueOptions{})
	return err
}

func encodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, errors.New("payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	default:
		return json.Marshal(v)
	}
}
