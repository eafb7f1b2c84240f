package models

import "encoding/json"

type EventStatus string

const (
	EventPending    EventStatus = "pending"
	EventProcessing EventStatus = "processing"
	EventDelivered  EventStatus = "delivered"
	EventFailed     EventStatus = "failed"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventPending, EventProcessing, EventDelivered, EventFailed:
		return true
	}
	return false
}

type DeliveryStatus string

const (
	DeliveryPending    DeliveryStatus = "pending"
	DeliverySuccess    DeliveryStatus = "success"
	DeliveryFailed     DeliveryStatus = "failed"
	DeliveryTimeout    DeliveryStatus = "timeout"
	DeliveryInvalidURL DeliveryStatus = "invalid_url"
)

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryPending, DeliverySuccess, DeliveryFailed, DeliveryTimeout, DeliveryInvalidURL:
		return true
	}
	return false
}

type RetryPolicy struct {
	MaxRetries     int `json:"max_retries"`
	InitialBackoff int `json:"initial_backoff"` // seconds
}

// EndpointSummary is the public projection of a webhook endpoint.
// It has no secret field; read paths only ever return this type.
type EndpointSummary struct {
	ID                       string            `json:"id"`
	TenantID                 string            `json:"tenant_id"`
	URL                      string            `json:"url"`
	Description              string            `json:"description,omitempty"`
	Events                   []string          `json:"events"`
	SubscribeToAll           bool              `json:"subscribe_to_all"`
	Headers                  map[string]string `json:"headers,omitempty"`
	IsActive                 bool              `json:"is_active"`
	TestMode                 bool              `json:"test_mode"`
	RetryPolicy              RetryPolicy       `json:"retry_policy"`
	SuccessCount             int64             `json:"success_count"`
	FailureCount             int64             `json:"failure_count"`
	LastTriggeredAt          *int64            `json:"last_triggered_at,omitempty"`
	LastSuccessfulDeliveryAt *int64            `json:"last_successful_delivery_at,omitempty"`
	CreatedAt                int64             `json:"created_at"`
	UpdatedAt                int64             `json:"updated_at"`
}

// Subscribed reports whether the endpoint wants events of the given type.
func (e *EndpointSummary) Subscribed(eventType string) bool {
	if e.SubscribeToAll {
		return true
	}
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// EndpointWithSecret carries the signing secret. It is only produced by
// repositories.EndpointSecretStore and never serialized.
type EndpointWithSecret struct {
	EndpointSummary
	Secret string `json:"-"`
}

// EndpointCreated is returned exactly once, from endpoint creation.
type EndpointCreated struct {
	EndpointSummary
	Secret string `json:"secret"`
}

type WebhookEvent struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	EventType         string          `json:"event_type"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	Payload           json.RawMessage `json:"payload"`
	CorrelationID     string          `json:"correlation_id"`
	Source            string          `json:"source,omitempty"`
	Status            EventStatus     `json:"status"`
	TargetEndpointIDs []string        `json:"target_endpoint_ids,omitempty"`
	CreatedAt         int64           `json:"created_at"`
	UpdatedAt         int64           `json:"updated_at"`
	ProcessedAt       *int64          `json:"processed_at,omitempty"`
}

type WebhookDelivery struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	EventID        string          `json:"event_id"`
	EndpointID     string          `json:"endpoint_id"`
	AttemptNumber  int             `json:"attempt_number"`
	RequestPayload json.RawMessage `json:"request_payload"`
	Signature      string          `json:"signature"`
	Status         DeliveryStatus  `json:"status"`
	HTTPStatusCode *int            `json:"http_status_code,omitempty"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	WillRetry      bool            `json:"will_retry"`
	NextRetryAt    *int64          `json:"next_retry_at,omitempty"`
	CreatedAt      int64           `json:"created_at"`
}

// EndpointStats is the delivery health view of one endpoint.
type EndpointStats struct {
	EndpointID               string                   `json:"endpoint_id"`
	SuccessCount             int64                    `json:"success_count"`
	FailureCount             int64                    `json:"failure_count"`
	SuccessRate              float64                  `json:"success_rate"`
	LastTriggeredAt          *int64                   `json:"last_triggered_at,omitempty"`
	LastSuccessfulDeliveryAt *int64                   `json:"last_successful_delivery_at,omitempty"`
	DeliveriesByStatus       map[DeliveryStatus]int64 `json:"deliveries_by_status"`
}
