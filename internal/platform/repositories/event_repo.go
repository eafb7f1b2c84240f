package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"taxdesk/internal/platform/models"
	"taxdesk/internal/pkg/id"
)

const eventColumns = `id, tenant_id, event_type, entity_type, entity_id, payload, correlation_id, source, status,
	target_endpoint_ids, created_at, updated_at, processed_at`

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Create(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == "" {
		event.ID = id.New("evt")
	}
	if event.Status == "" {
		event.Status = models.EventPending
	}
	if len(event.Payload) == 0 {
		event.Payload = json.RawMessage(`{}`)
	}
	now := time.Now().Unix()
	event.CreatedAt = now
	event.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, tenant_id, event_type, entity_type, entity_id, payload, correlation_id, source, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, event.TenantID, event.EventType, event.EntityType, event.EntityID, string(event.Payload),
		event.CorrelationID, event.Source, event.Status, event.CreatedAt, event.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

// Get loads an event regardless of tenant. Used by workers, which only see event ids.
func (r *EventRepository) Get(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM webhook_events WHERE id = ?`, eventID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *EventRepository) GetByID(ctx context.Context, tenantID, eventID string) (*models.WebhookEvent, error) {
	e, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE id = ? AND tenant_id = ?`, eventID, tenantID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *EventRepository) List(ctx context.Context, tenantID string, status models.EventStatus, limit, offset int) ([]*models.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events WHERE tenant_id = ?`
	args := []interface{}{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return r.queryEvents(ctx, query, args...)
}

// ListPendingBefore returns pending events created before cutoff, oldest first.
func (r *EventRepository) ListPendingBefore(ctx context.Context, cutoff int64, limit int) ([]*models.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events
		WHERE status = ? AND created_at < ?
		ORDER BY created_at ASC, rowid ASC LIMIT ?`
	return r.queryEvents(ctx, query, models.EventPending, cutoff, limit)
}

// ListProcessingBefore returns processing events not updated since cutoff,
// least recently touched first.
func (r *EventRepository) ListProcessingBefore(ctx context.Context, cutoff int64, limit int) ([]*models.WebhookEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM webhook_events
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC, rowid ASC LIMIT ?`
	return r.queryEvents(ctx, query, models.EventProcessing, cutoff, limit)
}

// Touch bumps updated_at of a processing event so a sweep rotates through the
// backlog instead of revisiting the same events.
func (r *EventRepository) Touch(ctx context.Context, eventID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE webhook_events SET updated_at = ? WHERE id = ? AND status = ?`,
		time.Now().Unix(), eventID, models.EventProcessing)
	return err
}

// Transition moves the event status forward. It returns false when the event
// is not currently in one of the from states.
func (r *EventRepository) Transition(ctx context.Context, eventID string, to models.EventStatus, from ...models.EventStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	now := time.Now().Unix()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(from)), ",")
	query := `UPDATE webhook_events SET status = ?, updated_at = ?`
	args := []interface{}{to, now}
	if to == models.EventDelivered || to == models.EventFailed {
		query += `, processed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ? AND status IN (` + placeholders + `)`
	args = append(args, eventID)
	for _, s := range from {
		args = append(args, s)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetTargets records the endpoints an event was fanned out to. It is written
// once, when the event is claimed for dispatch.
func (r *EventRepository) SetTargets(ctx context.Context, eventID string, endpointIDs []string) error {
	if endpointIDs == nil {
		endpointIDs = []string{}
	}
	raw, err := json.Marshal(endpointIDs)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE webhook_events SET target_endpoint_ids = ?, updated_at = ?
		WHERE id = ? AND target_endpoint_ids IS NULL
	`, string(raw), time.Now().Unix(), eventID)
	return err
}

func (r *EventRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*models.WebhookEvent, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.WebhookEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(s scanner) (*models.WebhookEvent, error) {
	var e models.WebhookEvent
	var payload string
	var targets sql.NullString
	var processedAt sql.NullInt64

	err := s.Scan(&e.ID, &e.TenantID, &e.EventType, &e.EntityType, &e.EntityID, &payload, &e.CorrelationID,
		&e.Source, &e.Status, &targets, &e.CreatedAt, &e.UpdatedAt, &processedAt)
	if err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.ProcessedAt = nullableInt64(processedAt)
	if targets.Valid {
		e.TargetEndpointIDs = decodeStrings(targets.String)
		if e.TargetEndpointIDs == nil {
			e.TargetEndpointIDs = []string{}
		}
	}
	return &e, nil
}
