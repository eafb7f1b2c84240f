package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"taxdesk/internal/platform/models"
	"taxdesk/internal/pkg/id"
)

const deliveryColumns = `id, tenant_id, event_id, endpoint_id, attempt_number, request_payload, signature, status,
	http_status_code, response_time_ms, response_body, error_message, will_retry, next_retry_at, created_at`

type DeliveryRepository struct {
	db *sql.DB
}

func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create inserts one attempt row. A second row for the same (event, endpoint,
// attempt) returns ErrDuplicate.
func (r *DeliveryRepository) Create(ctx context.Context, d *models.WebhookDelivery) error {
	if d.ID == "" {
		d.ID = id.New("dlv")
	}
	if d.CreatedAt == 0 {
		d.CreatedAt = time.Now().Unix()
	}
	payload := string(d.RequestPayload)
	if payload == "" {
		payload = "{}"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, tenant_id, event_id, endpoint_id, attempt_number, request_payload, signature, status,
			http_status_code, response_time_ms, response_body, error_message, will_retry, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.TenantID, d.EventID, d.EndpointID, d.AttemptNumber, payload, d.Signature, d.Status,
		d.HTTPStatusCode, d.ResponseTimeMs, d.ResponseBody, d.ErrorMessage, boolToInt(d.WillRetry), d.NextRetryAt, d.CreatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *DeliveryRepository) GetByID(ctx context.Context, tenantID, deliveryID string) (*models.WebhookDelivery, error) {
	d, err := scanDelivery(r.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = ? AND tenant_id = ?`, deliveryID, tenantID))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (r *DeliveryRepository) ListByEndpoint(ctx context.Context, tenantID, endpointID string, status models.DeliveryStatus, limit, offset int) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE tenant_id = ? AND endpoint_id = ?`
	args := []interface{}{tenantID, endpointID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	return r.queryDeliveries(ctx, query, args...)
}

// ListByEvent returns every attempt for an event ordered by endpoint and attempt number.
func (r *DeliveryRepository) ListByEvent(ctx context.Context, eventID string) ([]*models.WebhookDelivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE event_id = ? ORDER BY endpoint_id ASC, attempt_number ASC`
	return r.queryDeliveries(ctx, query, eventID)
}

func (r *DeliveryRepository) AttemptExists(ctx context.Context, eventID, endpointID string, attempt int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM webhook_deliveries WHERE event_id = ? AND endpoint_id = ? AND attempt_number = ?)
	`, eventID, endpointID, attempt).Scan(&exists)
	return exists, err
}

func (r *DeliveryRepository) HasSuccess(ctx context.Context, eventID, endpointID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM webhook_deliveries WHERE event_id = ? AND endpoint_id = ? AND status = ?)
	`, eventID, endpointID, models.DeliverySuccess).Scan(&exists)
	return exists, err
}

// LatestAttempt returns the highest attempt number recorded for the pair, or 0.
func (r *DeliveryRepository) LatestAttempt(ctx context.Context, eventID, endpointID string) (int, error) {
	var attempt sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(attempt_number) FROM webhook_deliveries WHERE event_id = ? AND endpoint_id = ?
	`, eventID, endpointID).Scan(&attempt)
	if err != nil {
		return 0, err
	}
	return int(attempt.Int64), nil
}

// Latest returns the highest-numbered attempt for the pair.
func (r *DeliveryRepository) Latest(ctx context.Context, eventID, endpointID string) (*models.WebhookDelivery, error) {
	d, err := scanDelivery(r.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries
		WHERE event_id = ? AND endpoint_id = ? ORDER BY attempt_number DESC LIMIT 1`, eventID, endpointID))
	if err != nil {
		return nil, notFound(err)
	}
	return d, nil
}

func (r *DeliveryRepository) CountByStatus(ctx context.Context, endpointID string) (map[models.DeliveryStatus]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM webhook_deliveries WHERE endpoint_id = ? GROUP BY status
	`, endpointID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.DeliveryStatus]int64)
	for rows.Next() {
		var status models.DeliveryStatus
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *DeliveryRepository) queryDeliveries(ctx context.Context, query string, args ...interface{}) ([]*models.WebhookDelivery, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []*models.WebhookDelivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func scanDelivery(s scanner) (*models.WebhookDelivery, error) {
	var d models.WebhookDelivery
	var payload string
	var statusCode, nextRetryAt sql.NullInt64
	var willRetry int

	err := s.Scan(&d.ID, &d.TenantID, &d.EventID, &d.EndpointID, &d.AttemptNumber, &payload, &d.Signature, &d.Status,
		&statusCode, &d.ResponseTimeMs, &d.ResponseBody, &d.ErrorMessage, &willRetry, &nextRetryAt, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.RequestPayload = json.RawMessage(payload)
	d.HTTPStatusCode = nullableInt(statusCode)
	d.NextRetryAt = nullableInt64(nextRetryAt)
	d.WillRetry = willRetry == 1
	return &d, nil
}
