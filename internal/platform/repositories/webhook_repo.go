package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/security"
	"taxdesk/internal/pkg/id"
)

const endpointColumns = `id, tenant_id, url, description, events, subscribe_to_all, headers, is_active, test_mode,
	max_retries, initial_backoff, success_count, failure_count, last_triggered_at, last_successful_delivery_at,
	created_at, updated_at`

type WebhookRepository struct {
	db  *sql.DB
	box *security.SecretBox
}

func NewWebhookRepository(db *sql.DB, box *security.SecretBox) *WebhookRepository {
	return &WebhookRepository{db: db, box: box}
}

// Create stores the endpoint with its secret sealed. The plaintext secret is
// not kept anywhere by the repository.
func (r *WebhookRepository) Create(ctx context.Context, endpoint *models.EndpointSummary, secret string) error {
	if endpoint.ID == "" {
		endpoint.ID = id.New("wh")
	}
	now := time.Now().Unix()
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now

	sealed, err := r.box.Seal(secret, endpoint.ID)
	if err != nil {
		return err
	}

	eventsJSON, headersJSON, err := encodeEndpoint(endpoint)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO webhook_endpoints (id, tenant_id, url, description, events, subscribe_to_all, headers, secret_sealed,
			is_active, test_mode, max_retries, initial_backoff, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query, endpoint.ID, endpoint.TenantID, endpoint.URL, endpoint.Description,
		eventsJSON, boolToInt(endpoint.SubscribeToAll), headersJSON, sealed,
		boolToInt(endpoint.IsActive), boolToInt(endpoint.TestMode),
		endpoint.RetryPolicy.MaxRetries, endpoint.RetryPolicy.InitialBackoff,
		endpoint.CreatedAt, endpoint.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *WebhookRepository) GetByID(ctx context.Context, tenantID, endpointID string) (*models.EndpointSummary, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = ? AND tenant_id = ?`
	e, err := scanEndpoint(r.db.QueryRowContext(ctx, query, endpointID, tenantID))
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

func (r *WebhookRepository) List(ctx context.Context, tenantID string) ([]*models.EndpointSummary, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE tenant_id = ? ORDER BY created_at DESC, rowid DESC`
	return r.queryEndpoints(ctx, query, tenantID)
}

// ListDeliverable returns the tenant's active endpoints that receive real events.
// Event type filtering happens in the caller; events are stored as a JSON array.
func (r *WebhookRepository) ListDeliverable(ctx context.Context, tenantID string) ([]*models.EndpointSummary, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints
		WHERE tenant_id = ? AND is_active = 1 AND test_mode = 0
		ORDER BY created_at ASC, rowid ASC`
	return r.queryEndpoints(ctx, query, tenantID)
}

func (r *WebhookRepository) Update(ctx context.Context, endpoint *models.EndpointSummary) error {
	eventsJSON, headersJSON, err := encodeEndpoint(endpoint)
	if err != nil {
		return err
	}
	endpoint.UpdatedAt = time.Now().Unix()

	query := `
		UPDATE webhook_endpoints
		SET url = ?, description = ?, events = ?, subscribe_to_all = ?, headers = ?, is_active = ?, test_mode = ?,
			max_retries = ?, initial_backoff = ?, updated_at = ?
		WHERE id = ? AND tenant_id = ?
	`
	res, err := r.db.ExecContext(ctx, query, endpoint.URL, endpoint.Description, eventsJSON,
		boolToInt(endpoint.SubscribeToAll), headersJSON, boolToInt(endpoint.IsActive), boolToInt(endpoint.TestMode),
		endpoint.RetryPolicy.MaxRetries, endpoint.RetryPolicy.InitialBackoff, endpoint.UpdatedAt,
		endpoint.ID, endpoint.TenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *WebhookRepository) Deactivate(ctx context.Context, tenantID, endpointID string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE webhook_endpoints SET is_active = 0, updated_at = ? WHERE id = ? AND tenant_id = ?`,
		time.Now().Unix(), endpointID, tenantID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Delete removes an endpoint that no delivery references.
func (r *WebhookRepository) Delete(ctx context.Context, tenantID, endpointID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM webhook_endpoints
		WHERE id = ? AND tenant_id = ?
		AND NOT EXISTS (SELECT 1 FROM webhook_deliveries WHERE endpoint_id = ?)
	`, endpointID, tenantID, endpointID)
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (r *WebhookRepository) HasDeliveries(ctx context.Context, endpointID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM webhook_deliveries WHERE endpoint_id = ?)`, endpointID).Scan(&exists)
	return exists, err
}

// RecordSuccess bumps the success counter in place so concurrent completions
// for the same endpoint never lose an update.
func (r *WebhookRepository) RecordSuccess(ctx context.Context, endpointID string, at int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET success_count = success_count + 1, last_triggered_at = ?, last_successful_delivery_at = ?
		WHERE id = ?
	`, at, at, endpointID)
	return err
}

func (r *WebhookRepository) RecordFailure(ctx context.Context, endpointID string, at int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE webhook_endpoints
		SET failure_count = failure_count + 1, last_triggered_at = ?
		WHERE id = ?
	`, at, endpointID)
	return err
}

func (r *WebhookRepository) queryEndpoints(ctx context.Context, query string, args ...interface{}) ([]*models.EndpointSummary, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var endpoints []*models.EndpointSummary
	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// EndpointSecretStore is the only path that reads a signing secret back out of storage.
type EndpointSecretStore struct {
	db  *sql.DB
	box *security.SecretBox
}

func NewEndpointSecretStore(db *sql.DB, box *security.SecretBox) *EndpointSecretStore {
	return &EndpointSecretStore{db: db, box: box}
}

// GetWithSecret loads the endpoint and opens its sealed secret. An empty or
// unreadable secret yields an endpoint with Secret == "" and no error; the
// delivery engine treats that as a missing secret.
func (s *EndpointSecretStore) GetWithSecret(ctx context.Context, endpointID string) (*models.EndpointWithSecret, error) {
	query := `SELECT ` + endpointColumns + `, secret_sealed FROM webhook_endpoints WHERE id = ?`

	var sealed string
	e, err := scanEndpointWith(s.db.QueryRowContext(ctx, query, endpointID), &sealed)
	if err != nil {
		return nil, notFound(err)
	}

	out := &models.EndpointWithSecret{EndpointSummary: *e}
	if sealed != "" {
		if secret, err := s.box.Open(sealed, e.ID); err == nil {
			out.Secret = secret
		}
	}
	return out, nil
}

func encodeEndpoint(e *models.EndpointSummary) (string, string, error) {
	events := e.Events
	if events == nil {
		events = []string{}
	}
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return "", "", err
	}
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		return "", "", err
	}
	return string(eventsJSON), string(headersJSON), nil
}

func scanEndpoint(s scanner) (*models.EndpointSummary, error) {
	return scanEndpointWith(s)
}

func scanEndpointWith(s scanner, extra ...interface{}) (*models.EndpointSummary, error) {
	var e models.EndpointSummary
	var eventsStr, headersStr string
	var subscribeAll, active, testMode int
	var lastTriggeredAt, lastSuccessAt sql.NullInt64

	dest := []interface{}{&e.ID, &e.TenantID, &e.URL, &e.Description, &eventsStr, &subscribeAll, &headersStr,
		&active, &testMode, &e.RetryPolicy.MaxRetries, &e.RetryPolicy.InitialBackoff, &e.SuccessCount, &e.FailureCount,
		&lastTriggeredAt, &lastSuccessAt, &e.CreatedAt, &e.UpdatedAt}
	dest = append(dest, extra...)

	if err := s.Scan(dest...); err != nil {
		return nil, err
	}

	e.SubscribeToAll = subscribeAll == 1
	e.IsActive = active == 1
	e.TestMode = testMode == 1
	e.LastTriggeredAt = nullableInt64(lastTriggeredAt)
	e.LastSuccessfulDeliveryAt = nullableInt64(lastSuccessAt)
	e.Events = decodeStrings(eventsStr)
	if headersStr != "" {
		json.Unmarshal([]byte(headersStr), &e.Headers)
	}
	return &e, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
