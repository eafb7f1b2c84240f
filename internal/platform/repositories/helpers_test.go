package repositories

import (
	"context"
	"database/sql"
	"testing"

	"taxdesk/internal/platform/database"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/security"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.OpenMemory(context.Background())
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestBox(t *testing.T) *security.SecretBox {
	t.Helper()
	box, err := security.NewSecretBox(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSecretBox() error = %v", err)
	}
	return box
}

func seedEndpoint(t *testing.T, repo *WebhookRepository, tenantID string, events ...string) *models.EndpointSummary {
	t.Helper()
	ep := &models.EndpointSummary{
		TenantID:    tenantID,
		URL:         "https://hooks.example.com/taxdesk",
		Events:      events,
		IsActive:    true,
		RetryPolicy: models.RetryPolicy{MaxRetries: 3, InitialBackoff: 2},
	}
	if err := repo.Create(context.Background(), ep, "whsec_test"); err != nil {
		t.Fatalf("Create endpoint: %v", err)
	}
	return ep
}

func seedEvent(t *testing.T, repo *EventRepository, tenantID, correlationID string) *models.WebhookEvent {
	t.Helper()
	ev := &models.WebhookEvent{
		TenantID:      tenantID,
		EventType:     "filing.status_changed",
		EntityType:    "filing",
		EntityID:      "flg_1",
		Payload:       []byte(`{"previousStatus":"draft","newStatus":"prepared"}`),
		CorrelationID: correlationID,
		Source:        "workflow",
	}
	if err := repo.Create(context.Background(), ev); err != nil {
		t.Fatalf("Create event: %v", err)
	}
	return ev
}
