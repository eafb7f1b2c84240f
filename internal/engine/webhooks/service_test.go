package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/platform/models"
)

func intPtr(v int) *int { return &v }

func TestCreateEndpoint_SecretShownOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.CreateEndpoint(ctx, testTenant, CreateEndpointInput{
		URL:    "https://hooks.example.com/taxdesk",
		Events: []string{events.FilingLocked, events.FilingLocked, events.InvoicePaid},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Secret, "whsec_"))
	assert.Equal(t, []string{events.FilingLocked, events.InvoicePaid}, created.Events)
	assert.Equal(t, 5, created.RetryPolicy.MaxRetries)
	assert.Equal(t, 2, created.RetryPolicy.InitialBackoff)
	assert.True(t, created.IsActive)

	got, err := f.service.GetEndpoint(ctx, testTenant, created.ID)
	require.NoError(t, err)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), created.Secret)
	assert.NotContains(t, string(raw), `"secret"`)

	list, err := f.service.ListEndpoints(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, list, 1)
	raw, err = json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), created.Secret)

	var sealed string
	require.NoError(t, f.db.QueryRow(`SELECT secret_sealed FROM webhook_endpoints WHERE id = ?`, created.ID).Scan(&sealed))
	assert.NotContains(t, sealed, created.Secret)
}

func TestCreateEndpoint_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		in   CreateEndpointInput
	}{
		{"missing url", CreateEndpointInput{Events: []string{events.FilingLocked}}},
		{"ftp url", CreateEndpointInput{URL: "ftp://hooks.example.com", Events: []string{events.FilingLocked}}},
		{"no events", CreateEndpointInput{URL: "https://hooks.example.com"}},
		{"unknown event", CreateEndpointInput{URL: "https://hooks.example.com", Events: []string{"filing.shredded"}}},
		{"reserved header", CreateEndpointInput{URL: "https://hooks.example.com", Events: []string{events.FilingLocked},
			Headers: map[string]string{"Content-Type": "text/plain"}}},
		{"zero retries", CreateEndpointInput{URL: "https://hooks.example.com", Events: []string{events.FilingLocked},
			MaxRetries: intPtr(0)}},
		{"too many retries", CreateEndpointInput{URL: "https://hooks.example.com", Events: []string{events.FilingLocked},
			MaxRetries: intPtr(11)}},
		{"backoff too long", CreateEndpointInput{URL: "https://hooks.example.com", Events: []string{events.FilingLocked},
			InitialBackoff: intPtr(3601)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.CreateEndpoint(context.Background(), testTenant, tt.in)
			assert.ErrorIs(t, err, ErrInvalidEndpoint)
		})
	}
}

func TestCreateEndpoint_Wildcard(t *testing.T) {
	f := newFixture(t)
	created, err := f.service.CreateEndpoint(context.Background(), testTenant, CreateEndpointInput{
		URL:    "https://hooks.example.com",
		Events: []string{"*"},
	})
	require.NoError(t, err)
	assert.True(t, created.SubscribeToAll)
	assert.Empty(t, created.Events)
}

func TestUpdateEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.createEndpoint(t, "https://hooks.example.com/a", 3, events.FilingLocked)

	url := "https://hooks.example.com/b"
	types := []string{events.ClientCreated}
	updated, err := f.service.UpdateEndpoint(ctx, testTenant, created.ID, UpdateEndpointInput{
		URL:            &url,
		Events:         &types,
		InitialBackoff: intPtr(5),
	})
	require.NoError(t, err)
	assert.Equal(t, url, updated.URL)
	assert.Equal(t, types, updated.Events)
	assert.Equal(t, 3, updated.RetryPolicy.MaxRetries)
	assert.Equal(t, 5, updated.RetryPolicy.InitialBackoff)

	bad := "not a url"
	_, err = f.service.UpdateEndpoint(ctx, testTenant, created.ID, UpdateEndpointInput{URL: &bad})
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	_, err = f.service.UpdateEndpoint(ctx, "tnt_other", created.ID, UpdateEndpointInput{URL: &url})
	assert.ErrorIs(t, err, ErrEndpointNotFound)

	got, err := f.service.GetEndpoint(ctx, testTenant, created.ID)
	require.NoError(t, err)
	assert.Equal(t, url, got.URL)
}

func TestDeleteEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	unused := f.createEndpoint(t, srv.URL, 3, events.ClientCreated)
	deactivated, err := f.service.DeleteEndpoint(ctx, testTenant, unused.ID)
	require.NoError(t, err)
	assert.False(t, deactivated)
	_, err = f.service.GetEndpoint(ctx, testTenant, unused.ID)
	assert.ErrorIs(t, err, ErrEndpointNotFound)

	used := f.createEndpoint(t, srv.URL, 3, events.FilingLocked)
	f.publish(t, events.FilingLocked)
	f.drain(t)

	deactivated, err = f.service.DeleteEndpoint(ctx, testTenant, used.ID)
	require.NoError(t, err)
	assert.True(t, deactivated)
	got, err := f.service.GetEndpoint(ctx, testTenant, used.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	_, err = f.service.DeleteEndpoint(ctx, "tnt_other", used.ID)
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestRetryDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	created := f.createEndpoint(t, srv.URL, 2, events.FilingLocked)
	event := f.publish(t, events.FilingLocked)
	f.drain(t)
	assert.Equal(t, models.EventFailed, f.event(t, event.ID).Status)

	rows, err := f.deliveries.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	healthy.Store(true)
	scheduled, err := f.service.RetryDelivery(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, scheduled.Attempt)
	assert.Equal(t, created.ID, scheduled.EndpointID)
	assert.NotEmpty(t, scheduled.JobID)
	f.drain(t)

	rows, err = f.deliveries.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, models.DeliverySuccess, rows[2].Status)
	assert.False(t, rows[2].WillRetry)
	assert.Equal(t, models.EventDelivered, f.event(t, event.ID).Status)

	_, err = f.service.RetryDelivery(ctx, testTenant, rows[2].ID)
	assert.ErrorIs(t, err, ErrDeliveryAlreadySucceeded)
	_, err = f.service.RetryDelivery(ctx, testTenant, rows[0].ID)
	assert.ErrorIs(t, err, ErrDeliveryAlreadySucceeded)
	_, err = f.service.RetryDelivery(ctx, testTenant, "dlv_missing")
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
	_, err = f.service.RetryDelivery(ctx, "tnt_other", rows[0].ID)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestRetryDelivery_ManualAttemptDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f.createEndpoint(t, srv.URL, 1, events.FilingLocked)
	event := f.publish(t, events.FilingLocked)
	f.drain(t)

	rows, err := f.deliveries.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = f.service.RetryDelivery(ctx, testTenant, rows[0].ID)
	require.NoError(t, err)
	f.drain(t)

	rows, err = f.deliveries.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[1].AttemptNumber)
	assert.False(t, rows[1].WillRetry)
	assert.Equal(t, models.EventFailed, f.event(t, event.ID).Status)
}

func TestRetryDelivery_InactiveEndpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	created := f.createEndpoint(t, srv.URL, 1, events.FilingLocked)
	event := f.publish(t, events.FilingLocked)
	f.drain(t)

	_, err := f.service.DeleteEndpoint(ctx, testTenant, created.ID)
	require.NoError(t, err)

	rows, err := f.deliveries.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	_, err = f.service.RetryDelivery(ctx, testTenant, rows[0].ID)
	assert.ErrorIs(t, err, ErrEndpointInactive)
}

func TestListDeliveriesAndEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	created := f.createEndpoint(t, srv.URL, 3, events.FilingLocked, events.InvoicePaid)
	first := f.publish(t, events.FilingLocked)
	f.publish(t, events.InvoicePaid)
	f.drain(t)

	deliveries, err := f.service.ListDeliveries(ctx, testTenant, created.ID, models.DeliverySuccess, 10, 0)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2)

	deliveries, err = f.service.ListDeliveries(ctx, testTenant, created.ID, models.DeliveryFailed, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	_, err = f.service.ListDeliveries(ctx, testTenant, created.ID, "bounced", 10, 0)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)

	list, err := f.service.ListEvents(ctx, testTenant, models.EventDelivered, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := f.service.GetEvent(ctx, testTenant, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, got.TargetEndpointIDs)

	perEvent, err := f.service.ListEventDeliveries(ctx, testTenant, first.ID)
	require.NoError(t, err)
	require.Len(t, perEvent, 1)
	assert.Equal(t, first.ID, perEvent[0].EventID)

	_, err = f.service.GetEvent(ctx, "tnt_other", first.ID)
	assert.ErrorIs(t, err, events.ErrEventNotFound)
}
