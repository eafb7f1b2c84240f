package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taxdesk/internal/platform/models"
)

func TestDeliveryRepository_AttemptLifecycle(t *testing.T) {
	db := newTestDB(t)
	endpoints := NewWebhookRepository(db, newTestBox(t))
	events := NewEventRepository(db)
	repo := NewDeliveryRepository(db)
	ctx := context.Background()

	ep := seedEndpoint(t, endpoints, "tnt_a")
	ev := seedEvent(t, events, "tnt_a", "cor_1")

	latest, err := repo.LatestAttempt(ctx, ev.ID, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, latest)

	code := 500
	next := int64(1700000002)
	first := &models.WebhookDelivery{
		TenantID: "tnt_a", EventID: ev.ID, EndpointID: ep.ID, AttemptNumber: 1,
		RequestPayload: []byte(`{"id":"x"}`), Signature: "sha256=ab", Status: models.DeliveryFailed,
		HTTPStatusCode: &code, ResponseBody: "boom", WillRetry: true, NextRetryAt: &next,
	}
	require.NoError(t, repo.Create(ctx, first))

	dup := *first
	dup.ID = ""
	assert.ErrorIs(t, repo.Create(ctx, &dup), ErrDuplicate)

	ok := 200
	require.NoError(t, repo.Create(ctx, &models.WebhookDelivery{
		TenantID: "tnt_a", EventID: ev.ID, EndpointID: ep.ID, AttemptNumber: 2,
		Status: models.DeliverySuccess, HTTPStatusCode: &ok,
	}))

	exists, err := repo.AttemptExists(ctx, ev.ID, ep.ID, 2)
	require.NoError(t, err)
	assert.True(t, exists)

	success, err := repo.HasSuccess(ctx, ev.ID, ep.ID)
	require.NoError(t, err)
	assert.True(t, success)

	latest, err = repo.LatestAttempt(ctx, ev.ID, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest)

	last, err := repo.Latest(ctx, ev.ID, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeliverySuccess, last.Status)

	_, err = repo.Latest(ctx, ev.ID, "wh_other")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := repo.GetByID(ctx, "tnt_a", first.ID)
	require.NoError(t, err)
	require.NotNil(t, got.HTTPStatusCode)
	assert.Equal(t, 500, *got.HTTPStatusCode)
	assert.True(t, got.WillRetry)
	assert.Equal(t, next, *got.NextRetryAt)

	byEvent, err := repo.ListByEvent(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, byEvent, 2)
	assert.Equal(t, 1, byEvent[0].AttemptNumber)

	failed, err := repo.ListByEndpoint(ctx, "tnt_a", ep.ID, models.DeliveryFailed, 50, 0)
	require.NoError(t, err)
	assert.Len(t, failed, 1)

	counts, err := repo.CountByStatus(ctx, ep.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[models.DeliverySuccess])
	assert.EqualValues(t, 1, counts[models.DeliveryFailed])
}
