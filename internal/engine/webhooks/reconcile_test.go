package webhooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/platform/models"
)

func TestSweep_RecoversFailedFanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	created := f.createEndpoint(t, srv.URL, 5, events.FilingLocked)
	event := f.publish(t, events.FilingLocked)
	f.takeOne(t, events.JobDispatchEvent)

	f.queue.FailWith(errors.New("redis down"))
	err := f.dispatcher.Dispatch(ctx, event.ID)
	require.ErrorContains(t, err, "redis down")
	f.queue.FailWith(nil)

	require.NoError(t, f.dispatcher.Dispatch(ctx, event.ID), "duplicate dispatch job")
	assert.Empty(t, f.queue.Jobs(JobDeliverWebhook))
	stored := f.event(t, event.ID)
	assert.Equal(t, models.EventProcessing, stored.Status)
	assert.Equal(t, []string{created.ID}, stored.TargetEndpointIDs)

	n, err := f.sweeper(time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "recently claimed events are left alone")

	n, err = f.sweeper(-time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs := f.queue.Jobs(JobDeliverWebhook)
	require.Len(t, jobs, 1)
	var job DeliverJob
	require.NoError(t, jobs[0].Decode(&job))
	assert.Equal(t, DeliverJob{EventID: event.ID, EndpointID: created.ID, Attempt: 1}, job)

	f.drain(t)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Equal(t, models.EventDelivered, f.event(t, event.ID).Status)
}

func TestSweep_RecoversLostRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	created := f.createEndpoint(t, srv.URL, 3, events.FilingLocked)
	event := f.publish(t, events.FilingLocked)
	var dispatch events.DispatchJob
	require.NoError(t, f.takeOne(t, events.JobDispatchEvent).Decode(&dispatch))
	require.NoError(t, f.dispatcher.Dispatch(ctx, dispatch.EventID))

	var first DeliverJob
	require.NoError(t, f.takeOne(t, JobDeliverWebhook).Decode(&first))
	f.queue.FailWith(errors.New("redis down"))
	row, err := f.dispatcher.HandleDeliver(ctx, first)
	require.ErrorContains(t, err, "schedule retry")
	require.NotNil(t, row)
	assert.True(t, row.WillRetry)
	f.queue.FailWith(nil)

	f.drain(t)
	assert.Equal(t, models.EventProcessing, f.event(t, event.ID).Status)

	n, err := f.sweeper(time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = f.sweeper(-time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.drain(t)
	rows, err := f.deliveries.ListByEvent(ctx, event.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[1].AttemptNumber)
	assert.Equal(t, models.DeliverySuccess, rows[1].Status)
	assert.Equal(t, created.ID, rows[1].EndpointID)
	assert.Equal(t, models.EventDelivered, f.event(t, event.ID).Status)

	n, err = f.sweeper(-time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "settled events are not swept")
}

func TestSweep_ResumesInterruptedClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	f.createEndpoint(t, srv.URL, 5, events.FilingLocked)
	event := f.publish(t, events.FilingLocked)
	f.takeOne(t, events.JobDispatchEvent)

	// Claimed, then lost before the targets were written.
	claimed, err := f.events.Transition(ctx, event.ID, models.EventProcessing, models.EventPending)
	require.NoError(t, err)
	require.True(t, claimed)

	n, err := f.sweeper(-time.Hour).Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.event(t, event.ID).TargetEndpointIDs, 1)

	f.drain(t)
	assert.Equal(t, models.EventDelivered, f.event(t, event.ID).Status)
}
