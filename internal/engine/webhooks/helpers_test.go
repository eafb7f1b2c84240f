package webhooks

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/platform/database"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/queue"
	"taxdesk/internal/platform/repositories"
	"taxdesk/internal/platform/security"
)

const testTenant = "tnt_a"

type fixture struct {
	db         *sql.DB
	endpoints  *repositories.WebhookRepository
	events     *repositories.EventRepository
	deliveries *repositories.DeliveryRepository
	queue      *queue.MemoryQueue
	metrics    *metrics.Metrics
	publisher  *events.Publisher
	dispatcher *Dispatcher
	service    *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	box, err := security.NewSecretBox(make([]byte, 32))
	require.NoError(t, err)

	f := &fixture{
		db:         db,
		endpoints:  repositories.NewWebhookRepository(db, box),
		events:     repositories.NewEventRepository(db),
		deliveries: repositories.NewDeliveryRepository(db),
		queue:      queue.NewMemoryQueue(),
		metrics:    metrics.New(prometheus.NewRegistry(), "test"),
	}
	f.publisher = events.NewPublisher(f.events, f.queue, "webhooks", f.metrics)
	f.dispatcher = NewDispatcher(DispatcherDeps{
		Endpoints:  f.endpoints,
		Secrets:    repositories.NewEndpointSecretStore(db, box),
		Events:     f.events,
		Deliveries: f.deliveries,
		Queue:      f.queue,
		Metrics:    f.metrics,
	}, DispatcherOptions{QueueName: "webhooks", Timeout: 2 * time.Second})
	f.service = NewService(f.endpoints, f.events, f.deliveries, f.dispatcher, f.queue, "webhooks",
		models.RetryPolicy{MaxRetries: 5, InitialBackoff: 2})
	return f
}

func (f *fixture) createEndpoint(t *testing.T, url string, maxRetries int, eventTypes ...string) *models.EndpointCreated {
	t.Helper()
	created, err := f.service.CreateEndpoint(context.Background(), testTenant, CreateEndpointInput{
		URL:        url,
		Events:     eventTypes,
		MaxRetries: &maxRetries,
	})
	require.NoError(t, err)
	return created
}

func (f *fixture) publish(t *testing.T, eventType string) *models.WebhookEvent {
	t.Helper()
	event, err := f.publisher.Publish(context.Background(), events.PublishRequest{
		TenantID:   testTenant,
		EventType:  eventType,
		EntityType: "filing",
		EntityID:   "flg_1",
		Payload:    map[string]string{"previousStatus": "filed", "newStatus": "locked"},
		Source:     "workflow",
	})
	require.NoError(t, err)
	return event
}

// drain runs queued jobs until the queue is empty, promoting delayed retries
// immediately.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		f.queue.PromoteDue(ctx, "webhooks", time.Now().Add(1000*time.Hour))
		jobs := f.queue.Drain("webhooks")
		if len(jobs) == 0 {
			return
		}
		for _, job := range jobs {
			switch job.Name {
			case events.JobDispatchEvent:
				var p events.DispatchJob
				require.NoError(t, job.Decode(&p))
				require.NoError(t, f.dispatcher.Dispatch(ctx, p.EventID))
			case JobDeliverWebhook:
				var p DeliverJob
				require.NoError(t, job.Decode(&p))
				f.dispatcher.HandleDeliver(ctx, p)
			}
		}
	}
	t.Fatal("queue did not drain")
}

func (f *fixture) event(t *testing.T, eventID string) *models.WebhookEvent {
	t.Helper()
	event, err := f.events.Get(context.Background(), eventID)
	require.NoError(t, err)
	return event
}

func (f *fixture) sweeper(threshold time.Duration) *events.Sweeper {
	return events.NewSweeper(f.events, f.publisher, f.dispatcher, threshold, f.metrics)
}

// takeOne removes the single ready job of the queue.
func (f *fixture) takeOne(t *testing.T, jobName string) *queue.Job {
	t.Helper()
	jobs := f.queue.Drain("webhooks")
	require.Len(t, jobs, 1)
	require.Equal(t, jobName, jobs[0].Name)
	return jobs[0]
}
