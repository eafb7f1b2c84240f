package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"taxdesk/internal/engine/events"
	"taxdesk/internal/pkg/id"
	"taxdesk/internal/pkg/validator"
	"taxdesk/internal/platform/metrics"
	"taxdesk/internal/platform/models"
	"taxdesk/internal/platform/queue"
	"taxdesk/internal/platform/repositories"
)

const JobDeliverWebhook = "deliver_webhook"

const (
	HeaderSignature     = "X-Taxdesk-Signature"
	HeaderEvent         = "X-Taxdesk-Event"
	HeaderEventID       = "X-Taxdesk-Event-Id"
	HeaderTimestamp     = "X-Taxdesk-Timestamp"
	HeaderAttempt       = "X-Taxdesk-Attempt"
	HeaderCorrelationID = "X-Taxdesk-Correlation-Id"

	userAgent = "taxdesk-webhooks/1.0"
)

var (
	ErrDeliveryNetwork = errors.New("webhook delivery failed")
	ErrSecretMissing   = errors.New("endpoint signing secret missing")
)

// DeliverJob is the payload of a deliver_webhook job.
type DeliverJob struct {
	EventID    string `json:"event_id"`
	EndpointID string `json:"endpoint_id"`
	Attempt    int    `json:"attempt"`
}

// Payload is the canonical body POSTed to subscribers.
type Payload struct {
	ID            string          `json:"id"`
	EventType     string          `json:"eventType"`
	Timestamp     string          `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
	EntityType    string          `json:"entityType"`
	EntityID      string          `json:"entityId"`
	CorrelationID string          `json:"correlationId"`
}

type TestResult struct {
	Success        bool   `json:"success"`
	StatusCode     int    `json:"status_code,omitempty"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	Error          string `json:"error,omitempty"`
}

type DispatcherOptions struct {
	QueueName        string
	Timeout          time.Duration
	MaxResponseBytes int64
}

type Dispatcher struct {
	endpoints  *repositories.WebhookRepository
	secrets    *repositories.EndpointSecretStore
	events     *repositories.EventRepository
	deliveries *repositories.DeliveryRepository
	resolver   *Resolver
	queue      queue.Queue
	client     *http.Client
	metrics    *metrics.Metrics
	opts       DispatcherOptions
	now        func() time.Time
}

type DispatcherDeps struct {
	Endpoints  *repositories.WebhookRepository
	Secrets    *repositories.EndpointSecretStore
	Events     *repositories.EventRepository
	Deliveries *repositories.DeliveryRepository
	Queue      queue.Queue
	Metrics    *metrics.Metrics
}

func NewDispatcher(deps DispatcherDeps, opts DispatcherOptions) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxResponseBytes <= 0 {
		opts.MaxResponseBytes = 64 * 1024
	}
	if opts.QueueName == "" {
		opts.QueueName = "webhooks"
	}
	return &Dispatcher{
		endpoints:  deps.Endpoints,
		secrets:    deps.Secrets,
		events:     deps.Events,
		deliveries: deps.Deliveries,
		resolver:   NewResolver(deps.Endpoints),
		queue:      deps.Queue,
		client:     &http.Client{Timeout: opts.Timeout},
		metrics:    deps.Metrics,
		opts:       opts,
		now:        time.Now,
	}
}

// Dispatch claims a pending event, records the endpoints it fans out to and
// enqueues the first delivery attempt for each of them. A duplicate job for an
// event that already has targets is a no-op; one for an event whose fan-out
// was interrupted before targets were recorded resumes it. Attempts lost to a
// queue failure after that are recovered by Reconcile.
func (d *Dispatcher) Dispatch(ctx context.Context, eventID string) error {
	event, err := d.loadEvent(ctx, eventID)
	if err != nil {
		return err
	}

	claimed, err := d.events.Transition(ctx, event.ID, models.EventProcessing, models.EventPending)
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	if !claimed {
		if event, err = d.loadEvent(ctx, eventID); err != nil {
			return err
		}
		if event.Status != models.EventProcessing || event.TargetEndpointIDs != nil {
			log.Debug().Str("event_id", event.ID).Str("status", string(event.Status)).Msg("event already dispatched")
			return nil
		}
	}

	_, err = d.fanOut(ctx, event, 0)
	return err
}

// Reconcile re-drives an event left in processing after a queue failure. It
// enqueues missing first attempts, and the next attempt for targets whose
// retry was due before retryBefore but never ran. It returns the number of
// jobs enqueued.
func (d *Dispatcher) Reconcile(ctx context.Context, eventID string, retryBefore time.Time) (int, error) {
	event, err := d.loadEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	if event.Status != models.EventProcessing {
		return 0, nil
	}

	n, err := d.fanOut(ctx, event, retryBefore.Unix())
	if err != nil {
		return n, err
	}
	if err := d.events.Touch(ctx, event.ID); err != nil {
		return n, fmt.Errorf("touch event: %w", err)
	}
	return n, d.refreshEventStatus(ctx, event.ID)
}

// fanOut records the targets of a processing event when they are not yet
// known and enqueues every attempt that is owed but has no job. Retries are
// only re-enqueued when retryCutoff is set and their run time is before it.
func (d *Dispatcher) fanOut(ctx context.Context, event *models.WebhookEvent, retryCutoff int64) (int, error) {
	logger := log.With().Str("tenant_id", event.TenantID).Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).Logger()

	targets := event.TargetEndpointIDs
	if targets == nil {
		endpoints, err := d.resolver.Resolve(ctx, event.TenantID, event.EventType)
		if err != nil {
			return 0, fmt.Errorf("resolve subscribers: %w", err)
		}
		ids := make([]string, 0, len(endpoints))
		for _, ep := range endpoints {
			ids = append(ids, ep.ID)
		}
		if err := d.events.SetTargets(ctx, event.ID, ids); err != nil {
			return 0, fmt.Errorf("record targets: %w", err)
		}
		// Targets are written once; a concurrent dispatch may have won.
		stored, err := d.loadEvent(ctx, event.ID)
		if err != nil {
			return 0, err
		}
		targets = stored.TargetEndpointIDs
	}

	if len(targets) == 0 {
		if _, err := d.events.Transition(ctx, event.ID, models.EventDelivered, models.EventProcessing); err != nil {
			return 0, fmt.Errorf("complete event: %w", err)
		}
		logger.Info().Msg("no subscribers; event delivered")
		return 0, nil
	}

	enqueued := 0
	var firstErr error
	for _, endpointID := range targets {
		attempt, owed, err := d.owedAttempt(ctx, event, endpointID, retryCutoff)
		if err != nil {
			return enqueued, err
		}
		if !owed {
			continue
		}
		job := DeliverJob{EventID: event.ID, EndpointID: endpointID, Attempt: attempt}
		if _, err := d.queue.Enqueue(ctx, d.opts.QueueName, JobDeliverWebhook, job, queue.EnqueueOptions{}); err != nil {
			logger.Error().Err(err).Str("endpoint_id", endpointID).Int("attempt", attempt).Msg("could not enqueue delivery")
			if firstErr == nil {
				firstErr = fmt.Errorf("enqueue delivery for %s: %w", endpointID, err)
			}
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		logger.Info().Int("endpoints", len(targets)).Int("enqueued", enqueued).Msg("event dispatched")
	}
	return enqueued, firstErr
}

// owedAttempt reports which attempt, if any, the endpoint is owed for event
// without a job having been enqueued for it.
func (d *Dispatcher) owedAttempt(ctx context.Context, event *models.WebhookEvent, endpointID string, retryCutoff int64) (int, bool, error) {
	endpoint, err := d.endpoints.GetByID(ctx, event.TenantID, endpointID)
	if repositories.IsNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !endpoint.IsActive {
		return 0, false, nil
	}

	latest, err := d.deliveries.Latest(ctx, event.ID, endpointID)
	if repositories.IsNotFound(err) {
		return 1, true, nil
	}
	if err != nil {
		return 0, false, err
	}
	if latest.Status == models.DeliverySuccess || !latest.WillRetry || retryCutoff == 0 {
		return 0, false, nil
	}
	if latest.NextRetryAt != nil && *latest.NextRetryAt > retryCutoff {
		return 0, false, nil
	}
	return latest.AttemptNumber + 1, true, nil
}

func (d *Dispatcher) loadEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	event, err := d.events.Get(ctx, eventID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", events.ErrEventNotFound, eventID)
		}
		return nil, err
	}
	return event, nil
}

// HandleDeliver runs one queued delivery attempt. Jobs for attempts that
// already ran, or for endpoints that already succeeded, are no-ops.
func (d *Dispatcher) HandleDeliver(ctx context.Context, job DeliverJob) (*models.WebhookDelivery, error) {
	if job.Attempt < 1 {
		job.Attempt = 1
	}
	logger := log.With().Str("event_id", job.EventID).Str("endpoint_id", job.EndpointID).Int("attempt", job.Attempt).Logger()

	exists, err := d.deliveries.AttemptExists(ctx, job.EventID, job.EndpointID, job.Attempt)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Debug().Msg("attempt already recorded")
		return nil, nil
	}
	succeeded, err := d.deliveries.HasSuccess(ctx, job.EventID, job.EndpointID)
	if err != nil {
		return nil, err
	}
	if succeeded {
		logger.Debug().Msg("endpoint already received event")
		return nil, nil
	}

	event, err := d.loadEvent(ctx, job.EventID)
	if err != nil {
		return nil, err
	}

	endpoint, err := d.secrets.GetWithSecret(ctx, job.EndpointID)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, err
	}
	if endpoint == nil || !endpoint.IsActive {
		logger.Info().Msg("endpoint removed or inactive; delivery dropped")
		return nil, d.refreshEventStatus(ctx, event.ID)
	}

	return d.Deliver(ctx, event, endpoint, job.Attempt)
}

// Deliver signs and POSTs one attempt of event to endpoint, records the
// outcome and schedules the next attempt when the retry policy allows it.
func (d *Dispatcher) Deliver(ctx context.Context, event *models.WebhookEvent, endpoint *models.EndpointWithSecret, attempt int) (*models.WebhookDelivery, error) {
	logger := log.With().Str("tenant_id", event.TenantID).Str("event_id", event.ID).
		Str("endpoint_id", endpoint.ID).Int("attempt", attempt).Str("correlation_id", event.CorrelationID).Logger()

	body, err := json.Marshal(Payload{
		ID:            event.ID,
		EventType:     event.EventType,
		Timestamp:     time.Unix(event.CreatedAt, 0).UTC().Format(time.RFC3339),
		Data:          event.Payload,
		EntityType:    event.EntityType,
		EntityID:      event.EntityID,
		CorrelationID: event.CorrelationID,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	delivery := &models.WebhookDelivery{
		TenantID:       event.TenantID,
		EventID:        event.ID,
		EndpointID:     endpoint.ID,
		AttemptNumber:  attempt,
		RequestPayload: body,
	}

	if endpoint.Secret == "" {
		delivery.Status = models.DeliveryFailed
		delivery.ErrorMessage = ErrSecretMissing.Error()
		delivery.CreatedAt = d.now().Unix()
		if err := d.record(ctx, delivery); err != nil {
			return nil, err
		}
		logger.Error().Msg("endpoint has no signing secret; delivery aborted")
		return delivery, ErrSecretMissing
	}

	delivery.Signature = SignatureHeader(endpoint.Secret, body)
	res := d.send(ctx, endpoint.URL, endpoint.Headers, delivery.Signature, event.EventType, event.ID,
		event.CorrelationID, attempt, body)

	now := d.now()
	delivery.CreatedAt = now.Unix()
	delivery.Status = res.status
	delivery.ResponseTimeMs = res.elapsed.Milliseconds()
	delivery.ResponseBody = res.body
	delivery.ErrorMessage = res.errMsg
	if res.statusCode > 0 {
		code := res.statusCode
		delivery.HTTPStatusCode = &code
	}

	var next time.Duration
	if delivery.Status != models.DeliverySuccess && attempt < maxRetries(endpoint.RetryPolicy) {
		next = RetryDelay(endpoint.RetryPolicy.InitialBackoff, attempt)
		at := now.Add(next).Unix()
		delivery.WillRetry = true
		delivery.NextRetryAt = &at
	}

	if err := d.record(ctx, delivery); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			logger.Debug().Msg("attempt recorded concurrently")
			return nil, nil
		}
		return nil, err
	}
	d.metrics.RecordDelivery(string(delivery.Status), res.elapsed)

	if delivery.WillRetry {
		job := DeliverJob{EventID: event.ID, EndpointID: endpoint.ID, Attempt: attempt + 1}
		if _, err := d.queue.Enqueue(ctx, d.opts.QueueName, JobDeliverWebhook, job, queue.EnqueueOptions{Delay: next}); err != nil {
			logger.Error().Err(err).Msg("could not schedule retry")
			return delivery, fmt.Errorf("schedule retry: %w", err)
		}
		d.metrics.RecordRetryScheduled()
	}

	ev := logger.Info()
	if delivery.Status != models.DeliverySuccess {
		ev = logger.Warn()
	}
	ev.Str("status", string(delivery.Status)).Int64("response_time_ms", delivery.ResponseTimeMs).
		Bool("will_retry", delivery.WillRetry).Msg("webhook delivery attempted")

	if delivery.Status != models.DeliverySuccess {
		return delivery, fmt.Errorf("%w: %s", ErrDeliveryNetwork, delivery.ErrorMessage)
	}
	return delivery, nil
}

// record stores the attempt row, bumps the endpoint counters and recomputes
// the event status.
func (d *Dispatcher) record(ctx context.Context, delivery *models.WebhookDelivery) error {
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return err
	}

	var err error
	if delivery.Status == models.DeliverySuccess {
		err = d.endpoints.RecordSuccess(ctx, delivery.EndpointID, delivery.CreatedAt)
	} else {
		err = d.endpoints.RecordFailure(ctx, delivery.EndpointID, delivery.CreatedAt)
	}
	if err != nil {
		return fmt.Errorf("update endpoint stats: %w", err)
	}
	return d.refreshEventStatus(ctx, delivery.EventID)
}

// TestEndpoint sends a synthetic signed payload to the endpoint. Nothing is
// stored and endpoint statistics are left untouched.
func (d *Dispatcher) TestEndpoint(ctx context.Context, tenantID, endpointID string) (*TestResult, error) {
	if _, err := d.endpoints.GetByID(ctx, tenantID, endpointID); err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrEndpointNotFound
		}
		return nil, err
	}
	endpoint, err := d.secrets.GetWithSecret(ctx, endpointID)
	if err != nil {
		return nil, err
	}
	if endpoint.Secret == "" {
		return &TestResult{Success: false, Error: ErrSecretMissing.Error()}, nil
	}

	eventID := id.New("test")
	correlationID := id.Correlation()
	data, _ := json.Marshal(map[string]any{
		"testMode": true,
		"message":  "Test delivery from taxdesk",
	})
	body, err := json.Marshal(Payload{
		ID:            eventID,
		EventType:     "*",
		Timestamp:     d.now().UTC().Format(time.RFC3339),
		Data:          data,
		EntityType:    "webhook_endpoint",
		EntityID:      endpoint.ID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}

	res := d.send(ctx, endpoint.URL, endpoint.Headers, SignatureHeader(endpoint.Secret, body), "*", eventID,
		correlationID, 1, body)

	result := &TestResult{
		Success:        res.status == models.DeliverySuccess,
		StatusCode:     res.statusCode,
		ResponseTimeMs: res.elapsed.Milliseconds(),
	}
	if !result.Success {
		result.Error = res.errMsg
	}
	log.Info().Str("tenant_id", tenantID).Str("endpoint_id", endpointID).Bool("success", result.Success).
		Msg("test delivery sent")
	return result, nil
}

type sendResult struct {
	status     models.DeliveryStatus
	statusCode int
	body       string
	errMsg     string
	elapsed    time.Duration
}

func (d *Dispatcher) send(ctx context.Context, target string, custom map[string]string, signature, eventType, eventID,
	correlationID string, attempt int, body []byte) sendResult {
	if err := validator.ValidateWebhookURL(target); err != nil {
		return sendResult{status: models.DeliveryInvalidURL, errMsg: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return sendResult{status: models.DeliveryInvalidURL, errMsg: err.Error()}
	}

	for k, v := range custom {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderEvent, eventType)
	req.Header.Set(HeaderEventID, eventID)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(d.now().Unix(), 10))
	req.Header.Set(HeaderAttempt, strconv.Itoa(attempt))
	req.Header.Set(HeaderCorrelationID, correlationID)

	start := time.Now()
	resp, err := d.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return sendResult{status: classify(err), errMsg: err.Error(), elapsed: elapsed}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxResponseBytes))
	res := sendResult{statusCode: resp.StatusCode, body: string(raw), elapsed: elapsed}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		res.status = models.DeliverySuccess
	} else {
		res.status = models.DeliveryFailed
		res.errMsg = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}
	return res
}

// classify maps a transport error onto a delivery status. Malformed URLs never
// reach the transport; send rejects them up front.
func classify(err error) models.DeliveryStatus {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return models.DeliveryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.DeliveryTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.DeliveryInvalidURL
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.DeliveryInvalidURL
	}
	return models.DeliveryFailed
}

// RetryDelay is initialBackoff × initialBackoff^(attempt-1) seconds. The base of
// the exponent is the configured backoff itself, not 2, so delays grow very
// quickly for backoffs above 2. Only overflow is clamped.
func RetryDelay(initialBackoff, attempt int) time.Duration {
	if initialBackoff < 1 {
		initialBackoff = 2
	}
	if attempt < 1 {
		attempt = 1
	}
	b := float64(initialBackoff)
	seconds := b * math.Pow(b, float64(attempt-1))
	if seconds >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(seconds * float64(time.Second))
}

func maxRetries(p models.RetryPolicy) int {
	if p.MaxRetries < 1 {
		return 1
	}
	return p.MaxRetries
}
