package handlers

import (
	"net/http"

	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/api/middleware"
	"taxdesk/internal/engine/webhooks"
	"taxdesk/internal/pkg/errors"
	"taxdesk/internal/platform/models"
)

// EventHandler exposes the event log and manual delivery retries.
type EventHandler struct {
	service *webhooks.Service
}

func NewEventHandler(service *webhooks.Service) *EventHandler {
	return &EventHandler{service: service}
}

func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	limit, offset := pagination(r)

	status := models.EventStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Unknown event status", nil)
		return
	}

	list, err := h.service.ListEvents(r.Context(), tenant.TenantID, status, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.WebhookEvent{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	event, err := h.service.GetEvent(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "event_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *EventHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	deliveries, err := h.service.ListEventDeliveries(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "event_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

// RetryDelivery schedules one more attempt for a failed delivery.
func (h *EventHandler) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	scheduled, err := h.service.RetryDelivery(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "delivery_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, scheduled)
}
