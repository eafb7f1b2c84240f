package handlers

import (
	"net/http"

	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/api/middleware"
	"taxdesk/internal/engine/webhooks"
	"taxdesk/internal/platform/models"
)

type WebhookHandler struct {
	service *webhooks.Service
}

func NewWebhookHandler(service *webhooks.Service) *WebhookHandler {
	return &WebhookHandler{service: service}
}

// Create registers an endpoint. The response is the only one that carries the secret.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req webhooks.CreateEndpointInput
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.service.CreateEndpoint(r.Context(), tenant.TenantID, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	endpoints, err := h.service.ListEndpoints(r.Context(), tenant.TenantID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if endpoints == nil {
		endpoints = []*models.EndpointSummary{}
	}
	writeJSON(w, http.StatusOK, endpoints)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	endpoint, err := h.service.GetEndpoint(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "endpoint_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoint)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	var req webhooks.UpdateEndpointInput
	if !decodeBody(w, r, &req) {
		return
	}

	endpoint, err := h.service.UpdateEndpoint(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "endpoint_id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, endpoint)
}

// Delete removes an unused endpoint or deactivates one with delivery history.
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	deactivated, err := h.service.DeleteEndpoint(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "endpoint_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if deactivated {
		writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": false, "deactivated": true})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test sends a synthetic signed payload and reports the receiver's answer.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	result, err := h.service.TestEndpoint(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "endpoint_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *WebhookHandler) Deliveries(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())
	limit, offset := pagination(r)
	status := models.DeliveryStatus(r.URL.Query().Get("status"))

	deliveries, err := h.service.ListDeliveries(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "endpoint_id"),
		status, limit, offset)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if deliveries == nil {
		deliveries = []*models.WebhookDelivery{}
	}
	writeJSON(w, http.StatusOK, deliveries)
}

func (h *WebhookHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFrom(r.Context())

	stats, err := h.service.Stats(r.Context(), tenant.TenantID, apiContext.Param(r.Context(), "endpoint_id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
