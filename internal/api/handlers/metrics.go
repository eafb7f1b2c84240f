package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"taxdesk/internal/platform/metrics"
)

type MetricsHandler struct {
	handler http.Handler
}

func NewMetricsHandler(g prometheus.Gatherer) *MetricsHandler {
	return &MetricsHandler{handler: metrics.Handler(g)}
}

func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}
