package api

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog"
	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/api/handlers"
	"taxdesk/internal/api/middleware"
	"taxdesk/internal/pkg/errors"
	"taxdesk/internal/platform/auth"
	"taxdesk/internal/platform/metrics"
)

type Dependencies struct {
	WebhookHandler   *handlers.WebhookHandler
	EventHandler     *handlers.EventHandler
	FilingHandler    *handlers.FilingHandler
	HealthHandler    *handlers.HealthHandler
	MetricsHandler   *handlers.MetricsHandler
	AuthMiddleware   *middleware.AuthMiddleware
	TenantMiddleware *middleware.TenantMiddleware
	RateLimiter      *middleware.RateLimiter
	Metrics          *metrics.Metrics
	Logger           zerolog.Logger
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()

	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	read := deps.RateLimiter.Limit("api_read")
	write := deps.RateLimiter.Limit("api_write")
	// route records every request under its path pattern, rejected ones included.
	route := func(path string, h http.HandlerFunc, mws ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
		instrument := func(next http.HandlerFunc) http.HandlerFunc { return deps.Metrics.Instrument(path, next) }
		return chain(h, append([]func(http.HandlerFunc) http.HandlerFunc{instrument}, mws...)...)
	}

	// Operational
	router.GET("/health", route("/health", deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Webhook endpoints
	router.POST("/api/v1/webhooks",
		route("/api/v1/webhooks", deps.WebhookHandler.Create, authMid.Handle, tenantMid.Handle, write, requireRole("admin", "owner")))
	router.GET("/api/v1/webhooks",
		route("/api/v1/webhooks", deps.WebhookHandler.List, authMid.Handle, tenantMid.Handle, read))
	router.GET("/api/v1/webhooks/:endpoint_id",
		route("/api/v1/webhooks/:endpoint_id", deps.WebhookHandler.Get, authMid.Handle, tenantMid.Handle, read))
	router.PATCH("/api/v1/webhooks/:endpoint_id",
		route("/api/v1/webhooks/:endpoint_id", deps.WebhookHandler.Update, authMid.Handle, tenantMid.Handle, write, requireRole("admin", "owner")))
	router.DELETE("/api/v1/webhooks/:endpoint_id",
		route("/api/v1/webhooks/:endpoint_id", deps.WebhookHandler.Delete, authMid.Handle, tenantMid.Handle, write, requireRole("admin", "owner")))
	router.POST("/api/v1/webhooks/:endpoint_id/test",
		route("/api/v1/webhooks/:endpoint_id/test", deps.WebhookHandler.Test, authMid.Handle, tenantMid.Handle, deps.RateLimiter.Limit("test_delivery")))
	router.GET("/api/v1/webhooks/:endpoint_id/deliveries",
		route("/api/v1/webhooks/:endpoint_id/deliveries", deps.WebhookHandler.Deliveries, authMid.Handle, tenantMid.Handle, read))
	router.GET("/api/v1/webhooks/:endpoint_id/stats",
		route("/api/v1/webhooks/:endpoint_id/stats", deps.WebhookHandler.Stats, authMid.Handle, tenantMid.Handle, read))

	// Event log
	router.GET("/api/v1/events",
		route("/api/v1/events", deps.EventHandler.List, authMid.Handle, tenantMid.Handle, read))
	router.GET("/api/v1/events/:event_id",
		route("/api/v1/events/:event_id", deps.EventHandler.Get, authMid.Handle, tenantMid.Handle, read))
	router.GET("/api/v1/events/:event_id/deliveries",
		route("/api/v1/events/:event_id/deliveries", deps.EventHandler.Deliveries, authMid.Handle, tenantMid.Handle, read))
	router.POST("/api/v1/deliveries/:delivery_id/retry",
		route("/api/v1/deliveries/:delivery_id/retry", deps.EventHandler.RetryDelivery, authMid.Handle, tenantMid.Handle, write))

	// Filing workflow
	router.POST("/api/v1/filings",
		route("/api/v1/filings", deps.FilingHandler.Create, authMid.Handle, tenantMid.Handle, write))
	router.GET("/api/v1/filings/:filing_id",
		route("/api/v1/filings/:filing_id", deps.FilingHandler.Get, authMid.Handle, tenantMid.Handle, read))
	router.POST("/api/v1/filings/:filing_id/transitions/:action",
		route("/api/v1/filings/:filing_id/transitions/:action", deps.FilingHandler.Transition, authMid.Handle, tenantMid.Handle, write))
	router.GET("/api/v1/filings/:filing_id/history",
		route("/api/v1/filings/:filing_id/history", deps.FilingHandler.History, authMid.Handle, tenantMid.Handle, read))

	return middleware.AccessLog(deps.Logger)(router)
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

			allowed := false
			for _, role := range roles {
				if claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
