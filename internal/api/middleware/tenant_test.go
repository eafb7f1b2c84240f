package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/platform/auth"
)

func TestTenantMiddleware(t *testing.T) {
	middleware := NewTenantMiddleware()

	t.Run("Valid Tenant", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/", nil)
		claims := &auth.Claims{TenantID: "tnt_123", UserID: "usr_1", Role: "admin"}
		req = req.WithContext(context.WithValue(req.Context(), apiContext.Claims, claims))

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			tenant := TenantFrom(r.Context())
			if tenant == nil {
				t.Fatal("Expected tenant context, got nil")
			}
			if tenant.TenantID != "tnt_123" {
				t.Errorf("Expected TenantID tnt_123, got %s", tenant.TenantID)
			}
			if tenant.UserID != "usr_1" {
				t.Errorf("Expected UserID usr_1, got %s", tenant.UserID)
			}
			w.WriteHeader(http.StatusOK)
		})

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Missing Claims", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/", nil)
		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	t.Run("Claims Without Tenant", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), apiContext.Claims, &auth.Claims{UserID: "usr_1"}))
		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusForbidden {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusForbidden)
		}
	})
}
