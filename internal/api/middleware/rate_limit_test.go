package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	apiContext "taxdesk/internal/api/context"
)

func TestRateLimiter_PerTenant(t *testing.T) {
	rl := NewRateLimiter(map[string]int{"test_delivery": 2})
	handler := rl.Limit("test_delivery")(func(w http.ResponseWriter, r *http.Request) {})

	call := func(tenantID string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), apiContext.Tenant, &TenantContext{TenantID: tenantID}))
		rr := httptest.NewRecorder()
		handler(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call("tnt_a"))
	assert.Equal(t, http.StatusOK, call("tnt_a"))
	assert.Equal(t, http.StatusTooManyRequests, call("tnt_a"))
	assert.Equal(t, http.StatusOK, call("tnt_b"), "budgets are per tenant")
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(map[string]int{})
	for i := 0; i < 100; i++ {
		assert.True(t, rl.Allow("k", 100))
	}
	assert.False(t, rl.Allow("k", 100))
}
