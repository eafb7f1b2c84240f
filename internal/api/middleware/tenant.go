package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"
	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/pkg/errors"
	"taxdesk/internal/platform/auth"
)

// TenantContext scopes a request to one tenant. Every repository call made
// on behalf of the request filters by TenantID.
type TenantContext struct {
	TenantID string
	UserID   string
	Role     string
}

type TenantMiddleware struct{}

func NewTenantMiddleware() *TenantMiddleware {
	return &TenantMiddleware{}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := r.Context().Value(apiContext.Claims).(*auth.Claims)
		if !ok {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}
		if claims.TenantID == "" {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Token is not scoped to a tenant", nil)
			return
		}

		tenant := &TenantContext{
			TenantID: claims.TenantID,
			UserID:   claims.UserID,
			Role:     claims.Role,
		}
		ctx := context.WithValue(r.Context(), apiContext.Tenant, tenant)
		ctx = log.With().Str("tenant_id", tenant.TenantID).Logger().WithContext(ctx)

		next(w, r.WithContext(ctx))
	}
}

// TenantFrom returns the tenant set by TenantMiddleware, or nil.
func TenantFrom(ctx context.Context) *TenantContext {
	tenant, _ := ctx.Value(apiContext.Tenant).(*TenantContext)
	return tenant
}
