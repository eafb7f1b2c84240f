package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"
	apiContext "taxdesk/internal/api/context"
	"taxdesk/internal/pkg/errors"
	"taxdesk/internal/platform/auth"
)

const bearerChallenge = `Bearer realm="taxdesk"`

// AuthMiddleware admits requests carrying a valid access token and stores
// its claims in the request context.
type AuthMiddleware struct {
	tokenSvc *auth.TokenService
}

func NewAuthMiddleware(tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			unauthorized(w, "Missing or malformed bearer token")
			return
		}

		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			hlog.FromRequest(r).Debug().Err(err).Msg("rejected access token")
			if auth.IsExpired(err) {
				unauthorized(w, "Token expired")
				return
			}
			unauthorized(w, "Invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

// bearerToken extracts the token from an Authorization header. The scheme
// is matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", bearerChallenge)
	errors.WriteCode(w, errors.ErrCodeUnauthorized, message)
}
