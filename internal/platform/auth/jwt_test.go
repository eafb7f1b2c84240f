package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"taxdesk/internal/platform/config"
)

func testConfig() config.JWTConfig {
	return config.JWTConfig{Secret: "test-secret", Issuer: "taxdesk", AccessTokenTTL: time.Minute}
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService(testConfig())

	token, err := svc.GenerateAccessToken("usr_1", "tnt_a", "admin", "ca@example.com")
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "usr_1", claims.UserID)
	assert.Equal(t, "tnt_a", claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
}

func TestValidateToken_Rejects(t *testing.T) {
	cfg := testConfig()
	svc := NewTokenService(cfg)

	expired := NewTokenService(config.JWTConfig{Secret: cfg.Secret, Issuer: cfg.Issuer, AccessTokenTTL: -time.Minute})
	expiredToken, err := expired.GenerateAccessToken("usr_1", "tnt_a", "admin", "")
	require.NoError(t, err)

	otherKey := NewTokenService(config.JWTConfig{Secret: "other", Issuer: cfg.Issuer, AccessTokenTTL: time.Minute})
	forged, err := otherKey.GenerateAccessToken("usr_1", "tnt_a", "admin", "")
	require.NoError(t, err)

	otherIssuer := NewTokenService(config.JWTConfig{Secret: cfg.Secret, Issuer: "someone-else", AccessTokenTTL: time.Minute})
	foreign, err := otherIssuer.GenerateAccessToken("usr_1", "tnt_a", "admin", "")
	require.NoError(t, err)

	noTenant, err := svc.GenerateAccessToken("usr_1", "", "admin", "")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{TenantID: "tnt_a"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expiredToken,
		"wrong key":    forged,
		"wrong issuer": foreign,
		"no tenant":    noTenant,
		"alg none":     none,
		"garbage":      "not.a.token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			assert.Error(t, err)
			assert.Equal(t, name == "expired", IsExpired(err))
		})
	}
}
