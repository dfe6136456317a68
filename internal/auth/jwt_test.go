package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-for-testing"

func signToken(t *testing.T, claims jwt.MapClaims, secret string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func baseClaims(extra jwt.MapClaims) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub": "ext-123",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

func TestValidateToken(t *testing.T) {
	validator := NewTokenValidator(testSecret)

	token := signToken(t, baseClaims(nil), testSecret)
	claims, err := validator.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ext-123", claims.Subject)
}

func TestValidateTokenExpired(t *testing.T) {
	validator := NewTokenValidator(testSecret)

	token := signToken(t, jwt.MapClaims{
		"sub": "ext-123",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}, testSecret)

	_, err := validator.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidateTokenWrongSignature(t *testing.T) {
	validator := NewTokenValidator(testSecret)

	token := signToken(t, baseClaims(nil), "some-other-secret")
	_, err := validator.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthoritiesFlattening(t *testing.T) {
	validator := NewTokenValidator(testSecret)

	cases := []struct {
		name  string
		extra jwt.MapClaims
		want  []string
	}{
		{
			name: "scope as space-delimited string",
			extra: jwt.MapClaims{
				"scope": "openid profile email",
			},
			want: []string{"SCOPE_openid", "SCOPE_profile", "SCOPE_email"},
		},
		{
			name: "scope as list",
			extra: jwt.MapClaims{
				"scope": []string{"openid", "profile"},
			},
			want: []string{"SCOPE_openid", "SCOPE_profile"},
		},
		{
			name: "realm roles",
			extra: jwt.MapClaims{
				"realm_access": map[string]interface{}{
					"roles": []string{"admin", "viewer"},
				},
			},
			want: []string{"ROLE_admin", "ROLE_viewer"},
		},
		{
			name: "client roles carry the client name",
			extra: jwt.MapClaims{
				"resource_access": map[string]interface{}{
					"device-service": map[string]interface{}{
						"roles": []string{"reader"},
					},
				},
			},
			want: []string{"ROLE_device-service_reader"},
		},
		{
			name: "case preserved as issued",
			extra: jwt.MapClaims{
				"realm_access": map[string]interface{}{
					"roles": []string{"Admin"},
				},
			},
			want: []string{"ROLE_Admin"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			token := signToken(t, baseClaims(tc.extra), testSecret)
			claims, err := validator.ValidateToken(token)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, claims.Authorities())
		})
	}
}

func TestHasRole(t *testing.T) {
	validator := NewTokenValidator(testSecret)

	token := signToken(t, baseClaims(jwt.MapClaims{
		"realm_access": map[string]interface{}{
			"roles": []string{"admin"},
		},
	}), testSecret)

	claims, err := validator.ValidateToken(token)
	require.NoError(t, err)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("operator"))
	assert.False(t, claims.HasRole("Admin"))
}
