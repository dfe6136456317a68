package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/iotgrid/user-service/internal/auth"
)

type contextKey string

const (
	ExternalIDKey  contextKey = "external_id"
	AuthoritiesKey contextKey = "authorities"
	ClaimsKey      contextKey = "claims"
)

// Auth validates the bearer token and stores the external identity id and
// the flattened authorities in the request context. Requests arrive through
// the platform gateway, so only the Authorization header is consulted.
func Auth(validator *auth.TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := r.Context()
			ctx = context.WithValue(ctx, ExternalIDKey, claims.Subject)
			ctx = context.WithValue(ctx, AuthoritiesKey, claims.Authorities())
			ctx = context.WithValue(ctx, ClaimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetExternalID returns the authenticated subject's external identity id.
func GetExternalID(ctx context.Context) string {
	if id, ok := ctx.Value(ExternalIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAuthorities(ctx context.Context) []string {
	if authorities, ok := ctx.Value(AuthoritiesKey).([]string); ok {
		return authorities
	}
	return nil
}

func GetClaims(ctx context.Context) *auth.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*auth.Claims); ok {
		return claims
	}
	return nil
}

// RequireRole allows the request through when the caller holds any of the
// given realm roles (authority form ROLE_<name>).
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorities := GetAuthorities(r.Context())

			for _, role := range roles {
				want := "ROLE_" + role
				for _, have := range authorities {
					if have == want {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			http.Error(w, "Forbidden", http.StatusForbidden)
		})
	}
}
