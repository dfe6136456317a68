package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// ScopeValue accepts the two encodings providers use for the scope claim:
// a space-delimited string or a JSON list.
type ScopeValue []string

func (s *ScopeValue) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = strings.Fields(str)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scope claim is neither string nor list")
	}
	*s = list
	return nil
}

type accessRoles struct {
	Roles []string `json:"roles"`
}

// Claims carries the provider-issued token claims this service consumes.
// The subject is the external identity id.
type Claims struct {
	Scope          ScopeValue             `json:"scope,omitempty"`
	RealmAccess    accessRoles            `json:"realm_access,omitempty"`
	ResourceAccess map[string]accessRoles `json:"resource_access,omitempty"`
	jwt.RegisteredClaims
}

// Authorities flattens scopes and role maps into a single set of
// authorization strings: SCOPE_<s>, ROLE_<r> for realm roles, and
// ROLE_<client>_<r> for client roles. Names are used exactly as issued.
func (c *Claims) Authorities() []string {
	authorities := make([]string, 0, len(c.Scope)+len(c.RealmAccess.Roles))

	for _, scope := range c.Scope {
		authorities = append(authorities, "SCOPE_"+scope)
	}
	for _, role := range c.RealmAccess.Roles {
		authorities = append(authorities, "ROLE_"+role)
	}
	for client, access := range c.ResourceAccess {
		for _, role := range access.Roles {
			authorities = append(authorities, "ROLE_"+client+"_"+role)
		}
	}

	return authorities
}

// HasRole reports whether the claims carry the given realm role.
func (c *Claims) HasRole(name string) bool {
	for _, role := range c.RealmAccess.Roles {
		if role == name {
			return true
		}
	}
	return false
}

type TokenValidator struct {
	secret []byte
}

func NewTokenValidator(secret string) *TokenValidator {
	return &TokenValidator{secret: []byte(secret)}
}

func (v *TokenValidator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
