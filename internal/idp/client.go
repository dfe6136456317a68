package idp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/iotgrid/user-service/pkg/config"
)

// NewUser is the payload for creating an identity in the provider.
type NewUser struct {
	Username  string
	Email     string
	FirstName string
	LastName  string
	Password  string
}

// User is the provider's view of an identity.
type User struct {
	ID               string `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email,omitempty"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	Enabled          bool   `json:"enabled"`
	EmailVerified    bool   `json:"emailVerified"`
	CreatedTimestamp int64  `json:"createdTimestamp,omitempty"`
}

// UserUpdate is a partial update; nil fields are left unchanged.
type UserUpdate struct {
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
	Email     *string `json:"email,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}

// Role is the provider's realm role descriptor. Role mapping calls need the
// full descriptor, not just the name, so assignments resolve it first.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type credential struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type createUserRequest struct {
	Username      string       `json:"username"`
	Email         string       `json:"email"`
	FirstName     string       `json:"firstName,omitempty"`
	LastName      string       `json:"lastName,omitempty"`
	Enabled       bool         `json:"enabled"`
	EmailVerified bool         `json:"emailVerified"`
	Credentials   []credential `json:"credentials"`
}

// Client is a typed wrapper over the identity provider's admin HTTP API.
// Every call obtains an admin bearer token from the shared TokenSource.
type Client struct {
	adminURL string
	http     *http.Client
	tokens   *TokenSource
	logger   *slog.Logger
}

func NewClient(cfg *config.IdPConfig, logger *slog.Logger) *Client {
	httpClient := &http.Client{Timeout: cfg.Timeout()}
	return &Client{
		adminURL: cfg.AdminURL(),
		http:     httpClient,
		tokens:   NewTokenSource(cfg, httpClient, logger),
		logger:   logger,
	}
}

// CreateUser registers a new identity and returns the provider-assigned id.
// The id comes from the response body when the provider returns one, or from
// the Location header otherwise.
func (c *Client) CreateUser(ctx context.Context, user NewUser) (string, error) {
	req := createUserRequest{
		Username:      user.Username,
		Email:         user.Email,
		FirstName:     user.FirstName,
		LastName:      user.LastName,
		Enabled:       true,
		EmailVerified: false,
		Credentials: []credential{
			{Type: "password", Value: user.Password, Temporary: false},
		},
	}

	resp, err := c.do(ctx, http.MethodPost, "/users", req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, _ := io.ReadAll(resp.Body)
		if len(bytes.TrimSpace(body)) > 0 {
			var created User
			if err := json.Unmarshal(body, &created); err == nil && created.ID != "" {
				return created.ID, nil
			}
		}
		if loc := resp.Header.Get("Location"); loc != "" {
			if id := loc[strings.LastIndex(loc, "/")+1:]; id != "" {
				return id, nil
			}
		}
		return "", fmt.Errorf("%w: create user returned no id", ErrUnavailable)
	case resp.StatusCode == http.StatusConflict:
		return "", ErrAlreadyExists
	case resp.StatusCode == http.StatusBadRequest:
		return "", ErrInvalidRequest
	default:
		return "", c.statusError(resp, "create user")
	}
}

func (c *Client) GetUser(ctx context.Context, id string) (*User, error) {
	resp, err := c.do(ctx, http.MethodGet, "/users/"+id, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var user User
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return nil, fmt.Errorf("%w: decoding user: %v", ErrUnavailable, err)
		}
		return &user, nil
	default:
		return nil, c.statusError(resp, "get user")
	}
}

func (c *Client) UpdateUser(ctx context.Context, id string, update UserUpdate) error {
	resp, err := c.do(ctx, http.MethodPut, "/users/"+id, update)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return c.statusError(resp, "update user")
	}
}

// DeleteUser removes an identity. A missing identity counts as success so
// compensation can be retried safely.
func (c *Client) DeleteUser(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, "/users/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Info("delete of unknown identity treated as success", "external_id", id)
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Info("deleted identity", "external_id", id)
		return nil
	default:
		return c.statusError(resp, "delete user")
	}
}

func (c *Client) AssignRole(ctx context.Context, id, roleName string) error {
	role, err := c.realmRole(ctx, roleName)
	if err != nil {
		return err
	}
	return c.mapRole(ctx, http.MethodPost, id, role)
}

func (c *Client) RemoveRole(ctx context.Context, id, roleName string) error {
	role, err := c.realmRole(ctx, roleName)
	if err != nil {
		return err
	}
	return c.mapRole(ctx, http.MethodDelete, id, role)
}

// UserRoles lists the realm roles mapped to an identity. Role listing is
// advisory: any failure degrades to an empty list instead of an error.
func (c *Client) UserRoles(ctx context.Context, id string) []string {
	resp, err := c.do(ctx, http.MethodGet, "/users/"+id+"/role-mappings/realm", nil)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil
	}

	var roles []Role
	if err := json.NewDecoder(resp.Body).Decode(&roles); err != nil {
		return nil
	}

	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	return names
}

func (c *Client) realmRole(ctx context.Context, roleName string) (*Role, error) {
	resp, err := c.do(ctx, http.MethodGet, "/roles/"+roleName, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrRoleNotFound
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var role Role
		if err := json.NewDecoder(resp.Body).Decode(&role); err != nil {
			return nil, fmt.Errorf("%w: decoding realm role: %v", ErrUnavailable, err)
		}
		return &role, nil
	default:
		return nil, c.statusError(resp, "get realm role")
	}
}

func (c *Client) mapRole(ctx context.Context, method, id string, role *Role) error {
	resp, err := c.do(ctx, method, "/users/"+id+"/role-mappings/realm", []*Role{role})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		return c.statusError(resp, "role mapping")
	}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	token, err := c.tokens.TokenContext(ctx)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.adminURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response, op string) error {
	return fmt.Errorf("%w: %s returned status %d", ErrUnavailable, op, resp.StatusCode)
}
