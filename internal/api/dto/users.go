package dto

import (
	"github.com/google/uuid"
	"github.com/iotgrid/user-service/internal/api/validation"
)

type RegisterRequest struct {
	Username       string     `json:"username"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	Password       string     `json:"password"`
	OrganizationID *uuid.UUID `json:"organization_id,omitempty"`
}

func (r RegisterRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Username == "" {
		errors["username"] = "Username is required"
	} else if !validation.IsValidUsername(r.Username) {
		errors["username"] = "Username format is invalid"
	}
	if r.Email == "" {
		errors["email"] = "Email is required"
	} else if !validation.IsValidEmail(r.Email) {
		errors["email"] = "Email format is invalid"
	}
	if r.Password == "" {
		errors["password"] = "Password is required"
	} else if len(r.Password) < 8 {
		errors["password"] = "Password must be at least 8 characters"
	}

	return errors
}

type ProfileUpdateRequest struct {
	FirstName   *string                `json:"first_name,omitempty"`
	LastName    *string                `json:"last_name,omitempty"`
	Preferences map[string]interface{} `json:"preferences,omitempty"`
}

type RoleChangeResponse struct {
	UserID   string `json:"user_id"`
	RoleName string `json:"role_name"`
	Assigned bool   `json:"assigned,omitempty"`
	Removed  bool   `json:"removed,omitempty"`
	Message  string `json:"message,omitempty"`
}
