package dto

import "github.com/iotgrid/user-service/internal/api/validation"

type OrganizationRequest struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`
	Status       string `json:"status,omitempty"`
}

func (r OrganizationRequest) Validate() map[string]string {
	errors := make(map[string]string)

	if r.Name == "" {
		errors["name"] = "Name is required"
	}
	if r.ContactEmail != "" && !validation.IsValidEmail(r.ContactEmail) {
		errors["contact_email"] = "Contact email format is invalid"
	}

	return errors
}
