package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/iotgrid/user-service/internal/api/dto"
	"github.com/iotgrid/user-service/internal/database/models"
	"github.com/iotgrid/user-service/internal/orgs"
)

type OrganizationHandler struct {
	orgs *orgs.Service
}

func NewOrganizationHandler(service *orgs.Service) *OrganizationHandler {
	return &OrganizationHandler{orgs: service}
}

func (h *OrganizationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.OrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	org, err := h.orgs.Create(r.Context(), orgs.CreateInput{
		Name:         req.Name,
		Description:  req.Description,
		ContactEmail: req.ContactEmail,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to create organization"})
		return
	}

	writeJSON(w, http.StatusCreated, org)
}

func (h *OrganizationHandler) Get(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseUUIDParam(w, r, "orgID")
	if !ok {
		return
	}

	org, err := h.orgs.Get(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Organization not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to load organization"})
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *OrganizationHandler) Update(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseUUIDParam(w, r, "orgID")
	if !ok {
		return
	}

	var req dto.OrganizationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	input := orgs.UpdateInput{}
	if req.Name != "" {
		input.Name = &req.Name
	}
	if req.Description != "" {
		input.Description = &req.Description
	}
	if req.ContactEmail != "" {
		input.ContactEmail = &req.ContactEmail
	}
	if req.Status != "" {
		status := models.OrganizationStatus(req.Status)
		if status != models.OrganizationStatusActive && status != models.OrganizationStatusInactive {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid status"})
			return
		}
		input.Status = &status
	}

	org, err := h.orgs.Update(r.Context(), orgID, input)
	if err != nil {
		if errors.Is(err, orgs.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Organization not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to update organization"})
		return
	}
	writeJSON(w, http.StatusOK, org)
}

func (h *OrganizationHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.orgs.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list organizations"})
		return
	}
	writeJSON(w, http.StatusOK, list)
}
