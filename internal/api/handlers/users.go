package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/iotgrid/user-service/internal/api/dto"
	"github.com/iotgrid/user-service/internal/api/middleware"
	"github.com/iotgrid/user-service/internal/api/validation"
	"github.com/iotgrid/user-service/internal/idp"
	"github.com/iotgrid/user-service/internal/users"
)

type UserHandler struct {
	users *users.Service
}

func NewUserHandler(service *users.Service) *UserHandler {
	return &UserHandler{users: service}
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errs := req.Validate(); len(errs) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	resp, err := h.users.Register(r.Context(), users.RegisterInput{
		Username:       req.Username,
		Email:          req.Email,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Password:       req.Password,
		OrganizationID: req.OrganizationID,
	})
	if err != nil {
		writeUserError(w, err, "Registration failed")
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// Me returns the caller's profile and stamps the login time.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	externalID := middleware.GetExternalID(r.Context())

	// Best-effort: a failed stamp must not block the profile read.
	_ = h.users.UpdateLastLogin(r.Context(), externalID)

	resp, err := h.users.GetByExternalID(r.Context(), externalID)
	if err != nil {
		writeUserError(w, err, "Failed to load profile")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req dto.ProfileUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	current, err := h.users.GetByExternalID(r.Context(), middleware.GetExternalID(r.Context()))
	if err != nil {
		writeUserError(w, err, "Failed to load profile")
		return
	}

	resp, err := h.users.UpdateProfile(r.Context(), current.ID, users.ProfileUpdate{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Preferences: req.Preferences,
	})
	if err != nil {
		writeUserError(w, err, "Profile update failed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	resp, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeUserError(w, err, "Failed to load user")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}

	if err := h.users.Deactivate(r.Context(), userID); err != nil {
		writeUserError(w, err, "Deactivation failed")
		return
	}
	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "User deactivated"})
}

func (h *UserHandler) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}
	roleName := chi.URLParam(r, "roleName")
	if !validation.IsValidRoleName(roleName) {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid role name"})
		return
	}

	granter, err := h.users.GetByExternalID(r.Context(), middleware.GetExternalID(r.Context()))
	if err != nil {
		writeUserError(w, err, "Failed to resolve acting user")
		return
	}

	assigned, err := h.users.AssignRole(r.Context(), userID, roleName, granter.ID)
	if err != nil {
		writeUserError(w, err, "Role assignment failed")
		return
	}

	resp := dto.RoleChangeResponse{UserID: userID.String(), RoleName: roleName, Assigned: assigned}
	if !assigned {
		resp.Message = "Role already assigned"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) RemoveRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUUIDParam(w, r, "userID")
	if !ok {
		return
	}
	roleName := chi.URLParam(r, "roleName")

	removed, err := h.users.RemoveRole(r.Context(), userID, roleName)
	if err != nil {
		writeUserError(w, err, "Role removal failed")
		return
	}
	if !removed {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Role not assigned"})
		return
	}

	writeJSON(w, http.StatusOK, dto.RoleChangeResponse{
		UserID: userID.String(), RoleName: roleName, Removed: true,
	})
}

func (h *UserHandler) ListByOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := parseUUIDParam(w, r, "orgID")
	if !ok {
		return
	}

	list, err := h.users.ListByOrganization(r.Context(), orgID)
	if err != nil {
		writeUserError(w, err, "Failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// writeUserError maps the service error taxonomy onto HTTP statuses: client
// conflicts and validation failures are 4xx, provider outages are a
// retryable 503, and a failed (compensated) registration is a 502 so
// callers can tell "retry later" from "fix your input".
func writeUserError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, users.ErrUserExists):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "Username or email already exists"})
	case errors.Is(err, users.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "User not found"})
	case errors.Is(err, idp.ErrRoleNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Role not found"})
	case errors.Is(err, idp.ErrNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "External identity not found"})
	case errors.Is(err, idp.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Identity provider rejected the request"})
	case errors.Is(err, users.ErrRegistrationFailed):
		writeJSON(w, http.StatusBadGateway, dto.ErrorResponse{Error: "Registration failed"})
	case errors.Is(err, idp.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Identity provider unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: fallback})
	}
}

func parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
