package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/iotgrid/user-service/internal/database/models"
	"github.com/iotgrid/user-service/internal/idp"
	"github.com/iotgrid/user-service/internal/users"
	"gorm.io/gorm"
)

type Handler struct {
	store    *users.Store
	provider users.IdentityProvider
	logger   *slog.Logger
}

func NewHandler(db *gorm.DB, provider users.IdentityProvider, logger *slog.Logger) *Handler {
	return &Handler{
		store:    users.NewStore(db),
		provider: provider,
		logger:   logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeProfileMirror, h.HandleProfileMirror)
	mux.HandleFunc(TypeRoleReconcile, h.HandleRoleReconcile)
}

// HandleProfileMirror re-pushes the current local profile to the identity
// provider. The update is rebuilt from the local record at execution time,
// so stale queued payloads can never overwrite a newer local write.
func (h *Handler) HandleProfileMirror(ctx context.Context, t *asynq.Task) error {
	var payload ProfileMirrorPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	user, err := h.store.ByID(ctx, payload.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		h.logger.Warn("dropping mirror for unknown user", "user_id", payload.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	enabled := user.Status == models.UserStatusActive
	update := idp.UserUpdate{
		FirstName: &user.FirstName,
		LastName:  &user.LastName,
		Enabled:   &enabled,
	}

	if err := h.provider.UpdateUser(ctx, user.ExternalID, update); err != nil {
		if errors.Is(err, idp.ErrNotFound) {
			h.logger.Error("external identity missing during mirror",
				"user_id", user.ID, "external_id", user.ExternalID)
			return nil
		}
		return err
	}

	h.logger.Info("mirrored profile to identity provider",
		"user_id", user.ID, "external_id", user.ExternalID)
	return nil
}

// HandleRoleReconcile re-asserts the user's local role rows against the
// provider's realm role mapping. The local store is the source of truth:
// locally held roles missing remotely are re-assigned. Roles the provider
// holds beyond the local set are only reported, never removed here.
func (h *Handler) HandleRoleReconcile(ctx context.Context, t *asynq.Task) error {
	var payload RoleReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	user, err := h.store.ByID(ctx, payload.UserID)
	if errors.Is(err, users.ErrUserNotFound) {
		h.logger.Warn("dropping reconcile for unknown user", "user_id", payload.UserID)
		return nil
	}
	if err != nil {
		return err
	}

	local, err := h.store.RoleNames(ctx, user.ID)
	if err != nil {
		return err
	}

	remote := make(map[string]bool)
	for _, name := range h.provider.UserRoles(ctx, user.ExternalID) {
		remote[name] = true
	}

	var failed int
	for _, name := range local {
		if remote[name] {
			continue
		}
		if err := h.provider.AssignRole(ctx, user.ExternalID, name); err != nil {
			if errors.Is(err, idp.ErrRoleNotFound) {
				h.logger.Warn("local role has no realm role in provider",
					"user_id", user.ID, "role", name)
				continue
			}
			h.logger.Warn("failed to re-assign role",
				"user_id", user.ID, "role", name, "error", err)
			failed++
		}
	}

	for name := range remote {
		found := false
		for _, l := range local {
			if l == name {
				found = true
				break
			}
		}
		if !found {
			h.logger.Warn("provider holds role with no local audit row",
				"user_id", user.ID, "external_id", user.ExternalID, "role", name)
		}
	}

	if failed > 0 {
		return fmt.Errorf("failed to re-assign %d roles for user %s", failed, user.ID)
	}
	return nil
}
