package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/iotgrid/user-service/internal/database/models"
	"github.com/iotgrid/user-service/internal/idp"
	"gorm.io/gorm"
)

// sagaState tracks where a registration is in its two-system workflow.
// Once the external identity exists, every later failure goes through
// sagaRollingBack before the error surfaces.
type sagaState int

const (
	sagaValidating sagaState = iota
	sagaCreatingIdentity
	sagaPersistingProfile
	sagaSyncingRole
	sagaComplete
	sagaRollingBack
	sagaFailed
)

func (s sagaState) String() string {
	switch s {
	case sagaValidating:
		return "validating"
	case sagaCreatingIdentity:
		return "creating_external_identity"
	case sagaPersistingProfile:
		return "persisting_local_profile"
	case sagaSyncingRole:
		return "syncing_role"
	case sagaComplete:
		return "complete"
	case sagaRollingBack:
		return "rolling_back"
	default:
		return "failed"
	}
}

type RegisterInput struct {
	Username       string
	Email          string
	FirstName      string
	LastName       string
	Password       string
	OrganizationID *uuid.UUID
}

type ProfileUpdate struct {
	FirstName   *string
	LastName    *string
	Preferences map[string]interface{}
}

type UserResponse struct {
	ID             uuid.UUID         `json:"id"`
	Username       string            `json:"username"`
	Email          string            `json:"email"`
	FirstName      string            `json:"first_name,omitempty"`
	LastName       string            `json:"last_name,omitempty"`
	OrganizationID *uuid.UUID        `json:"organization_id,omitempty"`
	Status         models.UserStatus `json:"status"`
	Roles          []string          `json:"roles"`
	CreatedAt      time.Time         `json:"created_at"`
	LastLoginAt    *time.Time        `json:"last_login_at,omitempty"`
}

// Service coordinates the local store and the identity provider. Writes that
// create an external identity are compensated on partial failure; profile
// mutations are local-authoritative with best-effort mirroring.
type Service struct {
	store       *Store
	idp         IdentityProvider
	mirror      Mirrorer // optional; nil disables background retries
	defaultRole string
	logger      *slog.Logger
}

func NewService(store *Store, provider IdentityProvider, defaultRole string, logger *slog.Logger) *Service {
	return &Service{
		store:       store,
		idp:         provider,
		defaultRole: defaultRole,
		logger:      logger,
	}
}

// WithMirrorer enables background retries for failed best-effort mirrors.
func (s *Service) WithMirrorer(m Mirrorer) *Service {
	s.mirror = m
	return s
}

// Register runs the registration saga: local uniqueness pre-check, external
// identity creation, one local transaction for profile plus default role,
// then role sync in the provider. Failure after the external create deletes
// the just-created identity before the original error surfaces.
func (s *Service) Register(ctx context.Context, input RegisterInput) (*UserResponse, error) {
	state := sagaValidating

	count, err := s.store.CountByUsernameOrEmail(ctx, input.Username, input.Email)
	if err != nil {
		return nil, fmt.Errorf("checking uniqueness: %w", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	state = sagaCreatingIdentity
	externalID, err := s.idp.CreateUser(ctx, idp.NewUser{
		Username:  input.Username,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Password:  input.Password,
	})
	if err != nil {
		// Nothing was created, so no compensation is needed. The provider is
		// authoritative on uniqueness and can reject conflicts the local
		// pre-check missed.
		if errors.Is(err, idp.ErrAlreadyExists) {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("%w: creating external identity: %w", ErrRegistrationFailed, err)
	}
	s.logger.Info("created external identity",
		"state", state.String(),
		"username", input.Username,
		"external_id", externalID,
	)

	state = sagaPersistingProfile
	user := &models.User{
		ExternalID:     externalID,
		Username:       input.Username,
		Email:          input.Email,
		FirstName:      input.FirstName,
		LastName:       input.LastName,
		OrganizationID: input.OrganizationID,
		Status:         models.UserStatusActive,
	}
	if err := s.store.CreateWithDefaultRole(ctx, user, s.defaultRole); err != nil {
		// A unique-index race with a concurrent registration lands here too:
		// the storage layer rejected the second insert, so this attempt's
		// external identity has to go.
		return nil, s.compensate(ctx, state, externalID, err)
	}

	state = sagaSyncingRole
	if err := s.idp.AssignRole(ctx, externalID, s.defaultRole); err != nil {
		// The local transaction already committed, so the profile has to be
		// unwound too or the username would stay claimed with no identity
		// behind it.
		if remErr := s.store.Remove(ctx, user.ID); remErr != nil {
			s.logger.Error("failed to remove local profile during rollback",
				"user_id", user.ID, "error", remErr)
		}
		return nil, s.compensate(ctx, state, externalID, err)
	}

	state = sagaComplete
	s.logger.Info("registered user",
		"state", state.String(),
		"user_id", user.ID,
		"external_id", externalID,
	)
	return s.response(user, []string{s.defaultRole}), nil
}

// compensate deletes the external identity created earlier in the saga. The
// delete is best-effort: its failure is logged at high severity but the
// original cause is what reaches the caller.
func (s *Service) compensate(ctx context.Context, from sagaState, externalID string, cause error) error {
	s.logger.Warn("registration failed, rolling back external identity",
		"failed_state", from.String(),
		"state", sagaRollingBack.String(),
		"external_id", externalID,
		"error", cause,
	)

	if err := s.idp.DeleteUser(ctx, externalID); err != nil {
		s.logger.Error("compensation failed, external identity may be orphaned",
			"state", sagaFailed.String(),
			"external_id", externalID,
			"error", err,
		)
	}

	return fmt.Errorf("%w: %w", ErrRegistrationFailed, cause)
}

// AssignRole grants a role locally and syncs it to the provider. Assigning
// an already-held role reports false without an error. On provider failure
// the local row is rolled back and the provider error surfaces.
func (s *Service) AssignRole(ctx context.Context, userID uuid.UUID, roleName string, grantedBy uuid.UUID) (bool, error) {
	user, err := s.store.ByID(ctx, userID)
	if err != nil {
		return false, err
	}

	existing, err := s.store.FindRole(ctx, userID, roleName)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	if grantedBy == uuid.Nil {
		grantedBy = userID
	}
	role := &models.UserRole{
		UserID:    userID,
		RoleName:  roleName,
		GrantedAt: time.Now(),
		GrantedBy: grantedBy,
	}
	if err := s.store.AddRole(ctx, role); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a race with a concurrent grant of the same role.
			return false, nil
		}
		return false, err
	}

	if err := s.idp.AssignRole(ctx, user.ExternalID, roleName); err != nil {
		if delErr := s.store.DeleteRole(ctx, userID, roleName); delErr != nil {
			s.logger.Error("failed to roll back local role after provider error",
				"user_id", userID, "role", roleName, "error", delErr)
			s.scheduleRoleReconcile(ctx, userID)
		}
		return false, err
	}

	return true, nil
}

// scheduleRoleReconcile queues a background re-sync for a user whose local
// role rows and provider mapping may have diverged. Enqueued on a detached
// context: the divergence often comes from the request's own cancellation.
func (s *Service) scheduleRoleReconcile(ctx context.Context, userID uuid.UUID) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.EnqueueRoleReconcile(context.WithoutCancel(ctx), userID); err != nil {
		s.logger.Error("failed to enqueue role reconcile", "user_id", userID, "error", err)
	}
}

// RemoveRole revokes a role. The provider mapping is removed first; the
// local audit row is only deleted once the provider call succeeds, so a
// remote failure never leaves a grant without its local record. A missing
// grant reports false with no provider call.
func (s *Service) RemoveRole(ctx context.Context, userID uuid.UUID, roleName string) (bool, error) {
	existing, err := s.store.FindRole(ctx, userID, roleName)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	user, err := s.store.ByID(ctx, userID)
	if err != nil {
		return false, err
	}

	if err := s.idp.RemoveRole(ctx, user.ExternalID, roleName); err != nil {
		return false, err
	}

	if err := s.store.DeleteRole(ctx, userID, roleName); err != nil {
		// The provider already dropped the mapping; the reconciler will
		// converge it back onto the surviving local row.
		s.scheduleRoleReconcile(ctx, userID)
		return false, err
	}
	return true, nil
}

// UpdateProfile writes the local record, then mirrors names to the provider.
// The local write is authoritative: a mirror failure is logged, queued for
// retry, and never rolls the update back.
func (s *Service) UpdateProfile(ctx context.Context, userID uuid.UUID, update ProfileUpdate) (*UserResponse, error) {
	user, err := s.store.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if update.FirstName != nil {
		user.FirstName = *update.FirstName
	}
	if update.LastName != nil {
		user.LastName = *update.LastName
	}
	if update.Preferences != nil {
		prefs, err := json.Marshal(update.Preferences)
		if err != nil {
			return nil, fmt.Errorf("encoding preferences: %w", err)
		}
		user.Preferences = string(prefs)
	}

	if err := s.store.Save(ctx, user); err != nil {
		return nil, err
	}

	s.mirrorUpdate(ctx, user, idp.UserUpdate{
		FirstName: update.FirstName,
		LastName:  update.LastName,
	})

	roles, err := s.store.RoleNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.response(user, roles), nil
}

// Deactivate marks the user inactive locally and best-effort disables the
// external identity. Deactivation is terminal; users are never hard-deleted.
func (s *Service) Deactivate(ctx context.Context, userID uuid.UUID) error {
	user, err := s.store.ByID(ctx, userID)
	if err != nil {
		return err
	}

	user.Status = models.UserStatusInactive
	if err := s.store.Save(ctx, user); err != nil {
		return err
	}

	enabled := false
	s.mirrorUpdate(ctx, user, idp.UserUpdate{Enabled: &enabled})
	return nil
}

// UpdateLastLogin stamps the login time on the local record. An unknown
// external id is a no-op; the provider keeps its own login bookkeeping.
func (s *Service) UpdateLastLogin(ctx context.Context, externalID string) error {
	user, err := s.store.ByExternalID(ctx, externalID)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	now := time.Now()
	user.LastLoginAt = &now
	return s.store.Save(ctx, user)
}

func (s *Service) GetByID(ctx context.Context, userID uuid.UUID) (*UserResponse, error) {
	user, err := s.store.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.RoleNames(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.response(user, roles), nil
}

func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*UserResponse, error) {
	user, err := s.store.ByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	roles, err := s.store.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.response(user, roles), nil
}

func (s *Service) ListByOrganization(ctx context.Context, orgID uuid.UUID) ([]*UserResponse, error) {
	list, err := s.store.ByOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}

	responses := make([]*UserResponse, 0, len(list))
	for i := range list {
		roles, err := s.store.RoleNames(ctx, list[i].ID)
		if err != nil {
			return nil, err
		}
		responses = append(responses, s.response(&list[i], roles))
	}
	return responses, nil
}

func (s *Service) mirrorUpdate(ctx context.Context, user *models.User, update idp.UserUpdate) {
	if err := s.idp.UpdateUser(ctx, user.ExternalID, update); err != nil {
		s.logger.Warn("failed to mirror profile to identity provider",
			"user_id", user.ID, "external_id", user.ExternalID, "error", err)
		if s.mirror != nil {
			if qErr := s.mirror.EnqueueProfileMirror(ctx, user.ID); qErr != nil {
				s.logger.Error("failed to enqueue mirror retry", "user_id", user.ID, "error", qErr)
			}
		}
	}
}

func (s *Service) response(user *models.User, roles []string) *UserResponse {
	if roles == nil {
		roles = []string{}
	}
	return &UserResponse{
		ID:             user.ID,
		Username:       user.Username,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		OrganizationID: user.OrganizationID,
		Status:         user.Status,
		Roles:          roles,
		CreatedAt:      user.CreatedAt,
		LastLoginAt:    user.LastLoginAt,
	}
}
