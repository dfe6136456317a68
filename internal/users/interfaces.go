package users

import (
	"context"

	"github.com/google/uuid"
	"github.com/iotgrid/user-service/internal/idp"
)

// IdentityProvider is the slice of the identity provider's admin API the
// orchestrators depend on.
type IdentityProvider interface {
	CreateUser(ctx context.Context, user idp.NewUser) (string, error)
	UpdateUser(ctx context.Context, id string, update idp.UserUpdate) error
	DeleteUser(ctx context.Context, id string) error
	AssignRole(ctx context.Context, id, roleName string) error
	RemoveRole(ctx context.Context, id, roleName string) error
	UserRoles(ctx context.Context, id string) []string
}

// Mirrorer schedules background repair work after a failed best-effort
// mirror of local state to the identity provider: profile re-pushes and
// role re-synchronization.
type Mirrorer interface {
	EnqueueProfileMirror(ctx context.Context, userID uuid.UUID) error
	EnqueueRoleReconcile(ctx context.Context, userID uuid.UUID) error
}

// Compile-time interface satisfaction check
var _ IdentityProvider = (*idp.Client)(nil)
