package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole is the local audit record for a role grant. The pair
// (UserID, RoleName) is unique: a role is never assigned twice.
type UserRole struct {
	Base
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_user_role" json:"user_id"`
	RoleName  string    `gorm:"not null;uniqueIndex:idx_user_role" json:"role_name"` // admin, operator, viewer, device
	Scope     string    `json:"scope,omitempty"`                                     // optional resource scope, e.g. "building:123"
	GrantedAt time.Time `gorm:"not null" json:"granted_at"`
	GrantedBy uuid.UUID `gorm:"type:uuid;not null" json:"granted_by"`
}

func (UserRole) TableName() string {
	return "user_roles"
}
