package models

import (
	"time"

	"github.com/google/uuid"
)

type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

type User struct {
	Base
	// ExternalID is the identity provider's subject id for this user.
	// Assigned exactly once at registration and never changed afterwards.
	ExternalID     string     `gorm:"uniqueIndex;not null" json:"external_id"`
	Username       string     `gorm:"uniqueIndex;not null" json:"username"`
	Email          string     `gorm:"uniqueIndex;not null" json:"email"`
	FirstName      string     `json:"first_name,omitempty"`
	LastName       string     `json:"last_name,omitempty"`
	OrganizationID *uuid.UUID `gorm:"type:uuid;index" json:"organization_id,omitempty"`
	Status         UserStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`
	Preferences    string     `json:"preferences,omitempty"` // opaque JSON blob of user settings
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Roles        []UserRole    `gorm:"foreignKey:UserID" json:"-"`
}

func (User) TableName() string {
	return "users"
}
