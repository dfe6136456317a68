package models

type OrganizationStatus string

const (
	OrganizationStatusActive   OrganizationStatus = "active"
	OrganizationStatusInactive OrganizationStatus = "inactive"
)

type Organization struct {
	Base
	Name         string             `gorm:"not null" json:"name"`
	Description  string             `json:"description,omitempty"`
	ContactEmail string             `json:"contact_email,omitempty"`
	Status       OrganizationStatus `gorm:"type:varchar(16);not null;default:'active'" json:"status"`

	// Relationships
	Users []User `gorm:"foreignKey:OrganizationID" json:"-"`
}

func (Organization) TableName() string {
	return "organizations"
}
