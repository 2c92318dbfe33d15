package models

import (
	"time"

	"gorm.io/gorm"
)

// Invite grants access to a private entity. The code is an opaque,
// unguessable string compared case-sensitively against the token presented
// by a caller. Invites are reusable and carry no expiry.
type Invite struct {
	ID             string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Code           string         `gorm:"uniqueIndex;size:64;not null" json:"code"`
	EntityID       string         `gorm:"type:uuid;not null;index" json:"entity_id"`
	OrganizationID string         `gorm:"type:uuid;not null;index" json:"organization_id"`
	Name           string         `gorm:"size:255" json:"name,omitempty"`
	Email          string         `gorm:"size:255" json:"email,omitempty"`
	Phone          string         `gorm:"size:50" json:"phone,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Entity *Entity `gorm:"foreignKey:EntityID" json:"entity,omitempty"`
}
