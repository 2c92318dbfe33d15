package models

import (
	"time"

	"gorm.io/gorm"
)

// Organization owns entities, invites and sessions. Every scoped query in the
// repository carries the organization ID to keep tenants isolated.
type Organization struct {
	ID        string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name      string         `gorm:"not null" json:"name"`
	Slug      string         `gorm:"uniqueIndex;size:100;not null" json:"slug"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Entities []Entity `gorm:"foreignKey:OrganizationID" json:"entities,omitempty"`
	Users    []User   `gorm:"foreignKey:OrganizationID" json:"users,omitempty"`
}
