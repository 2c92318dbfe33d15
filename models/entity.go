package models

import (
	"time"

	"gorm.io/gorm"
)

// Entity types
const (
	EntityTypeInterview = "interview"
	EntityTypeTraining  = "training"
)

// Entity statuses
const (
	EntityStatusDraft      = "draft"
	EntityStatusPublished  = "published"
	EntityStatusLicensed   = "licensed"
	EntityStatusInviteOnly = "invite-only"
)

// Entity visibilities
const (
	VisibilityPrivate  = "private"
	VisibilityPublic   = "public"
	VisibilityLicensed = "licensed"
)

// Entity is an interview or training template owned by an organization.
// AgentID and AgentCredential link the entity to its voice-agent
// configuration; both empty means no agent is configured and a call can
// never be started for this entity.
type Entity struct {
	ID              string `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OrganizationID  string `gorm:"type:uuid;not null;index" json:"organization_id"`
	Type            string `gorm:"not null;check:type IN ('interview', 'training')" json:"type"`
	Title           string `gorm:"not null" json:"title"`
	Description     string `gorm:"type:text" json:"description"`
	Status          string `gorm:"not null;default:'draft';check:status IN ('draft', 'published', 'licensed', 'invite-only')" json:"status"`
	Visibility      string `gorm:"not null;default:'private';check:visibility IN ('private', 'public', 'licensed')" json:"visibility"`
	AgentID         string `gorm:"size:255" json:"agent_id,omitempty"`
	AgentCredential string `gorm:"size:255" json:"-"` // Provider credential (excluded from JSON)

	// Type-specific context passed to the voice agent
	Domain     string `gorm:"size:100" json:"domain,omitempty"`     // interview
	Seniority  string `gorm:"size:50" json:"seniority,omitempty"`   // interview
	Category   string `gorm:"size:100" json:"category,omitempty"`   // training
	Difficulty string `gorm:"size:50" json:"difficulty,omitempty"`  // training

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Organization *Organization `gorm:"foreignKey:OrganizationID" json:"organization,omitempty"`
	Invites      []Invite      `gorm:"foreignKey:EntityID" json:"invites,omitempty"`
	Sessions     []Session     `gorm:"foreignKey:EntityID" json:"sessions,omitempty"`
}

// HasAgent reports whether the entity carries a usable voice-agent
// configuration.
func (e *Entity) HasAgent() bool {
	return e.AgentID != ""
}
