package models

import (
	"time"

	"gorm.io/gorm"
)

// Session statuses. Transitions are monotonic:
// created -> in_progress -> completed | cancelled.
const (
	SessionStatusCreated    = "created"
	SessionStatusInProgress = "in_progress"
	SessionStatusCompleted  = "completed"
	SessionStatusCancelled  = "cancelled"
)

// Session records one attempt at an entity, including its voice call.
// UserID is nullable: invited guests run sessions anonymously. The
// transcript lives in memory during the call and is persisted once, at
// call end, together with the call timestamps and ended reason.
type Session struct {
	ID              string     `gorm:"type:uuid;primaryKey" json:"id"`
	EntityID        string     `gorm:"type:uuid;not null;index" json:"entity_id"`
	OrganizationID  string     `gorm:"type:uuid;not null;index" json:"organization_id"`
	UserID          *string    `gorm:"type:uuid;index" json:"user_id,omitempty"`
	PresentedToken  *string    `gorm:"size:64" json:"-"`
	Status          string     `gorm:"not null;default:'created';check:status IN ('created', 'in_progress', 'completed', 'cancelled')" json:"status"`
	Transcript      string     `gorm:"type:text" json:"transcript,omitempty"`
	CallStartedAt   *time.Time `json:"call_started_at,omitempty"`
	CallEndedAt     *time.Time `json:"call_ended_at,omitempty"`
	CallEndedReason string     `gorm:"size:255" json:"call_ended_reason,omitempty"`
	Metadata        string     `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Entity *Entity `gorm:"foreignKey:EntityID" json:"entity,omitempty"`
	User   *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

// IsTerminal reports whether the session status accepts no further
// transitions.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusCancelled
}
