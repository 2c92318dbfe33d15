package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voxprep/backend/models"
)

// SessionRepository is the slice of the repository the session store needs.
// Satisfied by *repository.GORMRepository; tests use an in-memory fake.
type SessionRepository interface {
	CreateSession(ctx context.Context, session *models.Session) error
	GetSessionScoped(ctx context.Context, orgID, entityID, sessionID string) (*models.Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (string, error)
	UpdateSessionStatus(ctx context.Context, sessionID, status string, priors []string) (int64, error)
	RecordCallDetails(ctx context.Context, sessionID, transcript string, startedAt, endedAt *time.Time, endedReason string) error
}

// statusPriors lists which current statuses may transition into a target
// status. A session completes only from in_progress; a call that never
// became active is cancelled instead.
var statusPriors = map[string][]string{
	models.SessionStatusInProgress: {models.SessionStatusCreated},
	models.SessionStatusCompleted:  {models.SessionStatusInProgress},
	models.SessionStatusCancelled:  {models.SessionStatusCreated, models.SessionStatusInProgress},
}

// SessionStore persists session records through their lifecycle. Status
// updates are compare-and-set so duplicate terminal triggers cannot write
// twice.
type SessionStore struct {
	repo SessionRepository
}

func NewSessionStore(repo SessionRepository) *SessionStore {
	return &SessionStore{repo: repo}
}

// CreateSession always creates a new row; prior sessions are never reused.
// The metadata JSON carries the session type and caller-supplied context,
// stamped with started_at at creation.
func (s *SessionStore) CreateSession(ctx context.Context, entityID, orgID string, userID *string, token *string, metadata map[string]any) (*models.Session, error) {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata["started_at"] = time.Now().UTC().Format(time.RFC3339)

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session metadata: %w", err)
	}

	session := &models.Session{
		ID:             uuid.New().String(),
		EntityID:       entityID,
		OrganizationID: orgID,
		UserID:         userID,
		PresentedToken: token,
		Status:         models.SessionStatusCreated,
		Metadata:       string(metaJSON),
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession fetches a session scoped by organization and entity. A miss in
// any of the three keys is ErrNotFound.
func (s *SessionStore) GetSession(ctx context.Context, orgID, entityID, sessionID string) (*models.Session, error) {
	session, err := s.repo.GetSessionScoped(ctx, orgID, entityID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

// UpdateStatus enforces the monotonic transition invariant via a conditional
// update. Repeating the current terminal status is an idempotent no-op;
// any other disallowed transition returns ErrInvalidTransition.
func (s *SessionStore) UpdateStatus(ctx context.Context, sessionID, status string) error {
	priors, ok := statusPriors[status]
	if !ok {
		return fmt.Errorf("%w: %q is not a valid target status", ErrInvalidTransition, status)
	}

	affected, err := s.repo.UpdateSessionStatus(ctx, sessionID, status, priors)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if affected > 0 {
		slog.Info("Session status updated", "session_id", sessionID, "status", status)
		return nil
	}

	// Compare-and-set lost: either the row is gone or the transition is
	// not allowed from the current status.
	current, err := s.repo.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to check session status: %w", err)
	}
	if current == "" {
		return ErrNotFound
	}
	if current == status {
		// Duplicate terminal trigger; leave the row untouched.
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// RecordCallDetails finalizes the call transcript and timestamps. Called
// once at call end by the orchestrator.
func (s *SessionStore) RecordCallDetails(ctx context.Context, sessionID, transcript string, startedAt, endedAt *time.Time, endedReason string) error {
	if err := s.repo.RecordCallDetails(ctx, sessionID, transcript, startedAt, endedAt, endedReason); err != nil {
		return fmt.Errorf("failed to record call details: %w", err)
	}
	return nil
}
