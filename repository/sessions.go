package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/voxprep/backend/models"
	"gorm.io/gorm"
)

// Entity operations

func (r *GORMRepository) CreateEntity(ctx context.Context, entity *models.Entity) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		slog.Error("Failed to create entity", "error", err)
		return err
	}
	slog.Info("Entity created", "entity_id", entity.ID, "org_id", entity.OrganizationID, "type", entity.Type)
	return nil
}

// GetEntity fetches an entity by ID without organization scoping. Used on
// session-start where access is decided by the authorizer, not by
// membership.
func (r *GORMRepository) GetEntity(ctx context.Context, entityID string) (*models.Entity, error) {
	var entity models.Entity
	if err := r.db.WithContext(ctx).Where("id = ?", entityID).First(&entity).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get entity", "error", err, "entity_id", entityID)
		return nil, err
	}
	return &entity, nil
}

// GetEntityScoped fetches an entity by ID within an organization.
func (r *GORMRepository) GetEntityScoped(ctx context.Context, orgID, entityID string) (*models.Entity, error) {
	var entity models.Entity
	if err := r.db.WithContext(ctx).Where("id = ? AND organization_id = ?", entityID, orgID).First(&entity).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get entity", "error", err, "entity_id", entityID, "org_id", orgID)
		return nil, err
	}
	return &entity, nil
}

func (r *GORMRepository) GetEntities(ctx context.Context, orgID string) ([]models.Entity, error) {
	var entities []models.Entity
	if err := r.db.WithContext(ctx).Where("organization_id = ?", orgID).Find(&entities).Error; err != nil {
		slog.Error("Failed to get entities", "error", err, "org_id", orgID)
		return nil, err
	}
	return entities, nil
}

func (r *GORMRepository) UpdateEntity(ctx context.Context, entity *models.Entity) error {
	if err := r.db.WithContext(ctx).Save(entity).Error; err != nil {
		slog.Error("Failed to update entity", "error", err, "entity_id", entity.ID)
		return err
	}
	slog.Info("Entity updated", "entity_id", entity.ID, "status", entity.Status)
	return nil
}

// Invite operations

func (r *GORMRepository) CreateInvite(ctx context.Context, invite *models.Invite) error {
	if err := r.db.WithContext(ctx).Create(invite).Error; err != nil {
		slog.Error("Failed to create invite", "error", err)
		return err
	}
	slog.Info("Invite created", "invite_id", invite.ID, "entity_id", invite.EntityID)
	return nil
}

// GetInviteByCode looks up an invite by (entity, code). The code comparison
// is case-sensitive: the column collation is the default binary one and the
// query matches exactly.
func (r *GORMRepository) GetInviteByCode(ctx context.Context, entityID, code string) (*models.Invite, error) {
	var invite models.Invite
	if err := r.db.WithContext(ctx).Where("entity_id = ? AND code = ?", entityID, code).First(&invite).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get invite by code", "error", err, "entity_id", entityID)
		return nil, err
	}
	return &invite, nil
}

func (r *GORMRepository) GetInvites(ctx context.Context, orgID, entityID string) ([]models.Invite, error) {
	var invites []models.Invite
	if err := r.db.WithContext(ctx).Where("organization_id = ? AND entity_id = ?", orgID, entityID).Find(&invites).Error; err != nil {
		slog.Error("Failed to get invites", "error", err, "entity_id", entityID)
		return nil, err
	}
	return invites, nil
}

// Session operations

func (r *GORMRepository) CreateSession(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("Failed to create session", "error", err)
		return err
	}
	slog.Info("Session created", "session_id", session.ID, "entity_id", session.EntityID, "org_id", session.OrganizationID)
	return nil
}

// GetSessionScoped fetches a session by its UUID scoped to both the
// organization and the entity, so a session can never leak across tenants
// or across entities within a tenant.
func (r *GORMRepository) GetSessionScoped(ctx context.Context, orgID, entityID, sessionID string) (*models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).
		Where("id = ? AND organization_id = ? AND entity_id = ?", sessionID, orgID, entityID).
		First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get session", "error", err, "session_id", sessionID, "org_id", orgID)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) GetSessionStatus(ctx context.Context, sessionID string) (string, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Select("status").Where("id = ?", sessionID).First(&session).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil
		}
		slog.Error("Failed to get session status", "error", err, "session_id", sessionID)
		return "", err
	}
	return session.Status, nil
}

// UpdateSessionStatus performs a conditional status update: the row is only
// touched when its current status is in priors. Returns the number of rows
// affected so the caller can distinguish a lost compare-and-set from a
// successful transition.
func (r *GORMRepository) UpdateSessionStatus(ctx context.Context, sessionID, status string, priors []string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ? AND status IN ?", sessionID, priors).
		Update("status", status)
	if res.Error != nil {
		slog.Error("Failed to update session status", "error", res.Error, "session_id", sessionID, "status", status)
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

// RecordCallDetails persists the finalized transcript and call timestamps.
// Called once, at call end.
func (r *GORMRepository) RecordCallDetails(ctx context.Context, sessionID, transcript string, startedAt, endedAt *time.Time, endedReason string) error {
	updates := map[string]interface{}{
		"transcript":        transcript,
		"call_started_at":   startedAt,
		"call_ended_at":     endedAt,
		"call_ended_reason": endedReason,
	}
	if err := r.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", sessionID).Updates(updates).Error; err != nil {
		slog.Error("Failed to record call details", "error", err, "session_id", sessionID)
		return err
	}
	slog.Info("Call details recorded", "session_id", sessionID, "ended_reason", endedReason)
	return nil
}

func (r *GORMRepository) GetSessions(ctx context.Context, orgID, entityID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).
		Where("organization_id = ? AND entity_id = ?", orgID, entityID).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to get sessions", "error", err, "entity_id", entityID, "org_id", orgID)
		return nil, err
	}
	return sessions, nil
}
