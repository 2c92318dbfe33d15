package services

import (
	"context"
	"log/slog"

	"github.com/voxprep/backend/models"
)

// Denial reasons surfaced to callers alongside allowed=false.
const (
	ReasonMissingToken = "missing_token"
	ReasonInvalidToken = "invalid_token"
)

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// InviteLookup is the slice of the repository the authorizer needs.
type InviteLookup interface {
	GetInviteByCode(ctx context.Context, entityID, code string) (*models.Invite, error)
}

// Authorizer decides whether a caller may view an entity or one of its
// sessions. The check is read-only and is re-evaluated on every access to a
// private entity; results are never cached across requests because the token
// is presented independently on session-start, reload and review-fetch.
type Authorizer struct {
	invites InviteLookup
}

func NewAuthorizer(invites InviteLookup) *Authorizer {
	return &Authorizer{invites: invites}
}

// Authorize gates access to an entity. Non-private entities are always
// allowed. Private entities require a token matching an invite for that
// exact entity, compared case-sensitively.
func (a *Authorizer) Authorize(ctx context.Context, entity *models.Entity, presentedToken string) (Decision, error) {
	if entity.Visibility != models.VisibilityPrivate {
		return Decision{Allowed: true}, nil
	}

	if presentedToken == "" {
		slog.Info("Access denied: no token for private entity", "entity_id", entity.ID)
		return Decision{Allowed: false, Reason: ReasonMissingToken}, nil
	}

	invite, err := a.invites.GetInviteByCode(ctx, entity.ID, presentedToken)
	if err != nil {
		return Decision{}, err
	}
	if invite == nil {
		slog.Info("Access denied: token does not match any invite", "entity_id", entity.ID)
		return Decision{Allowed: false, Reason: ReasonInvalidToken}, nil
	}

	return Decision{Allowed: true}, nil
}
