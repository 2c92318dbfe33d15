package services

import (
	"context"
	"testing"

	"github.com/voxprep/backend/models"
)

type fakeInviteLookup struct {
	invites map[string]map[string]*models.Invite
}

func (f *fakeInviteLookup) GetInviteByCode(ctx context.Context, entityID, code string) (*models.Invite, error) {
	byCode, ok := f.invites[entityID]
	if !ok {
		return nil, nil
	}
	return byCode[code], nil
}

func TestAuthorize(t *testing.T) {
	lookup := &fakeInviteLookup{
		invites: map[string]map[string]*models.Invite{
			"entity-42": {
				"ABC123": {ID: "inv-1", Code: "ABC123", EntityID: "entity-42"},
			},
		},
	}
	authorizer := NewAuthorizer(lookup)

	privateEntity := &models.Entity{ID: "entity-42", Visibility: models.VisibilityPrivate}
	publicEntity := &models.Entity{ID: "entity-7", Visibility: models.VisibilityPublic}
	licensedEntity := &models.Entity{ID: "entity-9", Visibility: models.VisibilityLicensed}

	tests := []struct {
		name       string
		entity     *models.Entity
		token      string
		allowed    bool
		wantReason string
	}{
		{
			name:    "public entity without token",
			entity:  publicEntity,
			token:   "",
			allowed: true,
		},
		{
			name:    "licensed entity without token",
			entity:  licensedEntity,
			token:   "",
			allowed: true,
		},
		{
			name:       "private entity without token",
			entity:     privateEntity,
			token:      "",
			allowed:    false,
			wantReason: ReasonMissingToken,
		},
		{
			name:    "private entity with matching invite",
			entity:  privateEntity,
			token:   "ABC123",
			allowed: true,
		},
		{
			name:       "private entity with wrong token",
			entity:     privateEntity,
			token:      "WRONG",
			allowed:    false,
			wantReason: ReasonInvalidToken,
		},
		{
			name:       "token is case sensitive",
			entity:     privateEntity,
			token:      "abc123",
			allowed:    false,
			wantReason: ReasonInvalidToken,
		},
		{
			name:       "token from another entity does not transfer",
			entity:     &models.Entity{ID: "entity-99", Visibility: models.VisibilityPrivate},
			token:      "ABC123",
			allowed:    false,
			wantReason: ReasonInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := authorizer.Authorize(context.Background(), tt.entity, tt.token)
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if decision.Allowed != tt.allowed {
				t.Errorf("Authorize() allowed = %v, expected %v", decision.Allowed, tt.allowed)
			}
			if decision.Reason != tt.wantReason {
				t.Errorf("Authorize() reason = %q, expected %q", decision.Reason, tt.wantReason)
			}
		})
	}
}
