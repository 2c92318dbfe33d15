package services

import (
	"crypto/rand"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/voxprep/backend/models"
	"github.com/voxprep/backend/repository"
)

type InviteEndpoints struct {
	repo *repository.GORMRepository
}

type CreateInviteRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type InviteResponse struct {
	Invite  models.Invite `json:"invite"`
	Message string        `json:"message,omitempty"`
}

type GetInvitesResponse struct {
	Invites []models.Invite `json:"invites"`
	Count   int             `json:"count"`
}

func NewInviteEndpoints(repo *repository.GORMRepository) *InviteEndpoints {
	return &InviteEndpoints{
		repo: repo,
	}
}

func (e *InviteEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/entities/{entityID}/invites", func(r chi.Router) {
		r.Post("/", e.CreateInviteHandler)
		r.Get("/", e.GetInvitesHandler)
	})
}

const inviteCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// generateInviteCode produces a short shareable code. The ambiguous
// characters 0/O/1/I are excluded from the alphabet.
func generateInviteCode() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	code := make([]byte, len(bytes))
	for i, b := range bytes {
		code[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(code), nil
}

func (e *InviteEndpoints) CreateInviteHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entityID := chi.URLParam(r, "entityID")
	entity, err := e.repo.GetEntityScoped(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to get entity for invite", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to get entity", http.StatusInternalServerError)
		return
	}
	if entity == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	var req CreateInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	code, err := generateInviteCode()
	if err != nil {
		slog.Error("Failed to generate invite code", "error", err)
		http.Error(w, "Failed to create invite", http.StatusInternalServerError)
		return
	}

	invite := models.Invite{
		ID:             uuid.New().String(),
		Code:           code,
		EntityID:       entityID,
		OrganizationID: orgID,
		Name:           req.Name,
		Email:          req.Email,
		Phone:          req.Phone,
	}

	if err := e.repo.CreateInvite(r.Context(), &invite); err != nil {
		slog.Error("Failed to create invite", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to create invite", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(InviteResponse{Invite: invite, Message: "Invite created successfully"})

	slog.Info("Invite created", "invite_id", invite.ID, "entity_id", entityID, "user_id", user.ID)
}

func (e *InviteEndpoints) GetInvitesHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entityID := chi.URLParam(r, "entityID")
	invites, err := e.repo.GetInvites(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to get invites", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to get invites", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(GetInvitesResponse{Invites: invites, Count: len(invites)})
}
