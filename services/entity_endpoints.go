package services

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/voxprep/backend/models"
	"github.com/voxprep/backend/repository"
)

type EntityEndpoints struct {
	repo *repository.GORMRepository
}

type CreateEntityRequest struct {
	Type            string `json:"type" validate:"required"`
	Title           string `json:"title" validate:"required"`
	Description     string `json:"description"`
	Visibility      string `json:"visibility"`
	AgentID         string `json:"agent_id"`
	AgentCredential string `json:"agent_credential"`
	Domain          string `json:"domain"`
	Seniority       string `json:"seniority"`
	Category        string `json:"category"`
	Difficulty      string `json:"difficulty"`
}

type EntityResponse struct {
	Entity  models.Entity `json:"entity"`
	Message string        `json:"message,omitempty"`
}

type GetEntitiesResponse struct {
	Entities []models.Entity `json:"entities"`
	Count    int             `json:"count"`
}

func NewEntityEndpoints(repo *repository.GORMRepository) *EntityEndpoints {
	return &EntityEndpoints{
		repo: repo,
	}
}

func (e *EntityEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/entities", func(r chi.Router) {
		r.Post("/", e.CreateEntityHandler)
		r.Get("/", e.GetEntitiesHandler)
		r.Get("/{id}", e.GetEntityHandler)
		r.Put("/{id}", e.UpdateEntityHandler)
		r.Post("/{id}/publish", e.PublishEntityHandler)
		r.Get("/{id}/sessions", e.GetEntitySessionsHandler)
	})
}

// organizationMember resolves the caller's organization; entity management
// is scoped to organization members only.
func organizationMember(w http.ResponseWriter, r *http.Request) (*models.User, string, bool) {
	user := UserFromContext(r.Context())
	if user == nil {
		http.Error(w, "Not authenticated", http.StatusUnauthorized)
		return nil, "", false
	}
	if user.OrganizationID == nil {
		http.Error(w, "User does not belong to an organization", http.StatusForbidden)
		return nil, "", false
	}
	return user, *user.OrganizationID, true
}

func (e *EntityEndpoints) CreateEntityHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Type != models.EntityTypeInterview && req.Type != models.EntityTypeTraining {
		http.Error(w, "Entity type must be interview or training", http.StatusBadRequest)
		return
	}

	visibility := req.Visibility
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}

	entity := models.Entity{
		ID:              uuid.New().String(),
		OrganizationID:  orgID,
		Type:            req.Type,
		Title:           req.Title,
		Description:     req.Description,
		Status:          models.EntityStatusDraft,
		Visibility:      visibility,
		AgentID:         req.AgentID,
		AgentCredential: req.AgentCredential,
		Domain:          req.Domain,
		Seniority:       req.Seniority,
		Category:        req.Category,
		Difficulty:      req.Difficulty,
	}

	if err := e.repo.CreateEntity(r.Context(), &entity); err != nil {
		slog.Error("Failed to create entity", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to create entity", http.StatusInternalServerError)
		return
	}

	response := EntityResponse{
		Entity:  entity,
		Message: "Entity created successfully",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)

	slog.Info("Entity created", "entity_id", entity.ID, "organization_id", orgID, "title", entity.Title)
}

func (e *EntityEndpoints) GetEntitiesHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entities, err := e.repo.GetEntities(r.Context(), orgID)
	if err != nil {
		slog.Error("Failed to get entities", "error", err, "user_id", user.ID)
		http.Error(w, "Failed to get entities", http.StatusInternalServerError)
		return
	}

	response := GetEntitiesResponse{
		Entities: entities,
		Count:    len(entities),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (e *EntityEndpoints) GetEntityHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entityID := chi.URLParam(r, "id")
	entity, err := e.repo.GetEntityScoped(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to get entity", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to get entity", http.StatusInternalServerError)
		return
	}
	if entity == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(EntityResponse{Entity: *entity})
}

func (e *EntityEndpoints) UpdateEntityHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entityID := chi.URLParam(r, "id")
	entity, err := e.repo.GetEntityScoped(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to get entity for update", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to get entity", http.StatusInternalServerError)
		return
	}
	if entity == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	var req CreateEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entity.Title = req.Title
	entity.Description = req.Description
	if req.Visibility != "" {
		entity.Visibility = req.Visibility
	}
	if req.AgentID != "" {
		entity.AgentID = req.AgentID
	}
	if req.AgentCredential != "" {
		entity.AgentCredential = req.AgentCredential
	}
	entity.Domain = req.Domain
	entity.Seniority = req.Seniority
	entity.Category = req.Category
	entity.Difficulty = req.Difficulty

	if err := e.repo.UpdateEntity(r.Context(), entity); err != nil {
		slog.Error("Failed to update entity", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to update entity", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(EntityResponse{Entity: *entity, Message: "Entity updated successfully"})

	slog.Info("Entity updated", "entity_id", entityID, "user_id", user.ID)
}

func (e *EntityEndpoints) PublishEntityHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entityID := chi.URLParam(r, "id")
	entity, err := e.repo.GetEntityScoped(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to get entity for publish", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to get entity", http.StatusInternalServerError)
		return
	}
	if entity == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	if !entity.HasAgent() {
		http.Error(w, "Entity has no voice agent configured", http.StatusUnprocessableEntity)
		return
	}

	entity.Status = models.EntityStatusPublished
	if err := e.repo.UpdateEntity(r.Context(), entity); err != nil {
		slog.Error("Failed to publish entity", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to publish entity", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(EntityResponse{Entity: *entity, Message: "Entity published successfully"})

	slog.Info("Entity published", "entity_id", entityID, "user_id", user.ID)
}

// GetEntitySessionsHandler lists the sessions recorded against an entity,
// most recent first.
func (e *EntityEndpoints) GetEntitySessionsHandler(w http.ResponseWriter, r *http.Request) {
	user, orgID, ok := organizationMember(w, r)
	if !ok {
		return
	}

	entityID := chi.URLParam(r, "id")
	entity, err := e.repo.GetEntityScoped(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to get entity for session listing", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to get entity", http.StatusInternalServerError)
		return
	}
	if entity == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	sessions, err := e.repo.GetSessions(r.Context(), orgID, entityID)
	if err != nil {
		slog.Error("Failed to list sessions", "error", err, "entity_id", entityID, "user_id", user.ID)
		http.Error(w, "Failed to list sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}
