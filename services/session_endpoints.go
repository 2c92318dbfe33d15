package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/voxprep/backend/models"
	"github.com/voxprep/backend/repository"
)

type SessionEndpoints struct {
	repo         *repository.GORMRepository
	store        *SessionStore
	authorizer   *Authorizer
	orchestrator *CallOrchestrator
	poller       *ReviewPoller
	scorer       *Scorer
	statusPolicy RetryPolicy
}

type StartSessionRequest struct {
	EntityID string         `json:"entity_id" validate:"required"`
	Token    string         `json:"token,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type SessionResponse struct {
	Success   bool            `json:"success"`
	Session   *models.Session `json:"session,omitempty"`
	CallState string          `json:"call_state,omitempty"`
}

type ReviewResponse struct {
	Success bool    `json:"success"`
	Review  *Review `json:"review,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func NewSessionEndpoints(repo *repository.GORMRepository, store *SessionStore, authorizer *Authorizer, orchestrator *CallOrchestrator, poller *ReviewPoller, scorer *Scorer, statusPolicy RetryPolicy) *SessionEndpoints {
	return &SessionEndpoints{
		repo:         repo,
		store:        store,
		authorizer:   authorizer,
		orchestrator: orchestrator,
		poller:       poller,
		scorer:       scorer,
		statusPolicy: statusPolicy,
	}
}

func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/start", e.StartSessionHandler)
		r.Get("/{id}", e.GetSessionHandler)
		r.Post("/{id}/end", e.EndSessionHandler)
		r.Get("/{id}/review", e.GetReviewHandler)
	})
	r.Post("/score", e.ScoreHandler)
}

// writeServiceError maps the service error taxonomy onto HTTP statuses
// with the standard failure envelope.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrAgentUnavailable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, ErrExhaustedRetries):
		status = http.StatusGatewayTimeout
	case IsTransient(err):
		status = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
	})
}

// authorizeEntity fetches the entity and runs the access check. The token
// comes from the request body on start and from the token query parameter
// everywhere else.
func (e *SessionEndpoints) authorizeEntity(r *http.Request, entityID, token string) (*models.Entity, error) {
	entity, err := e.repo.GetEntity(r.Context(), entityID)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, ErrNotFound
	}

	decision, err := e.authorizer.Authorize(r.Context(), entity, token)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		// Missing and invalid tokens both read as forbidden, never as a
		// missing entity.
		return nil, fmt.Errorf("%w: %s", ErrForbidden, decision.Reason)
	}
	return entity, nil
}

func (e *SessionEndpoints) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EntityID == "" {
		http.Error(w, "entity_id is required", http.StatusBadRequest)
		return
	}

	entity, err := e.authorizeEntity(r, req.EntityID, req.Token)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	var userID *string
	if user := UserFromContext(r.Context()); user != nil {
		userID = &user.ID
	}
	var token *string
	if req.Token != "" {
		token = &req.Token
	}

	session, err := e.store.CreateSession(r.Context(), entity.ID, entity.OrganizationID, userID, token, req.Metadata)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	runner, err := e.orchestrator.StartCall(r.Context(), session, entity)
	if err != nil {
		slog.Error("Failed to start call", "error", err, "session_id", session.ID)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		Session:   session,
		CallState: runner.State().String(),
	})

	slog.Info("Session started", "session_id", session.ID, "entity_id", entity.ID)
}

// loadSession re-checks access and fetches the session scoped to the
// entity's organization. Every read of a private entity's session presents
// the token again.
func (e *SessionEndpoints) loadSession(r *http.Request) (*models.Session, *models.Entity, error) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		return nil, nil, ErrNotFound
	}

	entity, err := e.authorizeEntity(r, entityID, r.URL.Query().Get("token"))
	if err != nil {
		return nil, nil, err
	}

	sessionID := chi.URLParam(r, "id")
	session, err := e.store.GetSession(r.Context(), entity.OrganizationID, entity.ID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return session, entity, nil
}

// waitForTerminal re-reads the session on the status backoff schedule
// until it reaches a terminal status or the shorter status ceiling runs
// out, in which case the latest row is returned as-is.
func (e *SessionEndpoints) waitForTerminal(r *http.Request, session *models.Session) *models.Session {
	for attempt := 0; attempt < e.statusPolicy.MaxRetries; attempt++ {
		if session.IsTerminal() {
			return session
		}
		if err := sleepContext(r.Context(), e.statusPolicy.NextDelay(attempt)); err != nil {
			return session
		}
		latest, err := e.store.GetSession(r.Context(), session.OrganizationID, session.EntityID, session.ID)
		if err != nil {
			return session
		}
		session = latest
	}
	return session
}

func (e *SessionEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, _, err := e.loadSession(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		session = e.waitForTerminal(r, session)
	}

	callState := ""
	if runner := e.orchestrator.ActiveRunner(session.ID); runner != nil {
		callState = runner.State().String()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		Session:   session,
		CallState: callState,
	})
}

func (e *SessionEndpoints) EndSessionHandler(w http.ResponseWriter, r *http.Request) {
	session, _, err := e.loadSession(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	stopped := e.orchestrator.EndSession(r.Context(), session.ID)
	if !stopped && !session.IsTerminal() {
		// No live call to tear down; close out the row directly.
		if err := e.store.UpdateStatus(r.Context(), session.ID, models.SessionStatusCancelled); err != nil && !errors.Is(err, ErrInvalidTransition) {
			writeServiceError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"stopped": stopped,
	})

	slog.Info("Session end requested", "session_id", session.ID, "had_active_call", stopped)
}

func (e *SessionEndpoints) GetReviewHandler(w http.ResponseWriter, r *http.Request) {
	session, entity, err := e.loadSession(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if session.Status != models.SessionStatusCompleted {
		writeServiceError(w, Transientf("session %s is %s, review requires a completed session", session.ID, session.Status))
		return
	}

	review, err := e.poller.Poll(r.Context(), session.ID, entity.ID, entity.OrganizationID)
	if err != nil {
		slog.Error("Review retrieval failed", "error", err, "session_id", session.ID)
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReviewResponse{Success: true, Review: review})
}

// ScoreHandler serves reviews computed by the in-process scorer. It speaks
// the same contract as the external scoring service so the poller's HTTP
// client and the local scorer are interchangeable.
func (e *SessionEndpoints) ScoreHandler(w http.ResponseWriter, r *http.Request) {
	if e.scorer == nil {
		http.Error(w, "Local scoring is not enabled", http.StatusNotFound)
		return
	}

	var req scoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	review := e.scorer.Get(req.SessionID)
	w.Header().Set("Content-Type", "application/json")
	if review == nil {
		json.NewEncoder(w).Encode(scoringResponse{Success: false, Error: "review not ready"})
		return
	}
	json.NewEncoder(w).Encode(scoringResponse{Success: true, Review: review})
}
