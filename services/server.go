package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voxprep/backend/repository"
	"github.com/voxprep/backend/voicecall"
)

// Server holds all server dependencies
type Server struct {
	config           *Config
	gormDB           *repository.GORMRepository
	pgPool           *pgxpool.Pool
	geminiService    *GeminiService
	scorer           *Scorer
	authService      *AuthService
	authEndpoints    *AuthEndpoints
	sessionEndpoints *SessionEndpoints
	entityEndpoints  *EntityEndpoints
	inviteEndpoints  *InviteEndpoints
	sessionStore     *SessionStore
	authorizer       *Authorizer
	orchestrator     *CallOrchestrator
	poller           *ReviewPoller
	hub              *voicecall.Hub
	upgrader         websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database connections. The pgx pool is used for
// health checks only; everything else goes through GORM.
func (s *Server) SetDatabase(db *repository.GORMRepository, pool *pgxpool.Pool) {
	s.gormDB = db
	s.pgPool = pool
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices() error {
	s.hub = voicecall.NewHub()
	go s.hub.Run()

	if s.config.JWT.Secret != "" && s.gormDB != nil {
		s.authService = NewAuthService(s.gormDB, s.config.JWT.Secret)
		s.authEndpoints = NewAuthEndpoints(s.authService)
		slog.Info("Authentication service initialized")
	}

	if s.gormDB == nil {
		slog.Warn("Database not configured, session services disabled")
		return nil
	}

	s.authorizer = NewAuthorizer(s.gormDB)
	s.sessionStore = NewSessionStore(s.gormDB)
	s.entityEndpoints = NewEntityEndpoints(s.gormDB)
	s.inviteEndpoints = NewInviteEndpoints(s.gormDB)

	// Reviews come either from an external scoring service or from the
	// in-process Gemini scorer. The poller treats both the same.
	var fetcher ReviewFetcher
	if s.config.Scoring.BaseURL != "" {
		fetcher = NewScoringClient(s.config.Scoring.BaseURL)
		slog.Info("Using external scoring service", "base_url", s.config.Scoring.BaseURL)
	} else if s.config.Scoring.GeminiAPIKey != "" {
		s.geminiService = NewGeminiService(s.config.Scoring.GeminiAPIKey)
		if s.geminiService != nil {
			s.scorer = NewScorer(s.geminiService)
			fetcher = s.scorer
			slog.Info("Using in-process Gemini scorer")
		}
	}

	policy := RetryPolicy{
		BaseDelay:     s.config.Scoring.BaseDelay,
		BackoffFactor: 2,
		MaxDelay:      s.config.Scoring.MaxDelay,
		MaxRetries:    s.config.Scoring.MaxRetries,
	}
	statusPolicy := policy
	statusPolicy.MaxRetries = s.config.Scoring.StatusMaxRetries

	if fetcher != nil {
		s.poller = NewReviewPoller(fetcher, policy)
	}

	onComplete := s.completionFunc()
	agentFactory := NewWebsocketVoiceAgentFactory(s.config.VoiceAgent.URL, s.config.VoiceAgent.APIKey)
	s.orchestrator = NewCallOrchestrator(s.sessionStore, s.hub, agentFactory, onComplete)

	s.sessionEndpoints = NewSessionEndpoints(s.gormDB, s.sessionStore, s.authorizer, s.orchestrator, s.poller, s.scorer, statusPolicy)
	slog.Info("Session services initialized")

	return nil
}

// completionFunc feeds completed transcripts to the local scorer when one
// is configured. With an external scoring service the transcript is
// already persisted and scoring happens on their side.
func (s *Server) completionFunc() CompletionFunc {
	return func(sessionID, entityID, orgID, transcript string) {
		if s.scorer == nil {
			return
		}
		entity, err := s.gormDB.GetEntity(context.Background(), entityID)
		if err != nil || entity == nil {
			slog.Error("Failed to load entity for scoring", "error", err, "entity_id", entityID)
			return
		}
		s.scorer.Enqueue(sessionID, entity, transcript)
	}
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		if s.authEndpoints != nil {
			r.Route("/auth", func(r chi.Router) {
				r.Post("/login", s.authEndpoints.LoginHandler)
				r.Post("/signup", s.authEndpoints.SignupHandler)
				r.Post("/refresh", s.authEndpoints.RefreshHandler)

				r.Group(func(r chi.Router) {
					r.Use(s.authService.Middleware)
					r.Post("/logout", s.authEndpoints.LogoutHandler)
					r.Get("/me", s.authEndpoints.MeHandler)
				})
			})
		}

		// Entity and invite management requires a signed-in organization
		// member.
		if s.entityEndpoints != nil && s.authService != nil {
			r.Group(func(r chi.Router) {
				r.Use(s.authService.Middleware)
				s.entityEndpoints.RegisterRoutes(r)
				s.inviteEndpoints.RegisterRoutes(r)
			})
		}

		// Session routes accept both signed-in users and anonymous
		// invite-token holders.
		if s.sessionEndpoints != nil {
			r.Group(func(r chi.Router) {
				if s.authService != nil {
					r.Use(s.authService.OptionalMiddleware)
				}
				s.sessionEndpoints.RegisterRoutes(r)
				r.Get("/sessions/{id}/live", s.liveSessionHandler)
			})
		}
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	allowedOrigins := strings.Split(allowedOriginsStr, ",")
	for i := range allowedOrigins {
		allowedOrigins[i] = strings.TrimSpace(allowedOrigins[i])
	}

	for _, allowed := range allowedOrigins {
		if allowed == origin {
			slog.Info("WebSocket connection accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"

	if s.pgPool != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pgPool.Ping(ctx); err != nil {
			dbStatus = "down"
			status = "degraded"
		} else {
			dbStatus = "up"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"` + status + `","database":"` + dbStatus + `"}`))
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"API v1","version":"1.0.0"}`))
}

// liveSessionHandler streams call events for one session over a
// websocket. Access is re-checked against the entity before upgrading.
func (s *Server) liveSessionHandler(w http.ResponseWriter, r *http.Request) {
	entityID := r.URL.Query().Get("entity_id")
	if entityID == "" {
		http.Error(w, "entity_id is required", http.StatusBadRequest)
		return
	}

	entity, err := s.gormDB.GetEntity(r.Context(), entityID)
	if err != nil {
		http.Error(w, "Failed to get entity", http.StatusInternalServerError)
		return
	}
	if entity == nil {
		http.Error(w, "Entity not found", http.StatusNotFound)
		return
	}

	decision, err := s.authorizer.Authorize(r.Context(), entity, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Authorization failed", http.StatusInternalServerError)
		return
	}
	if !decision.Allowed {
		http.Error(w, "Access denied", http.StatusForbidden)
		return
	}

	sessionID := chi.URLParam(r, "id")
	session, err := s.gormDB.GetSessionScoped(r.Context(), entity.OrganizationID, entity.ID, sessionID)
	if err != nil {
		http.Error(w, "Failed to get session", http.StatusInternalServerError)
		return
	}
	if session == nil {
		http.Error(w, "Session not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("Live session connection established", "session_id", sessionID)

	client := s.hub.RegisterClient(conn, sessionID)
	go client.WritePump()
	client.ReadPump()
}
