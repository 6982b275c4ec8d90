package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/terra-clan/duothan-engine/internal/config"
	"github.com/terra-clan/duothan-engine/internal/events"
	"github.com/terra-clan/duothan-engine/internal/models"
	"github.com/terra-clan/duothan-engine/internal/services"
	"github.com/terra-clan/duothan-engine/internal/storage"
)

// Progression is the engine surface the HTTP layer exposes
type Progression interface {
	CreateTeam(ctx context.Context, name string) (*models.Team, error)
	GetTeam(ctx context.Context, teamID string) (*models.Team, error)
	Board(ctx context.Context, teamID string) (*models.Board, error)
	RecordCompletion(ctx context.Context, teamID string, req models.RecordCompletionRequest) (*models.CompletionRecord, error)
	EvaluateEligibility(ctx context.Context, teamID string) (models.Eligibility, error)
	RedeemUnlockCode(ctx context.Context, teamID, code string) (models.RedeemResult, error)
	Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error)
	TeamRank(ctx context.Context, teamID string) (models.TeamRank, error)
	CompetitionStats(ctx context.Context) (models.CompetitionStats, error)
	OnCatalogChanged()
	Reevaluate(ctx context.Context) (models.SweepReport, error)
	SystemHealth(ctx context.Context) (models.SystemHealth, error)
	ForceRegenerateCode(ctx context.Context, teamID string) (*models.Team, error)
	RevokeCompletion(ctx context.Context, teamID, challengeID string) (*models.CompletionRecord, error)
	SetTeamActive(ctx context.Context, teamID string, active bool) (*models.Team, error)
	InspectUnlockCode(ctx context.Context, code string) (models.CodeInspection, error)
}

// ChallengeEditor is implemented by catalogs that accept runtime edits
type ChallengeEditor interface {
	Upsert(ch models.Challenge)
	SetActive(id string, active bool) error
}

// CatalogAnnouncer tells other engine instances that the catalog changed
type CatalogAnnouncer interface {
	Publish(ctx context.Context) error
}

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	engine         Progression
	hub            *events.Hub
	registry       *services.Registry
	announcer      CatalogAnnouncer
	editor         ChallengeEditor
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	engine Progression,
	clients storage.ClientStore,
	hub *events.Hub,
	registry *services.Registry,
) *Server {
	if registry == nil {
		registry = services.NewRegistry(0)
	}
	s := &Server{
		config:         cfg,
		engine:         engine,
		hub:            hub,
		registry:       registry,
		authMiddleware: NewAuthMiddleware(clients),
	}
	s.setupRouter()
	return s
}

// SetAnnouncer enables cross-instance catalog change notifications
func (s *Server) SetAnnouncer(a CatalogAnnouncer) {
	s.announcer = a
}

// SetChallengeEditor enables the admin challenge endpoints
func (s *Server) SetChallengeEditor(e ChallengeEditor) {
	s.editor = e
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// the event stream is long-lived, so it sits outside the request timeout
		r.With(s.authMiddleware.RequirePermission(models.PermAdmin)).Get("/admin/events", s.handleEventStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			read := s.authMiddleware.RequirePermission(models.PermTeamsRead)
			write := s.authMiddleware.RequirePermission(models.PermTeamsWrite)
			admin := s.authMiddleware.RequirePermission(models.PermAdmin)

			r.Route("/teams", func(r chi.Router) {
				r.With(write).Post("/", s.handleCreateTeam)

				r.Route("/{id}", func(r chi.Router) {
					r.With(read).Get("/", s.handleGetTeam)
					r.With(read).Get("/board", s.handleGetBoard)
					r.With(read).Get("/rank", s.handleTeamRank)
					r.With(write).Post("/completions", s.handleRecordCompletion)
					r.With(write).Post("/eligibility", s.handleEvaluateEligibility)
					r.With(write).Post("/unlock", s.handleRedeem)
				})
			})

			r.With(read).Get("/leaderboard", s.handleLeaderboard)
			r.With(read).Get("/leaderboard/stats", s.handleCompetitionStats)

			r.Route("/admin", func(r chi.Router) {
				r.Use(admin)
				r.Post("/catalog-changed", s.handleCatalogChanged)
				r.Post("/reevaluate", s.handleReevaluate)
				r.Get("/health", s.handleSystemHealth)
				r.Post("/teams/{id}/unlock-code/reset", s.handleResetCode)
				r.Post("/teams/{id}/completions/{challengeId}/revoke", s.handleRevokeCompletion)
				r.Post("/teams/{id}/deactivate", s.handleSetTeamActive(false))
				r.Post("/teams/{id}/activate", s.handleSetTeamActive(true))
				r.Post("/unlock-codes/inspect", s.handleInspectCode)
				r.Put("/challenges/{challengeId}", s.handleUpsertChallenge)
				r.Post("/challenges/{challengeId}/deactivate", s.handleSetChallengeActive(false))
				r.Post("/challenges/{challengeId}/activate", s.handleSetChallengeActive(true))
			})
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
