package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/duothan-engine/internal/catalog"
	"github.com/terra-clan/duothan-engine/internal/models"
)

// handleCatalogChanged queues a reevaluation sweep and tells peer instances.
// It answers before the sweep runs.
func (s *Server) handleCatalogChanged(w http.ResponseWriter, r *http.Request) {
	announced := s.catalogChanged(r.Context())

	slog.Info("catalog change reported", "client", actorName(r.Context()), "announced", announced)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"message":   "reevaluation scheduled",
		"announced": announced,
	})
}

// catalogChanged queues the local sweep and reports whether peers were told
func (s *Server) catalogChanged(ctx context.Context) bool {
	s.engine.OnCatalogChanged()

	if s.announcer == nil {
		return false
	}
	if err := s.announcer.Publish(ctx); err != nil {
		slog.Warn("failed to announce catalog change", "error", err)
		return false
	}
	return true
}

// handleReevaluate runs the sweep inline. A client hanging up must not
// abandon a sweep halfway, so the request's cancellation is dropped.
func (s *Server) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Reevaluate(context.WithoutCancel(r.Context()))
	if err != nil {
		respondEngineError(w, r, "reevaluate teams", err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.engine.SystemHealth(r.Context())
	if err != nil {
		respondEngineError(w, r, "compute system health", err)
		return
	}
	if s.hub != nil {
		health.EventSubscribers = s.hub.Subscribers()
	}

	respondJSON(w, http.StatusOK, health)
}

func (s *Server) handleResetCode(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "id")

	team, err := s.engine.ForceRegenerateCode(r.Context(), teamID)
	if err != nil {
		respondEngineError(w, r, "reset unlock code", err)
		return
	}

	slog.Info("unlock code reset", "team_id", teamID, "client", actorName(r.Context()))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"team_id":                  team.ID,
		"unlock_code":              team.UnlockCode,
		"unlock_code_generated_at": team.UnlockCodeGeneratedAt,
	})
}

func (s *Server) handleRevokeCompletion(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "id")
	challengeID := chi.URLParam(r, "challengeId")

	rec, err := s.engine.RevokeCompletion(r.Context(), teamID, challengeID)
	if err != nil {
		respondEngineError(w, r, "revoke completion", err)
		return
	}

	slog.Info("completion revoked", "team_id", teamID, "challenge_id", challengeID, "client", actorName(r.Context()))
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleSetTeamActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teamID := chi.URLParam(r, "id")

		team, err := s.engine.SetTeamActive(r.Context(), teamID, active)
		if err != nil {
			respondEngineError(w, r, "change team activation", err)
			return
		}

		slog.Info("team activation set", "team_id", teamID, "active", active, "client", actorName(r.Context()))
		respondJSON(w, http.StatusOK, team)
	}
}

type inspectCodeRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleInspectCode(w http.ResponseWriter, r *http.Request) {
	var req inspectCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := s.engine.InspectUnlockCode(r.Context(), req.Code)
	if err != nil {
		respondEngineError(w, r, "inspect unlock code", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// upsertChallengeRequest is the editable part of a challenge
type upsertChallengeRequest struct {
	Title         string       `json:"title"`
	Phase         models.Phase `json:"phase"`
	Difficulty    string       `json:"difficulty"`
	Points        int          `json:"points"`
	Active        *bool        `json:"active"`
	Order         int          `json:"order"`
	Prerequisites []string     `json:"prerequisites"`
}

func (req upsertChallengeRequest) validate() error {
	if strings.TrimSpace(req.Title) == "" {
		return errors.New("title is required")
	}
	if !req.Phase.IsValid() {
		return fmt.Errorf("invalid phase %q", req.Phase)
	}
	if req.Points < 0 {
		return errors.New("points must not be negative")
	}
	return nil
}

// handleUpsertChallenge edits the in-memory catalog. Edits last until the
// catalog file is reloaded.
func (s *Server) handleUpsertChallenge(w http.ResponseWriter, r *http.Request) {
	if s.editor == nil {
		respondError(w, http.StatusNotImplemented, "catalog_read_only", "catalog does not accept edits")
		return
	}

	var req upsertChallengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	ch := models.Challenge{
		ID:            chi.URLParam(r, "challengeId"),
		Title:         req.Title,
		Phase:         req.Phase,
		Difficulty:    req.Difficulty,
		Points:        req.Points,
		Active:        req.Active == nil || *req.Active,
		Order:         req.Order,
		Prerequisites: req.Prerequisites,
	}
	s.editor.Upsert(ch)
	announced := s.catalogChanged(r.Context())

	slog.Info("challenge saved", "challenge_id", ch.ID, "active", ch.Active, "client", actorName(r.Context()))
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"challenge_id": ch.ID,
		"active":       ch.Active,
		"announced":    announced,
	})
}

func (s *Server) handleSetChallengeActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.editor == nil {
			respondError(w, http.StatusNotImplemented, "catalog_read_only", "catalog does not accept edits")
			return
		}

		challengeID := chi.URLParam(r, "challengeId")
		if err := s.editor.SetActive(challengeID, active); err != nil {
			if errors.Is(err, catalog.ErrChallengeNotFound) {
				respondError(w, http.StatusNotFound, "challenge_not_found", err.Error())
				return
			}
			respondEngineError(w, r, "change challenge activation", err)
			return
		}
		announced := s.catalogChanged(r.Context())

		slog.Info("challenge activation set", "challenge_id", challengeID, "active", active, "client", actorName(r.Context()))
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"challenge_id": challengeID,
			"active":       active,
			"announced":    announced,
		})
	}
}
