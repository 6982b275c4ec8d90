package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/duothan-engine/internal/models"
)

const (
	defaultLeaderboardLimit = 50
	maxLeaderboardLimit     = 500
)

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTeamRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	team, err := s.engine.CreateTeam(r.Context(), req.Name)
	if err != nil {
		respondEngineError(w, r, "create team", err)
		return
	}

	respondJSON(w, http.StatusCreated, team)
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := s.engine.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, "get team", err)
		return
	}

	// the code is only shown by the eligibility and board endpoints
	view := team.Clone()
	view.UnlockCode = ""
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetBoard(w http.ResponseWriter, r *http.Request) {
	board, err := s.engine.Board(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, "load board", err)
		return
	}

	respondJSON(w, http.StatusOK, board)
}

func (s *Server) handleRecordCompletion(w http.ResponseWriter, r *http.Request) {
	var req models.RecordCompletionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.engine.RecordCompletion(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respondEngineError(w, r, "record completion", err)
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleEvaluateEligibility(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.EvaluateEligibility(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, "evaluate eligibility", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleRedeem answers 409 with the full result when the gate stays closed,
// so callers can show progress without a second request.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req models.RedeemRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	teamID := chi.URLParam(r, "id")
	result, err := s.engine.RedeemUnlockCode(r.Context(), teamID, req.Code)
	if err != nil {
		respondEngineError(w, r, "redeem unlock code", err)
		return
	}

	if !result.Unlocked {
		slog.Info("unlock attempt rejected", "team_id", teamID, "reason", result.Reason, "client", actorName(r.Context()))
		writeEnvelope(w, http.StatusConflict, apiResponse{
			Data:  result,
			Error: &apiError{Code: string(result.Reason), Message: "buildathon not unlocked"},
		})
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := defaultLeaderboardLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "validation_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxLeaderboardLimit)
	}

	entries, err := s.engine.Leaderboard(r.Context(), limit)
	if err != nil {
		respondEngineError(w, r, "load leaderboard", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleTeamRank(w http.ResponseWriter, r *http.Request) {
	rank, err := s.engine.TeamRank(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondEngineError(w, r, "load team rank", err)
		return
	}

	respondJSON(w, http.StatusOK, rank)
}

func (s *Server) handleCompetitionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.CompetitionStats(r.Context())
	if err != nil {
		respondEngineError(w, r, "load competition stats", err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
