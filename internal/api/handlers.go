package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/terra-clan/duothan-engine/internal/engine"
	"github.com/terra-clan/duothan-engine/internal/services"
)

const maxBodyBytes = 64 << 10

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	writeEnvelope(w, status, apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, apiResponse{
		Error: &apiError{Code: code, Message: message},
	})
}

func writeEnvelope(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}

var engineErrors = []struct {
	target error
	status int
	code   string
}{
	{engine.ErrValidation, http.StatusBadRequest, "validation_error"},
	{engine.ErrTeamNotFound, http.StatusNotFound, "team_not_found"},
	{engine.ErrChallengeNotFound, http.StatusNotFound, "challenge_not_found"},
	{engine.ErrCompletionNotFound, http.StatusNotFound, "completion_not_found"},
	{engine.ErrTeamNameTaken, http.StatusConflict, "team_name_taken"},
	{engine.ErrChallengeInactive, http.StatusUnprocessableEntity, "challenge_inactive"},
	{engine.ErrChallengeLocked, http.StatusForbidden, "challenge_locked"},
	{engine.ErrPhaseLocked, http.StatusForbidden, "phase_locked"},
	{engine.ErrTeamDeactivated, http.StatusForbidden, "team_deactivated"},
}

// respondEngineError maps engine errors onto HTTP statuses.
// Anything unrecognised is logged and reported as an internal error.
func respondEngineError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if engine.IsValidation(err) {
		for _, m := range engineErrors {
			if errors.Is(err, m.target) {
				slog.Debug("request rejected", "op", op, "code", m.code, "error", err)
				respondError(w, m.status, m.code, err.Error())
				return
			}
		}
	}

	if errors.Is(err, engine.ErrTransient) {
		slog.Warn("operation hit contention", "op", op, "error", err)
		w.Header().Set("Retry-After", "1")
		respondError(w, http.StatusServiceUnavailable, "conflict_retry", "too many concurrent updates, retry shortly")
		return
	}

	slog.Error("operation failed", "op", op, "error", err, "path", r.URL.Path)
	respondError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

type dependencyStatus struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	results := s.registry.HealthCheckAll(r.Context())

	deps := make([]dependencyStatus, 0, len(results))
	for name, err := range results {
		st := dependencyStatus{Name: name, Healthy: err == nil}
		if err != nil {
			st.Error = err.Error()
		}
		deps = append(deps, st)
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })

	if !services.Healthy(results) {
		slog.Warn("readiness check failed", "dependencies", deps)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "ready",
		"dependencies": deps,
	})
}
