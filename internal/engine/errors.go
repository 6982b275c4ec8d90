package engine

import (
	"errors"
	"fmt"
	"log/slog"
)

// Validation errors. They are returned before anything is written.
var (
	ErrValidation         = errors.New("validation failed")
	ErrTeamNotFound       = errors.New("team not found")
	ErrTeamNameTaken      = errors.New("team name already taken")
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeInactive  = errors.New("challenge is not active")
	ErrChallengeLocked    = errors.New("challenge prerequisites not solved")
	ErrPhaseLocked        = errors.New("buildathon phase is locked for this team")
	ErrCompletionNotFound = errors.New("team has no completion for this challenge")
	ErrTeamDeactivated    = errors.New("team is deactivated")
)

// ErrTransient is returned when an update kept losing to concurrent writers.
// The operation changed nothing and is safe to retry.
var ErrTransient = errors.New("transient conflict, retry later")

// ValidationError reports a bad input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Unwrap lets callers match ErrValidation
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err is a caller error rather than a system failure
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrValidation,
		ErrTeamNotFound,
		ErrTeamNameTaken,
		ErrChallengeNotFound,
		ErrChallengeInactive,
		ErrChallengeLocked,
		ErrPhaseLocked,
		ErrCompletionNotFound,
		ErrTeamDeactivated,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// InvariantViolation is the panic value raised when a team write would break
// one of the aggregate rules. It signals a logic error, never bad input.
type InvariantViolation struct {
	TeamID string
	Rule   string
	Detail string
}

func (v InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated for team %s: %s", v.Rule, v.TeamID, v.Detail)
}

func violate(teamID, rule, detail string) {
	v := InvariantViolation{TeamID: teamID, Rule: rule, Detail: detail}
	slog.Error("invariant violation", "team_id", teamID, "rule", rule, "detail", detail)
	panic(v)
}
