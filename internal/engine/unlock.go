package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/terra-clan/duothan-engine/internal/eligibility"
	"github.com/terra-clan/duothan-engine/internal/models"
	"github.com/terra-clan/duothan-engine/internal/unlockcode"
)

// EvaluateEligibility evaluates a team and issues its unlock code if it just
// became eligible. Repeated or concurrent calls issue at most one code.
func (e *Engine) EvaluateEligibility(ctx context.Context, teamID string) (models.Eligibility, error) {
	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return models.Eligibility{}, err
	}

	var (
		result    models.Eligibility
		generated bool
	)
	team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
		result = eligibility.Evaluate(team, active)
		generated = e.issueCode(team, result.Eligible, e.now())
		return generated, nil
	})
	if err != nil {
		return models.Eligibility{}, err
	}

	if generated {
		e.announceCode(team, "evaluation")
	}
	result.UnlockCode = revealCode(team, result)
	return result, nil
}

// RedeemUnlockCode moves a team from locked to unlocked.
//
// Rejections are reported in the result, not as errors: already unlocked,
// requirements not met (with progress) and code mismatch, checked in that order.
func (e *Engine) RedeemUnlockCode(ctx context.Context, teamID, code string) (models.RedeemResult, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return models.RedeemResult{}, invalid("code", "must not be empty")
	}

	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return models.RedeemResult{}, err
	}

	var (
		result    models.RedeemResult
		generated bool
	)
	team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
		if team.Deactivated {
			return false, ErrTeamDeactivated
		}
		elig := eligibility.Evaluate(team, active)
		result = models.RedeemResult{Progress: elig.Progress()}
		generated = false

		if team.BuildathonUnlocked {
			result.Reason = models.ReasonAlreadyUnlocked
			result.UnlockedAt = team.BuildathonUnlockedAt
			return false, nil
		}
		if !elig.Eligible {
			result.Reason = models.ReasonRequirementsUnmet
			return false, nil
		}

		now := e.now()
		generated = e.issueCode(team, true, now)
		if code != team.UnlockCode {
			result.Reason = models.ReasonCodeMismatch
			return generated, nil
		}

		at := now
		team.BuildathonUnlocked = true
		team.BuildathonUnlockedAt = &at
		result.Unlocked = true
		result.Reason = models.ReasonUnlocked
		result.UnlockedAt = &at
		return true, nil
	})
	if err != nil {
		return models.RedeemResult{}, err
	}

	if generated {
		e.announceCode(team, "redemption")
	}
	if result.Unlocked {
		slog.Info("buildathon unlocked", "team_id", team.ID, "team", team.Name)
		e.publish(models.EventBuildathonUnlocked, team.ID, nil)
	} else {
		slog.Info("unlock code rejected", "team_id", team.ID, "reason", result.Reason,
			"completed", result.Progress.Completed, "required", result.Progress.Required)
	}

	return result, nil
}

// ForceRegenerateCode is the admin reset: the team's current code is discarded
// and, if the team is still eligible, a new one is issued in the same write.
func (e *Engine) ForceRegenerateCode(ctx context.Context, teamID string) (*models.Team, error) {
	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return nil, err
	}

	var previous string
	var generated bool
	team, err := e.mutate(ctx, teamID, true, func(team *models.Team) (bool, error) {
		previous = team.UnlockCode
		team.UnlockCode = ""
		team.UnlockCodeGeneratedAt = nil
		generated = e.issueCode(team, eligibility.Evaluate(team, active).Eligible, e.now())
		return previous != "" || generated, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Warn("unlock code force reset", "team_id", team.ID, "had_code", previous != "", "regenerated", generated)
	if generated {
		e.announceCode(team, "admin_reset")
	}
	return team, nil
}

// InspectUnlockCode splits a code into its segments and finds the team holding it.
// A malformed code is a validation error; a well-formed code nobody holds is
// reported with Issued false.
func (e *Engine) InspectUnlockCode(ctx context.Context, code string) (models.CodeInspection, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	parts, err := unlockcode.Parse(code, e.codes.Prefix())
	if err != nil {
		return models.CodeInspection{}, invalid("code", err.Error())
	}

	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return models.CodeInspection{}, fmt.Errorf("failed to list teams: %w", err)
	}

	result := models.CodeInspection{
		Code:   code,
		Prefix: parts.Prefix,
		Random: parts.Random,
		Stamp:  parts.Stamp,
	}
	for _, t := range teams {
		if t.UnlockCode != code {
			continue
		}
		result.Issued = true
		result.TeamID = t.ID
		result.TeamName = t.Name
		result.GeneratedAt = t.UnlockCodeGeneratedAt
		if t.UnlockCodeGeneratedAt != nil {
			result.StampMatches = unlockcode.Stamp(*t.UnlockCodeGeneratedAt) == parts.Stamp
		}
		break
	}
	return result, nil
}
