package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/terra-clan/duothan-engine/internal/catalog"
	"github.com/terra-clan/duothan-engine/internal/eligibility"
	"github.com/terra-clan/duothan-engine/internal/ledger"
	"github.com/terra-clan/duothan-engine/internal/models"
	"github.com/terra-clan/duothan-engine/internal/storage"
)

// CreateTeam registers a team and captures its requirement snapshot.
//
// A catalog failure does not fail creation: the team is stored with an empty
// snapshot marked pending and ReconcileRequirements captures it later.
func (e *Engine) CreateTeam(ctx context.Context, name string) (*models.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalid("name", "must not be empty")
	}
	if n := utf8.RuneCountInString(name); n < minTeamNameLength || n > maxTeamNameLength {
		return nil, invalid("name", fmt.Sprintf("must be %d to %d characters", minTeamNameLength, maxTeamNameLength))
	}

	now := e.now()
	team := &models.Team{
		ID:          e.newID(),
		Name:        name,
		Completions: make(map[string]*models.CompletionRecord),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	active, err := e.catalog.ListActive(ctx, models.PhaseAlgorithmic)
	if err != nil {
		slog.Warn("catalog unavailable at team creation, snapshot deferred", "team", name, "error", err)
		team.RequirementsPending = true
	} else {
		team.Requirements = eligibility.CaptureSnapshot(active, now)
	}

	if err := e.store.CreateTeam(ctx, team); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return nil, ErrTeamNameTaken
		}
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	slog.Info("team created",
		"team_id", team.ID,
		"team", team.Name,
		"requirements", len(team.Requirements),
		"pending", team.RequirementsPending,
	)
	e.publish(models.EventTeamCreated, team.ID, map[string]string{
		"name":         team.Name,
		"requirements": strconv.Itoa(len(team.Requirements)),
	})

	return team, nil
}

// RecordCompletion folds one judge result into the team's ledger and
// re-evaluates eligibility in the same write.
func (e *Engine) RecordCompletion(ctx context.Context, teamID string, req models.RecordCompletionRequest) (*models.CompletionRecord, error) {
	challengeID := strings.TrimSpace(req.ChallengeID)
	if challengeID == "" {
		return nil, invalid("challenge_id", "must not be empty")
	}
	if req.AwardedPointsHint < 0 {
		return nil, invalid("awarded_points_hint", "must not be negative")
	}

	ch, err := e.catalog.Get(ctx, challengeID)
	if err != nil {
		if errors.Is(err, catalog.ErrChallengeNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	if !ch.Active {
		return nil, ErrChallengeInactive
	}

	points := ch.Points
	if req.AwardedPointsHint > 0 {
		points = req.AwardedPointsHint
	}

	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return nil, err
	}

	var (
		outcome   ledger.Outcome
		generated bool
	)
	team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
		if team.Deactivated {
			return false, ErrTeamDeactivated
		}
		if team.Completion(ch.ID) == nil {
			if ch.Phase == models.PhaseBuildathon && !team.BuildathonUnlocked {
				return false, ErrPhaseLocked
			}
			if !prerequisitesSolved(team, ch) {
				return false, ErrChallengeLocked
			}
		}

		now := e.now()
		outcome = ledger.Apply(team, ch.ID, req.IsCorrect, points, now)
		generated = e.issueCode(team, eligibility.Evaluate(team, active).Eligible, now)
		return outcome.Changed() || generated, nil
	})
	if err != nil {
		return nil, err
	}

	rec := *team.Completion(ch.ID)
	if outcome.Changed() {
		slog.Info("completion recorded",
			"team_id", team.ID,
			"challenge_id", ch.ID,
			"is_correct", rec.IsCorrect,
			"credited", outcome.Credited,
			"points", team.Points,
		)
		e.publish(models.EventCompletionRecorded, team.ID, map[string]string{
			"challenge_id": ch.ID,
			"is_correct":   strconv.FormatBool(rec.IsCorrect),
			"credited":     strconv.Itoa(outcome.Credited),
		})
	}
	if generated {
		e.announceCode(team, "completion")
	}

	return &rec, nil
}

// RevokeCompletion is the admin correction for a wrongly accepted result.
// Points are debited; the record stays so the attempt still counts.
func (e *Engine) RevokeCompletion(ctx context.Context, teamID, challengeID string) (*models.CompletionRecord, error) {
	challengeID = strings.TrimSpace(challengeID)
	if challengeID == "" {
		return nil, invalid("challenge_id", "must not be empty")
	}

	var debited int
	team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
		rec := team.Completion(challengeID)
		if rec == nil {
			return false, ErrCompletionNotFound
		}
		wasCorrect := rec.IsCorrect
		_, d, err := ledger.Revoke(team, challengeID)
		if err != nil {
			return false, ErrCompletionNotFound
		}
		debited = d
		return wasCorrect || d > 0, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("completion revoked", "team_id", team.ID, "challenge_id", challengeID, "debited", debited, "points", team.Points)
	rec := *team.Completion(challengeID)
	return &rec, nil
}

// SetTeamActive deactivates or reactivates a team. A deactivated team keeps
// its ledger and code but leaves the rankings and cannot record or redeem.
func (e *Engine) SetTeamActive(ctx context.Context, teamID string, active bool) (*models.Team, error) {
	var changed bool
	team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
		if team.Deactivated != active {
			changed = false
			return false, nil
		}
		changed = true
		team.Deactivated = !active
		team.DeactivatedAt = nil
		if !active {
			at := e.now()
			team.DeactivatedAt = &at
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		typ := models.EventTeamReactivated
		if !active {
			typ = models.EventTeamDeactivated
		}
		slog.Info("team activation changed", "team_id", team.ID, "team", team.Name, "active", active)
		e.publish(typ, team.ID, nil)
	}
	return team, nil
}

func prerequisitesSolved(team *models.Team, ch *models.Challenge) bool {
	for _, id := range ch.Prerequisites {
		rec := team.Completion(id)
		if rec == nil || !rec.IsCorrect {
			return false
		}
	}
	return true
}

// Board returns the team's view of both phases
func (e *Engine) Board(ctx context.Context, teamID string) (*models.Board, error) {
	team, err := e.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	algorithmic, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return nil, err
	}
	buildathon, err := e.catalog.ListActive(ctx, models.PhaseBuildathon)
	if err != nil {
		return nil, fmt.Errorf("failed to list buildathon challenges: %w", err)
	}

	elig := eligibility.Evaluate(team, algorithmic)
	board := &models.Board{
		TeamID:             team.ID,
		Points:             team.Points,
		Algorithmic:        make([]models.BoardChallenge, 0, len(algorithmic)),
		Buildathon:         make([]models.BoardChallenge, 0, len(buildathon)),
		Progress:           elig.Progress(),
		Eligible:           elig.Eligible,
		BuildathonUnlocked: team.BuildathonUnlocked,
		UnlockCode:         revealCode(team, elig),
	}

	for i := range algorithmic {
		ch := &algorithmic[i]
		board.Algorithmic = append(board.Algorithmic, models.BoardChallenge{
			Challenge: *ch,
			Status:    statusOf(team, ch.ID),
			Locked:    !prerequisitesSolved(team, ch),
		})
	}
	for i := range buildathon {
		ch := &buildathon[i]
		board.Buildathon = append(board.Buildathon, models.BoardChallenge{
			Challenge: *ch,
			Status:    statusOf(team, ch.ID),
			Locked:    !team.BuildathonUnlocked || !prerequisitesSolved(team, ch),
		})
	}

	return board, nil
}

func statusOf(team *models.Team, challengeID string) models.ChallengeStatus {
	rec := team.Completion(challengeID)
	switch {
	case rec == nil:
		return models.StatusNotAttempted
	case rec.IsCorrect:
		return models.StatusSolved
	default:
		return models.StatusAttempted
	}
}

// revealCode returns the code only to teams that are eligible now or already unlocked
func revealCode(team *models.Team, elig models.Eligibility) string {
	if elig.Eligible || team.BuildathonUnlocked {
		return team.UnlockCode
	}
	return ""
}
