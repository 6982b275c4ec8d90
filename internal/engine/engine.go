// Package engine implements team progression: completions, eligibility,
// unlock code issuance and the buildathon gate.
//
// Every mutation re-reads the team, applies a change in memory and writes the
// whole aggregate back with a version compare-and-swap. A lost race is retried
// against the fresh state, so concurrent writers never overwrite each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/duothan-engine/internal/catalog"
	"github.com/terra-clan/duothan-engine/internal/events"
	"github.com/terra-clan/duothan-engine/internal/ledger"
	"github.com/terra-clan/duothan-engine/internal/models"
	"github.com/terra-clan/duothan-engine/internal/storage"
	"github.com/terra-clan/duothan-engine/internal/unlockcode"
)

const (
	defaultMaxRetries       = 8
	defaultSweepConcurrency = 8
	minTeamNameLength       = 3
	maxTeamNameLength       = 50
)

// Config tunes the engine
type Config struct {
	// MaxRetries bounds how many times a mutation is re-applied after losing a version race
	MaxRetries int
	// SweepConcurrency bounds how many teams a reevaluation processes at once
	SweepConcurrency int
}

// Engine runs progression operations against a team store and the challenge catalog
type Engine struct {
	store   storage.TeamStore
	catalog catalog.Catalog
	codes   *unlockcode.Generator
	events  events.Publisher
	cfg     Config

	now   func() time.Time
	newID func() string

	hookMu          sync.RWMutex
	onCatalogChange func()
}

// New creates an engine. A nil publisher discards events.
func New(store storage.TeamStore, cat catalog.Catalog, codes *unlockcode.Generator, pub events.Publisher, cfg Config) *Engine {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = defaultSweepConcurrency
	}
	if codes == nil {
		codes = unlockcode.NewGenerator("")
	}
	if pub == nil {
		pub = events.Discard{}
	}

	return &Engine{
		store:   store,
		catalog: cat,
		codes:   codes,
		events:  pub,
		cfg:     cfg,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// mutation changes a team in memory and reports whether it needs to be written
type mutation func(team *models.Team) (bool, error)

// mutate applies fn to the current state of a team and persists the result.
// resetCode permits replacing an already issued unlock code.
func (e *Engine) mutate(ctx context.Context, teamID string, resetCode bool, fn mutation) (*models.Team, error) {
	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		team, err := e.store.GetTeam(ctx, teamID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, ErrTeamNotFound
			}
			return nil, fmt.Errorf("failed to load team: %w", err)
		}

		before := team.Clone()
		changed, err := fn(team)
		if err != nil {
			return nil, err
		}
		if !changed {
			return team, nil
		}
		checkTransition(before, team, resetCode)

		err = e.store.UpdateTeam(ctx, team)
		switch {
		case err == nil:
			return team, nil
		case errors.Is(err, storage.ErrVersionConflict):
			slog.Debug("team version conflict, retrying", "team_id", teamID, "attempt", attempt)
		case errors.Is(err, storage.ErrAlreadyExists):
			// the generated unlock code collided with another team's
			slog.Warn("unique conflict on team update, retrying", "team_id", teamID, "attempt", attempt)
		case errors.Is(err, storage.ErrNotFound):
			return nil, ErrTeamNotFound
		default:
			return nil, fmt.Errorf("failed to update team: %w", err)
		}
	}

	slog.Warn("team update retries exhausted", "team_id", teamID, "attempts", e.cfg.MaxRetries)
	return nil, fmt.Errorf("%w: team %s lost %d consecutive update races", ErrTransient, teamID, e.cfg.MaxRetries)
}

// checkTransition panics if a write would break the aggregate rules
func checkTransition(before, after *models.Team, resetCode bool) {
	if err := ledger.CheckPoints(after); err != nil {
		violate(after.ID, "points_total", err.Error())
	}

	if before.HasUnlockCode() && after.UnlockCode != before.UnlockCode && !resetCode {
		violate(after.ID, "unlock_code_immutable",
			fmt.Sprintf("code %q would become %q", before.UnlockCode, after.UnlockCode))
	}

	if before.BuildathonUnlocked && !after.BuildathonUnlocked {
		violate(after.ID, "buildathon_one_way", "unlocked team would be locked again")
	}

	if !before.RequirementsPending && !sameSnapshot(before.Requirements, after.Requirements) {
		violate(after.ID, "snapshot_immutable", "requirement snapshot changed after capture")
	}
	if !before.RequirementsPending && after.RequirementsPending {
		violate(after.ID, "snapshot_immutable", "captured snapshot marked pending again")
	}
}

func sameSnapshot(a, b []models.RequirementEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ChallengeID != b[i].ChallengeID ||
			a[i].TitleAtCapture != b[i].TitleAtCapture ||
			!a[i].CapturedAt.Equal(b[i].CapturedAt) {
			return false
		}
	}
	return true
}

// activeAlgorithmic reads the live requirement candidates
func (e *Engine) activeAlgorithmic(ctx context.Context) ([]models.Challenge, error) {
	active, err := e.catalog.ListActive(ctx, models.PhaseAlgorithmic)
	if err != nil {
		return nil, fmt.Errorf("failed to list active challenges: %w", err)
	}
	return active, nil
}

// issueCode gives an eligible team its unlock code if it has none yet
func (e *Engine) issueCode(team *models.Team, eligible bool, now time.Time) bool {
	if !eligible || team.HasUnlockCode() {
		return false
	}
	// millisecond precision so the code's time segment survives storage round trips
	at := now.Truncate(time.Millisecond)
	team.UnlockCode = e.codes.Generate(at)
	team.UnlockCodeGeneratedAt = &at
	return true
}

func (e *Engine) publish(typ models.EventType, teamID string, data map[string]string) {
	e.events.Publish(models.Event{Type: typ, TeamID: teamID, At: e.now(), Data: data})
}

func (e *Engine) announceCode(team *models.Team, trigger string) {
	slog.Info("unlock code generated", "team_id", team.ID, "team", team.Name, "trigger", trigger)
	e.publish(models.EventUnlockCodeGenerated, team.ID, map[string]string{"trigger": trigger})
}

// GetTeam returns a team by id
func (e *Engine) GetTeam(ctx context.Context, teamID string) (*models.Team, error) {
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return team, nil
}
