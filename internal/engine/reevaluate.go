package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/duothan-engine/internal/eligibility"
	"github.com/terra-clan/duothan-engine/internal/models"
)

// OnCatalogChange installs the trigger OnCatalogChanged hands work to
func (e *Engine) OnCatalogChange(fn func()) {
	e.hookMu.Lock()
	defer e.hookMu.Unlock()
	e.onCatalogChange = fn
}

// OnCatalogChanged schedules a reevaluation of every team and returns at once
func (e *Engine) OnCatalogChanged() {
	e.hookMu.RLock()
	fn := e.onCatalogChange
	e.hookMu.RUnlock()

	if fn != nil {
		fn()
		return
	}

	go func() {
		if _, err := e.Reevaluate(context.Background()); err != nil {
			slog.Error("catalog change reevaluation failed", "error", err)
		}
	}()
}

// Reevaluate re-runs eligibility for every team against its own snapshot and
// issues codes to teams that newly qualify. Existing codes are never touched.
func (e *Engine) Reevaluate(ctx context.Context) (models.SweepReport, error) {
	start := time.Now()

	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return models.SweepReport{}, err
	}
	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return models.SweepReport{}, fmt.Errorf("failed to list teams: %w", err)
	}

	var eligible, generated, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(e.cfg.SweepConcurrency)

	for _, t := range teams {
		teamID := t.ID
		g.Go(func() error {
			elig, issued, err := e.reevaluateTeam(ctx, teamID, active)
			if err != nil {
				failed.Add(1)
				slog.Error("failed to reevaluate team", "team_id", teamID, "error", err)
				return nil
			}
			if elig {
				eligible.Add(1)
			}
			if issued {
				generated.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := models.SweepReport{
		Teams:          len(teams),
		Eligible:       int(eligible.Load()),
		CodesGenerated: int(generated.Load()),
		Failed:         int(failed.Load()),
		Duration:       time.Since(start),
	}

	slog.Info("reevaluation sweep completed",
		"teams", report.Teams,
		"eligible", report.Eligible,
		"codes_generated", report.CodesGenerated,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	e.publish(models.EventSweepCompleted, "", map[string]string{
		"teams":           strconv.Itoa(report.Teams),
		"codes_generated": strconv.Itoa(report.CodesGenerated),
		"failed":          strconv.Itoa(report.Failed),
	})

	return report, nil
}

func (e *Engine) reevaluateTeam(ctx context.Context, teamID string, active []models.Challenge) (bool, bool, error) {
	var eligible, generated bool
	team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
		eligible = eligibility.Evaluate(team, active).Eligible
		generated = e.issueCode(team, eligible, e.now())
		return generated, nil
	})
	if err != nil {
		return false, false, err
	}
	if generated {
		e.announceCode(team, "reevaluation")
	}
	return eligible, generated, nil
}

// ReconcileRequirements captures the snapshot of teams whose creation could not
// read the catalog. Only challenges that existed when the team was created are
// captured. It returns the number of teams reconciled.
func (e *Engine) ReconcileRequirements(ctx context.Context) (int, error) {
	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list teams: %w", err)
	}

	var pending []string
	for _, t := range teams {
		if t.RequirementsPending {
			pending = append(pending, t.ID)
		}
	}
	if len(pending) == 0 {
		return 0, nil
	}

	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, teamID := range pending {
		var generated bool
		team, err := e.mutate(ctx, teamID, false, func(team *models.Team) (bool, error) {
			if !team.RequirementsPending {
				return false, nil
			}
			now := e.now()
			team.Requirements = eligibility.CaptureSnapshot(existedAt(active, team.CreatedAt), now)
			team.RequirementsPending = false
			generated = e.issueCode(team, eligibility.Evaluate(team, active).Eligible, now)
			return true, nil
		})
		if err != nil {
			slog.Error("failed to reconcile team requirements", "team_id", teamID, "error", err)
			continue
		}
		reconciled++
		slog.Info("team requirements captured", "team_id", team.ID, "requirements", len(team.Requirements))
		if generated {
			e.announceCode(team, "reconciliation")
		}
	}

	return reconciled, nil
}

func existedAt(challenges []models.Challenge, at time.Time) []models.Challenge {
	out := make([]models.Challenge, 0, len(challenges))
	for _, ch := range challenges {
		if ch.CreatedAt.IsZero() || !ch.CreatedAt.After(at) {
			out = append(out, ch)
		}
	}
	return out
}

// Initialize prepares the engine at startup: pending snapshots are captured,
// then every team is reevaluated.
func (e *Engine) Initialize(ctx context.Context) error {
	slog.Info("initializing progression engine")

	if _, err := e.ReconcileRequirements(ctx); err != nil {
		slog.Warn("snapshot reconciliation failed at startup", "error", err)
	}

	if _, err := e.Reevaluate(ctx); err != nil {
		return fmt.Errorf("failed to run startup reevaluation: %w", err)
	}
	return nil
}
