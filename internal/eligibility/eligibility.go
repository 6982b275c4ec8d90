// Package eligibility decides whether a team has met its unlock requirements.
//
// Every call site that needs a team's progress goes through Evaluate. The
// requirement set is resolved once into a RequirementSource so the evaluator
// itself never branches on whether a team carries a snapshot.
package eligibility

import (
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// Source names reported in models.Eligibility.Source
const (
	SourceVersioned      = "versioned"
	SourceLegacyFallback = "legacy_fallback"
)

// RequirementSource yields the candidate challenge ids a team must complete,
// before filtering against the live catalog.
type RequirementSource interface {
	Name() string
	Candidates(activeAlgorithmic []models.Challenge) []string
}

// Versioned is a requirement set fixed at team creation
type Versioned struct {
	Snapshot []models.RequirementEntry
}

// Name implements RequirementSource
func (Versioned) Name() string { return SourceVersioned }

// Candidates returns the snapshot ids in capture order
func (v Versioned) Candidates([]models.Challenge) []string {
	ids := make([]string, 0, len(v.Snapshot))
	for _, entry := range v.Snapshot {
		ids = append(ids, entry.ChallengeID)
	}
	return ids
}

// LegacyFallback treats the current active algorithmic set as the requirement.
// It applies to teams without a snapshot.
type LegacyFallback struct{}

// Name implements RequirementSource
func (LegacyFallback) Name() string { return SourceLegacyFallback }

// Candidates returns every active algorithmic challenge
func (LegacyFallback) Candidates(activeAlgorithmic []models.Challenge) []string {
	ids := make([]string, 0, len(activeAlgorithmic))
	for _, ch := range activeAlgorithmic {
		ids = append(ids, ch.ID)
	}
	return ids
}

// SourceFor resolves the requirement source for a team
func SourceFor(team *models.Team) RequirementSource {
	if len(team.Requirements) == 0 {
		return LegacyFallback{}
	}
	return Versioned{Snapshot: team.Requirements}
}

// CaptureSnapshot copies the active algorithmic challenges into a new snapshot
func CaptureSnapshot(activeAlgorithmic []models.Challenge, now time.Time) []models.RequirementEntry {
	snapshot := make([]models.RequirementEntry, 0, len(activeAlgorithmic))
	seen := make(map[string]bool, len(activeAlgorithmic))
	for _, ch := range activeAlgorithmic {
		if !ch.IsActiveAlgorithmic() || seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		snapshot = append(snapshot, models.RequirementEntry{
			ChallengeID:    ch.ID,
			TitleAtCapture: ch.Title,
			CapturedAt:     now,
		})
	}
	return snapshot
}

// requiredIDs returns the source's candidates that are still active algorithmic challenges
func requiredIDs(source RequirementSource, activeAlgorithmic []models.Challenge) []string {
	return filterActive(source.Candidates(activeAlgorithmic), activeAlgorithmic)
}

// Evaluate computes eligibility for a team. A completion record of any
// correctness counts; an empty required set is never eligible.
func Evaluate(team *models.Team, activeAlgorithmic []models.Challenge) models.Eligibility {
	source := SourceFor(team)
	required := requiredIDs(source, activeAlgorithmic)

	completed := 0
	for _, id := range required {
		if team.Completion(id) != nil {
			completed++
		}
	}

	return models.Eligibility{
		Eligible:       len(required) > 0 && completed == len(required),
		CompletedCount: completed,
		RequiredCount:  len(required),
		Source:         source.Name(),
	}
}

func filterActive(candidates []string, activeAlgorithmic []models.Challenge) []string {
	live := make(map[string]bool, len(activeAlgorithmic))
	for i := range activeAlgorithmic {
		if activeAlgorithmic[i].IsActiveAlgorithmic() {
			live[activeAlgorithmic[i].ID] = true
		}
	}

	required := make([]string, 0, len(candidates))
	seen := make(map[string]bool, len(candidates))
	for _, id := range candidates {
		if live[id] && !seen[id] {
			seen[id] = true
			required = append(required, id)
		}
	}
	return required
}
