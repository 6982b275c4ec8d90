// Package ledger applies judge results to a team's completion records.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// ErrNoRecord is returned when a correction targets a challenge the team never attempted
var ErrNoRecord = errors.New("no completion record")

// Outcome describes what a single ledger update changed
type Outcome struct {
	Record   *models.CompletionRecord
	Created  bool
	Upgraded bool
	Credited int
}

// Changed reports whether the team was modified
func (o Outcome) Changed() bool {
	return o.Created || o.Upgraded
}

// Apply folds one judge result into the team.
//
// The first attempt creates the record and fixes its CompletedAt. A correct
// result credits points once per record; an incorrect result on an existing
// record leaves it untouched.
func Apply(team *models.Team, challengeID string, isCorrect bool, points int, now time.Time) Outcome {
	if team.Completions == nil {
		team.Completions = make(map[string]*models.CompletionRecord)
	}

	rec, ok := team.Completions[challengeID]
	if !ok {
		rec = &models.CompletionRecord{
			ChallengeID: challengeID,
			CompletedAt: now,
		}
		team.Completions[challengeID] = rec
		out := Outcome{Record: rec, Created: true}
		if isCorrect {
			out.Credited = markCorrect(team, rec, points, now)
		}
		return out
	}

	if rec.IsCorrect || !isCorrect {
		return Outcome{Record: rec}
	}

	return Outcome{Record: rec, Upgraded: true, Credited: markCorrect(team, rec, points, now)}
}

func markCorrect(team *models.Team, rec *models.CompletionRecord, points int, now time.Time) int {
	rec.IsCorrect = true
	at := now
	rec.CorrectAt = &at
	if rec.PointsAwarded {
		return 0
	}
	rec.PointsAwarded = true
	rec.AwardedPoints = points
	team.Points += points
	return points
}

// Revoke is the admin correction: a correct record goes back to incorrect and
// its awarded points are debited. The record is kept, so the attempt still counts.
func Revoke(team *models.Team, challengeID string) (*models.CompletionRecord, int, error) {
	rec := team.Completion(challengeID)
	if rec == nil {
		return nil, 0, ErrNoRecord
	}

	debited := 0
	if rec.PointsAwarded {
		debited = rec.AwardedPoints
		team.Points -= debited
	}
	rec.IsCorrect = false
	rec.PointsAwarded = false
	rec.AwardedPoints = 0
	rec.CorrectAt = nil
	return rec, debited, nil
}

// Sum returns the points implied by the team's records
func Sum(team *models.Team) int {
	total := 0
	for _, rec := range team.Completions {
		if rec.PointsAwarded {
			total += rec.AwardedPoints
		}
	}
	return total
}

// CheckPoints verifies that the running total matches the records
func CheckPoints(team *models.Team) error {
	if sum := Sum(team); sum != team.Points {
		return fmt.Errorf("team %s: points %d do not match awarded total %d", team.ID, team.Points, sum)
	}
	return nil
}
