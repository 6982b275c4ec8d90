package models

import (
	"time"
)

// RequirementEntry is one challenge captured into a team's requirement snapshot
type RequirementEntry struct {
	ChallengeID    string    `json:"challenge_id"`
	TitleAtCapture string    `json:"title_at_capture"`
	CapturedAt     time.Time `json:"captured_at"`
}

// CompletionRecord is the ledger entry for one (team, challenge) pair.
// Re-attempts mutate the same record, they never append a second one.
type CompletionRecord struct {
	ChallengeID   string    `json:"challenge_id"`
	IsCorrect     bool      `json:"is_correct"`
	PointsAwarded bool      `json:"points_awarded"`
	AwardedPoints int       `json:"awarded_points"`
	CompletedAt   time.Time `json:"completed_at"`
	// CorrectAt is set the first time the record became correct
	CorrectAt *time.Time `json:"correct_at,omitempty"`
}

// Team represents a competing group and the aggregate every progression
// mutation operates on. Version is the optimistic concurrency token.
type Team struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Requirements        []RequirementEntry `json:"requirements"`
	RequirementsPending bool               `json:"requirements_pending,omitempty"`

	Completions map[string]*CompletionRecord `json:"completions"`
	Points      int                          `json:"points"`

	UnlockCode            string     `json:"unlock_code,omitempty"`
	UnlockCodeGeneratedAt *time.Time `json:"unlock_code_generated_at,omitempty"`

	BuildathonUnlocked   bool       `json:"buildathon_unlocked"`
	BuildathonUnlockedAt *time.Time `json:"buildathon_unlocked_at,omitempty"`

	// Deactivated teams are hidden from rankings and cannot submit
	Deactivated   bool       `json:"deactivated,omitempty"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUnlockCode reports whether a code has been issued to the team
func (t *Team) HasUnlockCode() bool {
	return t.UnlockCode != ""
}

// Completion returns the ledger entry for a challenge, or nil
func (t *Team) Completion(challengeID string) *CompletionRecord {
	if t.Completions == nil {
		return nil
	}
	return t.Completions[challengeID]
}

// LastCorrectAt returns the latest time a challenge became correct (zero if none)
func (t *Team) LastCorrectAt() time.Time {
	var last time.Time
	for _, rec := range t.Completions {
		if rec.CorrectAt != nil && rec.CorrectAt.After(last) {
			last = *rec.CorrectAt
		}
	}
	return last
}

// Clone returns a deep copy so callers can mutate without aliasing stored state
func (t *Team) Clone() *Team {
	if t == nil {
		return nil
	}

	c := *t
	c.Requirements = append([]RequirementEntry(nil), t.Requirements...)
	c.Completions = make(map[string]*CompletionRecord, len(t.Completions))
	for id, rec := range t.Completions {
		r := *rec
		if rec.CorrectAt != nil {
			at := *rec.CorrectAt
			r.CorrectAt = &at
		}
		c.Completions[id] = &r
	}
	if t.UnlockCodeGeneratedAt != nil {
		at := *t.UnlockCodeGeneratedAt
		c.UnlockCodeGeneratedAt = &at
	}
	if t.BuildathonUnlockedAt != nil {
		at := *t.BuildathonUnlockedAt
		c.BuildathonUnlockedAt = &at
	}
	if t.DeactivatedAt != nil {
		at := *t.DeactivatedAt
		c.DeactivatedAt = &at
	}
	return &c
}

// CreateTeamRequest represents a request to create a team
type CreateTeamRequest struct {
	Name string `json:"name"`
}

// RecordCompletionRequest carries one judge result for a team
type RecordCompletionRequest struct {
	ChallengeID       string `json:"challenge_id"`
	IsCorrect         bool   `json:"is_correct"`
	AwardedPointsHint int    `json:"awarded_points_hint,omitempty"`
}

// RedeemRequest represents a buildathon unlock attempt
type RedeemRequest struct {
	Code string `json:"code"`
}
