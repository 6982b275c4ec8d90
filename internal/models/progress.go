package models

import "time"

// Progress is a team's completion count against its effective requirement set
type Progress struct {
	Completed int `json:"completed"`
	Required  int `json:"required"`
}

// Eligibility is the outcome of evaluating a team's unlock requirements
type Eligibility struct {
	Eligible       bool   `json:"eligible"`
	CompletedCount int    `json:"completed_count"`
	RequiredCount  int    `json:"required_count"`
	Source         string `json:"requirement_source"`
	UnlockCode     string `json:"unlock_code,omitempty"`
}

// Progress returns the completed/required pair
func (e Eligibility) Progress() Progress {
	return Progress{Completed: e.CompletedCount, Required: e.RequiredCount}
}

// RedeemReason explains the outcome of a redemption attempt
type RedeemReason string

const (
	ReasonUnlocked          RedeemReason = "unlocked"
	ReasonAlreadyUnlocked   RedeemReason = "already_unlocked"
	ReasonRequirementsUnmet RedeemReason = "requirements_not_met"
	ReasonCodeMismatch      RedeemReason = "code_mismatch"
)

// RedeemResult is returned by the buildathon gate
type RedeemResult struct {
	Unlocked   bool         `json:"unlocked"`
	Reason     RedeemReason `json:"reason"`
	Progress   Progress     `json:"progress"`
	UnlockedAt *time.Time   `json:"unlocked_at,omitempty"`
}

// SystemHealth summarises unlock code coverage across teams
type SystemHealth struct {
	TotalTeams            int `json:"total_teams"`
	TeamsWithCode         int `json:"teams_with_code"`
	TeamsWithoutCode      int `json:"teams_without_code"`
	AlgorithmicChallenges int `json:"algorithmic_challenges"`
	HealthPercent         int `json:"health_percent"`
	EventSubscribers      int `json:"event_subscribers"`
}

// LeaderboardEntry is one ranked team
type LeaderboardEntry struct {
	Rank               int        `json:"rank"`
	TeamID             string     `json:"team_id"`
	Name               string     `json:"name"`
	Points             int        `json:"points"`
	Solved             int        `json:"solved"`
	Attempted          int        `json:"attempted"`
	BuildathonUnlocked bool       `json:"buildathon_unlocked"`
	LastSolvedAt       *time.Time `json:"last_solved_at,omitempty"`
}

// Board is a team's view of the challenge catalog
type Board struct {
	TeamID             string           `json:"team_id"`
	Points             int              `json:"points"`
	Algorithmic        []BoardChallenge `json:"algorithmic"`
	Buildathon         []BoardChallenge `json:"buildathon"`
	Progress           Progress         `json:"progress"`
	Eligible           bool             `json:"eligible"`
	BuildathonUnlocked bool             `json:"buildathon_unlocked"`
	UnlockCode         string           `json:"unlock_code,omitempty"`
}

// SweepReport summarises one reevaluation pass over all teams
type SweepReport struct {
	Teams          int           `json:"teams"`
	Eligible       int           `json:"eligible"`
	CodesGenerated int           `json:"codes_generated"`
	Failed         int           `json:"failed"`
	Duration       time.Duration `json:"duration"`
}

// TeamRank is a team's position with its neighbours on the leaderboard
type TeamRank struct {
	TeamID     string             `json:"team_id"`
	Rank       int                `json:"rank"`
	TotalTeams int                `json:"total_teams"`
	Nearby     []LeaderboardEntry `json:"nearby"`
}

// ChallengeStat counts how many teams recorded a challenge
type ChallengeStat struct {
	ChallengeID string `json:"challenge_id"`
	Completions int    `json:"completions"`
	Solved      int    `json:"solved"`
}

// CompetitionStats summarises the competition across active teams
type CompetitionStats struct {
	TotalTeams         int                `json:"total_teams"`
	TotalCompletions   int                `json:"total_completions"`
	CorrectCompletions int                `json:"correct_completions"`
	AcceptanceRate     float64            `json:"acceptance_rate"`
	TopTeams           []LeaderboardEntry `json:"top_teams"`
	TopChallenges      []ChallengeStat    `json:"top_challenges"`
}

// CodeInspection is what support staff see when checking a code's provenance
type CodeInspection struct {
	Code         string     `json:"code"`
	Prefix       string     `json:"prefix"`
	Random       string     `json:"random"`
	Stamp        string     `json:"stamp"`
	Issued       bool       `json:"issued"`
	TeamID       string     `json:"team_id,omitempty"`
	TeamName     string     `json:"team_name,omitempty"`
	GeneratedAt  *time.Time `json:"generated_at,omitempty"`
	StampMatches bool       `json:"stamp_matches"`
}
