package models

import "time"

// Phase identifies which competition phase a challenge belongs to
type Phase string

const (
	PhaseAlgorithmic Phase = "algorithmic"
	PhaseBuildathon  Phase = "buildathon"
)

// IsValid reports whether p is a known phase
func (p Phase) IsValid() bool {
	return p == PhaseAlgorithmic || p == PhaseBuildathon
}

// Challenge is the read-only view of a catalog entry
type Challenge struct {
	ID            string    `yaml:"id" json:"id"`
	Title         string    `yaml:"title" json:"title"`
	Phase         Phase     `yaml:"phase" json:"phase"`
	Difficulty    string    `yaml:"difficulty" json:"difficulty,omitempty"`
	Points        int       `yaml:"points" json:"points"`
	Active        bool      `yaml:"active" json:"active"`
	Order         int       `yaml:"order" json:"order"`
	Prerequisites []string  `yaml:"prerequisites" json:"prerequisites,omitempty"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
}

// IsActiveAlgorithmic reports whether the challenge counts toward unlock requirements
func (c *Challenge) IsActiveAlgorithmic() bool {
	return c.Active && c.Phase == PhaseAlgorithmic
}

// ChallengeStatus is a team's standing on a single challenge
type ChallengeStatus string

const (
	StatusSolved       ChallengeStatus = "solved"
	StatusAttempted    ChallengeStatus = "attempted"
	StatusNotAttempted ChallengeStatus = "not_attempted"
)

// BoardChallenge is a challenge annotated with a team's progress on it
type BoardChallenge struct {
	Challenge
	Status ChallengeStatus `json:"status"`
	Locked bool            `json:"locked"`
}
