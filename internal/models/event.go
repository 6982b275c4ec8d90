package models

import "time"

// EventType names an engine event
type EventType string

const (
	EventTeamCreated         EventType = "team.created"
	EventCompletionRecorded  EventType = "completion.recorded"
	EventUnlockCodeGenerated EventType = "unlock_code.generated"
	EventBuildathonUnlocked  EventType = "buildathon.unlocked"
	EventSweepCompleted      EventType = "sweep.completed"
	EventTeamDeactivated     EventType = "team.deactivated"
	EventTeamReactivated     EventType = "team.reactivated"
)

// Event is emitted by the engine after a state change has been persisted
type Event struct {
	Type   EventType         `json:"type"`
	TeamID string            `json:"team_id,omitempty"`
	At     time.Time         `json:"at"`
	Data   map[string]string `json:"data,omitempty"`
}
