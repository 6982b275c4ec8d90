package storage

import (
	"context"
	"errors"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// Storage errors
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrVersionConflict = errors.New("version conflict")
)

// TeamStore persists team aggregates.
//
// UpdateTeam is a compare-and-swap on team.Version: the write only lands if the
// stored version still equals team.Version, in which case team.Version is advanced.
// Otherwise it returns ErrVersionConflict and nothing is written. A unique
// violation (team name or unlock code already taken) returns ErrAlreadyExists.
type TeamStore interface {
	CreateTeam(ctx context.Context, team *models.Team) error
	GetTeam(ctx context.Context, id string) (*models.Team, error)
	UpdateTeam(ctx context.Context, team *models.Team) error
	ListTeams(ctx context.Context) ([]*models.Team, error)
}

// ClientStore resolves API clients for the HTTP layer
type ClientStore interface {
	// GetClientByApiKey returns nil, nil when the key is unknown
	GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error)
	UpdateClientLastUsed(ctx context.Context, apiKey string) error
}

// Repository defines the interface for engine persistence
type Repository interface {
	TeamStore
	ClientStore

	// Health
	Ping(ctx context.Context) error
	Close() error
}
