package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// MemoryRepository keeps teams in process memory. It enforces the same
// version compare-and-swap and uniqueness rules as the SQL stores and hands
// out deep copies, so it is a faithful stand-in for single-node runs and tests.
type MemoryRepository struct {
	*StaticClients

	mu    sync.RWMutex
	teams map[string]*models.Team
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(clients *StaticClients) *MemoryRepository {
	return &MemoryRepository{
		StaticClients: clients,
		teams:         make(map[string]*models.Team),
	}
}

// CreateTeam stores a new team at version 1
func (r *MemoryRepository) CreateTeam(ctx context.Context, team *models.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.teams[team.ID]; ok {
		return ErrAlreadyExists
	}
	for _, existing := range r.teams {
		if existing.Name == team.Name {
			return ErrAlreadyExists
		}
		if team.UnlockCode != "" && existing.UnlockCode == team.UnlockCode {
			return ErrAlreadyExists
		}
	}

	team.Version = 1
	r.teams[team.ID] = team.Clone()
	return nil
}

// GetTeam returns a copy of the stored team
func (r *MemoryRepository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	team, ok := r.teams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return team.Clone(), nil
}

// UpdateTeam writes the team if its version still matches the stored one
func (r *MemoryRepository) UpdateTeam(ctx context.Context, team *models.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.teams[team.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != team.Version {
		return ErrVersionConflict
	}
	for id, existing := range r.teams {
		if id == team.ID {
			continue
		}
		if existing.Name == team.Name {
			return ErrAlreadyExists
		}
		if team.UnlockCode != "" && existing.UnlockCode == team.UnlockCode {
			return ErrAlreadyExists
		}
	}

	team.Version++
	team.UpdatedAt = time.Now()
	r.teams[team.ID] = team.Clone()
	return nil
}

// ListTeams returns copies of all teams ordered by creation time
func (r *MemoryRepository) ListTeams(ctx context.Context) ([]*models.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	teams := make([]*models.Team, 0, len(r.teams))
	for _, team := range r.teams {
		teams = append(teams, team.Clone())
	}
	sort.Slice(teams, func(i, j int) bool {
		if !teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].CreatedAt.Before(teams[j].CreatedAt)
		}
		return teams[i].ID < teams[j].ID
	})
	return teams, nil
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}
