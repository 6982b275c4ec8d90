// Package catalog reads the challenge catalog maintained by the competition admins.
// The engine never writes to the catalog; it only lists active challenges per phase
// and looks individual challenges up.
package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// ErrChallengeNotFound is returned by Get for unknown ids
var ErrChallengeNotFound = errors.New("challenge not found")

// Catalog is the read interface of the challenge catalog
type Catalog interface {
	// ListActive returns active challenges of a phase in catalog order
	ListActive(ctx context.Context, phase models.Phase) ([]models.Challenge, error)

	// Get returns a challenge by id, active or not
	Get(ctx context.Context, id string) (*models.Challenge, error)
}

// sortChallenges orders challenges by explicit order, then creation time, then id
func sortChallenges(list []models.Challenge) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Order != list[j].Order {
			return list[i].Order < list[j].Order
		}
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
