package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// StaticClients is a ClientStore backed by configuration instead of a table
type StaticClients struct {
	mu      sync.Mutex
	clients map[string]*models.ApiClient
}

// ParseStaticClients builds a StaticClients from "name:key:perm|perm" entries
func ParseStaticClients(entries []string) (*StaticClients, error) {
	s := &StaticClients{clients: make(map[string]*models.ApiClient)}

	for i, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
			return nil, fmt.Errorf("api key entry %d: expected name:key:permissions", i)
		}
		if _, dup := s.clients[parts[1]]; dup {
			return nil, fmt.Errorf("api key entry %d: duplicate key for %s", i, parts[0])
		}

		s.clients[parts[1]] = &models.ApiClient{
			ID:          i + 1,
			Name:        parts[0],
			ApiKey:      parts[1],
			IsActive:    true,
			CreatedAt:   time.Now(),
			Permissions: strings.Split(parts[2], "|"),
		}
	}

	return s, nil
}

// GetClientByApiKey returns the configured client for a key, or nil
func (s *StaticClients) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	if s == nil {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clients[apiKey]
	if !ok {
		return nil, nil
	}
	cp := *c
	cp.Permissions = append([]string(nil), c.Permissions...)
	return &cp, nil
}

// UpdateClientLastUsed records the time a key was last presented
func (s *StaticClients) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	if s == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[apiKey]; ok {
		now := time.Now()
		c.LastUsedAt = &now
	}
	return nil
}
