package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// FileCatalog serves challenges loaded from a YAML file and keeps them in memory
type FileCatalog struct {
	mu         sync.RWMutex
	challenges map[string]*models.Challenge
	path       string
}

// catalogFile is the on-disk YAML shape
type catalogFile struct {
	Challenges []challengeFile `yaml:"challenges"`
}

type challengeFile struct {
	ID            string   `yaml:"id"`
	Title         string   `yaml:"title"`
	Phase         string   `yaml:"phase"`
	Difficulty    string   `yaml:"difficulty"`
	Points        int      `yaml:"points"`
	Active        *bool    `yaml:"active"`
	Order         int      `yaml:"order"`
	Prerequisites []string `yaml:"prerequisites"`
	CreatedAt     string   `yaml:"created_at"`
}

// NewFileCatalog creates an empty catalog
func NewFileCatalog() *FileCatalog {
	return &FileCatalog{
		challenges: make(map[string]*models.Challenge),
	}
}

// LoadFromFile replaces the catalog content with the challenges in a YAML file
func (c *FileCatalog) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := c.LoadFromBytes(data); err != nil {
		return err
	}

	c.mu.Lock()
	c.path = path
	c.mu.Unlock()

	return nil
}

// Reload re-reads the file the catalog was loaded from
func (c *FileCatalog) Reload() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()

	if path == "" {
		return fmt.Errorf("catalog was not loaded from a file")
	}
	return c.LoadFromFile(path)
}

// LoadFromBytes parses YAML catalog content
func (c *FileCatalog) LoadFromBytes(data []byte) error {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	loaded := make(map[string]*models.Challenge, len(file.Challenges))
	for i, cf := range file.Challenges {
		ch, err := cf.toChallenge(i)
		if err != nil {
			return err
		}
		if _, dup := loaded[ch.ID]; dup {
			return fmt.Errorf("duplicate challenge id %q", ch.ID)
		}
		loaded[ch.ID] = ch
	}

	c.mu.Lock()
	c.challenges = loaded
	c.mu.Unlock()

	slog.Info("challenge catalog loaded", "count", len(loaded))
	return nil
}

func (cf challengeFile) toChallenge(index int) (*models.Challenge, error) {
	if cf.ID == "" {
		return nil, fmt.Errorf("challenge %d: id is required", index)
	}

	phase := models.Phase(cf.Phase)
	if !phase.IsValid() {
		return nil, fmt.Errorf("challenge %q: invalid phase %q", cf.ID, cf.Phase)
	}
	if cf.Points < 0 {
		return nil, fmt.Errorf("challenge %q: points must not be negative", cf.ID)
	}

	active := true
	if cf.Active != nil {
		active = *cf.Active
	}

	var createdAt time.Time
	if cf.CreatedAt != "" {
		t, err := time.Parse(time.RFC3339, cf.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("challenge %q: invalid created_at: %w", cf.ID, err)
		}
		createdAt = t
	}

	return &models.Challenge{
		ID:            cf.ID,
		Title:         cf.Title,
		Phase:         phase,
		Difficulty:    cf.Difficulty,
		Points:        cf.Points,
		Active:        active,
		Order:         cf.Order,
		Prerequisites: cf.Prerequisites,
		CreatedAt:     createdAt,
	}, nil
}

// ListActive returns active challenges of a phase in catalog order
func (c *FileCatalog) ListActive(ctx context.Context, phase models.Phase) ([]models.Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	list := make([]models.Challenge, 0, len(c.challenges))
	for _, ch := range c.challenges {
		if ch.Active && ch.Phase == phase {
			list = append(list, copyChallenge(ch))
		}
	}
	sortChallenges(list)
	return list, nil
}

// Get returns a challenge by id
func (c *FileCatalog) Get(ctx context.Context, id string) (*models.Challenge, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ch, ok := c.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := copyChallenge(ch)
	return &cp, nil
}

// Upsert adds or replaces a challenge
func (c *FileCatalog) Upsert(ch models.Challenge) {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now()
	}
	cp := copyChallenge(&ch)

	c.mu.Lock()
	c.challenges[ch.ID] = &cp
	c.mu.Unlock()
}

// SetActive toggles a challenge's active flag
func (c *FileCatalog) SetActive(id string, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.challenges[id]
	if !ok {
		return ErrChallengeNotFound
	}
	ch.Active = active
	return nil
}

func copyChallenge(ch *models.Challenge) models.Challenge {
	cp := *ch
	cp.Prerequisites = append([]string(nil), ch.Prerequisites...)
	return cp
}
