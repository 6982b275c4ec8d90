package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// PostgresCatalog reads the challenges table owned by the catalog admin service
type PostgresCatalog struct {
	db *sql.DB
}

// NewPostgresCatalog opens a read connection to the catalog database
func NewPostgresCatalog(dsn string) (*PostgresCatalog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}

	db.SetMaxOpenConns(10)

	return &PostgresCatalog{db: db}, nil
}

const challengeColumns = `id, title, phase, difficulty, points, is_active, sort_order, prerequisites, created_at`

// ListActive returns active challenges of a phase in catalog order
func (c *PostgresCatalog) ListActive(ctx context.Context, phase models.Phase) ([]models.Challenge, error) {
	query := `SELECT ` + challengeColumns + `
		FROM challenges
		WHERE phase = $1 AND is_active = TRUE
		ORDER BY sort_order ASC, created_at ASC, id ASC`

	rows, err := c.db.QueryContext(ctx, query, string(phase))
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var list []models.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *ch)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}

	return list, nil
}

// Get returns a challenge by id
func (c *PostgresCatalog) Get(ctx context.Context, id string) (*models.Challenge, error) {
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`

	ch, err := scanChallenge(c.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, err
	}
	return ch, nil
}

// HealthCheck verifies catalog database connectivity
func (c *PostgresCatalog) HealthCheck(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the catalog connection pool
func (c *PostgresCatalog) Close() error {
	return c.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChallenge(row rowScanner) (*models.Challenge, error) {
	var ch models.Challenge
	var phase string
	var difficulty sql.NullString
	var prerequisites pq.StringArray

	err := row.Scan(
		&ch.ID,
		&ch.Title,
		&phase,
		&difficulty,
		&ch.Points,
		&ch.Active,
		&ch.Order,
		&prerequisites,
		&ch.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan challenge: %w", err)
	}

	ch.Phase = models.Phase(phase)
	ch.Difficulty = difficulty.String
	ch.Prerequisites = []string(prerequisites)

	return &ch, nil
}
