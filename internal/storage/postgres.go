package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// pgUniqueViolation is the SQLSTATE for unique_violation
const pgUniqueViolation = "23505"

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	DSN          string
	MaxOpenConns int32
	MaxIdleConns int32
	MaxLifetime  time.Duration
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(ctx context.Context, cfg PostgresConfig) (*PostgresRepository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = cfg.MaxOpenConns
	} else {
		poolConfig.MaxConns = 25
	}

	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = cfg.MaxIdleConns
	} else {
		poolConfig.MinConns = 5
	}

	if cfg.MaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxLifetime
	} else {
		poolConfig.MaxConnLifetime = 30 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the database connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const teamColumns = `id, name, points, requirements, requirements_pending, completions,
	unlock_code, unlock_code_generated_at, buildathon_unlocked, buildathon_unlocked_at,
	deactivated, deactivated_at, version, created_at, updated_at`

// CreateTeam inserts a new team at version 1
func (r *PostgresRepository) CreateTeam(ctx context.Context, team *models.Team) error {
	requirementsJSON, completionsJSON, err := marshalTeamDocuments(team)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO teams (` + teamColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`

	_, err = r.pool.Exec(ctx, query,
		team.ID,
		team.Name,
		team.Points,
		requirementsJSON,
		team.RequirementsPending,
		completionsJSON,
		nullString(team.UnlockCode),
		nullTime(team.UnlockCodeGeneratedAt),
		team.BuildathonUnlocked,
		nullTime(team.BuildathonUnlockedAt),
		team.Deactivated,
		nullTime(team.DeactivatedAt),
		team.CreatedAt,
		team.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create team: %w", err)
	}

	team.Version = 1
	return nil
}

// GetTeam retrieves a team by ID
func (r *PostgresRepository) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams WHERE id = $1`

	team, err := scanTeam(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get team: %w", err)
	}
	return team, nil
}

// UpdateTeam writes the whole aggregate if the stored version still matches
func (r *PostgresRepository) UpdateTeam(ctx context.Context, team *models.Team) error {
	requirementsJSON, completionsJSON, err := marshalTeamDocuments(team)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		UPDATE teams
		SET name = $2, points = $3, requirements = $4, requirements_pending = $5, completions = $6,
		    unlock_code = $7, unlock_code_generated_at = $8, buildathon_unlocked = $9, buildathon_unlocked_at = $10,
		    deactivated = $11, deactivated_at = $12, version = version + 1, updated_at = $13
		WHERE id = $1 AND version = $14
	`

	result, err := r.pool.Exec(ctx, query,
		team.ID,
		team.Name,
		team.Points,
		requirementsJSON,
		team.RequirementsPending,
		completionsJSON,
		nullString(team.UnlockCode),
		nullTime(team.UnlockCodeGeneratedAt),
		team.BuildathonUnlocked,
		nullTime(team.BuildathonUnlockedAt),
		team.Deactivated,
		nullTime(team.DeactivatedAt),
		now,
		team.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to update team: %w", err)
	}

	if result.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE id = $1)`, team.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check team: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	team.Version++
	team.UpdatedAt = now
	return nil
}

// ListTeams returns all teams ordered by creation time
func (r *PostgresRepository) ListTeams(ctx context.Context) ([]*models.Team, error) {
	query := `SELECT ` + teamColumns + ` FROM teams ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan team: %w", err)
		}
		teams = append(teams, team)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating teams: %w", err)
	}

	return teams, nil
}

// GetClientByApiKey retrieves an API client by key
func (r *PostgresRepository) GetClientByApiKey(ctx context.Context, apiKey string) (*models.ApiClient, error) {
	query := `
		SELECT id, name, api_key, is_active, created_at, last_used_at, permissions
		FROM api_clients
		WHERE api_key = $1
	`

	var client models.ApiClient
	var lastUsedAt sql.NullTime
	var permissionsJSON []byte

	err := r.pool.QueryRow(ctx, query, apiKey).Scan(
		&client.ID,
		&client.Name,
		&client.ApiKey,
		&client.IsActive,
		&client.CreatedAt,
		&lastUsedAt,
		&permissionsJSON,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get api client: %w", err)
	}

	if lastUsedAt.Valid {
		client.LastUsedAt = &lastUsedAt.Time
	}

	if err := json.Unmarshal(permissionsJSON, &client.Permissions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal permissions: %w", err)
	}

	return &client, nil
}

// UpdateClientLastUsed updates last_used_at timestamp
func (r *PostgresRepository) UpdateClientLastUsed(ctx context.Context, apiKey string) error {
	_, err := r.pool.Exec(ctx, `UPDATE api_clients SET last_used_at = NOW() WHERE api_key = $1`, apiKey)
	if err != nil {
		return fmt.Errorf("failed to update client last_used_at: %w", err)
	}
	return nil
}

func scanTeam(row pgx.Row) (*models.Team, error) {
	var team models.Team
	var requirementsJSON, completionsJSON []byte
	var unlockCode sql.NullString
	var codeGeneratedAt, unlockedAt, deactivatedAt sql.NullTime

	err := row.Scan(
		&team.ID,
		&team.Name,
		&team.Points,
		&requirementsJSON,
		&team.RequirementsPending,
		&completionsJSON,
		&unlockCode,
		&codeGeneratedAt,
		&team.BuildathonUnlocked,
		&unlockedAt,
		&team.Deactivated,
		&deactivatedAt,
		&team.Version,
		&team.CreatedAt,
		&team.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	team.UnlockCode = unlockCode.String
	if codeGeneratedAt.Valid {
		team.UnlockCodeGeneratedAt = &codeGeneratedAt.Time
	}
	if unlockedAt.Valid {
		team.BuildathonUnlockedAt = &unlockedAt.Time
	}
	if deactivatedAt.Valid {
		team.DeactivatedAt = &deactivatedAt.Time
	}

	if err := unmarshalTeamDocuments(&team, requirementsJSON, completionsJSON); err != nil {
		return nil, err
	}

	return &team, nil
}

func marshalTeamDocuments(team *models.Team) ([]byte, []byte, error) {
	requirements := team.Requirements
	if requirements == nil {
		requirements = []models.RequirementEntry{}
	}
	requirementsJSON, err := json.Marshal(requirements)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal requirements: %w", err)
	}

	completions := team.Completions
	if completions == nil {
		completions = map[string]*models.CompletionRecord{}
	}
	completionsJSON, err := json.Marshal(completions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal completions: %w", err)
	}

	return requirementsJSON, completionsJSON, nil
}

func unmarshalTeamDocuments(team *models.Team, requirementsJSON, completionsJSON []byte) error {
	if err := json.Unmarshal(requirementsJSON, &team.Requirements); err != nil {
		return fmt.Errorf("failed to unmarshal requirements: %w", err)
	}
	if err := json.Unmarshal(completionsJSON, &team.Completions); err != nil {
		return fmt.Errorf("failed to unmarshal completions: %w", err)
	}
	if team.Completions == nil {
		team.Completions = make(map[string]*models.CompletionRecord)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
