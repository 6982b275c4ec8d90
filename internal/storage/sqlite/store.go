// Package sqlite provides a SQLite-backed team store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/terra-clan/duothan-engine/internal/models"
	"github.com/terra-clan/duothan-engine/internal/storage"
	"github.com/terra-clan/duothan-engine/internal/storage/sqlite/migrations"
)

// Store persists teams in SQLite.
type Store struct {
	*storage.StaticClients
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite team store and applies embedded migrations.
func Open(path string, clients *storage.StaticClients) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{StaticClients: clients, sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.sqlDB.PingContext(ctx)
}

const teamColumns = `id, name, points, requirements, requirements_pending, completions,
	unlock_code, unlock_code_generated_at, buildathon_unlocked, buildathon_unlocked_at,
	deactivated, deactivated_at, version, created_at, updated_at`

// CreateTeam inserts one team at version 1.
func (s *Store) CreateTeam(ctx context.Context, team *models.Team) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	requirements, completions, err := encodeDocuments(team)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO teams (`+teamColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		team.ID,
		team.Name,
		team.Points,
		requirements,
		team.RequirementsPending,
		completions,
		nullString(team.UnlockCode),
		nullMillis(team.UnlockCodeGeneratedAt),
		team.BuildathonUnlocked,
		nullMillis(team.BuildathonUnlockedAt),
		team.Deactivated,
		nullMillis(team.DeactivatedAt),
		toMillis(team.CreatedAt),
		toMillis(team.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert team: %w", err)
	}

	team.Version = 1
	return nil
}

// GetTeam returns one team by id.
func (s *Store) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = ?`, id)
	team, err := scanTeam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get team: %w", err)
	}
	return team, nil
}

// UpdateTeam writes the team when the stored version still matches.
func (s *Store) UpdateTeam(ctx context.Context, team *models.Team) error {
	requirements, completions, err := encodeDocuments(team)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	result, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE teams
		 SET name = ?, points = ?, requirements = ?, requirements_pending = ?, completions = ?,
		     unlock_code = ?, unlock_code_generated_at = ?, buildathon_unlocked = ?, buildathon_unlocked_at = ?,
		     deactivated = ?, deactivated_at = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND version = ?`,
		team.Name,
		team.Points,
		requirements,
		team.RequirementsPending,
		completions,
		nullString(team.UnlockCode),
		nullMillis(team.UnlockCodeGeneratedAt),
		team.BuildathonUnlocked,
		nullMillis(team.BuildathonUnlockedAt),
		team.Deactivated,
		nullMillis(team.DeactivatedAt),
		toMillis(now),
		team.ID,
		team.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("update team: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update team rows affected: %w", err)
	}
	if affected == 0 {
		var found int
		err := s.sqlDB.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id = ?`, team.ID).Scan(&found)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check team: %w", err)
		}
		return storage.ErrVersionConflict
	}

	team.Version++
	team.UpdatedAt = now
	return nil
}

// ListTeams returns all teams ordered by creation time.
func (s *Store) ListTeams(ctx context.Context) ([]*models.Team, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT `+teamColumns+` FROM teams ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	var teams []*models.Team
	for rows.Next() {
		team, err := scanTeam(rows)
		if err != nil {
			return nil, fmt.Errorf("scan team: %w", err)
		}
		teams = append(teams, team)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate teams: %w", err)
	}
	return teams, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTeam(row rowScanner) (*models.Team, error) {
	var team models.Team
	var requirements, completions string
	var unlockCode sql.NullString
	var codeGeneratedAt, unlockedAt, deactivatedAt sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&team.ID,
		&team.Name,
		&team.Points,
		&requirements,
		&team.RequirementsPending,
		&completions,
		&unlockCode,
		&codeGeneratedAt,
		&team.BuildathonUnlocked,
		&unlockedAt,
		&team.Deactivated,
		&deactivatedAt,
		&team.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	team.UnlockCode = unlockCode.String
	team.UnlockCodeGeneratedAt = millisPtr(codeGeneratedAt)
	team.BuildathonUnlockedAt = millisPtr(unlockedAt)
	team.DeactivatedAt = millisPtr(deactivatedAt)
	team.CreatedAt = fromMillis(createdAt)
	team.UpdatedAt = fromMillis(updatedAt)

	if err := json.Unmarshal([]byte(requirements), &team.Requirements); err != nil {
		return nil, fmt.Errorf("decode requirements: %w", err)
	}
	if err := json.Unmarshal([]byte(completions), &team.Completions); err != nil {
		return nil, fmt.Errorf("decode completions: %w", err)
	}
	if team.Completions == nil {
		team.Completions = make(map[string]*models.CompletionRecord)
	}
	return &team, nil
}

func encodeDocuments(team *models.Team) (string, string, error) {
	requirements := team.Requirements
	if requirements == nil {
		requirements = []models.RequirementEntry{}
	}
	reqJSON, err := json.Marshal(requirements)
	if err != nil {
		return "", "", fmt.Errorf("encode requirements: %w", err)
	}

	completions := team.Completions
	if completions == nil {
		completions = map[string]*models.CompletionRecord{}
	}
	compJSON, err := json.Marshal(completions)
	if err != nil {
		return "", "", fmt.Errorf("encode completions: %w", err)
	}
	return string(reqJSON), string(compJSON), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func millisPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		var found int
		err := sqlDB.QueryRow(`SELECT 1 FROM schema_migrations WHERE name = ?`, file).Scan(&found)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check migration %s: %w", file, err)
		}

		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.Begin()
		if err != nil {
			return fmt.Errorf("begin migration transaction %s: %w", file, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, toMillis(time.Now())); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}

	return nil
}

var _ storage.Repository = (*Store)(nil)
