package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

func newTeam(id, name string) *models.Team {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	return &models.Team{
		ID:          id,
		Name:        name,
		Completions: map[string]*models.CompletionRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestMemoryCreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository(nil)

	team := newTeam("t1", "Code Fighters")
	if err := repo.CreateTeam(ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}
	if team.Version != 1 {
		t.Fatalf("version = %d, want 1", team.Version)
	}

	got, err := repo.GetTeam(ctx, "t1")
	if err != nil {
		t.Fatalf("get team: %v", err)
	}
	if got.Name != "Code Fighters" {
		t.Fatalf("name = %q, want %q", got.Name, "Code Fighters")
	}

	if err := repo.CreateTeam(ctx, newTeam("t2", "Code Fighters")); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("duplicate name error = %v, want %v", err, ErrAlreadyExists)
	}
	if _, err := repo.GetTeam(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing team error = %v, want %v", err, ErrNotFound)
	}
}

func TestMemoryUpdateIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository(nil)

	if err := repo.CreateTeam(ctx, newTeam("t1", "Best Friends")); err != nil {
		t.Fatalf("create team: %v", err)
	}

	first, _ := repo.GetTeam(ctx, "t1")
	second, _ := repo.GetTeam(ctx, "t1")

	first.Points = 100
	if err := repo.UpdateTeam(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}
	if first.Version != 2 {
		t.Fatalf("version after update = %d, want 2", first.Version)
	}

	second.Points = 200
	if err := repo.UpdateTeam(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale update error = %v, want %v", err, ErrVersionConflict)
	}

	got, _ := repo.GetTeam(ctx, "t1")
	if got.Points != 100 {
		t.Fatalf("points = %d, want 100", got.Points)
	}
}

func TestMemoryRejectsDuplicateUnlockCode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository(nil)

	a := newTeam("a", "Alpha")
	a.UnlockCode = "DUOTHANAAAA"
	if err := repo.CreateTeam(ctx, a); err != nil {
		t.Fatalf("create a: %v", err)
	}
	b := newTeam("b", "Beta")
	if err := repo.CreateTeam(ctx, b); err != nil {
		t.Fatalf("create b: %v", err)
	}

	b.UnlockCode = "DUOTHANAAAA"
	if err := repo.UpdateTeam(ctx, b); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("code collision error = %v, want %v", err, ErrAlreadyExists)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := NewMemoryRepository(nil)

	team := newTeam("t1", "Gamma")
	team.Completions["c1"] = &models.CompletionRecord{ChallengeID: "c1"}
	if err := repo.CreateTeam(ctx, team); err != nil {
		t.Fatalf("create team: %v", err)
	}

	got, _ := repo.GetTeam(ctx, "t1")
	got.Completions["c1"].IsCorrect = true
	got.Completions["c2"] = &models.CompletionRecord{ChallengeID: "c2"}

	again, _ := repo.GetTeam(ctx, "t1")
	if again.Completions["c1"].IsCorrect || len(again.Completions) != 1 {
		t.Fatal("stored team mutated through returned copy")
	}
}

func TestStaticClients(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clients, err := ParseStaticClients([]string{"judge:sk_judge_1234:teams:read|teams:write", "admin:sk_admin_1234:*"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	judge, err := clients.GetClientByApiKey(ctx, "sk_judge_1234")
	if err != nil || judge == nil {
		t.Fatalf("judge lookup = %v, %v", judge, err)
	}
	if !judge.HasPermission(models.PermTeamsWrite) {
		t.Error("judge should have teams:write")
	}
	if judge.HasPermission(models.PermAdmin) {
		t.Error("judge should not have admin permission")
	}

	admin, _ := clients.GetClientByApiKey(ctx, "sk_admin_1234")
	if !admin.HasPermission(models.PermAdmin) {
		t.Error("admin wildcard should grant admin permission")
	}

	unknown, err := clients.GetClientByApiKey(ctx, "nope")
	if err != nil || unknown != nil {
		t.Errorf("unknown key = %v, %v; want nil, nil", unknown, err)
	}

	if _, err := ParseStaticClients([]string{"broken"}); err == nil {
		t.Error("expected parse error for malformed entry")
	}
}
