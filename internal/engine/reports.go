package engine

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/terra-clan/duothan-engine/internal/models"
)

const (
	rankWindow       = 5
	topTeamsCount    = 3
	topChallengesCnt = 5
)

// SystemHealth reports how many teams hold an unlock code
func (e *Engine) SystemHealth(ctx context.Context) (models.SystemHealth, error) {
	teams, err := e.store.ListTeams(ctx)
	if err != nil {
		return models.SystemHealth{}, fmt.Errorf("failed to list teams: %w", err)
	}
	active, err := e.activeAlgorithmic(ctx)
	if err != nil {
		return models.SystemHealth{}, err
	}

	health := models.SystemHealth{
		TotalTeams:            len(teams),
		AlgorithmicChallenges: len(active),
	}
	for _, t := range teams {
		if t.HasUnlockCode() {
			health.TeamsWithCode++
		}
	}
	health.TeamsWithoutCode = health.TotalTeams - health.TeamsWithCode
	if health.TotalTeams > 0 {
		health.HealthPercent = int(math.Round(float64(health.TeamsWithCode) * 100 / float64(health.TotalTeams)))
	}

	return health, nil
}

// Leaderboard ranks active teams by points, then by who reached their score first.
// A limit of zero or less returns every team.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	teams, err := e.rankedTeams(ctx)
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(teams) > limit {
		teams = teams[:limit]
	}
	return entriesFrom(teams, 0), nil
}

// TeamRank returns a team's rank with up to five teams on either side
func (e *Engine) TeamRank(ctx context.Context, teamID string) (models.TeamRank, error) {
	teams, err := e.rankedTeams(ctx)
	if err != nil {
		return models.TeamRank{}, err
	}

	idx := -1
	for i, t := range teams {
		if t.ID == teamID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// not ranked: either unknown or deactivated
		team, err := e.GetTeam(ctx, teamID)
		if err != nil {
			return models.TeamRank{}, err
		}
		if team.Deactivated {
			return models.TeamRank{}, ErrTeamDeactivated
		}
		return models.TeamRank{}, ErrTeamNotFound
	}

	start := max(0, idx-rankWindow)
	end := min(len(teams), idx+rankWindow+1)

	return models.TeamRank{
		TeamID:     teamID,
		Rank:       idx + 1,
		TotalTeams: len(teams),
		Nearby:     entriesFrom(teams[start:end], start),
	}, nil
}

// CompetitionStats reports totals, the top teams and the most recorded challenges
func (e *Engine) CompetitionStats(ctx context.Context) (models.CompetitionStats, error) {
	teams, err := e.rankedTeams(ctx)
	if err != nil {
		return models.CompetitionStats{}, err
	}

	stats := models.CompetitionStats{TotalTeams: len(teams)}
	byChallenge := make(map[string]*models.ChallengeStat)
	for _, t := range teams {
		for id, rec := range t.Completions {
			cs, ok := byChallenge[id]
			if !ok {
				cs = &models.ChallengeStat{ChallengeID: id}
				byChallenge[id] = cs
			}
			cs.Completions++
			stats.TotalCompletions++
			if rec.IsCorrect {
				cs.Solved++
				stats.CorrectCompletions++
			}
		}
	}
	if stats.TotalCompletions > 0 {
		rate := float64(stats.CorrectCompletions) * 100 / float64(stats.TotalCompletions)
		stats.AcceptanceRate = math.Round(rate*100) / 100
	}

	top := teams
	if len(top) > topTeamsCount {
		top = top[:topTeamsCount]
	}
	stats.TopTeams = entriesFrom(top, 0)

	stats.TopChallenges = make([]models.ChallengeStat, 0, len(byChallenge))
	for _, cs := range byChallenge {
		stats.TopChallenges = append(stats.TopChallenges, *cs)
	}
	sort.Slice(stats.TopChallenges, func(i, j int) bool {
		a, b := stats.TopChallenges[i], stats.TopChallenges[j]
		if a.Completions != b.Completions {
			return a.Completions > b.Completions
		}
		return a.ChallengeID < b.ChallengeID
	})
	if len(stats.TopChallenges) > topChallengesCnt {
		stats.TopChallenges = stats.TopChallenges[:topChallengesCnt]
	}

	return stats, nil
}

// rankedTeams returns active teams in leaderboard order
func (e *Engine) rankedTeams(ctx context.Context) ([]*models.Team, error) {
	all, err := e.store.ListTeams(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list teams: %w", err)
	}

	teams := all[:0]
	for _, t := range all {
		if !t.Deactivated {
			teams = append(teams, t)
		}
	}

	sort.SliceStable(teams, func(i, j int) bool {
		a, b := teams[i], teams[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		la, lb := a.LastCorrectAt(), b.LastCorrectAt()
		if !la.Equal(lb) {
			if la.IsZero() {
				return false
			}
			if lb.IsZero() {
				return true
			}
			return la.Before(lb)
		}
		return a.Name < b.Name
	})
	return teams, nil
}

// entriesFrom builds leaderboard rows; offset is the rank of teams[0] minus one
func entriesFrom(teams []*models.Team, offset int) []models.LeaderboardEntry {
	entries := make([]models.LeaderboardEntry, 0, len(teams))
	for i, t := range teams {
		entry := models.LeaderboardEntry{
			Rank:               offset + i + 1,
			TeamID:             t.ID,
			Name:               t.Name,
			Points:             t.Points,
			BuildathonUnlocked: t.BuildathonUnlocked,
		}
		for _, rec := range t.Completions {
			if rec.IsCorrect {
				entry.Solved++
			} else {
				entry.Attempted++
			}
		}
		if last := t.LastCorrectAt(); !last.IsZero() {
			entry.LastSolvedAt = &last
		}
		entries = append(entries, entry)
	}
	return entries
}
