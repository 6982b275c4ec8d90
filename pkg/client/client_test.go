package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/terra-clan/duothan-engine/internal/models"
)

func writeEnvelope(w http.ResponseWriter, status int, data interface{}, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]interface{}{"success": status < 300, "data": data}
	if code != "" {
		resp["error"] = map[string]string{"code": code, "message": code}
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestCreateTeamSendsKeyAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/teams" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test" {
			t.Errorf("authorization = %q", got)
		}
		var req models.CreateTeamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		writeEnvelope(w, http.StatusCreated, models.Team{ID: "t1", Name: req.Name, Version: 1}, "")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk_test")
	team, err := c.CreateTeam(context.Background(), "Byte Me")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if team.ID != "t1" || team.Name != "Byte Me" {
		t.Fatalf("team = %+v", team)
	}
}

func TestRedeemRejectionIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusConflict, models.RedeemResult{
			Reason:   models.ReasonRequirementsUnmet,
			Progress: models.Progress{Completed: 1, Required: 3},
		}, string(models.ReasonRequirementsUnmet))
	}))
	defer srv.Close()

	result, err := NewClient(srv.URL, "k").Redeem(context.Background(), "t1", "CODE")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if result.Unlocked || result.Reason != models.ReasonRequirementsUnmet || result.Progress.Required != 3 {
		t.Fatalf("result = %+v", result)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		code      string
		notFound  bool
		retryable bool
	}{
		{"not found", http.StatusNotFound, "team_not_found", true, false},
		{"contention", http.StatusServiceUnavailable, "conflict_retry", false, true},
		{"validation", http.StatusBadRequest, "validation_error", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeEnvelope(w, tt.status, nil, tt.code)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "k").GetTeam(context.Background(), "t1")
			if err == nil {
				t.Fatal("expected error")
			}
			apiErr, ok := err.(*APIError)
			if !ok || apiErr.Code != tt.code {
				t.Fatalf("err = %v, want APIError %s", err, tt.code)
			}
			if IsNotFound(err) != tt.notFound || IsRetryable(err) != tt.retryable {
				t.Fatalf("classification mismatch for %v", err)
			}
		})
	}
}

func TestLeaderboardLimitQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q, want 5", got)
		}
		writeEnvelope(w, http.StatusOK, map[string]interface{}{
			"entries": []models.LeaderboardEntry{{Rank: 1, TeamID: "t1", Points: 300}},
			"count":   1,
		}, "")
	}))
	defer srv.Close()

	entries, err := NewClient(srv.URL, "k").Leaderboard(context.Background(), 5)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(entries) != 1 || entries[0].Points != 300 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "").Health(context.Background())
	apiErr, ok := err.(*APIError)
	if !ok || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("err = %v, want APIError 502", err)
	}
}

func TestTeamRankAndActivationPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		switch r.URL.Path {
		case "/api/v1/teams/t1/rank":
			writeEnvelope(w, http.StatusOK, models.TeamRank{TeamID: "t1", Rank: 2, TotalTeams: 7}, "")
		case "/api/v1/admin/teams/t1/deactivate":
			writeEnvelope(w, http.StatusOK, models.Team{ID: "t1", Deactivated: true}, "")
		case "/api/v1/admin/unlock-codes/inspect":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeEnvelope(w, http.StatusOK, models.CodeInspection{Code: body["code"], Issued: true, TeamID: "t1"}, "")
		default:
			writeEnvelope(w, http.StatusNotFound, nil, "not_found")
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	ctx := context.Background()

	rank, err := c.TeamRank(ctx, "t1")
	if err != nil || rank.Rank != 2 || rank.TotalTeams != 7 {
		t.Fatalf("rank = %+v, %v", rank, err)
	}
	team, err := c.SetTeamActive(ctx, "t1", false)
	if err != nil || !team.Deactivated {
		t.Fatalf("deactivate = %+v, %v", team, err)
	}
	got, err := c.InspectUnlockCode(ctx, "DUOTHANABCDEF0123BUILD0042")
	if err != nil || !got.Issued || got.Code != "DUOTHANABCDEF0123BUILD0042" {
		t.Fatalf("inspect = %+v, %v", got, err)
	}
	if _, err := c.CompetitionStats(ctx); !IsNotFound(err) {
		t.Fatalf("stats error = %v, want not found", err)
	}

	want := []string{
		"GET /api/v1/teams/t1/rank",
		"POST /api/v1/admin/teams/t1/deactivate",
		"POST /api/v1/admin/unlock-codes/inspect",
		"GET /api/v1/leaderboard/stats",
	}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}
}
