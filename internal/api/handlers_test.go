package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/terra-clan/duothan-engine/internal/catalog"
	"github.com/terra-clan/duothan-engine/internal/config"
	"github.com/terra-clan/duothan-engine/internal/engine"
	"github.com/terra-clan/duothan-engine/internal/events"
	"github.com/terra-clan/duothan-engine/internal/models"
	"github.com/terra-clan/duothan-engine/internal/services"
	"github.com/terra-clan/duothan-engine/internal/storage"
	"github.com/terra-clan/duothan-engine/internal/unlockcode"
)

const (
	judgeKey  = "sk_judge_0123456789"
	viewerKey = "sk_viewer_0123456789"
	adminKey  = "sk_admin_0123456789"
)

type fakeAnnouncer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeAnnouncer) Publish(ctx context.Context) error {
	f.calls.Add(1)
	return f.err
}

type testServer struct {
	srv      *Server
	http     *httptest.Server
	eng      *engine.Engine
	catalog  *catalog.FileCatalog
	registry *services.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	clients, err := storage.ParseStaticClients([]string{
		"judge:" + judgeKey + ":teams:read|teams:write",
		"viewer:" + viewerKey + ":teams:read",
		"admin:" + adminKey + ":*",
	})
	if err != nil {
		t.Fatalf("parse clients: %v", err)
	}

	cat := catalog.NewFileCatalog()
	for i, id := range []string{"a1", "a2"} {
		cat.Upsert(models.Challenge{ID: id, Title: strings.ToUpper(id), Phase: models.PhaseAlgorithmic, Points: 100, Active: true, Order: i})
	}
	cat.Upsert(models.Challenge{ID: "b1", Title: "B1", Phase: models.PhaseBuildathon, Points: 500, Active: true})

	repo := storage.NewMemoryRepository(clients)
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	eng := engine.New(repo, cat, unlockcode.NewGenerator(""), hub, engine.Config{MaxRetries: 8, SweepConcurrency: 2})
	eng.OnCatalogChange(func() {})

	registry := services.NewRegistry(time.Second)
	registry.Register("store", services.NewCheckFunc("memory", repo.Ping))

	srv := NewServer(config.ServerConfig{}, eng, clients, hub, registry)
	srv.SetChallengeEditor(cat)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &testServer{srv: srv, http: ts, eng: eng, catalog: cat, registry: registry}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *apiError       `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, path, key string, body interface{}) (int, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.http.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp.StatusCode, env
}

func decodeData(t *testing.T, env envelope, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, dst); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

func (ts *testServer) createTeam(t *testing.T, name string) models.Team {
	t.Helper()
	status, env := ts.do(t, http.MethodPost, "/api/v1/teams", judgeKey, models.CreateTeamRequest{Name: name})
	if status != http.StatusCreated {
		t.Fatalf("create team status = %d, error = %+v", status, env.Error)
	}
	var team models.Team
	decodeData(t, env, &team)
	return team
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)

	status, env := ts.do(t, http.MethodGet, "/health", "", nil)
	if status != http.StatusOK || !env.Success {
		t.Fatalf("health status = %d", status)
	}
}

func TestReadyReflectsDependencies(t *testing.T) {
	ts := newTestServer(t)

	if status, _ := ts.do(t, http.MethodGet, "/ready", "", nil); status != http.StatusOK {
		t.Fatalf("ready status = %d, want 200", status)
	}

	ts.registry.Register("redis", services.NewCheckFunc("redis", func(ctx context.Context) error {
		return errors.New("connection refused")
	}))
	status, env := ts.do(t, http.MethodGet, "/ready", "", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("ready status = %d, want 503", status)
	}
	if env.Error == nil || env.Error.Code != "not_ready" {
		t.Fatalf("error = %+v, want not_ready", env.Error)
	}
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name   string
		key    string
		method string
		path   string
		want   int
		code   string
	}{
		{"missing key", "", http.MethodGet, "/api/v1/leaderboard", http.StatusUnauthorized, "missing_api_key"},
		{"unknown key", "sk_nope_000000", http.MethodGet, "/api/v1/leaderboard", http.StatusUnauthorized, "invalid_api_key"},
		{"viewer cannot write", viewerKey, http.MethodPost, "/api/v1/teams", http.StatusForbidden, "permission_denied"},
		{"judge cannot administer", judgeKey, http.MethodGet, "/api/v1/admin/health", http.StatusForbidden, "permission_denied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := ts.do(t, tt.method, tt.path, tt.key, models.CreateTeamRequest{Name: "x"})
			if status != tt.want {
				t.Fatalf("status = %d, want %d", status, tt.want)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}
}

func TestUnlockFlowOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	team := ts.createTeam(t, "Null Pointers")

	if len(team.Requirements) != 2 {
		t.Fatalf("requirements = %d, want 2", len(team.Requirements))
	}

	base := "/api/v1/teams/" + team.ID

	// buildathon stays locked until the gate opens
	status, env := ts.do(t, http.MethodPost, base+"/completions", judgeKey,
		models.RecordCompletionRequest{ChallengeID: "b1", IsCorrect: true})
	if status != http.StatusForbidden || env.Error.Code != "phase_locked" {
		t.Fatalf("buildathon completion = %d %+v, want 403 phase_locked", status, env.Error)
	}

	for _, id := range []string{"a1", "a2"} {
		status, env := ts.do(t, http.MethodPost, base+"/completions", judgeKey,
			models.RecordCompletionRequest{ChallengeID: id, IsCorrect: true})
		if status != http.StatusOK {
			t.Fatalf("record %s status = %d, error = %+v", id, status, env.Error)
		}
	}

	status, env = ts.do(t, http.MethodPost, base+"/eligibility", judgeKey, nil)
	if status != http.StatusOK {
		t.Fatalf("eligibility status = %d", status)
	}
	var elig models.Eligibility
	decodeData(t, env, &elig)
	if !elig.Eligible || elig.UnlockCode == "" {
		t.Fatalf("eligibility = %+v, want eligible with code", elig)
	}

	// the plain team view never carries the code
	_, env = ts.do(t, http.MethodGet, base, viewerKey, nil)
	var view models.Team
	decodeData(t, env, &view)
	if view.UnlockCode != "" {
		t.Fatal("team view leaked the unlock code")
	}
	if view.Points != 200 {
		t.Fatalf("points = %d, want 200", view.Points)
	}

	status, env = ts.do(t, http.MethodPost, base+"/unlock", judgeKey, models.RedeemRequest{Code: "DUOTHAN0000000000BUILD0000"})
	if status != http.StatusConflict || env.Error.Code != string(models.ReasonCodeMismatch) {
		t.Fatalf("wrong code = %d %+v, want 409 code_mismatch", status, env.Error)
	}
	var rejected models.RedeemResult
	decodeData(t, env, &rejected)
	if rejected.Progress.Completed != 2 || rejected.Progress.Required != 2 {
		t.Fatalf("progress = %+v, want 2/2", rejected.Progress)
	}

	status, env = ts.do(t, http.MethodPost, base+"/unlock", judgeKey, models.RedeemRequest{Code: elig.UnlockCode})
	if status != http.StatusOK {
		t.Fatalf("redeem status = %d, error = %+v", status, env.Error)
	}
	var result models.RedeemResult
	decodeData(t, env, &result)
	if !result.Unlocked || result.Reason != models.ReasonUnlocked {
		t.Fatalf("redeem = %+v", result)
	}

	status, env = ts.do(t, http.MethodPost, base+"/completions", judgeKey,
		models.RecordCompletionRequest{ChallengeID: "b1", IsCorrect: true})
	if status != http.StatusOK {
		t.Fatalf("buildathon completion after unlock = %d %+v", status, env.Error)
	}

	status, env = ts.do(t, http.MethodGet, base+"/board", viewerKey, nil)
	if status != http.StatusOK {
		t.Fatalf("board status = %d", status)
	}
	var board models.Board
	decodeData(t, env, &board)
	if !board.BuildathonUnlocked || board.Points != 700 {
		t.Fatalf("board = %+v, want unlocked with 700 points", board)
	}
}

func TestRedeemBeforeEligible(t *testing.T) {
	ts := newTestServer(t)
	team := ts.createTeam(t, "Early Birds")

	status, env := ts.do(t, http.MethodPost, "/api/v1/teams/"+team.ID+"/unlock", judgeKey, models.RedeemRequest{Code: "anything"})
	if status != http.StatusConflict {
		t.Fatalf("status = %d, want 409", status)
	}
	if env.Error.Code != string(models.ReasonRequirementsUnmet) {
		t.Fatalf("code = %s, want requirements_not_met", env.Error.Code)
	}
}

func TestEngineErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	team := ts.createTeam(t, "Mappers")
	base := "/api/v1/teams/" + team.ID

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   interface{}
		want   int
		code   string
	}{
		{"unknown team", http.MethodGet, "/api/v1/teams/missing", viewerKey, nil, http.StatusNotFound, "team_not_found"},
		{"blank name", http.MethodPost, "/api/v1/teams", judgeKey, models.CreateTeamRequest{Name: "  "}, http.StatusBadRequest, "validation_error"},
		{"name too long", http.MethodPost, "/api/v1/teams", judgeKey, models.CreateTeamRequest{Name: strings.Repeat("n", 51)}, http.StatusBadRequest, "validation_error"},
		{"duplicate name", http.MethodPost, "/api/v1/teams", judgeKey, models.CreateTeamRequest{Name: "Mappers"}, http.StatusConflict, "team_name_taken"},
		{"unknown challenge", http.MethodPost, base + "/completions", judgeKey, models.RecordCompletionRequest{ChallengeID: "zz", IsCorrect: true}, http.StatusNotFound, "challenge_not_found"},
		{"empty redeem code", http.MethodPost, base + "/unlock", judgeKey, models.RedeemRequest{}, http.StatusBadRequest, "validation_error"},
		{"revoke without record", http.MethodPost, "/api/v1/admin/teams/" + team.ID + "/completions/a1/revoke", adminKey, nil, http.StatusNotFound, "completion_not_found"},
		{"bad leaderboard limit", http.MethodGet, "/api/v1/leaderboard?limit=-3", viewerKey, nil, http.StatusBadRequest, "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := ts.do(t, tt.method, tt.path, tt.key, tt.body)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%+v)", status, tt.want, env.Error)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, ts.http.URL+"/api/v1/teams", strings.NewReader(`{"name": "x", "extra": true}`))
	req.Header.Set("X-API-Key", judgeKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)
	announcer := &fakeAnnouncer{}
	ts.srv.SetAnnouncer(announcer)

	team := ts.createTeam(t, "Admins Pet")
	base := "/api/v1/teams/" + team.ID
	for _, id := range []string{"a1", "a2"} {
		ts.do(t, http.MethodPost, base+"/completions", judgeKey, models.RecordCompletionRequest{ChallengeID: id, IsCorrect: true})
	}
	ts.createTeam(t, "Idle")

	status, env := ts.do(t, http.MethodGet, "/api/v1/admin/health", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("health status = %d", status)
	}
	var health models.SystemHealth
	decodeData(t, env, &health)
	if health.TotalTeams != 2 || health.TeamsWithCode != 1 || health.HealthPercent != 50 || health.EventSubscribers != 0 {
		t.Fatalf("health = %+v", health)
	}

	status, env = ts.do(t, http.MethodPost, "/api/v1/admin/catalog-changed", adminKey, nil)
	if status != http.StatusAccepted {
		t.Fatalf("catalog-changed status = %d", status)
	}
	if announcer.calls.Load() != 1 {
		t.Fatalf("announcer calls = %d, want 1", announcer.calls.Load())
	}

	status, env = ts.do(t, http.MethodPost, "/api/v1/admin/reevaluate", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("reevaluate status = %d", status)
	}
	var report models.SweepReport
	decodeData(t, env, &report)
	if report.Teams != 2 || report.Eligible != 1 {
		t.Fatalf("report = %+v", report)
	}

	_, env = ts.do(t, http.MethodPost, base+"/eligibility", judgeKey, nil)
	var before models.Eligibility
	decodeData(t, env, &before)

	status, env = ts.do(t, http.MethodPost, "/api/v1/admin/teams/"+team.ID+"/unlock-code/reset", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("reset status = %d", status)
	}
	var reset struct {
		UnlockCode string `json:"unlock_code"`
	}
	decodeData(t, env, &reset)
	if reset.UnlockCode == "" || reset.UnlockCode == before.UnlockCode {
		t.Fatalf("reset code = %q, previous %q", reset.UnlockCode, before.UnlockCode)
	}

	status, env = ts.do(t, http.MethodPost, "/api/v1/admin/teams/"+team.ID+"/completions/a1/revoke", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("revoke status = %d (%+v)", status, env.Error)
	}
	_, env = ts.do(t, http.MethodGet, base, viewerKey, nil)
	var after models.Team
	decodeData(t, env, &after)
	if after.Points != 100 {
		t.Fatalf("points after revoke = %d, want 100", after.Points)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	ts := newTestServer(t)

	first := ts.createTeam(t, "Fast")
	second := ts.createTeam(t, "Slow")
	ts.do(t, http.MethodPost, "/api/v1/teams/"+first.ID+"/completions", judgeKey, models.RecordCompletionRequest{ChallengeID: "a1", IsCorrect: true})
	ts.do(t, http.MethodPost, "/api/v1/teams/"+first.ID+"/completions", judgeKey, models.RecordCompletionRequest{ChallengeID: "a2", IsCorrect: true})
	ts.do(t, http.MethodPost, "/api/v1/teams/"+second.ID+"/completions", judgeKey, models.RecordCompletionRequest{ChallengeID: "a1", IsCorrect: false})

	status, env := ts.do(t, http.MethodGet, "/api/v1/leaderboard?limit=1", viewerKey, nil)
	if status != http.StatusOK {
		t.Fatalf("leaderboard status = %d", status)
	}
	var board struct {
		Entries []models.LeaderboardEntry `json:"entries"`
		Count   int                       `json:"count"`
	}
	decodeData(t, env, &board)
	if board.Count != 1 || board.Entries[0].TeamID != first.ID || board.Entries[0].Rank != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}
}

func TestEventStream(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/v1/admin/events"
	header := http.Header{}
	header.Set("X-API-Key", adminKey)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("handshake status = %d", resp.StatusCode)
	}

	team := ts.createTeam(t, "Streamers")

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt models.Event
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != models.EventTeamCreated || evt.TeamID != team.ID {
		t.Fatalf("event = %+v, want team.created for %s", evt, team.ID)
	}
}

func TestEventStreamRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/api/v1/admin/events"
	header := http.Header{}
	header.Set("X-API-Key", viewerKey)

	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected handshake to fail for non-admin client")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("handshake response = %v, want 403", resp)
	}
}

func TestMatchesTeam(t *testing.T) {
	if !matchesTeam(models.Event{TeamID: "t1"}, "") {
		t.Error("empty filter should match")
	}
	if !matchesTeam(models.Event{Type: models.EventSweepCompleted}, "t1") {
		t.Error("team-less events should always match")
	}
	if matchesTeam(models.Event{TeamID: "t2"}, "t1") {
		t.Error("other team's event should not match")
	}
}

func (ts *testServer) record(t *testing.T, teamID, challengeID string, correct bool) {
	t.Helper()
	status, env := ts.do(t, http.MethodPost, "/api/v1/teams/"+teamID+"/completions", judgeKey,
		models.RecordCompletionRequest{ChallengeID: challengeID, IsCorrect: correct})
	if status != http.StatusOK {
		t.Fatalf("record %s status = %d, error = %+v", challengeID, status, env.Error)
	}
}

func TestTeamRankOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	leader := ts.createTeam(t, "Leaders")
	middle := ts.createTeam(t, "Middle")
	ts.createTeam(t, "Trailing")
	ts.record(t, leader.ID, "a1", true)
	ts.record(t, leader.ID, "a2", true)
	ts.record(t, middle.ID, "a1", true)

	status, env := ts.do(t, http.MethodGet, "/api/v1/teams/"+middle.ID+"/rank", viewerKey, nil)
	if status != http.StatusOK {
		t.Fatalf("rank status = %d (%+v)", status, env.Error)
	}
	var rank models.TeamRank
	decodeData(t, env, &rank)
	if rank.Rank != 2 || rank.TotalTeams != 3 || len(rank.Nearby) != 3 {
		t.Fatalf("rank = %+v, want 2 of 3 with every team nearby", rank)
	}
	if rank.Nearby[0].TeamID != leader.ID || rank.Nearby[1].TeamID != middle.ID {
		t.Fatalf("nearby = %+v", rank.Nearby)
	}

	status, env = ts.do(t, http.MethodGet, "/api/v1/teams/missing/rank", viewerKey, nil)
	if status != http.StatusNotFound || env.Error.Code != "team_not_found" {
		t.Fatalf("missing team = %d %+v, want 404 team_not_found", status, env.Error)
	}
}

func TestCompetitionStatsOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	first := ts.createTeam(t, "First")
	second := ts.createTeam(t, "Second")
	ts.record(t, first.ID, "a1", true)
	ts.record(t, first.ID, "a2", true)
	ts.record(t, second.ID, "a1", false)
	ts.record(t, second.ID, "a2", true)

	status, env := ts.do(t, http.MethodGet, "/api/v1/leaderboard/stats", viewerKey, nil)
	if status != http.StatusOK {
		t.Fatalf("stats status = %d (%+v)", status, env.Error)
	}
	var stats models.CompetitionStats
	decodeData(t, env, &stats)
	if stats.TotalTeams != 2 || stats.TotalCompletions != 4 || stats.CorrectCompletions != 3 || stats.AcceptanceRate != 75 {
		t.Fatalf("stats = %+v", stats)
	}
	if len(stats.TopTeams) != 2 || stats.TopTeams[0].TeamID != first.ID {
		t.Fatalf("top teams = %+v", stats.TopTeams)
	}
	if len(stats.TopChallenges) != 2 || stats.TopChallenges[0].ChallengeID != "a1" || stats.TopChallenges[1].Solved != 2 {
		t.Fatalf("top challenges = %+v", stats.TopChallenges)
	}
}

func TestTeamDeactivationOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	team := ts.createTeam(t, "Benched")
	ts.createTeam(t, "Playing")
	admin := "/api/v1/admin/teams/" + team.ID

	if status, env := ts.do(t, http.MethodPost, admin+"/deactivate", judgeKey, nil); status != http.StatusForbidden {
		t.Fatalf("judge deactivate = %d %+v, want 403", status, env.Error)
	}

	status, env := ts.do(t, http.MethodPost, admin+"/deactivate", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("deactivate status = %d (%+v)", status, env.Error)
	}
	var off models.Team
	decodeData(t, env, &off)
	if !off.Deactivated {
		t.Fatalf("team = %+v, want deactivated", off)
	}

	status, env = ts.do(t, http.MethodPost, "/api/v1/teams/"+team.ID+"/completions", judgeKey,
		models.RecordCompletionRequest{ChallengeID: "a1", IsCorrect: true})
	if status != http.StatusForbidden || env.Error.Code != "team_deactivated" {
		t.Fatalf("record on deactivated team = %d %+v, want 403 team_deactivated", status, env.Error)
	}
	status, env = ts.do(t, http.MethodGet, "/api/v1/teams/"+team.ID+"/rank", viewerKey, nil)
	if status != http.StatusForbidden || env.Error.Code != "team_deactivated" {
		t.Fatalf("rank of deactivated team = %d %+v, want 403 team_deactivated", status, env.Error)
	}

	_, env = ts.do(t, http.MethodGet, "/api/v1/leaderboard", viewerKey, nil)
	var board struct {
		Count int `json:"count"`
	}
	decodeData(t, env, &board)
	if board.Count != 1 {
		t.Fatalf("leaderboard count = %d, want 1", board.Count)
	}

	if status, env := ts.do(t, http.MethodPost, admin+"/activate", adminKey, nil); status != http.StatusOK {
		t.Fatalf("activate status = %d (%+v)", status, env.Error)
	}
	ts.record(t, team.ID, "a1", true)
}

func TestInspectUnlockCodeOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	team := ts.createTeam(t, "Holders")
	ts.record(t, team.ID, "a1", true)
	ts.record(t, team.ID, "a2", true)
	_, env := ts.do(t, http.MethodPost, "/api/v1/teams/"+team.ID+"/eligibility", judgeKey, nil)
	var elig models.Eligibility
	decodeData(t, env, &elig)

	path := "/api/v1/admin/unlock-codes/inspect"
	status, env := ts.do(t, http.MethodPost, path, adminKey, inspectCodeRequest{Code: elig.UnlockCode})
	if status != http.StatusOK {
		t.Fatalf("inspect status = %d (%+v)", status, env.Error)
	}
	var got models.CodeInspection
	decodeData(t, env, &got)
	if !got.Issued || got.TeamID != team.ID || !got.StampMatches {
		t.Fatalf("inspection = %+v", got)
	}

	status, env = ts.do(t, http.MethodPost, path, adminKey, inspectCodeRequest{Code: "BUILD1234"})
	if status != http.StatusBadRequest || env.Error.Code != "validation_error" {
		t.Fatalf("malformed code = %d %+v, want 400 validation_error", status, env.Error)
	}
	if status, _ := ts.do(t, http.MethodPost, path, judgeKey, inspectCodeRequest{Code: elig.UnlockCode}); status != http.StatusForbidden {
		t.Fatalf("judge inspect = %d, want 403", status)
	}
}

func TestChallengeEditing(t *testing.T) {
	ts := newTestServer(t)
	announcer := &fakeAnnouncer{}
	ts.srv.SetAnnouncer(announcer)

	status, env := ts.do(t, http.MethodPut, "/api/v1/admin/challenges/a3", adminKey, upsertChallengeRequest{
		Title:  "A3",
		Phase:  models.PhaseAlgorithmic,
		Points: 150,
	})
	if status != http.StatusOK {
		t.Fatalf("upsert status = %d (%+v)", status, env.Error)
	}
	ch, err := ts.catalog.Get(context.Background(), "a3")
	if err != nil || !ch.Active || ch.Points != 150 {
		t.Fatalf("catalog a3 = %+v, %v", ch, err)
	}

	status, env = ts.do(t, http.MethodPost, "/api/v1/admin/challenges/a2/deactivate", adminKey, nil)
	if status != http.StatusOK {
		t.Fatalf("deactivate status = %d (%+v)", status, env.Error)
	}
	if ch, _ := ts.catalog.Get(context.Background(), "a2"); ch.Active {
		t.Fatal("a2 should be inactive")
	}
	if got := announcer.calls.Load(); got != 2 {
		t.Fatalf("announcer calls = %d, want 2", got)
	}

	// new teams capture the edited catalog
	team := ts.createTeam(t, "Late Joiners")
	if len(team.Requirements) != 2 {
		t.Fatalf("requirements = %+v, want a1 and a3", team.Requirements)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
		code   string
	}{
		{"unknown challenge", http.MethodPost, "/api/v1/admin/challenges/zz/activate", nil, http.StatusNotFound, "challenge_not_found"},
		{"bad phase", http.MethodPut, "/api/v1/admin/challenges/x", upsertChallengeRequest{Title: "X", Phase: "final"}, http.StatusBadRequest, "validation_error"},
		{"negative points", http.MethodPut, "/api/v1/admin/challenges/x", upsertChallengeRequest{Title: "X", Phase: models.PhaseBuildathon, Points: -1}, http.StatusBadRequest, "validation_error"},
		{"missing title", http.MethodPut, "/api/v1/admin/challenges/x", upsertChallengeRequest{Phase: models.PhaseBuildathon}, http.StatusBadRequest, "validation_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := ts.do(t, tt.method, tt.path, adminKey, tt.body)
			if status != tt.want || env.Error == nil || env.Error.Code != tt.code {
				t.Fatalf("got %d %+v, want %d %s", status, env.Error, tt.want, tt.code)
			}
		})
	}

	ts.srv.SetChallengeEditor(nil)
	status, env = ts.do(t, http.MethodPost, "/api/v1/admin/challenges/a2/activate", adminKey, nil)
	if status != http.StatusNotImplemented || env.Error.Code != "catalog_read_only" {
		t.Fatalf("read-only catalog = %d %+v, want 501 catalog_read_only", status, env.Error)
	}
}

// cancelAwareEngine records whether Reevaluate saw a cancelled context
type cancelAwareEngine struct {
	Progression
	ctxErr error
}

func (e *cancelAwareEngine) Reevaluate(ctx context.Context) (models.SweepReport, error) {
	e.ctxErr = ctx.Err()
	return models.SweepReport{Teams: 1}, nil
}

func TestReevaluateOutlivesClient(t *testing.T) {
	eng := &cancelAwareEngine{}
	srv := &Server{engine: eng}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/reevaluate", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	srv.handleReevaluate(rec, req)

	if eng.ctxErr != nil {
		t.Fatalf("sweep context error = %v, want nil after client hang-up", eng.ctxErr)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
