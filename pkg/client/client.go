// Package client is a Go SDK for the duothan-engine HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/terra-clan/duothan-engine/internal/models"
)

// Client is a Go SDK for duothan-engine API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new duothan-engine client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a non-2xx response from the engine
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s - %s", e.StatusCode, e.Code, e.Message)
}

// IsRetryable reports whether the engine asked the caller to retry
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable
}

// IsNotFound reports whether the addressed team, challenge or record does not exist
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateTeam registers a team
func (c *Client) CreateTeam(ctx context.Context, name string) (*models.Team, error) {
	var team models.Team
	if err := c.call(ctx, http.MethodPost, "/api/v1/teams", models.CreateTeamRequest{Name: name}, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// GetTeam retrieves a team by ID. The unlock code is never included.
func (c *Client) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	var team models.Team
	if err := c.call(ctx, http.MethodGet, teamPath(id, ""), nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// Board returns the team's view of the challenge catalog
func (c *Client) Board(ctx context.Context, teamID string) (*models.Board, error) {
	var board models.Board
	if err := c.call(ctx, http.MethodGet, teamPath(teamID, "/board"), nil, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// RecordCompletion reports a judge result
func (c *Client) RecordCompletion(ctx context.Context, teamID string, req models.RecordCompletionRequest) (*models.CompletionRecord, error) {
	var rec models.CompletionRecord
	if err := c.call(ctx, http.MethodPost, teamPath(teamID, "/completions"), req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// EvaluateEligibility re-checks the team and returns its unlock code when eligible
func (c *Client) EvaluateEligibility(ctx context.Context, teamID string) (*models.Eligibility, error) {
	var elig models.Eligibility
	if err := c.call(ctx, http.MethodPost, teamPath(teamID, "/eligibility"), nil, &elig); err != nil {
		return nil, err
	}
	return &elig, nil
}

// Redeem submits an unlock code. A rejected code is not an error:
// the result carries the reason and progress.
func (c *Client) Redeem(ctx context.Context, teamID, code string) (*models.RedeemResult, error) {
	var result models.RedeemResult
	err := c.call(ctx, http.MethodPost, teamPath(teamID, "/unlock"), models.RedeemRequest{Code: code}, &result)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict && result.Reason != "" {
			return &result, nil
		}
		return nil, err
	}
	return &result, nil
}

// Leaderboard returns the top teams. limit <= 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) ([]models.LeaderboardEntry, error) {
	path := "/api/v1/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}

	var result struct {
		Entries []models.LeaderboardEntry `json:"entries"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Entries, nil
}

// TeamRank returns the team's rank and its neighbours on the leaderboard
func (c *Client) TeamRank(ctx context.Context, teamID string) (*models.TeamRank, error) {
	var rank models.TeamRank
	if err := c.call(ctx, http.MethodGet, teamPath(teamID, "/rank"), nil, &rank); err != nil {
		return nil, err
	}
	return &rank, nil
}

// CompetitionStats returns competition-wide totals and top lists
func (c *Client) CompetitionStats(ctx context.Context) (*models.CompetitionStats, error) {
	var stats models.CompetitionStats
	if err := c.call(ctx, http.MethodGet, "/api/v1/leaderboard/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// NotifyCatalogChanged asks the engine to reevaluate every team in the background
func (c *Client) NotifyCatalogChanged(ctx context.Context) error {
	return c.call(ctx, http.MethodPost, "/api/v1/admin/catalog-changed", nil, nil)
}

// Reevaluate runs a full sweep and waits for it
func (c *Client) Reevaluate(ctx context.Context) (*models.SweepReport, error) {
	var report models.SweepReport
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/reevaluate", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SystemHealth returns unlock code coverage across teams
func (c *Client) SystemHealth(ctx context.Context) (*models.SystemHealth, error) {
	var health models.SystemHealth
	if err := c.call(ctx, http.MethodGet, "/api/v1/admin/health", nil, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// ResetUnlockCode discards the team's code and returns the replacement, if any
func (c *Client) ResetUnlockCode(ctx context.Context, teamID string) (string, error) {
	var result struct {
		UnlockCode string `json:"unlock_code"`
	}
	path := "/api/v1/admin/teams/" + url.PathEscape(teamID) + "/unlock-code/reset"
	if err := c.call(ctx, http.MethodPost, path, nil, &result); err != nil {
		return "", err
	}
	return result.UnlockCode, nil
}

// RevokeCompletion debits a wrongly accepted completion
func (c *Client) RevokeCompletion(ctx context.Context, teamID, challengeID string) (*models.CompletionRecord, error) {
	var rec models.CompletionRecord
	path := "/api/v1/admin/teams/" + url.PathEscape(teamID) + "/completions/" + url.PathEscape(challengeID) + "/revoke"
	if err := c.call(ctx, http.MethodPost, path, nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// SetTeamActive deactivates or reactivates a team
func (c *Client) SetTeamActive(ctx context.Context, teamID string, active bool) (*models.Team, error) {
	action := "/deactivate"
	if active {
		action = "/activate"
	}
	var team models.Team
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/teams/"+url.PathEscape(teamID)+action, nil, &team); err != nil {
		return nil, err
	}
	return &team, nil
}

// InspectUnlockCode reports a code's segments and which team holds it
func (c *Client) InspectUnlockCode(ctx context.Context, code string) (*models.CodeInspection, error) {
	var result models.CodeInspection
	in := map[string]string{"code": code}
	if err := c.call(ctx, http.MethodPost, "/api/v1/admin/unlock-codes/inspect", in, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

func teamPath(id, suffix string) string {
	return "/api/v1/teams/" + url.PathEscape(id) + suffix
}

// call performs a request and decodes the envelope's data into out.
// On an error response out still receives any data the server attached.
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	status, raw, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if status >= 400 {
			return &APIError{StatusCode: status, Code: "http_error", Message: string(raw)}
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response data: %w", err)
		}
	}

	if status >= 400 || !env.Success {
		apiErr := &APIError{StatusCode: status}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
