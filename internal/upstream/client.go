package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/contentpilot/jobs-be/internal/domain"
)

// Config holds upstream API client configuration
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client is a typed HTTP client for the external generation API. It performs
// no retries of its own; failures propagate to the caller.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new upstream API client
func NewClient(cfg *Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// SubmitRequest carries everything the upstream API needs to start a job.
// TargetApproach selects the API variant endpoint.
type SubmitRequest struct {
	JobID          string          `json:"jobId"`
	TargetApproach string          `json:"targetApproach"`
	PersonaName    string          `json:"personaName,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// JobState is the normalized status of an upstream job.
type JobState struct {
	Phase    domain.UpstreamPhase
	Progress int
}

type submitResponse struct {
	JobID string `json:"jobId"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Progress *int   `json:"progress,omitempty"`
}

// Submit starts a new upstream job and returns the upstream execution id.
func (c *Client) Submit(ctx context.Context, req *SubmitRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	path := "/v1/generations"
	if req.TargetApproach != "" {
		path = fmt.Sprintf("/v1/generations/%s", req.TargetApproach)
	}

	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(body), &resp); err != nil {
		return "", err
	}

	if resp.JobID == "" {
		return "", fmt.Errorf("upstream submit returned empty jobId")
	}

	c.logger.Info("Upstream job submitted",
		slog.String("job_id", req.JobID),
		slog.String("execution_id", resp.JobID),
		slog.String("target_approach", req.TargetApproach),
	)

	return resp.JobID, nil
}

// GetStatus fetches the current upstream status for an execution id. The raw
// provider status string is normalized into the closed phase enum here so
// callers never see provider values.
func (c *Client) GetStatus(ctx context.Context, executionID string) (*JobState, error) {
	var resp statusResponse
	path := fmt.Sprintf("/v1/status/%s", executionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	state := &JobState{
		Phase:    domain.NormalizePhase(resp.Status),
		Progress: -1,
	}
	if resp.Progress != nil {
		state.Progress = *resp.Progress
	}

	return state, nil
}

// GetResult fetches the raw result payload for a succeeded execution. The
// payload shape is provider-specific; it is returned verbatim for the
// materializer to normalize.
func (c *Client) GetResult(ctx context.Context, executionID string) (json.RawMessage, error) {
	path := fmt.Sprintf("/v1/result/%s", executionID)

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrResultFetch, err)
	}

	return raw, nil
}

// do executes one HTTP round trip against the upstream API and decodes the
// JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create upstream request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(data))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}

	return nil
}
