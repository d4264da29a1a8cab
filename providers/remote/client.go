// Package remote talks to a hosted personalization service over REST.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// RetryConfig bounds HTTP-layer retries. Task-level retry is not this package's concern.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

type response struct {
	status int
	body   []byte
}

type submitRequest struct {
	Kind         models.Kind `json:"kind"`
	UserImage    string      `json:"user_image"`
	SubjectMedia string      `json:"subject_media"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

// Client implements the provider contract against POST /tasks and GET /tasks/{id}.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	// Submissions are only retried when the provider certainly did not accept them.
	submitExec failsafe.Executor[*response]
	statusExec failsafe.Executor[*response]
}

func NewClient(baseURL, apiKey string, retry RetryConfig) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		submitExec: failsafe.With[*response](newRetryPolicy(retry, shouldRetrySubmit)),
		statusExec: failsafe.With[*response](newRetryPolicy(retry, shouldRetryStatus)),
	}
}

func newRetryPolicy(cfg RetryConfig, shouldRetry func(*response, error) bool) retrypolicy.RetryPolicy[*response] {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return retrypolicy.NewBuilder[*response]().
		HandleIf(shouldRetry).
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		ReturnLastFailure().
		Build()
}

func shouldRetrySubmit(resp *response, err error) bool {
	if err != nil || resp == nil {
		return false
	}
	return resp.status == http.StatusTooManyRequests || resp.status == http.StatusServiceUnavailable
}

func shouldRetryStatus(resp *response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	return resp.status == http.StatusTooManyRequests || resp.status >= 500
}

// Submit creates a provider task.
func (c *Client) Submit(ctx context.Context, req models.TryOnRequest) (string, error) {
	payload, err := json.Marshal(submitRequest{
		Kind:         req.Kind,
		UserImage:    req.UserImageRef,
		SubjectMedia: req.SubjectMediaRef,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode submit request: %w", err)
	}

	resp, err := c.submitExec.WithContext(ctx).Get(func() (*response, error) {
		return c.do(ctx, http.MethodPost, c.baseURL+"/tasks", payload)
	})
	if err != nil {
		return "", fmt.Errorf("submit failed: %w", err)
	}
	if resp.status != http.StatusOK && resp.status != http.StatusCreated && resp.status != http.StatusAccepted {
		return "", fmt.Errorf("submit failed: status %d: %s", resp.status, snippet(resp.body))
	}

	var out submitResponse
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("failed to decode submit response: %w", err)
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("submit response has no task_id")
	}
	return out.TaskID, nil
}

// CheckStatus fetches the provider's view of a task.
func (c *Client) CheckStatus(ctx context.Context, providerTaskID string) (models.StatusReport, error) {
	endpoint := c.baseURL + "/tasks/" + url.PathEscape(providerTaskID)
	resp, err := c.statusExec.WithContext(ctx).Get(func() (*response, error) {
		return c.do(ctx, http.MethodGet, endpoint, nil)
	})
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("status check failed: %w", err)
	}
	if resp.status != http.StatusOK {
		return models.StatusReport{}, fmt.Errorf("status check failed: status %d: %s", resp.status, snippet(resp.body))
	}

	var report models.StatusReport
	if err := json.Unmarshal(resp.body, &report); err != nil {
		return models.StatusReport{}, fmt.Errorf("failed to decode status response: %w", err)
	}
	switch report.Status {
	case models.ProviderPending, models.ProviderCompleted, models.ProviderFailed:
	case "queued", "processing", "running":
		report.Status = models.ProviderPending
	default:
		return models.StatusReport{}, fmt.Errorf("unknown provider status %q", report.Status)
	}
	return report, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, body: data}, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
