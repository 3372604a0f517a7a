package mcpserver

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

	"github.com/praisedesk/settlement/internal/circuitbreaker"
)

// breakerKey is the single circuit guarding the settlement API.
const breakerKey = "settlement_api"

// Config holds the configuration for connecting to the settlement API.
type Config struct {
	APIURL    string // Base URL, e.g. "http://localhost:8080"
	APIKey    string // API key, e.g. "sk_..."
	AccountID string // Account the key belongs to
}

// SettlementClient is a pure HTTP client for the settlement API.
type SettlementClient struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewSettlementClient creates a new client for the settlement API.
func NewSettlementClient(cfg Config) *SettlementClient {
	return &SettlementClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError is a non-2xx API response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }

// countsAgainstAPI reports whether err suggests the API itself is failing.
// Client errors and caller cancellations do not.
func countsAgainstAPI(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

// doRequest makes an HTTP request to the API and returns the response body.
// Repeated server failures open a circuit and later calls fail fast.
func (c *SettlementClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.breaker.Call(breakerKey, func() error {
		var err error
		out, err = c.send(ctx, method, path, query, body)
		return err
	}, countsAgainstAPI)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return nil, fmt.Errorf("settlement API unavailable: %w", err)
	}
	return out, err
}

func (c *SettlementClient) send(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, &statusError{resp.StatusCode, fmt.Sprintf("API error (%d %s): %s", resp.StatusCode, apiErr.Error, apiErr.Message)}
		}
		return nil, &statusError{resp.StatusCode, fmt.Sprintf("API error (%d): %s", resp.StatusCode, string(respBody))}
	}

	return json.RawMessage(respBody), nil
}

// account returns id, falling back to the configured account.
func (c *SettlementClient) account(id string) string {
	if id != "" {
		return id
	}
	return c.cfg.AccountID
}

// Quote prices a task without creating it.
func (c *SettlementClient) Quote(ctx context.Context, input map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/pricing/quote", nil, input)
}

// GetTask returns a review task and the events the caller may fire on it.
func (c *SettlementClient) GetTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/review-tasks/"+url.PathEscape(taskID), nil, nil)
}

// ListTasks lists the caller's review tasks, optionally filtered by state.
func (c *SettlementClient) ListTasks(ctx context.Context, state string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/review-tasks", q, nil)
}

// PayTask pays an unpaid task with the given strategy.
func (c *SettlementClient) PayTask(ctx context.Context, taskID, strategy string) (json.RawMessage, error) {
	path := "/v1/review-tasks/" + url.PathEscape(taskID) + "/pay"
	return c.doRequest(ctx, http.MethodPost, path, nil, map[string]string{"strategy": strategy})
}

// ConfirmTask confirms an uploaded task, settling the buyer's commission.
func (c *SettlementClient) ConfirmTask(ctx context.Context, taskID string) (json.RawMessage, error) {
	path := "/v1/review-tasks/" + url.PathEscape(taskID) + "/confirm"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// GetAccount returns an account's balances.
func (c *SettlementClient) GetAccount(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/accounts/"+url.PathEscape(c.account(accountID)), nil, nil)
}

// ListRecords returns an account's finance records, newest first.
func (c *SettlementClient) ListRecords(ctx context.Context, accountID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/accounts/" + url.PathEscape(c.account(accountID)) + "/records"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}
