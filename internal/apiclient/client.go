// Package apiclient talks to the flock-control server.
package apiclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sethshoultes/flock-control/internal/model"
)

// Client calls the server API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithTokenSource sets where the bearer token comes from. It is called on
// every request; an empty token sends no Authorization header.
func WithTokenSource(token func() string) Option {
	return func(cl *Client) { cl.token = token }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
		token:   func() string { return "" },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Analyze submits an image data URL for analysis.
func (c *Client) Analyze(ctx context.Context, image string) (*model.AnalyzeResponse, error) {
	var resp model.AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, "/api/analyze", model.AnalyzeRequest{Image: image}, &resp); err != nil {
		return nil, err
	}
	if resp.Count.ID.IsZero() {
		return nil, &Error{Status: http.StatusOK, Kind: KindTransient, Message: "analyze response has no count"}
	}
	return &resp, nil
}

// ListCounts returns the signed-in user's counts as stored on the server.
func (c *Client) ListCounts(ctx context.Context) ([]model.Count, error) {
	var resp model.CountsResponse
	if err := c.do(ctx, http.MethodGet, "/api/counts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Counts, nil
}

// CreateCount stores an already analyzed count for the signed-in user.
func (c *Client) CreateCount(ctx context.Context, req model.CreateCountRequest) (*model.AnalyzeResponse, error) {
	var resp model.AnalyzeResponse
	if err := c.do(ctx, http.MethodPost, "/api/counts", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Count.ID.IsRemote() {
		return nil, &Error{Status: http.StatusOK, Kind: KindTransient, Message: "create response has no count id"}
	}
	return &resp, nil
}

func (c *Client) DeleteCounts(ctx context.Context, ids []int64) error {
	return c.do(ctx, http.MethodDelete, "/api/counts", model.DeleteCountsRequest{CountIDs: ids}, nil)
}

// Health calls the health endpoint. A non-2xx answer is an *Error.
func (c *Client) Health(ctx context.Context) (*model.HealthResponse, error) {
	var resp model.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Achievements(ctx context.Context) (*model.AchievementSet, error) {
	var resp model.AchievementsResponse
	if err := c.do(ctx, http.MethodGet, "/api/achievements", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Achievements, nil
}

func (c *Client) Login(ctx context.Context, email, password string) (*model.LoginResponse, error) {
	var resp model.LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", model.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Me(ctx context.Context) (*model.MeResponse, error) {
	var resp model.MeResponse
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindInvalid, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindInvalid, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Message: fmt.Sprintf("%s %s", method, path), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Kind: Classify(resp.StatusCode), Message: errorMessage(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Status: resp.StatusCode, Kind: KindTransient, Message: "malformed response", Err: err}
	}
	return nil
}

func errorMessage(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		return payload.Error
	}
	if msg := strings.TrimSpace(string(data)); msg != "" {
		return msg
	}
	return "request failed"
}
