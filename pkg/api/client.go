// Package api is the HTTP client for the design assistant backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/killallgit/atelier/pkg/chat"
	"github.com/killallgit/atelier/pkg/logger"
)

// ErrUnauthorized is wrapped by a StatusError for 401 and 403 responses.
var ErrUnauthorized = errors.New("unauthorized")

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Method, e.Path, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s failed with status %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

const maxErrorBody = 512

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		token: token,
		log:   logger.WithComponent("api"),
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return nil, fmt.Errorf("health check failed: %w", err)
	}
	return &h, nil
}

// Me returns the user the token belongs to.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, nil, &u); err != nil {
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}
	return &u, nil
}

// Logout invalidates the token on the backend.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, struct{}{}, nil); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

func (c *Client) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	var projects []Project
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/projects/", q, nil, &projects); err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

func (c *Client) CreateProject(ctx context.Context, p NewProject) (*Project, error) {
	var created Project
	if err := c.do(ctx, http.MethodPost, "/projects/", nil, p, &created); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return &created, nil
}

// History returns a project's stored messages, oldest first.
func (c *Client) History(ctx context.Context, projectID string) ([]Message, error) {
	var msgs []Message
	path := fmt.Sprintf("/projects/%s/messages/", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &msgs); err != nil {
		return nil, fmt.Errorf("failed to load history for project %s: %w", projectID, err)
	}
	return msgs, nil
}

// Previews returns the latest message of every project the user owns.
func (c *Client) Previews(ctx context.Context, userID string) (map[string]chat.Preview, error) {
	var rows []ProjectPreview
	q := url.Values{"user_id": {userID}}
	if err := c.do(ctx, http.MethodGet, "/projects/previews/", q, nil, &rows); err != nil {
		return nil, fmt.Errorf("failed to load previews: %w", err)
	}

	out := make(map[string]chat.Preview, len(rows))
	for _, r := range rows {
		out[r.ProjectID.String()] = chat.Preview{
			Role:      chat.Role(r.Role),
			Content:   r.Content,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Chat runs one turn over request/response.
func (c *Client) Chat(ctx context.Context, projectID, message string) (*ChatReply, error) {
	var reply ChatReply
	req := ChatRequest{ProjectID: ID(projectID), Message: message}
	if err := c.do(ctx, http.MethodPost, "/agent/chat", nil, req, &reply); err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	return &reply, nil
}

func (c *Client) RecordFeedback(ctx context.Context, ev FeedbackEvent) error {
	if err := c.do(ctx, http.MethodPost, "/feedback/", nil, ev, nil); err != nil {
		return fmt.Errorf("failed to record %s feedback: %w", ev.EventType, err)
	}
	return nil
}

// SaveVersion stores the project's current design as a new version.
func (c *Client) SaveVersion(ctx context.Context, projectID string, v NewVersion) (*Version, error) {
	var saved Version
	path := fmt.Sprintf("/projects/%s/versions/", url.PathEscape(projectID))
	if err := c.do(ctx, http.MethodPost, path, nil, v, &saved); err != nil {
		return nil, fmt.Errorf("failed to save design: %w", err)
	}
	return &saved, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("%s %s -> %d in %s", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Method: method,
			Path:   path,
			Code:   resp.StatusCode,
			Body:   strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
