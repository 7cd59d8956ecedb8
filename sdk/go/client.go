// Package filigreesdk is a small client for the filigree HTTP API.
package filigreesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one filigree server. BaseURL includes the API base path,
// e.g. http://127.0.0.1:8080/v1.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(baseURL string) *Client {
	return &Client{BaseURL: baseURL, Timeout: 10 * time.Second}
}

// Issue mirrors the API issue model.
type Issue struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Status         string         `json:"status"`
	StatusCategory string         `json:"status_category"`
	Priority       int            `json:"priority"`
	Assignee       string         `json:"assignee,omitempty"`
	Fields         map[string]any `json:"fields,omitempty"`
	ParentID       *string        `json:"parent_id,omitempty"`
	Labels         []string       `json:"labels,omitempty"`
	DependsOn      []string       `json:"depends_on,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	ClosedAt       *string        `json:"closed_at,omitempty"`
}

type CreateIssue struct {
	ID          string         `json:"id,omitempty"`
	Type        string         `json:"type,omitempty"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    *int           `json:"priority,omitempty"`
	Assignee    string         `json:"assignee,omitempty"`
	ParentID    string         `json:"parent_id,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Labels      []string       `json:"labels,omitempty"`
	DependsOn   []string       `json:"depends_on,omitempty"`
}

type UpdateIssue struct {
	Title       *string        `json:"title,omitempty"`
	Description *string        `json:"description,omitempty"`
	Priority    *int           `json:"priority,omitempty"`
	Assignee    *string        `json:"assignee,omitempty"`
	ParentID    *string        `json:"parent_id,omitempty"`
	Status      string         `json:"status,omitempty"`
	Fields      map[string]any `json:"fields,omitempty"`
	Override    bool           `json:"override,omitempty"`
}

type IssueResult struct {
	Issue    Issue    `json:"issue"`
	Warnings []string `json:"warnings,omitempty"`
}

type Event struct {
	ID       int64  `json:"id"`
	TS       string `json:"ts"`
	Type     string `json:"type"`
	IssueID  string `json:"issue_id"`
	Actor    string `json:"actor"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`
}

// APIError is a non-2xx response decoded from the error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("filigree api: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// MissingFields returns the fields a hard gate reported as unset.
func (e *APIError) MissingFields() []string {
	raw, _ := e.Details["missing_fields"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) CreateIssue(ctx context.Context, in CreateIssue) (Issue, error) {
	var out Issue
	err := c.do(ctx, http.MethodPost, "issues", in, &out)
	return out, err
}

func (c *Client) GetIssue(ctx context.Context, id string) (Issue, error) {
	var out Issue
	err := c.do(ctx, http.MethodGet, "issues/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) UpdateIssue(ctx context.Context, id string, in UpdateIssue) (IssueResult, error) {
	var out IssueResult
	err := c.do(ctx, http.MethodPatch, "issues/"+url.PathEscape(id), in, &out)
	return out, err
}

func (c *Client) CloseIssue(ctx context.Context, id, reason string, fields map[string]any) (IssueResult, error) {
	var out IssueResult
	body := map[string]any{}
	if reason != "" {
		body["reason"] = reason
	}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(id)+"/close", body, &out)
	return out, err
}

// Claim assigns the issue to assignee, or to the caller when empty.
func (c *Client) Claim(ctx context.Context, id, assignee string) (Issue, error) {
	var out Issue
	body := map[string]any{}
	if assignee != "" {
		body["assignee"] = assignee
	}
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(id)+"/claim", body, &out)
	return out, err
}

func (c *Client) Release(ctx context.Context, id string) (Issue, error) {
	var out Issue
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(id)+"/release", nil, &out)
	return out, err
}

// ClaimNext returns nil when nothing was ready to claim.
func (c *Client) ClaimNext(ctx context.Context, assignee string, types ...string) (*Issue, error) {
	var out struct {
		Claimed bool   `json:"claimed"`
		Issue   *Issue `json:"issue"`
	}
	body := map[string]any{}
	if assignee != "" {
		body["assignee"] = assignee
	}
	if len(types) > 0 {
		body["types"] = types
	}
	if err := c.do(ctx, http.MethodPost, "claim-next", body, &out); err != nil {
		return nil, err
	}
	if !out.Claimed {
		return nil, nil
	}
	return out.Issue, nil
}

func (c *Client) AddDependency(ctx context.Context, id, dependsOn string) (bool, error) {
	var out struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPost, "issues/"+url.PathEscape(id)+"/dependencies", map[string]any{"depends_on": dependsOn}, &out)
	return out.Changed, err
}

func (c *Client) RemoveDependency(ctx context.Context, id, dependsOn string) (bool, error) {
	var out struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodDelete, "issues/"+url.PathEscape(id)+"/dependencies/"+url.PathEscape(dependsOn), nil, &out)
	return out.Changed, err
}

func (c *Client) Ready(ctx context.Context, limit int) ([]Issue, error) {
	endpoint := "ready"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out []Issue
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) CriticalPath(ctx context.Context) ([]Issue, error) {
	var out []Issue
	err := c.do(ctx, http.MethodGet, "critical-path", nil, &out)
	return out, err
}

func (c *Client) Events(ctx context.Context, issueID string, limit int) ([]Event, error) {
	endpoint := "events"
	if issueID != "" {
		endpoint = "issues/" + url.PathEscape(issueID) + "/events"
	}
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &env) == nil && env.Error.Code != "" {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
