package plane

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultBaseURL = "https://api.plane.so/api/v1"
	DefaultTimeout = 30 * time.Second

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// Client provides methods to interact with the Plane REST API.
// Each call is a single attempt; nothing is retried.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// NewClient creates a new Plane client.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		Logger: zerolog.Nop(),
	}
}

// WithTimeout returns a copy of the client using the given request timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	clone := *c
	clone.HTTPClient = &http.Client{
		Timeout:   timeout,
		Transport: c.HTTPClient.Transport,
	}
	return &clone
}

// WithLogger returns a copy of the client that logs requests to logger.
func (c *Client) WithLogger(logger zerolog.Logger) *Client {
	clone := *c
	clone.Logger = logger
	return &clone
}

func workspacePath(ws string, parts ...string) string {
	segs := make([]string, 0, len(parts)+2)
	segs = append(segs, "workspaces", url.PathEscape(ws))
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return "/" + strings.Join(segs, "/") + "/"
}

// request sends one HTTP request and returns the response body on 2xx.
func (c *Client) request(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &RemoteError{Class: ClassUnreachable, Method: method, Path: path, Err: err}
	}

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	c.Logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("plane request")

	if err != nil {
		return nil, &RemoteError{Class: ClassUnreachable, StatusCode: resp.StatusCode, Method: method, Path: path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &RemoteError{
			Class:      classifyStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(text),
		}
	}

	return respBody, nil
}

// create POSTs body and decodes a record that must carry a non-empty id.
func (c *Client) create(ctx context.Context, path string, body, out interface{}, id func() string) error {
	respBody, err := c.request(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &RemoteError{Class: ClassMalformedResponse, Method: http.MethodPost, Path: path, Err: err}
	}
	if id() == "" {
		return &RemoteError{
			Class:  ClassMalformedResponse,
			Method: http.MethodPost,
			Path:   path,
			Err:    errors.New("response has no id"),
		}
	}
	return nil
}

// remove DELETEs path; a 404 counts as success.
func (c *Client) remove(ctx context.Context, path string) error {
	_, err := c.request(ctx, http.MethodDelete, path, nil)
	if IsNotFound(err) {
		c.Logger.Debug().Str("path", path).Msg("resource already gone")
		return nil
	}
	return err
}

// list GETs path and decodes either a bare array or Plane's cursor pages
// ({"results": [...], "next_cursor": ..., "next_page_results": true}).
// Pages are followed until next_page_results is false.
func (c *Client) list(ctx context.Context, path string, out interface{}) error {
	var items []json.RawMessage
	seen := make(map[string]bool)

	pagePath := path
	for {
		respBody, err := c.request(ctx, http.MethodGet, pagePath, nil)
		if err != nil {
			return err
		}

		trimmed := bytes.TrimSpace(respBody)
		if len(trimmed) == 0 || trimmed[0] != '{' {
			if err := json.Unmarshal(trimmed, &items); err != nil {
				return &RemoteError{Class: ClassMalformedResponse, Method: http.MethodGet, Path: pagePath, Err: err}
			}
			break
		}

		var page struct {
			Results         []json.RawMessage `json:"results"`
			NextCursor      string            `json:"next_cursor"`
			NextPageResults bool              `json:"next_page_results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return &RemoteError{Class: ClassMalformedResponse, Method: http.MethodGet, Path: pagePath, Err: err}
		}
		items = append(items, page.Results...)

		if !page.NextPageResults || page.NextCursor == "" {
			break
		}
		if seen[page.NextCursor] {
			return &RemoteError{
				Class:  ClassMalformedResponse,
				Method: http.MethodGet,
				Path:   pagePath,
				Err:    fmt.Errorf("cursor %q repeated", page.NextCursor),
			}
		}
		seen[page.NextCursor] = true
		pagePath = path + "?cursor=" + url.QueryEscape(page.NextCursor)
	}

	if items == nil {
		items = []json.RawMessage{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to collect %s: %w", path, err)
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return &RemoteError{Class: ClassMalformedResponse, Method: http.MethodGet, Path: path, Err: err}
	}
	return nil
}

// Ping verifies credentials and workspace access by listing projects.
func (c *Client) Ping(ctx context.Context, ws string) error {
	_, err := c.ListProjects(ctx, ws)
	return err
}

// ListProjects returns every project of a workspace, across all pages.
func (c *Client) ListProjects(ctx context.Context, ws string) ([]Project, error) {
	var projects []Project
	if err := c.list(ctx, workspacePath(ws, "projects"), &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a project in the workspace.
func (c *Client) CreateProject(ctx context.Context, ws string, req CreateProjectRequest) (*Project, error) {
	var project Project
	if err := c.create(ctx, workspacePath(ws, "projects"), req, &project, func() string { return project.ID }); err != nil {
		return nil, err
	}
	return &project, nil
}

// DeleteProject deletes a project by its remote ID.
func (c *Client) DeleteProject(ctx context.Context, ws, projectID string) error {
	return c.remove(ctx, workspacePath(ws, "projects", projectID))
}

// CreateCycle creates a cycle in a project.
func (c *Client) CreateCycle(ctx context.Context, ws, projectID string, req CreateCycleRequest) (*Cycle, error) {
	var cycle Cycle
	if err := c.create(ctx, workspacePath(ws, "projects", projectID, "cycles"), req, &cycle, func() string { return cycle.ID }); err != nil {
		return nil, err
	}
	return &cycle, nil
}

// DeleteCycle deletes a cycle.
func (c *Client) DeleteCycle(ctx context.Context, ws, projectID, cycleID string) error {
	return c.remove(ctx, workspacePath(ws, "projects", projectID, "cycles", cycleID))
}

// CreateModule creates a module in a project.
func (c *Client) CreateModule(ctx context.Context, ws, projectID string, req CreateModuleRequest) (*Module, error) {
	var module Module
	if err := c.create(ctx, workspacePath(ws, "projects", projectID, "modules"), req, &module, func() string { return module.ID }); err != nil {
		return nil, err
	}
	return &module, nil
}

// DeleteModule deletes a module.
func (c *Client) DeleteModule(ctx context.Context, ws, projectID, moduleID string) error {
	return c.remove(ctx, workspacePath(ws, "projects", projectID, "modules", moduleID))
}

// CreateIssue creates a work item. A non-nil Parent makes it a sub-issue.
func (c *Client) CreateIssue(ctx context.Context, ws, projectID string, req CreateIssueRequest) (*Issue, error) {
	var issue Issue
	if err := c.create(ctx, workspacePath(ws, "projects", projectID, "work-items"), req, &issue, func() string { return issue.ID }); err != nil {
		return nil, err
	}
	return &issue, nil
}

// DeleteIssue deletes a work item.
func (c *Client) DeleteIssue(ctx context.Context, ws, projectID, issueID string) error {
	return c.remove(ctx, workspacePath(ws, "projects", projectID, "work-items", issueID))
}

// AddIssuesToCycle attaches work items to a cycle.
func (c *Client) AddIssuesToCycle(ctx context.Context, ws, projectID, cycleID string, issueIDs []string) error {
	path := workspacePath(ws, "projects", projectID, "cycles", cycleID, "cycle-issues")
	_, err := c.request(ctx, http.MethodPost, path, linkIssuesRequest{Issues: issueIDs})
	return err
}

// AddIssuesToModule attaches work items to a module.
func (c *Client) AddIssuesToModule(ctx context.Context, ws, projectID, moduleID string, issueIDs []string) error {
	path := workspacePath(ws, "projects", projectID, "modules", moduleID, "module-issues")
	_, err := c.request(ctx, http.MethodPost, path, linkIssuesRequest{Issues: issueIDs})
	return err
}

// ListMembers returns workspace members. Entries wrapped as {"member": {...}}
// are unwrapped.
func (c *Client) ListMembers(ctx context.Context, ws string) ([]Member, error) {
	var raw []json.RawMessage
	if err := c.list(ctx, workspacePath(ws, "members"), &raw); err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(raw))
	for _, r := range raw {
		var wrapped struct {
			Member *Member `json:"member"`
		}
		if err := json.Unmarshal(r, &wrapped); err == nil && wrapped.Member != nil && wrapped.Member.ID != "" {
			members = append(members, *wrapped.Member)
			continue
		}
		var m Member
		if err := json.Unmarshal(r, &m); err != nil || m.ID == "" {
			continue
		}
		members = append(members, m)
	}
	return members, nil
}

// ListStates returns the workflow states of a project.
func (c *Client) ListStates(ctx context.Context, ws, projectID string) ([]State, error) {
	var states []State
	if err := c.list(ctx, workspacePath(ws, "projects", projectID, "states"), &states); err != nil {
		return nil, err
	}
	return states, nil
}

// DescriptionHTML wraps plain text into the minimal HTML Plane stores.
func DescriptionHTML(text string) string {
	if text == "" {
		return ""
	}
	return "<p>" + html.EscapeString(text) + "</p>"
}
