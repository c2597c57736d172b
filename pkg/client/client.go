package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

// maxBodyBytes caps how much of any response we read. List payloads are
// small; this only guards against a misbehaving endpoint.
const maxBodyBytes = 8 << 20

// Client speaks the taskhub HTTP API. Sessions are carried by a cookie
// jar and, when available, a bearer token captured at login. Safe for
// concurrent use.
type Client struct {
	baseURL string
	hc      *http.Client // request/response calls, bounded timeout
	sc      *http.Client // push channel, no overall timeout

	mu    sync.RWMutex
	token string
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport used for request/response calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithToken seeds a session token (from an earlier login) so the client
// authenticates via the Authorization header without logging in again.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New builds a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base URL scheme %q", u.Scheme)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Jar: jar, Timeout: 15 * time.Second},
		sc:      &http.Client{Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}
	// Keep both transports on one jar even if the caller swapped hc.
	if c.hc.Jar != nil {
		c.sc.Jar = c.hc.Jar
	}
	return c, nil
}

// Token returns the current session token, if any. CLIs persist it to
// skip the next login.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

type sessionResponse struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Login authenticates with a username and password. The session rides in
// the cookie jar and as a captured bearer token.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	return c.doAuth(ctx, "/auth/login", username, password)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, username, password string) (User, error) {
	return c.doAuth(ctx, "/auth/register", username, password)
}

func (c *Client) doAuth(ctx context.Context, path, username, password string) (User, error) {
	form := url.Values{"username": {username}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out sessionResponse
	if err := c.send(req, &out); err != nil {
		return User{}, err
	}
	if out.Token != "" {
		c.setToken(out.Token)
	}
	return out.User, nil
}

// Logout ends the session on the server and forgets the local token.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.setToken("")
	return nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &out); err != nil {
		return User{}, err
	}
	return out.User, nil
}

// Users lists every account.
func (c *Client) Users(ctx context.Context) ([]User, error) {
	var out struct {
		Users []User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// Tasks lists every task.
func (c *Client) Tasks(ctx context.Context) ([]Task, error) {
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tasks", nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

// CreateTask adds a task. assigneeID nil leaves it unassigned; due nil
// means no due date.
func (c *Client) CreateTask(ctx context.Context, title string, assigneeID *string, due *time.Time) (Task, error) {
	body := map[string]any{"title": title}
	if assigneeID != nil {
		body["assigned_user_id"] = *assigneeID
	}
	if due != nil {
		body["due_date"] = due.UTC().Format(time.RFC3339)
	}
	return c.patchOrCreate(ctx, http.MethodPost, "/api/tasks", body)
}

// RenameTask changes a task's title.
func (c *Client) RenameTask(ctx context.Context, taskID, title string) (Task, error) {
	return c.patchOrCreate(ctx, http.MethodPatch, "/api/tasks/"+taskID, map[string]any{"title": title})
}

// SetCompleted marks a task done or not. Idempotent: sending the same
// value twice is harmless since state comes back from the server anyway.
func (c *Client) SetCompleted(ctx context.Context, taskID string, done bool) (Task, error) {
	return c.patchOrCreate(ctx, http.MethodPatch, "/api/tasks/"+taskID, map[string]any{"completed": done})
}

// SetAssignee assigns a task to a user, or clears the assignment when
// userID is nil.
func (c *Client) SetAssignee(ctx context.Context, taskID string, userID *string) (Task, error) {
	assignee := ""
	if userID != nil {
		assignee = *userID
	}
	return c.patchOrCreate(ctx, http.MethodPatch, "/api/tasks/"+taskID, map[string]any{"assigned_user_id": assignee})
}

// SetDueDate sets or clears (nil) a task's due timestamp.
func (c *Client) SetDueDate(ctx context.Context, taskID string, due *time.Time) (Task, error) {
	val := ""
	if due != nil {
		val = due.UTC().Format(time.RFC3339)
	}
	return c.patchOrCreate(ctx, http.MethodPatch, "/api/tasks/"+taskID, map[string]any{"due_date": val})
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, taskID string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+taskID, nil, nil)
}

// DeleteUser removes an account. The server keeps the user's tasks and
// unassigns them.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/api/users/"+userID, nil, nil)
}

func (c *Client) patchOrCreate(ctx context.Context, method, path string, body map[string]any) (Task, error) {
	var out struct {
		Task Task `json:"task"`
	}
	if err := c.do(ctx, method, path, body, &out); err != nil {
		return Task{}, err
	}
	return out.Task, nil
}

// do sends one JSON request and decodes the response into out (when
// non-nil). Non-2xx responses come back as *RequestError.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RequestError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, data),
		}
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// errorMessage pulls {"error": "..."} out of a failure body, falling back
// to a generic "<status> error" when the body is not parseable as one.
func errorMessage(status int, body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return fmt.Sprintf("%d error", status)
}
