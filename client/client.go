// Package client provides a Go client for the interlock coordination
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.HTTP = httpClient
		}
	}
}

// WithSocket routes all requests over a unix socket instead of TCP.
func WithSocket(path string) Option {
	return func(c *Client) {
		c.HTTP = &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", path)
				},
			},
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type Agent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"agent_type"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Status       string    `json:"status"`
	LastActive   time.Time `json:"last_active"`
	CreatedAt    time.Time `json:"created_at"`
	Version      uint64    `json:"version"`
}

type WorkContext struct {
	AgentID     string     `json:"agent_id"`
	ProjectID   string     `json:"project_id"`
	Objective   string     `json:"objective"`
	Priority    string     `json:"priority,omitempty"`
	CurrentFile string     `json:"current_file,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Version     uint64     `json:"version"`
}

type FileLock struct {
	ProjectID     string    `json:"project_id"`
	FilePath      string    `json:"file_path"`
	HolderAgentID string    `json:"holder_agent_id"`
	Reason        string    `json:"reason,omitempty"`
	LockedAt      time.Time `json:"locked_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Version       uint64    `json:"version"`
}

type SessionEvent struct {
	ID        string            `json:"id"`
	AgentID   string            `json:"agent_id"`
	ProjectID string            `json:"project_id,omitempty"`
	Kind      string            `json:"kind"`
	Payload   map[string]string `json:"payload,omitempty"`
	At        time.Time         `json:"at"`
}

type Progress struct {
	Steps     []string `json:"steps"`
	Completed int      `json:"completed"`
	Done      bool     `json:"done"`
	NextStep  string   `json:"next_step,omitempty"`
}

type Task struct {
	ID         string    `json:"id,omitempty"`
	ProjectID  string    `json:"project_id"`
	Title      string    `json:"title"`
	Detail     string    `json:"detail,omitempty"`
	AssignedTo string    `json:"assigned_to,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	Version    uint64    `json:"version,omitempty"`
}

type Note struct {
	ID        string    `json:"id,omitempty"`
	ProjectID string    `json:"project_id"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	Version   uint64    `json:"version,omitempty"`
}

type Recommendation struct {
	Pattern struct {
		Name    string `json:"name"`
		Summary string `json:"summary"`
	} `json:"pattern"`
	Score   int      `json:"score"`
	Matched []string `json:"matched"`
}

func (c *Client) RegisterAgent(ctx context.Context, name, agentType string, capabilities []string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodPost, "/api/agents", map[string]any{
		"name":         name,
		"agent_type":   agentType,
		"capabilities": capabilities,
	}, &out)
	return out, err
}

func (c *Client) GetAgent(ctx context.Context, agentID string) (Agent, error) {
	var out Agent
	err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(agentID), nil, &out)
	return out, err
}

func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var out struct {
		Agents []Agent `json:"agents"`
	}
	err := c.do(ctx, http.MethodGet, "/api/agents", nil, &out)
	return out.Agents, err
}

func (c *Client) RetireAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(agentID), nil, nil)
}

func (c *Client) StartContext(ctx context.Context, agentID, projectID, objective, priority string) (WorkContext, error) {
	var out WorkContext
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/context", map[string]string{
		"project_id": projectID,
		"objective":  objective,
		"priority":   priority,
	}, &out)
	return out, err
}

func (c *Client) SwitchContext(ctx context.Context, agentID, projectID, objective string) (WorkContext, error) {
	var out WorkContext
	err := c.do(ctx, http.MethodPut, "/api/agents/"+url.PathEscape(agentID)+"/context", map[string]string{
		"project_id": projectID,
		"objective":  objective,
	}, &out)
	return out, err
}

func (c *Client) EndContext(ctx context.Context, agentID string) (WorkContext, error) {
	var out WorkContext
	err := c.do(ctx, http.MethodDelete, "/api/agents/"+url.PathEscape(agentID)+"/context", nil, &out)
	return out, err
}

func (c *Client) ActiveContext(ctx context.Context, agentID string) (WorkContext, error) {
	var out WorkContext
	err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(agentID)+"/context", nil, &out)
	return out, err
}

func (c *Client) SetCurrentFile(ctx context.Context, agentID, file string) (WorkContext, error) {
	var out WorkContext
	err := c.do(ctx, http.MethodPut, "/api/agents/"+url.PathEscape(agentID)+"/context/file", map[string]string{
		"file": file,
	}, &out)
	return out, err
}

// AcquireLocks takes locks on files all or nothing. A conflict surfaces
// as *LockConflictError naming the holder.
func (c *Client) AcquireLocks(ctx context.Context, agentID, projectID string, files []string, reason string, ttl time.Duration) ([]FileLock, error) {
	var out struct {
		Locks []FileLock `json:"locks"`
	}
	err := c.do(ctx, http.MethodPost, "/api/locks", map[string]any{
		"agent_id":    agentID,
		"project_id":  projectID,
		"files":       files,
		"reason":      reason,
		"ttl_minutes": int(ttl.Minutes()),
	}, &out)
	return out.Locks, err
}

func (c *Client) ReleaseLocks(ctx context.Context, agentID, projectID string, files []string) ([]string, error) {
	var out struct {
		Released []string `json:"released"`
	}
	err := c.do(ctx, http.MethodPost, "/api/locks/release", map[string]any{
		"agent_id":   agentID,
		"project_id": projectID,
		"files":      files,
	}, &out)
	return out.Released, err
}

func (c *Client) ProjectLocks(ctx context.Context, projectID string) ([]FileLock, error) {
	var out struct {
		Locks []FileLock `json:"locks"`
	}
	err := c.do(ctx, http.MethodGet, "/api/locks?project="+url.QueryEscape(projectID), nil, &out)
	return out.Locks, err
}

func (c *Client) AgentLocks(ctx context.Context, agentID string) ([]FileLock, error) {
	var out struct {
		Locks []FileLock `json:"locks"`
	}
	err := c.do(ctx, http.MethodGet, "/api/agents/"+url.PathEscape(agentID)+"/locks", nil, &out)
	return out.Locks, err
}

func (c *Client) History(ctx context.Context, agentID string, limit int) ([]SessionEvent, error) {
	endpoint := "/api/agents/" + url.PathEscape(agentID) + "/history"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Events []SessionEvent `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out.Events, err
}

func (c *Client) WorkflowProgress(ctx context.Context, agentID string, steps []string) (Progress, error) {
	var out Progress
	err := c.do(ctx, http.MethodPost, "/api/agents/"+url.PathEscape(agentID)+"/progress", map[string]any{
		"steps": steps,
	}, &out)
	return out, err
}

func (c *Client) CreateTask(ctx context.Context, task Task) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", task, &out)
	return out, err
}

func (c *Client) GetTask(ctx context.Context, projectID, id string) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id)+"?project="+url.QueryEscape(projectID), nil, &out)
	return out, err
}

func (c *Client) ListTasks(ctx context.Context, projectID, status, assignedTo string) ([]Task, error) {
	values := url.Values{}
	values.Set("project", projectID)
	if status != "" {
		values.Set("status", status)
	}
	if assignedTo != "" {
		values.Set("assigned_to", assignedTo)
	}
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "/api/tasks?"+values.Encode(), nil, &out)
	return out.Tasks, err
}

func (c *Client) UpdateTask(ctx context.Context, task Task) (Task, error) {
	var out Task
	err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(task.ID), task, &out)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, projectID, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id)+"?project="+url.QueryEscape(projectID), nil, nil)
}

func (c *Client) CreateNote(ctx context.Context, note Note) (Note, error) {
	var out Note
	err := c.do(ctx, http.MethodPost, "/api/notes", note, &out)
	return out, err
}

func (c *Client) ListNotes(ctx context.Context, projectID, to string, limit int) ([]Note, error) {
	values := url.Values{}
	values.Set("project", projectID)
	if to != "" {
		values.Set("to", to)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Notes []Note `json:"notes"`
	}
	err := c.do(ctx, http.MethodGet, "/api/notes?"+values.Encode(), nil, &out)
	return out.Notes, err
}

func (c *Client) DeleteNote(ctx context.Context, projectID, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/notes/"+url.PathEscape(id)+"?project="+url.QueryEscape(projectID), nil, nil)
}

func (c *Client) Recommend(ctx context.Context, text string, limit int) ([]Recommendation, error) {
	var out struct {
		Recommendations []Recommendation `json:"recommendations"`
	}
	err := c.do(ctx, http.MethodPost, "/api/recommend", map[string]any{
		"text":  text,
		"limit": limit,
	}, &out)
	return out.Recommendations, err
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
