// WebSocket support for real-time coordination events.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Event is the envelope pushed by the server for every coordination
// change: lock churn, context transitions, task and note activity.
type Event struct {
	Type    string          `json:"type"`
	Project string          `json:"project,omitempty"`
	Agent   string          `json:"agent,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	At      time.Time       `json:"at"`
}

// EventHandler is called for each event received via WebSocket.
type EventHandler func(event Event)

// WSClient manages a WebSocket subscription to the server's event feed.
type WSClient struct {
	baseURL   string
	project   string
	agent     string
	conn      *websocket.Conn
	handlers  []EventHandler
	mu        sync.RWMutex
	done      chan struct{}
	reconnect bool
}

type WSOption func(*WSClient)

// WithWSProject narrows the subscription to one project.
func WithWSProject(project string) WSOption {
	return func(c *WSClient) {
		c.project = project
	}
}

// WithWSAgent narrows the subscription to events addressed to one agent.
func WithWSAgent(agentID string) WSOption {
	return func(c *WSClient) {
		c.agent = agentID
	}
}

// WithAutoReconnect enables automatic reconnection on disconnect.
func WithAutoReconnect(enabled bool) WSOption {
	return func(c *WSClient) {
		c.reconnect = enabled
	}
}

func NewWSClient(baseURL string, opts ...WSOption) *WSClient {
	c := &WSClient{
		baseURL:   baseURL,
		done:      make(chan struct{}),
		reconnect: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnEvent registers an event handler.
func (c *WSClient) OnEvent(handler EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Connect establishes the WebSocket connection and starts the read loop.
func (c *WSClient) Connect(ctx context.Context) error {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return fmt.Errorf("build websocket url: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn

	go c.readLoop(ctx)
	return nil
}

// Close closes the WebSocket connection.
func (c *WSClient) Close() error {
	close(c.done)
	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	return nil
}

func (c *WSClient) buildWSURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"

	q := u.Query()
	if c.project != "" {
		q.Set("project", c.project)
	}
	if c.agent != "" {
		q.Set("agent", c.agent)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		default:
		}

		var event Event
		err := wsjson.Read(ctx, c.conn, &event)
		if err != nil {
			if c.reconnect {
				select {
				case <-c.done:
					return
				default:
					c.handleReconnect(ctx)
					continue
				}
			}
			return
		}

		c.dispatchEvent(event)
	}
}

func (c *WSClient) dispatchEvent(event Event) {
	c.mu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

func (c *WSClient) handleReconnect(ctx context.Context) {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		if err := c.Connect(ctx); err == nil {
			return
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// EventFilter narrows which events reach a handler.
type EventFilter struct {
	Types   []string
	Project string
	Agent   string
}

// FilteredEventHandler wraps a handler with filtering logic.
func FilteredEventHandler(filter EventFilter, handler EventHandler) EventHandler {
	return func(event Event) {
		if len(filter.Types) > 0 {
			matched := false
			for _, t := range filter.Types {
				if event.Type == t {
					matched = true
					break
				}
			}
			if !matched {
				return
			}
		}
		if filter.Project != "" && event.Project != filter.Project {
			return
		}
		if filter.Agent != "" && event.Agent != filter.Agent {
			return
		}
		handler(event)
	}
}

// AsLock decodes the event payload as a FileLock.
func (e Event) AsLock() (FileLock, error) {
	var l FileLock
	return l, json.Unmarshal(e.Data, &l)
}

// AsContext decodes the event payload as a WorkContext.
func (e Event) AsContext() (WorkContext, error) {
	var wc WorkContext
	return wc, json.Unmarshal(e.Data, &wc)
}

// AsTask decodes the event payload as a Task.
func (e Event) AsTask() (Task, error) {
	var t Task
	return t, json.Unmarshal(e.Data, &t)
}

// AsNote decodes the event payload as a Note.
func (e Event) AsNote() (Note, error) {
	var n Note
	return n, json.Unmarshal(e.Data, &n)
}
