// Package ws pushes coordination events to connected agents over
// websockets. Subscriptions are scoped by project and agent id via query
// parameters; an empty scope receives everything.
package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const writeTimeout = 5 * time.Second

// Hub fans events out to subscribed connections, keyed
// project -> agent -> conn set.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]map[string]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[string]map[string]map[*websocket.Conn]struct{})}
}

// Handler upgrades /ws requests. ?project= and ?agent= narrow the
// subscription; both are optional.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		project := strings.TrimSpace(r.URL.Query().Get("project"))
		agent := strings.TrimSpace(r.URL.Query().Get("agent"))

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		h.add(project, agent, conn)
		defer h.remove(project, agent, conn)

		// Drain client frames; the hub is push-only.
		ctx := r.Context()
		for {
			var v any
			if err := wsjson.Read(ctx, conn, &v); err != nil {
				return
			}
		}
	}
}

type connEntry struct {
	conn    *websocket.Conn
	project string
	agent   string
}

// Broadcast delivers event to connections matching project and agent.
// Empty project means every project; empty agent means every agent in
// scope. Subscribers with an empty scope always match.
func (h *Hub) Broadcast(project, agent string, event any) {
	entries := h.snapshot(project, agent)
	for _, e := range entries {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, e.conn, event)
		cancel()
		if err != nil {
			go func(e connEntry) {
				e.conn.Close(websocket.StatusGoingAway, "write error")
				h.remove(e.project, e.agent, e.conn)
			}(e)
		}
	}
}

func (h *Hub) snapshot(project, agent string) []connEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []connEntry
	for proj, perAgent := range h.conns {
		// "" subscriptions are wildcards on the subscriber side;
		// "" arguments are wildcards on the event side.
		if proj != "" && project != "" && proj != project {
			continue
		}
		for agentID, conns := range perAgent {
			if agentID != "" && agent != "" && agentID != agent {
				continue
			}
			for conn := range conns {
				out = append(out, connEntry{conn: conn, project: proj, agent: agentID})
			}
		}
	}
	return out
}

func (h *Hub) add(project, agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.conns[project]
	if !ok {
		perProject = make(map[string]map[*websocket.Conn]struct{})
		h.conns[project] = perProject
	}
	perAgent, ok := perProject[agent]
	if !ok {
		perAgent = make(map[*websocket.Conn]struct{})
		perProject[agent] = perAgent
	}
	perAgent[conn] = struct{}{}
}

func (h *Hub) remove(project, agent string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	perProject, ok := h.conns[project]
	if !ok {
		return
	}
	perAgent, ok := perProject[agent]
	if !ok {
		return
	}
	delete(perAgent, conn)
	if len(perAgent) == 0 {
		delete(perProject, agent)
	}
	if len(perProject) == 0 {
		delete(h.conns, project)
	}
}
