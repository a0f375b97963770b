package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mistakeknot/interlock/internal/coord"
	"github.com/mistakeknot/interlock/internal/storage"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := coord.DefaultConfig()
	cfg.Retry = storage.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, JitterPct: 0.25}
	c := coord.New(storage.NewMemory(), cfg)
	return NewRouter(NewService(c), nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(buf)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	return resp
}

func registerTestAgent(t *testing.T, h http.Handler, name string) string {
	t.Helper()
	resp := doJSON(t, h, http.MethodPost, "/api/agents", map[string]any{
		"name":       name,
		"agent_type": "worker",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var profile struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	if profile.ID == "" {
		t.Fatal("expected agent id")
	}
	return profile.ID
}

func TestRegisterAndGetAgent(t *testing.T) {
	h := newTestRouter(t)
	id := registerTestAgent(t, h, "hull")

	// Same name, same id.
	again := registerTestAgent(t, h, "hull")
	if again != id {
		t.Fatalf("re-register changed id: %q vs %q", id, again)
	}

	resp := doJSON(t, h, http.MethodGet, "/api/agents/"+id, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get expected 200, got %d", resp.Code)
	}
	var profile struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.Name != "hull" {
		t.Fatalf("expected name hull, got %q", profile.Name)
	}

	resp = doJSON(t, h, http.MethodGet, "/api/agents/agent-000000000000", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("unknown agent expected 404, got %d", resp.Code)
	}
}

func TestRegisterBadType(t *testing.T) {
	h := newTestRouter(t)
	resp := doJSON(t, h, http.MethodPost, "/api/agents", map[string]any{
		"name":       "x",
		"agent_type": "demigod",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	var body struct {
		Error string `json:"error"`
		Field string `json:"field"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "invalid_request" || body.Field != "agent_type" {
		t.Fatalf("unexpected error body %+v", body)
	}
}

func TestContextEndpoints(t *testing.T) {
	h := newTestRouter(t)
	id := registerTestAgent(t, h, "ctx-agent")

	// No context yet.
	resp := doJSON(t, h, http.MethodGet, "/api/agents/"+id+"/context", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
	var nf struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&nf); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if nf.Error != "no_active_context" {
		t.Fatalf("expected no_active_context, got %q", nf.Error)
	}

	resp = doJSON(t, h, http.MethodPost, "/api/agents/"+id+"/context", map[string]string{
		"project_id": "proj",
		"objective":  "build the thing",
		"priority":   "high",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	// Second start conflicts.
	resp = doJSON(t, h, http.MethodPost, "/api/agents/"+id+"/context", map[string]string{
		"project_id": "other",
		"objective":  "something else",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("second start expected 409, got %d", resp.Code)
	}
	var conflict struct {
		Error     string `json:"error"`
		ProjectID string `json:"project_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if conflict.Error != "context_conflict" || conflict.ProjectID != "proj" {
		t.Fatalf("unexpected conflict body %+v", conflict)
	}

	// Switch, then end.
	resp = doJSON(t, h, http.MethodPut, "/api/agents/"+id+"/context", map[string]string{
		"project_id": "proj2",
		"objective":  "new objective",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("switch expected 200, got %d", resp.Code)
	}
	resp = doJSON(t, h, http.MethodDelete, "/api/agents/"+id+"/context", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("end expected 200, got %d", resp.Code)
	}
	resp = doJSON(t, h, http.MethodDelete, "/api/agents/"+id+"/context", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("double end expected 404, got %d", resp.Code)
	}
}

func TestLockConflictBody(t *testing.T) {
	h := newTestRouter(t)
	alice := registerTestAgent(t, h, "alice")
	bob := registerTestAgent(t, h, "bob")

	resp := doJSON(t, h, http.MethodPost, "/api/locks", map[string]any{
		"agent_id":   alice,
		"project_id": "proj",
		"files":      []string{"shared.go"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("acquire expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	resp = doJSON(t, h, http.MethodPost, "/api/locks", map[string]any{
		"agent_id":   bob,
		"project_id": "proj",
		"files":      []string{"free.go", "shared.go"},
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("conflicting acquire expected 409, got %d", resp.Code)
	}
	var body struct {
		Error    string `json:"error"`
		FilePath string `json:"file_path"`
		Holder   string `json:"holder"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "lock_conflict" || body.FilePath != "shared.go" || body.Holder != alice {
		t.Fatalf("unexpected conflict body %+v", body)
	}

	// The failed acquire left nothing behind.
	resp = doJSON(t, h, http.MethodGet, "/api/locks?project=proj", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", resp.Code)
	}
	var listing struct {
		Locks []struct {
			FilePath string `json:"file_path"`
		} `json:"locks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Locks) != 1 || listing.Locks[0].FilePath != "shared.go" {
		t.Fatalf("unexpected listing %+v", listing.Locks)
	}
}

func TestReleaseEndpoint(t *testing.T) {
	h := newTestRouter(t)
	id := registerTestAgent(t, h, "releaser")

	resp := doJSON(t, h, http.MethodPost, "/api/locks", map[string]any{
		"agent_id":   id,
		"project_id": "proj",
		"files":      []string{"a.go", "b.go"},
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("acquire expected 201, got %d", resp.Code)
	}

	resp = doJSON(t, h, http.MethodPost, "/api/locks/release", map[string]any{
		"agent_id":   id,
		"project_id": "proj",
		"files":      []string{"a.go", "never-held.go"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("release expected 200, got %d", resp.Code)
	}
	var body struct {
		Released []string `json:"released"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Released) != 1 || body.Released[0] != "a.go" {
		t.Fatalf("unexpected released %v", body.Released)
	}
}

func TestHistoryAndProgressEndpoints(t *testing.T) {
	h := newTestRouter(t)
	id := registerTestAgent(t, h, "walker")

	resp := doJSON(t, h, http.MethodPost, "/api/agents/"+id+"/context", map[string]string{
		"project_id": "proj",
		"objective":  "walk the steps",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("start expected 201, got %d", resp.Code)
	}

	resp = doJSON(t, h, http.MethodGet, "/api/agents/"+id+"/history?limit=10", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("history expected 200, got %d", resp.Code)
	}
	var hist struct {
		Events []struct {
			Kind string `json:"kind"`
		} `json:"events"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Events) != 2 || hist.Events[0].Kind != "started" {
		t.Fatalf("unexpected history %+v", hist.Events)
	}

	resp = doJSON(t, h, http.MethodPost, "/api/agents/"+id+"/progress", map[string]any{
		"steps": []string{"registered", "started", "ended"},
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("progress expected 200, got %d", resp.Code)
	}
	var progress struct {
		Completed int    `json:"completed"`
		Done      bool   `json:"done"`
		NextStep  string `json:"next_step"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&progress); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if progress.Completed != 2 || progress.Done || progress.NextStep != "ended" {
		t.Fatalf("unexpected progress %+v", progress)
	}
}

func TestTasksAndNotesEndpoints(t *testing.T) {
	h := newTestRouter(t)

	resp := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"project_id": "proj",
		"title":      "write docs",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create task expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var task struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID == "" || task.Status != "pending" {
		t.Fatalf("unexpected task %+v", task)
	}

	resp = doJSON(t, h, http.MethodGet, "/api/tasks/"+task.ID+"?project=proj", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get task expected 200, got %d", resp.Code)
	}
	resp = doJSON(t, h, http.MethodDelete, "/api/tasks/"+task.ID+"?project=proj", nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("delete task expected 204, got %d", resp.Code)
	}
	resp = doJSON(t, h, http.MethodGet, "/api/tasks/"+task.ID+"?project=proj", nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("deleted task expected 404, got %d", resp.Code)
	}

	resp = doJSON(t, h, http.MethodPost, "/api/notes", map[string]any{
		"project_id": "proj",
		"from":       "alice",
		"to":         "bob",
		"body":       "lexer.go is yours now",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create note expected 201, got %d", resp.Code)
	}
	resp = doJSON(t, h, http.MethodGet, "/api/notes?project=proj&to=bob", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list notes expected 200, got %d", resp.Code)
	}
	var notes struct {
		Notes []struct {
			Body string `json:"body"`
		} `json:"notes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&notes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(notes.Notes) != 1 {
		t.Fatalf("expected one note, got %+v", notes.Notes)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestRouter(t)
	resp := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestRouter(t)
	resp := doJSON(t, h, http.MethodPut, "/api/agents", nil)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}
