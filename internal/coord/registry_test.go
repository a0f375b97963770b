package coord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mistakeknot/interlock/internal/core"
)

func TestRegisterDerivesStableID(t *testing.T) {
	c, _, _ := newTestCoordinator()
	ctx := context.Background()

	first, err := c.Register(ctx, "tessier", core.AgentTypeWorker, []string{"go"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(first.ID, "agent-") || len(first.ID) != len("agent-")+12 {
		t.Fatalf("unexpected id %q", first.ID)
	}

	second, err := c.Register(ctx, "tessier", core.AgentTypeWorker, nil)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same name must resolve to same id: %q vs %q", first.ID, second.ID)
	}
	if second.Version <= first.Version {
		t.Fatalf("reconnect should bump version: %d -> %d", first.Version, second.Version)
	}
	if len(second.Capabilities) != 1 || second.Capabilities[0] != "go" {
		t.Fatalf("reconnect without capabilities should keep old ones, got %v", second.Capabilities)
	}
}

func TestRegisterGeneratesName(t *testing.T) {
	c, _, _ := newTestCoordinator()
	profile, err := c.Register(context.Background(), "  ", "", nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if profile.Name == "" {
		t.Fatal("expected generated name")
	}
	if profile.Type != core.AgentTypeAssistant {
		t.Fatalf("default type should be assistant, got %q", profile.Type)
	}
	if profile.ID != AgentID(profile.Name) {
		t.Fatalf("id %q does not match derived id for %q", profile.ID, profile.Name)
	}
}

func TestRegisterRejectsUnknownType(t *testing.T) {
	c, _, _ := newTestCoordinator()
	_, err := c.Register(context.Background(), "x", "overlord", nil)
	var validation *core.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConcurrentRegistrationSameName(t *testing.T) {
	c, _, _ := newTestCoordinator()
	const workers = 8

	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			profile, err := c.Register(context.Background(), "shared-name", core.AgentTypeWorker, nil)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			ids[i] = profile.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("racing registrations diverged: %q vs %q", ids[0], ids[i])
		}
	}

	agents, err := c.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected one profile, got %d", len(agents))
	}
}

func TestRetireAndRevive(t *testing.T) {
	c, _, _ := newTestCoordinator()
	ctx := context.Background()

	profile, err := c.Register(ctx, "finn", core.AgentTypeReviewer, nil)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := c.RetireAgent(ctx, profile.ID); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, err := c.GetAgent(ctx, profile.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("retired profile should read as not found, got %v", err)
	}
	// Retire is idempotent.
	if err := c.RetireAgent(ctx, profile.ID); err != nil {
		t.Fatalf("second retire: %v", err)
	}

	revived, err := c.Register(ctx, "finn", core.AgentTypeReviewer, nil)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if revived.ID != profile.ID {
		t.Fatalf("revived profile should keep id %q, got %q", profile.ID, revived.ID)
	}
	if revived.Status != core.AgentStatusActive {
		t.Fatalf("revived profile should be active, got %q", revived.Status)
	}
}

func TestListAgentsSorted(t *testing.T) {
	c, _, _ := newTestCoordinator()
	ctx := context.Background()
	for _, name := range []string{"charlie", "alpha", "bravo"} {
		if _, err := c.Register(ctx, name, core.AgentTypeWorker, nil); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	agents, err := c.ListAgents(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("expected 3 agents, got %d", len(agents))
	}
	for i, want := range []string{"alpha", "bravo", "charlie"} {
		if agents[i].Name != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, agents[i].Name)
		}
	}
}

func TestRegisterBroadcasts(t *testing.T) {
	c, _, bus := newTestCoordinator()
	if _, err := c.Register(context.Background(), "wintermute", core.AgentTypeOrchestrator, nil); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := bus.byType(core.BroadcastAgentRegistered); len(got) != 1 {
		t.Fatalf("expected one agent.registered broadcast, got %d", len(got))
	}
}
