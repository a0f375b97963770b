package coord

import (
	"errors"
	"testing"

	"github.com/mistakeknot/interlock/internal/core"
)

func TestRecommendScoresByKeyword(t *testing.T) {
	c, _, _ := newTestCoordinator()

	recs, err := c.Recommend("we need an audit log with event replay and a full history timeline", 3)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected at least one recommendation")
	}
	if recs[0].Pattern.Name != "event-sourcing" {
		t.Fatalf("expected event-sourcing first, got %s", recs[0].Pattern.Name)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Score > recs[i-1].Score {
			t.Fatalf("recommendations out of order at %d", i)
		}
	}
}

func TestRecommendLimitsAndFilters(t *testing.T) {
	c, _, _ := newTestCoordinator()

	recs, err := c.Recommend("queue of jobs, workers, parallel batch, plus a cache for latency, and retry on failure", 2)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 recommendations, got %d", len(recs))
	}

	recs, err = c.Recommend("zxqv nothing matches here", 3)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no matches, got %+v", recs)
	}
}

func TestRecommendRequiresText(t *testing.T) {
	c, _, _ := newTestCoordinator()
	var validation *core.ValidationError
	if _, err := c.Recommend("   ", 3); !errors.As(err, &validation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
