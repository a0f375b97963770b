package coord

import (
	"sort"
	"strings"

	"github.com/mistakeknot/interlock/internal/core"
)

// Pattern is one entry in the architecture-pattern table.
type Pattern struct {
	Name     string   `json:"name"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Recommendation is a pattern with its keyword-match score.
type Recommendation struct {
	Pattern Pattern `json:"pattern"`
	Score   int     `json:"score"`
	Matched []string `json:"matched"`
}

// patternTable is static reference data; it never touches the lock paths.
var patternTable = []Pattern{
	{
		Name:     "worker-pool",
		Summary:  "Fan a queue of independent jobs across a bounded set of workers.",
		Keywords: []string{"queue", "jobs", "parallel", "batch", "throughput", "workers"},
	},
	{
		Name:     "event-sourcing",
		Summary:  "Persist an append-only event log and derive state by replay.",
		Keywords: []string{"audit", "history", "events", "replay", "log", "timeline"},
	},
	{
		Name:     "repository",
		Summary:  "Hide storage details behind a typed data-access interface.",
		Keywords: []string{"database", "storage", "persistence", "crud", "orm"},
	},
	{
		Name:     "circuit-breaker",
		Summary:  "Stop calling a failing dependency until it recovers.",
		Keywords: []string{"retry", "timeout", "failure", "dependency", "resilience", "fallback"},
	},
	{
		Name:     "saga",
		Summary:  "Split a multi-step change into compensable local transactions.",
		Keywords: []string{"transaction", "rollback", "compensation", "distributed", "steps"},
	},
	{
		Name:     "pub-sub",
		Summary:  "Decouple producers from consumers with broadcast topics.",
		Keywords: []string{"notify", "subscribe", "broadcast", "messaging", "fanout", "topic"},
	},
	{
		Name:     "cache-aside",
		Summary:  "Read through a cache, falling back to the source on miss.",
		Keywords: []string{"cache", "latency", "hot", "read-heavy", "invalidation"},
	},
	{
		Name:     "state-machine",
		Summary:  "Model lifecycle rules as explicit states and transitions.",
		Keywords: []string{"lifecycle", "states", "transition", "workflow", "status"},
	},
}

// Recommend scores the pattern table against free text by keyword hits and
// returns the top matches, best first. Zero-score patterns are omitted.
func (c *Coordinator) Recommend(text string, limit int) ([]Recommendation, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &core.ValidationError{Field: "text", Reason: "required"}
	}
	if limit <= 0 {
		limit = 3
	}
	words := tokenize(text)

	var out []Recommendation
	for _, p := range patternTable {
		rec := Recommendation{Pattern: p}
		for _, kw := range p.Keywords {
			if n := words[kw]; n > 0 {
				rec.Score += n
				rec.Matched = append(rec.Matched, kw)
			}
		}
		if rec.Score > 0 {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func tokenize(text string) map[string]int {
	words := make(map[string]int)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	}) {
		words[w]++
	}
	return words
}
