// Package names hands out memorable agent names. Identity is keyed by
// name, so a client registering anonymously must keep and reuse whatever it
// is given here.
package names

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

var (
	mu  sync.Mutex
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

var adjectives = []string{
	"adamant", "brisk", "candid", "deft", "earnest", "frank",
	"gallant", "humble", "intent", "jovial", "keen", "limber",
	"mellow", "nimble", "oblique", "patient", "quiet", "rapid",
	"steady", "tidy", "upbeat", "vivid", "wry", "zealous",
}

var crafts = []string{
	"anvil", "beacon", "chisel", "dynamo", "easel", "flywheel",
	"gimbal", "hinge", "ingot", "jig", "keel", "lathe",
	"mortar", "nacelle", "oarlock", "pulley", "quill", "ratchet",
	"sextant", "trestle", "vane", "winch", "yoke", "zither",
}

// Generate returns an adjective-craft name with a short numeric tail to
// keep anonymous registrations from colliding.
func Generate() string {
	mu.Lock()
	defer mu.Unlock()
	adj := adjectives[rng.Intn(len(adjectives))]
	craft := crafts[rng.Intn(len(crafts))]
	return fmt.Sprintf("%s-%s-%02d", adj, craft, rng.Intn(100))
}
