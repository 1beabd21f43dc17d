// internal/bots/policy.go
package bots

import (
	"math/rand"
	"sync"

	"github.com/stolik-gg/stolik/internal/engine"
)

// RandomPolicy picks uniformly among legal actions. It is the baseline policy
// behind every seat; stronger search policies plug in through the same
// interface.
type RandomPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPolicy seeds the policy; a fixed seed makes tests reproducible.
func NewRandomPolicy(seed int64) *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewSource(seed))}
}

// Choose implements match.Policy.
func (p *RandomPolicy) Choose(_ interface{}, legal []engine.Action) (engine.Action, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return legal[p.rng.Intn(len(legal))], nil
}
