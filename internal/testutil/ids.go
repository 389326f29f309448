package testutil

import (
	"fmt"
	"sync"
)

// SequentialGenerator generates ids "<prefix>-1", "<prefix>-2", ...
//
// Unlike allocation.FixedGenerator, it never runs out, which suits
// scenarios whose claim count is not known up front. The same scenario
// with a fresh SequentialGenerator produces byte-identical traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialGenerator creates a generator. An empty prefix means "claim".
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	if prefix == "" {
		prefix = "claim"
	}
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Count returns how many ids were generated.
func (g *SequentialGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
