package runner

import (
	"slices"
	"sync"

	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// Collector is the append-only store workers write outcomes into.
type Collector struct {
	mu        sync.Mutex
	attempts  []types.OutcomeRecord
	finals    []types.OutcomeRecord
	seen      map[types.PairKey]bool
	artifacts map[string][]byte
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		seen:      make(map[types.PairKey]bool),
		artifacts: make(map[string][]byte),
	}
}

// AddAttempt records one attempt, terminal or not.
func (c *Collector) AddAttempt(rec types.OutcomeRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = append(c.attempts, rec)
}

// AddFinal records the terminal outcome of a pair. A second terminal
// outcome for the same pair is dropped and reported as false.
func (c *Collector) AddFinal(rec types.OutcomeRecord) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen[rec.Key()] {
		return false
	}
	c.seen[rec.Key()] = true
	c.finals = append(c.finals, rec)
	return true
}

// AddArtifact stores a file produced by an attempt under a relative name.
func (c *Collector) AddArtifact(name string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.artifacts[name] = data
}

// Finals returns the terminal outcomes in arrival order.
func (c *Collector) Finals() []types.OutcomeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.finals)
}

// Attempts returns every attempt in arrival order.
func (c *Collector) Attempts() []types.OutcomeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.attempts)
}

// Artifacts returns the stored artifacts.
func (c *Collector) Artifacts() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(c.artifacts))
	for k, v := range c.artifacts {
		out[k] = v
	}
	return out
}

// Counts tallies terminal outcomes by status.
func Counts(records []types.OutcomeRecord) map[types.TestStatus]int {
	counts := make(map[types.TestStatus]int)
	for _, r := range records {
		counts[r.Status]++
	}
	return counts
}
