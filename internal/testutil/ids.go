package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates predictable ids: prefix-0001, prefix-0002, ...
//
// The same scenario with the same generator produces byte-identical event
// traces, which keeps golden files stable.
//
// Implements domain.IDGenerator.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDs creates a generator. An empty prefix uses "id".
func NewSequenceIDs(prefix string) *SequenceIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
