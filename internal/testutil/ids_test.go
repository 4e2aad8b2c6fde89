package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/calt/internal/domain"
)

var _ domain.IDGenerator = (*SequenceIDs)(nil)

func TestSequenceIDs_Sequence(t *testing.T) {
	gen := NewSequenceIDs("sess")

	assert.Equal(t, "sess-0001", gen.Generate())
	assert.Equal(t, "sess-0002", gen.Generate())
	assert.Equal(t, "sess-0003", gen.Generate())
}

func TestSequenceIDs_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceIDs("")

	assert.Equal(t, "id-0001", gen.Generate())
}

func TestSequenceIDs_ThreadSafe(t *testing.T) {
	gen := NewSequenceIDs("t")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000, "all ids must be unique")
}
