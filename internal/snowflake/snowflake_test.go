// ABOUTME: Tests for the snowflake ID generator
// ABOUTME: Covers node validation, strict monotonicity, and concurrent uniqueness

package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNode_Validation(t *testing.T) {
	_, err := NewNode(-1)
	assert.ErrorIs(t, err, ErrInvalidNode)

	_, err = NewNode(1024)
	assert.ErrorIs(t, err, ErrInvalidNode)

	node, err := NewNode(0)
	require.NoError(t, err)
	assert.NotNil(t, node)
}

func TestGenerate_StrictlyIncreasing(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	prev := node.Generate()
	for i := 0; i < 10_000; i++ {
		id := node.Generate()
		require.Greater(t, id, prev, "IDs must be strictly increasing")
		prev = id
	}
}

func TestGenerate_ConcurrentUniqueness(t *testing.T) {
	node, err := NewNode(1)
	require.NoError(t, err)

	const goroutines = 8
	const perGoroutine = 2000

	var mu sync.Mutex
	seen := make(map[int64]bool, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, node.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				assert.False(t, seen[id], "duplicate ID %d", id)
				seen[id] = true
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*perGoroutine)
}
