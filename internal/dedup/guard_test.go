package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAndMark(t *testing.T) {
	g := New(3)

	assert.False(t, g.CheckAndMark("m1"), "first sighting is new")
	assert.True(t, g.CheckAndMark("m1"), "second sighting is a duplicate")
	assert.True(t, g.Seen("m1"))
	assert.False(t, g.Seen("m2"))
	assert.Equal(t, 1, g.Len())
}

func TestEvictsOldest(t *testing.T) {
	g := New(3)
	for i := 1; i <= 4; i++ {
		assert.False(t, g.CheckAndMark(fmt.Sprintf("m%d", i)))
	}

	assert.Equal(t, 3, g.Len())
	assert.False(t, g.Seen("m1"), "oldest id is evicted")
	assert.True(t, g.Seen("m4"))

	// Replay after eviction is treated as new.
	assert.False(t, g.CheckAndMark("m1"))
	assert.False(t, g.Seen("m2"))
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Capacity())
	assert.Equal(t, 7, New(7).Capacity())
}

func TestConcurrentMarkReportsOneWinner(t *testing.T) {
	g := New(10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	fresh := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !g.CheckAndMark("same") {
				mu.Lock()
				fresh++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fresh)
}
