package streamhealth

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opencode-ai/sessiond/internal/eventbus"
)

func noopPublish(eventbus.Event) {}

func TestRegistryGetOrCreateIdempotent(t *testing.T) {
	r := NewRegistry(testThresholds(), noopPublish, nil)

	var wg sync.WaitGroup
	results := make([]*Monitor, 8)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = r.GetOrCreate("s1", "m1")
		}()
	}
	wg.Wait()

	for _, m := range results {
		assert.Same(t, results[0], m)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistryReleaseAndClear(t *testing.T) {
	r := NewRegistry(testThresholds(), noopPublish, nil)
	r.GetOrCreate("s1", "m1")
	r.GetOrCreate("s2", "m2")
	assert.Equal(t, 2, r.Len())

	r.Release("s1", "m1")
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get("s1", "m1")
	assert.False(t, ok)

	r.Clear()
	assert.Equal(t, 0, r.Len())
}

func TestRegistryForEach(t *testing.T) {
	r := NewRegistry(testThresholds(), noopPublish, nil)
	r.GetOrCreate("s1", "m1")
	r.GetOrCreate("s1", "m2")

	seen := 0
	r.ForEach(func(m *Monitor) { seen++ })
	assert.Equal(t, 2, seen)
}
