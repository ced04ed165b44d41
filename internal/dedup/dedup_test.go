package dedup

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoFalseNegatives(t *testing.T) {
	t.Parallel()

	d := New(10_000, 0.001, 100)
	for i := 0; i < 10_000; i++ {
		d.Add(fmt.Sprintf("https://example.com/item/%d", i))
	}
	for i := 0; i < 10_000; i++ {
		require.True(t, d.Seen(fmt.Sprintf("https://example.com/item/%d", i)),
			"added key must always report seen")
	}
}

func TestUnseenKeyIsNotSeen(t *testing.T) {
	t.Parallel()

	d := New(1_000, 0.001, 10)
	assert.False(t, d.Seen("https://example.com/never-added"))
}

func TestFalsePositiveRateWithinBound(t *testing.T) {
	t.Parallel()

	const capacity = 50_000
	const fpRate = 0.001
	d := New(capacity, fpRate, 10)
	for i := 0; i < capacity; i++ {
		d.Add(fmt.Sprintf("seen-%d", i))
	}

	const samples = 100_000
	falsePositives := 0
	for i := 0; i < samples; i++ {
		if d.Seen(fmt.Sprintf("fresh-%d", i)) {
			falsePositives++
		}
	}
	observed := float64(falsePositives) / float64(samples)
	// Allow generous slack over the configured bound; the estimate is noisy.
	assert.Less(t, observed, fpRate*5,
		"observed fp rate %f exceeds bound", observed)
}

func TestRecencyCacheEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	c := newRecencyCache(3)
	c.add("a")
	c.add("b")
	c.add("c")
	c.add("d") // evicts a

	assert.False(t, c.contains("a"))
	assert.True(t, c.contains("b"))
	assert.True(t, c.contains("d"))
	assert.Equal(t, 3, c.len())
}

func TestRecencyCacheRefreshKeepsKey(t *testing.T) {
	t.Parallel()

	c := newRecencyCache(2)
	c.add("a")
	c.add("b")
	c.add("a") // refresh, b is now oldest
	c.add("c") // evicts b

	assert.True(t, c.contains("a"))
	assert.False(t, c.contains("b"))
	assert.True(t, c.contains("c"))
}

func TestOptimalParameters(t *testing.T) {
	t.Parallel()

	m := optimalBits(100_000, 0.001)
	k := optimalHashes(m, 100_000)
	// Known closed-form values for n=100k, p=0.1%.
	assert.InDelta(t, 1_437_759, int(m), 10)
	assert.Equal(t, uint64(10), k)
}
