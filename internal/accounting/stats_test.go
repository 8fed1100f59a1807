package accounting

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/abduss/dedupdrive/internal/catalog"
)

func entry(contentID string, size int64) catalog.Entry {
	return catalog.Entry{
		ID:           uuid.New(),
		ContentID:    contentID,
		OwnerID:      uuid.New(),
		OriginalSize: size,
	}
}

func TestComputeStatsEmpty(t *testing.T) {
	assert.Equal(t, Stats{}, ComputeStats(nil))
}

func TestComputeStatsThreeIdenticalUploads(t *testing.T) {
	entries := []catalog.Entry{
		entry("same", 1_000_000),
		entry("same", 1_000_000),
		entry("same", 1_000_000),
	}

	stats := ComputeStats(entries)

	assert.Equal(t, int64(3_000_000), stats.OriginalTotal)
	assert.Equal(t, int64(1_000_000), stats.DedupedTotal)
	assert.Equal(t, int64(2_000_000), stats.Savings)
	assert.Equal(t, int64(3), stats.EntryCount)
	assert.Equal(t, int64(1), stats.ContentCount)
}

func TestComputeStatsNoSharingMeansNoSavings(t *testing.T) {
	entries := []catalog.Entry{entry("a", 5), entry("b", 7), entry("c", 0)}

	stats := ComputeStats(entries)

	assert.Equal(t, stats.OriginalTotal, stats.DedupedTotal)
	assert.Zero(t, stats.Savings)
}

func TestComputeStatsDeletingOneSharedReferenceKeepsDedupedTotal(t *testing.T) {
	entries := []catalog.Entry{entry("s", 400), entry("s", 400), entry("s", 400), entry("t", 10)}

	before := ComputeStats(entries)
	after := ComputeStats(entries[1:])

	assert.Equal(t, before.DedupedTotal, after.DedupedTotal)
	assert.Equal(t, before.OriginalTotal-400, after.OriginalTotal)
}

func TestComputeStatsSavingsInvariantOnRandomSets(t *testing.T) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	contents := []string{"c0", "c1", "c2", "c3", "c4"}
	sizes := map[string]int64{"c0": 0, "c1": 1, "c2": 4096, "c3": 1 << 20, "c4": 77}

	for round := 0; round < 200; round++ {
		var entries []catalog.Entry
		for i := rng.Intn(20); i > 0; i-- {
			id := contents[rng.Intn(len(contents))]
			entries = append(entries, entry(id, sizes[id]))
		}

		stats := ComputeStats(entries)

		assert.Equal(t, stats.OriginalTotal-stats.DedupedTotal, stats.Savings)
		assert.GreaterOrEqual(t, stats.Savings, int64(0))
		assert.LessOrEqual(t, stats.ContentCount, stats.EntryCount)
	}
}

func TestCacheInvalidate(t *testing.T) {
	c := NewCache(8, time.Minute)
	assert.True(t, c.Set("global", c.Generation(), Stats{OriginalTotal: 1}))

	got, ok := c.Get("global")
	assert.True(t, ok)
	assert.Equal(t, int64(1), got.OriginalTotal)

	c.Invalidate()
	_, ok = c.Get("global")
	assert.False(t, ok)
}

func TestDisabledCacheIsNil(t *testing.T) {
	c := NewCache(8, 0)
	assert.Nil(t, c)

	assert.False(t, c.Set("global", c.Generation(), Stats{OriginalTotal: 1}))
	_, ok := c.Get("global")
	assert.False(t, ok)
	c.Invalidate()
}

func TestCacheDropsTotalsFromBeforeInvalidate(t *testing.T) {
	c := NewCache(8, time.Minute)

	gen := c.Generation()
	c.Invalidate()
	assert.False(t, c.Set("owner:a", gen, Stats{EntryCount: 0}))
	_, ok := c.Get("owner:a")
	assert.False(t, ok)

	assert.True(t, c.Set("owner:a", c.Generation(), Stats{EntryCount: 1}))
	got, ok := c.Get("owner:a")
	assert.True(t, ok)
	assert.Equal(t, int64(1), got.EntryCount)
}
