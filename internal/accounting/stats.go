// Package accounting derives deduplication statistics from catalog entries.
package accounting

import "github.com/abduss/dedupdrive/internal/catalog"

// Stats summarises the original and deduplicated footprint of a set of
// entries. All values are exact byte or item counts.
type Stats struct {
	OriginalTotal int64 `json:"original_total"`
	DedupedTotal  int64 `json:"deduped_total"`
	Savings       int64 `json:"savings"`
	EntryCount    int64 `json:"entry_count"`
	ContentCount  int64 `json:"content_count"`
}

// ComputeStats groups entries by content id: every entry adds its size to
// OriginalTotal, each distinct content adds its size to DedupedTotal once.
func ComputeStats(entries []catalog.Entry) Stats {
	var stats Stats
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		stats.OriginalTotal += e.OriginalSize
		stats.EntryCount++
		if _, ok := seen[e.ContentID]; ok {
			continue
		}
		seen[e.ContentID] = struct{}{}
		stats.DedupedTotal += e.OriginalSize
		stats.ContentCount++
	}
	stats.Savings = stats.OriginalTotal - stats.DedupedTotal
	return stats
}
