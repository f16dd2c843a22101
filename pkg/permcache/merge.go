// Package permcache materializes per-(account, model) readable and
// writable instance id sets. Rows are read on the serving path and written
// only by the cache maintainer.
package permcache

import "sort"

// MergeUIDs applies a freshly computed qualification to a cached id set,
// restricted to one batch universe. For every id in allUIDs the fresh
// qualification wins: newly qualifying ids are added, disqualified ids are
// removed. Ids outside allUIDs pass through untouched, which is what lets
// the maintainer recompute one batch without a full-universe rebuild.
//
// The decision is per-id and order-free, so merges are idempotent and
// commute across disjoint batches.
func MergeUIDs(current []string, fresh map[string]bool, allUIDs map[string]bool) ([]string, bool) {
	changed := false
	merged := make([]string, 0, len(current))

	seen := make(map[string]bool, len(current))
	for _, uid := range current {
		seen[uid] = true
		if allUIDs[uid] && !fresh[uid] {
			changed = true
			continue
		}
		merged = append(merged, uid)
	}

	for uid := range allUIDs {
		if fresh[uid] && !seen[uid] {
			merged = append(merged, uid)
			changed = true
		}
	}

	sort.Strings(merged)
	return merged, changed
}
