package permcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func set(uids ...string) map[string]bool {
	m := make(map[string]bool, len(uids))
	for _, uid := range uids {
		m[uid] = true
	}
	return m
}

func TestMergeAddsAndRemoves(t *testing.T) {
	current := []string{"a", "b", "c"}
	fresh := set("b", "d")
	all := set("a", "b", "d")

	merged, changed := MergeUIDs(current, fresh, all)
	assert.True(t, changed)
	// "a" disqualified, "b" kept, "c" outside the batch and untouched,
	// "d" newly qualified.
	assert.Equal(t, []string{"b", "c", "d"}, merged)
}

func TestMergeLocality(t *testing.T) {
	current := []string{"x", "y", "z"}
	// Batch covers only "q"; everything cached stays as-is.
	merged, changed := MergeUIDs(current, set(), set("q"))
	assert.False(t, changed)
	assert.Equal(t, []string{"x", "y", "z"}, merged)
}

func TestMergeIdempotent(t *testing.T) {
	current := []string{"a", "c"}
	fresh := set("a", "b")
	all := set("a", "b", "c")

	once, changed := MergeUIDs(current, fresh, all)
	assert.True(t, changed)
	twice, changed := MergeUIDs(once, fresh, all)
	assert.False(t, changed)
	assert.Equal(t, once, twice)
}

// Disjoint batches commute: merging batch A then batch B gives the same
// row as B then A.
func TestMergeCommutesAcrossDisjointBatches(t *testing.T) {
	current := []string{"a", "b"}
	freshA := set("a")
	allA := set("a", "x")
	freshB := set("y")
	allB := set("b", "y")

	ab1, _ := MergeUIDs(current, freshA, allA)
	ab, _ := MergeUIDs(ab1, freshB, allB)

	ba1, _ := MergeUIDs(current, freshB, allB)
	ba, _ := MergeUIDs(ba1, freshA, allA)

	assert.Equal(t, ab, ba)
}

func TestMergeEmptyInputs(t *testing.T) {
	merged, changed := MergeUIDs(nil, nil, nil)
	assert.False(t, changed)
	assert.Empty(t, merged)

	merged, changed = MergeUIDs(nil, set("a"), set("a"))
	assert.True(t, changed)
	assert.Equal(t, []string{"a"}, merged)
}
