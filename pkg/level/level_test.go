package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrdering(t *testing.T) {
	ordered := []Level{Blocked, SimpleUser, Manager, Admin, SuperUser}
	for i := 1; i < len(ordered); i++ {
		assert.True(t, ordered[i].IsAtLeast(ordered[i-1]))
		assert.False(t, ordered[i-1].IsAtLeast(ordered[i]))
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, l := range []Level{Blocked, SimpleUser, Manager, Admin, SuperUser} {
		parsed, err := Parse(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}

	_, err := Parse("wizard")
	assert.Error(t, err)
}

func TestDerivedFlags(t *testing.T) {
	assert.False(t, Blocked.IsActive())
	assert.True(t, SimpleUser.IsActive())
	assert.False(t, SimpleUser.IsStaff())
	assert.True(t, Manager.IsStaff())
	assert.False(t, Manager.IsAdmin())
	assert.True(t, Admin.IsAdmin())
	assert.False(t, Admin.IsSuperuser())
	assert.True(t, SuperUser.IsSuperuser())
}

// Satisfying a class at some level must imply satisfying it at every higher
// level.
func TestSatisfiesMonotone(t *testing.T) {
	levels := []Level{Blocked, SimpleUser, Manager, Admin, SuperUser}
	classes := []Class{ClassAnonymous, ClassAuthenticated, ClassStaff, ClassAdmin, ClassSuperuser}

	for _, c := range classes {
		passed := false
		for _, l := range levels {
			if passed {
				assert.True(t, l.Satisfies(c), "level %s must satisfy %s once a lower level did", l, c)
			}
			if l.Satisfies(c) {
				passed = true
			}
		}
	}
}

func TestBlockedSatisfiesOnlyAnonymous(t *testing.T) {
	assert.True(t, Blocked.Satisfies(ClassAnonymous))
	assert.False(t, Blocked.Satisfies(ClassAuthenticated))
	assert.False(t, Blocked.Satisfies(ClassStaff))
}

func TestAnonymousSatisfies(t *testing.T) {
	assert.True(t, AnonymousSatisfies(ClassAnonymous))
	assert.False(t, AnonymousSatisfies(ClassAuthenticated))
}
