package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSQLPlaceholderNumbering(t *testing.T) {
	q := ForModel("widget").
		Where("public = ?", true).
		Where("(uid IN (?, ?) OR scope_id = ?)", "a", "b", int64(7))

	stmt, args := q.SQL("uid")
	assert.Equal(t,
		"SELECT uid FROM instances WHERE (model_name = $1) AND (public = $2) AND ((uid IN ($3, $4) OR scope_id = $5)) ORDER BY updated_at ASC, uid ASC",
		stmt)
	assert.Equal(t, []any{"widget", true, "a", "b", int64(7)}, args)
}

func TestWhereDoesNotMutateReceiver(t *testing.T) {
	base := ForModel("widget")
	narrowed := base.Where("public = ?", true)
	other := base.Where("created_by = ?", int64(1))

	baseStmt, _ := base.SQL("uid")
	narrowedStmt, _ := narrowed.SQL("uid")
	otherStmt, _ := other.SQL("uid")

	assert.NotContains(t, baseStmt, "public")
	assert.Contains(t, narrowedStmt, "public")
	assert.NotContains(t, narrowedStmt, "created_by")
	assert.Contains(t, otherStmt, "created_by")
}

func TestInStrings(t *testing.T) {
	expr, args := InStrings("uid", []string{"a", "b"})
	assert.Equal(t, "uid IN (?, ?)", expr)
	assert.Equal(t, []any{"a", "b"}, args)

	expr, args = InStrings("uid", nil)
	assert.Equal(t, "1 = 0", expr)
	assert.Empty(t, args)
}

func TestInInt64s(t *testing.T) {
	expr, args := InInt64s("scope_id", []int64{3, 9})
	assert.Equal(t, "scope_id IN (?, ?)", expr)
	assert.Equal(t, []any{int64(3), int64(9)}, args)

	expr, _ = InInt64s("scope_id", nil)
	assert.Equal(t, "1 = 0", expr)
}
