// Package query builds composable SQL predicates over the instances table.
// The authorizer narrows a queryset with visibility conditions and the sync
// engine adds time bounds; nothing here decides policy.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/meridianhq/meridian/pkg/model"
)

// instanceColumns is the canonical column list of the instances table.
// Timestamps are stored as unix milliseconds so window comparisons behave
// identically across backends.
const instanceColumns = "uid, model_name, scope_id, public, created_by, payload, created_at, updated_at"

type cond struct {
	expr string
	args []any
}

// Queryset is an immutable chain of AND-ed conditions over one model's
// instances. Where returns a copy, so a base queryset can be narrowed in
// several directions without interference.
type Queryset struct {
	model string
	conds []cond
}

// ForModel starts a queryset over all instances of one model.
func ForModel(modelName string) *Queryset {
	return &Queryset{
		model: modelName,
		conds: []cond{{expr: "model_name = ?", args: []any{modelName}}},
	}
}

// Model returns the model name the queryset ranges over.
func (q *Queryset) Model() string { return q.model }

// Clone returns an independent copy.
func (q *Queryset) Clone() *Queryset {
	out := &Queryset{model: q.model, conds: make([]cond, len(q.conds))}
	copy(out.conds, q.conds)
	return out
}

// Where returns a copy with an extra condition AND-ed on. The expression
// uses ? placeholders; they are renumbered at build time.
func (q *Queryset) Where(expr string, args ...any) *Queryset {
	out := q.Clone()
	out.conds = append(out.conds, cond{expr: expr, args: args})
	return out
}

// InStrings builds a membership condition over string values. An empty set
// yields a condition matching nothing.
func InStrings(column string, values []string) (string, []any) {
	if len(values) == 0 {
		return "1 = 0", nil
	}
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args
}

// InInt64s builds a membership condition over integer values.
func InInt64s(column string, values []int64) (string, []any) {
	if len(values) == 0 {
		return "1 = 0", nil
	}
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", ")), args
}

// SQL renders the final statement with $N placeholders. Placeholders are
// emitted in strictly ascending order and never reused, which keeps the
// statement valid for both PostgreSQL and SQLite bindings.
func (q *Queryset) SQL(columns string) (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(columns)
	sb.WriteString(" FROM instances")

	var args []any
	n := 0
	for i, c := range q.conds {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		sb.WriteString("(")
		for _, ch := range c.expr {
			if ch == '?' {
				n++
				fmt.Fprintf(&sb, "$%d", n)
			} else {
				sb.WriteRune(ch)
			}
		}
		sb.WriteString(")")
		args = append(args, c.args...)
	}
	sb.WriteString(" ORDER BY updated_at ASC, uid ASC")
	return sb.String(), args
}

// Instances executes the queryset and returns full rows.
func (q *Queryset) Instances(ctx context.Context, db *sql.DB) ([]model.EntityInstance, error) {
	stmt, args := q.SQL(instanceColumns)
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("queryset failed: %w", err)
	}
	defer rows.Close()

	var instances []model.EntityInstance
	for rows.Next() {
		inst, err := ScanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

// UIDs executes the queryset returning identifiers only.
func (q *Queryset) UIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	stmt, args := q.SQL("uid")
	rows, err := db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("queryset failed: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// ScanInstance scans one instances row in canonical column order.
func ScanInstance(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.EntityInstance, error) {
	var inst model.EntityInstance
	var scopeID sql.NullInt64
	var payload sql.NullString
	var createdAt, updatedAt int64

	err := scanner.Scan(
		&inst.UID,
		&inst.ModelName,
		&scopeID,
		&inst.Public,
		&inst.CreatedBy,
		&payload,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	if scopeID.Valid {
		id := scopeID.Int64
		inst.ScopeID = &id
	}
	if payload.Valid {
		inst.Payload = payload.String
	}
	inst.CreatedAt = time.UnixMilli(createdAt).UTC()
	inst.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &inst, nil
}
