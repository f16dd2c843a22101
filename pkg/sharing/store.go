// Package sharing persists the sharing graph: entity instances, their
// owner and scope references, and the per-instance user/group grant
// relations. Every mutation here is part of the cache maintainer's trigger
// surface.
package sharing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhq/meridian/pkg/delta"
	"github.com/meridianhq/meridian/pkg/model"
)

// ErrNotFound is returned when an instance does not exist.
var ErrNotFound = errors.New("instance not found")

// Store handles instance and grant persistence.
type Store struct {
	db         *sql.DB
	tombstones *delta.Tombstones
}

// NewStore creates a sharing store. The tombstone store is used so hard
// deletes and their tombstones commit in one transaction.
func NewStore(db *sql.DB, tombstones *delta.Tombstones) *Store {
	return &Store{db: db, tombstones: tombstones}
}

// DB exposes the underlying handle for queryset execution.
func (s *Store) DB() *sql.DB { return s.db }

// CreateInstance inserts a new instance, assigning uid and timestamps.
func (s *Store) CreateInstance(ctx context.Context, inst *model.EntityInstance) error {
	if inst.UID == "" {
		inst.UID = uuid.NewString()
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	var scopeID any
	if inst.ScopeID != nil {
		scopeID = *inst.ScopeID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (uid, model_name, scope_id, public, created_by, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, inst.UID, inst.ModelName, scopeID, inst.Public, inst.CreatedBy, inst.Payload,
		now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves one instance.
func (s *Store) GetInstance(ctx context.Context, modelName, uid string) (*model.EntityInstance, error) {
	var inst model.EntityInstance
	var scopeID sql.NullInt64
	var payload sql.NullString
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx, `
		SELECT uid, model_name, scope_id, public, created_by, payload, created_at, updated_at
		FROM instances WHERE model_name = $1 AND uid = $2
	`, modelName, uid).Scan(
		&inst.UID, &inst.ModelName, &scopeID, &inst.Public, &inst.CreatedBy,
		&payload, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
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

// UpdateInstance writes payload, public flag, and scope reference, bumping
// the modification timestamp. The timestamp is server-assigned and strictly
// monotonic per instance.
func (s *Store) UpdateInstance(ctx context.Context, inst *model.EntityInstance) error {
	current, err := s.GetInstance(ctx, inst.ModelName, inst.UID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if !now.After(current.UpdatedAt) {
		now = current.UpdatedAt.Add(time.Millisecond)
	}
	inst.UpdatedAt = now

	var scopeID any
	if inst.ScopeID != nil {
		scopeID = *inst.ScopeID
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE instances SET scope_id = $1, public = $2, payload = $3, updated_at = $4
		WHERE model_name = $5 AND uid = $6
	`, scopeID, inst.Public, inst.Payload, now.UnixMilli(), inst.ModelName, inst.UID)
	if err != nil {
		return fmt.Errorf("failed to update instance: %w", err)
	}
	return nil
}

// DeleteInstance hard-deletes an instance, its grants, and writes the
// tombstone atomically.
func (s *Store) DeleteInstance(ctx context.Context, modelName, uid string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM instances WHERE model_name = $1 AND uid = $2`, modelName, uid)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete instance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to check delete: %w", err)
	}
	if affected == 0 {
		tx.Rollback()
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM instance_user_grants WHERE model_name = $1 AND instance_uid = $2`,
		modelName, uid,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete user grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM instance_group_grants WHERE model_name = $1 AND instance_uid = $2`,
		modelName, uid,
	); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to delete group grants: %w", err)
	}

	if err := s.tombstones.RecordTx(ctx, tx, modelName, uid, time.Now().UTC()); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}
	return nil
}

// ListInstances returns one keyset-paged batch of a model's instances,
// ordered by uid. Pass an empty afterUID for the first batch.
func (s *Store) ListInstances(ctx context.Context, modelName, afterUID string, limit int) ([]model.EntityInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uid, model_name, scope_id, public, created_by, payload, created_at, updated_at
		FROM instances
		WHERE model_name = $1 AND uid > $2
		ORDER BY uid ASC
		LIMIT $3
	`, modelName, afterUID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

// InstancesInScopes returns a batch of a model's instances inside the given
// scopes.
func (s *Store) InstancesInScopes(ctx context.Context, modelName string, scopeIDs []int64, afterUID string, limit int) ([]model.EntityInstance, error) {
	if len(scopeIDs) == 0 {
		return nil, nil
	}
	expr, args := int64Placeholders(scopeIDs, 3)
	query := fmt.Sprintf(`
		SELECT uid, model_name, scope_id, public, created_by, payload, created_at, updated_at
		FROM instances
		WHERE model_name = $1 AND uid > $2 AND scope_id IN (%s)
		ORDER BY uid ASC
		LIMIT $%d
	`, expr, 3+len(scopeIDs))
	all := append([]any{modelName, afterUID}, args...)
	all = append(all, limit)
	rows, err := s.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances in scopes: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

// InstancesGrantingGroups returns a batch of instances carrying any grant
// to the given groups.
func (s *Store) InstancesGrantingGroups(ctx context.Context, modelName string, groupIDs []int64, afterUID string, limit int) ([]model.EntityInstance, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	expr, args := int64Placeholders(groupIDs, 3)
	query := fmt.Sprintf(`
		SELECT i.uid, i.model_name, i.scope_id, i.public, i.created_by, i.payload, i.created_at, i.updated_at
		FROM instances i
		WHERE i.model_name = $1 AND i.uid > $2 AND EXISTS (
			SELECT 1 FROM instance_group_grants g
			WHERE g.model_name = i.model_name AND g.instance_uid = i.uid AND g.group_id IN (%s)
		)
		ORDER BY i.uid ASC
		LIMIT $%d
	`, expr, 3+len(groupIDs))
	all := append([]any{modelName, afterUID}, args...)
	all = append(all, limit)
	rows, err := s.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances granting groups: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

func scanInstances(rows *sql.Rows) ([]model.EntityInstance, error) {
	var out []model.EntityInstance
	for rows.Next() {
		var inst model.EntityInstance
		var scopeID sql.NullInt64
		var payload sql.NullString
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&inst.UID, &inst.ModelName, &scopeID, &inst.Public, &inst.CreatedBy,
			&payload, &createdAt, &updatedAt,
		); err != nil {
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
		out = append(out, inst)
	}
	return out, rows.Err()
}

// int64Placeholders renders $N placeholders starting at firstIndex for an
// IN clause over int64 values.
func int64Placeholders(values []int64, firstIndex int) (string, []any) {
	expr := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("$%d", firstIndex+i)
		args[i] = v
	}
	return expr, args
}
