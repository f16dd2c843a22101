package delta

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/storage"
)

// Tombstones persists deletion records. Rows are written synchronously in
// the deleting transaction and never modified afterwards; pruning is left
// to operators.
type Tombstones struct {
	db *sql.DB
}

// NewTombstones creates a tombstone store.
func NewTombstones(db *sql.DB) *Tombstones {
	return &Tombstones{db: db}
}

// RecordTx writes a tombstone inside the caller's transaction, so a hard
// delete and its tombstone commit atomically.
func (t *Tombstones) RecordTx(ctx context.Context, tx *sql.Tx, modelName, uid string, deletedAt time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deleted_models (model_name, instance_uid, deleted_at)
		VALUES ($1, $2, $3)
	`, modelName, uid, deletedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to record tombstone: %w", err)
	}
	return nil
}

// InWindow returns the uids of tombstones for a model whose deletion falls
// in [start, end], both bounds in unix milliseconds.
func (t *Tombstones) InWindow(ctx context.Context, modelName string, start, end int64) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT instance_uid FROM deleted_models
		WHERE model_name = $1 AND deleted_at >= $2 AND deleted_at <= $3
		ORDER BY deleted_at ASC, instance_uid ASC
	`, modelName, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// All returns every tombstone for a model, oldest first.
func (t *Tombstones) All(ctx context.Context, modelName string) ([]model.Tombstone, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT model_name, instance_uid, deleted_at FROM deleted_models
		WHERE model_name = $1
		ORDER BY deleted_at ASC, instance_uid ASC
	`, modelName)
	if err != nil {
		return nil, fmt.Errorf("failed to query tombstones: %w", err)
	}
	defer rows.Close()

	var out []model.Tombstone
	for rows.Next() {
		var ts model.Tombstone
		var deletedAt int64
		if err := rows.Scan(&ts.ModelName, &ts.InstanceUID, &deletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tombstone: %w", err)
		}
		ts.DeletedAt = time.UnixMilli(deletedAt).UTC()
		out = append(out, ts)
	}
	return out, rows.Err()
}

// Migrations returns the tombstone schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     400,
			Description: "Create deleted_models table",
			SQL: `
				CREATE TABLE IF NOT EXISTS deleted_models (
					model_name VARCHAR(255) NOT NULL,
					instance_uid VARCHAR(64) NOT NULL,
					deleted_at BIGINT NOT NULL,
					PRIMARY KEY (model_name, instance_uid)
				);
				CREATE INDEX IF NOT EXISTS idx_deleted_models_window
					ON deleted_models(model_name, deleted_at);
			`,
		},
	}
}
