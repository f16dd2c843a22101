package permcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/pkg/model"
	"github.com/meridianhq/meridian/pkg/storage"
)

// Store persists InstancePermission rows. Id sets are stored as JSON
// arrays.
type Store struct {
	db *sql.DB
}

// NewStore creates a permission cache store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the cached row for (account, model), or nil when no row
// exists yet. Rows are created lazily by the maintainer.
func (s *Store) Get(ctx context.Context, accountID int64, modelName string) (*model.InstancePermission, error) {
	var row model.InstancePermission
	var readJSON, writeJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_id, model_name, read_uids, write_uids, updated_at
		FROM instance_permissions
		WHERE account_id = $1 AND model_name = $2
	`, accountID, modelName).Scan(
		&row.AccountID, &row.ModelName, &readJSON, &writeJSON, &row.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get permission row: %w", err)
	}
	if err := json.Unmarshal([]byte(readJSON), &row.ReadUIDs); err != nil {
		return nil, fmt.Errorf("corrupt read uid set for account %d model %s: %w", accountID, modelName, err)
	}
	if err := json.Unmarshal([]byte(writeJSON), &row.WriteUIDs); err != nil {
		return nil, fmt.Errorf("corrupt write uid set for account %d model %s: %w", accountID, modelName, err)
	}
	return &row, nil
}

// Upsert writes a row, creating it on first touch.
func (s *Store) Upsert(ctx context.Context, row *model.InstancePermission) error {
	readJSON, err := json.Marshal(emptyIfNil(row.ReadUIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal read uids: %w", err)
	}
	writeJSON, err := json.Marshal(emptyIfNil(row.WriteUIDs))
	if err != nil {
		return fmt.Errorf("failed to marshal write uids: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instance_permissions (account_id, model_name, read_uids, write_uids, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id, model_name)
		DO UPDATE SET read_uids = EXCLUDED.read_uids, write_uids = EXCLUDED.write_uids, updated_at = EXCLUDED.updated_at
	`, row.AccountID, row.ModelName, string(readJSON), string(writeJSON), now)
	if err != nil {
		return fmt.Errorf("failed to upsert permission row: %w", err)
	}
	row.UpdatedAt = now
	return nil
}

// DeleteForAccount removes every cached row for an account. Used when an
// account crosses the admin boundary and its access becomes computed live.
func (s *Store) DeleteForAccount(ctx context.Context, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM instance_permissions WHERE account_id = $1`, accountID)
	if err != nil {
		return fmt.Errorf("failed to delete permission rows: %w", err)
	}
	return nil
}

// Key identifies one cached row.
type Key struct {
	AccountID int64
	ModelName string
}

// StaleKeys returns the keys of rows not rebuilt since the cutoff. The
// reconciliation sweep re-enqueues these.
func (s *Store) StaleKeys(ctx context.Context, cutoff time.Time) ([]Key, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, model_name FROM instance_permissions
		WHERE updated_at < $1
		ORDER BY account_id, model_name
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale rows: %w", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.AccountID, &k.ModelName); err != nil {
			return nil, fmt.Errorf("failed to scan stale key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func emptyIfNil(uids []string) []string {
	if uids == nil {
		return []string{}
	}
	return uids
}

// Migrations returns the permission cache schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     500,
			Description: "Create instance_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS instance_permissions (
					account_id BIGINT NOT NULL,
					model_name VARCHAR(255) NOT NULL,
					read_uids TEXT NOT NULL DEFAULT '[]',
					write_uids TEXT NOT NULL DEFAULT '[]',
					updated_at TIMESTAMP NOT NULL,
					PRIMARY KEY (account_id, model_name)
				);
			`,
		},
	}
}
