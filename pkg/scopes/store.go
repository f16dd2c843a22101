// Package scopes persists the tenant boundary: scope rows, account
// membership, and the unsubscribed set. Membership mutations feed the cache
// maintainer's scope-membership trigger.
package scopes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/pkg/model"
)

// ErrNotFound is returned when a scope does not exist.
var ErrNotFound = errors.New("scope not found")

// Store handles scope persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a scope store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateScope inserts a new scope.
func (s *Store) CreateScope(ctx context.Context, scope *model.Scope) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO scopes (name, created_at, updated_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, scope.Name, now, now).Scan(&scope.ID)
	if err != nil {
		return fmt.Errorf("failed to create scope: %w", err)
	}
	scope.CreatedAt = now
	scope.UpdatedAt = now
	return nil
}

// GetScope retrieves a scope by id.
func (s *Store) GetScope(ctx context.Context, id int64) (*model.Scope, error) {
	var scope model.Scope
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM scopes WHERE id = $1`, id,
	).Scan(&scope.ID, &scope.Name, &scope.CreatedAt, &scope.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	return &scope, nil
}

// AddMember adds an account to a scope. Adding an existing member is a
// no-op; it also clears any unsubscription.
func (s *Store) AddMember(ctx context.Context, scopeID, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scope_members (scope_id, account_id, joined_at)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM scope_members WHERE scope_id = $4 AND account_id = $5
		)
	`, scopeID, accountID, time.Now().UTC(), scopeID, accountID)
	if err != nil {
		return fmt.Errorf("failed to add scope member: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`DELETE FROM scope_unsubscribed WHERE scope_id = $1 AND account_id = $2`,
		scopeID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to clear unsubscription: %w", err)
	}
	return nil
}

// RemoveMember removes an account from a scope.
func (s *Store) RemoveMember(ctx context.Context, scopeID, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scope_members WHERE scope_id = $1 AND account_id = $2`,
		scopeID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove scope member: %w", err)
	}
	return nil
}

// Unsubscribe marks a member as unsubscribed without removing membership.
// Unsubscribed accounts keep the scope out of their effective scope set.
func (s *Store) Unsubscribe(ctx context.Context, scopeID, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scope_unsubscribed (scope_id, account_id, unsubscribed_at)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM scope_unsubscribed WHERE scope_id = $4 AND account_id = $5
		)
	`, scopeID, accountID, time.Now().UTC(), scopeID, accountID)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe: %w", err)
	}
	return nil
}

// Resubscribe clears an unsubscription.
func (s *Store) Resubscribe(ctx context.Context, scopeID, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM scope_unsubscribed WHERE scope_id = $1 AND account_id = $2`,
		scopeID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to resubscribe: %w", err)
	}
	return nil
}

// ScopesOf returns the effective scope ids of an account: memberships minus
// unsubscriptions.
func (s *Store) ScopesOf(ctx context.Context, accountID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sm.scope_id FROM scope_members sm
		WHERE sm.account_id = $1
		AND NOT EXISTS (
			SELECT 1 FROM scope_unsubscribed su
			WHERE su.scope_id = sm.scope_id AND su.account_id = $2
		)
		ORDER BY sm.scope_id
	`, accountID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan scope id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Members returns the account ids of all members of a scope, including
// unsubscribed ones.
func (s *Store) Members(ctx context.Context, scopeID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id FROM scope_members WHERE scope_id = $1 ORDER BY account_id`,
		scopeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsMember reports whether the account is an effective (subscribed) member.
func (s *Store) IsMember(ctx context.Context, scopeID, accountID int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM scope_members sm
		WHERE sm.scope_id = $1 AND sm.account_id = $2
		AND NOT EXISTS (
			SELECT 1 FROM scope_unsubscribed su
			WHERE su.scope_id = $3 AND su.account_id = $4
		)
	`, scopeID, accountID, scopeID, accountID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return true, nil
}
