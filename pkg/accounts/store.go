// Package accounts persists accounts, groups, and role membership. Level
// and membership mutations here are part of the cache maintainer's trigger
// surface; callers enqueue the matching job after a successful write.
package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/meridianhq/meridian/pkg/level"
	"github.com/meridianhq/meridian/pkg/model"
)

// ErrNotFound is returned when an account, group, or role does not exist.
var ErrNotFound = errors.New("not found")

// Store handles account persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates an account store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateAccount inserts a new account at the given level.
func (s *Store) CreateAccount(ctx context.Context, account *model.Account) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (username, email, level, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, account.Username, account.Email, account.Level.String(), now, now).Scan(&account.ID)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccount retrieves an account by id.
func (s *Store) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return s.getAccount(ctx, `SELECT id, username, email, level, created_at, updated_at FROM accounts WHERE id = $1`, id)
}

// GetAccountByUsername retrieves an account by username.
func (s *Store) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	return s.getAccount(ctx, `SELECT id, username, email, level, created_at, updated_at FROM accounts WHERE username = $1`, username)
}

func (s *Store) getAccount(ctx context.Context, query string, arg any) (*model.Account, error) {
	var account model.Account
	var levelName string
	var email sql.NullString
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID, &account.Username, &email, &levelName,
		&account.CreatedAt, &account.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if email.Valid {
		account.Email = email.String
	}
	account.Level, err = level.Parse(levelName)
	if err != nil {
		return nil, fmt.Errorf("account %d carries invalid level: %w", account.ID, err)
	}
	return &account, nil
}

// SetLevel updates an account's level and returns the previous one.
// Blocking an account is SetLevel to blocked; accounts are never deleted.
func (s *Store) SetLevel(ctx context.Context, id int64, newLevel level.Level) (level.Level, error) {
	account, err := s.GetAccount(ctx, id)
	if err != nil {
		return level.Blocked, err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE accounts SET level = $1, updated_at = $2 WHERE id = $3`,
		newLevel.String(), time.Now().UTC(), id,
	)
	if err != nil {
		return level.Blocked, fmt.Errorf("failed to update account level: %w", err)
	}
	return account.Level, nil
}

// CreateGroup inserts a new group.
func (s *Store) CreateGroup(ctx context.Context, group *model.Group) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO groups (name, created_at) VALUES ($1, $2) RETURNING id
	`, group.Name, now).Scan(&group.ID)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	group.CreatedAt = now
	return nil
}

// AddGroupMember adds an account to a group. Adding an existing member is a
// no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, account_id, added_at)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM group_members WHERE group_id = $4 AND account_id = $5
		)
	`, groupID, accountID, time.Now().UTC(), groupID, accountID)
	if err != nil {
		return fmt.Errorf("failed to add group member: %w", err)
	}
	return nil
}

// RemoveGroupMember removes an account from a group.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = $1 AND account_id = $2`,
		groupID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove group member: %w", err)
	}
	return nil
}

// GroupsOf returns the ids of all groups the account belongs to.
func (s *Store) GroupsOf(ctx context.Context, accountID int64) ([]int64, error) {
	return s.queryInt64s(ctx,
		`SELECT group_id FROM group_members WHERE account_id = $1 ORDER BY group_id`,
		accountID,
	)
}

// GroupMembers returns the ids of all accounts in the group.
func (s *Store) GroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	return s.queryInt64s(ctx,
		`SELECT account_id FROM group_members WHERE group_id = $1 ORDER BY account_id`,
		groupID,
	)
}

// CreateRole inserts a new role.
func (s *Store) CreateRole(ctx context.Context, role *model.Role) error {
	now := time.Now().UTC()
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO roles (name, created_at) VALUES ($1, $2) RETURNING id
	`, role.Name, now).Scan(&role.ID)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	role.CreatedAt = now
	return nil
}

// AssignRole adds an account to a role. Assigning twice is a no-op.
func (s *Store) AssignRole(ctx context.Context, roleID, accountID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_members (role_id, account_id, granted_at)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM role_members WHERE role_id = $4 AND account_id = $5
		)
	`, roleID, accountID, time.Now().UTC(), roleID, accountID)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

// RevokeRole removes an account from a role.
func (s *Store) RevokeRole(ctx context.Context, roleID, accountID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM role_members WHERE role_id = $1 AND account_id = $2`,
		roleID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// RoleNamesOf returns the names of all roles the account holds.
func (s *Store) RoleNamesOf(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.name FROM roles r
		JOIN role_members rm ON rm.role_id = r.id
		WHERE rm.account_id = $1
		ORDER BY r.name
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AllAccountIDs returns every account id. Used by the full reconciliation
// sweep.
func (s *Store) AllAccountIDs(ctx context.Context) ([]int64, error) {
	return s.queryInt64s(ctx, `SELECT id FROM accounts ORDER BY id`)
}

func (s *Store) queryInt64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
