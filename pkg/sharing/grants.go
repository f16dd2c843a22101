package sharing

import (
	"context"
	"fmt"
	"time"
)

// Relation distinguishes the view and admin grant relations. Admin grants
// imply view.
type Relation string

const (
	RelationView  Relation = "view"
	RelationAdmin Relation = "admin"
)

// Valid reports whether r is a known relation.
func (r Relation) Valid() bool {
	return r == RelationView || r == RelationAdmin
}

// GrantSet is the live grant state of one instance.
type GrantSet struct {
	ViewUsers   map[int64]bool
	AdminUsers  map[int64]bool
	ViewGroups  map[int64]bool
	AdminGroups map[int64]bool
}

func newGrantSet() *GrantSet {
	return &GrantSet{
		ViewUsers:   make(map[int64]bool),
		AdminUsers:  make(map[int64]bool),
		ViewGroups:  make(map[int64]bool),
		AdminGroups: make(map[int64]bool),
	}
}

// GrantUser adds an account to an instance's view or admin relation.
// Granting twice is a no-op.
func (s *Store) GrantUser(ctx context.Context, modelName, uid string, accountID int64, relation Relation) error {
	if !relation.Valid() {
		return fmt.Errorf("unknown relation %q", relation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_user_grants (model_name, instance_uid, account_id, relation, granted_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM instance_user_grants
			WHERE model_name = $6 AND instance_uid = $7 AND account_id = $8 AND relation = $9
		)
	`, modelName, uid, accountID, string(relation), time.Now().UTC(),
		modelName, uid, accountID, string(relation))
	if err != nil {
		return fmt.Errorf("failed to grant user: %w", err)
	}
	return nil
}

// RevokeUser removes an account from an instance's relation.
func (s *Store) RevokeUser(ctx context.Context, modelName, uid string, accountID int64, relation Relation) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM instance_user_grants
		WHERE model_name = $1 AND instance_uid = $2 AND account_id = $3 AND relation = $4
	`, modelName, uid, accountID, string(relation))
	if err != nil {
		return fmt.Errorf("failed to revoke user: %w", err)
	}
	return nil
}

// GrantGroup adds a group to an instance's view or admin relation.
func (s *Store) GrantGroup(ctx context.Context, modelName, uid string, groupID int64, relation Relation) error {
	if !relation.Valid() {
		return fmt.Errorf("unknown relation %q", relation)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instance_group_grants (model_name, instance_uid, group_id, relation, granted_at)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM instance_group_grants
			WHERE model_name = $6 AND instance_uid = $7 AND group_id = $8 AND relation = $9
		)
	`, modelName, uid, groupID, string(relation), time.Now().UTC(),
		modelName, uid, groupID, string(relation))
	if err != nil {
		return fmt.Errorf("failed to grant group: %w", err)
	}
	return nil
}

// RevokeGroup removes a group from an instance's relation.
func (s *Store) RevokeGroup(ctx context.Context, modelName, uid string, groupID int64, relation Relation) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM instance_group_grants
		WHERE model_name = $1 AND instance_uid = $2 AND group_id = $3 AND relation = $4
	`, modelName, uid, groupID, string(relation))
	if err != nil {
		return fmt.Errorf("failed to revoke group: %w", err)
	}
	return nil
}

// ClearGrants removes every grant on an instance for one relation.
func (s *Store) ClearGrants(ctx context.Context, modelName, uid string, relation Relation) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM instance_user_grants
		WHERE model_name = $1 AND instance_uid = $2 AND relation = $3
	`, modelName, uid, string(relation))
	if err != nil {
		return fmt.Errorf("failed to clear user grants: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM instance_group_grants
		WHERE model_name = $1 AND instance_uid = $2 AND relation = $3
	`, modelName, uid, string(relation))
	if err != nil {
		return fmt.Errorf("failed to clear group grants: %w", err)
	}
	return nil
}

// GrantsFor loads the live grant state for a batch of instances. Instances
// without grants map to empty sets.
func (s *Store) GrantsFor(ctx context.Context, modelName string, uids []string) (map[string]*GrantSet, error) {
	out := make(map[string]*GrantSet, len(uids))
	for _, uid := range uids {
		out[uid] = newGrantSet()
	}
	if len(uids) == 0 {
		return out, nil
	}

	expr := ""
	args := []any{modelName}
	for i, uid := range uids {
		if i > 0 {
			expr += ", "
		}
		expr += fmt.Sprintf("$%d", i+2)
		args = append(args, uid)
	}

	userQuery := fmt.Sprintf(`
		SELECT instance_uid, account_id, relation FROM instance_user_grants
		WHERE model_name = $1 AND instance_uid IN (%s)
	`, expr)
	rows, err := s.db.QueryContext(ctx, userQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load user grants: %w", err)
	}
	for rows.Next() {
		var uid string
		var accountID int64
		var relation string
		if err := rows.Scan(&uid, &accountID, &relation); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan user grant: %w", err)
		}
		if set := out[uid]; set != nil {
			switch Relation(relation) {
			case RelationView:
				set.ViewUsers[accountID] = true
			case RelationAdmin:
				set.AdminUsers[accountID] = true
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user grants: %w", err)
	}

	groupQuery := fmt.Sprintf(`
		SELECT instance_uid, group_id, relation FROM instance_group_grants
		WHERE model_name = $1 AND instance_uid IN (%s)
	`, expr)
	rows, err = s.db.QueryContext(ctx, groupQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load group grants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		var groupID int64
		var relation string
		if err := rows.Scan(&uid, &groupID, &relation); err != nil {
			return nil, fmt.Errorf("failed to scan group grant: %w", err)
		}
		if set := out[uid]; set != nil {
			switch Relation(relation) {
			case RelationView:
				set.ViewGroups[groupID] = true
			case RelationAdmin:
				set.AdminGroups[groupID] = true
			}
		}
	}
	return out, rows.Err()
}

// GrantedAccounts returns the account ids directly granted on an instance
// for one relation.
func (s *Store) GrantedAccounts(ctx context.Context, modelName, uid string, relation Relation) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id FROM instance_user_grants
		WHERE model_name = $1 AND instance_uid = $2 AND relation = $3
		ORDER BY account_id
	`, modelName, uid, string(relation))
	if err != nil {
		return nil, fmt.Errorf("failed to list granted accounts: %w", err)
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

// GrantedGroups returns the group ids granted on an instance for one
// relation.
func (s *Store) GrantedGroups(ctx context.Context, modelName, uid string, relation Relation) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id FROM instance_group_grants
		WHERE model_name = $1 AND instance_uid = $2 AND relation = $3
		ORDER BY group_id
	`, modelName, uid, string(relation))
	if err != nil {
		return nil, fmt.Errorf("failed to list granted groups: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
