package model

import (
	"time"

	"github.com/meridianhq/meridian/pkg/level"
)

// Operation is a CRUD operation name as declared in the schema.
type Operation string

const (
	OpCreate   Operation = "create"
	OpRetrieve Operation = "retrieve"
	OpUpdate   Operation = "update"
	OpDelete   Operation = "delete"
)

// Operations lists all CRUD operations.
func Operations() []Operation {
	return []Operation{OpCreate, OpRetrieve, OpUpdate, OpDelete}
}

// Account represents a platform account. Accounts are never hard-deleted;
// revoking access sets the level to blocked.
type Account struct {
	ID        int64       `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email,omitempty"`
	Level     level.Level `json:"level"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// IsStaff reports whether the account ranks manager or above. The boolean
// flags carried by older deployments are derived from the level enum.
func (a *Account) IsStaff() bool { return a != nil && a.Level.IsStaff() }

// IsAdmin reports whether the account ranks admin or above.
func (a *Account) IsAdmin() bool { return a != nil && a.Level.IsAdmin() }

// IsActive reports whether the account is not blocked.
func (a *Account) IsActive() bool { return a != nil && a.Level.IsActive() }

// Group is a named set of accounts used to fan out sharing grants. Groups
// are unscoped.
type Group struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Scope is the tenant boundary. Exactly one entity type in the schema plays
// this role; scoped instances carry a nullable reference to it.
type Scope struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityInstance is one row of a declared entity type. The schema decides
// which fields the payload carries; the core only interprets the sharing
// and timestamp columns.
type EntityInstance struct {
	UID       string    `json:"uid"`
	ModelName string    `json:"model_name"`
	ScopeID   *int64    `json:"scope_id,omitempty"`
	Public    bool      `json:"public"`
	CreatedBy int64     `json:"created_by"`
	Payload   string    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// InstancePermission is one materialized permission cache row, keyed by
// (account, model). WriteUIDs is always a subset of ReadUIDs. Rows are
// written only by the cache maintainer and never exist for admin+ accounts.
type InstancePermission struct {
	AccountID int64     `json:"account_id"`
	ModelName string    `json:"model_name"`
	ReadUIDs  []string  `json:"read_instance_uids"`
	WriteUIDs []string  `json:"write_instance_uids"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CanRead reports whether the row grants read on uid.
func (p *InstancePermission) CanRead(uid string) bool {
	return p != nil && contains(p.ReadUIDs, uid)
}

// CanWrite reports whether the row grants write on uid.
func (p *InstancePermission) CanWrite(uid string) bool {
	return p != nil && contains(p.WriteUIDs, uid)
}

func contains(uids []string, uid string) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}

// Tombstone records a hard deletion for incremental sync. Written
// synchronously in the deleting transaction, immutable afterwards.
type Tombstone struct {
	ModelName   string    `json:"model_name"`
	InstanceUID string    `json:"uid"`
	DeletedAt   time.Time `json:"deleted_at"`
}

// Role is a named role; membership gates model-level CRUD independent of
// per-instance sharing.
type Role struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
