// Package testdb opens in-memory SQLite databases carrying the full
// Meridian schema for store and flow tests. The DDL mirrors the PostgreSQL
// migrations with SQLite column affinities.
package testdb

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const ddl = `
	CREATE TABLE accounts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		email TEXT,
		level TEXT NOT NULL DEFAULT 'simpleuser',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE group_members (
		group_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		added_at TIMESTAMP NOT NULL,
		PRIMARY KEY (group_id, account_id)
	);

	CREATE TABLE roles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE role_members (
		role_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (role_id, account_id)
	);

	CREATE TABLE scopes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE scope_members (
		scope_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		joined_at TIMESTAMP NOT NULL,
		PRIMARY KEY (scope_id, account_id)
	);

	CREATE TABLE scope_unsubscribed (
		scope_id INTEGER NOT NULL,
		account_id INTEGER NOT NULL,
		unsubscribed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (scope_id, account_id)
	);

	CREATE TABLE instances (
		uid TEXT PRIMARY KEY,
		model_name TEXT NOT NULL,
		scope_id INTEGER,
		public BOOLEAN NOT NULL DEFAULT FALSE,
		created_by INTEGER NOT NULL,
		payload TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE instance_user_grants (
		model_name TEXT NOT NULL,
		instance_uid TEXT NOT NULL,
		account_id INTEGER NOT NULL,
		relation TEXT NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (model_name, instance_uid, account_id, relation)
	);

	CREATE TABLE instance_group_grants (
		model_name TEXT NOT NULL,
		instance_uid TEXT NOT NULL,
		group_id INTEGER NOT NULL,
		relation TEXT NOT NULL,
		granted_at TIMESTAMP NOT NULL,
		PRIMARY KEY (model_name, instance_uid, group_id, relation)
	);

	CREATE TABLE instance_permissions (
		account_id INTEGER NOT NULL,
		model_name TEXT NOT NULL,
		read_uids TEXT NOT NULL DEFAULT '[]',
		write_uids TEXT NOT NULL DEFAULT '[]',
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (account_id, model_name)
	);

	CREATE TABLE deleted_models (
		model_name TEXT NOT NULL,
		instance_uid TEXT NOT NULL,
		deleted_at INTEGER NOT NULL,
		PRIMARY KEY (model_name, instance_uid)
	);
`

// New opens a fresh in-memory database with the full schema. The handle is
// closed automatically when the test finishes.
func New(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		t.Fatalf("Failed to create test schema: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}
