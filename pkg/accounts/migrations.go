package accounts

import "github.com/meridianhq/meridian/pkg/storage"

// Migrations returns the account schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     100,
			Description: "Create accounts table",
			SQL: `
				CREATE TABLE IF NOT EXISTS accounts (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					level VARCHAR(32) NOT NULL DEFAULT 'simpleuser',
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_accounts_level ON accounts(level);
			`,
		},
		{
			Version:     101,
			Description: "Create groups and group_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS groups (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL
				);
				CREATE TABLE IF NOT EXISTS group_members (
					group_id BIGINT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					added_at TIMESTAMP NOT NULL,
					PRIMARY KEY (group_id, account_id)
				);
				CREATE INDEX IF NOT EXISTS idx_group_members_account ON group_members(account_id);
			`,
		},
		{
			Version:     102,
			Description: "Create roles and role_members tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL
				);
				CREATE TABLE IF NOT EXISTS role_members (
					role_id BIGINT NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					granted_at TIMESTAMP NOT NULL,
					PRIMARY KEY (role_id, account_id)
				);
				CREATE INDEX IF NOT EXISTS idx_role_members_account ON role_members(account_id);
			`,
		},
	}
}
