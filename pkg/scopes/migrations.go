package scopes

import "github.com/meridianhq/meridian/pkg/storage"

// Migrations returns the scope schema migrations.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     200,
			Description: "Create scopes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS scopes (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					created_at TIMESTAMP NOT NULL,
					updated_at TIMESTAMP NOT NULL
				);
			`,
		},
		{
			Version:     201,
			Description: "Create scope membership tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS scope_members (
					scope_id BIGINT NOT NULL REFERENCES scopes(id) ON DELETE CASCADE,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					joined_at TIMESTAMP NOT NULL,
					PRIMARY KEY (scope_id, account_id)
				);
				CREATE INDEX IF NOT EXISTS idx_scope_members_account ON scope_members(account_id);

				CREATE TABLE IF NOT EXISTS scope_unsubscribed (
					scope_id BIGINT NOT NULL REFERENCES scopes(id) ON DELETE CASCADE,
					account_id BIGINT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
					unsubscribed_at TIMESTAMP NOT NULL,
					PRIMARY KEY (scope_id, account_id)
				);
			`,
		},
	}
}
