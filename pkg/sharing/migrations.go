package sharing

import "github.com/meridianhq/meridian/pkg/storage"

// Migrations returns the sharing graph schema migrations. Instance
// timestamps are stored as unix milliseconds; sync windows compare them
// numerically.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     300,
			Description: "Create instances table",
			SQL: `
				CREATE TABLE IF NOT EXISTS instances (
					uid VARCHAR(64) PRIMARY KEY,
					model_name VARCHAR(255) NOT NULL,
					scope_id BIGINT REFERENCES scopes(id) ON DELETE SET NULL,
					public BOOLEAN NOT NULL DEFAULT FALSE,
					created_by BIGINT NOT NULL,
					payload TEXT,
					created_at BIGINT NOT NULL,
					updated_at BIGINT NOT NULL
				);
				CREATE INDEX IF NOT EXISTS idx_instances_model ON instances(model_name, uid);
				CREATE INDEX IF NOT EXISTS idx_instances_window ON instances(model_name, updated_at);
				CREATE INDEX IF NOT EXISTS idx_instances_scope ON instances(scope_id);
			`,
		},
		{
			Version:     301,
			Description: "Create instance grant tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS instance_user_grants (
					model_name VARCHAR(255) NOT NULL,
					instance_uid VARCHAR(64) NOT NULL,
					account_id BIGINT NOT NULL,
					relation VARCHAR(16) NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					PRIMARY KEY (model_name, instance_uid, account_id, relation)
				);
				CREATE INDEX IF NOT EXISTS idx_user_grants_account ON instance_user_grants(account_id);

				CREATE TABLE IF NOT EXISTS instance_group_grants (
					model_name VARCHAR(255) NOT NULL,
					instance_uid VARCHAR(64) NOT NULL,
					group_id BIGINT NOT NULL,
					relation VARCHAR(16) NOT NULL,
					granted_at TIMESTAMP NOT NULL,
					PRIMARY KEY (model_name, instance_uid, group_id, relation)
				);
				CREATE INDEX IF NOT EXISTS idx_group_grants_group ON instance_group_grants(group_id);
			`,
		},
	}
}
