package postgres

import (
	"context"
	"fmt"
)

// schema is portable between PostgreSQL and SQLite. Documents are stored as
// JSON text.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		uuid TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS applications (
		uuid TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS applications_account_id ON applications (account_id)`,
	`CREATE TABLE IF NOT EXISTS environments (
		uuid TEXT PRIMARY KEY,
		app_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		env_type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_entities (
		uuid TEXT NOT NULL,
		kind TEXT NOT NULL,
		app_id TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (uuid, kind)
	)`,
	`CREATE INDEX IF NOT EXISTS app_entities_app_id ON app_entities (app_id, kind)`,
	`CREATE TABLE IF NOT EXISTS users (
		uuid TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_groups (
		uuid TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS user_groups_account_id ON user_groups (account_id)`,
	`CREATE TABLE IF NOT EXISTS support_grants (
		user_id TEXT PRIMARY KEY,
		data TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS restricted_entities (
		uuid TEXT NOT NULL,
		kind TEXT NOT NULL,
		account_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		scoped_to_account BOOLEAN NOT NULL DEFAULT FALSE,
		inherit_scopes BOOLEAN NOT NULL DEFAULT FALSE,
		usage_restrictions TEXT,
		PRIMARY KEY (uuid, kind)
	)`,
	`CREATE INDEX IF NOT EXISTS restricted_entities_account_id ON restricted_entities (account_id)`,
	`CREATE TABLE IF NOT EXISTS auth_tokens (
		uuid TEXT PRIMARY KEY,
		account_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		expire_at BIGINT NOT NULL,
		refreshed BOOLEAN NOT NULL DEFAULT FALSE,
		jwt_token TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS auth_tokens_user_id ON auth_tokens (user_id)`,
}

// Migrate creates the tables the store needs. It is safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.conn.Primary().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}
