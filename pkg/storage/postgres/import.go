package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/warden/pkg/storage"
)

// Import upserts every record of a fixture in one transaction. Records that
// are not in the fixture are left alone.
func (s *Store) Import(ctx context.Context, f *storage.Fixture) (err error) {
	if err := f.Validate(); err != nil {
		return err
	}
	tx, err := s.conn.Primary().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin import: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	exec := func(query string, args ...any) {
		if err != nil {
			return
		}
		if _, execErr := tx.ExecContext(ctx, query, args...); execErr != nil {
			err = fmt.Errorf("failed to import fixture: %w", execErr)
		}
	}
	doc := func(v any) string {
		if err != nil {
			return ""
		}
		data, encErr := json.Marshal(v)
		if encErr != nil {
			err = fmt.Errorf("failed to encode fixture record: %w", encErr)
		}
		return string(data)
	}
	entity := func(kind, uuid, appID string, v any) {
		exec(`INSERT INTO app_entities (uuid, kind, app_id, data) VALUES ($1, $2, $3, $4)
			ON CONFLICT (uuid, kind) DO UPDATE SET app_id = excluded.app_id, data = excluded.data`,
			uuid, kind, appID, doc(v))
	}

	for _, a := range f.Accounts {
		exec(`INSERT INTO accounts (uuid, name) VALUES ($1, $2)
			ON CONFLICT (uuid) DO UPDATE SET name = excluded.name`, a.UUID, a.Name)
	}
	for _, app := range f.Applications {
		exec(`INSERT INTO applications (uuid, account_id, name) VALUES ($1, $2, $3)
			ON CONFLICT (uuid) DO UPDATE SET account_id = excluded.account_id, name = excluded.name`,
			app.UUID, app.AccountID, app.Name)
	}
	for _, env := range f.Environments {
		exec(`INSERT INTO environments (uuid, app_id, name, env_type) VALUES ($1, $2, $3, $4)
			ON CONFLICT (uuid) DO UPDATE SET app_id = excluded.app_id, name = excluded.name, env_type = excluded.env_type`,
			env.UUID, env.AppID, env.Name, string(env.Type))
	}
	for _, e := range f.Services {
		entity(kindService, e.UUID, e.AppID, e)
	}
	for _, e := range f.Provisioners {
		entity(kindProvisioner, e.UUID, e.AppID, e)
	}
	for _, e := range f.Templates {
		entity(kindTemplate, e.UUID, e.AppID, e)
	}
	for _, w := range f.Workflows {
		entity(kindWorkflow, w.UUID, w.AppID, w)
	}
	for _, p := range f.Pipelines {
		entity(kindPipeline, p.UUID, p.AppID, p)
	}
	for _, u := range f.Users {
		exec(`INSERT INTO users (uuid, data) VALUES ($1, $2)
			ON CONFLICT (uuid) DO UPDATE SET data = excluded.data`, u.UUID, doc(u))
	}
	for _, g := range f.UserGroups {
		exec(`INSERT INTO user_groups (uuid, account_id, data) VALUES ($1, $2, $3)
			ON CONFLICT (uuid) DO UPDATE SET account_id = excluded.account_id, data = excluded.data`,
			g.UUID, g.AccountID, doc(g))
	}
	for _, g := range f.Support {
		exec(`INSERT INTO support_grants (user_id, data) VALUES ($1, $2)
			ON CONFLICT (user_id) DO UPDATE SET data = excluded.data`, g.UserID, doc(g))
	}
	for _, e := range f.Entities {
		var restrictions any
		if err == nil {
			restrictions, err = encodeRestrictions(e.Restrictions)
		}
		exec(`INSERT INTO restricted_entities (uuid, kind, account_id, name, scoped_to_account, inherit_scopes, usage_restrictions)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (uuid, kind) DO UPDATE SET
				account_id = excluded.account_id,
				name = excluded.name,
				scoped_to_account = excluded.scoped_to_account,
				inherit_scopes = excluded.inherit_scopes,
				usage_restrictions = excluded.usage_restrictions`,
			e.UUID, string(e.Kind), e.AccountID, e.Name, e.ScopedToAccount, e.InheritScopesFromSecretManager, restrictions)
	}
	for i := range f.Tokens {
		if err == nil {
			err = saveToken(ctx, tx, &f.Tokens[i])
		}
	}
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit import: %w", err)
	}
	s.log.WithField("accounts", len(f.Accounts)).Info("Imported fixture")
	return nil
}
