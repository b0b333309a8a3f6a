package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
	"github.com/platinummonkey/warden/pkg/storage"
)

// Kinds of rows in app_entities
const (
	kindService     = "SERVICE"
	kindProvisioner = "PROVISIONER"
	kindTemplate    = "TEMPLATE"
	kindWorkflow    = "WORKFLOW"
	kindPipeline    = "PIPELINE"
)

// Store implements storage.Store on PostgreSQL, or SQLite for local runs.
// Writes go to the primary and reads to a replica.
type Store struct {
	conn *ConnectionManager
	log  *logrus.Logger
}

// New creates a store on an open connection manager.
func New(conn *ConnectionManager, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.New()
	}
	return &Store{conn: conn, log: log}
}

// Open connects to the configured database and migrates the schema.
func Open(ctx context.Context, config storage.Config, log *logrus.Logger) (*Store, error) {
	conn, err := NewConnectionManager(ctx, config, log)
	if err != nil {
		return nil, err
	}
	s := New(conn, log)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// placeholders returns "$start, ..., $start+n-1".
func placeholders(start, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

func stringArgs(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}

func (s *Store) exists(ctx context.Context, table, id string) (bool, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE uuid = $1", table)
	if err := s.conn.Replica().QueryRowContext(ctx, query, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", table, err)
	}
	return n > 0, nil
}

func (s *Store) column(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.conn.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// docs decodes a single JSON column of every row.
func docs[T any](ctx context.Context, s *Store, query string, args ...any) ([]T, error) {
	raw, err := s.column(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for _, data := range raw {
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}

// AccountIDs lists every account.
func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	ids, err := s.column(ctx, `SELECT uuid FROM accounts ORDER BY uuid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return ids, nil
}

// AccountExists implements rbac.AccountLookup
func (s *Store) AccountExists(ctx context.Context, accountID string) (bool, error) {
	return s.exists(ctx, "accounts", accountID)
}

// ApplicationExists implements rbac.ApplicationLookup
func (s *Store) ApplicationExists(ctx context.Context, appID string) (bool, error) {
	return s.exists(ctx, "applications", appID)
}

// EnvironmentType implements rbac.EnvironmentLookup
func (s *Store) EnvironmentType(ctx context.Context, envID string) (rbac.EnvironmentType, error) {
	var envType string
	err := s.conn.Replica().QueryRowContext(ctx, `SELECT env_type FROM environments WHERE uuid = $1`, envID).Scan(&envType)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up environment: %w", err)
	}
	return rbac.EnvironmentType(envType), nil
}

// UserByID returns the user, or nil when unknown.
func (s *Store) UserByID(ctx context.Context, userID string) (*rbac.User, error) {
	users, err := docs[rbac.User](ctx, s, `SELECT data FROM users WHERE uuid = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

// UserGroupsByAccountID implements rbac.UserGroupProvider
func (s *Store) UserGroupsByAccountID(ctx context.Context, accountID string, user *rbac.User) ([]rbac.UserGroup, error) {
	if user == nil {
		return nil, nil
	}
	groups, err := docs[rbac.UserGroup](ctx, s, `SELECT data FROM user_groups WHERE account_id = $1 ORDER BY uuid`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user groups of account %s: %w", accountID, err)
	}
	var out []rbac.UserGroup
	for _, g := range groups {
		for _, id := range g.MemberIDs {
			if id == user.UUID {
				out = append(out, g)
				break
			}
		}
	}
	return out, nil
}

// ListAllowedActions implements rbac.SupportUserLookup
func (s *Store) ListAllowedActions(ctx context.Context, accountID, userID string) (rbac.ActionSet, error) {
	grants, err := docs[storage.SupportGrant](ctx, s, `SELECT data FROM support_grants WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load support grant: %w", err)
	}
	if len(grants) == 0 {
		return nil, nil
	}
	return grants[0].AllowedActions(accountID), nil
}

// IsUserAssignedToAccount implements rbac.MembershipLookup. The stored user
// record wins over the one passed in.
func (s *Store) IsUserAssignedToAccount(ctx context.Context, user *rbac.User, accountID string) (bool, error) {
	if user == nil {
		return false, nil
	}
	stored, err := s.UserByID(ctx, user.UUID)
	if err != nil {
		return false, err
	}
	if stored != nil {
		return stored.BelongsTo(accountID), nil
	}
	return user.BelongsTo(accountID), nil
}

// AppIDs implements rbac.EntityCatalog
func (s *Store) AppIDs(ctx context.Context, accountID string) ([]string, error) {
	ids, err := s.column(ctx, `SELECT uuid FROM applications WHERE account_id = $1 ORDER BY uuid`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	return ids, nil
}

// Applications implements rbac.EntityCatalog
func (s *Store) Applications(ctx context.Context, accountID string) ([]rbac.Application, error) {
	rows, err := s.conn.Replica().QueryContext(ctx,
		`SELECT uuid, account_id, name FROM applications WHERE account_id = $1 ORDER BY uuid`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	defer rows.Close()

	var apps []rbac.Application
	for rows.Next() {
		var app rbac.Application
		if err := rows.Scan(&app.UUID, &app.AccountID, &app.Name); err != nil {
			return nil, fmt.Errorf("failed to scan application: %w", err)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// Environments implements rbac.EntityCatalog
func (s *Store) Environments(ctx context.Context, accountID string, appIDs []string) ([]rbac.Environment, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT e.uuid, e.app_id, e.name, e.env_type
		FROM environments e
		JOIN applications a ON a.uuid = e.app_id
		WHERE a.account_id = $1 AND e.app_id IN (` + placeholders(2, len(appIDs)) + `)
		ORDER BY e.uuid
	`
	rows, err := s.conn.Replica().QueryContext(ctx, query, stringArgs([]any{accountID}, appIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	defer rows.Close()

	var envs []rbac.Environment
	for rows.Next() {
		var env rbac.Environment
		var envType string
		if err := rows.Scan(&env.UUID, &env.AppID, &env.Name, &envType); err != nil {
			return nil, fmt.Errorf("failed to scan environment: %w", err)
		}
		env.Type = rbac.EnvironmentType(envType)
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func appEntities[T any](ctx context.Context, s *Store, kind, accountID string, appIDs []string) ([]T, error) {
	if len(appIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT e.data
		FROM app_entities e
		JOIN applications a ON a.uuid = e.app_id
		WHERE a.account_id = $1 AND e.kind = $2 AND e.app_id IN (` + placeholders(3, len(appIDs)) + `)
		ORDER BY e.uuid
	`
	out, err := docs[T](ctx, s, query, stringArgs([]any{accountID, kind}, appIDs)...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entities: %w", strings.ToLower(kind), err)
	}
	return out, nil
}

// Services implements rbac.EntityCatalog
func (s *Store) Services(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return appEntities[rbac.Entity](ctx, s, kindService, accountID, appIDs)
}

// Provisioners implements rbac.EntityCatalog
func (s *Store) Provisioners(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return appEntities[rbac.Entity](ctx, s, kindProvisioner, accountID, appIDs)
}

// Templates implements rbac.EntityCatalog
func (s *Store) Templates(ctx context.Context, accountID string, appIDs []string) ([]rbac.Entity, error) {
	return appEntities[rbac.Entity](ctx, s, kindTemplate, accountID, appIDs)
}

// Workflows implements rbac.EntityCatalog
func (s *Store) Workflows(ctx context.Context, accountID string, appIDs []string) ([]rbac.Workflow, error) {
	return appEntities[rbac.Workflow](ctx, s, kindWorkflow, accountID, appIDs)
}

// Pipelines implements rbac.EntityCatalog
func (s *Store) Pipelines(ctx context.Context, accountID string, appIDs []string) ([]rbac.Pipeline, error) {
	return appEntities[rbac.Pipeline](ctx, s, kindPipeline, accountID, appIDs)
}

// ListRestricted implements restrictions.EntityStore
func (s *Store) ListRestricted(ctx context.Context, accountID string, kinds ...restrictions.EntityKind) ([]restrictions.RestrictedEntity, error) {
	query := `
		SELECT uuid, kind, account_id, name, scoped_to_account, inherit_scopes, usage_restrictions
		FROM restricted_entities
		WHERE account_id = $1`
	args := []any{accountID}
	if len(kinds) > 0 {
		query += ` AND kind IN (` + placeholders(2, len(kinds)) + `)`
		for _, k := range kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY uuid`

	rows, err := s.conn.Replica().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list restricted entities: %w", err)
	}
	defer rows.Close()

	var out []restrictions.RestrictedEntity
	for rows.Next() {
		var (
			e    restrictions.RestrictedEntity
			kind string
			raw  sql.NullString
		)
		if err := rows.Scan(&e.UUID, &kind, &e.AccountID, &e.Name, &e.ScopedToAccount, &e.InheritScopesFromSecretManager, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan restricted entity: %w", err)
		}
		e.Kind = restrictions.EntityKind(kind)
		if raw.Valid && raw.String != "" {
			if err := json.Unmarshal([]byte(raw.String), &e.Restrictions); err != nil {
				return nil, fmt.Errorf("failed to decode usage restrictions of %s: %w", e.UUID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func encodeRestrictions(r *rbac.UsageRestrictions) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode usage restrictions: %w", err)
	}
	return string(data), nil
}

// UpdateRestrictions implements restrictions.EntityStore
func (s *Store) UpdateRestrictions(ctx context.Context, accountID, uuid string, kind restrictions.EntityKind, r *rbac.UsageRestrictions) error {
	encoded, err := encodeRestrictions(r)
	if err != nil {
		return err
	}
	res, err := s.conn.Primary().ExecContext(ctx,
		`UPDATE restricted_entities SET usage_restrictions = $1 WHERE account_id = $2 AND uuid = $3 AND kind = $4`,
		encoded, accountID, uuid, string(kind))
	if err != nil {
		return fmt.Errorf("failed to update usage restrictions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update usage restrictions: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s not found in account %s", rbac.ErrInvalidRequest, kind, uuid, accountID)
	}
	return nil
}

// Get implements auth.TokenStore
func (s *Store) Get(ctx context.Context, id string) (*auth.AuthToken, error) {
	var (
		t        auth.AuthToken
		expireAt int64
	)
	err := s.conn.Replica().QueryRowContext(ctx,
		`SELECT uuid, account_id, user_id, expire_at, refreshed, jwt_token FROM auth_tokens WHERE uuid = $1`, id,
	).Scan(&t.UUID, &t.AccountID, &t.UserID, &expireAt, &t.Refreshed, &t.JWTToken)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth token: %w", err)
	}
	t.ExpireAt = time.UnixMilli(expireAt).UTC()
	return &t, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const upsertToken = `
	INSERT INTO auth_tokens (uuid, account_id, user_id, expire_at, refreshed, jwt_token)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (uuid) DO UPDATE SET
		account_id = excluded.account_id,
		user_id = excluded.user_id,
		expire_at = excluded.expire_at,
		refreshed = excluded.refreshed,
		jwt_token = excluded.jwt_token
`

func saveToken(ctx context.Context, db execer, t *auth.AuthToken) error {
	_, err := db.ExecContext(ctx, upsertToken, t.UUID, t.AccountID, t.UserID, t.ExpireAt.UnixMilli(), t.Refreshed, t.JWTToken)
	if err != nil {
		return fmt.Errorf("failed to save auth token: %w", err)
	}
	return nil
}

// Save implements auth.TokenStore
func (s *Store) Save(ctx context.Context, token *auth.AuthToken) error {
	if token == nil || token.UUID == "" {
		return fmt.Errorf("%w: token id is required", rbac.ErrInvalidRequest)
	}
	return saveToken(ctx, s.conn.Primary(), token)
}

// Delete implements auth.TokenStore
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.conn.Primary().ExecContext(ctx, `DELETE FROM auth_tokens WHERE uuid = $1`, id); err != nil {
		return fmt.Errorf("failed to delete auth token: %w", err)
	}
	return nil
}

// MarkRefreshed implements auth.TokenStore
func (s *Store) MarkRefreshed(ctx context.Context, id string) (bool, error) {
	res, err := s.conn.Primary().ExecContext(ctx,
		`UPDATE auth_tokens SET refreshed = TRUE WHERE uuid = $1 AND NOT refreshed`, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark auth token refreshed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark auth token refreshed: %w", err)
	}
	return n == 1, nil
}

// ListByUser implements auth.TokenStore
func (s *Store) ListByUser(ctx context.Context, userID string) ([]string, error) {
	ids, err := s.column(ctx, `SELECT uuid FROM auth_tokens WHERE user_id = $1 ORDER BY uuid`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list auth tokens: %w", err)
	}
	return ids, nil
}

// PurgeExpiredTokens deletes tokens that expired at or before now.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.conn.Primary().ExecContext(ctx, `DELETE FROM auth_tokens WHERE expire_at <= $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired tokens: %w", err)
	}
	return res.RowsAffected()
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// Close closes every connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

var _ storage.Store = (*Store)(nil)
