package storage

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// ErrInvalidFixture is returned when a fixture document is malformed
var ErrInvalidFixture = errors.New("invalid fixture")

// Account is a tenant
type Account struct {
	UUID string `json:"uuid" yaml:"uuid"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// SupportGrant lets a support user act in customer accounts. Empty Accounts
// means every account; empty Actions means the default support actions.
type SupportGrant struct {
	UserID   string          `json:"user_id" yaml:"userId"`
	Accounts []string        `json:"accounts,omitempty" yaml:"accounts,omitempty"`
	Actions  rbac.ActionSet  `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// AllowedActions returns the actions the grant allows in an account, or nil
// when it does not cover the account.
func (g SupportGrant) AllowedActions(accountID string) rbac.ActionSet {
	if len(g.Accounts) > 0 && !slices.Contains(g.Accounts, accountID) {
		return nil
	}
	if g.Actions.IsEmpty() {
		return authz.DefaultSupportActions()
	}
	return g.Actions.Clone()
}

// Fixture is the YAML document served by the fixture store
type Fixture struct {
	Accounts     []Account                       `yaml:"accounts"`
	Applications []rbac.Application              `yaml:"applications,omitempty"`
	Environments []rbac.Environment              `yaml:"environments,omitempty"`
	Services     []rbac.Entity                   `yaml:"services,omitempty"`
	Provisioners []rbac.Entity                   `yaml:"provisioners,omitempty"`
	Templates    []rbac.Entity                   `yaml:"templates,omitempty"`
	Workflows    []rbac.Workflow                 `yaml:"workflows,omitempty"`
	Pipelines    []rbac.Pipeline                 `yaml:"pipelines,omitempty"`
	Users        []rbac.User                     `yaml:"users,omitempty"`
	UserGroups   []rbac.UserGroup                `yaml:"userGroups,omitempty"`
	Support      []SupportGrant                  `yaml:"support,omitempty"`
	Entities     []restrictions.RestrictedEntity `yaml:"entities,omitempty"`
	Tokens       []auth.AuthToken                `yaml:"tokens,omitempty"`
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates a fixture document. Unknown fields are
// rejected.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFixture, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks ids and cross references.
func (f *Fixture) Validate() error {
	accounts := make(rbac.StringSet)
	for _, a := range f.Accounts {
		if a.UUID == "" {
			return fmt.Errorf("%w: account without uuid", ErrInvalidFixture)
		}
		accounts.Add(a.UUID)
	}
	apps := make(rbac.StringSet)
	for _, app := range f.Applications {
		if app.UUID == "" || !accounts.Has(app.AccountID) {
			return fmt.Errorf("%w: application %q must name a known account", ErrInvalidFixture, app.UUID)
		}
		apps.Add(app.UUID)
	}
	for _, env := range f.Environments {
		if env.UUID == "" || !apps.Has(env.AppID) {
			return fmt.Errorf("%w: environment %q must name a known application", ErrInvalidFixture, env.UUID)
		}
		if env.Type != rbac.EnvironmentProd && env.Type != rbac.EnvironmentNonProd {
			return fmt.Errorf("%w: environment %q has type %q", ErrInvalidFixture, env.UUID, env.Type)
		}
	}
	users := make(rbac.StringSet)
	for _, u := range f.Users {
		if u.UUID == "" {
			return fmt.Errorf("%w: user without uuid", ErrInvalidFixture)
		}
		users.Add(u.UUID)
	}
	for _, g := range f.UserGroups {
		if !accounts.Has(g.AccountID) {
			return fmt.Errorf("%w: user group %q must name a known account", ErrInvalidFixture, g.UUID)
		}
	}
	for _, s := range f.Support {
		if !users.Has(s.UserID) {
			return fmt.Errorf("%w: support grant for unknown user %q", ErrInvalidFixture, s.UserID)
		}
	}
	for _, e := range f.Entities {
		if e.UUID == "" || !accounts.Has(e.AccountID) {
			return fmt.Errorf("%w: entity %q must name a known account", ErrInvalidFixture, e.UUID)
		}
		if !slices.Contains([]restrictions.EntityKind{restrictions.KindSetting, restrictions.KindSecret, restrictions.KindSecretManager}, e.Kind) {
			return fmt.Errorf("%w: entity %q has kind %q", ErrInvalidFixture, e.UUID, e.Kind)
		}
	}
	return nil
}
