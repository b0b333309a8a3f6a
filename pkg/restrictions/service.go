package restrictions

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/rbac"
)

// EntityKind names a kind of entity carrying usage restrictions
type EntityKind string

const (
	KindSetting       EntityKind = "SETTING"
	KindSecret        EntityKind = "SECRET"
	KindSecretManager EntityKind = "SECRET_MANAGER"
)

// RestrictedEntity is a shared entity scoped by usage restrictions
type RestrictedEntity struct {
	UUID                           string                  `json:"uuid" yaml:"uuid"`
	AccountID                      string                  `json:"account_id" yaml:"accountId"`
	Name                           string                  `json:"name" yaml:"name"`
	Kind                           EntityKind              `json:"kind" yaml:"kind"`
	Restrictions                   *rbac.UsageRestrictions `json:"usage_restrictions,omitempty" yaml:"usageRestrictions,omitempty"`
	ScopedToAccount                bool                    `json:"scoped_to_account,omitempty" yaml:"scopedToAccount,omitempty"`
	InheritScopesFromSecretManager bool                    `json:"inherit_scopes_from_secret_manager,omitempty" yaml:"inheritScopesFromSecretManager,omitempty"`
}

// EntityStore reads and writes the restrictions of shared entities
type EntityStore interface {
	ListRestricted(ctx context.Context, accountID string, kinds ...EntityKind) ([]RestrictedEntity, error)
	UpdateRestrictions(ctx context.Context, accountID, uuid string, kind EntityKind, r *rbac.UsageRestrictions) error
}

// Client selects which entity kinds a purge visits
type Client string

const (
	ClientAll               Client = "ALL"
	ClientConnectors        Client = "CONNECTORS"
	ClientSecretsManagement Client = "SECRETS_MANAGEMENT"
)

func (c Client) kinds() ([]EntityKind, error) {
	switch c {
	case ClientAll, "":
		return []EntityKind{KindSetting, KindSecret, KindSecretManager}, nil
	case ClientConnectors:
		return []EntityKind{KindSetting}, nil
	case ClientSecretsManagement:
		return []EntityKind{KindSecret, KindSecretManager}, nil
	}
	return nil, fmt.Errorf("%w: unknown client %q", rbac.ErrInvalidRequest, c)
}

// Principal is the user on whose behalf restrictions are checked. A nil
// Principal is an internal caller and passes every check.
type Principal struct {
	AccountID      string
	IsAccountAdmin bool
	Permissions    *rbac.UserPermissionInfo
	Restrictions   *rbac.UserRestrictionInfo
}

func (p *Principal) updateRestrictions() *rbac.UsageRestrictions {
	if p == nil || p.Restrictions == nil {
		return nil
	}
	return p.Restrictions.UsageRestrictionsForUpdateAction
}

func (p *Principal) updateAppEnvMap() map[string]rbac.StringSet {
	if p == nil || p.Restrictions == nil {
		return nil
	}
	return p.Restrictions.AppEnvMapForUpdateAction
}

func (p *Principal) hasAccountPermission(permType rbac.PermissionType) bool {
	return p.IsAccountAdmin || p.Permissions.HasAccountPermission(permType)
}

// Service validates and maintains the usage restrictions of shared entities
type Service struct {
	store   EntityStore
	catalog rbac.EntityCatalog
	log     *logrus.Logger
}

// NewService creates a restrictions service
func NewService(store EntityStore, catalog rbac.EntityCatalog, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{store: store, catalog: catalog, log: log}
}

// Index loads the apps and environments of an account.
func (s *Service) Index(ctx context.Context, accountID string) (AppEnvIndex, error) {
	appIDs, err := s.catalog.AppIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	envs, err := s.catalog.Environments(ctx, accountID, appIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to list environments: %w", err)
	}
	return NewAppEnvIndex(appIDs, envs), nil
}

func checkScoped(accountID string, r *rbac.UsageRestrictions, scopedToAccount bool) error {
	if scopedToAccount && !r.IsEmpty() {
		return invalid("Non null restrictions are not allowed when scoping entity to account for accountId %s", accountID)
	}
	return Validate(r)
}

// ValidateOnSave checks that the principal may create an entity with the
// given restrictions.
func (s *Service) ValidateOnSave(ctx context.Context, p *Principal, permType rbac.PermissionType, r *rbac.UsageRestrictions, scopedToAccount bool) error {
	if p == nil {
		return nil
	}
	if err := checkScoped(p.AccountID, r, scopedToAccount); err != nil {
		return err
	}
	if !scopedToAccount && r.IsEmpty() {
		if p.updateRestrictions().IsEmpty() {
			return rbac.ErrNotAuthorizedDueToUsageRestrictions
		}
		return nil
	}
	if scopedToAccount && !(p.hasAccountPermission(permType) || HasAllEnvAccess(p.updateRestrictions())) {
		return rbac.ErrNotAccountMgrNorHasAllAppAccess
	}
	ok, err := s.CanChange(ctx, p, permType, r, scopedToAccount)
	if err != nil {
		return err
	}
	if !ok {
		s.log.WithFields(logrus.Fields{
			"accountId":       p.AccountID,
			"scopedToAccount": scopedToAccount,
		}).Warn("User not authorized to save entity with usage restrictions")
		return rbac.ErrNotAuthorizedDueToUsageRestrictions
	}
	return nil
}

// ValidateOnUpdate checks that the principal may change an entity's
// restrictions from old to updated. Both must be within the principal's
// update scopes.
func (s *Service) ValidateOnUpdate(ctx context.Context, p *Principal, permType rbac.PermissionType, old, updated *rbac.UsageRestrictions, scopedToAccount bool) error {
	if p == nil {
		return nil
	}
	if err := checkScoped(p.AccountID, updated, scopedToAccount); err != nil {
		return err
	}
	if scopedToAccount && !(p.hasAccountPermission(permType) || HasAllEnvAccess(p.updateRestrictions())) {
		return rbac.ErrNotAccountMgrNorHasAllAppAccess
	}
	if !scopedToAccount && updated.IsEmpty() && p.updateRestrictions().IsEmpty() {
		return rbac.ErrNotAuthorizedDueToUsageRestrictions
	}
	for _, r := range []*rbac.UsageRestrictions{old, updated} {
		ok, err := s.CanChange(ctx, p, permType, r, scopedToAccount)
		if err != nil {
			return err
		}
		if !ok {
			s.log.WithField("accountId", p.AccountID).Warn("User not authorized to update entity usage restrictions")
			return rbac.ErrNotAuthorizedDueToUsageRestrictions
		}
	}
	return nil
}

// CanChange reports whether the principal may create, update, or delete an
// entity carrying r.
func (s *Service) CanChange(ctx context.Context, p *Principal, permType rbac.PermissionType, r *rbac.UsageRestrictions, scopedToAccount bool) (bool, error) {
	if p == nil {
		return true, nil
	}
	req := ChangeRequest{
		EntityRestrictions:   r,
		UserRestrictions:     p.updateRestrictions(),
		UserAppEnvMap:        p.updateAppEnvMap(),
		ScopedToAccount:      scopedToAccount,
		HasAccountPermission: p.hasAccountPermission(permType),
	}
	if !scopedToAccount && !r.IsEmpty() {
		idx, err := s.Index(ctx, p.AccountID)
		if err != nil {
			return false, err
		}
		req.AppEnvIndex = idx
	}
	return UserHasPermissionsToChangeEntity(req), nil
}

// HasAccess reports whether the principal may use an entity in the given app
// and environment.
func (s *Service) HasAccess(ctx context.Context, p *Principal, accountID, appID, envID string, forUsageInNewApp bool, entity *rbac.UsageRestrictions, scopedToAccount bool) (bool, error) {
	idx, err := s.Index(ctx, accountID)
	if err != nil {
		return false, err
	}
	req := AccessRequest{
		AccountID:          accountID,
		AppID:              appID,
		EnvID:              envID,
		ForUsageInNewApp:   forUsageInNewApp,
		EntityRestrictions: entity,
		AppEnvIndex:        idx,
		ScopedToAccount:    scopedToAccount,
		Internal:           p == nil,
	}
	if p != nil {
		req.IsAccountAdmin = p.IsAccountAdmin
		if p.Restrictions != nil {
			req.UserRestrictions = p.Restrictions.UsageRestrictionsForReadAction
			req.UserAppEnvMap = p.Restrictions.AppEnvMapForReadAction
		}
	}
	return HasAccess(req), nil
}

// MaximumAllowedForUser narrows restrictions to what the principal may
// update. A principal without update scopes gets empty restrictions.
func (s *Service) MaximumAllowedForUser(ctx context.Context, p *Principal, r *rbac.UsageRestrictions) (*rbac.UsageRestrictions, error) {
	if p == nil || r.IsEmpty() {
		return r, nil
	}
	user := p.updateRestrictions()
	if user.IsEmpty() {
		return &rbac.UsageRestrictions{AppEnvRestrictions: []rbac.AppEnvRestriction{}}, nil
	}
	idx, err := s.Index(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	return CommonRestrictions(r, user, idx), nil
}

// ListAppsWithEnvUpdatePermissions summarizes where the principal may scope
// new entities.
func (s *Service) ListAppsWithEnvUpdatePermissions(ctx context.Context, p *Principal) (*RestrictionsSummary, error) {
	user := p.updateRestrictions()
	if user == nil {
		return &RestrictionsSummary{}, nil
	}
	apps, err := s.catalog.Applications(ctx, p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list apps: %w", err)
	}
	appIDs := make([]string, 0, len(apps))
	for _, app := range apps {
		appIDs = append(appIDs, app.UUID)
	}
	var envs []rbac.Environment
	if len(appIDs) > 0 {
		if envs, err = s.catalog.Environments(ctx, p.AccountID, appIDs); err != nil {
			return nil, fmt.Errorf("failed to list environments: %w", err)
		}
	}
	return BuildRestrictionsSummary(user, p.updateAppEnvMap(), apps, envs), nil
}

// RemoveAppEnvReferences removes a deleted app, or environment when envID is
// set, from every entity of the account and returns the number of entities
// changed.
func (s *Service) RemoveAppEnvReferences(ctx context.Context, accountID, appID, envID string) (int, error) {
	entities, err := s.store.ListRestricted(ctx, accountID, KindSetting, KindSecret, KindSecretManager)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, e := range entities {
		updated, count := RemoveAppEnvReferences(e.Restrictions, appID, envID)
		if count == 0 {
			continue
		}
		if err := s.store.UpdateRestrictions(ctx, accountID, e.UUID, e.Kind, updated); err != nil {
			return changed, fmt.Errorf("failed to update %s %s: %w", e.Kind, e.UUID, err)
		}
		changed++
	}
	s.log.WithFields(logrus.Fields{
		"accountId": accountID,
		"appId":     appID,
		"envId":     envID,
		"changed":   changed,
	}).Info("Removed app/env references from usage restrictions")
	return changed, nil
}

// PurgeDanglingAppEnvReferences removes references to apps and environments
// that no longer exist and returns the number of entities changed.
func (s *Service) PurgeDanglingAppEnvReferences(ctx context.Context, accountID string, client Client) (int, error) {
	kinds, err := client.kinds()
	if err != nil {
		return 0, err
	}
	idx, err := s.Index(ctx, accountID)
	if err != nil {
		return 0, err
	}
	entities, err := s.store.ListRestricted(ctx, accountID, kinds...)
	if err != nil {
		return 0, err
	}
	apps, envs := idx.AppIDs(), idx.EnvIDs()
	changed := 0
	for _, e := range entities {
		if e.Kind == KindSecret && (e.InheritScopesFromSecretManager || e.ScopedToAccount) {
			continue
		}
		updated, count := PurgeDanglingReferences(e.Restrictions, apps, envs)
		if count == 0 {
			continue
		}
		if err := s.store.UpdateRestrictions(ctx, accountID, e.UUID, e.Kind, updated); err != nil {
			return changed, fmt.Errorf("failed to update %s %s: %w", e.Kind, e.UUID, err)
		}
		changed++
	}
	if changed > 0 {
		s.log.WithFields(logrus.Fields{
			"accountId": accountID,
			"client":    client,
			"changed":   changed,
		}).Info("Purged dangling app/env references")
	}
	return changed, nil
}

// ReferenceSummaryForApp counts the settings and secrets selecting the app.
func (s *Service) ReferenceSummaryForApp(ctx context.Context, accountID, appID string) (*ReferenceSummary, error) {
	return s.referenceSummary(ctx, accountID, func(r *rbac.UsageRestrictions) bool {
		return referencesApp(r, appID)
	})
}

// ReferenceSummaryForEnv counts the settings and secrets selecting the environment.
func (s *Service) ReferenceSummaryForEnv(ctx context.Context, accountID, envID string) (*ReferenceSummary, error) {
	return s.referenceSummary(ctx, accountID, func(r *rbac.UsageRestrictions) bool {
		return referencesEnv(r, envID)
	})
}

func (s *Service) referenceSummary(ctx context.Context, accountID string, match func(*rbac.UsageRestrictions) bool) (*ReferenceSummary, error) {
	entities, err := s.store.ListRestricted(ctx, accountID, KindSetting, KindSecret)
	if err != nil {
		return nil, err
	}
	out := &ReferenceSummary{}
	for _, e := range entities {
		if match(e.Restrictions) {
			out.add(e)
		}
	}
	return out, nil
}
