package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/permcache"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// Dependencies are the collaborators of a Service. Support and Membership
// are optional; without them the support bypass is disabled.
type Dependencies struct {
	Engine       *rbac.Engine
	Builder      *rbac.Builder
	Groups       rbac.UserGroupProvider
	Support      rbac.SupportUserLookup
	Membership   rbac.MembershipLookup
	Catalog      rbac.EntityCatalog
	Restrictions *restrictions.Service
}

func (d Dependencies) validate() error {
	switch {
	case d.Engine == nil:
		return fmt.Errorf("%w: engine is required", rbac.ErrInvalidRequest)
	case d.Builder == nil:
		return fmt.Errorf("%w: builder is required", rbac.ErrInvalidRequest)
	case d.Groups == nil:
		return fmt.Errorf("%w: user group provider is required", rbac.ErrInvalidRequest)
	case d.Catalog == nil:
		return fmt.Errorf("%w: entity catalog is required", rbac.ErrInvalidRequest)
	case d.Restrictions == nil:
		return fmt.Errorf("%w: restrictions service is required", rbac.ErrInvalidRequest)
	}
	return nil
}

// Service answers authorization questions for request handlers
type Service struct {
	deps    Dependencies
	cache   *permcache.Cache
	tracer  trace.Tracer
	metrics *Metrics
	log     *logrus.Logger
}

type options struct {
	metrics   *Metrics
	tracer    trace.Tracer
	cacheOpts []permcache.Option
}

// Option configures a Service
type Option func(*options)

// WithMetrics sets the metrics decisions are counted in
func WithMetrics(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithTracer overrides the global tracer
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithCacheOptions passes options to the permission cache
func WithCacheOptions(opts ...permcache.Option) Option {
	return func(o *options) {
		o.cacheOpts = append(o.cacheOpts, opts...)
	}
}

// NewService creates the authorization service. Snapshots are cached in
// store; the service itself computes them on a miss.
func NewService(deps Dependencies, store permcache.Store, log *logrus.Logger, opts ...Option) (*Service, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: cache store is required", rbac.ErrInvalidRequest)
	}
	if log == nil {
		log = logrus.New()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer("warden/authz")
	}

	s := &Service{deps: deps, tracer: o.tracer, metrics: o.metrics, log: log}
	s.cache = permcache.New(store, s, log, o.cacheOpts...)
	return s, nil
}

func (s *Service) finish(span trace.Span, operation string, err error) {
	s.metrics.record(operation, err)
	span.SetAttributes(attribute.String("authz.outcome", outcome(err)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, rbac.ErrorCode(err))
	}
}

// Authorize checks the user's roles for the required attributes.
func (s *Service) Authorize(ctx context.Context, accountID, appID, envID string, user *rbac.User, required []rbac.PermissionAttribute, info *rbac.UserRequestInfo) error {
	ctx, span := s.tracer.Start(ctx, "Authorize",
		trace.WithAttributes(
			attribute.String("account.id", accountID),
			attribute.String("app.id", appID),
			attribute.String("env.id", envID),
		),
	)
	defer span.End()

	err := s.deps.Engine.Authorize(ctx, rbac.AuthorizeRequest{
		AccountID:   accountID,
		AppID:       appID,
		EnvID:       envID,
		User:        user,
		Required:    required,
		RequestInfo: info,
	})
	s.finish(span, "authorize", err)
	return err
}

// AuthorizeEntity checks the caller's permission summary for one entity.
// With matchAny a single granted attribute suffices.
func (s *Service) AuthorizeEntity(ctx context.Context, rc *RequestContext, appID, entityID string, required []rbac.PermissionAttribute, matchAny bool) error {
	ctx, span := s.tracer.Start(ctx, "AuthorizeEntity",
		trace.WithAttributes(
			attribute.String("app.id", appID),
			attribute.String("entity.id", entityID),
			attribute.Bool("match_any", matchAny),
		),
	)
	defer span.End()

	if rc == nil {
		err := fmt.Errorf("%w: request context is required", rbac.ErrInvalidRequest)
		s.finish(span, "authorize_entity", err)
		return err
	}
	span.SetAttributes(attribute.String("account.id", rc.AccountID))
	if err := s.ensurePermissionInfo(ctx, rc); err != nil {
		s.finish(span, "authorize_entity", err)
		return err
	}

	err := s.deps.Engine.AuthorizeEntity(ctx, rbac.EntityRequest{
		AccountID:    rc.AccountID,
		AppID:        appID,
		EntityID:     entityID,
		User:         rc.User,
		Info:         rc.PermissionInfo,
		Required:     required,
		MatchAny:     matchAny,
		CheckAccount: true,
	})
	s.finish(span, "authorize_entity", err)
	return err
}

// EntityIDs returns the ids of entities of the given apps the caller may
// access with the required attributes.
func (s *Service) EntityIDs(ctx context.Context, rc *RequestContext, required []rbac.PermissionAttribute, appIDs []string) (rbac.StringSet, error) {
	if rc == nil {
		return nil, fmt.Errorf("%w: request context is required", rbac.ErrInvalidRequest)
	}
	if err := s.ensurePermissionInfo(ctx, rc); err != nil {
		return nil, err
	}
	return rbac.EntityIDs(required, rc.PermissionInfo, appIDs), nil
}

func (s *Service) ensurePermissionInfo(ctx context.Context, rc *RequestContext) error {
	if rc.PermissionInfo != nil || rc.User == nil {
		return nil
	}
	info, err := s.cache.UserPermissionInfo(ctx, rc.AccountID, rc.User, false)
	if err != nil {
		return err
	}
	rc.PermissionInfo = info
	return nil
}

// UserPermissionInfo returns the permission snapshot of a user, computing it
// on a miss unless cacheOnly is set.
func (s *Service) UserPermissionInfo(ctx context.Context, accountID string, user *rbac.User, cacheOnly bool) (*rbac.UserPermissionInfo, error) {
	return s.cache.UserPermissionInfo(ctx, accountID, user, cacheOnly)
}

// UserRestrictionInfo returns the restriction snapshot of a user, computing
// it from info on a miss unless cacheOnly is set.
func (s *Service) UserRestrictionInfo(ctx context.Context, accountID string, user *rbac.User, info *rbac.UserPermissionInfo, cacheOnly bool) (*rbac.UserRestrictionInfo, error) {
	return s.cache.UserRestrictionInfo(ctx, accountID, user, info, cacheOnly)
}

// NewRequestContext loads both snapshots of a user through the cache.
func (s *Service) NewRequestContext(ctx context.Context, accountID string, user *rbac.User) (*RequestContext, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", rbac.ErrInvalidRequest)
	}
	info, err := s.cache.UserPermissionInfo(ctx, accountID, user, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load permissions of user %s: %w", user.UUID, err)
	}
	restrictionInfo, err := s.cache.UserRestrictionInfo(ctx, accountID, user, info, false)
	if err != nil {
		return nil, fmt.Errorf("failed to load restrictions of user %s: %w", user.UUID, err)
	}
	return &RequestContext{
		User:            user,
		AccountID:       accountID,
		PermissionInfo:  info,
		RestrictionInfo: restrictionInfo,
	}, nil
}

// Warm loads the snapshots of users into the cache, at most workers at a
// time, and returns the failures.
func (s *Service) Warm(ctx context.Context, accountID string, users []*rbac.User, workers int, timeout time.Duration) []error {
	return async.Batch(ctx, users, workers, "warm-permission-cache", timeout,
		func(ctx context.Context, user *rbac.User) error {
			_, err := s.NewRequestContext(ctx, accountID, user)
			return err
		})
}

// RefreshUser recomputes the snapshots of a user. With cacheOnly set only
// snapshots already cached are refreshed.
func (s *Service) RefreshUser(ctx context.Context, accountID string, user *rbac.User, cacheOnly bool) error {
	return s.cache.Update(ctx, accountID, user, cacheOnly)
}

// HasAccess reports whether the caller may use an entity with the given
// restrictions in the app and environment. It fails closed.
func (s *Service) HasAccess(ctx context.Context, rc *RequestContext, appID, envID string, forUsageInNewApp bool, entity *rbac.UsageRestrictions, scopedToAccount bool) bool {
	if rc == nil {
		s.metrics.recordBool("has_access", false)
		return false
	}
	ok, err := s.deps.Restrictions.HasAccess(ctx, rc.Principal(), rc.AccountID, appID, envID, forUsageInNewApp, entity, scopedToAccount)
	if err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"accountId": rc.AccountID,
			"appId":     appID,
			"envId":     envID,
		}).Error("Usage restriction check failed")
		s.metrics.DecisionsTotal.WithLabelValues("has_access", OutcomeError).Inc()
		return false
	}
	s.metrics.recordBool("has_access", ok)
	return ok
}

// UserHasPermissionsToChangeEntity reports whether the caller may create,
// update, or delete an entity with the given restrictions. It fails closed.
func (s *Service) UserHasPermissionsToChangeEntity(ctx context.Context, rc *RequestContext, permType rbac.PermissionType, r *rbac.UsageRestrictions, scopedToAccount bool) bool {
	if rc == nil {
		s.metrics.recordBool("change_entity", false)
		return false
	}
	ok, err := s.deps.Restrictions.CanChange(ctx, rc.Principal(), permType, r, scopedToAccount)
	if err != nil {
		s.log.WithError(err).WithField("accountId", rc.AccountID).Error("Usage restriction check failed")
		s.metrics.DecisionsTotal.WithLabelValues("change_entity", OutcomeError).Inc()
		return false
	}
	s.metrics.recordBool("change_entity", ok)
	return ok
}

// ValidateUsageRestrictionsOnSave checks that the caller may create an entity
// with the given restrictions.
func (s *Service) ValidateUsageRestrictionsOnSave(ctx context.Context, rc *RequestContext, permType rbac.PermissionType, r *rbac.UsageRestrictions, scopedToAccount bool) error {
	err := s.deps.Restrictions.ValidateOnSave(ctx, rc.Principal(), permType, r, scopedToAccount)
	s.metrics.record("validate_on_save", err)
	return err
}

// ValidateUsageRestrictionsOnUpdate checks that the caller may change an
// entity's restrictions from old to updated.
func (s *Service) ValidateUsageRestrictionsOnUpdate(ctx context.Context, rc *RequestContext, permType rbac.PermissionType, old, updated *rbac.UsageRestrictions, scopedToAccount bool) error {
	err := s.deps.Restrictions.ValidateOnUpdate(ctx, rc.Principal(), permType, old, updated, scopedToAccount)
	s.metrics.record("validate_on_update", err)
	return err
}

// MaximumAllowedUsageRestrictions narrows r to what the caller may update.
func (s *Service) MaximumAllowedUsageRestrictions(ctx context.Context, rc *RequestContext, r *rbac.UsageRestrictions) (*rbac.UsageRestrictions, error) {
	return s.deps.Restrictions.MaximumAllowedForUser(ctx, rc.Principal(), r)
}

// DefaultUsageRestrictions returns the restrictions a new entity created by
// the caller gets when none are given.
func (s *Service) DefaultUsageRestrictions(ctx context.Context, rc *RequestContext, appID, envID string) (*rbac.UsageRestrictions, error) {
	if rc == nil || rc.User == nil {
		return nil, nil
	}
	var envFilters []*rbac.EnvFilter
	if appID != "" && envID == "" {
		groups, err := s.UserGroups(ctx, rc.AccountID, rc.User)
		if err != nil {
			return nil, err
		}
		appIDs, err := s.deps.Catalog.AppIDs(ctx, rc.AccountID)
		if err != nil {
			return nil, fmt.Errorf("failed to list apps: %w", err)
		}
		if envFilters, err = restrictions.EnvFiltersForApp(appID, groups, rbac.NewStringSet(appIDs...)); err != nil {
			return nil, err
		}
	}
	var user *rbac.UsageRestrictions
	if rc.RestrictionInfo != nil {
		user = rc.RestrictionInfo.UsageRestrictionsForUpdateAction
	}
	return restrictions.DefaultUsageRestrictions(appID, envID, envFilters, user), nil
}

// ListAppsWithEnvUpdatePermissions summarizes where the caller may scope new
// entities.
func (s *Service) ListAppsWithEnvUpdatePermissions(ctx context.Context, rc *RequestContext) (*restrictions.RestrictionsSummary, error) {
	ctx, span := s.tracer.Start(ctx, "ListAppsWithEnvUpdatePermissions")
	defer span.End()

	summary, err := s.deps.Restrictions.ListAppsWithEnvUpdatePermissions(ctx, rc.Principal())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to summarize restrictions")
		return nil, err
	}
	return summary, nil
}

// EvictUserPermissionAndRestrictionCacheForAccount clears every snapshot of
// an account, optionally rebuilding them in the background.
func (s *Service) EvictUserPermissionAndRestrictionCacheForAccount(ctx context.Context, accountID string, rebuildPermissions, rebuildRestrictions bool) error {
	return s.cache.EvictAccount(ctx, accountID, rebuildPermissions, rebuildRestrictions)
}

// EvictUsers removes the snapshots of the given users in an account.
func (s *Service) EvictUsers(ctx context.Context, accountID string, memberIDs ...string) error {
	return s.cache.Evict(ctx, accountID, memberIDs...)
}

// EvictAccounts removes the snapshots of the given users in every account.
func (s *Service) EvictAccounts(ctx context.Context, accountIDs, memberIDs []string) error {
	return s.cache.EvictAccounts(ctx, accountIDs, memberIDs)
}

// EvictGroup removes the snapshots of the members of a user group.
func (s *Service) EvictGroup(ctx context.Context, group rbac.UserGroup) error {
	return s.cache.EvictGroup(ctx, group)
}
