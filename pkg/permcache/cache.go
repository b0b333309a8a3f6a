package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/rbac"
)

// Loader computes the snapshots the cache holds
type Loader interface {
	LoadUserPermissionInfo(ctx context.Context, accountID string, user *rbac.User) (*rbac.UserPermissionInfo, error)
	LoadUserRestrictionInfo(ctx context.Context, accountID string, user *rbac.User, info *rbac.UserPermissionInfo) (*rbac.UserRestrictionInfo, error)
}

// UserLookup resolves users whose entries are rebuilt in the background
type UserLookup interface {
	UserByID(ctx context.Context, userID string) (*rbac.User, error)
}

// Cache holds per-user permission and restriction snapshots. Store failures
// are logged and the snapshot is recomputed; they never fail a request.
//
// Every eviction bumps the generation of its account. A snapshot loaded
// under an older generation is returned to its callers but never cached.
type Cache struct {
	store   Store
	loader  Loader
	users   UserLookup
	pool    *async.WorkerPool
	metrics *Metrics
	log     *logrus.Logger
	group   singleflight.Group
	noDedup bool

	mu   sync.Mutex
	gens map[string]uint64
}

// Option configures a Cache
type Option func(*Cache)

// WithRebuildPool enables background rebuilds after an account eviction
func WithRebuildPool(pool *async.WorkerPool, users UserLookup) Option {
	return func(c *Cache) {
		c.pool = pool
		c.users = users
	}
}

// WithMetrics sets the metrics the cache reports to
func WithMetrics(m *Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithSingleflight toggles de-duplication of concurrent misses for the same
// key. It is on by default.
func WithSingleflight(enabled bool) Option {
	return func(c *Cache) {
		c.noDedup = !enabled
	}
}

// New creates a cache over store
func New(store Store, loader Loader, log *logrus.Logger, opts ...Option) *Cache {
	if log == nil {
		log = logrus.New()
	}
	c := &Cache{store: store, loader: loader, log: log, gens: make(map[string]uint64)}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = NewMetrics(nil)
	}
	return c
}

// get decodes the value at key into v. It reports false on a miss or on any
// failure; corrupt values are deleted.
func (c *Cache) get(ctx context.Context, namespace, key string, v any) bool {
	data, err := c.store.Get(ctx, key)
	if errors.Is(err, ErrCacheMiss) {
		c.metrics.MissesTotal.WithLabelValues(namespace).Inc()
		return false
	}
	if err != nil {
		c.metrics.ErrorsTotal.WithLabelValues(namespace, "get").Inc()
		c.log.WithError(err).WithField("key", key).Warn("Failed to read permission cache")
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.metrics.ErrorsTotal.WithLabelValues(namespace, "decode").Inc()
		c.log.WithError(err).WithField("key", key).Warn("Dropping corrupt permission cache entry")
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("Failed to delete corrupt permission cache entry")
		}
		return false
	}
	c.metrics.HitsTotal.WithLabelValues(namespace).Inc()
	return true
}

func (c *Cache) set(ctx context.Context, namespace, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.metrics.ErrorsTotal.WithLabelValues(namespace, "encode").Inc()
		c.log.WithError(err).WithField("key", key).Warn("Failed to encode permission cache entry")
		return
	}
	if err := c.store.Set(ctx, key, data); err != nil {
		c.metrics.ErrorsTotal.WithLabelValues(namespace, "set").Inc()
		c.log.WithError(err).WithField("key", key).Warn("Failed to write permission cache")
	}
}

func (c *Cache) generation(accountID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[accountID]
}

func (c *Cache) bump(accountID string) {
	c.mu.Lock()
	c.gens[accountID]++
	c.mu.Unlock()
}

// setCurrent caches v unless accountID was evicted after gen was read. An
// eviction racing the write is caught by the second check.
func (c *Cache) setCurrent(ctx context.Context, namespace, accountID, key string, gen uint64, v any) {
	if c.generation(accountID) != gen {
		c.metrics.StaleTotal.WithLabelValues(namespace).Inc()
		return
	}
	c.set(ctx, namespace, key, v)
	if c.generation(accountID) != gen {
		c.metrics.StaleTotal.WithLabelValues(namespace).Inc()
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.WithError(err).WithField("key", key).Warn("Failed to drop stale permission cache entry")
		}
	}
}

// load runs fn once per key and generation. The shared load does not inherit
// the cancellation of whichever caller started it; each caller stops waiting
// when its own ctx is done.
func (c *Cache) load(ctx context.Context, key string, gen uint64, fn func(context.Context) (any, error)) (any, error) {
	if c.noDedup {
		return fn(ctx)
	}
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) has(ctx context.Context, key string) bool {
	_, err := c.store.Get(ctx, key)
	return err == nil
}

// UserPermissionInfo returns the permission snapshot of a user. On a miss it
// is computed and cached, unless cacheOnly is set, in which case nil is
// returned.
func (c *Cache) UserPermissionInfo(ctx context.Context, accountID string, user *rbac.User, cacheOnly bool) (*rbac.UserPermissionInfo, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", rbac.ErrInvalidRequest)
	}
	key := PermissionKey(accountID, user.UUID)

	var info rbac.UserPermissionInfo
	if c.get(ctx, PermissionNamespace, key, &info) {
		return &info, nil
	}
	if cacheOnly {
		return nil, nil
	}

	gen := c.generation(accountID)
	v, err := c.load(ctx, key, gen, func(ctx context.Context) (any, error) {
		info, err := c.loader.LoadUserPermissionInfo(ctx, accountID, user)
		if err != nil {
			return nil, err
		}
		c.setCurrent(ctx, PermissionNamespace, accountID, key, gen, info)
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rbac.UserPermissionInfo), nil
}

// UserRestrictionInfo returns the restriction snapshot of a user, computed
// from info on a miss.
func (c *Cache) UserRestrictionInfo(ctx context.Context, accountID string, user *rbac.User, info *rbac.UserPermissionInfo, cacheOnly bool) (*rbac.UserRestrictionInfo, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", rbac.ErrInvalidRequest)
	}
	key := RestrictionKey(accountID, user.UUID)

	var restrictions rbac.UserRestrictionInfo
	if c.get(ctx, RestrictionNamespace, key, &restrictions) {
		return &restrictions, nil
	}
	if cacheOnly {
		return nil, nil
	}

	gen := c.generation(accountID)
	v, err := c.load(ctx, key, gen, func(ctx context.Context) (any, error) {
		restrictions, err := c.loader.LoadUserRestrictionInfo(ctx, accountID, user, info)
		if err != nil {
			return nil, err
		}
		c.setCurrent(ctx, RestrictionNamespace, accountID, key, gen, restrictions)
		return restrictions, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*rbac.UserRestrictionInfo), nil
}

// Update recomputes both snapshots of a user and replaces them. With
// cacheOnly set only snapshots that are already cached are refreshed.
func (c *Cache) Update(ctx context.Context, accountID string, user *rbac.User, cacheOnly bool) error {
	if user == nil {
		return fmt.Errorf("%w: user is required", rbac.ErrInvalidRequest)
	}
	permKey := PermissionKey(accountID, user.UUID)
	restrKey := RestrictionKey(accountID, user.UUID)
	refreshPerm := !cacheOnly || c.has(ctx, permKey)
	refreshRestr := !cacheOnly || c.has(ctx, restrKey)
	if !refreshPerm && !refreshRestr {
		return nil
	}

	gen := c.generation(accountID)
	info, err := c.loader.LoadUserPermissionInfo(ctx, accountID, user)
	if err != nil {
		return err
	}
	if refreshPerm {
		c.setCurrent(ctx, PermissionNamespace, accountID, permKey, gen, info)
	}
	if refreshRestr {
		restrictions, err := c.loader.LoadUserRestrictionInfo(ctx, accountID, user, info)
		if err != nil {
			return err
		}
		c.setCurrent(ctx, RestrictionNamespace, accountID, restrKey, gen, restrictions)
	}
	return nil
}

// Evict removes both snapshots of the given users in an account.
func (c *Cache) Evict(ctx context.Context, accountID string, memberIDs ...string) error {
	if len(memberIDs) == 0 {
		return nil
	}
	c.bump(accountID)
	keys := make([]string, 0, 2*len(memberIDs))
	for _, id := range memberIDs {
		keys = append(keys, PermissionKey(accountID, id), RestrictionKey(accountID, id))
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		c.metrics.ErrorsTotal.WithLabelValues("", "delete").Inc()
		return fmt.Errorf("failed to evict users of account %s: %w", accountID, err)
	}
	return nil
}

// EvictAccounts evicts the given users in every account.
func (c *Cache) EvictAccounts(ctx context.Context, accountIDs []string, memberIDs []string) error {
	var errs []error
	for _, accountID := range accountIDs {
		if err := c.Evict(ctx, accountID, memberIDs...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvictGroup evicts the members of a user group.
func (c *Cache) EvictGroup(ctx context.Context, group rbac.UserGroup) error {
	return c.Evict(ctx, group.AccountID, group.MemberIDs...)
}

// EvictAccount clears every snapshot of an account. When a rebuild is
// requested, the previously cached users are recomputed in the background;
// the call does not wait for them.
func (c *Cache) EvictAccount(ctx context.Context, accountID string, rebuildPermissions, rebuildRestrictions bool) error {
	c.bump(accountID)
	userIDs := make(rbac.StringSet)
	for _, namespace := range []string{PermissionNamespace, RestrictionNamespace} {
		keys, err := c.store.Keys(ctx, accountPrefix(namespace, accountID))
		if err != nil {
			c.log.WithError(err).WithField("accountId", accountID).Warn("Failed to list cached users")
			continue
		}
		for _, key := range keys {
			if id, ok := userIDFromKey(key); ok {
				userIDs.Add(id)
			}
		}
	}

	for _, namespace := range []string{PermissionNamespace, RestrictionNamespace} {
		if err := c.store.DeletePrefix(ctx, accountPrefix(namespace, accountID)); err != nil {
			c.metrics.ErrorsTotal.WithLabelValues(namespace, "delete").Inc()
			return fmt.Errorf("failed to evict account %s: %w", accountID, err)
		}
	}

	if !rebuildPermissions && !rebuildRestrictions {
		return nil
	}
	if c.pool == nil || c.users == nil {
		c.log.WithField("accountId", accountID).Debug("Skipping permission cache rebuild, no worker pool")
		return nil
	}
	for _, userID := range userIDs.Sorted() {
		userID := userID
		err := c.pool.Submit(func(ctx context.Context) error {
			return c.rebuild(ctx, accountID, userID, rebuildPermissions, rebuildRestrictions)
		})
		if err != nil {
			c.log.WithError(err).WithField("accountId", accountID).Warn("Failed to schedule permission cache rebuild")
			break
		}
	}
	return nil
}

func (c *Cache) rebuild(ctx context.Context, accountID, userID string, permissions, restrictions bool) error {
	user, err := c.users.UserByID(ctx, userID)
	if err != nil || user == nil {
		c.metrics.RebuildsTotal.WithLabelValues("skipped").Inc()
		return err
	}
	var info *rbac.UserPermissionInfo
	if permissions {
		info, err = c.UserPermissionInfo(ctx, accountID, user, false)
	} else {
		info, err = c.loader.LoadUserPermissionInfo(ctx, accountID, user)
	}
	if err != nil {
		c.metrics.RebuildsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("rebuild of %s for account %s failed: %w", userID, accountID, err)
	}
	if restrictions {
		if _, err := c.UserRestrictionInfo(ctx, accountID, user, info, false); err != nil {
			c.metrics.RebuildsTotal.WithLabelValues("failed").Inc()
			return fmt.Errorf("rebuild of %s for account %s failed: %w", userID, accountID, err)
		}
	}
	c.metrics.RebuildsTotal.WithLabelValues("succeeded").Inc()
	return nil
}
