// Package rbac models the permission grants of a multi-tenant deployment
// platform and makes access decisions from them.
//
// # Overview
//
// Principals reach resources through two paths:
//
//   - Roles carry fine-grained permissions scoped to an app, an environment,
//     or the account. Engine.Authorize matches the required attributes
//     against them.
//   - User groups carry AppPermissions (a permission type, an app filter, an
//     entity filter, and a set of actions) plus account permissions. Builder
//     folds them into a UserPermissionInfo, one AppPermissionSummary per app,
//     and Engine.AuthorizeEntity answers checks from that snapshot.
//
// # Decision semantics
//
// Role checks are conjunctive across required attributes and disjunctive
// across roles. Account administrators pass once the account and app exist.
//
// Summary checks map CREATE to per-app flags, and other actions to sets of
// entity ids. A permission type without a handler for the requested action is
// reported as ErrMisconfiguredPermissionType, never as a denial.
//
// # Usage
//
//	builder := rbac.NewBuilder(catalog, logger)
//	info, err := builder.Build(ctx, accountID, groups)
//	if err != nil {
//	    return err
//	}
//
//	engine := rbac.NewEngine(accounts, apps, envs, nil, logger)
//	err = engine.AuthorizeEntity(ctx, rbac.EntityRequest{
//	    AccountID: accountID,
//	    AppID:     appID,
//	    EntityID:  serviceID,
//	    User:      user,
//	    Info:      info,
//	    Required:  []rbac.PermissionAttribute{{PermissionType: rbac.PermissionService, Action: rbac.ActionRead}},
//	})
//	if errors.Is(err, rbac.ErrAccessDenied) {
//	    // 403
//	}
//
// Snapshots are immutable once built; callers replace them instead of
// modifying them.
package rbac
