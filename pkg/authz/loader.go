package authz

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// DefaultSupportActions are the app actions granted to support users.
func DefaultSupportActions() rbac.ActionSet {
	return rbac.NewActionSet(
		rbac.ActionRead,
		rbac.ActionUpdate,
		rbac.ActionDelete,
		rbac.ActionCreate,
		rbac.ActionExecutePipeline,
		rbac.ActionExecuteWorkflow,
		rbac.ActionExecuteWorkflowRollback,
		rbac.ActionAbortWorkflow,
	)
}

// supportGroup is the synthetic group a support user acts through in an
// account they are not a member of.
func supportGroup(accountID string, actions rbac.ActionSet) rbac.UserGroup {
	return rbac.UserGroup{
		Name:      "Support",
		AccountID: accountID,
		AppPermissions: []rbac.AppPermission{{
			PermissionType: rbac.PermissionAllAppEntities,
			AppFilter:      &rbac.AppFilter{FilterType: rbac.FilterAll},
			Actions:        actions,
		}},
		AccountPermissions: &rbac.AccountPermissions{Permissions: rbac.DefaultEnabledAccountPermissions()},
	}
}

// UserGroups returns the groups of a user in an account. A support user with
// no groups who is not a member of the account gets a synthetic group with
// the actions support is allowed in that account.
func (s *Service) UserGroups(ctx context.Context, accountID string, user *rbac.User) ([]rbac.UserGroup, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", rbac.ErrInvalidRequest)
	}
	groups, err := s.deps.Groups.UserGroupsByAccountID(ctx, accountID, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list user groups: %w", err)
	}
	if len(groups) > 0 || s.deps.Support == nil || s.deps.Membership == nil {
		s.metrics.UserGroupsTotal.WithLabelValues("member").Inc()
		return groups, nil
	}

	assigned, err := s.deps.Membership.IsUserAssignedToAccount(ctx, user, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to check account membership: %w", err)
	}
	if assigned {
		s.metrics.UserGroupsTotal.WithLabelValues("member").Inc()
		return groups, nil
	}

	actions, err := s.deps.Support.ListAllowedActions(ctx, accountID, user.UUID)
	if err != nil {
		return nil, fmt.Errorf("failed to list support actions: %w", err)
	}
	if actions.IsEmpty() {
		s.metrics.UserGroupsTotal.WithLabelValues("none").Inc()
		return groups, nil
	}
	s.log.WithFields(logrus.Fields{
		"accountId": accountID,
		"userId":    user.UUID,
	}).Info("Granting support access")
	s.metrics.UserGroupsTotal.WithLabelValues("support").Inc()
	return []rbac.UserGroup{supportGroup(accountID, actions)}, nil
}

// LoadUserPermissionInfo builds the permission snapshot of a user from their
// groups.
func (s *Service) LoadUserPermissionInfo(ctx context.Context, accountID string, user *rbac.User) (*rbac.UserPermissionInfo, error) {
	ctx, span := s.tracer.Start(ctx, "BuildPermissionSummary",
		trace.WithAttributes(attribute.String("account.id", accountID)),
	)
	defer span.End()

	groups, err := s.UserGroups(ctx, accountID, user)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve user groups")
		return nil, err
	}
	span.SetAttributes(attribute.Int("user_groups", len(groups)))

	info, err := s.deps.Builder.Build(ctx, accountID, groups)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build permission summary")
		return nil, err
	}
	return info, nil
}

// LoadUserRestrictionInfo derives the restriction snapshot of a user. A nil
// info is computed first.
func (s *Service) LoadUserRestrictionInfo(ctx context.Context, accountID string, user *rbac.User, info *rbac.UserPermissionInfo) (*rbac.UserRestrictionInfo, error) {
	ctx, span := s.tracer.Start(ctx, "BuildRestrictionSummary",
		trace.WithAttributes(attribute.String("account.id", accountID)),
	)
	defer span.End()

	fail := func(err error, msg string) (*rbac.UserRestrictionInfo, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, msg)
		return nil, err
	}

	if info == nil {
		var err error
		if info, err = s.LoadUserPermissionInfo(ctx, accountID, user); err != nil {
			return fail(err, "failed to build permission summary")
		}
	}
	groups, err := s.UserGroups(ctx, accountID, user)
	if err != nil {
		return fail(err, "failed to resolve user groups")
	}
	appIDs, err := s.deps.Catalog.AppIDs(ctx, accountID)
	if err != nil {
		return fail(fmt.Errorf("failed to list apps: %w", err), "failed to list apps")
	}
	restrictionInfo, err := restrictions.BuildUserRestrictionInfo(info, groups, rbac.NewStringSet(appIDs...))
	if err != nil {
		return fail(err, "failed to derive usage restrictions")
	}
	return restrictionInfo, nil
}
