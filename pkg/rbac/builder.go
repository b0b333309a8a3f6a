package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Builder folds user-group permissions into a UserPermissionInfo
type Builder struct {
	catalog EntityCatalog
	log     *logrus.Logger
}

// NewBuilder creates a permission summary builder
func NewBuilder(catalog EntityCatalog, log *logrus.Logger) *Builder {
	if log == nil {
		log = logrus.New()
	}
	return &Builder{catalog: catalog, log: log}
}

// catalogData holds the app entities of an account, grouped by app id
type catalogData struct {
	envs         map[string][]Environment
	services     map[string][]string
	provisioners map[string][]string
	templates    map[string][]string
	workflows    map[string][]Workflow
	workflowByID map[string]Workflow
	pipelines    map[string][]Pipeline
}

type entityKinds struct {
	services, provisioners, templates, envs, workflows, pipelines bool
}

func requiredKinds(groups []UserGroup) entityKinds {
	var k entityKinds
	for _, g := range groups {
		for _, ap := range g.AppPermissions {
			switch ap.PermissionType {
			case PermissionAllAppEntities:
				return entityKinds{true, true, true, true, true, true}
			case PermissionService:
				k.services = true
			case PermissionProvisioner:
				k.provisioners = true
			case PermissionAppTemplate:
				k.templates = true
			case PermissionEnv:
				k.envs = true
			case PermissionWorkflow:
				k.envs, k.workflows = true, true
			case PermissionPipeline, PermissionDeployment:
				k.envs, k.workflows, k.pipelines = true, true, true
			}
		}
	}
	return k
}

// Build computes the permission snapshot of a user from the groups they belong to.
// It never returns a partial snapshot: any catalog failure fails the build.
func (b *Builder) Build(ctx context.Context, accountID string, groups []UserGroup) (*UserPermissionInfo, error) {
	start := time.Now()

	accountPermissions := make(PermissionTypeSet)
	for _, g := range groups {
		if g.AccountPermissions != nil {
			accountPermissions.AddAll(g.AccountPermissions.Permissions)
		}
	}

	appIDs, err := b.catalog.AppIDs(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list app ids: %w", err)
	}
	allAppIDs := NewStringSet(appIDs...)

	data, err := b.fetch(ctx, accountID, allAppIDs.Sorted(), requiredKinds(groups))
	if err != nil {
		return nil, err
	}

	state := &buildState{
		data:               data,
		summaries:          make(map[string]*AppPermissionSummary),
		envActionsPipeline: make(map[string]ActionSet),
		envActionsDeploy:   make(map[string]ActionSet),
	}

	for _, g := range groups {
		for _, ap := range g.AppPermissions {
			if ap.Actions.IsEmpty() {
				b.log.WithFields(logrus.Fields{
					"accountId": accountID,
					"groupId":   g.UUID,
				}).Errorf("Actions empty for apps: %+v", ap.AppFilter)
				continue
			}
			apps, err := AppIDsByFilter(allAppIDs, ap.AppFilter)
			if err != nil {
				return nil, err
			}
			if err := state.apply(apps, ap); err != nil {
				return nil, err
			}
		}
	}

	info := &UserPermissionInfo{
		AccountID:                accountID,
		AppPermissionMap:         state.summaries,
		AccountPermissionSummary: AccountPermissionSummary{Permissions: accountPermissions},
		HasAllAppAccess:          len(allAppIDs) <= len(state.summaries),
	}

	b.log.WithFields(logrus.Fields{
		"accountId": accountID,
		"groups":    len(groups),
		"apps":      len(state.summaries),
		"elapsed":   time.Since(start).String(),
	}).Debug("Evaluated user permission info")
	return info, nil
}

func (b *Builder) fetch(ctx context.Context, accountID string, appIDs []string, kinds entityKinds) (*catalogData, error) {
	data := &catalogData{
		envs:         make(map[string][]Environment),
		services:     make(map[string][]string),
		provisioners: make(map[string][]string),
		templates:    make(map[string][]string),
		workflows:    make(map[string][]Workflow),
		workflowByID: make(map[string]Workflow),
		pipelines:    make(map[string][]Pipeline),
	}
	if len(appIDs) == 0 {
		return data, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if kinds.envs {
		g.Go(func() error {
			envs, err := b.catalog.Environments(gctx, accountID, appIDs)
			if err != nil {
				return fmt.Errorf("failed to list environments: %w", err)
			}
			for _, env := range envs {
				data.envs[env.AppID] = append(data.envs[env.AppID], env)
			}
			return nil
		})
	}
	if kinds.services {
		g.Go(func() error {
			services, err := b.catalog.Services(gctx, accountID, appIDs)
			if err != nil {
				return fmt.Errorf("failed to list services: %w", err)
			}
			groupEntityIDs(data.services, services)
			return nil
		})
	}
	if kinds.provisioners {
		g.Go(func() error {
			provisioners, err := b.catalog.Provisioners(gctx, accountID, appIDs)
			if err != nil {
				return fmt.Errorf("failed to list provisioners: %w", err)
			}
			groupEntityIDs(data.provisioners, provisioners)
			return nil
		})
	}
	if kinds.templates {
		g.Go(func() error {
			templates, err := b.catalog.Templates(gctx, accountID, appIDs)
			if err != nil {
				return fmt.Errorf("failed to list templates: %w", err)
			}
			groupEntityIDs(data.templates, templates)
			return nil
		})
	}
	if kinds.workflows {
		g.Go(func() error {
			workflows, err := b.catalog.Workflows(gctx, accountID, appIDs)
			if err != nil {
				return fmt.Errorf("failed to list workflows: %w", err)
			}
			for _, wf := range workflows {
				data.workflows[wf.AppID] = append(data.workflows[wf.AppID], wf)
				data.workflowByID[wf.UUID] = wf
			}
			return nil
		})
	}
	if kinds.pipelines {
		g.Go(func() error {
			pipelines, err := b.catalog.Pipelines(gctx, accountID, appIDs)
			if err != nil {
				return fmt.Errorf("failed to list pipelines: %w", err)
			}
			for _, p := range pipelines {
				data.pipelines[p.AppID] = append(data.pipelines[p.AppID], p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return data, nil
}

func groupEntityIDs(dst map[string][]string, entities []Entity) {
	for _, e := range entities {
		dst[e.AppID] = append(dst[e.AppID], e.UUID)
	}
}
