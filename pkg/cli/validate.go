package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/restrictions"
	"github.com/platinummonkey/warden/pkg/storage"
)

func newValidateCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "validate",
		Description: "Validate the usage restrictions of every entity in a fixture",
		Flags:       flag.NewFlagSet("validate", flag.ContinueOnError),
		out:         out,
	}
	cmd.Flags.SetOutput(out)
	fixture := cmd.Flags.String("fixture", getEnv("WARDEN_FIXTURE_PATH", "warden.yaml"), "Fixture file")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		if cmd.Flags.NArg() > 0 {
			*fixture = cmd.Flags.Arg(0)
		}
		return runValidate(out, *fixture)
	}
	return cmd
}

// validateEntity reports why an entity's restrictions cannot be saved
func validateEntity(e restrictions.RestrictedEntity) error {
	if e.ScopedToAccount && !e.Restrictions.IsEmpty() {
		return fmt.Errorf("%w: account scoped entity cannot carry usage restrictions", rbac.ErrInvalidUsageRestriction)
	}
	return restrictions.Validate(e.Restrictions)
}

func runValidate(out io.Writer, path string) error {
	f, err := storage.LoadFixture(path)
	if err != nil {
		return err
	}

	// Catalog per account, used to flag references to missing apps and envs
	appAccount := make(map[string]string, len(f.Applications))
	apps := make(map[string]rbac.StringSet)
	envs := make(map[string]rbac.StringSet)
	for _, app := range f.Applications {
		appAccount[app.UUID] = app.AccountID
		if apps[app.AccountID] == nil {
			apps[app.AccountID] = make(rbac.StringSet)
		}
		apps[app.AccountID].Add(app.UUID)
	}
	for _, env := range f.Environments {
		accountID := appAccount[env.AppID]
		if envs[accountID] == nil {
			envs[accountID] = make(rbac.StringSet)
		}
		envs[accountID].Add(env.UUID)
	}

	entities := append([]restrictions.RestrictedEntity(nil), f.Entities...)
	sort.Slice(entities, func(i, j int) bool { return entities[i].UUID < entities[j].UUID })

	invalid := 0
	for _, e := range entities {
		if err := validateEntity(e); err != nil {
			invalid++
			fmt.Fprintf(out, "%s %s (%s): %v\n", rbac.ErrorCode(err), e.UUID, e.Kind, err)
			continue
		}
		if _, dangling := restrictions.PurgeDanglingReferences(e.Restrictions, apps[e.AccountID], envs[e.AccountID]); dangling > 0 {
			fmt.Fprintf(out, "WARN %s (%s): %d dangling app/env references\n", e.UUID, e.Kind, dangling)
			continue
		}
		fmt.Fprintf(out, "OK %s (%s)\n", e.UUID, e.Kind)
	}

	fmt.Fprintf(out, "%d entities, %d invalid\n", len(entities), invalid)
	if invalid > 0 {
		return &ExitCodeError{Code: ExitDenied, Err: fmt.Errorf("%d entities have invalid usage restrictions", invalid)}
	}
	return nil
}
