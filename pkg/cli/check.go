package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/rbac"
	"github.com/platinummonkey/warden/pkg/storage"
)

type checkOptions struct {
	fixture     string
	account     string
	user        string
	app         string
	env         string
	entity      string
	permType    string
	action      string
	permissions []rbac.PermissionAttribute
	mode        string
	matchAny    bool
	logLevel    string
}

func newCheckCommand(out io.Writer) *Command {
	cmd := &Command{
		Name:        "check",
		Description: "Evaluate one access decision against a fixture",
		Flags:       flag.NewFlagSet("check", flag.ContinueOnError),
		out:         out,
	}

	opts := &checkOptions{}
	cmd.Flags.SetOutput(out)
	cmd.Flags.StringVar(&opts.fixture, "fixture", getEnv("WARDEN_FIXTURE_PATH", "warden.yaml"), "Fixture file")
	cmd.Flags.StringVar(&opts.account, "account", "", "Account id")
	cmd.Flags.StringVar(&opts.user, "user", "", "User id")
	cmd.Flags.StringVar(&opts.app, "app", "", "Application id")
	cmd.Flags.StringVar(&opts.env, "env", "", "Environment id")
	cmd.Flags.StringVar(&opts.entity, "entity", "", "Entity id (entity and restriction modes)")
	cmd.Flags.StringVar(&opts.permType, "type", "", "Permission type, e.g. ENV")
	cmd.Flags.StringVar(&opts.action, "action", "", "Action, e.g. UPDATE")
	cmd.Flags.Func("permission", "Additional TYPE:ACTION requirement (repeatable)", func(s string) error {
		p, err := parsePermission(s)
		if err != nil {
			return err
		}
		opts.permissions = append(opts.permissions, p)
		return nil
	})
	cmd.Flags.StringVar(&opts.mode, "mode", string(ModeEntity), "Decision mode: role, entity or restriction")
	cmd.Flags.BoolVar(&opts.matchAny, "match-any", false, "Allow when any requirement is met (entity mode)")
	cmd.Flags.StringVar(&opts.logLevel, "log-level", "error", "Log level")

	cmd.Run = func(ctx context.Context, args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runCheck(ctx, out, opts)
	}
	return cmd
}

func (o *checkOptions) decision() (Decision, error) {
	d := Decision{
		Mode:        Mode(o.mode),
		AppID:       o.app,
		EnvID:       o.env,
		EntityID:    o.entity,
		Permissions: o.permissions,
		MatchAny:    o.matchAny,
	}
	switch {
	case o.permType != "" && o.action != "":
		d.Permissions = append([]rbac.PermissionAttribute{{
			PermissionType: rbac.PermissionType(o.permType),
			Action:         rbac.Action(o.action),
		}}, d.Permissions...)
	case o.permType != "" || o.action != "":
		return d, errors.New("--type and --action must be given together")
	}
	if d.Mode != ModeRestriction && len(d.Permissions) == 0 {
		return d, errors.New("at least one permission is required")
	}
	return d, nil
}

func runCheck(ctx context.Context, out io.Writer, opts *checkOptions) error {
	if opts.account == "" || opts.user == "" {
		return errors.New("--account and --user are required")
	}
	d, err := opts.decision()
	if err != nil {
		return err
	}

	log, err := observability.NewLogger(opts.logLevel, observability.FormatText, os.Stderr)
	if err != nil {
		return err
	}
	a, err := newApp(ctx, fixtureConfig(opts.fixture), log)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	user, err := a.store.UserByID(ctx, opts.user)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("unknown user %s", opts.user)
	}
	rc, err := a.authz.NewRequestContext(ctx, opts.account, user)
	if err != nil {
		return err
	}

	err = decide(ctx, a.authz, a.store, rc, d)
	v := verdictOf(err)
	if v.Allowed {
		fmt.Fprintln(out, "ALLOW")
		return nil
	}
	if v.Code == rbac.CodeUnknown {
		return err
	}
	fmt.Fprintf(out, "DENY %s: %s\n", v.Code, v.Message)
	return &ExitCodeError{Code: ExitDenied, Err: err}
}

// fixtureConfig is the configuration of the one-shot commands: a fixture
// store behind a memory cache.
func fixtureConfig(path string) *config.Config {
	cfg := config.Default()
	cfg.Storage.Driver = storage.DriverFile
	cfg.Storage.FixturePath = path
	cfg.Cache.Backend = config.CacheMemory
	cfg.Rebuild.Workers = 1
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
