package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/rbac"
)

func TestCheck(t *testing.T) {
	base := []string{"check", "--fixture", testFixture, "--account", "acc1"}

	tests := []struct {
		name     string
		args     []string
		wantOut  string
		wantCode int
	}{
		{
			name:    "entity allowed",
			args:    []string{"--user", "u1", "--app", "app1", "--entity", "prod1", "--type", "ENV", "--action", "UPDATE"},
			wantOut: "ALLOW\n",
		},
		{
			name:     "entity denied",
			args:     []string{"--user", "u1", "--app", "app1", "--entity", "qa1", "--type", "ENV", "--action", "UPDATE"},
			wantOut:  "DENY ACCESS_DENIED",
			wantCode: ExitDenied,
		},
		{
			name:    "match any",
			args:    []string{"--user", "u1", "--app", "app1", "--entity", "prod1", "--permission", "ENV:DELETE", "--permission", "env:read", "--match-any"},
			wantOut: "ALLOW\n",
		},
		{
			name:    "role admin",
			args:    []string{"--mode", "role", "--user", "u2", "--app", "app1", "--env", "prod1", "--type", "ENV", "--action", "UPDATE"},
			wantOut: "ALLOW\n",
		},
		{
			name:     "role without roles",
			args:     []string{"--mode", "role", "--user", "u1", "--app", "app1", "--env", "prod1", "--type", "ENV", "--action", "UPDATE"},
			wantOut:  "DENY ACCESS_DENIED",
			wantCode: ExitDenied,
		},
		{
			name:    "restriction covers environment",
			args:    []string{"--mode", "restriction", "--user", "u1", "--app", "app1", "--env", "prod1", "--entity", "conn1"},
			wantOut: "ALLOW\n",
		},
		{
			name:     "restriction excludes environment",
			args:     []string{"--mode", "restriction", "--user", "u1", "--app", "app1", "--env", "qa1", "--entity", "conn1"},
			wantOut:  "DENY ACCESS_DENIED",
			wantCode: ExitDenied,
		},
		{
			name:     "unknown restricted entity",
			args:     []string{"--mode", "restriction", "--user", "u1", "--app", "app1", "--entity", "nope"},
			wantOut:  "DENY " + rbac.CodeInvalidRequest,
			wantCode: ExitDenied,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append(append([]string{}, base...), tt.args...)...)
			assert.Contains(t, out, tt.wantOut)
			assert.Equal(t, tt.wantCode, ExitCode(err))
			if tt.wantCode == ExitOK {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheck_UsageErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing user", args: []string{"check", "--fixture", testFixture, "--account", "acc1"}, wantErr: "--account and --user are required"},
		{name: "type without action", args: []string{"check", "--account", "acc1", "--user", "u1", "--type", "ENV"}, wantErr: "must be given together"},
		{name: "no permission", args: []string{"check", "--account", "acc1", "--user", "u1"}, wantErr: "at least one permission"},
		{name: "malformed permission", args: []string{"check", "--permission", "ENV"}, wantErr: "TYPE:ACTION"},
		{name: "unknown user", args: []string{"check", "--fixture", testFixture, "--account", "acc1", "--user", "ghost", "--type", "ENV", "--action", "READ"}, wantErr: "unknown user ghost"},
		{name: "missing fixture", args: []string{"check", "--fixture", "does-not-exist.yaml", "--account", "acc1", "--user", "u1", "--type", "ENV", "--action", "READ"}, wantErr: "failed to read fixture"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)
			assert.Equal(t, ExitError, ExitCode(err))
		})
	}
}

func TestParsePermission(t *testing.T) {
	p, err := parsePermission("workflow:execute_workflow")
	require.NoError(t, err)
	assert.Equal(t, rbac.PermissionAttribute{PermissionType: rbac.PermissionWorkflow, Action: rbac.ActionExecuteWorkflow}, p)

	for _, bad := range []string{"", "ENV", ":READ", "ENV:"} {
		_, err := parsePermission(bad)
		assert.ErrorIs(t, err, rbac.ErrInvalidRequest, bad)
	}
}
