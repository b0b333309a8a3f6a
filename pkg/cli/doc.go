// Package cli implements the warden command.
//
//	warden serve [--config warden.yaml]
//	warden check --fixture warden.yaml --account acc1 --user u1 --app app1 --entity prod1 --type ENV --action UPDATE
//	warden validate --fixture warden.yaml
//
// serve wires storage, the permission cache, the authorization service and
// the scheduled jobs, then serves the HTTP API until SIGINT or SIGTERM:
//
//	GET    /healthz, /readyz, /metrics
//	POST   /api/v1/auth/refresh
//	DELETE /api/v1/auth/session
//	DELETE /api/v1/auth/sessions
//	POST   /api/v1/accounts/{accountId}/access-checks
//	GET    /api/v1/accounts/{accountId}/restrictions/summary
//	GET    /api/v1/accounts/{accountId}/apps/{appId}/references
//	GET    /api/v1/accounts/{accountId}/apps/{appId}/environments/{entityId}
//	GET    /api/v1/accounts/{accountId}/apps/{appId}/environments/{entityId}/references
//	DELETE /api/v1/accounts/{accountId}/permission-cache[?rebuild=true]
//
// check prints ALLOW or DENY with the error code and exits 3 on a denial.
// validate prints one line per restricted entity and exits 3 when any
// entity has invalid usage restrictions.
package cli
