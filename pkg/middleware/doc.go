// Package middleware provides the HTTP middleware of the Warden API:
// request ids, bearer token authentication, permission checks, and rate
// limiting.
//
//	router.Use(middleware.RequestID(log))
//	api := router.PathPrefix("/api/v1/accounts/{accountId}").Subrouter()
//	api.Use(middleware.NewAuthMiddleware(validator, service, metrics).Handler)
//	api.Use(middleware.NewRateLimitMiddleware(nil, nil).Handler)
//
// Errors are written as {"code": ..., "message": ...} with the status that
// StatusFor derives from the stable error code.
package middleware
