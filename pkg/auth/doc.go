// Package auth validates the bearer tokens presented to Warden and issues new
// ones.
//
// A token of at most 32 characters is the id of a stored AuthToken. Anything
// longer is an HS256 JWT whose authToken claim names the stored token:
//
//	validator := auth.NewValidator(auth.Config{Secret: secret}, tokens, users, log)
//	token, err := validator.Validate(ctx, bearer)
//	if err != nil {
//		return rbac.ErrorCode(err) // INVALID_TOKEN, EXPIRED_TOKEN, ...
//	}
//	user := token.User
//
// Stored tokens are cached in an expiring LRU. Invalidation removes a token
// from both the store and the cache.
package auth
