// Package authz is the entry point request handlers use for authorization.
//
// A Service ties together the decision engine, the permission summary
// builder, the usage restriction service and the permission cache. The
// caller's identity travels explicitly in a RequestContext:
//
//	rc, err := svc.NewRequestContext(ctx, accountID, user)
//	if err != nil {
//		return err
//	}
//	if err := svc.AuthorizeEntity(ctx, rc, appID, workflowID, required, false); err != nil {
//		return err
//	}
//
// Boolean checks such as HasAccess fail closed: any lookup failure is
// logged and reported as no access.
package authz
