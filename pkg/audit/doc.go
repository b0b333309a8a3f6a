// Package audit records authorization decisions and administrative actions.
//
// # Overview
//
// Events carry the account, user, app, environment and entity of a decision
// together with the stable error code of a denial and the request id. They
// are written as JSON lines by FileLogger, as structured log entries by
// LogrusLogger, or to both through MultiLogger.
//
// # Usage Example
//
//	file, err := audit.NewFileLogger(cfg.AuditOptions(), log)
//	if err != nil {
//		return err
//	}
//	logger := audit.NewMultiLogger(file, audit.NewLogrusLogger(log))
//	defer logger.Close()
//
//	router.Use(audit.NewMiddleware(logger, false).Handler)
//
// Handlers record decisions with the logger from the request context:
//
//	err := svc.AuthorizeEntity(ctx, rc, appID, entityID, required, false)
//	audit.LogDecision(ctx, r, audit.Decision{
//		AccountID: rc.AccountID,
//		UserID:    rc.User.UUID,
//		AppID:     appID,
//		EntityID:  entityID,
//	}, err)
//
// The middleware records every rejected request (401, 403, 429) and every
// mutation, whether or not a handler logged a decision.
package audit
