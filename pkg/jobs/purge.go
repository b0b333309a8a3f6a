package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/warden/pkg/async"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

// Job names
const (
	ReferencePurgeJob = "reference-purge"
	TokenPurgeJob     = "token-purge"
)

// AccountLister lists every known account
type AccountLister interface {
	AccountIDs(ctx context.Context) ([]string, error)
}

// ReferencePurger removes app and environment references that no longer exist
type ReferencePurger interface {
	PurgeDanglingAppEnvReferences(ctx context.Context, accountID string, client restrictions.Client) (int, error)
}

// TokenPurger deletes expired auth tokens
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// ReferencePurge purges dangling references in every account. A failing
// account does not stop the others.
type ReferencePurge struct {
	Accounts AccountLister
	Purger   ReferencePurger
	// Clients defaults to connectors and secrets management
	Clients []restrictions.Client
	// Workers bounds the accounts purged concurrently
	Workers int
	Metrics *observability.Metrics
	Log     *logrus.Logger
	// Audit receives one event per purged or failed account
	Audit audit.Logger
}

// Run purges every account
func (p *ReferencePurge) Run(ctx context.Context) error {
	log := p.Log
	if log == nil {
		log = logrus.New()
	}
	clients := p.Clients
	if len(clients) == 0 {
		clients = []restrictions.Client{restrictions.ClientConnectors, restrictions.ClientSecretsManagement}
	}

	if p.Audit != nil {
		ctx = audit.WithLogger(ctx, p.Audit)
	}

	accountIDs, err := p.Accounts.AccountIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	errs := async.Batch(ctx, accountIDs, p.Workers, ReferencePurgeJob, 0, func(ctx context.Context, accountID string) error {
		var failed []error
		purged := 0
		for _, client := range clients {
			changed, err := p.Purger.PurgeDanglingAppEnvReferences(ctx, accountID, client)
			purged += changed
			if changed > 0 && p.Metrics != nil {
				p.Metrics.PurgedRefsTotal.WithLabelValues(string(client)).Add(float64(changed))
			}
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"accountId": accountID,
					"client":    client,
				}).Warn("Dangling reference purge failed")
				failed = append(failed, fmt.Errorf("account %s, client %s: %w", accountID, client, err))
			}
		}
		if err := errors.Join(failed...); err != nil {
			audit.LogFailure(ctx, audit.EventTypeRestrictionsPurge, accountID, "Dangling reference purge failed", err)
			return err
		}
		if purged > 0 {
			audit.LogSuccess(ctx, audit.EventTypeRestrictionsPurge, accountID, "Purged dangling references",
				map[string]any{"changed": purged})
		}
		return nil
	})
	return errors.Join(errs...)
}

// TokenPurge deletes expired tokens from stores that persist them
type TokenPurge struct {
	Tokens TokenPurger
	Now    func() time.Time
	Log    *logrus.Logger
}

// Run deletes tokens that have expired
func (p *TokenPurge) Run(ctx context.Context) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	purged, err := p.Tokens.PurgeExpiredTokens(ctx, now())
	if err != nil {
		return err
	}
	if purged > 0 && p.Log != nil {
		p.Log.WithField("purged", purged).Info("Purged expired tokens")
	}
	return nil
}
