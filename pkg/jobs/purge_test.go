package jobs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/restrictions"
)

type fakeAccounts struct {
	ids []string
	err error
}

func (f fakeAccounts) AccountIDs(context.Context) ([]string, error) {
	return f.ids, f.err
}

type fakePurger struct {
	mu      sync.Mutex
	calls   []string
	changed map[string]int
	fail    map[string]bool
}

func (f *fakePurger) PurgeDanglingAppEnvReferences(_ context.Context, accountID string, client restrictions.Client) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, accountID+"/"+string(client))
	if f.fail[accountID] {
		return 0, errors.New("store down")
	}
	return f.changed[accountID+"/"+string(client)], nil
}

func TestReferencePurge_Run(t *testing.T) {
	log, hook := test.NewNullLogger()
	metrics := observability.NewMetrics(nil)
	purger := &fakePurger{
		changed: map[string]int{
			"acc1/" + string(restrictions.ClientConnectors):        2,
			"acc2/" + string(restrictions.ClientSecretsManagement): 3,
		},
		fail: map[string]bool{"acc3": true},
	}
	job := &ReferencePurge{
		Accounts: fakeAccounts{ids: []string{"acc1", "acc2", "acc3"}},
		Purger:   purger,
		Workers:  2,
		Metrics:  metrics,
		Log:      log,
	}

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "account acc3")
	assert.NotContains(t, err.Error(), "acc1")

	sort.Strings(purger.calls)
	assert.Equal(t, []string{
		"acc1/CONNECTORS", "acc1/SECRETS_MANAGEMENT",
		"acc2/CONNECTORS", "acc2/SECRETS_MANAGEMENT",
		"acc3/CONNECTORS", "acc3/SECRETS_MANAGEMENT",
	}, purger.calls)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PurgedRefsTotal.WithLabelValues("CONNECTORS")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.PurgedRefsTotal.WithLabelValues("SECRETS_MANAGEMENT")))
	assert.Equal(t, "acc3", hook.LastEntry().Data["accountId"])
}

type auditRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (a *auditRecorder) Log(_ context.Context, event *audit.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
	return nil
}

func (a *auditRecorder) Close() error { return nil }

func TestReferencePurge_Audit(t *testing.T) {
	log, _ := test.NewNullLogger()
	recorder := &auditRecorder{}
	job := &ReferencePurge{
		Accounts: fakeAccounts{ids: []string{"acc1", "acc2", "acc3"}},
		Purger: &fakePurger{
			changed: map[string]int{"acc1/" + string(restrictions.ClientConnectors): 2},
			fail:    map[string]bool{"acc3": true},
		},
		Workers: 1,
		Log:     log,
		Audit:   recorder,
	}
	require.Error(t, job.Run(context.Background()))

	byAccount := make(map[string]*audit.Event)
	for _, event := range recorder.events {
		byAccount[event.AccountID] = event
	}
	require.Len(t, byAccount, 2)
	assert.Equal(t, audit.EventStatusSuccess, byAccount["acc1"].Status)
	assert.Equal(t, 2, byAccount["acc1"].Metadata["changed"])
	assert.Equal(t, audit.EventTypeRestrictionsPurge, byAccount["acc3"].EventType)
	assert.Equal(t, audit.EventStatusFailure, byAccount["acc3"].Status)
}

func TestReferencePurge_Clients(t *testing.T) {
	purger := &fakePurger{}
	job := &ReferencePurge{
		Accounts: fakeAccounts{ids: []string{"acc1"}},
		Purger:   purger,
		Clients:  []restrictions.Client{restrictions.ClientAll},
	}
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []string{"acc1/ALL"}, purger.calls)
}

func TestReferencePurge_AccountListFailure(t *testing.T) {
	job := &ReferencePurge{Accounts: fakeAccounts{err: errors.New("db down")}, Purger: &fakePurger{}}
	assert.ErrorContains(t, job.Run(context.Background()), "failed to list accounts")
}

type fakeTokens struct {
	at     time.Time
	purged int64
	err    error
}

func (f *fakeTokens) PurgeExpiredTokens(_ context.Context, now time.Time) (int64, error) {
	f.at = now
	return f.purged, f.err
}

func TestTokenPurge_Run(t *testing.T) {
	log, hook := test.NewNullLogger()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{purged: 4}
	job := &TokenPurge{Tokens: tokens, Now: func() time.Time { return now }, Log: log}

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, now, tokens.at)
	assert.Equal(t, int64(4), hook.LastEntry().Data["purged"])

	tokens.err = errors.New("locked")
	assert.EqualError(t, job.Run(context.Background()), "locked")
}

func TestScheduler_RunsPurgeJob(t *testing.T) {
	metrics := observability.NewMetrics(nil)
	s := NewScheduler(nil, metrics)
	purge := &ReferencePurge{Accounts: fakeAccounts{ids: []string{"acc1"}}, Purger: &fakePurger{}, Metrics: metrics}
	require.NoError(t, s.Add(Job{Name: ReferencePurgeJob, Schedule: "0 3 * * *", Run: purge.Run}))

	require.NoError(t, s.RunNow(context.Background(), ReferencePurgeJob))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues(ReferencePurgeJob, "success")))
}
