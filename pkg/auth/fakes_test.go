package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/platinummonkey/warden/pkg/rbac"
)

var (
	testSecret = []byte("test-secret")
	testNow    = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
)

type memTokens struct {
	mu     sync.Mutex
	tokens map[string]AuthToken
	gets   int
}

func newMemTokens() *memTokens {
	return &memTokens{tokens: make(map[string]AuthToken)}
}

func (m *memTokens) Get(_ context.Context, id string) (*AuthToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	t, ok := m.tokens[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *memTokens) Save(_ context.Context, token *AuthToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token.UUID] = *token
	return nil
}

func (m *memTokens) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, id)
	return nil
}

func (m *memTokens) ListByUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, t := range m.tokens {
		if t.UserID == userID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memTokens) MarkRefreshed(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[id]
	if !ok || t.Refreshed {
		return false, nil
	}
	t.Refreshed = true
	m.tokens[id] = t
	return true, nil
}

func (m *memTokens) getCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

type userMap map[string]*rbac.User

func (u userMap) UserByID(_ context.Context, id string) (*rbac.User, error) {
	return u[id], nil
}

var alice = &rbac.User{UUID: "u1", Name: "Alice", Email: "alice@example.com", Accounts: []string{"acc1"}}

func newTestValidator(t *testing.T) (*Validator, *memTokens, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	tokens := newMemTokens()
	v := NewValidator(Config{Secret: testSecret, TokenExpiry: time.Hour, Env: "test"}, tokens, userMap{"u1": alice}, log)
	clock := func() time.Time { return testNow }
	v.now = clock
	v.issuer.now = clock
	return v, tokens, hook
}
