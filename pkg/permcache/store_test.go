package permcache

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

// exerciseStore runs the behavior every Store must share
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "perm:acc1~u1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.Set(ctx, "perm:acc1~u1", []byte("one")))
	require.NoError(t, store.Set(ctx, "perm:acc1~u2", []byte("two")))
	require.NoError(t, store.Set(ctx, "perm:acc2~u1", []byte("three")))

	got, err := store.Get(ctx, "perm:acc1~u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	keys, err := store.Keys(ctx, "perm:acc1~")
	require.NoError(t, err)
	sort.Strings(keys)
	assert.Equal(t, []string{"perm:acc1~u1", "perm:acc1~u2"}, keys)

	require.NoError(t, store.Delete(ctx, "perm:acc1~u2"))
	_, err = store.Get(ctx, "perm:acc1~u2")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, store.DeletePrefix(ctx, "perm:acc1~"))
	_, err = store.Get(ctx, "perm:acc1~u1")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = store.Get(ctx, "perm:acc2~u1")
	assert.NoError(t, err)

	require.NoError(t, store.Delete(ctx))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, newMemoryStore(t, 100, 0))
}

func TestNewMemoryStore_RejectsInvalidSizes(t *testing.T) {
	_, err := NewMemoryStore(0, 0)
	assert.ErrorContains(t, err, "at least one entry")

	_, err = NewMemoryStore(10, -time.Second)
	assert.ErrorContains(t, err, "must not be negative")

	store, err := NewMemoryStore(1, 0)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "a", []byte("1")))
	require.NoError(t, store.Set(context.Background(), "b", []byte("2")))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t, 100, 20*time.Millisecond)
	require.NoError(t, store.Set(ctx, "k", []byte("v")))

	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "k")
		return err == ErrCacheMiss
	}, time.Second, 10*time.Millisecond)
}

func TestRedisStore(t *testing.T) {
	_, client := setupRedis(t)
	exerciseStore(t, NewRedisStore(client, "warden:", 0))
}

func TestRedisStore_NamespaceAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := NewRedisStore(client, "warden:", time.Hour)

	require.NoError(t, store.Set(ctx, "perm:acc1~u1", []byte("one")))
	assert.True(t, mr.Exists("warden:perm:acc1~u1"))
	assert.Equal(t, time.Hour, mr.TTL("warden:perm:acc1~u1"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "perm:acc1~u1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store := NewRedisStore(client, "warden:", 0)
	mr.Close()

	_, err = store.Get(context.Background(), "perm:acc1~u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestTieredStore(t *testing.T) {
	_, client := setupRedis(t)
	log, _ := test.NewNullLogger()
	exerciseStore(t, NewTieredStore(newMemoryStore(t, 100, 0), NewRedisStore(client, "warden:", 0), client, "", log))
}

func TestTieredStore_BackfillsLocal(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedis(t)
	log, _ := test.NewNullLogger()
	shared := NewRedisStore(client, "warden:", 0)
	local := newMemoryStore(t, 100, 0)
	store := NewTieredStore(local, shared, client, "", log)

	require.NoError(t, shared.Set(ctx, "perm:acc1~u1", []byte("one")))
	_, err := local.Get(ctx, "perm:acc1~u1")
	require.ErrorIs(t, err, ErrCacheMiss)

	got, err := store.Get(ctx, "perm:acc1~u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	got, err = local.Get(ctx, "perm:acc1~u1")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)
}

// A delete on one instance evicts the local copies of the others.
func TestInvalidator(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, client := setupRedis(t)
	log, _ := test.NewNullLogger()

	shared := NewRedisStore(client, "warden:", 0)
	localA, localB := newMemoryStore(t, 100, 0), newMemoryStore(t, 100, 0)
	a := NewTieredStore(localA, shared, client, "", log)
	b := NewTieredStore(localB, shared, client, "", log)

	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- NewInvalidator(localB, client, "", log).Run(ctx, ready)
	}()
	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("invalidator did not subscribe")
	}

	require.NoError(t, a.Set(ctx, "perm:acc1~u1", []byte("one")))
	require.NoError(t, a.Set(ctx, "restr:acc1~u1", []byte("two")))
	_, err := b.Get(ctx, "perm:acc1~u1")
	require.NoError(t, err)
	_, err = b.Get(ctx, "restr:acc1~u1")
	require.NoError(t, err)
	require.Equal(t, 2, localB.Len())

	require.NoError(t, a.Delete(ctx, "perm:acc1~u1"))
	assert.Eventually(t, func() bool {
		_, err := localB.Get(ctx, "perm:acc1~u1")
		return err == ErrCacheMiss
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, a.DeletePrefix(ctx, "restr:acc1~"))
	assert.Eventually(t, func() bool {
		return localB.Len() == 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("invalidator did not stop")
	}
}
