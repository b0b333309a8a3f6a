package observability

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsEveryFunc(t *testing.T) {
	log, _ := test.NewNullLogger()
	srv := &http.Server{Handler: http.NotFoundHandler()}

	sm := NewShutdownManager(log, srv, time.Second)
	var calls atomic.Int32
	sm.RegisterShutdownFunc("cache", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	sm.RegisterShutdownFunc("store", func(context.Context) error {
		calls.Add(1)
		return errors.New("close failed")
	})

	err := sm.Shutdown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store: close failed")
	assert.Equal(t, int32(2), calls.Load())
}

func TestShutdownManager_Timeout(t *testing.T) {
	log, _ := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, 50*time.Millisecond)
	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		time.Sleep(500 * time.Millisecond)
		return nil
	})
	assert.EqualError(t, sm.Shutdown(), "shutdown timeout reached")
}

func TestShutdownManager_WaitForContext(t *testing.T) {
	log, hook := test.NewNullLogger()
	sm := NewShutdownManager(log, nil, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.Equal(t, "Graceful shutdown complete", hook.LastEntry().Message)
}

func TestRecoverPanic(t *testing.T) {
	log, hook := test.NewNullLogger()
	func() {
		defer RecoverPanic(log, "worker")
		panic("boom")
	}()
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "worker", hook.LastEntry().Data["context"])
}
