package observability

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_RunsHooksInOrder(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, time.Second)

	var order []string
	sm.RegisterShutdownFunc("service", func(context.Context) error {
		order = append(order, "service")
		return nil
	})
	sm.RegisterShutdownFunc("otel", func(context.Context) error {
		order = append(order, "otel")
		return nil
	})

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"service", "otel"}, order)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, time.Second)

	boom := errors.New("boom")
	ran := false
	sm.RegisterShutdownFunc("failing", func(context.Context) error { return boom })
	sm.RegisterShutdownFunc("after", func(context.Context) error {
		ran = true
		return nil
	})

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran, "hooks after a failure still run")
}

func TestShutdownManager_WaitForShutdownOnContext(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, time.Second)

	called := false
	sm.RegisterShutdownFunc("hook", func(context.Context) error {
		called = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.True(t, called)
}

func TestShutdownManager_ExpiredContextSkipsHooks(t *testing.T) {
	sm := NewShutdownManager(NewLogger(ErrorLevel, &bytes.Buffer{}), nil, time.Second)
	sm.RegisterShutdownFunc("late", func(context.Context) error {
		t.Fatal("hook should not run after timeout")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, sm.Shutdown(ctx))
}
