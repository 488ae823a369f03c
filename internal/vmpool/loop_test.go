package vmpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoop_RunAndShutdown(t *testing.T) {
	t.Parallel()

	var runs, running, overlaps atomic.Int32
	l := newLoop("test", 5*time.Millisecond, func(ctx context.Context) error {
		if running.Add(1) > 1 {
			overlaps.Add(1)
		}
		defer running.Add(-1)
		runs.Add(1)
		time.Sleep(2 * time.Millisecond)
		return errors.New("ignored")
	})
	assert.Equal(t, "test", l.Name())

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
	require.NoError(t, <-errCh)
	assert.Zero(t, overlaps.Load())
}

func TestLoop_ShutdownCancelsRun(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	l := newLoop("blocking", time.Hour, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(context.Background()) }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Shutdown(ctx))
	require.NoError(t, <-errCh)
}

func TestLoop_ShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	l := newLoop("idle", time.Second, func(context.Context) error { return nil })
	assert.NoError(t, l.Shutdown(context.Background()))
}

func TestLoop_StopsWithParentContext(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	l := newLoop("parent", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, int32(1), runs.Load())
}
