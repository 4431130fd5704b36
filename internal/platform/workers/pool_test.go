package workers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsTasks(t *testing.T) {
	p := New(2, 10)
	var ran atomic.Int32
	for range 5 {
		require.NoError(t, p.Submit(Task{Name: "count", Run: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(5), ran.Load())
}

func TestPoolQueueFull(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	p := New(1, 1)

	require.NoError(t, p.Submit(Task{Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started
	require.NoError(t, p.Submit(Task{Run: func(context.Context) error { return nil }}))
	assert.ErrorIs(t, p.Submit(Task{Run: func(context.Context) error { return nil }}), ErrQueueFull)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.Submit(Task{Run: func(context.Context) error { return nil }}), ErrClosed)
}

func TestPoolRecoversPanics(t *testing.T) {
	p := New(1, 2)
	var after atomic.Bool
	require.NoError(t, p.Submit(Task{Name: "boom", Run: func(context.Context) error { panic("boom") }}))
	require.NoError(t, p.Submit(Task{Run: func(context.Context) error {
		after.Store(true)
		return nil
	}}))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, after.Load(), "worker survives a panicking task")
}

func TestPoolTaskTimeout(t *testing.T) {
	p := New(1, 1, WithTaskTimeout(20*time.Millisecond))
	errCh := make(chan error, 1)
	require.NoError(t, p.Submit(Task{Run: func(ctx context.Context) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	}}))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, <-errCh, context.DeadlineExceeded)
}

func TestPoolShutdownDeadlineCancelsRunningTasks(t *testing.T) {
	p := New(1, 1)
	started := make(chan struct{})
	require.NoError(t, p.Submit(Task{Run: func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}
