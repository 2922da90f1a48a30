package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0600))

	w, err := NewWatcher(nil, 20*time.Millisecond, path)
	require.NoError(t, err)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func() error {
			calls.Add(1)
			return nil
		})
	}()

	// Give the watch loop a moment to start.
	time.Sleep(50 * time.Millisecond)
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0600))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	// Unrelated files in the same directory are ignored.
	time.Sleep(100 * time.Millisecond)
	before := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, calls.Load())

	require.NoError(t, w.Stop())
	require.NoError(t, <-done)
}

func TestWatcher_SecondWatchFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0600))

	w, err := NewWatcher(nil, 0, path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func() error { return nil }) }()

	assert.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, w.Watch(ctx, func() error { return nil }), ErrWatcherRunning)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, w.Stop())
}

func TestNewWatcher_NoFiles(t *testing.T) {
	_, err := NewWatcher(nil, 0, "", "")
	assert.Error(t, err)
}

func TestDebouncer_CoalescesAndStops(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var calls atomic.Int32
	for i := 0; i < 10; i++ {
		d.Trigger(func() { calls.Add(1) })
	}
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Trigger(func() { calls.Add(1) })
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}
