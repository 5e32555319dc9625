package watcher

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

func TestDebouncedTrigger(t *testing.T) {
	dir := t.TempDir()

	var fires atomic.Int32
	w, err := New(50*time.Millisecond, func(ctx context.Context) {
		fires.Add(1)
	})
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// A burst of writes collapses to one trigger.
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v"), 0o644))
		time.Sleep(5 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		return fires.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.LessOrEqual(t, fires.Load(), int32(2), "burst must not fire per-event")
}

func TestCloseStopsPendingTrigger(t *testing.T) {
	dir := t.TempDir()

	var fires atomic.Int32
	w, err := New(100*time.Millisecond, func(ctx context.Context) {
		fires.Add(1)
	})
	require.NoError(t, err)
	require.NoError(t, w.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("v"), 0o644))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.Close())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), fires.Load(), "closed watcher must not fire")
}
