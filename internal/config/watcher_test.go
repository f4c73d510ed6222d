package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcher_FiresOnConfigChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sociagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: sociagent\n"), 0644))

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Give the watcher a moment to register before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("name: renamed\n"), 0644))

	select {
	case cfg := <-changed:
		require.Equal(t, "renamed", cfg.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not fire on config change")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sociagent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: sociagent\n"), 0644))

	w, err := NewWatcher(path, func(*Config) {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	w.Stop()
	w.Stop()
}
