package configwatch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mobiletoly/go-recsync/recsync"
)

type recordingUpdater struct {
	mu      sync.Mutex
	patches []recsync.ConfigPatch
	cfg     recsync.Config
}

func (r *recordingUpdater) UpdateConfiguration(_ context.Context, p recsync.ConfigPatch) (recsync.Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patches = append(r.patches, p)
	r.cfg = p.Apply(r.cfg)
	return r.cfg, nil
}

func (r *recordingUpdater) current() (recsync.Config, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg, len(r.patches)
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestReload_AppliesBudgetsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recsync.toml")
	writeConfig(t, path, "[sync]\nenabled = false\nmax_pages = 7\nmax_duration = \"9s\"\n")

	up := &recordingUpdater{cfg: recsync.DefaultConfig()}
	cfg, err := New(path, up, slog.New(slog.DiscardHandler)).Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 7, cfg.MaxPages)
	require.Equal(t, 9*time.Second, cfg.MaxDuration)
	require.True(t, cfg.Enabled, "enabled is not hot-reloaded")
	require.Nil(t, up.patches[0].Enabled)
}

func TestReload_RejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recsync.toml")
	writeConfig(t, path, "[sync]\nmax_pages = 0\n")

	up := &recordingUpdater{cfg: recsync.DefaultConfig()}
	_, err := New(path, up, slog.New(slog.DiscardHandler)).Reload(context.Background())
	require.ErrorContains(t, err, "invalid config file")
	_, n := up.current()
	require.Equal(t, 0, n)
}

func TestRun_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recsync.toml")
	writeConfig(t, path, "[sync]\nmax_pages = 2\n")

	up := &recordingUpdater{cfg: recsync.DefaultConfig()}
	w := New(path, up, slog.New(slog.DiscardHandler)).WithDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Keep writing until the watcher is registered and picks a change up.
	require.Eventually(t, func() bool {
		writeConfig(t, path, "[sync]\nmax_pages = 5\n")
		cfg, _ := up.current()
		return cfg.MaxPages == 5
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
