package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isPNG(name string) bool { return strings.HasSuffix(name, ".png") }

func TestWatcher_WakesOnMatchingFile(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, isPNG)
	require.NoError(t, err)
	defer w.Close()
	w.setDebounce(10 * time.Millisecond)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "000000.png"), []byte("png"), 0o644)
	}()

	start := time.Now()
	require.NoError(t, w.Wait(context.Background(), 10*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second, "should wake well before the poll interval")

	events, _ := w.Stats()
	assert.Positive(t, events)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, isPNG)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "framemerge.json"), []byte("{}"), 0o644))

	start := time.Now()
	require.NoError(t, w.Wait(context.Background(), 300*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)
	events, _ := w.Stats()
	assert.Zero(t, events)
}

func TestWatcher_Canceled(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Wait(ctx, time.Hour), context.Canceled)
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}

func TestNew_MissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), nil)
	assert.Error(t, err)
}

func TestSleeper(t *testing.T) {
	var s Sleeper
	require.NoError(t, s.Wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Wait(ctx, time.Hour), context.Canceled)
	assert.NoError(t, s.Close())
}
