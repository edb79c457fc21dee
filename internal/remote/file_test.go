package remote

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleSnapshot() models.Snapshot {
	return snapshot.Build(models.Docs{
		Tasks: []models.SyncDoc{
			{ID: "task:1", UpdatedAt: 100, Fields: map[string]any{"title": "write tests"}},
		},
		Settings: &models.SyncDoc{ID: models.SettingsID, UpdatedAt: 5, Fields: map[string]any{"theme": "dark"}},
	})
}

func TestFile_LoadMissingIsAbsent(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "snapshot.json"), discardLogger())
	require.NoError(t, err)

	snap, err := f.LoadSnapshot(context.Background())
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestFile_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "snapshot.json")
	f, err := NewFile(path, discardLogger())
	require.NoError(t, err)

	want := sampleSnapshot()
	require.NoError(t, f.SaveSnapshot(context.Background(), want))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, snapshotFilePerm, info.Mode().Perm())

	got, err := f.LoadSnapshot(context.Background())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.Meta.Hash, got.Meta.Hash)
	assert.Equal(t, 1, got.Meta.Counts.Tasks)
	require.Len(t, got.Docs.Tasks, 1)
	assert.Equal(t, "write tests", got.Docs.Tasks[0].Fields["title"])
}

func TestFile_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(filepath.Join(dir, "snapshot.json"), discardLogger())
	require.NoError(t, err)

	require.NoError(t, f.SaveSnapshot(context.Background(), sampleSnapshot()))
	require.NoError(t, f.SaveSnapshot(context.Background(), sampleSnapshot()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "snapshot.json", entries[0].Name())
}

func TestFile_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	f, err := NewFile(path, discardLogger())
	require.NoError(t, err)

	_, err = f.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, syncerr.ErrMalformedSnapshot)
}

func TestFile_LoadUnreadableIsUnavailable(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be cannot be read as a file.
	path := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.Mkdir(path, 0o755))

	f, err := NewFile(path, discardLogger())
	require.NoError(t, err)

	_, err = f.LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, syncerr.ErrRemoteUnavailable)
}

func TestFile_CancelledContext(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "snapshot.json"), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = f.LoadSnapshot(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, f.SaveSnapshot(ctx, sampleSnapshot()), context.Canceled)
}

func TestFile_WatchNotifiesOnReplace(t *testing.T) {
	dir := t.TempDir()
	f, err := NewFile(filepath.Join(dir, "snapshot.json"), discardLogger())
	require.NoError(t, err)

	var calls atomic.Int32

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- f.Watch(ctx, func() { calls.Add(1) }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))
	require.NoError(t, f.SaveSnapshot(context.Background(), sampleSnapshot()))

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNew_SelectsBackend(t *testing.T) {
	store, err := New(context.Background(), Config{Kind: KindFile, Path: filepath.Join(t.TempDir(), "s.json")}, discardLogger())
	require.NoError(t, err)
	assert.IsType(t, &File{}, store)

	_, err = New(context.Background(), Config{Kind: KindFile}, discardLogger())
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Kind: "ftp"}, discardLogger())
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Kind: KindS3}, discardLogger())
	assert.Error(t, err)
}
