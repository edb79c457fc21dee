package remote

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/snapshot"
	"github.com/fsnotify/fsnotify"
)

const (
	snapshotFilePerm = fs.FileMode(0o644)
	snapshotDirPerm  = fs.FileMode(0o755)

	// watchDebounce coalesces the burst of events an atomic replace
	// produces (create temp, write, rename) into one notification.
	watchDebounce = 250 * time.Millisecond
)

// File stores the snapshot as a single JSON file, typically inside a
// folder that some other tool replicates between devices.
type File struct {
	path   string
	logger *slog.Logger
}

// NewFile returns a file backend for path, resolved to an absolute path.
func NewFile(path string, logger *slog.Logger) (*File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot path: %w", err)
	}

	return &File{path: abs, logger: logger}, nil
}

// Path returns the absolute snapshot path.
func (f *File) Path() string {
	return f.path
}

// LoadSnapshot reads and decodes the snapshot file. A missing file means
// no device has pushed yet.
func (f *File) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", syncerr.ErrRemoteUnavailable, f.path, err)
	}

	return snapshot.Decode(data)
}

// SaveSnapshot encodes s and atomically replaces the snapshot file.
func (f *File) SaveSnapshot(ctx context.Context, s models.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := snapshot.Encode(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, snapshotDirPerm); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	// Atomic write: write to temp file, then rename.
	tmp, err := os.CreateTemp(dir, ".docsync-snapshot-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tmpName, snapshotFilePerm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}

	f.logger.Debug("snapshot written",
		slog.String("path", f.path),
		slog.String("hash", s.Meta.Hash),
		slog.Int("bytes", len(data)),
	)

	return nil
}

// Watch calls onChange whenever the snapshot file is created or
// rewritten, for example by another device's push arriving through the
// replicated folder. It blocks until ctx is cancelled. Our own writes
// also trigger it; the resulting cycle takes the hash fast path.
func (f *File) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, snapshotDirPerm); err != nil {
		return fmt.Errorf("creating snapshot directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	timer := time.NewTimer(watchDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if filepath.Clean(event.Name) != f.path {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				timer.Reset(watchDebounce)
			}

		case <-timer.C:
			onChange()

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			// Non-fatal; the interval scheduler still picks up changes.
			f.logger.Warn("snapshot watcher error", slog.String("error", err.Error()))
		}
	}
}
