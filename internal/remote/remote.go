// Package remote holds the snapshot blob backends. A backend stores one
// encoded snapshot and has no merge logic of its own.
package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/docsync/internal/models"
)

const (
	KindFile = "file"
	KindS3   = "s3"
)

// Store is a remote snapshot blob.
type Store interface {
	// LoadSnapshot returns nil, nil when no snapshot has been written yet.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	SaveSnapshot(ctx context.Context, s models.Snapshot) error
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	Path string
	S3   S3Config
}

// New builds the backend named by cfg.Kind.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Kind {
	case KindFile, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("file remote requires a path")
		}

		return NewFile(cfg.Path, logger)
	case KindS3:
		return NewS3(ctx, cfg.S3, logger)
	default:
		return nil, fmt.Errorf("unknown remote kind %q", cfg.Kind)
	}
}
