package engine

//go:generate mockgen -source=storage.go -destination=mock_storage.go -package=engine

import (
	"context"

	"github.com/alexjbarnes/docsync/internal/merge"
	"github.com/alexjbarnes/docsync/internal/models"
)

// LocalStorage is the embedded document store as seen by the engine.
type LocalStorage interface {
	// LoadAllDocs returns every stored document, tombstones included,
	// without revision tokens.
	LoadAllDocs(ctx context.Context) (models.Docs, error)
	UpsertDocs(ctx context.Context, docs []models.SyncDoc) error
	// DeleteDocs hard-deletes documents. Only used for tombstone GC.
	DeleteDocs(ctx context.Context, ids []string) error
}

// RemoteStorage is the remote snapshot blob.
type RemoteStorage interface {
	// LoadSnapshot returns nil, nil when no snapshot exists.
	LoadSnapshot(ctx context.Context) (*models.Snapshot, error)
	SaveSnapshot(ctx context.Context, s models.Snapshot) error
}

// ConflictRecorder receives tie-break decisions for later inspection.
type ConflictRecorder interface {
	RecordConflicts(conflicts []merge.Conflict) error
}
