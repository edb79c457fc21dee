package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/retry"
)

// Settings manages the settings singleton. Updates hold the process-wide
// settings lock, the same one the sync adapter takes when it writes a
// merged settings document.
type Settings struct {
	store  Store
	mu     sync.Locker
	cfg    Config
	logger *slog.Logger
}

// NewSettings creates the settings model.
func NewSettings(store Store, mu sync.Locker, cfg Config, logger *slog.Logger) *Settings {
	return &Settings{store: store, mu: mu, cfg: cfg.withDefaults(), logger: logger}
}

// Get returns the settings document, or nil when none has been written.
func (s *Settings) Get(ctx context.Context) (*models.SyncDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := s.store.Get(models.SettingsID)
	if errors.Is(err, syncerr.ErrNotFound) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	return &rec.Doc, nil
}

// Update applies fn to a copy of the current settings fields and writes
// the result, creating the document on first use. ok is false when every
// attempt lost a race with another writer.
func (s *Settings) Update(ctx context.Context, fn func(fields map[string]any) error) (doc models.SyncDoc, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok, err = retry.OnConflict(ctx, s.logger, "update settings", func(ctx context.Context, attempt int) (models.SyncDoc, error) {
		var (
			next models.SyncDoc
			rev  string
			prev int64
		)

		rec, err := s.store.Get(models.SettingsID)
		switch {
		case errors.Is(err, syncerr.ErrNotFound):
			next = models.SyncDoc{ID: models.SettingsID, Fields: map[string]any{}}
		case err != nil:
			return models.SyncDoc{}, err
		default:
			next = rec.Doc.Clone()
			rev = rec.Rev
			prev = rec.Doc.UpdatedAt
		}

		if next.Fields == nil {
			next.Fields = map[string]any{}
		}

		if err := fn(next.Fields); err != nil {
			return models.SyncDoc{}, err
		}

		next.Fields = payload(next.Fields)
		next.DeletedAt = nil
		next.UpdatedAt = nextUpdatedAt(s.cfg.Now(), prev)

		if _, err := s.store.Put(next, rev); err != nil {
			return models.SyncDoc{}, err
		}

		return next, nil
	}, s.cfg.MaxRetries)
	if err != nil {
		return models.SyncDoc{}, false, fmt.Errorf("updating settings: %w", err)
	}

	if ok && s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}

	return doc, ok, nil
}
