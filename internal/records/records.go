// Package records is the entity layer that applications write through.
// Every mutation is an optimistic read-modify-write against the local
// store and advances updatedAt so the sync merge sees it as newer.
package records

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/retry"
	"github.com/alexjbarnes/docsync/internal/state"
	"github.com/google/uuid"
)

// Store is the subset of *state.State the entity layer needs.
type Store interface {
	All() ([]state.Record, error)
	Get(id string) (state.Record, error)
	Put(doc models.SyncDoc, rev string) (string, error)
}

// Config holds options shared by Service and Settings.
type Config struct {
	// MaxRetries is the conflict retry budget. Zero means
	// retry.DefaultMaxRetries.
	MaxRetries int
	// OnChange fires after every successful write.
	OnChange func()
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Now == nil {
		c.Now = time.Now
	}

	return c
}

// nextUpdatedAt keeps updatedAt strictly increasing even when the wall
// clock stalls or steps backwards.
func nextUpdatedAt(now time.Time, prev int64) int64 {
	return max(models.Millis(now), prev+1)
}

// payload copies fields, dropping envelope keys.
func payload(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if models.IsReservedField(k) {
			continue
		}

		out[k] = v
	}

	return out
}

// Service manages the multi-document collections.
type Service struct {
	store  Store
	cfg    Config
	logger *slog.Logger
}

// NewService creates the entity service.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	return &Service{store: store, cfg: cfg.withDefaults(), logger: logger}
}

// Create stores a new document with a fresh "<prefix><uuid>" id.
func (s *Service) Create(ctx context.Context, c models.Collection, fields map[string]any) (models.SyncDoc, error) {
	if err := ctx.Err(); err != nil {
		return models.SyncDoc{}, err
	}

	prefix, err := models.Prefix(c)
	if err != nil {
		return models.SyncDoc{}, err
	}

	doc := models.SyncDoc{
		ID:        prefix + uuid.NewString(),
		UpdatedAt: models.Millis(s.cfg.Now()),
		Fields:    payload(fields),
	}

	if _, err := s.store.Put(doc, ""); err != nil {
		return models.SyncDoc{}, fmt.Errorf("creating %s: %w", doc.ID, err)
	}

	s.logger.Debug("document created", slog.String("id", doc.ID))
	s.changed()

	return doc, nil
}

// Update merges fields into a live document. A nil value removes the key.
// ok is false when every attempt lost a race with another writer.
func (s *Service) Update(ctx context.Context, id string, fields map[string]any) (doc models.SyncDoc, ok bool, err error) {
	return s.mutate(ctx, "update", id, func(d *models.SyncDoc) (bool, error) {
		if d.IsDeleted() {
			return false, fmt.Errorf("%w: %s is deleted", syncerr.ErrNotFound, id)
		}

		if d.Fields == nil {
			d.Fields = map[string]any{}
		}

		for k, v := range payload(fields) {
			if v == nil {
				delete(d.Fields, k)
				continue
			}

			d.Fields[k] = v
		}

		return true, nil
	})
}

// Delete turns a document into a tombstone. Its fields are kept so the
// deletion still merges by updatedAt. Deleting a tombstone is a no-op.
func (s *Service) Delete(ctx context.Context, id string) (doc models.SyncDoc, ok bool, err error) {
	return s.mutate(ctx, "delete", id, func(d *models.SyncDoc) (bool, error) {
		if d.IsDeleted() {
			return false, nil
		}

		d.DeletedAt = models.Int64Ptr(models.Millis(s.cfg.Now()))

		return true, nil
	})
}

// Purge marks a document with an epoch tombstone, which every replica
// garbage-collects on its next sync regardless of the GC interval.
func (s *Service) Purge(ctx context.Context, id string) (doc models.SyncDoc, ok bool, err error) {
	return s.mutate(ctx, "purge", id, func(d *models.SyncDoc) (bool, error) {
		if d.DeletedAt != nil && *d.DeletedAt == 0 {
			return false, nil
		}

		d.DeletedAt = models.Int64Ptr(0)

		return true, nil
	})
}

// Get returns a document, tombstones included.
func (s *Service) Get(ctx context.Context, id string) (models.SyncDoc, error) {
	if err := ctx.Err(); err != nil {
		return models.SyncDoc{}, err
	}

	rec, err := s.store.Get(id)
	if err != nil {
		return models.SyncDoc{}, err
	}

	return rec.Doc, nil
}

// List returns the documents of one collection ordered by id.
func (s *Service) List(ctx context.Context, c models.Collection, includeDeleted bool) ([]models.SyncDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix, err := models.Prefix(c)
	if err != nil {
		return nil, err
	}

	recs, err := s.store.All()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", c, err)
	}

	var out []models.SyncDoc

	for _, rec := range recs {
		got, err := models.CollectionOf(rec.Doc.ID)
		if err != nil || got != c {
			continue
		}

		if rec.Doc.IsDeleted() && !includeDeleted {
			continue
		}

		out = append(out, rec.Doc)
	}

	s.logger.Debug("listed documents", slog.String("prefix", prefix), slog.Int("count", len(out)))

	return out, nil
}

// mutate runs a read-modify-write under the conflict retry helper. apply
// reports whether it changed the document; unchanged documents are not
// written.
func (s *Service) mutate(ctx context.Context, label, id string, apply func(d *models.SyncDoc) (bool, error)) (models.SyncDoc, bool, error) {
	written := false

	doc, ok, err := retry.OnConflict(ctx, s.logger, label+" "+id, func(ctx context.Context, attempt int) (models.SyncDoc, error) {
		rec, err := s.store.Get(id)
		if err != nil {
			return models.SyncDoc{}, err
		}

		next := rec.Doc.Clone()

		changed, err := apply(&next)
		if err != nil {
			return models.SyncDoc{}, err
		}

		if !changed {
			return rec.Doc, nil
		}

		next.UpdatedAt = nextUpdatedAt(s.cfg.Now(), rec.Doc.UpdatedAt)

		if _, err := s.store.Put(next, rec.Rev); err != nil {
			return models.SyncDoc{}, err
		}

		written = true

		return next, nil
	}, s.cfg.MaxRetries)
	if err != nil {
		return models.SyncDoc{}, false, fmt.Errorf("%s %s: %w", label, id, err)
	}

	if written {
		s.changed()
	}

	return doc, ok, nil
}

func (s *Service) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}
