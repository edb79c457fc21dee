// Package storage adapts the local embedded store to the sync engine.
// It absorbs write conflicts between a merge being applied and local
// edits that land while the merge is in flight.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
	"github.com/alexjbarnes/docsync/internal/models"
	"github.com/alexjbarnes/docsync/internal/retry"
	"github.com/alexjbarnes/docsync/internal/state"
)

// DocStore is the subset of *state.State the adapter needs.
type DocStore interface {
	All() ([]state.Record, error)
	Get(id string) (state.Record, error)
	Revisions(ids []string) (map[string]string, error)
	Put(doc models.SyncDoc, rev string) (string, error)
	BulkPut(writes []state.Write) ([]state.Result, error)
	Delete(id, rev string) error
	BulkDelete(deletes []state.Write) ([]state.Result, error)
}

// Local implements the engine's local storage over a DocStore.
type Local struct {
	store      DocStore
	logger     *slog.Logger
	settingsMu sync.Locker
	maxRetries int
}

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithSettingsLock shares the process-wide settings lock so a merge
// writing settings cannot interleave with a local settings update.
func WithSettingsLock(mu sync.Locker) LocalOption {
	return func(l *Local) { l.settingsMu = mu }
}

// WithMaxRetries sets the per-document conflict retry budget.
func WithMaxRetries(n int) LocalOption {
	return func(l *Local) { l.maxRetries = n }
}

// NewLocal creates the adapter.
func NewLocal(store DocStore, logger *slog.Logger, opts ...LocalOption) *Local {
	l := &Local{
		store:      store,
		logger:     logger,
		settingsMu: &sync.Mutex{},
		maxRetries: retry.DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// LoadAllDocs reads every stored document, tombstones included, grouped
// by collection. Revision tokens are not part of the result.
func (l *Local) LoadAllDocs(ctx context.Context) (models.Docs, error) {
	if err := ctx.Err(); err != nil {
		return models.Docs{}, err
	}

	recs, err := l.store.All()
	if err != nil {
		return models.Docs{}, fmt.Errorf("loading local docs: %w", err)
	}

	var docs models.Docs

	for _, rec := range recs {
		c, err := models.CollectionOf(rec.Doc.ID)
		if err != nil {
			l.logger.Warn("skipping document with unknown collection", slog.String("id", rec.Doc.ID))
			continue
		}

		if c == models.CollectionSettings {
			d := rec.Doc
			docs.Settings = &d
			continue
		}

		docs.SetCollection(c, append(docs.Collection(c), rec.Doc))
	}

	return docs, nil
}

// UpsertDocs writes incoming documents. Existing documents are updated
// under their current revision and new ones are created. A document whose
// bulk write conflicts with a concurrent local edit is retried alone: the
// local copy is kept when its updatedAt is newer or equal, otherwise the
// incoming copy overwrites it.
func (l *Local) UpsertDocs(ctx context.Context, docs []models.SyncDoc) error {
	if len(docs) == 0 {
		return nil
	}

	if containsSettings(docs) {
		l.settingsMu.Lock()
		defer l.settingsMu.Unlock()
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}

	revs, err := l.store.Revisions(ids)
	if err != nil {
		return fmt.Errorf("fetching revisions: %w", err)
	}

	writes := make([]state.Write, len(docs))
	for i, d := range docs {
		writes[i] = state.Write{Doc: d, Rev: revs[d.ID]}
	}

	results, err := l.store.BulkPut(writes)
	if err != nil {
		return fmt.Errorf("bulk upsert: %w", err)
	}

	var errs []error

	for i, res := range results {
		if res.Err == nil {
			continue
		}

		if !syncerr.IsConflict(res.Err) {
			errs = append(errs, fmt.Errorf("upserting %s: %w", res.ID, res.Err))
			continue
		}

		if err := l.upsertOne(ctx, docs[i]); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (l *Local) upsertOne(ctx context.Context, incoming models.SyncDoc) error {
	_, ok, err := retry.OnConflict(ctx, l.logger, "upsert "+incoming.ID, func(ctx context.Context, attempt int) (struct{}, error) {
		cur, err := l.store.Get(incoming.ID)
		if errors.Is(err, syncerr.ErrNotFound) {
			_, err = l.store.Put(incoming, "")
			return struct{}{}, err
		}

		if err != nil {
			return struct{}{}, err
		}

		if cur.Doc.UpdatedAt >= incoming.UpdatedAt {
			l.logger.Debug("keeping newer local copy",
				slog.String("id", incoming.ID),
				slog.Int64("local_updated_at", cur.Doc.UpdatedAt),
				slog.Int64("incoming_updated_at", incoming.UpdatedAt),
			)

			return struct{}{}, nil
		}

		_, err = l.store.Put(incoming, cur.Rev)

		return struct{}{}, err
	}, l.maxRetries)
	if err != nil {
		return fmt.Errorf("upserting %s: %w", incoming.ID, err)
	}

	if !ok {
		l.logger.Warn("upsert lost every race, deferring to next cycle", slog.String("id", incoming.ID))
	}

	return nil
}

// DeleteDocs hard-deletes documents. It is only used for tombstone
// garbage collection. Documents already gone count as deleted.
func (l *Local) DeleteDocs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	revs, err := l.store.Revisions(ids)
	if err != nil {
		return fmt.Errorf("fetching revisions: %w", err)
	}

	deletes := make([]state.Write, 0, len(ids))
	for _, id := range ids {
		rev, ok := revs[id]
		if !ok {
			continue
		}

		deletes = append(deletes, state.Write{Doc: models.SyncDoc{ID: id}, Rev: rev})
	}

	if len(deletes) == 0 {
		return nil
	}

	results, err := l.store.BulkDelete(deletes)
	if err != nil {
		return fmt.Errorf("bulk delete: %w", err)
	}

	var errs []error

	for _, res := range results {
		switch {
		case res.Err == nil, errors.Is(res.Err, syncerr.ErrNotFound):
			continue
		case syncerr.IsConflict(res.Err):
			if err := l.deleteOne(ctx, res.ID); err != nil {
				errs = append(errs, err)
			}
		default:
			errs = append(errs, fmt.Errorf("deleting %s: %w", res.ID, res.Err))
		}
	}

	return errors.Join(errs...)
}

func (l *Local) deleteOne(ctx context.Context, id string) error {
	_, ok, err := retry.OnConflict(ctx, l.logger, "delete "+id, func(ctx context.Context, attempt int) (struct{}, error) {
		cur, err := l.store.Get(id)
		if errors.Is(err, syncerr.ErrNotFound) {
			return struct{}{}, nil
		}

		if err != nil {
			return struct{}{}, err
		}

		err = l.store.Delete(id, cur.Rev)
		if errors.Is(err, syncerr.ErrNotFound) {
			return struct{}{}, nil
		}

		return struct{}{}, err
	}, l.maxRetries)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", id, err)
	}

	if !ok {
		l.logger.Warn("delete lost every race, deferring to next cycle", slog.String("id", id))
	}

	return nil
}

func containsSettings(docs []models.SyncDoc) bool {
	for _, d := range docs {
		if d.ID == models.SettingsID {
			return true
		}
	}

	return false
}
