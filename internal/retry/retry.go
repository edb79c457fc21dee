// Package retry re-runs optimistic read-modify-write operations that lose
// a compare-and-swap race against another writer.
package retry

import (
	"context"
	"log/slog"

	syncerr "github.com/alexjbarnes/docsync/internal/errors"
)

// DefaultMaxRetries is the attempt budget when the caller passes <= 0.
const DefaultMaxRetries = 3

// OnConflict runs op and re-runs it while it fails with a write conflict,
// up to maxRetries attempts in total. op receives the 1-based attempt. Once the budget is spent it returns
// the zero value with ok == false and a nil error: another writer won and
// the caller should treat the change as a no-op. Any other error is
// returned immediately without retrying.
func OnConflict[T any](ctx context.Context, logger *slog.Logger, label string, op func(ctx context.Context, attempt int) (T, error), maxRetries int) (result T, ok bool, err error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, false, err
		}

		result, err = op(ctx, attempt)
		if err == nil {
			return result, true, nil
		}

		if !syncerr.IsConflict(err) {
			var zero T
			return zero, false, err
		}

		logger.Warn("write conflict, retrying",
			slog.String("op", label),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxRetries),
			slog.String("error", err.Error()),
		)
	}

	logger.Warn("write conflict retries exhausted, dropping change",
		slog.String("op", label),
		slog.Int("attempts", maxRetries),
	)

	var zero T

	return zero, false, nil
}
