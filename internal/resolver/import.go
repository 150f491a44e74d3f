package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/udisondev/shortid/internal/model"
)

// BulkImport copies snapshot into the remote store synchronously. The whole
// import is retried on transient and connection faults; rows committed by
// an earlier partial attempt are skipped by the store.
func (r *Resolver) BulkImport(ctx context.Context, snapshot map[model.LongID]model.ShortAlias) error {
	if len(snapshot) == 0 {
		return nil
	}

	op := func() error {
		err := r.importOnce(ctx, snapshot)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrTransient):
			return err
		case errors.Is(err, ErrConnection):
			r.disconnect()
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	notify := func(err error, delay time.Duration) {
		r.retried.Add(1)
		slog.Warn("database fault during import, retrying", "delay", delay, "err", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(r.retryDelay), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		slog.Error("ids have NOT been imported", "count", len(snapshot), "err", err)
		return fmt.Errorf("importing %d mappings: %w", len(snapshot), err)
	}

	slog.Info("flat file mappings imported", "count", len(snapshot))
	return nil
}

func (r *Resolver) importOnce(ctx context.Context, snapshot map[model.LongID]model.ShortAlias) error {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	sess, err := r.connectLocked()
	if err != nil {
		return err
	}
	return sess.Import(ctx, snapshot)
}
