package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/udisondev/shortid/internal/model"
	"github.com/udisondev/shortid/internal/resolver"
)

// Prepare makes sure the alias table exists, retrying recoverable faults
// every retryDelay. created reports whether this call created the table,
// in which case the caller should seed it with the local mappings.
func Prepare(ctx context.Context, dsn, table string, floor model.ShortAlias, retryDelay time.Duration) (created bool, err error) {
	if err := ValidateTableName(table); err != nil {
		return false, err
	}
	if retryDelay <= 0 {
		retryDelay = resolver.DefaultRetryDelay
	}

	// created stays true across retries.
	op := func() error {
		err := prepareOnce(ctx, dsn, table, floor, &created)
		if err != nil {
			err = Classify(err)
			if !errors.Is(err, resolver.ErrTransient) && !errors.Is(err, resolver.ErrConnection) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	notify := func(err error, delay time.Duration) {
		slog.Warn("database setup failed, retrying", "delay", delay, "err", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(retryDelay), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return false, fmt.Errorf("preparing table %q: %w", table, err)
	}
	return created, nil
}

func prepareOnce(ctx context.Context, dsn, table string, floor model.ShortAlias, created *bool) error {
	database, err := New(ctx, dsn)
	if err != nil {
		return err
	}
	defer database.Close()

	exists, err := database.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		*created = true
	}

	if err := RunMigrations(ctx, dsn, table, floor); err != nil {
		return err
	}

	if !exists {
		slog.Info("alias table created", "table", table, "floor", floor)
	}
	return nil
}
