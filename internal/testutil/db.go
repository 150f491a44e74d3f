package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/udisondev/shortid/internal/db"
	"github.com/udisondev/shortid/internal/model"
)

// SetupTestDB создаёт PostgreSQL testcontainer, готовит таблицу алиасов
// и возвращает DSN. В -short режиме тест пропускается.
// Использует модуль postgres с BasicWaitStrategies (log occurrence(2) + port check).
// Автоматически cleanup при завершении теста.
func SetupTestDB(tb testing.TB, table string, floor model.ShortAlias) string {
	tb.Helper()
	if testing.Short() {
		tb.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

	// Запускаем PostgreSQL 16 через специализированный модуль
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		tb.Fatalf("starting postgres container: %v", err)
	}

	tb.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			tb.Logf("terminating postgres container: %v", err)
		}
	})

	// Получаем DSN через встроенный метод контейнера
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		tb.Fatalf("getting connection string: %v", err)
	}

	created, err := db.Prepare(ctx, dsn, table, floor, 100*time.Millisecond)
	if err != nil {
		tb.Fatalf("preparing table %s: %v", table, err)
	}
	if !created {
		tb.Fatalf("table %s already existed in a fresh container", table)
	}

	return dsn
}

// CountRows возвращает число строк в таблице алиасов.
func CountRows(tb testing.TB, dsn, table string) int64 {
	tb.Helper()
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		tb.Fatalf("connecting to test db: %v", err)
	}
	defer pool.Close()

	var n int64
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&n); err != nil {
		tb.Fatalf("counting rows in %s: %v", table, err)
	}
	return n
}
