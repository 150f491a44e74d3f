package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"github.com/udisondev/shortid/internal/db/migrations"
	"github.com/udisondev/shortid/internal/model"
)

// Migration template variables (goose ENVSUB).
const (
	envTable = "SHORTID_TABLE"
	envFloor = "SHORTID_FLOOR"
)

// envMu serializes RunMigrations: ENVSUB reads the process environment.
var envMu sync.Mutex

// RunMigrations runs goose migrations for the alias table on the given DSN.
// Each alias table keeps its own goose version table.
func RunMigrations(ctx context.Context, dsn, table string, floor model.ShortAlias) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("opening sql connection for migrations: %w", err)
	}

	store, err := database.NewStore(database.DialectPostgres, table+"_goose_version")
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("creating goose store: %w", err)
	}
	provider, err := goose.NewProvider("", sqlDB, migrations.FS, goose.WithStore(store))
	if err != nil {
		sqlDB.Close()
		return fmt.Errorf("creating goose provider: %w", err)
	}
	// Provider.Close закрывает и sqlDB.
	defer provider.Close()

	envMu.Lock()
	defer envMu.Unlock()

	if err := os.Setenv(envTable, table); err != nil {
		return fmt.Errorf("setting %s: %w", envTable, err)
	}
	if err := os.Setenv(envFloor, strconv.FormatUint(uint64(floor), 10)); err != nil {
		return fmt.Errorf("setting %s: %w", envFloor, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	for _, r := range results {
		slog.Debug("migration applied", "table", table, "migration", r.Source.Path, "duration", r.Duration)
	}
	return nil
}
