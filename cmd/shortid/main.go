package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/udisondev/shortid/internal/config"
	"github.com/udisondev/shortid/internal/db"
	"github.com/udisondev/shortid/internal/engine"
	"github.com/udisondev/shortid/internal/model"
)

const ConfigPath = "config/shortid.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// loadConfig reads the config and configures slog from it.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(config.Path(path))
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

// openEngine starts the engine in the mode the config asks for. In remote
// mode a freshly created table is seeded with the local mappings. A fatal
// remote fault cancels ctx through cancel.
func openEngine(ctx context.Context, cfg config.Config, cancel context.CancelCauseFunc) (*engine.Engine, error) {
	opts := engine.Options{
		Floor:      model.ShortAlias(cfg.FloorAlias),
		RetryDelay: cfg.RetryDelay,
		OnFatal:    cancel,
	}

	var created bool
	if cfg.Database.Enabled {
		dsn := cfg.Database.DSN()

		var err error
		created, err = db.Prepare(ctx, dsn, cfg.Database.Table, opts.Floor, cfg.RetryDelay)
		if err != nil {
			return nil, fmt.Errorf("preparing database: %w", err)
		}
		slog.Info("database ready", "table", cfg.Database.Table, "created", created)

		dialer, err := db.NewDialer(dsn, cfg.Database.Table)
		if err != nil {
			return nil, err
		}
		opts.Backend = dialer
	}

	e, err := engine.Open(cfg.DataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("opening engine: %w", err)
	}

	if created {
		if err := e.ImportLocal(ctx); err != nil {
			_ = e.Close(ctx)
			return nil, fmt.Errorf("seeding remote table: %w", err)
		}
	}
	return e, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
