package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/shortid/internal/engine"
	"github.com/udisondev/shortid/internal/flatfile"
	"github.com/udisondev/shortid/internal/model"
)

// closeTimeout bounds how long shutdown waits for pending remote jobs.
const closeTimeout = 30 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "shortid",
		Short: "Resolve player ids to short aliases and back",
		Long: `shortid maps 128-bit player ids to stable 32-bit aliases.

Aliases are read from the local data directory first and, when the database
is enabled in the config, created in PostgreSQL. Otherwise a local counter
hands them out.

Examples:
  shortid get 0b5e2c4e-7a43-4f3a-9f55-2f7d2b3c4d5e
  shortid lookup 00000100
  shortid snapshot`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", ConfigPath, "Config file path (SHORTID_CONFIG overrides)")

	root.AddCommand(
		newGetCmd(&configPath),
		newLookupCmd(&configPath),
		newSnapshotCmd(&configPath),
		newNextAliasCmd(&configPath),
	)
	return root
}

// withEngine runs fn against an engine built from the config and closes it.
func withEngine(cmd *cobra.Command, configPath string, fn func(ctx context.Context, e *engine.Engine) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	e, err := openEngine(ctx, cfg, cancel)
	if err != nil {
		return err
	}

	runErr := fn(ctx, e)

	closeCtx, closeCancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer closeCancel()
	if err := e.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("closing engine: %w", err)
	}
	return runErr
}

func newGetCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "get <uuid>...",
		Short: "Print the alias of each id, creating missing ones",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]model.LongID, len(args))
			for i, arg := range args {
				id, err := model.ParseLongID(arg)
				if err != nil {
					return err
				}
				ids[i] = id
			}

			return withEngine(cmd, *configPath, func(ctx context.Context, e *engine.Engine) error {
				aliases := make([]model.ShortAlias, len(ids))

				g, gctx := errgroup.WithContext(ctx)
				for i, id := range ids {
					g.Go(func() error {
						a, err := e.GetAlias(gctx, id)
						if err != nil {
							return fmt.Errorf("resolving %s: %w", id, err)
						}
						aliases[i] = a
						return nil
					})
				}
				if err := g.Wait(); err != nil {
					return err
				}

				for i, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", id, aliases[i])
				}
				return nil
			})
		},
	}
}

func newLookupCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <alias>...",
		Short: "Print the id owning each alias",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			aliases := make([]model.ShortAlias, len(args))
			for i, arg := range args {
				a, err := model.ParseShortAlias(arg)
				if err != nil {
					return err
				}
				aliases[i] = a
			}

			return withEngine(cmd, *configPath, func(ctx context.Context, e *engine.Engine) error {
				for _, a := range aliases {
					id, ok, err := e.GetID(ctx, a)
					if err != nil {
						return fmt.Errorf("looking up %s: %w", a, err)
					}
					if !ok {
						fmt.Fprintf(cmd.OutOrStdout(), "%s -\n", a)
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", a, id)
				}
				return nil
			})
		},
	}
}

func newSnapshotCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Print every mapping stored in the data directory, ordered by alias",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, *configPath, func(ctx context.Context, e *engine.Engine) error {
				snapshot, err := e.Snapshot()
				if err != nil {
					return err
				}

				byAlias := make(map[model.ShortAlias]model.LongID, len(snapshot))
				for id, a := range snapshot {
					byAlias[a] = id
				}
				for _, a := range slices.Sorted(maps.Keys(byAlias)) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", a, byAlias[a])
				}
				return nil
			})
		},
	}
}

func newNextAliasCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "next-alias",
		Short: "Print the alias the local counter hands out next",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			store, err := flatfile.Open(cfg.DataDir)
			if err != nil {
				return err
			}
			if err := store.Lock(); err != nil {
				return err
			}
			defer store.Unlock()

			counter, err := store.LoadCounter(model.ShortAlias(cfg.FloorAlias))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), counter.Peek())
			return nil
		},
	}
}
