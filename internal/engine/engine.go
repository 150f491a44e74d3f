// Package engine answers "which alias belongs to this identifier" and back.
//
// Lookups go through the tiers in a fixed order: the in-memory cache, the
// flat files, and then either the remote resolver (remote mode) or the local
// counter (local mode). Every answer found in a slower tier is written back
// to the faster ones.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/udisondev/shortid/internal/flatfile"
	"github.com/udisondev/shortid/internal/idcache"
	"github.com/udisondev/shortid/internal/model"
	"github.com/udisondev/shortid/internal/resolver"
)

var (
	// ErrUnavailable is returned after a non-recoverable remote fault.
	ErrUnavailable = resolver.ErrUnavailable
	// ErrInvalidID is returned for the zero LongID.
	ErrInvalidID = errors.New("invalid long id")
)

// Options configures an Engine.
type Options struct {
	// Floor is the first alias handed out by the local counter.
	Floor model.ShortAlias
	// Backend enables remote mode. nil means local mode.
	Backend    resolver.Backend
	RetryDelay time.Duration
	// Notifier receives notify-on-resolve events. May be nil.
	Notifier idcache.Notifier
	// OnFatal is called once when the remote store fails for good.
	// The host is expected to shut down.
	OnFatal func(error)
}

// Engine resolves LongID <-> ShortAlias. Safe for concurrent use.
type Engine struct {
	cache    *idcache.Cache
	store    *flatfile.Store
	resolver *resolver.Resolver // nil в локальном режиме
	counter  *flatfile.Counter  // nil в удалённом режиме
	onFatal  func(error)

	// genMu serializes local alias generation.
	genMu sync.Mutex

	mu    sync.Mutex
	fatal error
}

// Open locks dir and starts an engine over it.
func Open(dir string, opts Options) (*Engine, error) {
	if !opts.Floor.Valid() {
		return nil, fmt.Errorf("floor alias %s is invalid", opts.Floor)
	}

	store, err := flatfile.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("opening flat files: %w", err)
	}
	if err := store.Lock(); err != nil {
		return nil, err
	}

	e := &Engine{
		cache:   idcache.New(opts.Notifier),
		store:   store,
		onFatal: opts.OnFatal,
	}

	if opts.Backend != nil {
		e.resolver = resolver.New(opts.Backend, e.cache, store, resolver.Config{
			RetryDelay: opts.RetryDelay,
			OnFatal:    e.handleFatal,
		})
		slog.Info("alias engine started", "mode", "remote", "dir", dir)
		return e, nil
	}

	e.counter, err = store.LoadCounter(opts.Floor)
	if err != nil {
		_ = store.Unlock()
		return nil, fmt.Errorf("loading local counter: %w", err)
	}
	slog.Info("alias engine started", "mode", "local", "dir", dir, "next", e.counter.Peek())
	return e, nil
}

// Remote reports whether the engine resolves through the remote store.
func (e *Engine) Remote() bool {
	return e.resolver != nil
}

// GetAlias returns the alias of id, creating one if id has none yet.
func (e *Engine) GetAlias(ctx context.Context, id model.LongID) (model.ShortAlias, error) {
	if id.IsZero() {
		return model.InvalidAlias, ErrInvalidID
	}
	if err := e.Err(); err != nil {
		return model.InvalidAlias, err
	}

	if a, ok := e.cache.Alias(id); ok {
		return a, nil
	}
	if a, ok := e.readAlias(id); ok {
		return a, nil
	}

	if e.resolver != nil {
		if err := e.resolver.ResolveID(id); err != nil {
			return model.InvalidAlias, e.wrapRemote(err)
		}
		a, err := e.cache.WaitForAlias(ctx, id)
		if err != nil {
			return model.InvalidAlias, e.wrapRemote(err)
		}
		return a, nil
	}

	return e.generate(id)
}

// GetID returns the identifier owning alias. ok is false when alias is
// unknown; in local mode an alias missing from the flat files is unknown.
func (e *Engine) GetID(ctx context.Context, alias model.ShortAlias) (id model.LongID, ok bool, err error) {
	if !alias.Valid() {
		return model.LongID{}, false, nil
	}
	if err := e.Err(); err != nil {
		return model.LongID{}, false, err
	}

	if id, ok := e.cache.ID(alias); ok {
		return id, !id.IsZero(), nil
	}

	id, found, err := e.store.ReadID(alias)
	if err != nil {
		slog.Warn("reading flat file failed", "alias", alias, "err", err)
	} else if found {
		e.cache.Map(id, alias)
		return id, true, nil
	}

	if e.resolver == nil {
		return model.LongID{}, false, nil
	}

	if err := e.resolver.ResolveAlias(alias); err != nil {
		return model.LongID{}, false, e.wrapRemote(err)
	}
	id, ok, err = e.cache.WaitForID(ctx, alias)
	if err != nil {
		return model.LongID{}, false, e.wrapRemote(err)
	}
	return id, ok, nil
}

// Prefetch starts remote resolution of id early, so a later GetAlias is
// less likely to block. It is a no-op in local mode or when id is known.
func (e *Engine) Prefetch(id model.LongID) error {
	if e.resolver == nil || id.IsZero() {
		return nil
	}
	if _, ok := e.cache.Alias(id); ok {
		return nil
	}
	if _, ok := e.readAlias(id); ok {
		return nil
	}
	if err := e.resolver.ResolveID(id); err != nil {
		return e.wrapRemote(err)
	}
	return nil
}

// NotifyOnResolve makes sure a resolved event for id is published exactly
// once: right away if the alias is known, otherwise when it lands.
// In local mode the alias is generated synchronously.
func (e *Engine) NotifyOnResolve(ctx context.Context, id model.LongID) error {
	if id.IsZero() {
		return ErrInvalidID
	}

	if e.resolver == nil {
		if _, err := e.GetAlias(ctx, id); err != nil {
			return err
		}
		e.cache.RegisterNotifyOnResolve(id)
		return nil
	}

	if err := e.Err(); err != nil {
		return err
	}
	// Флэт-файл пишет в кэш, дальше Register сработает сразу.
	e.readAlias(id)
	if _, ok := e.cache.RegisterNotifyOnResolve(id); ok {
		return nil
	}
	if err := e.resolver.ResolveID(id); err != nil {
		return e.wrapRemote(err)
	}
	return nil
}

// ImportLocal copies every flat-file mapping into the remote store.
// Hosts call it once, right after the remote table was created.
func (e *Engine) ImportLocal(ctx context.Context) error {
	if e.resolver == nil {
		return errors.New("import requires remote mode")
	}
	snapshot, err := e.store.BuildSnapshot()
	if err != nil {
		return fmt.Errorf("reading flat files: %w", err)
	}
	slog.Info("importing flat file mappings", "count", len(snapshot))
	return e.resolver.BulkImport(ctx, snapshot)
}

// Snapshot returns every mapping persisted in the flat files.
func (e *Engine) Snapshot() (map[model.LongID]model.ShortAlias, error) {
	return e.store.BuildSnapshot()
}

// Err returns ErrUnavailable (wrapping the cause) after a fatal fault.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fatal != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, e.fatal)
	}
	return nil
}

// Close waits for pending remote jobs, stops the resolver and releases the
// data directory.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if e.resolver != nil {
		if err := e.resolver.AwaitAllPending(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for pending jobs: %w", err))
		}
		e.resolver.Close()
	}
	e.cache.Close(nil)
	if err := e.store.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// readAlias checks the flat files and caches a hit.
func (e *Engine) readAlias(id model.LongID) (model.ShortAlias, bool) {
	a, found, err := e.store.ReadAlias(id)
	if err != nil {
		slog.Warn("reading flat file failed", "id", id, "err", err)
		return model.InvalidAlias, false
	}
	if !found {
		return model.InvalidAlias, false
	}
	e.cache.Map(id, a)
	return a, true
}

func (e *Engine) generate(id model.LongID) (model.ShortAlias, error) {
	e.genMu.Lock()
	defer e.genMu.Unlock()

	// Другой вызов мог успеть раньше.
	if a, ok := e.cache.Alias(id); ok {
		return a, nil
	}

	for {
		a, err := e.counter.Next()
		if err != nil {
			return model.InvalidAlias, fmt.Errorf("generating alias for %s: %w", id, err)
		}

		// Счётчик мог отстать от файлов: занятый алиас пропускаем.
		owner, taken, err := e.aliasOwner(a)
		if err != nil {
			return model.InvalidAlias, fmt.Errorf("generating alias for %s: %w", id, err)
		}
		if taken {
			slog.Warn("local counter handed out an owned alias, skipping", "alias", a, "owner", owner)
			continue
		}
		if !e.cache.Map(id, a) {
			if cur, ok := e.cache.Alias(id); ok {
				return cur, nil
			}
			continue
		}

		slog.Info("generated new alias", "id", id, "alias", a)
		if err := e.store.WriteMapping(id, a, false); err != nil {
			slog.Error("persisting generated alias failed", "id", id, "alias", a, "err", err)
		}
		return a, nil
	}
}

// aliasOwner reports whether a is already mapped in the cache or the flat
// files.
func (e *Engine) aliasOwner(a model.ShortAlias) (model.LongID, bool, error) {
	if owner, ok := e.cache.ID(a); ok {
		return owner, true, nil
	}
	return e.store.ReadID(a)
}

func (e *Engine) handleFatal(err error) {
	e.mu.Lock()
	e.fatal = err
	e.mu.Unlock()

	slog.Error("alias engine disabled", "err", err)
	if e.onFatal != nil {
		e.onFatal(err)
	}
	e.cache.Close(fmt.Errorf("%w: %w", ErrUnavailable, err))
}

// wrapRemote prefers the fatal error once the engine is disabled.
func (e *Engine) wrapRemote(err error) error {
	if fatal := e.Err(); fatal != nil {
		return fatal
	}
	return err
}
