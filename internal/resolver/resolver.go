// Package resolver resolves identifiers against the remote store.
//
// Each distinct key gets at most one pending Job. Jobs run asynchronously,
// one at a time over a single session, and publish their result into the
// cache and the flat-file tier. Transient faults retry after a fixed delay,
// connection faults reconnect first, anything else is fatal for the
// resolver and is escalated through Config.OnFatal.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/udisondev/shortid/internal/model"
)

// DefaultRetryDelay is the pause between attempts of a failed job.
const DefaultRetryDelay = time.Second

// Config configures a Resolver.
type Config struct {
	RetryDelay time.Duration
	// OnFatal is called once, on the first non-recoverable fault.
	OnFatal func(error)
}

// Resolver runs deduplicated remote resolution jobs.
type Resolver struct {
	backend    Backend
	cache      Cache
	store      Persister
	retryDelay time.Duration
	onFatal    func(error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pending map[Job]State
	drained chan struct{}
	fatal   error
	closed  bool

	// procMu serializes job execution and owns session.
	procMu  sync.Mutex
	session Session

	executed atomic.Int64
	retried  atomic.Int64
}

// New creates a Resolver. No connection is made until the first job runs.
func New(backend Backend, cache Cache, store Persister, cfg Config) *Resolver {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		backend:    backend,
		cache:      cache,
		store:      store,
		retryDelay: cfg.RetryDelay,
		onFatal:    cfg.OnFatal,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[Job]State),
	}
}

// ResolveID schedules get-or-create for id.
func (r *Resolver) ResolveID(id model.LongID) error {
	return r.Resolve(ForID(id))
}

// ResolveAlias schedules a reverse lookup for alias.
func (r *Resolver) ResolveAlias(alias model.ShortAlias) error {
	return r.Resolve(ForAlias(alias))
}

// Resolve schedules job unless an identical job is already pending.
// Once it returns nil the result is guaranteed to land in the cache, unless
// the resolver fails or is closed first.
func (r *Resolver) Resolve(job Job) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.fatal != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrUnavailable, r.fatal)
	}
	if _, ok := r.pending[job]; ok {
		r.mu.Unlock()
		return nil
	}
	if len(r.pending) == 0 {
		r.drained = make(chan struct{})
	}
	r.pending[job] = StateQueued
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(job)
	return nil
}

// Err returns the fatal fault, if one occurred.
func (r *Resolver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fatal != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, r.fatal)
	}
	return nil
}

// State returns the state of job if it is pending.
func (r *Resolver) State(job Job) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.pending[job]
	return s, ok
}

// Pending returns the number of pending jobs.
func (r *Resolver) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Executed returns how many job attempts have run.
func (r *Resolver) Executed() int64 {
	return r.executed.Load()
}

// Retried returns how many job attempts were retried.
func (r *Resolver) Retried() int64 {
	return r.retried.Load()
}

// AwaitAllPending blocks until no job is pending.
func (r *Resolver) AwaitAllPending(ctx context.Context) error {
	r.mu.Lock()
	if len(r.pending) == 0 {
		r.mu.Unlock()
		return nil
	}
	ch := r.drained
	r.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs, aborts retries of pending ones and closes
// the session. Call AwaitAllPending first to let in-flight work finish.
func (r *Resolver) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
	r.disconnect()
}

func (r *Resolver) run(job Job) {
	defer r.wg.Done()

	op := func() error {
		if err := r.Err(); err != nil {
			return backoff.Permanent(err)
		}
		r.setState(job, StateExecuting)

		err := r.execute(job)
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
		r.setState(job, StateRetrying)
		slog.Warn("remote query failed, retrying", "job", job, "delay", delay, "err", err)
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(r.retryDelay), r.ctx)
	err := backoff.RetryNotify(op, b, notify)

	switch {
	case err == nil:
		r.finish(job, StateSucceeded)
	case r.ctx.Err() != nil:
		slog.Warn("remote job abandoned on shutdown", "job", job, "err", err)
		r.finish(job, StateFatal)
	case errors.Is(err, ErrUnavailable):
		r.finish(job, StateFatal)
	default:
		r.fail(job, err)
	}
}

func (r *Resolver) execute(job Job) error {
	r.procMu.Lock()
	defer r.procMu.Unlock()

	r.executed.Add(1)

	sess, err := r.connectLocked()
	if err != nil {
		return err
	}

	switch job.kind {
	case kindID:
		alias, err := sess.GetOrCreate(r.ctx, job.id)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", job, err)
		}
		if !alias.Valid() {
			return fmt.Errorf("resolving %s: store returned the invalid alias: %w", job, ErrTransient)
		}
		if err := r.publish(job, job.id, alias); err != nil {
			return err
		}

	case kindAlias:
		id, found, err := sess.Lookup(r.ctx, job.alias)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", job, err)
		}
		if !found || id.IsZero() {
			// Unknown alias: cache the sentinel so waiters unblock and later
			// lookups do not query again.
			r.cache.Map(model.LongID{}, job.alias)
			return nil
		}
		if err := r.publish(job, id, job.alias); err != nil {
			return err
		}

	default:
		panic(fmt.Sprintf("resolver: unknown job kind %d", job.kind))
	}
	return nil
}

// publish caches and persists a resolved mapping. If the local tiers already
// map the alias or the id differently, waiters could never be woken, so the
// mapping is rejected with ErrConflict.
func (r *Resolver) publish(job Job, id model.LongID, alias model.ShortAlias) error {
	owner, found, err := r.store.ReadID(alias)
	if err != nil {
		slog.Warn("reading local owner of alias failed", "alias", alias, "err", err)
	} else if found && owner != id {
		return fmt.Errorf("%s: alias %s belongs to %s in flat files: %w", job, alias, owner, ErrConflict)
	}

	if !r.cache.Map(id, alias) {
		slog.Debug("mapping already cached", "id", id, "alias", alias)
	}
	if cur, ok := r.cache.Alias(id); !ok || cur != alias {
		return fmt.Errorf("%s: %s is cached as %s: %w", job, id, cur, ErrConflict)
	}
	if cur, ok := r.cache.ID(alias); !ok || cur != id {
		return fmt.Errorf("%s: alias %s is cached for %s: %w", job, alias, cur, ErrConflict)
	}

	if err := r.store.WriteMapping(id, alias, true); err != nil {
		slog.Error("persisting resolved mapping failed", "id", id, "alias", alias, "err", err)
	}
	return nil
}

func (r *Resolver) connectLocked() (Session, error) {
	if r.session != nil {
		return r.session, nil
	}
	sess, err := r.backend.Connect(r.ctx)
	if err != nil {
		return nil, fmt.Errorf("connecting to remote store: %w", err)
	}
	r.session = sess
	return sess, nil
}

func (r *Resolver) disconnect() {
	r.procMu.Lock()
	defer r.procMu.Unlock()
	r.disconnectLocked()
}

func (r *Resolver) disconnectLocked() {
	if r.session == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.session.Close(ctx); err != nil {
		slog.Warn("closing remote session failed", "err", err)
	}
	r.session = nil
}

func (r *Resolver) fail(job Job, err error) {
	slog.Error("remote store fault is not recoverable", "job", job, "err", err)
	r.disconnect()

	r.mu.Lock()
	first := r.fatal == nil
	if first {
		r.fatal = err
	}
	r.mu.Unlock()

	if first && r.onFatal != nil {
		r.onFatal(err)
	}
	r.finish(job, StateFatal)
}

func (r *Resolver) setState(job Job, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[job]; ok {
		r.pending[job] = s
	}
}

func (r *Resolver) finish(job Job, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[job]; !ok {
		return
	}
	delete(r.pending, job)
	slog.Debug("remote job finished", "job", job, "state", s)
	if len(r.pending) == 0 {
		close(r.drained)
	}
}
