// Package idcache holds the in-memory LongID <-> ShortAlias mapping.
//
// The cache is the fastest resolution tier. Besides point reads it lets
// callers park until a mapping lands (WaitForAlias / WaitForID) and arms
// one-shot "resolved" notifications for identifiers not known yet.
package idcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/udisondev/shortid/internal/model"
)

// ErrClosed is returned to waiters released by Close.
var ErrClosed = errors.New("id cache closed")

// Notifier receives one-shot "alias is now known" notifications.
// It is called outside the cache lock.
type Notifier interface {
	AliasResolved(id model.LongID, alias model.ShortAlias)
}

// Cache is a bidirectional LongID <-> ShortAlias map.
//
// All state lives behind one mutex. Waiters park on changed, which Map
// closes and replaces on every insert; each waiter then re-checks its own
// key. Checking the key and capturing the channel under the same lock means
// a Map can never slip in between and be missed.
type Cache struct {
	mu      sync.Mutex
	toAlias map[model.LongID]model.ShortAlias
	toID    map[model.ShortAlias]model.LongID
	notify  map[model.LongID]struct{}
	changed chan struct{}
	closed  error

	notifier Notifier
}

// New creates an empty cache. notifier may be nil.
func New(notifier Notifier) *Cache {
	return &Cache{
		toAlias:  make(map[model.LongID]model.ShortAlias),
		toID:     make(map[model.ShortAlias]model.LongID),
		notify:   make(map[model.LongID]struct{}),
		changed:  make(chan struct{}),
		notifier: notifier,
	}
}

// Map inserts id <-> alias. The first writer for id wins: if id is already
// mapped, Map returns false and changes nothing.
//
// A zero id records that alias has no owner. It is stored in the reverse
// direction only and is replaced if alias is later mapped to a real id.
func (c *Cache) Map(id model.LongID, alias model.ShortAlias) bool {
	if !alias.Valid() {
		return false
	}

	c.mu.Lock()

	if id.IsZero() {
		if _, ok := c.toID[alias]; ok {
			c.mu.Unlock()
			return false
		}
		c.toID[alias] = id
		c.broadcastLocked()
		c.mu.Unlock()
		return true
	}

	if _, ok := c.toAlias[id]; ok {
		c.mu.Unlock()
		return false
	}
	if owner, ok := c.toID[alias]; ok && !owner.IsZero() {
		c.mu.Unlock()
		return false
	}

	c.toAlias[id] = alias
	c.toID[alias] = id

	_, armed := c.notify[id]
	if armed {
		delete(c.notify, id)
	}
	c.broadcastLocked()
	c.mu.Unlock()

	if armed && c.notifier != nil {
		c.notifier.AliasResolved(id, alias)
	}
	return true
}

// Alias returns the alias mapped to id.
func (c *Cache) Alias(id model.LongID) (model.ShortAlias, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.toAlias[id]
	return a, ok
}

// ID returns the identifier mapped to alias. A cached "no owner" entry is
// returned as the zero LongID with ok == true.
func (c *Cache) ID(alias model.ShortAlias) (model.LongID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.toID[alias]
	return id, ok
}

// WaitForAlias blocks until id is mapped and returns its alias.
// The caller must have scheduled a resolution for id first.
func (c *Cache) WaitForAlias(ctx context.Context, id model.LongID) (model.ShortAlias, error) {
	for {
		c.mu.Lock()
		if a, ok := c.toAlias[id]; ok {
			c.mu.Unlock()
			return a, nil
		}
		if c.closed != nil {
			err := c.closed
			c.mu.Unlock()
			return model.InvalidAlias, err
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return model.InvalidAlias, ctx.Err()
		}
	}
}

// WaitForID blocks until alias is mapped. ok is false when the alias turned
// out to have no owner.
func (c *Cache) WaitForID(ctx context.Context, alias model.ShortAlias) (model.LongID, bool, error) {
	for {
		c.mu.Lock()
		if id, ok := c.toID[alias]; ok {
			c.mu.Unlock()
			return id, !id.IsZero(), nil
		}
		if c.closed != nil {
			err := c.closed
			c.mu.Unlock()
			return model.LongID{}, false, err
		}
		ch := c.changed
		c.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return model.LongID{}, false, ctx.Err()
		}
	}
}

// RegisterNotifyOnResolve arms a one-shot notification for id.
// If id is already mapped the notification fires immediately and the alias
// is returned with ok == true.
func (c *Cache) RegisterNotifyOnResolve(id model.LongID) (model.ShortAlias, bool) {
	c.mu.Lock()
	a, ok := c.toAlias[id]
	if !ok {
		c.notify[id] = struct{}{}
	}
	c.mu.Unlock()

	if ok && c.notifier != nil {
		c.notifier.AliasResolved(id, a)
	}
	return a, ok
}

// Close releases every current and future waiter with an error wrapping
// ErrClosed and cause. Mappings stay readable.
func (c *Cache) Close(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed != nil {
		return
	}
	if cause == nil {
		c.closed = ErrClosed
	} else {
		c.closed = fmt.Errorf("%w: %w", ErrClosed, cause)
	}
	c.broadcastLocked()
}

// Len returns the number of forward mappings.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.toAlias)
}

func (c *Cache) broadcastLocked() {
	close(c.changed)
	c.changed = make(chan struct{})
}
