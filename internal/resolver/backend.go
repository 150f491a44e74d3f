package resolver

import (
	"context"
	"errors"

	"github.com/udisondev/shortid/internal/model"
)

// Fault classes. Backends wrap their errors with one of these; any other
// error is treated as non-recoverable.
var (
	// ErrTransient: retry the same job after the retry delay, keep the session.
	ErrTransient = errors.New("transient remote store fault")
	// ErrConnection: drop the session, reconnect and retry.
	ErrConnection = errors.New("remote store connection fault")
)

var (
	// ErrUnavailable is returned once a non-recoverable fault has been seen.
	ErrUnavailable = errors.New("remote resolver unavailable")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("remote resolver closed")
	// ErrConflict means the remote store and the local tiers disagree about
	// a mapping. It is fatal.
	ErrConflict = errors.New("remote mapping conflicts with local mapping")
)

// Backend opens sessions against the remote store.
type Backend interface {
	Connect(ctx context.Context) (Session, error)
}

// Session is one exclusive connection to the remote store.
type Session interface {
	// GetOrCreate inserts id if absent and returns its alias.
	GetOrCreate(ctx context.Context, id model.LongID) (model.ShortAlias, error)
	// Lookup returns the identifier that owns alias.
	Lookup(ctx context.Context, alias model.ShortAlias) (model.LongID, bool, error)
	// Import inserts every mapping, ignoring rows that already exist.
	Import(ctx context.Context, snapshot map[model.LongID]model.ShortAlias) error
	Close(ctx context.Context) error
}

// Cache receives resolved mappings.
type Cache interface {
	Map(id model.LongID, alias model.ShortAlias) bool
	Alias(id model.LongID) (model.ShortAlias, bool)
	ID(alias model.ShortAlias) (model.LongID, bool)
}

// Persister writes resolved mappings to the local tier.
type Persister interface {
	ReadID(alias model.ShortAlias) (model.LongID, bool, error)
	WriteMapping(id model.LongID, alias model.ShortAlias, checkExisting bool) error
}
