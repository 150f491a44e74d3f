package event

import (
	"log/slog"
	"sync"

	"github.com/udisondev/shortid/internal/model"
)

// Resolved announces that an identifier's alias is now known.
type Resolved struct {
	ID    model.LongID
	Alias model.ShortAlias
}

// Handler receives Resolved events.
type Handler func(Resolved)

// Bus fans Resolved events out to subscribers.
// Publish never blocks the caller: handlers run on their own goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	wg       sync.WaitGroup
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers h for all future events.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish dispatches ev to every subscriber asynchronously.
func (b *Bus) Publish(ev Resolved) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	if len(handlers) == 0 {
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for _, h := range handlers {
			b.dispatch(h, ev)
		}
	}()
}

// AliasResolved implements idcache.Notifier.
func (b *Bus) AliasResolved(id model.LongID, alias model.ShortAlias) {
	b.Publish(Resolved{ID: id, Alias: alias})
}

// Wait blocks until every in-flight dispatch has returned.
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) dispatch(h Handler, ev Resolved) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("resolved event handler panicked", "id", ev.ID, "alias", ev.Alias, "panic", r)
		}
	}()
	h(ev)
}
