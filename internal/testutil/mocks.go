package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/udisondev/shortid/internal/model"
	"github.com/udisondev/shortid/internal/resolver"
)

// FakeBackend: in-memory имплементация resolver.Backend для unit тестов.
// Не требует реального PostgreSQL. Умеет инжектить ошибки и задерживать
// выполнение запросов.
type FakeBackend struct {
	mu      sync.Mutex
	byID    map[model.LongID]model.ShortAlias
	byAlias map[model.ShortAlias]model.LongID
	next    model.ShortAlias

	queryFaults   []error
	connectFaults []error
	gate          chan struct{}

	connects    int
	closes      int
	getOrCreate int
	lookups     int
	imports     int
}

// NewFakeBackend создаёт пустое хранилище, выдающее alias начиная с floor.
func NewFakeBackend(floor model.ShortAlias) *FakeBackend {
	return &FakeBackend{
		byID:    make(map[model.LongID]model.ShortAlias),
		byAlias: make(map[model.ShortAlias]model.LongID),
		next:    floor,
	}
}

// Seed добавляет готовую строку.
func (b *FakeBackend) Seed(id model.LongID, alias model.ShortAlias) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.insertLocked(id, alias)
}

// FailQueries ставит ошибки в очередь: каждый следующий запрос забирает одну.
func (b *FakeBackend) FailQueries(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryFaults = append(b.queryFaults, errs...)
}

// FailConnects ставит в очередь ошибки для Connect.
func (b *FakeBackend) FailConnects(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectFaults = append(b.connectFaults, errs...)
}

// Hold блокирует все запросы до вызова Release.
func (b *FakeBackend) Hold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gate = make(chan struct{})
}

// Release снимает блокировку, поставленную Hold.
func (b *FakeBackend) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gate != nil {
		close(b.gate)
		b.gate = nil
	}
}

// Calls возвращает количество вызовов GetOrCreate и Lookup.
func (b *FakeBackend) Calls() (getOrCreate, lookups int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.getOrCreate, b.lookups
}

// Connections возвращает количество открытых и закрытых сессий.
func (b *FakeBackend) Connections() (connects, closes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.closes
}

// Imports возвращает количество вызовов Import.
func (b *FakeBackend) Imports() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.imports
}

// Rows возвращает копию всех строк.
func (b *FakeBackend) Rows() map[model.LongID]model.ShortAlias {
	b.mu.Lock()
	defer b.mu.Unlock()
	rows := make(map[model.LongID]model.ShortAlias, len(b.byID))
	for id, a := range b.byID {
		rows[id] = a
	}
	return rows
}

// Connect implements resolver.Backend.
func (b *FakeBackend) Connect(ctx context.Context) (resolver.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connectFaults) > 0 {
		err := b.connectFaults[0]
		b.connectFaults = b.connectFaults[1:]
		return nil, err
	}
	b.connects++
	return &fakeSession{b: b}, nil
}

func (b *FakeBackend) insertLocked(id model.LongID, alias model.ShortAlias) {
	if _, ok := b.byID[id]; ok {
		return
	}
	if _, ok := b.byAlias[alias]; ok {
		return
	}
	b.byID[id] = alias
	b.byAlias[alias] = id
	if alias >= b.next {
		b.next = alias + 1
	}
}

// enter ждёт gate и забирает очередную инжектированную ошибку.
func (b *FakeBackend) enter(ctx context.Context) error {
	b.mu.Lock()
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queryFaults) > 0 {
		err := b.queryFaults[0]
		b.queryFaults = b.queryFaults[1:]
		return err
	}
	return nil
}

type fakeSession struct {
	b      *FakeBackend
	closed bool
}

var errSessionClosed = errors.New("fake session closed")

func (s *fakeSession) GetOrCreate(ctx context.Context, id model.LongID) (model.ShortAlias, error) {
	if s.closed {
		return model.InvalidAlias, errSessionClosed
	}
	s.b.mu.Lock()
	s.b.getOrCreate++
	s.b.mu.Unlock()

	if err := s.b.enter(ctx); err != nil {
		return model.InvalidAlias, err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if _, ok := s.b.byID[id]; !ok {
		s.b.insertLocked(id, s.b.next)
	}
	return s.b.byID[id], nil
}

func (s *fakeSession) Lookup(ctx context.Context, alias model.ShortAlias) (model.LongID, bool, error) {
	if s.closed {
		return model.LongID{}, false, errSessionClosed
	}
	s.b.mu.Lock()
	s.b.lookups++
	s.b.mu.Unlock()

	if err := s.b.enter(ctx); err != nil {
		return model.LongID{}, false, err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	id, ok := s.b.byAlias[alias]
	return id, ok, nil
}

func (s *fakeSession) Import(ctx context.Context, snapshot map[model.LongID]model.ShortAlias) error {
	if s.closed {
		return errSessionClosed
	}
	s.b.mu.Lock()
	s.b.imports++
	s.b.mu.Unlock()

	if err := s.b.enter(ctx); err != nil {
		return err
	}

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for id, a := range snapshot {
		s.b.insertLocked(id, a)
	}
	return nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.b.closes++
	}
	return nil
}
