// Package flatfile is the durable local tier: binary tables mapping
// LongID -> ShortAlias and ShortAlias -> LongID, plus the local alias counter.
//
// Layout under the data directory:
//
//	sid/<alias>>12 as %05X>xxx.sid   4096 fixed slots, indexed by alias & 0xFFF
//	ids/<LongID.Hi>>52 as %03X>.ids  append-only list of records
//	next_alias.dat                   next local alias, decimal text
//	.lock                            exclusive owner lock
package flatfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gofrs/flock"

	"github.com/udisondev/shortid/internal/model"
)

const (
	aliasDirName = "sid"
	idDirName    = "ids"
	lockFileName = ".lock"

	aliasFileExt = ".sid"
	idFileExt    = ".ids"

	slotBits     = 12
	slotsPerFile = 1 << slotBits
	slotMask     = slotsPerFile - 1

	idPrefixBits = 12
)

// ErrLocked is returned by Lock when another process owns the directory.
var ErrLocked = errors.New("data directory is locked by another process")

// Store reads and writes the flat-file tables. Safe for concurrent use;
// operations are serialized.
type Store struct {
	dir  string
	mu   sync.Mutex
	lock *flock.Flock
}

// Open prepares dir (creating the table directories) and returns a Store.
func Open(dir string) (*Store, error) {
	for _, sub := range []string{aliasDirName, idDirName} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", sub, err)
		}
	}
	return &Store{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, lockFileName)),
	}, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Lock takes the cross-process owner lock on the data directory.
func (s *Store) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking data directory %s: %w", s.dir, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", s.dir, ErrLocked)
	}
	return nil
}

// Unlock releases the owner lock.
func (s *Store) Unlock() error {
	if err := s.lock.Unlock(); err != nil {
		return fmt.Errorf("unlocking data directory %s: %w", s.dir, err)
	}
	return nil
}

// ReadAlias looks id up in its pair list.
// Corrupt data is logged and reported as not found.
func (s *Store) ReadAlias(id model.LongID) (model.ShortAlias, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.pairList(id)
	alias, found, err := list.Find(id)
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			slog.Warn("flat file is corrupt", "path", list.Path(), "err", err)
			return alias, found, nil
		}
		return model.InvalidAlias, false, fmt.Errorf("reading alias for %s: %w", id, err)
	}
	return alias, found, nil
}

// ReadID reads the slot for alias.
// Unset, short or mismatched slots are reported as not found.
func (s *Store) ReadID(alias model.ShortAlias) (model.LongID, bool, error) {
	if !alias.Valid() {
		return model.LongID{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file := s.slotFile(alias)
	rec, err := file.ReadSlot(slotIndex(alias))
	if err != nil {
		if errors.Is(err, ErrCorruptRecord) {
			slog.Warn("flat file is corrupt", "path", file.Path(), "alias", alias, "err", err)
			return model.LongID{}, false, nil
		}
		return model.LongID{}, false, fmt.Errorf("reading id for %s: %w", alias, err)
	}

	if rec.IsZero() {
		return model.LongID{}, false, nil
	}
	if rec.Alias != alias || rec.ID.IsZero() {
		slog.Warn("flat file slot does not match its alias",
			"path", file.Path(), "alias", alias, "stored", rec.Alias)
		return model.LongID{}, false, nil
	}
	return rec.ID, true, nil
}

// WriteMapping persists id <-> alias in both tables.
// With checkExisting the pair list is searched first and nothing is appended
// if id already has an entry. The slot is always (re)written.
func (s *Store) WriteMapping(id model.LongID, alias model.ShortAlias, checkExisting bool) error {
	if id.IsZero() || !alias.Valid() {
		return fmt.Errorf("refusing to persist sentinel mapping %s -> %s", id, alias)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := Record{ID: id, Alias: alias}
	var errs []error

	if err := s.appendPair(rec, checkExisting); err != nil {
		errs = append(errs, err)
	}
	if err := s.slotFile(alias).WriteSlot(slotIndex(alias), rec); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Store) appendPair(rec Record, checkExisting bool) error {
	list := s.pairList(rec.ID)
	if checkExisting {
		_, found, err := list.Find(rec.ID)
		if err != nil && !errors.Is(err, ErrCorruptRecord) {
			return err
		}
		if found {
			return nil
		}
	}
	return list.Append(rec)
}

// BuildSnapshot scans every pair list and returns all known mappings.
// Used to seed a freshly created remote table.
func (s *Store) BuildSnapshot() (map[model.LongID]model.ShortAlias, error) {
	snapshot := make(map[model.LongID]model.ShortAlias)
	err := s.scanAll(func(rec Record) {
		if !rec.Alias.Valid() {
			return
		}
		if _, ok := snapshot[rec.ID]; !ok {
			snapshot[rec.ID] = rec.Alias
		}
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// FindNextAlias returns one past the highest persisted alias, or floor if
// nothing higher is stored.
func (s *Store) FindNextAlias(floor model.ShortAlias) (model.ShortAlias, error) {
	next := floor
	exhausted := false
	err := s.scanAll(func(rec Record) {
		if rec.Alias < next {
			return
		}
		if rec.Alias == ^model.ShortAlias(0) {
			exhausted = true
			return
		}
		next = rec.Alias + 1
	})
	if err != nil {
		return model.InvalidAlias, err
	}
	if exhausted {
		return model.InvalidAlias, ErrExhausted
	}
	return next, nil
}

func (s *Store) scanAll(fn func(Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.dir, idDirName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("listing %s: %w", dir, err)
	}

	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.HasSuffix(e.Name(), idFileExt) {
			continue
		}
		list := NewPairList(filepath.Join(dir, e.Name()))
		err := list.Scan(func(rec Record) bool {
			fn(rec)
			return true
		})
		if err != nil {
			if errors.Is(err, ErrCorruptRecord) {
				slog.Warn("flat file is corrupt", "path", list.Path(), "err", err)
				continue
			}
			return err
		}
	}
	return nil
}

func (s *Store) pairList(id model.LongID) PairList {
	prefix := id.Hi >> (64 - idPrefixBits)
	name := fmt.Sprintf("%03X%s", prefix, idFileExt)
	return NewPairList(filepath.Join(s.dir, idDirName, name))
}

func (s *Store) slotFile(alias model.ShortAlias) SlotFile {
	name := fmt.Sprintf("%05Xxxx%s", uint32(alias)>>slotBits, aliasFileExt)
	return NewSlotFile(filepath.Join(s.dir, aliasDirName, name), slotsPerFile)
}

func slotIndex(alias model.ShortAlias) int {
	return int(uint32(alias) & slotMask)
}
