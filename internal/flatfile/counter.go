package flatfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/renameio"

	"github.com/udisondev/shortid/internal/model"
)

const counterFileName = "next_alias.dat"

// ErrExhausted is returned once the 32-bit alias space is used up.
var ErrExhausted = errors.New("alias space exhausted")

// Counter hands out sequential local aliases and persists the next value
// after every allocation.
type Counter struct {
	mu   sync.Mutex
	path string
	next model.ShortAlias
}

// LoadCounter reads the counter file. If it is missing, unreadable as a
// number or below floor, the next value is rebuilt by scanning the store.
func (s *Store) LoadCounter(floor model.ShortAlias) (*Counter, error) {
	path := filepath.Join(s.dir, counterFileName)

	next, err := readCounterFile(path)
	switch {
	case err == nil && next >= floor:
	case errors.Is(err, os.ErrNotExist):
		if next, err = s.FindNextAlias(floor); err != nil {
			return nil, fmt.Errorf("scanning for next alias: %w", err)
		}
	default:
		slog.Error("next alias file is corrupt, scanning data files", "path", path, "err", err)
		if next, err = s.FindNextAlias(floor); err != nil {
			return nil, fmt.Errorf("scanning for next alias: %w", err)
		}
	}

	slog.Info("next local alias", "alias", next)
	return &Counter{path: path, next: next}, nil
}

func readCounterFile(path string) (model.ShortAlias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.InvalidAlias, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return model.InvalidAlias, fmt.Errorf("parsing %s: %w", path, err)
	}
	if v == 0 {
		return model.InvalidAlias, fmt.Errorf("%s holds the invalid alias", path)
	}
	return model.ShortAlias(v), nil
}

// Next allocates the next alias. A failure to persist the counter is logged
// and does not fail the allocation: the mapping itself still reaches the
// tables, so a later rescan recovers the counter.
func (c *Counter) Next() (model.ShortAlias, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.next.Valid() {
		return model.InvalidAlias, ErrExhausted
	}

	alias := c.next
	c.next++

	data := []byte(strconv.FormatUint(uint64(c.next), 10) + "\n")
	if err := renameio.WriteFile(c.path, data, 0o644); err != nil {
		slog.Error("saving next alias failed", "path", c.path, "err", err)
	}
	return alias, nil
}

// Peek returns the alias the next call to Next will hand out.
func (c *Counter) Peek() model.ShortAlias {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}
