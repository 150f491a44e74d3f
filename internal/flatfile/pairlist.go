package flatfile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/udisondev/shortid/internal/model"
)

// PairList is an append-only file of Records searched by linear scan.
type PairList struct {
	path string
}

// NewPairList describes a pair list at path.
func NewPairList(path string) PairList {
	return PairList{path: path}
}

// Path returns the file path.
func (l PairList) Path() string {
	return l.path
}

// Scan calls fn for every complete record in file order until fn returns
// false. Records without an id or without a valid alias are skipped.
// A trailing partial record stops the scan with ErrCorruptRecord.
// A missing file scans as empty.
func (l PairList) Scan(fn func(Record) bool) error {
	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("opening pair list %s: %w", l.path, err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	var buf [RecordSize]byte
	for {
		n, err := io.ReadFull(r, buf[:])
		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			return fmt.Errorf("pair list %s: trailing %d bytes: %w", l.path, n, ErrCorruptRecord)
		default:
			return fmt.Errorf("reading pair list %s: %w", l.path, err)
		}

		rec := decodeRecord(buf[:])
		if rec.ID.IsZero() {
			continue
		}
		if !rec.Alias.Valid() {
			slog.Warn("skipping pair list record without alias", "path", l.path, "id", rec.ID)
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
}

// Find returns the alias of the first record for id.
func (l PairList) Find(id model.LongID) (model.ShortAlias, bool, error) {
	var (
		alias model.ShortAlias
		found bool
	)
	err := l.Scan(func(rec Record) bool {
		if rec.ID != id {
			return true
		}
		alias, found = rec.Alias, true
		return false
	})
	return alias, found, err
}

// Append adds rec at the end of the list, creating the file if needed.
// A torn trailing record left by an interrupted append is cut off first, so
// the new record starts on a record boundary.
func (l PairList) Append(rec Record) error {
	file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening pair list %s: %w", l.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat pair list %s: %w", l.path, err)
	}

	end := info.Size() - info.Size()%RecordSize
	if end != info.Size() {
		slog.Warn("truncating torn record in pair list", "path", l.path, "bytes", info.Size()-end)
		if err := file.Truncate(end); err != nil {
			file.Close()
			return fmt.Errorf("truncating pair list %s: %w", l.path, err)
		}
	}

	var buf [RecordSize]byte
	rec.encode(buf[:])
	if _, err := file.WriteAt(buf[:], end); err != nil {
		file.Close()
		return fmt.Errorf("appending to pair list %s: %w", l.path, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing pair list %s: %w", l.path, err)
	}
	return nil
}
