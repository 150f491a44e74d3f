package flatfile

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// SlotFile is a flat array of fixed-size records addressed by slot index.
// A missing file or a never-written slot reads back as the zero Record.
// The file is opened and closed on every call.
type SlotFile struct {
	path  string
	slots int
}

// NewSlotFile describes a slot file at path holding slots records.
func NewSlotFile(path string, slots int) SlotFile {
	return SlotFile{path: path, slots: slots}
}

// Path returns the file path.
func (f SlotFile) Path() string {
	return f.path
}

// Size is the full size of the file once initialized.
func (f SlotFile) Size() int64 {
	return int64(f.slots) * RecordSize
}

// ReadSlot reads the record at slot i.
// A short read returns ErrCorruptRecord.
func (f SlotFile) ReadSlot(i int) (Record, error) {
	if err := f.checkIndex(i); err != nil {
		return Record{}, err
	}

	file, err := os.Open(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("opening slot file %s: %w", f.path, err)
	}
	defer file.Close()

	var buf [RecordSize]byte
	n, err := file.ReadAt(buf[:], f.offset(i))
	if n < RecordSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return Record{}, fmt.Errorf("reading slot %d of %s: %w", i, f.path, err)
		}
		return Record{}, fmt.Errorf("slot %d of %s: %d of %d bytes: %w", i, f.path, n, RecordSize, ErrCorruptRecord)
	}
	return decodeRecord(buf[:]), nil
}

// WriteSlot stores r at slot i. A new or short file is zero-filled to its
// full size before the slot is written.
func (f SlotFile) WriteSlot(i int, r Record) error {
	if err := f.checkIndex(i); err != nil {
		return err
	}

	file, err := os.OpenFile(f.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("opening slot file %s: %w", f.path, err)
	}

	if err := f.zeroFill(file); err != nil {
		file.Close()
		return err
	}

	var buf [RecordSize]byte
	r.encode(buf[:])
	if _, err := file.WriteAt(buf[:], f.offset(i)); err != nil {
		file.Close()
		return fmt.Errorf("writing slot %d of %s: %w", i, f.path, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("closing slot file %s: %w", f.path, err)
	}
	return nil
}

func (f SlotFile) zeroFill(file *os.File) error {
	st, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat slot file %s: %w", f.path, err)
	}
	cur := st.Size()
	if cur >= f.Size() {
		return nil
	}

	zeros := make([]byte, f.Size()-cur)
	if _, err := file.WriteAt(zeros, cur); err != nil {
		return fmt.Errorf("zero-filling slot file %s: %w", f.path, err)
	}
	return nil
}

func (f SlotFile) offset(i int) int64 {
	return int64(i) * RecordSize
}

func (f SlotFile) checkIndex(i int) error {
	if i < 0 || i >= f.slots {
		return fmt.Errorf("slot %d out of range [0, %d)", i, f.slots)
	}
	return nil
}
