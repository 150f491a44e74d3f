package flatfile

import (
	"encoding/binary"
	"errors"

	"github.com/udisondev/shortid/internal/model"
)

// RecordSize is the on-disk size of one Record.
//
// Layout (big-endian):
//
//	0..8   LongID.Hi
//	8..16  LongID.Lo
//	16..20 ShortAlias
const RecordSize = 2*8 + 4

// ErrCorruptRecord marks a record that could not be read in full or does not
// belong where it was found.
var ErrCorruptRecord = errors.New("corrupt flat file record")

// Record is one persisted (LongID, ShortAlias) pair. All-zero means unset.
type Record struct {
	ID    model.LongID
	Alias model.ShortAlias
}

// IsZero reports whether r is the unset record.
func (r Record) IsZero() bool {
	return r.ID.IsZero() && r.Alias == model.InvalidAlias
}

func (r Record) encode(buf []byte) {
	binary.BigEndian.PutUint64(buf[0:8], r.ID.Hi)
	binary.BigEndian.PutUint64(buf[8:16], r.ID.Lo)
	binary.BigEndian.PutUint32(buf[16:20], uint32(r.Alias))
}

func decodeRecord(buf []byte) Record {
	return Record{
		ID: model.NewLongID(
			binary.BigEndian.Uint64(buf[0:8]),
			binary.BigEndian.Uint64(buf[8:16]),
		),
		Alias: model.ShortAlias(binary.BigEndian.Uint32(buf[16:20])),
	}
}
