package model

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// LongIDSize is the size of a LongID in its binary form.
const LongIDSize = 16

// LongID is the 128-bit player identifier, stored as two 64-bit halves.
// The zero value is the "no identifier" sentinel.
type LongID struct {
	Hi uint64
	Lo uint64
}

// NewLongID builds a LongID from its halves.
func NewLongID(hi, lo uint64) LongID {
	return LongID{Hi: hi, Lo: lo}
}

// LongIDFromUUID converts a UUID (big-endian, RFC 4122 byte order) to a LongID.
func LongIDFromUUID(u uuid.UUID) LongID {
	return LongID{
		Hi: binary.BigEndian.Uint64(u[:8]),
		Lo: binary.BigEndian.Uint64(u[8:]),
	}
}

// LongIDFromBytes decodes the 16-byte big-endian form produced by Bytes.
func LongIDFromBytes(b []byte) (LongID, error) {
	if len(b) != LongIDSize {
		return LongID{}, fmt.Errorf("long id must be %d bytes, got %d", LongIDSize, len(b))
	}
	return LongID{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// ParseLongID parses canonical UUID text (any form accepted by uuid.Parse).
func ParseLongID(s string) (LongID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return LongID{}, fmt.Errorf("parsing long id %q: %w", s, err)
	}
	return LongIDFromUUID(u), nil
}

// IsZero reports whether id is the sentinel.
func (id LongID) IsZero() bool {
	return id.Hi == 0 && id.Lo == 0
}

// Bytes returns the 16-byte big-endian form (Hi first).
func (id LongID) Bytes() []byte {
	b := make([]byte, LongIDSize)
	binary.BigEndian.PutUint64(b[:8], id.Hi)
	binary.BigEndian.PutUint64(b[8:], id.Lo)
	return b
}

// UUID returns id as a uuid.UUID.
func (id LongID) UUID() uuid.UUID {
	var u uuid.UUID
	copy(u[:], id.Bytes())
	return u
}

// String returns canonical UUID text.
func (id LongID) String() string {
	return id.UUID().String()
}

// ShortAlias is the 32-bit alias assigned to a LongID. Zero is invalid.
type ShortAlias uint32

// InvalidAlias is the "unassigned" sentinel.
const InvalidAlias ShortAlias = 0

// Valid reports whether a is not the sentinel.
func (a ShortAlias) Valid() bool {
	return a != InvalidAlias
}

// String renders a as 8 uppercase hex digits.
func (a ShortAlias) String() string {
	return fmt.Sprintf("%08X", uint32(a))
}

// ParseShortAlias parses hex text as produced by ShortAlias.String.
// An optional 0x prefix is accepted.
func ParseShortAlias(s string) (ShortAlias, error) {
	t := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(t, 16, 32)
	if err != nil {
		return InvalidAlias, fmt.Errorf("parsing short alias %q: %w", s, err)
	}
	return ShortAlias(v), nil
}
