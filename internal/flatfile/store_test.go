package flatfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/shortid/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	id := model.NewLongID(0x0123456789ABCDEF, 0xFEDCBA9876543210)

	require.NoError(t, s.WriteMapping(id, 0x100, true))

	alias, ok, err := s.ReadAlias(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ShortAlias(0x100), alias)

	back, ok, err := s.ReadID(0x100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, back)
}

func TestStore_UnsetReadsAbsent(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.ReadAlias(model.NewLongID(1, 1))
	require.NoError(t, err)
	assert.False(t, ok, "missing list file")

	_, ok, err = s.ReadID(0x100)
	require.NoError(t, err)
	assert.False(t, ok, "missing slot file")

	// Neighbouring slot in an existing file must read as unset, not as the
	// zero identifier.
	require.NoError(t, s.WriteMapping(model.NewLongID(2, 2), 0x100, false))
	id, ok, err := s.ReadID(0x101)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, id.IsZero())

	_, ok, err = s.ReadID(model.InvalidAlias)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_SlotFileIsZeroFilled(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteMapping(model.NewLongID(3, 3), 0x1005, false))

	path := filepath.Join(s.Dir(), aliasDirName, "00001xxx.sid")
	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(slotsPerFile*RecordSize), st.Size())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for i, b := range data[:5*RecordSize] {
		require.Zerof(t, b, "byte %d before target slot", i)
	}
	for i, b := range data[6*RecordSize:] {
		require.Zerof(t, b, "byte %d after target slot", i)
	}
}

func TestStore_ShortSlotFileIsCorruptNotFatal(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteMapping(model.NewLongID(4, 4), 0x2FFF, false))

	path := filepath.Join(s.Dir(), aliasDirName, "00002xxx.sid")
	require.NoError(t, os.Truncate(path, 100*RecordSize+3))

	_, ok, err := s.ReadID(0x2FFF)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_MismatchedSlotIsIgnored(t *testing.T) {
	s := newTestStore(t)
	file := s.slotFile(0x300)
	require.NoError(t, file.WriteSlot(slotIndex(0x300), Record{ID: model.NewLongID(5, 5), Alias: 0x999}))

	_, ok, err := s.ReadID(0x300)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_CheckExistingPreventsDuplicates(t *testing.T) {
	s := newTestStore(t)
	id := model.NewLongID(6, 6)

	for range 3 {
		require.NoError(t, s.WriteMapping(id, 0x100, true))
	}

	count := 0
	require.NoError(t, s.pairList(id).Scan(func(Record) bool {
		count++
		return true
	}))
	assert.Equal(t, 1, count)

	require.NoError(t, s.WriteMapping(id, 0x100, false))
	count = 0
	require.NoError(t, s.pairList(id).Scan(func(Record) bool {
		count++
		return true
	}))
	assert.Equal(t, 2, count, "unconditional write appends")
}

func TestStore_TrailingGarbageInPairList(t *testing.T) {
	s := newTestStore(t)
	id := model.NewLongID(7, 7)
	require.NoError(t, s.WriteMapping(id, 0x100, true))

	f, err := os.OpenFile(s.pairList(id).Path(), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	alias, ok, err := s.ReadAlias(id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.ShortAlias(0x100), alias)

	_, ok, err = s.ReadAlias(model.NewLongID(7, 8))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AppendAfterTornTail(t *testing.T) {
	s := newTestStore(t)
	first := model.NewLongID(9, 1)
	second := model.NewLongID(9, 2)
	require.NoError(t, s.WriteMapping(first, 0x100, true))

	path := s.pairList(first).Path()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xAA, 0xBB, 0xCC})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, s.WriteMapping(second, 0x101, true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2*RecordSize), info.Size(), "torn bytes are cut before the append")

	alias, ok, err := s.ReadAlias(second)
	require.NoError(t, err)
	require.True(t, ok, "record written after a torn tail must be readable")
	assert.Equal(t, model.ShortAlias(0x101), alias)

	alias, ok, err = s.ReadAlias(first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ShortAlias(0x100), alias)

	next, err := s.FindNextAlias(0x100)
	require.NoError(t, err)
	assert.Equal(t, model.ShortAlias(0x102), next)
}

func TestStore_RecordWithoutAliasIsSkipped(t *testing.T) {
	s := newTestStore(t)
	id := model.NewLongID(11, 1)

	var buf [RecordSize]byte
	Record{ID: id}.encode(buf[:])
	require.NoError(t, os.WriteFile(s.pairList(id).Path(), buf[:], 0o644))

	alias, ok, err := s.ReadAlias(id)
	require.NoError(t, err)
	assert.False(t, ok, "a record with the invalid alias is not a mapping")
	assert.Equal(t, model.InvalidAlias, alias)

	require.NoError(t, s.WriteMapping(id, 0x200, true))
	alias, ok, err = s.ReadAlias(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.ShortAlias(0x200), alias)
}

func TestStore_RejectsSentinels(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.WriteMapping(model.LongID{}, 0x100, true))
	assert.Error(t, s.WriteMapping(model.NewLongID(1, 1), model.InvalidAlias, true))
}

func TestStore_BuildSnapshot(t *testing.T) {
	s := newTestStore(t)
	want := map[model.LongID]model.ShortAlias{
		model.NewLongID(0x1000000000000000, 1): 0x100,
		model.NewLongID(0x1000000000000000, 2): 0x101,
		model.NewLongID(0xF000000000000000, 3): 0x5000,
	}
	for id, a := range want {
		require.NoError(t, s.WriteMapping(id, a, true))
	}

	got, err := s.BuildSnapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStore_FindNextAlias(t *testing.T) {
	s := newTestStore(t)

	next, err := s.FindNextAlias(0x100)
	require.NoError(t, err)
	assert.Equal(t, model.ShortAlias(0x100), next, "empty store yields floor")

	require.NoError(t, s.WriteMapping(model.NewLongID(1, 1), 0x150, false))
	require.NoError(t, s.WriteMapping(model.NewLongID(0xABC0000000000000, 1), 0x120, false))

	next, err = s.FindNextAlias(0x100)
	require.NoError(t, err)
	assert.Equal(t, model.ShortAlias(0x151), next)
}

func TestStore_Lock(t *testing.T) {
	dir := t.TempDir()
	first, err := Open(dir)
	require.NoError(t, err)
	second, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, first.Lock())
	assert.ErrorIs(t, second.Lock(), ErrLocked)

	require.NoError(t, first.Unlock())
	require.NoError(t, second.Lock())
	require.NoError(t, second.Unlock())
}

func TestStore_FilePartitioning(t *testing.T) {
	s := newTestStore(t)

	assert.Equal(t, "00000xxx.sid", filepath.Base(s.slotFile(0x100).Path()))
	assert.Equal(t, "ABCDExxx.sid", filepath.Base(s.slotFile(0xABCDE123).Path()))
	assert.Equal(t, 0x123, slotIndex(0xABCDE123))

	assert.Equal(t, "F0F.ids", filepath.Base(s.pairList(model.NewLongID(0xF0F1234500000000, 0)).Path()))
}
