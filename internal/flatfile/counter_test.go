package flatfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/shortid/internal/model"
)

const testFloor model.ShortAlias = 0x100

func TestCounter_MonotonicAndSurvivesRestart(t *testing.T) {
	s := newTestStore(t)

	c, err := s.LoadCounter(testFloor)
	require.NoError(t, err)

	prev := model.InvalidAlias
	for range 5 {
		a, err := c.Next()
		require.NoError(t, err)
		assert.Greater(t, a, prev)
		prev = a
	}
	assert.Equal(t, model.ShortAlias(0x104), prev)

	reloaded, err := s.LoadCounter(testFloor)
	require.NoError(t, err)
	a, err := reloaded.Next()
	require.NoError(t, err)
	assert.Equal(t, model.ShortAlias(0x105), a)
}

func TestCounter_RebuiltWhenDeleted(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.WriteMapping(model.NewLongID(1, 1), 0x1A0, false))
	require.NoError(t, s.WriteMapping(model.NewLongID(2, 2), 0x120, false))

	c, err := s.LoadCounter(testFloor)
	require.NoError(t, err)
	assert.Equal(t, model.ShortAlias(0x1A1), c.Peek())
}

func TestCounter_RebuiltWhenCorrupt(t *testing.T) {
	for name, content := range map[string]string{
		"garbage": "not a number",
		"empty":   "",
		"zero":    "0\n",
		"below":   "16\n",
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, s.WriteMapping(model.NewLongID(1, 1), 0x333, false))
			require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), counterFileName), []byte(content), 0o644))

			c, err := s.LoadCounter(testFloor)
			require.NoError(t, err)
			assert.Equal(t, model.ShortAlias(0x334), c.Peek())
		})
	}
}

func TestCounter_PersistsAfterEachAllocation(t *testing.T) {
	s := newTestStore(t)
	c, err := s.LoadCounter(testFloor)
	require.NoError(t, err)

	_, err = c.Next()
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(s.Dir(), counterFileName))
	require.NoError(t, err)
	assert.Equal(t, "257\n", string(data))
}

func TestCounter_Exhausted(t *testing.T) {
	c := &Counter{path: filepath.Join(t.TempDir(), counterFileName), next: ^model.ShortAlias(0)}

	a, err := c.Next()
	require.NoError(t, err)
	assert.Equal(t, ^model.ShortAlias(0), a)

	_, err = c.Next()
	assert.ErrorIs(t, err, ErrExhausted)
}
