package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/shortid/internal/db"
	"github.com/udisondev/shortid/internal/engine"
	"github.com/udisondev/shortid/internal/model"
	"github.com/udisondev/shortid/internal/testutil"
)

func TestEngine_Postgres(t *testing.T) {
	const table = "short_ids"
	dsn := testutil.SetupTestDB(t, table, floor)

	dir := t.TempDir()

	// Локальный режим до подключения базы.
	local := openLocal(t, dir, nil)
	seeded, err := local.GetAlias(ctx(t), testutil.LongID(1))
	require.NoError(t, err)
	require.NoError(t, local.Close(ctx(t)))

	dialer, err := db.NewDialer(dsn, table)
	require.NoError(t, err)

	e, err := engine.Open(dir, engine.Options{Floor: floor, Backend: dialer})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })

	require.NoError(t, e.ImportLocal(ctx(t)))
	assert.Equal(t, int64(1), testutil.CountRows(t, dsn, table))

	got, err := e.GetAlias(ctx(t), testutil.LongID(1))
	require.NoError(t, err)
	assert.Equal(t, seeded, got)

	a, err := e.GetAlias(ctx(t), testutil.LongID(2))
	require.NoError(t, err)
	assert.Equal(t, seeded+1, a)

	id, ok, err := e.GetID(ctx(t), a)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testutil.LongID(2), id)

	_, ok, err = e.GetID(ctx(t), model.ShortAlias(0xFFFF00))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, e.Close(ctx(t)))
	assert.Equal(t, int64(2), testutil.CountRows(t, dsn, table))
}
