package db

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/shortid/internal/model"
	"github.com/udisondev/shortid/internal/resolver"
)

func openSession(t *testing.T, table string) resolver.Session {
	t.Helper()
	d, err := NewDialer(testDSN, table)
	require.NoError(t, err)

	sess, err := d.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close(context.Background()) })
	return sess
}

func TestPrepare_IsIdempotent(t *testing.T) {
	table := setupTestTable(t, "prepare")

	created, err := Prepare(context.Background(), testDSN, table, testFloor, 0)
	require.NoError(t, err)
	assert.False(t, created, "second prepare must not report a new table")
}

func TestSession_GetOrCreate(t *testing.T) {
	table := setupTestTable(t, "get_or_create")
	sess := openSession(t, table)
	ctx := context.Background()

	id1 := model.NewLongID(0x1111, 0x2222)
	id2 := model.NewLongID(0x3333, 0x4444)

	a1, err := sess.GetOrCreate(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, testFloor, a1, "first alias is the configured floor")

	again, err := sess.GetOrCreate(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, a1, again)

	a2, err := sess.GetOrCreate(ctx, id2)
	require.NoError(t, err)
	assert.NotEqual(t, a1, a2)

	got, ok, err := sess.Lookup(ctx, a2)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, id2, got)
}

func TestSession_ConcurrentGetOrCreate(t *testing.T) {
	table := setupTestTable(t, "concurrent")
	d, err := NewDialer(testDSN, table)
	require.NoError(t, err)

	id := model.NewLongID(0xABCD, 0xEF01)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]model.ShortAlias, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := d.Connect(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer sess.Close(ctx)
			results[i], err = sess.GetOrCreate(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for _, a := range results {
		assert.Equal(t, results[0], a)
	}
}

func TestSession_LookupUnknown(t *testing.T) {
	table := setupTestTable(t, "lookup_unknown")
	sess := openSession(t, table)

	id, ok, err := sess.Lookup(context.Background(), 0xDEAD)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, id.IsZero())
}

func TestSession_Import(t *testing.T) {
	table := setupTestTable(t, "import")
	sess := openSession(t, table)
	ctx := context.Background()

	snapshot := map[model.LongID]model.ShortAlias{
		model.NewLongID(1, 1): 0x100,
		model.NewLongID(2, 2): 0x180,
	}
	require.NoError(t, sess.Import(ctx, snapshot))
	// Повторный импорт не должен дублировать строки.
	require.NoError(t, sess.Import(ctx, snapshot))

	database, err := New(ctx, testDSN)
	require.NoError(t, err)
	defer database.Close()

	n, err := database.CountRows(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for id, a := range snapshot {
		got, err := sess.GetOrCreate(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}

	// New identifiers continue after the highest imported alias.
	next, err := sess.GetOrCreate(ctx, model.NewLongID(3, 3))
	require.NoError(t, err)
	assert.Equal(t, model.ShortAlias(0x181), next)
}

func TestDB_TableExists(t *testing.T) {
	table := setupTestTable(t, "exists")
	ctx := context.Background()

	database, err := New(ctx, testDSN)
	require.NoError(t, err)
	defer database.Close()

	ok, err := database.TableExists(ctx, table)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = database.TableExists(ctx, "no_such_table")
	require.NoError(t, err)
	assert.False(t, ok)
}
