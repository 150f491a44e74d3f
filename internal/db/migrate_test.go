package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/shortid/internal/model"
)

func TestRunMigrations_ConcurrentTables(t *testing.T) {
	if testPool == nil {
		t.Skip("skipping database test in short mode")
	}
	ctx := context.Background()

	floors := []model.ShortAlias{0x100, 0x5000, 0x9000, 0xA0000}
	tables := make([]string, len(floors))
	for i := range floors {
		tables[i] = fmt.Sprintf("%s_migrate_%d", testTable, i)
	}
	t.Cleanup(func() {
		for _, table := range tables {
			_, _ = testPool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
			_, _ = testPool.Exec(ctx, "DROP TABLE IF EXISTS "+table+"_goose_version")
		}
	})

	var g errgroup.Group
	for i := range tables {
		g.Go(func() error {
			return RunMigrations(ctx, testDSN, tables[i], floors[i])
		})
	}
	require.NoError(t, g.Wait())

	for i, table := range tables {
		d, err := NewDialer(testDSN, table)
		require.NoError(t, err)
		sess, err := d.Connect(ctx)
		require.NoError(t, err)

		a, err := sess.GetOrCreate(ctx, model.NewLongID(1, uint64(i)+1))
		require.NoError(t, err)
		assert.Equal(t, floors[i], a, "table %s starts at its own floor", table)
		require.NoError(t, sess.Close(ctx))

		var versions int
		err = testPool.QueryRow(ctx, "SELECT count(*) FROM "+table+"_goose_version WHERE version_id > 0").Scan(&versions)
		require.NoError(t, err)
		assert.Positive(t, versions, "table %s has its own goose version table", table)
	}

	// Повторный прогон: ничего не применяется.
	require.NoError(t, RunMigrations(ctx, testDSN, tables[0], floors[0]))
}
