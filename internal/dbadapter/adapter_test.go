package dbadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Adapter {
	t.Helper()
	a, err := Open(Opts{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestExecAndSelect(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()

	_, err := a.ExecStatement(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	_, err = a.ExecStatement(ctx, `INSERT INTO t (id, v) VALUES (1, 'a'), (2, 'b')`)
	require.NoError(t, err)

	var got []string
	err = a.ExecSelect(ctx, `SELECT v FROM t ORDER BY id`, func(scan func(dest ...interface{}) error) error {
		var v string
		if err := scan(&v); err != nil {
			return err
		}
		got = append(got, v)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestTransactionNesting(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	_, err := a.ExecStatement(ctx, `CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)

	require.NoError(t, a.Begin(ctx))
	require.NoError(t, a.Begin(ctx)) // re-entrant
	_, err = a.ExecStatement(ctx, `INSERT INTO t (v) VALUES ('x')`)
	require.NoError(t, err)
	require.NoError(t, a.Commit()) // inner commit is a no-op on disk
	require.True(t, a.InTransaction())
	require.NoError(t, a.Commit()) // outer commit actually commits
	require.False(t, a.InTransaction())

	var count int
	err = a.ExecSelect(ctx, `SELECT count(*) FROM t`, func(scan func(dest ...interface{}) error) error {
		return scan(&count)
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestAbortRollsBackRegardlessOfDepth(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	_, err := a.ExecStatement(ctx, `CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)

	require.NoError(t, a.Begin(ctx))
	require.NoError(t, a.Begin(ctx))
	_, err = a.ExecStatement(ctx, `INSERT INTO t (v) VALUES ('x')`)
	require.NoError(t, err)
	require.NoError(t, a.Abort())
	require.False(t, a.InTransaction())

	var count int
	err = a.ExecSelect(ctx, `SELECT count(*) FROM t`, func(scan func(dest ...interface{}) error) error {
		return scan(&count)
	})
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestHasTableWithColumn(t *testing.T) {
	a := openTest(t)
	ctx := context.Background()
	_, err := a.ExecStatement(ctx, `CREATE TABLE folders (folder_id INTEGER, folder_name TEXT)`)
	require.NoError(t, err)

	has, err := a.HasTableWithColumn(ctx, "folders", "folder_id")
	require.NoError(t, err)
	require.True(t, has)

	has, err = a.HasTableWithColumn(ctx, "folders", "nope")
	require.NoError(t, err)
	require.False(t, has)

	has, err = a.HasTable(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, has)
}
