package sqlsession

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/sessionpool/session"
)

func TestDriversRegistered(t *testing.T) {
	for _, name := range []string{SQLServer, MySQL, Postgres, SQLite} {
		d, err := session.Lookup(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, d.Name())
	}
}

func TestSQLiteSelectOne(t *testing.T) {
	ctx := context.Background()
	s, err := NewDriver(SQLite).Establish(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close(ctx)

	rows, err := s.Query(ctx, "SELECT 1")
	require.NoError(t, err)

	got, err := session.Collect(rows, func(values []any) (int64, error) {
		return values[0].(int64), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got)
}

func TestSQLiteQueryError(t *testing.T) {
	ctx := context.Background()
	s, err := NewDriver(SQLite).Establish(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close(ctx)

	_, err = s.Query(ctx, "SELECT * FROM no_such_table")
	assert.Error(t, err)
}

func TestSQLiteSessionIsPinned(t *testing.T) {
	ctx := context.Background()
	s, err := NewDriver(SQLite).Establish(ctx, ":memory:")
	require.NoError(t, err)
	defer s.Close(ctx)

	// an in-memory database only survives on the connection that created it
	rows, err := s.Query(ctx, "CREATE TABLE t (v INTEGER)")
	require.NoError(t, err)
	require.NoError(t, session.Drain(rows))

	rows, err = s.Query(ctx, "SELECT count(*) FROM t")
	require.NoError(t, err)
	require.NoError(t, session.Drain(rows))
}

func TestQueryAfterClose(t *testing.T) {
	ctx := context.Background()
	s, err := NewDriver(SQLite).Establish(ctx, ":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close(ctx))

	_, err = s.Query(ctx, "SELECT 1")
	assert.ErrorIs(t, err, session.ErrSessionClosed)
}

func TestEstablishBadDescriptor(t *testing.T) {
	_, err := NewDriver(MySQL).Establish(context.Background(), "this is not a dsn")
	require.Error(t, err)

	var estErr *session.EstablishError
	require.ErrorAs(t, err, &estErr)
	assert.Equal(t, MySQL, estErr.Driver)
}
