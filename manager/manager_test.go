package manager

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/sessionpool/network"
	"github.com/guileen/sessionpool/session"
	"github.com/guileen/sessionpool/session/sessiontest"
)

var _ network.ConnectionManager[Conn] = (*ConnectionManager)(nil)
var _ network.Releaser[Conn] = (*ConnectionManager)(nil)

type descriptor string

func newTestManager(t *testing.T, failCount int) (*ConnectionManager, *sessiontest.Driver) {
	t.Helper()
	d := sessiontest.NewDriver("mem", failCount)
	return New(descriptor("server=localhost:1433;user=auth;password=auth;"), d), d
}

func TestConnectThenIsValid(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)

	conn, err := m.Connect(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateLive, conn.State())
	assert.False(t, m.HasBroken(&conn))
	assert.NotEmpty(t, conn.ID())

	conn, err = m.IsValid(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, StateLive, conn.State())
	assert.False(t, m.HasBroken(&conn))

	sessions := d.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, sessions[0].Queries())
	assert.Equal(t, m.Descriptor(), sessions[0].Descriptor())
}

func TestValidatedConnectionCanBeReused(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)

	conn, err := m.Connect(ctx)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		conn, err = m.IsValid(ctx, conn)
		require.NoError(t, err)
	}

	err = conn.Do(func(s session.Session) error {
		rows, err := s.Query(ctx, ProbeQuery)
		if err != nil {
			return err
		}
		return session.Drain(rows)
	})
	assert.NoError(t, err)
	assert.True(t, conn.IsLive())
}

func TestIsValidOnKilledSessionPoisons(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)

	conn, err := m.Connect(ctx)
	require.NoError(t, err)
	d.Sessions()[0].Kill()

	conn, err = m.IsValid(ctx, conn)
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.ErrorIs(t, err, sessiontest.ErrReset)
	assert.Equal(t, StatePoisoned, conn.State())
	assert.True(t, m.HasBroken(&conn))
	assert.Nil(t, conn.Session())

	assert.True(t, d.Sessions()[0].IsClosed(), "poisoned session must be released")
	assert.Equal(t, 1, d.Closed())
}

func TestIsValidTrailingStreamError(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)

	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	boom := errors.New("severity 16: transaction aborted")
	d.FailTrailing(boom)
	conn, err = m.IsValid(ctx, conn)
	assert.ErrorIs(t, err, boom)
	assert.True(t, m.HasBroken(&conn))
}

func TestIsValidCancelledIsNeverValid(t *testing.T) {
	m, _ := newTestManager(t, 0)

	conn, err := m.Connect(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn, err = m.IsValid(ctx, conn)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, m.HasBroken(&conn))
}

func TestIsValidOnPoisonedPanics(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)

	assert.PanicsWithError(t,
		"connection manager precondition violated in is_valid (conn ): connection is poisoned",
		func() { _, _ = m.IsValid(ctx, Conn{}) })

	conn, err := m.Connect(ctx)
	require.NoError(t, err)
	conn = conn.Poison(ctx)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		perr, ok := r.(*PreconditionError)
		require.True(t, ok)
		assert.Equal(t, "is_valid", perr.Op)
		assert.ErrorIs(t, perr, ErrPoisoned)
	}()
	_, _ = m.IsValid(ctx, conn)
}

func TestConcurrentUseOfOneConnPanics(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	err = conn.Do(func(session.Session) error {
		assert.Panics(t, func() { _, _ = m.IsValid(ctx, conn) })
		return nil
	})
	require.NoError(t, err)

	// the handle is checked back in after Do returns
	_, err = m.IsValid(ctx, conn)
	assert.NoError(t, err)
}

func TestPoisonFromCaller(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	stale := conn
	conn = conn.Poison(ctx)
	assert.True(t, m.HasBroken(&conn))
	assert.True(t, m.HasBroken(&stale), "copies share poisoned state")
	assert.Equal(t, 1, d.Closed())

	// poisoning twice closes once
	conn.Poison(ctx)
	assert.Equal(t, 1, d.Closed())
}

func TestPoisonWhileInUsePanics(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	stale := conn
	err = conn.Do(func(session.Session) error {
		assert.PanicsWithError(t,
			"connection manager precondition violated in poison (conn "+conn.ID()+"): connection is already checked out",
			func() { stale.Poison(ctx) })
		return nil
	})
	require.NoError(t, err)
	assert.True(t, conn.IsLive())
	assert.Equal(t, 0, d.Closed())
}

func TestQueryHoldsConnUntilRowsClosed(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	rows, err := conn.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Panics(t, func() { _, _ = m.IsValid(ctx, conn) }, "rows still open")

	one, err := session.Collect(rows, func(values []any) (int64, error) {
		return values[0].(int64), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, one)

	// closing twice is harmless and the handle is free again
	rows.Close()
	_, err = m.IsValid(ctx, conn)
	assert.NoError(t, err)
}

func TestQueryErrorChecksIn(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	boom := errors.New("syntax error")
	d.FailQueries(boom)
	_, err = conn.Query(ctx, "SELEC 1")
	assert.ErrorIs(t, err, boom)

	conn = conn.Poison(ctx)
	assert.True(t, m.HasBroken(&conn))
	assert.Equal(t, 1, d.Closed())
}

func TestQueryOnPoisonedPanics(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)
	conn = conn.Poison(ctx)

	assert.PanicsWithError(t,
		"connection manager precondition violated in query (conn "+conn.ID()+"): connection is poisoned",
		func() { _, _ = conn.Query(ctx, "SELECT 1") })
}

func TestConnectFailure(t *testing.T) {
	m, d := newTestManager(t, 1)

	conn, err := m.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, IsEstablish(err))
	assert.ErrorIs(t, err, sessiontest.ErrRefused)
	assert.True(t, m.HasBroken(&conn))
	assert.Equal(t, 1, d.Attempts(), "no retry inside the manager")

	var estErr *session.EstablishError
	assert.ErrorAs(t, err, &estErr)

	conn, err = m.Connect(context.Background())
	require.NoError(t, err)
	assert.False(t, m.HasBroken(&conn))
}

func TestHasBrokenNil(t *testing.T) {
	m, _ := newTestManager(t, 0)
	assert.True(t, m.HasBroken(nil))
	var zero Conn
	assert.True(t, m.HasBroken(&zero))
}

func TestTimedOut(t *testing.T) {
	m, _ := newTestManager(t, 0)

	err1 := m.TimedOut()
	err2 := m.TimedOut()
	assert.Equal(t, err1, err2)
	assert.Equal(t, err1.Error(), err2.Error())

	assert.True(t, IsTimeout(err1))
	assert.ErrorIs(t, err1, ErrTimedOut)
	assert.ErrorIs(t, err1, os.ErrDeadlineExceeded)
	assert.False(t, IsEstablish(err1))
	assert.False(t, IsValidation(err1))

	var merr *Error
	require.ErrorAs(t, err1, &merr)
	assert.Equal(t, KindIO, merr.Kind)
	assert.Equal(t, "timed_out", merr.Op)

	// state of the manager does not matter
	_, _ = m.Connect(context.Background())
	assert.Equal(t, err1, m.TimedOut())
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	m, d := newTestManager(t, 0)
	conn, err := m.Connect(ctx)
	require.NoError(t, err)

	m.Release(ctx, conn)
	assert.True(t, m.HasBroken(&conn))
	assert.Equal(t, 1, d.Closed())

	m.Release(ctx, conn)
	m.Release(ctx, Conn{})
	assert.Equal(t, 1, d.Closed())
}

func TestConcurrentConnect(t *testing.T) {
	m, d := newTestManager(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const n = 50
	conns := make([]Conn, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conns[i], errs[i] = m.Connect(ctx)
			if errs[i] == nil {
				conns[i], errs[i] = m.IsValid(ctx, conns[i])
			}
		}(i)
	}
	wg.Wait()

	ids := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.True(t, conns[i].IsLive())
		ids[conns[i].ID()] = struct{}{}
	}
	assert.Len(t, ids, n)
	assert.Equal(t, n, d.Opened())
	for _, s := range d.Sessions() {
		assert.Equal(t, m.Descriptor(), s.Descriptor())
	}
}

func TestOpenFromRegistry(t *testing.T) {
	session.Register(sessiontest.NewDriver("manager-open", 0))

	m, err := Open("manager-open", "mem://x")
	require.NoError(t, err)
	assert.Equal(t, "manager-open", m.Driver().Name())

	_, err = Open("missing", "mem://x")
	assert.ErrorIs(t, err, session.ErrUnknownDriver)
}

func TestString(t *testing.T) {
	m, _ := newTestManager(t, 0)
	assert.Equal(t,
		"ConnectionManager { connection_string: server=localhost:1433;user=auth;password=auth; }",
		m.String())
}
