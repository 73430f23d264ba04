package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guileen/sessionpool/session"
	"github.com/guileen/sessionpool/session/sessiontest"
)

func TestRegistry(t *testing.T) {
	d := sessiontest.NewDriver("registry-test", 0)
	session.Register(d)

	got, err := session.Lookup("registry-test")
	require.NoError(t, err)
	assert.Same(t, d, got)
	assert.Contains(t, session.Drivers(), "registry-test")

	assert.Panics(t, func() { session.Register(d) })

	_, err = session.Lookup("nope")
	assert.ErrorIs(t, err, session.ErrUnknownDriver)
}

func TestDrainReportsTrailingError(t *testing.T) {
	ctx := context.Background()
	d := sessiontest.NewDriver("drain", 0)
	s, err := d.Establish(ctx, "mem")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.NoError(t, session.Drain(rows))

	boom := errors.New("stream aborted")
	d.FailTrailing(boom)
	rows, err = s.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.ErrorIs(t, session.Drain(rows), boom)
}

func TestCollect(t *testing.T) {
	ctx := context.Background()
	s, err := sessiontest.NewDriver("collect", 0).Establish(ctx, "mem")
	require.NoError(t, err)

	rows, err := s.Query(ctx, "SELECT 1")
	require.NoError(t, err)
	got, err := session.Collect(rows, func(values []any) (int64, error) {
		return values[0].(int64), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, got)
}

func TestEstablishErrorUnwraps(t *testing.T) {
	_, err := sessiontest.NewDriver("refuse", 1).Establish(context.Background(), "mem")
	require.Error(t, err)
	assert.ErrorIs(t, err, sessiontest.ErrRefused)
	assert.Contains(t, err.Error(), "refuse: establish session")
}
