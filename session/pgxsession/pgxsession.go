// Package pgxsession adapts github.com/jackc/pgx/v5 connections to the
// session interfaces. Importing it registers the "pgx" driver.
package pgxsession

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/guileen/sessionpool/session"
)

// DriverName is the name the driver registers under.
const DriverName = "pgx"

func init() {
	session.Register(Driver{})
}

// Driver opens one *pgx.Conn per session. The descriptor is any connection
// string pgx.Connect accepts (URL or keyword/value).
type Driver struct{}

func (Driver) Name() string { return DriverName }

func (Driver) Establish(ctx context.Context, descriptor string) (session.Session, error) {
	conn, err := pgx.Connect(ctx, descriptor)
	if err != nil {
		return nil, &session.EstablishError{Driver: DriverName, Err: err}
	}
	return &Session{conn: conn}, nil
}

var _ session.Rows = pgx.Rows(nil)

// Session wraps a single *pgx.Conn.
type Session struct {
	conn *pgx.Conn
}

// Conn exposes the underlying pgx connection.
func (s *Session) Conn() *pgx.Conn { return s.conn }

func (s *Session) Query(ctx context.Context, sql string) (session.Rows, error) {
	if s.conn.IsClosed() {
		return nil, session.ErrSessionClosed
	}
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Session) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}
