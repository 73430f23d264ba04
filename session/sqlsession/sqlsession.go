// Package sqlsession adapts database/sql drivers to the session interfaces.
// Each session pins exactly one server connection, so database/sql's own
// pooling never comes into play. Importing the package registers the
// "sqlserver", "mysql", "postgres" and "sqlite3" drivers.
package sqlsession

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/guileen/sessionpool/session"
)

// Registered driver names, identical to the database/sql driver names.
const (
	SQLServer = "sqlserver"
	MySQL     = "mysql"
	Postgres  = "postgres"
	SQLite    = "sqlite3"
)

func init() {
	for _, name := range []string{SQLServer, MySQL, Postgres, SQLite} {
		session.Register(NewDriver(name))
	}
}

// Driver establishes sessions through a named database/sql driver.
type Driver struct {
	sqlDriver string
}

// NewDriver returns a Driver for a database/sql driver name. The name is also
// the session driver name.
func NewDriver(sqlDriver string) *Driver {
	return &Driver{sqlDriver: sqlDriver}
}

func (d *Driver) Name() string { return d.sqlDriver }

func (d *Driver) Establish(ctx context.Context, descriptor string) (session.Session, error) {
	db, err := sql.Open(d.sqlDriver, descriptor)
	if err != nil {
		return nil, &session.EstablishError{Driver: d.sqlDriver, Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	conn, err := db.Conn(ctx)
	if err == nil {
		// db.Conn may hand back a connection without talking to the server.
		err = conn.PingContext(ctx)
		if err != nil {
			_ = conn.Close()
		}
	}
	if err != nil {
		_ = db.Close()
		return nil, &session.EstablishError{Driver: d.sqlDriver, Err: err}
	}
	return &Session{db: db, conn: conn}, nil
}

// Session owns a *sql.DB capped at one connection and the pinned *sql.Conn.
type Session struct {
	db   *sql.DB
	conn *sql.Conn
}

// Conn exposes the pinned connection.
func (s *Session) Conn() *sql.Conn { return s.conn }

func (s *Session) Query(ctx context.Context, query string) (session.Rows, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		if errors.Is(err, sql.ErrConnDone) {
			return nil, errors.Join(session.ErrSessionClosed, err)
		}
		return nil, err
	}
	return newRows(rows)
}

func (s *Session) Close(ctx context.Context) error {
	return errors.Join(s.conn.Close(), s.db.Close())
}

// Rows adapts *sql.Rows, scanning every column into an any.
type Rows struct {
	rows *sql.Rows
	cols int
}

func newRows(rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return &Rows{rows: rows, cols: len(cols)}, nil
}

func (r *Rows) Next() bool {
	hasNext := r.rows.Next()
	if !hasNext {
		// release the pinned connection as soon as the stream ends
		_ = r.rows.Close()
	}
	return hasNext
}

func (r *Rows) Values() ([]any, error) {
	values := make([]any, r.cols)
	dest := make([]any, r.cols)
	for i := range values {
		dest[i] = &values[i]
	}
	if err := r.rows.Scan(dest...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *Rows) Err() error { return r.rows.Err() }

func (r *Rows) Close() { _ = r.rows.Close() }
