package pg

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptDB replays a fixed sequence of query outcomes so store paths that
// depend on server-side errors, unique violations in particular, can be
// exercised without a live database.

type scriptStep struct {
	wantSQL string // substring the statement must contain
	cols    []string
	rows    [][]driver.Value
	err     error
}

type scriptConn struct {
	t     *testing.T
	steps []scriptStep
	pos   int
}

func (c *scriptConn) next(query string) scriptStep {
	c.t.Helper()
	require.Less(c.t, c.pos, len(c.steps), "unexpected statement: %s", query)
	step := c.steps[c.pos]
	c.pos++
	require.Contains(c.t, query, step.wantSQL)
	return step
}

func (c *scriptConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	step := c.next(query)
	if step.err != nil {
		return nil, step.err
	}
	return &scriptRows{cols: step.cols, rows: step.rows}, nil
}

func (c *scriptConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	step := c.next(query)
	if step.err != nil {
		return nil, step.err
	}
	return driver.RowsAffected(1), nil
}

func (c *scriptConn) Prepare(query string) (driver.Stmt, error) {
	return nil, errors.New("prepare not scripted: " + query)
}

func (c *scriptConn) Begin() (driver.Tx, error) { return scriptTx{}, nil }

func (c *scriptConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	return scriptTx{}, nil
}

func (c *scriptConn) Close() error { return nil }

type scriptTx struct{}

func (scriptTx) Commit() error   { return nil }
func (scriptTx) Rollback() error { return nil }

type scriptRows struct {
	cols []string
	rows [][]driver.Value
	pos  int
}

func (r *scriptRows) Columns() []string { return r.cols }
func (r *scriptRows) Close() error      { return nil }

func (r *scriptRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

type scriptConnector struct{ conn *scriptConn }

func (c scriptConnector) Connect(context.Context) (driver.Conn, error) { return c.conn, nil }
func (c scriptConnector) Driver() driver.Driver                        { return scriptDriver{} }

type scriptDriver struct{}

func (scriptDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("open by name not supported")
}

// scriptedDB returns a single-connection pool replaying steps in order.
func scriptedDB(t *testing.T, steps []scriptStep) (*sql.DB, *scriptConn) {
	t.Helper()
	conn := &scriptConn{t: t, steps: steps}
	db := sql.OpenDB(scriptConnector{conn: conn})
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db, conn
}
