// Package testutil provides a database/sql stub that understands the
// statements issued by the postgres network store.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

var (
	createState = regexp.MustCompile(`(?is)^\s*CREATE TABLE IF NOT EXISTS network_state\b`)
	selectState = regexp.MustCompile(`(?is)^\s*SELECT bucket,\s*payload,\s*revision FROM network_state\s*$`)
	upsertState = regexp.MustCompile(`(?is)^\s*INSERT INTO network_state\s*\(bucket,\s*payload,\s*revision\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*ON CONFLICT\s*\(bucket\)`)

	stubSeq atomic.Uint64
)

// StubConn is an in-memory stand-in for the network_state table. Writes
// issued inside a transaction become visible only after Commit.
type StubConn struct {
	mu        sync.Mutex
	Execs     []string
	Buckets   map[string][]byte
	Revisions map[string]int64

	FailPing   bool
	FailBegin  bool
	FailQuery  bool
	FailCommit bool
	// FailBucket makes the upsert of the named bucket fail.
	FailBucket string

	pending map[string]pendingRow
}

type pendingRow struct {
	payload  []byte
	revision int64
}

// NewStubDB registers a uniquely named driver backed by a fresh StubConn and
// opens a sql.DB on it.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Buckets: make(map[string][]byte), Revisions: make(map[string]int64)}
	name := fmt.Sprintf("roadcore-stubpg-%d", stubSeq.Add(1))
	sql.Register(name, stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

// BucketNames lists the committed buckets in order.
func (c *StubConn) BucketNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type stubDriver struct {
	conn *StubConn
}

func (d stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn. Every statement goes through the context
// fast paths instead.
func (c *StubConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("stub: prepare not supported: %s", query)
}

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("stub: ping refused")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailBegin {
		return nil, fmt.Errorf("stub: begin refused")
	}
	c.pending = make(map[string]pendingRow)
	return stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	switch {
	case createState.MatchString(query):
		return driver.RowsAffected(0), nil
	case upsertState.MatchString(query):
		if len(args) != 3 {
			return nil, fmt.Errorf("stub: upsert wants 3 args, got %d", len(args))
		}
		bucket, ok := args[0].Value.(string)
		if !ok {
			return nil, fmt.Errorf("stub: bucket must be text, got %T", args[0].Value)
		}
		if bucket == c.FailBucket {
			return nil, fmt.Errorf("stub: upsert of %s refused", bucket)
		}
		payload, err := bytesOf(args[1].Value)
		if err != nil {
			return nil, err
		}
		revision, ok := args[2].Value.(int64)
		if !ok {
			return nil, fmt.Errorf("stub: revision must be bigint, got %T", args[2].Value)
		}
		row := pendingRow{payload: payload, revision: revision}
		if c.pending != nil {
			c.pending[bucket] = row
		} else {
			c.Buckets[bucket], c.Revisions[bucket] = row.payload, row.revision
		}
		return driver.RowsAffected(1), nil
	default:
		return nil, fmt.Errorf("stub: unsupported statement: %s", query)
	}
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !selectState.MatchString(query) {
		return nil, fmt.Errorf("stub: unsupported query: %s", query)
	}
	if c.FailQuery {
		return nil, fmt.Errorf("stub: query refused")
	}
	names := make([]string, 0, len(c.Buckets))
	for name := range c.Buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := &stubRows{}
	for _, name := range names {
		rows.values = append(rows.values, []driver.Value{name, append([]byte(nil), c.Buckets[name]...), c.Revisions[name]})
	}
	return rows, nil
}

func bytesOf(v driver.Value) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return append([]byte(nil), p...), nil
	case string:
		return []byte(p), nil
	default:
		return nil, fmt.Errorf("stub: payload must be bytes, got %T", v)
	}
}

type stubTx struct {
	conn *StubConn
}

func (t stubTx) Commit() error {
	c := t.conn
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	if c.FailCommit {
		return fmt.Errorf("stub: commit refused")
	}
	for k, row := range pending {
		c.Buckets[k], c.Revisions[k] = row.payload, row.revision
	}
	return nil
}

func (t stubTx) Rollback() error {
	t.conn.mu.Lock()
	t.conn.pending = nil
	t.conn.mu.Unlock()
	return nil
}

type stubRows struct {
	values [][]driver.Value
	idx    int
}

func (r *stubRows) Columns() []string { return []string{"bucket", "payload", "revision"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Statements reports how many executed statements contain fragment,
// case-insensitively.
func (c *StubConn) Statements(fragment string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, q := range c.Execs {
		if strings.Contains(strings.ToLower(q), strings.ToLower(fragment)) {
			n++
		}
	}
	return n
}
