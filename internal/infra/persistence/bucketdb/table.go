// Package bucketdb keeps a network snapshot in a SQL table with one row per
// bucket. It is shared by the sqlite and postgres stores, which differ only in
// dialect.
package bucketdb

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"roadcore/internal/infra/persistence/memory"
)

// TableName is the table holding the snapshot buckets.
const TableName = "network_state"

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name        string
	PayloadType string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
}

var (
	// SQLite binds with ? and stores payloads as BLOB.
	SQLite = Dialect{Name: "sqlite", PayloadType: "BLOB", Placeholder: func(int) string { return "?" }}
	// Postgres binds with $n and stores payloads as JSONB.
	Postgres = Dialect{Name: "postgres", PayloadType: "JSONB", Placeholder: func(n int) string { return "$" + strconv.Itoa(n) }}
)

// Table reads and writes the snapshot rows. Writes skip buckets whose payload
// matches what was last loaded or saved; every save that writes bumps the
// revision stored on the rows it touches.
type Table struct {
	db      *sql.DB
	dialect Dialect

	mu       sync.Mutex
	written  map[string][]byte
	revision int64
}

// Open ensures the table exists.
func Open(ctx context.Context, db *sql.DB, dialect Dialect) (*Table, error) {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL,
		revision BIGINT NOT NULL
	)`, TableName, dialect.PayloadType)
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("ensure %s table: %w", TableName, err)
	}
	return &Table{db: db, dialect: dialect, written: make(map[string][]byte)}, nil
}

// Revision returns the highest revision loaded or saved.
func (t *Table) Revision() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revision
}

// Load reads every bucket. found is false when the table holds no rows.
func (t *Table) Load(ctx context.Context) (snapshot memory.Snapshot, found bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rows, err := t.db.QueryContext(ctx, `SELECT bucket, payload, revision FROM `+TableName)
	if err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("select %s: %w", TableName, err)
	}
	defer func() { _ = rows.Close() }()

	written := make(map[string][]byte)
	var revision int64
	for rows.Next() {
		var (
			bucket  string
			payload []byte
			rev     int64
		)
		if err := rows.Scan(&bucket, &payload, &rev); err != nil {
			return memory.Snapshot{}, false, fmt.Errorf("scan %s: %w", TableName, err)
		}
		if err := memory.DecodeBucket(&snapshot, bucket, payload); err != nil {
			return memory.Snapshot{}, false, err
		}
		written[bucket] = payload
		revision = max(revision, rev)
		found = true
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, false, fmt.Errorf("iterate %s: %w", TableName, err)
	}
	t.written, t.revision = written, revision
	return snapshot, found, nil
}

// Save writes the buckets of snapshot that changed in one SQL transaction and
// reports how many it wrote.
func (t *Table) Save(ctx context.Context, snapshot memory.Snapshot) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	encoded, err := memory.EncodeBuckets(snapshot)
	if err != nil {
		return 0, err
	}
	var changed []string
	for _, bucket := range memory.Buckets() {
		if prev, ok := t.written[bucket]; !ok || !bytes.Equal(prev, encoded[bucket]) {
			changed = append(changed, bucket)
		}
	}
	if len(changed) == 0 {
		return 0, nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	p := t.dialect.Placeholder
	upsert := fmt.Sprintf(`INSERT INTO %s(bucket,payload,revision) VALUES(%s,%s,%s) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload, revision=excluded.revision`,
		TableName, p(1), p(2), p(3))
	revision := t.revision + 1
	for _, bucket := range changed {
		if _, err := tx.ExecContext(ctx, upsert, bucket, encoded[bucket], revision); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	committed = true
	for _, bucket := range changed {
		t.written[bucket] = encoded[bucket]
	}
	t.revision = revision
	return len(changed), nil
}
