// Package postgres persists the network in a Postgres JSONB table through the
// pgx database/sql driver. Like the sqlite store it serves reads from memory.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"roadcore/internal/infra/persistence/bucketdb"
	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/roadcore?sslmode=disable"
)

var (
	openMu  sync.Mutex
	sqlOpen = sql.Open
)

// Store is a memory store whose commits are mirrored to Postgres.
type Store struct {
	*memory.Store
	db    *sql.DB
	table *bucketdb.Table
}

// NewStore connects to dsn (a local default when empty), ensures the state
// table and loads any stored network.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()
	db, err := open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	table, err := bucketdb.Open(ctx, db, bucketdb.Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, found, err := table.Load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	mem := memory.NewStore(engine)
	if found {
		mem.ImportState(snapshot)
	}
	return &Store{Store: mem, db: db, table: table}, nil
}

// RunInTransaction commits fn in memory and then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if _, err := s.table.Save(ctx, s.ExportState()); err != nil {
		return res, fmt.Errorf("persist snapshot: %w", err)
	}
	return res, nil
}

// Revision returns the revision of the last written snapshot.
func (s *Store) Revision() int64 { return s.table.Revision() }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle to tests.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the connection opener for tests and returns a
// function restoring the previous one.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
