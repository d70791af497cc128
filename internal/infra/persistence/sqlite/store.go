// Package sqlite persists the network in an embedded SQLite file. The working
// set lives in memory; committed transactions are written back bucket by
// bucket.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"roadcore/internal/infra/persistence/bucketdb"
	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "roadcore.db"

// Store is a memory store whose commits are mirrored to SQLite.
type Store struct {
	*memory.Store
	db    *sql.DB
	table *bucketdb.Table
	path  string
}

// NewStore opens or creates the database at path (roadcore.db when empty) and
// loads any network it already holds.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	table, err := bucketdb.Open(ctx, db, bucketdb.SQLite)
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
	return &Store{Store: mem, db: db, table: table, path: path}, nil
}

// RunInTransaction commits fn in memory and then writes the changed buckets.
// A failed write is reported but the in-memory commit stands.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
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

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle to tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file.
func (s *Store) Path() string { return s.path }
