package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/internal/infra/persistence/postgres/testutil"
	"roadcore/pkg/domain"
)

func useStub(t *testing.T, db *sql.DB) {
	t.Helper()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
}

func seedNetwork(tx domain.Transaction) error {
	if _, err := tx.CreateNode(domain.Node{Handle: 1}); err != nil {
		return err
	}
	if _, err := tx.CreateNode(domain.Node{Handle: 2}); err != nil {
		return err
	}
	if _, err := tx.CreateEdge(domain.Edge{Handle: 10, Start: 1, End: 2}); err != nil {
		return err
	}
	_, err := tx.CreateConnectionSet(domain.ConnectionSet{Handle: 100, Owner: 1})
	return err
}

func TestRunInTransactionPersistsAndReloads(t *testing.T) {
	db, conn := testutil.NewStubDB()
	useStub(t, db)

	store, err := NewStore("", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.RunInTransaction(context.Background(), seedNetwork); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got := len(conn.BucketNames()); got != len(memory.Buckets()) {
		t.Fatalf("expected %d buckets persisted, got %d", len(memory.Buckets()), got)
	}

	reloaded, err := NewStore("ignored", domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := len(reloaded.ListNodes()); got != 2 {
		t.Fatalf("expected 2 nodes after reload, got %d", got)
	}
	if _, ok := reloaded.GetEdge(10); !ok {
		t.Fatalf("expected edge 10 after reload")
	}
	if reloaded.Revision() != 1 {
		t.Fatalf("expected revision carried over, got %d", reloaded.Revision())
	}
	if reloaded.DB() != db {
		t.Fatalf("expected stub db to be exposed")
	}
	if conn.Statements("create table if not exists network_state") != 2 {
		t.Fatalf("expected state table DDL per open, got %v", conn.Execs)
	}
}

func TestRunInTransactionUpsertsBuckets(t *testing.T) {
	db, conn := testutil.NewStubDB()
	useStub(t, db)
	store, err := NewStore("", nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error { return nil }); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := len(conn.BucketNames()); got != len(memory.Buckets()) {
		t.Fatalf("expected upsert to keep %d rows, got %d", len(memory.Buckets()), got)
	}
	if got := conn.Statements("on conflict(bucket)"); got != len(memory.Buckets()) {
		t.Fatalf("expected the unchanged second commit to write nothing, got %d upserts", got)
	}
	if store.Revision() != 1 {
		t.Fatalf("expected revision 1, got %d", store.Revision())
	}
}

func TestNewStoreErrors(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
		defer restore()
		if _, err := NewStore("dsn", nil); err == nil || !strings.Contains(err.Error(), "open postgres") {
			t.Fatalf("expected open error, got %v", err)
		}
	})
	t.Run("ping", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		conn.FailPing = true
		useStub(t, db)
		if _, err := NewStore("dsn", nil); err == nil || !strings.Contains(err.Error(), "ping postgres") {
			t.Fatalf("expected ping error, got %v", err)
		}
	})
	t.Run("select", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		conn.FailQuery = true
		useStub(t, db)
		if _, err := NewStore("dsn", nil); err == nil || !strings.Contains(err.Error(), "select network_state") {
			t.Fatalf("expected select error, got %v", err)
		}
	})
}

func TestPersistErrorsSurface(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		useStub(t, db)
		store, err := NewStore("", nil)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		conn.FailBegin = true
		if _, err := store.RunInTransaction(context.Background(), seedNetwork); err == nil || !strings.Contains(err.Error(), "begin tx") {
			t.Fatalf("expected begin error, got %v", err)
		}
	})
	t.Run("upsert", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		useStub(t, db)
		store, err := NewStore("", nil)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		conn.FailBucket = memory.BucketEdges
		if _, err := store.RunInTransaction(context.Background(), seedNetwork); err == nil || !strings.Contains(err.Error(), "upsert "+memory.BucketEdges) {
			t.Fatalf("expected upsert error, got %v", err)
		}
		if len(conn.BucketNames()) != 0 {
			t.Fatalf("failed persist must roll back, got %v", conn.BucketNames())
		}
	})
	t.Run("commit", func(t *testing.T) {
		db, conn := testutil.NewStubDB()
		useStub(t, db)
		store, err := NewStore("", nil)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		conn.FailCommit = true
		if _, err := store.RunInTransaction(context.Background(), seedNetwork); err == nil || !strings.Contains(err.Error(), "commit") {
			t.Fatalf("expected commit error, got %v", err)
		}
	})
}
