package bucketdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "buckets.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleSnapshot() memory.Snapshot {
	return memory.Snapshot{
		Nodes: map[domain.Handle]domain.Node{
			1: {Handle: 1, Marker: true, Overrides: &domain.OverrideList{Records: []domain.OverrideRecord{{Edge: 10, Lane: 0, ConnectionSet: 100}}}},
			2: {Handle: 2},
		},
		Edges: map[domain.Handle]domain.Edge{10: {Handle: 10, Start: 1, End: 2}},
		ConnectionSets: map[domain.Handle]domain.ConnectionSet{
			100: {Handle: 100, Owner: 1, Connections: []domain.GeneratedConnection{{
				Source: domain.LaneRef{Edge: 10, Lane: 0},
				Target: domain.LaneRef{Edge: 10, Lane: 1},
				Method: domain.MethodRoad,
			}}},
		},
	}
}

func TestDialectPlaceholders(t *testing.T) {
	if SQLite.Placeholder(3) != "?" || Postgres.Placeholder(3) != "$3" {
		t.Fatalf("unexpected placeholders %q %q", SQLite.Placeholder(3), Postgres.Placeholder(3))
	}
}

func TestSaveWritesOnlyChangedBuckets(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	table, err := Open(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, found, err := table.Load(ctx); err != nil || found {
		t.Fatalf("expected empty table, found=%v err=%v", found, err)
	}

	snap := sampleSnapshot()
	n, err := table.Save(ctx, snap)
	if err != nil || n != len(memory.Buckets()) {
		t.Fatalf("first save wrote %d buckets, err %v", n, err)
	}
	if n, err := table.Save(ctx, snap); err != nil || n != 0 {
		t.Fatalf("unchanged save wrote %d buckets, err %v", n, err)
	}

	snap.Edges[20] = domain.Edge{Handle: 20, Start: 2, End: 1}
	if n, err := table.Save(ctx, snap); err != nil || n != 1 {
		t.Fatalf("edge change wrote %d buckets, err %v", n, err)
	}
	if table.Revision() != 2 {
		t.Fatalf("expected revision 2, got %d", table.Revision())
	}

	var edgesRev, nodesRev int64
	if err := db.QueryRow(`SELECT revision FROM `+TableName+` WHERE bucket = ?`, memory.BucketEdges).Scan(&edgesRev); err != nil {
		t.Fatalf("edges revision: %v", err)
	}
	if err := db.QueryRow(`SELECT revision FROM `+TableName+` WHERE bucket = ?`, memory.BucketNodes).Scan(&nodesRev); err != nil {
		t.Fatalf("nodes revision: %v", err)
	}
	if edgesRev != 2 || nodesRev != 1 {
		t.Fatalf("expected edges at 2 and nodes at 1, got %d %d", edgesRev, nodesRev)
	}
}

func TestLoadRoundTripsAndResumesRevision(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	table, err := Open(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	snap := sampleSnapshot()
	if _, err := table.Save(ctx, snap); err != nil {
		t.Fatalf("save: %v", err)
	}

	again, err := Open(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, found, err := again.Load(ctx)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if again.Revision() != 1 {
		t.Fatalf("expected revision 1 after load, got %d", again.Revision())
	}
	set := got.ConnectionSets[100]
	if len(got.Nodes) != 2 || got.Nodes[1].Overrides.Len() != 1 || len(set.Connections) != 1 || set.Connections[0].Target.Lane != 1 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if n, err := again.Save(ctx, snap); err != nil || n != 0 {
		t.Fatalf("saving the loaded snapshot wrote %d buckets, err %v", n, err)
	}
}

func TestLoadRejectsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	db := openSQLite(t)
	table, err := Open(ctx, db, SQLite)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO `+TableName+`(bucket,payload,revision) VALUES(?,?,?)`, memory.BucketNodes, []byte("{"), 1); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, _, err := table.Load(ctx); err == nil {
		t.Fatalf("expected decode error")
	}
}
