package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

func TestIdentityMapInsert(t *testing.T) {
	m := NewIdentityMap(0)
	key := IdentityKey{Node: 1, Edge: 10}

	added, err := m.Insert(key, 11)
	if err != nil || !added {
		t.Fatalf("expected first insert to add, got added=%v err=%v", added, err)
	}
	added, err = m.Insert(key, 11)
	if err != nil || added {
		t.Fatalf("expected identical re-insert to be a no-op, got added=%v err=%v", added, err)
	}
	_, err = m.Insert(key, 12)
	var conflict IdentityConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if conflict.Existing != 11 || conflict.Rejected != 12 {
		t.Fatalf("unexpected conflict details: %+v", conflict)
	}
	if v, ok := m.Lookup(1, 10); !ok || v != 11 {
		t.Fatalf("expected first value to be kept, got %v %v", v, ok)
	}
	if _, ok := m.Lookup(2, 10); ok {
		t.Fatalf("expected miss for a different junction")
	}
}

func TestIdentityMapInsertPairIsSymmetric(t *testing.T) {
	m := NewIdentityMap(0)
	if err := m.InsertPair(5, 10, 1010); err != nil {
		t.Fatalf("insert pair: %v", err)
	}
	for key, value := range m.Entries() {
		back, ok := m.Lookup(key.Node, value)
		if !ok || back != key.Edge {
			t.Fatalf("expected (%s,%s) -> %s, got %s %v", key.Node, value, key.Edge, back, ok)
		}
	}
	if m.Len() != 2 {
		t.Fatalf("expected two entries, got %d", m.Len())
	}
}

func TestIdentityMapInsertPairConflictLeavesMapSymmetric(t *testing.T) {
	cases := []struct {
		name          string
		before, after domain.Handle
	}{
		{name: "same predecessor claimed twice", before: 10, after: 1011},
		{name: "new edge already mapped", before: 11, after: 1010},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewIdentityMap(0)
			if err := m.InsertPair(5, 10, 1010); err != nil {
				t.Fatalf("first pair: %v", err)
			}
			err := m.InsertPair(5, tc.before, tc.after)
			var conflict IdentityConflictError
			if !errors.As(err, &conflict) {
				t.Fatalf("expected conflict error, got %v", err)
			}
			if m.Len() != 2 {
				t.Fatalf("expected the conflicting pair to add nothing, got %d entries", m.Len())
			}
			for key, value := range m.Entries() {
				back, ok := m.Lookup(key.Node, value)
				if !ok || back != key.Edge {
					t.Fatalf("asymmetric entry (%s,%s) -> %s, reverse %s %v", key.Node, key.Edge, value, back, ok)
				}
			}
			if _, ok := m.Lookup(5, tc.after); ok && tc.after != 1010 {
				t.Fatalf("expected no entry for rejected edge %s", tc.after)
			}
		})
	}
}

func TestIdentityMapInsertPairRepeatIsNoOp(t *testing.T) {
	m := NewIdentityMap(2)
	for range 2 {
		if err := m.InsertPair(5, 10, 1010); err != nil {
			t.Fatalf("insert pair: %v", err)
		}
	}
	if m.Len() != 2 {
		t.Fatalf("expected two entries, got %d", m.Len())
	}
}

func TestIdentityMapCapacity(t *testing.T) {
	m := NewIdentityMap(1)
	err := m.InsertPair(1, 10, 11)
	if !errors.Is(err, ErrIdentityMapFull) {
		t.Fatalf("expected ErrIdentityMapFull, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected a rejected pair to leave the map empty, got %d", m.Len())
	}
	if _, ok := m.Lookup(1, 10); ok {
		t.Fatalf("expected no half-inserted pair")
	}
}

func TestIdentityMapFrozen(t *testing.T) {
	m := NewIdentityMap(0)
	m.Freeze()
	if !m.Frozen() {
		t.Fatalf("expected frozen map")
	}
	if _, err := m.Insert(IdentityKey{Node: 1, Edge: 2}, 3); !errors.Is(err, ErrIdentityMapFrozen) {
		t.Fatalf("expected ErrIdentityMapFrozen, got %v", err)
	}
}

func TestIdentityMapConcurrentInserts(t *testing.T) {
	m := NewIdentityMap(0)
	var wg sync.WaitGroup
	for i := range 64 {
		wg.Add(1)
		go func(n domain.Handle) {
			defer wg.Done()
			if err := m.InsertPair(n, 10, 20); err != nil {
				t.Errorf("insert pair at %s: %v", n, err)
			}
		}(domain.Handle(i + 1))
	}
	wg.Wait()
	if m.Len() != 128 {
		t.Fatalf("expected 128 entries, got %d", m.Len())
	}
}

func TestBuildIdentityMapForSplitEdge(t *testing.T) {
	store := memory.NewStore(nil)
	seedNetwork(t, store)
	engine := NewEngine(WithBatchSize(1), WithWorkers(4))

	var m *IdentityMap
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		var err error
		m, err = engine.BuildIdentityMap(context.Background(), view, splitSession())
		return err
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if !m.Frozen() {
		t.Fatalf("expected builder to freeze the map")
	}
	cases := []struct {
		node, edge, want domain.Handle
	}{
		{shadowN, edgeA, shadowA1},
		{shadowN, shadowA1, edgeA},
		{shadowM, edgeA, shadowA2},
		{shadowM, shadowA2, edgeA},
	}
	for _, tc := range cases {
		got, ok := m.Lookup(tc.node, tc.edge)
		if !ok || got != tc.want {
			t.Fatalf("lookup (%s,%s): expected %s, got %s %v", tc.node, tc.edge, tc.want, got, ok)
		}
	}
	if m.Len() != len(cases) {
		t.Fatalf("expected %d entries, got %d", len(cases), m.Len())
	}
}

func TestBuildIdentityMapSelfLoop(t *testing.T) {
	store := memory.NewStore(nil)
	seedNetwork(t, store)
	s := domain.NewSession("loop")
	s.AddNode(domain.ShadowNode{Handle: shadowSplit, Shadow: domain.Shadow{Flags: domain.FlagCreate, Predecessor: edgeA}})
	s.AddEdge(domain.ShadowEdge{Handle: shadowA1, Shadow: domain.Shadow{Flags: domain.FlagCreate}, Start: shadowSplit, End: shadowSplit})

	err := store.View(context.Background(), func(view domain.TransactionView) error {
		m, err := NewEngine().BuildIdentityMap(context.Background(), view, s)
		if err != nil {
			return err
		}
		if m.Len() != 2 {
			t.Fatalf("expected both endpoints to record the same pair once, got %d entries", m.Len())
		}
		if got, ok := m.Lookup(shadowSplit, edgeA); !ok || got != shadowA1 {
			t.Fatalf("unexpected lookup %s %v", got, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
}

func TestBuildIdentityMapCapacityAbortsPass(t *testing.T) {
	store := memory.NewStore(nil)
	seedNetwork(t, store)
	engine := NewEngine(WithIdentityCapacity(1))
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		_, err := engine.Plan(context.Background(), view, splitSession())
		return err
	})
	if !errors.Is(err, ErrIdentityMapFull) {
		t.Fatalf("expected ErrIdentityMapFull, got %v", err)
	}
}

func TestBuildIdentityMapIgnoresDeletedAndReplacementEdges(t *testing.T) {
	const (
		splitC      domain.Handle = 1005
		replacement domain.Handle = 1014
	)
	s := splitSession()
	// as a candidate it would map C at K
	s.AddNode(domain.ShadowNode{Handle: splitC, Shadow: domain.Shadow{Flags: domain.FlagCreate, Predecessor: edgeC}})
	s.AddEdge(domain.ShadowEdge{Handle: replacement, Shadow: domain.Shadow{Flags: domain.FlagReplace}, Start: shadowK, End: splitC})

	got := identityCandidates(s)
	if len(got) != 2 || got[0].Handle != shadowA1 || got[1].Handle != shadowA2 {
		t.Fatalf("expected only the two new halves, got %+v", got)
	}

	store := memory.NewStore(nil)
	seedNetwork(t, store)
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		m, err := NewEngine().BuildIdentityMap(context.Background(), view, s)
		if err != nil {
			return err
		}
		if _, ok := m.Lookup(shadowK, edgeC); ok {
			t.Fatalf("expected no entry for the replacement edge")
		}
		if m.Len() != 4 {
			t.Fatalf("expected only the split entries, got %v", m.Entries())
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
}

func TestBuildIdentityMapConflictingClaimsStaySymmetric(t *testing.T) {
	const rival domain.Handle = 1015
	store := memory.NewStore(nil)
	seedNetwork(t, store)
	s := domain.NewSession("rival")
	s.AddNode(domain.ShadowNode{Handle: shadowN, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeN}})
	s.AddNode(domain.ShadowNode{Handle: shadowSplit, Shadow: domain.Shadow{Flags: domain.FlagCreate, Predecessor: edgeA}})
	s.AddEdge(domain.ShadowEdge{Handle: shadowA1, Shadow: domain.Shadow{Flags: domain.FlagCreate}, Start: shadowN, End: shadowSplit})
	s.AddEdge(domain.ShadowEdge{Handle: rival, Shadow: domain.Shadow{Flags: domain.FlagCreate}, Start: shadowN, End: shadowSplit})

	err := store.View(context.Background(), func(view domain.TransactionView) error {
		m, err := NewEngine(WithWorkers(2), WithBatchSize(1)).BuildIdentityMap(context.Background(), view, s)
		if err != nil {
			return err
		}
		if m.Len() != 2 {
			t.Fatalf("expected one winning pair, got %v", m.Entries())
		}
		for key, value := range m.Entries() {
			if back, ok := m.Lookup(key.Node, value); !ok || back != key.Edge {
				t.Fatalf("asymmetric entry (%s,%s) -> %s, reverse %s %v", key.Node, key.Edge, value, back, ok)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
}
