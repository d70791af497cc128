package core

import (
	"context"
	"testing"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

// Permanent handles used across tests. Handles are unique across entity kinds.
const (
	nodeN domain.Handle = 1
	nodeM domain.Handle = 2
	nodeK domain.Handle = 3
	nodeL domain.Handle = 4

	edgeA domain.Handle = 10
	edgeB domain.Handle = 20
	edgeC domain.Handle = 30

	setS1 domain.Handle = 100
	setS3 domain.Handle = 300
)

func conn(srcEdge domain.Handle, srcLane int, dstEdge domain.Handle, dstLane int) domain.GeneratedConnection {
	return domain.GeneratedConnection{
		Source: domain.LaneRef{Edge: srcEdge, Lane: srcLane},
		Target: domain.LaneRef{Edge: dstEdge, Lane: dstLane},
		Method: domain.MethodRoad,
	}
}

// seedNetwork builds N-M over A, N-K over B and K-L over C. N overrides A lane 2
// with S1 (A->B); K overrides C lane 0 with S3 (C->B).
func seedNetwork(t *testing.T, store domain.PersistentStore) {
	t.Helper()
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		for _, n := range []domain.Node{
			{Handle: nodeN, Marker: true, Overrides: &domain.OverrideList{Records: []domain.OverrideRecord{{Edge: edgeA, Lane: 2, ConnectionSet: setS1}}}},
			{Handle: nodeM},
			{Handle: nodeK, Marker: true, Overrides: &domain.OverrideList{Records: []domain.OverrideRecord{{Edge: edgeC, Lane: 0, ConnectionSet: setS3}}}},
			{Handle: nodeL},
		} {
			if _, err := tx.CreateNode(n); err != nil {
				return err
			}
		}
		for _, e := range []domain.Edge{
			{Handle: edgeA, Start: nodeN, End: nodeM},
			{Handle: edgeB, Start: nodeN, End: nodeK},
			{Handle: edgeC, Start: nodeK, End: nodeL},
		} {
			if _, err := tx.CreateEdge(e); err != nil {
				return err
			}
		}
		if _, err := tx.CreateConnectionSet(domain.ConnectionSet{Handle: setS1, Owner: nodeN, Connections: []domain.GeneratedConnection{conn(edgeA, 2, edgeB, 0)}}); err != nil {
			return err
		}
		_, err := tx.CreateConnectionSet(domain.ConnectionSet{Handle: setS3, Owner: nodeK, Connections: []domain.GeneratedConnection{conn(edgeC, 0, edgeB, 1)}})
		return err
	})
	if err != nil {
		t.Fatalf("seed network: %v", err)
	}
}

func newSeededService(t *testing.T, opts ...Option) (*Service, *memory.Store) {
	t.Helper()
	rules := NewDefaultRulesEngine()
	store := memory.NewStore(rules)
	seedNetwork(t, store)
	opts = append([]Option{WithRulesEngine(rules)}, opts...)
	return NewService(store, opts...), store
}

// Shadow handles.
const (
	shadowN     domain.Handle = 1001
	shadowSplit domain.Handle = 1002
	shadowM     domain.Handle = 1003
	shadowK     domain.Handle = 1004

	shadowA1   domain.Handle = 1010
	shadowA2   domain.Handle = 1011
	shadowAOld domain.Handle = 1012
	shadowARe  domain.Handle = 1013
	shadowB    domain.Handle = 1020
	shadowC    domain.Handle = 1030

	shadowS2 domain.Handle = 1100
	shadowS4 domain.Handle = 1300
)

// splitSession splits A at a new node: A1 runs N-split, A2 runs split-M and the
// old A is deleted. B is touched in place. N re-submits its lane 2 override on
// A1 with S2 = A1 -> B'.
func splitSession() *domain.Session {
	s := domain.NewSession("split-a")
	s.AddNode(domain.ShadowNode{
		Handle:    shadowN,
		Shadow:    domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeN},
		Overrides: []domain.OverrideRecord{{Edge: shadowA1, Lane: 2, ConnectionSet: shadowS2}},
	})
	s.AddNode(domain.ShadowNode{Handle: shadowSplit, Shadow: domain.Shadow{Flags: domain.FlagCreate, Predecessor: edgeA}})
	s.AddNode(domain.ShadowNode{Handle: shadowM, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeM}})
	s.AddNode(domain.ShadowNode{Handle: shadowK, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeK}})
	s.AddEdge(domain.ShadowEdge{Handle: shadowA1, Shadow: domain.Shadow{Flags: domain.FlagCreate}, Start: shadowN, End: shadowSplit})
	s.AddEdge(domain.ShadowEdge{Handle: shadowA2, Shadow: domain.Shadow{Flags: domain.FlagCreate}, Start: shadowSplit, End: shadowM})
	s.AddEdge(domain.ShadowEdge{Handle: shadowAOld, Shadow: domain.Shadow{Flags: domain.FlagDelete, Predecessor: edgeA}, Start: shadowN, End: shadowM})
	s.AddEdge(domain.ShadowEdge{Handle: shadowB, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: edgeB}, Start: shadowN, End: shadowK})
	s.AddConnectionSet(domain.ShadowConnectionSet{
		Handle:      shadowS2,
		Shadow:      domain.Shadow{Flags: domain.FlagModify, Predecessor: setS1},
		Owner:       shadowN,
		Connections: []domain.GeneratedConnection{conn(shadowA1, 2, shadowB, 0)},
	})
	return s
}

// editSession re-routes N's lane 2 override on A (A unchanged) to B lane 3.
func editSession(id string) *domain.Session {
	s := domain.NewSession(id)
	s.AddNode(domain.ShadowNode{
		Handle:    shadowN,
		Shadow:    domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeN},
		Overrides: []domain.OverrideRecord{{Edge: edgeA, Lane: 2, ConnectionSet: shadowS2}},
	})
	s.AddConnectionSet(domain.ShadowConnectionSet{
		Handle:      shadowS2,
		Shadow:      domain.Shadow{Flags: domain.FlagModify, Predecessor: setS1},
		Owner:       shadowN,
		Connections: []domain.GeneratedConnection{conn(edgeA, 2, edgeB, 3)},
	})
	return s
}

// deleteSession removes K's only override (S3).
func deleteSession(id string) *domain.Session {
	s := domain.NewSession(id)
	s.AddNode(domain.ShadowNode{
		Handle:    shadowK,
		Shadow:    domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeK},
		Overrides: []domain.OverrideRecord{{Edge: edgeC, Lane: 0, ConnectionSet: shadowS4}},
	})
	s.AddConnectionSet(domain.ShadowConnectionSet{
		Handle: shadowS4,
		Shadow: domain.Shadow{Flags: domain.FlagDelete, Predecessor: setS3},
		Owner:  shadowK,
	})
	return s
}

func mergeSessions(id string, sessions ...*domain.Session) *domain.Session {
	out := domain.NewSession(id)
	for _, s := range sessions {
		for _, n := range s.Nodes {
			out.AddNode(n)
		}
		for _, e := range s.Edges {
			out.AddEdge(e)
		}
		for _, c := range s.ConnectionSets {
			out.AddConnectionSet(c)
		}
		for h := range s.IntersectionEdits {
			out.MarkIntersectionEdit(h)
		}
	}
	return out
}

func mustCommit(t *testing.T, svc *Service, session *domain.Session) Outcome {
	t.Helper()
	out, err := svc.Commit(context.Background(), session)
	if err != nil {
		t.Fatalf("commit %s: %v", session.ID, err)
	}
	return out
}

func containsHandle(hs []domain.Handle, h domain.Handle) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}
