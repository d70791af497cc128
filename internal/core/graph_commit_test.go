package core

import (
	"context"
	"reflect"
	"testing"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

func TestGraphCommandsForShadowEdges(t *testing.T) {
	const fresh domain.Handle = 1050
	cases := []struct {
		name string
		edge domain.ShadowEdge
		want []Command
	}{
		{
			name: "replace creates own handle and deletes predecessor",
			edge: domain.ShadowEdge{Handle: shadowB, Shadow: domain.Shadow{Flags: domain.FlagReplace, Predecessor: edgeB}, Start: shadowN, End: shadowK},
			want: []Command{
				{Kind: CmdCreateEdge, Target: shadowB, Edge: domain.Edge{Start: nodeN, End: nodeK}},
				{Kind: CmdMarkDeleted, Target: edgeB},
			},
		},
		{
			name: "combine creates own handle and deletes predecessor",
			edge: domain.ShadowEdge{Handle: shadowB, Shadow: domain.Shadow{Flags: domain.FlagCombine, Predecessor: edgeB}, Start: shadowN, End: shadowK},
			want: []Command{
				{Kind: CmdCreateEdge, Target: shadowB, Edge: domain.Edge{Start: nodeN, End: nodeK}},
				{Kind: CmdMarkDeleted, Target: edgeB},
			},
		},
		{
			name: "modify updates predecessor in place",
			edge: domain.ShadowEdge{Handle: shadowB, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: edgeB}, Start: shadowK, End: shadowN},
			want: []Command{{Kind: CmdUpdateEdge, Target: edgeB, Edge: domain.Edge{Start: nodeK, End: nodeN}}},
		},
		{
			name: "delete marks predecessor",
			edge: domain.ShadowEdge{Handle: shadowB, Shadow: domain.Shadow{Flags: domain.FlagDelete, Predecessor: edgeB}, Start: shadowN, End: shadowK},
			want: []Command{{Kind: CmdMarkDeleted, Target: edgeB}},
		},
		{
			name: "delete of a shadow-only edge is dropped",
			edge: domain.ShadowEdge{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagDelete}, Start: shadowN, End: shadowK},
		},
		{
			name: "new edge materialises under its own handle",
			edge: domain.ShadowEdge{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagCreate}, Start: shadowN, End: shadowK},
			want: []Command{{Kind: CmdCreateEdge, Target: fresh, Edge: domain.Edge{Start: nodeN, End: nodeK}}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := domain.NewSession("graph")
			s.AddNode(domain.ShadowNode{Handle: shadowN, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeN}})
			s.AddNode(domain.ShadowNode{Handle: shadowK, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeK}})
			s.AddEdge(tc.edge)
			got := graphCommands(t, s)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestGraphCommandsForShadowNodes(t *testing.T) {
	const fresh domain.Handle = 1060
	cases := []struct {
		name string
		node domain.ShadowNode
		want []Command
	}{
		{
			name: "replace creates own handle and deletes predecessor",
			node: domain.ShadowNode{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagReplace, Predecessor: nodeM}},
			want: []Command{{Kind: CmdCreateNode, Target: fresh}, {Kind: CmdMarkDeleted, Target: nodeM}},
		},
		{
			name: "combine creates own handle and deletes predecessor",
			node: domain.ShadowNode{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagCombine, Predecessor: nodeM}},
			want: []Command{{Kind: CmdCreateNode, Target: fresh}, {Kind: CmdMarkDeleted, Target: nodeM}},
		},
		{
			name: "split point on an edge becomes a new node",
			node: domain.ShadowNode{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagCreate, Predecessor: edgeA}},
			want: []Command{{Kind: CmdCreateNode, Target: fresh}},
		},
		{
			name: "modify leaves the permanent node",
			node: domain.ShadowNode{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagModify, Predecessor: nodeM}},
		},
		{
			name: "delete marks predecessor",
			node: domain.ShadowNode{Handle: fresh, Shadow: domain.Shadow{Flags: domain.FlagDelete, Predecessor: nodeM}},
			want: []Command{{Kind: CmdMarkDeleted, Target: nodeM}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := domain.NewSession("graph")
			s.AddNode(tc.node)
			got := graphCommands(t, s)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

// graphCommands returns the graph commands planned for s against the seeded
// network, in submission order and without sequence numbers.
func graphCommands(t *testing.T, s *domain.Session) []Command {
	t.Helper()
	store := memory.NewStore(nil)
	seedNetwork(t, store)
	var out []Command
	err := store.View(context.Background(), func(view domain.TransactionView) error {
		queue := NewMutationQueue()
		if err := planGraph(newPassContext(view, s, NewIdentityMap(0), queue)); err != nil {
			return err
		}
		queue.Seal()
		cmds, err := queue.Drain()
		if err != nil {
			return err
		}
		for _, cmd := range cmds {
			cmd.seq = 0
			out = append(out, cmd)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("plan graph: %v", err)
	}
	return out
}
