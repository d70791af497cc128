package core

import (
	"sort"

	"roadcore/pkg/domain"
)

// planGraph enqueues the materialisation of shadow nodes and edges:
//   - Delete removes the predecessor;
//   - Replace and Combine create the shadow under its own handle and remove
//     the predecessor;
//   - a shadow without predecessor is created under its own handle;
//   - anything else updates its predecessor in place.
//
// Endpoints are remapped to permanent node handles.
func planGraph(pass *passContext) error {
	nodes := make([]domain.ShadowNode, 0, len(pass.session.Nodes))
	for _, n := range pass.session.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Handle < nodes[j].Handle })
	for _, n := range nodes {
		for _, cmd := range nodeCommands(pass, n) {
			if err := pass.enqueue(cmd); err != nil {
				return err
			}
		}
	}

	edges := make([]domain.ShadowEdge, 0, len(pass.session.Edges))
	for _, e := range pass.session.Edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Handle < edges[j].Handle })
	for _, e := range edges {
		for _, cmd := range edgeCommands(pass, e) {
			if err := pass.enqueue(cmd); err != nil {
				return err
			}
		}
	}
	return nil
}

func nodeCommands(pass *passContext, n domain.ShadowNode) []Command {
	predecessor := n.Shadow.Predecessor
	_, predecessorIsNode := pass.view.FindNode(predecessor)
	switch {
	case n.Shadow.Flags.Has(domain.FlagDelete):
		if predecessorIsNode {
			return []Command{{Kind: CmdMarkDeleted, Target: predecessor}}
		}
		return nil
	case n.Shadow.Flags.Any(domain.FlagReplace | domain.FlagCombine):
		cmds := []Command{{Kind: CmdCreateNode, Target: n.Handle}}
		if predecessorIsNode {
			cmds = append(cmds, Command{Kind: CmdMarkDeleted, Target: predecessor})
		}
		return cmds
	case !predecessorIsNode:
		return []Command{{Kind: CmdCreateNode, Target: n.Handle}}
	default:
		return nil
	}
}

func edgeCommands(pass *passContext, e domain.ShadowEdge) []Command {
	predecessor := e.Shadow.Predecessor
	_, predecessorIsEdge := pass.view.FindEdge(predecessor)
	topo := domain.Edge{Start: pass.nodeHandle(e.Start), End: pass.nodeHandle(e.End)}
	switch {
	case e.Shadow.Flags.Has(domain.FlagDelete):
		if predecessorIsEdge {
			return []Command{{Kind: CmdMarkDeleted, Target: predecessor}}
		}
		return nil
	case e.Shadow.Flags.Any(domain.FlagReplace | domain.FlagCombine):
		cmds := []Command{{Kind: CmdCreateEdge, Target: e.Handle, Edge: topo}}
		if predecessorIsEdge {
			cmds = append(cmds, Command{Kind: CmdMarkDeleted, Target: predecessor})
		}
		return cmds
	case predecessor.IsEmpty():
		return []Command{{Kind: CmdCreateEdge, Target: e.Handle, Edge: topo}}
	case predecessorIsEdge:
		return []Command{{Kind: CmdUpdateEdge, Target: predecessor, Edge: topo}}
	default:
		return nil
	}
}
