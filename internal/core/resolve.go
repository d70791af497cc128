package core

import (
	"roadcore/pkg/domain"
)

// passContext is the read-only state shared by every worker of one pass plus
// the two concurrent sinks: the identity map (frozen by now) and the queue.
type passContext struct {
	view    domain.TransactionView
	session *domain.Session
	idMap   *IdentityMap
	queue   *MutationQueue
}

func newPassContext(view domain.TransactionView, session *domain.Session, idMap *IdentityMap, queue *MutationQueue) *passContext {
	return &passContext{view: view, session: session, idMap: idMap, queue: queue}
}

func (p *passContext) enqueue(cmd Command) error {
	return p.queue.Enqueue(cmd)
}

// edgeHandle returns the handle an edge reference will carry once the session
// commits. Shadows that materialise under their own handle keep it; shadows
// of an existing edge fall back to their predecessor.
func (p *passContext) edgeHandle(h domain.Handle) domain.Handle {
	e, ok := p.session.Edges[h]
	if !ok || e.Shadow.KeepsOwnHandle() {
		return h
	}
	return e.Shadow.Predecessor
}

// nodeHandle returns the permanent handle for a node reference. A shadow
// whose predecessor is an edge is a split point and becomes a new node.
func (p *passContext) nodeHandle(h domain.Handle) domain.Handle {
	n, ok := p.session.Nodes[h]
	if !ok || n.Shadow.KeepsOwnHandle() {
		return h
	}
	if _, isNode := p.view.FindNode(n.Shadow.Predecessor); isNode {
		return n.Shadow.Predecessor
	}
	return h
}

// patchConnections rewrites every lane reference from shadow to permanent edge
// handles. The input is never modified.
func (p *passContext) patchConnections(in []domain.GeneratedConnection) []domain.GeneratedConnection {
	out := make([]domain.GeneratedConnection, len(in))
	for i, c := range in {
		c.Source.Edge = p.edgeHandle(c.Source.Edge)
		c.Target.Edge = p.edgeHandle(c.Target.Edge)
		out[i] = c
	}
	return out
}
