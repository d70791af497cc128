package domain

// ShadowNode is the overlay of a node touched by an edit. Overrides holds the
// node's pending override list; nil means the edit carries no override work
// for this node.
type ShadowNode struct {
	Handle    Handle
	Shadow    Shadow
	Overrides []OverrideRecord
}

// ShadowEdge is the overlay of an edge touched by an edit. Start and End are
// the shadow handles of its endpoints.
type ShadowEdge struct {
	Handle Handle
	Shadow Shadow
	Start  Handle
	End    Handle
}

// Edge returns the shadow edge's topology.
func (e ShadowEdge) Edge() Edge {
	return Edge{Handle: e.Handle, Start: e.Start, End: e.End}
}

// ShadowConnectionSet is the overlay of a connection set authored or edited
// during the session. A nil Connections slice means the set has no
// generated-connection buffer.
type ShadowConnectionSet struct {
	Handle      Handle
	Shadow      Shadow
	Owner       Handle
	Connections []GeneratedConnection
}

// HasBuffer reports whether the set carries a generated-connection buffer.
func (s ShadowConnectionSet) HasBuffer() bool { return s.Connections != nil }

// Session is the shadow overlay of a single edit. It is built fresh for every
// edit and discarded once the edit has been reconciled.
type Session struct {
	ID             string
	Nodes          map[Handle]ShadowNode
	Edges          map[Handle]ShadowEdge
	ConnectionSets map[Handle]ShadowConnectionSet
	// IntersectionEdits lists permanent nodes that are open in the
	// intersection tool; their override containers survive becoming empty.
	IntersectionEdits map[Handle]struct{}
}

// NewSession returns an empty session with initialised maps.
func NewSession(id string) *Session {
	return &Session{
		ID:                id,
		Nodes:             make(map[Handle]ShadowNode),
		Edges:             make(map[Handle]ShadowEdge),
		ConnectionSets:    make(map[Handle]ShadowConnectionSet),
		IntersectionEdits: make(map[Handle]struct{}),
	}
}

// AddNode registers a shadow node.
func (s *Session) AddNode(n ShadowNode) {
	if s.Nodes == nil {
		s.Nodes = make(map[Handle]ShadowNode)
	}
	s.Nodes[n.Handle] = n
}

// AddEdge registers a shadow edge.
func (s *Session) AddEdge(e ShadowEdge) {
	if s.Edges == nil {
		s.Edges = make(map[Handle]ShadowEdge)
	}
	s.Edges[e.Handle] = e
}

// AddConnectionSet registers a shadow connection set.
func (s *Session) AddConnectionSet(c ShadowConnectionSet) {
	if s.ConnectionSets == nil {
		s.ConnectionSets = make(map[Handle]ShadowConnectionSet)
	}
	s.ConnectionSets[c.Handle] = c
}

// MarkIntersectionEdit records that the permanent node is mid-intersection-edit.
func (s *Session) MarkIntersectionEdit(node Handle) {
	if s.IntersectionEdits == nil {
		s.IntersectionEdits = make(map[Handle]struct{})
	}
	s.IntersectionEdits[node] = struct{}{}
}

// InIntersectionEdit reports whether node is open in the intersection tool.
func (s *Session) InIntersectionEdit(node Handle) bool {
	_, ok := s.IntersectionEdits[node]
	return ok
}

// Shadow returns the overlay attached to h, if any. A handle with no overlay
// is permanent.
func (s *Session) Shadow(h Handle) (Shadow, bool) {
	if h.IsEmpty() || s == nil {
		return Shadow{}, false
	}
	if n, ok := s.Nodes[h]; ok {
		return n.Shadow, true
	}
	if e, ok := s.Edges[h]; ok {
		return e.Shadow, true
	}
	if c, ok := s.ConnectionSets[h]; ok {
		return c.Shadow, true
	}
	return Shadow{}, false
}

// PendingNodes returns the shadow nodes that carry an override list.
func (s *Session) PendingNodes() []ShadowNode {
	out := make([]ShadowNode, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		if n.Overrides != nil {
			out = append(out, n)
		}
	}
	return out
}

// IsEmpty reports whether the session touches nothing.
func (s *Session) IsEmpty() bool {
	return s == nil || (len(s.Nodes) == 0 && len(s.Edges) == 0 && len(s.ConnectionSets) == 0)
}
