package core

import (
	"context"
	"fmt"

	"roadcore/pkg/domain"
)

// NewConnectionReferencesRule checks that override records and their generated
// connections name permanent edges. A handle that only exists as a shadow of
// the committing session blocks; any other dangling edge is reported.
func NewConnectionReferencesRule() domain.Rule {
	return connectionReferencesRule{}
}

type connectionReferencesRule struct{}

func (connectionReferencesRule) Name() string { return "connection_references" }

func (r connectionReferencesRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	session, _ := SessionFromContext(ctx)
	res := domain.Result{}
	check := func(node domain.Handle, edge domain.Handle, where string) {
		if edge.IsEmpty() {
			return
		}
		if _, ok := view.FindEdge(edge); ok {
			return
		}
		v := domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("node %s %s references missing edge %s", node, where, edge),
			Entity:   domain.EntityNode,
			Handle:   node,
		}
		if isShadowEdge(session, edge) {
			v.Severity = domain.SeverityBlock
			v.Message = fmt.Sprintf("node %s %s references uncommitted shadow edge %s", node, where, edge)
		}
		res.Violations = append(res.Violations, v)
	}
	for _, node := range touchedNodes(view, changes) {
		if node.Overrides == nil {
			continue
		}
		for _, rec := range node.Overrides.Records {
			check(node.Handle, rec.Edge, fmt.Sprintf("override lane %d", rec.Lane))
			set, ok := view.FindConnectionSet(rec.ConnectionSet)
			if !ok {
				continue
			}
			for _, c := range set.Connections {
				check(node.Handle, c.Source.Edge, fmt.Sprintf("connection set %s source", set.Handle))
				check(node.Handle, c.Target.Edge, fmt.Sprintf("connection set %s target", set.Handle))
			}
		}
	}
	return res, nil
}

func isShadowEdge(session *domain.Session, h domain.Handle) bool {
	if session == nil {
		return false
	}
	_, ok := session.Edges[h]
	return ok
}
