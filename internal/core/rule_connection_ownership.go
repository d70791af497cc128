package core

import (
	"context"
	"fmt"

	"roadcore/pkg/domain"
)

// NewConnectionOwnershipRule reports override records whose connection set is
// missing or owned by another node.
func NewConnectionOwnershipRule() domain.Rule {
	return connectionOwnershipRule{}
}

type connectionOwnershipRule struct{}

func (connectionOwnershipRule) Name() string { return "connection_ownership" }

func (r connectionOwnershipRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, node := range touchedNodes(view, changes) {
		if node.Overrides == nil {
			continue
		}
		for _, rec := range node.Overrides.Records {
			if rec.ConnectionSet.IsEmpty() {
				continue
			}
			set, ok := view.FindConnectionSet(rec.ConnectionSet)
			var msg string
			switch {
			case !ok:
				msg = fmt.Sprintf("node %s override on edge %s lane %d references missing connection set %s", node.Handle, rec.Edge, rec.Lane, rec.ConnectionSet)
			case set.Owner != node.Handle:
				msg = fmt.Sprintf("connection set %s is owned by %s, not by node %s", set.Handle, set.Owner, node.Handle)
			default:
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityWarn,
				Message:  msg,
				Entity:   domain.EntityConnectionSet,
				Handle:   rec.ConnectionSet,
			})
		}
	}
	return res, nil
}
