package core

import (
	"context"
	"fmt"

	"roadcore/pkg/domain"
)

// NewOverrideUniquenessRule blocks commits that leave two override records for
// the same edge lane on one node.
func NewOverrideUniquenessRule() domain.Rule {
	return overrideUniquenessRule{}
}

type overrideUniquenessRule struct{}

func (overrideUniquenessRule) Name() string { return "override_uniqueness" }

func (r overrideUniquenessRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, node := range touchedNodes(view, changes) {
		if node.Overrides == nil {
			continue
		}
		seen := make(map[domain.LaneRef]struct{}, node.Overrides.Len())
		for _, rec := range node.Overrides.Records {
			key := domain.LaneRef{Edge: rec.Edge, Lane: rec.Lane}
			if _, dup := seen[key]; dup {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     r.Name(),
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("node %s has more than one override for edge %s lane %d", node.Handle, rec.Edge, rec.Lane),
					Entity:   domain.EntityNode,
					Handle:   node.Handle,
				})
				continue
			}
			seen[key] = struct{}{}
		}
	}
	return res, nil
}
