package core

import (
	"context"
	"fmt"

	"roadcore/pkg/domain"
)

// NewOverrideContainerCleanupRule reports empty override containers left on
// nodes that are not open in the intersection tool, and markers that disagree
// with the container.
func NewOverrideContainerCleanupRule() domain.Rule {
	return overrideContainerCleanupRule{}
}

type overrideContainerCleanupRule struct{}

func (overrideContainerCleanupRule) Name() string { return "override_container_cleanup" }

func (r overrideContainerCleanupRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	session, _ := SessionFromContext(ctx)
	res := domain.Result{}
	warn := func(node domain.Handle, msg string) {
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("node %s %s", node, msg),
			Entity:   domain.EntityNode,
			Handle:   node,
		})
	}
	for _, node := range touchedNodes(view, changes) {
		switch {
		case node.Overrides == nil && node.Marker:
			warn(node.Handle, "carries a marker without an override container")
		case node.Overrides != nil && !node.Marker:
			warn(node.Handle, "carries an override container without a marker")
		case node.Overrides != nil && node.Overrides.Len() == 0 && (session == nil || !session.InIntersectionEdit(node.Handle)):
			warn(node.Handle, "keeps an empty override container")
		}
	}
	return res, nil
}
