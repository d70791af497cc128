package domain

import "context"

// RuleView provides read-only access to network state for rule evaluation.
type RuleView interface {
	ListNodes() []Node
	ListEdges() []Edge
	ListConnectionSets() []ConnectionSet
	FindNode(h Handle) (Node, bool)
	FindEdge(h Handle) (Edge, bool)
	FindConnectionSet(h Handle) (ConnectionSet, bool)
}

// Rule defines an evaluation executed within a transaction boundary.
type Rule interface {
	Name() string
	Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error)
}

// RulesEngine orchestrates rule evaluation.
type RulesEngine struct {
	rules []Rule
}

// NewRulesEngine constructs an engine instance.
func NewRulesEngine() *RulesEngine {
	return &RulesEngine{}
}

// Register appends a rule to the engine.
func (e *RulesEngine) Register(rule Rule) {
	e.rules = append(e.rules, rule)
}

// Rules returns the registered rules in evaluation order.
func (e *RulesEngine) Rules() []Rule {
	return append([]Rule(nil), e.rules...)
}

// Evaluate executes all registered rules and aggregates their results.
func (e *RulesEngine) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	var combined Result
	for _, rule := range e.rules {
		res, err := rule.Evaluate(ctx, view, changes)
		if err != nil {
			return Result{}, err
		}
		combined.Merge(res)
	}
	return combined, nil
}

// TouchedNodes returns the distinct node handles named by changes, including
// owners of changed connection sets when view can resolve them.
func TouchedNodes(view RuleView, changes []Change) []Handle {
	seen := make(map[Handle]struct{})
	var out []Handle
	add := func(h Handle) {
		if h.IsEmpty() {
			return
		}
		if _, ok := seen[h]; ok {
			return
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	for _, c := range changes {
		switch c.Entity {
		case EntityNode:
			add(c.Handle)
		case EntityConnectionSet:
			if set, ok := view.FindConnectionSet(c.Handle); ok {
				add(set.Owner)
			}
		}
	}
	return out
}
