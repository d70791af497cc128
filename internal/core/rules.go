package core

import (
	"context"

	"roadcore/pkg/domain"
)

type (
	// Rule aliases domain.Rule.
	Rule = domain.Rule
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
)

// NewRulesEngine constructs an engine with no rules.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in network invariants.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	for _, rule := range defaultRules() {
		engine.Register(rule)
	}
	return engine
}

func defaultRules() []Rule {
	return []Rule{
		NewOverrideUniquenessRule(),
		NewConnectionReferencesRule(),
		NewOverrideContainerCleanupRule(),
		NewConnectionOwnershipRule(),
	}
}

type sessionKey struct{}

// ContextWithSession attaches the session being committed so rules can tell
// shadow handles from permanent ones.
func ContextWithSession(ctx context.Context, session *domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFromContext returns the session attached by ContextWithSession.
func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*domain.Session)
	return s, ok && s != nil
}

func touchedNodes(view domain.RuleView, changes []domain.Change) []domain.Node {
	var out []domain.Node
	for _, h := range domain.TouchedNodes(view, changes) {
		if n, ok := view.FindNode(h); ok {
			out = append(out, n)
		}
	}
	return out
}
