package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"roadcore/internal/infra/persistence/memory"
	"roadcore/pkg/domain"
)

// Service commits shadow sessions against a persistent store: it plans the
// reconciliation, replays the commands inside one store transaction and lets
// the rules engine veto the result.
type Service struct {
	store   PersistentStore
	engine  *Engine
	rules   *RulesEngine
	logger  Logger
	clock   Clock
	metrics MetricsRecorder
	tracer  Tracer
	audit   AuditRecorder
	notify  DirtyNotifier

	mu      sync.Mutex
	plugins map[string]PluginMetadata
}

// DirtyNotifier receives the nodes marked dirty by a committed session.
type DirtyNotifier func(ctx context.Context, sessionID string, dirty []domain.Handle)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics sink.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer sets the tracer wrapping each operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(rec AuditRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithDirtyNotifier registers a callback invoked after each successful commit
// that marked nodes dirty.
func WithDirtyNotifier(fn DirtyNotifier) Option {
	return func(s *Service) { s.notify = fn }
}

// WithEngine replaces the reconciliation engine.
func WithEngine(engine *Engine) Option {
	return func(s *Service) {
		if engine != nil {
			s.engine = engine
		}
	}
}

// WithRulesEngine records the rules engine the store evaluates, so that
// InstallPlugin can extend it.
func WithRulesEngine(rules *RulesEngine) Option {
	return func(s *Service) {
		if rules != nil {
			s.rules = rules
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		clock:   systemClock(),
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		audit:   noopAudit{},
		plugins: make(map[string]PluginMetadata),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.engine == nil {
		s.engine = NewEngine(WithEngineLogger(s.logger))
	}
	if s.rules == nil {
		if rs, ok := store.(interface{ RulesEngine() *RulesEngine }); ok {
			s.rules = rs.RulesEngine()
		}
	}
	return s
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(rules *RulesEngine, opts ...Option) *Service {
	if rules == nil {
		rules = NewDefaultRulesEngine()
	}
	opts = append([]Option{WithRulesEngine(rules)}, opts...)
	return NewService(memory.NewStore(rules), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Engine returns the reconciliation engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Outcome reports what a committed session did.
type Outcome struct {
	SessionID string
	Plan      Plan
	Replay    ReplayStats
	Result    Result
	Dirty     []domain.Handle
	Deleted   []domain.Handle
}

// Plan reconciles session against a snapshot of the store without applying
// anything.
func (s *Service) Plan(ctx context.Context, session *domain.Session) (Plan, error) {
	var plan Plan
	err := s.run(ctx, "plan_session", session, func(ctx context.Context, entry *AuditEntry) error {
		return s.store.View(ctx, func(view domain.TransactionView) error {
			var err error
			plan, err = s.engine.Plan(ctx, view, session)
			entry.Commands = len(plan.Commands)
			entry.Dirty = plan.Dirty
			return err
		})
	})
	return plan, err
}

// Commit reconciles session and applies the result atomically. Planning reads
// the transaction's own snapshot, so concurrent commits and ClearOverrides are
// serialised by the store.
func (s *Service) Commit(ctx context.Context, session *domain.Session) (Outcome, error) {
	out := Outcome{SessionID: sessionID(session)}
	err := s.run(ctx, "commit_session", session, func(ctx context.Context, entry *AuditEntry) error {
		ctx = ContextWithSession(ctx, session)
		res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			plan, err := s.engine.Plan(ctx, tx.Snapshot(), session)
			if err != nil {
				return err
			}
			stats, err := Replay(tx, plan.Commands, s.logger)
			if err != nil {
				return err
			}
			out.Plan, out.Replay = plan, stats
			return nil
		})
		out.Result = res
		entry.Violations = res.Violations
		entry.Commands = len(out.Plan.Commands)
		if err != nil {
			return err
		}
		out.Dirty = out.Plan.Dirty
		out.Deleted = out.Plan.Deleted
		entry.Dirty = out.Dirty
		for _, v := range res.Violations {
			s.logger.Warn("rule violation", "rule", v.Rule, "severity", v.Severity, "entity", v.Entity, "handle", v.Handle, "message", v.Message)
		}
		return nil
	})
	if err != nil {
		var rv domain.RuleViolationError
		if errors.As(err, &rv) {
			return out, err
		}
		return Outcome{SessionID: out.SessionID}, err
	}
	if s.notify != nil && len(out.Dirty) > 0 {
		s.notify(ctx, out.SessionID, out.Dirty)
	}
	return out, nil
}

// ClearOverrides removes every override container, marker and connection set.
// It runs as a store transaction and therefore never overlaps a Commit.
func (s *Service) ClearOverrides(ctx context.Context) (int, error) {
	var cleared int
	err := s.run(ctx, "clear_overrides", nil, func(ctx context.Context, entry *AuditEntry) error {
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			view := tx.Snapshot()
			for _, set := range view.ListConnectionSets() {
				if err := tx.DeleteConnectionSet(set.Handle); err != nil {
					return err
				}
			}
			for _, node := range view.ListNodes() {
				if node.Overrides == nil && !node.Marker {
					continue
				}
				if _, err := tx.UpdateNode(node.Handle, func(n *domain.Node) error {
					n.Overrides = nil
					n.Marker = false
					return nil
				}); err != nil {
					return err
				}
				entry.Dirty = append(entry.Dirty, node.Handle)
				cleared++
			}
			return nil
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return cleared, nil
}

func (s *Service) run(ctx context.Context, op string, session *domain.Session, fn func(context.Context, *AuditEntry) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	entry := AuditEntry{Operation: op, SessionID: sessionID(session), StartedAt: s.clock.Now()}
	err := fn(ctx, &entry)
	entry.Duration = s.clock.Now().Sub(entry.StartedAt)
	entry.Status = AuditStatusSuccess
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op, "session", entry.SessionID, "error", err)
	} else {
		s.logger.Info("operation completed", "operation", op, "session", entry.SessionID, "commands", entry.Commands, "dirty", len(entry.Dirty), "duration", entry.Duration)
	}
	s.audit.Record(ctx, entry)
	s.metrics.Observe(ctx, op, err == nil, entry.Duration)
	span.End(err)
	return err
}

// InstallPlugin registers a plugin, wiring its rules into the active rules engine.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	if s.rules == nil {
		return PluginMetadata{}, fmt.Errorf("plugin %s: store exposes no rules engine", plugin.Name())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}
	rules := registry.Rules()
	for _, rule := range rules {
		s.rules.Register(rule)
	}

	meta := PluginMetadata{
		Name:    plugin.Name(),
		Version: plugin.Version(),
		Rules:   ruleNames(rules),
		Schemas: registry.Schemas(),
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info("plugin installed", "plugin", meta.Name, "version", meta.Version, "rules", len(rules))
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	return out
}
