package core

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"roadcore/pkg/domain"
)

const defaultBatchSize = 64

// Engine reconciles shadow sessions against permanent state. An Engine holds
// no per-session state and may be shared across goroutines.
type Engine struct {
	workers          int
	batchSize        int
	identityCapacity int
	logger           Logger
	tracer           Tracer
	registerer       prometheus.Registerer
	metrics          *engineMetrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithWorkers bounds the number of batches processed concurrently.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBatchSize sets how many edges or nodes a single worker handles at once.
func WithBatchSize(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithIdentityCapacity caps the identity map. Zero sizes it for the worst case.
func WithIdentityCapacity(n int) EngineOption {
	return func(e *Engine) { e.identityCapacity = n }
}

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEngineTracer wraps each pass in a span.
func WithEngineTracer(tracer Tracer) EngineOption {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics registers the engine's prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return func(e *Engine) { e.registerer = reg }
}

// NewEngine constructs an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		workers:   runtime.GOMAXPROCS(0),
		batchSize: defaultBatchSize,
		logger:    noopLogger{},
		tracer:    noopTracer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.metrics = newEngineMetrics(e.registerer)
	return e
}

// PassStats counts what a pass did with the override records it visited.
type PassStats struct {
	Nodes           int
	Created         int
	Replaced        int
	Edited          int
	Deleted         int
	Skipped         int
	IdentityEntries int
}

func (s *PassStats) add(o PassStats) {
	s.Nodes += o.Nodes
	s.Created += o.Created
	s.Replaced += o.Replaced
	s.Edited += o.Edited
	s.Deleted += o.Deleted
	s.Skipped += o.Skipped
}

// Plan is the result of a reconciliation pass: the ordered commands to replay
// plus the handles they delete and the nodes they mark dirty.
type Plan struct {
	SessionID string
	Commands  []Command
	Dirty     []domain.Handle
	Deleted   []domain.Handle
	Stats     PassStats
}

// Empty reports whether replaying the plan would change nothing.
func (p Plan) Empty() bool { return len(p.Commands) == 0 }

// Plan runs the identity map builder and the override reconciler over session
// against view. Permanent state is only read; the returned commands are
// applied by Replay.
func (e *Engine) Plan(ctx context.Context, view domain.TransactionView, session *domain.Session) (plan Plan, err error) {
	ctx, span := e.tracer.Start(ctx, "reconcile_plan")
	started := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			e.logger.Error("reconcile pass failed", "session", sessionID(session), "error", err)
		}
		e.metrics.passes.WithLabelValues(result).Inc()
		e.metrics.passDuration.WithLabelValues("total").Observe(time.Since(started).Seconds())
		span.End(err)
	}()

	if session == nil {
		return Plan{}, fmt.Errorf("reconcile: nil session")
	}
	plan.SessionID = session.ID
	if session.IsEmpty() {
		return plan, nil
	}

	phase := time.Now()
	idMap, err := e.BuildIdentityMap(ctx, view, session)
	if err != nil {
		return Plan{}, fmt.Errorf("build identity map: %w", err)
	}
	e.metrics.passDuration.WithLabelValues("identity").Observe(time.Since(phase).Seconds())

	queue := NewMutationQueue()
	pass := newPassContext(view, session, idMap, queue)
	if err := planGraph(pass); err != nil {
		return Plan{}, fmt.Errorf("plan graph: %w", err)
	}

	phase = time.Now()
	stats, err := e.reconcileNodes(ctx, pass)
	if err != nil {
		return Plan{}, fmt.Errorf("reconcile overrides: %w", err)
	}
	e.metrics.passDuration.WithLabelValues("reconcile").Observe(time.Since(phase).Seconds())
	stats.IdentityEntries = idMap.Len()

	queue.Seal()
	cmds, err := queue.Drain()
	if err != nil {
		return Plan{}, err
	}
	e.metrics.queueSize.Observe(float64(len(cmds)))

	plan.Commands = cmds
	plan.Stats = stats
	plan.Dirty, plan.Deleted = summarize(cmds)
	e.logger.Info("reconcile pass planned",
		"session", session.ID,
		"commands", len(cmds),
		"dirty", len(plan.Dirty),
		"created", stats.Created,
		"replaced", stats.Replaced,
		"edited", stats.Edited,
		"deleted", stats.Deleted,
		"skipped", stats.Skipped,
	)
	return plan, nil
}

func summarize(cmds []Command) (dirty, deleted []domain.Handle) {
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CmdMarkDirty:
			dirty = append(dirty, cmd.Target)
		case CmdMarkDeleted:
			deleted = append(deleted, cmd.Target)
		}
	}
	slices.Sort(dirty)
	slices.Sort(deleted)
	return slices.Compact(dirty), slices.Compact(deleted)
}

func sessionID(s *domain.Session) string {
	if s == nil {
		return ""
	}
	return s.ID
}
