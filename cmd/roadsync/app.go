package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/common/expfmt"

	"roadcore/internal/archive"
	"roadcore/internal/blob"
	"roadcore/internal/config"
	"roadcore/internal/core"
	"roadcore/internal/infra/persistence/memory"
	"roadcore/internal/logging"
	"roadcore/internal/session"
)

// app carries the state shared by all roadsync commands for one invocation.
type app struct {
	configPath string
	trace      bool
	metricsOut string
	stdout     io.Writer
	stderr     io.Writer

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	opStats  *core.ExpvarMetricsRecorder
	tracer   core.Tracer
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(a.stderr, cfg.Log)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector())
	a.opStats = core.NewExpvarMetricsRecorder("")
	if a.trace {
		a.tracer = core.NewJSONTracer(a.stderr, nil)
	}
	return nil
}

// finish flushes metrics once the command has run.
func (a *app) finish() error {
	if a.opStats != nil {
		a.logger.Debug("service operations", "stats", a.opStats.Snapshot())
	}
	if a.metricsOut == "" || a.registry == nil {
		return nil
	}
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	w := a.stdout
	if a.metricsOut != "-" {
		f, err := os.Create(a.metricsOut)
		if err != nil {
			return fmt.Errorf("create metrics file: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

// stack is an opened store plus the service driving it.
type stack struct {
	store core.PersistentStore
	rules *core.RulesEngine
	svc   *core.Service
}

func (s *stack) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// snapshots returns the store as an archive target.
func (s *stack) snapshots() (archive.SnapshotStore, error) {
	st, ok := s.store.(archive.SnapshotStore)
	if !ok {
		return nil, fmt.Errorf("storage driver %T cannot export snapshots", s.store)
	}
	return st, nil
}

// open returns the configured store, or an ephemeral in-memory store seeded
// from networkPath when one is given.
func (a *app) open(networkPath string) (*stack, error) {
	rules := core.NewDefaultRulesEngine()
	var store core.PersistentStore
	if networkPath != "" {
		snap, err := session.LoadNetwork(networkPath)
		if err != nil {
			return nil, err
		}
		mem := memory.NewStore(rules)
		mem.ImportState(snap)
		store = mem
	} else {
		var err error
		store, err = core.OpenStorage(a.cfg.Storage, rules)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
	}

	logger := core.NewSlogLogger(a.logger)
	engineOpts := append(a.cfg.EngineOptions(), core.WithEngineLogger(logger), core.WithMetrics(a.registry))
	svcOpts := []core.Option{
		core.WithRulesEngine(rules),
		core.WithLogger(logger),
		core.WithMetricsRecorder(a.opStats),
		core.WithAuditRecorder(core.NewLogAuditRecorder(logger)),
		core.WithDirtyNotifier(func(_ context.Context, sessionID string, dirty []core.Handle) {
			a.logger.Debug("nodes dirty", "session", sessionID, "nodes", len(dirty))
		}),
	}
	if a.tracer != nil {
		engineOpts = append(engineOpts, core.WithEngineTracer(a.tracer))
		svcOpts = append(svcOpts, core.WithTracer(a.tracer))
	}
	svcOpts = append(svcOpts, core.WithEngine(core.NewEngine(engineOpts...)))
	return &stack{store: store, rules: rules, svc: core.NewService(store, svcOpts...)}, nil
}

func (a *app) archiver(ctx context.Context) (*archive.Archiver, error) {
	blobs, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return archive.New(blobs, archive.WithPrefix(a.cfg.Archive.Prefix)), nil
}
