package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/autoops/autoops/pkg/backend/sim"
	"github.com/autoops/autoops/pkg/config"
	"github.com/autoops/autoops/pkg/engine"
	"github.com/autoops/autoops/pkg/planner"
	"github.com/autoops/autoops/pkg/stores"
	"github.com/autoops/autoops/pkg/telemetry"
)

// stack holds the wired service components and their teardown order.
type stack struct {
	cfg     *config.Config
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	store   engine.TaskStore
	manager *engine.Manager
}

// buildStack wires the full pipeline from configuration: telemetry,
// store, planner, backend, workflow, and task manager. The manager is
// not started.
func buildStack(ctx context.Context, version string) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	metrics := telemetry.NewMetrics(cfg.Telemetry.Metrics)
	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, version, cfg.Telemetry.Environment)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	var store engine.TaskStore
	if cfg.Store.Path != "" {
		store, err = stores.NewSQLiteStore(ctx, stores.Config{Path: cfg.Store.Path})
		if err != nil {
			if cfg.Store.Required {
				return nil, fmt.Errorf("failed to open task store: %w", err)
			}
			logger.WithError(err).Warn("task store unavailable, running memory-only")
			store = stores.NewMemoryStore()
		}
	} else {
		store = stores.NewMemoryStore()
	}

	model := planner.NewOpenAIModel(planner.OpenAIConfig{
		BaseURL:     cfg.Planner.BaseURL,
		APIKey:      cfg.Planner.APIKey,
		Model:       cfg.Planner.Model,
		Temperature: cfg.Planner.Temperature,
		Timeout:     cfg.Planner.Timeout,
	})
	generator := planner.NewGenerator(model, cfg.Engine.DefaultNamespace, logger)
	backend := sim.NewCluster(sim.WithLogger(logger))

	executor := engine.NewOperationExecutor(backend, engine.ExecutorConfig{
		MaxConcurrent: cfg.Engine.MaxConcurrentOps,
		MaxAttempts:   cfg.Engine.OpMaxAttempts,
		BaseDelay:     cfg.Engine.OpBaseDelay,
	}, logger, metrics)
	workflow := engine.NewWorkflow(generator, executor, engine.WorkflowConfig{
		MaxRetries:       cfg.Engine.MaxRetries,
		DefaultNamespace: cfg.Engine.DefaultNamespace,
	}, logger, tracer)
	manager := engine.NewManager(engine.ManagerConfig{
		Workers:            cfg.Engine.Workers,
		DefaultTimeout:     cfg.Engine.DefaultTimeout,
		RetentionWindow:    cfg.Engine.RetentionWindow,
		RequirePersistence: cfg.Store.Required,
	}, store, workflow, logger, metrics)

	return &stack{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
		store:   store,
		manager: manager,
	}, nil
}

// close tears the stack down in reverse construction order.
func (s *stack) close() {
	s.manager.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.tracer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Warn("tracer shutdown failed")
	}
	if err := s.store.Close(); err != nil {
		s.logger.WithError(err).Warn("store close failed")
	}
}
