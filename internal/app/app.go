package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/internal/exporter"
	"github.com/RyanSy/PortfolioAnalysis/internal/infrastructure"
	"github.com/RyanSy/PortfolioAnalysis/internal/operations"
	"github.com/RyanSy/PortfolioAnalysis/internal/storage"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// shutdownTimeout bounds telemetry flushing after a run
const shutdownTimeout = 10 * time.Second

// Application holds everything one pipeline run needs
type Application struct {
	Config    *config.Config
	Logger    *slog.Logger
	Telemetry *infrastructure.Telemetry
	Store     storage.Store
	Exporter  *exporter.Exporter
	Manager   *operations.Manager

	// now is the run clock; tests pin it
	now func() time.Time
}

// RunRequest selects what a run processes. Empty fields fall back to the configuration.
type RunRequest struct {
	Sources []string
	Horizon domain.Horizon
	// Step runs one step and its dependencies instead of the whole pipeline
	Step string
}

// Option customizes an Application
type Option func(*Application)

// WithLogger uses logger instead of one built from the logging configuration
func WithLogger(logger *slog.Logger) Option {
	return func(a *Application) { a.Logger = logger }
}

// WithClock pins the clock used for data-end checks
func WithClock(now func() time.Time) Option {
	return func(a *Application) { a.now = now }
}

// NewApplication wires configuration, logging, telemetry, storage and export
// into an operations manager with every pipeline step registered.
func NewApplication(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Application{Config: cfg, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	if a.Logger == nil {
		logger, err := infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.Logger = logger
	}
	a.Logger.InfoContext(ctx, "application_starting",
		slog.String("name", contracts.AppName),
		slog.String("version", contracts.Version),
		slog.String("config", cfg.String()))

	tel, err := infrastructure.InitializeTelemetry(cfg.Telemetry, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.Telemetry = tel

	if cfg.Storage.Driver == "sqlite" && cfg.Storage.SQLitePath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
		}
	}
	store, err := storage.Open(ctx, cfg.Storage, a.Logger)
	if err != nil {
		a.shutdownTelemetry(ctx)
		return nil, err
	}
	a.Store = store

	exp, err := exporter.New(cfg.Pipeline.OutputDir, cfg.Pipeline.ExportFormat, a.Logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Exporter = exp

	a.Manager = operations.NewManager(nil,
		operations.ConfigFromPipeline(cfg.Pipeline),
		operations.NewOperationTracer(tel),
		a.Logger)
	err = operations.RegisterPipeline(a.Manager, cfg, a.Logger, operations.StageOptions{
		Store:    store,
		Exporter: exp,
		Metrics:  tel.Metrics,
		Now:      a.now,
	})
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to register pipeline steps: %w", err)
	}
	return a, nil
}

// Run executes one pipeline run and returns its summary. The summary is
// returned even when the run fails, with the failing step marked.
func (a *Application) Run(ctx context.Context, req RunRequest) (*domain.RunSummary, error) {
	if len(req.Sources) == 0 {
		req.Sources = a.Config.Pipeline.Sources
	}
	if req.Horizon.Start.IsZero() && req.Horizon.End.IsZero() {
		h, err := a.Config.Horizon()
		if err != nil {
			return nil, err
		}
		req.Horizon = h
	} else if err := req.Horizon.Validate(); err != nil {
		return nil, err
	}

	ctx = infrastructure.EnsureRunID(ctx)
	runID := infrastructure.GetRunID(ctx)

	resp, err := a.Manager.Execute(ctx, operations.OperationRequest{
		ID:      runID,
		Sources: req.Sources,
		Horizon: req.Horizon,
		Step:    req.Step,
	})

	if perr := a.Telemetry.Push(ctx, runID); perr != nil {
		a.Logger.WarnContext(ctx, "metrics_push_failed", slog.String("error", perr.Error()))
	}
	if resp == nil {
		return nil, err
	}

	s := resp.Summary
	a.Logger.InfoContext(ctx, "run_finished",
		slog.String("status", s.Status),
		slog.String("horizon", s.Horizon.Label()),
		slog.Int("quarantined", s.TotalQuarantined()),
		slog.Int("missing_prices", s.MissingPrices),
		slog.Int("computation_errors", s.ComputationErrors),
		slog.Duration("duration", resp.Duration))
	return s, err
}

// Close releases the store and flushes telemetry
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if err := a.shutdownTelemetry(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Logger.InfoContext(ctx, "application_stopped")
	return errors.Join(errs...)
}

func (a *Application) shutdownTelemetry(ctx context.Context) error {
	if a.Telemetry == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return a.Telemetry.Shutdown(shutdownCtx)
}
