package operations

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RyanSy/PortfolioAnalysis/internal/infrastructure"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Manager orchestrates run execution
type Manager struct {
	registry *Registry
	config   *Config
	tracer   *OperationTracer
	logger   *slog.Logger
}

// NewManager creates a new operation manager. Nil arguments get defaults.
func NewManager(registry *Registry, config *Config, tracer *OperationTracer, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if tracer == nil {
		tracer = NewOperationTracer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		config:   config,
		tracer:   tracer,
		logger:   logger.With(slog.String("component", "operations")),
	}
}

// RegisterStage registers a Step with the operation
func (m *Manager) RegisterStage(step Step) error {
	return m.registry.Register(step)
}

// GetRegistry returns the registry for accessing registered stages
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// GetConfig returns the current configuration
func (m *Manager) GetConfig() *Config {
	return m.config
}

// Execute runs the registered steps in dependency order. The first failing step
// stops the run and its dependents are skipped.
func (m *Manager) Execute(ctx context.Context, req OperationRequest) (*OperationResponse, error) {
	if req.ID == "" {
		req.ID = infrastructure.GetRunID(ctx)
	}
	if req.ID == "" {
		req.ID = infrastructure.GenerateRunID()
	}
	ctx = infrastructure.WithRunID(ctx, req.ID)

	state := NewOperationState(req.ID, req.Horizon)
	state.SetContext(ContextKeySources, req.Sources)
	state.SetContext(ContextKeyHorizon, req.Horizon)

	var (
		steps []Step
		err   error
	)
	if req.Step != "" {
		steps, err = m.registry.DependencyClosure(req.Step)
	} else {
		steps, err = m.registry.GetDependencyOrder()
	}
	if err != nil {
		m.logOperationError(ctx, req.ID, err)
		state.Fail(err)
		return m.createResponse(state, nil), NewFatalError("cannot order steps", err)
	}

	order := make([]string, len(steps))
	for i, step := range steps {
		state.SetStage(step.ID(), NewStepState(step.ID(), step.Name()))
		order[i] = step.ID()
	}

	ctx, span := m.tracer.TraceOperationExecution(ctx, req)
	m.logOperationStart(ctx, req, order)
	state.Start()
	state.Summary.StartedAt = state.StartTime

	err = m.executeSequential(ctx, state, steps)

	switch {
	case err == nil:
		state.Complete()
	case ctx.Err() != nil:
		state.Cancel()
		state.Error = err
	default:
		state.Fail(err)
	}
	m.tracer.RecordOperationCompletion(ctx, span, state.Status, err)
	m.logOperationComplete(ctx, req.ID, state.Duration(), string(state.Status))

	return m.createResponse(state, order), err
}

// executeSequential executes steps one by one. Each step reads what earlier
// steps stored in the state, so steps never run concurrently.
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	for i, step := range steps {
		if ctx.Err() != nil {
			m.logger.WarnContext(ctx, "operation_cancelled", slog.String("step", step.ID()))
			m.skipRemaining(state, steps[i:], "operation cancelled")
			return NewCancellationError(step.ID())
		}

		stepState := state.GetStage(step.ID())
		if stepState.GetStatus() == StepStatusSkipped {
			continue
		}

		m.logger.InfoContext(ctx, "executing_stage",
			slog.String("step", step.ID()),
			slog.Int("stage_number", i+1),
			slog.Int("total_stages", len(steps)))

		if err := m.executeStage(ctx, state, step); err != nil {
			m.logStageError(ctx, step.ID(), err)
			if !m.config.ContinueOnError {
				m.skipDependentStages(state, steps, step.ID())
				m.skipRemaining(state, steps[i+1:], fmt.Sprintf("Step %s failed", step.ID()))
				return err
			}
			m.skipDependentStages(state, steps, step.ID())
		}
	}
	return nil
}

// executeStage executes a single Step with retry logic
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError("Step state not found", nil)
	}

	if err := m.checkDependencies(state, step); err != nil {
		stepState.Skip(fmt.Sprintf("Dependencies not met: %v", err))
		return err
	}

	if err := step.Validate(state); err != nil {
		vErr := NewValidationError(step.ID(), err.Error())
		stepState.Fail(vErr)
		return vErr
	}

	timeout := m.config.GetStageTimeout(step.ID())
	stageCtx, cancel := context.WithTimeout(infrastructure.WithStep(ctx, step.ID()), timeout)
	defer cancel()

	retryConfig := m.config.RetryConfig
	maxAttempts := retryConfig.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		stepState.Start()
		m.logStageStart(stageCtx, step.ID(), attempt)

		spanCtx, span := m.tracer.TraceStageExecution(stageCtx, state.ID, step.ID(), attempt)
		startTime := time.Now()
		err := step.Execute(spanCtx, state)
		duration := time.Since(startTime)
		m.tracer.RecordStageCompletion(spanCtx, span, step.ID(), duration, err)

		if err == nil {
			m.logStageComplete(stageCtx, step.ID(), duration)
			stepState.Complete()
			return nil
		}

		if stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			tErr := NewTimeoutError(step.ID(), timeout.String())
			tErr.Cause = err
			stepState.Fail(tErr)
			return tErr
		}

		if !IsRetryable(err) || attempt >= maxAttempts {
			wrapped := WrapError(err, step.ID(), "Step execution failed")
			stepState.Fail(wrapped)
			return wrapped
		}

		delay := m.calculateRetryDelay(attempt, retryConfig)
		m.logger.WarnContext(stageCtx, "stage_retry",
			slog.String("step", step.ID()),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-stageCtx.Done():
			timer.Stop()
			wrapped := WrapError(err, step.ID(), "Step interrupted during retry")
			stepState.Fail(wrapped)
			return wrapped
		}
	}
}

// skipDependentStages marks all steps that depend on the failed Step as skipped
func (m *Manager) skipDependentStages(state *OperationState, steps []Step, failedStageID string) {
	for _, step := range steps {
		for _, dep := range step.GetDependencies() {
			if dep != failedStageID {
				continue
			}
			stepState := state.GetStage(step.ID())
			if stepState != nil && stepState.GetStatus() == StepStatusPending {
				stepState.Skip(fmt.Sprintf("Dependency %s failed", failedStageID))
				m.skipDependentStages(state, steps, step.ID())
			}
			break
		}
	}
}

func (m *Manager) skipRemaining(state *OperationState, steps []Step, reason string) {
	for _, step := range steps {
		if s := state.GetStage(step.ID()); s != nil && s.GetStatus() == StepStatusPending {
			s.Skip(reason)
		}
	}
}

// checkDependencies verifies that all dependencies are satisfied
func (m *Manager) checkDependencies(state *OperationState, step Step) error {
	for _, dep := range step.GetDependencies() {
		depState := state.GetStage(dep)
		if depState == nil {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not found", dep))
		}
		if status := depState.GetStatus(); status != StepStatusCompleted {
			return NewDependencyError(step.ID(), dep, fmt.Sprintf("dependency %s not completed (status: %s)", dep, status))
		}
	}
	return nil
}

// calculateRetryDelay grows the delay geometrically up to MaxDelay
func (m *Manager) calculateRetryDelay(attempt int, config RetryConfig) time.Duration {
	delay := config.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.Multiplier)
	}
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	return delay
}

// createResponse creates a run response from state and fills the summary's step list
func (m *Manager) createResponse(state *OperationState, order []string) *OperationResponse {
	summary := state.Summary
	summary.Status = string(state.Status)
	if state.EndTime != nil {
		summary.FinishedAt = *state.EndTime
	}
	summary.Steps = summary.Steps[:0]
	for _, id := range order {
		s := state.GetStage(id)
		status := domain.StepStatus{ID: id, Status: string(s.GetStatus()), Duration: s.Duration()}
		if s.Error != nil {
			status.Error = s.Error.Error()
		} else if s.Message != "" {
			status.Error = s.Message
		}
		summary.Steps = append(summary.Steps, status)
	}

	resp := &OperationResponse{
		ID:       state.ID,
		Status:   state.Status,
		Duration: state.Duration(),
		Steps:    state.Steps,
		Order:    order,
		Summary:  summary,
	}
	if state.Error != nil {
		resp.Error = state.Error.Error()
		summary.Error = resp.Error
	}
	return resp
}
