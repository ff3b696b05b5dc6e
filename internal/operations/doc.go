// Package operations runs the warehouse pipeline as a chain of dependent steps.
//
// A run ingests source batches, validates and normalizes them into the
// warehouse, values every portfolio, computes metrics, evaluates anomaly
// rules, builds the marts and finally persists and exports them.
//
// Core Components:
//
// Manager: orders the registered steps, executes them one at a time and turns
// the final state into an OperationResponse carrying the run summary. The first
// failing step stops the run; everything after it is reported as skipped.
//
// Step: a single unit of work. Steps declare the ids they depend on and pass
// their outputs to later steps through the OperationState context.
//
// Registry: holds the steps and sorts them topologically, keeping registration
// order among steps that become ready together.
//
// Config: per-step timeouts and the retry policy. Only storage failures are
// retried; validation and computation failures are deterministic.
//
// Example usage:
//
//	manager := operations.NewManager(nil, operations.ConfigFromPipeline(cfg.Pipeline), tracer, logger)
//	if err := operations.RegisterPipeline(manager, cfg, logger, operations.StageOptions{Store: store}); err != nil {
//		return err
//	}
//	resp, err := manager.Execute(ctx, operations.OperationRequest{
//		Sources: cfg.Pipeline.Sources,
//		Horizon: cfg.Horizon(),
//	})
package operations
