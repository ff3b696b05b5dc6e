// Package app wires a pipeline run together.
//
// NewApplication validates the configuration and builds, in order, the
// logger, telemetry, the warehouse store, the mart exporter and an operations
// manager with every pipeline step registered. Run executes one run and
// returns its summary; Close releases the store and flushes telemetry.
//
//	application, err := app.NewApplication(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer application.Close(ctx)
//	summary, err := application.Run(ctx, app.RunRequest{})
package app
