package operations

import (
	"context"
	"time"

	"github.com/RyanSy/PortfolioAnalysis/internal/infrastructure"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
	"github.com/RyanSy/PortfolioAnalysis/internal/storage"
)

// MartExporter writes mart tables to files and returns their paths
type MartExporter interface {
	Export(ctx context.Context, tables []*mart.Table) ([]string, error)
}

// StageOptions contains the optional collaborators of the pipeline steps
type StageOptions struct {
	// Store persists facts and marts; nil skips persistence
	Store storage.Store
	// Exporter writes mart files; nil skips export
	Exporter MartExporter
	// Metrics receives row counters; nil records nothing
	Metrics *infrastructure.PipelineMetrics
	// Now is the run's clock for data-end checks
	Now func() time.Time
}
