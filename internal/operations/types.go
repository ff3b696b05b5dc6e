package operations

import (
	"time"

	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// operation Step identifiers
const (
	StageIDIngest    = "ingest"
	StageIDValidate  = "validate"
	StageIDNormalize = "normalize"
	StageIDValue     = "value"
	StageIDMetrics   = "metrics"
	StageIDAnomaly   = "anomaly"
	StageIDMart      = "mart"
	StageIDPersist   = "persist"
	StageIDExport    = "export"
)

// operation Step names
const (
	StageNameIngest    = "Source Ingestion"
	StageNameValidate  = "Row Validation"
	StageNameNormalize = "Warehouse Normalization"
	StageNameValue     = "Portfolio Valuation"
	StageNameMetrics   = "Metrics Computation"
	StageNameAnomaly   = "Anomaly Detection"
	StageNameMart      = "Mart Build"
	StageNamePersist   = "Warehouse Persistence"
	StageNameExport    = "Mart Export"
)

// Context keys for operation state
const (
	ContextKeySources    = "sources"
	ContextKeyHorizon    = "horizon"
	ContextKeyBatches    = "batches"
	ContextKeyValidation = "validation"
	ContextKeyWarehouse  = "warehouse"
	ContextKeyQuarantine = "quarantine"
	ContextKeyBook       = "price_book"
	ContextKeyCalendar   = "calendar"
	ContextKeyValuation  = "valuation"
	ContextKeyMetrics    = "metrics"
	ContextKeyAnomalies  = "anomalies"
	ContextKeyFacts      = "fact_tables"
	ContextKeyMarts      = "mart_tables"
	ContextKeyExported   = "exported_files"
)

// DefaultStageTimeout bounds a single step
const DefaultStageTimeout = 30 * time.Minute

// RetryConfig defines retry behavior for steps
type RetryConfig struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	Multiplier   float64       `json:"multiplier"`
}

// NewRetryConfig returns the default retry configuration: a single attempt
func NewRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  1,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// OperationRequest represents a request to execute a run
type OperationRequest struct {
	ID      string         `json:"id"`
	Sources []string       `json:"sources"`
	Horizon domain.Horizon `json:"horizon"`
	// Step, when set, runs only that step and what it depends on
	Step string `json:"step,omitempty"`
}

// OperationResponse represents the response from a run
type OperationResponse struct {
	ID       string                `json:"id"`
	Status   OperationStatusValue  `json:"status"`
	Duration time.Duration         `json:"duration"`
	Steps    map[string]*StepState `json:"steps"`
	Order    []string              `json:"order"`
	Summary  *domain.RunSummary    `json:"summary"`
	Error    string                `json:"error,omitempty"`
}
