package domain

import "time"

// StepStatus is the final status of one pipeline step
type StepStatus struct {
	ID       string        `json:"id"`
	Status   string        `json:"status"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// KindCounts are per-kind row counts for one run
type KindCounts struct {
	Read        int `json:"read"`
	Validated   int `json:"validated"`
	Quarantined int `json:"quarantined"`
	Duplicates  int `json:"duplicates_dropped"`
	Loaded      int `json:"loaded"`
}

// RunSummary is the single result of a pipeline run
type RunSummary struct {
	RunID             string                    `json:"run_id"`
	Horizon           Horizon                   `json:"horizon"`
	StartedAt         time.Time                 `json:"started_at"`
	FinishedAt        time.Time                 `json:"finished_at"`
	Status            string                    `json:"status"`
	Kinds             map[EntityKind]KindCounts `json:"kinds"`
	QuarantineReasons map[string]int            `json:"quarantine_reasons"`
	DerivedRows       map[string]int            `json:"derived_rows"`
	MissingPrices     int                       `json:"missing_price_conditions"`
	ComputationErrors int                       `json:"computation_errors"`
	StaleValuations   int                       `json:"stale_valuations"`
	Steps             []StepStatus              `json:"steps"`
	Error             string                    `json:"error,omitempty"`
}

// NewRunSummary returns an empty summary with its maps allocated
func NewRunSummary(runID string, h Horizon) *RunSummary {
	return &RunSummary{
		RunID:             runID,
		Horizon:           h,
		Kinds:             make(map[EntityKind]KindCounts, len(EntityKinds)),
		QuarantineReasons: make(map[string]int),
		DerivedRows:       make(map[string]int),
	}
}

// RecordQuarantine adds quarantine records to the per-kind and per-reason counts
func (s *RunSummary) RecordQuarantine(records []QuarantineRecord) {
	for _, r := range records {
		c := s.Kinds[r.Kind]
		c.Quarantined++
		s.Kinds[r.Kind] = c
		s.QuarantineReasons[r.Reason+":"+r.Code]++
	}
}

// TotalQuarantined returns the number of quarantined rows across kinds
func (s *RunSummary) TotalQuarantined() int {
	n := 0
	for _, c := range s.Kinds {
		n += c.Quarantined
	}
	return n
}
