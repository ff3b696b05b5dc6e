package operations

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/RyanSy/PortfolioAnalysis/internal/anomaly"
	"github.com/RyanSy/PortfolioAnalysis/internal/config"
	"github.com/RyanSy/PortfolioAnalysis/internal/infrastructure"
	"github.com/RyanSy/PortfolioAnalysis/internal/ingest"
	"github.com/RyanSy/PortfolioAnalysis/internal/mart"
	"github.com/RyanSy/PortfolioAnalysis/internal/metrics"
	"github.com/RyanSy/PortfolioAnalysis/internal/pricing"
	"github.com/RyanSy/PortfolioAnalysis/internal/validation"
	"github.com/RyanSy/PortfolioAnalysis/internal/valuation"
	"github.com/RyanSy/PortfolioAnalysis/internal/warehouse"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// NewPipelineSteps returns every step of a run in registration order
func NewPipelineSteps(cfg *config.Config, logger *slog.Logger, options StageOptions) []Step {
	if logger == nil {
		logger = slog.Default()
	}
	if options.Now == nil {
		options.Now = time.Now
	}
	env := stepEnv{cfg: cfg, logger: logger, options: options}
	return []Step{
		&IngestStep{BaseStage: NewBaseStage(StageIDIngest, StageNameIngest, nil), stepEnv: env.forStep(StageIDIngest)},
		&ValidateStep{BaseStage: NewBaseStage(StageIDValidate, StageNameValidate, []string{StageIDIngest}), stepEnv: env.forStep(StageIDValidate)},
		&NormalizeStep{BaseStage: NewBaseStage(StageIDNormalize, StageNameNormalize, []string{StageIDValidate}), stepEnv: env.forStep(StageIDNormalize)},
		&ValueStep{BaseStage: NewBaseStage(StageIDValue, StageNameValue, []string{StageIDNormalize}), stepEnv: env.forStep(StageIDValue)},
		&MetricsStep{BaseStage: NewBaseStage(StageIDMetrics, StageNameMetrics, []string{StageIDValue}), stepEnv: env.forStep(StageIDMetrics)},
		&AnomalyStep{BaseStage: NewBaseStage(StageIDAnomaly, StageNameAnomaly, []string{StageIDMetrics}), stepEnv: env.forStep(StageIDAnomaly)},
		&MartStep{BaseStage: NewBaseStage(StageIDMart, StageNameMart, []string{StageIDAnomaly}), stepEnv: env.forStep(StageIDMart)},
		&PersistStep{BaseStage: NewBaseStage(StageIDPersist, StageNamePersist, []string{StageIDMart}), stepEnv: env.forStep(StageIDPersist)},
		&ExportStep{BaseStage: NewBaseStage(StageIDExport, StageNameExport, []string{StageIDMart}), stepEnv: env.forStep(StageIDExport)},
	}
}

// RegisterPipeline registers every pipeline step with the manager
func RegisterPipeline(m *Manager, cfg *config.Config, logger *slog.Logger, options StageOptions) error {
	for _, step := range NewPipelineSteps(cfg, logger, options) {
		if err := m.RegisterStage(step); err != nil {
			return err
		}
	}
	return nil
}

// stepEnv is what every pipeline step shares
type stepEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	options StageOptions
}

func (e stepEnv) forStep(id string) stepEnv {
	e.logger = e.logger.With(slog.String("step", id))
	return e
}

func (e stepEnv) metrics() *infrastructure.PipelineMetrics {
	return e.options.Metrics
}

// IngestStep reads the source batches
type IngestStep struct {
	BaseStage
	stepEnv
}

// Execute loads every source location into raw rows
func (s *IngestStep) Execute(ctx context.Context, state *OperationState) error {
	sources, err := contextValue[[]string](state, ContextKeySources)
	if err != nil {
		return err
	}
	batches, err := ingest.NewLoader(s.logger).Load(ctx, sources)
	if err != nil {
		return err
	}

	total := 0
	for _, kind := range domain.EntityKinds {
		c := state.Summary.Kinds[kind]
		c.Read = batches.Count(kind)
		state.Summary.Kinds[kind] = c
		total += c.Read
	}
	state.SetContext(ContextKeyBatches, batches)
	state.GetStage(s.ID()).SetMetadata("rows_read", total)
	return nil
}

// ValidateStep types and checks every raw row
type ValidateStep struct {
	BaseStage
	stepEnv
}

// Execute validates the batches. Rejected rows go to quarantine; a required kind
// left empty fails the run after its counts are recorded.
func (s *ValidateStep) Execute(ctx context.Context, state *OperationState) error {
	batches, err := contextValue[*ingest.Batches](state, ContextKeyBatches)
	if err != nil {
		return err
	}
	v, err := validation.New(s.cfg.Validation, s.cfg.DataEnd(s.options.Now()), s.logger)
	if err != nil {
		return err
	}

	res, verr := v.Validate(ctx, batches)
	if res != nil {
		for _, kind := range domain.EntityKinds {
			c := state.Summary.Kinds[kind]
			c.Validated = res.Validated(kind)
			state.Summary.Kinds[kind] = c
			s.metrics().RecordValidated(ctx, string(kind), c.Validated)
		}
		s.recordQuarantine(ctx, state, res.Quarantine)
		state.SetContext(ContextKeyQuarantine, append([]domain.QuarantineRecord(nil), res.Quarantine...))
		state.SetContext(ContextKeyValidation, res)
	}
	return verr
}

// NormalizeStep builds the canonical warehouse tables
type NormalizeStep struct {
	BaseStage
	stepEnv
}

// Execute deduplicates validated rows and checks the horizon has price data
func (s *NormalizeStep) Execute(ctx context.Context, state *OperationState) error {
	res, err := contextValue[*validation.Result](state, ContextKeyValidation)
	if err != nil {
		return err
	}
	h, err := contextValue[domain.Horizon](state, ContextKeyHorizon)
	if err != nil {
		return err
	}

	wh, conflicts, err := warehouse.NewNormalizer(s.logger).Normalize(ctx, res)
	s.recordQuarantine(ctx, state, conflicts)
	prior, _ := contextValue[[]domain.QuarantineRecord](state, ContextKeyQuarantine)
	state.SetContext(ContextKeyQuarantine, append(prior, conflicts...))
	if err != nil {
		return err
	}

	stats := wh.Stats()
	for _, kind := range domain.EntityKinds {
		c := state.Summary.Kinds[kind]
		c.Duplicates = stats.Duplicates[kind]
		c.Loaded = stats.Loaded[kind]
		state.Summary.Kinds[kind] = c
	}
	if err := wh.CheckHorizon(h); err != nil {
		return err
	}
	state.SetContext(ContextKeyWarehouse, wh)
	return nil
}

// ValueStep values every portfolio on every horizon date
type ValueStep struct {
	BaseStage
	stepEnv
}

// Execute builds the price book and the valuation series
func (s *ValueStep) Execute(ctx context.Context, state *OperationState) error {
	wh, err := contextValue[*warehouse.Warehouse](state, ContextKeyWarehouse)
	if err != nil {
		return err
	}
	h, err := contextValue[domain.Horizon](state, ContextKeyHorizon)
	if err != nil {
		return err
	}

	book := pricing.NewBook(wh.Bars, wh.Actions)
	res, err := valuation.NewEngine(book, s.cfg.Pipeline.Workers, s.logger).Run(ctx, wh, h)
	if err != nil {
		return err
	}

	state.Summary.MissingPrices = len(res.Diagnostics)
	state.Summary.StaleValuations = res.StaleCount
	state.SetContext(ContextKeyBook, book)
	state.SetContext(ContextKeyValuation, res)
	return nil
}

// MetricsStep computes portfolio and ticker statistics
type MetricsStep struct {
	BaseStage
	stepEnv
}

// Execute runs the metrics engine over the valuation series and every ticker
func (s *MetricsStep) Execute(ctx context.Context, state *OperationState) error {
	wh, err := contextValue[*warehouse.Warehouse](state, ContextKeyWarehouse)
	if err != nil {
		return err
	}
	book, err := contextValue[*pricing.Book](state, ContextKeyBook)
	if err != nil {
		return err
	}
	val, err := contextValue[*valuation.Result](state, ContextKeyValuation)
	if err != nil {
		return err
	}

	cal := pricing.NewCalendar(s.cfg.Pipeline.CalendarMIC)
	engine, err := metrics.NewEngine(s.cfg.Metrics, book, cal, s.cfg.Pipeline.Workers, s.logger)
	if err != nil {
		return err
	}
	symbols := make([]string, len(wh.Tickers))
	for i, t := range wh.Tickers {
		symbols[i] = t.Symbol
	}
	sort.Strings(symbols)

	res, err := engine.Run(ctx, val, symbols)
	if err != nil {
		return err
	}
	state.Summary.ComputationErrors += len(res.Diagnostics)
	state.SetContext(ContextKeyCalendar, cal)
	state.SetContext(ContextKeyMetrics, res)
	return nil
}

// AnomalyStep evaluates the anomaly rules
type AnomalyStep struct {
	BaseStage
	stepEnv
}

// Execute runs every rule over the warehouse and the derived results
func (s *AnomalyStep) Execute(ctx context.Context, state *OperationState) error {
	in := anomaly.Input{}
	var err error
	if in.Warehouse, err = contextValue[*warehouse.Warehouse](state, ContextKeyWarehouse); err != nil {
		return err
	}
	if in.Book, err = contextValue[*pricing.Book](state, ContextKeyBook); err != nil {
		return err
	}
	if in.Calendar, err = contextValue[*pricing.Calendar](state, ContextKeyCalendar); err != nil {
		return err
	}
	if in.Valuation, err = contextValue[*valuation.Result](state, ContextKeyValuation); err != nil {
		return err
	}
	if in.Metrics, err = contextValue[*metrics.Result](state, ContextKeyMetrics); err != nil {
		return err
	}
	if in.Horizon, err = contextValue[domain.Horizon](state, ContextKeyHorizon); err != nil {
		return err
	}

	res, err := anomaly.NewDetector(s.cfg.Anomaly, s.logger).Detect(ctx, in)
	if err != nil {
		return err
	}
	state.Summary.ComputationErrors += len(res.Diagnostics)
	state.GetStage(s.ID()).SetMetadata("flags", len(res.Flags))
	state.SetContext(ContextKeyAnomalies, res)
	return nil
}

// MartStep materializes the fact and mart tables
type MartStep struct {
	BaseStage
	stepEnv
}

// Execute builds every table in memory; persisting and exporting come after
func (s *MartStep) Execute(ctx context.Context, state *OperationState) error {
	in := mart.Input{}
	var err error
	if in.Warehouse, err = contextValue[*warehouse.Warehouse](state, ContextKeyWarehouse); err != nil {
		return err
	}
	if in.Valuation, err = contextValue[*valuation.Result](state, ContextKeyValuation); err != nil {
		return err
	}
	if in.Metrics, err = contextValue[*metrics.Result](state, ContextKeyMetrics); err != nil {
		return err
	}
	if in.Anomalies, err = contextValue[*anomaly.Result](state, ContextKeyAnomalies); err != nil {
		return err
	}
	in.Quarantine, _ = contextValue[[]domain.QuarantineRecord](state, ContextKeyQuarantine)

	tables, err := mart.NewBuilder(s.logger).Build(ctx, in)
	if err != nil {
		return err
	}
	for _, t := range tables {
		state.Summary.DerivedRows[t.Name] = len(t.Rows)
		s.metrics().RecordDerived(ctx, t.Name, len(t.Rows))
	}
	state.SetContext(ContextKeyMarts, tables)
	state.SetContext(ContextKeyFacts, mart.Facts(in.Warehouse))
	return nil
}

// PersistStep writes facts and marts to the store
type PersistStep struct {
	BaseStage
	stepEnv
}

// Execute appends new fact rows and replaces each mart by key. Every table is
// written in its own transaction, so a failure leaves earlier tables committed
// and the failing table unchanged.
func (s *PersistStep) Execute(ctx context.Context, state *OperationState) error {
	store := s.options.Store
	if store == nil {
		s.logger.InfoContext(ctx, "persistence_disabled")
		return nil
	}
	facts, err := contextValue[[]*mart.Table](state, ContextKeyFacts)
	if err != nil {
		return err
	}
	marts, err := contextValue[[]*mart.Table](state, ContextKeyMarts)
	if err != nil {
		return err
	}

	appended := 0
	for _, t := range facts {
		if err := store.EnsureTable(ctx, t); err != nil {
			return err
		}
		n, err := store.AppendRows(ctx, t)
		if err != nil {
			return err
		}
		appended += n
	}
	for _, t := range marts {
		if err := store.EnsureTable(ctx, t); err != nil {
			return err
		}
		if err := store.ReplaceTable(ctx, t); err != nil {
			return err
		}
	}

	stage := state.GetStage(s.ID())
	stage.SetMetadata("fact_rows_appended", appended)
	stage.SetMetadata("marts_replaced", len(marts))
	return nil
}

// ExportStep writes mart files for the reporting layer
type ExportStep struct {
	BaseStage
	stepEnv
}

// Execute exports every mart table
func (s *ExportStep) Execute(ctx context.Context, state *OperationState) error {
	if s.options.Exporter == nil {
		s.logger.InfoContext(ctx, "export_disabled")
		return nil
	}
	marts, err := contextValue[[]*mart.Table](state, ContextKeyMarts)
	if err != nil {
		return err
	}
	paths, err := s.options.Exporter.Export(ctx, marts)
	if err != nil {
		return err
	}
	state.SetContext(ContextKeyExported, paths)
	state.GetStage(s.ID()).SetMetadata("files", len(paths))
	return nil
}

// recordQuarantine adds quarantined rows to the summary and the row counters
func (e stepEnv) recordQuarantine(ctx context.Context, state *OperationState, records []domain.QuarantineRecord) {
	if len(records) == 0 {
		return
	}
	state.Summary.RecordQuarantine(records)

	type key struct {
		kind domain.EntityKind
		code string
	}
	counts := make(map[key]int)
	for _, r := range records {
		counts[key{r.Kind, r.Code}]++
	}
	for k, n := range counts {
		e.metrics().RecordQuarantined(ctx, string(k.kind), k.code, n)
	}
	e.logger.WarnContext(ctx, "rows_quarantined", slog.Int("rows", len(records)))
}
