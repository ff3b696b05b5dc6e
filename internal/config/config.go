package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "github.com/RyanSy/PortfolioAnalysis/internal/errors"
	"github.com/RyanSy/PortfolioAnalysis/pkg/contracts/domain"
)

// Config represents the complete pipeline configuration
type Config struct {
	Logging    LoggingConfig    `yaml:"logging" envconfig:"LOGGING"`
	Storage    StorageConfig    `yaml:"storage" envconfig:"STORAGE"`
	Pipeline   PipelineConfig   `yaml:"pipeline" envconfig:"PIPELINE"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" envconfig:"TELEMETRY"`
	Validation ValidationConfig `yaml:"validation" envconfig:"VALIDATION"`
	Metrics    MetricsConfig    `yaml:"metrics" envconfig:"METRICS"`
	Anomaly    AnomalyConfig    `yaml:"anomaly" envconfig:"ANOMALY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level     string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Output    string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath  string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
	AddSource bool   `yaml:"add_source" envconfig:"ADD_SOURCE"`
}

// StorageConfig selects the warehouse backend. DSN wins over the DB_* variables.
type StorageConfig struct {
	Driver     string `yaml:"driver" envconfig:"DRIVER" validate:"oneof=sqlite postgres none"`
	DSN        string `yaml:"dsn" envconfig:"DSN"`
	SQLitePath string `yaml:"sqlite_path" envconfig:"SQLITE_PATH"`
	Schema     string `yaml:"schema" envconfig:"SCHEMA" validate:"omitempty,max=63"`
}

// PipelineConfig contains run parameters
type PipelineConfig struct {
	Sources      []string      `yaml:"sources" envconfig:"SOURCES"`
	HorizonStart string        `yaml:"horizon_start" envconfig:"HORIZON_START"`
	HorizonEnd   string        `yaml:"horizon_end" envconfig:"HORIZON_END"`
	Workers      int           `yaml:"workers" envconfig:"WORKERS" validate:"gte=1,lte=1024"`
	CalendarMIC  string        `yaml:"calendar_mic" envconfig:"CALENDAR_MIC"`
	OutputDir    string        `yaml:"output_dir" envconfig:"OUTPUT_DIR"`
	ExportFormat string        `yaml:"export_format" envconfig:"EXPORT_FORMAT" validate:"oneof=csv xlsx both none"`
	MaxAttempts  int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"gte=1,lte=10"`
	RetryDelay   time.Duration `yaml:"retry_delay" envconfig:"RETRY_DELAY" validate:"gte=0"`
}

// TelemetryConfig contains OpenTelemetry and Prometheus push settings
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED"`
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=none stdout"`
	PushgatewayURL string `yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	PushJob        string `yaml:"push_job" envconfig:"PUSH_JOB" validate:"required"`
}

// ValidationConfig contains row validation rules
type ValidationConfig struct {
	TickerPattern               string  `yaml:"ticker_pattern" envconfig:"TICKER_PATTERN" validate:"required,regexp"`
	ClassificationMinSimilarity float64 `yaml:"classification_min_similarity" envconfig:"CLASSIFICATION_MIN_SIMILARITY" validate:"gt=0,lte=1"`
	// DataEnd bounds row dates; empty means the current date
	DataEnd string `yaml:"data_end" envconfig:"DATA_END"`
}

// MetricsConfig contains statistic parameters
type MetricsConfig struct {
	TradingDaysPerYear    int      `yaml:"trading_days_per_year" envconfig:"TRADING_DAYS_PER_YEAR" validate:"gte=1"`
	MonthsPerYear         int      `yaml:"months_per_year" envconfig:"MONTHS_PER_YEAR" validate:"gte=1"`
	SwingSigmaMultiple    float64  `yaml:"swing_sigma_multiple" envconfig:"SWING_SIGMA_MULTIPLE" validate:"gt=0"`
	SwingAbsoluteFallback float64  `yaml:"swing_absolute_fallback" envconfig:"SWING_ABSOLUTE_FALLBACK" validate:"gt=0"`
	MinSwingSamples       int      `yaml:"min_swing_samples" envconfig:"MIN_SWING_SAMPLES" validate:"gte=2"`
	KPIs                  []string `yaml:"kpis" envconfig:"KPIS" validate:"dive,required"`
	RankingSize           int      `yaml:"ranking_size" envconfig:"RANKING_SIZE" validate:"gte=1"`
}

// AnomalyConfig holds every rule threshold. The rules are heuristics; these values
// are starting points to calibrate against real data.
type AnomalyConfig struct {
	Herd          HerdConfig          `yaml:"herd" envconfig:"HERD"`
	RiskFrequency RiskFrequencyConfig `yaml:"risk_frequency" envconfig:"RISK_FREQUENCY"`
	PreMove       PreMoveConfig       `yaml:"pre_move" envconfig:"PRE_MOVE"`
	Liquidity     LiquidityConfig     `yaml:"liquidity" envconfig:"LIQUIDITY"`
}

// HerdConfig flags (ticker, date, side) groups far above the ticker's baseline
type HerdConfig struct {
	BaselineDays     int     `yaml:"baseline_days" envconfig:"BASELINE_DAYS" validate:"gte=1"`
	SigmaMultiple    float64 `yaml:"sigma_multiple" envconfig:"SIGMA_MULTIPLE" validate:"gt=0"`
	MinAccounts      int     `yaml:"min_accounts" envconfig:"MIN_ACCOUNTS" validate:"gte=1"`
	BaselineMultiple float64 `yaml:"baseline_multiple" envconfig:"BASELINE_MULTIPLE" validate:"gte=1"`
}

// RiskFrequencyConfig flags accounts strictly above the percentiles of both risk and activity
type RiskFrequencyConfig struct {
	RiskPercentile      float64 `yaml:"risk_percentile" envconfig:"RISK_PERCENTILE" validate:"gt=0,lt=1"`
	FrequencyPercentile float64 `yaml:"frequency_percentile" envconfig:"FREQUENCY_PERCENTILE" validate:"gt=0,lt=1"`
	// HighRiskQuantile marks high-risk tickers for the flag detail only
	HighRiskQuantile    float64 `yaml:"high_risk_quantile" envconfig:"HIGH_RISK_QUANTILE" validate:"gt=0,lt=1"`
	MinTrades           int     `yaml:"min_trades" envconfig:"MIN_TRADES" validate:"gte=1"`
}

// PreMoveConfig flags unusual trades that precede a large price move
type PreMoveConfig struct {
	LookaheadBars     int     `yaml:"lookahead_bars" envconfig:"LOOKAHEAD_BARS" validate:"gte=1"`
	MoveThreshold     float64 `yaml:"move_threshold" envconfig:"MOVE_THRESHOLD" validate:"gt=0"`
	SigmaMultiple     float64 `yaml:"sigma_multiple" envconfig:"SIGMA_MULTIPLE" validate:"gt=0"`
	MinMoveSamples    int     `yaml:"min_move_samples" envconfig:"MIN_MOVE_SAMPLES" validate:"gte=2"`
	SizeMultiple      float64 `yaml:"size_multiple" envconfig:"SIZE_MULTIPLE" validate:"gte=1"`
	RequireProfitable bool    `yaml:"require_profitable" envconfig:"REQUIRE_PROFITABLE"`
}

// LiquidityConfig flags holdings large relative to traded volume
type LiquidityConfig struct {
	VolumeWindowBars int     `yaml:"volume_window_bars" envconfig:"VOLUME_WINDOW_BARS" validate:"gte=1"`
	Multiple         float64 `yaml:"multiple" envconfig:"MULTIPLE" validate:"gt=0"`
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:    DefaultLogLevel,
			Output:   DefaultLogOutput,
			FilePath: DefaultLogFilePath,
		},
		Storage: StorageConfig{
			Driver:     DefaultStorageDriver,
			SQLitePath: DefaultSQLitePath,
		},
		Pipeline: PipelineConfig{
			Workers:      runtime.GOMAXPROCS(0),
			CalendarMIC:  DefaultCalendarMIC,
			OutputDir:    DefaultOutputDir,
			ExportFormat: DefaultExportFormat,
			MaxAttempts:  1,
			RetryDelay:   time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			ServiceName:   DefaultServiceName,
			TraceExporter: "none",
			PushJob:       DefaultPushJob,
		},
		Validation: ValidationConfig{
			TickerPattern:               DefaultTickerPattern,
			ClassificationMinSimilarity: 0.6,
		},
		Metrics: MetricsConfig{
			TradingDaysPerYear:    252,
			MonthsPerYear:         12,
			SwingSigmaMultiple:    2.0,
			SwingAbsoluteFallback: 0.20,
			MinSwingSamples:       3,
			KPIs:                  []string{"risk_adjusted_return", "max_drawdown"},
			RankingSize:           5,
		},
		Anomaly: AnomalyConfig{
			Herd: HerdConfig{
				BaselineDays:     90,
				SigmaMultiple:    3.0,
				MinAccounts:      10,
				BaselineMultiple: 3.0,
			},
			RiskFrequency: RiskFrequencyConfig{
				RiskPercentile:      0.75,
				FrequencyPercentile: 0.75,
				HighRiskQuantile:    0.75,
				MinTrades:           1,
			},
			PreMove: PreMoveConfig{
				LookaheadBars:     5,
				MoveThreshold:     0.15,
				SigmaMultiple:     3.0,
				MinMoveSamples:    20,
				SizeMultiple:      3.0,
				RequireProfitable: true,
			},
			Liquidity: LiquidityConfig{
				VolumeWindowBars: 30,
				Multiple:         10.0,
			},
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, an optional
// .env file and PA_* environment variables, in increasing order of precedence.
// An empty path falls back to PA_CONFIG_FILE and then the usual locations.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env never overrides variables already set in the process environment
	if _, err := os.Stat(DotEnvFile); err == nil {
		if err := godotenv.Load(DotEnvFile); err != nil {
			return nil, apperrors.NewConfigError("failed to load .env", err)
		}
	}

	if path == "" {
		path = getConfigFilePath()
	}
	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).WithContext("path", path)
		}
	}

	applyDatabaseEnv(cfg)

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg; keys absent from the file keep their value
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	if p := os.Getenv(ConfigFileEnv); p != "" {
		return p
	}
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}
	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}
	return ""
}

// applyDatabaseEnv builds a Postgres DSN from the DB_* variables when no DSN is configured
func applyDatabaseEnv(cfg *Config) {
	host := os.Getenv("DB_HOST")
	if cfg.Storage.DSN != "" || host == "" {
		return
	}
	dialect := strings.ToLower(os.Getenv("DB_DIALECT"))
	if dialect != "" && !strings.HasPrefix(dialect, "postgres") {
		return
	}

	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, port),
		Path:   "/" + os.Getenv("DB_NAME"),
	}
	if user := os.Getenv("DB_USER"); user != "" {
		u.User = url.UserPassword(user, os.Getenv("DB_PASSWORD"))
	}
	q := u.Query()
	q.Set("sslmode", envOr("DB_SSLMODE", "disable"))
	u.RawQuery = q.Encode()

	cfg.Storage.Driver = "postgres"
	cfg.Storage.DSN = u.String()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks struct constraints and cross-field rules
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}

	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		return apperrors.NewConfigError("postgres storage requires a DSN or DB_* variables", nil)
	}
	if c.Storage.Driver == "sqlite" && c.Storage.SQLitePath == "" {
		return apperrors.NewConfigError("sqlite storage requires sqlite_path", nil)
	}
	if c.Pipeline.ExportFormat != "none" && c.Pipeline.OutputDir == "" {
		return apperrors.NewConfigError("export requires output_dir", nil)
	}
	if c.Validation.DataEnd != "" {
		if _, err := domain.ParseDate(c.Validation.DataEnd); err != nil {
			return apperrors.NewConfigError("invalid validation.data_end", err)
		}
	}
	if c.Pipeline.HorizonStart != "" || c.Pipeline.HorizonEnd != "" {
		if _, err := c.Horizon(); err != nil {
			return err
		}
	}
	return nil
}

// Horizon parses the configured analysis horizon
func (c *Config) Horizon() (domain.Horizon, error) {
	h, err := domain.NewHorizon(c.Pipeline.HorizonStart, c.Pipeline.HorizonEnd)
	if err != nil {
		return domain.Horizon{}, apperrors.NewConfigError("invalid analysis horizon", err)
	}
	return h, nil
}

// DataEnd returns the latest date a row may carry
func (c *Config) DataEnd(now time.Time) time.Time {
	if c.Validation.DataEnd != "" {
		if d, err := domain.ParseDate(c.Validation.DataEnd); err == nil {
			return d
		}
	}
	return domain.Day(now)
}

// String renders the configuration without secrets
func (c *Config) String() string {
	dsn := c.Storage.DSN
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "xxxxx")
		}
		dsn = u.String()
	}
	return fmt.Sprintf("driver=%s dsn=%s workers=%d calendar=%s export=%s",
		c.Storage.Driver, dsn, c.Pipeline.Workers, c.Pipeline.CalendarMIC, c.Pipeline.ExportFormat)
}
