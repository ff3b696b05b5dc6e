package config

// Application constants
const (
	AppName = "PortfolioAnalysis"

	// EnvPrefix namespaces every environment override (PA_LOGGING_LEVEL, PA_ANOMALY_HERD_SIGMA_MULTIPLE, ...)
	EnvPrefix = "PA"

	// ConfigFileEnv names the variable that points at a YAML config file
	ConfigFileEnv = "PA_CONFIG_FILE"

	// DotEnvFile is loaded from the working directory when present
	DotEnvFile = ".env"

	DefaultLogLevel    = "info"
	DefaultLogOutput   = "console"
	DefaultLogFilePath = "logs/pipeline.log"

	DefaultStorageDriver = "sqlite"
	DefaultSQLitePath    = "data/warehouse.db"
	DefaultOutputDir     = "data/marts"

	DefaultCalendarMIC  = "xnys"
	DefaultExportFormat = "csv"

	DefaultTickerPattern = `^[a-z0-9][a-z0-9.\-]{0,14}$`

	DefaultServiceName = "portfolio-analysis"
	DefaultPushJob     = "portfolio_pipeline"
)
