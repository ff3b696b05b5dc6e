// Package config provides configuration management for the pipeline.
// It handles loading configuration from multiple sources, validation, and provides
// a type-safe API for accessing configuration values.
//
// # Configuration Sources
//
// Configuration is loaded from the following sources in order of precedence:
//
//	1. Environment variables with the PA_ prefix (highest priority)
//	2. A .env file in the working directory, including the DB_* connection variables
//	3. A YAML file (-config flag, PA_CONFIG_FILE, config.yaml or configs/config.yaml)
//	4. Default values (lowest priority)
//
// # Environment Variables
//
// Nested sections map to underscore-joined names:
//
//	PA_LOGGING_LEVEL=debug
//	PA_STORAGE_DRIVER=postgres
//	PA_PIPELINE_HORIZON_START=2024-01-01
//	PA_ANOMALY_HERD_SIGMA_MULTIPLE=4
//
// When no DSN is configured and DB_HOST is set, DB_USER, DB_PASSWORD, DB_HOST,
// DB_PORT and DB_NAME are assembled into a PostgreSQL DSN.
//
// # Thresholds
//
// Every anomaly and volatility threshold is data in AnomalyConfig and
// MetricsConfig. Defaults are documented in Default.
package config
