package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml, merges config.<APP_ENVIRONMENT>.yaml over
// it and applies environment overrides.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	_ = v.MergeInConfig() // optional

	return finish(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

func finish(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	overrideEmptyConfig(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up from the working directory to the nearest go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
			if expanded := os.ExpandEnv(strVal); expanded != strVal && expanded != "" {
				v.Set(key, expanded)
			}
		}
	}
}

// overrideEmptyConfig fills secrets that are conventionally provided as bare
// environment variables rather than through the config tree.
func overrideEmptyConfig(cfg *Config) {
	if cfg.Ledger.APIKey == "" {
		cfg.Ledger.APIKey = os.Getenv("LEDGER_API_KEY")
	}
	if cfg.Database.Postgres.User == "" {
		cfg.Database.Postgres.User = os.Getenv("DB_USER")
	}
	if cfg.Database.Postgres.Password == "" {
		cfg.Database.Postgres.Password = os.Getenv("DB_PASSWORD")
	}
	if cfg.Database.Redis.Password == "" {
		cfg.Database.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if cfg.Alerts.TopicARN == "" {
		cfg.Alerts.TopicARN = os.Getenv("ALERTS_TOPIC_ARN")
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ledger-query-workers"
	}

	if cfg.Camunda.MaxJobsActive == 0 {
		cfg.Camunda.MaxJobsActive = 10
	}
	if cfg.Camunda.Timeout == 0 {
		cfg.Camunda.Timeout = 30000
	}
	if cfg.Camunda.RequestTimeout == 0 {
		cfg.Camunda.RequestTimeout = 30000
	}

	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Elasticsearch.URL == "" && len(cfg.Database.Elasticsearch.Addresses) > 0 {
		cfg.Database.Elasticsearch.URL = cfg.Database.Elasticsearch.Addresses[0]
	}

	if cfg.Ledger.SchemaVersion == 0 {
		cfg.Ledger.SchemaVersion = 1
	}
	if cfg.Ledger.PageSize == 0 {
		cfg.Ledger.PageSize = 1000
	}
	if cfg.Ledger.Parallelism == 0 {
		cfg.Ledger.Parallelism = 4
	}
	if cfg.Ledger.MaxAttempts == 0 {
		cfg.Ledger.MaxAttempts = 4
	}
	if cfg.Ledger.BackoffBase == 0 {
		cfg.Ledger.BackoffBase = 200
	}
	if cfg.Ledger.BackoffMax == 0 {
		cfg.Ledger.BackoffMax = 5000
	}
	if cfg.Ledger.RequestTimeout == 0 {
		cfg.Ledger.RequestTimeout = 30000
	}
	if cfg.Ledger.RequestsPerSecond == 0 {
		cfg.Ledger.RequestsPerSecond = 10
	}
	if cfg.Ledger.Burst == 0 {
		cfg.Ledger.Burst = cfg.Ledger.Parallelism
	}

	if cfg.Fiscal.StartMonth == 0 {
		cfg.Fiscal.StartMonth = 2
	}

	if cfg.Registry.TTL == 0 {
		cfg.Registry.TTL = int((24 * time.Hour).Milliseconds())
	}
	if cfg.Registry.SchemaVersion == 0 {
		cfg.Registry.SchemaVersion = 2
	}
	if cfg.Registry.Store == "" {
		cfg.Registry.Store = "redis"
	}
	if cfg.Registry.MaxDegradedFraction == 0 {
		cfg.Registry.MaxDegradedFraction = 0.1
	}
	if cfg.Registry.MinSourceRatio == 0 {
		cfg.Registry.MinSourceRatio = 0.5
	}
	if cfg.Registry.AmbiguityBand == 0 {
		cfg.Registry.AmbiguityBand = 0.1
	}
	if cfg.Registry.BuildTimeout == 0 {
		cfg.Registry.BuildTimeout = 600000
	}

	if cfg.Retrieval.SpotCheckPages == 0 {
		cfg.Retrieval.SpotCheckPages = 2
	}
	if cfg.Retrieval.SpotCheckTolerance == 0 {
		cfg.Retrieval.SpotCheckTolerance = 0.01
	}
	if cfg.Retrieval.SnapshotMaxAge == 0 {
		cfg.Retrieval.SnapshotMaxAge = int((6 * time.Hour).Milliseconds())
	}
	if cfg.Retrieval.MaxOutputRows == 0 {
		cfg.Retrieval.MaxOutputRows = 5000
	}

	applyColumnDefaults(&cfg.Columns)

	if cfg.Audit.Index == "" {
		cfg.Audit.Index = "ledger-query-provenance"
	}
	if cfg.Alerts.MinInterval == 0 {
		cfg.Alerts.MinInterval = int((15 * time.Minute).Milliseconds())
	}
	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = ":8080"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	for key, worker := range cfg.Workers {
		if worker.MaxJobsActive == 0 {
			worker.MaxJobsActive = 5
		}
		if worker.Timeout == 0 {
			worker.Timeout = 30000
		}
		if worker.MaxRetries == 0 {
			worker.MaxRetries = 3
		}
		cfg.Workers[key] = worker
	}
}

func applyColumnDefaults(c *ColumnConfig) {
	defaults := []struct {
		field *string
		value string
	}{
		{&c.RowKey, "line_id"},
		{&c.Department, "department_name"},
		{&c.AccountNumber, "account_number"},
		{&c.AccountName, "account_name"},
		{&c.Subsidiary, "subsidiary"},
		{&c.TransactionType, "type"},
		{&c.Date, "trandate"},
		{&c.Period, "period_name"},
		{&c.Amount, "amount"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Camunda.BrokerAddress == "" {
		return fmt.Errorf("camunda.broker_address is required")
	}

	if cfg.Ledger.BaseURL == "" {
		return fmt.Errorf("ledger.base_url is required")
	}
	if cfg.Ledger.SourceIdentity == "" {
		return fmt.Errorf("ledger.source_identity is required")
	}
	if cfg.Fiscal.StartMonth < 1 || cfg.Fiscal.StartMonth > 12 {
		return fmt.Errorf("fiscal.start_month must be between 1 and 12, got %d", cfg.Fiscal.StartMonth)
	}
	if cfg.Registry.MaxDegradedFraction < 0 || cfg.Registry.MaxDegradedFraction >= 1 {
		return fmt.Errorf("registry.max_degraded_fraction must be in [0, 1)")
	}

	switch cfg.Registry.Store {
	case "redis":
		if cfg.Database.Redis.Address == "" {
			return fmt.Errorf("database.redis.address is required for the redis registry store")
		}
	case "postgres":
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Database == "" {
			return fmt.Errorf("database.postgres.host and database are required for the postgres registry store")
		}
	case "none":
	default:
		return fmt.Errorf("registry.store must be redis, postgres or none, got %q", cfg.Registry.Store)
	}

	if cfg.Retrieval.SharedCache && cfg.Database.Redis.Address == "" {
		return fmt.Errorf("database.redis.address is required when retrieval.shared_cache is set")
	}
	if cfg.Audit.Enabled && cfg.Database.Elasticsearch.GetURL() == "" {
		return fmt.Errorf("database.elasticsearch.addresses or url is required when audit is enabled")
	}
	if cfg.Alerts.Enabled && cfg.Alerts.TopicARN == "" {
		return fmt.Errorf("alerts.topic_arn is required when alerts are enabled")
	}

	return nil
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}

// GetWorkerConfig retrieves worker-specific configuration with fallback to defaults
func GetWorkerConfig(cfg *Config, workerName string) WorkerConfig {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker
	}
	return WorkerConfig{
		Enabled:       true,
		MaxJobsActive: 5,
		Timeout:       30000,
		MaxRetries:    3,
	}
}

// IsWorkerEnabled checks if a specific worker is enabled
func IsWorkerEnabled(cfg *Config, workerName string) bool {
	if worker, exists := cfg.Workers[workerName]; exists {
		return worker.Enabled
	}
	return true
}
