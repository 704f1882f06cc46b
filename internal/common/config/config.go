package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App       AppConfig               `mapstructure:"app"`
	Camunda   CamundaConfig           `mapstructure:"camunda"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Ledger    LedgerConfig            `mapstructure:"ledger"`
	Fiscal    FiscalConfig            `mapstructure:"fiscal"`
	Registry  RegistryConfig          `mapstructure:"registry"`
	Retrieval RetrievalConfig         `mapstructure:"retrieval"`
	Columns   ColumnConfig            `mapstructure:"columns"`
	Audit     AuditConfig             `mapstructure:"audit"`
	Alerts    AlertsConfig            `mapstructure:"alerts"`
	Admin     AdminConfig             `mapstructure:"admin"`
	Workers   map[string]WorkerConfig `mapstructure:"workers"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
	UsePlaintext   bool   `mapstructure:"use_plaintext"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// --- Domain Config ---

// LedgerConfig describes the paginated ledger service.
type LedgerConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	APIKey            string  `mapstructure:"api_key"`
	SourceIdentity    string  `mapstructure:"source_identity"`
	SchemaVersion     int     `mapstructure:"schema_version"`
	PageSize          int     `mapstructure:"page_size"`
	Parallelism       int     `mapstructure:"parallelism"`
	MaxAttempts       int     `mapstructure:"max_attempts"`
	BackoffBase       int     `mapstructure:"backoff_base"` // milliseconds
	BackoffMax        int     `mapstructure:"backoff_max"`  // milliseconds
	RequestTimeout    int     `mapstructure:"request_timeout"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// FiscalConfig selects the fiscal calendar.
type FiscalConfig struct {
	StartMonth       int  `mapstructure:"start_month"`
	LabelByStartYear bool `mapstructure:"label_by_start_year"`
}

// RegistryConfig controls the learned entity registry.
type RegistryConfig struct {
	TTL                 int     `mapstructure:"ttl"` // milliseconds
	SchemaVersion       int     `mapstructure:"schema_version"`
	Store               string  `mapstructure:"store"` // redis | postgres | none
	MaxDegradedFraction float64 `mapstructure:"max_degraded_fraction"`
	MinSourceRatio      float64 `mapstructure:"min_source_ratio"`
	AmbiguityBand       float64 `mapstructure:"ambiguity_band"`
	BuildTimeout        int     `mapstructure:"build_timeout"` // milliseconds
}

// RetrievalConfig controls filter push-down and the snapshot cache.
type RetrievalConfig struct {
	RemoteFiltering    bool    `mapstructure:"remote_filtering"`
	SpotCheckPages     int     `mapstructure:"spot_check_pages"`
	SpotCheckTolerance float64 `mapstructure:"spot_check_tolerance"`
	SnapshotMaxAge     int     `mapstructure:"snapshot_max_age"` // milliseconds
	SharedCache        bool    `mapstructure:"shared_cache"`
	MaxOutputRows      int     `mapstructure:"max_output_rows"`
}

// ColumnConfig maps logical fields onto source column names.
type ColumnConfig struct {
	RowKey          string `mapstructure:"row_key"`
	Department      string `mapstructure:"department"`
	AccountNumber   string `mapstructure:"account_number"`
	AccountName     string `mapstructure:"account_name"`
	Subsidiary      string `mapstructure:"subsidiary"`
	TransactionType string `mapstructure:"transaction_type"`
	Date            string `mapstructure:"date"`
	Period          string `mapstructure:"period"`
	Amount          string `mapstructure:"amount"`
}

// AuditConfig controls provenance indexing.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Index   string `mapstructure:"index"`
}

// AlertsConfig controls SNS operational alerts.
type AlertsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Region   string `mapstructure:"region"`
	TopicARN string `mapstructure:"topic_arn"`

	// MinInterval is the minimum gap between two alerts of the same kind.
	MinInterval int `mapstructure:"min_interval"` // milliseconds
}

// AdminConfig holds the HTTP listener for health, metrics and admin routes.
type AdminConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
}

// WorkerConfig holds the core settings applicable to every worker.
type WorkerConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxJobsActive int  `mapstructure:"max_jobs_active"`
	Timeout       int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries    int  `mapstructure:"max_retries"` // For error handling
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
