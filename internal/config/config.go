package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Policy     PolicyConfig     `yaml:"policy" mapstructure:"policy"`
	Notify     NotifyConfig     `yaml:"notify" mapstructure:"notify"`
	Sweep      SweepConfig      `yaml:"sweep" mapstructure:"sweep"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ReadTimeoutSecs  int      `yaml:"read_timeout_secs" mapstructure:"read_timeout_secs"`
	WriteTimeoutSecs int      `yaml:"write_timeout_secs" mapstructure:"write_timeout_secs"`
}

// PolicyConfig holds the product rules of the remediation workflow.
type PolicyConfig struct {
	// FinancialFloor is the minimum penalty, as a decimal string.
	FinancialFloor         string `yaml:"financial_floor" mapstructure:"financial_floor"`
	Currency               string `yaml:"currency" mapstructure:"currency"`
	RemediationWindowHours int    `yaml:"remediation_window_hours" mapstructure:"remediation_window_hours"`
	ResetWindowOnRejection bool   `yaml:"reset_window_on_rejection" mapstructure:"reset_window_on_rejection"`
	MaxResubmissions       int    `yaml:"max_resubmissions" mapstructure:"max_resubmissions"`
	AllowLateCompletion    bool   `yaml:"allow_late_completion" mapstructure:"allow_late_completion"`
	AllowPayToSkip         bool   `yaml:"allow_pay_to_skip" mapstructure:"allow_pay_to_skip"`
	AllowAcceptFailure     bool   `yaml:"allow_accept_failure" mapstructure:"allow_accept_failure"`
	DependencyScoreFloor   int    `yaml:"dependency_score_floor" mapstructure:"dependency_score_floor"`
}

// NotifyConfig configures event delivery to the notification and
// statistics collaborators.
type NotifyConfig struct {
	WebhookURL        string `yaml:"webhook_url" mapstructure:"webhook_url"`
	OutcomeWebhookURL string `yaml:"outcome_webhook_url" mapstructure:"outcome_webhook_url"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	QueueSize         int    `yaml:"queue_size" mapstructure:"queue_size"`
	Workers           int    `yaml:"workers" mapstructure:"workers"`
	MaxAttempts       int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs  int    `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs      int    `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	BreakerThreshold  int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs  int    `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// SweepConfig configures the periodic lazy-evaluation sweep.
type SweepConfig struct {
	// IntervalSecs enables the sweep inside serve when positive.
	IntervalSecs int     `yaml:"interval_secs" mapstructure:"interval_secs"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
}

// CatalogConfig points at the action catalog.
type CatalogConfig struct {
	// Path to a YAML catalog; empty uses the built-in catalog.
	Path string `yaml:"path" mapstructure:"path"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	// CheckIntervalSecs enables the checker inside serve when positive.
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	OverdueThreshold     int     `yaml:"overdue_threshold" mapstructure:"overdue_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLEDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "pledge.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.read_timeout_secs", 15)
	v.SetDefault("server.write_timeout_secs", 15)
	v.SetDefault("policy.financial_floor", "5")
	v.SetDefault("policy.currency", "USD")
	v.SetDefault("policy.remediation_window_hours", 48)
	v.SetDefault("policy.reset_window_on_rejection", false)
	v.SetDefault("policy.max_resubmissions", 1)
	v.SetDefault("policy.allow_late_completion", true)
	v.SetDefault("policy.allow_pay_to_skip", true)
	v.SetDefault("policy.allow_accept_failure", true)
	v.SetDefault("policy.dependency_score_floor", 41)
	v.SetDefault("notify.timeout_secs", 10)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.workers", 2)
	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.initial_backoff_ms", 500)
	v.SetDefault("notify.max_backoff_ms", 10000)
	v.SetDefault("notify.breaker_threshold", 5)
	v.SetDefault("notify.breaker_reset_secs", 30)
	v.SetDefault("sweep.interval_secs", 0)
	v.SetDefault("sweep.concurrency", 4)
	v.SetDefault("sweep.rate_per_sec", 20.0)
	v.SetDefault("sweep.page_size", 200)
	v.SetDefault("monitoring.check_interval_secs", 0)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.overdue_threshold", 25)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Mode "store"
// covers every command that opens the database; "serve" adds the HTTP API.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "store", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required (PLEDGE_STORE_DATABASE_URL)")
	}
	if c.Policy.RemediationWindowHours <= 0 {
		errs = append(errs, "policy.remediation_window_hours must be > 0")
	}
	if c.Policy.MaxResubmissions < 0 {
		errs = append(errs, "policy.max_resubmissions must be >= 0")
	}
	if mode == "serve" {
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Sweep.IntervalSecs > 0 && (c.Sweep.Concurrency < 1 || c.Sweep.Concurrency > 64) {
			errs = append(errs, "sweep.concurrency must be between 1 and 64")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
