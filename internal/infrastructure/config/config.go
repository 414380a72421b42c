package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Scheduler SchedulerConfig
	POS       POSConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// AutoMigrate applies the embedded migrations at server start
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings.
// An empty Host keeps job identity keys in memory.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address, "" when Redis is not configured
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// SchedulerConfig holds the job queue configuration
type SchedulerConfig struct {
	Enabled bool
	// Workers is the number of jobs run concurrently
	Workers int
	// QueueSize bounds the number of ready jobs waiting for a worker
	QueueSize    int
	JobTimeout   time.Duration
	MaxRetries   int
	PollInterval time.Duration
	// RetryOnLock is the requeue delay for lock contention
	RetryOnLock time.Duration
	// RetryOnConcurrent is the requeue delay for concurrent writes
	RetryOnConcurrent time.Duration
	// MaxBackoff caps the exponential backoff of network failures
	MaxBackoff time.Duration
	// CronEnabled starts the refresh/routine import crons of active backends
	CronEnabled bool
	// Channel is the default job channel
	Channel string
}

// POSConfig holds the settings of the POS webservice client
type POSConfig struct {
	RequestTimeout   time.Duration
	RateLimit        int // requests per second, per backend
	MaxResponseBytes int64
	UserAgent        string
	PageSize         int
	LockRetry        time.Duration
	UnpaidRetryAfter time.Duration
	// PaymentRules maps a POS payment method to always, never or paid
	PaymentRules       map[string]string
	DefaultPaymentRule string
	OrderBatchMode     string // direct or delayed
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsInterval   time.Duration
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// AuthConfig holds the bearer token settings of the /api/v1 routes
type AuthConfig struct {
	Enabled bool
	// Secret signs the HS256 operator tokens
	Secret string
	// Issuer, when set, must match the iss claim
	Issuer string
}

// minSecretLength is the shortest accepted HS256 secret
const minSecretLength = 32

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with POSSYNC_ prefix (e.g., POSSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/posconnector")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.cron_enabled", true)
	v.SetDefault("database.auto_migrate", true)

	v.SetEnvPrefix("POSSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Scheduler: SchedulerConfig{
			Enabled:           v.GetBool("scheduler.enabled"),
			Workers:           v.GetInt("scheduler.workers"),
			QueueSize:         v.GetInt("scheduler.queue_size"),
			JobTimeout:        v.GetDuration("scheduler.job_timeout"),
			MaxRetries:        v.GetInt("scheduler.max_retries"),
			PollInterval:      v.GetDuration("scheduler.poll_interval"),
			RetryOnLock:       v.GetDuration("scheduler.retry_on_lock"),
			RetryOnConcurrent: v.GetDuration("scheduler.retry_on_concurrent"),
			MaxBackoff:        v.GetDuration("scheduler.max_backoff"),
			CronEnabled:       v.GetBool("scheduler.cron_enabled"),
			Channel:           v.GetString("scheduler.channel"),
		},
		POS: POSConfig{
			RequestTimeout:     v.GetDuration("pos.request_timeout"),
			RateLimit:          v.GetInt("pos.rate_limit"),
			MaxResponseBytes:   v.GetInt64("pos.max_response_bytes"),
			UserAgent:          v.GetString("pos.user_agent"),
			PageSize:           v.GetInt("pos.page_size"),
			LockRetry:          v.GetDuration("pos.lock_retry"),
			UnpaidRetryAfter:   v.GetDuration("pos.unpaid_retry_after"),
			PaymentRules:       v.GetStringMapString("pos.payment_rules"),
			DefaultPaymentRule: v.GetString("pos.default_payment_rule"),
			OrderBatchMode:     v.GetString("pos.order_batch_mode"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Auth: AuthConfig{
			Enabled: v.GetBool("auth.enabled"),
			Secret:  v.GetString("auth.secret"),
			Issuer:  v.GetString("auth.issuer"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "posconnector"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "posconnector"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 4
	}
	if cfg.Scheduler.QueueSize == 0 {
		cfg.Scheduler.QueueSize = 256
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 10 * time.Minute
	}
	if cfg.Scheduler.MaxRetries == 0 {
		cfg.Scheduler.MaxRetries = 5
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = time.Second
	}
	if cfg.Scheduler.RetryOnLock == 0 {
		cfg.Scheduler.RetryOnLock = time.Second
	}
	if cfg.Scheduler.RetryOnConcurrent == 0 {
		cfg.Scheduler.RetryOnConcurrent = time.Second
	}
	if cfg.Scheduler.MaxBackoff == 0 {
		cfg.Scheduler.MaxBackoff = 30 * time.Minute
	}
	if cfg.Scheduler.Channel == "" {
		cfg.Scheduler.Channel = "root.pos"
	}
	if cfg.POS.RequestTimeout == 0 {
		cfg.POS.RequestTimeout = 30 * time.Second
	}
	if cfg.POS.RateLimit == 0 {
		cfg.POS.RateLimit = 10
	}
	if cfg.POS.MaxResponseBytes == 0 {
		cfg.POS.MaxResponseBytes = 10 << 20 // 10MB
	}
	if cfg.POS.UserAgent == "" {
		cfg.POS.UserAgent = "posconnector/1.0"
	}
	if cfg.POS.PageSize == 0 {
		cfg.POS.PageSize = 100
	}
	if cfg.POS.LockRetry == 0 {
		cfg.POS.LockRetry = time.Second
	}
	if cfg.POS.UnpaidRetryAfter == 0 {
		cfg.POS.UnpaidRetryAfter = 30 * time.Minute
	}
	if cfg.POS.DefaultPaymentRule == "" {
		cfg.POS.DefaultPaymentRule = "always"
	}
	if cfg.POS.OrderBatchMode == "" {
		cfg.POS.OrderBatchMode = "delayed"
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "posconnector"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be positive")
	}
	// a running job holds one connection and may open an independent transaction
	if c.Scheduler.Enabled && c.Database.MaxOpenConns < 2*c.Scheduler.Workers {
		return fmt.Errorf("database.max_open_conns (%d) must be at least twice scheduler.workers (%d)",
			c.Database.MaxOpenConns, c.Scheduler.Workers)
	}
	if c.Scheduler.MaxRetries < 0 {
		return fmt.Errorf("scheduler.max_retries cannot be negative")
	}
	if c.POS.RateLimit < 0 {
		return fmt.Errorf("pos.rate_limit cannot be negative")
	}
	switch c.POS.OrderBatchMode {
	case "direct", "delayed":
	default:
		return fmt.Errorf("pos.order_batch_mode must be direct or delayed, got %q", c.POS.OrderBatchMode)
	}
	for method, rule := range c.POS.PaymentRules {
		if !isPaymentRule(rule) {
			return fmt.Errorf("pos.payment_rules.%s must be always, never or paid, got %q", method, rule)
		}
	}
	if !isPaymentRule(c.POS.DefaultPaymentRule) {
		return fmt.Errorf("pos.default_payment_rule must be always, never or paid, got %q", c.POS.DefaultPaymentRule)
	}

	if c.Auth.Enabled && len(c.Auth.Secret) < minSecretLength {
		return fmt.Errorf("auth.secret must be at least %d characters", minSecretLength)
	}

	if c.App.Env == "production" {
		if !c.Auth.Enabled {
			return fmt.Errorf("auth.enabled is required in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

func isPaymentRule(rule string) bool {
	switch rule {
	case "always", "never", "paid":
		return true
	}
	return false
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
