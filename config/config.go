// Package config handles loading and validation of application configuration
// from environment variables and potentially configuration files.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ReceiptRadar/receipt-radar-backend/logger"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"

	// Validation constants
	minJWTLength = 32
)

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
	JwtSecretKey   string      `mapstructure:"JWT_SECRET_KEY" yaml:"jwt_secret_key"`
	// TrustedProxies is a list of CIDR ranges or IPs of trusted reverse proxies.
	// If empty, X-Forwarded-For headers are ignored entirely (safe default).
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES" yaml:"trusted_proxies"`
}

// DatabaseConfig holds PostgreSQL database connection details.
type DatabaseConfig struct {
	Host           string `mapstructure:"HOST" yaml:"host"`
	Port           int    `mapstructure:"PORT" yaml:"port"`
	User           string `mapstructure:"USER" yaml:"user"`
	Password       string `mapstructure:"PASSWORD" yaml:"password"`
	Name           string `mapstructure:"NAME" yaml:"name"`
	MaxConnections int    `mapstructure:"MAX_CONNECTIONS" yaml:"max_connections"`
	SSLMode        string `mapstructure:"SSL_MODE" yaml:"ssl_mode"`
}

// URL returns a postgres:// connection URL suitable for golang-migrate and
// other URL-based database tools.
func (c *DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User),
		url.QueryEscape(c.Password),
		c.Host,
		c.Port,
		c.Name,
		sslmode,
	)
}

// RedisConfig holds Redis connection details.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
}

// StorageConfig holds document binary storage configuration. Local disk is
// the default; an S3-compatible bucket (S3, R2, MinIO) is used when
// BACKEND=s3.
type StorageConfig struct {
	Backend         string `mapstructure:"BACKEND" yaml:"backend"`
	LocalPath       string `mapstructure:"LOCAL_PATH" yaml:"local_path"`
	Bucket          string `mapstructure:"BUCKET" yaml:"bucket"`
	Endpoint        string `mapstructure:"ENDPOINT" yaml:"endpoint"`
	Region          string `mapstructure:"REGION" yaml:"region"`
	AccessKeyID     string `mapstructure:"ACCESS_KEY_ID" yaml:"access_key_id"`
	SecretAccessKey string `mapstructure:"SECRET_ACCESS_KEY" yaml:"secret_access_key"`
	URLSigningKey   string `mapstructure:"URL_SIGNING_KEY" yaml:"url_signing_key"`
}

// OCRConfig holds configuration for the external OCR engine.
type OCRConfig struct {
	BaseURL        string `mapstructure:"BASE_URL" yaml:"base_url"`
	APIKey         string `mapstructure:"API_KEY" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"TIMEOUT_SECONDS" yaml:"timeout_seconds"`
	// MinQuality is the score below which an OCR result is considered unusable.
	MinQuality int `mapstructure:"MIN_QUALITY" yaml:"min_quality"`
}

// AIConfig holds configuration for the Gemini field extractor.
type AIConfig struct {
	APIKey         string `mapstructure:"API_KEY" yaml:"api_key"`
	Model          string `mapstructure:"MODEL" yaml:"model"`
	TimeoutSeconds int    `mapstructure:"TIMEOUT_SECONDS" yaml:"timeout_seconds"`
	// ExtractionsPerHour caps per-user structured extraction requests.
	ExtractionsPerHour int `mapstructure:"EXTRACTIONS_PER_HOUR" yaml:"extractions_per_hour"`
}

// MatchingConfig holds the matcher's thresholds, configurable so operators
// can tune auto-match aggressiveness without a code change. The Candidate*
// knobs drive only the coarse ledger prefilter; per-factor scoring uses its
// own tighter bands.
type MatchingConfig struct {
	AutoMatchThreshold  int `mapstructure:"AUTO_MATCH_THRESHOLD" yaml:"auto_match_threshold"`
	MinSuggestThreshold int `mapstructure:"MIN_SUGGEST_THRESHOLD" yaml:"min_suggest_threshold"`
	NearTieMargin       int `mapstructure:"NEAR_TIE_MARGIN" yaml:"near_tie_margin"`
	// CandidateDateWindowDays is the +-N day prefilter window around the
	// document date.
	CandidateDateWindowDays int `mapstructure:"CANDIDATE_DATE_WINDOW_DAYS" yaml:"candidate_date_window_days"`
	LookbackDays            int `mapstructure:"LOOKBACK_DAYS" yaml:"lookback_days"`
	// CandidateAmountTolerance is the relative amount band of the prefilter.
	CandidateAmountTolerance float64 `mapstructure:"CANDIDATE_AMOUNT_TOLERANCE" yaml:"candidate_amount_tolerance"`
	MaxCandidates            int     `mapstructure:"MAX_CANDIDATES" yaml:"max_candidates"`
	MaxResults               int     `mapstructure:"MAX_RESULTS" yaml:"max_results"`
}

// JobQueueConfig holds configuration for the in-process job orchestrator.
type JobQueueConfig struct {
	// WorkersPerType is the number of concurrent workers per job type.
	WorkersPerType int `mapstructure:"WORKERS_PER_TYPE" yaml:"workers_per_type"`
	// JobTimeoutSeconds is the wall-clock limit for a single job execution.
	JobTimeoutSeconds int `mapstructure:"JOB_TIMEOUT_SECONDS" yaml:"job_timeout_seconds"`
	// RetryLimit is the default number of retries before a job is parked as failed.
	RetryLimit int `mapstructure:"RETRY_LIMIT" yaml:"retry_limit"`
	// RetryDelaySeconds is the default delay between retries.
	RetryDelaySeconds int `mapstructure:"RETRY_DELAY_SECONDS" yaml:"retry_delay_seconds"`
	// ShutdownTimeoutSeconds is the max time to wait for in-flight jobs during shutdown.
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server   ServerConfig   `mapstructure:"SERVER" yaml:"server"`
	Database DatabaseConfig `mapstructure:"DATABASE" yaml:"database"`
	Redis    RedisConfig    `mapstructure:"REDIS" yaml:"redis"`
	Storage  StorageConfig  `mapstructure:"STORAGE" yaml:"storage"`
	OCR      OCRConfig      `mapstructure:"OCR" yaml:"ocr"`
	AI       AIConfig       `mapstructure:"AI" yaml:"ai"`
	Matching MatchingConfig `mapstructure:"MATCHING" yaml:"matching"`
	JobQueue JobQueueConfig `mapstructure:"JOB_QUEUE" yaml:"job_queue"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables using Viper,
// sets default values, binds environment variables to config struct fields,
// unmarshals the configuration, and validates it.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8080")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.TRUSTED_PROXIES", []string{}) // Empty = trust no one (safe default)
	v.SetDefault("DATABASE.MAX_CONNECTIONS", 20)
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.NAME", "receiptradar_dev")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 3)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORAGE.BACKEND", "local")
	v.SetDefault("STORAGE.LOCAL_PATH", "./uploads/documents")
	v.SetDefault("STORAGE.REGION", "auto")
	v.SetDefault("OCR.TIMEOUT_SECONDS", 30)
	v.SetDefault("OCR.MIN_QUALITY", 60)
	v.SetDefault("AI.MODEL", "gemini-2.0-flash")
	v.SetDefault("AI.TIMEOUT_SECONDS", 30)
	v.SetDefault("AI.EXTRACTIONS_PER_HOUR", 10)
	v.SetDefault("MATCHING.AUTO_MATCH_THRESHOLD", 90)
	v.SetDefault("MATCHING.MIN_SUGGEST_THRESHOLD", 50)
	v.SetDefault("MATCHING.NEAR_TIE_MARGIN", 5)
	v.SetDefault("MATCHING.CANDIDATE_DATE_WINDOW_DAYS", 30)
	v.SetDefault("MATCHING.LOOKBACK_DAYS", 90)
	v.SetDefault("MATCHING.CANDIDATE_AMOUNT_TOLERANCE", 0.10)
	v.SetDefault("MATCHING.MAX_CANDIDATES", 50)
	v.SetDefault("MATCHING.MAX_RESULTS", 5)
	v.SetDefault("JOB_QUEUE.WORKERS_PER_TYPE", 2)
	v.SetDefault("JOB_QUEUE.JOB_TIMEOUT_SECONDS", 60)
	v.SetDefault("JOB_QUEUE.RETRY_LIMIT", 3)
	v.SetDefault("JOB_QUEUE.RETRY_DELAY_SECONDS", 60)
	v.SetDefault("JOB_QUEUE.SHUTDOWN_TIMEOUT_SECONDS", 30)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind environment variables
	envBindings := [][2]string{
		// Server config
		{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		{"SERVER.JWT_SECRET_KEY", "JWT_SECRET_KEY"},
		{"SERVER.TRUSTED_PROXIES", "TRUSTED_PROXIES"},
		// Database config
		{"DATABASE.HOST", "DB_HOST"},
		{"DATABASE.PORT", "DB_PORT"},
		{"DATABASE.USER", "DB_USER"},
		{"DATABASE.PASSWORD", "DB_PASSWORD"},
		{"DATABASE.NAME", "DB_NAME"},
		{"DATABASE.SSL_MODE", "DB_SSL_MODE"},
		// Redis config
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"REDIS.USE_TLS", "REDIS_USE_TLS"},
		// Storage config
		{"STORAGE.BACKEND", "STORAGE_BACKEND"},
		{"STORAGE.LOCAL_PATH", "STORAGE_LOCAL_PATH"},
		{"STORAGE.BUCKET", "STORAGE_BUCKET"},
		{"STORAGE.ENDPOINT", "STORAGE_ENDPOINT"},
		{"STORAGE.REGION", "STORAGE_REGION"},
		{"STORAGE.ACCESS_KEY_ID", "STORAGE_ACCESS_KEY_ID"},
		{"STORAGE.SECRET_ACCESS_KEY", "STORAGE_SECRET_ACCESS_KEY"},
		{"STORAGE.URL_SIGNING_KEY", "STORAGE_URL_SIGNING_KEY"},
		// OCR config
		{"OCR.BASE_URL", "OCR_BASE_URL"},
		{"OCR.API_KEY", "OCR_API_KEY"},
		{"OCR.TIMEOUT_SECONDS", "OCR_TIMEOUT_SECONDS"},
		{"OCR.MIN_QUALITY", "OCR_MIN_QUALITY"},
		// AI config
		{"AI.API_KEY", "GEMINI_API_KEY"},
		{"AI.MODEL", "AI_MODEL"},
		{"AI.TIMEOUT_SECONDS", "AI_TIMEOUT_SECONDS"},
		{"AI.EXTRACTIONS_PER_HOUR", "AI_EXTRACTIONS_PER_HOUR"},
		// Matching config
		{"MATCHING.AUTO_MATCH_THRESHOLD", "MATCHING_AUTO_MATCH_THRESHOLD"},
		{"MATCHING.MIN_SUGGEST_THRESHOLD", "MATCHING_MIN_SUGGEST_THRESHOLD"},
		{"MATCHING.NEAR_TIE_MARGIN", "MATCHING_NEAR_TIE_MARGIN"},
		{"MATCHING.CANDIDATE_DATE_WINDOW_DAYS", "MATCHING_CANDIDATE_DATE_WINDOW_DAYS"},
		{"MATCHING.LOOKBACK_DAYS", "MATCHING_LOOKBACK_DAYS"},
		{"MATCHING.CANDIDATE_AMOUNT_TOLERANCE", "MATCHING_CANDIDATE_AMOUNT_TOLERANCE"},
		{"MATCHING.MAX_CANDIDATES", "MATCHING_MAX_CANDIDATES"},
		{"MATCHING.MAX_RESULTS", "MATCHING_MAX_RESULTS"},
		// Job queue config
		{"JOB_QUEUE.WORKERS_PER_TYPE", "JOB_QUEUE_WORKERS_PER_TYPE"},
		{"JOB_QUEUE.JOB_TIMEOUT_SECONDS", "JOB_QUEUE_JOB_TIMEOUT_SECONDS"},
		{"JOB_QUEUE.RETRY_LIMIT", "JOB_QUEUE_RETRY_LIMIT"},
		{"JOB_QUEUE.RETRY_DELAY_SECONDS", "JOB_QUEUE_RETRY_DELAY_SECONDS"},
		{"JOB_QUEUE.SHUTDOWN_TIMEOUT_SECONDS", "JOB_QUEUE_SHUTDOWN_TIMEOUT_SECONDS"},
	}

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	env := v.GetString("SERVER.ENVIRONMENT")
	log.Infow("Configuration loaded",
		"environment", env,
		"server_port", v.GetString("SERVER.PORT"),
		"db_host", v.GetString("DATABASE.HOST"),
		"storage_backend", v.GetString("STORAGE.BACKEND"),
		"ai_model", v.GetString("AI.MODEL"),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

// validateConfig checks if the loaded configuration values are valid.
func validateConfig(cfg *Config) error {
	log := logger.GetLogger()

	// Validate Server Config
	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if len(cfg.Server.JwtSecretKey) < minJWTLength {
		return fmt.Errorf("JWT secret key must be at least %d characters long", minJWTLength)
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}

	// Validate Database Config
	if cfg.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.Database.User == "" {
		return fmt.Errorf("database user is required")
	}
	if cfg.Database.Password == "" {
		log.Warn("Database password is not set. Ensure this is intended (e.g., using trusted auth).")
	}
	if cfg.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	// Validate Redis Config
	if cfg.Redis.Address == "" {
		return fmt.Errorf("redis address is required")
	}

	// Validate Storage Config
	switch cfg.Storage.Backend {
	case "local":
		if cfg.Storage.LocalPath == "" {
			return fmt.Errorf("storage local path is required for local backend")
		}
	case "s3":
		if cfg.Storage.Bucket == "" {
			return fmt.Errorf("storage bucket is required for s3 backend")
		}
		if cfg.Storage.AccessKeyID == "" || cfg.Storage.SecretAccessKey == "" {
			return fmt.Errorf("storage credentials are required for s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	// Validate OCR Config
	if cfg.OCR.BaseURL == "" {
		return fmt.Errorf("OCR base URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.OCR.BaseURL); err != nil {
		return fmt.Errorf("invalid OCR base URL: %w", err)
	}
	if cfg.OCR.TimeoutSeconds <= 0 {
		return fmt.Errorf("OCR timeout must be positive")
	}
	if cfg.OCR.MinQuality < 0 || cfg.OCR.MinQuality > 100 {
		return fmt.Errorf("OCR min quality must be in [0, 100]")
	}

	// Validate AI Config
	if cfg.AI.APIKey == "" {
		return fmt.Errorf("gemini API key is required")
	}
	if cfg.AI.Model == "" {
		return fmt.Errorf("AI model is required")
	}
	if cfg.AI.ExtractionsPerHour <= 0 {
		return fmt.Errorf("AI extractions per hour must be positive")
	}

	// Validate Matching Config
	if err := validateMatchingConfig(&cfg.Matching); err != nil {
		return err
	}

	// Validate Job Queue Config
	if cfg.JobQueue.WorkersPerType <= 0 {
		return fmt.Errorf("job queue workers per type must be positive")
	}
	if cfg.JobQueue.JobTimeoutSeconds <= 0 {
		return fmt.Errorf("job queue job timeout must be positive")
	}
	if cfg.JobQueue.RetryLimit < 0 {
		return fmt.Errorf("job queue retry limit must not be negative")
	}
	if cfg.JobQueue.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("job queue shutdown timeout must be positive")
	}

	return nil
}

// validateMatchingConfig checks the matcher threshold relationships.
func validateMatchingConfig(cfg *MatchingConfig) error {
	if cfg.AutoMatchThreshold < 0 || cfg.AutoMatchThreshold > 100 {
		return fmt.Errorf("auto match threshold must be in [0, 100]")
	}
	if cfg.MinSuggestThreshold < 0 || cfg.MinSuggestThreshold > cfg.AutoMatchThreshold {
		return fmt.Errorf("min suggest threshold must be in [0, auto match threshold]")
	}
	if cfg.NearTieMargin < 0 {
		return fmt.Errorf("near tie margin must not be negative")
	}
	if cfg.CandidateDateWindowDays <= 0 || cfg.LookbackDays <= 0 {
		return fmt.Errorf("matching date windows must be positive")
	}
	if cfg.CandidateAmountTolerance <= 0 || cfg.CandidateAmountTolerance >= 1 {
		return fmt.Errorf("candidate amount tolerance must be in (0, 1)")
	}
	if cfg.MaxCandidates <= 0 || cfg.MaxResults <= 0 {
		return fmt.Errorf("matching candidate limits must be positive")
	}
	return nil
}

// containsWildcard checks if the list of allowed origins contains the wildcard "*".
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
