package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration. It is built once at startup and passed by value.
type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	CardGateway    CardGatewayConfig
	WalletGateway  WalletGatewayConfig
	Webhook        WebhookConfig
	Secrets        SecretsConfig
	Retry          RetryConfig
	Reconciliation ReconciliationConfig
	Idempotency    IdempotencyConfig
	Storage        StorageConfig
	Auth           AuthConfig
	Cron           CronConfig
	RateLimit      RateLimitConfig
	Logger         LoggerConfig
	Currency       string
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	Host            string
	HTTPPort        int
	GRPCPort        int
	MetricsPort     int
	ShutdownTimeout time.Duration
	Environment     string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds the Redis connection used for sweep leases and the task queue
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CardGatewayConfig holds card gateway configuration.
// APIKey may be empty when APIKeyPath names a secret in the configured store.
type CardGatewayConfig struct {
	BaseURL    string
	APIKey     string
	APIKeyPath string
	Timeout    time.Duration
}

// WalletGatewayConfig holds wallet provider configuration
type WalletGatewayConfig struct {
	Enabled          bool
	BaseURL          string
	ClientID         string
	ClientSecret     string
	ClientSecretPath string
	BrandName        string
	Timeout          time.Duration
}

// WebhookConfig holds webhook signing secrets. The *Path fields name secrets in the
// configured store; when set they take precedence over the inline values and
// rotation is resolved through the store's previous version.
type WebhookConfig struct {
	CardSecret           string
	CardPreviousSecret   string
	CardSecretPath       string
	WalletSecret         string
	WalletPreviousSecret string
	WalletSecretPath     string
	Tolerance            time.Duration
}

// SecretsConfig selects the secret backend
type SecretsConfig struct {
	Backend       string // local, aws, vault
	LocalBasePath string
	CacheTTL      time.Duration

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	VaultAddress    string
	VaultAuthMethod string
	VaultToken      string
	VaultRoleID     string
	VaultSecretID   string
	VaultNamespace  string
	VaultMountPath  string
}

// RetryConfig holds the gateway retry policy
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// ReconciliationConfig holds sweep schedules and windows
type ReconciliationConfig struct {
	Enabled           bool
	RetryCron         string
	PaymentStatusCron string
	DisputeCron       string
	PurgeCron         string
	RetryWindow       time.Duration
	StatusWindow      time.Duration
	BatchSize         int
	LeaseTTL          time.Duration
	LeasePrefix       string
	SweepTaskTimeout  time.Duration
	WorkerConcurrency int
}

// IdempotencyConfig holds ledger settings
type IdempotencyConfig struct {
	AwaitTimeout time.Duration
	Retention    time.Duration
}

// StorageConfig holds the evidence archive (MinIO / S3 compatible) configuration
type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// AuthConfig holds bearer token verification settings.
// Tokens are issued by the external auth service and signed with HMAC.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

// CronConfig holds the shared secret for the HTTP sweep triggers
type CronConfig struct {
	Secret string
}

// RateLimitConfig holds per-client request limits for the public API
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables.
// A .env file in the working directory is loaded first when present; real
// environment variables win over it.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			HTTPPort:        getEnvAsInt("HTTP_PORT", 8080),
			GRPCPort:        getEnvAsInt("GRPC_PORT", 50051),
			MetricsPort:     getEnvAsInt("METRICS_PORT", 9090),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			Environment:     getEnv("ENVIRONMENT", "development"),
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		CardGateway: CardGatewayConfig{
			BaseURL:    getEnv("CARD_GATEWAY_BASE_URL", "https://api.stripe.com"),
			APIKey:     getEnv("CARD_GATEWAY_API_KEY", ""),
			APIKeyPath: getEnv("CARD_GATEWAY_API_KEY_PATH", ""),
			Timeout:    getEnvAsDuration("CARD_GATEWAY_TIMEOUT", 30*time.Second),
		},
		WalletGateway: WalletGatewayConfig{
			Enabled:          getEnvAsBool("WALLET_GATEWAY_ENABLED", false),
			BaseURL:          getEnv("WALLET_GATEWAY_BASE_URL", "https://api-m.sandbox.paypal.com"),
			ClientID:         getEnv("WALLET_GATEWAY_CLIENT_ID", ""),
			ClientSecret:     getEnv("WALLET_GATEWAY_CLIENT_SECRET", ""),
			ClientSecretPath: getEnv("WALLET_GATEWAY_CLIENT_SECRET_PATH", ""),
			BrandName:        getEnv("WALLET_GATEWAY_BRAND_NAME", ""),
			Timeout:          getEnvAsDuration("WALLET_GATEWAY_TIMEOUT", 30*time.Second),
		},
		Webhook: WebhookConfig{
			CardSecret:           getEnv("CARD_WEBHOOK_SECRET", ""),
			CardPreviousSecret:   getEnv("CARD_WEBHOOK_PREVIOUS_SECRET", ""),
			CardSecretPath:       getEnv("CARD_WEBHOOK_SECRET_PATH", ""),
			WalletSecret:         getEnv("WALLET_WEBHOOK_SECRET", ""),
			WalletPreviousSecret: getEnv("WALLET_WEBHOOK_PREVIOUS_SECRET", ""),
			WalletSecretPath:     getEnv("WALLET_WEBHOOK_SECRET_PATH", ""),
			Tolerance:            getEnvAsDuration("WEBHOOK_TOLERANCE", 5*time.Minute),
		},
		Secrets: SecretsConfig{
			Backend:         getEnv("SECRETS_BACKEND", "local"),
			LocalBasePath:   getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			CacheTTL:        getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
			AWSRegion:       getEnv("AWS_REGION", "us-east-1"),
			AWSProfile:      getEnv("AWS_PROFILE", ""),
			AWSEndpoint:     getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress:    getEnv("VAULT_ADDR", "http://localhost:8200"),
			VaultAuthMethod: getEnv("VAULT_AUTH_METHOD", "token"),
			VaultToken:      getEnv("VAULT_TOKEN", ""),
			VaultRoleID:     getEnv("VAULT_ROLE_ID", ""),
			VaultSecretID:   getEnv("VAULT_SECRET_ID", ""),
			VaultNamespace:  getEnv("VAULT_NAMESPACE", ""),
			VaultMountPath:  getEnv("VAULT_MOUNT_PATH", "secret"),
		},
		Retry: RetryConfig{
			MaxAttempts: getEnvAsInt("GATEWAY_RETRY_MAX_ATTEMPTS", 3),
			BaseDelay:   getEnvAsDuration("GATEWAY_RETRY_BASE_DELAY", time.Second),
			MaxDelay:    getEnvAsDuration("GATEWAY_RETRY_MAX_DELAY", 30*time.Second),
			Multiplier:  getEnvAsFloat("GATEWAY_RETRY_MULTIPLIER", 2.0),
		},
		Reconciliation: ReconciliationConfig{
			Enabled:           getEnvAsBool("RECONCILIATION_ENABLED", true),
			RetryCron:         getEnv("RETRY_SWEEP_CRON", "*/15 * * * *"),
			PaymentStatusCron: getEnv("PAYMENT_STATUS_SWEEP_CRON", "*/30 * * * *"),
			DisputeCron:       getEnv("DISPUTE_SWEEP_CRON", "0 * * * *"),
			PurgeCron:         getEnv("LEDGER_PURGE_CRON", "30 3 * * *"),
			RetryWindow:       getEnvAsDuration("RETRY_SWEEP_WINDOW", 24*time.Hour),
			StatusWindow:      getEnvAsDuration("PAYMENT_STATUS_SWEEP_WINDOW", 7*24*time.Hour),
			BatchSize:         getEnvAsInt("SWEEP_BATCH_SIZE", 100),
			LeaseTTL:          getEnvAsDuration("SWEEP_LEASE_TTL", 10*time.Minute),
			LeasePrefix:       getEnv("SWEEP_LEASE_PREFIX", "payment-orchestrator:sweep:"),
			SweepTaskTimeout:  getEnvAsDuration("SWEEP_TASK_TIMEOUT", 10*time.Minute),
			WorkerConcurrency: getEnvAsInt("SWEEP_WORKER_CONCURRENCY", 2),
		},
		Idempotency: IdempotencyConfig{
			AwaitTimeout: getEnvAsDuration("IDEMPOTENCY_AWAIT_TIMEOUT", 10*time.Second),
			Retention:    getEnvAsDuration("IDEMPOTENCY_RETENTION", 30*24*time.Hour),
		},
		Storage: StorageConfig{
			Enabled:   getEnvAsBool("EVIDENCE_ARCHIVE_ENABLED", false),
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			SecretKey: getEnv("MINIO_SECRET_KEY", ""),
			Bucket:    getEnv("MINIO_EVIDENCE_BUCKET", "dispute-evidence"),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", ""),
		},
		Cron: CronConfig{
			Secret: getEnv("CRON_SECRET", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 10),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 20),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Currency: strings.ToUpper(getEnv("DEFAULT_CURRENCY", "USD")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabaseFromEnv loads only the database section. Migrations use it so they can run
// before gateway credentials exist.
func LoadDatabaseFromEnv() (DatabaseConfig, error) {
	_ = godotenv.Load()

	db := loadDatabaseConfig()
	if db.Password == "" {
		return db, fmt.Errorf("DB_PASSWORD is required")
	}
	return db, nil
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "payment_orchestrator"),
		SSLMode:         getEnv("DB_SSL_MODE", "disable"),
		MaxConns:        int32(getEnvAsInt("DB_MAX_CONNS", 25)),
		MinConns:        int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", time.Hour),
		MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 30*time.Minute),
	}
}

// Validate checks required fields and cross-field rules
func (c *Config) Validate() error {
	var errs []error

	if c.Database.Password == "" {
		errs = append(errs, fmt.Errorf("DB_PASSWORD is required"))
	}
	if c.CardGateway.APIKey == "" && c.CardGateway.APIKeyPath == "" {
		errs = append(errs, fmt.Errorf("CARD_GATEWAY_API_KEY or CARD_GATEWAY_API_KEY_PATH is required"))
	}
	if c.Webhook.CardSecret == "" && c.Webhook.CardSecretPath == "" {
		errs = append(errs, fmt.Errorf("CARD_WEBHOOK_SECRET or CARD_WEBHOOK_SECRET_PATH is required"))
	}
	if c.WalletGateway.Enabled {
		if c.WalletGateway.ClientID == "" {
			errs = append(errs, fmt.Errorf("WALLET_GATEWAY_CLIENT_ID is required when the wallet gateway is enabled"))
		}
		if c.WalletGateway.ClientSecret == "" && c.WalletGateway.ClientSecretPath == "" {
			errs = append(errs, fmt.Errorf("WALLET_GATEWAY_CLIENT_SECRET or WALLET_GATEWAY_CLIENT_SECRET_PATH is required"))
		}
		if c.Webhook.WalletSecret == "" && c.Webhook.WalletSecretPath == "" {
			errs = append(errs, fmt.Errorf("WALLET_WEBHOOK_SECRET or WALLET_WEBHOOK_SECRET_PATH is required"))
		}
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("JWT_SECRET is required"))
	}
	if c.Cron.Secret == "" {
		errs = append(errs, fmt.Errorf("CRON_SECRET is required"))
	}
	switch c.Secrets.Backend {
	case "local", "aws", "vault":
	default:
		errs = append(errs, fmt.Errorf("SECRETS_BACKEND must be one of local, aws, vault (got %q)", c.Secrets.Backend))
	}
	if c.Storage.Enabled && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		errs = append(errs, fmt.Errorf("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required when the evidence archive is enabled"))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("GATEWAY_RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		errs = append(errs, fmt.Errorf("GATEWAY_RETRY_MAX_DELAY must not be below GATEWAY_RETRY_BASE_DELAY"))
	}
	if c.Idempotency.Retention < c.Reconciliation.RetryWindow {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_RETENTION must cover RETRY_SWEEP_WINDOW"))
	}
	if len(c.Currency) != 3 {
		errs = append(errs, fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter ISO code"))
	}

	return errors.Join(errs...)
}

// IsDevelopment reports whether the service runs in a development environment
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration accepts Go duration strings ("90s", "24h").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
