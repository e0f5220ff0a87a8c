package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Security      SecurityConfig      `mapstructure:"security" validate:"required"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Policy        PolicyConfig        `mapstructure:"policy"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Redis         RedisConfig         `mapstructure:"redis"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	OpenAPIPath       string        `mapstructure:"openapi_path"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

type SecurityConfig struct {
	JWTSecret           string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	JWTIssuer           string        `mapstructure:"jwt_issuer"`
	AccessTokenDuration time.Duration `mapstructure:"access_token_duration" validate:"required,min=1m"`
	FinanceRole         string        `mapstructure:"finance_role"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// PolicyConfig carries the reimbursement and advance document rules.
type PolicyConfig struct {
	ReimbursementCeiling    decimal.Decimal `mapstructure:"reimbursement_ceiling"`
	MonthlyLimit            int             `mapstructure:"monthly_limit"`
	DocumentThreshold       decimal.Decimal `mapstructure:"document_threshold"`
	DocumentRequiredTypes   []string        `mapstructure:"document_required_types"`
	EnforceAdvanceDocuments bool            `mapstructure:"enforce_advance_documents"`
	Timezone                string          `mapstructure:"timezone"`
}

type StorageConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	KeyTTL   time.Duration `mapstructure:"idempotency_ttl"`
}

type RateLimitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Rate    string `mapstructure:"rate"`
}

// DefaultPolicyConfig returns the policy values used when the config file leaves them out.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		ReimbursementCeiling:    decimal.NewFromInt(100000),
		MonthlyLimit:            5,
		DocumentThreshold:       decimal.NewFromInt(100000),
		DocumentRequiredTypes:   []string{"travel", "project-materials", "training", "client-entertainment"},
		EnforceAdvanceDocuments: true,
		Timezone:                "UTC",
	}
}

// ApplyDefaults fills zero values with the defaults above.
func (c *Config) ApplyDefaults() {
	def := DefaultPolicyConfig()
	if c.Policy.ReimbursementCeiling.IsZero() {
		c.Policy.ReimbursementCeiling = def.ReimbursementCeiling
	}
	if c.Policy.MonthlyLimit == 0 {
		c.Policy.MonthlyLimit = def.MonthlyLimit
	}
	if c.Policy.DocumentThreshold.IsZero() {
		c.Policy.DocumentThreshold = def.DocumentThreshold
	}
	if c.Policy.DocumentRequiredTypes == nil {
		c.Policy.DocumentRequiredTypes = def.DocumentRequiredTypes
	}
	if c.Policy.Timezone == "" {
		c.Policy.Timezone = def.Timezone
	}
	if c.Security.FinanceRole == "" {
		c.Security.FinanceRole = "finance"
	}
	if c.Security.AccessTokenDuration == 0 {
		c.Security.AccessTokenDuration = time.Hour
	}
	if c.Redis.KeyTTL == 0 {
		c.Redis.KeyTTL = 24 * time.Hour
	}
	if c.RateLimit.Rate == "" {
		c.RateLimit.Rate = "100-M"
	}
	if c.Server.OpenAPIPath == "" {
		c.Server.OpenAPIPath = "./api/openapi.yml"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// LoadConfigFromEnv builds the configuration purely from environment variables (container deployment).
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("HTTP_PORT", 8080),
			BaseURL:           getEnv("BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("WRITE_TIMEOUT", 15*time.Second),
			OpenAPIPath:       getEnv("OPENAPI_PATH", "./api/openapi.yml"),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DATABASE_URL", ""),
		},
		Security: SecurityConfig{
			JWTSecret:           getEnv("JWT_SECRET", ""),
			JWTIssuer:           getEnv("JWT_ISSUER", "cash-advance"),
			AccessTokenDuration: getEnvAsDuration("ACCESS_TOKEN_DURATION", time.Hour),
			FinanceRole:         getEnv("FINANCE_ROLE", "finance"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
		Policy: PolicyConfig{
			ReimbursementCeiling:    getEnvAsDecimal("POLICY_REIMBURSEMENT_CEILING", decimal.NewFromInt(100000)),
			MonthlyLimit:            getEnvAsInt("POLICY_MONTHLY_LIMIT", 5),
			DocumentThreshold:       getEnvAsDecimal("POLICY_DOCUMENT_THRESHOLD", decimal.NewFromInt(100000)),
			DocumentRequiredTypes:   getEnvAsList("POLICY_DOCUMENT_REQUIRED_TYPES", DefaultPolicyConfig().DocumentRequiredTypes),
			EnforceAdvanceDocuments: getEnvAsBool("POLICY_ENFORCE_ADVANCE_DOCUMENTS", true),
			Timezone:                getEnv("POLICY_TIMEZONE", "UTC"),
		},
		Storage: StorageConfig{
			Enabled:      getEnvAsBool("STORAGE_ENABLED", false),
			Bucket:       getEnv("STORAGE_BUCKET", ""),
			Region:       getEnv("STORAGE_REGION", "us-east-1"),
			Endpoint:     getEnv("STORAGE_ENDPOINT", ""),
			AccessKey:    getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey:    getEnv("STORAGE_SECRET_KEY", ""),
			UsePathStyle: getEnvAsBool("STORAGE_USE_PATH_STYLE", true),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			KeyTTL:   getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvAsBool("RATE_LIMIT_ENABLED", true),
			Rate:    getEnv("RATE_LIMIT_RATE", "100-M"),
		},
	}
	return cfg
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsDecimal(key string, defaultVal decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvAsList(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Policy.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("policy config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *SecurityConfig) Validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	return nil
}

func (c *PolicyConfig) Validate() error {
	if !c.ReimbursementCeiling.IsPositive() {
		return errors.New("reimbursement_ceiling must be greater than zero")
	}
	if c.MonthlyLimit < 1 {
		return errors.New("monthly_limit must be at least 1")
	}
	if c.DocumentThreshold.IsNegative() {
		return errors.New("document_threshold cannot be negative")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location resolves the timezone that bounds the monthly quota window.
func (c *PolicyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *StorageConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Bucket == "" {
		return errors.New("bucket is required when storage is enabled")
	}
	if c.Region == "" {
		return errors.New("region is required when storage is enabled")
	}
	return nil
}
