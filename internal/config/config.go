package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ecommind/engine/internal/ratelimit"
)

// BaseConfig holds base configuration
type BaseConfig struct {
	Debug     bool   `mapstructure:"debug"`
	SentryDSN string `mapstructure:"sentry_dsn"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // in seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // in seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"`  // in seconds
}

// AuthConfig holds session authentication configuration
type AuthConfig struct {
	JWTPublicKey string `mapstructure:"jwt_public_key"`
	JWTSecret    string `mapstructure:"jwt_secret"`
}

// VaultConfig holds token vault configuration
type VaultConfig struct {
	// Secret is the hex-encoded server-side secret the vault key derives from
	Secret string `mapstructure:"secret"`
}

// VendorConfig holds one vendor's API and OAuth settings
type VendorConfig struct {
	APIURL       string `mapstructure:"api_url"`
	AuthURL      string `mapstructure:"auth_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
	// PartnerID/PartnerKey are Shopee's signing credentials
	PartnerID  string `mapstructure:"partner_id"`
	PartnerKey string `mapstructure:"partner_key"`
	// WebhookSecret verifies inbound webhook signatures for this vendor
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// VendorsConfig holds all vendor configurations
type VendorsConfig struct {
	Bling  VendorConfig `mapstructure:"bling"`
	Meli   VendorConfig `mapstructure:"meli"`
	Shopee VendorConfig `mapstructure:"shopee"`
}

// RetryConfig holds the shared vendor retry/backoff policy parameters
type RetryConfig struct {
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	Multiplier float64       `mapstructure:"multiplier"`
}

// HTTPConfig holds outbound HTTP client configuration
type HTTPConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// RateLimitsConfig holds per-vendor outbound rate limits
type RateLimitsConfig struct {
	Bling  ratelimit.Config `mapstructure:"bling"`
	Meli   ratelimit.Config `mapstructure:"meli"`
	Shopee ratelimit.Config `mapstructure:"shopee"`
}

// Map converts the rate limit config into the limiter's vendor map
func (r RateLimitsConfig) Map() map[string]ratelimit.Config {
	return map[string]ratelimit.Config{
		"bling":  r.Bling,
		"meli":   r.Meli,
		"shopee": r.Shopee,
	}
}

// APIConfig holds configuration for the API server
type APIConfig struct {
	BaseConfig `mapstructure:",squash"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Vendors    VendorsConfig    `mapstructure:"vendors"`
	Retry      RetryConfig      `mapstructure:"retry"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
}

// SyncdConfig holds configuration for the background sync daemon
type SyncdConfig struct {
	BaseConfig   `mapstructure:",squash"`
	Database     DatabaseConfig   `mapstructure:"database"`
	Vault        VaultConfig      `mapstructure:"vault"`
	Vendors      VendorsConfig    `mapstructure:"vendors"`
	Retry        RetryConfig      `mapstructure:"retry"`
	HTTP         HTTPConfig       `mapstructure:"http"`
	RateLimits   RateLimitsConfig `mapstructure:"rate_limits"`
	SyncInterval time.Duration    `mapstructure:"sync_interval"`
	PoolSize     int              `mapstructure:"pool_size"`
	QueueSize    int              `mapstructure:"queue_size"`
}

// MigrateConfig holds configuration for the migration binary
type MigrateConfig struct {
	BaseConfig `mapstructure:",squash"`
	Database   DatabaseConfig `mapstructure:"database"`
}

// LoadAPIConfig loads configuration for the API server
func LoadAPIConfig(configFile string, envPath string) (*APIConfig, error) {
	v := configureViper("api", configFile, envPath)

	// Set defaults
	v.SetDefault("debug", false)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("server.idle_timeout", 120)
	setDatabaseDefaults(v)
	setVendorDefaults(v)
	setRetryDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg APIConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Vault.Secret == "" {
		return nil, errors.New("vault.secret is required")
	}

	return &cfg, nil
}

// LoadSyncdConfig loads configuration for the sync daemon
func LoadSyncdConfig(configFile string, envPath string) (*SyncdConfig, error) {
	v := configureViper("syncd", configFile, envPath)

	// Set defaults
	setDatabaseDefaults(v)
	setVendorDefaults(v)
	setRetryDefaults(v)
	v.SetDefault("sync_interval", "15m")
	v.SetDefault("pool_size", 8)
	v.SetDefault("queue_size", 256)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg SyncdConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Vault.Secret == "" {
		return nil, errors.New("vault.secret is required")
	}

	return &cfg, nil
}

// LoadMigrateConfig loads configuration for the migration binary
func LoadMigrateConfig(configFile string, envPath string) (*MigrateConfig, error) {
	v := configureViper("migrate", configFile, envPath)

	setDatabaseDefaults(v)

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg MigrateConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Database.Host == "" {
		return nil, errors.New("database.host is required")
	}

	return &cfg, nil
}

func setDatabaseDefaults(v *viper.Viper) {
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.conn_max_idle_time", "10m")
}

func setVendorDefaults(v *viper.Viper) {
	v.SetDefault("http.timeout", "30s")
	v.SetDefault("vendors.bling.api_url", "https://api.bling.com.br/Api/v3")
	v.SetDefault("vendors.bling.auth_url", "https://www.bling.com.br/Api/v3/oauth/authorize")
	v.SetDefault("vendors.bling.token_url", "https://www.bling.com.br/Api/v3/oauth/token")
	v.SetDefault("vendors.meli.api_url", "https://api.mercadolibre.com")
	v.SetDefault("vendors.meli.auth_url", "https://auth.mercadolivre.com.br/authorization")
	v.SetDefault("vendors.meli.token_url", "https://api.mercadolibre.com/oauth/token")
	v.SetDefault("vendors.shopee.api_url", "https://partner.shopeemobile.com")
	v.SetDefault("rate_limits.bling.requests_per_second", 3)
	v.SetDefault("rate_limits.meli.requests_per_second", 10)
	v.SetDefault("rate_limits.shopee.requests_per_second", 5)
}

func setRetryDefaults(v *viper.Viper) {
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "30s")
	v.SetDefault("retry.multiplier", 2.0)
}

// readConfig reads the config file, tolerating a missing file so pure
// environment-variable deployments keep working
func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config: %w", err)
	}
	return nil
}

// configureViper returns a viper instance with the config file and environment variables set
func configureViper(service string, configFile string, envPath string) *viper.Viper {
	v := viper.New()

	// Load environment variables
	loadEnv(envPath, service)

	// Set config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(fmt.Sprintf("cmd/%s/", service))
		v.AddConfigPath("config/")
	}

	// Set environment variables
	v.SetEnvPrefix("ECOMMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicitly bind all environment variables
	bindAllEnvVars(v)
	return v
}

// bindAllEnvVars explicitly binds all possible environment variables.
// Required for viper to map env vars to struct fields when no config file exists.
func bindAllEnvVars(v *viper.Viper) {
	keys := []string{
		"debug",
		"sentry_dsn",
		// Database
		"database.host",
		"database.port",
		"database.user",
		"database.password",
		"database.dbname",
		"database.sslmode",
		"database.max_open_conns",
		"database.max_idle_conns",
		"database.conn_max_lifetime",
		"database.conn_max_idle_time",
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.idle_timeout",
		// Auth
		"auth.jwt_public_key",
		"auth.jwt_secret",
		// Vault
		"vault.secret",
		// HTTP
		"http.timeout",
		// Retry policy
		"retry.max_retries",
		"retry.base_delay",
		"retry.max_delay",
		"retry.multiplier",
		// Vendors
		"vendors.bling.api_url",
		"vendors.bling.auth_url",
		"vendors.bling.token_url",
		"vendors.bling.client_id",
		"vendors.bling.client_secret",
		"vendors.bling.redirect_uri",
		"vendors.bling.webhook_secret",
		"vendors.meli.api_url",
		"vendors.meli.auth_url",
		"vendors.meli.token_url",
		"vendors.meli.client_id",
		"vendors.meli.client_secret",
		"vendors.meli.redirect_uri",
		"vendors.shopee.api_url",
		"vendors.shopee.partner_id",
		"vendors.shopee.partner_key",
		"vendors.shopee.redirect_uri",
		"vendors.shopee.webhook_secret",
		// Rate limits
		"rate_limits.bling.requests_per_second",
		"rate_limits.bling.burst",
		"rate_limits.meli.requests_per_second",
		"rate_limits.meli.burst",
		"rate_limits.shopee.requests_per_second",
		"rate_limits.shopee.burst",
		// Syncd
		"sync_interval",
		"pool_size",
		"queue_size",
	}

	for _, key := range keys {
		_ = v.BindEnv(key)
	}
}

// loadEnv loads environment variables from the config directory
func loadEnv(envPath string, service string) {
	envFiles := []string{".env", ".env.local"}
	if service != "" {
		envFiles = append(envFiles, ".env."+service+".local")
	}

	if envPath == "" {
		envPath = "config/"
	}

	for _, envFile := range envFiles {
		candidate := filepath.Join(envPath, envFile)
		_ = godotenv.Overload(candidate) // Overload lets later files override earlier ones
	}
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// Policy returns the retry policy values, filling unset fields with defaults
func (r RetryConfig) Policy() (maxRetries int, baseDelay, maxDelay time.Duration, multiplier float64) {
	maxRetries = r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay = r.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	maxDelay = r.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	multiplier = r.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	return maxRetries, baseDelay, maxDelay, multiplier
}

// ChdirRepoRoot changes the current working directory to the repository root
func ChdirRepoRoot() {
	cwd, _ := os.Getwd()
	for range 5 {
		if _, err := os.Stat(filepath.Join(cwd, "config")); err == nil {
			_ = os.Chdir(cwd)
			return
		}
		cwd = filepath.Dir(cwd)
	}
}
