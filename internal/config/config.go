package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Email    EmailConfig    `mapstructure:"email"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns host:port for http.Server.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	URL            string        `mapstructure:"url"`
	PoolMin        int32         `mapstructure:"pool_min"`
	PoolMax        int32         `mapstructure:"pool_max"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Output    string `mapstructure:"output"`
	FilePath  string `mapstructure:"file_path"`
	MaxSizeMB int    `mapstructure:"max_size_mb"`
	MaxFiles  int    `mapstructure:"max_files"`
}

// WorkerConfig controls the delivery worker loops.
type WorkerConfig struct {
	Concurrency     int           `mapstructure:"concurrency"`
	IdleInterval    time.Duration `mapstructure:"idle_interval"`
	ErrorInterval   time.Duration `mapstructure:"error_interval"`
	ProcessTimeout  time.Duration `mapstructure:"process_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsInterval time.Duration `mapstructure:"metrics_interval"`
	MetricsAddr     string        `mapstructure:"metrics_addr"`
}

// EmailConfig selects and configures the outbound email transport.
type EmailConfig struct {
	TransportConfig `mapstructure:",squash"`

	Sender  string        `mapstructure:"sender"`
	Timeout time.Duration `mapstructure:"timeout"`
	// HealthInterval is how often the worker probes the transports.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// Fallbacks are tried in order when the primary transport is unhealthy
	// or fails transiently. Each must use a different provider type.
	Fallbacks []TransportConfig `mapstructure:"fallbacks"`
}

// TransportConfig configures one transport.
type TransportConfig struct {
	Provider string     `mapstructure:"provider"` // stdout, file, s3, smtp, sendgrid, mailgun, ses
	APIKey   string     `mapstructure:"api_key"`
	Endpoint string     `mapstructure:"endpoint"`
	Domain   string     `mapstructure:"domain"`
	Region   string     `mapstructure:"region"`
	Path     string     `mapstructure:"path"`
	Bucket   string     `mapstructure:"bucket"`
	SMTP     SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig holds the relay used by the smtp provider.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	StartTLS bool   `mapstructure:"starttls"`
}

// AuthConfig holds JWT validation settings.
type AuthConfig struct {
	SigningKey string        `mapstructure:"signing_key"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
}

// RedisConfig configures the delivery wake-up channel.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// PublishConfig holds publish endpoint settings.
type PublishConfig struct {
	RedirectLocation string `mapstructure:"redirect_location"`
}

// SeedConfig lists confirmed subscribers inserted at startup. Development only.
type SeedConfig struct {
	Subscribers []string `mapstructure:"subscribers"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", 10*time.Second)
	v.SetDefault("api.write_timeout", 10*time.Second)
	v.SetDefault("api.shutdown_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.pool_min", 2)
	v.SetDefault("database.pool_max", 10)
	v.SetDefault("database.connect_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_files", 5)

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.idle_interval", 10*time.Second)
	v.SetDefault("worker.error_interval", 1*time.Second)
	v.SetDefault("worker.process_timeout", 30*time.Second)
	v.SetDefault("worker.shutdown_timeout", 30*time.Second)
	v.SetDefault("worker.metrics_interval", 15*time.Second)
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("email.provider", "stdout")
	v.SetDefault("email.sender", "")
	v.SetDefault("email.timeout", 10*time.Second)
	v.SetDefault("email.api_key", "")
	v.SetDefault("email.endpoint", "")
	v.SetDefault("email.domain", "")
	v.SetDefault("email.region", "")
	v.SetDefault("email.path", "")
	v.SetDefault("email.bucket", "")
	v.SetDefault("email.smtp.host", "")
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.username", "")
	v.SetDefault("email.smtp.password", "")
	v.SetDefault("email.smtp.starttls", true)
	v.SetDefault("email.health_interval", 30*time.Second)

	v.SetDefault("auth.signing_key", "")
	v.SetDefault("auth.issuer", "newsletter")
	v.SetDefault("auth.audience", "newsletter-admin")
	v.SetDefault("auth.token_ttl", 15*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "newsletter:deliveries")

	v.SetDefault("publish.redirect_location", "/admin/newsletters")
}

// Load reads config.yaml from configPath. Environment variables prefixed
// with NEWSLETTER_ override file values, e.g. NEWSLETTER_DATABASE_URL
// overrides database.url.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)

	v.SetEnvPrefix("NEWSLETTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that would otherwise fail much later at runtime.
func (c *Config) Validate() error {
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Worker.IdleInterval <= 0 || c.Worker.ErrorInterval <= 0 {
		return fmt.Errorf("worker intervals must be positive")
	}
	if c.Database.PoolMax < c.Database.PoolMin {
		return fmt.Errorf("database.pool_max (%d) is below pool_min (%d)", c.Database.PoolMax, c.Database.PoolMin)
	}
	if c.Email.Sender == "" {
		return fmt.Errorf("email.sender is required")
	}
	if c.Publish.RedirectLocation == "" {
		return fmt.Errorf("publish.redirect_location is required")
	}
	return nil
}
