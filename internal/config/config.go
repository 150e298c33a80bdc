package config

import (
	"fmt"
	"strings"
	"time"

	pkgconfig "github.com/utafrali/authgate/pkg/config"
	"github.com/utafrali/authgate/pkg/database"
	apperrors "github.com/utafrali/authgate/pkg/errors"
)

const (
	environmentProduction = "production"
	minProductionSecret   = 32
)

// Config holds all configuration for the authgate service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server. Zero means unset: 80 in production, 8080 otherwise.
	HTTPPort        int           `env:"HTTP_PORT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// PostgreSQL
	DatabaseURL          string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns           int32  `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns           int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	SlowQueryThresholdMS int    `env:"SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`
	DBQueryTimeoutMS     int    `env:"DB_QUERY_TIMEOUT_MS" envDefault:"5000"`

	// Google Sign-In
	GoogleClientID       string        `env:"GOOGLE_CLIENT_ID,required,notEmpty"`
	GoogleClientSecret   string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleAllowedDomains []string      `env:"GOOGLE_HD_ALLOWED_DOMAINS,required,notEmpty" envSeparator:","`
	GoogleJWKSURL        string        `env:"GOOGLE_JWKS_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	GoogleIssuer         string        `env:"GOOGLE_ISSUER" envDefault:"https://accounts.google.com"`
	IdentityTimeout      time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`

	// Token issuance
	ClientPairs                  string        `env:"CLIENTS,required,notEmpty"`
	Issuer                       string        `env:"ISSUER,required,notEmpty"`
	Audiences                    []string      `env:"AUDIENCES,required,notEmpty" envSeparator:","`
	AccessTokenExpirationMinutes int           `env:"ACCESS_TOKEN_EXPIRATION_MINUTES" envDefault:"30"`
	RefreshTokenExpirationDays   int           `env:"REFRESH_TOKEN_EXPIRATION_DAYS" envDefault:"10"`
	RefreshTokenRetentionDays    int           `env:"REFRESH_TOKEN_RETENTION_DAYS" envDefault:"30"`
	PurgeInterval                time.Duration `env:"PURGE_INTERVAL" envDefault:"1h"`

	// Redis (login lockout counters)
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	LoginMaxFailedAttempts int           `env:"LOGIN_MAX_FAILED_ATTEMPTS" envDefault:"5"`
	LoginLockoutWindow     time.Duration `env:"LOGIN_LOCKOUT_WINDOW" envDefault:"15m"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// HTTP protections
	RateLimitRPS       float64  `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst     int      `env:"RATE_LIMIT_BURST" envDefault:"20"`
	TrustForwarded     bool     `env:"TRUST_FORWARDED_HEADERS" envDefault:"false"`
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	CSRFEnabled        bool     `env:"CSRF_ENABLED" envDefault:"false"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	clients map[string]string
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load authgate config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFrom reads configuration from the given variables instead of the
// process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.LoadFrom(cfg, environ); err != nil {
		return nil, fmt.Errorf("load authgate config: %w", err)
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) finish() error {
	clients, err := ParseClients(c.ClientPairs)
	if err != nil {
		return err
	}
	c.clients = clients
	c.Audiences = trimAll(c.Audiences)
	c.GoogleAllowedDomains = trimAll(c.GoogleAllowedDomains)

	if c.HTTPPort == 0 {
		c.HTTPPort = 8080
		if c.IsProduction() {
			c.HTTPPort = 80
		}
	}
	return c.validate()
}

func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if len(c.Audiences) == 0 {
		return fmt.Errorf("AUDIENCES must list at least one audience")
	}
	if len(c.GoogleAllowedDomains) == 0 {
		return fmt.Errorf("GOOGLE_HD_ALLOWED_DOMAINS must list at least one domain")
	}
	if c.AccessTokenExpirationMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRATION_MINUTES must be positive, got %d", c.AccessTokenExpirationMinutes)
	}
	if c.RefreshTokenExpirationDays <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_EXPIRATION_DAYS must be positive, got %d", c.RefreshTokenExpirationDays)
	}
	if c.RefreshTokenRetentionDays < c.RefreshTokenExpirationDays {
		return fmt.Errorf("REFRESH_TOKEN_RETENTION_DAYS (%d) must not be shorter than REFRESH_TOKEN_EXPIRATION_DAYS (%d)",
			c.RefreshTokenRetentionDays, c.RefreshTokenExpirationDays)
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("PURGE_INTERVAL must be positive")
	}
	if c.LoginMaxFailedAttempts < 1 {
		return fmt.Errorf("LOGIN_MAX_FAILED_ATTEMPTS must be at least 1")
	}

	// Outside development every client secret must be long enough for HS256.
	if c.IsProduction() {
		for id, secret := range c.clients {
			if len(secret) < minProductionSecret {
				return fmt.Errorf("secret for client %q must be at least %d characters long, got %d",
					id, minProductionSecret, len(secret))
			}
		}
	}
	return nil
}

// ParseClients parses comma separated "clientId:secret" pairs.
func ParseClients(raw string) (map[string]string, error) {
	clients := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, apperrors.Configuration("Invalid client pair.")
		}
		clients[parts[0]] = parts[1]
	}
	if len(clients) == 0 {
		return nil, apperrors.Configuration("CLIENTS must contain at least one client pair")
	}
	return clients, nil
}

// Clients returns a copy of the registered client secrets.
func (c *Config) Clients() map[string]string {
	out := make(map[string]string, len(c.clients))
	for id, secret := range c.clients {
		out[id] = secret
	}
	return out
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Environment == environmentProduction
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpirationMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenExpirationDays) * 24 * time.Hour
}

// RefreshTokenRetention returns how long refresh token rows are kept after creation.
func (c *Config) RefreshTokenRetention() time.Duration {
	return time.Duration(c.RefreshTokenRetentionDays) * 24 * time.Hour
}

// SlowQueryThreshold returns the slow query logging threshold.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMS) * time.Millisecond
}

// DBQueryTimeout returns the bound applied to every store call.
func (c *Config) DBQueryTimeout() time.Duration {
	return time.Duration(c.DBQueryTimeoutMS) * time.Millisecond
}

func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		URL:              c.DatabaseURL,
		MaxConns:         c.DBMaxConns,
		MinConns:         c.DBMinConns,
		StatementTimeout: c.DBQueryTimeout(),
	}
}

func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}

func trimAll(values []string) []string {
	out := values[:0]
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
