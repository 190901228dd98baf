package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Security    SecurityConfig
	Mailer      MailerConfig
	Cache       CacheConfig
	Maintenance MaintenanceConfig
	CORS        CORSConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig carries the access-token signing material. Secret, issuer and
// audience are mandatory; Load fails when any of them is missing.
type JWTConfig struct {
	Secret          string
	Issuer          string
	Audience        []string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// SecurityConfig tunes password hashing, lockout and reset-token lifetime.
type SecurityConfig struct {
	BcryptCost       int
	LockoutThreshold int
	LockoutDuration  time.Duration
	ResetTokenTTL    time.Duration
}

// MailerConfig configures outbound SMTP delivery. When Enabled is false the
// noop sender is wired instead and security emails are only logged.
type MailerConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// CacheConfig controls the Redis read cache for record lookups.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// MaintenanceConfig controls the periodic token sweep.
type MaintenanceConfig struct {
	SweepInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:          v.GetString("JWT_SECRET"),
		Issuer:          v.GetString("JWT_ISSUER"),
		Audience:        splitAndTrim(v.GetString("JWT_AUDIENCE")),
		AccessTokenTTL:  parseDuration(v.GetString("JWT_ACCESS_TTL"), 15*time.Minute),
		RefreshTokenTTL: parseDuration(v.GetString("JWT_REFRESH_TTL"), 7*24*time.Hour),
	}

	cfg.Security = SecurityConfig{
		BcryptCost:       v.GetInt("BCRYPT_COST"),
		LockoutThreshold: v.GetInt("LOCKOUT_THRESHOLD"),
		LockoutDuration:  parseDuration(v.GetString("LOCKOUT_DURATION"), 15*time.Minute),
		ResetTokenTTL:    parseDuration(v.GetString("RESET_TOKEN_TTL"), time.Hour),
	}

	cfg.Mailer = MailerConfig{
		Enabled:  v.GetBool("MAILER_ENABLED"),
		Host:     v.GetString("SMTP_HOST"),
		Port:     v.GetInt("SMTP_PORT"),
		Username: v.GetString("SMTP_USERNAME"),
		Password: v.GetString("SMTP_PASSWORD"),
		From:     v.GetString("SMTP_FROM"),
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("CACHE_ENABLED"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 10*time.Minute),
	}

	cfg.Maintenance = MaintenanceConfig{
		SweepInterval: parseDuration(v.GetString("TOKEN_SWEEP_INTERVAL"), time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

const devJWTSecret = "dev_secret"

// validate rejects configurations that must never reach a running server.
func (c *Config) validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT_SECRET must not be empty")
	}
	if c.JWT.Issuer == "" {
		return fmt.Errorf("JWT_ISSUER must not be empty")
	}
	if len(c.JWT.Audience) == 0 {
		return fmt.Errorf("JWT_AUDIENCE must not be empty")
	}
	if c.Env == EnvProduction && c.JWT.Secret == devJWTSecret {
		return fmt.Errorf("JWT_SECRET must be overridden in production")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "novadesk")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", devJWTSecret)
	v.SetDefault("JWT_ISSUER", "novadesk-api")
	v.SetDefault("JWT_AUDIENCE", "novadesk-clients")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h")

	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("LOCKOUT_DURATION", "15m")
	v.SetDefault("RESET_TOKEN_TTL", "1h")

	v.SetDefault("MAILER_ENABLED", false)
	v.SetDefault("SMTP_HOST", "localhost")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USERNAME", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@novadesk.local")

	v.SetDefault("CACHE_ENABLED", true)
	v.SetDefault("CACHE_TTL", "10m")

	v.SetDefault("TOKEN_SWEEP_INTERVAL", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
