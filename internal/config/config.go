package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/medtrack/internal/domain/adherence"
)

// Snapshot sources.
const (
	SourceREST     = "rest"
	SourcePostgres = "postgres"
)

type Config struct {
	Port               string        `mapstructure:"PORT"`
	Env                string        `mapstructure:"ENV"`
	LogLevel           string        `mapstructure:"LOG_LEVEL"`
	APIBaseURL         string        `mapstructure:"API_BASE_URL"`
	APITimeout         time.Duration `mapstructure:"API_TIMEOUT"`
	SnapshotSource     string        `mapstructure:"SNAPSHOT_SOURCE"`
	DatabaseURL        string        `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32         `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey     string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer         string        `mapstructure:"AUTH_ISSUER"`
	CORSOrigins        []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS       float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int           `mapstructure:"RATE_LIMIT_BURST"`
	EligibilityMode    string        `mapstructure:"ELIGIBILITY_MODE"`
	DoseEarlyTolerance time.Duration `mapstructure:"DOSE_EARLY_TOLERANCE"`
	DoseLateTolerance  time.Duration `mapstructure:"DOSE_LATE_TOLERANCE"`
	CalendarTZ         string        `mapstructure:"CALENDAR_TZ"`
	ProbeMinInterval   time.Duration `mapstructure:"PROBE_MIN_INTERVAL"`
	SessionFile        string        `mapstructure:"SESSION_FILE"`
	KafkaBrokers       string        `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic         string        `mapstructure:"KAFKA_TOPIC"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"API_BASE_URL", "API_TIMEOUT", "SNAPSHOT_SOURCE",
	"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"ELIGIBILITY_MODE", "DOSE_EARLY_TOLERANCE", "DOSE_LATE_TOLERANCE",
	"CALENDAR_TZ", "PROBE_MIN_INTERVAL", "SESSION_FILE",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_BASE_URL", "http://localhost:4000")
	v.SetDefault("API_TIMEOUT", "10s")
	v.SetDefault("SNAPSHOT_SOURCE", SourceREST)
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("ELIGIBILITY_MODE", string(adherence.ModeWindow))
	v.SetDefault("DOSE_EARLY_TOLERANCE", "30m")
	v.SetDefault("DOSE_LATE_TOLERANCE", "2h")
	v.SetDefault("CALENDAR_TZ", "UTC")
	v.SetDefault("PROBE_MIN_INTERVAL", "5s")
	v.SetDefault("KAFKA_TOPIC", "medtrack.dose-taken")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Window returns the configured dose tolerance window.
func (c *Config) Window() adherence.Window {
	return adherence.Window{Early: c.DoseEarlyTolerance, Late: c.DoseLateTolerance}
}

// Location resolves CALENDAR_TZ. Empty means UTC; "Local" is the host zone.
func (c *Config) Location() (*time.Location, error) {
	switch c.CalendarTZ {
	case "", "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.CalendarTZ)
	if err != nil {
		return nil, fmt.Errorf("CALENDAR_TZ %q: %w", c.CalendarTZ, err)
	}
	return loc, nil
}

// KafkaEnabled reports whether dose events should be published.
func (c *Config) KafkaEnabled() bool {
	return strings.TrimSpace(c.KafkaBrokers) != ""
}

// Validate checks that the configuration is consistent. Outside development
// the dashboard API refuses to start without a signing key, since it would
// otherwise trust unverified bearer tokens.
func (c *Config) Validate() error {
	switch c.SnapshotSource {
	case SourceREST:
		if c.APIBaseURL == "" {
			return fmt.Errorf("API_BASE_URL is required when SNAPSHOT_SOURCE is %q", SourceREST)
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SNAPSHOT_SOURCE is %q", SourcePostgres)
		}
	default:
		return fmt.Errorf("SNAPSHOT_SOURCE must be %q or %q, got %q", SourceREST, SourcePostgres, c.SnapshotSource)
	}

	mode, err := adherence.ParseEligibilityMode(c.EligibilityMode)
	if err != nil {
		return fmt.Errorf("ELIGIBILITY_MODE: %w", err)
	}
	if mode == adherence.ModeUpstream && c.SnapshotSource != SourceREST {
		return fmt.Errorf("ELIGIBILITY_MODE=%s needs SNAPSHOT_SOURCE=%s: only the records API supplies per-dose eligibility", mode, SourceREST)
	}

	if err := c.Window().Validate(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.ProbeMinInterval < 0 {
		return fmt.Errorf("PROBE_MIN_INTERVAL must not be negative, got %s", c.ProbeMinInterval)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	return nil
}
