package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"siifmart/backend/internal/domain"
	"siifmart/backend/internal/pricing"
)

type Config struct {
	Environment   string `envconfig:"APP_ENV" default:"development"`
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	DefaultSiteID string        `envconfig:"DEFAULT_SITE_ID" default:"site-main"`
	SuggestionTTL time.Duration `envconfig:"SUGGESTION_TTL" default:"2m"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	ManagerPIN     string        `envconfig:"MANAGER_PIN"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	CashRounding   bool   `envconfig:"CASH_ROUNDING" default:"true"`
	TaxRules       string `envconfig:"TAX_RULES" default:"VAT:15,Turnover:2,Municipal:1:compound"`
	MaxActiveJobs  int    `envconfig:"MAX_ACTIVE_JOBS" default:"3"`
	LoginRateLimit int    `envconfig:"LOGIN_RATE_LIMIT" default:"5"`
}

// Load reads an optional .env file and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.ManagerPIN = strings.TrimSpace(cfg.ManagerPIN)
	if cfg.MaxActiveJobs < 1 {
		cfg.MaxActiveJobs = 3
	}
	if _, err := cfg.ParsedTaxRules(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// IsProduction enables HTTPS redirects and strict transport headers.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c Config) ParsedTaxRules() ([]domain.TaxRule, error) {
	rules, err := pricing.ParseTaxRules(c.TaxRules)
	if err != nil {
		return nil, fmt.Errorf("TAX_RULES: %w", err)
	}
	return rules, nil
}

// NewLogger builds the process logger from LOG_FORMAT and LOG_LEVEL.
func NewLogger(c Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidateSecurity rejects settings that would let the API run with guessable
// credentials.
func (c Config) ValidateSecurity() error {
	if len(c.AuthSecret) < 32 {
		return errors.New("AUTH_SECRET must be set and at least 32 characters")
	}
	if err := ValidatePINStrength(c.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN: %w", err)
	}
	return nil
}

var commonPINs = map[string]bool{
	"121212": true, "112233": true, "123123": true, "147258": true, "159753": true,
}

// ValidatePINStrength rejects short, non-numeric, single-digit, sequential and
// commonly used PINs.
func ValidatePINStrength(pin string) error {
	if len(pin) < 6 {
		return errors.New("must be at least 6 digits")
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return errors.New("must contain digits only")
		}
	}
	if strings.Count(pin, pin[:1]) == len(pin) {
		return errors.New("must not repeat a single digit")
	}
	if isSequential(pin, 1) || isSequential(pin, -1) {
		return errors.New("must not be a sequential run")
	}
	if commonPINs[pin] {
		return errors.New("common PIN not allowed")
	}
	return nil
}

func isSequential(pin string, step int) bool {
	for i := 1; i < len(pin); i++ {
		if int(pin[i])-int(pin[i-1]) != step {
			return false
		}
	}
	return true
}
