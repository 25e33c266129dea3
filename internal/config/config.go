// Package config loads the server configuration.
//
// Every option has a long flag and an environment variable. Values are
// resolved in this order, later sources winning:
//
//	built-in defaults → environment → config file (--config / CONFIG_FILE) → command line
//
// A value read from the config file is never replaced by the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/identity-service/internal/auth"
)

type Config struct {
	ConfigFile string `long:"config" env:"CONFIG_FILE" description:"Path to an INI configuration file"`

	Port            int           `long:"port" env:"PORT" description:"HTTP listen port"`
	ShutdownTimeout time.Duration `long:"shutdown-timeout" env:"SHUTDOWN_TIMEOUT" description:"Grace period for in-flight requests on shutdown"`

	DBDriver    string `long:"db-driver" env:"DB_DRIVER" choice:"sqlite" choice:"postgres" choice:"memory" description:"Storage backend"`
	DBPath      string `long:"db-path" env:"DB_PATH" description:"SQLite database file"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"PostgreSQL connection string"`

	JWTSecret   string        `long:"jwt-secret" env:"JWT_SECRET" description:"HMAC key for session tokens"`
	SessionTTL  time.Duration `long:"session-ttl" env:"SESSION_TTL" description:"Lifetime of a session token"`
	HashCost    int           `long:"hash-cost" env:"HASH_COST" description:"bcrypt cost factor"`
	HashWorkers int           `long:"hash-workers" env:"HASH_WORKERS" description:"Concurrent bcrypt operations (0 = number of CPUs)"`

	VerificationTTL  time.Duration `long:"verification-ttl" env:"VERIFICATION_TTL" description:"Lifetime of an email verification token"`
	ResetTTL         time.Duration `long:"reset-ttl" env:"RESET_TTL" description:"Lifetime of a password reset token"`
	OperationTimeout time.Duration `long:"operation-timeout" env:"OPERATION_TIMEOUT" description:"Deadline of a single account operation"`

	PublicURL    string        `long:"public-url" env:"PUBLIC_URL" description:"Base URL used in emailed links"`
	MailFrom     string        `long:"mail-from" env:"MAIL_FROM" description:"Sender address of account emails"`
	MailTimeout  time.Duration `long:"mail-timeout" env:"MAIL_TIMEOUT" description:"Deadline of a single email delivery"`
	SMTPHost     string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP server host:port (empty logs emails instead)"`
	SMTPUser     string        `long:"smtp-user" env:"SMTP_USER" description:"SMTP username"`
	SMTPPassword string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`

	RedisURL string        `long:"redis-url" env:"REDIS_URL" description:"Redis URL for the user list cache (empty disables it)"`
	CacheTTL time.Duration `long:"cache-ttl" env:"CACHE_TTL" description:"Lifetime of a cached user list page"`

	LogLevel  string `long:"log-level" env:"LOG_LEVEL" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Minimum log level"`
	LogFormat string `long:"log-format" env:"LOG_FORMAT" choice:"text" choice:"json" description:"Log output format"`
}

// Default returns the built-in configuration. JWTSecret has no default.
func Default() Config {
	return Config{
		Port:             8080,
		ShutdownTimeout:  30 * time.Second,
		DBDriver:         "sqlite",
		DBPath:           "data/identity.db",
		SessionTTL:       auth.DefaultSessionTTL,
		HashCost:         auth.DefaultCost,
		VerificationTTL:  24 * time.Hour,
		ResetTTL:         time.Hour,
		OperationTimeout: 10 * time.Second,
		PublicURL:        "http://localhost:8080",
		MailFrom:         "no-reply@localhost",
		MailTimeout:      30 * time.Second,
		CacheTTL:         60 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load resolves the configuration from args (without the program name),
// the environment and an optional config file, then validates it.
// A help request returns an error for which IsHelp is true.
func Load(args []string) (*Config, error) {
	cfg := Default()

	// Pre-parse to find the config file. Errors other than help are
	// reported by the final parse.
	preCfg := cfg
	if _, err := flags.NewParser(&preCfg, flags.HelpFlag).ParseArgs(args); IsHelp(err) {
		return nil, err
	}

	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	if preCfg.ConfigFile != "" {
		if err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", preCfg.ConfigFile, err)
		}
	}

	// Parse again so the command line takes precedence. Options the file
	// did not set still pick up the environment here.
	if _, err := parser.ParseArgs(args); err != nil {
		if IsHelp(err) {
			return nil, err
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsHelp reports whether err is a --help request.
func IsHelp(err error) bool {
	var ferr *flags.Error
	return errors.As(err, &ferr) && ferr.Type == flags.ErrHelp
}

// Validate reports every invalid option at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Port < 1 || c.Port > 65535 {
		add("PORT must be between 1 and 65535, got %d", c.Port)
	}

	switch c.DBDriver {
	case "sqlite":
		if c.DBPath == "" {
			add("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			add("DATABASE_URL is required for the postgres driver")
		}
	case "memory":
	default:
		add("DB_DRIVER must be sqlite, postgres or memory, got %q", c.DBDriver)
	}

	switch {
	case c.JWTSecret == "":
		add("JWT_SECRET is required")
	case len(c.JWTSecret) < auth.MinSecretLength:
		add("JWT_SECRET must be at least %d bytes", auth.MinSecretLength)
	}

	if c.HashCost < bcrypt.MinCost || c.HashCost > bcrypt.MaxCost {
		add("HASH_COST must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.HashCost)
	}
	if c.HashWorkers < 0 {
		add("HASH_WORKERS must not be negative")
	}

	for name, d := range map[string]time.Duration{
		"SESSION_TTL":       c.SessionTTL,
		"VERIFICATION_TTL":  c.VerificationTTL,
		"RESET_TTL":         c.ResetTTL,
		"OPERATION_TIMEOUT": c.OperationTimeout,
		"MAIL_TIMEOUT":      c.MailTimeout,
		"SHUTDOWN_TIMEOUT":  c.ShutdownTimeout,
		"CACHE_TTL":         c.CacheTTL,
	} {
		if d <= 0 {
			add("%s must be positive, got %s", name, d)
		}
	}

	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("PUBLIC_URL must be an absolute URL, got %q", c.PublicURL)
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		add("MAIL_FROM is required when SMTP_HOST is set")
	}

	if len(errs) == 0 {
		return nil
	}
	// Map iteration is random; keep the message stable.
	slices.SortFunc(errs, func(a, b error) int {
		return strings.Compare(a.Error(), b.Error())
	})
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
