package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123"

// clearEnv unsets every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CONFIG_FILE", "PORT", "SHUTDOWN_TIMEOUT", "DB_DRIVER", "DB_PATH", "DATABASE_URL",
		"JWT_SECRET", "SESSION_TTL", "HASH_COST", "HASH_WORKERS", "VERIFICATION_TTL",
		"RESET_TTL", "OPERATION_TIMEOUT", "PUBLIC_URL", "MAIL_FROM", "MAIL_TIMEOUT",
		"SMTP_HOST", "SMTP_USER", "SMTP_PASSWORD", "REDIS_URL", "CACHE_TTL",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load(nil)
	require.NoError(t, err)

	want := Default()
	want.JWTSecret = testSecret
	assert.Equal(t, &want, cfg)
	assert.Equal(t, 24*time.Hour, cfg.VerificationTTL)
	assert.Equal(t, time.Hour, cfg.ResetTTL)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_EnvironmentAndFlags(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("PORT", "9000")
	t.Setenv("DB_DRIVER", "memory")
	t.Setenv("RESET_TTL", "30m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load([]string{"--port", "9100", "--hash-cost", "10"})
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port, "command line wins over the environment")
	assert.Equal(t, "memory", cfg.DBDriver)
	assert.Equal(t, 30*time.Minute, cfg.ResetTTL)
	assert.Equal(t, 10, cfg.HashCost)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "identity.ini")
	ini := "[Application Options]\n" +
		"jwt-secret = " + testSecret + "\n" +
		"port = 7000\n" +
		"log-format = json\n" +
		"log-level = warn\n"
	require.NoError(t, os.WriteFile(path, []byte(ini), 0o600))

	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("RESET_TTL", "15m")

	cfg, err := Load([]string{"--config", path, "--log-level", "error"})
	require.NoError(t, err)

	assert.Equal(t, testSecret, cfg.JWTSecret)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "json", cfg.LogFormat, "the file wins over the environment")
	assert.Equal(t, 15*time.Minute, cfg.ResetTTL, "the environment fills what the file omits")
	assert.Equal(t, "error", cfg.LogLevel, "the command line wins over the file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)

	_, err := Load([]string{"--config", filepath.Join(t.TempDir(), "absent.ini")})
	assert.Error(t, err)
}

func TestLoad_InvalidChoice(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", testSecret)

	_, err := Load([]string{"--db-driver", "mysql"})
	assert.Error(t, err)
}

func TestLoad_Help(t *testing.T) {
	clearEnv(t)

	_, err := Load([]string{"--help"})
	require.Error(t, err)
	assert.True(t, IsHelp(err))
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.JWTSecret = testSecret
		return c
	}

	tests := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"missing secret":         {func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET is required"},
		"short secret":           {func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET must be at least"},
		"port out of range":      {func(c *Config) { c.Port = 70000 }, "PORT"},
		"postgres without url":   {func(c *Config) { c.DBDriver = "postgres" }, "DATABASE_URL"},
		"sqlite without path":    {func(c *Config) { c.DBPath = "" }, "DB_PATH"},
		"hash cost too low":      {func(c *Config) { c.HashCost = 3 }, "HASH_COST"},
		"negative workers":       {func(c *Config) { c.HashWorkers = -1 }, "HASH_WORKERS"},
		"zero reset ttl":         {func(c *Config) { c.ResetTTL = 0 }, "RESET_TTL"},
		"negative op timeout":    {func(c *Config) { c.OperationTimeout = -time.Second }, "OPERATION_TIMEOUT"},
		"relative public url":    {func(c *Config) { c.PublicURL = "/app" }, "PUBLIC_URL"},
		"smtp without from":      {func(c *Config) { c.SMTPHost = "smtp.x.com:465"; c.MailFrom = "" }, "MAIL_FROM"},
		"unknown driver":         {func(c *Config) { c.DBDriver = "mysql" }, "DB_DRIVER"},
		"zero cache ttl":         {func(c *Config) { c.CacheTTL = 0 }, "CACHE_TTL"},
		"zero shutdown timeout":  {func(c *Config) { c.ShutdownTimeout = 0 }, "SHUTDOWN_TIMEOUT"},
		"zero verification ttl":  {func(c *Config) { c.VerificationTTL = 0 }, "VERIFICATION_TTL"},
		"zero session ttl":       {func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
		"zero mail timeout":      {func(c *Config) { c.MailTimeout = 0 }, "MAIL_TIMEOUT"},
		"memory needs no path":   {func(c *Config) { c.DBDriver = "memory"; c.DBPath = "" }, ""},
		"postgres with url":      {func(c *Config) { c.DBDriver = "postgres"; c.DatabaseURL = "postgres://x" }, ""},
		"default is valid":       {func(*Config) {}, ""},
		"smtp with default from": {func(c *Config) { c.SMTPHost = "smtp.x.com:465" }, ""},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			tc.mutate(&c)
			err := c.Validate()
			if tc.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	c := Default()
	c.Port = 0
	c.ResetTTL = 0

	err := c.Validate()
	require.Error(t, err)
	for _, want := range []string{"PORT", "RESET_TTL", "JWT_SECRET"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	c := Default()
	c.LogFormat = "json"
	c.LogLevel = "warn"

	logger := c.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.HasPrefix(out, "{"), "want JSON, got %q", out)
}
