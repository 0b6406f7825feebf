package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 720*time.Hour, cfg.TokenTTL)
	assert.Equal(t, time.Minute, cfg.PunishmentSweepInterval)
	assert.Equal(t, "0 4 * * *", cfg.HistoryCleanupCron)
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_DRIVER", " Postgres ")
	t.Setenv("DATABASE_URL", "postgres://agora@localhost/agora")
	t.Setenv("TOKEN_TTL", "2h")
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("ARCHIVE_BUCKET", "ledger")
	t.Setenv("APP_TIMEZONE", "UTC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 2*time.Hour, cfg.TokenTTL)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.ArchiveEnabled())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestValidate(t *testing.T) {
	base := AppConfig{
		DBDriver:                "sqlite",
		DatabasePath:            "agora.db",
		TokenTTL:                time.Hour,
		PunishmentSweepInterval: time.Minute,
		BatchItemTimeout:        time.Second,
		AppTimezone:             "Local",
	}
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(c *AppConfig)
	}{
		{name: "postgres without url", mutate: func(c *AppConfig) { c.DBDriver = "postgres" }},
		{name: "unknown driver", mutate: func(c *AppConfig) { c.DBDriver = "mysql" }},
		{name: "zero token ttl", mutate: func(c *AppConfig) { c.TokenTTL = 0 }},
		{name: "zero sweep interval", mutate: func(c *AppConfig) { c.PunishmentSweepInterval = 0 }},
		{name: "negative retention", mutate: func(c *AppConfig) { c.HistoryRetentionDays = -1 }},
		{name: "bad timezone", mutate: func(c *AppConfig) { c.AppTimezone = "Mars/Olympus" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
