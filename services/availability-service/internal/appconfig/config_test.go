package appconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "postgres://localhost/availability")
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "availability-service", cfg.Service)
	assert.Equal(t, "8087", cfg.Port)
	assert.Equal(t, 8, cfg.OracleConcurrency)
	assert.Equal(t, 2*time.Second, cfg.OracleTimeout)
	assert.Equal(t, 93, cfg.MaxRangeDays)
	assert.Equal(t, 60, cfg.DefaultDuration)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.Equal(t, 168*time.Hour, cfg.OutboxRetention)
	assert.Equal(t, 3, cfg.ConsumerRetries)
}

func TestLoadCollectsErrors(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("JWKS_URL", "")
	t.Setenv("ORACLE_CONCURRENCY", "0")
	t.Setenv("SCHEDULE_TIMEZONE", "Mars/Olympus")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL")
	assert.Contains(t, msg, "JWT_SECRET")
	assert.Contains(t, msg, "ORACLE_CONCURRENCY")
	assert.Contains(t, msg, "SCHEDULE_TIMEZONE")
}
