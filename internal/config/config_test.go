package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "hello")
	assert.Equal(t, "hello", envStr("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", envStr("TEST_STR_MISSING", "fallback"))

	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, envInt("TEST_INT", 0))
	assert.Equal(t, 99, envInt("TEST_INT_MISSING", 99))

	t.Setenv("TEST_INT_BAD", "abc")
	assert.Equal(t, 7, envInt("TEST_INT_BAD", 7))

	t.Setenv("TEST_DUR", "5s")
	assert.Equal(t, 5*time.Second, envDuration("TEST_DUR", 0))
	assert.Equal(t, time.Minute, envDuration("TEST_DUR_MISSING", time.Minute))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiration)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, "agrilink", cfg.ServiceName)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGRILINK_PORT", "9090")
	t.Setenv("AGRILINK_SWEEP_INTERVAL", "15s")
	t.Setenv("AGRILINK_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	bad := cfg
	bad.DatabaseURL = ""
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SweepInterval = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxRequestBodyBytes = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RateLimitPerMinute = -1
	assert.Error(t, bad.Validate())
}
