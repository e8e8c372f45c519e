package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "")
	t.Setenv("GATEWAY_PORT", "")
	t.Setenv("IDENTITY_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, 18789, cfg.GatewayPort)
	assert.Equal(t, "session_token", cfg.CookieName)
	assert.True(t, cfg.CookieSecure)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 60*time.Second, cfg.GatewayReadyTimeout)
	assert.Equal(t, time.Second, cfg.GatewayPollInterval)
	assert.Equal(t, 5*time.Second, cfg.WatcherInterval)
	assert.Equal(t, 30*time.Second, cfg.ProxyTimeout)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Contains(t, cfg.GatewayConfigFile, ".clawdbot")
	assert.Error(t, cfg.RequireServe())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PORT", "9000")
	t.Setenv("GATEWAY_PORT", "19000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("SESSION_TTL", "1h")
	t.Setenv("COOKIE_SECURE", "false")
	t.Setenv("IDENTITY_URL", "https://id.example/session")
	t.Setenv("GATEWAY_BINARY_CANDIDATES", "/opt/gw,/usr/local/bin/gw")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 19000, cfg.GatewayPort)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.CookieSecure)
	assert.Equal(t, []string{"/opt/gw", "/usr/local/bin/gw"}, cfg.GatewayBinaryCandidates)
	assert.NoError(t, cfg.RequireServe())
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr())
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GATEWAY_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("WATCHER_INTERVAL", "often")
	t.Setenv("LOGIN_RATE_PER_MINUTE", "many")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.WatcherInterval)
	assert.Equal(t, 20, cfg.LoginRatePerMinute)
}
