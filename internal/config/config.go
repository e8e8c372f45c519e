// Package config provides configuration loading for the gateway host.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the gateway host.
type Config struct {
	// Server settings
	Port           int
	Host           string
	AllowedOrigins []string

	// Storage
	DatabasePath string

	// Identity provider
	IdentityURL     string
	IdentityTimeout time.Duration

	// Session settings
	SessionTTL             time.Duration
	SessionCleanupInterval time.Duration
	CookieName             string
	CookieSecure           bool
	LoginRatePerMinute     int

	// Gateway process settings
	GatewayPort             int
	GatewayProgram          string
	GatewayConfigFile       string
	GatewayEnvFile          string
	GatewayWorkspaceDir     string
	GatewayBinaryCandidates []string
	GatewayInstallScript    string
	GatewayInstallTimeout   time.Duration
	GatewayReadyTimeout     time.Duration
	GatewayPollInterval     time.Duration
	GatewayRecoveryWait     time.Duration
	SupervisorCommand       string

	// Managed provider
	ManagedAPIKey  string
	ManagedBaseURL string

	// Proxy and relay
	ProxyTimeout      time.Duration
	WSReadBufferSize  int
	WSWriteBufferSize int

	// Health watcher
	WatcherInterval   time.Duration
	WhatsAppCredsFile string

	// HTTP server timeouts
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// Load reads a .env file when present and then configuration from the
// environment. Unset keys take their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/root"
	}
	stateDir := filepath.Join(home, ".clawdbot")

	cfg := &Config{
		Port:           getEnvInt("PORT", 8001),
		Host:           getEnv("HOST", "0.0.0.0"),
		AllowedOrigins: getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"}),

		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(home, ".gateway-host", "state.db")),

		IdentityURL:     getEnv("IDENTITY_URL", ""),
		IdentityTimeout: getEnvDuration("IDENTITY_TIMEOUT", 30*time.Second),

		SessionTTL:             getEnvDuration("SESSION_TTL", 7*24*time.Hour),
		SessionCleanupInterval: getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour),
		CookieName:             getEnv("COOKIE_NAME", "session_token"),
		CookieSecure:           getEnvBool("COOKIE_SECURE", true),
		LoginRatePerMinute:     getEnvInt("LOGIN_RATE_PER_MINUTE", 20),

		GatewayPort:       getEnvInt("GATEWAY_PORT", 18789),
		GatewayProgram:    getEnv("GATEWAY_PROGRAM", "clawdbot-gateway"),
		GatewayConfigFile: getEnv("GATEWAY_CONFIG_FILE", filepath.Join(stateDir, "clawdbot.json")),
		GatewayEnvFile:    getEnv("GATEWAY_ENV_FILE", filepath.Join(stateDir, "gateway.env")),
		GatewayWorkspaceDir: getEnv("GATEWAY_WORKSPACE_DIR",
			filepath.Join(home, "clawd")),
		GatewayBinaryCandidates: getEnvStringSlice("GATEWAY_BINARY_CANDIDATES", []string{
			filepath.Join(home, "run_clawdbot.sh"),
			filepath.Join(home, ".clawdbot-bin", "clawdbot"),
			filepath.Join(home, "nodejs", "bin", "clawdbot"),
		}),
		GatewayInstallScript:  getEnv("GATEWAY_INSTALL_SCRIPT", ""),
		GatewayInstallTimeout: getEnvDuration("GATEWAY_INSTALL_TIMEOUT", 5*time.Minute),
		GatewayReadyTimeout:   getEnvDuration("GATEWAY_READY_TIMEOUT", 60*time.Second),
		GatewayPollInterval:   getEnvDuration("GATEWAY_POLL_INTERVAL", time.Second),
		GatewayRecoveryWait:   getEnvDuration("GATEWAY_RECOVERY_WAIT", 3*time.Second),
		SupervisorCommand:     getEnv("SUPERVISORCTL", "supervisorctl"),

		ManagedAPIKey:  getEnv("MANAGED_API_KEY", ""),
		ManagedBaseURL: getEnv("MANAGED_BASE_URL", ""),

		ProxyTimeout:      getEnvDuration("PROXY_TIMEOUT", 30*time.Second),
		WSReadBufferSize:  getEnvInt("WS_READ_BUFFER_SIZE", 32*1024),
		WSWriteBufferSize: getEnvInt("WS_WRITE_BUFFER_SIZE", 32*1024),

		WatcherInterval: getEnvDuration("WATCHER_INTERVAL", 5*time.Second),
		WhatsAppCredsFile: getEnv("WHATSAPP_CREDS_FILE",
			filepath.Join(stateDir, "credentials", "whatsapp", "default", "creds.json")),

		HTTPReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		HTTPWriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 0),
		HTTPIdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("PORT %d out of range", cfg.Port)
	}
	if cfg.GatewayPort <= 0 || cfg.GatewayPort > 65535 {
		return nil, fmt.Errorf("GATEWAY_PORT %d out of range", cfg.GatewayPort)
	}
	if cfg.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}

	return cfg, nil
}

// RequireServe checks the settings only the HTTP server needs.
func (c *Config) RequireServe() error {
	if c.IdentityURL == "" {
		return fmt.Errorf("IDENTITY_URL is required")
	}
	return nil
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
