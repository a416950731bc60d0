// Package config holds the server and client configuration structs and
// their environment-variable overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ServerConfig holds syncagent-server configuration.
type ServerConfig struct {
	RESTAddress     string
	QUICAddress     string // empty disables the HTTP/3 listener
	ObservAddress   string
	DataDirectory   string
	ChunkStoreDir   string
	DatabasePath    string
	TokenTTL        time.Duration
	RateLimitRPS    float64
	RateLimitBurst  int
	TrashRetention  time.Duration
}

// DefaultServerConfig returns the server's defaults.
func DefaultServerConfig() *ServerConfig {
	dataDir := envOr("SYNCAGENT_DATA_DIR", "/var/lib/syncagent")
	return &ServerConfig{
		RESTAddress:    envOr("SYNCAGENT_REST_ADDR", "0.0.0.0:8443"),
		QUICAddress:    envOr("SYNCAGENT_QUIC_ADDR", ""),
		ObservAddress:  envOr("SYNCAGENT_OBSERV_ADDR", "127.0.0.1:9090"),
		DataDirectory:  dataDir,
		ChunkStoreDir:  filepath.Join(dataDir, "chunks"),
		DatabasePath:   filepath.Join(dataDir, "syncagent.db"),
		TokenTTL:       envDuration("SYNCAGENT_TOKEN_TTL", time.Hour),
		RateLimitRPS:   envFloat("SYNCAGENT_RATE_LIMIT_RPS", 20),
		RateLimitBurst: envInt("SYNCAGENT_RATE_LIMIT_BURST", 40),
		TrashRetention: envDuration("SYNCAGENT_TRASH_RETENTION", 30*24*time.Hour),
	}
}

// ClientConfig holds syncagent-client configuration.
type ClientConfig struct {
	SyncRoot         string
	ServerURL        string
	KeystorePath     string
	IgnoreFilePath   string
	StateDBPath      string
	AuthToken        string
	DebounceWindow   time.Duration
	ScanInterval     time.Duration
	WorkerCount      int
	ReconnectBackoff time.Duration
	ReconnectMax     time.Duration
}

// DefaultClientConfig returns the client's defaults, rooted at the user's
// home directory the way the teacher daemon roots its keystore.
func DefaultClientConfig() *ClientConfig {
	homeDir, _ := os.UserHomeDir()
	appDir := filepath.Join(homeDir, ".local", "share", "syncagent")

	return &ClientConfig{
		SyncRoot:         envOr("SYNCAGENT_SYNC_ROOT", filepath.Join(homeDir, "SyncAgent")),
		ServerURL:        envOr("SYNCAGENT_SERVER_URL", "https://127.0.0.1:8443"),
		KeystorePath:     envOr("SYNCAGENT_KEYSTORE", filepath.Join(appDir, "keystore.json")),
		IgnoreFilePath:   envOr("SYNCAGENT_IGNORE_FILE", ".syncignore"),
		StateDBPath:      envOr("SYNCAGENT_STATE_DB", filepath.Join(appDir, "state.db")),
		AuthToken:        os.Getenv("SYNCAGENT_AUTH_TOKEN"),
		DebounceWindow:   envDuration("SYNCAGENT_DEBOUNCE", 2*time.Second),
		ScanInterval:     envDuration("SYNCAGENT_SCAN_INTERVAL", 5*time.Minute),
		WorkerCount:      envInt("SYNCAGENT_WORKER_COUNT", 4),
		ReconnectBackoff: envDuration("SYNCAGENT_RECONNECT_BACKOFF", 1*time.Second),
		ReconnectMax:     envDuration("SYNCAGENT_RECONNECT_MAX", 60*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
