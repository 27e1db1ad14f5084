// Package config loads the engine's configuration from environment
// variables with the MEMENGINE_ prefix and sensible defaults. User settings
// (e.g. user_name) persist in the settings table; LoadConfigFromDB reads
// them, falling back to the environment, and SaveConfig writes them back.
package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every configuration section the engine reads at startup.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Embedding  EmbeddingConfig
	Security   SecurityConfig
	Federation FederationConfig
	Cloud      CloudConfig
	Features   FeaturesConfig
	User       UserConfig
}

// ServerConfig is the HTTP/SSE surface.
type ServerConfig struct {
	Host            string // Server host (default: 127.0.0.1)
	Port            int    // Server port (default: 6363)
	CORSOrigins     []string
	SSEHeartbeatSec int // /api/events heartbeat interval (default: 30)
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend      string // "embedded", "cloud", or "federated"
	EmbeddedPath string
	Pragmas      []string // extra sqlite pragmas layered over the defaults
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider  string // "local" or "remote"
	Model     string
	RemoteURL string
	CacheSize int
	Dimension int
}

// SecurityConfig is bearer-token auth for the HTTP surface.
type SecurityConfig struct {
	Mode     string // "development" or "production"
	APIToken string
}

// FederationConfig points an http_client-mode process at a coordinator.
type FederationConfig struct {
	Endpoint string
	APIKey   string

	// Peers is an optional list of known coordinator endpoints, read from
	// the YAML overlay file (MEMENGINE_CONFIG_FILE) rather than the
	// environment since a peer list doesn't fit one env var cleanly. Not
	// used for mode selection itself (Endpoint is); callers that want to
	// try several candidates before falling back to ModeDirect can range
	// over it.
	Peers []string
}

// CloudConfig configures the Postgres+pgvector backend. Large-object
// spill is a cloud-only concern per the Open Questions decision in
// DESIGN.md — the embedded backend always keeps content inline.
type CloudConfig struct {
	DSN                    string
	EmbeddingModel         string
	LargeObjectDir         string // sidecar directory standing in for an object store
	LargeContentThresholdB int
	MaxRetries             int
	BaseDelaySeconds       float64
}

// FeaturesConfig are top-level feature toggles.
type FeaturesConfig struct {
	EnableWebUI            bool
	EnableMCP              bool
	EnableHTTP             bool
	HostnameTaggingEnabled bool
}

// UserConfig holds settings that persist in the database rather than only
// in the environment.
type UserConfig struct {
	// UserName is the display name recorded alongside hostname tagging.
	// Env var: MEMENGINE_USER_NAME. Database key: user_name.
	UserName string
}

// LoadConfig builds a Config from environment variables and defaults, then
// layers on an optional YAML overlay file if MEMENGINE_CONFIG_FILE is set.
// The overlay carries the handful of settings that don't fit one env var
// cleanly: extra sqlite pragmas and the federation coordinator's known peer
// list.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()

	path := os.Getenv("MEMENGINE_CONFIG_FILE")
	if path == "" {
		return cfg, nil
	}

	overlay, err := loadYAMLOverlay(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	if len(overlay.Pragmas) > 0 {
		cfg.Storage.Pragmas = append(append([]string{}, cfg.Storage.Pragmas...), overlay.Pragmas...)
	}
	if len(overlay.Peers) > 0 {
		cfg.Federation.Peers = overlay.Peers
	}

	return cfg, nil
}

// yamlOverlay is the shape of the optional MEMENGINE_CONFIG_FILE document.
type yamlOverlay struct {
	Pragmas []string `yaml:"pragmas"`
	Peers   []string `yaml:"peers"`
}

func loadYAMLOverlay(path string) (*yamlOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return nil, err
	}
	return &overlay, nil
}

// LoadConfigFromDB builds a Config from environment variables and defaults,
// then overlays any persisted user settings found in db's settings table.
// Database values take precedence over the environment for those fields.
//
// Returns an error if db is nil.
func LoadConfigFromDB(db *sql.DB) (*Config, error) {
	if db == nil {
		return nil, errors.New("config: database connection is required")
	}

	cfg := buildBaseConfig()

	userName, err := getSetting(db, "user_name")
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("config: failed to load user_name from database: %w", err)
	}
	if userName != "" {
		cfg.User.UserName = userName
	}

	return cfg, nil
}

// SaveConfig persists user settings to db's settings table using upsert
// semantics so they survive restarts.
//
// Returns an error if db is nil.
func (c *Config) SaveConfig(db *sql.DB) error {
	if db == nil {
		return errors.New("config: database connection is required")
	}
	if err := setSetting(db, "user_name", c.User.UserName); err != nil {
		return fmt.Errorf("config: failed to save user_name: %w", err)
	}
	return nil
}

func getSetting(db *sql.DB, key string) (string, error) {
	var value string
	err := db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func setSetting(db *sql.DB, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO settings (key, value)
		VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// buildBaseConfig constructs a Config with values from environment
// variables and defaults. Shared base for LoadConfig and LoadConfigFromDB.
func buildBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            getEnv("MEMENGINE_HOST", "127.0.0.1"),
			Port:            getEnvInt("MEMENGINE_PORT", 6363),
			CORSOrigins:     getEnvList("MEMENGINE_CORS_ORIGINS", nil),
			SSEHeartbeatSec: getEnvInt("MEMENGINE_SSE_HEARTBEAT_S", 30),
		},
		Storage: StorageConfig{
			Backend:      getEnv("MEMENGINE_STORAGE_BACKEND", "embedded"),
			EmbeddedPath: getEnv("MEMENGINE_EMBEDDED_PATH", "./data/memengine.db"),
			Pragmas:      getEnvList("MEMENGINE_EMBEDDED_PRAGMAS", nil),
		},
		Embedding: EmbeddingConfig{
			Provider:  getEnv("MEMENGINE_EMBEDDING_PROVIDER", "local"),
			Model:     getEnv("MEMENGINE_EMBEDDING_MODEL", "local-hash-384"),
			RemoteURL: getEnv("MEMENGINE_EMBEDDING_URL", "http://localhost:11434"),
			CacheSize: getEnvInt("MEMENGINE_EMBEDDING_CACHE_SIZE", 1024),
			Dimension: getEnvInt("MEMENGINE_EMBEDDING_DIMENSION", 384),
		},
		Security: SecurityConfig{
			Mode:     getEnv("MEMENGINE_SECURITY_MODE", "development"),
			APIToken: getEnv("MEMENGINE_API_TOKEN", ""),
		},
		Federation: FederationConfig{
			Endpoint: getEnv("MEMENGINE_FEDERATED_ENDPOINT", ""),
			APIKey:   getEnv("MEMENGINE_FEDERATED_API_KEY", ""),
		},
		Cloud: CloudConfig{
			DSN:                    getEnv("MEMENGINE_CLOUD_DSN", ""),
			EmbeddingModel:         getEnv("MEMENGINE_CLOUD_EMBEDDING_MODEL", ""),
			LargeObjectDir:         getEnv("MEMENGINE_CLOUD_LARGE_OBJECT_DIR", "./data/cloud-large"),
			LargeContentThresholdB: getEnvInt("MEMENGINE_CLOUD_LARGE_CONTENT_THRESHOLD_BYTES", 1_048_576),
			MaxRetries:             getEnvInt("MEMENGINE_CLOUD_MAX_RETRIES", 3),
			BaseDelaySeconds:       getEnvFloat("MEMENGINE_CLOUD_BASE_DELAY_S", 1.0),
		},
		Features: FeaturesConfig{
			EnableWebUI:            getEnvBool("MEMENGINE_ENABLE_WEB_UI", true),
			EnableMCP:              getEnvBool("MEMENGINE_ENABLE_MCP", true),
			EnableHTTP:             getEnvBool("MEMENGINE_ENABLE_HTTP", true),
			HostnameTaggingEnabled: getEnvBool("MEMENGINE_HOSTNAME_TAGGING_ENABLED", true),
		},
		User: UserConfig{
			UserName: getEnv("MEMENGINE_USER_NAME", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
