package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RCONConfig holds remote console settings
type RCONConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

// IsConfigured reports whether the remote console can be used
func (c RCONConfig) IsConfigured() bool {
	return c.Host != "" && c.Password != ""
}

// SFTPConfig holds remote file transfer settings
type SFTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	HostKeyFingerprint string `yaml:"host_key_fingerprint"`
}

// IsConfigured reports whether remote file transfer can be used
func (c SFTPConfig) IsConfigured() bool {
	return c.Host != "" && c.Username != ""
}

// PanelConfig holds management API settings
type PanelConfig struct {
	URL      string `yaml:"url"`
	APIKey   string `yaml:"api_key"`
	ServerID string `yaml:"server_id"`
}

// IsConfigured reports whether the management API can be used
func (c PanelConfig) IsConfigured() bool {
	return c.URL != "" && c.APIKey != "" && c.ServerID != ""
}

// DiscordConfig holds chat platform settings
type DiscordConfig struct {
	Token      string `yaml:"token"`
	ChannelID  string `yaml:"channel_id"`
	WebhookURL string `yaml:"webhook_url"`
	UseWebhook bool   `yaml:"use_webhook"`
}

// IsConfigured reports whether the chat sink can be used
func (c DiscordConfig) IsConfigured() bool {
	if c.Token == "" {
		return false
	}
	if c.UseWebhook {
		return c.WebhookURL != ""
	}
	return c.ChannelID != ""
}

// ClickHouseConfig holds chat archive settings
type ClickHouseConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	DB   string `yaml:"db"`
}

// IsConfigured reports whether the chat archive is enabled
func (c ClickHouseConfig) IsConfigured() bool {
	return c.Host != ""
}

// Config holds all configuration for the application
type Config struct {
	// Persisted state and scratch files
	StateDBPath string `yaml:"state_db_path"`
	ScratchDir  string `yaml:"scratch_dir"`

	// Remote endpoints
	RCON       RCONConfig       `yaml:"rcon"`
	SFTP       SFTPConfig       `yaml:"sftp"`
	Panel      PanelConfig      `yaml:"panel"`
	Discord    DiscordConfig    `yaml:"discord"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`

	// Log tail bridge
	ChatEnabled    bool          `yaml:"chat_enabled"`
	RemoteLogPath  string        `yaml:"remote_log_path"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ChannelMapPath string        `yaml:"channel_map_path"`

	// Update orchestrator
	UpdaterEnabled   bool          `yaml:"updater_enabled"`
	ManifestURL      string        `yaml:"manifest_url"`
	RemoteBinaryPath string        `yaml:"remote_binary_path"`
	UpdateInterval   time.Duration `yaml:"update_interval"`
	StopTimeout      time.Duration `yaml:"stop_timeout"`
	UpdateAnnounce   bool          `yaml:"update_announce"`

	// Admin HTTP endpoints (port 0 disables)
	AdminHost  string `yaml:"admin_host"`
	AdminPort  int    `yaml:"admin_port"`
	AdminToken string `yaml:"admin_token"`

	// Observability
	LogLevel        string `yaml:"log_level"`
	LogFile         string `yaml:"log_file"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingProtocol string `yaml:"tracing_protocol"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		StateDBPath: "data/state.db",
		ScratchDir:  os.TempDir(),

		RCON:       RCONConfig{Port: 25575},
		SFTP:       SFTPConfig{Port: 22},
		ClickHouse: ClickHouseConfig{Port: 9000, DB: "chat"},

		ChatEnabled:   true,
		RemoteLogPath: "logs/latest.log",
		PollInterval:  time.Second,

		UpdaterEnabled:   false,
		ManifestURL:      "https://launchermeta.mojang.com/mc/game/version_manifest.json",
		RemoteBinaryPath: "server.jar",
		UpdateInterval:   time.Hour,
		StopTimeout:      time.Minute,
		UpdateAnnounce:   true,

		AdminHost: "127.0.0.1",
		AdminPort: 8080,

		LogLevel:        "info",
		TracingProtocol: "grpc",
	}
}

// Load loads configuration: defaults, then the YAML file named by
// BRIDGE_CONFIG_FILE (if any), then environment variables
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("BRIDGE_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.StateDBPath = getEnv("STATE_DB_PATH", c.StateDBPath)
	c.ScratchDir = getEnv("SCRATCH_DIR", c.ScratchDir)

	c.RCON.Host = getEnv("RCON_HOST", c.RCON.Host)
	c.RCON.Port = getEnvInt("RCON_PORT", c.RCON.Port)
	c.RCON.Password = getEnv("RCON_PASSWORD", c.RCON.Password)

	c.SFTP.Host = getEnv("SFTP_HOST", c.SFTP.Host)
	c.SFTP.Port = getEnvInt("SFTP_PORT", c.SFTP.Port)
	c.SFTP.Username = getEnv("SFTP_USERNAME", c.SFTP.Username)
	c.SFTP.Password = getEnv("SFTP_PASSWORD", c.SFTP.Password)
	c.SFTP.HostKeyFingerprint = getEnv("SFTP_HOST_KEY_FINGERPRINT", c.SFTP.HostKeyFingerprint)

	c.Panel.URL = getEnv("PANEL_URL", c.Panel.URL)
	c.Panel.APIKey = getEnv("PANEL_API_KEY", c.Panel.APIKey)
	c.Panel.ServerID = getEnv("PANEL_SERVER_ID", c.Panel.ServerID)

	c.Discord.Token = getEnv("DISCORD_TOKEN", c.Discord.Token)
	c.Discord.ChannelID = getEnv("DISCORD_CHANNEL_ID", c.Discord.ChannelID)
	c.Discord.WebhookURL = getEnv("DISCORD_WEBHOOK_URL", c.Discord.WebhookURL)
	c.Discord.UseWebhook = getEnvBool("DISCORD_USE_WEBHOOK", c.Discord.UseWebhook)

	c.ClickHouse.Host = getEnv("CLICKHOUSE_HOST", c.ClickHouse.Host)
	c.ClickHouse.Port = getEnvInt("CLICKHOUSE_PORT", c.ClickHouse.Port)
	c.ClickHouse.DB = getEnv("CLICKHOUSE_DB", c.ClickHouse.DB)

	c.ChatEnabled = getEnvBool("CHAT_ENABLED", c.ChatEnabled)
	c.RemoteLogPath = getEnv("REMOTE_LOG_PATH", c.RemoteLogPath)
	c.PollInterval = getEnvDuration("POLL_INTERVAL", c.PollInterval)
	c.ChannelMapPath = getEnv("CHANNEL_MAP_PATH", c.ChannelMapPath)

	c.UpdaterEnabled = getEnvBool("UPDATER_ENABLED", c.UpdaterEnabled)
	c.ManifestURL = getEnv("MANIFEST_URL", c.ManifestURL)
	c.RemoteBinaryPath = getEnv("REMOTE_BINARY_PATH", c.RemoteBinaryPath)
	c.UpdateInterval = getEnvDuration("UPDATE_INTERVAL", c.UpdateInterval)
	c.StopTimeout = getEnvDuration("STOP_TIMEOUT", c.StopTimeout)
	c.UpdateAnnounce = getEnvBool("UPDATE_ANNOUNCE", c.UpdateAnnounce)

	c.AdminHost = getEnv("ADMIN_HOST", c.AdminHost)
	c.AdminPort = getEnvInt("ADMIN_PORT", c.AdminPort)
	c.AdminToken = getEnv("ADMIN_TOKEN", c.AdminToken)

	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("LOG_FILE", c.LogFile)
	c.TracingEnabled = getEnvBool("TRACING_ENABLED", c.TracingEnabled)
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingProtocol = getEnv("TRACING_PROTOCOL", c.TracingProtocol)
}

// Validate checks if the configuration is valid.
// Missing remote endpoints are not errors: the affected task is skipped at runtime.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.StateDBPath) == "" {
		return fmt.Errorf("STATE_DB_PATH is required")
	}
	if c.RemoteLogPath == "" {
		return fmt.Errorf("REMOTE_LOG_PATH is required")
	}
	if c.RemoteBinaryPath == "" {
		return fmt.Errorf("REMOTE_BINARY_PATH is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("UPDATE_INTERVAL must be positive")
	}
	if c.StopTimeout < 0 {
		return fmt.Errorf("STOP_TIMEOUT must not be negative")
	}

	ports := map[string]int{
		"RCON_PORT":       c.RCON.Port,
		"SFTP_PORT":       c.SFTP.Port,
		"CLICKHOUSE_PORT": c.ClickHouse.Port,
		"ADMIN_PORT":      c.AdminPort,
	}
	for name, port := range ports {
		if port < 0 || port > 65535 {
			return fmt.Errorf("%s must be between 0 and 65535", name)
		}
	}

	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable (e.g. "500ms", "1h") or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
