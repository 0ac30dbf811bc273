package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server ServerSection `toml:"server"`
	Limits LimitsSection `toml:"limits"`
}

type ServerSection struct {
	TCPPort            int    `toml:"tcp_port"`
	HTTPPort           int    `toml:"http_port"`
	MetricsPort        int    `toml:"metrics_port"`
	AcceptMode         string `toml:"accept_mode"`
	AcceptPollInterval int    `toml:"accept_poll_interval_ms"`
	DatabasePath       string `toml:"database_path"`
	AdminFile          string `toml:"admin_file"`
}

type LimitsSection struct {
	MaxLineLength int `toml:"max_line_length"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: ServerSection{
			TCPPort:            7777,
			HTTPPort:           0, // WebSocket gateway disabled by default
			MetricsPort:        9090,
			AcceptMode:         "block",
			AcceptPollInterval: 250,
			DatabasePath:       "~/.linechat/linechat.db",
			AdminFile:          "~/.linechat/admins.txt",
		},
		Limits: LimitsSection{
			MaxLineLength: 1024,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not found,
// and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	// Expand ~ in path
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return TOMLConfig{}, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// File doesn't exist, create default config
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// If we can't write, just return defaults without error
			// (might be a permissions issue, but we can still run)
			config = applyEnvOverrides(config)
			return config, nil
		}
		config = applyEnvOverrides(config)
		return config, nil
	}

	// Load from file
	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config = applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to the config
// Environment variables follow the pattern: LINECHAT_SECTION_KEY
// Example: LINECHAT_SERVER_TCP_PORT=8888
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	// Server section
	if val := os.Getenv("LINECHAT_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("LINECHAT_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("LINECHAT_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("LINECHAT_SERVER_ACCEPT_MODE"); val != "" {
		config.Server.AcceptMode = val
	}
	if val := os.Getenv("LINECHAT_SERVER_ACCEPT_POLL_INTERVAL_MS"); val != "" {
		if interval, err := strconv.Atoi(val); err == nil {
			config.Server.AcceptPollInterval = interval
		}
	}
	if val := os.Getenv("LINECHAT_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("LINECHAT_SERVER_ADMIN_FILE"); val != "" {
		config.Server.AdminFile = val
	}

	// Limits section
	if val := os.Getenv("LINECHAT_LIMITS_MAX_LINE_LENGTH"); val != "" {
		if limit, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxLineLength = limit
		}
	}

	return config
}

// writeDefaultConfig writes the default config to a file with all options documented
func writeDefaultConfig(path string, config TOMLConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Create file
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	// Build comprehensive config file manually
	// Active settings use defaults, commented settings show available options
	content := `# LineChat Server Configuration
# This file was auto-generated with default values
# Settings below are active - modify them to change server behavior
# Restart the server for changes to take effect
#
# Environment variables can override these settings:
# LINECHAT_SECTION_KEY (e.g., LINECHAT_SERVER_TCP_PORT=8888)

[server]
# Port for TCP connections
tcp_port = 7777

# Port for the public WebSocket gateway (/ws endpoint)
# Set to 0 to disable
http_port = 0

# Port for the internal metrics/health HTTP server
# Set to 0 to disable
metrics_port = 9090

# How the acceptor waits for connections: "block" or "poll"
# Poll mode wakes every accept_poll_interval_ms to check for shutdown
accept_mode = "block"

# Poll interval in milliseconds (only used when accept_mode = "poll")
accept_poll_interval_ms = 250

# Path to SQLite database file
database_path = "~/.linechat/linechat.db"

# Path to the admin credential file
admin_file = "~/.linechat/admins.txt"

[limits]
# Maximum accepted line length in bytes (longer lines disconnect the client)
max_line_length = 1024
`

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// ToServerConfig converts TOMLConfig to ServerConfig
func (c *TOMLConfig) ToServerConfig() ServerConfig {
	cfg := DefaultConfig()

	if c.Server.TCPPort != 0 {
		cfg.TCPPort = c.Server.TCPPort
	}

	if c.Server.HTTPPort != 0 {
		cfg.HTTPPort = c.Server.HTTPPort
	}

	if c.Server.MetricsPort != 0 {
		cfg.MetricsPort = c.Server.MetricsPort
	}

	if strings.TrimSpace(c.Server.AcceptMode) != "" {
		cfg.AcceptMode = c.Server.AcceptMode
	}

	if c.Server.AcceptPollInterval != 0 {
		cfg.AcceptPollInterval = c.Server.AcceptPollInterval
	}

	if c.Limits.MaxLineLength != 0 {
		cfg.MaxLineLength = c.Limits.MaxLineLength
	}

	return cfg
}

// GetDatabasePath returns the database path with ~ expanded
func (c *TOMLConfig) GetDatabasePath() (string, error) {
	return expandHome(c.Server.DatabasePath)
}

// GetAdminFilePath returns the admin file path with ~ expanded
func (c *TOMLConfig) GetAdminFilePath() (string, error) {
	return expandHome(c.Server.AdminFile)
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, path[2:])
	}
	return path, nil
}
