package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. MCP_STUDIO_API_PORT.
const EnvPrefix = "MCP_STUDIO"

// Config root configuration
type Config struct {
	API     APIConfig     `mapstructure:"api" json:"api"`
	Store   StoreConfig   `mapstructure:"store" json:"store"`
	Manager ManagerConfig `mapstructure:"manager" json:"manager"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing"`
}

// APIConfig HTTP control surface settings
type APIConfig struct {
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" json:"allowed_origins"`
	// MCPGateway mounts the aggregated MCP endpoint at /mcp.
	MCPGateway bool `mapstructure:"mcp_gateway" json:"mcp_gateway"`
}

// StoreConfig server configuration persistence
type StoreConfig struct {
	Path string `mapstructure:"path" json:"path"`
}

// ManagerConfig connection manager settings
type ManagerConfig struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" json:"connect_timeout"`
	CloseTimeout   time.Duration `mapstructure:"close_timeout" json:"close_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout" json:"call_timeout"`
	AutoConnect    bool          `mapstructure:"auto_connect" json:"auto_connect"`
	LogJSONRPC     bool          `mapstructure:"log_jsonrpc" json:"log_jsonrpc"`
	ClientName     string        `mapstructure:"client_name" json:"client_name"`
}

// LogConfig logging settings
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// TracingConfig OpenTelemetry settings
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
}

// Addr returns the API listen address.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           7410,
			AllowedOrigins: []string{},
			MCPGateway:     true,
		},
		Store: StoreConfig{
			Path: filepath.Join(ConfigDir(), "servers.json"),
		},
		Manager: ManagerConfig{
			ConnectTimeout: 30 * time.Second,
			CloseTimeout:   10 * time.Second,
			CallTimeout:    60 * time.Second,
			ClientName:     "mcp-studio",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the mcp-studio config directory
func ConfigDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return filepath.Join(homeDir, ".mcp-studio")
}

// ConfigPath returns the default config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load reads the config file at path (ConfigPath when empty), applies
// MCP_STUDIO_* environment overrides and validates the result. A missing
// file is not an error: defaults and environment are used.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = ConfigPath()
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("stat config %s: %w", path, err)
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys that
// are absent from the file.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.allowed_origins", cfg.API.AllowedOrigins)
	v.SetDefault("api.mcp_gateway", cfg.API.MCPGateway)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("manager.connect_timeout", cfg.Manager.ConnectTimeout)
	v.SetDefault("manager.close_timeout", cfg.Manager.CloseTimeout)
	v.SetDefault("manager.call_timeout", cfg.Manager.CallTimeout)
	v.SetDefault("manager.auto_connect", cfg.Manager.AutoConnect)
	v.SetDefault("manager.log_jsonrpc", cfg.Manager.LogJSONRPC)
	v.SetDefault("manager.client_name", cfg.Manager.ClientName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save writes cfg to path (ConfigPath when empty).
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be between 1 and 65535, got %d", c.API.Port)
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	m := &c.Manager
	for name, d := range map[string]time.Duration{
		"connect_timeout": m.ConnectTimeout,
		"close_timeout":   m.CloseTimeout,
		"call_timeout":    m.CallTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("manager.%s must not be negative, got %s", name, d)
		}
	}
	if strings.TrimSpace(m.ClientName) == "" {
		m.ClientName = "mcp-studio"
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	format := strings.ToLower(strings.TrimSpace(c.Log.Format))
	switch format {
	case "":
		c.Log.Format = "text"
	case "text", "json":
		c.Log.Format = format
	default:
		return fmt.Errorf("log.format must be text or json; got %q", c.Log.Format)
	}
	return nil
}
