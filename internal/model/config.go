package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ServerConfig holds the connection settings for the Archo backend.
type ServerConfig struct {
	// BaseURL is the root URL of the notification API
	// (e.g., https://api.archo.example.com).
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// PollIntervalSec is how often (in seconds) the unread-count
	// reconciliation poll runs while the client is started.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// PageSize is how many notifications a full reload requests.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// DisplayConfig holds UI/rendering preferences.
type DisplayConfig struct {
	Theme string `mapstructure:"theme" yaml:"theme"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Display DisplayConfig `mapstructure:"display" yaml:"display"`

	// CachePath is the SQLite file holding the offline notification cache.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	// LogFile receives structured logs; the terminal itself belongs to the UI.
	LogFile string `mapstructure:"log_file" yaml:"log_file"`
}

// configDir returns the directory holding all archo-notify state.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "archo-notify")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/archo-notify/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			BaseURL:         "https://api.archo.example.com",
			PollIntervalSec: 60,
			PageSize:        50,
		},
		Display: DisplayConfig{
			Theme: "default",
		},
		CachePath: filepath.Join(configDir(), "notifications.db"),
		LogFile:   filepath.Join(configDir(), "archo-notify.log"),
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("server.base_url", "https://api.archo.example.com")
	v.SetDefault("server.poll_interval_sec", 60)
	v.SetDefault("server.page_size", 50)
	v.SetDefault("display.theme", "default")
	v.SetDefault("cache_path", filepath.Join(configDir(), "notifications.db"))
	v.SetDefault("log_file", filepath.Join(configDir(), "archo-notify.log"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Server.PollIntervalSec <= 0 {
		cfg.Server.PollIntervalSec = 60
	}
	if cfg.Server.PageSize <= 0 {
		cfg.Server.PageSize = 50
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("display", cfg.Display)
	v.Set("cache_path", cfg.CachePath)
	v.Set("log_file", cfg.LogFile)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
