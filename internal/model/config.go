package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AccountConfig holds the identity of the local account.
type AccountConfig struct {
	// Addr is the configured email address used in Autocrypt headers
	// and QR codes.
	Addr string `mapstructure:"addr" yaml:"addr"`

	// DisplayName is offered to peers in verify-contact QR codes.
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`
}

// ServerConfig holds connection settings for an IMAP or SMTP server.
// Passwords are kept in the system keyring, never in the file.
type ServerConfig struct {
	Host     string `mapstructure:"host" yaml:"host"`
	Port     string `mapstructure:"port" yaml:"port"`
	Username string `mapstructure:"username" yaml:"username"`
	TLS      bool   `mapstructure:"tls" yaml:"tls"`
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// SecurejoinConfig tunes the verification handshake.
type SecurejoinConfig struct {
	// TokenHistory is the number of invite numbers and auth secrets
	// remembered per namespace; older ones are evicted.
	TokenHistory int `mapstructure:"token_history" yaml:"token_history"`

	// JoinTimeoutSec bounds a join operation; 0 waits until cancelled.
	JoinTimeoutSec int `mapstructure:"join_timeout_sec" yaml:"join_timeout_sec"`
}

// SyncConfig controls the background mailbox poller.
type SyncConfig struct {
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Account    AccountConfig    `mapstructure:"account" yaml:"account"`
	IMAP       ServerConfig     `mapstructure:"imap" yaml:"imap"`
	SMTP       ServerConfig     `mapstructure:"smtp" yaml:"smtp"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Securejoin SecurejoinConfig `mapstructure:"securejoin" yaml:"securejoin"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// Default values shared by LoadConfig and defaultAppConfig.
const (
	DefaultTokenHistory    = 16
	DefaultPollIntervalSec = 60
)

// DefaultConfigDir returns ~/.config/peertrust, or the working directory
// if the home directory cannot be determined.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "peertrust")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		IMAP: ServerConfig{Port: "993", TLS: true},
		SMTP: ServerConfig{Port: "465", TLS: true},
		Storage: StorageConfig{
			DBPath: filepath.Join(DefaultConfigDir(), "peertrust.db"),
		},
		Securejoin: SecurejoinConfig{
			TokenHistory: DefaultTokenHistory,
		},
		Sync: SyncConfig{
			PollIntervalSec: DefaultPollIntervalSec,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	def := defaultAppConfig()
	v.SetDefault("imap.port", def.IMAP.Port)
	v.SetDefault("imap.tls", def.IMAP.TLS)
	v.SetDefault("smtp.port", def.SMTP.Port)
	v.SetDefault("smtp.tls", def.SMTP.TLS)
	v.SetDefault("storage.db_path", def.Storage.DBPath)
	v.SetDefault("securejoin.token_history", DefaultTokenHistory)
	v.SetDefault("sync.poll_interval_sec", DefaultPollIntervalSec)
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("PEERTRUST")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return def, nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return def, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Securejoin.TokenHistory <= 0 {
		cfg.Securejoin.TokenHistory = DefaultTokenHistory
	}
	if cfg.Sync.PollIntervalSec <= 0 {
		cfg.Sync.PollIntervalSec = DefaultPollIntervalSec
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("account", cfg.Account)
	v.Set("imap", cfg.IMAP)
	v.Set("smtp", cfg.SMTP)
	v.Set("storage", cfg.Storage)
	v.Set("securejoin", cfg.Securejoin)
	v.Set("sync", cfg.Sync)
	v.Set("log", cfg.Log)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
