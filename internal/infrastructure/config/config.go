// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	Journal       JournalConfig       `yaml:"journal"`
	Entities      []EntityConfig      `yaml:"entities"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig holds the matcher knobs shared by every entity
type MatchingConfig struct {
	// StrictCurrency requires a same-currency counterpart in the tolerant
	// passes; its conversion is booked manually downstream.
	StrictCurrency     string `yaml:"strict_currency"`
	TolerantWindowDays int    `yaml:"tolerant_window_days"`
	StandardWindowDays int    `yaml:"standard_window_days"`
}

// JournalConfig holds the journal splitter knobs
type JournalConfig struct {
	ProofMarker     string `yaml:"proof_marker"`
	ReferencePrefix string `yaml:"reference_prefix"`
	ARAccount       string `yaml:"ar_account"`
	BankAccount     string `yaml:"bank_account"`
}

// EntityConfig describes one subsidiary the engine reconciles for
type EntityConfig struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	BillingEntity string `yaml:"billing_entity"`
	// Tolerant selects the widened stage-2 pass set for this entity.
	Tolerant bool `yaml:"tolerant"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECONCILE_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("RECONCILE_DB_PATH", "reconcile.db"),
		},
		Matching: MatchingConfig{
			StrictCurrency:     getEnv("STRICT_CURRENCY", "AED"),
			TolerantWindowDays: getEnvInt("TOLERANT_WINDOW_DAYS", 5),
			StandardWindowDays: getEnvInt("STANDARD_WINDOW_DAYS", 2),
		},
		Journal: JournalConfig{
			ProofMarker:     getEnv("PROOF_MARKER", "POA"),
			ReferencePrefix: getEnv("REFERENCE_PREFIX", "CPMT"),
			ARAccount:       getEnv("AR_ACCOUNT", "11010 Accounts Receivable : Trade Debtors"),
			BankAccount:     getEnv("BANK_ACCOUNT", "10010 Bank : Current Account"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "text"),
			},
		},
	}
	cfg.applyDefaults()
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconcile.db"
	}
	if c.Matching.StrictCurrency == "" {
		c.Matching.StrictCurrency = "AED"
	}
	if c.Matching.TolerantWindowDays == 0 {
		c.Matching.TolerantWindowDays = 5
	}
	if c.Matching.StandardWindowDays == 0 {
		c.Matching.StandardWindowDays = 2
	}
	if c.Journal.ProofMarker == "" {
		c.Journal.ProofMarker = "POA"
	}
	if c.Journal.ReferencePrefix == "" {
		c.Journal.ReferencePrefix = "CPMT"
	}
	if c.Journal.ARAccount == "" {
		c.Journal.ARAccount = "11010 Accounts Receivable : Trade Debtors"
	}
	if c.Journal.BankAccount == "" {
		c.Journal.BankAccount = "10010 Bank : Current Account"
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
}

// Entity looks up an entity by id.
func (c *Config) Entity(id int64) (EntityConfig, bool) {
	for _, e := range c.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntityConfig{}, false
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}
