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
//	tuning := cfg.Reconciliation.Tuning()
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jmorazan/reconcile-backend/internal/domain/reconcile"
)

// Config represents the entire application configuration
type Config struct {
	Storage        StorageConfig        `yaml:"storage"`
	Server         ServerConfig         `yaml:"server"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	// MaxRetries bounds how often a conflicting settlement transaction
	// is re-run. Zero keeps the built-in default.
	MaxRetries int `yaml:"max_retries"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// ReconciliationConfig tunes the matching engine. Zero values fall back
// to the production defaults, so a config file only needs the knobs it
// actually changes.
type ReconciliationConfig struct {
	DayWindow      int     `yaml:"day_window"`
	MaxCandidates  int     `yaml:"max_candidates"`
	AutoSingle     float64 `yaml:"auto_single_threshold"`
	AutoMulti      float64 `yaml:"auto_multi_threshold"`
	AmountNearBand float64 `yaml:"amount_near_band"`

	Weights WeightsConfig `yaml:"weights"`
}

// WeightsConfig holds the scorer's signal weights
type WeightsConfig struct {
	BankExact          float64 `yaml:"bank_exact"`
	BankPartial        float64 `yaml:"bank_partial"`
	DateNear           float64 `yaml:"date_near"`
	DateFar            float64 `yaml:"date_far"`
	AmountExact        float64 `yaml:"amount_exact"`
	AmountNear         float64 `yaml:"amount_near"`
	AmountHelp         float64 `yaml:"amount_help"`
	VendorMatch        float64 `yaml:"vendor_match"`
	StoreMatch         float64 `yaml:"store_match"`
	ReservationBonus   float64 `yaml:"reservation_bonus"`
	ReservationPenalty float64 `yaml:"reservation_penalty"`
	ExhaustedPenalty   float64 `yaml:"exhausted_penalty"`
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

// Tuning materializes the reconcile configuration, filling every unset
// knob from the production defaults.
func (r ReconciliationConfig) Tuning() reconcile.Config {
	cfg := reconcile.DefaultConfig()

	if r.DayWindow > 0 {
		cfg.DayWindow = r.DayWindow
	}
	if r.MaxCandidates > 0 {
		cfg.MaxCandidates = r.MaxCandidates
	}
	if r.AutoSingle > 0 {
		cfg.AutoSingle = r.AutoSingle
	}
	if r.AutoMulti > 0 {
		cfg.AutoMulti = r.AutoMulti
	}
	if r.AmountNearBand > 0 {
		cfg.AmountNearBand = r.AmountNearBand
	}

	w := &cfg.Weights
	overrideWeight(&w.BankExact, r.Weights.BankExact)
	overrideWeight(&w.BankPartial, r.Weights.BankPartial)
	overrideWeight(&w.DateNear, r.Weights.DateNear)
	overrideWeight(&w.DateFar, r.Weights.DateFar)
	overrideWeight(&w.AmountExact, r.Weights.AmountExact)
	overrideWeight(&w.AmountNear, r.Weights.AmountNear)
	overrideWeight(&w.AmountHelp, r.Weights.AmountHelp)
	overrideWeight(&w.VendorMatch, r.Weights.VendorMatch)
	overrideWeight(&w.StoreMatch, r.Weights.StoreMatch)
	overrideWeight(&w.ReservationBonus, r.Weights.ReservationBonus)
	overrideWeight(&w.ReservationPenalty, r.Weights.ReservationPenalty)
	overrideWeight(&w.ExhaustedPenalty, r.Weights.ExhaustedPenalty)

	return cfg
}

func overrideWeight(dst *float64, val float64) {
	if val > 0 {
		*dst = val
	}
}

// Load reads and parses the config file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECON_DB_PATH})
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
		Storage: StorageConfig{
			DatabasePath: getEnv("RECON_DB_PATH", "reconcile.db"),
			MaxRetries:   getEnvInt("RECON_MAX_RETRIES", 0),
		},
		Server: ServerConfig{
			Port:        getEnvInt("RECON_PORT", 8080),
			CORSOrigins: splitList(os.Getenv("RECON_CORS_ORIGINS")),
		},
		Reconciliation: ReconciliationConfig{
			DayWindow:     getEnvInt("RECON_DAY_WINDOW", 0),
			MaxCandidates: getEnvInt("RECON_MAX_CANDIDATES", 0),
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
	if path == "" {
		path = "config.yaml"
	}
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

func (c *Config) applyDefaults() {
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "reconcile.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Observability.Logging.Level == "" {
		c.Observability.Logging.Level = "info"
	}
	if c.Observability.Logging.Format == "" {
		c.Observability.Logging.Format = "text"
	}
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

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
