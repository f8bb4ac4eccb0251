// config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

// HarvestConfig tunes the harvesting pipeline itself.
type HarvestConfig struct {
	FetchTimeoutStr        string `yaml:"fetch_timeout"`
	FreshnessThresholdStr  string `yaml:"freshness_threshold"`
	IntervalStr            string `yaml:"interval"`
	Concurrency            int    `yaml:"concurrency"`
	MaxRowErrorsPerCommune int    `yaml:"max_row_errors_per_commune"`

	FetchTimeout       time.Duration `yaml:"-"`
	FreshnessThreshold time.Duration `yaml:"-"`
	Interval           time.Duration `yaml:"-"`
}

type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// CatalogConfig points at the HTML page listing published BAL sources.
type CatalogConfig struct {
	URL      string `yaml:"url"`
	Selector string `yaml:"selector"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Harvest  HarvestConfig  `yaml:"harvest"`
	Export   ExportConfig   `yaml:"export"`
	Catalog  CatalogConfig  `yaml:"catalog"`
}

var AppConfig Config

// LoadConfig reads the yaml config file, overlays a .env file if one is
// present, and applies environment overrides for deployment secrets.
// Durations are parsed once here so callers never deal with strings.
func LoadConfig(configPath string) error {
	// .env is optional; ignore a missing file but not a malformed one.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env file: %w", err)
	}

	file, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(file, &AppConfig); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&AppConfig)

	if err := parseDurations(&AppConfig.Harvest); err != nil {
		return err
	}
	if AppConfig.Harvest.Concurrency <= 0 {
		AppConfig.Harvest.Concurrency = 8
	}
	if AppConfig.Harvest.MaxRowErrorsPerCommune <= 0 {
		AppConfig.Harvest.MaxRowErrorsPerCommune = 10
	}
	if AppConfig.Export.Dir == "" {
		AppConfig.Export.Dir = "exports"
	}
	if AppConfig.Server.Port == "" {
		AppConfig.Server.Port = "8080"
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MOISSONNEUR_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("MOISSONNEUR_DB_PORT"); v != "" {
		cfg.Database.Port = v
	}
	if v := os.Getenv("MOISSONNEUR_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("MOISSONNEUR_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("MOISSONNEUR_DB_NAME"); v != "" {
		cfg.Database.DBName = v
	}
	if v := os.Getenv("MOISSONNEUR_PORT"); v != "" {
		cfg.Server.Port = v
	}
}

func parseDurations(h *HarvestConfig) error {
	var err error

	h.FetchTimeout = 5 * time.Minute
	if h.FetchTimeoutStr != "" {
		if h.FetchTimeout, err = time.ParseDuration(h.FetchTimeoutStr); err != nil {
			return fmt.Errorf("failed to parse fetch_timeout: %w", err)
		}
	}

	h.FreshnessThreshold = 24 * time.Hour
	if h.FreshnessThresholdStr != "" {
		if h.FreshnessThreshold, err = time.ParseDuration(h.FreshnessThresholdStr); err != nil {
			return fmt.Errorf("failed to parse freshness_threshold: %w", err)
		}
	}

	h.Interval = time.Hour
	if h.IntervalStr != "" {
		if h.Interval, err = time.ParseDuration(h.IntervalStr); err != nil {
			return fmt.Errorf("failed to parse interval: %w", err)
		}
	}

	return nil
}
