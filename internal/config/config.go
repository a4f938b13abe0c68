package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alvmarrod/link-weaver/internal/version"
)

// Filter levels, from clickable links only up to page metadata
const (
	FilterLevelClickable = 0
	FilterLevelMedia     = 1
	FilterLevelScripts   = 2
	FilterLevelMetadata  = 3
)

// Report formats accepted by the CLI
const (
	ReportTable = "table"
	ReportCSV   = "csv"
	ReportJSON  = "json"
)

// DefaultExcludedSchemes are schemes that can never be checked over HTTP
var DefaultExcludedSchemes = []string{"data", "geo", "javascript", "mailto", "sms", "tel"}

// Config holds all runtime configuration parameters
type Config struct {
	SeedURL string `json:"seed_url"`

	// Exclusion chain
	FilterLevel            int      `json:"filter_level"`
	ExcludeExternalLinks   bool     `json:"exclude_external_links"`
	ExcludeInternalLinks   bool     `json:"exclude_internal_links"`
	ExcludeLinksToSamePage bool     `json:"exclude_links_to_same_page"`
	ExcludedSchemes        []string `json:"excluded_schemes"`
	ExcludedKeywords       []string `json:"excluded_keywords"`
	HonorRobotExclusions   bool     `json:"honor_robot_exclusions"`

	// Check queue tuning
	MaxSockets        int `json:"max_sockets"`
	MaxSocketsPerHost int `json:"max_sockets_per_host"`
	RateLimitMs       int `json:"rate_limit_ms"`

	// Outcome cache
	DisableCache  bool   `json:"disable_cache"`
	CacheExpiryMs int    `json:"cache_expiry_ms"`
	CacheDBPath   string `json:"cache_db_path"`

	// HTTP checks
	UserAgent        string `json:"user_agent"`
	RequestMethod    string `json:"request_method"`
	RetryHeadCodes   []int  `json:"retry_head_codes"`
	RequestTimeoutMs int    `json:"request_timeout_ms"`
	MaxRedirects     int    `json:"max_redirects"`

	// Site crawl and output
	MaxPages     int    `json:"max_pages"`
	MetricsPath  string `json:"metrics_path"`
	ReportFormat string `json:"report_format"`
	LogLevel     string `json:"log_level"`
}

// LoadConfig reads and validates configuration from a JSON file
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	// Unset filter_level and cache_expiry_ms must be told apart from an explicit 0
	cfg := Config{FilterLevel: -1, CacheExpiryMs: -1}
	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	// Validate configuration
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for library use
func Default() *Config {
	cfg := &Config{FilterLevel: -1, CacheExpiryMs: -1}
	applyDefaults(cfg)
	return cfg
}

// Validate checks a configuration built in code rather than loaded from disk
func (cfg *Config) Validate() error {
	return validate(cfg)
}

// RateLimit is the minimum delay between two requests to the same host
func (cfg *Config) RateLimit() time.Duration {
	return time.Duration(cfg.RateLimitMs) * time.Millisecond
}

// CacheExpiry is the lifetime of a cached check outcome
func (cfg *Config) CacheExpiry() time.Duration {
	return time.Duration(cfg.CacheExpiryMs) * time.Millisecond
}

// RequestTimeout bounds a single check, redirects included
func (cfg *Config) RequestTimeout() time.Duration {
	return time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
}

// applyDefaults sets default values for unspecified fields
func applyDefaults(cfg *Config) {
	if cfg.FilterLevel < 0 {
		cfg.FilterLevel = FilterLevelMedia
	}
	if cfg.ExcludedSchemes == nil {
		cfg.ExcludedSchemes = append([]string(nil), DefaultExcludedSchemes...)
	}
	for i, scheme := range cfg.ExcludedSchemes {
		cfg.ExcludedSchemes[i] = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(scheme)), ":")
	}
	if cfg.MaxSockets == 0 {
		cfg.MaxSockets = 10
	}
	if cfg.MaxSocketsPerHost == 0 {
		cfg.MaxSocketsPerHost = 2
	}
	// 0 is a valid lifetime, outcomes are never reused
	if cfg.CacheExpiryMs == -1 {
		cfg.CacheExpiryMs = 3600000
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "link-weaver/" + version.Version
	}
	if cfg.RequestMethod == "" {
		cfg.RequestMethod = "HEAD"
	}
	cfg.RequestMethod = strings.ToUpper(cfg.RequestMethod)
	if cfg.RetryHeadCodes == nil {
		cfg.RetryHeadCodes = []int{405}
	}
	if cfg.RequestTimeoutMs == 0 {
		cfg.RequestTimeoutMs = 10000
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 100
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "metrics.json"
	}
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = ReportTable
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// validate checks that values are sensible
func validate(cfg *Config) error {
	if cfg.FilterLevel < FilterLevelClickable || cfg.FilterLevel > FilterLevelMetadata {
		return fmt.Errorf("filter_level must be between %d and %d", FilterLevelClickable, FilterLevelMetadata)
	}
	if cfg.MaxSockets < 1 {
		return fmt.Errorf("max_sockets must be >= 1")
	}
	if cfg.MaxSocketsPerHost < 1 {
		return fmt.Errorf("max_sockets_per_host must be >= 1")
	}
	if cfg.RateLimitMs < 0 {
		return fmt.Errorf("rate_limit_ms must be >= 0")
	}
	if cfg.CacheExpiryMs < 0 {
		return fmt.Errorf("cache_expiry_ms must be >= 0")
	}
	if cfg.RequestMethod != "HEAD" && cfg.RequestMethod != "GET" {
		return fmt.Errorf("request_method must be HEAD or GET, got %q", cfg.RequestMethod)
	}
	if cfg.RequestTimeoutMs < 1000 {
		return fmt.Errorf("request_timeout_ms must be >= 1000")
	}
	if cfg.MaxRedirects < 0 {
		return fmt.Errorf("max_redirects must be >= 0")
	}
	if cfg.MaxPages < 1 {
		return fmt.Errorf("max_pages must be >= 1")
	}
	switch cfg.ReportFormat {
	case ReportTable, ReportCSV, ReportJSON:
	default:
		return fmt.Errorf("report_format must be one of table, csv, json")
	}
	return nil
}
