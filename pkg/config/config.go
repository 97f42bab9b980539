// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < explicit file < env
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/logflow/ccm/pkg/errors"
)

// Config holds all ccm configuration.
type Config struct {
	Version int `yaml:"version"`

	Export    ExportConfig    `yaml:"export"`
	Import    ImportConfig    `yaml:"import"`
	Query     QueryConfig     `yaml:"query"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ExportConfig controls table output.
type ExportConfig struct {
	Format      string `yaml:"format"`      // csv | xlsx | parquet | duckdb
	Compression string `yaml:"compression"` // parquet: snappy | zstd | gzip | none
	OutputDir   string `yaml:"output_dir"`
	Database    string `yaml:"database"` // duckdb file for format duckdb
}

// ImportConfig controls ingestion.
type ImportConfig struct {
	// Strict rejects a load when any relationship would be dropped.
	Strict bool `yaml:"strict"`

	// Format forces the interchange format; empty guesses from the file
	// extension.
	Format string `yaml:"format"`
}

// QueryConfig controls the query engine.
type QueryConfig struct {
	Mode          string        `yaml:"mode"` // class_reference | extended_table
	PlanCacheSize int           `yaml:"plan_cache_size"`
	PlanCacheTTL  time.Duration `yaml:"plan_cache_ttl"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // trace | debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// TelemetryConfig controls the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Endpoint      string  `yaml:"endpoint"`
	ServiceName   string  `yaml:"service_name"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Export: ExportConfig{
			Format:      "csv",
			Compression: "zstd",
			OutputDir:   "ccm-out",
			Database:    "ccm.duckdb",
		},
		Query: QueryConfig{
			Mode:          "class_reference",
			PlanCacheSize: 256,
			PlanCacheTTL:  10 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			Endpoint:      "localhost:4317",
			ServiceName:   "ccm",
			Insecure:      true,
			SamplingRatio: 1.0,
		},
	}
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	var errs errors.MultiError
	check := func(section, field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		errs.Add(errors.Usage("invalid %s.%s %q", section, field, value).WithContext("valid", allowed))
	}
	check("export", "format", c.Export.Format, "csv", "xlsx", "parquet", "duckdb")
	check("export", "compression", c.Export.Compression, "snappy", "zstd", "gzip", "none")
	check("import", "format", c.Import.Format, "", "json", "yaml", "yml")
	check("query", "mode", c.Query.Mode, "class_reference", "extended_table")
	check("log", "format", c.Log.Format, "text", "json")
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs.Add(errors.Usage("invalid log.level %q", c.Log.Level))
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		errs.Add(errors.Usage("telemetry.sampling_ratio must be within [0, 1], got %g", c.Telemetry.SamplingRatio))
	}
	return errs.Combined()
}

// ConfigureLogger applies the log settings to logger.
func (c LogConfig) ConfigureLogger(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		return errors.Usage("invalid log level %q", c.Level)
	}
	logger.SetLevel(level)
	switch c.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded

	search []string
	file   string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSearchPaths replaces the default search path list.
func WithSearchPaths(paths ...string) Option {
	return func(m *Manager) { m.search = paths }
}

// WithFile adds an explicit config file. Unlike search paths it must exist.
func WithFile(path string) Option {
	return func(m *Manager) { m.file = path }
}

// NewManager creates a new configuration manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{config: Default(), search: DefaultSearchPaths()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DefaultSearchPaths returns config file paths in priority order.
func DefaultSearchPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/ccm/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".ccm", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".ccm.yaml"))
	}
	return paths
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := Default()
	var loaded []string

	for _, path := range m.search {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := loadFile(cfg, path); err != nil {
			return err
		}
		loaded = append(loaded, path)
	}
	if m.file != "" {
		if err := loadFile(cfg, m.file); err != nil {
			return err
		}
		loaded = append(loaded, m.file)
	}

	if err := loadEnv(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.config = cfg
	m.paths = loaded
	return nil
}

// loadFile decodes path over cfg. Keys absent from the file keep their
// current values.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeReadFailed, "read config").WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrap(err, errors.CodeInvalidDocument, "parse config").WithContext("path", path)
	}
	return nil
}

// loadEnv loads configuration from CCM_* environment variables.
func loadEnv(cfg *Config) error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("CCM_EXPORT_FORMAT", &cfg.Export.Format)
	str("CCM_COMPRESSION", &cfg.Export.Compression)
	str("CCM_OUTPUT_DIR", &cfg.Export.OutputDir)
	str("CCM_DATABASE", &cfg.Export.Database)
	str("CCM_IMPORT_FORMAT", &cfg.Import.Format)
	str("CCM_QUERY_MODE", &cfg.Query.Mode)
	str("CCM_LOG_LEVEL", &cfg.Log.Level)
	str("CCM_LOG_FORMAT", &cfg.Log.Format)
	str("CCM_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("CCM_SERVICE_NAME", &cfg.Telemetry.ServiceName)

	var errs errors.MultiError
	parse := func(key string, fn func(string) error) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return
		}
		if err := fn(strings.TrimSpace(v)); err != nil {
			errs.Add(errors.Usage("invalid %s=%q", key, v).WithContext("cause", err.Error()))
		}
	}
	parse("CCM_STRICT", func(v string) (err error) {
		cfg.Import.Strict, err = strconv.ParseBool(v)
		return err
	})
	parse("CCM_PLAN_CACHE_SIZE", func(v string) (err error) {
		cfg.Query.PlanCacheSize, err = strconv.Atoi(v)
		return err
	})
	parse("CCM_PLAN_CACHE_TTL", func(v string) (err error) {
		cfg.Query.PlanCacheTTL, err = time.ParseDuration(v)
		return err
	})
	parse("CCM_TELEMETRY_ENABLED", func(v string) (err error) {
		cfg.Telemetry.Enabled, err = strconv.ParseBool(v)
		return err
	})
	parse("CCM_SAMPLING_RATIO", func(v string) (err error) {
		cfg.Telemetry.SamplingRatio, err = strconv.ParseFloat(v, 64)
		return err
	})
	return errs.Combined()
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Paths returns the paths that were loaded.
func (m *Manager) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

// Save writes the current config to path, or to the user config file when
// path is empty.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "locate home directory")
		}
		path = filepath.Join(home, ".ccm", "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "create config directory")
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "encode config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, fmt.Sprintf("write %s", path))
	}
	return nil
}
