// Package config provides unified configuration loading for PageFinder.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mmumbaiwala/PageFinder/internal/domain"
)

// Config holds all configuration for PageFinder.
type Config struct {
	Processing ProcessingConfig `yaml:"processing"`
	OCR        OCRConfig        `yaml:"ocr"`
	Memory     MemoryConfig     `yaml:"memory"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Paths      PathsConfig      `yaml:"paths"`
	Server     ServerConfig     `yaml:"server"`
}

// ProcessingConfig holds worker pool and batching settings.
type ProcessingConfig struct {
	MaxWorkers          int  `yaml:"max_workers"`
	BatchSize           int  `yaml:"batch_size"`
	PageChunkSize       int  `yaml:"page_chunk_size"`
	SkipExisting        bool `yaml:"skip_existing"`
	EnableCheckpointing bool `yaml:"enable_checkpointing"`
}

// OCRConfig holds OCR engine settings.
type OCRConfig struct {
	EnableOCR      bool   `yaml:"enable_ocr"`
	EnableDigital  bool   `yaml:"enable_digital"`
	OCRBatchSize   int    `yaml:"ocr_batch_size"`
	MaxOCRWorkers  int    `yaml:"max_ocr_workers"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	Languages      string `yaml:"languages"`
	DPI            int    `yaml:"dpi"`
}

// Timeout returns the per-image OCR timeout as a duration.
func (c OCRConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MemoryConfig holds resource monitor settings.
type MemoryConfig struct {
	MemoryLimitMB int           `yaml:"memory_limit_mb"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// StorageConfig holds backing store settings.
type StorageConfig struct {
	Driver    string         `yaml:"driver"` // sqlite or postgres
	MaxSizeMB int            `yaml:"max_size_mb"`
	SQLite    SQLiteConfig   `yaml:"sqlite"`
	Postgres  PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	JournalMode  string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// CacheConfig holds fingerprint cache settings.
type CacheConfig struct {
	EnableCaching bool          `yaml:"enable_caching"`
	Driver        string        `yaml:"driver"` // memory or redis
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	Redis         RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	InputDir string `yaml:"input_dir"`
}

// ServerConfig holds the status API settings.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}

	return &Config{
		Processing: ProcessingConfig{
			MaxWorkers:          workers,
			BatchSize:           10,
			PageChunkSize:       5,
			SkipExisting:        true,
			EnableCheckpointing: true,
		},
		OCR: OCRConfig{
			EnableOCR:      true,
			EnableDigital:  true,
			OCRBatchSize:   5,
			MaxOCRWorkers:  2,
			TimeoutSeconds: 30,
			Languages:      "eng",
			DPI:            300,
		},
		Memory: MemoryConfig{
			MemoryLimitMB: 1024,
			PollInterval:  500 * time.Millisecond,
		},
		Storage: StorageConfig{
			Driver:    "sqlite",
			MaxSizeMB: 10240,
			SQLite: SQLiteConfig{
				Path:         "pagefinder.db",
				MaxOpenConns: 1,
				JournalMode:  "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Cache: CacheConfig{
			EnableCaching: true,
			Driver:        "memory",
			TTL:           24 * time.Hour,
			MaxEntries:    10000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "pf:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Paths: PathsConfig{
			InputDir: "./pdfs",
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8090,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
		},
	}
}

// Validate checks the configuration for errors. Any failure here is fatal
// before processing starts.
func (c *Config) Validate() error {
	if c.Processing.MaxWorkers < 1 || c.Processing.MaxWorkers > 32 {
		return domain.ConfigurationError(fmt.Sprintf("max_workers must be between 1 and 32, got %d", c.Processing.MaxWorkers), nil)
	}
	if c.Processing.BatchSize < 1 {
		return domain.ConfigurationError(fmt.Sprintf("batch_size must be at least 1, got %d", c.Processing.BatchSize), nil)
	}
	if c.Processing.PageChunkSize < 1 {
		return domain.ConfigurationError(fmt.Sprintf("page_chunk_size must be at least 1, got %d", c.Processing.PageChunkSize), nil)
	}
	if c.OCR.OCRBatchSize < 1 {
		return domain.ConfigurationError(fmt.Sprintf("ocr_batch_size must be at least 1, got %d", c.OCR.OCRBatchSize), nil)
	}
	if c.OCR.MaxOCRWorkers < 1 {
		return domain.ConfigurationError(fmt.Sprintf("max_ocr_workers must be at least 1, got %d", c.OCR.MaxOCRWorkers), nil)
	}
	if c.OCR.TimeoutSeconds < 5 || c.OCR.TimeoutSeconds > 300 {
		return domain.ConfigurationError(fmt.Sprintf("timeout_seconds must be between 5 and 300, got %d", c.OCR.TimeoutSeconds), nil)
	}
	if !c.OCR.EnableOCR && !c.OCR.EnableDigital {
		return domain.ConfigurationError("at least one of enable_ocr and enable_digital must be set", nil)
	}
	if c.Memory.MemoryLimitMB < 100 || c.Memory.MemoryLimitMB > 10000 {
		return domain.ConfigurationError(fmt.Sprintf("memory_limit_mb must be between 100 and 10000, got %d", c.Memory.MemoryLimitMB), nil)
	}
	if c.Storage.Driver != "sqlite" && c.Storage.Driver != "postgres" {
		return domain.ConfigurationError(fmt.Sprintf("invalid storage driver: %s", c.Storage.Driver), nil)
	}
	if c.Storage.MaxSizeMB < 1 {
		return domain.ConfigurationError(fmt.Sprintf("storage max_size_mb must be at least 1, got %d", c.Storage.MaxSizeMB), nil)
	}
	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return domain.ConfigurationError(fmt.Sprintf("invalid cache driver: %s", c.Cache.Driver), nil)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return domain.ConfigurationError(fmt.Sprintf("invalid server port: %d", c.Server.Port), nil)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PAGEFINDER_INPUT_DIR"); v != "" {
		cfg.Paths.InputDir = v
	}

	if v := os.Getenv("PAGEFINDER_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processing.MaxWorkers = n
		}
	}

	if v := os.Getenv("PAGEFINDER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Processing.BatchSize = n
		}
	}

	if v := os.Getenv("PAGEFINDER_MEMORY_LIMIT_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Memory.MemoryLimitMB = n
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Storage.Driver = "sqlite"
			cfg.Storage.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Storage.Driver = "postgres"
			cfg.Storage.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("PAGEFINDER_TESSERACT_LANGS"); v != "" {
		cfg.OCR.Languages = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// ResolveRelativePath resolves a path relative to the config file location.
func ResolveRelativePath(configPath, targetPath string) string {
	if filepath.IsAbs(targetPath) {
		return targetPath
	}
	configDir := filepath.Dir(configPath)
	return filepath.Join(configDir, targetPath)
}
