package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all runtime configuration for mrfsync. Connection settings
// come from flags/environment; tuning sections may be overlaid from YAML.
type Config struct {
	DSN           string `yaml:"-"`
	StoreDriver   string `yaml:"-"` // "postgres" or "sqlite"
	SQLitePath    string `yaml:"-"`
	RedisAddr     string `yaml:"-"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"-"`
	LogFormat     string `yaml:"-"` // "text" or "json"
	LogLevel      string `yaml:"-"`
	ConfigFile    string `yaml:"-"`
	WorkDir       string `yaml:"work_dir"`
	MetricsAddr   string `yaml:"metrics_addr"`

	Directory DirectoryConfig `yaml:"directory"`
	Download  DownloadConfig  `yaml:"download"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Queues    QueueConfig     `yaml:"queues"`
}

// DirectoryConfig tunes the hospital directory client.
type DirectoryConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	TransportMaxAge time.Duration `yaml:"transport_max_age"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	MaxRequests     int           `yaml:"max_requests"`
	Window          time.Duration `yaml:"window"`
	StatePause      time.Duration `yaml:"state_pause"`
}

// DownloadConfig bounds price file downloads.
type DownloadConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// IngestConfig tunes normalization and persistence.
type IngestConfig struct {
	BatchSize int                 `yaml:"batch_size"`
	Aliases   map[string][]string `yaml:"aliases"` // extra header aliases per canonical field
}

// ScheduleConfig holds cron specs and diff thresholds.
type ScheduleConfig struct {
	Enabled        bool          `yaml:"enabled"`
	DailyRefresh   string        `yaml:"daily_refresh"`
	FileScan       string        `yaml:"file_scan"`
	WeeklyRefresh  string        `yaml:"weekly_refresh"`
	Staleness      time.Duration `yaml:"staleness"`
	EnqueueSpacing time.Duration `yaml:"enqueue_spacing"`
}

// QueueConfig sets per-queue worker counts.
type QueueConfig struct {
	Prefix              string `yaml:"prefix"`
	ImportConcurrency   int    `yaml:"import_concurrency"`
	DownloadConcurrency int    `yaml:"download_concurrency"`
}

// Default returns a Config with every tunable set to its production default.
func Default() Config {
	return Config{
		StoreDriver: "postgres",
		LogFormat:   "text",
		LogLevel:    "info",
		WorkDir:     os.TempDir(),
		Directory: DirectoryConfig{
			SessionTTL:      30 * time.Minute,
			TransportMaxAge: 10 * time.Minute,
			RequestTimeout:  30 * time.Second,
			MaxRequests:     100,
			Window:          180 * time.Second,
			StatePause:      time.Second,
		},
		Download: DownloadConfig{
			Timeout:  30 * time.Minute,
			MaxBytes: 2 << 30,
		},
		Ingest: IngestConfig{
			BatchSize: 1000,
		},
		Schedule: ScheduleConfig{
			Enabled:        true,
			DailyRefresh:   "0 2 * * *",
			FileScan:       "0 */6 * * *",
			WeeklyRefresh:  "0 3 * * 0",
			Staleness:      7 * 24 * time.Hour,
			EnqueueSpacing: 500 * time.Millisecond,
		},
		Queues: QueueConfig{
			Prefix:              "mrfsync",
			ImportConcurrency:   1,
			DownloadConcurrency: 4,
		},
	}
}

// LoadDotEnv loads a .env file into the process environment if present.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// LoadFromFile reads a YAML config file and overlays its values onto c.
// Keys absent from the file keep their current values.
func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return c.validateTuning()
}

func (c *Config) validateTuning() error {
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Directory.MaxRequests <= 0 {
		return fmt.Errorf("directory.max_requests must be positive, got %d", c.Directory.MaxRequests)
	}
	if c.Directory.Window <= 0 {
		return fmt.Errorf("directory.window must be positive")
	}
	if c.Queues.ImportConcurrency <= 0 || c.Queues.DownloadConcurrency <= 0 {
		return fmt.Errorf("queue concurrency must be positive")
	}
	for field := range c.Ingest.Aliases {
		if !knownField(field) {
			return fmt.Errorf("unknown canonical field %q in ingest.aliases", field)
		}
	}
	return nil
}

// ValidateStore checks that the selected storage backend is configured.
func (c *Config) ValidateStore() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DSN == "" {
			return fmt.Errorf("--dsn or MRFSYNC_DSN is required")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("--sqlite-path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.StoreDriver)
	}
	return nil
}

// ValidateQueue checks the Redis settings.
func (c *Config) ValidateQueue() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("--redis-addr or MRFSYNC_REDIS_ADDR is required")
	}
	return c.validateTuning()
}

// ValidateDirectory checks the directory client settings.
func (c *Config) ValidateDirectory() error {
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("--directory-url or MRFSYNC_DIRECTORY_URL is required")
	}
	if c.Directory.Username == "" {
		return fmt.Errorf("--directory-user or MRFSYNC_DIRECTORY_USER is required")
	}
	return c.validateTuning()
}

// CanonicalFields lists the normalized price fields aliases may target.
var CanonicalFields = []string{
	"description",
	"code",
	"code_type",
	"gross_charge",
	"discounted_cash_price",
	"min_negotiated_charge",
	"max_negotiated_charge",
}

func knownField(name string) bool {
	for _, f := range CanonicalFields {
		if f == name {
			return true
		}
	}
	return false
}
