package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all process configuration for the server and pipeline CLIs.
// Values come from a YAML file with environment variable overrides; a
// missing file leaves env vars and defaults.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Lock     LockConfig     `yaml:"lock"`
	KPI      KPIConfig      `yaml:"kpi"`
	Pipeline PipelineConfig `yaml:"pipeline"`

	// ThresholdsPath points at the hot-reloaded thresholds file.
	ThresholdsPath string `yaml:"thresholds_path" env:"THRESHOLDS_PATH" env-default:"thresholds.yaml"`
}

type ServerConfig struct {
	Port           string `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	AllowedOrigins string `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" env-default:"http://localhost:3000,http://localhost:5173"`
}

// Origins splits AllowedOrigins on commas.
func (c *ServerConfig) Origins() []string {
	var origins []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"DB_PATH" env-default:"./data/sales.db"`
}

type LogConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// LockConfig selects the recomputation lock. An empty RedisAddr means
// in-process locking only.
type LockConfig struct {
	RedisAddr string        `yaml:"redis_addr" env:"REDIS_ADDR" env-default:""`
	RedisDB   int           `yaml:"redis_db" env:"REDIS_DB" env-default:"0"`
	TTL       time.Duration `yaml:"ttl" env:"LOCK_TTL" env-default:"2m"`
	Wait      time.Duration `yaml:"wait" env:"LOCK_WAIT" env-default:"30s"`
}

type KPIConfig struct {
	WindowDays int `yaml:"window_days" env:"KPI_WINDOW_DAYS" env-default:"30"`
	TopN       int `yaml:"top_n" env:"KPI_TOP_N" env-default:"10"`
}

// PipelineConfig drives the in-process scheduler. Interval 0 disables it.
type PipelineConfig struct {
	Interval   time.Duration `yaml:"interval" env:"PIPELINE_INTERVAL" env-default:"0s"`
	HaltOnFail bool          `yaml:"halt_on_fail" env:"PIPELINE_HALT_ON_FAIL" env-default:"false"`
}

// Load reads path (if it exists) with environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return cfg, cfg.validate()
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	var errs []string
	if c.KPI.WindowDays <= 0 {
		errs = append(errs, "kpi.window_days must be positive")
	}
	if c.KPI.TopN <= 0 {
		errs = append(errs, "kpi.top_n must be positive")
	}
	if c.Pipeline.Interval < 0 {
		errs = append(errs, "pipeline.interval must not be negative")
	}
	if c.Lock.RedisAddr != "" && c.Lock.TTL <= 0 {
		errs = append(errs, "lock.ttl must be positive when lock.redis_addr is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
