// Package config loads busmap settings from .env, config.yml and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cerdanyolabus/busmap/internal/feed"
	"github.com/cerdanyolabus/busmap/internal/timetable"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file read when none is given
const DefaultPath = "config.yml"

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int  `yaml:"port" validate:"gt=0,lte=65535"`
	MetricsEnabled bool `yaml:"metricsEnabled"`
}

// TimetableConfig contains timetable provider configuration
type TimetableConfig struct {
	BaseURL   string `yaml:"baseURL" validate:"required,url"`
	TimeoutMS int    `yaml:"timeoutMS" validate:"gt=0"`
}

// CatalogConfig contains stop catalog configuration
type CatalogConfig struct {
	Source string `yaml:"source" validate:"required"`
}

// StorageConfig selects the client-side persistence backend
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	Path   string `yaml:"path" validate:"required_if=Driver sqlite"`
}

// GeolocationConfig selects where positions come from
type GeolocationConfig struct {
	Disabled    bool   `yaml:"disabled"`
	NATSURL     string `yaml:"natsURL" validate:"omitempty,url"`
	NATSSubject string `yaml:"natsSubject" validate:"required_with=NATSURL"`
}

// Config is the root configuration structure
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Timetable   TimetableConfig   `yaml:"timetable"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Storage     StorageConfig     `yaml:"storage"`
	Geolocation GeolocationConfig `yaml:"geolocation"`
}

// Timeout returns the provider request timeout
func (c TimetableConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			MetricsEnabled: true,
		},
		Timetable: TimetableConfig{
			BaseURL:   timetable.DefaultBaseURL,
			TimeoutMS: 10000,
		},
		Catalog: CatalogConfig{
			Source: feed.DefaultSource,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "busmap.db",
		},
		Geolocation: GeolocationConfig{
			NATSSubject: "busmap.position",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path, and
// environment variables (including a .env file), then validates it. A
// missing file is not an error.
func Load(path string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cfg against its constraints
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("BUSMAP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BUSMAP_PORT: %q", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Server.MetricsEnabled = parseBool(v)
	}

	if v := os.Getenv("TIMETABLE_BASE_URL"); v != "" {
		cfg.Timetable.BaseURL = v
	}
	if v := os.Getenv("TIMETABLE_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return fmt.Errorf("invalid TIMETABLE_TIMEOUT_MS: %q", v)
		}
		cfg.Timetable.TimeoutMS = ms
	}

	if v := os.Getenv("STOPS_SOURCE"); v != "" {
		cfg.Catalog.Source = v
	}

	if v := os.Getenv("STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}

	if v := os.Getenv("GEOLOCATION_DISABLED"); v != "" {
		cfg.Geolocation.Disabled = parseBool(v)
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Geolocation.NATSURL = v
	}
	if v := os.Getenv("NATS_SUBJECT"); v != "" {
		cfg.Geolocation.NATSSubject = v
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}
