package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Google  GoogleConfig  `yaml:"google" mapstructure:"google"`
	Search  SearchConfig  `yaml:"search" mapstructure:"search"`
	Catalog CatalogConfig `yaml:"catalog" mapstructure:"catalog"`
	Sheets  SheetsConfig  `yaml:"sheets" mapstructure:"sheets"`
	Tasks   TasksConfig   `yaml:"tasks" mapstructure:"tasks"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Retry   RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// GoogleConfig holds Places and Geocoding API settings.
type GoogleConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	PlacesBaseURL    string  `yaml:"places_base_url" mapstructure:"places_base_url"`
	GeocodeURL       string  `yaml:"geocode_url" mapstructure:"geocode_url"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	DetailsRateLimit float64 `yaml:"details_rate_limit" mapstructure:"details_rate_limit"`
	RegionCode       string  `yaml:"region_code" mapstructure:"region_code"`
}

// SearchConfig configures radius per tier and pagination.
type SearchConfig struct {
	RadiusLarge  float64       `yaml:"radius_large" mapstructure:"radius_large"`
	RadiusMedium float64       `yaml:"radius_medium" mapstructure:"radius_medium"`
	RadiusSmall  float64       `yaml:"radius_small" mapstructure:"radius_small"`
	PageDelay    time.Duration `yaml:"page_delay" mapstructure:"page_delay"`
	MaxPages     int           `yaml:"max_pages" mapstructure:"max_pages"`
}

// CatalogConfig locates the state/city catalog.
type CatalogConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SheetsConfig selects the export backend.
type SheetsConfig struct {
	Backend         string `yaml:"backend" mapstructure:"backend"`
	CredentialsFile string `yaml:"credentials_file" mapstructure:"credentials_file"`
	XLSXDir         string `yaml:"xlsx_dir" mapstructure:"xlsx_dir"`
	TitlePrefix     string `yaml:"title_prefix" mapstructure:"title_prefix"`
}

// TasksConfig configures the background task runner.
type TasksConfig struct {
	LogDir  string `yaml:"log_dir" mapstructure:"log_dir"`
	Workers int    `yaml:"workers" mapstructure:"workers"`
}

// CacheConfig configures the optional Redis cache.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int    `yaml:"redis_db" mapstructure:"redis_db"`
	TTLHours      int    `yaml:"ttl_hours" mapstructure:"ttl_hours"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

// RetryConfig configures retries against upstream APIs.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`

	// Consecutive transient failures before the Places breaker opens; 0 disables it.
	BreakerThreshold   int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSec int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, a YAML config file and PLACES_*
// environment variables. With an empty path, ./config.yaml is used when
// present; an explicit path must exist.
func Load(path string) (*Config, error) {
	// A missing .env is fine.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PLACES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "places.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("google.api_key", "")
	v.SetDefault("google.places_base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.geocode_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("google.details_rate_limit", 5)
	v.SetDefault("google.region_code", "US")
	v.SetDefault("search.radius_large", 50000)
	v.SetDefault("search.radius_medium", 25000)
	v.SetDefault("search.radius_small", 10000)
	v.SetDefault("search.page_delay", "2s")
	v.SetDefault("search.max_pages", 3)
	v.SetDefault("catalog.path", "states.json")
	v.SetDefault("sheets.backend", "google")
	v.SetDefault("sheets.credentials_file", "")
	v.SetDefault("sheets.xlsx_dir", "exports")
	v.SetDefault("sheets.title_prefix", "Places export")
	v.SetDefault("tasks.log_dir", "logs")
	v.SetDefault("tasks.workers", 1)
	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("retry.breaker_threshold", 5)
	v.SetDefault("retry.breaker_cooldown_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys a command mode needs. All problems are reported
// together.
func (c *Config) Validate(mode string) error {
	var errs []string
	required := func(key, val string) {
		if strings.TrimSpace(val) == "" {
			errs = append(errs, key+" is required")
		}
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		required("store.database_url", c.Store.DatabaseURL)
	default:
		errs = append(errs, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
	}

	switch c.Sheets.Backend {
	case "google", "xlsx":
	default:
		errs = append(errs, fmt.Sprintf("sheets.backend must be google or xlsx, got %q", c.Sheets.Backend))
	}
	needSearch := func() {
		if c.Search.MaxPages < 1 || c.Search.MaxPages > 3 {
			errs = append(errs, "search.max_pages must be between 1 and 3")
		}
	}
	needSheets := func() {
		if c.Sheets.Backend == "google" {
			required("sheets.credentials_file", c.Sheets.CredentialsFile)
		}
	}

	switch mode {
	case "collect":
		required("google.api_key", c.Google.APIKey)
		required("catalog.path", c.Catalog.Path)
		if c.Tasks.Workers < 1 {
			errs = append(errs, "tasks.workers must be >= 1")
		}
		needSearch()
		needSheets()
	case "export":
		required("catalog.path", c.Catalog.Path)
		needSheets()
	case "users":
		needSheets()
	case "serve":
		required("google.api_key", c.Google.APIKey)
		required("catalog.path", c.Catalog.Path)
		needSearch()
		needSheets()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "runs", "migrate":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
