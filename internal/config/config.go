package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/placegrid/internal/checkpoint"
	"github.com/sells-group/placegrid/internal/grid"
	"github.com/sells-group/placegrid/internal/resilience"
)

// Validation modes.
const (
	ModeLive   = "live"
	ModeDryRun = "dry_run"
)

// Config holds the full application configuration.
type Config struct {
	Google GoogleConfig `yaml:"google" mapstructure:"google"`
	Grid   GridConfig   `yaml:"grid" mapstructure:"grid"`
	Search SearchConfig `yaml:"search" mapstructure:"search"`
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Retry  RetryConfig  `yaml:"retry" mapstructure:"retry"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// GoogleConfig configures the Maps Places and Geocoding client.
type GoogleConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	PageDelayMs int     `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	MaxPages    int     `yaml:"max_pages" mapstructure:"max_pages"`
}

// GridConfig holds the grid and refinement parameters.
type GridConfig struct {
	InitialRadius        float64 `yaml:"initial_radius" mapstructure:"initial_radius"`
	Step                 float64 `yaml:"step" mapstructure:"step"`
	MaxRadius            float64 `yaml:"max_radius" mapstructure:"max_radius"`
	SubdivisionThreshold int     `yaml:"subdivision_threshold" mapstructure:"subdivision_threshold"`
	NearLimit            int     `yaml:"near_limit" mapstructure:"near_limit"`
	RadiusFactor         float64 `yaml:"radius_factor" mapstructure:"radius_factor"`
	OverlapFactor        float64 `yaml:"overlap_factor" mapstructure:"overlap_factor"`
	MaxDepth             int     `yaml:"max_depth" mapstructure:"max_depth"`
}

// SearchConfig holds the defaults for a search run.
type SearchConfig struct {
	PlaceType string `yaml:"place_type" mapstructure:"place_type"`
	Location  string `yaml:"location" mapstructure:"location"`
	Keyword   string `yaml:"keyword" mapstructure:"keyword"`
	OutputDir string `yaml:"output_dir" mapstructure:"output_dir"`
	MaxCalls  int    `yaml:"max_calls" mapstructure:"max_calls"`
}

// StoreConfig selects the checkpoint backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
}

// RetryConfig configures transport retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from .env, file and environment.
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PLACEGRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("google.key", "PLACEGRID_GOOGLE_KEY", "GOOGLE_MAPS_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind google key")
	}

	// Defaults
	def := grid.DefaultConfig()
	v.SetDefault("google.base_url", "https://maps.googleapis.com/maps/api")
	v.SetDefault("google.rate_limit", 10)
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("google.page_delay_ms", 2000)
	v.SetDefault("google.max_pages", 3)
	v.SetDefault("grid.initial_radius", def.InitialRadius)
	v.SetDefault("grid.step", def.Step)
	v.SetDefault("grid.max_radius", def.MaxRadius)
	v.SetDefault("grid.subdivision_threshold", def.Threshold)
	v.SetDefault("grid.near_limit", def.NearLimit)
	v.SetDefault("grid.radius_factor", def.RadiusFactor)
	v.SetDefault("grid.overlap_factor", def.OverlapFactor)
	v.SetDefault("grid.max_depth", def.MaxDepth)
	v.SetDefault("search.place_type", "physiotherapist")
	v.SetDefault("search.location", "Berlin, Germany")
	v.SetDefault("search.keyword", "")
	v.SetDefault("search.output_dir", ".")
	v.SetDefault("search.max_calls", 0)
	v.SetDefault("store.driver", checkpoint.DriverFile)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// GridConfig converts the grid section into the immutable grid.Config.
func (c *Config) GridConfig() grid.Config {
	return grid.Config{
		InitialRadius: c.Grid.InitialRadius,
		Step:          c.Grid.Step,
		MaxRadius:     c.Grid.MaxRadius,
		Threshold:     c.Grid.SubdivisionThreshold,
		NearLimit:     c.Grid.NearLimit,
		RadiusFactor:  c.Grid.RadiusFactor,
		OverlapFactor: c.Grid.OverlapFactor,
		MaxDepth:      c.Grid.MaxDepth,
	}
}

// RetryPolicy converts the retry section into a resilience.Policy.
func (c *Config) RetryPolicy() resilience.Policy {
	r := c.Retry
	return resilience.PolicyFromConfig(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// Validate checks the fields a run in the given mode depends on and reports
// every problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string

	if mode == ModeLive && c.Google.Key == "" {
		errs = append(errs, "google.key is required (set GOOGLE_MAPS_API_KEY)")
	}
	if c.Search.PlaceType == "" {
		errs = append(errs, "search.place_type is required")
	}
	if c.Search.MaxCalls < 0 {
		errs = append(errs, "search.max_calls must not be negative")
	}
	switch c.Store.Driver {
	case checkpoint.DriverFile, checkpoint.DriverSQLite:
	default:
		errs = append(errs, "store.driver must be "+checkpoint.DriverFile+" or "+checkpoint.DriverSQLite)
	}
	if err := c.GridConfig().Validate(); err != nil {
		errs = append(errs, "grid: "+err.Error())
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
