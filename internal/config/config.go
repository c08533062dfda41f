package config

import (
	"fmt"
	"os"
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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Overpass  ProviderConfig  `yaml:"overpass" mapstructure:"overpass"`
	Postcodes ProviderConfig  `yaml:"postcodes" mapstructure:"postcodes"`
	Nominatim ProviderConfig  `yaml:"nominatim" mapstructure:"nominatim"`
	Google    ProviderConfig  `yaml:"google" mapstructure:"google"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Seed      SeedConfig      `yaml:"seed" mapstructure:"seed"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the read-only API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// PipelineConfig configures the enrichment batch driver.
type PipelineConfig struct {
	Concurrency  int    `yaml:"concurrency" mapstructure:"concurrency"`
	RadiusMeters int    `yaml:"radius_meters" mapstructure:"radius_meters"`
	OutputPath   string `yaml:"output_path" mapstructure:"output_path"`
}

// ReconcileConfig configures how enriched features are merged.
type ReconcileConfig struct {
	FeaturePolicy string `yaml:"feature_policy" mapstructure:"feature_policy"`
}

// ProviderConfig holds the endpoint and pacing for one external provider.
type ProviderConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	Key         string `yaml:"key" mapstructure:"key"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	CooldownMS  int    `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Cooldown returns the minimum spacing between call starts.
func (p ProviderConfig) Cooldown() time.Duration {
	return time.Duration(p.CooldownMS) * time.Millisecond
}

// Timeout returns the per-call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// CacheConfig configures normalizer memoisation.
type CacheConfig struct {
	TTLMinutes int `yaml:"ttl_minutes" mapstructure:"ttl_minutes"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// SeedConfig names the source profile run by the seed command.
type SeedConfig struct {
	Profile string `yaml:"profile" mapstructure:"profile"`
}

const defaultUserAgent = "facility-enrich/1.0"

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("FACILITY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.database_url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.radius_meters", 30)
	v.SetDefault("pipeline.output_path", "out/geodata.json")
	v.SetDefault("reconcile.feature_policy", "append")
	v.SetDefault("overpass.base_url", "https://overpass.private.coffee/api/interpreter")
	v.SetDefault("overpass.user_agent", defaultUserAgent)
	v.SetDefault("overpass.cooldown_ms", 1000)
	v.SetDefault("overpass.timeout_secs", 150)
	v.SetDefault("postcodes.base_url", "https://api.postcodes.io/postcodes/")
	v.SetDefault("postcodes.cooldown_ms", 1000)
	v.SetDefault("postcodes.timeout_secs", 10)
	v.SetDefault("nominatim.base_url", "https://nominatim.openstreetmap.org/reverse")
	v.SetDefault("nominatim.user_agent", defaultUserAgent)
	v.SetDefault("nominatim.cooldown_ms", 1000)
	v.SetDefault("nominatim.timeout_secs", 25)
	v.SetDefault("google.base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("google.key", "")
	v.SetDefault("google.cooldown_ms", 1000)
	v.SetDefault("google.timeout_secs", 10)
	v.SetDefault("cache.ttl_minutes", 60)
	v.SetDefault("seed.profile", "sources.yaml")

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

// Validate checks settings required by mode: "enrich" and "seed" need a
// usable store plus pipeline settings, "query" needs only the pipeline,
// "serve" needs a store and a port.
func (c *Config) Validate(mode string) error {
	var errs []string

	checkStore := func() {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
		default:
			errs = append(errs, fmt.Sprintf("store.driver %q is not postgres or sqlite", c.Store.Driver))
		}
	}
	checkPipeline := func() {
		if c.Pipeline.Concurrency < 1 || c.Pipeline.Concurrency > 64 {
			errs = append(errs, "pipeline.concurrency must be between 1 and 64")
		}
		if c.Pipeline.RadiusMeters <= 0 {
			errs = append(errs, "pipeline.radius_meters must be > 0")
		}
		switch c.Reconcile.FeaturePolicy {
		case "append", "skip_duplicate":
		default:
			errs = append(errs, fmt.Sprintf("reconcile.feature_policy %q is not append or skip_duplicate", c.Reconcile.FeaturePolicy))
		}
	}

	switch mode {
	case "enrich", "seed":
		checkStore()
		checkPipeline()
	case "query":
		checkPipeline()
	case "serve":
		checkStore()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "store":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
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
