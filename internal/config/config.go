// Package config loads application configuration from config.yaml and
// MARKETSYNC_* environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/etrendo/marketsync/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Reconcile ReconcileConfig `yaml:"reconcile" mapstructure:"reconcile"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string            `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string            `yaml:"database_url" mapstructure:"database_url"`
	Pool        *store.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// IngestConfig configures snapshot loading into bronze.
type IngestConfig struct {
	// Bucket is the GCS bucket holding collector snapshots. Empty means
	// ingest reads from Dir instead.
	Bucket    string `yaml:"bucket" mapstructure:"bucket"`
	Prefix    string `yaml:"prefix" mapstructure:"prefix"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
	Workers   int    `yaml:"workers" mapstructure:"workers"`
}

// ReconcileConfig configures the bronze to silver pass.
type ReconcileConfig struct {
	WindowDays int    `yaml:"window_days" mapstructure:"window_days"`
	Catalog    string `yaml:"catalog" mapstructure:"catalog"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks that the fields a command depends on are set. The scope is
// the command name; persistent flags and defaults cover everything else.
func (c *Config) Validate(scope string) error {
	var missing []string

	switch scope {
	case "migrate", "reconcile", "status":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
	case "ingest":
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			missing = append(missing, "store.database_url is required for the postgres driver")
		}
		if c.Ingest.Bucket == "" && c.Ingest.Dir == "" {
			missing = append(missing, "ingest.bucket or ingest.dir is required")
		}
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("MARKETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("ingest.dir", "./snapshots")
	v.SetDefault("ingest.batch_size", 500)
	v.SetDefault("ingest.workers", 4)
	v.SetDefault("reconcile.window_days", 7)
	v.SetDefault("reconcile.catalog", "sources.yaml")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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
