package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`             // "sqlite" or "postgres"
	Path        string `yaml:"path" mapstructure:"path"`                 // sqlite file path
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"` // postgres conn string
}

// GeocodeConfig configures the Nominatim client and the per-run policy
// defaults. Mode and MaxNewLookups are only defaults; each run constructs an
// explicit RunPolicy from them (or from flags) at process entry.
type GeocodeConfig struct {
	BaseURL           string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent         string  `yaml:"user_agent" mapstructure:"user_agent"`
	QuerySuffix       string  `yaml:"query_suffix" mapstructure:"query_suffix"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Mode              string  `yaml:"mode" mapstructure:"mode"`
	MaxNewLookups     int     `yaml:"max_new_lookups" mapstructure:"max_new_lookups"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port          int `yaml:"port" mapstructure:"port"`
	CacheTTLSecs  int `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	RecentLimit   int `yaml:"recent_limit" mapstructure:"recent_limit"`
	MaxListLimit  int `yaml:"max_list_limit" mapstructure:"max_list_limit"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml and the CRASH_* environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CRASH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

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

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "data/db/milwaukee_crashes.db")
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.user_agent", "MilwaukeeCrashInsights/1.0")
	v.SetDefault("geocode.query_suffix", "Milwaukee, Wisconsin, USA")
	v.SetDefault("geocode.requests_per_second", 1.0)
	v.SetDefault("geocode.timeout_secs", 6)
	v.SetDefault("geocode.mode", "limited")
	v.SetDefault("geocode.max_new_lookups", 100)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cache_ttl_secs", 300)
	v.SetDefault("server.recent_limit", 50)
	v.SetDefault("server.max_list_limit", 10000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// WriteDefault writes a starter config.yaml with all defaults to path.
// It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return eris.Errorf("config: %s already exists", path)
	}

	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return eris.Wrap(err, "config: unmarshal defaults")
	}

	out, err := yaml.Marshal(&cfg)
	if err != nil {
		return eris.Wrap(err, "config: marshal defaults")
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return eris.Wrapf(err, "config: write %s", path)
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
