package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// DefaultSuggestions are the starter questions offered on an empty chat.
var DefaultSuggestions = []string{
	"What is the best modality to screen for Barrett's esophagus?",
	"What causes Crohn's?",
	"What is the treatment for dysplasia?",
	"What endoscopic procedures are high/low-risk for anticoagulants?",
}

type Config struct {
	DataDir     string        `mapstructure:"data_dir"`
	Store       StoreConfig   `mapstructure:"store"`
	Redis       RedisConfig   `mapstructure:"redis"`
	Backend     BackendConfig `mapstructure:"backend"`
	Server      ServerConfig  `mapstructure:"server"`
	Log         LogConfig     `mapstructure:"log"`
	Suggestions []string      `mapstructure:"suggestions"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// BackendConfig locates the Q&A service. DeepThink requests go to a
// separate deployment with its own endpoint.
type BackendConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	DeepThinkURL      string        `mapstructure:"deep_think_url"`
	Endpoint          string        `mapstructure:"endpoint"`
	DeepThinkEndpoint string        `mapstructure:"deep_think_endpoint"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StateDir holds everything medq writes for a data directory.
func (c Config) StateDir() string {
	return filepath.Join(c.DataDir, ".medq")
}

// Load resolves configuration from defaults, an optional YAML file and
// MEDQ_* environment variables, in increasing precedence. Without an
// explicit file, <dataDir>/.medq/config.yaml is read when present.
func Load(dataDir, configFile string) (Config, error) {
	if dataDir == "" {
		return Config{}, fmt.Errorf("data dir is required")
	}
	v := viper.New()
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("store.driver", StoreFile)
	v.SetDefault("store.sqlite_path", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "medq:")
	v.SetDefault("backend.base_url", "")
	v.SetDefault("backend.deep_think_url", "")
	v.SetDefault("backend.endpoint", "/api/query")
	v.SetDefault("backend.deep_think_endpoint", "/api/v1/testq")
	v.SetDefault("backend.timeout", 60*time.Second)
	v.SetDefault("server.address", "127.0.0.1:8787")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("suggestions", DefaultSuggestions)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(dataDir, ".medq"))
	}

	v.SetEnvPrefix("MEDQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Config{}
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = filepath.Join(cfg.StateDir(), "medq.db")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case StoreFile, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend timeout must be non-negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format %q", c.Log.Format)
	}
	return nil
}
