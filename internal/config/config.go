// Package config loads storefront settings from an optional YAML file, then lets
// STOREFRONT_* environment variables override individual values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	API           APIConfig          `yaml:"api"`
	Store         StoreConfig        `yaml:"store"`
	Polling       PollingConfig      `yaml:"polling"`
	Notifications NotificationConfig `yaml:"notifications"`
	Log           LogConfig          `yaml:"log"`
	Metrics       MetricsConfig      `yaml:"metrics"`
}

type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

type StoreConfig struct {
	// Driver is one of bolt, sqlite, postgres, redis, mongo or memory.
	Driver    string `yaml:"driver"`
	Path      string `yaml:"path"`
	DSN       string `yaml:"dsn"`
	RedisAddr string `yaml:"redis_addr"`
	MongoURI  string `yaml:"mongo_uri"`
	MongoDB   string `yaml:"mongo_db"`
}

type PollingConfig struct {
	ListInterval   time.Duration `yaml:"list_interval"`
	DetailInterval time.Duration `yaml:"detail_interval"`
}

type NotificationConfig struct {
	Limit        int      `yaml:"limit"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

var drivers = map[string]bool{
	"bolt": true, "sqlite": true, "postgres": true, "redis": true, "mongo": true, "memory": true,
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:         "http://localhost:8080",
			Timeout:         10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:    "bolt",
			Path:      ".storefront",
			RedisAddr: "localhost:6379",
			MongoURI:  "mongodb://localhost:27017",
			MongoDB:   "storefront",
		},
		Polling: PollingConfig{
			ListInterval:   30 * time.Second,
			DetailInterval: 15 * time.Second,
		},
		Notifications: NotificationConfig{
			Limit:      100,
			KafkaTopic: "storefront-notifications",
		},
		Log: LogConfig{Level: "info"},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
	}
}

// Load reads path (skipped when empty) over the defaults and applies environment
// overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if !drivers[c.Store.Driver] {
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if (c.Store.Driver == "sqlite" || c.Store.Driver == "postgres") && c.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
	}
	if c.Polling.ListInterval <= 0 || c.Polling.DetailInterval <= 0 {
		errs = append(errs, errors.New("polling intervals must be positive"))
	}
	if c.Notifications.Limit <= 0 {
		errs = append(errs, errors.New("notifications.limit must be positive"))
	}
	return errors.Join(errs...)
}

func applyEnv(c *Config) error {
	c.API.BaseURL = getEnv("STOREFRONT_API_URL", c.API.BaseURL)
	c.Store.Driver = getEnv("STOREFRONT_STORE_DRIVER", c.Store.Driver)
	c.Store.Path = getEnv("STOREFRONT_STORE_PATH", c.Store.Path)
	c.Store.DSN = getEnv("STOREFRONT_STORE_DSN", c.Store.DSN)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.MongoURI = getEnv("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDB = getEnv("MONGO_DB_NAME", c.Store.MongoDB)
	c.Notifications.KafkaTopic = getEnv("STOREFRONT_KAFKA_TOPIC", c.Notifications.KafkaTopic)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Notifications.KafkaBrokers = strings.Split(brokers, ",")
	}
	c.Log.Level = getEnv("STOREFRONT_LOG_LEVEL", c.Log.Level)
	c.Metrics.Addr = getEnv("STOREFRONT_METRICS_ADDR", c.Metrics.Addr)

	var err error
	if c.API.Timeout, err = envDuration("STOREFRONT_API_TIMEOUT", c.API.Timeout); err != nil {
		return err
	}
	if c.Polling.ListInterval, err = envDuration("STOREFRONT_LIST_POLL_INTERVAL", c.Polling.ListInterval); err != nil {
		return err
	}
	if c.Polling.DetailInterval, err = envDuration("STOREFRONT_DETAIL_POLL_INTERVAL", c.Polling.DetailInterval); err != nil {
		return err
	}
	if v := getEnv("STOREFRONT_LOG_JSON", ""); v != "" {
		if c.Log.JSON, err = strconv.ParseBool(v); err != nil {
			return fmt.Errorf("STOREFRONT_LOG_JSON: %w", err)
		}
	}
	return nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := getEnv(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
