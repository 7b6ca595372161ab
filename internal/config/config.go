package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Cheertaboi/meal-reservation-service/pkg/db"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type Config struct {
	HTTP     HTTP              `yaml:"http"`
	Store    string            `yaml:"store"`
	DB       db.PostgresConfig `yaml:"database"`
	App      App               `yaml:"app"`
	Kafka    Kafka             `yaml:"kafka"`
	Tracing  Tracing           `yaml:"tracing"`
	LogLevel string            `yaml:"log_level"`
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type App struct {
	Timezone       string        `yaml:"timezone"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	ListPageSize   int           `yaml:"list_page_size"`
	CenterCacheTTL time.Duration `yaml:"center_cache_ttl"`
}

// Kafka is disabled when Brokers is empty.
type Kafka struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

// Tracing is disabled when Endpoint is empty.
type Tracing struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Store: BackendPostgres,
		DB:    db.DefaultPostgresConfig(),
		App: App{
			Timezone:       "Asia/Tehran",
			OpTimeout:      5 * time.Second,
			ListPageSize:   50,
			CenterCacheTTL: 30 * time.Second,
		},
		Kafka:    Kafka{Topic: "meal-reservations"},
		Tracing:  Tracing{ServiceName: "meal-reservation-service"},
		LogLevel: "info",
	}
}

// Load starts from Default, applies the YAML file named by CONFIG_FILE when
// set, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	dbCfg, err := db.LoadPostgresConfig(cfg.DB)
	if err != nil {
		return cfg, err
	}
	cfg.DB = dbCfg

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Store = getEnv("STORE_BACKEND", cfg.Store)
	cfg.App.Timezone = getEnv("APP_TIMEZONE", cfg.App.Timezone)
	cfg.Kafka.Brokers = getEnv("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if cfg.App.OpTimeout, err = getDuration("OP_TIMEOUT", cfg.App.OpTimeout); err != nil {
		return cfg, err
	}
	if cfg.App.CenterCacheTTL, err = getDuration("CENTER_CACHE_TTL", cfg.App.CenterCacheTTL); err != nil {
		return cfg, err
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"); v != "" {
		insecure, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("OTEL_EXPORTER_OTLP_INSECURE: %w", err)
		}
		cfg.Tracing.Insecure = insecure
	}
	if v := os.Getenv("LIST_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("LIST_PAGE_SIZE: %w", err)
		}
		cfg.App.ListPageSize = n
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Store {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.App.OpTimeout <= 0 {
		return fmt.Errorf("op timeout must be positive, got %s", c.App.OpTimeout)
	}
	if c.App.ListPageSize <= 0 {
		return fmt.Errorf("list page size must be positive, got %d", c.App.ListPageSize)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.App.Timezone, err)
	}
	return nil
}

func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
