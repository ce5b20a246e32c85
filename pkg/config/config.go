// Package config loads and validates docsearch configuration from YAML or
// TOML files with environment-variable overrides. It provides typed structs
// for every subsystem (Index, Search, Server, Redis, Kafka, Ledger, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// Config is the top-level application configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index" toml:"index"`
	Search  SearchConfig  `yaml:"search" toml:"search"`
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Redis   RedisConfig   `yaml:"redis" toml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka" toml:"kafka"`
	Ledger  LedgerConfig  `yaml:"ledger" toml:"ledger"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// IndexConfig controls where the index lives and how writer sessions run.
type IndexConfig struct {
	Dir              string `yaml:"dir" toml:"dir" validate:"required"`
	Workers          int    `yaml:"workers" toml:"workers" validate:"min=1,max=256"`
	KeepGenerations  int    `yaml:"keepGenerations" toml:"keepGenerations" validate:"min=1"`
	MaxDocumentBytes int64  `yaml:"maxDocumentBytes" toml:"maxDocumentBytes" validate:"min=0"`
	// RefreshInterval is how often a long-running reader checks the
	// directory for generations committed by other processes. Zero
	// disables the check.
	RefreshInterval time.Duration `yaml:"refreshInterval" toml:"-"`
}

// SearchConfig controls query execution limits and snippet generation.
type SearchConfig struct {
	DefaultLimit int             `yaml:"defaultLimit" toml:"defaultLimit" validate:"min=0"`
	MaxResults   int             `yaml:"maxResults" toml:"maxResults" validate:"min=1"`
	Timeout      time.Duration   `yaml:"timeout" toml:"-"`
	CacheEnabled bool            `yaml:"cacheEnabled" toml:"cacheEnabled"`
	Highlight    HighlightConfig `yaml:"highlight" toml:"highlight"`
}

// HighlightConfig sets the snippet window. MaxChars is the fragment length
// and Surround the context added on each side of it.
type HighlightConfig struct {
	MaxChars     int `yaml:"maxChars" toml:"maxChars" validate:"min=1"`
	Surround     int `yaml:"surround" toml:"surround" validate:"min=0"`
	MaxFragments int `yaml:"maxFragments" toml:"maxFragments" validate:"min=1"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port" validate:"min=0,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout" toml:"-"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" toml:"-"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"-"`
	// RateLimit is the number of API requests a client address may make per
	// RateLimitWindow. Zero disables limiting.
	RateLimit       int           `yaml:"rateLimit" toml:"rateLimit" validate:"min=0"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow" toml:"-"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	PoolSize int           `yaml:"poolSize" toml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL" toml:"-"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers" toml:"brokers"`
	ConsumerGroup string        `yaml:"consumerGroup" toml:"consumerGroup"`
	Topics        KafkaTopics   `yaml:"topics" toml:"topics"`
	BatchSize     int           `yaml:"batchSize" toml:"batchSize" validate:"min=1"`
	BatchTimeout  time.Duration `yaml:"batchTimeout" toml:"-"`
	StatusEnabled bool          `yaml:"statusEnabled" toml:"statusEnabled"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest" toml:"documentIngest"`
	IndexStatus    string `yaml:"indexStatus" toml:"indexStatus"`
}

// LedgerConfig selects the SQL store that records indexing sessions. An empty
// driver disables the ledger.
type LedgerConfig struct {
	Driver   string         `yaml:"driver" toml:"driver" validate:"omitempty,oneof=sqlite postgres"`
	Path     string         `yaml:"path" toml:"path"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port"`
	Database        string        `yaml:"database" toml:"database"`
	User            string        `yaml:"user" toml:"user"`
	Password        string        `yaml:"password" toml:"password"`
	SSLMode         string        `yaml:"sslMode" toml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" toml:"-"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" toml:"format" validate:"omitempty,oneof=json text"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port" validate:"min=0,max=65535"`
}

// Load reads a YAML or TOML config file (if provided), applies
// environment-variable overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			err = toml.Unmarshal(data, cfg)
		default:
			err = yaml.Unmarshal(data, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints on every section.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("invalid config: search.defaultLimit %d exceeds search.maxResults %d",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// Default returns a Config with defaults suitable for a single-machine
// deployment.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Dir:              "indexdir",
			Workers:          runtime.NumCPU(),
			KeepGenerations:  2,
			MaxDocumentBytes: 64 << 20,
			RefreshInterval:  5 * time.Second,
		},
		Search: SearchConfig{
			DefaultLimit: 50,
			MaxResults:   1000,
			Timeout:      10 * time.Second,
			Highlight: HighlightConfig{
				MaxChars:     150,
				Surround:     40,
				MaxFragments: 1,
			},
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitWindow: time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "docsearch-indexer",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				IndexStatus:    "index-status",
			},
			BatchSize:    100,
			BatchTimeout: 2 * time.Second,
		},
		Ledger: LedgerConfig{
			Path: "docsearch-ledger.db",
			Postgres: PostgresConfig{
				Host:            "localhost",
				Port:            5432,
				Database:        "docsearch",
				User:            "docsearch",
				Password:        "localdev",
				SSLMode:         "disable",
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// applyEnvOverrides reads DS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DS_INDEX_DIR"); v != "" {
		cfg.Index.Dir = v
	}
	if v := os.Getenv("DS_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.Workers = n
		}
	}
	if v := os.Getenv("DS_SEARCH_DEFAULT_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.DefaultLimit = n
		}
	}
	if v := os.Getenv("DS_SEARCH_CACHE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Search.CacheEnabled = b
		}
	}
	if v := os.Getenv("DS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("DS_LEDGER_DRIVER"); v != "" {
		cfg.Ledger.Driver = v
	}
	if v := os.Getenv("DS_LEDGER_PATH"); v != "" {
		cfg.Ledger.Path = v
	}
	if v := os.Getenv("DS_POSTGRES_HOST"); v != "" {
		cfg.Ledger.Postgres.Host = v
	}
	if v := os.Getenv("DS_POSTGRES_PASSWORD"); v != "" {
		cfg.Ledger.Postgres.Password = v
	}
	if v := os.Getenv("DS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
