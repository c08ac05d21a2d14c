// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Dedup, Ranking, Search, etc.).
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

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Index    IndexConfig    `yaml:"index"`
	Dedup    DedupConfig    `yaml:"dedup"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Search   SearchConfig   `yaml:"search"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. Postgres only backs
// the ingestion failure log, so it is off unless Enabled is set.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	SnippetIngest string `yaml:"snippetIngest"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls the segment directory, sealing thresholds and the
// compaction policy.
type IndexConfig struct {
	DataDir                string        `yaml:"dataDir"`
	SegmentMaxDocs         int           `yaml:"segmentMaxDocs"`
	SegmentMaxBytes        int64         `yaml:"segmentMaxBytes"`
	FlushInterval          time.Duration `yaml:"flushInterval"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
	CompactionFanIn        int           `yaml:"compactionFanIn"`
	CompactionBytesPerSec  int64         `yaml:"compactionBytesPerSec"`
	NoSync                 bool          `yaml:"noSync"`
}

// DedupConfig controls near-duplicate detection.
type DedupConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ShingleSize int     `yaml:"shingleSize"`
	NumHashes   int     `yaml:"numHashes"`
	Bands       int     `yaml:"bands"`
	Threshold   float64 `yaml:"threshold"`
}

// RankingConfig holds the tunable scoring constants. Their relative order is
// checked by Validate.
type RankingConfig struct {
	IdentifierWeight float64       `yaml:"identifierWeight"`
	KeywordWeight    float64       `yaml:"keywordWeight"`
	LiteralWeight    float64       `yaml:"literalWeight"`
	CommentWeight    float64       `yaml:"commentWeight"`
	LanguageBonus    float64       `yaml:"languageBonus"`
	PopularityWeight float64       `yaml:"popularityWeight"`
	RecencyWeight    float64       `yaml:"recencyWeight"`
	RecencyHalfLife  time.Duration `yaml:"recencyHalfLife"`
	FuzzyPenalty     float64       `yaml:"fuzzyPenalty"`
	ProximityWeight  float64       `yaml:"proximityWeight"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	DefaultLimit    int           `yaml:"defaultLimit"`
	MaxResults      int           `yaml:"maxResults"`
	MaxClauses      int           `yaml:"maxClauses"`
	FuzzyExpansions int           `yaml:"fuzzyExpansions"`
	Timeout         time.Duration `yaml:"timeout"`
}

// IngestConfig controls the ingestion worker pool and its input boundaries.
type IngestConfig struct {
	Workers      int    `yaml:"workers"`
	MaxTextBytes int    `yaml:"maxTextBytes"`
	SpoolDir     string `yaml:"spoolDir"`
	FailureLog   bool   `yaml:"failureLog"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration without reading files or the
// environment.
func Default() *Config {
	return defaultConfig()
}

// Validate rejects settings the engine cannot honour.
func (c *Config) Validate() error {
	var errs []error
	r := c.Ranking
	if !(r.IdentifierWeight > r.KeywordWeight) {
		errs = append(errs, errors.New("ranking.identifierWeight must exceed ranking.keywordWeight"))
	}
	if !(r.KeywordWeight > r.LiteralWeight) || !(r.KeywordWeight > r.CommentWeight) {
		errs = append(errs, errors.New("ranking.keywordWeight must exceed literal and comment weights"))
	}
	if r.LiteralWeight < 0 || r.CommentWeight < 0 {
		errs = append(errs, errors.New("ranking field weights must be non-negative"))
	}
	if r.PopularityWeight < 0 || r.RecencyWeight < 0 || r.LanguageBonus < 0 || r.ProximityWeight < 0 {
		errs = append(errs, errors.New("ranking bonus weights must be non-negative"))
	}
	if r.RecencyHalfLife <= 0 {
		errs = append(errs, errors.New("ranking.recencyHalfLife must be positive"))
	}
	if c.Index.DataDir == "" {
		errs = append(errs, errors.New("index.dataDir is required"))
	}
	if c.Index.SegmentMaxDocs <= 0 {
		errs = append(errs, errors.New("index.segmentMaxDocs must be positive"))
	}
	if c.Index.CompactionFanIn < 2 {
		errs = append(errs, errors.New("index.compactionFanIn must be at least 2"))
	}
	d := c.Dedup
	if d.ShingleSize <= 0 || d.NumHashes <= 0 || d.Bands <= 0 || d.NumHashes%d.Bands != 0 {
		errs = append(errs, errors.New("dedup.numHashes must be a positive multiple of dedup.bands"))
	}
	if d.Threshold <= 0 || d.Threshold > 1 {
		errs = append(errs, errors.New("dedup.threshold must be in (0, 1]"))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxResults < c.Search.DefaultLimit {
		errs = append(errs, errors.New("search.defaultLimit must be positive and not exceed search.maxResults"))
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, errors.New("ingest.workers must be positive"))
	}
	return errors.Join(errs...)
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "snippets",
			User:            "snippets",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "snippet-indexer",
			Topics: KafkaTopics{
				SnippetIngest: "snippet-records",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			DataDir:                "data/index",
			SegmentMaxDocs:         4096,
			SegmentMaxBytes:        32 << 20,
			FlushInterval:          30 * time.Second,
			MergeInterval:          time.Minute,
			MaxSegmentsBeforeMerge: 8,
			CompactionFanIn:        4,
			CompactionBytesPerSec:  64 << 20,
		},
		Dedup: DedupConfig{
			Enabled:     true,
			ShingleSize: 5,
			NumHashes:   64,
			Bands:       16,
			Threshold:   0.8,
		},
		Ranking: RankingConfig{
			IdentifierWeight: 3.0,
			KeywordWeight:    1.5,
			LiteralWeight:    0.75,
			CommentWeight:    0.5,
			LanguageBonus:    0.5,
			PopularityWeight: 1.0,
			RecencyWeight:    0.25,
			RecencyHalfLife:  365 * 24 * time.Hour,
			FuzzyPenalty:     0.5,
			ProximityWeight:  1.0,
		},
		Search: SearchConfig{
			DefaultLimit:    10,
			MaxResults:      100,
			MaxClauses:      32,
			FuzzyExpansions: 8,
			Timeout:         2 * time.Second,
		},
		Ingest: IngestConfig{
			Workers:      4,
			MaxTextBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SNIP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SNIP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SNIP_INDEX_DATA_DIR"); v != "" {
		cfg.Index.DataDir = v
	}
	if v := os.Getenv("SNIP_INDEX_SEGMENT_MAX_DOCS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Index.SegmentMaxDocs = n
		}
	}
	if v := os.Getenv("SNIP_INGEST_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ingest.Workers = n
		}
	}
	if v := os.Getenv("SNIP_INGEST_SPOOL_DIR"); v != "" {
		cfg.Ingest.SpoolDir = v
	}
	if v := os.Getenv("SNIP_POSTGRES_ENABLED"); v != "" {
		cfg.Postgres.Enabled = parseBool(v, cfg.Postgres.Enabled)
	}
	if v := os.Getenv("SNIP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SNIP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SNIP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SNIP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SNIP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SNIP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SNIP_KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = parseBool(v, cfg.Kafka.Enabled)
	}
	if v := os.Getenv("SNIP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SNIP_REDIS_ENABLED"); v != "" {
		cfg.Redis.Enabled = parseBool(v, cfg.Redis.Enabled)
	}
	if v := os.Getenv("SNIP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SNIP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SNIP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SNIP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
