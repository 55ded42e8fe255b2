package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreCSV      = "csv"
	StorePostgres = "postgres"

	OracleCacheNone  = "none"
	OracleCacheRedis = "redis"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Timezone    string `envconfig:"TIMEZONE" default:"Asia/Shanghai"`

	DataDir     string `envconfig:"DATA_DIR" default:"data"`
	RawDir      string `envconfig:"RAW_DIR" default:""`
	DailyDir    string `envconfig:"DAILY_DIR" default:""`
	SourcesFile string `envconfig:"SOURCES_FILE" default:""`
	PolicyFile  string `envconfig:"POLICY_FILE" default:""`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"csv"`
	DatabaseURL  string `envconfig:"DATABASE_URL" default:""`
	DBMinConns   int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	DBMaxConns   int32  `envconfig:"DB_MAX_CONNS" default:"8"`

	SourceTimeout     time.Duration `envconfig:"SOURCE_TIMEOUT" default:"30s"`
	LangDetectEnabled bool          `envconfig:"LANG_DETECT_ENABLED" default:"true"`
	// NormalizeCacheSize bounds the memo of folded text and detected languages; 0 disables it.
	NormalizeCacheSize int `envconfig:"NORMALIZE_CACHE_SIZE" default:"8192"`

	OracleEnabled       bool          `envconfig:"ORACLE_ENABLED" default:"false"`
	OracleEndpoint      string        `envconfig:"ORACLE_ENDPOINT" default:"http://127.0.0.1:8845/v1"`
	OracleModel         string        `envconfig:"ORACLE_MODEL" default:"qwen2.5-7b-instruct"`
	OracleAPIKey        string        `envconfig:"ORACLE_API_KEY" default:""`
	OracleTimeout       time.Duration `envconfig:"ORACLE_TIMEOUT" default:"20s"`
	OracleConcurrency   int           `envconfig:"ORACLE_CONCURRENCY" default:"4"`
	OracleRatePerSecond float64       `envconfig:"ORACLE_RATE_PER_SECOND" default:"2"`
	OracleMaxAttempts   int           `envconfig:"ORACLE_MAX_ATTEMPTS" default:"3"`
	OracleCache         string        `envconfig:"ORACLE_CACHE" default:"none"`
	OracleCacheTTL      time.Duration `envconfig:"ORACLE_CACHE_TTL" default:"720h"`
	RedisURL            string        `envconfig:"REDIS_URL" default:""`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.OracleCache = strings.ToLower(strings.TrimSpace(c.OracleCache))
	if c.OracleCache == "" {
		c.OracleCache = OracleCacheNone
	}
	if strings.TrimSpace(c.RawDir) == "" {
		c.RawDir = filepath.Join(c.DataDir, "raw")
	}
	if strings.TrimSpace(c.DailyDir) == "" {
		c.DailyDir = filepath.Join(c.DataDir, "daily")
	}
}

func (c *Config) Validate() error {
	if _, err := time.LoadLocation(strings.TrimSpace(c.Timezone)); err != nil {
		return fmt.Errorf("TIMEZONE %q is invalid: %w", c.Timezone, err)
	}

	switch c.StoreBackend {
	case StoreCSV:
		if strings.TrimSpace(c.DailyDir) == "" {
			return fmt.Errorf("DAILY_DIR is required for the csv store")
		}
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of csv, postgres (got %q)", c.StoreBackend)
	}

	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SourceTimeout <= 0 {
		return fmt.Errorf("SOURCE_TIMEOUT must be > 0")
	}
	if c.NormalizeCacheSize < 0 {
		return fmt.Errorf("NORMALIZE_CACHE_SIZE must be >= 0")
	}

	if c.OracleEnabled {
		if strings.TrimSpace(c.OracleEndpoint) == "" {
			return fmt.Errorf("ORACLE_ENDPOINT is required when ORACLE_ENABLED=true")
		}
		if c.OracleTimeout <= 0 {
			return fmt.Errorf("ORACLE_TIMEOUT must be > 0")
		}
		if c.OracleConcurrency < 1 {
			return fmt.Errorf("ORACLE_CONCURRENCY must be >= 1")
		}
		if c.OracleRatePerSecond < 0 {
			return fmt.Errorf("ORACLE_RATE_PER_SECOND must be >= 0")
		}
		if c.OracleMaxAttempts < 1 {
			return fmt.Errorf("ORACLE_MAX_ATTEMPTS must be >= 1")
		}
	}

	switch c.OracleCache {
	case OracleCacheNone:
	case OracleCacheRedis:
		if strings.TrimSpace(c.RedisURL) == "" {
			return fmt.Errorf("REDIS_URL is required when ORACLE_CACHE=redis")
		}
	default:
		return fmt.Errorf("ORACLE_CACHE must be one of none, redis (got %q)", c.OracleCache)
	}
	return nil
}

// Location returns the time zone that defines day boundaries.
func (c *Config) Location() *time.Location {
	if c == nil {
		return time.UTC
	}
	loc, err := time.LoadLocation(strings.TrimSpace(c.Timezone))
	if err != nil {
		return time.UTC
	}
	return loc
}
