package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	cfg := Config{
		Environment:        "local",
		LogLevel:           "info",
		Timezone:           "Asia/Shanghai",
		DataDir:            "data",
		StoreBackend:       StoreCSV,
		DBMinConns:         1,
		DBMaxConns:         8,
		SourceTimeout:      30 * time.Second,
		OracleCache:        OracleCacheNone,
		NormalizeCacheSize: 16,
		OracleTimeout:      time.Second,
		OracleConcurrency:  1,
		OracleMaxAttempts:  1,
	}
	cfg.normalize()
	return cfg
}

func TestNormalizeDerivesDirectories(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if cfg.RawDir != filepath.Join("data", "raw") {
		t.Fatalf("unexpected raw dir %q", cfg.RawDir)
	}
	if cfg.DailyDir != filepath.Join("data", "daily") {
		t.Fatalf("unexpected daily dir %q", cfg.DailyDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"postgres without url", func(c *Config) { c.StoreBackend = StorePostgres }, "DATABASE_URL"},
		{"unknown store", func(c *Config) { c.StoreBackend = "s3" }, "STORE_BACKEND"},
		{"bad timezone", func(c *Config) { c.Timezone = "Mars/Olympus" }, "TIMEZONE"},
		{"conns inverted", func(c *Config) { c.DBMinConns = 9 }, "DB_MIN_CONNS"},
		{"redis cache without url", func(c *Config) { c.OracleCache = OracleCacheRedis }, "REDIS_URL"},
		{"unknown cache", func(c *Config) { c.OracleCache = "disk" }, "ORACLE_CACHE"},
		{"memory oracle cache", func(c *Config) { c.OracleCache = "memory" }, "ORACLE_CACHE"},
		{"negative normalize cache", func(c *Config) { c.NormalizeCacheSize = -1 }, "NORMALIZE_CACHE_SIZE"},
		{"oracle without concurrency", func(c *Config) {
			c.OracleEnabled = true
			c.OracleEndpoint = "http://localhost"
			c.OracleConcurrency = 0
		}, "ORACLE_CONCURRENCY"},
		{"zero source timeout", func(c *Config) { c.SourceTimeout = 0 }, "SOURCE_TIMEOUT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error mentioning %s, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/brief")
	t.Setenv("STORE_BACKEND", "CSV")
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("ORACLE_CACHE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != StoreCSV {
		t.Fatalf("expected lower-cased store backend, got %q", cfg.StoreBackend)
	}
	if cfg.DailyDir != filepath.Join("/tmp/brief", "daily") {
		t.Fatalf("unexpected daily dir %q", cfg.DailyDir)
	}
	if cfg.OracleCache != OracleCacheNone {
		t.Fatalf("expected oracle cache none, got %q", cfg.OracleCache)
	}
	if cfg.Location().String() != "UTC" {
		t.Fatalf("unexpected location %s", cfg.Location())
	}
}
