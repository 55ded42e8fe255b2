package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"horse.fit/dailybrief/internal/config"
	"horse.fit/dailybrief/internal/globaltime"
)

const (
	defaultMaxConns = 8
	connMaxIdleTime = 5 * time.Minute
	connMaxLifetime = 30 * time.Minute
)

var errPoolNotReady = errors.New("database pool is not initialized")

// Pool owns the Postgres connection behind the daily store and the run ledger.
type Pool struct {
	gdb   *gorm.DB
	sqlDB *sql.DB
}

// poolSettings is the connection sizing derived from config.
type poolSettings struct {
	maxOpen  int
	maxIdle  int
	logLevel gormlogger.LogLevel
}

func settingsFromConfig(cfg *config.Config) poolSettings {
	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = defaultMaxConns
	}
	return poolSettings{
		maxOpen:  maxOpen,
		maxIdle:  max(1, min(int(cfg.DBMinConns), maxOpen)),
		logLevel: resolveGormLogLevel(cfg.LogLevel, cfg.Environment),
	}
}

// NewPool connects, verifies the connection and migrates the brief schema.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	dsn := strings.TrimSpace(cfg.DatabaseURL)
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	settings := settingsFromConfig(cfg)

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(settings.logLevel),
		NowFunc: globaltime.UTC,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(settings.maxOpen)
	sqlDB.SetMaxIdleConns(settings.maxIdle)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	pool := &Pool{gdb: gdb, sqlDB: sqlDB}
	if err := pool.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := pool.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate brief schema: %w", err)
	}
	return pool, nil
}

// db returns the gorm handle bound to ctx.
func (p *Pool) db(ctx context.Context) (*gorm.DB, error) {
	if p == nil || p.gdb == nil {
		return nil, errPoolNotReady
	}
	return p.gdb.WithContext(ctx), nil
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return errPoolNotReady
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

// resolveGormLogLevel maps LOG_LEVEL onto gorm's quieter scale. SQL statements are
// only echoed at debug and trace.
func resolveGormLogLevel(appLogLevel, environment string) gormlogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return gormlogger.Info
	case "", "info", "warn", "warning":
		return gormlogger.Warn
	case "error", "fatal", "panic":
		return gormlogger.Error
	case "silent", "disabled":
		return gormlogger.Silent
	}
	if strings.EqualFold(strings.TrimSpace(environment), "local") {
		return gormlogger.Warn
	}
	return gormlogger.Error
}
