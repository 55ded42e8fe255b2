package db

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// migrationLockKey serializes schema setup between a scheduled build and a
// server starting against the same database.
const migrationLockKey int64 = 0x6461696c79

//go:embed sql/*.sql
var migrationFS embed.FS

type migrationStep struct {
	name string
	run  func(tx *gorm.DB) error
}

func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "schema", run: execEmbedded("sql/schema.sql")},
		{name: "models", run: func(tx *gorm.DB) error {
			return tx.AutoMigrate(autoMigrateModels()...)
		}},
		{name: "indexes", run: execEmbedded("sql/indexes.sql")},
	}
}

// migrate brings the brief schema up to date. Every step runs in one
// transaction under an advisory lock, so a failed step leaves nothing behind.
func (p *Pool) migrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return errPoolNotReady
	}

	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(?)`, migrationLockKey).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for _, step := range migrationSteps() {
			if err := step.run(tx); err != nil {
				return fmt.Errorf("migration step %s: %w", step.name, err)
			}
		}
		return nil
	})
}

func execEmbedded(name string) func(tx *gorm.DB) error {
	return func(tx *gorm.DB) error {
		raw, err := migrationFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		statement := strings.TrimSpace(string(raw))
		if statement == "" {
			return nil
		}
		return tx.Exec(statement).Error
	}
}
