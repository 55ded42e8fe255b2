package db

import (
	"encoding/json"
	"time"
)

// DailyRecordRow maps brief.daily_records. Brief and full rows of a day share the table and
// are told apart by view.
type DailyRecordRow struct {
	Date          string          `gorm:"column:date;type:text;primaryKey"`
	View          string          `gorm:"column:view;type:text;primaryKey"`
	EventID       string          `gorm:"column:event_id;type:text;primaryKey"`
	Rank          int             `gorm:"column:rank;type:integer;not null"`
	Title         string          `gorm:"column:title;type:text;not null"`
	URL           string          `gorm:"column:url;type:text;not null;default:''"`
	Category      string          `gorm:"column:category;type:text;not null"`
	Importance    float64         `gorm:"column:importance;type:double precision;not null"`
	SourceCount   int             `gorm:"column:source_count;type:integer;not null"`
	Sources       json.RawMessage `gorm:"column:sources;type:jsonb;not null"`
	Level         string          `gorm:"column:level;type:text;not null"`
	PublishedAt   *time.Time      `gorm:"column:published_at;type:timestamptz"`
	Breakdown     json.RawMessage `gorm:"column:breakdown;type:jsonb;not null"`
	PolicyVersion string          `gorm:"column:policy_version;type:text;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (DailyRecordRow) TableName() string { return "brief.daily_records" }

// DailyPartition maps brief.daily_partitions. A row exists for every persisted day, including
// days whose views are empty.
type DailyPartition struct {
	Date          string    `gorm:"column:date;type:text;primaryKey"`
	PolicyVersion string    `gorm:"column:policy_version;type:text;not null"`
	BriefCount    int       `gorm:"column:brief_count;type:integer;not null"`
	FullCount     int       `gorm:"column:full_count;type:integer;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (DailyPartition) TableName() string { return "brief.daily_partitions" }

// DailyRun maps brief.daily_runs.
type DailyRun struct {
	RunID          int64           `gorm:"column:run_id;primaryKey;autoIncrement"`
	RunUUID        string          `gorm:"column:run_uuid;type:uuid;not null;unique"`
	Date           string          `gorm:"column:date;type:text;not null"`
	Status         string          `gorm:"column:status;type:brief.daily_run_status;not null;default:running"`
	PolicyVersion  string          `gorm:"column:policy_version;type:text;not null"`
	StartedAt      time.Time       `gorm:"column:started_at;type:timestamptz;not null;default:now()"`
	FinishedAt     *time.Time      `gorm:"column:finished_at;type:timestamptz"`
	ItemsFetched   int             `gorm:"column:items_fetched;type:integer;not null;default:0"`
	ItemsRejected  int             `gorm:"column:items_rejected;type:integer;not null;default:0"`
	Events         int             `gorm:"column:events;type:integer;not null;default:0"`
	BriefCount     int             `gorm:"column:brief_count;type:integer;not null;default:0"`
	FullCount      int             `gorm:"column:full_count;type:integer;not null;default:0"`
	MissingSources json.RawMessage `gorm:"column:missing_sources;type:jsonb;not null;default:'[]'"`
	OracleUsed     int             `gorm:"column:oracle_used;type:integer;not null;default:0"`
	OracleSkipped  int             `gorm:"column:oracle_skipped;type:integer;not null;default:0"`
	ErrorMessage   *string         `gorm:"column:error_message;type:text"`
	CreatedAt      time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (DailyRun) TableName() string { return "brief.daily_runs" }

func autoMigrateModels() []any {
	return []any{
		&DailyPartition{},
		&DailyRecordRow{},
		&DailyRun{},
	}
}
