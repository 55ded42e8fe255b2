package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"horse.fit/dailybrief/internal/daily"
	"horse.fit/dailybrief/internal/globaltime"
	"horse.fit/dailybrief/internal/model"
)

const insertBatchSize = 200

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// ReplaceDay deletes the day's rows and inserts the new views in one transaction.
func (p *Pool) ReplaceDay(ctx context.Context, out daily.DayOutput) error {
	rows, err := recordRows(out)
	if err != nil {
		return err
	}

	gdb, err := p.db(ctx)
	if err != nil {
		return err
	}
	return gdb.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("date = ?", out.Date).Delete(&DailyRecordRow{}).Error; err != nil {
			return fmt.Errorf("delete rows for %s: %w", out.Date, err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
				return fmt.Errorf("insert rows for %s: %w", out.Date, err)
			}
		}

		partition := partitionRow(out)
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"policy_version", "brief_count", "full_count", "updated_at"}),
		}).Create(&partition).Error
		if err != nil {
			return fmt.Errorf("upsert partition %s: %w", out.Date, err)
		}
		return nil
	})
}

func partitionRow(out daily.DayOutput) DailyPartition {
	return DailyPartition{
		Date:          out.Date,
		PolicyVersion: out.PolicyVersion,
		BriefCount:    len(out.Brief),
		FullCount:     len(out.Full),
		UpdatedAt:     globaltime.UTC(),
	}
}

// QueryDay returns ranked rows of one view. The bool is false when the day was never
// persisted.
func (p *Pool) QueryDay(ctx context.Context, q daily.DayQuery) ([]model.DailyRecord, bool, error) {
	gdb, err := p.db(ctx)
	if err != nil {
		return nil, false, err
	}
	var partitions int64
	if err := gdb.Model(&DailyPartition{}).Where("date = ?", q.Date).Count(&partitions).Error; err != nil {
		return nil, false, fmt.Errorf("check partition %s: %w", q.Date, err)
	}
	if partitions == 0 {
		return nil, false, nil
	}

	query, args, err := buildDayQuery(q)
	if err != nil {
		return nil, true, err
	}
	rows, err := gdb.Raw(query, args...).Rows()
	if err != nil {
		return nil, true, fmt.Errorf("query day %s: %w", q.Date, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.DailyRecord, 0, 32)
	for rows.Next() {
		var (
			r         model.DailyRecord
			sources   []byte
			published *time.Time
		)
		if err := rows.Scan(
			&r.Date,
			&r.EventID,
			&r.Title,
			&r.URL,
			&r.Category,
			&r.Importance,
			&r.SourceCount,
			&sources,
			&r.Level,
			&published,
		); err != nil {
			return nil, true, fmt.Errorf("scan day row: %w", err)
		}
		if err := json.Unmarshal(sources, &r.Sources); err != nil {
			return nil, true, fmt.Errorf("decode sources for %s: %w", r.EventID, err)
		}
		if published != nil {
			r.PublishedAt = published.UTC()
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, true, fmt.Errorf("iterate day rows: %w", err)
	}
	return out, true, nil
}

func buildDayQuery(q daily.DayQuery) (string, []any, error) {
	view := q.View
	if view == "" {
		view = daily.ViewBrief
	}

	builder := psql.
		Select(
			"date",
			"event_id",
			"title",
			"url",
			"category",
			"importance",
			"source_count",
			"sources",
			"level",
			"published_at",
		).
		From("brief.daily_records").
		Where(sq.Eq{"date": q.Date, "view": string(view)}).
		OrderBy("rank ASC")

	if category := strings.ToLower(strings.TrimSpace(q.Category)); category != "" {
		builder = builder.Where(sq.Eq{"category": category})
	}
	if q.MinImportance > 0 {
		builder = builder.Where(sq.GtOrEq{"importance": q.MinImportance})
	}
	if q.Limit > 0 {
		builder = builder.Limit(uint64(q.Limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build day query: %w", err)
	}
	return query, args, nil
}

func recordRows(out daily.DayOutput) ([]DailyRecordRow, error) {
	rows := make([]DailyRecordRow, 0, len(out.Brief)+len(out.Full))
	views := []struct {
		view    daily.View
		records []model.DailyRecord
	}{
		{view: daily.ViewBrief, records: out.Brief},
		{view: daily.ViewFull, records: out.Full},
	}

	for _, v := range views {
		for i, r := range v.records {
			sources := r.Sources
			if sources == nil {
				sources = []string{}
			}
			sourcesJSON, err := json.Marshal(sources)
			if err != nil {
				return nil, fmt.Errorf("marshal sources for %s: %w", r.EventID, err)
			}
			breakdown, err := json.Marshal(out.Breakdowns[r.EventID])
			if err != nil {
				return nil, fmt.Errorf("marshal breakdown for %s: %w", r.EventID, err)
			}

			var published *time.Time
			if !r.PublishedAt.IsZero() {
				ts := r.PublishedAt.UTC()
				published = &ts
			}

			rows = append(rows, DailyRecordRow{
				Date:          out.Date,
				View:          string(v.view),
				EventID:       r.EventID,
				Rank:          i + 1,
				Title:         r.Title,
				URL:           r.URL,
				Category:      r.Category,
				Importance:    r.Importance,
				SourceCount:   r.SourceCount,
				Sources:       sourcesJSON,
				Level:         r.Level,
				PublishedAt:   published,
				Breakdown:     breakdown,
				PolicyVersion: out.PolicyVersion,
			})
		}
	}
	return rows, nil
}
