package daily

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"horse.fit/dailybrief/internal/model"
)

// Columns is the fixed header of brief.csv and full.csv.
var Columns = []string{
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
}

const sourceSeparator = ";"

func WriteCSV(w io.Writer, records []model.DailyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Date,
			r.EventID,
			r.Title,
			r.URL,
			r.Category,
			FormatImportance(r.Importance),
			strconv.Itoa(r.SourceCount),
			strings.Join(r.Sources, sourceSeparator),
			r.Level,
			formatTime(r.PublishedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %s: %w", r.EventID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadCSV parses a file produced by WriteCSV. The header must match Columns exactly.
func ReadCSV(r io.Reader) ([]model.DailyRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Columns)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, col := range Columns {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected csv column %d: got %q want %q", i, header[i], col)
		}
	}

	var out []model.DailyRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		record, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("parse csv line %d: %w", line, err)
		}
		out = append(out, record)
	}
	return out, nil
}

func parseRow(row []string) (model.DailyRecord, error) {
	importance, err := strconv.ParseFloat(row[5], 64)
	if err != nil {
		return model.DailyRecord{}, fmt.Errorf("importance: %w", err)
	}
	sourceCount, err := strconv.Atoi(row[6])
	if err != nil {
		return model.DailyRecord{}, fmt.Errorf("source_count: %w", err)
	}
	var published time.Time
	if row[9] != "" {
		published, err = time.Parse(time.RFC3339, row[9])
		if err != nil {
			return model.DailyRecord{}, fmt.Errorf("published_at: %w", err)
		}
	}
	var sources []string
	if row[7] != "" {
		sources = strings.Split(row[7], sourceSeparator)
	}

	return model.DailyRecord{
		Date:        row[0],
		EventID:     row[1],
		Title:       row[2],
		URL:         row[3],
		Category:    row[4],
		Importance:  importance,
		SourceCount: sourceCount,
		Sources:     sources,
		Level:       row[8],
		PublishedAt: published.UTC(),
	}, nil
}

func FormatImportance(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
