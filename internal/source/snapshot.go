package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"horse.fit/dailybrief/internal/model"
)

var snapshotExtensions = []string{".xml", ".rss", ".json", ".jsonl"}

// SnapshotFetcher reads <root>/<date>/<source_id>.<ext>.
type SnapshotFetcher struct {
	root string
}

func NewSnapshotFetcher(root string) *SnapshotFetcher {
	return &SnapshotFetcher{root: root}
}

func (f *SnapshotFetcher) Open(ctx context.Context, sourceID, date string) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return Payload{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	if strings.ContainsAny(sourceID, `/\`) || strings.HasPrefix(sourceID, ".") {
		return Payload{}, fmt.Errorf("invalid source id %q", sourceID)
	}

	dir := filepath.Join(f.root, date)
	for _, ext := range snapshotExtensions {
		path := filepath.Join(dir, sourceID+ext)
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Payload{}, fmt.Errorf("stat snapshot %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Payload{}, fmt.Errorf("read snapshot %s: %w", path, err)
		}
		return Payload{Data: data, Path: path, ModTime: info.ModTime().UTC()}, nil
	}
	return Payload{}, fmt.Errorf("no snapshot for %s under %s", sourceID, dir)
}
