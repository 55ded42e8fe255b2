package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/dailybrief/internal/model"
)

const (
	briefFile    = "brief.csv"
	fullFile     = "full.csv"
	manifestFile = "manifest.json"

	versionPrefix = ".v-"
	linkPrefix    = ".link-"
)

// Manifest sits next to the CSV views and carries data the CSV columns cannot.
type Manifest struct {
	Date          string                     `json:"date"`
	PolicyVersion string                     `json:"policy_version"`
	Columns       []string                   `json:"columns"`
	BriefCount    int                        `json:"brief_count"`
	FullCount     int                        `json:"full_count"`
	Breakdowns    map[string]model.Breakdown `json:"breakdowns"`
}

// FileStore writes <root>/<date>/{brief.csv,full.csv,manifest.json}. <date> is a symlink
// to a hidden version directory.
type FileStore struct {
	root   string
	logger zerolog.Logger
	mu     sync.Mutex
}

func NewFileStore(root string, logger zerolog.Logger) *FileStore {
	return &FileStore{root: root, logger: logger}
}

func (s *FileStore) Root() string {
	return s.root
}

// Persist stages the day's files in a fresh version directory and publishes it by
// renaming a symlink over <date>. Readers see either the old or the new partition, never
// neither. A cancelled context or a failed write leaves the previous partition untouched.
func (s *FileStore) Persist(ctx context.Context, out DayOutput) error {
	if _, err := time.Parse(model.DateLayout, out.Date); err != nil {
		return model.PersistenceError("validate date", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return model.PersistenceError("create daily dir", err)
	}
	if err := s.adoptLegacy(out.Date); err != nil {
		return model.PersistenceError("adopt partition", err)
	}
	s.cleanupInterrupted(out.Date)

	version := versionPrefix + out.Date + "-" + uuid.NewString()
	staging := filepath.Join(s.root, version)
	if err := os.Mkdir(staging, 0o755); err != nil {
		return model.PersistenceError("create staging dir", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(staging)
		}
	}()

	files, err := renderDay(out)
	if err != nil {
		return model.PersistenceError("render day", err)
	}
	for _, name := range []string{briefFile, fullFile, manifestFile} {
		if err := ctx.Err(); err != nil {
			return model.PersistenceError("stage "+name, err)
		}
		if err := writeFileSync(filepath.Join(staging, name), files[name]); err != nil {
			return model.PersistenceError("stage "+name, err)
		}
	}
	if err := syncDir(staging); err != nil {
		return model.PersistenceError("sync staging dir", err)
	}
	if err := ctx.Err(); err != nil {
		return model.PersistenceError("swap", err)
	}

	previous, err := s.publish(version, out.Date)
	if err != nil {
		return model.PersistenceError("swap", err)
	}
	committed = true

	if previous != "" && previous != version {
		if err := os.RemoveAll(filepath.Join(s.root, previous)); err != nil {
			s.logger.Warn().Err(err).Str("dir", previous).Msg("failed to remove previous partition")
		}
	}

	s.logger.Debug().
		Str("date", out.Date).
		Int("brief", len(out.Brief)).
		Int("full", len(out.Full)).
		Str("dir", staging).
		Msg("daily partition written")
	return nil
}

// publish points <date> at version with a single rename and returns the version it
// replaced, if any.
func (s *FileStore) publish(version, date string) (string, error) {
	target := filepath.Join(s.root, date)
	previous, err := os.Readlink(target)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("read partition link: %w", err)
	}

	link := filepath.Join(s.root, linkPrefix+date+"-"+uuid.NewString())
	if err := os.Symlink(version, link); err != nil {
		return "", fmt.Errorf("create partition link: %w", err)
	}
	if err := os.Rename(link, target); err != nil {
		_ = os.Remove(link)
		return "", fmt.Errorf("publish partition: %w", err)
	}
	if err := syncDir(s.root); err != nil {
		s.logger.Warn().Err(err).Str("dir", s.root).Msg("failed to sync daily dir")
	}
	return previous, nil
}

// adoptLegacy turns a plain <date> directory into a linked version so later swaps are a
// single rename.
func (s *FileStore) adoptLegacy(date string) error {
	target := filepath.Join(s.root, date)
	info, err := os.Lstat(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat partition: %w", err)
	}
	if info.Mode()&fs.ModeSymlink != 0 || !info.IsDir() {
		return nil
	}

	version := versionPrefix + date + "-" + uuid.NewString()
	if err := os.Rename(target, filepath.Join(s.root, version)); err != nil {
		return fmt.Errorf("move plain partition: %w", err)
	}
	if _, err := s.publish(version, date); err != nil {
		return err
	}
	s.logger.Info().Str("date", date).Str("dir", version).Msg("converted plain partition to linked version")
	return nil
}

// cleanupInterrupted cleans up after an interrupted Persist for date. Stray links and
// versions <date> does not point at are removed. If <date> is missing, the newest
// complete version is relinked.
func (s *FileStore) cleanupInterrupted(date string) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return
	}
	target := filepath.Join(s.root, date)
	current, err := os.Readlink(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		current = s.newestComplete(entries, date)
		if current != "" {
			if _, err := s.publish(current, date); err == nil {
				s.logger.Warn().Str("date", date).Str("dir", current).Msg("restored interrupted partition")
			} else {
				current = ""
			}
		}
	case err != nil:
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		path := filepath.Join(s.root, name)
		switch {
		case strings.HasPrefix(name, linkPrefix+date+"-"):
			_ = os.Remove(path)
		case strings.HasPrefix(name, versionPrefix+date+"-") && name != current:
			_ = os.RemoveAll(path)
		}
	}
}

// newestComplete returns the most recently modified version of date that holds every
// view file.
func (s *FileStore) newestComplete(entries []fs.DirEntry, date string) string {
	var best string
	var bestTime time.Time
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !strings.HasPrefix(name, versionPrefix+date+"-") {
			continue
		}
		complete := true
		for _, file := range []string{briefFile, fullFile, manifestFile} {
			if _, err := os.Stat(filepath.Join(s.root, name, file)); err != nil {
				complete = false
				break
			}
		}
		if !complete {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestTime) {
			best, bestTime = name, info.ModTime()
		}
	}
	return best
}

func (s *FileStore) ReadDay(ctx context.Context, q DayQuery) ([]model.DailyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := time.Parse(model.DateLayout, q.Date); err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", q.Date, err)
	}
	view := q.View
	if view == "" {
		view = ViewBrief
	}

	f, err := s.openPartitionFile(q.Date, string(view)+".csv")
	if err != nil {
		return nil, fmt.Errorf("open %s view for %s: %w", view, q.Date, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("read %s view for %s: %w", view, q.Date, err)
	}
	return Filter(records, q), nil
}

// ReadManifest returns the manifest of a persisted day.
func (s *FileStore) ReadManifest(date string) (Manifest, error) {
	f, err := s.openPartitionFile(date, manifestFile)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest for %s: %w", date, err)
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest for %s: %w", date, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest for %s: %w", date, err)
	}
	return m, nil
}

// openPartitionFile opens name inside the partition <date> links to. A swap can retire the
// version between resolving the link and opening the file, so a miss is retried while the
// link still exists.
func (s *FileStore) openPartitionFile(date, name string) (*os.File, error) {
	path := filepath.Join(s.root, date, name)
	for attempt := 0; ; attempt++ {
		f, err := os.Open(path)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		if _, lerr := os.Lstat(filepath.Join(s.root, date)); lerr != nil || attempt == 2 {
			return nil, ErrDayNotFound
		}
	}
}

// Ping verifies the daily directory exists and is writable.
func (s *FileStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create daily dir: %w", err)
	}
	probe, err := os.CreateTemp(s.root, ".ping-*")
	if err != nil {
		return fmt.Errorf("daily dir not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func renderDay(out DayOutput) (map[string][]byte, error) {
	var brief, full bytes.Buffer
	if err := WriteCSV(&brief, out.Brief); err != nil {
		return nil, err
	}
	if err := WriteCSV(&full, out.Full); err != nil {
		return nil, err
	}

	breakdowns := out.Breakdowns
	if breakdowns == nil {
		breakdowns = map[string]model.Breakdown{}
	}
	manifest, err := json.MarshalIndent(Manifest{
		Date:          out.Date,
		PolicyVersion: out.PolicyVersion,
		Columns:       Columns,
		BriefCount:    len(out.Brief),
		FullCount:     len(out.Full),
		Breakdowns:    breakdowns,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	manifest = append(manifest, '\n')

	return map[string][]byte{
		briefFile:    brief.Bytes(),
		fullFile:     full.Bytes(),
		manifestFile: manifest,
	}, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func syncDir(path string) error {
	d, err := os.Open(path)
	if err != nil {
		return err
	}
	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}
	return d.Close()
}
