package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dolr-ai/github-report/internal/activity"
)

const (
	commitsDir       = "commits"
	metadataFileName = "metadata.json"
)

// Metadata summarizes the file cache contents.
type Metadata struct {
	LastUpdated time.Time `json:"last_updated"`
	Dates       []string  `json:"dates"`
}

// FileStore keeps one JSON document per date under <dir>/commits.
type FileStore struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewFileStore creates dir and its commits directory when missing.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, commitsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

// Write atomically replaces the entry for snapshot.Date and refreshes metadata.json.
func (s *FileStore) Write(_ context.Context, snapshot activity.DailySnapshot) error {
	if err := validateForWrite(snapshot); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", snapshot.Date, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeFileAtomic(s.snapshotPath(snapshot.Date), payload); err != nil {
		return fmt.Errorf("write snapshot %s: %w", snapshot.Date, err)
	}
	return s.writeMetadataLocked()
}

// Read returns the entry for date.
func (s *FileStore) Read(_ context.Context, date string) (activity.DailySnapshot, bool, error) {
	if err := validateDate(date); err != nil {
		return activity.DailySnapshot{}, false, err
	}
	payload, err := os.ReadFile(s.snapshotPath(date))
	if errors.Is(err, fs.ErrNotExist) {
		return activity.DailySnapshot{}, false, nil
	}
	if err != nil {
		return activity.DailySnapshot{}, false, fmt.Errorf("read snapshot %s: %w", date, err)
	}
	return decodeSnapshot(date, payload), true, nil
}

// Dates lists cached dates in ascending order.
func (s *FileStore) Dates(_ context.Context) ([]string, error) {
	return s.listDates()
}

// Metadata reads metadata.json. A missing file yields an empty Metadata.
func (s *FileStore) Metadata() (Metadata, error) {
	payload, err := os.ReadFile(filepath.Join(s.dir, metadataFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{Dates: []string{}}, nil
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("read cache metadata: %w", err)
	}
	var metadata Metadata
	if err := json.Unmarshal(payload, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("decode cache metadata: %w", err)
	}
	return metadata, nil
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) snapshotPath(date string) string {
	return filepath.Join(s.dir, commitsDir, date+".json")
}

func (s *FileStore) listDates() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, commitsDir))
	if err != nil {
		return nil, fmt.Errorf("list cache directory: %w", err)
	}
	dates := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || validateDate(date) != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *FileStore) writeMetadataLocked() error {
	dates, err := s.listDates()
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(Metadata{
		LastUpdated: s.now().UTC(),
		Dates:       dates,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache metadata: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(s.dir, metadataFileName), payload); err != nil {
		return fmt.Errorf("write cache metadata: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
