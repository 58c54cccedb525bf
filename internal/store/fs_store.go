package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements Store on the filesystem.
// Records live in <baseDir>/designs/<id>/record.json next to their trace.
//
// Writes go through a temp file and rename, so readers never see a partial
// record and no locks are needed.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a filesystem store rooted at baseDir, creating it if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the store root.
func (fs *FSStore) BaseDir() string { return fs.baseDir }

func recordDir(baseDir, id string) string {
	return filepath.Join(baseDir, "designs", id)
}

func (fs *FSStore) recordPath(id string) string {
	return filepath.Join(recordDir(fs.baseDir, id), "record.json")
}

// SaveRecord atomically saves a record.
func (fs *FSStore) SaveRecord(record *Record) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	dir := recordDir(fs.baseDir, record.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	finalPath := fs.recordPath(record.ID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp record file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename record file: %w", err)
	}

	slog.Debug("Design record saved", "id", record.ID, "path", finalPath)
	return nil
}

// LoadRecord reads the record with the given ID.
func (fs *FSStore) LoadRecord(id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("id cannot be empty")
	}

	path := fs.recordPath(id)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}

	slog.Debug("Design record loaded", "id", id, "path", path)
	return &record, nil
}

// ListRecords returns metadata for every readable record, newest first.
// Corrupted records are skipped with a warning.
func (fs *FSStore) ListRecords() ([]RecordInfo, error) {
	root := filepath.Join(fs.baseDir, "designs")
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return []RecordInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read designs directory: %w", err)
	}

	infos := []RecordInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if _, err := os.Stat(fs.recordPath(id)); os.IsNotExist(err) {
			continue
		}
		record, err := fs.LoadRecord(id)
		if err != nil {
			slog.Warn("Failed to load design record for listing", "id", id, "error", err)
			continue
		}
		infos = append(infos, record.ToInfo())
	}

	sort.SliceStable(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})

	slog.Debug("Listed design records", "count", len(infos))
	return infos, nil
}

// DeleteRecord removes the record directory with all its contents.
func (fs *FSStore) DeleteRecord(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	dir := recordDir(fs.baseDir, id)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{ID: id}
	} else if err != nil {
		return fmt.Errorf("failed to stat record directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove record directory: %w", err)
	}

	slog.Debug("Design record deleted", "id", id, "path", dir)
	return nil
}
